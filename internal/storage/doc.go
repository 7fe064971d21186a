// Package storage is the sqlite persistence layer: users with their daily
// request counters, content rows, ratings and broadcast bookkeeping.
//
// Expired content rows are filtered at read time, never deleted, so views and
// ratings survive an expiry.
package storage
