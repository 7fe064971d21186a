package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by single-row lookups when nothing matches.
var ErrNotFound = errors.New("storage: not found")

type Config struct {
	Path        string
	BusyTimeout time.Duration
}

type User struct {
	ID         int64
	TelegramID int64
	Username   string
	Language   string
	JoinedAt   time.Time
}

// QuotaState is the raw per-user request counter. Date is a calendar day in
// "2006-01-02" form; an empty Date means the user has never requested.
type QuotaState struct {
	Count int
	Date  string
}

// ContentItem is one deliverable row. A code may have several rows (quality
// variants). FileID/StorageChat may each be empty independently.
type ContentItem struct {
	ID        int64
	Code      string
	Title     string
	Quality   string
	FileID    string
	FileKind  string
	CreatedAt time.Time
	Views     int64
	ExpiresAt *time.Time

	// Storage-channel ref captured from an admin forward.
	StorageChat      string
	StorageMessageID int
}

// ContentSummary is a distinct (code, title) pair for search listings.
type ContentSummary struct {
	Code  string
	Title string
}

type RatingStats struct {
	Average float64
	Count   int
}

type BroadcastRecord struct {
	BroadcastID string
	UserID      int64
	MessageID   int
}

type Counts struct {
	Users   int64
	Content int64
}

type Store interface {
	// Users.
	UpsertUser(ctx context.Context, telegramID int64, username string) error
	UserLanguage(ctx context.Context, telegramID int64) (string, error)
	SetUserLanguage(ctx context.Context, telegramID int64, lang string) error
	UserQuota(ctx context.Context, telegramID int64) (QuotaState, error)
	SetUserQuota(ctx context.Context, telegramID int64, q QuotaState) error
	AllUserIDs(ctx context.Context) ([]int64, error)

	// Content. Reads exclude expired rows.
	InsertContent(ctx context.Context, item ContentItem) (int64, error)
	ContentByCode(ctx context.Context, code string) ([]ContentItem, error)
	ContentByID(ctx context.Context, id int64) (ContentItem, error)
	SearchContentByTitle(ctx context.Context, substr string) ([]ContentSummary, error)
	ListContent(ctx context.Context) ([]ContentSummary, error)
	IncrementViews(ctx context.Context, id int64) error
	DeleteContentByCode(ctx context.Context, code string) (int64, error)

	// Ratings.
	UpsertRating(ctx context.Context, contentID, telegramID int64, score int) error
	RatingStats(ctx context.Context, contentID int64) (RatingStats, error)

	// Broadcast bookkeeping.
	AppendBroadcastRecord(ctx context.Context, rec BroadcastRecord) error
	BroadcastRecords(ctx context.Context, broadcastID string) ([]BroadcastRecord, error)

	Counts(ctx context.Context) (Counts, error)
	Close() error
}
