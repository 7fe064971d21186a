package content

import (
	"context"
	"strings"

	"kinobot/internal/storage"
	logx "kinobot/pkg/logx"
)

// minSearchLen keeps one-letter searches from dumping the whole catalog.
const minSearchLen = 2

// Resolver answers code and title lookups. Pure reads; expired rows are
// already filtered out by the store.
type Resolver struct {
	store storage.Store
	log   logx.Logger
}

func NewResolver(store storage.Store, log logx.Logger) *Resolver {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Resolver{store: store, log: log}
}

// ByCode returns all live rows for a code (quality variants), insertion order.
func (r *Resolver) ByCode(ctx context.Context, code string) ([]storage.ContentItem, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, nil
	}
	return r.store.ContentByCode(ctx, code)
}

// ByID returns a single live row.
func (r *Resolver) ByID(ctx context.Context, id int64) (storage.ContentItem, error) {
	return r.store.ContentByID(ctx, id)
}

// SearchTitle lists distinct (code, title) pairs whose title contains the
// query, case-insensitively.
func (r *Resolver) SearchTitle(ctx context.Context, query string) ([]storage.ContentSummary, error) {
	query = strings.TrimSpace(query)
	if len([]rune(query)) < minSearchLen {
		return nil, nil
	}
	return r.store.SearchContentByTitle(ctx, query)
}
