package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "kinobot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const timeLayout = time.RFC3339Nano

// expiryLayout is fixed-width (whole seconds, UTC) so that the string
// comparison in the notExpired filter orders correctly.
const expiryLayout = "2006-01-02T15:04:05Z"

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open opens (creating if needed) the sqlite database and applies migrations.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- Users ----

func (s *sqliteStore) UpsertUser(ctx context.Context, telegramID int64, username string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(telegram_id, username, join_date) VALUES(?,?,?)
		 ON CONFLICT(telegram_id) DO UPDATE SET username=excluded.username`,
		telegramID, username, time.Now().UTC().Format(timeLayout),
	)
	return err
}

func (s *sqliteStore) UserLanguage(ctx context.Context, telegramID int64) (string, error) {
	var lang string
	err := s.db.QueryRowContext(ctx,
		`SELECT language FROM users WHERE telegram_id = ?`, telegramID,
	).Scan(&lang)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return lang, err
}

func (s *sqliteStore) SetUserLanguage(ctx context.Context, telegramID int64, lang string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET language = ? WHERE telegram_id = ?`, lang, telegramID,
	)
	return err
}

func (s *sqliteStore) UserQuota(ctx context.Context, telegramID int64) (QuotaState, error) {
	var (
		count int
		date  sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT daily_requests, last_request_date FROM users WHERE telegram_id = ?`, telegramID,
	).Scan(&count, &date)
	if errors.Is(err, sql.ErrNoRows) {
		return QuotaState{}, ErrNotFound
	}
	if err != nil {
		return QuotaState{}, err
	}
	return QuotaState{Count: count, Date: date.String}, nil
}

func (s *sqliteStore) SetUserQuota(ctx context.Context, telegramID int64, q QuotaState) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET daily_requests = ?, last_request_date = ? WHERE telegram_id = ?`,
		q.Count, nullStr(q.Date), telegramID,
	)
	return err
}

func (s *sqliteStore) AllUserIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT telegram_id FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ---- Content ----

func (s *sqliteStore) InsertContent(ctx context.Context, item ContentItem) (int64, error) {
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	kind := item.FileKind
	if kind == "" {
		kind = "video"
	}
	var expires any
	if item.ExpiresAt != nil {
		expires = item.ExpiresAt.UTC().Format(expiryLayout)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO content_items(code, title, quality, file_id, file_kind, created_at, expires_at, storage_chat, storage_message_id)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		item.Code, item.Title, item.Quality, item.FileID, kind,
		item.CreatedAt.Format(timeLayout), expires, item.StorageChat, item.StorageMessageID,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const contentCols = `id, code, title, quality, file_id, file_kind, created_at, views_count, expires_at, storage_chat, storage_message_id`

func scanContent(row interface{ Scan(...any) error }) (ContentItem, error) {
	var (
		it      ContentItem
		created string
		expires sql.NullString
	)
	err := row.Scan(&it.ID, &it.Code, &it.Title, &it.Quality, &it.FileID, &it.FileKind,
		&created, &it.Views, &expires, &it.StorageChat, &it.StorageMessageID)
	if err != nil {
		return ContentItem{}, err
	}
	if t, err := time.Parse(timeLayout, created); err == nil {
		it.CreatedAt = t
	}
	if expires.Valid {
		if t, err := time.Parse(expiryLayout, expires.String); err == nil {
			it.ExpiresAt = &t
		}
	}
	return it, nil
}

// notExpired keeps expired rows invisible to resolution without deleting them.
const notExpired = `(expires_at IS NULL OR expires_at > ?)`

func nowArg() string { return time.Now().UTC().Format(expiryLayout) }

func (s *sqliteStore) ContentByCode(ctx context.Context, code string) ([]ContentItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+contentCols+` FROM content_items WHERE code = ? AND `+notExpired+` ORDER BY id`,
		code, nowArg(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ContentItem
	for rows.Next() {
		it, err := scanContent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ContentByID(ctx context.Context, id int64) (ContentItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+contentCols+` FROM content_items WHERE id = ? AND `+notExpired,
		id, nowArg(),
	)
	it, err := scanContent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ContentItem{}, ErrNotFound
	}
	return it, err
}

func (s *sqliteStore) SearchContentByTitle(ctx context.Context, substr string) ([]ContentSummary, error) {
	pattern := "%" + escapeLike(substr) + "%"
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT code, title FROM content_items
		 WHERE title LIKE ? ESCAPE '\' AND `+notExpired+`
		 ORDER BY title`,
		pattern, nowArg(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSummaries(rows)
}

func (s *sqliteStore) ListContent(ctx context.Context) ([]ContentSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT code, title FROM content_items ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSummaries(rows)
}

func scanSummaries(rows *sql.Rows) ([]ContentSummary, error) {
	var out []ContentSummary
	for rows.Next() {
		var cs ContentSummary
		if err := rows.Scan(&cs.Code, &cs.Title); err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

func (s *sqliteStore) IncrementViews(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE content_items SET views_count = views_count + 1 WHERE id = ?`, id,
	)
	return err
}

func (s *sqliteStore) DeleteContentByCode(ctx context.Context, code string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM content_items WHERE code = ?`, code)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ---- Ratings ----

func (s *sqliteStore) UpsertRating(ctx context.Context, contentID, telegramID int64, score int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ratings(content_id, user_id, score) VALUES(?,?,?)
		 ON CONFLICT(content_id, user_id) DO UPDATE SET score=excluded.score`,
		contentID, telegramID, score,
	)
	return err
}

func (s *sqliteStore) RatingStats(ctx context.Context, contentID int64) (RatingStats, error) {
	var (
		avg   sql.NullFloat64
		count int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT AVG(score), COUNT(*) FROM ratings WHERE content_id = ?`, contentID,
	).Scan(&avg, &count)
	if err != nil {
		return RatingStats{}, err
	}
	return RatingStats{Average: avg.Float64, Count: count}, nil
}

// ---- Broadcast ----

func (s *sqliteStore) AppendBroadcastRecord(ctx context.Context, rec BroadcastRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO broadcast_records(broadcast_id, user_id, message_id) VALUES(?,?,?)`,
		rec.BroadcastID, rec.UserID, rec.MessageID,
	)
	return err
}

func (s *sqliteStore) BroadcastRecords(ctx context.Context, broadcastID string) ([]BroadcastRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT broadcast_id, user_id, message_id FROM broadcast_records WHERE broadcast_id = ? ORDER BY id`,
		broadcastID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BroadcastRecord
	for rows.Next() {
		var r BroadcastRecord
		if err := rows.Scan(&r.BroadcastID, &r.UserID, &r.MessageID); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&c.Users); err != nil {
		return Counts{}, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM content_items`).Scan(&c.Content); err != nil {
		return Counts{}, err
	}
	return c, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
