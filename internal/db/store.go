package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"time"

	apperrors "github.com/kimhsiao/habitsync/internal/errors"
	"github.com/kimhsiao/habitsync/internal/models"
	"github.com/kimhsiao/habitsync/internal/uuid"
)

// Store is the local durable store: cached day logs, cached tag lists, the
// offline mutation queue and a generic expiring cache.
//
// The database is opened lazily on first use (or by Init). Every engine failure
// is reported as STORAGE_UNAVAILABLE so callers can degrade to remote-only
// behaviour instead of crashing.
type Store struct {
	open       func() (*sql.DB, error)
	migrations fs.FS
	now        func() time.Time

	mu   sync.Mutex
	conn *sql.DB

	// Prepared statement cache, keyed by query text.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock overrides the clock used for queue timestamps and cache expiry.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// WithMigrations overrides the embedded schema migrations.
func WithMigrations(fsys fs.FS) StoreOption {
	return func(s *Store) {
		s.migrations = fsys
	}
}

// NewStore creates a Store whose database lives in dataDir.
func NewStore(dataDir string, opts ...StoreOption) *Store {
	return newStore(func() (*sql.DB, error) {
		d, err := Open(dataDir)
		if err != nil {
			return nil, err
		}
		return d.DB, nil
	}, opts...)
}

// NewStoreFromDB creates a Store over an already-open database handle.
func NewStoreFromDB(conn *sql.DB, opts ...StoreOption) *Store {
	return newStore(func() (*sql.DB, error) { return conn, nil }, opts...)
}

func newStore(open func() (*sql.DB, error), opts ...StoreOption) *Store {
	s := &Store{
		open:       open,
		migrations: DefaultMigrations(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func unavailable(op string, err error) error {
	return apperrors.Wrap(apperrors.ErrStorageUnavailable, op, err)
}

// Init opens the database and creates any missing tables. It is safe to call
// repeatedly; once it has succeeded further calls are no-ops. A failed Init
// may be retried.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.ready(ctx)
	return err
}

func (s *Store) ready(ctx context.Context) (*sql.DB, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("local store", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return s.conn, nil
	}

	conn, err := s.open()
	if err != nil {
		return nil, unavailable("open local store", err)
	}

	migrator := NewMigrator(conn, s.migrations)
	if err := migrator.Initialize(); err != nil {
		conn.Close()
		return nil, unavailable("initialize schema", err)
	}
	if err := migrator.Up(); err != nil {
		conn.Close()
		return nil, unavailable("migrate schema", err)
	}

	s.conn = conn
	return conn, nil
}

// SchemaVersion returns the applied schema version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	conn, err := s.ready(ctx)
	if err != nil {
		return 0, err
	}
	version, err := NewMigrator(conn, s.migrations).CurrentVersion()
	if err != nil {
		return 0, unavailable("read schema version", err)
	}
	return version, nil
}

// prepare gets or creates a prepared statement from the cache.
func (s *Store) prepare(ctx context.Context, query string) (*sql.Stmt, error) {
	if stmt, ok := s.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	conn, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}

	stmt, err := conn.PrepareContext(ctx, query)
	if err != nil {
		return nil, unavailable("prepare statement", err)
	}

	// If another goroutine stored one first, use it and close ours.
	actual, loaded := s.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}
	return stmt, nil
}

// Close closes cached statements and the database.
func (s *Store) Close() error {
	var firstErr error
	s.stmtCache.Range(func(key, value interface{}) bool {
		if err := value.(*sql.Stmt).Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.stmtCache.Delete(key)
		return true
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		if err := s.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.conn = nil
	}
	return firstErr
}

func (s *Store) exec(ctx context.Context, op, query string, args ...interface{}) (sql.Result, error) {
	stmt, err := s.prepare(ctx, query)
	if err != nil {
		return nil, err
	}
	res, err := stmt.ExecContext(ctx, args...)
	if err != nil {
		return nil, unavailable(op, err)
	}
	return res, nil
}

// getJSON reads a single TEXT column and decodes it into dst.
// It reports false when the row does not exist.
func (s *Store) getJSON(ctx context.Context, op, query string, dst interface{}, args ...interface{}) (bool, error) {
	stmt, err := s.prepare(ctx, query)
	if err != nil {
		return false, err
	}

	var data string
	if err := stmt.QueryRowContext(ctx, args...).Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, unavailable(op, err)
	}
	if err := json.Unmarshal([]byte(data), dst); err != nil {
		return false, unavailable(op, fmt.Errorf("decode cached value: %w", err))
	}
	return true, nil
}

// =====================================================
// Day log cache
// =====================================================

// PutDayLog caches a day's sessions keyed by user and date.
func (s *Store) PutDayLog(ctx context.Context, userID, date string, dayLog *models.DayLog) error {
	data, err := json.Marshal(dayLog)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "encode day log", err)
	}
	_, err = s.exec(ctx, "put day log", `
		INSERT INTO day_logs (user_id, date, data, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, date) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		userID, date, string(data), s.now().UnixMilli())
	return err
}

// GetDayLog returns the cached day log, or nil when nothing is cached.
func (s *Store) GetDayLog(ctx context.Context, userID, date string) (*models.DayLog, error) {
	var dayLog models.DayLog
	found, err := s.getJSON(ctx, "get day log",
		"SELECT data FROM day_logs WHERE user_id = ? AND date = ?", &dayLog, userID, date)
	if err != nil || !found {
		return nil, err
	}
	return &dayLog, nil
}

// =====================================================
// Tag cache
// =====================================================

// PutTags caches a user's tag list.
func (s *Store) PutTags(ctx context.Context, userID string, tags []models.Tag) error {
	if tags == nil {
		tags = []models.Tag{}
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "encode tags", err)
	}
	_, err = s.exec(ctx, "put tags", `
		INSERT INTO tag_cache (user_id, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		userID, string(data), s.now().UnixMilli())
	return err
}

// GetTags returns the cached tag list. A nil slice means nothing is cached;
// a cached empty list is returned as a non-nil empty slice.
func (s *Store) GetTags(ctx context.Context, userID string) ([]models.Tag, error) {
	var tags []models.Tag
	found, err := s.getJSON(ctx, "get tags",
		"SELECT data FROM tag_cache WHERE user_id = ?", &tags, userID)
	if err != nil || !found {
		return nil, err
	}
	if tags == nil {
		tags = []models.Tag{}
	}
	return tags, nil
}

// =====================================================
// Offline queue
// =====================================================

const queueColumns = "id, timestamp, user_id, type, data, retry_count"

// Enqueue assigns an id, a timestamp and a zero retry count, then persists the item.
func (s *Store) Enqueue(ctx context.Context, item models.NewQueueItem) (*models.QueueItem, error) {
	if !item.Type.Valid() {
		return nil, apperrors.Newf(apperrors.ErrInvalid, "unknown mutation type %q", item.Type)
	}
	if item.UserID == "" {
		return nil, apperrors.New(apperrors.ErrInvalid, "user id is required")
	}
	data := item.Data
	if len(data) == 0 {
		data = json.RawMessage("null")
	}

	now := s.now()
	stored := &models.QueueItem{
		ID:         uuid.NewTimeBased(now),
		Timestamp:  now.UnixMilli(),
		UserID:     item.UserID,
		Type:       item.Type,
		Data:       data,
		RetryCount: 0,
	}

	_, err := s.exec(ctx, "enqueue", `
		INSERT INTO offline_queue (id, timestamp, user_id, type, data, retry_count)
		VALUES (?, ?, ?, ?, ?, 0)`,
		stored.ID, stored.Timestamp, stored.UserID, string(stored.Type), string(stored.Data))
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// ListQueue returns queued items oldest first. An empty userID lists every user.
func (s *Store) ListQueue(ctx context.Context, userID string) ([]*models.QueueItem, error) {
	query := "SELECT " + queueColumns + " FROM offline_queue ORDER BY timestamp ASC, seq ASC"
	args := []interface{}{}
	if userID != "" {
		query = "SELECT " + queueColumns + " FROM offline_queue WHERE user_id = ? ORDER BY timestamp ASC, seq ASC"
		args = append(args, userID)
	}

	stmt, err := s.prepare(ctx, query)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, unavailable("list queue", err)
	}
	defer rows.Close()

	items := []*models.QueueItem{}
	for rows.Next() {
		var item models.QueueItem
		var itemType, data string
		if err := rows.Scan(&item.ID, &item.Timestamp, &item.UserID, &itemType, &data, &item.RetryCount); err != nil {
			return nil, unavailable("scan queue item", err)
		}
		item.Type = models.MutationType(itemType)
		item.Data = json.RawMessage(data)
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list queue", err)
	}
	return items, nil
}

// CountQueue returns the number of queued items. An empty userID counts every user.
func (s *Store) CountQueue(ctx context.Context, userID string) (int, error) {
	query := "SELECT COUNT(*) FROM offline_queue"
	args := []interface{}{}
	if userID != "" {
		query += " WHERE user_id = ?"
		args = append(args, userID)
	}

	stmt, err := s.prepare(ctx, query)
	if err != nil {
		return 0, err
	}
	var n int
	if err := stmt.QueryRowContext(ctx, args...).Scan(&n); err != nil {
		return 0, unavailable("count queue", err)
	}
	return n, nil
}

// RemoveFromQueue deletes a queued item. Removing an unknown id is a no-op.
func (s *Store) RemoveFromQueue(ctx context.Context, id string) error {
	_, err := s.exec(ctx, "remove from queue", "DELETE FROM offline_queue WHERE id = ?", id)
	return err
}

// UpdateQueueItem applies a partial update to a queued item.
func (s *Store) UpdateQueueItem(ctx context.Context, id string, update models.QueueItemUpdate) error {
	if update.RetryCount == nil {
		return nil
	}
	if *update.RetryCount < 0 {
		return apperrors.New(apperrors.ErrInvalid, "retry count cannot be negative")
	}

	res, err := s.exec(ctx, "update queue item",
		"UPDATE offline_queue SET retry_count = ? WHERE id = ?", *update.RetryCount, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("update queue item", err)
	}
	if n == 0 {
		return apperrors.Newf(apperrors.ErrNotFound, "queue item %s not found", id)
	}
	return nil
}

// ClearQueue removes every queued item.
func (s *Store) ClearQueue(ctx context.Context) error {
	_, err := s.exec(ctx, "clear queue", "DELETE FROM offline_queue")
	return err
}

// =====================================================
// Generic cache
// =====================================================

// SetCache stores value (JSON-encoded) under key. A ttl <= 0 never expires.
func (s *Store) SetCache(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "encode cache value", err)
	}

	now := s.now()
	var expiresAt sql.NullInt64
	if ttl > 0 {
		expiresAt = sql.NullInt64{Int64: now.Add(ttl).UnixMilli(), Valid: true}
	}

	_, err = s.exec(ctx, "set cache", `
		INSERT INTO cache (key, value, expires_at, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at,
			created_at = excluded.created_at`,
		key, string(data), expiresAt, now.UnixMilli())
	return err
}

// GetCache returns the raw JSON stored under key, or nil when the key is
// missing or expired. Expired entries are deleted on read.
func (s *Store) GetCache(ctx context.Context, key string) (json.RawMessage, error) {
	stmt, err := s.prepare(ctx, "SELECT value, expires_at FROM cache WHERE key = ?")
	if err != nil {
		return nil, err
	}

	var value string
	var expiresAt sql.NullInt64
	if err := stmt.QueryRowContext(ctx, key).Scan(&value, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, unavailable("get cache", err)
	}

	if expiresAt.Valid && s.now().UnixMilli() > expiresAt.Int64 {
		if err := s.DeleteCache(ctx, key); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return json.RawMessage(value), nil
}

// GetCacheInto decodes the value stored under key into dst and reports whether
// a live entry existed.
func (s *Store) GetCacheInto(ctx context.Context, key string, dst interface{}) (bool, error) {
	raw, err := s.GetCache(ctx, key)
	if err != nil || raw == nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, apperrors.Wrap(apperrors.ErrInvalid, "decode cache value", err)
	}
	return true, nil
}

// DeleteCache removes key from the cache.
func (s *Store) DeleteCache(ctx context.Context, key string) error {
	_, err := s.exec(ctx, "delete cache", "DELETE FROM cache WHERE key = ?", key)
	return err
}

// ClearExpired deletes every expired cache entry and returns how many were removed.
func (s *Store) ClearExpired(ctx context.Context) (int64, error) {
	res, err := s.exec(ctx, "clear expired cache",
		"DELETE FROM cache WHERE expires_at IS NOT NULL AND expires_at < ?", s.now().UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("clear expired cache", err)
	}
	return n, nil
}
