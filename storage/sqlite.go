package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-ratecache/types"
	"github.com/saiset-co/sai-ratecache/utils"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS sai_kv (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`

type SQLiteConfig struct {
	// Path is the database file. Empty opens a private in-memory database.
	Path string `json:"path"`
	// MaxPageCount caps the database size; writes past it fail with
	// SQLITE_FULL, which is reported as a quota error. Zero leaves the
	// sqlite default.
	MaxPageCount int `json:"max_page_count"`
	BusyTimeout  int `json:"busy_timeout_ms"`
}

type SQLiteStorage struct {
	db     *sql.DB
	logger types.Logger
	config *SQLiteConfig
	closed int32
}

func NewSQLiteStorage(ctx context.Context, logger types.Logger, config *types.StorageConfig) (*SQLiteStorage, error) {
	sqliteConfig := &SQLiteConfig{
		BusyTimeout: 5000,
	}

	if config != nil && config.Config != nil {
		if err := utils.UnmarshalConfig(config.Config, sqliteConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal sqlite storage config")
		}
	}

	path := sqliteConfig.Path
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=%d", path, sqliteConfig.BusyTimeout))
	if err != nil {
		return nil, types.WrapError(err, "failed to open sqlite database")
	}

	// One connection keeps an in-memory database alive and serialises
	// writers the same way sqlite would.
	db.SetMaxOpenConns(1)

	s := &SQLiteStorage{
		db:     db,
		logger: logger,
		config: sqliteConfig,
	}

	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("SQLite storage opened",
		zap.String("path", path),
		zap.Int("max_page_count", sqliteConfig.MaxPageCount))

	return s, nil
}

func (s *SQLiteStorage) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return types.WrapError(err, "failed to create sqlite schema")
	}

	if s.config.MaxPageCount > 0 {
		pragma := fmt.Sprintf("PRAGMA max_page_count = %d", s.config.MaxPageCount)
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return types.WrapError(err, "failed to set max_page_count")
		}
	}

	return nil
}

func (s *SQLiteStorage) Get(ctx context.Context, key string) (string, bool, error) {
	if s.isClosed() {
		return "", false, types.ErrStorageClosed
	}

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM sai_kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, s.mapError("get", key, err)
	}

	return value, true, nil
}

func (s *SQLiteStorage) Set(ctx context.Context, key, value string) error {
	if s.isClosed() {
		return types.ErrStorageClosed
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sai_kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return s.mapError("set", key, err)
	}

	return nil
}

func (s *SQLiteStorage) Delete(ctx context.Context, key string) error {
	if s.isClosed() {
		return types.ErrStorageClosed
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM sai_kv WHERE key = ?`, key); err != nil {
		return s.mapError("delete", key, err)
	}
	return nil
}

func (s *SQLiteStorage) Keys(ctx context.Context, prefix string) ([]string, error) {
	if s.isClosed() {
		return nil, types.ErrStorageClosed
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM sai_kv WHERE substr(key, 1, length(?1)) = ?1 ORDER BY key`,
		prefix)
	if err != nil {
		return nil, s.mapError("keys", prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, s.mapError("keys", prefix, err)
		}
		keys = append(keys, key)
	}

	if err := rows.Err(); err != nil {
		return nil, s.mapError("keys", prefix, err)
	}

	return keys, nil
}

func (s *SQLiteStorage) Ping(ctx context.Context) error {
	if s.isClosed() {
		return types.ErrStorageClosed
	}
	return s.db.PingContext(ctx)
}

func (s *SQLiteStorage) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}

	if err := s.db.Close(); err != nil {
		return types.WrapError(err, "failed to close sqlite database")
	}

	s.logger.Info("SQLite storage closed")
	return nil
}

func (s *SQLiteStorage) mapError(operation, key string, err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrFull {
		return types.Errorf(types.ErrStorageQuotaExceeded, "%s %q: %v", operation, key, err)
	}
	return types.Errorf(types.ErrStorageOperationError, "%s %q: %v", operation, key, err)
}

func (s *SQLiteStorage) isClosed() bool {
	return atomic.LoadInt32(&s.closed) == 1
}
