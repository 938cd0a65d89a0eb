package dlq

import (
	"context"
	"database/sql"
	"time"
)

// SQLStore 基于 SQL 数据库的持久化死信存储
//
// 多实例部署与进程重启场景下保持死信不丢。驱动由调用方
// 注册（如 _ "modernc.org/sqlite"），本包只依赖 database/sql。
type SQLStore struct {
	db        *sql.DB
	tableName string
}

// NewSQLStore 创建 SQL 死信存储
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, tableName: "saga_event_dlq"}
}

// Init 初始化表结构（幂等）
func (s *SQLStore) Init(ctx context.Context) error {
	ddl := `CREATE TABLE IF NOT EXISTS ` + s.tableName + ` (
		event_id      TEXT PRIMARY KEY,
		event_type    TEXT NOT NULL,
		payload       BLOB NOT NULL,
		retry_count   INTEGER NOT NULL DEFAULT 0,
		next_retry_at TIMESTAMP NOT NULL,
		last_error    TEXT NOT NULL DEFAULT '',
		enqueued_at   TIMESTAMP NOT NULL
	)`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return err
	}
	idx := `CREATE INDEX IF NOT EXISTS idx_` + s.tableName + `_next_retry
		ON ` + s.tableName + ` (next_retry_at)`
	_, err := s.db.ExecContext(ctx, idx)
	return err
}

// Enqueue 入队（按 event_id 幂等：冲突时不覆盖既有条目）
func (s *SQLStore) Enqueue(ctx context.Context, event *FailedEvent) error {
	query := `INSERT INTO ` + s.tableName + `
		(event_id, event_type, payload, retry_count, next_retry_at, last_error, enqueued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO NOTHING`
	_, err := s.db.ExecContext(ctx, query,
		event.EventID, event.EventType, event.Payload,
		event.RetryCount, event.NextRetryAt.UTC(), event.LastError, event.EnqueuedAt.UTC())
	return err
}

// Eligible 列出当前可自动重试的条目
func (s *SQLStore) Eligible(ctx context.Context, now time.Time, maxRetries, limit int) ([]*FailedEvent, error) {
	query := `SELECT event_id, event_type, payload, retry_count, next_retry_at, last_error, enqueued_at
		FROM ` + s.tableName + `
		WHERE retry_count < ? AND next_retry_at <= ?
		ORDER BY next_retry_at ASC
		LIMIT ?`
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, query, maxRetries, now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFailedEvents(rows)
}

// MarkAsFailed 记录一次失败的重试
func (s *SQLStore) MarkAsFailed(ctx context.Context, eventID, lastError string, nextRetryAt time.Time) error {
	query := `UPDATE ` + s.tableName + `
		SET retry_count = retry_count + 1, last_error = ?, next_retry_at = ?
		WHERE event_id = ?`
	res, err := s.db.ExecContext(ctx, query, lastError, nextRetryAt.UTC(), eventID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrEventNotFound
	}
	return nil
}

// Remove 移除条目
func (s *SQLStore) Remove(ctx context.Context, eventID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM `+s.tableName+` WHERE event_id = ?`, eventID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrEventNotFound
	}
	return nil
}

// Exhausted 列出已耗尽重试次数的条目
func (s *SQLStore) Exhausted(ctx context.Context, maxRetries int) ([]*FailedEvent, error) {
	query := `SELECT event_id, event_type, payload, retry_count, next_retry_at, last_error, enqueued_at
		FROM ` + s.tableName + `
		WHERE retry_count >= ?
		ORDER BY enqueued_at ASC`
	rows, err := s.db.QueryContext(ctx, query, maxRetries)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFailedEvents(rows)
}

// Size 当前条目总数
func (s *SQLStore) Size(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+s.tableName).Scan(&count)
	return count, err
}

// Close 关闭存储（数据库连接由调用方管理）
func (s *SQLStore) Close() error { return nil }

func scanFailedEvents(rows *sql.Rows) ([]*FailedEvent, error) {
	result := make([]*FailedEvent, 0)
	for rows.Next() {
		event := &FailedEvent{}
		if err := rows.Scan(&event.EventID, &event.EventType, &event.Payload,
			&event.RetryCount, &event.NextRetryAt, &event.LastError, &event.EnqueuedAt); err != nil {
			return nil, err
		}
		result = append(result, event)
	}
	return result, rows.Err()
}

var _ IStore = (*SQLStore)(nil)
