package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"llmtester/internal/history"
)

var ErrNotFound = errors.New("not found")

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) exec(ctx context.Context, db execer, q sq.Sqlizer, what string) error {
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build %s query: %w", what, err)
	}
	if _, err := db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}

func (s *Store) GetValue(ctx context.Context, key string) (string, error) {
	q := s.sql.Select("value").From("kv").Where(sq.Eq{"key": key})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return "", fmt.Errorf("build get value query: %w", err)
	}
	var v string
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get value: %w", err)
	}
	return v, nil
}

func (s *Store) SetValue(ctx context.Context, key, value string) error {
	q := s.sql.Insert("kv").
		Columns("key", "value", "updated_at").
		Values(key, value, nowExpr(s.driver)).
		Suffix("ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at")
	return s.exec(ctx, s.db, q, "set value")
}

func (s *Store) DeleteValue(ctx context.Context, key string) error {
	return s.exec(ctx, s.db, s.sql.Delete("kv").Where(sq.Eq{"key": key}), "delete value")
}

func (s *Store) InsertHistory(ctx context.Context, it history.Item) error {
	return s.insertHistory(ctx, s.db, it, time.Now().UnixNano())
}

func (s *Store) insertHistory(ctx context.Context, db execer, it history.Item, seq int64) error {
	var duration any
	if it.Duration != nil {
		duration = *it.Duration
	}
	q := s.sql.Insert("history_items").
		Columns("id", "ts", "seq", "duration_ms", "model", "request_content", "request_raw", "response_content", "response_raw").
		Values(it.ID, it.Timestamp, seq, duration, it.Model, it.RequestContent, it.RequestRaw, it.ResponseContent, it.ResponseRaw).
		Suffix("ON CONFLICT(id) DO NOTHING")
	return s.exec(ctx, db, q, "insert history item")
}

func (s *Store) DeleteHistory(ctx context.Context, id string) error {
	return s.exec(ctx, s.db, s.sql.Delete("history_items").Where(sq.Eq{"id": id}), "delete history item")
}

func (s *Store) ClearHistory(ctx context.Context) error {
	return s.exec(ctx, s.db, s.sql.Delete("history_items"), "clear history")
}

func (s *Store) CountHistory(ctx context.Context) (int, error) {
	sqlStr, args, err := s.sql.Select("COUNT(*)").From("history_items").ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count history query: %w", err)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count history: %w", err)
	}
	return n, nil
}

// ListHistory returns all items newest first.
func (s *Store) ListHistory(ctx context.Context) ([]history.Item, error) {
	q := s.sql.Select("id", "ts", "duration_ms", "model", "request_content", "request_raw", "response_content", "response_raw").
		From("history_items").
		OrderBy("ts DESC", "seq DESC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list history query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	out := make([]history.Item, 0)
	for rows.Next() {
		var it history.Item
		var duration sql.NullInt64
		if err := rows.Scan(
			&it.ID,
			&it.Timestamp,
			&duration,
			&it.Model,
			&it.RequestContent,
			&it.RequestRaw,
			&it.ResponseContent,
			&it.ResponseRaw,
		); err != nil {
			return nil, fmt.Errorf("scan history item: %w", err)
		}
		if duration.Valid {
			d := duration.Int64
			it.Duration = &d
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}

// PutBlob inserts or updates one entry. An existing entry keeps its position.
func (s *Store) PutBlob(ctx context.Context, bucket, key string, value []byte) error {
	return s.putBlob(ctx, s.db, Blob{Bucket: bucket, Key: key, Seq: time.Now().UnixNano(), Value: value})
}

func (s *Store) putBlob(ctx context.Context, db execer, b Blob) error {
	q := s.sql.Insert("blobs").
		Columns("bucket", "key", "seq", "value", "updated_at").
		Values(b.Bucket, b.Key, b.Seq, string(b.Value), nowExpr(s.driver)).
		Suffix("ON CONFLICT(bucket, key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at")
	return s.exec(ctx, db, q, "put blob")
}

func (s *Store) GetBlob(ctx context.Context, bucket, key string) ([]byte, error) {
	q := s.sql.Select("value").From("blobs").Where(sq.Eq{"bucket": bucket, "key": key})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get blob query: %w", err)
	}
	var v string
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get blob: %w", err)
	}
	return []byte(v), nil
}

func (s *Store) DeleteBlob(ctx context.Context, bucket, key string) error {
	return s.exec(ctx, s.db, s.sql.Delete("blobs").Where(sq.Eq{"bucket": bucket, "key": key}), "delete blob")
}

func (s *Store) ClearBucket(ctx context.Context, bucket string) error {
	return s.exec(ctx, s.db, s.sql.Delete("blobs").Where(sq.Eq{"bucket": bucket}), "clear bucket")
}

// ListBlobs returns a bucket in insertion order.
func (s *Store) ListBlobs(ctx context.Context, bucket string) ([]Blob, error) {
	q := s.sql.Select("bucket", "key", "seq", "value").
		From("blobs").
		Where(sq.Eq{"bucket": bucket}).
		OrderBy("seq ASC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list blobs query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list blobs: %w", err)
	}
	defer rows.Close()

	out := make([]Blob, 0)
	for rows.Next() {
		var b Blob
		var v string
		if err := rows.Scan(&b.Bucket, &b.Key, &b.Seq, &v); err != nil {
			return nil, fmt.Errorf("scan blob: %w", err)
		}
		b.Value = []byte(v)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate blobs: %w", err)
	}
	return out, nil
}

// ReplaceBucket swaps the whole bucket content in one transaction, keeping the
// order of entries.
func (s *Store) ReplaceBucket(ctx context.Context, bucket string, entries []Blob) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace bucket: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.exec(ctx, tx, s.sql.Delete("blobs").Where(sq.Eq{"bucket": bucket}), "clear bucket"); err != nil {
		return err
	}
	for i, e := range entries {
		e.Bucket = bucket
		e.Seq = int64(i)
		if err := s.putBlob(ctx, tx, e); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace bucket: %w", err)
	}
	return nil
}

func nowExpr(driver string) any {
	if driver == "postgres" {
		return sq.Expr("NOW()")
	}
	return sq.Expr("CURRENT_TIMESTAMP")
}
