package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

const defaultListLimit = 50

var historyColumns = []string{
	"id", "run_id", "job_id", "topic", "content_type", "status", "post_id", "error", "warnings",
	"title", "body", "hashtags", "source_count", "fallback", "manual", "created_at",
}

// SaveRecord appends a history record, assigning an id and timestamp when
// missing.
func (s *Store) SaveRecord(ctx context.Context, r *Record) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	tags, err := json.Marshal(r.Hashtags)
	if err != nil {
		return fmt.Errorf("encoding hashtags: %w", err)
	}

	query, args, err := sq.Insert("history").
		Columns(historyColumns...).
		Values(r.ID, r.RunID, r.JobID, r.Topic, r.ContentType, r.Status, r.PostID, r.Error, r.Warnings,
			r.Title, r.Body, string(tags), r.SourceCount, r.Fallback, r.Manual,
			r.CreatedAt.UTC().Format(time.RFC3339)).
		ToSql()
	if err != nil {
		return fmt.Errorf("building insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting history record: %w", err)
	}
	return nil
}

// GetRecord returns a single record by id.
func (s *Store) GetRecord(ctx context.Context, id string) (Record, error) {
	query, args, err := sq.Select(historyColumns...).From("history").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return Record{}, fmt.Errorf("building select: %w", err)
	}
	r, err := scanRecord(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return r, err
}

// ListRecords returns records matching f, newest first.
func (s *Store) ListRecords(ctx context.Context, f Filter) ([]Record, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	b := sq.Select(historyColumns...).From("history").
		OrderBy("created_at DESC", "rowid DESC").
		Limit(uint64(limit))
	if f.Offset > 0 {
		b = b.Offset(uint64(f.Offset))
	}
	b = applyFilter(b, f)

	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountByStatus returns how many records exist per status for f.
func (s *Store) CountByStatus(ctx context.Context, f Filter) (map[string]int, error) {
	b := applyFilter(sq.Select("status", "COUNT(*)").From("history").GroupBy("status"), f)
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building count: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("counting history: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// RecentTitles returns titles of the latest published posts for topic, used
// to steer synthesis away from repeating itself.
func (s *Store) RecentTitles(ctx context.Context, topic string, n int) ([]string, error) {
	recs, err := s.ListRecords(ctx, Filter{Topic: topic, Status: StatusPublished, Limit: n})
	if err != nil {
		return nil, err
	}
	titles := make([]string, 0, len(recs))
	for _, r := range recs {
		if r.Title != "" {
			titles = append(titles, r.Title)
		}
	}
	return titles, nil
}

func applyFilter(b sq.SelectBuilder, f Filter) sq.SelectBuilder {
	if f.JobID != "" {
		b = b.Where(sq.Eq{"job_id": f.JobID})
	}
	if f.Topic != "" {
		b = b.Where("topic = ? COLLATE NOCASE", f.Topic)
	}
	if f.Status != "" {
		b = b.Where(sq.Eq{"status": f.Status})
	}
	if !f.Since.IsZero() {
		b = b.Where(sq.GtOrEq{"created_at": f.Since.UTC().Format(time.RFC3339)})
	}
	return b
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		r         Record
		tags      string
		createdAt string
	)
	if err := row.Scan(&r.ID, &r.RunID, &r.JobID, &r.Topic, &r.ContentType, &r.Status, &r.PostID, &r.Error, &r.Warnings,
		&r.Title, &r.Body, &tags, &r.SourceCount, &r.Fallback, &r.Manual, &createdAt); err != nil {
		return Record{}, err
	}
	if tags != "" {
		if err := json.Unmarshal([]byte(tags), &r.Hashtags); err != nil {
			return Record{}, fmt.Errorf("decoding hashtags: %w", err)
		}
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Record{}, fmt.Errorf("parsing created_at: %w", err)
	}
	r.CreatedAt = t
	return r, nil
}
