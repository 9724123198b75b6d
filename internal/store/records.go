package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/taskly-app/taskly/internal/schema"
)

// Query filters GetOfflineData by one of the declared indexes.
type Query struct {
	// Status matches the record's status field exactly (empty = any).
	Status string
	// CreatedSince keeps records whose createdAt is at or after the time.
	CreatedSince time.Time
	// Limit restricts the number of results (0 = no limit).
	Limit int
}

// StoreOffline upserts a record written without server confirmation. The
// stored copy is tagged _offline=true with the current time in _timestamp
// and replaces any previous copy entirely.
func (s *Store) StoreOffline(ctx context.Context, c Collection, r schema.Record) (schema.Record, error) {
	out := r.Clone()
	out[schema.FieldOffline] = true
	out[schema.FieldTimestamp] = formatTime(s.clock.Now())
	if err := s.upsert(ctx, "store offline", c, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Put upserts a server-confirmed copy. Offline and tombstone markers are
// cleared.
func (s *Store) Put(ctx context.Context, c Collection, r schema.Record) (schema.Record, error) {
	out := r.Clone()
	delete(out, schema.FieldOffline)
	delete(out, schema.FieldDeleted)
	out[schema.FieldTimestamp] = formatTime(s.clock.Now())
	if err := s.upsert(ctx, "put", c, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns one record or ErrNotFound.
func (s *Store) Get(ctx context.Context, c Collection, id string) (schema.Record, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, c)
	}

	var data string
	err := s.conn.QueryRowContext(ctx, `SELECT data FROM `+string(c)+` WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", c, id, ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("get", fmt.Errorf("failed to read %s %s: %w", c, id, err))
	}
	return schema.RecordFromJSON([]byte(data))
}

// Delete removes a record. Returns nil if it doesn't exist.
func (s *Store) Delete(ctx context.Context, c Collection, id string) error {
	if !c.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownCollection, c)
	}
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM `+string(c)+` WHERE id = ?`, id); err != nil {
		return storageErr("delete", fmt.Errorf("failed to delete %s %s: %w", c, id, err))
	}
	return nil
}

// Replace removes the record stored under oldID and upserts the
// server-confirmed r in one transaction.
func (s *Store) Replace(ctx context.Context, c Collection, oldID string, r schema.Record) (schema.Record, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, c)
	}

	out := r.Clone()
	delete(out, schema.FieldOffline)
	delete(out, schema.FieldDeleted)
	out[schema.FieldTimestamp] = formatTime(s.clock.Now())

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("replace", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM `+string(c)+` WHERE id = ?`, oldID); err != nil {
		return nil, storageErr("replace", fmt.Errorf("failed to delete %s %s: %w", c, oldID, err))
	}
	if err := upsertRecord(ctx, tx, c, out); err != nil {
		return nil, storageErr("replace", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, storageErr("replace", fmt.Errorf("failed to commit transaction: %w", err))
	}
	return out, nil
}

// GetOfflineData returns every record in the collection in insertion
// order, including tombstones. q may be nil. The result is never nil.
func (s *Store) GetOfflineData(ctx context.Context, c Collection, q *Query) ([]schema.Record, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, c)
	}

	var conditions []string
	var args []interface{}
	if q != nil {
		if q.Status != "" {
			conditions = append(conditions, "status = ?")
			args = append(args, q.Status)
		}
		if !q.CreatedSince.IsZero() {
			conditions = append(conditions, "created_at >= ?")
			args = append(args, formatTime(q.CreatedSince))
		}
	}

	query := `SELECT data FROM ` + string(c)
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY rowid ASC`
	if q != nil && q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("query", fmt.Errorf("failed to query %s: %w", c, err))
	}
	defer rows.Close()

	records := []schema.Record{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, storageErr("query", fmt.Errorf("failed to scan %s row: %w", c, err))
		}
		r, err := schema.RecordFromJSON([]byte(data))
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("query", fmt.Errorf("error iterating %s rows: %w", c, err))
	}
	return records, nil
}

// Count returns the number of records in a collection.
func (s *Store) Count(ctx context.Context, c Collection) (int, error) {
	if !c.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrUnknownCollection, c)
	}
	var n int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+string(c)).Scan(&n); err != nil {
		return 0, storageErr("count", fmt.Errorf("failed to count %s: %w", c, err))
	}
	return n, nil
}

func (s *Store) upsert(ctx context.Context, op string, c Collection, r schema.Record) error {
	if !c.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownCollection, c)
	}
	if err := upsertRecord(ctx, s.conn, c, r); err != nil {
		return storageErr(op, err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertRecord(ctx context.Context, db execer, c Collection, r schema.Record) error {
	id := r.ID()
	if id == "" {
		return fmt.Errorf("%s record has no id", c)
	}

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal %s %s: %w", c, id, err)
	}

	var createdAt interface{}
	if t := r.Time(schema.FieldCreatedAt); !t.IsZero() {
		createdAt = formatTime(t)
	}

	query := `
	INSERT INTO ` + string(c) + ` (id, data, status, created_at, updated_at, offline, deleted)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		data = excluded.data,
		status = excluded.status,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at,
		offline = excluded.offline,
		deleted = excluded.deleted
	`
	_, err = db.ExecContext(ctx, query,
		id,
		string(data),
		r.String(schema.FieldStatus),
		createdAt,
		r.String(schema.FieldTimestamp),
		boolToInt(r.Offline()),
		boolToInt(r.Deleted()),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert %s %s: %w", c, id, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
