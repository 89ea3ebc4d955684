package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"fairsync/internal/config"
)

// ErrNotPending indicates an item could not transition because it is not pending.
var ErrNotPending = errors.New("item is not pending")

// Store manages capture item persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the capture database, applies migrations,
// and demotes any in-flight items left over from a previous process. An item
// that was in flight when the process died can never be trusted to have
// completed, so it returns to pending.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.DataDir, "captures.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	ctx := context.Background()
	if err := store.applyMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := store.DemoteInFlight(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the location of the capture database file.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// EnqueueCard inserts a new pending card capture and returns it.
func (s *Store) EnqueueCard(ctx context.Context, capture CardCapture) (*Item, error) {
	if strings.TrimSpace(capture.EventID) == "" {
		return nil, errors.New("card capture requires an event id")
	}
	if len(capture.Image) == 0 {
		return nil, errors.New("card capture requires image data")
	}
	return s.insert(ctx, &Item{
		Kind:       KindCard,
		EventID:    strings.TrimSpace(capture.EventID),
		EventName:  strings.TrimSpace(capture.EventName),
		CapturedAt: normalizeCapturedAt(capture.CapturedAt),
		ImageData:  capture.Image,
		DeviceMeta: strings.TrimSpace(capture.DeviceMeta),
	})
}

// EnqueueScan inserts a new pending QR scan and returns it.
func (s *Store) EnqueueScan(ctx context.Context, scan QRScan) (*Item, error) {
	if strings.TrimSpace(scan.EventID) == "" {
		return nil, errors.New("qr scan requires an event id")
	}
	if strings.TrimSpace(scan.Token) == "" {
		return nil, errors.New("qr scan requires a token")
	}
	return s.insert(ctx, &Item{
		Kind:       KindQR,
		EventID:    strings.TrimSpace(scan.EventID),
		EventName:  strings.TrimSpace(scan.EventName),
		CapturedAt: normalizeCapturedAt(scan.CapturedAt),
		Token:      strings.TrimSpace(scan.Token),
	})
}

func (s *Store) insert(ctx context.Context, item *Item) (*Item, error) {
	now := time.Now().UTC()
	item.ID = uuid.NewString()
	item.Status = StatusPending
	item.EnqueuedAt = now
	item.UpdatedAt = now

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO capture_items (
            id, kind, event_id, event_name, captured_at, image_data, device_meta,
            token, status, attempts, last_error, enqueued_at, updated_at, retry_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID,
		item.Kind,
		item.EventID,
		nullableString(item.EventName),
		item.CapturedAt.Format(time.RFC3339Nano),
		nullableBytes(item.ImageData),
		nullableString(item.DeviceMeta),
		nullableString(item.Token),
		item.Status,
		0,
		nil,
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("insert capture item: %w", err)
	}
	return item, nil
}

// GetByID fetches a capture item by identifier. Returns nil when absent.
func (s *Store) GetByID(ctx context.Context, id string) (*Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM capture_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// NextPending returns the oldest pending item whose retry gate has passed,
// or nil when the queue has nothing deliverable.
func (s *Store) NextPending(ctx context.Context, now time.Time) (*Item, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+itemColumns+` FROM capture_items
         WHERE status = ? AND (retry_at IS NULL OR retry_at <= ?)
         ORDER BY enqueued_at, rowid LIMIT 1`,
		StatusPending,
		now.UTC().Format(time.RFC3339Nano),
	)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next pending: %w", err)
	}
	return item, nil
}

// NextRetryAt returns the earliest backoff gate among pending items, or nil
// when no pending item is waiting on a retry timer.
func (s *Store) NextRetryAt(ctx context.Context) (*time.Time, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT MIN(retry_at) FROM capture_items WHERE status = ? AND retry_at IS NOT NULL`,
		StatusPending,
	)
	var raw sql.NullString
	if err := row.Scan(&raw); err != nil {
		return nil, fmt.Errorf("next retry at: %w", err)
	}
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	when, err := time.Parse(time.RFC3339Nano, raw.String)
	if err != nil {
		return nil, fmt.Errorf("parse retry at: %w", err)
	}
	return &when, nil
}

// MarkInFlight transitions a pending item to in flight.
func (s *Store) MarkInFlight(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE capture_items SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		StatusInFlight,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		StatusPending,
	)
	if err != nil {
		return fmt.Errorf("mark in flight: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotPending
	}
	return nil
}

// MarkSynced removes a delivered item. Idempotent: a missing id (e.g. purged
// mid-delivery) is reported as removed=false, not an error.
func (s *Store) MarkSynced(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM capture_items WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("mark synced: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// ScheduleRetry returns an in-flight item to pending with an incremented
// attempt count and a backoff gate. No-op when the item no longer exists.
func (s *Store) ScheduleRetry(ctx context.Context, id, lastError string, retryAt time.Time) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE capture_items
         SET status = ?, attempts = attempts + 1, last_error = ?, retry_at = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusPending,
		nullableString(lastError),
		retryAt.UTC().Format(time.RFC3339Nano),
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		StatusInFlight,
	)
	if err != nil {
		return fmt.Errorf("schedule retry: %w", err)
	}
	return nil
}

// MarkFailed parks an item as failed after its retry budget is exhausted or
// the backend rejected it permanently. No-op when the item no longer exists.
func (s *Store) MarkFailed(ctx context.Context, id, lastError string) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE capture_items
         SET status = ?, attempts = attempts + 1, last_error = ?, retry_at = NULL, updated_at = ?
         WHERE id = ? AND status IN (?, ?)`,
		StatusFailed,
		nullableString(lastError),
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		StatusInFlight,
		StatusPending,
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// Requeue returns an in-flight item to pending without counting an attempt.
// Used when a sync run aborts because connectivity dropped: offline is not
// the item's fault.
func (s *Store) Requeue(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE capture_items SET status = ?, retry_at = NULL, updated_at = ? WHERE id = ? AND status = ?`,
		StatusPending,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		StatusInFlight,
	)
	if err != nil {
		return fmt.Errorf("requeue item: %w", err)
	}
	return nil
}

// RequeueFailed moves all failed items back to pending with a fresh retry
// budget. Returns the number of items transitioned.
func (s *Store) RequeueFailed(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE capture_items
         SET status = ?, attempts = 0, last_error = NULL, retry_at = NULL, updated_at = ?
         WHERE status = ?`,
		StatusPending,
		time.Now().UTC().Format(time.RFC3339Nano),
		StatusFailed,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue failed items: %w", err)
	}
	return res.RowsAffected()
}

// DemoteInFlight returns all in-flight items to pending.
func (s *Store) DemoteInFlight(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE capture_items SET status = ?, updated_at = ? WHERE status = ?`,
		StatusPending,
		time.Now().UTC().Format(time.RFC3339Nano),
		StatusInFlight,
	)
	if err != nil {
		return 0, fmt.Errorf("demote in-flight items: %w", err)
	}
	return res.RowsAffected()
}

// Counts aggregates queue contents straight from storage. The UI counts are
// always derived here so they cannot drift from the database.
func (s *Store) Counts(ctx context.Context) (Counts, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, status, COUNT(1) FROM capture_items GROUP BY kind, status`)
	if err != nil {
		return Counts{}, fmt.Errorf("queue counts: %w", err)
	}
	defer rows.Close()

	var counts Counts
	for rows.Next() {
		var (
			kind   Kind
			status Status
			n      int
		)
		if err := rows.Scan(&kind, &status, &n); err != nil {
			return Counts{}, err
		}
		counts.Total += n
		switch status {
		case StatusPending, StatusInFlight:
			if kind == KindQR {
				counts.PendingQR += n
			} else {
				counts.PendingCards += n
			}
		case StatusFailed:
			counts.Failed += n
		}
	}
	return counts, rows.Err()
}

// List returns capture items filtered by status set (or all items when no
// status is provided), in insertion order.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Item, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + itemColumns + ` FROM capture_items`
	orderClause := ` ORDER BY enqueued_at, rowid`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list capture items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Remove deletes an item by identifier.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM capture_items WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// Clear removes all items. Used by the user-initiated purge only.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM capture_items`)
	if err != nil {
		return 0, fmt.Errorf("clear queue: %w", err)
	}
	return res.RowsAffected()
}

const itemColumns = "id, kind, event_id, event_name, captured_at, image_data, device_meta, token, status, attempts, last_error, enqueued_at, updated_at, retry_at"

func scanItem(scanner interface{ Scan(dest ...any) error }) (*Item, error) {
	var (
		id          string
		kind        string
		eventID     string
		eventName   sql.NullString
		capturedRaw string
		imageData   []byte
		deviceMeta  sql.NullString
		token       sql.NullString
		statusStr   string
		attempts    int
		lastError   sql.NullString
		enqueuedRaw string
		updatedRaw  string
		retryRaw    sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&kind,
		&eventID,
		&eventName,
		&capturedRaw,
		&imageData,
		&deviceMeta,
		&token,
		&statusStr,
		&attempts,
		&lastError,
		&enqueuedRaw,
		&updatedRaw,
		&retryRaw,
	); err != nil {
		return nil, err
	}

	item := &Item{
		ID:         id,
		Kind:       Kind(kind),
		EventID:    eventID,
		EventName:  eventName.String,
		ImageData:  imageData,
		DeviceMeta: deviceMeta.String,
		Token:      token.String,
		Status:     Status(statusStr),
		Attempts:   attempts,
		LastError:  lastError.String,
	}

	if captured, err := parseTimeString(capturedRaw); err == nil {
		item.CapturedAt = captured
	}
	if enqueued, err := parseTimeString(enqueuedRaw); err == nil {
		item.EnqueuedAt = enqueued
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		item.UpdatedAt = updated
	}
	if retryRaw.Valid {
		if retry, err := parseTimeString(retryRaw.String); err == nil {
			item.RetryAt = &retry
		}
	}
	return item, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableBytes(value []byte) any {
	if len(value) == 0 {
		return nil
	}
	return value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

func normalizeCapturedAt(value time.Time) time.Time {
	if value.IsZero() {
		return time.Now().UTC()
	}
	return value.UTC()
}
