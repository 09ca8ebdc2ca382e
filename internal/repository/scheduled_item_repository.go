package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/maheshrc27/crosspost-scheduler/internal/models"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// ItemFilter narrows FindByOwner. A nil ScopedAccountIDs selects the
// personal scope of the user.
type ItemFilter struct {
	Status           string
	Limit            int
	Offset           int
	ScopedAccountIDs []string
}

// AttemptResult is the outcome of one failed publish attempt.
type AttemptResult struct {
	ID           string
	Status       string
	RetryCount   int
	NextRetryAt  *time.Time
	ErrorMessage string
}

type ScheduledItemRepository interface {
	Create(ctx context.Context, tx *sql.Tx, item *models.ScheduledItem) (string, error)
	FindByID(ctx context.Context, id string) (*models.ScheduledItem, error)
	FindByOwner(ctx context.Context, userID int64, filter ItemFilter) ([]*models.ScheduledItem, error)
	UpdateStatus(ctx context.Context, id, status string, errorMessage *string) (bool, error)
	Delete(ctx context.Context, id string, ownerUserID int64) (bool, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledItem, error)
	Claim(ctx context.Context, id string, now, leaseUntil time.Time) (bool, error)
	MarkCompleted(ctx context.Context, id string, postedAt time.Time, platformPostID string) (bool, error)
	RecordAttempt(ctx context.Context, attempt AttemptResult) error
	CountByStatus(ctx context.Context, userID int64, scopedAccountIDs []string) (map[string]int, error)
	CountDue(ctx context.Context, userID int64, scopedAccountIDs []string, now time.Time) (int, error)
	Capabilities() SchemaCapabilities
}

type scheduledItemRepository struct {
	db *sql.DB

	mu   sync.RWMutex
	caps SchemaCapabilities
}

func NewScheduledItemRepository(db *sql.DB, caps SchemaCapabilities) ScheduledItemRepository {
	return &scheduledItemRepository{db: db, caps: caps}
}

func (r *scheduledItemRepository) Capabilities() SchemaCapabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.caps
}

// narrow drops the optional column named by an undefined_column error and
// reports whether the capabilities changed.
func (r *scheduledItemRepository) narrow(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != undefinedColumnCode {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	msg := pqErr.Message
	switch {
	case (strings.Contains(msg, "retry_count") || strings.Contains(msg, "next_retry_at")) && r.caps.RetryColumns:
		r.caps = r.caps.withoutRetryColumns()
	case strings.Contains(msg, "timezone_label") && r.caps.TimezoneLabel:
		r.caps.TimezoneLabel = false
		r.caps.Version++
	case strings.Contains(msg, "cross_post_metadata") && r.caps.CrossPostMetadata:
		r.caps.CrossPostMetadata = false
		r.caps.Version++
	default:
		return false
	}
	slog.Warn("schema capabilities narrowed", "version", r.caps.Version, "reason", msg)
	return true
}

// Create inserts item. When the insert hits a column this schema lacks, the
// capabilities are narrowed and the insert is retried once without it.
func (r *scheduledItemRepository) Create(ctx context.Context, tx *sql.Tx, item *models.ScheduledItem) (string, error) {
	if item.ID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return "", err
		}
		item.ID = id
	}
	if item.Status == "" {
		item.Status = models.ItemStatusScheduled
	}

	for attempt := 0; ; attempt++ {
		caps := r.Capabilities()
		err := r.insert(ctx, tx, item, caps)
		if err == nil {
			return item.ID, nil
		}
		slog.Info(err.Error())
		if attempt > 0 || !r.narrow(err) {
			return "", err
		}
	}
}

func (r *scheduledItemRepository) insert(ctx context.Context, tx *sql.Tx, item *models.ScheduledItem, caps SchemaCapabilities) error {
	query, args, err := insertItemQuery(item, caps)
	if err != nil {
		return err
	}

	// A failed statement aborts the surrounding transaction, so a retry
	// inside tx needs a savepoint to return to.
	if tx != nil {
		if _, err := tx.ExecContext(ctx, `SAVEPOINT scheduled_item_insert`); err != nil {
			return err
		}
	}
	err = conn(r.db, tx).QueryRowContext(ctx, query, args...).Scan(&item.CreatedAt, &item.UpdatedAt)
	if err != nil && tx != nil {
		if _, rbErr := tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT scheduled_item_insert`); rbErr != nil {
			slog.Info(rbErr.Error())
		}
	}
	return err
}

// insertItemQuery writes only the optional columns caps says exist.
func insertItemQuery(item *models.ScheduledItem, caps SchemaCapabilities) (string, []any, error) {
	q := &queryArgs{}
	columns := []string{"id", "owner_user_id", "owner_account_id", "content", "media_refs", "post_kind", "scheduled_at", "status"}
	values := []string{
		q.add(item.ID),
		q.add(item.OwnerUserID),
		q.add(item.OwnerAccountID),
		q.add(item.Content),
		q.add(pq.Array(item.MediaRefs)),
		q.add(item.PostKind),
		q.add(item.ScheduledAt.UTC()),
		q.add(item.Status),
	}
	if caps.TimezoneLabel {
		columns = append(columns, "timezone_label")
		values = append(values, q.add(item.TimezoneLabel))
	}
	if caps.CrossPostMetadata && item.CrossPostMetadata != nil {
		raw, err := json.Marshal(item.CrossPostMetadata)
		if err != nil {
			return "", nil, err
		}
		columns = append(columns, "cross_post_metadata")
		values = append(values, q.add(raw))
	}

	query := fmt.Sprintf(`
		INSERT INTO scheduled_items (%s, created_at, updated_at)
		VALUES (%s, NOW(), NOW())
		RETURNING created_at, updated_at
	`, strings.Join(columns, ", "), strings.Join(values, ", "))
	return query, q.args, nil
}

func (r *scheduledItemRepository) FindByID(ctx context.Context, id string) (*models.ScheduledItem, error) {
	caps := r.Capabilities()
	query := `SELECT ` + selectColumns(caps) + ` FROM scheduled_items WHERE id = $1`

	item, err := scanItem(r.db.QueryRowContext(ctx, query, id), caps)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		r.narrow(err)
		return nil, err
	}

	return item, nil
}

func (r *scheduledItemRepository) FindByOwner(ctx context.Context, userID int64, filter ItemFilter) ([]*models.ScheduledItem, error) {
	caps := r.Capabilities()
	q := &queryArgs{}
	where := []string{scopeClause(q, userID, filter.ScopedAccountIDs)}
	if filter.Status != "" {
		where = append(where, "status = "+q.add(filter.Status))
	}

	query := `SELECT ` + selectColumns(caps) + ` FROM scheduled_items
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY scheduled_at DESC, id DESC`
	if filter.Limit > 0 {
		query += " LIMIT " + q.add(filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET " + q.add(filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, q.args...)
	if err != nil {
		slog.Info(err.Error())
		r.narrow(err)
		return nil, err
	}
	defer rows.Close()

	return scanItems(rows, caps)
}

// UpdateStatus only touches rows whose current status may move to status, so
// re-applying a status reports false without writing anything. Moving back
// to scheduled resets the retry bookkeeping.
func (r *scheduledItemRepository) UpdateStatus(ctx context.Context, id, status string, errorMessage *string) (bool, error) {
	caps := r.Capabilities()

	var query string
	args := []any{id, status, pq.Array(models.SourcesFor(status))}
	switch {
	case status == models.ItemStatusScheduled && caps.RetryColumns:
		query = `
			UPDATE scheduled_items
			SET status = $2, retry_count = 0, next_retry_at = NULL, error_message = NULL, updated_at = NOW()
			WHERE id = $1 AND status <> $2 AND status = ANY($3)
		`
	case status == models.ItemStatusScheduled:
		query = `
			UPDATE scheduled_items
			SET status = $2, error_message = NULL, updated_at = NOW()
			WHERE id = $1 AND status <> $2 AND status = ANY($3)
		`
	default:
		query = `
			UPDATE scheduled_items
			SET status = $2, error_message = $4, updated_at = NOW()
			WHERE id = $1 AND status <> $2 AND status = ANY($3)
		`
		args = append(args, errorMessage)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		slog.Info(err.Error())
		r.narrow(err)
		return false, err
	}
	return affectedOne(result)
}

func (r *scheduledItemRepository) Delete(ctx context.Context, id string, ownerUserID int64) (bool, error) {
	query := `DELETE FROM scheduled_items WHERE id = $1 AND owner_user_id = $2`
	result, err := r.db.ExecContext(ctx, query, id, ownerUserID)
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}
	return affectedOne(result)
}

func (r *scheduledItemRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledItem, error) {
	caps := r.Capabilities()
	due := dueExpr(caps)
	leased := ""
	if !caps.RetryColumns {
		leased = " AND updated_at <= $1"
	}
	query := `SELECT ` + selectColumns(caps) + ` FROM scheduled_items
		WHERE status = 'scheduled' AND ` + due + ` <= $1` + leased + `
		ORDER BY ` + due + ` ASC, id ASC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, now.UTC(), limit)
	if err != nil {
		slog.Info(err.Error())
		r.narrow(err)
		return nil, err
	}
	defer rows.Close()

	return scanItems(rows, caps)
}

// Claim leases a due item by pushing its next attempt to leaseUntil. Only one
// concurrent caller can win the lease for a given due instant.
//
// Without retry columns the lease is held in updated_at: a claimed row carries
// a future updated_at and is neither listed nor claimable until it passes.
// The status update that ends the attempt writes NOW() and clears it.
func (r *scheduledItemRepository) Claim(ctx context.Context, id string, now, leaseUntil time.Time) (bool, error) {
	caps := r.Capabilities()
	if !caps.RetryColumns {
		query := `
			UPDATE scheduled_items
			SET updated_at = $3
			WHERE id = $1 AND status = 'scheduled' AND scheduled_at <= $2 AND updated_at <= $2
		`
		result, err := r.db.ExecContext(ctx, query, id, now.UTC(), leaseUntil.UTC())
		if err != nil {
			slog.Info(err.Error())
			return false, err
		}
		return affectedOne(result)
	}

	query := `
		UPDATE scheduled_items
		SET next_retry_at = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'scheduled' AND COALESCE(next_retry_at, scheduled_at) <= $2
	`
	result, err := r.db.ExecContext(ctx, query, id, now.UTC(), leaseUntil.UTC())
	if err != nil {
		slog.Info(err.Error())
		r.narrow(err)
		return false, err
	}
	return affectedOne(result)
}

func (r *scheduledItemRepository) MarkCompleted(ctx context.Context, id string, postedAt time.Time, platformPostID string) (bool, error) {
	query := `
		UPDATE scheduled_items
		SET status = 'completed', posted_at = $2, platform_post_id = $3, error_message = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'scheduled'
	`
	result, err := r.db.ExecContext(ctx, query, id, postedAt.UTC(), platformPostID)
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}
	return affectedOne(result)
}

func (r *scheduledItemRepository) RecordAttempt(ctx context.Context, attempt AttemptResult) error {
	if !r.Capabilities().RetryColumns {
		return ErrRetryColumnsUnavailable
	}

	var next *time.Time
	if attempt.NextRetryAt != nil {
		utc := attempt.NextRetryAt.UTC()
		next = &utc
	}

	query := `
		UPDATE scheduled_items
		SET status = $2, retry_count = $3, next_retry_at = $4, error_message = $5, updated_at = NOW()
		WHERE id = $1 AND status = 'scheduled'
	`
	_, err := r.db.ExecContext(ctx, query, attempt.ID, attempt.Status, attempt.RetryCount, next, attempt.ErrorMessage)
	if err != nil {
		slog.Info(err.Error())
		r.narrow(err)
		return err
	}
	return nil
}

func (r *scheduledItemRepository) CountByStatus(ctx context.Context, userID int64, scopedAccountIDs []string) (map[string]int, error) {
	q := &queryArgs{}
	query := `SELECT status, COUNT(*) FROM scheduled_items WHERE ` + scopeClause(q, userID, scopedAccountIDs) + ` GROUP BY status`

	rows, err := r.db.QueryContext(ctx, query, q.args...)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{
		models.ItemStatusScheduled: 0,
		models.ItemStatusCompleted: 0,
		models.ItemStatusFailed:    0,
		models.ItemStatusCancelled: 0,
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return counts, nil
}

func (r *scheduledItemRepository) CountDue(ctx context.Context, userID int64, scopedAccountIDs []string, now time.Time) (int, error) {
	caps := r.Capabilities()
	q := &queryArgs{}
	scope := scopeClause(q, userID, scopedAccountIDs)
	query := `SELECT COUNT(*) FROM scheduled_items
		WHERE ` + scope + ` AND status = 'scheduled' AND ` + dueExpr(caps) + ` <= ` + q.add(now.UTC())

	var n int
	if err := r.db.QueryRowContext(ctx, query, q.args...).Scan(&n); err != nil {
		slog.Info(err.Error())
		r.narrow(err)
		return 0, err
	}
	return n, nil
}

type queryArgs struct {
	args []any
}

func (q *queryArgs) add(v any) string {
	q.args = append(q.args, v)
	return "$" + strconv.Itoa(len(q.args))
}

// scopeClause matches team rows by account id plus the user's own legacy rows
// with no account, or only the user's personal rows when unscoped.
func scopeClause(q *queryArgs, userID int64, scopedAccountIDs []string) string {
	if len(scopedAccountIDs) == 0 {
		return "(owner_account_id IS NULL AND owner_user_id = " + q.add(userID) + ")"
	}
	return fmt.Sprintf("(owner_account_id = ANY(%s) OR (owner_account_id IS NULL AND owner_user_id = %s))",
		q.add(pq.Array(scopedAccountIDs)), q.add(userID))
}

func dueExpr(caps SchemaCapabilities) string {
	if caps.RetryColumns {
		return "COALESCE(next_retry_at, scheduled_at)"
	}
	return "scheduled_at"
}

func selectColumns(caps SchemaCapabilities) string {
	cols := []string{
		"id", "owner_user_id", "owner_account_id", "content", "media_refs", "post_kind",
		"scheduled_at", "status", "error_message", "posted_at", "platform_post_id",
		"created_at", "updated_at",
	}
	if caps.TimezoneLabel {
		cols = append(cols, "timezone_label")
	}
	if caps.CrossPostMetadata {
		cols = append(cols, "cross_post_metadata")
	}
	if caps.RetryColumns {
		cols = append(cols, "retry_count", "next_retry_at")
	}
	return strings.Join(cols, ", ")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner, caps SchemaCapabilities) (*models.ScheduledItem, error) {
	var item models.ScheduledItem
	var timezone sql.NullString
	var metadata []byte

	dest := []any{
		&item.ID, &item.OwnerUserID, &item.OwnerAccountID, &item.Content, pq.Array(&item.MediaRefs), &item.PostKind,
		&item.ScheduledAt, &item.Status, &item.ErrorMessage, &item.PostedAt, &item.PlatformPostID,
		&item.CreatedAt, &item.UpdatedAt,
	}
	if caps.TimezoneLabel {
		dest = append(dest, &timezone)
	}
	if caps.CrossPostMetadata {
		dest = append(dest, &metadata)
	}
	if caps.RetryColumns {
		dest = append(dest, &item.RetryCount, &item.NextRetryAt)
	}

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	item.ScheduledAt = item.ScheduledAt.UTC()
	item.TimezoneLabel = timezone.String
	if len(metadata) > 0 {
		var meta models.CrossPostMetadata
		if err := json.Unmarshal(metadata, &meta); err != nil {
			return nil, fmt.Errorf("decode cross_post_metadata of %s: %w", item.ID, err)
		}
		item.CrossPostMetadata = &meta
	}
	return &item, nil
}

func scanItems(rows *sql.Rows, caps SchemaCapabilities) ([]*models.ScheduledItem, error) {
	var items []*models.ScheduledItem
	for rows.Next() {
		item, err := scanItem(rows, caps)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return items, nil
}

func affectedOne(result sql.Result) (bool, error) {
	affected, err := result.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}
	return affected == 1, nil
}
