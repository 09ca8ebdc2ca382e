package repository

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/lib/pq"
)

// pq code for "undefined_column".
const undefinedColumnCode = "42703"

// ErrRetryColumnsUnavailable is returned by writes that need retry_count and
// next_retry_at when the schema is known to lack them.
var ErrRetryColumnsUnavailable = errors.New("retry columns are not available in this schema")

// SchemaCapabilities records which optional scheduled_items columns exist.
// Version is bumped each time the set is narrowed at runtime.
type SchemaCapabilities struct {
	Version           int
	TimezoneLabel     bool
	CrossPostMetadata bool
	RetryColumns      bool
}

// FullSchema is the capability set of a fully migrated database.
func FullSchema() SchemaCapabilities {
	return SchemaCapabilities{Version: 1, TimezoneLabel: true, CrossPostMetadata: true, RetryColumns: true}
}

func (c SchemaCapabilities) withoutRetryColumns() SchemaCapabilities {
	if !c.RetryColumns {
		return c
	}
	c.RetryColumns = false
	c.Version++
	return c
}

// ProbeSchema reads information_schema once at startup.
func ProbeSchema(ctx context.Context, db *sql.DB) (SchemaCapabilities, error) {
	query := `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = 'scheduled_items'
	`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		slog.Info(err.Error())
		return SchemaCapabilities{}, err
	}
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			slog.Info(err.Error())
			return SchemaCapabilities{}, err
		}
		columns[name] = true
	}
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return SchemaCapabilities{}, err
	}

	caps := SchemaCapabilities{
		Version:           1,
		TimezoneLabel:     columns["timezone_label"],
		CrossPostMetadata: columns["cross_post_metadata"],
		RetryColumns:      columns["retry_count"] && columns["next_retry_at"],
	}
	slog.Info("schema capabilities probed",
		"timezone_label", caps.TimezoneLabel,
		"cross_post_metadata", caps.CrossPostMetadata,
		"retry_columns", caps.RetryColumns)
	return caps, nil
}

// IsSchemaDrift reports whether err means an optional column is missing.
func IsSchemaDrift(err error) bool {
	if errors.Is(err, ErrRetryColumnsUnavailable) {
		return true
	}
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == undefinedColumnCode
}
