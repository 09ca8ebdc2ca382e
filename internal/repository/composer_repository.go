package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/lib/pq"
	"github.com/maheshrc27/crosspost-scheduler/internal/models"
)

// ForeignPostFilter narrows a read of a foreign scheduler's posts. Statuses
// holds lower-case primary statuses; empty means any. A post is returned when
// it routes to Platform and either targets one of TargetAccountIDs or has no
// target and was authored by UserID.
type ForeignPostFilter struct {
	UserID           int64
	Platform         string
	TargetAccountIDs []string
	Statuses         []string
	Limit            int
	Offset           int
}

// ComposerRepository reads the composer application's cross-post table. The
// table belongs to that application and is never written here.
type ComposerRepository interface {
	ListForUser(ctx context.Context, f ForeignPostFilter) ([]*models.ComposerCrossPost, error)
}

type composerRepository struct {
	db *sql.DB
}

func NewComposerRepository(db *sql.DB) ComposerRepository {
	return &composerRepository{db: db}
}

func (r *composerRepository) ListForUser(ctx context.Context, f ForeignPostFilter) ([]*models.ComposerCrossPost, error) {
	query := `
		SELECT id, user_id, team_id, content, media_urls, scheduled_at, timezone, status,
			platforms, COALESCE(results, '{}'::jsonb), created_at, updated_at
		FROM composer_cross_posts
		WHERE platforms -> $2 IS NOT NULL
			AND (
				(COALESCE(platforms -> $2 ->> 'target_account_id', '') = '' AND user_id = $1)
				OR platforms -> $2 ->> 'target_account_id' = ANY($3)
			)
			AND (COALESCE(cardinality($4::text[]), 0) = 0 OR LOWER(TRIM(status)) = ANY($4))
		ORDER BY scheduled_at DESC, id DESC
		LIMIT $5 OFFSET $6
	`
	rows, err := r.db.QueryContext(ctx, query, f.UserID, f.Platform, pq.Array(f.TargetAccountIDs), pq.Array(f.Statuses), f.Limit, f.Offset)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var posts []*models.ComposerCrossPost
	for rows.Next() {
		var p models.ComposerCrossPost
		var timezone sql.NullString
		var platforms, results []byte
		err := rows.Scan(&p.ID, &p.UserID, &p.TeamID, &p.Content, pq.Array(&p.MediaURLs), &p.ScheduledAt,
			&timezone, &p.Status, &platforms, &results, &p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		p.Timezone = timezone.String
		p.Platforms = platforms
		p.Results = results
		posts = append(posts, &p)
	}
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return posts, nil
}
