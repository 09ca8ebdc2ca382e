package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/maheshrc27/crosspost-scheduler/internal/models"
)

type TeamRepository interface {
	FindAccount(ctx context.Context, id string) (*models.TeamAccount, error)
	ListAccountsForMember(ctx context.Context, userID int64) ([]*models.TeamAccount, error)
	GetActiveMembership(ctx context.Context, teamID string, userID int64) (*models.TeamMembership, error)
}

type teamRepository struct {
	db *sql.DB
}

func NewTeamRepository(db *sql.DB) TeamRepository {
	return &teamRepository{db: db}
}

// FindAccount accepts either the row id of the team account or the id of
// its team. A row id match wins over a team id match.
func (r *teamRepository) FindAccount(ctx context.Context, id string) (*models.TeamAccount, error) {
	query := `
		SELECT id, team_id, owner_user_id, label
		FROM team_accounts
		WHERE id = $1 OR team_id = $1
		ORDER BY (id = $1) DESC, id ASC
		LIMIT 1
	`

	var ta models.TeamAccount
	err := r.db.QueryRowContext(ctx, query, id).Scan(&ta.ID, &ta.TeamID, &ta.OwnerUserID, &ta.Label)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}

	return &ta, nil
}

func (r *teamRepository) ListAccountsForMember(ctx context.Context, userID int64) ([]*models.TeamAccount, error) {
	query := `
		SELECT ta.id, ta.team_id, ta.owner_user_id, ta.label
		FROM team_accounts ta
		LEFT JOIN team_members tm ON tm.team_id = ta.team_id AND tm.user_id = $1 AND tm.status = 'active'
		WHERE ta.owner_user_id = $1 OR tm.user_id IS NOT NULL
		ORDER BY ta.id
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var accounts []*models.TeamAccount
	for rows.Next() {
		var ta models.TeamAccount
		if err := rows.Scan(&ta.ID, &ta.TeamID, &ta.OwnerUserID, &ta.Label); err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		accounts = append(accounts, &ta)
	}
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return accounts, nil
}

func (r *teamRepository) GetActiveMembership(ctx context.Context, teamID string, userID int64) (*models.TeamMembership, error) {
	query := `
		SELECT team_id, user_id, role
		FROM team_members
		WHERE team_id = $1 AND user_id = $2 AND status = 'active'
	`

	var m models.TeamMembership
	err := r.db.QueryRowContext(ctx, query, teamID, userID).Scan(&m.TeamID, &m.UserID, &m.Role)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}

	return &m, nil
}
