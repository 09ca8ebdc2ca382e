package repository

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/maheshrc27/crosspost-scheduler/internal/models"
)

var ErrTokenChanged = errors.New("access token changed concurrently")

type SocialAccountRepository interface {
	Create(ctx context.Context, tx *sql.Tx, sa *models.SocialAccount) (int64, error)
	FindPublishingAccount(ctx context.Context, platform string, userID int64, teamAccountID *string) (*models.SocialAccount, error)
	ListExpiring(ctx context.Context, platform string, before time.Time) ([]*models.SocialAccount, error)
	SetToken(ctx context.Context, id int64, oldAccessToken, newAccessToken string, expiresAt time.Time) error
	SetStatus(ctx context.Context, id int64, status string) error
}

type socialAccountRepository struct {
	db *sql.DB
}

func NewSocialAccountRepository(db *sql.DB) SocialAccountRepository {
	return &socialAccountRepository{db: db}
}

const socialAccountColumns = `id, user_id, team_account_id, platform, account_id, account_username,
	access_token, token_expires_at, account_status, created_at, updated_at`

func scanSocialAccount(row rowScanner) (*models.SocialAccount, error) {
	var sa models.SocialAccount
	err := row.Scan(&sa.ID, &sa.UserID, &sa.TeamAccountID, &sa.Platform, &sa.AccountID, &sa.AccountUsername,
		&sa.AccessToken, &sa.TokenExpiresAt, &sa.AccountStatus, &sa.CreatedAt, &sa.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &sa, nil
}

func (r *socialAccountRepository) Create(ctx context.Context, tx *sql.Tx, sa *models.SocialAccount) (int64, error) {
	query := `
		INSERT INTO social_accounts (
			user_id,
			team_account_id,
			platform,
			account_id,
			account_username,
			access_token,
			token_expires_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	var id int64
	err := conn(r.db, tx).QueryRowContext(ctx, query,
		sa.UserID,
		sa.TeamAccountID,
		sa.Platform,
		sa.AccountID,
		sa.AccountUsername,
		sa.AccessToken,
		sa.TokenExpiresAt,
	).Scan(&id)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

// FindPublishingAccount returns the active identity that publishes for a
// team account, or for the user's personal scope when teamAccountID is nil.
func (r *socialAccountRepository) FindPublishingAccount(ctx context.Context, platform string, userID int64, teamAccountID *string) (*models.SocialAccount, error) {
	var row *sql.Row
	if teamAccountID != nil {
		query := `SELECT ` + socialAccountColumns + ` FROM social_accounts
			WHERE platform = $1 AND team_account_id = $2 AND account_status = 'active'
			ORDER BY updated_at DESC LIMIT 1`
		row = r.db.QueryRowContext(ctx, query, platform, *teamAccountID)
	} else {
		query := `SELECT ` + socialAccountColumns + ` FROM social_accounts
			WHERE platform = $1 AND user_id = $2 AND team_account_id IS NULL AND account_status = 'active'
			ORDER BY updated_at DESC LIMIT 1`
		row = r.db.QueryRowContext(ctx, query, platform, userID)
	}

	sa, err := scanSocialAccount(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return sa, nil
}

func (r *socialAccountRepository) ListExpiring(ctx context.Context, platform string, before time.Time) ([]*models.SocialAccount, error) {
	query := `SELECT ` + socialAccountColumns + ` FROM social_accounts
		WHERE platform = $1 AND account_status = 'active' AND token_expires_at < $2
		ORDER BY token_expires_at ASC`
	rows, err := r.db.QueryContext(ctx, query, platform, before)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var accounts []*models.SocialAccount
	for rows.Next() {
		sa, err := scanSocialAccount(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		accounts = append(accounts, sa)
	}
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return accounts, nil
}

// SetToken swaps the stored token only if it still equals oldAccessToken.
func (r *socialAccountRepository) SetToken(ctx context.Context, id int64, oldAccessToken, newAccessToken string, expiresAt time.Time) error {
	query := `
		UPDATE social_accounts
		SET access_token = $3, token_expires_at = $4, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND access_token = $2
	`
	result, err := r.db.ExecContext(ctx, query, id, oldAccessToken, newAccessToken, expiresAt)
	if err != nil {
		slog.Info(err.Error())
		return err
	}

	ok, err := affectedOne(result)
	if err != nil {
		return err
	}
	if !ok {
		slog.Info("token not updated", "social_account_id", id)
		return ErrTokenChanged
	}
	return nil
}

func (r *socialAccountRepository) SetStatus(ctx context.Context, id int64, status string) error {
	query := `UPDATE social_accounts SET account_status = $2, updated_at = CURRENT_TIMESTAMP WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id, status)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
