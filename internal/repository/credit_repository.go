package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/maheshrc27/crosspost-scheduler/internal/models"
)

// CreditRepository is the ledger of generation credits. Every call locks the
// owner's balance row for the length of its transaction.
type CreditRepository interface {
	Hold(ctx context.Context, userID int64, operationID string, amount float64) (models.HoldResult, error)
	Refund(ctx context.Context, userID int64, amount float64, operationID, reason string) error
	Balance(ctx context.Context, userID int64) (float64, error)
}

type creditRepository struct {
	db  *sql.DB
	uow TxRunner
}

func NewCreditRepository(db *sql.DB, uow TxRunner) CreditRepository {
	return &creditRepository{db: db, uow: uow}
}

func (r *creditRepository) Hold(ctx context.Context, userID int64, operationID string, amount float64) (models.HoldResult, error) {
	var result models.HoldResult
	err := r.uow.WithinTx(ctx, func(tx *sql.Tx) error {
		balance, err := lockBalance(ctx, tx, userID)
		if err != nil {
			return err
		}

		if balance < amount {
			result = models.HoldResult{OK: false, Available: balance}
			return nil
		}

		remaining := balance - amount
		if err := writeBalance(ctx, tx, userID, remaining); err != nil {
			return err
		}
		if err := insertCreditTransaction(ctx, tx, userID, operationID, models.CreditKindHold, amount, "hold"); err != nil {
			return err
		}
		result = models.HoldResult{OK: true, Available: remaining}
		return nil
	})
	if err != nil {
		return models.HoldResult{}, err
	}
	return result, nil
}

func (r *creditRepository) Refund(ctx context.Context, userID int64, amount float64, operationID, reason string) error {
	return r.uow.WithinTx(ctx, func(tx *sql.Tx) error {
		ensure := `
			INSERT INTO credit_balances (user_id, balance, updated_at)
			VALUES ($1, 0, NOW())
			ON CONFLICT (user_id) DO NOTHING
		`
		if _, err := tx.ExecContext(ctx, ensure, userID); err != nil {
			slog.Info(err.Error())
			return err
		}

		balance, err := lockBalance(ctx, tx, userID)
		if err != nil {
			return err
		}
		if err := writeBalance(ctx, tx, userID, balance+amount); err != nil {
			return err
		}
		return insertCreditTransaction(ctx, tx, userID, operationID, models.CreditKindRefund, amount, reason)
	})
}

func (r *creditRepository) Balance(ctx context.Context, userID int64) (float64, error) {
	query := `SELECT balance FROM credit_balances WHERE user_id = $1`

	var balance float64
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&balance)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		slog.Info(err.Error())
		return 0, err
	}
	return balance, nil
}

// lockBalance reads the balance with a row lock; a missing row reads as zero.
func lockBalance(ctx context.Context, tx *sql.Tx, userID int64) (float64, error) {
	query := `SELECT balance FROM credit_balances WHERE user_id = $1 FOR UPDATE`

	var balance float64
	err := tx.QueryRowContext(ctx, query, userID).Scan(&balance)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		slog.Info(err.Error())
		return 0, err
	}
	return balance, nil
}

func writeBalance(ctx context.Context, tx *sql.Tx, userID int64, balance float64) error {
	query := `UPDATE credit_balances SET balance = ROUND($2::numeric, 2), updated_at = NOW() WHERE user_id = $1`
	if _, err := tx.ExecContext(ctx, query, userID, balance); err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func insertCreditTransaction(ctx context.Context, tx *sql.Tx, userID int64, operationID, kind string, amount float64, reason string) error {
	query := `
		INSERT INTO credit_transactions (user_id, operation_id, kind, amount, reason, created_at)
		VALUES ($1, $2, $3, ROUND($4::numeric, 2), $5, NOW())
	`
	if _, err := tx.ExecContext(ctx, query, userID, operationID, kind, amount, reason); err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
