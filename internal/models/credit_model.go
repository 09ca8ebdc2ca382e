package models

import "time"

type CreditTransaction struct {
	ID          int64     `db:"id" json:"id"`
	UserID      int64     `db:"user_id" json:"user_id"`
	OperationID string    `db:"operation_id" json:"operation_id"`
	Kind        string    `db:"kind" json:"kind"` // hold, refund
	Amount      float64   `db:"amount" json:"amount"`
	Reason      string    `db:"reason" json:"reason"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

const (
	CreditKindHold   = "hold"
	CreditKindRefund = "refund"
)

type HoldResult struct {
	OK        bool    `json:"ok"`
	Available float64 `json:"available"`
}
