package models

import (
	"time"
)

// Transfer kinds as recorded in transfer_logs.
const (
	CreditTransfer = "CREDIT_TRANSFER" // actor -> target
	DebitTransfer  = "DEBIT_TRANSFER"  // target -> actor
)

// TransferRecord is the immutable audit entry of one balance movement.
type TransferRecord struct {
	ID            int64     `json:"id" db:"id"`
	TransactionID string    `json:"transaction_id" db:"transaction_id"`
	FromUserID    int64     `json:"from_user_id" db:"from_user_id"`
	ToUserID      int64     `json:"to_user_id" db:"to_user_id"`
	Amount        int64     `json:"amount" db:"amount"` // in minor units
	Kind          string    `json:"kind" db:"kind"`
	Note          string    `json:"note" db:"note"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// LedgerEntry is one side of the double entry backing a TransferRecord.
type LedgerEntry struct {
	ID            int64     `json:"id" db:"id"`
	TransactionID string    `json:"transaction_id" db:"transaction_id"`
	AccountID     int64     `json:"account_id" db:"account_id"`
	Amount        int64     `json:"amount" db:"amount"`
	EntryType     string    `json:"entry_type" db:"entry_type"` // DEBIT or CREDIT
	Balance       int64     `json:"balance" db:"balance"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
