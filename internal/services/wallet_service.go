package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/agdash/backend/internal/models"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ErrInvalidAmount       = errors.New("amount must be greater than zero")
	ErrUnauthorized        = errors.New("actor is not an ancestor of the target account")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAccountNotFound     = errors.New("account not found")
)

var transfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "wallet_transfers_total",
	Help: "Wallet transfers by kind and outcome.",
}, []string{"kind", "status"})

// WalletService moves money between accounts inside the agent tree. Every
// transfer is one database transaction: both ledger entries, both balance
// updates and the transfer log row land together or not at all.
type WalletService struct {
	db        *sql.DB
	hierarchy *HierarchyService
}

func NewWalletService(db *sql.DB, hierarchy *HierarchyService) *WalletService {
	return &WalletService{
		db:        db,
		hierarchy: hierarchy,
	}
}

type lockedAccount struct {
	ID      int64
	Balance int64
	Version int
}

// Transfer executes a gated balance movement between the acting account and
// a strict descendant. CreditTransfer moves actor -> target, DebitTransfer
// moves target -> actor.
func (s *WalletService) Transfer(ctx context.Context, actorID, targetID, amount int64, kind, note string) (*models.TransferRecord, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	ok, err := s.hierarchy.IsAncestor(ctx, actorID, targetID)
	if err != nil {
		return nil, err
	}
	if !ok {
		transfersTotal.WithLabelValues(kind, "unauthorized").Inc()
		return nil, ErrUnauthorized
	}

	fromID, toID := actorID, targetID
	if kind == models.DebitTransfer {
		fromID, toID = targetID, actorID
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback()

	record, err := s.transferTx(ctx, tx, fromID, toID, amount, kind, note)
	if err != nil {
		transfersTotal.WithLabelValues(kind, "failed").Inc()
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		transfersTotal.WithLabelValues(kind, "failed").Inc()
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}

	transfersTotal.WithLabelValues(kind, "ok").Inc()
	return record, nil
}

func (s *WalletService) transferTx(ctx context.Context, tx *sql.Tx, fromID, toID, amount int64, kind, note string) (*models.TransferRecord, error) {
	// Lock accounts in consistent order to prevent deadlocks
	firstLock, secondLock := fromID, toID
	if fromID > toID {
		firstLock, secondLock = toID, fromID
	}

	fromAccount, err := s.lockAccount(ctx, tx, firstLock)
	if err != nil {
		return nil, err
	}

	toAccount, err := s.lockAccount(ctx, tx, secondLock)
	if err != nil {
		return nil, err
	}

	// Determine which locked account is sender/receiver
	if firstLock != fromID {
		fromAccount, toAccount = toAccount, fromAccount
	}

	if fromAccount.Balance < amount {
		return nil, ErrInsufficientBalance
	}

	transactionID := uuid.NewString()

	if err := s.createLedgerEntry(ctx, tx, transactionID, fromAccount.ID, -amount, "DEBIT", fromAccount.Balance-amount); err != nil {
		return nil, err
	}

	if err := s.createLedgerEntry(ctx, tx, transactionID, toAccount.ID, amount, "CREDIT", toAccount.Balance+amount); err != nil {
		return nil, err
	}

	if err := s.updateAccountBalance(ctx, tx, fromAccount.ID, fromAccount.Balance-amount, fromAccount.Version); err != nil {
		return nil, err
	}

	if err := s.updateAccountBalance(ctx, tx, toAccount.ID, toAccount.Balance+amount, toAccount.Version); err != nil {
		return nil, err
	}

	record := &models.TransferRecord{
		TransactionID: transactionID,
		FromUserID:    fromID,
		ToUserID:      toID,
		Amount:        amount,
		Kind:          kind,
		Note:          note,
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO transfer_logs (transaction_id, from_user_id, to_user_id, amount, kind, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`,
		transactionID, fromID, toID, amount, kind, note, time.Now()).Scan(&record.ID, &record.CreatedAt)
	if err != nil {
		return nil, err
	}

	return record, nil
}

// Balance returns the current balance of one account.
func (s *WalletService) Balance(ctx context.Context, accountID int64) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx,
		"SELECT balance FROM accounts WHERE id = $1", accountID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrAccountNotFound
	}
	return balance, err
}

// TransferHistory returns the transfer log rows where the account is either
// the source or the destination, newest first.
func (s *WalletService) TransferHistory(ctx context.Context, accountID int64) ([]models.TransferRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, transaction_id, from_user_id, to_user_id, amount, kind, note, created_at
		FROM transfer_logs
		WHERE from_user_id = $1 OR to_user_id = $1
		ORDER BY id DESC`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.TransferRecord
	for rows.Next() {
		var r models.TransferRecord
		if err := rows.Scan(&r.ID, &r.TransactionID, &r.FromUserID, &r.ToUserID, &r.Amount, &r.Kind, &r.Note, &r.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *WalletService) lockAccount(ctx context.Context, tx *sql.Tx, accountID int64) (*lockedAccount, error) {
	var account lockedAccount
	err := tx.QueryRowContext(ctx, `
		SELECT id, balance, version
		FROM accounts
		WHERE id = $1
		FOR UPDATE`, accountID).Scan(&account.ID, &account.Balance, &account.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}

	return &account, nil
}

func (s *WalletService) createLedgerEntry(ctx context.Context, tx *sql.Tx, transactionID string, accountID, amount int64, entryType string, balance int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (transaction_id, account_id, amount, entry_type, balance, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		transactionID, accountID, amount, entryType, balance, time.Now())
	return err
}

func (s *WalletService) updateAccountBalance(ctx context.Context, tx *sql.Tx, accountID, newBalance int64, version int) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4`,
		newBalance, time.Now(), accountID, version)

	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return fmt.Errorf("optimistic lock failed for account %d", accountID)
	}

	return nil
}
