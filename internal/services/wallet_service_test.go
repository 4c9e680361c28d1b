package services

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/agdash/backend/internal/models"
	"github.com/stretchr/testify/assert"
)

const (
	lockQuery        = "SELECT id, balance, version FROM accounts WHERE id = \\$1 FOR UPDATE"
	ledgerInsert     = "INSERT INTO ledger_entries"
	balanceUpdate    = "UPDATE accounts SET balance = \\$1, version = version \\+ 1, updated_at = \\$2 WHERE id = \\$3 AND version = \\$4"
	transferLogQuery = "INSERT INTO transfer_logs"
)

func newWalletService(t *testing.T) (*WalletService, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)

	hierarchy := NewHierarchyService(db)
	return NewWalletService(db, hierarchy), mock, func() { db.Close() }
}

func TestWalletService_Transfer(t *testing.T) {
	service, mock, closeDB := newWalletService(t)
	defer closeDB()

	ctx := context.Background()

	t.Run("successful credit transfer", func(t *testing.T) {
		amount := int64(1000)

		// actor 1 is the parent of target 2
		mock.ExpectQuery(parentQuery).WithArgs(int64(2)).WillReturnRows(parentRow(1))

		mock.ExpectBegin()

		mock.ExpectQuery(lockQuery).WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "balance", "version"}).AddRow(1, 5000, 1))
		mock.ExpectQuery(lockQuery).WithArgs(int64(2)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "balance", "version"}).AddRow(2, 2000, 1))

		mock.ExpectExec(ledgerInsert).
			WithArgs(sqlmock.AnyArg(), int64(1), -amount, "DEBIT", int64(4000), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec(ledgerInsert).
			WithArgs(sqlmock.AnyArg(), int64(2), amount, "CREDIT", int64(3000), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(2, 1))

		mock.ExpectExec(balanceUpdate).
			WithArgs(int64(4000), sqlmock.AnyArg(), int64(1), 1).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec(balanceUpdate).
			WithArgs(int64(3000), sqlmock.AnyArg(), int64(2), 1).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectQuery(transferLogQuery).
			WithArgs(sqlmock.AnyArg(), int64(1), int64(2), amount, models.CreditTransfer, "top up", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(7, time.Now()))

		mock.ExpectCommit()

		record, err := service.Transfer(ctx, 1, 2, amount, models.CreditTransfer, "top up")
		assert.NoError(t, err)
		assert.Equal(t, int64(7), record.ID)
		assert.Equal(t, int64(1), record.FromUserID)
		assert.Equal(t, int64(2), record.ToUserID)
		assert.Equal(t, amount, record.Amount)
		assert.Equal(t, models.CreditTransfer, record.Kind)
		assert.NotEmpty(t, record.TransactionID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("debit transfer moves money from target to actor", func(t *testing.T) {
		amount := int64(500)

		mock.ExpectQuery(parentQuery).WithArgs(int64(2)).WillReturnRows(parentRow(1))

		mock.ExpectBegin()

		// locks are ordered by id regardless of direction
		mock.ExpectQuery(lockQuery).WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "balance", "version"}).AddRow(1, 5000, 3))
		mock.ExpectQuery(lockQuery).WithArgs(int64(2)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "balance", "version"}).AddRow(2, 2000, 2))

		mock.ExpectExec(ledgerInsert).
			WithArgs(sqlmock.AnyArg(), int64(2), -amount, "DEBIT", int64(1500), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec(ledgerInsert).
			WithArgs(sqlmock.AnyArg(), int64(1), amount, "CREDIT", int64(5500), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(2, 1))

		mock.ExpectExec(balanceUpdate).
			WithArgs(int64(1500), sqlmock.AnyArg(), int64(2), 2).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec(balanceUpdate).
			WithArgs(int64(5500), sqlmock.AnyArg(), int64(1), 3).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectQuery(transferLogQuery).
			WithArgs(sqlmock.AnyArg(), int64(2), int64(1), amount, models.DebitTransfer, "", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(8, time.Now()))

		mock.ExpectCommit()

		record, err := service.Transfer(ctx, 1, 2, amount, models.DebitTransfer, "")
		assert.NoError(t, err)
		assert.Equal(t, int64(2), record.FromUserID)
		assert.Equal(t, int64(1), record.ToUserID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient balance rolls back without a record", func(t *testing.T) {
		mock.ExpectQuery(parentQuery).WithArgs(int64(2)).WillReturnRows(parentRow(1))

		mock.ExpectBegin()

		mock.ExpectQuery(lockQuery).WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "balance", "version"}).AddRow(1, 5000, 1))
		mock.ExpectQuery(lockQuery).WithArgs(int64(2)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "balance", "version"}).AddRow(2, 2000, 1))

		mock.ExpectRollback()

		record, err := service.Transfer(ctx, 1, 2, 6000, models.CreditTransfer, "")
		assert.ErrorIs(t, err, ErrInsufficientBalance)
		assert.Nil(t, record)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unauthorized when actor is not an ancestor", func(t *testing.T) {
		// target 2 is a root; no transaction is even opened
		mock.ExpectQuery(parentQuery).WithArgs(int64(2)).WillReturnRows(parentRow(2))

		record, err := service.Transfer(ctx, 1, 2, 100, models.CreditTransfer, "")
		assert.ErrorIs(t, err, ErrUnauthorized)
		assert.Nil(t, record)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid amount", func(t *testing.T) {
		record, err := service.Transfer(ctx, 1, 2, 0, models.CreditTransfer, "")
		assert.ErrorIs(t, err, ErrInvalidAmount)
		assert.Nil(t, record)

		record, err = service.Transfer(ctx, 1, 2, -5, models.CreditTransfer, "")
		assert.ErrorIs(t, err, ErrInvalidAmount)
		assert.Nil(t, record)
	})

	t.Run("missing account", func(t *testing.T) {
		mock.ExpectQuery(parentQuery).WithArgs(int64(2)).WillReturnRows(parentRow(1))

		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).WithArgs(int64(1)).WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		record, err := service.Transfer(ctx, 1, 2, 100, models.CreditTransfer, "")
		assert.ErrorIs(t, err, ErrAccountNotFound)
		assert.Nil(t, record)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWalletService_Balance(t *testing.T) {
	service, mock, closeDB := newWalletService(t)
	defer closeDB()

	t.Run("existing account", func(t *testing.T) {
		mock.ExpectQuery("SELECT balance FROM accounts WHERE id = \\$1").
			WithArgs(int64(4)).
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(1234))

		balance, err := service.Balance(context.Background(), 4)
		assert.NoError(t, err)
		assert.Equal(t, int64(1234), balance)
	})

	t.Run("missing account", func(t *testing.T) {
		mock.ExpectQuery("SELECT balance FROM accounts WHERE id = \\$1").
			WithArgs(int64(99)).
			WillReturnError(sql.ErrNoRows)

		_, err := service.Balance(context.Background(), 99)
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})
}

func TestWalletService_TransferHistory(t *testing.T) {
	service, mock, closeDB := newWalletService(t)
	defer closeDB()

	mock.ExpectQuery("SELECT id, transaction_id, from_user_id, to_user_id, amount, kind, note, created_at FROM transfer_logs").
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "transaction_id", "from_user_id", "to_user_id", "amount", "kind", "note", "created_at"}).
			AddRow(9, "tx-9", 1, 2, 1000, models.CreditTransfer, "", time.Now()).
			AddRow(8, "tx-8", 2, 1, 300, models.DebitTransfer, "payout", time.Now()))

	records, err := service.TransferHistory(context.Background(), 2)
	assert.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Equal(t, int64(9), records[0].ID)
	assert.Equal(t, "payout", records[1].Note)
}
