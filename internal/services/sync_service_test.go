package services

import (
	"bytes"
	"context"
	"database/sql"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

const (
	handleLookup  = "SELECT id FROM accounts WHERE user_name = \\$1"
	parentExists  = "SELECT EXISTS"
	accountInsert = "INSERT INTO accounts"
	edgeInsert    = "INSERT INTO tree_edges"
	seqAdvance    = "SELECT setval\\('accounts_id_seq', \\(SELECT MAX\\(id\\) FROM accounts\\)\\)"
)

func newSyncTest(t *testing.T, payload string, status int) (*SyncService, sqlmock.Sqlmock, func()) {
	t.Helper()

	db, mock, err := sqlmock.New()
	assert.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(payload))
	}))

	viper.Set("sync.source_url", srv.URL)
	viper.Set("sync.batch_size", 2)
	viper.Set("sync.fetch_retries", 1)
	viper.Set("sync.default_password", "testpass123")
	viper.Set("argon2.salt_length", 16)
	viper.Set("argon2.time", 1)
	viper.Set("argon2.memory", 8*1024)
	viper.Set("argon2.threads", 1)
	viper.Set("argon2.key_length", 32)

	service := NewSyncService(db)
	return service, mock, func() {
		srv.Close()
		db.Close()
	}
}

func expectCreated(mock sqlmock.Sqlmock, userName string, checkParent bool) {
	mock.ExpectQuery(handleLookup).WithArgs(userName).WillReturnError(sql.ErrNoRows)
	if checkParent {
		mock.ExpectQuery(parentExists).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	}
	mock.ExpectBegin()
	mock.ExpectExec(accountInsert).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(edgeInsert).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
}

func TestSyncService_Run(t *testing.T) {
	ctx := context.Background()

	t.Run("child before parent in remote order still reconciles", func(t *testing.T) {
		// remote order is child first; parentless records must win the sort
		payload := `{"data": [
			{"id": 2, "user_name": "P10000001", "name": "Player One", "agent_id": 1},
			{"id": 1, "user_name": "O10000001", "name": "Owner One"}
		]}`
		service, mock, cleanup := newSyncTest(t, payload, http.StatusOK)
		defer cleanup()

		expectCreated(mock, "O10000001", false)
		expectCreated(mock, "P10000001", true)
		mock.ExpectExec(seqAdvance).WillReturnResult(sqlmock.NewResult(0, 1))

		report, err := service.Run(ctx)
		assert.NoError(t, err)
		assert.Equal(t, 2, report.Created)
		assert.Equal(t, 0, report.Skipped)
		assert.Equal(t, 0, report.Failed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("second run is idempotent", func(t *testing.T) {
		payload := `{"data": [
			{"id": 1, "user_name": "O10000001", "name": "Owner One"},
			{"id": 2, "user_name": "P10000001", "name": "Player One", "agent_id": 1}
		]}`
		service, mock, cleanup := newSyncTest(t, payload, http.StatusOK)
		defer cleanup()

		mock.ExpectQuery(handleLookup).WithArgs("O10000001").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
		mock.ExpectQuery(handleLookup).WithArgs("P10000001").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))

		report, err := service.Run(ctx)
		assert.NoError(t, err)
		assert.Equal(t, 0, report.Created)
		assert.Equal(t, 2, report.Skipped)
		assert.Equal(t, 0, report.Failed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty data is a successful no-op", func(t *testing.T) {
		service, mock, cleanup := newSyncTest(t, `{"data": []}`, http.StatusOK)
		defer cleanup()

		report, err := service.Run(ctx)
		assert.NoError(t, err)
		assert.Equal(t, 0, report.Created)
		assert.Equal(t, 0, report.Failed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing data field aborts before any mutation", func(t *testing.T) {
		service, mock, cleanup := newSyncTest(t, `{"status": "ok"}`, http.StatusOK)
		defer cleanup()

		report, err := service.Run(ctx)
		assert.ErrorIs(t, err, ErrRemoteFetchFailed)
		assert.Nil(t, report)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("http 500 aborts before any mutation", func(t *testing.T) {
		service, mock, cleanup := newSyncTest(t, `oops`, http.StatusInternalServerError)
		defer cleanup()

		report, err := service.Run(ctx)
		assert.ErrorIs(t, err, ErrRemoteFetchFailed)
		assert.Nil(t, report)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("orphan parent reference is rejected per record", func(t *testing.T) {
		payload := `{"data": [
			{"id": 5, "user_name": "P10000005", "name": "Orphan", "agent_id": 99}
		]}`
		service, mock, cleanup := newSyncTest(t, payload, http.StatusOK)
		defer cleanup()

		mock.ExpectQuery(handleLookup).WithArgs("P10000005").WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery(parentExists).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		report, err := service.Run(ctx)
		assert.NoError(t, err)
		assert.Equal(t, 0, report.Created)
		assert.Equal(t, 1, report.Failed)
		assert.Len(t, report.Failures, 1)
		assert.Equal(t, "P10000005", report.Failures[0].UserName)
		assert.Contains(t, report.Failures[0].Reason, "agent 99")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("records are processed in observable batches", func(t *testing.T) {
		// batch size is 2, so three records make two batches
		payload := `{"data": [
			{"id": 1, "user_name": "O10000001", "name": "Owner One"},
			{"id": 3, "user_name": "O10000003", "name": "Owner Three"},
			{"id": 4, "user_name": "O10000004", "name": "Owner Four"}
		]}`
		service, mock, cleanup := newSyncTest(t, payload, http.StatusOK)
		defer cleanup()

		var logs bytes.Buffer
		log.SetOutput(&logs)
		defer log.SetOutput(os.Stderr)

		expectCreated(mock, "O10000001", false)
		expectCreated(mock, "O10000003", false)
		expectCreated(mock, "O10000004", false)
		mock.ExpectExec(seqAdvance).WillReturnResult(sqlmock.NewResult(0, 1))

		report, err := service.Run(ctx)
		assert.NoError(t, err)
		assert.Equal(t, 3, report.Created)
		assert.Contains(t, logs.String(), "Batch 1/2: 2 records")
		assert.Contains(t, logs.String(), "Batch 2/2: 1 records")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("one bad record does not abort the rest", func(t *testing.T) {
		payload := `{"data": [
			{"id": 1, "user_name": "O10000001", "name": "Owner One"},
			{"id": 3, "user_name": "O10000003", "name": "Owner Three"}
		]}`
		service, mock, cleanup := newSyncTest(t, payload, http.StatusOK)
		defer cleanup()

		mock.ExpectQuery(handleLookup).WithArgs("O10000001").WillReturnError(sql.ErrNoRows)
		mock.ExpectBegin()
		mock.ExpectExec(accountInsert).WillReturnError(sql.ErrConnDone)
		mock.ExpectRollback()

		expectCreated(mock, "O10000003", false)
		mock.ExpectExec(seqAdvance).WillReturnResult(sqlmock.NewResult(0, 1))

		report, err := service.Run(ctx)
		assert.NoError(t, err)
		assert.Equal(t, 1, report.Created)
		assert.Equal(t, 1, report.Failed)
		assert.Equal(t, "O10000001", report.Failures[0].UserName)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

}

func TestFetchBackoff(t *testing.T) {
	base := 100 * time.Millisecond
	max := 800 * time.Millisecond

	for attempt := 1; attempt <= 6; attempt++ {
		delay := fetchBackoff(attempt, base, max)
		assert.GreaterOrEqual(t, delay, time.Duration(0))
		// cap plus jitter headroom
		assert.LessOrEqual(t, delay, max+max/8)
	}

	assert.Equal(t, time.Duration(0), fetchBackoff(0, base, max))
}
