package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/agdash/backend/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/spf13/viper"
)

var (
	ErrRemoteFetchFailed = errors.New("remote user fetch failed")
	ErrParentMissing     = errors.New("referenced agent does not exist locally")
)

var syncRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "user_sync_records_total",
	Help: "Reconciled remote user records by outcome.",
}, []string{"outcome"})

// SyncService pulls the full user list from the upstream platform and merges
// it into the local accounts and tree_edges tables. The merge is additive:
// records already present locally are never touched.
type SyncService struct {
	db              *sql.DB
	client          *http.Client
	sourceURL       string
	batchSize       int
	fetchRetries    int
	defaultPassword string
}

func NewSyncService(db *sql.DB) *SyncService {
	viper.SetDefault("sync.source_url", "https://agdashboard.pro/api/transferdata/getallusers")
	viper.SetDefault("sync.batch_size", 100)
	viper.SetDefault("sync.fetch_retries", 3)
	viper.SetDefault("sync.fetch_timeout", 30*time.Second)
	viper.SetDefault("sync.default_password", "delightmyanmar")

	return &SyncService{
		db:              db,
		client:          newSyncHTTPClient(viper.GetDuration("sync.fetch_timeout")),
		sourceURL:       viper.GetString("sync.source_url"),
		batchSize:       viper.GetInt("sync.batch_size"),
		fetchRetries:    viper.GetInt("sync.fetch_retries"),
		defaultPassword: viper.GetString("sync.default_password"),
	}
}

// newSyncHTTPClient builds a client with explicit transport deadlines so a
// stalled upstream can never hang a sync run.
func newSyncHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ResponseHeaderTimeout: 10 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}

type remoteEnvelope struct {
	Data []models.RemoteUser `json:"data"`
}

// Run fetches the remote user list and reconciles it. A fetch failure aborts
// before any local mutation; per-record failures are logged, counted and
// skipped. The run stops cleanly between records when ctx is cancelled.
func (s *SyncService) Run(ctx context.Context) (*models.SyncReport, error) {
	users, err := s.fetchRemoteUsers(ctx)
	if err != nil {
		return nil, err
	}

	// Accounts without a parent reference must land before the accounts
	// that reference them. Stable sort keeps the remote order within each
	// tier.
	sort.SliceStable(users, func(i, j int) bool {
		return users[i].AgentID == nil && users[j].AgentID != nil
	})

	report := &models.SyncReport{}
	totalBatches := (len(users) + s.batchSize - 1) / s.batchSize
	for start := 0; start < len(users); start += s.batchSize {
		end := start + s.batchSize
		if end > len(users) {
			end = len(users)
		}
		log.Printf("[SYNC] Batch %d/%d: %d records", start/s.batchSize+1, totalBatches, end-start)

		for i := start; i < end; i++ {
			if err := ctx.Err(); err != nil {
				return report, err
			}

			u := users[i]
			outcome, err := s.reconcileOne(ctx, &u)
			if err != nil {
				log.Printf("[SYNC] Error syncing user %s: %v", u.UserName, err)
				report.Failed++
				report.Failures = append(report.Failures, models.RecordFailure{
					UserName: u.UserName,
					Reason:   err.Error(),
				})
				syncRecordsTotal.WithLabelValues("failed").Inc()
				continue
			}

			switch outcome {
			case "created":
				report.Created++
			case "skipped":
				report.Skipped++
			}
			syncRecordsTotal.WithLabelValues(outcome).Inc()
		}
	}

	// Synced rows carry explicit remote ids that bypass the id sequence;
	// move it forward so locally provisioned accounts do not collide.
	if report.Created > 0 {
		if _, err := s.db.ExecContext(ctx,
			"SELECT setval('accounts_id_seq', (SELECT MAX(id) FROM accounts))"); err != nil {
			return report, fmt.Errorf("advancing accounts id sequence: %w", err)
		}
	}

	log.Printf("[SYNC] Run complete: %d created, %d skipped, %d failed", report.Created, report.Skipped, report.Failed)
	return report, nil
}

func (s *SyncService) fetchRemoteUsers(ctx context.Context) ([]models.RemoteUser, error) {
	var lastErr error
	for attempt := 1; attempt <= s.fetchRetries; attempt++ {
		users, retryable, err := s.fetchOnce(ctx)
		if err == nil {
			return users, nil
		}
		lastErr = err
		if !retryable || attempt == s.fetchRetries {
			break
		}

		delay := fetchBackoff(attempt, 500*time.Millisecond, 10*time.Second)
		log.Printf("[SYNC] Fetch attempt %d failed (%v), retrying in %s", attempt, err, delay)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("%w: %v", ErrRemoteFetchFailed, lastErr)
}

func (s *SyncService) fetchOnce(ctx context.Context) ([]models.RemoteUser, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.sourceURL, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, true, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var envelope remoteEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, true, fmt.Errorf("decoding payload: %w", err)
	}

	// A payload without a data field violates the source contract. An
	// empty array is a valid (if useless) response.
	if envelope.Data == nil {
		return nil, false, errors.New("payload has no data field")
	}

	return envelope.Data, false, nil
}

// fetchBackoff computes a jittered exponential delay for retry attempt n.
func fetchBackoff(attempt int, base, max time.Duration) time.Duration {
	if attempt <= 0 {
		return 0
	}

	delay := base * time.Duration(math.Pow(2, float64(attempt-1)))
	if delay > max {
		delay = max
	}
	// +-12.5% jitter to avoid synchronized retries
	jitter := time.Duration(rand.Int63n(int64(delay/4+1))) - delay/8
	return delay + jitter
}

func (s *SyncService) reconcileOne(ctx context.Context, u *models.RemoteUser) (string, error) {
	var existingID int64
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM accounts WHERE user_name = $1", u.UserName).Scan(&existingID)
	if err == nil {
		// Additive-only: never overwrite a local record.
		return "skipped", nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}

	if u.AgentID != nil {
		var exists bool
		err := s.db.QueryRowContext(ctx,
			"SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)", *u.AgentID).Scan(&exists)
		if err != nil {
			return "", err
		}
		if !exists {
			return "", fmt.Errorf("%w: agent %d for user %s", ErrParentMissing, *u.AgentID, u.UserName)
		}
	}

	hashed, err := hashPassword(s.defaultPassword)
	if err != nil {
		return "", err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO accounts (id, user_name, name, phone, email, email_verified_at, profile, max_score,
			status, role, agent_id, payment_type_id, agent_logo, account_name, account_number,
			line_id, commission, referral_code, is_changed_password, password, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`,
		u.ID, u.UserName, u.Name, u.Phone, u.Email, parseRemoteTime(u.EmailVerifiedAt), u.Profile, u.MaxScore,
		u.Status, remoteRole(u), u.AgentID, u.PaymentTypeID, u.AgentLogo, u.AccountName, u.AccountNumber,
		u.LineID, u.Commission, u.ReferralCode, u.IsChangedPassword, hashed,
		parseRemoteTimeOr(u.CreatedAt, time.Now()), parseRemoteTimeOr(u.UpdatedAt, time.Now()))
	if err != nil {
		return "", err
	}

	parentID := u.ID
	if u.AgentID != nil {
		parentID = *u.AgentID
	}
	nodeType, parentType := 0, 0
	if u.Type != nil {
		nodeType = *u.Type
	}
	if u.ParentType != nil {
		parentType = *u.ParentType
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tree_edges (user_id, parent_id, type, parent_type)
		VALUES ($1, $2, $3, $4)`,
		u.ID, parentID, nodeType, parentType)
	if err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}

	return "created", nil
}

// remoteRole maps a remote record to a local role tag. The upstream export
// does not carry roles explicitly; parentless records are the tree roots.
func remoteRole(u *models.RemoteUser) string {
	if u.AgentID == nil {
		return models.RoleOwner
	}
	return models.RolePlayer
}

var remoteTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
}

func parseRemoteTime(value string) *time.Time {
	if value == "" {
		return nil
	}
	for _, layout := range remoteTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return &t
		}
	}
	return nil
}

func parseRemoteTimeOr(value string, fallback time.Time) time.Time {
	if t := parseRemoteTime(value); t != nil {
		return *t
	}
	return fallback
}
