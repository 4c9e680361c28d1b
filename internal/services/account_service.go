package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"log"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/agdash/backend/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/lib/pq"
	"github.com/skip2/go-qrcode"
	"github.com/spf13/viper"
)

// AccountService provisions hierarchy nodes and exposes the operations a
// parent may perform on its descendants: transfers, bans, password resets
// and transfer history.
type AccountService struct {
	db        *sql.DB
	wallet    *WalletService
	hierarchy *HierarchyService
	redis     *redis.Client
	validator *ValidationHelper
}

func NewAccountService(db *sql.DB, wallet *WalletService, hierarchy *HierarchyService, redisClient *redis.Client) *AccountService {
	return &AccountService{
		db:        db,
		wallet:    wallet,
		hierarchy: hierarchy,
		redis:     redisClient,
		validator: NewValidationHelper(),
	}
}

// PrepareRequest asks for a generated login handle for a new node.
type PrepareRequest struct {
	Role string `json:"role" validate:"required,oneof=owner agent player"`
}

// CreateAccountRequest provisions a new child node. UserName carries the
// handle returned by the prepare step back explicitly.
type CreateAccountRequest struct {
	UserName string `json:"user_name" validate:"required,min=4,max=32"`
	Name     string `json:"name" validate:"required,min=2,max=255"`
	Password string `json:"password" validate:"required,min=6"`
	Role     string `json:"role" validate:"required,oneof=owner agent player"`
	Phone    string `json:"phone" validate:"omitempty,min=7,max=15"`
	Amount   int64  `json:"amount" validate:"gte=0"` // optional initial credit
	Note     string `json:"note" validate:"max=255"`
}

// TransferRequest is the cash-in / cash-out payload.
type TransferRequest struct {
	Amount int64  `json:"amount" validate:"required,gt=0"`
	Note   string `json:"note" validate:"max=255"`
}

// ChangePasswordRequest resets a descendant's password.
type ChangePasswordRequest struct {
	Password string `json:"password" validate:"required,min=6"`
}

var handlePrefixes = map[string]byte{
	models.RoleOwner:  'O',
	models.RoleAgent:  'A',
	models.RolePlayer: 'P',
}

func generateHandle(role string) string {
	prefix, ok := handlePrefixes[role]
	if !ok {
		prefix = 'P'
	}
	return fmt.Sprintf("%c%08d", prefix, 10000000+rand.Intn(90000000))
}

// PrepareAccount generates a login handle for a new node
// @Summary Prepare account creation
// @Description Generate a login handle; the client sends it back in the create payload
// @Tags accounts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body PrepareRequest true "Prepare request"
// @Success 200 {object} object{user_name=string}
// @Failure 400 {object} ErrorResponse
// @Router /accounts/prepare [post]
func (s *AccountService) PrepareAccount(w http.ResponseWriter, r *http.Request) {
	var req PrepareRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"user_name": generateHandle(req.Role)})
}

// CreateAccount provisions a child node under the acting account
// @Summary Create account
// @Description Create a child account and its tree edge, with an optional initial credit
// @Tags accounts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CreateAccountRequest true "Create request"
// @Success 201 {object} models.Account
// @Failure 400 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /accounts [post]
func (s *AccountService) CreateAccount(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorFromContext(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req CreateAccountRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	if req.Amount > 0 {
		balance, err := s.wallet.Balance(r.Context(), actorID)
		if err != nil {
			SendErrorResponse(w, "Failed to check balance", http.StatusInternalServerError, nil)
			return
		}
		if balance < req.Amount {
			SendErrorResponse(w, "Insufficient balance for transfer", http.StatusUnprocessableEntity, nil)
			return
		}
	}

	hashed, err := hashPassword(req.Password)
	if err != nil {
		log.Printf("[ACCOUNT] Password hashing failed: %v", err)
		SendErrorResponse(w, "Failed to create account", http.StatusInternalServerError, nil)
		return
	}

	tx, err := s.db.BeginTx(r.Context(), nil)
	if err != nil {
		SendErrorResponse(w, "Failed to create account", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	var account models.Account
	err = tx.QueryRowContext(r.Context(), `
		INSERT INTO accounts (user_name, name, phone, role, agent_id, password, status)
		VALUES ($1, $2, $3, $4, $5, $6, 1)
		RETURNING id, user_name, name, phone, role, status, balance, created_at, updated_at`,
		req.UserName, req.Name, req.Phone, req.Role, actorID, hashed).
		Scan(&account.ID, &account.UserName, &account.Name, &account.Phone, &account.Role,
			&account.Status, &account.Balance, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		log.Printf("[ACCOUNT] Account creation failed for %s: %v", req.UserName, err)
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			SendErrorResponse(w, "Handle already exists", http.StatusConflict, nil)
			return
		}
		SendErrorResponse(w, "Failed to create account", http.StatusInternalServerError, nil)
		return
	}
	account.AgentID = &actorID

	_, err = tx.ExecContext(r.Context(), `
		INSERT INTO tree_edges (user_id, parent_id, type, parent_type)
		VALUES ($1, $2, 0, 0)`,
		account.ID, actorID)
	if err != nil {
		log.Printf("[ACCOUNT] Tree edge creation failed for %d: %v", account.ID, err)
		SendErrorResponse(w, "Failed to create account", http.StatusInternalServerError, nil)
		return
	}

	if err := tx.Commit(); err != nil {
		SendErrorResponse(w, "Failed to create account", http.StatusInternalServerError, nil)
		return
	}

	if req.Amount > 0 {
		if _, err := s.wallet.Transfer(r.Context(), actorID, account.ID, req.Amount, models.CreditTransfer, req.Note); err != nil {
			log.Printf("[ACCOUNT] Initial credit failed for %d: %v", account.ID, err)
			SendErrorResponse(w, "Account created but initial transfer failed", s.transferStatus(err), nil)
			return
		}
		account.Balance = req.Amount
	}

	log.Printf("[ACCOUNT] Created %s account %s (ID %d) under %d", req.Role, req.UserName, account.ID, actorID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(account)
}

// CashIn credits a descendant from the acting account
// @Summary Cash in
// @Description Transfer funds from the acting account to a descendant
// @Tags accounts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Target account ID"
// @Param request body TransferRequest true "Transfer request"
// @Success 200 {object} models.TransferRecord
// @Failure 403 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /accounts/{id}/cash-in [post]
func (s *AccountService) CashIn(w http.ResponseWriter, r *http.Request) {
	s.makeTransfer(w, r, models.CreditTransfer)
}

// CashOut debits a descendant back to the acting account
// @Summary Cash out
// @Description Transfer funds from a descendant back to the acting account
// @Tags accounts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Target account ID"
// @Param request body TransferRequest true "Transfer request"
// @Success 200 {object} models.TransferRecord
// @Failure 403 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /accounts/{id}/cash-out [post]
func (s *AccountService) CashOut(w http.ResponseWriter, r *http.Request) {
	s.makeTransfer(w, r, models.DebitTransfer)
}

func (s *AccountService) makeTransfer(w http.ResponseWriter, r *http.Request, kind string) {
	actorID, ok := actorFromContext(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	targetID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid account id", http.StatusBadRequest, nil)
		return
	}

	var req TransferRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	record, err := s.wallet.Transfer(r.Context(), actorID, targetID, req.Amount, kind, req.Note)
	if err != nil {
		log.Printf("[WALLET] Transfer %s %d -> %d failed: %v", kind, actorID, targetID, err)
		SendErrorResponse(w, err.Error(), s.transferStatus(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(record)
}

// ListTransfers returns the transfer history of a descendant
// @Summary Transfer history
// @Description List transfer log entries where the account is source or destination
// @Tags accounts
// @Produce json
// @Security BearerAuth
// @Param id path int true "Account ID"
// @Success 200 {array} models.TransferRecord
// @Failure 403 {object} ErrorResponse
// @Router /accounts/{id}/transfers [get]
func (s *AccountService) ListTransfers(w http.ResponseWriter, r *http.Request) {
	_, targetID, ok := s.authorizeDescendant(w, r)
	if !ok {
		return
	}

	records, err := s.wallet.TransferHistory(r.Context(), targetID)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch transfers", http.StatusInternalServerError, nil)
		return
	}
	if records == nil {
		records = []models.TransferRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}

// BanAccount toggles the active status of a descendant
// @Summary Ban or unban account
// @Description Toggle a descendant's active status
// @Tags accounts
// @Produce json
// @Security BearerAuth
// @Param id path int true "Account ID"
// @Success 200 {object} object{id=int64,status=int}
// @Failure 403 {object} ErrorResponse
// @Router /accounts/{id}/ban [put]
func (s *AccountService) BanAccount(w http.ResponseWriter, r *http.Request) {
	_, targetID, ok := s.authorizeDescendant(w, r)
	if !ok {
		return
	}

	var status int
	err := s.db.QueryRowContext(r.Context(), `
		UPDATE accounts
		SET status = 1 - status, updated_at = $1
		WHERE id = $2
		RETURNING status`,
		time.Now(), targetID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		} else {
			SendErrorResponse(w, "Failed to update status", http.StatusInternalServerError, nil)
		}
		return
	}

	log.Printf("[ACCOUNT] Account %d status set to %d", targetID, status)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"id": targetID, "status": status})
}

// ChangePassword resets a descendant's password
// @Summary Change password
// @Description Reset a descendant's password
// @Tags accounts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Account ID"
// @Param request body ChangePasswordRequest true "New password"
// @Success 200 {object} map[string]string
// @Failure 403 {object} ErrorResponse
// @Router /accounts/{id}/password [put]
func (s *AccountService) ChangePassword(w http.ResponseWriter, r *http.Request) {
	_, targetID, ok := s.authorizeDescendant(w, r)
	if !ok {
		return
	}

	var req ChangePasswordRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	hashed, err := hashPassword(req.Password)
	if err != nil {
		SendErrorResponse(w, "Failed to change password", http.StatusInternalServerError, nil)
		return
	}

	result, err := s.db.ExecContext(r.Context(), `
		UPDATE accounts
		SET password = $1, is_changed_password = 1, updated_at = $2
		WHERE id = $3`,
		hashed, time.Now(), targetID)
	if err != nil {
		SendErrorResponse(w, "Failed to change password", http.StatusInternalServerError, nil)
		return
	}
	if n, _ := result.RowsAffected(); n == 0 {
		SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Password changed successfully"})
}

// ListChildren returns the direct children of the acting account
// @Summary List children
// @Description List accounts provisioned directly under the acting account
// @Tags accounts
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.Account
// @Router /accounts [get]
func (s *AccountService) ListChildren(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorFromContext(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	rows, err := s.db.QueryContext(r.Context(), `
		SELECT id, user_name, name, phone, role, status, balance, created_at, updated_at
		FROM accounts
		WHERE agent_id = $1
		ORDER BY id DESC`, actorID)
	if err != nil {
		SendErrorResponse(w, "Failed to list accounts", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	accounts := []models.Account{}
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.ID, &a.UserName, &a.Name, &a.Phone, &a.Role, &a.Status, &a.Balance, &a.CreatedAt, &a.UpdatedAt); err != nil {
			SendErrorResponse(w, "Failed to list accounts", http.StatusInternalServerError, nil)
			return
		}
		accounts = append(accounts, a)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(accounts)
}

// ReferralQR returns a QR code image of the account's referral signup link
// @Summary Referral QR
// @Description Base64 PNG QR code of the account's referral signup link
// @Tags accounts
// @Produce json
// @Security BearerAuth
// @Param id path int true "Account ID"
// @Success 200 {object} object{referral_url=string,qr_image=string}
// @Failure 403 {object} ErrorResponse
// @Router /accounts/{id}/referral-qr [get]
func (s *AccountService) ReferralQR(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorFromContext(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	targetID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid account id", http.StatusBadRequest, nil)
		return
	}

	// An account may fetch its own QR; everything else needs ancestry.
	if targetID != actorID {
		ancestor, err := s.hierarchy.IsAncestor(r.Context(), actorID, targetID)
		if err != nil || !ancestor {
			SendErrorResponse(w, "You cannot access this account", http.StatusForbidden, nil)
			return
		}
	}

	var referralCode string
	err = s.db.QueryRowContext(r.Context(),
		"SELECT referral_code FROM accounts WHERE id = $1", targetID).Scan(&referralCode)
	if err != nil {
		SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		return
	}

	viper.SetDefault("app.referral_base_url", "https://agdashboard.pro/register?ref=")
	referralURL := viper.GetString("app.referral_base_url") + referralCode

	qrImage, err := s.referralQRImage(r.Context(), targetID, referralURL)
	if err != nil {
		SendErrorResponse(w, "Failed to generate QR code", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"referral_url": referralURL,
		"qr_image":     qrImage,
	})
}

func (s *AccountService) referralQRImage(ctx context.Context, accountID int64, referralURL string) (string, error) {
	key := fmt.Sprintf("referral_qr:%d", accountID)
	if s.redis != nil {
		if cached, err := s.redis.Get(ctx, key).Result(); err == nil {
			return cached, nil
		}
	}

	qr, err := qrcode.New(referralURL, qrcode.Medium)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", err
	}
	encoded := base64.StdEncoding.EncodeToString(buf.Bytes())

	if s.redis != nil {
		s.redis.Set(ctx, key, encoded, time.Hour)
	}
	return encoded, nil
}

// authorizeDescendant resolves the path id and requires the acting account
// to be a strict ancestor of it.
func (s *AccountService) authorizeDescendant(w http.ResponseWriter, r *http.Request) (actorID, targetID int64, ok bool) {
	actorID, found := actorFromContext(r)
	if !found {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return 0, 0, false
	}

	targetID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid account id", http.StatusBadRequest, nil)
		return 0, 0, false
	}

	ancestor, err := s.hierarchy.IsAncestor(r.Context(), actorID, targetID)
	if err != nil {
		log.Printf("[ACCOUNT] Ancestry check failed for %d -> %d: %v", actorID, targetID, err)
		SendErrorResponse(w, "Hierarchy check failed", http.StatusInternalServerError, nil)
		return 0, 0, false
	}
	if !ancestor {
		SendErrorResponse(w, "You cannot access this account", http.StatusForbidden, nil)
		return 0, 0, false
	}

	return actorID, targetID, true
}

func (s *AccountService) transferStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *AccountService) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}

	if err := s.validator.ValidateStruct(dst); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return false
	}

	return true
}

func actorFromContext(r *http.Request) (int64, bool) {
	id, ok := r.Context().Value("accountID").(int64)
	return id, ok
}
