package models

// RemoteUser is one element of the upstream platform's user export.
// Field names follow the remote JSON envelope verbatim.
type RemoteUser struct {
	ID                int64  `json:"id"`
	UserName          string `json:"user_name"`
	Name              string `json:"name"`
	Phone             string `json:"phone"`
	Email             string `json:"email"`
	EmailVerifiedAt   string `json:"email_verified_at"`
	Profile           string `json:"profile"`
	MaxScore          int64  `json:"max_score"`
	Status            int    `json:"status"`
	IsChangedPassword int    `json:"is_changed_password"`
	AgentID           *int64 `json:"agent_id"`
	Type              *int   `json:"type"`
	ParentType        *int   `json:"parent_type"`
	PaymentTypeID     *int64 `json:"payment_type_id"`
	AgentLogo         string `json:"agent_logo"`
	AccountName       string `json:"account_name"`
	AccountNumber     string `json:"account_number"`
	LineID            string `json:"line_id"`
	Commission        string `json:"commission"`
	ReferralCode      string `json:"referral_code"`
	CreatedAt         string `json:"created_at"`
	UpdatedAt         string `json:"updated_at"`
}

// RecordFailure identifies one remote record the sync could not apply.
type RecordFailure struct {
	UserName string `json:"user_name"`
	Reason   string `json:"reason"`
}

// SyncReport aggregates the outcome of one reconciliation run.
type SyncReport struct {
	Created  int             `json:"created"`
	Skipped  int             `json:"skipped"`
	Failed   int             `json:"failed"`
	Failures []RecordFailure `json:"failures,omitempty"`
}
