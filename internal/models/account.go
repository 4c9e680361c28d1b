package models

import "time"

// Account roles within the agent hierarchy.
const (
	RoleOwner  = "owner"
	RoleAgent  = "agent"
	RolePlayer = "player"
)

// Account statuses.
const (
	StatusBanned = 0
	StatusActive = 1
)

type Account struct {
	ID                int64      `json:"id" db:"id"`
	UserName          string     `json:"user_name" db:"user_name"` // unique login handle
	Name              string     `json:"name" db:"name"`
	Phone             string     `json:"phone" db:"phone"`
	Email             string     `json:"email" db:"email"`
	EmailVerifiedAt   *time.Time `json:"email_verified_at,omitempty" db:"email_verified_at"`
	Profile           string     `json:"profile" db:"profile"`
	MaxScore          int64      `json:"max_score" db:"max_score"`
	Status            int        `json:"status" db:"status"` // 1 active, 0 banned
	Role              string     `json:"role" db:"role"`
	AgentID           *int64     `json:"agent_id,omitempty" db:"agent_id"` // provisioning parent
	PaymentTypeID     *int64     `json:"payment_type_id,omitempty" db:"payment_type_id"`
	AgentLogo         string     `json:"agent_logo" db:"agent_logo"`
	AccountName       string     `json:"account_name" db:"account_name"`
	AccountNumber     string     `json:"account_number" db:"account_number"`
	LineID            string     `json:"line_id" db:"line_id"`
	Commission        string     `json:"commission" db:"commission"`
	ReferralCode      string     `json:"referral_code" db:"referral_code"`
	IsChangedPassword int        `json:"is_changed_password" db:"is_changed_password"`
	Balance           int64      `json:"balance" db:"balance"` // in minor units
	Version           int        `json:"-" db:"version"`       // for optimistic locking
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}
