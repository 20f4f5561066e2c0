// Package model defines the store-facing records shared across the engine
// host. Amounts are 256-bit unsigned integers rendered as decimal strings
// for JSON and NUMERIC columns, never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Journal operation kinds. Entries are immutable: once written they are
// never modified or deleted.
const (
	OpDeposit    = "DEPOSIT"
	OpWithdraw   = "WITHDRAW"
	OpAccrue     = "ACCRUE"
	OpFundReward = "FUND_REWARD"
	OpClaim      = "CLAIM"
	OpCreate     = "CREATE_POSITION"
	OpUnlock     = "UNLOCK"
	OpSettle     = "SETTLE"
	OpCancel     = "CANCEL"
)

// JournalEntry is one immutable record of an engine mutation.
type JournalEntry struct {
	ID         string          `json:"id" db:"id"`
	PoolID     string          `json:"pool_id" db:"pool_id"`
	Account    string          `json:"account" db:"account"`
	PositionID string          `json:"position_id,omitempty" db:"position_id"`
	Op         string          `json:"op" db:"op"`
	Amount     string          `json:"amount" db:"amount"` // underlying units moved
	Shares     string          `json:"shares" db:"shares"` // shares issued or redeemed
	SharePrice decimal.Decimal `json:"share_price" db:"share_price"`
	Timestamp  time.Time       `json:"timestamp" db:"timestamp"`
}

// PoolSnapshot is the persisted view of one pool's counters after a
// mutation. The engine state is authoritative; snapshots exist for
// queries, restarts, and audit.
type PoolSnapshot struct {
	ID             string          `json:"id" db:"id"`
	Asset          string          `json:"asset" db:"asset"`
	Account        string          `json:"account" db:"account"`
	Policy         string          `json:"policy" db:"policy"` // "none", "linear", "reward"
	TotalShares    string          `json:"total_shares" db:"total_shares"`
	TotalPrincipal string          `json:"total_principal" db:"total_principal"`
	Valuation      string          `json:"valuation" db:"valuation"`
	SharePrice     decimal.Decimal `json:"share_price" db:"share_price"`
	Paused         bool            `json:"paused" db:"paused"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// PositionRecord is the persisted view of one position.
type PositionRecord struct {
	ID           string    `json:"id" db:"id"`
	PoolID       string    `json:"pool_id" db:"pool_id"`
	Owner        string    `json:"owner" db:"owner"`
	ShareBalance string    `json:"share_balance" db:"share_balance"`
	Collateral   string    `json:"collateral" db:"collateral"`
	Obligation   string    `json:"obligation" db:"obligation"`
	State        string    `json:"state" db:"state"`
	Expiry       uint64    `json:"expiry,omitempty" db:"expiry"`
	Counterparty string    `json:"counterparty,omitempty" db:"counterparty"`
	Parent       string    `json:"parent,omitempty" db:"parent"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}
