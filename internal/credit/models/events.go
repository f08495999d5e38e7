package models

import (
	"time"

	id "credits/pkg/domain"
)

// Event topics published by the ledger.
const (
	TopicAllocated    = "credit.allocated"
	TopicConsumed     = "credit.consumed"
	TopicExpired      = "credit.expired"
	TopicTransferred  = "credit.transferred"
	TopicExpiringSoon = "credit.expiring_soon"
)

// AllTopics is used to bootstrap broker topics.
var AllTopics = []string{TopicAllocated, TopicConsumed, TopicExpired, TopicTransferred, TopicExpiringSoon}

// AllocatedEvent is published after a successful allocation.
type AllocatedEvent struct {
	UserID       id.UserID       `json:"user_id"`
	AccountID    id.AccountID    `json:"account_id"`
	AllocationID id.AllocationID `json:"allocation_id"`
	CreditType   CreditType      `json:"credit_type"`
	Amount       int64           `json:"amount"`
	CampaignID   *id.CampaignID  `json:"campaign_id,omitempty"`
	ExpiresAt    *time.Time      `json:"expires_at,omitempty"`
	BalanceAfter int64           `json:"balance_after"`
	OccurredAt   time.Time       `json:"occurred_at"`
}

// ConsumedLine is one account/allocation draw inside a ConsumedEvent.
type ConsumedLine struct {
	TransactionID id.TransactionID `json:"transaction_id"`
	AccountID     id.AccountID     `json:"account_id"`
	AllocationID  *id.AllocationID `json:"allocation_id,omitempty"`
	CreditType    CreditType       `json:"credit_type"`
	Amount        int64            `json:"amount"`
}

// ConsumedEvent summarises one consumption operation.
type ConsumedEvent struct {
	UserID           id.UserID      `json:"user_id"`
	Amount           int64          `json:"amount"`
	BillingReference string         `json:"billing_reference,omitempty"`
	Lines            []ConsumedLine `json:"lines"`
	OccurredAt       time.Time      `json:"occurred_at"`
}

// ExpiredEvent is published per expired allocation.
type ExpiredEvent struct {
	UserID       id.UserID       `json:"user_id"`
	AccountID    id.AccountID    `json:"account_id"`
	AllocationID id.AllocationID `json:"allocation_id"`
	CreditType   CreditType      `json:"credit_type"`
	Amount       int64           `json:"amount"`
	Debited      int64           `json:"debited"`
	OccurredAt   time.Time       `json:"occurred_at"`
}

// TransferredEvent is published after a completed transfer.
type TransferredEvent struct {
	TransferID id.TransferID `json:"transfer_id"`
	FromUserID id.UserID     `json:"from_user_id"`
	ToUserID   id.UserID     `json:"to_user_id"`
	CreditType CreditType    `json:"credit_type"`
	Amount     int64         `json:"amount"`
	Note       string        `json:"note,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// ExpiringAllocation is one entry in an ExpiringSoonEvent.
type ExpiringAllocation struct {
	AllocationID id.AllocationID `json:"allocation_id"`
	CreditType   CreditType      `json:"credit_type"`
	Amount       int64           `json:"amount"`
	ExpiresAt    time.Time       `json:"expires_at"`
}

// ExpiringSoonEvent warns a user about credits expiring within the window.
type ExpiringSoonEvent struct {
	UserID      id.UserID            `json:"user_id"`
	Total       int64                `json:"total"`
	Allocations []ExpiringAllocation `json:"allocations"`
	WindowDays  int                  `json:"window_days"`
	OccurredAt  time.Time            `json:"occurred_at"`
}

// EventKey returns the partition key of an event so that one user's events stay ordered.
func (e AllocatedEvent) EventKey() string    { return e.UserID.String() }
func (e ConsumedEvent) EventKey() string     { return e.UserID.String() }
func (e ExpiredEvent) EventKey() string      { return e.UserID.String() }
func (e TransferredEvent) EventKey() string  { return e.FromUserID.String() }
func (e ExpiringSoonEvent) EventKey() string { return e.UserID.String() }
