// Package ports defines the interfaces the credit service depends on.
// Stores, the event bus and the user directory are injected through these so the
// service can run against the in-memory store in tests and Postgres in production.
package ports

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks EventPublisher,UserDirectory,EligibilityChecker

import (
	"context"
	"log/slog"
	"time"

	"credits/internal/credit/models"
	id "credits/pkg/domain"
	"credits/pkg/requestcontext"
)

// AccountStore persists credit accounts.
type AccountStore interface {
	// CreateAccount inserts a new account. Returns sentinel.ErrConflict when the
	// (user, credit type) pair already exists.
	CreateAccount(ctx context.Context, account *models.CreditAccount) error
	GetAccountByID(ctx context.Context, accountID id.AccountID) (*models.CreditAccount, error)
	GetAccountByUserAndType(ctx context.Context, userID id.UserID, creditType models.CreditType) (*models.CreditAccount, error)
	ListAccountsForUser(ctx context.Context, userID id.UserID, filter models.AccountFilter) ([]*models.CreditAccount, error)

	// UpdateAccountBalance applies delta to the balance and to the counter that
	// matches txType in one conditional write. It returns false without writing
	// when the resulting balance would be negative.
	UpdateAccountBalance(ctx context.Context, accountID id.AccountID, delta int64, txType models.TransactionType) (bool, error)
	SetAccountActive(ctx context.Context, accountID id.AccountID, active bool) error
}

// TransactionStore persists immutable ledger entries.
type TransactionStore interface {
	CreateTransaction(ctx context.Context, txn *models.CreditTransaction) error
	FindTransactionByIdempotencyKey(ctx context.Context, accountID id.AccountID, key string) (*models.CreditTransaction, error)
	ListTransactionsForUser(ctx context.Context, userID id.UserID, filter models.TransactionFilter) ([]*models.CreditTransaction, error)
}

// AllocationStore persists allocations and their consumed/expired counters.
type AllocationStore interface {
	CreateAllocation(ctx context.Context, allocation *models.CreditAllocation) error
	GetAllocationByID(ctx context.Context, allocationID id.AllocationID) (*models.CreditAllocation, error)
	FindAllocationByTransaction(ctx context.Context, txnID id.TransactionID) (*models.CreditAllocation, error)

	// GetAvailableAllocationsFifo returns allocations of the account with
	// available > 0 that have not expired at now.
	GetAvailableAllocationsFifo(ctx context.Context, accountID id.AccountID, now time.Time) ([]*models.CreditAllocation, error)

	// SumOpenAllocations returns the summed available amount of every allocation
	// of the account with available > 0, expired or not.
	SumOpenAllocations(ctx context.Context, accountID id.AccountID) (int64, error)

	// UpdateAllocationConsumed and UpdateAllocationExpired increment their counter
	// only when consumed + expired stays within the allocation amount.
	UpdateAllocationConsumed(ctx context.Context, allocationID id.AllocationID, amount int64) (bool, error)
	UpdateAllocationExpired(ctx context.Context, allocationID id.AllocationID, amount int64) (bool, error)

	// GetExpiringAllocations returns up to limit allocations with expires_at <= before
	// and available > 0, ordered by (expires_at, id). A non-nil after skips every
	// allocation up to and including the cursor position.
	GetExpiringAllocations(ctx context.Context, before time.Time, after *models.ExpiryCursor, limit int) ([]*models.CreditAllocation, error)

	// GetAllocationsExpiringBetween returns allocations with from < expires_at <= to
	// and available > 0.
	GetAllocationsExpiringBetween(ctx context.Context, from, to time.Time) ([]*models.CreditAllocation, error)
}

// CampaignStore persists campaigns and their budget counter.
type CampaignStore interface {
	CreateCampaign(ctx context.Context, campaign *models.CreditCampaign) error
	GetCampaignByID(ctx context.Context, campaignID id.CampaignID) (*models.CreditCampaign, error)

	// UpdateCampaignBudget adds delta to allocated_amount when the result stays
	// within [0, total_budget]. Returns false without writing otherwise.
	UpdateCampaignBudget(ctx context.Context, campaignID id.CampaignID, delta int64) (bool, error)
	GetActiveCampaigns(ctx context.Context, creditType *models.CreditType, now time.Time) ([]*models.CreditCampaign, error)
	CountUserCampaignAllocations(ctx context.Context, userID id.UserID, campaignID id.CampaignID) (int, error)
}

// Store is the full persistence contract of the ledger.
type Store interface {
	AccountStore
	TransactionStore
	AllocationStore
	CampaignStore

	// DeleteAllUserData removes every row owned by the user and returns the count.
	DeleteAllUserData(ctx context.Context, userID id.UserID) (int, error)
}

// EventPublisher emits ledger events. Implementations may be lossy; the
// service logs and counts failures but never returns them to callers.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// UserDirectory is the external user/subscription service.
type UserDirectory interface {
	ValidateUser(ctx context.Context, userID id.UserID) (bool, error)
	GetUser(ctx context.Context, userID id.UserID) (*models.UserProfile, error)
	GetSubscriptionPeriodEnd(ctx context.Context, subscriptionID string) (*time.Time, error)
}

// EligibilityChecker decides whether a user may receive a campaign's credits.
type EligibilityChecker interface {
	IsEligible(ctx context.Context, userID id.UserID, campaign *models.CreditCampaign) (bool, error)
}

// LogAudit logs a ledger mutation as an audit line with the request ID attached.
func LogAudit(ctx context.Context, logger *slog.Logger, event string, attrs ...any) {
	if logger == nil {
		return
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attrs = append(attrs, "request_id", requestID)
	}
	args := append(attrs, "event", event, "log_type", "audit")
	logger.InfoContext(ctx, event, args...)
}
