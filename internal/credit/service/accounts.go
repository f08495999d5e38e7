package service

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"credits/internal/credit/models"
	id "credits/pkg/domain"
	"credits/pkg/platform/sentinel"
)

// CreateAccount returns the user's account for the credit type, creating it
// with a zero balance when absent. An empty policy selects the type's default.
func (s *Service) CreateAccount(ctx context.Context, userID id.UserID, creditType models.CreditType, policy models.ExpirationPolicy, days int) (account *models.CreditAccount, err error) {
	ctx, finish := s.startSpan(ctx, "create_account", attribute.String("credit_type", string(creditType)))
	defer finish(&err)

	if userID.IsNil() {
		return nil, models.Validation("user_id is required")
	}
	if !creditType.IsValid() {
		return nil, models.InvalidCreditType(string(creditType))
	}
	if policy == "" {
		def := models.DefaultPolicyFor(creditType)
		policy = def.Policy
		if days <= 0 {
			days = def.Days
		}
	}
	if !policy.IsValid() {
		return nil, models.InvalidPolicy(string(policy))
	}
	if policy == models.PolicyFixedDays && days <= 0 {
		days = models.DefaultPolicyFor(creditType).Days
	}
	return s.getOrCreateAccount(ctx, userID, creditType, policy, days)
}

// accountFor resolves the account used by allocation and transfer, creating it
// with the type's default policy.
func (s *Service) accountFor(ctx context.Context, userID id.UserID, creditType models.CreditType) (*models.CreditAccount, error) {
	def := models.DefaultPolicyFor(creditType)
	return s.getOrCreateAccount(ctx, userID, creditType, def.Policy, def.Days)
}

// getOrCreateAccount is idempotent: a concurrent creator that wins the unique
// (user, type) constraint makes us re-read its row.
func (s *Service) getOrCreateAccount(ctx context.Context, userID id.UserID, creditType models.CreditType, policy models.ExpirationPolicy, days int) (*models.CreditAccount, error) {
	existing, err := s.store.GetAccountByUserAndType(ctx, userID, creditType)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, fmt.Errorf("load credit account: %w", err)
	}

	now := s.now(ctx)
	account := &models.CreditAccount{
		ID:               id.NewAccountID(),
		UserID:           userID,
		CreditType:       creditType,
		ExpirationPolicy: policy,
		ExpirationDays:   days,
		IsActive:         true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			winner, getErr := s.store.GetAccountByUserAndType(ctx, userID, creditType)
			if getErr != nil {
				return nil, fmt.Errorf("reload credit account after conflict: %w", getErr)
			}
			return winner, nil
		}
		return nil, fmt.Errorf("create credit account: %w", err)
	}

	s.logAudit(ctx, "credit_account_created",
		"user_id", userID.String(),
		"account_id", account.ID.String(),
		"credit_type", string(creditType),
		"expiration_policy", string(policy),
	)
	return account, nil
}

// GetAccount loads an account by ID.
func (s *Service) GetAccount(ctx context.Context, accountID id.AccountID) (*models.CreditAccount, error) {
	account, err := s.store.GetAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, models.AccountNotFound(accountID.String())
		}
		return nil, fmt.Errorf("load credit account: %w", err)
	}
	return account, nil
}

// ListAccounts returns the user's accounts matching the filter.
func (s *Service) ListAccounts(ctx context.Context, userID id.UserID, filter models.AccountFilter) ([]*models.CreditAccount, error) {
	for _, t := range filter.CreditTypes {
		if !t.IsValid() {
			return nil, models.InvalidCreditType(string(t))
		}
	}
	accounts, err := s.store.ListAccountsForUser(ctx, userID, filter)
	if err != nil {
		return nil, fmt.Errorf("list credit accounts: %w", err)
	}
	return accounts, nil
}

// DeactivateAccount stops further mutations on the account. The balance is kept.
func (s *Service) DeactivateAccount(ctx context.Context, accountID id.AccountID) (err error) {
	ctx, finish := s.startSpan(ctx, "deactivate_account")
	defer finish(&err)

	if err := s.store.SetAccountActive(ctx, accountID, false); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return models.AccountNotFound(accountID.String())
		}
		return fmt.Errorf("deactivate credit account: %w", err)
	}
	s.logAudit(ctx, "credit_account_deactivated", "account_id", accountID.String())
	return nil
}

// GetBalanceSummary totals the user's active balances and finds the soonest
// upcoming expiry among open allocations.
func (s *Service) GetBalanceSummary(ctx context.Context, userID id.UserID) (*models.BalanceSummary, error) {
	accounts, err := s.store.ListAccountsForUser(ctx, userID, models.AccountFilter{ActiveOnly: true})
	if err != nil {
		return nil, fmt.Errorf("list credit accounts: %w", err)
	}
	summary := &models.BalanceSummary{
		UserID: userID,
		ByType: make(map[models.CreditType]int64, len(accounts)),
	}
	now := s.now(ctx)
	allocs := make([][]*models.CreditAllocation, len(accounts))
	g, gctx := errgroup.WithContext(ctx)
	for i, account := range accounts {
		summary.ByType[account.CreditType] = account.Balance
		summary.Total += account.Balance
		g.Go(func() error {
			list, err := s.store.GetAvailableAllocationsFifo(gctx, account.ID, now)
			if err != nil {
				return fmt.Errorf("load allocations for %s: %w", account.CreditType, err)
			}
			allocs[i] = list
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, list := range allocs {
		for _, a := range list {
			if a.ExpiresAt == nil {
				continue
			}
			switch {
			case summary.NextExpiry == nil || a.ExpiresAt.Before(*summary.NextExpiry):
				t := *a.ExpiresAt
				summary.NextExpiry = &t
				summary.NextExpiring = a.Available()
			case a.ExpiresAt.Equal(*summary.NextExpiry):
				summary.NextExpiring += a.Available()
			}
		}
	}
	return summary, nil
}

func requireActive(account *models.CreditAccount) error {
	if !account.IsActive {
		return models.AccountInactive(fmt.Sprintf("%s account %s is deactivated", account.CreditType, account.ID))
	}
	return nil
}
