package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"credits/internal/credit/models"
	id "credits/pkg/domain"
)

// source is one drawable pool: an open allocation, or the part of an account
// balance that no open allocation backs.
type source struct {
	accountID    id.AccountID
	allocationID *id.AllocationID
	creditType   models.CreditType
	available    int64
	expiresAt    *time.Time
	createdAt    time.Time
	tiebreak     string
}

// CheckAvailability reports whether the user can spend amount and returns the
// plan a consumption would follow. Nothing is written.
func (s *Service) CheckAvailability(ctx context.Context, userID id.UserID, amount int64) (plan *models.ConsumptionPlan, err error) {
	ctx, finish := s.startSpan(ctx, "check_availability", attribute.Int64("amount", amount))
	defer finish(&err)

	if amount <= 0 {
		return nil, models.Validation("amount must be positive")
	}
	plan, _, err = s.buildPlan(ctx, userID, amount)
	return plan, err
}

// buildPlan loads the user's active accounts and orders every drawable source:
// expiry ascending with no-expiry last, then credit type priority, then
// attributed before unattributed, then creation time and ID. Draws are capped
// per account by the balance so credits transferred away are never planned.
func (s *Service) buildPlan(ctx context.Context, userID id.UserID, amount int64) (*models.ConsumptionPlan, map[id.AccountID]*models.CreditAccount, error) {
	accounts, err := s.store.ListAccountsForUser(ctx, userID, models.AccountFilter{ActiveOnly: true})
	if err != nil {
		return nil, nil, fmt.Errorf("list credit accounts: %w", err)
	}

	var total int64
	byID := make(map[id.AccountID]*models.CreditAccount, len(accounts))
	for _, a := range accounts {
		total += a.Balance
		byID[a.ID] = a
	}
	if total < amount {
		return nil, nil, models.InsufficientCredits(total, amount)
	}

	now := s.now(ctx)
	perAccount := make([][]source, len(accounts))
	g, gctx := errgroup.WithContext(ctx)
	for i, account := range accounts {
		if account.Balance <= 0 {
			continue
		}
		g.Go(func() error {
			list, err := s.sourcesFor(gctx, account, now)
			if err != nil {
				return err
			}
			perAccount[i] = list
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var sources []source
	for _, list := range perAccount {
		sources = append(sources, list...)
	}
	sortSources(sources)

	plan := &models.ConsumptionPlan{
		UserID:    userID,
		Required:  amount,
		Available: total,
	}
	headroom := make(map[id.AccountID]int64, len(accounts))
	for _, a := range accounts {
		headroom[a.ID] = a.Balance
	}
	remaining := amount
	for _, src := range sources {
		if remaining == 0 {
			break
		}
		take := min(remaining, src.available, headroom[src.accountID])
		if take <= 0 {
			continue
		}
		headroom[src.accountID] -= take
		remaining -= take
		plan.Lines = append(plan.Lines, models.PlanLine{
			AccountID:    src.accountID,
			AllocationID: src.allocationID,
			CreditType:   src.creditType,
			Amount:       take,
			ExpiresAt:    src.expiresAt,
		})
	}
	if remaining > 0 {
		return nil, nil, models.InsufficientCredits(plan.Total(), amount)
	}
	return plan, byID, nil
}

func (s *Service) sourcesFor(ctx context.Context, account *models.CreditAccount, now time.Time) ([]source, error) {
	allocs, err := s.store.GetAvailableAllocationsFifo(ctx, account.ID, now)
	if err != nil {
		return nil, fmt.Errorf("load allocations for %s: %w", account.CreditType, err)
	}
	open, err := s.store.SumOpenAllocations(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("sum allocations for %s: %w", account.CreditType, err)
	}

	out := make([]source, 0, len(allocs)+1)
	for _, a := range allocs {
		allocationID := a.ID
		out = append(out, source{
			accountID:    account.ID,
			allocationID: &allocationID,
			creditType:   account.CreditType,
			available:    a.Available(),
			expiresAt:    a.ExpiresAt,
			createdAt:    a.CreatedAt,
			tiebreak:     a.ID.String(),
		})
	}
	if unattributed := account.Balance - open; unattributed > 0 {
		out = append(out, source{
			accountID:  account.ID,
			creditType: account.CreditType,
			available:  unattributed,
			createdAt:  account.CreatedAt,
			tiebreak:   account.ID.String(),
		})
	}
	return out, nil
}

func sortSources(sources []source) {
	sort.SliceStable(sources, func(i, j int) bool {
		a, b := sources[i], sources[j]
		switch {
		case a.expiresAt == nil && b.expiresAt != nil:
			return false
		case a.expiresAt != nil && b.expiresAt == nil:
			return true
		case a.expiresAt != nil && !a.expiresAt.Equal(*b.expiresAt):
			return a.expiresAt.Before(*b.expiresAt)
		}
		if pa, pb := a.creditType.Priority(), b.creditType.Priority(); pa != pb {
			return pa < pb
		}
		if (a.allocationID == nil) != (b.allocationID == nil) {
			return a.allocationID != nil
		}
		if !a.createdAt.Equal(b.createdAt) {
			return a.createdAt.Before(b.createdAt)
		}
		return a.tiebreak < b.tiebreak
	})
}
