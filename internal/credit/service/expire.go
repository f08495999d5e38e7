package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"credits/internal/credit/models"
	id "credits/pkg/domain"
)

// DefaultExpiringSoonDays is the warning window used when none is given.
const DefaultExpiringSoonDays = 7

// ProcessExpirations expires every allocation whose expiry has passed and that
// still has an available remainder. Allocations are paged in batches keyed on
// the last one seen; a failed allocation is logged and counted and the run
// continues with the next one.
func (s *Service) ProcessExpirations(ctx context.Context) (report *models.ExpirationReport, err error) {
	ctx, finish := s.startSpan(ctx, "process_expirations")
	defer finish(&err)

	now := s.now(ctx)
	report = &models.ExpirationReport{}
	var cursor *models.ExpiryCursor

	for {
		page, err := s.store.GetExpiringAllocations(ctx, now, cursor, s.expirationBatch)
		if err != nil {
			return report, fmt.Errorf("load expiring allocations: %w", err)
		}
		for _, allocation := range page {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			debited, skipped, err := s.expireAllocation(ctx, allocation, now)
			switch {
			case err != nil:
				report.Failed++
				s.logger.ErrorContext(ctx, "failed to expire allocation",
					"allocation_id", allocation.ID.String(),
					"account_id", allocation.AccountID.String(),
					"error", err,
				)
			case skipped:
				report.Skipped++
			default:
				report.Processed++
				report.TotalExpired += debited
			}
		}
		if len(page) < s.expirationBatch {
			break
		}
		cursor = models.CursorAfter(page[len(page)-1])
	}

	s.metrics.SetExpirationRun(report.Processed, report.Skipped, report.Failed)
	s.logger.InfoContext(ctx, "expiration run finished",
		"processed", report.Processed,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"total_expired", report.TotalExpired,
	)
	return report, nil
}

// expireAllocation closes the allocation's remainder. The balance debit is
// capped at the account balance since transferred-out credits may have left
// the account without touching its allocations.
func (s *Service) expireAllocation(ctx context.Context, allocation *models.CreditAllocation, now time.Time) (int64, bool, error) {
	remaining := allocation.Available()
	if remaining <= 0 {
		return 0, true, nil
	}
	account, err := s.store.GetAccountByID(ctx, allocation.AccountID)
	if err != nil {
		return 0, false, fmt.Errorf("load account: %w", err)
	}

	debit := min(remaining, max(account.Balance, 0))
	if debit > 0 {
		txn := &models.CreditTransaction{
			ID:            id.NewTransactionID(),
			AccountID:     account.ID,
			UserID:        account.UserID,
			CreditType:    account.CreditType,
			Type:          models.TransactionExpire,
			Amount:        -debit,
			BalanceBefore: account.Balance,
			BalanceAfter:  account.Balance - debit,
			ReferenceID:   allocation.ID.String(),
			ReferenceType: models.ReferenceAllocation,
			AllocationID:  &allocation.ID,
			CreatedAt:     now,
		}
		if err := s.store.CreateTransaction(ctx, txn); err != nil {
			return 0, false, fmt.Errorf("record expire transaction: %w", err)
		}
		ok, err := s.store.UpdateAccountBalance(ctx, account.ID, -debit, models.TransactionExpire)
		if err != nil {
			return 0, false, fmt.Errorf("debit expired credits: %w", err)
		}
		if !ok {
			return 0, false, fmt.Errorf("balance of account %s changed during expiration", account.ID)
		}
	}

	ok, err := s.store.UpdateAllocationExpired(ctx, allocation.ID, remaining)
	if err != nil {
		s.metrics.IncrementAttributionDrift()
		return 0, false, fmt.Errorf("mark allocation expired: %w", err)
	}
	if !ok {
		s.metrics.IncrementAttributionDrift()
		return 0, false, fmt.Errorf("allocation %s changed during expiration", allocation.ID)
	}

	s.metrics.AddExpired(string(account.CreditType), debit)
	s.publish(ctx, models.TopicExpired, models.ExpiredEvent{
		UserID:       account.UserID,
		AccountID:    account.ID,
		AllocationID: allocation.ID,
		CreditType:   account.CreditType,
		Amount:       remaining,
		Debited:      debit,
		OccurredAt:   now,
	})
	return debit, false, nil
}

// NotifyExpiringSoon publishes one warning per user holding credits that
// expire within the next days. Nothing is written to the ledger.
func (s *Service) NotifyExpiringSoon(ctx context.Context, days int) (report *models.ExpiringSoonReport, err error) {
	if days <= 0 {
		days = DefaultExpiringSoonDays
	}
	ctx, finish := s.startSpan(ctx, "notify_expiring_soon", attribute.Int("window_days", days))
	defer finish(&err)

	now := s.now(ctx)
	allocations, err := s.store.GetAllocationsExpiringBetween(ctx, now, now.AddDate(0, 0, days))
	if err != nil {
		return nil, fmt.Errorf("load allocations expiring soon: %w", err)
	}

	var order []id.UserID
	byUser := make(map[id.UserID]*models.ExpiringSoonEvent)
	report = &models.ExpiringSoonReport{}
	for _, a := range allocations {
		available := a.Available()
		if available <= 0 || a.ExpiresAt == nil {
			continue
		}
		ev, ok := byUser[a.UserID]
		if !ok {
			ev = &models.ExpiringSoonEvent{UserID: a.UserID, WindowDays: days, OccurredAt: now}
			byUser[a.UserID] = ev
			order = append(order, a.UserID)
		}
		ev.Total += available
		ev.Allocations = append(ev.Allocations, models.ExpiringAllocation{
			AllocationID: a.ID,
			CreditType:   a.CreditType,
			Amount:       available,
			ExpiresAt:    *a.ExpiresAt,
		})
		report.Allocations++
		report.Amount += available
	}

	for _, userID := range order {
		s.publish(ctx, models.TopicExpiringSoon, *byUser[userID])
	}
	report.Users = len(order)
	s.metrics.SetExpiringSoonUsers(report.Users)
	return report, nil
}
