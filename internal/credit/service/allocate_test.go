package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/mock/gomock"

	"credits/internal/credit/models"
	"credits/internal/credit/ports/mocks"
	"credits/internal/credit/store"
	id "credits/pkg/domain"
)

// faultyStore wraps the in-memory store and fails selected writes.
type faultyStore struct {
	*store.InMemoryStore
	failCreateTransaction error
	failCreateAllocation  error
	failTransferIn        bool
	failExpireFor         map[id.AllocationID]bool
	failNextGrant         atomic.Bool
}

func (f *faultyStore) CreateTransaction(ctx context.Context, txn *models.CreditTransaction) error {
	if f.failCreateTransaction != nil {
		return f.failCreateTransaction
	}
	return f.InMemoryStore.CreateTransaction(ctx, txn)
}

func (f *faultyStore) CreateAllocation(ctx context.Context, a *models.CreditAllocation) error {
	if f.failCreateAllocation != nil {
		return f.failCreateAllocation
	}
	return f.InMemoryStore.CreateAllocation(ctx, a)
}

func (f *faultyStore) UpdateAccountBalance(ctx context.Context, accountID id.AccountID, delta int64, txType models.TransactionType) (bool, error) {
	if f.failTransferIn && txType == models.TransactionTransferIn {
		return false, errors.New("connection reset")
	}
	if txType == models.TransactionAllocate && delta > 0 && f.failNextGrant.CompareAndSwap(true, false) {
		return false, errors.New("connection reset")
	}
	return f.InMemoryStore.UpdateAccountBalance(ctx, accountID, delta, txType)
}

func (f *faultyStore) UpdateAllocationExpired(ctx context.Context, allocationID id.AllocationID, amount int64) (bool, error) {
	if f.failExpireFor[allocationID] {
		return false, errors.New("statement timeout")
	}
	return f.InMemoryStore.UpdateAllocationExpired(ctx, allocationID, amount)
}

func (s *ServiceSuite) newCampaign(budget, amount int64, mutate func(*models.CreateCampaignRequest)) *models.CreditCampaign {
	req := models.CreateCampaignRequest{
		Name:           "spring launch",
		CreditType:     models.CreditTypePromotional,
		CreditAmount:   amount,
		TotalBudget:    budget,
		StartDate:      s.now.Add(-24 * time.Hour),
		EndDate:        s.now.Add(30 * 24 * time.Hour),
		ExpirationDays: 14,
	}
	if mutate != nil {
		mutate(&req)
	}
	campaign, err := s.service.CreateCampaign(s.ctx, req)
	s.Require().NoError(err)
	return campaign
}

func (s *ServiceSuite) allowEligibility() {
	s.mockEligibility.EXPECT().IsEligible(gomock.Any(), gomock.Any(), gomock.Any()).Return(true, nil).AnyTimes()
}

// =============================================================================
// Allocation
// =============================================================================

func (s *ServiceSuite) TestAllocate() {
	s.Run("credits balance and records allocation", func() {
		userID := newUser()
		res := s.grant(userID, 100, models.CreditTypePromotional, nil)

		s.False(res.Replayed)
		s.Equal(int64(100), res.Account.Balance)
		s.Equal(int64(100), res.Allocation.Amount)
		s.Equal(models.AllocationActive, res.Allocation.Status)
		s.Equal(res.Transaction.ID, res.Allocation.TransactionID)
		s.Equal(int64(0), res.Transaction.BalanceBefore)
		s.Equal(int64(100), res.Transaction.BalanceAfter)
		s.Require().NotNil(res.Allocation.ExpiresAt)
		s.True(res.Allocation.ExpiresAt.Equal(s.now.AddDate(0, 0, 30)))

		stored := s.account(userID, models.CreditTypePromotional)
		s.Equal(int64(100), stored.Balance)
		s.requireBalanced(stored)

		events := s.eventsOn(models.TopicAllocated)
		s.Require().NotEmpty(events)
		ev := events[len(events)-1].(models.AllocatedEvent)
		s.Equal(userID, ev.UserID)
		s.Equal(int64(100), ev.BalanceAfter)
	})

	s.Run("validates input", func() {
		_, err := s.service.Allocate(s.ctx, models.AllocateRequest{UserID: newUser(), Amount: 0, CreditType: models.CreditTypeBonus})
		s.ErrorIs(err, models.ErrValidation)

		_, err = s.service.Allocate(s.ctx, models.AllocateRequest{UserID: newUser(), Amount: 10, CreditType: "gold"})
		s.ErrorIs(err, models.ErrInvalidCreditType)

		_, err = s.service.Allocate(s.ctx, models.AllocateRequest{Amount: 10, CreditType: models.CreditTypeBonus})
		s.ErrorIs(err, models.ErrValidation)
	})

	s.Run("explicit expiry wins", func() {
		expires := s.now.Add(6 * time.Hour)
		res := s.grant(newUser(), 10, models.CreditTypeBonus, &expires)
		s.True(res.Allocation.ExpiresAt.Equal(expires))
	})

	s.Run("never policy leaves expiry empty", func() {
		userID := newUser()
		_, err := s.service.CreateAccount(s.ctx, userID, models.CreditTypeBonus, models.PolicyNever, 0)
		s.Require().NoError(err)
		res := s.grant(userID, 10, models.CreditTypeBonus, nil)
		s.Nil(res.Allocation.ExpiresAt)
	})

	s.Run("end of month policy", func() {
		userID := newUser()
		_, err := s.service.CreateAccount(s.ctx, userID, models.CreditTypeReferral, models.PolicyEndOfMonth, 0)
		s.Require().NoError(err)
		res := s.grant(userID, 10, models.CreditTypeReferral, nil)
		s.Equal(time.Date(2026, time.March, 31, 23, 59, 59, 0, time.UTC), *res.Allocation.ExpiresAt)
	})
}

func (s *ServiceSuite) TestAllocateSubscriptionPeriod() {
	s.Run("uses the subscription end date", func() {
		end := s.now.Add(12 * 24 * time.Hour)
		s.mockUsers.EXPECT().GetSubscriptionPeriodEnd(gomock.Any(), "sub_1").Return(&end, nil)

		res, err := s.service.Allocate(s.ctx, models.AllocateRequest{
			UserID:         newUser(),
			Amount:         100,
			CreditType:     models.CreditTypeSubscription,
			SubscriptionID: "sub_1",
		})
		s.Require().NoError(err)
		s.True(res.Allocation.ExpiresAt.Equal(end))
	})

	s.Run("falls back to thirty days when lookup fails", func() {
		s.mockUsers.EXPECT().GetSubscriptionPeriodEnd(gomock.Any(), "sub_2").Return(nil, errors.New("billing down"))

		res, err := s.service.Allocate(s.ctx, models.AllocateRequest{
			UserID:         newUser(),
			Amount:         100,
			CreditType:     models.CreditTypeSubscription,
			SubscriptionID: "sub_2",
		})
		s.Require().NoError(err)
		s.True(res.Allocation.ExpiresAt.Equal(s.now.AddDate(0, 0, 30)))
	})
}

func (s *ServiceSuite) TestAllocateIdempotency() {
	userID := newUser()
	req := models.AllocateRequest{
		UserID:         userID,
		Amount:         40,
		CreditType:     models.CreditTypeBonus,
		IdempotencyKey: "grant-2026-03",
	}
	first, err := s.service.Allocate(s.ctx, req)
	s.Require().NoError(err)
	second, err := s.service.Allocate(s.ctx, req)
	s.Require().NoError(err)

	s.True(second.Replayed)
	s.Equal(first.Allocation.ID, second.Allocation.ID)
	s.Equal(first.Transaction.ID, second.Transaction.ID)
	s.Equal(int64(40), s.account(userID, models.CreditTypeBonus).Balance)

	txns, err := s.service.ListTransactions(s.ctx, userID, models.TransactionFilter{})
	s.Require().NoError(err)
	s.Len(txns, 1)
}

// =============================================================================
// Campaigns
// =============================================================================

func (s *ServiceSuite) TestCreateCampaign() {
	s.Run("starts with nothing allocated", func() {
		c := s.newCampaign(1000, 50, nil)
		s.Equal(int64(0), c.AllocatedAmount)
		s.True(c.IsActive)
	})

	s.Run("rejects invalid definitions", func() {
		_, err := s.service.CreateCampaign(s.ctx, models.CreateCampaignRequest{
			Name:           "broken",
			CreditType:     models.CreditTypeBonus,
			CreditAmount:   10,
			TotalBudget:    100,
			StartDate:      s.now,
			EndDate:        s.now.Add(-time.Hour),
			ExpirationDays: 7,
		})
		s.ErrorIs(err, models.ErrValidation)
	})
}

func (s *ServiceSuite) TestAllocateFromCampaign() {
	s.Run("reserves budget and uses campaign expiry", func() {
		s.allowEligibility()
		c := s.newCampaign(1000, 50, nil)
		res, err := s.service.Allocate(s.ctx, models.AllocateRequest{
			UserID:     newUser(),
			Amount:     50,
			CreditType: models.CreditTypePromotional,
			CampaignID: &c.ID,
		})
		s.Require().NoError(err)
		s.True(res.Allocation.ExpiresAt.Equal(s.now.AddDate(0, 0, 14)))
		s.Equal(models.ReferenceCampaign, res.Transaction.ReferenceType)

		stored, err := s.service.GetCampaign(s.ctx, c.ID)
		s.Require().NoError(err)
		s.Equal(int64(50), stored.AllocatedAmount)
	})

	s.Run("credit type must match", func() {
		s.allowEligibility()
		c := s.newCampaign(1000, 50, nil)
		_, err := s.service.Allocate(s.ctx, models.AllocateRequest{
			UserID:     newUser(),
			Amount:     50,
			CreditType: models.CreditTypeBonus,
			CampaignID: &c.ID,
		})
		s.ErrorIs(err, models.ErrValidation)
	})

	s.Run("budget exhausted reports figures", func() {
		s.allowEligibility()
		c := s.newCampaign(100, 60, nil)
		_, err := s.service.ClaimCampaign(s.ctx, c.ID, newUser(), "")
		s.Require().NoError(err)

		_, err = s.service.ClaimCampaign(s.ctx, c.ID, newUser(), "")
		s.Require().ErrorIs(err, models.ErrCampaignBudgetExhausted)
		var le *models.LedgerError
		s.Require().ErrorAs(err, &le)
		s.Equal(int64(100), le.Budget)
		s.Equal(int64(60), le.Allocated)
	})

	s.Run("campaign window is enforced", func() {
		future := s.newCampaign(100, 10, func(r *models.CreateCampaignRequest) {
			r.StartDate = s.now.Add(time.Hour)
		})
		_, err := s.service.ClaimCampaign(s.ctx, future.ID, newUser(), "")
		s.ErrorIs(err, models.ErrCampaignInactive)

		_, err = s.service.ClaimCampaign(s.ctx, id.NewCampaignID(), newUser(), "")
		s.ErrorIs(err, models.ErrCampaignNotFound)
	})

	s.Run("per user limit", func() {
		s.allowEligibility()
		c := s.newCampaign(1000, 10, func(r *models.CreateCampaignRequest) {
			r.MaxAllocationsPerUser = 1
		})
		userID := newUser()
		_, err := s.service.ClaimCampaign(s.ctx, c.ID, userID, "")
		s.Require().NoError(err)
		_, err = s.service.ClaimCampaign(s.ctx, c.ID, userID, "")
		s.ErrorIs(err, models.ErrValidation)
	})
}

func (s *ServiceSuite) TestCampaignEligibility() {
	c := s.newCampaign(1000, 10, nil)

	s.Run("ineligible user is rejected", func() {
		userID := newUser()
		s.mockEligibility.EXPECT().IsEligible(gomock.Any(), userID, gomock.Any()).Return(false, nil)
		_, err := s.service.ClaimCampaign(s.ctx, c.ID, userID, "")
		s.ErrorIs(err, models.ErrValidation)
	})

	s.Run("checker failure allows the allocation", func() {
		userID := newUser()
		s.mockEligibility.EXPECT().IsEligible(gomock.Any(), userID, gomock.Any()).Return(false, errors.New("timeout"))
		res, err := s.service.ClaimCampaign(s.ctx, c.ID, userID, "")
		s.Require().NoError(err)
		s.Equal(int64(10), res.Allocation.Amount)
	})
}

func (s *ServiceSuite) TestCampaignBudgetCeilingUnderConcurrency() {
	s.allowEligibility()
	c := s.newCampaign(100, 10, nil)

	var wg sync.WaitGroup
	var granted, exhausted atomic.Int64
	for range 25 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.service.ClaimCampaign(s.ctx, c.ID, newUser(), "")
			switch {
			case err == nil:
				granted.Add(1)
			case errors.Is(err, models.ErrCampaignBudgetExhausted):
				exhausted.Add(1)
			default:
				s.Failf("unexpected error", "%v", err)
			}
		}()
	}
	wg.Wait()

	s.Equal(int64(10), granted.Load())
	s.Equal(int64(15), exhausted.Load())
	stored, err := s.service.GetCampaign(s.ctx, c.ID)
	s.Require().NoError(err)
	s.Equal(int64(100), stored.AllocatedAmount)
}

func (s *ServiceSuite) TestAllocateReleasesBudgetOnFailure() {
	faulty := &faultyStore{InMemoryStore: s.store, failCreateTransaction: errors.New("disk full")}
	svc := s.newService(faulty)
	s.allowEligibility()
	c := s.newCampaign(100, 40, nil)

	_, err := svc.ClaimCampaign(s.ctx, c.ID, newUser(), "")
	s.ErrorIs(err, models.ErrAllocationFailed)

	stored, err := s.service.GetCampaign(s.ctx, c.ID)
	s.Require().NoError(err)
	s.Equal(int64(0), stored.AllocatedAmount)
}

func (s *ServiceSuite) TestAllocateRevertsBalanceWhenAllocationWriteFails() {
	faulty := &faultyStore{InMemoryStore: s.store, failCreateAllocation: errors.New("constraint")}
	svc := s.newService(faulty)
	userID := newUser()
	req := models.AllocateRequest{UserID: userID, Amount: 10, CreditType: models.CreditTypeBonus, IdempotencyKey: "welcome"}

	_, err := svc.Allocate(s.ctx, req)
	s.ErrorIs(err, models.ErrAllocationFailed)
	account := s.account(userID, models.CreditTypeBonus)
	s.Zero(account.Balance)
	s.Zero(account.TotalAllocated)

	faulty.failCreateAllocation = nil
	res, err := svc.Allocate(s.ctx, req)
	s.Require().NoError(err)
	s.False(res.Replayed)
	s.Equal(int64(10), s.account(userID, models.CreditTypeBonus).Balance)
}

func (s *ServiceSuite) TestAllocateRetryFinishesInterruptedGrant() {
	faulty := &faultyStore{InMemoryStore: s.store}
	faulty.failNextGrant.Store(true)
	svc := s.newService(faulty)
	userID := newUser()
	req := models.AllocateRequest{UserID: userID, Amount: 40, CreditType: models.CreditTypeBonus, IdempotencyKey: "k1"}

	_, err := svc.Allocate(s.ctx, req)
	s.Require().ErrorIs(err, models.ErrAllocationFailed)
	s.Zero(s.account(userID, models.CreditTypeBonus).Balance)

	s.Run("the retry completes the grant on the original transaction", func() {
		res, err := svc.Allocate(s.ctx, req)
		s.Require().NoError(err)
		s.False(res.Replayed)
		s.Equal(*res.Transaction.AllocationID, res.Allocation.ID)
		s.Equal(int64(40), res.Account.Balance)

		txns, err := svc.ListTransactions(s.ctx, userID, models.TransactionFilter{})
		s.Require().NoError(err)
		s.Len(txns, 1)
	})

	s.Run("later retries replay it", func() {
		res, err := svc.Allocate(s.ctx, req)
		s.Require().NoError(err)
		s.True(res.Replayed)
		s.Equal(int64(40), s.account(userID, models.CreditTypeBonus).Balance)
	})

	s.Run("a different amount under the same key is rejected", func() {
		other := req
		other.Amount = 41
		_, err := svc.Allocate(s.ctx, other)
		s.ErrorIs(err, models.ErrValidation)
	})
}

func (s *ServiceSuite) TestAllocateConcurrentRetriesGrantOnce() {
	userID := newUser()
	req := models.AllocateRequest{UserID: userID, Amount: 25, CreditType: models.CreditTypeBonus, IdempotencyKey: "burst"}
	_, err := s.service.CreateAccount(s.ctx, userID, models.CreditTypeBonus, models.PolicyNever, 0)
	s.Require().NoError(err)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.service.Allocate(s.ctx, req)
		}()
	}
	wg.Wait()

	account := s.account(userID, models.CreditTypeBonus)
	s.Equal(int64(25), account.Balance)
	s.Equal(int64(25), account.TotalAllocated)
}

func (s *ServiceSuite) TestPublishFailureDoesNotFailAllocation() {
	failing := mocks.NewMockEventPublisher(s.ctrl)
	failing.EXPECT().Publish(gomock.Any(), models.TopicAllocated, gomock.Any()).Return(errors.New("broker unavailable"))
	svc := s.newService(s.store, WithEventPublisher(failing))

	userID := newUser()
	res, err := svc.Allocate(s.ctx, models.AllocateRequest{UserID: userID, Amount: 5, CreditType: models.CreditTypeBonus})
	s.Require().NoError(err)
	s.Equal(int64(5), res.Account.Balance)
}

// EndOfMonth and EndOfYear are pure helpers.
func (s *ServiceSuite) TestPolicyDates() {
	feb := time.Date(2028, time.February, 3, 8, 0, 0, 0, time.UTC)
	s.Equal(time.Date(2028, time.February, 29, 23, 59, 59, 0, time.UTC), EndOfMonth(feb))
	s.Equal(time.Date(2028, time.December, 31, 23, 59, 59, 0, time.UTC), EndOfYear(feb))
	dec := time.Date(2026, time.December, 31, 23, 59, 59, 0, time.UTC)
	s.Equal(dec, EndOfMonth(dec))
}
