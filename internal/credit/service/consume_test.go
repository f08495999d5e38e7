package service

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"credits/internal/credit/models"
)

// =============================================================================
// Consumption planning and execution
// =============================================================================

func (s *ServiceSuite) TestConsumeOrdersByExpiryThenPriority() {
	userID := newUser()
	t1 := s.now.Add(24 * time.Hour)
	t2 := s.now.Add(48 * time.Hour)
	a := s.grant(userID, 10, models.CreditTypePromotional, &t1)
	b := s.grant(userID, 10, models.CreditTypeCompensation, &t1)
	c := s.grant(userID, 10, models.CreditTypePromotional, &t2)

	plan, err := s.service.CheckAvailability(s.ctx, userID, 25)
	s.Require().NoError(err)
	s.Require().Len(plan.Lines, 3)
	s.Equal(b.Allocation.ID, *plan.Lines[0].AllocationID)
	s.Equal(a.Allocation.ID, *plan.Lines[1].AllocationID)
	s.Equal(c.Allocation.ID, *plan.Lines[2].AllocationID)
	s.Equal(int64(5), plan.Lines[2].Amount)
	s.Equal(int64(30), plan.Available)

	res, err := s.service.Consume(s.ctx, models.ConsumeRequest{UserID: userID, Amount: 25, BillingReference: "inv-42"})
	s.Require().NoError(err)
	s.Equal(int64(25), res.Consumed)
	s.Len(res.Transactions, 3)

	left, err := s.store.GetAllocationByID(s.ctx, c.Allocation.ID)
	s.Require().NoError(err)
	s.Equal(int64(5), left.Available())
	drained, err := s.store.GetAllocationByID(s.ctx, b.Allocation.ID)
	s.Require().NoError(err)
	s.Equal(models.AllocationConsumed, drained.Status)

	promo := s.account(userID, models.CreditTypePromotional)
	s.Equal(int64(5), promo.Balance)
	s.requireBalanced(promo)
	s.requireBalanced(s.account(userID, models.CreditTypeCompensation))

	events := s.eventsOn(models.TopicConsumed)
	s.Require().Len(events, 1)
	ev := events[0].(models.ConsumedEvent)
	s.Equal(int64(25), ev.Amount)
	s.Equal("inv-42", ev.BillingReference)
	s.Len(ev.Lines, 3)
}

func (s *ServiceSuite) TestConsumeNeverExpiringLast() {
	userID := newUser()
	_, err := s.service.CreateAccount(s.ctx, userID, models.CreditTypeCompensation, models.PolicyNever, 0)
	s.Require().NoError(err)
	forever := s.grant(userID, 10, models.CreditTypeCompensation, nil)
	later := s.now.Add(72 * time.Hour)
	dated := s.grant(userID, 10, models.CreditTypeSubscription, &later)

	plan, err := s.service.CheckAvailability(s.ctx, userID, 20)
	s.Require().NoError(err)
	s.Require().Len(plan.Lines, 2)
	s.Equal(dated.Allocation.ID, *plan.Lines[0].AllocationID)
	s.Equal(forever.Allocation.ID, *plan.Lines[1].AllocationID)
}

func (s *ServiceSuite) TestConsumeRejects() {
	userID := newUser()
	s.grant(userID, 30, models.CreditTypeBonus, nil)

	s.Run("non-positive amount", func() {
		_, err := s.service.Consume(s.ctx, models.ConsumeRequest{UserID: userID, Amount: 0})
		s.ErrorIs(err, models.ErrValidation)
		_, err = s.service.CheckAvailability(s.ctx, userID, -1)
		s.ErrorIs(err, models.ErrValidation)
	})

	s.Run("insufficient balance reports figures", func() {
		_, err := s.service.Consume(s.ctx, models.ConsumeRequest{UserID: userID, Amount: 31})
		s.Require().ErrorIs(err, models.ErrInsufficientCredits)
		var le *models.LedgerError
		s.Require().ErrorAs(err, &le)
		s.Equal(int64(30), le.Available)
		s.Equal(int64(31), le.Required)
		s.Equal(int64(30), s.account(userID, models.CreditTypeBonus).Balance)
	})

	s.Run("expired but unprocessed credits are not plannable", func() {
		other := newUser()
		past := s.now.Add(-time.Minute)
		s.grant(other, 10, models.CreditTypeBonus, &past)

		_, err := s.service.Consume(s.ctx, models.ConsumeRequest{UserID: other, Amount: 10})
		s.Require().ErrorIs(err, models.ErrInsufficientCredits)
		var le *models.LedgerError
		s.Require().ErrorAs(err, &le)
		s.Equal(int64(0), le.Available)
	})
}

func (s *ServiceSuite) TestConsumeNeverGoesNegativeUnderConcurrency() {
	userID := newUser()
	s.grant(userID, 100, models.CreditTypeBonus, nil)

	var wg sync.WaitGroup
	var succeeded atomic.Int64
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.service.Consume(s.ctx, models.ConsumeRequest{UserID: userID, Amount: 10})
			if err == nil {
				succeeded.Add(1)
				return
			}
			if !errors.Is(err, models.ErrInsufficientCredits) && !errors.Is(err, models.ErrConsumptionFailed) {
				s.Failf("unexpected error", "%v", err)
			}
		}()
	}
	wg.Wait()

	account := s.account(userID, models.CreditTypeBonus)
	s.LessOrEqual(succeeded.Load(), int64(10))
	s.Equal(100-10*succeeded.Load(), account.Balance)
	s.requireBalanced(account)
}
