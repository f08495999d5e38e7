package service

import (
	"time"

	"go.uber.org/mock/gomock"

	"credits/internal/credit/models"
	id "credits/pkg/domain"
)

// =============================================================================
// Expiration
// =============================================================================

func (s *ServiceSuite) TestProcessExpirationsPartial() {
	userID := newUser()
	expires := s.now.Add(time.Hour)
	res := s.grant(userID, 100, models.CreditTypeBonus, &expires)
	_, err := s.service.Consume(s.ctx, models.ConsumeRequest{UserID: userID, Amount: 40})
	s.Require().NoError(err)

	report, err := s.service.ProcessExpirations(s.at(2 * time.Hour))
	s.Require().NoError(err)
	s.Equal(1, report.Processed)
	s.Equal(0, report.Failed)
	s.Equal(int64(60), report.TotalExpired)

	alloc, err := s.store.GetAllocationByID(s.ctx, res.Allocation.ID)
	s.Require().NoError(err)
	s.Equal(int64(60), alloc.ExpiredAmount)
	s.Equal(int64(0), alloc.Available())
	s.Equal(models.AllocationExpired, alloc.Status)

	account := s.account(userID, models.CreditTypeBonus)
	s.Equal(int64(0), account.Balance)
	s.Equal(int64(60), account.TotalExpired)
	s.requireBalanced(account)

	events := s.eventsOn(models.TopicExpired)
	s.Require().Len(events, 1)
	ev := events[0].(models.ExpiredEvent)
	s.Equal(int64(60), ev.Amount)
	s.Equal(int64(60), ev.Debited)

	s.Run("a second run finds nothing", func() {
		again, err := s.service.ProcessExpirations(s.at(3 * time.Hour))
		s.Require().NoError(err)
		s.Equal(0, again.Processed)
	})
}

func (s *ServiceSuite) TestProcessExpirationsLeavesLiveAllocations() {
	userID := newUser()
	soon := s.now.Add(time.Hour)
	later := s.now.Add(48 * time.Hour)
	s.grant(userID, 10, models.CreditTypeBonus, &soon)
	live := s.grant(userID, 20, models.CreditTypeBonus, &later)

	report, err := s.service.ProcessExpirations(s.at(2 * time.Hour))
	s.Require().NoError(err)
	s.Equal(1, report.Processed)

	alloc, err := s.store.GetAllocationByID(s.ctx, live.Allocation.ID)
	s.Require().NoError(err)
	s.Equal(int64(20), alloc.Available())
	s.Equal(int64(20), s.account(userID, models.CreditTypeBonus).Balance)
}

func (s *ServiceSuite) TestProcessExpirationsCapsDebitAtBalance() {
	from, to := newUser(), newUser()
	expires := s.now.Add(time.Hour)
	res := s.grant(from, 100, models.CreditTypePromotional, &expires)
	s.mockUsers.EXPECT().ValidateUser(gomock.Any(), to).Return(true, nil)
	_, err := s.service.Transfer(s.ctx, models.TransferRequest{FromUserID: from, ToUserID: to, Amount: 70, CreditType: models.CreditTypePromotional})
	s.Require().NoError(err)

	report, err := s.service.ProcessExpirations(s.at(2 * time.Hour))
	s.Require().NoError(err)
	s.Equal(1, report.Processed)
	s.Equal(int64(30), report.TotalExpired)

	alloc, err := s.store.GetAllocationByID(s.ctx, res.Allocation.ID)
	s.Require().NoError(err)
	s.Equal(int64(100), alloc.ExpiredAmount)

	sender := s.account(from, models.CreditTypePromotional)
	s.Equal(int64(0), sender.Balance)
	s.requireBalanced(sender)
	s.Equal(int64(70), s.account(to, models.CreditTypePromotional).Balance)
}

func (s *ServiceSuite) TestProcessExpirationsContinuesAfterFailure() {
	expires := s.now.Add(time.Hour)
	bad := s.grant(newUser(), 10, models.CreditTypeBonus, &expires)
	s.grant(newUser(), 10, models.CreditTypeBonus, &expires)

	faulty := &faultyStore{
		InMemoryStore: s.store,
		failExpireFor: map[id.AllocationID]bool{bad.Allocation.ID: true},
	}
	svc := s.newService(faulty)

	report, err := svc.ProcessExpirations(s.at(2 * time.Hour))
	s.Require().NoError(err)
	s.Equal(1, report.Processed)
	s.Equal(1, report.Failed)
}

func (s *ServiceSuite) TestProcessExpirationsPagesThroughBatches() {
	expires := s.now.Add(time.Hour)
	for range 5 {
		s.grant(newUser(), 10, models.CreditTypeReferral, &expires)
	}
	svc := s.newService(s.store, WithExpirationBatchSize(2))

	report, err := svc.ProcessExpirations(s.at(2 * time.Hour))
	s.Require().NoError(err)
	s.Equal(5, report.Processed)
	s.Equal(int64(50), report.TotalExpired)
}

func (s *ServiceSuite) TestProcessExpirationsMovesPastAFailedPage() {
	early := s.now.Add(time.Hour)
	later := s.now.Add(90 * time.Minute)
	failing := map[id.AllocationID]bool{}
	for range 2 {
		failing[s.grant(newUser(), 10, models.CreditTypeBonus, &early).Allocation.ID] = true
	}
	for range 3 {
		s.grant(newUser(), 10, models.CreditTypeBonus, &later)
	}
	faulty := &faultyStore{InMemoryStore: s.store, failExpireFor: failing}
	svc := s.newService(faulty, WithExpirationBatchSize(2))

	report, err := svc.ProcessExpirations(s.at(2 * time.Hour))
	s.Require().NoError(err)
	s.Equal(2, report.Failed)
	s.Equal(3, report.Processed)
	s.Equal(int64(30), report.TotalExpired)
}

func (s *ServiceSuite) TestNotifyExpiringSoon() {
	alice, bob, carol := newUser(), newUser(), newUser()
	inTwoDays := s.now.Add(48 * time.Hour)
	inFiveDays := s.now.Add(5 * 24 * time.Hour)
	inTwoWeeks := s.now.Add(14 * 24 * time.Hour)
	s.grant(alice, 10, models.CreditTypeBonus, &inTwoDays)
	s.grant(alice, 15, models.CreditTypePromotional, &inFiveDays)
	s.grant(bob, 20, models.CreditTypeBonus, &inFiveDays)
	s.grant(carol, 30, models.CreditTypeBonus, &inTwoWeeks)

	report, err := s.service.NotifyExpiringSoon(s.ctx, 0)
	s.Require().NoError(err)
	s.Equal(2, report.Users)
	s.Equal(3, report.Allocations)
	s.Equal(int64(45), report.Amount)

	events := s.eventsOn(models.TopicExpiringSoon)
	s.Require().Len(events, 2)
	totals := map[id.UserID]int64{}
	for _, e := range events {
		ev := e.(models.ExpiringSoonEvent)
		s.Equal(DefaultExpiringSoonDays, ev.WindowDays)
		totals[ev.UserID] = ev.Total
	}
	s.Equal(int64(25), totals[alice])
	s.Equal(int64(20), totals[bob])

	// warnings never touch balances
	s.Equal(int64(10), s.account(alice, models.CreditTypeBonus).Balance)
	s.Equal(int64(30), s.account(carol, models.CreditTypeBonus).Balance)
}
