package service

import (
	"errors"

	"go.uber.org/mock/gomock"

	"credits/internal/credit/models"
)

// =============================================================================
// Transfers
// =============================================================================

func (s *ServiceSuite) TestTransfer() {
	s.Run("moves balance and conserves the total", func() {
		from, to := newUser(), newUser()
		s.grant(from, 100, models.CreditTypeReferral, nil)
		s.mockUsers.EXPECT().ValidateUser(gomock.Any(), to).Return(true, nil)

		res, err := s.service.Transfer(s.ctx, models.TransferRequest{
			FromUserID: from,
			ToUserID:   to,
			Amount:     60,
			CreditType: models.CreditTypeReferral,
			Note:       "thanks",
		})
		s.Require().NoError(err)

		sender := s.account(from, models.CreditTypeReferral)
		recipient := s.account(to, models.CreditTypeReferral)
		s.Equal(int64(40), sender.Balance)
		s.Equal(int64(60), recipient.Balance)
		s.Equal(int64(100), sender.Balance+recipient.Balance)
		s.requireBalanced(sender)
		s.requireBalanced(recipient)

		s.Equal(models.TransactionTransferOut, res.Outgoing.Type)
		s.Equal(int64(-60), res.Outgoing.Amount)
		s.Equal(models.TransactionTransferIn, res.Incoming.Type)
		s.Equal(res.TransferID.String(), res.Outgoing.ReferenceID)
		s.Equal(res.Outgoing.ReferenceID, res.Incoming.ReferenceID)
		s.Equal("thanks", res.Incoming.Metadata["note"])

		events := s.eventsOn(models.TopicTransferred)
		s.Require().NotEmpty(events)
		s.Equal(res.TransferID, events[len(events)-1].(models.TransferredEvent).TransferID)
	})

	s.Run("recipient lookup failure allows the transfer", func() {
		from, to := newUser(), newUser()
		s.grant(from, 10, models.CreditTypeBonus, nil)
		s.mockUsers.EXPECT().ValidateUser(gomock.Any(), to).Return(false, errors.New("directory down"))

		_, err := s.service.Transfer(s.ctx, models.TransferRequest{FromUserID: from, ToUserID: to, Amount: 10, CreditType: models.CreditTypeBonus})
		s.Require().NoError(err)
		s.Equal(int64(10), s.account(to, models.CreditTypeBonus).Balance)
	})
}

func (s *ServiceSuite) TestTransferRejects() {
	from, to := newUser(), newUser()
	s.grant(from, 50, models.CreditTypeBonus, nil)
	s.grant(from, 50, models.CreditTypeCompensation, nil)

	s.Run("same user", func() {
		_, err := s.service.Transfer(s.ctx, models.TransferRequest{FromUserID: from, ToUserID: from, Amount: 10, CreditType: models.CreditTypeBonus})
		s.ErrorIs(err, models.ErrInvalidTransfer)
	})

	s.Run("non-positive amount", func() {
		_, err := s.service.Transfer(s.ctx, models.TransferRequest{FromUserID: from, ToUserID: to, Amount: 0, CreditType: models.CreditTypeBonus})
		s.ErrorIs(err, models.ErrInvalidTransfer)
	})

	s.Run("compensation credits stay put", func() {
		_, err := s.service.Transfer(s.ctx, models.TransferRequest{FromUserID: from, ToUserID: to, Amount: 10, CreditType: models.CreditTypeCompensation})
		s.ErrorIs(err, models.ErrNonTransferableType)
	})

	s.Run("unknown recipient", func() {
		s.mockUsers.EXPECT().ValidateUser(gomock.Any(), to).Return(false, nil)
		_, err := s.service.Transfer(s.ctx, models.TransferRequest{FromUserID: from, ToUserID: to, Amount: 10, CreditType: models.CreditTypeBonus})
		s.ErrorIs(err, models.ErrUserValidationFailed)
	})

	s.Run("sender without account", func() {
		s.mockUsers.EXPECT().ValidateUser(gomock.Any(), to).Return(true, nil)
		_, err := s.service.Transfer(s.ctx, models.TransferRequest{FromUserID: from, ToUserID: to, Amount: 10, CreditType: models.CreditTypeReferral})
		s.ErrorIs(err, models.ErrAccountNotFound)
	})

	s.Run("insufficient balance", func() {
		s.mockUsers.EXPECT().ValidateUser(gomock.Any(), to).Return(true, nil)
		_, err := s.service.Transfer(s.ctx, models.TransferRequest{FromUserID: from, ToUserID: to, Amount: 51, CreditType: models.CreditTypeBonus})
		s.ErrorIs(err, models.ErrInsufficientCredits)
		s.Equal(int64(50), s.account(from, models.CreditTypeBonus).Balance)
	})

	s.Run("inactive recipient account", func() {
		inactive := newUser()
		account, err := s.service.CreateAccount(s.ctx, inactive, models.CreditTypeBonus, "", 0)
		s.Require().NoError(err)
		s.Require().NoError(s.service.DeactivateAccount(s.ctx, account.ID))
		s.mockUsers.EXPECT().ValidateUser(gomock.Any(), inactive).Return(true, nil)

		_, err = s.service.Transfer(s.ctx, models.TransferRequest{FromUserID: from, ToUserID: inactive, Amount: 10, CreditType: models.CreditTypeBonus})
		s.ErrorIs(err, models.ErrAccountInactive)
		s.Equal(int64(50), s.account(from, models.CreditTypeBonus).Balance)
	})
}

func (s *ServiceSuite) TestTransferredCreditsAreSpendable() {
	from, to := newUser(), newUser()
	s.grant(from, 100, models.CreditTypePromotional, nil)
	s.mockUsers.EXPECT().ValidateUser(gomock.Any(), to).Return(true, nil)
	_, err := s.service.Transfer(s.ctx, models.TransferRequest{FromUserID: from, ToUserID: to, Amount: 60, CreditType: models.CreditTypePromotional})
	s.Require().NoError(err)

	s.Run("recipient draws an unattributed line", func() {
		res, err := s.service.Consume(s.ctx, models.ConsumeRequest{UserID: to, Amount: 60})
		s.Require().NoError(err)
		s.Require().Len(res.Transactions, 1)
		s.Nil(res.Transactions[0].AllocationID)
		s.Equal(int64(0), s.account(to, models.CreditTypePromotional).Balance)
	})

	s.Run("sender draws are capped by balance", func() {
		_, err := s.service.Consume(s.ctx, models.ConsumeRequest{UserID: from, Amount: 41})
		s.ErrorIs(err, models.ErrInsufficientCredits)

		res, err := s.service.Consume(s.ctx, models.ConsumeRequest{UserID: from, Amount: 40})
		s.Require().NoError(err)
		s.Equal(int64(40), res.Consumed)
		s.requireBalanced(s.account(from, models.CreditTypePromotional))
	})
}

func (s *ServiceSuite) TestTransferCompensatesSender() {
	faulty := &faultyStore{InMemoryStore: s.store, failTransferIn: true}
	svc := s.newService(faulty)
	from, to := newUser(), newUser()
	s.grant(from, 80, models.CreditTypeBonus, nil)
	s.mockUsers.EXPECT().ValidateUser(gomock.Any(), to).Return(true, nil)

	_, err := svc.Transfer(s.ctx, models.TransferRequest{FromUserID: from, ToUserID: to, Amount: 30, CreditType: models.CreditTypeBonus})
	s.ErrorIs(err, models.ErrTransferFailed)

	sender := s.account(from, models.CreditTypeBonus)
	s.Equal(int64(80), sender.Balance)
	s.requireBalanced(sender)
	s.Equal(int64(0), s.account(to, models.CreditTypeBonus).Balance)
}
