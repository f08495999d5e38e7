package service

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"credits/internal/credit/models"
	id "credits/pkg/domain"
	"credits/pkg/platform/sentinel"
)

// Transfer moves balance between two users' accounts of the same credit type.
// Only balances move; the sender's allocations keep their counters.
func (s *Service) Transfer(ctx context.Context, req models.TransferRequest) (result *models.TransferResult, err error) {
	ctx, finish := s.startSpan(ctx, "transfer",
		attribute.String("credit_type", string(req.CreditType)),
		attribute.Int64("amount", req.Amount),
	)
	defer finish(&err)

	if req.FromUserID.IsNil() || req.ToUserID.IsNil() {
		return nil, models.InvalidTransfer("both users are required")
	}
	if req.FromUserID == req.ToUserID {
		return nil, models.InvalidTransfer("cannot transfer to the same user")
	}
	if req.Amount <= 0 {
		return nil, models.InvalidTransfer("amount must be positive")
	}
	if !req.CreditType.IsValid() {
		return nil, models.InvalidCreditType(string(req.CreditType))
	}
	if !req.CreditType.Transferable() {
		return nil, models.NonTransferableType(req.CreditType)
	}
	if err := s.validateRecipient(ctx, req.ToUserID); err != nil {
		return nil, err
	}

	from, err := s.store.GetAccountByUserAndType(ctx, req.FromUserID, req.CreditType)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, models.AccountNotFound(fmt.Sprintf("sender has no %s account", req.CreditType))
		}
		return nil, models.TransferFailed("load sender account", err)
	}
	if err := requireActive(from); err != nil {
		return nil, err
	}
	if from.Balance < req.Amount {
		return nil, models.InsufficientCredits(from.Balance, req.Amount)
	}
	to, err := s.accountFor(ctx, req.ToUserID, req.CreditType)
	if err != nil {
		return nil, models.TransferFailed("resolve recipient account", err)
	}
	if err := requireActive(to); err != nil {
		return nil, err
	}

	ok, err := s.store.UpdateAccountBalance(ctx, from.ID, -req.Amount, models.TransactionTransferOut)
	if err != nil {
		return nil, models.TransferFailed("debit sender", err)
	}
	if !ok {
		available := from.Balance
		if current, getErr := s.store.GetAccountByID(ctx, from.ID); getErr == nil {
			available = current.Balance
		}
		return nil, models.InsufficientCredits(available, req.Amount)
	}

	ok, err = s.store.UpdateAccountBalance(ctx, to.ID, req.Amount, models.TransactionTransferIn)
	if err != nil || !ok {
		if err == nil {
			err = sentinel.ErrInvalidState
		}
		s.compensateSender(ctx, from, req.Amount, err)
		return nil, models.TransferFailed("credit recipient", err)
	}

	now := s.now(ctx)
	transferID := id.NewTransferID()
	metadata := map[string]string{"transfer_id": transferID.String()}
	if req.Note != "" {
		metadata["note"] = req.Note
	}
	outgoing := &models.CreditTransaction{
		ID:            id.NewTransactionID(),
		AccountID:     from.ID,
		UserID:        req.FromUserID,
		CreditType:    req.CreditType,
		Type:          models.TransactionTransferOut,
		Amount:        -req.Amount,
		BalanceBefore: from.Balance,
		BalanceAfter:  from.Balance - req.Amount,
		ReferenceID:   transferID.String(),
		ReferenceType: models.ReferenceTransfer,
		Metadata:      metadata,
		CreatedAt:     now,
	}
	incoming := &models.CreditTransaction{
		ID:            id.NewTransactionID(),
		AccountID:     to.ID,
		UserID:        req.ToUserID,
		CreditType:    req.CreditType,
		Type:          models.TransactionTransferIn,
		Amount:        req.Amount,
		BalanceBefore: to.Balance,
		BalanceAfter:  to.Balance + req.Amount,
		ReferenceID:   transferID.String(),
		ReferenceType: models.ReferenceTransfer,
		Metadata:      metadata,
		CreatedAt:     now,
	}
	for _, txn := range []*models.CreditTransaction{outgoing, incoming} {
		if err := s.store.CreateTransaction(ctx, txn); err != nil {
			return nil, models.TransferFailed("record "+string(txn.Type)+" transaction", err)
		}
	}

	from.Balance -= req.Amount
	from.TotalConsumed += req.Amount
	to.Balance += req.Amount
	to.TotalAllocated += req.Amount

	s.metrics.AddTransferred(string(req.CreditType), req.Amount)
	s.logAudit(ctx, "credits_transferred",
		"transfer_id", transferID.String(),
		"from_user_id", req.FromUserID.String(),
		"to_user_id", req.ToUserID.String(),
		"credit_type", string(req.CreditType),
		"amount", req.Amount,
	)
	s.publish(ctx, models.TopicTransferred, models.TransferredEvent{
		TransferID: transferID,
		FromUserID: req.FromUserID,
		ToUserID:   req.ToUserID,
		CreditType: req.CreditType,
		Amount:     req.Amount,
		Note:       req.Note,
		OccurredAt: now,
	})

	return &models.TransferResult{
		TransferID:  transferID,
		Outgoing:    outgoing,
		Incoming:    incoming,
		FromAccount: from,
		ToAccount:   to,
	}, nil
}

// validateRecipient asks the user directory whether the recipient exists.
// Lookup failures allow the transfer.
func (s *Service) validateRecipient(ctx context.Context, userID id.UserID) error {
	if s.users == nil {
		return nil
	}
	valid, err := s.users.ValidateUser(ctx, userID)
	if err != nil {
		s.logger.WarnContext(ctx, "recipient validation unavailable, allowing transfer",
			"user_id", userID.String(),
			"error", err,
		)
		return nil
	}
	if !valid {
		return models.UserValidationFailed("recipient is not a valid user")
	}
	return nil
}

// compensateSender re-credits the sender after the recipient credit failed.
// The reversal uses the transfer_out counter so TotalConsumed is restored.
func (s *Service) compensateSender(ctx context.Context, from *models.CreditAccount, amount int64, cause error) {
	ok, err := s.store.UpdateAccountBalance(ctx, from.ID, amount, models.TransactionTransferOut)
	if err == nil && ok {
		s.logger.WarnContext(ctx, "transfer compensated after recipient credit failed",
			"account_id", from.ID.String(),
			"amount", amount,
			"cause", cause,
		)
		return
	}
	s.logger.ErrorContext(ctx, "transfer compensation failed, sender debited without recipient credit",
		"account_id", from.ID.String(),
		"amount", amount,
		"cause", cause,
		"error", err,
	)
}
