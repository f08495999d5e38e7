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

// Allocate grants credits to a user. Writes happen in a fixed order: campaign
// budget reservation, allocate transaction, balance increment, allocation row.
// A failure after the reservation releases it, and a failed allocation row
// takes the balance increment back, so a keyed retry can finish the grant from
// the transaction the failed attempt left behind.
func (s *Service) Allocate(ctx context.Context, req models.AllocateRequest) (result *models.AllocateResult, err error) {
	ctx, finish := s.startSpan(ctx, "allocate",
		attribute.String("credit_type", string(req.CreditType)),
		attribute.Int64("amount", req.Amount),
	)
	defer finish(&err)

	if req.UserID.IsNil() {
		return nil, models.Validation("user_id is required")
	}
	if req.Amount <= 0 {
		return nil, models.Validation("amount must be positive")
	}
	if !req.CreditType.IsValid() {
		return nil, models.InvalidCreditType(string(req.CreditType))
	}

	account, err := s.accountFor(ctx, req.UserID, req.CreditType)
	if err != nil {
		return nil, models.AllocationFailed("resolve account", err)
	}
	if err := requireActive(account); err != nil {
		return nil, err
	}

	var pending *models.CreditTransaction
	if req.IdempotencyKey != "" {
		replay, unfinished, err := s.priorAllocation(ctx, account, req)
		if replay != nil || err != nil {
			return replay, err
		}
		pending = unfinished
	}

	var campaign *models.CreditCampaign
	if req.CampaignID != nil {
		campaign, err = s.ValidateForAllocation(ctx, *req.CampaignID, req.UserID, req.Amount)
		if err != nil {
			return nil, err
		}
		if campaign.CreditType != req.CreditType {
			return nil, models.Validation(fmt.Sprintf("campaign grants %s credits, not %s", campaign.CreditType, req.CreditType))
		}
		if err := s.reserveBudget(ctx, campaign, req.Amount); err != nil {
			return nil, err
		}
	}
	release := func(reason string) {
		if campaign == nil {
			return
		}
		if ok, err := s.store.UpdateCampaignBudget(ctx, campaign.ID, -req.Amount); err != nil || !ok {
			s.logger.ErrorContext(ctx, "failed to release campaign budget reservation",
				"campaign_id", campaign.ID.String(),
				"amount", req.Amount,
				"reason", reason,
				"error", err,
			)
		}
	}

	now := s.now(ctx)
	txn := pending
	if txn == nil {
		expiresAt := s.resolveExpiry(ctx, account, campaign, req, now)
		allocationID := id.NewAllocationID()
		txn = &models.CreditTransaction{
			ID:             id.NewTransactionID(),
			AccountID:      account.ID,
			UserID:         req.UserID,
			CreditType:     req.CreditType,
			Type:           models.TransactionAllocate,
			Amount:         req.Amount,
			BalanceBefore:  account.Balance,
			BalanceAfter:   account.Balance + req.Amount,
			AllocationID:   &allocationID,
			IdempotencyKey: req.IdempotencyKey,
			ExpiresAt:      expiresAt,
			Metadata:       req.Metadata,
			CreatedAt:      now,
		}
		if campaign != nil {
			txn.ReferenceID = campaign.ID.String()
			txn.ReferenceType = models.ReferenceCampaign
		}
		if err := s.store.CreateTransaction(ctx, txn); err != nil {
			if !errors.Is(err, sentinel.ErrConflict) || req.IdempotencyKey == "" {
				release("transaction write failed")
				return nil, models.AllocationFailed("record allocate transaction", err)
			}
			// a concurrent attempt claimed the key first
			replay, unfinished, replayErr := s.priorAllocation(ctx, account, req)
			if replay != nil || replayErr != nil || unfinished == nil {
				release("idempotency key already used")
				if replay == nil && replayErr == nil {
					replayErr = models.AllocationFailed("record allocate transaction", err)
				}
				return replay, replayErr
			}
			txn = unfinished
		}
	}

	ok, err := s.store.UpdateAccountBalance(ctx, account.ID, req.Amount, models.TransactionAllocate)
	if err != nil || !ok {
		release("balance update failed")
		if err == nil {
			err = sentinel.ErrInvalidState
		}
		return nil, models.AllocationFailed("increment balance", err)
	}

	allocation := &models.CreditAllocation{
		ID:            *txn.AllocationID,
		AccountID:     account.ID,
		UserID:        req.UserID,
		CreditType:    req.CreditType,
		CampaignID:    req.CampaignID,
		TransactionID: txn.ID,
		Amount:        req.Amount,
		ExpiresAt:     txn.ExpiresAt,
		Status:        models.AllocationActive,
		Metadata:      req.Metadata,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreateAllocation(ctx, allocation); err != nil {
		s.revertBalance(ctx, account.ID, req.Amount, txn.ID)
		release("allocation write failed")
		if errors.Is(err, sentinel.ErrConflict) && req.IdempotencyKey != "" {
			if replay, _, replayErr := s.priorAllocation(ctx, account, req); replay != nil || replayErr != nil {
				return replay, replayErr
			}
		}
		return nil, models.AllocationFailed("record allocation", err)
	}

	current, err := s.store.GetAccountByID(ctx, account.ID)
	if err != nil {
		current = account
		current.Balance += req.Amount
		current.TotalAllocated += req.Amount
	}
	s.metrics.AddAllocated(string(req.CreditType), req.Amount)
	s.logAudit(ctx, "credits_allocated",
		"user_id", req.UserID.String(),
		"account_id", account.ID.String(),
		"allocation_id", allocation.ID.String(),
		"credit_type", string(req.CreditType),
		"amount", req.Amount,
	)
	s.publish(ctx, models.TopicAllocated, models.AllocatedEvent{
		UserID:       req.UserID,
		AccountID:    account.ID,
		AllocationID: allocation.ID,
		CreditType:   req.CreditType,
		Amount:       req.Amount,
		CampaignID:   req.CampaignID,
		ExpiresAt:    allocation.ExpiresAt,
		BalanceAfter: current.Balance,
		OccurredAt:   now,
	})

	return &models.AllocateResult{
		Allocation:  allocation,
		Transaction: txn,
		Account:     current,
	}, nil
}

// revertBalance takes back a balance increment whose allocation row could not
// be written, leaving only the allocate transaction behind.
func (s *Service) revertBalance(ctx context.Context, accountID id.AccountID, amount int64, txnID id.TransactionID) {
	ok, err := s.store.UpdateAccountBalance(ctx, accountID, -amount, models.TransactionAllocate)
	if err == nil && ok {
		return
	}
	s.logger.ErrorContext(ctx, "failed to revert balance after allocation write failure",
		"account_id", accountID.String(),
		"transaction_id", txnID.String(),
		"amount", amount,
		"error", err,
	)
}

// reserveBudget takes the campaign budget before any ledger write so that
// concurrent allocations can never exceed it.
func (s *Service) reserveBudget(ctx context.Context, campaign *models.CreditCampaign, amount int64) error {
	ok, err := s.store.UpdateCampaignBudget(ctx, campaign.ID, amount)
	if err != nil {
		return models.AllocationFailed("reserve campaign budget", err)
	}
	if ok {
		return nil
	}
	current, err := s.store.GetCampaignByID(ctx, campaign.ID)
	if err != nil {
		return models.CampaignBudgetExhausted(campaign.TotalBudget, campaign.AllocatedAmount)
	}
	return models.CampaignBudgetExhausted(current.TotalBudget, current.AllocatedAmount)
}

// priorAllocation looks up an earlier allocation made with the same
// idempotency key. It returns the replayed result when that allocation
// completed, or the keyed transaction when the earlier attempt stopped before
// writing its allocation row. Both are nil when the key is unused.
func (s *Service) priorAllocation(ctx context.Context, account *models.CreditAccount, req models.AllocateRequest) (*models.AllocateResult, *models.CreditTransaction, error) {
	txn, err := s.store.FindTransactionByIdempotencyKey(ctx, account.ID, req.IdempotencyKey)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil, nil
		}
		return nil, nil, models.AllocationFailed("look up idempotency key", err)
	}
	if txn.Amount != req.Amount {
		return nil, nil, models.Validation(fmt.Sprintf("idempotency key %q was used for an allocation of %d", req.IdempotencyKey, txn.Amount))
	}
	allocation, err := s.store.FindAllocationByTransaction(ctx, txn.ID)
	if errors.Is(err, sentinel.ErrNotFound) {
		if txn.AllocationID == nil {
			return nil, nil, models.AllocationFailed("resume keyed allocation", sentinel.ErrInvalidState)
		}
		s.logger.WarnContext(ctx, "resuming allocation left unfinished by an earlier attempt",
			"account_id", account.ID.String(),
			"transaction_id", txn.ID.String(),
		)
		return nil, txn, nil
	}
	if err != nil {
		return nil, nil, models.AllocationFailed("load replayed allocation", err)
	}
	current, err := s.store.GetAccountByID(ctx, account.ID)
	if err != nil {
		return nil, nil, models.AllocationFailed("load replayed account", err)
	}
	s.logger.InfoContext(ctx, "allocation replayed for idempotency key",
		"account_id", account.ID.String(),
		"transaction_id", txn.ID.String(),
	)
	return &models.AllocateResult{
		Allocation:  allocation,
		Transaction: txn,
		Account:     current,
		Replayed:    true,
	}, nil, nil
}
