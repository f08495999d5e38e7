package service

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"credits/internal/credit/models"
	id "credits/pkg/domain"
)

// Consume spends amount from the user's accounts following the consumption
// plan. Lines are executed in order; a rejected balance debit aborts with
// ConsumptionFailed and leaves earlier lines applied.
func (s *Service) Consume(ctx context.Context, req models.ConsumeRequest) (result *models.ConsumeResult, err error) {
	ctx, finish := s.startSpan(ctx, "consume", attribute.Int64("amount", req.Amount))
	defer finish(&err)

	if req.UserID.IsNil() {
		return nil, models.Validation("user_id is required")
	}
	if req.Amount <= 0 {
		return nil, models.Validation("amount must be positive")
	}

	plan, accounts, err := s.buildPlan(ctx, req.UserID, req.Amount)
	if err != nil {
		return nil, err
	}

	now := s.now(ctx)
	balances := make(map[id.AccountID]int64, len(accounts))
	for accountID, a := range accounts {
		balances[accountID] = a.Balance
	}

	result = &models.ConsumeResult{UserID: req.UserID}
	event := models.ConsumedEvent{
		UserID:           req.UserID,
		BillingReference: req.BillingReference,
		OccurredAt:       now,
	}
	for i, line := range plan.Lines {
		txn := &models.CreditTransaction{
			ID:            id.NewTransactionID(),
			AccountID:     line.AccountID,
			UserID:        req.UserID,
			CreditType:    line.CreditType,
			Type:          models.TransactionConsume,
			Amount:        -line.Amount,
			BalanceBefore: balances[line.AccountID],
			BalanceAfter:  balances[line.AccountID] - line.Amount,
			ReferenceID:   req.BillingReference,
			AllocationID:  line.AllocationID,
			Metadata:      req.Metadata,
			CreatedAt:     now,
		}
		if req.BillingReference != "" {
			txn.ReferenceType = models.ReferenceBilling
		}
		if err := s.store.CreateTransaction(ctx, txn); err != nil {
			return nil, models.ConsumptionFailed(fmt.Sprintf("record consume transaction for line %d", i), err)
		}

		ok, err := s.store.UpdateAccountBalance(ctx, line.AccountID, -line.Amount, models.TransactionConsume)
		if err != nil {
			return nil, models.ConsumptionFailed(fmt.Sprintf("debit %s account", line.CreditType), err)
		}
		if !ok {
			return nil, models.ConsumptionFailed(fmt.Sprintf("%s balance changed during consumption", line.CreditType), nil)
		}
		balances[line.AccountID] -= line.Amount

		if line.AllocationID != nil {
			s.attributeConsumption(ctx, *line.AllocationID, line.Amount)
		}

		s.metrics.AddConsumed(string(line.CreditType), line.Amount)
		result.Transactions = append(result.Transactions, txn)
		result.Consumed += line.Amount
		event.Lines = append(event.Lines, models.ConsumedLine{
			TransactionID: txn.ID,
			AccountID:     line.AccountID,
			AllocationID:  line.AllocationID,
			CreditType:    line.CreditType,
			Amount:        line.Amount,
		})
	}
	event.Amount = result.Consumed

	s.logAudit(ctx, "credits_consumed",
		"user_id", req.UserID.String(),
		"amount", result.Consumed,
		"lines", len(result.Transactions),
		"billing_reference", req.BillingReference,
	)
	s.publish(ctx, models.TopicConsumed, event)
	return result, nil
}

// attributeConsumption records the draw against the allocation. The balance
// has already moved, so a rejected update is logged as drift and not returned.
func (s *Service) attributeConsumption(ctx context.Context, allocationID id.AllocationID, amount int64) {
	ok, err := s.store.UpdateAllocationConsumed(ctx, allocationID, amount)
	if err == nil && ok {
		return
	}
	s.metrics.IncrementAttributionDrift()
	s.logger.WarnContext(ctx, "allocation consumption attribution rejected",
		"allocation_id", allocationID.String(),
		"amount", amount,
		"error", err,
	)
}
