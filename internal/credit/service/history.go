package service

import (
	"context"
	"fmt"

	"credits/internal/credit/models"
	id "credits/pkg/domain"
)

// ListTransactions returns the user's ledger entries, newest first.
func (s *Service) ListTransactions(ctx context.Context, userID id.UserID, filter models.TransactionFilter) ([]*models.CreditTransaction, error) {
	for _, t := range filter.Types {
		if !t.IsValid() {
			return nil, models.Validation(fmt.Sprintf("unknown transaction type %q", t))
		}
	}
	for _, t := range filter.CreditTypes {
		if !t.IsValid() {
			return nil, models.InvalidCreditType(string(t))
		}
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, models.Validation("history window ends before it starts")
	}
	filter.Normalize()

	txns, err := s.store.ListTransactionsForUser(ctx, userID, filter)
	if err != nil {
		return nil, fmt.Errorf("list credit transactions: %w", err)
	}
	return txns, nil
}

// EraseUserData deletes every ledger row owned by the user.
func (s *Service) EraseUserData(ctx context.Context, userID id.UserID) (deleted int, err error) {
	ctx, finish := s.startSpan(ctx, "erase_user_data")
	defer finish(&err)

	if userID.IsNil() {
		return 0, models.Validation("user_id is required")
	}
	deleted, err = s.store.DeleteAllUserData(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("erase credit data: %w", err)
	}
	s.logAudit(ctx, "credit_data_erased",
		"user_id", userID.String(),
		"rows_deleted", deleted,
	)
	return deleted, nil
}
