package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"credits/internal/credit/models"
	id "credits/pkg/domain"
	"credits/pkg/platform/sentinel"
)

const allocationColumns = `id, account_id, user_id, credit_type, campaign_id, transaction_id, amount,
	consumed_amount, expired_amount, expires_at, status, metadata, created_at, updated_at`

// fifoOrder matches sortFifo in the in-memory store.
const fifoOrder = `ORDER BY expires_at ASC NULLS LAST, created_at ASC, id ASC`

func (s *PostgresStore) CreateAllocation(ctx context.Context, allocation *models.CreditAllocation) error {
	metadata, err := marshalMetadata(allocation.Metadata)
	if err != nil {
		return err
	}
	var campaignID uuid.NullUUID
	if allocation.CampaignID != nil {
		campaignID = uuid.NullUUID{UUID: uuid.UUID(*allocation.CampaignID), Valid: true}
	}
	query := `
		INSERT INTO credit_allocations (` + allocationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		allocation.ID.String(),
		allocation.AccountID.String(),
		allocation.UserID.String(),
		string(allocation.CreditType),
		campaignID,
		allocation.TransactionID.String(),
		allocation.Amount,
		allocation.ConsumedAmount,
		allocation.ExpiredAmount,
		nullTime(allocation.ExpiresAt),
		string(allocation.Status),
		metadata,
		allocation.CreatedAt,
		allocation.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create credit allocation: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAllocationByID(ctx context.Context, allocationID id.AllocationID) (*models.CreditAllocation, error) {
	query := `SELECT ` + allocationColumns + ` FROM credit_allocations WHERE id = $1`
	a, err := scanAllocation(s.execer(ctx).QueryRowContext(ctx, query, allocationID.String()))
	if err != nil {
		return nil, notFoundOr(err, "get credit allocation")
	}
	return a, nil
}

func (s *PostgresStore) FindAllocationByTransaction(ctx context.Context, txnID id.TransactionID) (*models.CreditAllocation, error) {
	query := `SELECT ` + allocationColumns + ` FROM credit_allocations WHERE transaction_id = $1`
	a, err := scanAllocation(s.execer(ctx).QueryRowContext(ctx, query, txnID.String()))
	if err != nil {
		return nil, notFoundOr(err, "find credit allocation by transaction")
	}
	return a, nil
}

func (s *PostgresStore) GetAvailableAllocationsFifo(ctx context.Context, accountID id.AccountID, now time.Time) ([]*models.CreditAllocation, error) {
	query := `
		SELECT ` + allocationColumns + `
		FROM credit_allocations
		WHERE account_id = $1
		  AND consumed_amount + expired_amount < amount
		  AND (expires_at IS NULL OR expires_at > $2)
		` + fifoOrder
	return s.queryAllocations(ctx, "get available allocations", query, accountID.String(), now)
}

func (s *PostgresStore) SumOpenAllocations(ctx context.Context, accountID id.AccountID) (int64, error) {
	var sum int64
	err := s.execer(ctx).QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount - consumed_amount - expired_amount), 0)
		FROM credit_allocations
		WHERE account_id = $1
		  AND consumed_amount + expired_amount < amount
	`, accountID.String()).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum open allocations: %w", err)
	}
	return sum, nil
}

func (s *PostgresStore) UpdateAllocationConsumed(ctx context.Context, allocationID id.AllocationID, amount int64) (bool, error) {
	return s.bumpAllocation(ctx, allocationID, amount, "consumed_amount")
}

func (s *PostgresStore) UpdateAllocationExpired(ctx context.Context, allocationID id.AllocationID, amount int64) (bool, error) {
	return s.bumpAllocation(ctx, allocationID, amount, "expired_amount")
}

// bumpAllocation increments one counter and recomputes status in a single
// conditional statement. column is one of two compile-time constants.
func (s *PostgresStore) bumpAllocation(ctx context.Context, allocationID id.AllocationID, amount int64, column string) (bool, error) {
	if amount <= 0 {
		return false, nil
	}
	exhausted := `CASE WHEN expired_amount > 0 THEN 'expired' ELSE 'consumed' END`
	if column == "expired_amount" {
		exhausted = `'expired'`
	}
	query := `
		UPDATE credit_allocations
		SET ` + column + ` = ` + column + ` + $2,
		    status = CASE WHEN consumed_amount + expired_amount + $2 < amount THEN 'active' ELSE ` + exhausted + ` END,
		    updated_at = NOW()
		WHERE id = $1
		  AND consumed_amount + expired_amount + $2 <= amount
	`
	result, err := s.execer(ctx).ExecContext(ctx, query, allocationID.String(), amount)
	if err != nil {
		return false, fmt.Errorf("update allocation %s: %w", column, err)
	}
	applied, err := rowsApplied(result, "update allocation "+column)
	if err != nil || applied {
		return applied, err
	}
	if _, err := s.GetAllocationByID(ctx, allocationID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *PostgresStore) GetExpiringAllocations(ctx context.Context, before time.Time, after *models.ExpiryCursor, limit int) ([]*models.CreditAllocation, error) {
	args := []any{before, limit}
	keyset := ""
	if after != nil {
		keyset = `AND (expires_at, id) > ($3, $4::uuid)`
		args = append(args, after.ExpiresAt, after.ID.String())
	}
	query := `
		SELECT ` + allocationColumns + `
		FROM credit_allocations
		WHERE expires_at IS NOT NULL
		  AND expires_at <= $1
		  AND consumed_amount + expired_amount < amount
		  ` + keyset + `
		ORDER BY expires_at ASC, id ASC
		LIMIT $2
	`
	return s.queryAllocations(ctx, "get expiring allocations", query, args...)
}

func (s *PostgresStore) GetAllocationsExpiringBetween(ctx context.Context, from, to time.Time) ([]*models.CreditAllocation, error) {
	query := `
		SELECT ` + allocationColumns + `
		FROM credit_allocations
		WHERE expires_at > $1
		  AND expires_at <= $2
		  AND consumed_amount + expired_amount < amount
		` + fifoOrder
	return s.queryAllocations(ctx, "get allocations expiring between", query, from, to)
}

func (s *PostgresStore) queryAllocations(ctx context.Context, op, query string, args ...any) ([]*models.CreditAllocation, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []*models.CreditAllocation
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: iterate: %w", op, err)
	}
	return out, nil
}

func scanAllocation(row rowScanner) (*models.CreditAllocation, error) {
	var (
		a            models.CreditAllocation
		allocationID uuid.UUID
		accountID    uuid.UUID
		userID       uuid.UUID
		creditType   string
		campaignID   uuid.NullUUID
		txnID        uuid.UUID
		expiresAt    sql.NullTime
		status       string
		metadata     []byte
	)
	if err := row.Scan(
		&allocationID,
		&accountID,
		&userID,
		&creditType,
		&campaignID,
		&txnID,
		&a.Amount,
		&a.ConsumedAmount,
		&a.ExpiredAmount,
		&expiresAt,
		&status,
		&metadata,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	a.ID = id.AllocationID(allocationID)
	a.AccountID = id.AccountID(accountID)
	a.UserID = id.UserID(userID)
	a.CreditType = models.CreditType(creditType)
	if campaignID.Valid {
		c := id.CampaignID(campaignID.UUID)
		a.CampaignID = &c
	}
	a.TransactionID = id.TransactionID(txnID)
	a.ExpiresAt = timePtr(expiresAt)
	a.Status = models.AllocationStatus(status)
	m, err := unmarshalMetadata(metadata)
	if err != nil {
		return nil, err
	}
	a.Metadata = m
	return &a, nil
}
