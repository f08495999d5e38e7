package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"credits/internal/credit/models"
	id "credits/pkg/domain"
	"credits/pkg/platform/sentinel"
)

const transactionColumns = `id, account_id, user_id, credit_type, type, amount, balance_before, balance_after,
	reference_id, reference_type, allocation_id, idempotency_key, expires_at, metadata, created_at`

func (s *PostgresStore) CreateTransaction(ctx context.Context, txn *models.CreditTransaction) error {
	metadata, err := marshalMetadata(txn.Metadata)
	if err != nil {
		return err
	}
	var allocationID uuid.NullUUID
	if txn.AllocationID != nil {
		allocationID = uuid.NullUUID{UUID: uuid.UUID(*txn.AllocationID), Valid: true}
	}
	query := `
		INSERT INTO credit_transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		txn.ID.String(),
		txn.AccountID.String(),
		txn.UserID.String(),
		string(txn.CreditType),
		string(txn.Type),
		txn.Amount,
		txn.BalanceBefore,
		txn.BalanceAfter,
		nullString(txn.ReferenceID),
		nullString(string(txn.ReferenceType)),
		allocationID,
		nullString(txn.IdempotencyKey),
		nullTime(txn.ExpiresAt),
		metadata,
		txn.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create credit transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindTransactionByIdempotencyKey(ctx context.Context, accountID id.AccountID, key string) (*models.CreditTransaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM credit_transactions WHERE account_id = $1 AND idempotency_key = $2`
	txn, err := scanTransaction(s.execer(ctx).QueryRowContext(ctx, query, accountID.String(), key))
	if err != nil {
		return nil, notFoundOr(err, "find credit transaction by idempotency key")
	}
	return txn, nil
}

func (s *PostgresStore) ListTransactionsForUser(ctx context.Context, userID id.UserID, filter models.TransactionFilter) ([]*models.CreditTransaction, error) {
	filter.Normalize()
	txTypes := make([]string, 0, len(filter.Types))
	for _, t := range filter.Types {
		txTypes = append(txTypes, string(t))
	}
	creditTypes := make([]string, 0, len(filter.CreditTypes))
	for _, t := range filter.CreditTypes {
		creditTypes = append(creditTypes, string(t))
	}
	query := `
		SELECT ` + transactionColumns + `
		FROM credit_transactions
		WHERE user_id = $1
		  AND (cardinality($2::text[]) = 0 OR type = ANY($2::text[]))
		  AND (cardinality($3::text[]) = 0 OR credit_type = ANY($3::text[]))
		  AND ($4::timestamptz IS NULL OR created_at >= $4)
		  AND ($5::timestamptz IS NULL OR created_at < $5)
		ORDER BY created_at DESC, id
		LIMIT $6 OFFSET $7
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query,
		userID.String(),
		pq.Array(txTypes),
		pq.Array(creditTypes),
		nullTime(filter.From),
		nullTime(filter.To),
		filter.Limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list credit transactions: %w", err)
	}
	defer rows.Close()

	out := []*models.CreditTransaction{}
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credit transaction: %w", err)
		}
		out = append(out, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credit transactions: %w", err)
	}
	return out, nil
}

func scanTransaction(row rowScanner) (*models.CreditTransaction, error) {
	var (
		t              models.CreditTransaction
		txnID          uuid.UUID
		accountID      uuid.UUID
		userID         uuid.UUID
		creditType     string
		txType         string
		referenceID    sql.NullString
		referenceType  sql.NullString
		allocationID   uuid.NullUUID
		idempotencyKey sql.NullString
		expiresAt      sql.NullTime
		metadata       []byte
	)
	if err := row.Scan(
		&txnID,
		&accountID,
		&userID,
		&creditType,
		&txType,
		&t.Amount,
		&t.BalanceBefore,
		&t.BalanceAfter,
		&referenceID,
		&referenceType,
		&allocationID,
		&idempotencyKey,
		&expiresAt,
		&metadata,
		&t.CreatedAt,
	); err != nil {
		return nil, err
	}
	t.ID = id.TransactionID(txnID)
	t.AccountID = id.AccountID(accountID)
	t.UserID = id.UserID(userID)
	t.CreditType = models.CreditType(creditType)
	t.Type = models.TransactionType(txType)
	t.ReferenceID = referenceID.String
	t.ReferenceType = models.ReferenceType(referenceType.String)
	if allocationID.Valid {
		allocID := id.AllocationID(allocationID.UUID)
		t.AllocationID = &allocID
	}
	t.IdempotencyKey = idempotencyKey.String
	t.ExpiresAt = timePtr(expiresAt)
	m, err := unmarshalMetadata(metadata)
	if err != nil {
		return nil, err
	}
	t.Metadata = m
	return &t, nil
}
