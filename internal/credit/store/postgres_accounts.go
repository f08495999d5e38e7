package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"credits/internal/credit/models"
	id "credits/pkg/domain"
	"credits/pkg/platform/sentinel"
)

const accountColumns = `id, user_id, credit_type, balance, total_allocated, total_consumed, total_expired,
	expiration_policy, expiration_days, is_active, metadata, created_at, updated_at`

func (s *PostgresStore) CreateAccount(ctx context.Context, account *models.CreditAccount) error {
	metadata, err := marshalMetadata(account.Metadata)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO credit_accounts (` + accountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		account.ID.String(),
		account.UserID.String(),
		string(account.CreditType),
		account.Balance,
		account.TotalAllocated,
		account.TotalConsumed,
		account.TotalExpired,
		string(account.ExpirationPolicy),
		account.ExpirationDays,
		account.IsActive,
		metadata,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create credit account: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAccountByID(ctx context.Context, accountID id.AccountID) (*models.CreditAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM credit_accounts WHERE id = $1`
	account, err := scanAccount(s.execer(ctx).QueryRowContext(ctx, query, accountID.String()))
	if err != nil {
		return nil, notFoundOr(err, "get credit account")
	}
	return account, nil
}

func (s *PostgresStore) GetAccountByUserAndType(ctx context.Context, userID id.UserID, creditType models.CreditType) (*models.CreditAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM credit_accounts WHERE user_id = $1 AND credit_type = $2`
	account, err := scanAccount(s.execer(ctx).QueryRowContext(ctx, query, userID.String(), string(creditType)))
	if err != nil {
		return nil, notFoundOr(err, "get credit account by user and type")
	}
	return account, nil
}

func (s *PostgresStore) ListAccountsForUser(ctx context.Context, userID id.UserID, filter models.AccountFilter) ([]*models.CreditAccount, error) {
	types := make([]string, 0, len(filter.CreditTypes))
	for _, t := range filter.CreditTypes {
		types = append(types, string(t))
	}
	query := `
		SELECT ` + accountColumns + `
		FROM credit_accounts
		WHERE user_id = $1
		  AND (cardinality($2::text[]) = 0 OR credit_type = ANY($2::text[]))
		  AND (NOT $3 OR is_active)
		ORDER BY CASE credit_type
			WHEN 'compensation' THEN 1
			WHEN 'promotional' THEN 2
			WHEN 'bonus' THEN 3
			WHEN 'referral' THEN 4
			WHEN 'subscription' THEN 5
			ELSE 99 END
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, userID.String(), pq.Array(types), filter.ActiveOnly)
	if err != nil {
		return nil, fmt.Errorf("list credit accounts: %w", err)
	}
	defer rows.Close()

	var out []*models.CreditAccount
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credit account: %w", err)
		}
		out = append(out, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credit accounts: %w", err)
	}
	return out, nil
}

// UpdateAccountBalance moves balance and the matching lifetime counter in one
// statement; the WHERE clause rejects any update that would go negative.
func (s *PostgresStore) UpdateAccountBalance(ctx context.Context, accountID id.AccountID, delta int64, txType models.TransactionType) (bool, error) {
	var counter string
	switch txType {
	case models.TransactionAllocate, models.TransactionTransferIn:
		counter = "total_allocated = total_allocated + $2"
	case models.TransactionConsume, models.TransactionTransferOut:
		counter = "total_consumed = total_consumed - $2"
	case models.TransactionExpire:
		counter = "total_expired = total_expired - $2"
	default:
		return false, fmt.Errorf("update balance: unsupported transaction type %q", txType)
	}
	query := `
		UPDATE credit_accounts
		SET balance = balance + $2, ` + counter + `, updated_at = NOW()
		WHERE id = $1
		  AND balance + $2 >= 0
	`
	result, err := s.execer(ctx).ExecContext(ctx, query, accountID.String(), delta)
	if err != nil {
		return false, fmt.Errorf("update credit balance: %w", err)
	}
	applied, err := rowsApplied(result, "update credit balance")
	if err != nil || applied {
		return applied, err
	}
	if _, err := s.GetAccountByID(ctx, accountID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *PostgresStore) SetAccountActive(ctx context.Context, accountID id.AccountID, active bool) error {
	result, err := s.execer(ctx).ExecContext(ctx,
		`UPDATE credit_accounts SET is_active = $2, updated_at = NOW() WHERE id = $1`,
		accountID.String(), active)
	if err != nil {
		return fmt.Errorf("set credit account active: %w", err)
	}
	applied, err := rowsApplied(result, "set credit account active")
	if err != nil {
		return err
	}
	if !applied {
		return sentinel.ErrNotFound
	}
	return nil
}

func scanAccount(row rowScanner) (*models.CreditAccount, error) {
	var (
		a          models.CreditAccount
		accountID  uuid.UUID
		userID     uuid.UUID
		creditType string
		policy     string
		metadata   []byte
	)
	if err := row.Scan(
		&accountID,
		&userID,
		&creditType,
		&a.Balance,
		&a.TotalAllocated,
		&a.TotalConsumed,
		&a.TotalExpired,
		&policy,
		&a.ExpirationDays,
		&a.IsActive,
		&metadata,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	a.ID = id.AccountID(accountID)
	a.UserID = id.UserID(userID)
	a.CreditType = models.CreditType(creditType)
	a.ExpirationPolicy = models.ExpirationPolicy(policy)
	m, err := unmarshalMetadata(metadata)
	if err != nil {
		return nil, err
	}
	a.Metadata = m
	return &a, nil
}
