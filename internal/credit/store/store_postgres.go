package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	id "credits/pkg/domain"
	"credits/pkg/platform/sentinel"
	txcontext "credits/pkg/platform/tx"
)

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// PostgresStore persists the ledger in PostgreSQL.
// This store is pure I/O: balance arithmetic happens in single conditional
// statements and all ledger rules belong in the service.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed ledger store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// execer joins a transaction carried in ctx, otherwise uses the pool.
func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

type rowScanner interface {
	Scan(dest ...any) error
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolation
	}
	return false
}

func notFoundOr(err error, op string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel.ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

func rowsApplied(result sql.Result, op string) (bool, error) {
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s rows affected: %w", op, err)
	}
	return rows > 0, nil
}

func marshalMetadata(m map[string]string) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return b, nil
}

func unmarshalMetadata(b []byte) (map[string]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// DeleteAllUserData removes the user's transactions, allocations and accounts
// in one SQL transaction and returns the number of rows removed.
func (s *PostgresStore) DeleteAllUserData(ctx context.Context, userID id.UserID) (int, error) {
	deleted := 0
	err := txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		for _, stmt := range []string{
			`DELETE FROM credit_transactions WHERE user_id = $1`,
			`DELETE FROM credit_allocations WHERE user_id = $1`,
			`DELETE FROM credit_accounts WHERE user_id = $1`,
		} {
			result, err := s.execer(ctx).ExecContext(ctx, stmt, userID.String())
			if err != nil {
				return fmt.Errorf("delete user data: %w", err)
			}
			n, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("delete user data rows affected: %w", err)
			}
			deleted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}
