//go:build integration

package store_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"credits/internal/credit/models"
	"credits/internal/credit/service"
	"credits/internal/credit/store"
	id "credits/pkg/domain"
	"credits/pkg/platform/sentinel"
	"credits/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *store.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.pg = containers.GetManager().GetPostgres(s.T())
	s.store = store.NewPostgres(s.pg.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.pg.TruncateTables(context.Background(),
		"credit_transactions", "credit_allocations", "credit_accounts", "credit_campaigns"))
}

func (s *PostgresStoreSuite) newAccount(userID id.UserID, creditType models.CreditType) *models.CreditAccount {
	now := time.Now().UTC().Truncate(time.Microsecond)
	account := &models.CreditAccount{
		ID:               id.NewAccountID(),
		UserID:           userID,
		CreditType:       creditType,
		ExpirationPolicy: models.PolicyNever,
		IsActive:         true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	s.Require().NoError(s.store.CreateAccount(context.Background(), account))
	return account
}

func (s *PostgresStoreSuite) newAllocation(account *models.CreditAccount, amount int64, expiresAt *time.Time) *models.CreditAllocation {
	now := time.Now().UTC().Truncate(time.Microsecond)
	txn := &models.CreditTransaction{
		ID:         id.NewTransactionID(),
		AccountID:  account.ID,
		UserID:     account.UserID,
		CreditType: account.CreditType,
		Type:       models.TransactionAllocate,
		Amount:     amount,
		CreatedAt:  now,
	}
	s.Require().NoError(s.store.CreateTransaction(context.Background(), txn))
	a := &models.CreditAllocation{
		ID:            id.NewAllocationID(),
		AccountID:     account.ID,
		UserID:        account.UserID,
		CreditType:    account.CreditType,
		TransactionID: txn.ID,
		Amount:        amount,
		ExpiresAt:     expiresAt,
		Status:        models.AllocationActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.Require().NoError(s.store.CreateAllocation(context.Background(), a))
	return a
}

func (s *PostgresStoreSuite) TestAccounts() {
	ctx := context.Background()
	userID := id.UserID(uuid.New())
	account := s.newAccount(userID, models.CreditTypeBonus)

	s.Run("duplicate user and type conflicts", func() {
		dup := *account
		dup.ID = id.NewAccountID()
		err := s.store.CreateAccount(ctx, &dup)
		s.ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("lookup by user and type", func() {
		got, err := s.store.GetAccountByUserAndType(ctx, userID, models.CreditTypeBonus)
		s.Require().NoError(err)
		s.Equal(account.ID, got.ID)

		_, err = s.store.GetAccountByUserAndType(ctx, userID, models.CreditTypeReferral)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("balance never goes negative", func() {
		ok, err := s.store.UpdateAccountBalance(ctx, account.ID, 50, models.TransactionAllocate)
		s.Require().NoError(err)
		s.True(ok)

		ok, err = s.store.UpdateAccountBalance(ctx, account.ID, -80, models.TransactionConsume)
		s.Require().NoError(err)
		s.False(ok)

		got, err := s.store.GetAccountByID(ctx, account.ID)
		s.Require().NoError(err)
		s.Equal(int64(50), got.Balance)
		s.Equal(int64(50), got.TotalAllocated)
		s.Zero(got.TotalConsumed)
	})
}

func (s *PostgresStoreSuite) TestConcurrentDebitsNeverOverdraw() {
	ctx := context.Background()
	account := s.newAccount(id.UserID(uuid.New()), models.CreditTypePromotional)
	ok, err := s.store.UpdateAccountBalance(ctx, account.ID, 100, models.TransactionAllocate)
	s.Require().NoError(err)
	s.Require().True(ok)

	var wg sync.WaitGroup
	var mu sync.Mutex
	applied := 0
	for range 25 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.store.UpdateAccountBalance(ctx, account.ID, -10, models.TransactionConsume)
			if err == nil && ok {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	s.Equal(10, applied)
	got, err := s.store.GetAccountByID(ctx, account.ID)
	s.Require().NoError(err)
	s.Zero(got.Balance)
}

func (s *PostgresStoreSuite) TestAllocations() {
	ctx := context.Background()
	account := s.newAccount(id.UserID(uuid.New()), models.CreditTypePromotional)
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	soon := now.Add(48 * time.Hour)

	expired := s.newAllocation(account, 30, &past)
	expiring := s.newAllocation(account, 20, &soon)
	forever := s.newAllocation(account, 10, nil)

	s.Run("fifo skips expired allocations", func() {
		got, err := s.store.GetAvailableAllocationsFifo(ctx, account.ID, now)
		s.Require().NoError(err)
		s.Require().Len(got, 2)
		s.Equal(expiring.ID, got[0].ID)
		s.Equal(forever.ID, got[1].ID)
	})

	s.Run("open sum includes unprocessed expired allocations", func() {
		sum, err := s.store.SumOpenAllocations(ctx, account.ID)
		s.Require().NoError(err)
		s.Equal(int64(60), sum)
	})

	s.Run("counters stay within the amount", func() {
		ok, err := s.store.UpdateAllocationConsumed(ctx, expiring.ID, 15)
		s.Require().NoError(err)
		s.True(ok)

		ok, err = s.store.UpdateAllocationExpired(ctx, expiring.ID, 10)
		s.Require().NoError(err)
		s.False(ok)

		got, err := s.store.GetAllocationByID(ctx, expiring.ID)
		s.Require().NoError(err)
		s.Equal(int64(5), got.Available())
	})

	s.Run("expiring queries", func() {
		due, err := s.store.GetExpiringAllocations(ctx, now, nil, 10)
		s.Require().NoError(err)
		s.Require().Len(due, 1)
		s.Equal(expired.ID, due[0].ID)

		rest, err := s.store.GetExpiringAllocations(ctx, now, models.CursorAfter(due[0]), 10)
		s.Require().NoError(err)
		s.Empty(rest)

		window, err := s.store.GetAllocationsExpiringBetween(ctx, now, now.Add(72*time.Hour))
		s.Require().NoError(err)
		s.Require().Len(window, 1)
		s.Equal(expiring.ID, window[0].ID)
	})

	s.Run("lookup by transaction", func() {
		got, err := s.store.FindAllocationByTransaction(ctx, forever.TransactionID)
		s.Require().NoError(err)
		s.Equal(forever.ID, got.ID)
	})
}

func (s *PostgresStoreSuite) TestIdempotencyKeyIsUniquePerAccount() {
	ctx := context.Background()
	account := s.newAccount(id.UserID(uuid.New()), models.CreditTypeBonus)
	txn := &models.CreditTransaction{
		ID:             id.NewTransactionID(),
		AccountID:      account.ID,
		UserID:         account.UserID,
		CreditType:     account.CreditType,
		Type:           models.TransactionAllocate,
		Amount:         5,
		IdempotencyKey: "k-1",
		Metadata:       map[string]string{"source": "test"},
		CreatedAt:      time.Now().UTC(),
	}
	s.Require().NoError(s.store.CreateTransaction(ctx, txn))

	dup := *txn
	dup.ID = id.NewTransactionID()
	s.ErrorIs(s.store.CreateTransaction(ctx, &dup), sentinel.ErrConflict)

	found, err := s.store.FindTransactionByIdempotencyKey(ctx, account.ID, "k-1")
	s.Require().NoError(err)
	s.Equal(txn.ID, found.ID)
	s.Equal("test", found.Metadata["source"])
}

func (s *PostgresStoreSuite) TestCampaignBudget() {
	ctx := context.Background()
	now := time.Now().UTC()
	campaign := &models.CreditCampaign{
		ID:                    id.NewCampaignID(),
		Name:                  "spring",
		CreditType:            models.CreditTypePromotional,
		CreditAmount:          25,
		TotalBudget:           50,
		StartDate:             now.Add(-time.Hour),
		EndDate:               now.Add(time.Hour),
		MaxAllocationsPerUser: 1,
		IsActive:              true,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	s.Require().NoError(s.store.CreateCampaign(ctx, campaign))

	for _, want := range []bool{true, true, false} {
		ok, err := s.store.UpdateCampaignBudget(ctx, campaign.ID, 25)
		s.Require().NoError(err)
		s.Equal(want, ok)
	}

	active, err := s.store.GetActiveCampaigns(ctx, nil, now)
	s.Require().NoError(err)
	s.Require().Len(active, 1)
	s.Zero(active[0].RemainingBudget())
}

func (s *PostgresStoreSuite) TestServiceConsumeOnPostgres() {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := service.New(s.store, service.WithLogger(logger))
	s.Require().NoError(err)

	userID := id.UserID(uuid.New())
	_, err = svc.Allocate(ctx, models.AllocateRequest{UserID: userID, Amount: 100, CreditType: models.CreditTypeBonus})
	s.Require().NoError(err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	consumed, rejected := int64(0), 0
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Consume(ctx, models.ConsumeRequest{UserID: userID, Amount: 30})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				consumed += res.Consumed
			case errors.Is(err, models.ErrInsufficientCredits):
				rejected++
			}
		}()
	}
	wg.Wait()

	s.LessOrEqual(consumed, int64(100))
	summary, err := svc.GetBalanceSummary(ctx, userID)
	s.Require().NoError(err)
	s.Equal(100-consumed, summary.Total)
	s.Positive(rejected)

	s.Run("erasure removes every row", func() {
		n, err := s.store.DeleteAllUserData(ctx, userID)
		s.Require().NoError(err)
		s.Positive(n)
		accounts, err := s.store.ListAccountsForUser(ctx, userID, models.AccountFilter{})
		s.Require().NoError(err)
		s.Empty(accounts)
	})
}
