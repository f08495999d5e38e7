package models

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "credits/pkg/domain-errors"
)

func TestParseCreditType(t *testing.T) {
	ct, err := ParseCreditType(" Promotional ")
	require.NoError(t, err)
	assert.Equal(t, CreditTypePromotional, ct)

	_, err = ParseCreditType("gold")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidCreditType)
}

func TestParseExpirationPolicy(t *testing.T) {
	p, err := ParseExpirationPolicy("end_of_month")
	require.NoError(t, err)
	assert.Equal(t, PolicyEndOfMonth, p)

	_, err = ParseExpirationPolicy("")
	assert.ErrorIs(t, err, ErrInvalidPolicy)
}

func TestCreditTypePriority(t *testing.T) {
	for i := 1; i < len(AllCreditTypes); i++ {
		assert.Less(t, AllCreditTypes[i-1].Priority(), AllCreditTypes[i].Priority())
	}
	assert.False(t, CreditTypeCompensation.Transferable())
	assert.True(t, CreditTypeBonus.Transferable())
}

func TestDefaultPolicyFor(t *testing.T) {
	assert.Equal(t, DefaultPolicy{Policy: PolicyFixedDays, Days: 30}, DefaultPolicyFor(CreditTypePromotional))
	assert.Equal(t, DefaultPolicy{Policy: PolicyFixedDays, Days: 365}, DefaultPolicyFor(CreditTypeCompensation))
	assert.Equal(t, PolicySubscriptionPeriod, DefaultPolicyFor(CreditTypeSubscription).Policy)
}

func TestAllocationAvailability(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	a := &CreditAllocation{Amount: 100, ConsumedAmount: 40, ExpiredAmount: 10, ExpiresAt: &now}

	assert.Equal(t, int64(50), a.Available())
	assert.True(t, a.IsExpiredAt(now))
	assert.False(t, a.IsExpiredAt(now.Add(-time.Second)))

	assert.Equal(t, AllocationActive, StatusFor(100, 40, 10))
	assert.Equal(t, AllocationExpired, StatusFor(100, 40, 60))
	assert.Equal(t, AllocationConsumed, StatusFor(100, 100, 0))
}

func TestLedgerError(t *testing.T) {
	t.Run("errors.Is matches by kind through wrapping", func(t *testing.T) {
		err := fmt.Errorf("consume: %w", InsufficientCredits(10, 25))
		assert.ErrorIs(t, err, ErrInsufficientCredits)
		assert.NotErrorIs(t, err, ErrAccountNotFound)
		assert.Equal(t, KindInsufficientCredits, KindOf(err))
	})

	t.Run("carries amounts", func(t *testing.T) {
		err := InsufficientCredits(10, 25)
		var le *LedgerError
		require.True(t, errors.As(err, &le))
		assert.Equal(t, int64(10), le.Available)
		assert.Equal(t, int64(25), le.Required)
		assert.Equal(t, "insufficient credits: available 10, required 25", err.Error())
	})

	t.Run("maps to domain codes", func(t *testing.T) {
		assert.True(t, dErrors.HasCode(AccountNotFound("x"), dErrors.CodeNotFound))
		assert.True(t, dErrors.HasCode(CampaignBudgetExhausted(100, 90), dErrors.CodeConflict))
		assert.True(t, dErrors.HasCode(AccountInactive("x"), dErrors.CodeForbidden))
		assert.True(t, dErrors.HasCode(InvalidTransfer("self"), dErrors.CodeValidation))
		assert.True(t, dErrors.HasCode(AllocationFailed("db", errors.New("boom")), dErrors.CodeInternal))
	})

	t.Run("unwraps cause", func(t *testing.T) {
		cause := errors.New("db down")
		assert.ErrorIs(t, ConsumptionFailed("debit", cause), cause)
	})
}

func TestCreateCampaignRequestValidate(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	valid := func() CreateCampaignRequest {
		return CreateCampaignRequest{
			Name:           "Spring",
			CreditType:     CreditTypePromotional,
			CreditAmount:   100,
			TotalBudget:    10000,
			StartDate:      start,
			EndDate:        start.AddDate(0, 1, 0),
			ExpirationDays: 30,
		}
	}

	req := valid()
	require.NoError(t, req.Validate())

	cases := map[string]func(r *CreateCampaignRequest){
		"blank name":        func(r *CreateCampaignRequest) { r.Name = "  " },
		"start after end":   func(r *CreateCampaignRequest) { r.EndDate = r.StartDate },
		"zero amount":       func(r *CreateCampaignRequest) { r.CreditAmount = 0 },
		"zero budget":       func(r *CreateCampaignRequest) { r.TotalBudget = 0 },
		"expiry too long":   func(r *CreateCampaignRequest) { r.ExpirationDays = 366 },
		"expiry too short":  func(r *CreateCampaignRequest) { r.ExpirationDays = 0 },
		"negative per user": func(r *CreateCampaignRequest) { r.MaxAllocationsPerUser = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			r := valid()
			mutate(&r)
			assert.ErrorIs(t, r.Validate(), ErrValidation)
		})
	}

	t.Run("bad credit type", func(t *testing.T) {
		r := valid()
		r.CreditType = "gold"
		assert.ErrorIs(t, r.Validate(), ErrInvalidCreditType)
	})
}

func TestTransactionFilterNormalize(t *testing.T) {
	f := TransactionFilter{Limit: 0, Offset: -3}
	f.Normalize()
	assert.Equal(t, DefaultHistoryLimit, f.Limit)
	assert.Equal(t, 0, f.Offset)

	f = TransactionFilter{Limit: 10000}
	f.Normalize()
	assert.Equal(t, MaxHistoryLimit, f.Limit)
}
