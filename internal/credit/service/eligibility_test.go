package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"credits/internal/credit/models"
	"credits/internal/credit/ports/mocks"
	"credits/internal/credit/userdir"
	"credits/pkg/platform/sentinel"
	"credits/pkg/requestcontext"
)

func TestRuleEligibility(t *testing.T) {
	now := time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), now)
	userID := newUser()
	profile := &models.UserProfile{
		UserID:          userID,
		Country:         "PT",
		CreatedAt:       now.AddDate(0, 0, -10),
		HasSubscription: false,
	}

	tests := []struct {
		name     string
		rules    map[string]string
		expected bool
		wantErr  bool
	}{
		{name: "country listed", rules: map[string]string{models.RuleCountries: "es, pt"}, expected: true},
		{name: "country not listed", rules: map[string]string{models.RuleCountries: "US,CA"}, expected: false},
		{name: "account old enough", rules: map[string]string{models.RuleMinAccountAgeDays: "7"}, expected: true},
		{name: "account too new", rules: map[string]string{models.RuleMinAccountAgeDays: "30"}, expected: false},
		{name: "subscription required", rules: map[string]string{models.RuleRequiresSubscription: "true"}, expected: false},
		{name: "unknown rules ignored", rules: map[string]string{"tier": "gold"}, expected: true},
		{name: "malformed age rule", rules: map[string]string{models.RuleMinAccountAgeDays: "soon"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			users := mocks.NewMockUserDirectory(ctrl)
			users.EXPECT().GetUser(gomock.Any(), userID).Return(profile, nil)

			eligible, err := NewRuleEligibility(users).IsEligible(ctx, userID, &models.CreditCampaign{EligibilityRules: tt.rules})
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, eligible)
		})
	}

	t.Run("no rules skips the directory", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		users := mocks.NewMockUserDirectory(ctrl)
		eligible, err := NewRuleEligibility(users).IsEligible(ctx, userID, &models.CreditCampaign{})
		require.NoError(t, err)
		assert.True(t, eligible)
	})

	t.Run("unknown user is not eligible", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		users := mocks.NewMockUserDirectory(ctrl)
		users.EXPECT().GetUser(gomock.Any(), userID).Return(nil, fmt.Errorf("get user: %w", sentinel.ErrNotFound))
		eligible, err := NewRuleEligibility(users).IsEligible(ctx, userID, &models.CreditCampaign{
			EligibilityRules: map[string]string{models.RuleCountries: "PT"},
		})
		require.NoError(t, err)
		assert.False(t, eligible)
	})

	t.Run("directory failure is returned", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		users := mocks.NewMockUserDirectory(ctrl)
		users.EXPECT().GetUser(gomock.Any(), userID).Return(nil, errors.New("timeout"))
		_, err := NewRuleEligibility(users).IsEligible(ctx, userID, &models.CreditCampaign{
			EligibilityRules: map[string]string{models.RuleCountries: "PT"},
		})
		require.Error(t, err)
	})
}

func (s *ServiceSuite) TestCampaignRejectsUserUnknownToDirectory() {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client, err := userdir.NewClient(srv.URL, time.Second, userdir.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	s.Require().NoError(err)
	svc := s.newService(s.store, WithEligibilityChecker(NewRuleEligibility(client)))

	c := s.newCampaign(1000, 50, func(req *models.CreateCampaignRequest) {
		req.EligibilityRules = map[string]string{models.RuleCountries: "us"}
	})
	_, err = svc.ClaimCampaign(s.ctx, c.ID, newUser(), "")
	s.ErrorIs(err, models.ErrValidation)

	stored, err := s.service.GetCampaign(s.ctx, c.ID)
	s.Require().NoError(err)
	s.Zero(stored.AllocatedAmount)
}
