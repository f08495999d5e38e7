package service

import (
	"context"
	"time"

	"credits/internal/credit/models"
)

// resolveExpiry picks the expiry of a new allocation: an explicit value wins,
// then the campaign's window, then the account's policy.
func (s *Service) resolveExpiry(ctx context.Context, account *models.CreditAccount, campaign *models.CreditCampaign, req models.AllocateRequest, now time.Time) *time.Time {
	if req.ExpiresAt != nil {
		t := req.ExpiresAt.UTC()
		return &t
	}
	if campaign != nil && campaign.ExpirationDays > 0 {
		t := now.AddDate(0, 0, campaign.ExpirationDays)
		return &t
	}
	return s.expiryForPolicy(ctx, account.ExpirationPolicy, account.ExpirationDays, req.SubscriptionID, now)
}

func (s *Service) expiryForPolicy(ctx context.Context, policy models.ExpirationPolicy, days int, subscriptionID string, now time.Time) *time.Time {
	var t time.Time
	switch policy {
	case models.PolicyNever:
		return nil
	case models.PolicyFixedDays:
		if days <= 0 {
			days = DefaultSubscriptionDays
		}
		t = now.AddDate(0, 0, days)
	case models.PolicyEndOfMonth:
		t = EndOfMonth(now)
	case models.PolicyEndOfYear:
		t = EndOfYear(now)
	case models.PolicySubscriptionPeriod:
		if end := s.subscriptionEnd(ctx, subscriptionID); end != nil && end.After(now) {
			t = end.UTC()
		} else {
			t = now.AddDate(0, 0, s.subscriptionDays)
		}
	default:
		t = now.AddDate(0, 0, s.subscriptionDays)
	}
	return &t
}

func (s *Service) subscriptionEnd(ctx context.Context, subscriptionID string) *time.Time {
	if subscriptionID == "" || s.users == nil {
		return nil
	}
	end, err := s.users.GetSubscriptionPeriodEnd(ctx, subscriptionID)
	if err != nil {
		s.logger.WarnContext(ctx, "subscription period lookup failed, using fallback",
			"subscription_id", subscriptionID,
			"fallback_days", s.subscriptionDays,
			"error", err,
		)
		return nil
	}
	return end
}

// EndOfMonth is the last second of t's month in UTC.
func EndOfMonth(t time.Time) time.Time {
	t = t.UTC()
	firstOfNext := time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
	return firstOfNext.Add(-time.Second)
}

// EndOfYear is 23:59:59 UTC on December 31st of t's year.
func EndOfYear(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), time.December, 31, 23, 59, 59, 0, time.UTC)
}
