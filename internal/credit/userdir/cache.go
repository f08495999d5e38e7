package userdir

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"credits/internal/credit/models"
	"credits/internal/credit/ports"
	id "credits/pkg/domain"
)

const (
	validKeyPrefix   = "credits:user:valid:"
	profileKeyPrefix = "credits:user:profile:"
)

// CachedDirectory caches ValidateUser and GetUser results in Redis. Subscription
// periods are always read through since they move at renewal. Redis errors are
// logged and the call falls through to the wrapped directory.
type CachedDirectory struct {
	next   ports.UserDirectory
	client redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedDirectory(next ports.UserDirectory, client redis.Cmdable, ttl time.Duration, logger *slog.Logger) (*CachedDirectory, error) {
	if next == nil {
		return nil, errors.New("user directory is required")
	}
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedDirectory{next: next, client: client, ttl: ttl, logger: logger}, nil
}

func (d *CachedDirectory) ValidateUser(ctx context.Context, userID id.UserID) (bool, error) {
	key := validKeyPrefix + userID.String()
	cached, err := d.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		return cached == "1", nil
	case !errors.Is(err, redis.Nil):
		d.logger.WarnContext(ctx, "user cache read failed", "key", key, "error", err)
	}

	valid, err := d.next.ValidateUser(ctx, userID)
	if err != nil {
		return false, err
	}
	value := "0"
	if valid {
		value = "1"
	}
	if err := d.client.Set(ctx, key, value, d.ttl).Err(); err != nil {
		d.logger.WarnContext(ctx, "user cache write failed", "key", key, "error", err)
	}
	return valid, nil
}

func (d *CachedDirectory) GetUser(ctx context.Context, userID id.UserID) (*models.UserProfile, error) {
	key := profileKeyPrefix + userID.String()
	raw, err := d.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var profile models.UserProfile
		if jsonErr := json.Unmarshal(raw, &profile); jsonErr == nil {
			return &profile, nil
		}
		d.logger.WarnContext(ctx, "discarding undecodable cached user profile", "key", key)
	case !errors.Is(err, redis.Nil):
		d.logger.WarnContext(ctx, "user cache read failed", "key", key, "error", err)
	}

	profile, err := d.next.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if encoded, err := json.Marshal(profile); err == nil {
		if err := d.client.Set(ctx, key, encoded, d.ttl).Err(); err != nil {
			d.logger.WarnContext(ctx, "user cache write failed", "key", key, "error", err)
		}
	}
	return profile, nil
}

func (d *CachedDirectory) GetSubscriptionPeriodEnd(ctx context.Context, subscriptionID string) (*time.Time, error) {
	return d.next.GetSubscriptionPeriodEnd(ctx, subscriptionID)
}
