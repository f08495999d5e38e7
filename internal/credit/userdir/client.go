// Package userdir adapts the external user service to ports.UserDirectory.
//
// Client talks JSON over HTTP and sits behind a circuit breaker; CachedDirectory
// keeps validation results and profiles in Redis so allocation and transfer
// paths do not call the user service on every request.
package userdir

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"credits/internal/credit/models"
	id "credits/pkg/domain"
	"credits/pkg/platform/circuit"
	"credits/pkg/platform/sentinel"
	"credits/pkg/requestcontext"
)

const maxResponseBytes = 64 << 10

// Client calls the user service:
//
//	GET {base}/users/{id}                -> userResponse, 404 when unknown
//	GET {base}/subscriptions/{id}        -> subscriptionResponse, 404 when unknown
type Client struct {
	baseURL *url.URL
	http    *http.Client
	breaker *circuit.Breaker
	logger  *slog.Logger
}

type ClientOption func(*Client)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

func WithBreaker(b *circuit.Breaker) ClientOption {
	return func(cl *Client) {
		if b != nil {
			cl.breaker = b
		}
	}
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(cl *Client) {
		if logger != nil {
			cl.logger = logger
		}
	}
}

func NewClient(baseURL string, timeout time.Duration, opts ...ClientOption) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("user directory base URL is required")
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse user directory URL: %w", err)
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	c := &Client{
		baseURL: u,
		http:    &http.Client{Timeout: timeout},
		breaker: circuit.New("user-directory"),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type userResponse struct {
	UserID          id.UserID `json:"user_id"`
	Country         string    `json:"country"`
	CreatedAt       time.Time `json:"created_at"`
	HasSubscription bool      `json:"has_subscription"`
	Active          bool      `json:"active"`
}

type subscriptionResponse struct {
	CurrentPeriodEnd *time.Time `json:"current_period_end"`
}

// ValidateUser reports whether the user exists and is active.
func (c *Client) ValidateUser(ctx context.Context, userID id.UserID) (bool, error) {
	var resp userResponse
	err := c.get(ctx, "users/"+userID.String(), &resp)
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return resp.Active, nil
}

func (c *Client) GetUser(ctx context.Context, userID id.UserID) (*models.UserProfile, error) {
	var resp userResponse
	if err := c.get(ctx, "users/"+userID.String(), &resp); err != nil {
		return nil, err
	}
	return &models.UserProfile{
		UserID:          userID,
		Country:         resp.Country,
		CreatedAt:       resp.CreatedAt,
		HasSubscription: resp.HasSubscription,
	}, nil
}

// GetSubscriptionPeriodEnd returns nil when the subscription has no open period.
func (c *Client) GetSubscriptionPeriodEnd(ctx context.Context, subscriptionID string) (*time.Time, error) {
	var resp subscriptionResponse
	if err := c.get(ctx, "subscriptions/"+url.PathEscape(subscriptionID), &resp); err != nil {
		return nil, err
	}
	return resp.CurrentPeriodEnd, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	if !c.breaker.Allow() {
		return fmt.Errorf("user directory circuit open: %w", sentinel.ErrUnavailable)
	}

	endpoint := c.baseURL.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return fmt.Errorf("build user directory request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.recordFailure(ctx, err)
		return fmt.Errorf("call user directory: %w: %w", sentinel.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		c.recordSuccess(ctx)
		return sentinel.ErrNotFound
	case resp.StatusCode >= http.StatusInternalServerError:
		err := fmt.Errorf("user directory returned %d", resp.StatusCode)
		c.recordFailure(ctx, err)
		return fmt.Errorf("%w: %w", err, sentinel.ErrUnavailable)
	case resp.StatusCode != http.StatusOK:
		c.recordSuccess(ctx)
		return fmt.Errorf("user directory returned %d", resp.StatusCode)
	}
	c.recordSuccess(ctx)

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("decode user directory response: %w", err)
	}
	return nil
}

func (c *Client) recordFailure(ctx context.Context, err error) {
	if _, change := c.breaker.RecordFailure(); change.Opened {
		c.logger.WarnContext(ctx, "user directory circuit breaker opened", "error", err)
	}
}

func (c *Client) recordSuccess(ctx context.Context) {
	if _, change := c.breaker.RecordSuccess(); change.Closed {
		c.logger.InfoContext(ctx, "user directory circuit breaker closed")
	}
}
