// Package backend talks to the remote service that owns the authoritative
// subscription list.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"

	"github.com/Veraticus/subdupes/internal/common"
	"github.com/Veraticus/subdupes/internal/model"
)

// DefaultTimeout bounds a single backend request.
const DefaultTimeout = 10 * time.Second

// Client is the backend collaborator used by sync and conflict resolution.
type Client interface {
	GetSubscriptions(ctx context.Context) ([]model.ExistingSubscription, error)
	GetUserProfile(ctx context.Context) (model.UserProfile, error)
	CreateSubscription(ctx context.Context, req CreateRequest) (model.ExistingSubscription, error)
}

// CreateRequest holds the fields sent when creating a subscription.
type CreateRequest struct {
	NextBillingDate time.Time
	Name            string
	PlanName        string
	Currency        string
	BillingCycle    model.BillingCycle
	WebsiteURL      string
	Source          model.Source
	Notes           string
	Amount          decimal.Decimal
}

// NewCreateRequest builds a request from a pending subscription.
func NewCreateRequest(p model.PendingSubscription, nextBilling time.Time) CreateRequest {
	return CreateRequest{
		Name:            p.Name,
		PlanName:        p.PlanName,
		Amount:          p.Amount,
		Currency:        p.Currency,
		BillingCycle:    p.BillingCycle,
		WebsiteURL:      p.WebsiteURL,
		Source:          p.Source,
		Notes:           p.Notes,
		NextBillingDate: nextBilling,
	}
}

// createBody is the wire form. The backend expects a numeric amount.
type createBody struct {
	Name            string  `json:"name"`
	PlanName        string  `json:"planName,omitempty"`
	Currency        string  `json:"currency"`
	BillingCycle    string  `json:"billingCycle"`
	WebsiteURL      string  `json:"websiteUrl,omitempty"`
	Source          string  `json:"source,omitempty"`
	Notes           string  `json:"notes,omitempty"`
	NextBillingDate string  `json:"nextBillingDate,omitempty"`
	Amount          float64 `json:"amount"`
}

type envelope[T any] struct {
	Data    T      `json:"data"`
	Message string `json:"message"`
}

// HTTPClient is the REST implementation of Client.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	hasToken   bool
}

// NewHTTPClient creates a client that authenticates with a bearer token.
// With an empty token every call fails with ErrUnauthorized without touching
// the network, which keeps the queue in offline mode.
func NewHTTPClient(ctx context.Context, baseURL, token string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	var httpClient *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
		httpClient = oauth2.NewClient(ctx, ts)
	} else {
		httpClient = &http.Client{}
	}
	httpClient.Timeout = timeout

	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		hasToken:   token != "",
	}
}

// GetSubscriptions fetches the authoritative list.
func (c *HTTPClient) GetSubscriptions(ctx context.Context) ([]model.ExistingSubscription, error) {
	var env envelope[[]model.ExistingSubscription]
	if err := c.do(ctx, http.MethodGet, "/subscriptions", nil, &env); err != nil {
		return nil, fmt.Errorf("failed to fetch subscriptions: %w", err)
	}
	if env.Data == nil {
		return []model.ExistingSubscription{}, nil
	}
	return env.Data, nil
}

// GetUserProfile fetches the signed-in user's profile.
func (c *HTTPClient) GetUserProfile(ctx context.Context) (model.UserProfile, error) {
	var env envelope[model.UserProfile]
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, &env); err != nil {
		return model.UserProfile{}, fmt.Errorf("failed to fetch profile: %w", err)
	}
	return env.Data, nil
}

// CreateSubscription creates a subscription and returns the stored record.
func (c *HTTPClient) CreateSubscription(ctx context.Context, req CreateRequest) (model.ExistingSubscription, error) {
	body := createBody{
		Name:         req.Name,
		PlanName:     req.PlanName,
		Amount:       req.Amount.InexactFloat64(),
		Currency:     req.Currency,
		BillingCycle: string(req.BillingCycle),
		WebsiteURL:   req.WebsiteURL,
		Source:       string(req.Source),
		Notes:        req.Notes,
	}
	if !req.NextBillingDate.IsZero() {
		body.NextBillingDate = req.NextBillingDate.UTC().Format(time.RFC3339)
	}

	var env envelope[model.ExistingSubscription]
	if err := c.do(ctx, http.MethodPost, "/subscriptions", body, &env); err != nil {
		return model.ExistingSubscription{}, fmt.Errorf("failed to create subscription %q: %w", req.Name, err)
	}
	return env.Data, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	if !c.hasToken {
		return fmt.Errorf("%w: no API token configured", common.ErrUnauthorized)
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	common.LogDebug("Backend request", common.Fields{"method": method, "path": path})

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &common.RetryableError{
			Err:       fmt.Errorf("%w: %w", common.ErrNetworkFailure, err),
			Retryable: true,
		}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			common.LogDebug("Failed to close response body", common.Fields{"error": closeErr.Error()})
		}
	}()

	if err := statusError(resp); err != nil {
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	detail := strings.TrimSpace(string(raw))
	var env envelope[json.RawMessage]
	if json.Unmarshal(raw, &env) == nil && env.Message != "" {
		detail = env.Message
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", common.ErrUnauthorized, detail)
	case resp.StatusCode == http.StatusTooManyRequests:
		return &common.RetryableError{Err: fmt.Errorf("%w: %s", common.ErrRateLimit, detail), Retryable: true}
	case resp.StatusCode >= 500:
		return &common.RetryableError{
			Err:       fmt.Errorf("%w: status %d: %s", common.ErrNetworkFailure, resp.StatusCode, detail),
			Retryable: true,
		}
	default:
		return &common.RetryableError{
			Err:       fmt.Errorf("backend rejected request: status %d: %s", resp.StatusCode, detail),
			Retryable: false,
		}
	}
}

// IsOffline reports whether err means the backend could not be reached or the
// user is not signed in. Such failures leave queued work in place.
func IsOffline(err error) bool {
	return errors.Is(err, common.ErrUnauthorized) || errors.Is(err, common.ErrNetworkFailure)
}

var _ Client = (*HTTPClient)(nil)
