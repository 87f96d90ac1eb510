package backend

import (
	"context"
	"fmt"
	"sync"

	"github.com/Veraticus/subdupes/internal/model"
)

// MockClient is a mock implementation of Client for testing.
type MockClient struct {
	// Functions that can be set by tests to control behavior
	GetSubscriptionsFn   func(ctx context.Context) ([]model.ExistingSubscription, error)
	GetUserProfileFn     func(ctx context.Context) (model.UserProfile, error)
	CreateSubscriptionFn func(ctx context.Context, req CreateRequest) (model.ExistingSubscription, error)

	// Call tracking
	CreateCalls           []CreateRequest
	GetSubscriptionsCalls int
	GetUserProfileCalls   int

	mu sync.Mutex
}

// NewMockClient creates a new mock backend client.
func NewMockClient() *MockClient {
	return &MockClient{
		CreateCalls: []CreateRequest{},
	}
}

// GetSubscriptions implements Client.GetSubscriptions.
func (m *MockClient) GetSubscriptions(ctx context.Context) ([]model.ExistingSubscription, error) {
	m.mu.Lock()
	m.GetSubscriptionsCalls++
	fn := m.GetSubscriptionsFn
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx)
	}
	return []model.ExistingSubscription{}, nil
}

// GetUserProfile implements Client.GetUserProfile.
func (m *MockClient) GetUserProfile(ctx context.Context) (model.UserProfile, error) {
	m.mu.Lock()
	m.GetUserProfileCalls++
	fn := m.GetUserProfileFn
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx)
	}
	return model.UserProfile{}, nil
}

// CreateSubscription implements Client.CreateSubscription.
func (m *MockClient) CreateSubscription(ctx context.Context, req CreateRequest) (model.ExistingSubscription, error) {
	m.mu.Lock()
	m.CreateCalls = append(m.CreateCalls, req)
	n := len(m.CreateCalls)
	fn := m.CreateSubscriptionFn
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}

	// Default behavior: echo the request back with a generated id
	return model.ExistingSubscription{
		ID:              fmt.Sprintf("created-%d", n),
		Name:            req.Name,
		PlanName:        req.PlanName,
		Amount:          req.Amount,
		Currency:        req.Currency,
		BillingCycle:    req.BillingCycle,
		WebsiteURL:      req.WebsiteURL,
		NextBillingDate: req.NextBillingDate,
	}, nil
}

// CreateCount returns the number of create calls so far.
func (m *MockClient) CreateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.CreateCalls)
}

// Reset clears all call tracking.
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateCalls = []CreateRequest{}
	m.GetSubscriptionsCalls = 0
	m.GetUserProfileCalls = 0
}

// Ensure MockClient implements Client interface.
var _ Client = (*MockClient)(nil)
