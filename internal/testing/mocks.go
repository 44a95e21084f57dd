package testing

import (
	"context"
	"sync"
	"time"

	"github.com/aristath/layerwise/internal/modules/rebalancing"
)

// MockInputLoader is a mock implementation of the portfolio input loader for testing
type MockInputLoader struct {
	mu    sync.RWMutex
	req   rebalancing.Request
	err   error
	gate  chan struct{}
	calls []time.Time
}

// NewMockInputLoader creates a loader that returns the fixture portfolio
func NewMockInputLoader() *MockInputLoader {
	return &MockInputLoader{
		req: rebalancing.Request{
			Holdings: NewHoldingsFixture(),
			Items:    NewContributionFixtures(),
		},
	}
}

// SetRequest sets the request to return
func (m *MockInputLoader) SetRequest(req rebalancing.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.req = req
}

// SetError sets the error to return
func (m *MockInputLoader) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Block makes LoadInputs wait until the returned function is called or the
// context ends
func (m *MockInputLoader) Block() (release func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	gate := make(chan struct{})
	m.gate = gate
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// LoadInputs returns the configured request
func (m *MockInputLoader) LoadInputs(ctx context.Context, asOf time.Time) (rebalancing.Request, error) {
	m.mu.Lock()
	m.calls = append(m.calls, asOf)
	gate := m.gate
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return rebalancing.Request{}, ctx.Err()
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return rebalancing.Request{}, m.err
	}
	req := m.req
	req.AsOf = asOf
	return req, nil
}

// Calls returns the as-of dates LoadInputs was called with
func (m *MockInputLoader) Calls() []time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]time.Time(nil), m.calls...)
}
