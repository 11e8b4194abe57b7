package budget

import "sync"

// Monitor tracks the token and step spend of a single workflow run.
// Workflows call BeginStep before every external call and AddTokens
// after it, so a run stops issuing calls the moment either budget is
// spent. A zero limit disables that cap.
type Monitor struct {
	maxTokens int
	maxSteps  int

	mu     sync.Mutex
	tokens int
	steps  int
}

// NewMonitor starts tracking a run against the given caps.
func NewMonitor(maxTokens, maxSteps int) *Monitor {
	return &Monitor{maxTokens: maxTokens, maxSteps: maxSteps}
}

// BeginStep consumes one step if both budgets allow another external
// call. On breach no step is consumed and ErrExceeded names the cap
// that blocked it.
func (m *Monitor) BeginStep() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.maxSteps > 0 && m.steps >= m.maxSteps {
		return ErrExceeded{Scope: ScopeRunSteps, Used: int64(m.steps), Limit: int64(m.maxSteps)}
	}
	if m.maxTokens > 0 && m.tokens >= m.maxTokens {
		return ErrExceeded{Scope: ScopeRunTokens, Used: int64(m.tokens), Limit: int64(m.maxTokens)}
	}
	m.steps++
	return nil
}

// AddTokens records spend from a completed call. The tokens are
// counted even when the addition breaches the cap; the returned
// ErrExceeded tells the workflow to stop before its next call.
func (m *Monitor) AddTokens(n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens += n
	if m.maxTokens > 0 && m.tokens > m.maxTokens {
		return ErrExceeded{Scope: ScopeRunTokens, Used: int64(m.tokens), Limit: int64(m.maxTokens)}
	}
	return nil
}

// Usage returns the spend accumulated so far.
func (m *Monitor) Usage() (tokens, steps int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens, m.steps
}

// Remaining returns how many tokens the run may still spend, or -1
// when the run is uncapped.
func (m *Monitor) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.maxTokens <= 0 {
		return -1
	}
	if m.tokens >= m.maxTokens {
		return 0
	}
	return m.maxTokens - m.tokens
}
