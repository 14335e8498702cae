package runner

import (
	"context"
	"io"
	"strings"
	"sync"
)

// MockRunner records invocations and dispatches to prefix-matched handlers.
// Used by tests to simulate podman, crontab and friends without a host.
type MockRunner struct {
	mu       sync.Mutex
	Calls    []Invocation
	Stdins   []string
	Handlers map[string]func(inv Invocation) (Result, error)

	// Defaults when no handler matches.
	DefaultResult Result
	DefaultErr    error
}

// NewMockRunner returns a mock whose unmatched invocations succeed with
// empty output.
func NewMockRunner() *MockRunner {
	return &MockRunner{Handlers: make(map[string]func(inv Invocation) (Result, error))}
}

// Handle registers a handler for invocations whose rendered command line
// starts with prefix.
func (m *MockRunner) Handle(prefix string, fn func(inv Invocation) (Result, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Handlers[prefix] = fn
}

func (m *MockRunner) Run(_ context.Context, inv Invocation) (Result, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, inv)
	stdin := ""
	if inv.Stdin != nil {
		data, _ := io.ReadAll(inv.Stdin)
		stdin = string(data)
	}
	m.Stdins = append(m.Stdins, stdin)
	handlers := m.Handlers
	m.mu.Unlock()

	// Longest matching prefix wins so "crontab -l" is not captured by a
	// handler registered for "crontab -".
	line := inv.String()
	var best func(inv Invocation) (Result, error)
	bestLen := -1
	for prefix, fn := range handlers {
		if strings.HasPrefix(line, prefix) && len(prefix) > bestLen {
			best, bestLen = fn, len(prefix)
		}
	}
	if best != nil {
		return best(inv)
	}
	return m.DefaultResult, m.DefaultErr
}

// CommandLines returns every recorded invocation rendered as a single line.
func (m *MockRunner) CommandLines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	lines := make([]string, 0, len(m.Calls))
	for _, inv := range m.Calls {
		lines = append(lines, inv.String())
	}
	return lines
}

// Saw reports whether any recorded invocation starts with prefix.
func (m *MockRunner) Saw(prefix string) bool {
	for _, line := range m.CommandLines() {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}
