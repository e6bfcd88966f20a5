package crossref

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

// MockExecutor records commands and returns configured responses.
// It is exported for tests in other packages.
type MockExecutor struct {
	mu       sync.Mutex
	commands []MockCommand
	calls    []ExecutorCall
}

// MockCommand defines a mock response for a command prefix.
type MockCommand struct {
	NamePrefix string
	Output     []byte
	Err        error
	// Sticky responses are not consumed by a match.
	Sticky bool
}

// ExecutorCall records a command invocation.
type ExecutorCall struct {
	Dir  string
	Name string
	Args []string
}

// NewMockExecutor creates a new mock executor.
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{}
}

// AddResponse adds a one-shot response for commands matching the given prefix.
func (m *MockExecutor) AddResponse(namePrefix string, output []byte, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append(m.commands, MockCommand{NamePrefix: namePrefix, Output: output, Err: err})
}

// AddStickyResponse adds a response that answers every matching command.
func (m *MockExecutor) AddStickyResponse(namePrefix string, output []byte, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append(m.commands, MockCommand{NamePrefix: namePrefix, Output: output, Err: err, Sticky: true})
}

// Run records the call and returns the first matching response.
func (m *MockExecutor) Run(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, ExecutorCall{Dir: dir, Name: name, Args: args})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fullCmd := name + " " + strings.Join(args, " ")
	for i, cmd := range m.commands {
		if strings.HasPrefix(fullCmd, cmd.NamePrefix) {
			if !cmd.Sticky {
				m.commands = append(m.commands[:i], m.commands[i+1:]...)
			}
			return cmd.Output, cmd.Err
		}
	}

	return nil, errors.New("no mock response configured for: " + fullCmd)
}

// GetCalls returns all recorded command calls.
func (m *MockExecutor) GetCalls() []ExecutorCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ExecutorCall(nil), m.calls...)
}

// MustGetLastCall returns the last recorded call, failing the test if there is none.
func (m *MockExecutor) MustGetLastCall(t *testing.T) ExecutorCall {
	t.Helper()
	calls := m.GetCalls()
	if len(calls) == 0 {
		t.Fatal("Expected at least one command call")
	}
	return calls[len(calls)-1]
}
