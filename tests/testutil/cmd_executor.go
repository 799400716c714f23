// Package testutil provides testing utilities for the credential provider.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	pkgexec "github.com/Jantje19/cargo-credential-bitwarden/pkg/exec"
)

// MockCommandExecutor provides a configurable mock for testing CLI-driven
// code without a real bw binary.
type MockCommandExecutor struct {
	mu sync.Mutex

	// Responses maps command patterns to their mock responses. A key matches
	// when the full command line ("name arg1 arg2 ...") contains it.
	Responses map[string]MockResponse

	// Patterns keeps registration order so overlapping patterns match
	// deterministically (first registered wins).
	Patterns []string

	// DefaultResponse is used when no matching pattern is found.
	DefaultResponse *MockResponse

	// RecordedCalls stores all calls made to Execute for verification.
	RecordedCalls []RecordedCall

	// StrictMode causes Execute to fail if no matching response is found.
	StrictMode bool
}

// MockResponse defines the expected output for a mocked command.
type MockResponse struct {
	Stdout []byte
	Stderr []byte
	Err    error
}

// RecordedCall stores information about a command execution.
type RecordedCall struct {
	Line    string
	Command pkgexec.Command
}

// NewMockCommandExecutor creates a new mock executor with empty responses.
func NewMockCommandExecutor() *MockCommandExecutor {
	return &MockCommandExecutor{
		Responses: make(map[string]MockResponse),
	}
}

// Execute returns the mocked response for the given command.
func (m *MockCommandExecutor) Execute(ctx context.Context, cmd pkgexec.Command) ([]byte, []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	line := commandLine(cmd)
	m.RecordedCalls = append(m.RecordedCalls, RecordedCall{Line: line, Command: cmd})

	for _, pattern := range m.Patterns {
		if strings.Contains(line, pattern) {
			resp := m.Responses[pattern]
			return resp.Stdout, resp.Stderr, resp.Err
		}
	}

	if m.DefaultResponse != nil {
		return m.DefaultResponse.Stdout, m.DefaultResponse.Stderr, m.DefaultResponse.Err
	}

	if m.StrictMode {
		return nil, nil, fmt.Errorf("mock: no response configured for command: %s", line)
	}

	return []byte{}, []byte{}, nil
}

func commandLine(cmd pkgexec.Command) string {
	if len(cmd.Args) == 0 {
		return cmd.Name
	}
	return cmd.Name + " " + strings.Join(cmd.Args, " ")
}

// AddResponse registers a mock response for a command pattern.
func (m *MockCommandExecutor) AddResponse(pattern string, response MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.Responses[pattern]; !exists {
		m.Patterns = append(m.Patterns, pattern)
	}
	m.Responses[pattern] = response
}

// AddJSONResponse is a convenience method to add a successful JSON response.
func (m *MockCommandExecutor) AddJSONResponse(pattern string, jsonData string) {
	m.AddResponse(pattern, MockResponse{Stdout: []byte(jsonData)})
}

// AddErrorResponse adds a failing response for a command pattern.
func (m *MockCommandExecutor) AddErrorResponse(pattern string, stderr string, exitCode int) {
	m.AddResponse(pattern, MockResponse{
		Stderr: []byte(stderr),
		Err:    fmt.Errorf("exit status %d", exitCode),
	})
}

// CallsMatching returns recorded calls whose command line contains substr.
func (m *MockCommandExecutor) CallsMatching(substr string) []RecordedCall {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matches []RecordedCall
	for _, call := range m.RecordedCalls {
		if strings.Contains(call.Line, substr) {
			matches = append(matches, call)
		}
	}
	return matches
}

// CallCount returns the number of times Execute was called.
func (m *MockCommandExecutor) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.RecordedCalls)
}

// Reset clears all recorded calls and responses.
func (m *MockCommandExecutor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses = make(map[string]MockResponse)
	m.Patterns = nil
	m.RecordedCalls = nil
	m.DefaultResponse = nil
}

// Bitwarden provides pre-configured bw CLI responses.
type Bitwarden struct{}

// StatusUnlocked returns a mock response for an unlocked vault.
func (Bitwarden) StatusUnlocked() MockResponse {
	return MockResponse{Stdout: []byte(`{
		"serverUrl": "https://vault.bitwarden.com",
		"lastSync": "2026-01-15T10:30:00.000Z",
		"userEmail": "user@example.com",
		"userId": "user-123",
		"status": "unlocked"
	}`)}
}

// StatusLocked returns a mock response for a locked vault.
func (Bitwarden) StatusLocked() MockResponse {
	return MockResponse{Stdout: []byte(`{
		"serverUrl": "https://vault.bitwarden.com",
		"lastSync": "2026-01-15T10:30:00.000Z",
		"userEmail": "user@example.com",
		"userId": "user-123",
		"status": "locked"
	}`)}
}

// StatusUnauthenticated returns a mock response for a logged-out CLI.
func (Bitwarden) StatusUnauthenticated() MockResponse {
	return MockResponse{Stdout: []byte(`{
		"serverUrl": "https://vault.bitwarden.com",
		"lastSync": null,
		"userEmail": null,
		"userId": null,
		"status": "unauthenticated"
	}`)}
}

// LoginItem builds one login item JSON object for list responses.
func (Bitwarden) LoginItem(id, name, password, uri, revisionDate string) string {
	return fmt.Sprintf(`{
		"id": %q,
		"name": %q,
		"type": 1,
		"folderId": "folder-1",
		"login": {
			"username": null,
			"password": %q,
			"uris": [{"uri": %q, "match": 1}]
		},
		"revisionDate": %q
	}`, id, name, password, uri, revisionDate)
}

// ItemList wraps item JSON objects into a `bw list items` response.
func (Bitwarden) ItemList(items ...string) MockResponse {
	return MockResponse{Stdout: []byte("[" + strings.Join(items, ",") + "]")}
}

// Encoded returns a canned `bw encode` response.
func (Bitwarden) Encoded(body string) MockResponse {
	return MockResponse{Stdout: []byte(body + "\n")}
}
