package credential_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jantje19/cargo-credential-bitwarden/internal/credential"
	"github.com/Jantje19/cargo-credential-bitwarden/internal/logging"
)

// fakeProvider records calls and returns scripted results.
type fakeProvider struct {
	token     string
	getErr    error
	loginErr  error
	logoutErr error

	gotRegistry credential.RegistryInfo
	gotToken    string
	calls       []string
}

func (p *fakeProvider) Get(_ context.Context, registry credential.RegistryInfo) (string, error) {
	p.calls = append(p.calls, "get")
	p.gotRegistry = registry
	return p.token, p.getErr
}

func (p *fakeProvider) Login(_ context.Context, registry credential.RegistryInfo, token string) error {
	p.calls = append(p.calls, "login")
	p.gotRegistry = registry
	p.gotToken = token
	return p.loginErr
}

func (p *fakeProvider) Logout(_ context.Context, registry credential.RegistryInfo) error {
	p.calls = append(p.calls, "logout")
	p.gotRegistry = registry
	return p.logoutErr
}

// serve runs the request lines through a server and returns the response
// lines after the hello, plus everything written to the prompt stream.
func serve(t *testing.T, provider *fakeProvider, input string) (lines []map[string]json.RawMessage, prompt string) {
	t.Helper()

	var out, promptBuf bytes.Buffer
	logger := logging.NewWithWriter(&bytes.Buffer{}, false, true)
	server := credential.NewServerWithStreams(provider, logger, strings.NewReader(input), &out, &promptBuf)

	require.NoError(t, server.Serve(context.Background()))

	raw := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.NotEmpty(t, raw)
	assert.JSONEq(t, `{"v":[1]}`, raw[0], "first line must announce protocol version 1")

	for _, line := range raw[1:] {
		var decoded map[string]json.RawMessage
		require.NoError(t, json.Unmarshal([]byte(line), &decoded))
		lines = append(lines, decoded)
	}
	return lines, promptBuf.String()
}

func TestServer_HelloOnEmptyInput(t *testing.T) {
	t.Parallel()

	responses, _ := serve(t, &fakeProvider{}, "")
	assert.Empty(t, responses)
}

func TestServer_Get(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{token: "crates-io-token"}
	responses, _ := serve(t, provider,
		`{"v":1,"kind":"get","operation":"read","registry":{"index-url":"sparse+https://example.com/index/","name":"alt"}}`+"\n")

	require.Len(t, responses, 1)
	assert.JSONEq(t,
		`{"kind":"get","token":"crates-io-token","cache":"session","operation_independent":true}`,
		string(responses[0]["Ok"]))
	assert.Equal(t, "sparse+https://example.com/index/", provider.gotRegistry.IndexURL)
	assert.Equal(t, "alt", provider.gotRegistry.Name)
}

func TestServer_GetNotFound(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{getErr: credential.ErrNotFound}
	responses, _ := serve(t, provider,
		`{"v":1,"kind":"get","registry":{"index-url":"https://example.com/index/"}}`+"\n")

	require.Len(t, responses, 1)
	assert.JSONEq(t, `{"kind":"not-found"}`, string(responses[0]["Err"]))
}

func TestServer_LoginWithInlineToken(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{}
	responses, prompt := serve(t, provider,
		`{"v":1,"kind":"login","token":"tok-123","registry":{"index-url":"https://example.com/index/"}}`+"\n")

	require.Len(t, responses, 1)
	assert.JSONEq(t, `{"kind":"login"}`, string(responses[0]["Ok"]))
	assert.Equal(t, "tok-123", provider.gotToken)
	assert.Empty(t, prompt, "no prompt when the request carries a token")
}

func TestServer_LoginPromptsWhenTokenMissing(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{}
	input := `{"v":1,"kind":"login","login-url":"https://example.com/me","registry":{"index-url":"https://example.com/index/"}}` + "\n" +
		"  pasted-token  \n"
	responses, prompt := serve(t, provider, input)

	require.Len(t, responses, 1)
	assert.JSONEq(t, `{"kind":"login"}`, string(responses[0]["Ok"]))
	assert.Equal(t, "pasted-token", provider.gotToken, "token is whitespace-trimmed")
	assert.Contains(t, prompt, "https://example.com/me")
	assert.Contains(t, prompt, "https://example.com/index/")
}

func TestServer_LoginEmptyPromptedToken(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{}
	input := `{"v":1,"kind":"login","registry":{"index-url":"https://example.com/index/"}}` + "\n\n"
	responses, _ := serve(t, provider, input)

	require.Len(t, responses, 1)
	var wireErr struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(responses[0]["Err"], &wireErr))
	assert.Equal(t, "error", wireErr.Kind)
	assert.Empty(t, provider.calls, "provider must not be called without a token")
}

func TestServer_Logout(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{}
	responses, _ := serve(t, provider,
		`{"v":1,"kind":"logout","registry":{"index-url":"https://example.com/index/"}}`+"\n")

	require.Len(t, responses, 1)
	assert.JSONEq(t, `{"kind":"logout"}`, string(responses[0]["Ok"]))
}

func TestServer_UnknownKind(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{}
	responses, _ := serve(t, provider,
		`{"v":1,"kind":"rotate","registry":{"index-url":"https://example.com/index/"}}`+"\n")

	require.Len(t, responses, 1)
	assert.JSONEq(t, `{"kind":"operation-not-supported"}`, string(responses[0]["Err"]))
	assert.Empty(t, provider.calls)
}

func TestServer_UnsupportedVersion(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{}
	responses, _ := serve(t, provider,
		`{"v":2,"kind":"get","registry":{"index-url":"https://example.com/index/"}}`+"\n")

	require.Len(t, responses, 1)
	var wireErr struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(responses[0]["Err"], &wireErr))
	assert.Equal(t, "error", wireErr.Kind)
	assert.Contains(t, wireErr.Message, "unsupported protocol version 2")
	assert.Empty(t, provider.calls)
}

func TestServer_UnparseableRequestDoesNotStopTheLoop(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{token: "tok"}
	input := "this is not json\n" +
		`{"v":1,"kind":"get","registry":{"index-url":"https://example.com/index/"}}` + "\n"
	responses, _ := serve(t, provider, input)

	require.Len(t, responses, 2)
	var wireErr struct {
		Kind string `json:"kind"`
	}
	require.NoError(t, json.Unmarshal(responses[0]["Err"], &wireErr))
	assert.Equal(t, "error", wireErr.Kind)
	assert.Contains(t, string(responses[1]["Ok"]), `"tok"`)
}

func TestServer_BlankLinesAreSkipped(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{}
	responses, _ := serve(t, provider, "\n   \n"+
		`{"v":1,"kind":"logout","registry":{"index-url":"https://example.com/index/"}}`+"\n")

	require.Len(t, responses, 1)
	assert.Equal(t, []string{"logout"}, provider.calls)
}

func TestServer_CausedByChain(t *testing.T) {
	t.Parallel()

	inner := errors.New("vault said no")
	provider := &fakeProvider{loginErr: fmt.Errorf("storing token failed: %w", inner)}
	responses, _ := serve(t, provider,
		`{"v":1,"kind":"login","token":"tok","registry":{"index-url":"https://example.com/index/"}}`+"\n")

	require.Len(t, responses, 1)
	var wireErr struct {
		Kind     string   `json:"kind"`
		Message  string   `json:"message"`
		CausedBy []string `json:"caused-by"`
	}
	require.NoError(t, json.Unmarshal(responses[0]["Err"], &wireErr))
	assert.Equal(t, "error", wireErr.Kind)
	assert.Contains(t, wireErr.Message, "storing token failed")
	assert.Equal(t, []string{"vault said no"}, wireErr.CausedBy)
}
