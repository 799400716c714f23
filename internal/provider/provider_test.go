package provider_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jantje19/cargo-credential-bitwarden/internal/bitwarden"
	"github.com/Jantje19/cargo-credential-bitwarden/internal/config"
	"github.com/Jantje19/cargo-credential-bitwarden/internal/credential"
	"github.com/Jantje19/cargo-credential-bitwarden/internal/logging"
	"github.com/Jantje19/cargo-credential-bitwarden/internal/provider"
	pkgexec "github.com/Jantje19/cargo-credential-bitwarden/pkg/exec"
	"github.com/Jantje19/cargo-credential-bitwarden/tests/testutil"
)

const indexURL = "sparse+https://registry.example.com/index/"

var registry = credential.RegistryInfo{IndexURL: indexURL, Name: "example"}

// newProvider builds the full stack on a mock bw CLI with a verified
// environment session.
func newProvider(executor pkgexec.CommandExecutor, syncEnabled bool) *provider.Bitwarden {
	logger := logging.NewWithWriter(&bytes.Buffer{}, false, true)
	gateway := bitwarden.NewGatewayWithTool("bw", executor, 5*time.Second, logger)
	sessions := bitwarden.NewSessionManagerWithEnv(gateway, logger, "", false, func(key string) (string, bool) {
		if key == "BW_SESSION" {
			return "env-session", true
		}
		return "", false
	})
	items := bitwarden.NewResolver(gateway, logger, config.DuplicatesFailClosed)
	syncer := bitwarden.NewSyncer(gateway, logger, syncEnabled)
	return provider.New(sessions, items, syncer, logger)
}

func newMock() *testutil.MockCommandExecutor {
	mock := testutil.NewMockCommandExecutor()
	bw := testutil.Bitwarden{}
	mock.AddResponse("status", bw.StatusUnlocked())
	mock.AddJSONResponse("list items", "[]")
	mock.AddResponse("encode", bw.Encoded("RU5DT0RFRA=="))
	mock.AddJSONResponse("create item", "{}")
	mock.AddJSONResponse("edit item", "{}")
	mock.AddJSONResponse("delete item", "")
	mock.AddJSONResponse("sync", "")
	return mock
}

func TestProvider_LoginThenGetRoundTrip(t *testing.T) {
	t.Parallel()

	mock := newMock()
	p := newProvider(mock, false)
	ctx := context.Background()

	require.NoError(t, p.Login(ctx, registry, "secret-token"))

	// The item sent to the vault carries the token and the registry URI.
	encodes := mock.CallsMatching("encode")
	require.Len(t, encodes, 1)
	var stored bitwarden.Item
	require.NoError(t, json.Unmarshal(encodes[0].Command.Stdin, &stored))
	assert.Equal(t, "Cargo registry token for example", stored.Name)
	require.NotNil(t, stored.Login)
	assert.Equal(t, "secret-token", stored.Login.Password)
	require.Len(t, stored.Login.URIs, 1)
	assert.Equal(t, indexURL, stored.Login.URIs[0].URI)

	// Replay what the vault now holds and read it back.
	stored.ID = "item-1"
	stored.RevisionDate = "2026-03-01T00:00:00.000Z"
	replayed, err := json.Marshal([]bitwarden.Item{stored})
	require.NoError(t, err)
	mock.AddJSONResponse("list items", string(replayed))

	token, err := p.Get(ctx, registry)
	require.NoError(t, err)
	assert.Equal(t, "secret-token", token)

	assert.Empty(t, mock.CallsMatching("sync"), "sync disabled means no sync calls")
}

func TestProvider_GetReportsNotFound(t *testing.T) {
	t.Parallel()

	mock := newMock()
	p := newProvider(mock, false)

	_, err := p.Get(context.Background(), registry)
	assert.ErrorIs(t, err, credential.ErrNotFound)
}

func TestProvider_SessionEstablishedOnceAcrossOperations(t *testing.T) {
	t.Parallel()

	mock := newMock()
	p := newProvider(mock, false)
	ctx := context.Background()

	_, _ = p.Get(ctx, registry)
	require.NoError(t, p.Logout(ctx, registry))

	assert.Len(t, mock.CallsMatching("status"), 1, "session is verified once and then cached")
}

func TestProvider_LoginSyncsAfterWriteOnly(t *testing.T) {
	t.Parallel()

	mock := newMock()
	p := newProvider(mock, true)

	require.NoError(t, p.Login(context.Background(), registry, "secret-token"))

	syncs := mock.CallsMatching("sync")
	require.Len(t, syncs, 1, "store syncs after the write, never before its own lookup")

	// The single sync happens after the item was created.
	var createIdx, syncIdx int
	for i, call := range mock.RecordedCalls {
		if strings.Contains(call.Line, "create item") {
			createIdx = i
		}
		if strings.Contains(call.Line, "sync") {
			syncIdx = i
		}
	}
	assert.Greater(t, syncIdx, createIdx)
}

func TestProvider_LoginFailedPostWriteSyncIsAnError(t *testing.T) {
	t.Parallel()

	mock := newMock()
	mock.AddErrorResponse("sync", "Failed to fetch", 1)
	p := newProvider(mock, true)

	err := p.Login(context.Background(), registry, "secret-token")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remote copy may be stale")
}

func TestProvider_GetToleratesFailedPreReadSync(t *testing.T) {
	t.Parallel()

	mock := newMock()
	mock.AddErrorResponse("sync", "Failed to fetch", 1)
	bw := testutil.Bitwarden{}
	mock.AddResponse("list items", bw.ItemList(
		bw.LoginItem("item-1", "entry", "secret-token", indexURL, "2026-03-01T00:00:00.000Z"),
	))
	p := newProvider(mock, true)

	token, err := p.Get(context.Background(), registry)
	require.NoError(t, err)
	assert.Equal(t, "secret-token", token)
	assert.Len(t, mock.CallsMatching("sync"), 1)
}

func TestProvider_LogoutIsIdempotent(t *testing.T) {
	t.Parallel()

	mock := newMock()
	p := newProvider(mock, true)
	ctx := context.Background()

	require.NoError(t, p.Logout(ctx, registry))
	require.NoError(t, p.Logout(ctx, registry))

	assert.Empty(t, mock.CallsMatching("delete item"))
	// Only the pre-read sync runs when nothing was deleted.
	assert.Len(t, mock.CallsMatching("sync"), 2)
}

func TestProvider_LogoutDeletesAndSyncsTheWrite(t *testing.T) {
	t.Parallel()

	mock := newMock()
	bw := testutil.Bitwarden{}
	mock.AddResponse("list items", bw.ItemList(
		bw.LoginItem("item-1", "entry", "secret-token", indexURL, "2026-03-01T00:00:00.000Z"),
	))
	p := newProvider(mock, true)

	require.NoError(t, p.Logout(context.Background(), registry))

	deletes := mock.CallsMatching("delete item")
	require.Len(t, deletes, 1)
	assert.Contains(t, deletes[0].Line, "item-1")
	assert.Len(t, mock.CallsMatching("sync"), 2, "pre-read and post-delete")
}

func TestProvider_GetRejectsItemWithoutPassword(t *testing.T) {
	t.Parallel()

	mock := newMock()
	mock.AddJSONResponse("list items", `[{
		"id": "item-1",
		"name": "entry",
		"type": 1,
		"login": {"password": "", "uris": [{"uri": "`+indexURL+`", "match": 1}]}
	}]`)
	p := newProvider(mock, false)

	_, err := p.Get(context.Background(), registry)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no password field")
	assert.NotErrorIs(t, err, credential.ErrNotFound)
}

// relockingExecutor rejects the session for the first n list invocations,
// simulating a vault that relocked between the status check and the read.
type relockingExecutor struct {
	inner      *testutil.MockCommandExecutor
	rejections int
}

func (e *relockingExecutor) Execute(ctx context.Context, cmd pkgexec.Command) ([]byte, []byte, error) {
	line := cmd.Name + " " + strings.Join(cmd.Args, " ")
	if strings.Contains(line, "list items") && e.rejections > 0 {
		e.rejections--
		e.inner.RecordedCalls = append(e.inner.RecordedCalls, testutil.RecordedCall{Line: line, Command: cmd})
		return nil, []byte("Vault is locked."), fmt.Errorf("exit status 1")
	}
	return e.inner.Execute(ctx, cmd)
}

func TestProvider_RetriesOnceAfterSessionRejection(t *testing.T) {
	t.Parallel()

	mock := newMock()
	bw := testutil.Bitwarden{}
	mock.AddResponse("list items", bw.ItemList(
		bw.LoginItem("item-1", "entry", "secret-token", indexURL, "2026-03-01T00:00:00.000Z"),
	))
	p := newProvider(&relockingExecutor{inner: mock, rejections: 1}, false)

	token, err := p.Get(context.Background(), registry)
	require.NoError(t, err)
	assert.Equal(t, "secret-token", token)
	assert.Len(t, mock.CallsMatching("list items"), 2, "one rejection, one successful retry")
}

func TestProvider_GivesUpAfterOneRetry(t *testing.T) {
	t.Parallel()

	mock := newMock()
	p := newProvider(&relockingExecutor{inner: mock, rejections: 10}, false)

	_, err := p.Get(context.Background(), registry)
	require.Error(t, err)
	assert.True(t, bitwarden.IsAuthRejection(err))
	assert.Len(t, mock.CallsMatching("list items"), 2, "exactly one retry, never a loop")
}
