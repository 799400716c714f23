package bitwarden

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Jantje19/cargo-credential-bitwarden/internal/logging"
	"github.com/Jantje19/cargo-credential-bitwarden/internal/secure"
)

// passwordEnvVar optionally supplies the master password for a
// non-interactive unlock.
const passwordEnvVar = "BW_PASSWORD"

// SessionSource records how a session token was obtained.
type SessionSource int

// Session sources.
const (
	SourceEnvironment SessionSource = iota
	SourceUnlock
)

func (s SessionSource) String() string {
	if s == SourceEnvironment {
		return "environment"
	}
	return "unlock"
}

// session is the in-memory vault session. The token lives in a memguard
// enclave and is never written to disk.
type session struct {
	token      *secure.Buffer
	source     SessionSource
	obtainedAt time.Time
}

// SessionManager obtains and caches an unlocked-vault session for the
// lifetime of one process invocation.
type SessionManager struct {
	gateway        *Gateway
	logger         *logging.Logger
	email          string
	nonInteractive bool
	lookupEnv      func(string) (string, bool)

	current     *session
	envRejected bool
}

// NewSessionManager creates a session manager reading from the process
// environment.
func NewSessionManager(gateway *Gateway, logger *logging.Logger, email string, nonInteractive bool) *SessionManager {
	return NewSessionManagerWithEnv(gateway, logger, email, nonInteractive, os.LookupEnv)
}

// NewSessionManagerWithEnv creates a session manager with a custom
// environment lookup. This is primarily for testing.
func NewSessionManagerWithEnv(
	gateway *Gateway,
	logger *logging.Logger,
	email string,
	nonInteractive bool,
	lookupEnv func(string) (string, bool),
) *SessionManager {
	return &SessionManager{
		gateway:        gateway,
		logger:         logger,
		email:          email,
		nonInteractive: nonInteractive,
		lookupEnv:      lookupEnv,
	}
}

// Ensure returns an unlocked-vault session token, establishing one if
// needed. The environment-provided token is the first choice; it is verified
// with a status call before being trusted. An empty token with a nil error
// means the vault is already unlocked without an explicit session.
func (m *SessionManager) Ensure(ctx context.Context) (string, error) {
	if m.current != nil {
		return m.current.token.String()
	}

	if !m.envRejected {
		if token, ok := m.lookupEnv(sessionEnvVar); ok && token != "" {
			status, err := m.gateway.Status(ctx, token)
			if err == nil && status.Status == StatusUnlocked {
				m.cache(token, SourceEnvironment)
				return token, nil
			}
			if err != nil {
				var tnf *ToolNotFoundError
				if errors.As(err, &tnf) {
					return "", err
				}
			}
			m.envRejected = true
			m.logger.Debug("environment session rejected, falling back to unlock")
		}
	}

	return m.unlock(ctx)
}

// Invalidate discards the cached session after an auth rejection. The
// environment token is also blacklisted so a retry goes through a fresh
// unlock instead of looping on a stale token.
func (m *SessionManager) Invalidate() {
	if m.current != nil {
		m.current.token.Destroy()
		m.current = nil
	}
	m.envRejected = true
}

// Destroy wipes the cached session. Called at process exit.
func (m *SessionManager) Destroy() {
	if m.current != nil {
		m.current.token.Destroy()
		m.current = nil
	}
}

func (m *SessionManager) cache(token string, source SessionSource) {
	m.current = &session{
		token:      secure.NewBuffer([]byte(token)),
		source:     source,
		obtainedAt: time.Now(),
	}
	m.logger.Debug("vault session established (source: %s)", source)
}

// unlock establishes a fresh session through the CLI, picking `bw unlock` or
// `bw login` based on the reported vault state.
func (m *SessionManager) unlock(ctx context.Context) (string, error) {
	status, err := m.gateway.Status(ctx, "")
	if err != nil {
		return "", err
	}

	switch status.Status {
	case StatusUnlocked:
		// Already usable via the inherited environment; no explicit token.
		m.cache("", SourceEnvironment)
		return "", nil

	case StatusLocked:
		token, err := m.runUnlock(ctx, []string{"unlock", "--raw"})
		if err != nil {
			return "", &AuthError{Reason: "unlock failed", Err: wrapSentinel(ErrLockedVault, err)}
		}
		m.cache(token, SourceUnlock)
		return token, nil

	case StatusUnauthenticated:
		args := []string{"login"}
		if m.email != "" {
			args = append(args, m.email)
		}
		args = append(args, "--raw")
		token, err := m.runUnlock(ctx, args)
		if err != nil {
			return "", &AuthError{Reason: "login failed", Err: err}
		}
		m.cache(token, SourceUnlock)
		return token, nil

	default:
		return "", &AuthError{Reason: fmt.Sprintf("unknown vault status %q", status.Status)}
	}
}

// runUnlock executes an unlock-style command that prints a raw session token.
// With BW_PASSWORD set the command runs non-interactively; otherwise the CLI
// prompts on the terminal, which a non-interactive context must refuse.
func (m *SessionManager) runUnlock(ctx context.Context, args []string) (string, error) {
	cmd := Command{Args: args}

	if _, ok := m.lookupEnv(passwordEnvVar); ok {
		cmd.Args = append(cmd.Args, "--passwordenv", passwordEnvVar)
	} else if m.nonInteractive {
		return "", &AuthError{
			Reason: fmt.Sprintf("non-interactive mode and neither %s nor %s is set", sessionEnvVar, passwordEnvVar),
			Err:    ErrNoCredentialSource,
		}
	} else {
		cmd.Interactive = true
	}

	stdout, err := m.gateway.Run(ctx, cmd)
	if err != nil {
		return "", err
	}

	token := firstLine(stdout)
	if token == "" {
		return "", &MalformedOutputError{Subcommand: subcommand(args), Err: fmt.Errorf("empty session token")}
	}
	return token, nil
}

func wrapSentinel(sentinel, err error) error {
	if err == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}
