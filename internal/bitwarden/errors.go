package bitwarden

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Auth sentinel errors
var (
	ErrLockedVault        = errors.New("bitwarden vault is locked")
	ErrNoCredentialSource = errors.New("no credential source available for unlock")
)

// ToolNotFoundError indicates the bw executable is missing from the environment.
type ToolNotFoundError struct {
	Err error
}

func (e *ToolNotFoundError) Error() string {
	return "bitwarden CLI 'bw' not found in PATH. Install from: https://bitwarden.com/help/cli/"
}

func (e *ToolNotFoundError) Unwrap() error {
	return e.Err
}

// GatewayError wraps a non-zero exit from the bw CLI. Stderr is already
// redacted; it never contains session tokens or registry tokens.
type GatewayError struct {
	Subcommand string
	ExitCode   int
	Stderr     string
	Err        error
}

func (e *GatewayError) Error() string {
	msg := fmt.Sprintf("bw %s failed", e.Subcommand)
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" (exit code: %d)", e.ExitCode)
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// MalformedOutputError indicates bw output did not match the expected shape.
type MalformedOutputError struct {
	Subcommand string
	Err        error
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("unexpected output from bw %s: %v", e.Subcommand, e.Err)
}

func (e *MalformedOutputError) Unwrap() error {
	return e.Err
}

// TimeoutError indicates a bw invocation exceeded the configured deadline,
// which usually means the tool blocked on an unexpected prompt.
type TimeoutError struct {
	Subcommand string
	After      time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("bw %s timed out after %s (is the CLI waiting for input?)", e.Subcommand, e.After)
}

// AuthError indicates the vault session could not be established.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bitwarden authentication failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("bitwarden authentication failed: %s", e.Reason)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// AmbiguousItemError is returned when several vault items match one registry
// and the configured policy does not allow a deterministic pick.
type AmbiguousItemError struct {
	IndexURL string
	Matches  int
}

func (e *AmbiguousItemError) Error() string {
	return fmt.Sprintf(
		"%d Bitwarden logins match registry `%s`, delete the excess entries or set `duplicates: newest`",
		e.Matches, e.IndexURL,
	)
}

// authRejectionSignatures are stderr fragments the bw CLI emits when a
// session token is stale or the vault relocked underneath us.
var authRejectionSignatures = []string{
	"vault is locked",
	"not logged in",
	"session key is invalid",
	"mac failed",
}

// IsAuthRejection reports whether err looks like the vault rejected the
// current session. Callers invalidate the session and retry exactly once.
func IsAuthRejection(err error) bool {
	var gwErr *GatewayError
	if !errors.As(err, &gwErr) {
		return false
	}
	stderr := strings.ToLower(gwErr.Stderr)
	for _, sig := range authRejectionSignatures {
		if strings.Contains(stderr, sig) {
			return true
		}
	}
	return false
}
