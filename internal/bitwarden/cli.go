// Package bitwarden drives the Bitwarden CLI (`bw`) as an external vault.
//
// The gateway runs bw as a child process and normalizes its behavior: session
// tokens travel via the child environment rather than argv, structured output
// is validated before decoding, and every invocation is bounded by a timeout
// so an unexpected interactive prompt cannot hang the provider.
package bitwarden

import (
	"context"
	"errors"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/Jantje19/cargo-credential-bitwarden/internal/logging"
	pkgexec "github.com/Jantje19/cargo-credential-bitwarden/pkg/exec"
)

// sessionEnvVar is the variable the bw CLI reads its session token from.
const sessionEnvVar = "BW_SESSION"

// stderrExcerptLimit bounds how much stderr is carried in a GatewayError.
const stderrExcerptLimit = 512

// Command describes one bw invocation.
type Command struct {
	// Args is the subcommand and its arguments, e.g. ["list", "items"].
	Args []string

	// Stdin is an optional payload, e.g. the item JSON fed to `bw encode`.
	Stdin []byte

	// Session is the vault session token, passed via BW_SESSION. Empty means
	// the child relies on whatever the parent environment provides.
	Session string

	// Interactive lets the command prompt the user on the terminal. Used for
	// `bw unlock` and `bw login`; everything else runs with --nointeraction.
	Interactive bool

	// Redact lists secret values scrubbed from diagnostics and errors.
	Redact []string
}

// Gateway wraps invocation of the bw CLI.
type Gateway struct {
	cmdName   string
	lookupErr error
	executor  pkgexec.CommandExecutor
	timeout   time.Duration
	logger    *logging.Logger
}

// NewGateway creates a gateway, resolving the bw executable once. A missing
// executable is not an immediate error: every later invocation fails fast
// with ToolNotFoundError instead, without spawning anything.
func NewGateway(executor pkgexec.CommandExecutor, timeout time.Duration, logger *logging.Logger) *Gateway {
	name, err := lookupTool()
	return &Gateway{
		cmdName:   name,
		lookupErr: err,
		executor:  executor,
		timeout:   timeout,
		logger:    logger,
	}
}

// NewGatewayWithTool creates a gateway bound to the given executable name
// without PATH resolution. This is primarily for testing.
func NewGatewayWithTool(name string, executor pkgexec.CommandExecutor, timeout time.Duration, logger *logging.Logger) *Gateway {
	return &Gateway{
		cmdName:  name,
		executor: executor,
		timeout:  timeout,
		logger:   logger,
	}
}

// lookupTool finds the bw executable, trying the .cmd shim on Windows.
func lookupTool() (string, error) {
	if _, err := exec.LookPath("bw"); err == nil {
		return "bw", nil
	} else if runtime.GOOS == "windows" {
		if _, cmdErr := exec.LookPath("bw.cmd"); cmdErr == nil {
			return "bw.cmd", nil
		}
		return "", err
	} else {
		return "", err
	}
}

// Run executes a bw command and returns its stdout.
func (g *Gateway) Run(ctx context.Context, cmd Command) ([]byte, error) {
	if g.lookupErr != nil {
		return nil, &ToolNotFoundError{Err: g.lookupErr}
	}

	args := make([]string, 0, len(cmd.Args)+2)
	if !cmd.Interactive {
		args = append(args, "--nointeraction", "--cleanexit")
	}
	args = append(args, cmd.Args...)

	redact := cmd.Redact
	var env map[string]string
	if cmd.Session != "" {
		env = map[string]string{sessionEnvVar: cmd.Session}
		redact = append(redact, cmd.Session)
	}

	sub := subcommand(cmd.Args)
	g.logger.Debug("running bw %s", sub)

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	stdout, stderr, err := g.executor.Execute(ctx, pkgexec.Command{
		Name:        g.cmdName,
		Args:        args,
		Stdin:       cmd.Stdin,
		Env:         env,
		Interactive: cmd.Interactive,
	})
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &TimeoutError{Subcommand: sub, After: g.timeout}
		}
		return nil, &GatewayError{
			Subcommand: sub,
			ExitCode:   exitCode(err),
			Stderr:     logging.Redact(excerpt(stderr), redact),
			Err:        err,
		}
	}

	return stdout, nil
}

// RunJSONItems executes a bw command whose stdout is an item list.
func (g *Gateway) RunJSONItems(ctx context.Context, cmd Command) ([]Item, error) {
	stdout, err := g.Run(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return decodeItems(stdout)
}

// Status runs `bw status` and decodes the vault state.
func (g *Gateway) Status(ctx context.Context, session string) (Status, error) {
	stdout, err := g.Run(ctx, Command{Args: []string{"status"}, Session: session})
	if err != nil {
		return Status{}, err
	}
	return decodeStatus(stdout)
}

// Encode feeds payload to `bw encode` and returns the encoded body expected
// by `bw create item` and `bw edit item`.
func (g *Gateway) Encode(ctx context.Context, session string, payload []byte, redact []string) (string, error) {
	stdout, err := g.Run(ctx, Command{
		Args:    []string{"encode"},
		Stdin:   payload,
		Session: session,
		Redact:  redact,
	})
	if err != nil {
		return "", err
	}
	return firstLine(stdout), nil
}

// subcommand names the invocation for diagnostics without echoing arguments,
// which may carry encoded secret payloads.
func subcommand(args []string) string {
	n := 0
	for _, arg := range args {
		if strings.HasPrefix(arg, "-") {
			break
		}
		n++
		if n == 2 {
			break
		}
	}
	if n == 0 {
		return "(none)"
	}
	return strings.Join(args[:n], " ")
}

func excerpt(stderr []byte) string {
	s := strings.TrimSpace(string(stderr))
	if len(s) > stderrExcerptLimit {
		s = s[:stderrExcerptLimit]
	}
	return s
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func firstLine(out []byte) string {
	s := string(out)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
