// Package exec provides abstractions for command execution.
// This package enables testable code by allowing CLI commands to be mocked.
package exec

import (
	"bytes"
	"context"
	"fmt"
	"os"
	osexec "os/exec"
)

// Command describes one invocation of an external tool.
type Command struct {
	// Name is the executable to run, as resolved from PATH or an absolute path.
	Name string

	// Args are the command-line arguments, not including the executable name.
	Args []string

	// Stdin is an optional payload written to the child's standard input.
	// Ignored when Interactive is set.
	Stdin []byte

	// Env holds extra environment variables for the child process. They are
	// appended to the parent environment, so secrets such as session tokens
	// can reach the tool without appearing in argv.
	Env map[string]string

	// Interactive attaches the parent's stdin and stderr to the child so the
	// tool can prompt the user directly. Stdout is still captured.
	Interactive bool
}

// CommandExecutor defines an interface for executing shell commands.
// This abstraction allows for mocking CLI tool behavior in tests.
type CommandExecutor interface {
	// Execute runs the command with the given context.
	// Returns stdout, stderr, and any error that occurred.
	Execute(ctx context.Context, cmd Command) (stdout []byte, stderr []byte, err error)
}

// RealCommandExecutor executes actual shell commands using os/exec.
// This is the production implementation.
type RealCommandExecutor struct{}

// Execute runs an actual shell command.
func (r *RealCommandExecutor) Execute(ctx context.Context, cmd Command) ([]byte, []byte, error) {
	c := osexec.CommandContext(ctx, cmd.Name, cmd.Args...)

	if len(cmd.Env) > 0 {
		env := os.Environ()
		for key, value := range cmd.Env {
			env = append(env, fmt.Sprintf("%s=%s", key, value))
		}
		c.Env = env
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout

	if cmd.Interactive {
		c.Stdin = os.Stdin
		c.Stderr = os.Stderr
	} else {
		c.Stderr = &stderr
		if len(cmd.Stdin) > 0 {
			c.Stdin = bytes.NewReader(cmd.Stdin)
		}
	}

	err := c.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// DefaultExecutor returns the standard production executor.
// This is used as the default when no executor is injected.
func DefaultExecutor() CommandExecutor {
	return &RealCommandExecutor{}
}
