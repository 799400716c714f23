// Package errors provides user-facing error types with remediation hints.
package errors

import (
	"fmt"
	"strings"
)

// UserError represents an error that should be shown to the user with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// CommandError represents a command execution error
type CommandError struct {
	Command    string
	ExitCode   int
	Message    string
	Suggestion string
}

func (e CommandError) Error() string {
	msg := fmt.Sprintf("Command '%s' failed", e.Command)
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" (exit code: %d)", e.ExitCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// Suggestion returns a remediation hint for common Bitwarden CLI failures,
// or an empty string when none applies.
func Suggestion(err error) string {
	if err == nil {
		return ""
	}
	errStr := err.Error()

	if strings.Contains(errStr, "not logged in") {
		return "Run 'bw login' to authenticate with Bitwarden"
	}
	if strings.Contains(errStr, "vault is locked") || strings.Contains(errStr, "Vault is locked") {
		return "Run 'bw unlock' and export the BW_SESSION environment variable"
	}
	if strings.Contains(errStr, "executable file not found") || strings.Contains(errStr, "command not found") {
		return "Install Bitwarden CLI: https://bitwarden.com/help/cli/"
	}
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded") {
		return "The operation timed out. Check your network connection and try again"
	}

	return ""
}

// WrapCommandNotFound wraps command not found errors with helpful suggestions
func WrapCommandNotFound(command string, err error) error {
	suggestion := fmt.Sprintf("Make sure '%s' is installed and in your PATH", command)
	if command == "bw" || command == "bw.cmd" {
		suggestion = "Install Bitwarden CLI: https://bitwarden.com/help/cli/"
	}

	return CommandError{
		Command:    command,
		Message:    "command not found",
		Suggestion: suggestion,
	}
}
