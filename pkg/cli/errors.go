package cli

import (
	"errors"
	"fmt"
)

// Exit codes returned by the quotaguard binary.
const (
	ExitOK     = 0
	ExitError  = 1
	ExitDenied = 2
)

// ConfigError represents an error in configuration.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error in %s: %s", e.Field, e.Message)
}

// CommandError represents an error from a command execution.
type CommandError struct {
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %s failed: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// DeniedError reports that an admission check was denied. It is not a
// failure of the command, only a distinct exit status for scripts.
type DeniedError struct {
	Reason string
}

func (e *DeniedError) Error() string {
	return "denied: " + e.Reason
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{
		Field:   field,
		Message: message,
	}
}

// NewCommandError creates a new CommandError.
func NewCommandError(command string, err error) *CommandError {
	return &CommandError{
		Command: command,
		Err:     err,
	}
}

// ExitCode maps an error returned by a command to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var denied *DeniedError
	if errors.As(err, &denied) {
		return ExitDenied
	}
	return ExitError
}
