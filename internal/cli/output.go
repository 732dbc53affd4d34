package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/roach88/harnessforge/internal/config"
	"github.com/roach88/harnessforge/internal/engine"
	"github.com/roach88/harnessforge/internal/store"
)

// Process exit codes.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // no harness saved, or a scenario failed
	ExitCommandError = 2 // the command could not do its work at all
)

// Error codes used in CLI responses that are not engine RuntimeError codes.
const (
	CodeConfig     = "CONFIG_ERROR"
	CodeNoHarness  = "NO_HARNESS"
	CodeNotFound   = "NOT_FOUND"
	CodeInternal   = "INTERNAL_ERROR"
	CodeTestFailed = "TEST_FAILED"
)

// ExitError carries the process exit code out of a RunE function.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError returns an ExitError without a cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError attaches an exit code to err.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode is the code main should exit with: ExitSuccess for nil,
// the carried code for an ExitError, ExitFailure otherwise.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Classify maps an operation error to a response code and exit code.
//
// Configuration and extraction problems are command errors. A collaborator
// that never answered, or a budget that ran out, means the run produced
// nothing usable, which is a failure.
func Classify(err error) (string, int) {
	switch code := engine.CodeOf(err); code {
	case engine.ErrCodeGenerationUnavailable, engine.ErrCodeBudgetExhausted:
		return string(code), ExitFailure
	case "":
	default:
		return string(code), ExitCommandError
	}
	switch {
	case config.IsLoadError(err), errors.Is(err, config.ErrNotFound):
		return CodeConfig, ExitCommandError
	case errors.Is(err, store.ErrNotFound):
		return CodeNotFound, ExitCommandError
	}
	return CodeInternal, ExitCommandError
}

// OutputFormatter writes command results as text or as a CLIResponse
// envelope.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // verbose output; Writer when nil
	Verbose   bool
}

// CLIResponse is the envelope every --format json command prints.
type CLIResponse struct {
	Status string    `json:"status"` // ok | error
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError describes a failed command. Code is an engine error code or one
// of the Code* constants.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Success prints data, wrapped in an ok envelope for json.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return f.encode(CLIResponse{Status: "ok", Data: data})
	}
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error prints a coded error. Details are shown in text mode only with
// --verbose.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return f.encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	}
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail reports err in the configured format and returns the ExitError the
// command should return.
func (f *OutputFormatter) Fail(message string, err error) error {
	code, exit := Classify(err)
	var details any
	var le *config.LoadError
	if errors.As(err, &le) {
		details = map[string]string{"path": le.Path}
	}
	if writeErr := f.Error(code, fmt.Sprintf("%s: %v", message, err), details); writeErr != nil {
		return writeErr
	}
	return WrapExitError(exit, message, err)
}

// VerboseLog prints a line to the error writer under --verbose, keeping
// json on Writer parseable.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns ErrWriter, or Writer when none was set.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

func (f *OutputFormatter) encode(resp CLIResponse) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// Text summary palette. color.NoColor (set from --color or the terminal)
// turns every one of these into plain text.
var (
	heading = color.New(color.Bold)
	good    = color.New(color.FgGreen, color.Bold)
	bad     = color.New(color.FgRed, color.Bold)
	warn    = color.New(color.FgYellow)
)

// commandContext returns the command's context, or Background when the
// command was executed without one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
