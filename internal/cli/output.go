package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/roach88/cookiechain/internal/tx"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // The game rejected the request (initialize failed, operation aborted)
	ExitCommandError = 2 // Bad flags, unreadable config, database or keystore errors
)

// Error codes carried in JSON error responses.
const (
	CodeConfig   = "E_CONFIG"
	CodeStore    = "E_STORE"
	CodeAccount  = "E_ACCOUNT"
	CodeArgument = "E_ARGUMENT"
	CodeSession  = "E_SESSION"
)

// ExitError carries an exit code and a response code out of a command.
type ExitError struct {
	Code     int    // process exit code
	Response string // E_* code for JSON output; empty uses a default per exit code
	Message  string
	Err      error
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

// NewExitError creates an ExitError without an underlying cause.
func NewExitError(code int, response, message string) *ExitError {
	return &ExitError{Code: code, Response: response, Message: message}
}

// WrapExitError wraps err with an exit code.
func WrapExitError(code int, response, message string, err error) *ExitError {
	return &ExitError{Code: code, Response: response, Message: message, Err: err}
}

// exitAfterOutput is returned by commands that already wrote their result
// and only need a non-zero exit code.
func exitAfterOutput(code int) *ExitError {
	return &ExitError{Code: code}
}

func (e *ExitError) reported() bool {
	return e.Message == "" && e.Err == nil
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter writes command results as JSON envelopes or text.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // diagnostics; defaults to Writer
	Verbose   bool
}

// CLIResponse is the JSON envelope every command writes.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error half of CLIResponse.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Emit writes data. JSON output wraps it in a CLIResponse; text output calls
// text, or prints data when text is nil.
func (f *OutputFormatter) Emit(data any, text func(w io.Writer) error) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	}
	if text == nil {
		_, err := fmt.Fprintln(f.Writer, data)
		return err
	}
	return text(f.Writer)
}

// Success outputs data with the default text rendering.
func (f *OutputFormatter) Success(data any) error {
	return f.Emit(data, nil)
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
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

// ReportError writes err through Error. ExitErrors keep their response code;
// anything else is reported as a session error.
func (f *OutputFormatter) ReportError(err error) error {
	code := CodeSession
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		switch {
		case exitErr.Response != "":
			code = exitErr.Response
		case exitErr.Code == ExitCommandError:
			code = CodeArgument
		}
	}
	return f.Error(code, err.Error(), nil)
}

// VerboseLog outputs a message only if verbose mode is enabled. It always
// goes to the diagnostic writer so JSON output stays parseable.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

var numbers = message.NewPrinter(language.English)

// cookies formats n with thousands separators.
func cookies(n int64) string {
	return numbers.Sprintf("%d", n)
}

// renderRecords writes recs as a table, oldest first.
func renderRecords(w io.Writer, recs []tx.Record) error {
	if len(recs) == 0 {
		_, err := fmt.Fprintln(w, "No transactions.")
		return err
	}

	data := pterm.TableData{{"ID", "KIND", "STATUS", "HANDLE", "CREATED", "DELTA", "REASON"}}
	for _, r := range recs {
		delta := ""
		if r.OptimisticDelta != nil {
			delta = numbers.Sprintf("%+d", r.OptimisticDelta.Cookies)
		}
		data = append(data, []string{
			r.ID,
			string(r.Kind),
			string(r.Status),
			shorten(r.LedgerHandle),
			time.UnixMilli(r.CreatedAt).UTC().Format(time.RFC3339),
			delta,
			r.FailureReason,
		})
	}

	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return fmt.Errorf("render table: %w", err)
	}
	_, err = fmt.Fprintln(w, table)
	return err
}

var statusOrder = []tx.Status{tx.StatusPending, tx.StatusSubmitted, tx.StatusConfirmed, tx.StatusFailed}

// renderCounts writes a one-line status summary in a fixed status order.
func renderCounts(w io.Writer, counts map[tx.Status]int) error {
	parts := make([]string, 0, len(statusOrder))
	for _, st := range statusOrder {
		parts = append(parts, fmt.Sprintf("%s=%d", st, counts[st]))
	}
	_, err := fmt.Fprintln(w, strings.Join(parts, " "))
	return err
}

// shorten trims long hex handles for table display.
func shorten(h string) string {
	if len(h) <= 14 {
		return h
	}
	return h[:8] + "…" + h[len(h)-4:]
}
