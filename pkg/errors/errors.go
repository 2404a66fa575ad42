package errors

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// ErrorCategory groups errors by the stage of a reconciliation run that raised them
type ErrorCategory string

const (
	CategoryInput          ErrorCategory = "input"
	CategoryConfiguration  ErrorCategory = "configuration"
	CategoryReconciliation ErrorCategory = "reconciliation"
	CategoryStorage        ErrorCategory = "storage"
	CategoryInternal       ErrorCategory = "internal"
)

// ErrorCode identifies a specific failure within a category
type ErrorCode string

const (
	// Input errors
	CodeFileNotFound    ErrorCode = "file_not_found"
	CodeUnreadableFile  ErrorCode = "unreadable_file"
	CodeHeaderNotFound  ErrorCode = "header_not_found"
	CodeMissingColumn   ErrorCode = "missing_column"
	CodeInvalidRow      ErrorCode = "invalid_row"
	CodeUnsupportedType ErrorCode = "unsupported_type"
	CodeInvalidRequest  ErrorCode = "invalid_request"

	// Configuration errors
	CodeInvalidConfig ErrorCode = "invalid_config"
	CodeMissingConfig ErrorCode = "missing_config"

	// Reconciliation errors
	CodeIntegrityViolation ErrorCode = "integrity_violation"
	CodeDataInconsistent   ErrorCode = "data_inconsistent"

	// Storage errors
	CodeFetchFailed   ErrorCode = "fetch_failed"
	CodeUploadFailed  ErrorCode = "upload_failed"
	CodePersistFailed ErrorCode = "persist_failed"
	CodeNotFound      ErrorCode = "not_found"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
)

// ReconcilerError is the base error type for all application errors
type ReconcilerError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional information about the error
type Context map[string]interface{}

// Error implements the error interface
func (e *ReconcilerError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

// Unwrap returns the underlying cause error
func (e *ReconcilerError) Unwrap() error {
	return e.Cause
}

// GetExitCode maps the category to a process exit code
func (e *ReconcilerError) GetExitCode() int {
	switch e.Category {
	case CategoryInput:
		return 3
	case CategoryConfiguration:
		return 4
	case CategoryReconciliation, CategoryInternal:
		return 5
	case CategoryStorage:
		return 6
	default:
		return 1
	}
}

// IsFatalInput reports whether the error aborts a run before matching starts
func (e *ReconcilerError) IsFatalInput() bool {
	return e.Category == CategoryInput
}

// WithContext adds context information to the error
func (e *ReconcilerError) WithContext(key string, value interface{}) *ReconcilerError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for fixing the error
func (e *ReconcilerError) WithSuggestion(suggestion string) *ReconcilerError {
	e.Suggestion = suggestion
	return e
}

// New creates a new ReconcilerError
func New(category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	return &ReconcilerError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with ReconcilerError context
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err == nil {
		return nil
	}

	return &ReconcilerError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

func build(category ErrorCategory, code ErrorCode, message string, err error) *ReconcilerError {
	if err != nil {
		return Wrap(err, category, code, message)
	}
	return New(category, code, message)
}

// InputError creates an error for a ledger or statement that cannot be read
func InputError(code ErrorCode, source string, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeFileNotFound:
		message = fmt.Sprintf("input not found: %s", source)
		suggestion = "check the path or URI of the input file"
	case CodeUnreadableFile:
		message = fmt.Sprintf("input could not be read: %s", source)
		suggestion = "verify the file is a valid CSV or XLSX workbook"
	case CodeUnsupportedType:
		message = fmt.Sprintf("unsupported input type: %s", source)
		suggestion = "provide a .csv or .xlsx file"
	default:
		message = fmt.Sprintf("input error: %s", source)
		suggestion = "check the input file and try again"
	}

	return build(CategoryInput, code, message, err).
		WithSuggestion(suggestion).
		WithContext("source", source)
}

// HeaderNotFoundError reports a sheet where no row carries the anchor header
func HeaderNotFoundError(source, anchor string) *ReconcilerError {
	return New(CategoryInput, CodeHeaderNotFound,
		fmt.Sprintf("no header row containing '%s' found in %s", anchor, source)).
		WithSuggestion("make sure the export still includes the column headers").
		WithContext("source", source).
		WithContext("anchor", anchor)
}

// MissingColumnsError reports every required column absent from a header row
func MissingColumnsError(source string, columns []string) *ReconcilerError {
	sorted := append([]string(nil), columns...)
	sort.Strings(sorted)
	return New(CategoryInput, CodeMissingColumn,
		fmt.Sprintf("missing required columns in %s: %s", source, strings.Join(sorted, ", "))).
		WithSuggestion("verify the file has all required columns or configure column aliases").
		WithContext("source", source).
		WithContext("columns", sorted)
}

// RowError reports a row whose value cannot be coerced into an entry field
func RowError(source string, row int, column, value string, err error) *ReconcilerError {
	message := fmt.Sprintf("invalid value in %s at row %d, column '%s': '%s'", source, row, column, value)
	return build(CategoryInput, CodeInvalidRow, message, err).
		WithContext("source", source).
		WithContext("row", row).
		WithContext("column", column).
		WithContext("value", value)
}

// ConfigurationError creates a configuration-related error
func ConfigurationError(code ErrorCode, setting string, value interface{}, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeInvalidConfig:
		message = fmt.Sprintf("invalid configuration for '%s': %v", setting, value)
		suggestion = "check the configuration documentation for valid values"
	case CodeMissingConfig:
		message = fmt.Sprintf("missing required configuration: %s", setting)
		suggestion = "provide this configuration setting or use a config file"
	default:
		message = fmt.Sprintf("configuration error: %s", setting)
		suggestion = "check your configuration and try again"
	}

	return build(CategoryConfiguration, code, message, err).
		WithSuggestion(suggestion).
		WithContext("setting", setting).
		WithContext("value", value)
}

// IntegrityError reports matched and unmatched counts that do not add up to the side total
func IntegrityError(side string, matched, unmatched, total int) *ReconcilerError {
	return New(CategoryReconciliation, CodeIntegrityViolation,
		fmt.Sprintf("%s entries do not reconcile: matched %d + unmatched %d != total %d", side, matched, unmatched, total)).
		WithSuggestion("this is a bug in the matching engine, please report it with the input files").
		WithContext("side", side).
		WithContext("matched", matched).
		WithContext("unmatched", unmatched).
		WithContext("total", total)
}

// ReconciliationError creates a reconciliation-related error
func ReconciliationError(code ErrorCode, operation string, err error) *ReconcilerError {
	message := fmt.Sprintf("reconciliation error during %s", operation)
	if code == CodeDataInconsistent {
		message = fmt.Sprintf("data inconsistency detected during %s", operation)
	}
	return build(CategoryReconciliation, code, message, err).
		WithContext("operation", operation)
}

// StorageError creates an error for fetch, upload or persistence failures
func StorageError(code ErrorCode, target string, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeFetchFailed:
		message = fmt.Sprintf("failed to fetch %s", target)
		suggestion = "check the URI and the credentials for the remote store"
	case CodeUploadFailed:
		message = fmt.Sprintf("failed to upload %s", target)
		suggestion = "check the bucket name and write permissions"
	case CodePersistFailed:
		message = fmt.Sprintf("failed to persist %s", target)
		suggestion = "check the database path and permissions"
	case CodeNotFound:
		message = fmt.Sprintf("not found: %s", target)
	default:
		message = fmt.Sprintf("storage error: %s", target)
	}

	result := build(CategoryStorage, code, message, err).WithContext("target", target)
	if suggestion != "" {
		result.WithSuggestion(suggestion)
	}
	return result
}

// InternalError creates an internal error
func InternalError(code ErrorCode, operation string, err error) *ReconcilerError {
	return build(CategoryInternal, code, fmt.Sprintf("unexpected error during %s", operation), err).
		WithSuggestion("this is likely a bug - please report it with the error details").
		WithContext("operation", operation)
}

// Combine merges row-level errors into a single input error listing all of them.
// It returns nil when errs holds no non-nil error.
func Combine(source string, errs ...error) error {
	combined := multierr.Combine(errs...)
	if combined == nil {
		return nil
	}

	all := multierr.Errors(combined)
	if len(all) == 1 {
		return all[0]
	}

	lines := make([]string, 0, len(all))
	for _, err := range all {
		lines = append(lines, err.Error())
	}
	return Wrap(combined, CategoryInput, CodeInvalidRow,
		fmt.Sprintf("%d invalid rows in %s:\n  %s", len(all), source, strings.Join(lines, "\n  "))).
		WithContext("source", source).
		WithContext("count", len(all))
}

// AsReconcilerError extracts a ReconcilerError from an error chain
func AsReconcilerError(err error) (*ReconcilerError, bool) {
	var reconcilerErr *ReconcilerError
	if errors.As(err, &reconcilerErr) {
		return reconcilerErr, true
	}
	return nil, false
}

// IsCategory reports whether err carries a ReconcilerError of the given category
func IsCategory(err error, category ErrorCategory) bool {
	rerr, ok := AsReconcilerError(err)
	return ok && rerr.Category == category
}

// WrapIfNeeded wraps an error if it's not already a ReconcilerError
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err == nil {
		return nil
	}

	if reconcilerErr, ok := AsReconcilerError(err); ok {
		return reconcilerErr
	}

	return Wrap(err, category, code, message)
}

// GetExitCode returns the exit code for any error, 1 for foreign errors
func GetExitCode(err error) int {
	if err == nil {
		return 0
	}
	if rerr, ok := AsReconcilerError(err); ok {
		return rerr.GetExitCode()
	}
	return 1
}
