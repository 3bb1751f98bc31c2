package errors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryFile           ErrorCategory = "file"
	CategoryParse          ErrorCategory = "parse"
	CategoryValidation     ErrorCategory = "validation"
	CategoryNotFound       ErrorCategory = "not_found"
	CategoryBusinessRule   ErrorCategory = "business_rule"
	CategoryConfiguration  ErrorCategory = "configuration"
	CategoryReconciliation ErrorCategory = "reconciliation"
	CategoryStorage        ErrorCategory = "storage"
	CategoryInternal       ErrorCategory = "internal"
)

// ErrorCode represents specific error codes within categories
type ErrorCode string

const (
	// File errors
	CodeFileNotFound   ErrorCode = "file_not_found"
	CodeFilePermission ErrorCode = "file_permission"
	CodeFileEmpty      ErrorCode = "file_empty"
	CodeFileTooLarge   ErrorCode = "file_too_large"

	// Parse errors
	CodeInvalidFormat ErrorCode = "invalid_format"
	CodeEncodingError ErrorCode = "encoding_error"

	// Validation errors
	CodeInvalidTemplate ErrorCode = "invalid_template"
	CodeNoValidRows     ErrorCode = "no_valid_rows"
	CodeMissingField    ErrorCode = "missing_field"
	CodeInvalidValue    ErrorCode = "invalid_value"

	// Not found errors
	CodeBatchNotFound    ErrorCode = "batch_not_found"
	CodeTemplateNotFound ErrorCode = "template_not_found"
	CodeItemNotFound     ErrorCode = "item_not_found"
	CodePaymentNotFound  ErrorCode = "payment_not_found"

	// Business rule errors
	CodeInvalidState      ErrorCode = "invalid_state"
	CodeUnresolvedItems   ErrorCode = "unresolved_items"
	CodePaymentDuplicated ErrorCode = "payment_duplicated"
	CodeConcurrentUpdate  ErrorCode = "concurrent_update"
	CodeDuplicateName     ErrorCode = "duplicate_name"

	// Configuration errors
	CodeInvalidConfig ErrorCode = "invalid_config"
	CodeMissingConfig ErrorCode = "missing_config"

	// Reconciliation errors
	CodeMatchingFailed ErrorCode = "matching_failed"
	CodeCancelled      ErrorCode = "cancelled"

	// Storage errors
	CodeQueryFailed ErrorCode = "query_failed"
	CodeWriteFailed ErrorCode = "write_failed"

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

// GetExitCode returns an appropriate exit code for the error
func (e *ReconcilerError) GetExitCode() int {
	switch e.Category {
	case CategoryFile:
		return 2
	case CategoryParse, CategoryValidation:
		return 3
	case CategoryConfiguration:
		return 4
	case CategoryNotFound:
		return 5
	case CategoryBusinessRule:
		return 6
	case CategoryReconciliation, CategoryStorage, CategoryInternal:
		return 7
	default:
		return 1
	}
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

// FileError creates a file-related error
func FileError(code ErrorCode, name string, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeFileNotFound:
		message = fmt.Sprintf("file not found: %s", name)
		suggestion = "check if the file path is correct and the file exists"
	case CodeFilePermission:
		message = fmt.Sprintf("permission denied accessing file: %s", name)
		suggestion = "check file permissions and ensure you have read access"
	case CodeFileEmpty:
		message = fmt.Sprintf("file is empty: %s", name)
		suggestion = "upload the settlement export again"
	case CodeFileTooLarge:
		message = fmt.Sprintf("file exceeds the upload limit: %s", name)
		suggestion = "split the statement or raise http.max_upload_mb"
	default:
		message = fmt.Sprintf("file error: %s", name)
		suggestion = "check the file and try again"
	}

	return build(CategoryFile, code, message, err).
		WithSuggestion(suggestion).
		WithContext("file", name)
}

// ParseError creates an error for a statement that cannot be read at all.
// Row-level problems are collected by the parser and never raised.
func ParseError(code ErrorCode, detail string, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeEncodingError:
		message = fmt.Sprintf("unsupported file encoding: %s", detail)
		suggestion = "save the file as UTF-8 or Windows-1252"
	default:
		message = fmt.Sprintf("cannot read statement: %s", detail)
		suggestion = "check the delimiter configured on the template"
	}

	return build(CategoryParse, code, message, err).WithSuggestion(suggestion)
}

// ValidationError creates a validation-related error
func ValidationError(code ErrorCode, field string, value interface{}, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeInvalidTemplate:
		message = fmt.Sprintf("invalid template field '%s': %v", field, value)
		suggestion = "fix the template column mapping or separators"
	case CodeNoValidRows:
		message = fmt.Sprintf("no valid rows parsed from %s", field)
		suggestion = "check the template matches the file layout"
	case CodeMissingField:
		message = fmt.Sprintf("required field '%s' is missing or empty", field)
		suggestion = "provide a value for this required field"
	default:
		message = fmt.Sprintf("invalid value in field '%s': %v", field, value)
		suggestion = "check the field value and format"
	}

	return build(CategoryValidation, code, message, err).
		WithSuggestion(suggestion).
		WithContext("field", field).
		WithContext("value", value)
}

// NotFoundError reports an entity that is absent or owned by another tenant
func NotFoundError(code ErrorCode, id interface{}, err error) *ReconcilerError {
	entity := strings.TrimSuffix(string(code), "_not_found")
	return build(CategoryNotFound, code, fmt.Sprintf("%s %v not found", entity, id), err).
		WithContext("id", id)
}

// BusinessRuleError reports an operation rejected by the reconciliation rules
func BusinessRuleError(code ErrorCode, message string) *ReconcilerError {
	return New(CategoryBusinessRule, code, message)
}

// ConfigurationError creates a configuration-related error
func ConfigurationError(code ErrorCode, setting string, value interface{}, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeMissingConfig:
		message = fmt.Sprintf("missing required configuration: %s", setting)
		suggestion = "set it in the config file or as a RECONCILER_ environment variable"
	default:
		message = fmt.Sprintf("invalid configuration for '%s': %v", setting, value)
		suggestion = "check the configuration documentation for valid values"
	}

	return build(CategoryConfiguration, code, message, err).
		WithSuggestion(suggestion).
		WithContext("setting", setting).
		WithContext("value", value)
}

// ReconciliationError creates a reconciliation-related error
func ReconciliationError(code ErrorCode, operation string, err error) *ReconcilerError {
	var message string

	switch code {
	case CodeCancelled:
		message = fmt.Sprintf("%s cancelled before completion", operation)
	default:
		message = fmt.Sprintf("matching failed during %s", operation)
	}

	return build(CategoryReconciliation, code, message, err).
		WithContext("operation", operation)
}

// StorageError wraps a persistence failure
func StorageError(code ErrorCode, operation string, err error) *ReconcilerError {
	return build(CategoryStorage, code, fmt.Sprintf("storage failure during %s", operation), err).
		WithContext("operation", operation)
}

// InternalError creates an internal error
func InternalError(code ErrorCode, operation string, err error) *ReconcilerError {
	return build(CategoryInternal, code, fmt.Sprintf("unexpected error during %s", operation), err).
		WithSuggestion("this is likely a bug - please report it with the error details").
		WithContext("operation", operation)
}

// AsReconcilerError extracts a ReconcilerError from an error chain
func AsReconcilerError(err error) (*ReconcilerError, bool) {
	var reconcilerErr *ReconcilerError
	if errors.As(err, &reconcilerErr) {
		return reconcilerErr, true
	}
	return nil, false
}

// HasCategory reports whether err carries a ReconcilerError of the given category
func HasCategory(err error, category ErrorCategory) bool {
	re, ok := AsReconcilerError(err)
	return ok && re.Category == category
}

// IsNotFound reports whether err is a not-found error
func IsNotFound(err error) bool { return HasCategory(err, CategoryNotFound) }

// IsBusinessRule reports whether err is a business rule violation
func IsBusinessRule(err error) bool { return HasCategory(err, CategoryBusinessRule) }

// IsValidation reports whether err is a validation error
func IsValidation(err error) bool { return HasCategory(err, CategoryValidation) }

// WrapIfNeeded wraps an error if it's not already a ReconcilerError
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) error {
	if err == nil {
		return nil
	}

	if reconcilerErr, ok := AsReconcilerError(err); ok {
		return reconcilerErr
	}

	return Wrap(err, category, code, message)
}
