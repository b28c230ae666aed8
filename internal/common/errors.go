package common

import (
	"errors"
	"fmt"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrDatabase     = errors.New("database error")
	ErrCancelled    = errors.New("cancelled before start")
)

// Pipeline outcome codes. Only CodePersistenceFailure aborts a batch; the
// others are recorded as Issues and surface in the batch report.
const (
	CodeUnreadablePage        = "UNREADABLE_PAGE"
	CodeAmbiguousContinuation = "AMBIGUOUS_CONTINUATION"
	CodeStructuralFailure     = "STRUCTURAL_EXTRACTION_FAILURE"
	CodeCurrencyFailure       = "CURRENCY_RESOLUTION_FAILURE"
	CodeDuplicateInvoice      = "DUPLICATE_INVOICE"
	CodeValidationCoercion    = "VALIDATION_COERCION_FAILURE"
	CodePersistenceFailure    = "PERSISTENCE_FAILURE"
	CodeConfig                = "CONFIG_ERROR"
	CodeCancelled             = "CANCELLED"
	CodeDocumentTimeout       = "DOCUMENT_TIMEOUT"
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WrapError annotates err with message and tags it with kind, so both
// errors.Is(err, kind) and the original cause still match.
func WrapError(err, kind error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", message, kind, err)
}

// IsCode reports whether err carries an AppError with the given code anywhere in its chain.
func IsCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// Issue is a non-fatal, tagged outcome produced by a pipeline stage. Location
// fields are zero when they do not apply (Page and Row are 1-based).
type Issue struct {
	Code     string
	Document string
	Invoice  string
	Page     int
	Row      int
	Column   string
	Detail   string
}

func (i Issue) String() string {
	where := i.Document
	if i.Invoice != "" {
		where += " invoice=" + i.Invoice
	}
	if i.Page > 0 {
		where += fmt.Sprintf(" page=%d", i.Page)
	}
	if i.Row > 0 {
		where += fmt.Sprintf(" row=%d", i.Row)
	}
	if i.Column != "" {
		where += " column=" + i.Column
	}
	return fmt.Sprintf("%s [%s] %s", i.Code, where, i.Detail)
}
