package models

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies pipeline failures. Each category maps to a
// distinct caller-facing policy (see the HTTP layer).
type ErrorCategory string

const (
	CategoryValidation ErrorCategory = "validation"
	CategorySecurity   ErrorCategory = "security_blocked"
	CategoryRetrieval  ErrorCategory = "retrieval"
	CategoryRender     ErrorCategory = "render"
	CategoryCache      ErrorCategory = "cache"
)

// Reason codes. Stable strings: clients and tests match on these.
const (
	ReasonInvalidRequest   = "invalid_request"
	ReasonInvalidReference = "invalid_reference"
	ReasonFetchFailed      = "fetch_failed"
	ReasonNotFound         = "not_found"
	ReasonTimeout          = "timeout"

	ReasonMagicMismatch    = "magic_mismatch"
	ReasonScriptInjection  = "script_injection"
	ReasonActivePDFContent = "pdf_active_content"
	ReasonInputTooLarge    = "input_too_large"
	ReasonPixelBudget      = "pixel_budget_exceeded"
	ReasonDecodeFailed     = "decode_failed"
	ReasonEncodeFailed     = "encode_failed"
	ReasonOutputTooLarge   = "output_too_large"
	ReasonUnsupportedType  = "unsupported_type"

	ReasonBlobWriteFailed  = "blob_write_failed"
	ReasonIndexWriteFailed = "index_write_failed"
)

// Error is the typed, reason-coded failure every pipeline stage
// returns. Callers must not retry automatically unless Retryable is
// set (timeouts only).
type Error struct {
	Category  ErrorCategory `json:"category"`
	Reason    string        `json:"reason"`
	Message   string        `json:"message"`
	Retryable bool          `json:"retryable,omitempty"`
	Err       error         `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s/%s: %s: %v", e.Category, e.Reason, e.Message, e.Err)
	}
	return fmt.Sprintf("%s/%s: %s", e.Category, e.Reason, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func NewValidationError(reason, msg string) *Error {
	return &Error{Category: CategoryValidation, Reason: reason, Message: msg}
}

func NewRetrievalError(reason, msg string, err error) *Error {
	return &Error{Category: CategoryRetrieval, Reason: reason, Message: msg, Err: err}
}

func NewRenderError(reason, msg string, err error) *Error {
	return &Error{Category: CategoryRender, Reason: reason, Message: msg, Err: err}
}

func NewCacheError(reason, msg string, err error) *Error {
	return &Error{Category: CategoryCache, Reason: reason, Message: msg, Err: err}
}

// NewTimeoutError marks a deadline breach as retryable for the caller;
// this layer itself never retries.
func NewTimeoutError(cat ErrorCategory, msg string, err error) *Error {
	return &Error{Category: cat, Reason: ReasonTimeout, Message: msg, Retryable: true, Err: err}
}

// IsCategory reports whether err is a pipeline Error of the given category.
func IsCategory(err error, cat ErrorCategory) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Category == cat
	}
	return false
}

// AsError extracts the pipeline Error from err, or wraps err as an
// uncategorized cache failure so callers always see the typed form.
func AsError(err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return &Error{Category: CategoryCache, Reason: "internal", Message: err.Error(), Err: err}
}
