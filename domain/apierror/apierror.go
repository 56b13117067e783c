// Package apierror provides the error taxonomy returned to API callers.
// Errors are tagged-variant value types: a Kind discriminant plus stable
// machine-readable codes and structured details. The response builder
// switches on Kind rather than inspecting dynamic types.
package apierror

import (
	"errors"
	"fmt"
	"time"
)

// Kind discriminates error variants.
type Kind int

const (
	KindNone Kind = iota
	KindValidation
	KindQuotaExceeded
	KindSandboxLimit
	KindCorruptedInput
	KindUnsupportedOperation
	KindUnauthorized
	KindForbidden
	KindUnknownPlan
	KindInternal
)

// String returns the kind name for logging.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindValidation:
		return "validation"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindSandboxLimit:
		return "sandbox_limit"
	case KindCorruptedInput:
		return "corrupted_input"
	case KindUnsupportedOperation:
		return "unsupported_operation"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindUnknownPlan:
		return "unknown_plan"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Stable error codes. Clients match on these, so they never change.
const (
	CodeNoImage            = "NO_IMAGE_PROVIDED"
	CodeSizeExceeded       = "IMAGE_SIZE_EXCEEDED"
	CodePixelsExceeded     = "PIXEL_LIMIT_EXCEEDED"
	CodeOperationsExceeded = "OPERATION_LIMIT_EXCEEDED"
	CodeUnsupportedFormat  = "UNSUPPORTED_FORMAT"
	CodePlanLimitReached   = "PLAN_LIMIT_REACHED"
	CodeSandboxLimit       = "SANDBOX_LIMIT_REACHED"
	CodeInvalidImage       = "INVALID_IMAGE"
	CodeUnsupportedOp      = "UNSUPPORTED_OPERATION"
	CodeInvalidAPIKey      = "INVALID_API_KEY"
	CodeAccountSuspended   = "ACCOUNT_SUSPENDED"
	CodeRateLimited        = "RATE_LIMIT_EXCEEDED"
	CodeUnknownPlan        = "UNKNOWN_PLAN"
	CodeInternal           = "INTERNAL_ERROR"
	CodeTimeout            = "REQUEST_TIMEOUT"
)

// docsBase is the documentation URL prefix included with every error.
const docsBase = "https://docs.pixelpress.dev/errors/"

// Error is the tagged-variant API error (value semantics, passed by pointer
// only at package boundaries).
type Error struct {
	Kind       Kind
	Code       string
	Status     int // HTTP-equivalent status
	Message    string
	Details    map[string]any
	RetryAfter time.Duration // quota errors only; 0 elsewhere
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// DocsURL returns the documentation link for this error code.
func (e *Error) DocsURL() string {
	return docsBase + e.Code
}

// Validation builds a client-fixable validation error.
func Validation(code, message string, status int, details map[string]any) *Error {
	return &Error{
		Kind:    KindValidation,
		Code:    code,
		Status:  status,
		Message: message,
		Details: details,
	}
}

// QuotaExceeded builds the hard-enforcement quota error. retryAfter is
// clamped at zero so a stale reset timestamp never yields a negative hint.
func QuotaExceeded(used, limit int64, resetAt time.Time, now time.Time) *Error {
	retryAfter := resetAt.Sub(now)
	if retryAfter < 0 {
		retryAfter = 0
	}
	return &Error{
		Kind:    KindQuotaExceeded,
		Code:    CodePlanLimitReached,
		Status:  429,
		Message: fmt.Sprintf("Monthly limit of %d images exceeded", limit),
		Details: map[string]any{
			"used":     used,
			"limit":    limit,
			"reset_at": resetAt.UTC().Format(time.RFC3339),
		},
		RetryAfter: retryAfter,
	}
}

// SandboxLimit builds the sandbox daily-cap error.
func SandboxLimit(dailyLimit int64) *Error {
	return &Error{
		Kind:    KindSandboxLimit,
		Code:    CodeSandboxLimit,
		Status:  429,
		Message: fmt.Sprintf("Sandbox limit of %d requests per day exceeded", dailyLimit),
		Details: map[string]any{"daily_limit": dailyLimit},
	}
}

// CorruptedInput builds the error for input the codec rejected.
func CorruptedInput(reason string) *Error {
	return &Error{
		Kind:    KindCorruptedInput,
		Code:    CodeInvalidImage,
		Status:  400,
		Message: "Image could not be decoded",
		Details: map[string]any{"reason": reason},
	}
}

// UnsupportedOperation builds the error for an operation the processing
// engine cannot perform.
func UnsupportedOperation(op string) *Error {
	return &Error{
		Kind:    KindUnsupportedOperation,
		Code:    CodeUnsupportedOp,
		Status:  400,
		Message: fmt.Sprintf("Operation %q is not supported", op),
		Details: map[string]any{"operation": op},
	}
}

// InvalidKey builds the authentication failure error.
func InvalidKey() *Error {
	return &Error{
		Kind:    KindUnauthorized,
		Code:    CodeInvalidAPIKey,
		Status:  401,
		Message: "Invalid or expired API key",
	}
}

// Suspended builds the inactive-account error.
func Suspended() *Error {
	return &Error{
		Kind:    KindForbidden,
		Code:    CodeAccountSuspended,
		Status:  403,
		Message: "Account is suspended",
	}
}

// RateLimited builds the per-key rate limit error.
func RateLimited(limit int, window time.Duration, retryAfter time.Duration) *Error {
	if retryAfter < 0 {
		retryAfter = 0
	}
	return &Error{
		Kind:    KindValidation,
		Code:    CodeRateLimited,
		Status:  429,
		Message: fmt.Sprintf("Rate limit exceeded. Max %d requests per %s", limit, window),
		Details: map[string]any{
			"limit":  limit,
			"window": window.String(),
		},
		RetryAfter: retryAfter,
	}
}

// UnknownPlan builds the configuration-defect error. It should never occur
// in a correctly configured deployment.
func UnknownPlan(tier string) *Error {
	return &Error{
		Kind:    KindUnknownPlan,
		Code:    CodeUnknownPlan,
		Status:  500,
		Message: "Plan configuration error",
		Details: map[string]any{"plan": tier},
	}
}

// Internal builds the catch-all error. The cause is logged by the caller
// and never included in the response.
func Internal() *Error {
	return &Error{
		Kind:    KindInternal,
		Code:    CodeInternal,
		Status:  500,
		Message: "An internal error occurred",
	}
}

// Timeout builds the error returned when a request's deadline expires or
// the caller disconnects while the job is queued or processing.
func Timeout() *Error {
	return &Error{
		Kind:    KindInternal,
		Code:    CodeTimeout,
		Status:  504,
		Message: "The request did not complete in time",
	}
}

// Response is the JSON body written for an error.
type Response struct {
	Error     string         `json:"error"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	DocsURL   string         `json:"docs_url"`
}

// Build renders an Error into the wire response. Internal and unknown-plan
// errors are masked in production mode so component internals never leak.
func Build(e *Error, requestID string, production bool) Response {
	resp := Response{
		Error:     e.Code,
		Message:   e.Message,
		RequestID: requestID,
		DocsURL:   e.DocsURL(),
	}

	switch e.Kind {
	case KindUnknownPlan, KindInternal:
		// Timeouts keep their own code even in production; only the
		// 500-class internals are masked.
		if production && e.Status == 500 {
			resp.Error = CodeInternal
			resp.Message = "An internal error occurred"
			resp.Details = nil
			resp.DocsURL = docsBase + CodeInternal
			return resp
		}
		resp.Details = e.Details
	default:
		resp.Details = e.Details
	}

	return resp
}

// From converts an arbitrary error into an *Error, mapping unrecognized
// errors to the internal kind.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return Internal()
}
