package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// FailoverReason categorizes why a provider request failed.
type FailoverReason string

const (
	ReasonBilling          FailoverReason = "billing"
	ReasonRateLimit        FailoverReason = "rate_limit"
	ReasonAuth             FailoverReason = "auth"
	ReasonTimeout          FailoverReason = "timeout"
	ReasonServerError      FailoverReason = "server_error"
	ReasonInvalidRequest   FailoverReason = "invalid_request"
	ReasonModelUnavailable FailoverReason = "model_unavailable"
	ReasonContentFilter    FailoverReason = "content_filter"
	ReasonCanceled         FailoverReason = "canceled"
	ReasonUnknown          FailoverReason = "unknown"
)

// Retryable reports whether sending the same request again may succeed.
func (r FailoverReason) Retryable() bool {
	switch r {
	case ReasonRateLimit, ReasonTimeout, ReasonServerError:
		return true
	default:
		return false
	}
}

// ProviderError is a classified failure from a model provider.
type ProviderError struct {
	Reason    FailoverReason
	Provider  string
	Model     string
	Status    int
	Code      string
	Message   string
	RequestID string
	Cause     error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: [%s]", e.Provider, e.Reason)
	if e.Model != "" {
		fmt.Fprintf(&b, " model=%s", e.Model)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " status=%d", e.Status)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " code=%s", e.Code)
	}
	if e.RequestID != "" {
		fmt.Fprintf(&b, " request_id=%s", e.RequestID)
	}
	switch {
	case e.Message != "":
		b.WriteString(" " + e.Message)
	case e.Cause != nil:
		b.WriteString(" " + e.Cause.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// newProviderError classifies cause from its text. Callers refine the
// result with status and code when the SDK exposes them.
func newProviderError(provider, model string, cause error) *ProviderError {
	e := &ProviderError{Provider: provider, Model: model, Cause: cause, Reason: ReasonUnknown}
	if cause != nil {
		e.Reason = classifyError(cause)
	}
	return e
}

func (e *ProviderError) withStatus(status int) *ProviderError {
	e.Status = status
	if reason := classifyStatus(status); reason != ReasonUnknown {
		e.Reason = reason
	}
	return e
}

func (e *ProviderError) withCode(code string) *ProviderError {
	e.Code = code
	if reason := classifyCode(code); reason != ReasonUnknown {
		e.Reason = reason
	}
	return e
}

// AsProviderError extracts a ProviderError from err's chain.
func AsProviderError(err error) (*ProviderError, bool) {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr, true
	}
	return nil, false
}

// IsRetryable reports whether err is a transient provider failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if perr, ok := AsProviderError(err); ok {
		return perr.Reason.Retryable()
	}
	return classifyError(err).Retryable()
}

func classifyError(err error) FailoverReason {
	if errors.Is(err, context.Canceled) {
		return ReasonCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}

	msg := strings.ToLower(err.Error())
	containsAny := func(subs ...string) bool {
		for _, s := range subs {
			if strings.Contains(msg, s) {
				return true
			}
		}
		return false
	}

	switch {
	case containsAny("timeout", "deadline exceeded", "etimedout"):
		return ReasonTimeout
	case containsAny("rate limit", "rate_limit", "too many requests", "resource exhausted", "overloaded"):
		return ReasonRateLimit
	case containsAny("unauthorized", "unauthenticated", "invalid api key", "invalid_api_key", "authentication", "permission denied"):
		return ReasonAuth
	case containsAny("billing", "payment", "quota", "insufficient"):
		return ReasonBilling
	case containsAny("content_filter", "content policy", "safety"):
		return ReasonContentFilter
	case containsAny("model not found", "model_not_found", "does not exist"):
		return ReasonModelUnavailable
	case containsAny("internal server", "server error", "bad gateway", "service unavailable", "connection reset", "connection refused"):
		return ReasonServerError
	}
	return ReasonUnknown
}

func classifyStatus(status int) FailoverReason {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return ReasonAuth
	case status == http.StatusPaymentRequired:
		return ReasonBilling
	case status == http.StatusTooManyRequests:
		return ReasonRateLimit
	case status == http.StatusRequestTimeout:
		return ReasonTimeout
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return ReasonInvalidRequest
	case status == http.StatusNotFound:
		return ReasonModelUnavailable
	case status >= 500:
		return ReasonServerError
	}
	return ReasonUnknown
}

func classifyCode(code string) FailoverReason {
	switch strings.ToLower(code) {
	case "rate_limit_error", "rate_limit_exceeded", "overloaded_error", "resource_exhausted":
		return ReasonRateLimit
	case "authentication_error", "permission_error", "invalid_api_key", "unauthenticated", "permission_denied":
		return ReasonAuth
	case "billing_error", "insufficient_quota":
		return ReasonBilling
	case "not_found_error", "model_not_found", "not_found":
		return ReasonModelUnavailable
	case "content_policy_violation", "content_filter":
		return ReasonContentFilter
	case "api_error", "server_error", "internal_error", "internal", "unavailable":
		return ReasonServerError
	case "deadline_exceeded":
		return ReasonTimeout
	case "invalid_request_error", "invalid_argument", "failed_precondition":
		return ReasonInvalidRequest
	}
	return ReasonUnknown
}
