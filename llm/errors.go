// ABOUTME: Error classification for generative service calls.
// ABOUTME: Every failure maps to exactly one Kind; the Kind drives retry eligibility and fallback.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
)

// Kind is the classification of a generative call failure.
type Kind string

const (
	KindRateLimited      Kind = "rate_limited"
	KindContentFiltered  Kind = "content_filtered"
	KindTimedOut         Kind = "timed_out"
	KindModelUnavailable Kind = "model_unavailable"
	KindInvalidRequest   Kind = "invalid_request"
	KindCircuitOpen      Kind = "circuit_open"
	KindUnknown          Kind = "unknown"
)

// CallError is the classified failure of one generative call. It wraps the
// underlying provider error and carries the operation and model that failed.
type CallError struct {
	Kind    Kind
	Op      Operation
	Model   string
	Message string
	Cause   error
}

func (e *CallError) Error() string {
	msg := fmt.Sprintf("%s %s [%s]: %s", e.Op, e.Model, e.Kind, e.Message)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *CallError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether the classification permits another attempt.
// ContentFiltered and InvalidRequest are deterministic rejections; CircuitOpen
// fails fast by definition. Unknown is treated as transient (conservative
// default: unknown errors are assumed recoverable).
func (e *CallError) IsRetryable() bool {
	switch e.Kind {
	case KindRateLimited, KindTimedOut, KindModelUnavailable, KindUnknown:
		return true
	default:
		return false
	}
}

// Classify wraps err in a CallError with exactly one Kind. Already-classified
// errors pass through unchanged.
func Classify(err error, op Operation, model string) *CallError {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce
	}

	var kind Kind

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimedOut
	case errors.Is(err, context.Canceled):
		kind = KindTimedOut
	default:
		var apierr *openai.Error
		if errors.As(err, &apierr) {
			kind = kindFromStatusCode(apierr.StatusCode, err.Error())
		} else {
			kind = kindFromMessage(err.Error())
		}
	}

	return &CallError{
		Kind:    kind,
		Op:      op,
		Model:   model,
		Message: "generative call failed",
		Cause:   err,
	}
}

// kindFromStatusCode maps an HTTP status from the provider to a Kind.
// Content filtering surfaces as a 400 with a policy error code, so the
// message is consulted before defaulting 4xx to InvalidRequest.
func kindFromStatusCode(status int, message string) Kind {
	switch {
	case status == 429:
		return KindRateLimited
	case status == 408:
		return KindTimedOut
	case status == 400 || status == 422:
		if looksContentFiltered(message) {
			return KindContentFiltered
		}
		return KindInvalidRequest
	case status == 401 || status == 403 || status == 404:
		return KindInvalidRequest
	case status >= 500 && status <= 599:
		return KindModelUnavailable
	default:
		return KindUnknown
	}
}

// kindFromMessage classifies errors that carry no structured status code.
// Provider SDKs surface status codes in their error strings, so substring
// matching is the fallback of last resort.
func kindFromMessage(message string) Kind {
	msg := strings.ToLower(message)
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "rate_limit"):
		return KindRateLimited
	case looksContentFiltered(msg):
		return KindContentFiltered
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return KindTimedOut
	case strings.Contains(msg, "overloaded") || strings.Contains(msg, "unavailable") || strings.Contains(msg, "502") || strings.Contains(msg, "503"):
		return KindModelUnavailable
	default:
		return KindUnknown
	}
}

func looksContentFiltered(message string) bool {
	msg := strings.ToLower(message)
	return strings.Contains(msg, "content_policy") ||
		strings.Contains(msg, "content policy") ||
		strings.Contains(msg, "content_filter") ||
		strings.Contains(msg, "moderation") ||
		strings.Contains(msg, "safety system")
}
