package domain

import "errors"

// Sentinel error kinds per the gateway's error handling design. Components
// return these (or wrap them with fmt.Errorf("%w: ...")) so the HTTP layer
// can classify a failure without inspecting component-specific types.
var (
	// ErrInputEmpty is returned by the Sanitizer for empty/whitespace-only input.
	ErrInputEmpty = errors.New("input is empty")

	// ErrInputTooLong is returned by the Sanitizer when input exceeds MaxInputChars.
	ErrInputTooLong = errors.New("input exceeds maximum length")

	// ErrRateLimited is returned by the Orchestrator's rate limiter.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrConfigUnavailable is returned by the Config Store when persistence
	// is unreachable and the stale-data grace period has elapsed.
	ErrConfigUnavailable = errors.New("configuration unavailable")

	// ErrModerationUnavailable is returned by the Moderation Client on
	// network failure or timeout; the Rule Engine treats it as non-blocking.
	ErrModerationUnavailable = errors.New("moderation provider unavailable")

	// ErrLLMUnavailable is returned by the Completion Provider adapter on
	// connection failure or a non-2xx response.
	ErrLLMUnavailable = errors.New("completion provider unavailable")

	// ErrLLMTimeout is returned when the completion provider exceeds its
	// first-byte or overall deadline.
	ErrLLMTimeout = errors.New("completion provider timed out")

	// ErrNotFound is returned when a conversation/message/rule lookup misses,
	// or a conversation is not owned by the requesting session.
	ErrNotFound = errors.New("not found")

	// ErrInvalidRule is returned when a SafetyRule fails validation (e.g. a
	// regex_pattern rule whose Value does not compile).
	ErrInvalidRule = errors.New("invalid rule")

	// ErrCanceled is returned when a streaming turn is aborted by client
	// disconnect.
	ErrCanceled = errors.New("turn canceled")

	// ErrInternal wraps any uncaught condition; callers surface it as an
	// opaque 500 and log the underlying cause server-side.
	ErrInternal = errors.New("internal error")
)
