package orchestrator

import "github.com/romanbabin/convogate/internal/domain"

// EventKind distinguishes the stream events emitted by ProcessTurn.
type EventKind string

const (
	// EventContent carries one incremental chunk of assistant text. Under
	// the "buffered" streaming mode these are emitted only after the full
	// completion has passed its post-LLM check; under "interleaved" they
	// are emitted as soon as the provider produces them.
	EventContent EventKind = "content"

	// EventDone is the final event on every channel, successful or not. It
	// carries the turn's terminal State and, if applicable, the persisted
	// assistant Message and the Decision that ended the turn.
	EventDone EventKind = "done"

	// EventError reports a non-safety failure (storage, provider, internal
	// error). It is always followed by EventDone with StateFailed.
	EventError EventKind = "error"
)

// Event is one unit on the channel returned by Orchestrator.ProcessTurn.
type Event struct {
	Kind    EventKind
	Content string

	State    State
	Decision *domain.Decision
	Message  *domain.Message
	Err      error
}
