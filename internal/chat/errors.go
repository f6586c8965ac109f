package chat

// The per-action error taxonomy. All of these are reported to the acting
// client as a single error{message} event and leave the connection open;
// anything else that escapes a handler is a persistence failure and is
// surfaced as a generic message with no internal detail.

// ValidationError rejects malformed input: empty or over-length content,
// a non-numeric id.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// AuthorizationError rejects an action the requester may not perform:
// messaging across a block, or mutating another user's message.
type AuthorizationError struct {
	Message string
}

func (e *AuthorizationError) Error() string { return e.Message }

// NotFoundError rejects an action on a message id that does not exist
// (or is already soft-deleted, for reads that filter deleted rows).
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }
