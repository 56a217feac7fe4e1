package coach

import "errors"

var (
	// ErrSessionNotFound is returned when a session is neither live nor stored.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionEnded is returned for turns against a summarized session.
	ErrSessionEnded = errors.New("session already ended")
	// ErrInvalidSessionID is returned for an empty session id.
	ErrInvalidSessionID = errors.New("session id is required")
)
