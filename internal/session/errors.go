package session

import "fmt"

// Frame handling errors are typed so the dispatch boundary can decide
// between a non-fatal error frame and tearing the connection down.

// ProtocolError covers malformed frames, unknown frame types and missing
// required fields. Non-fatal: the connection stays open.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string {
	return e.Message
}

// AuthenticationError is an identity mismatch at the handshake. Fatal:
// the connection closes with a policy-violation code.
type AuthenticationError struct {
	Message string
}

func (e *AuthenticationError) Error() string {
	return e.Message
}

// AuthorizationError covers acting on a conversation without membership.
// Non-fatal; no state is mutated.
type AuthorizationError struct {
	Message string
}

func (e *AuthorizationError) Error() string {
	return e.Message
}

// CollaboratorError wraps a persistence or presence failure raised while
// handling a frame. Surfaced to the sender, never retried by the core.
type CollaboratorError struct {
	Op  string
	Err error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}
