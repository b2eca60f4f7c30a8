package collab

import "fmt"

// Error codes surfaced to clients as collaboration_error events.
const (
	CodeJoinDenied         = "join_denied"
	CodeWorkspaceNotJoined = "workspace_not_joined"
	CodeOrderLocked        = "order_locked"
	CodePersistenceFailed  = "persistence_failed"
	CodeProtocolError      = "protocol_error"
	CodeInternal           = "internal_error"
)

// CollabError is a handler failure scoped to a single event invocation. It is
// reported to the offending connection only.
type CollabError struct {
	Code    string
	Message string
	cause   error
}

func (e *CollabError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CollabError) Unwrap() error {
	return e.cause
}

func newCollabError(code, message string, cause error) *CollabError {
	return &CollabError{Code: code, Message: message, cause: cause}
}
