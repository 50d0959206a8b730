package outbox

import "errors"

var (
	// Store errors.
	ErrNoMessages       = errors.New("outbox: no pending messages")
	ErrMessageNotFound  = errors.New("outbox: message not found")
	ErrDuplicateMessage = errors.New("outbox: message already exists")
	ErrInvalidState     = errors.New("outbox: invalid status transition")

	// Publish validation errors.
	ErrOrgIDRequired   = errors.New("outbox: org id is required")
	ErrTypeRequired    = errors.New("outbox: message type is required")
	ErrInvalidType     = errors.New("outbox: message type must be \"<category>.<jobName>\"")
	ErrPayloadRequired = errors.New("outbox: payload is required")
	ErrInvalidPayload  = errors.New("outbox: payload must be valid JSON")

	// Routing errors.
	ErrUnroutable  = errors.New("outbox: no route for message category")
	ErrRateLimited = errors.New("outbox: route rate limit exceeded")

	// Dispatcher errors.
	ErrNoStore     = errors.New("outbox: no store configured")
	ErrNoRouter    = errors.New("outbox: no router configured")
	ErrWorkerPanic = errors.New("outbox: dispatcher worker panic")
)
