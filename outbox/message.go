package outbox

import (
	"encoding/json"
	"time"

	"github.com/julianshaw2000/property-sub001/outbox/id"
)

// Status represents the lifecycle state of an outbox message.
type Status string

const (
	// StatusPending means the message is waiting to be claimed by a dispatcher.
	StatusPending Status = "pending"
	// StatusDispatched means the message was accepted by its downstream queue.
	StatusDispatched Status = "dispatched"
	// StatusFailed means the message exhausted its retry budget. Terminal;
	// only an explicit Replay makes it claimable again.
	StatusFailed Status = "failed"
	// StatusCompleted means a downstream worker reported the job done.
	// Written back by external workers; nothing in the core depends on it.
	StatusCompleted Status = "completed"
)

// Message is an outbox row: a side-effecting event recorded durably inside
// the business transaction that produced it, awaiting dispatch to a
// downstream queue.
type Message struct {
	ID      id.MessageID    `json:"id"`
	OrgID   string          `json:"org_id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Status  Status          `json:"status"`

	// RetryCount is the number of failed dispatch attempts so far.
	RetryCount int    `json:"retry_count"`
	LastError  string `json:"last_error,omitempty"`

	// AvailableAt is the earliest time a dispatcher may claim the row.
	// Supports scheduled delivery and backoff deferral.
	AvailableAt time.Time `json:"available_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
