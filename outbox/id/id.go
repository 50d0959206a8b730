// Package id defines the TypeID-based identity type for outbox messages.
//
// Message IDs are K-sortable (UUIDv7-based), globally unique, URL-safe
// strings in the format "obm_suffix". The ID doubles as the downstream
// queue job's deduplication key, so it must be stable across re-enqueues.
package id

import (
	"database/sql/driver"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// PrefixMessage is the TypeID prefix for outbox messages.
const PrefixMessage = "obm"

// MessageID identifies an outbox message.
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receivers for UnmarshalText/Scan.
type MessageID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the zero-value MessageID.
var Nil MessageID

// NewMessageID generates a new globally unique message ID.
func NewMessageID() MessageID {
	tid, err := typeid.Generate(PrefixMessage)
	if err != nil {
		panic(fmt.Sprintf("id: generate %q: %v", PrefixMessage, err))
	}

	return MessageID{inner: tid, valid: true}
}

// ParseMessageID parses a TypeID string (e.g.,
// "obm_01h2xcejqtf2nbrexx3vqjhp41") and validates the "obm" prefix.
func ParseMessageID(s string) (MessageID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}

	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	if tid.Prefix() != PrefixMessage {
		return Nil, fmt.Errorf("id: parse %q: expected prefix %q, got %q", s, PrefixMessage, tid.Prefix())
	}

	return MessageID{inner: tid, valid: true}, nil
}

// String returns the full TypeID string representation (obm_suffix).
// Returns an empty string for the Nil ID.
func (i MessageID) String() string {
	if !i.valid {
		return ""
	}

	return i.inner.String()
}

// IsNil reports whether this ID is the zero value.
func (i MessageID) IsNil() bool {
	return !i.valid
}

// MarshalText implements encoding.TextMarshaler.
func (i MessageID) MarshalText() ([]byte, error) {
	if !i.valid {
		return []byte{}, nil
	}

	return []byte(i.inner.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *MessageID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil

		return nil
	}

	parsed, err := ParseMessageID(string(data))
	if err != nil {
		return err
	}

	*i = parsed

	return nil
}

// Value implements driver.Valuer for database storage.
// Returns nil for the Nil ID so optional columns store NULL.
func (i MessageID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // nil is the canonical NULL for driver.Valuer
	}

	return i.inner.String(), nil
}

// Scan implements sql.Scanner for database retrieval.
func (i *MessageID) Scan(src any) error {
	if src == nil {
		*i = Nil

		return nil
	}

	switch v := src.(type) {
	case string:
		if v == "" {
			*i = Nil

			return nil
		}

		return i.UnmarshalText([]byte(v))
	case []byte:
		if len(v) == 0 {
			*i = Nil

			return nil
		}

		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T into MessageID", src)
	}
}
