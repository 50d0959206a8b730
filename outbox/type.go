package outbox

import "strings"

// Category identifies the downstream queue family a message routes to.
// It is the first dot-separated segment of the message type.
type Category string

const (
	CategoryEmail   Category = "email"
	CategorySMS     Category = "sms"
	CategoryAI      Category = "ai"
	CategoryGeneric Category = "generic"
	// CategoryUnrecognized marks a type whose prefix matches no known
	// queue. Such messages are never enqueued and never consume retry
	// budget; they stay pending until the routing is fixed.
	CategoryUnrecognized Category = "unrecognized"
)

// Type is a message type parsed into its routing components. The wire
// format stays "<category>.<jobName>"; parsing happens once at claim time
// and routing matches on Category rather than re-splitting strings.
type Type struct {
	Category Category
	// JobName is everything after the first dot, e.g. "ticket.created"
	// for the type "email.ticket.created".
	JobName string
	// Raw preserves the original type string.
	Raw string
}

// ParseType splits a wire type string on its first dot. Types without a
// dot, with an empty segment, or with an unknown category prefix come back
// as CategoryUnrecognized with Raw preserved for logging.
func ParseType(s string) Type {
	prefix, rest, ok := strings.Cut(s, ".")
	if !ok || prefix == "" || rest == "" {
		return Type{Category: CategoryUnrecognized, Raw: s}
	}

	var cat Category
	switch prefix {
	case "email":
		cat = CategoryEmail
	case "sms":
		cat = CategorySMS
	case "ai":
		cat = CategoryAI
	case "generic":
		cat = CategoryGeneric
	default:
		return Type{Category: CategoryUnrecognized, Raw: s}
	}

	return Type{Category: cat, JobName: rest, Raw: s}
}

// Unrecognized reports whether the type failed to parse into a known category.
func (t Type) Unrecognized() bool {
	return t.Category == CategoryUnrecognized
}

// String returns the original wire form.
func (t Type) String() string {
	return t.Raw
}
