// Package audit records the gateway's security decisions as an append-only
// JSONL trail: command verdicts, authentication outcomes, secret-store
// migrations, and webhook rejections. Events carry sanitized metadata only;
// raw secrets and tokens never reach the trail.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Category identifies the kind of decision an event records.
type Category string

const (
	// CategoryVerdict is a command validation decision.
	CategoryVerdict Category = "verdict"
	// CategoryAuth is a pairing or token authentication outcome.
	CategoryAuth Category = "auth"
	// CategoryMigration is a secret-store format upgrade.
	CategoryMigration Category = "migration"
	// CategoryWebhook is a webhook delivery acceptance or rejection.
	CategoryWebhook Category = "webhook"
	// CategoryError is an internal failure worth an operator's attention.
	CategoryError Category = "error"
)

// Event is one audit record.
type Event struct {
	// ID uniquely identifies the event for cross-referencing.
	ID string `json:"id"`

	// Timestamp is when the decision was made.
	Timestamp time.Time `json:"timestamp"`

	// Category classifies the event.
	Category Category `json:"category"`

	// Outcome is the decision ("allowed", "denied", "paired", ...).
	Outcome string `json:"outcome"`

	// Reason is the stable machine-readable reason code, when denied.
	Reason string `json:"reason,omitempty"`

	// Identity is the client key the decision applied to.
	Identity string `json:"identity,omitempty"`

	// Detail is sanitized free text for operators.
	Detail string `json:"detail,omitempty"`

	// Metadata carries sanitized key/value context.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// NewEvent builds an event with a fresh ID and the current time.
func NewEvent(category Category, outcome string) Event {
	return Event{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Category:  category,
		Outcome:   outcome,
	}
}

// ValidCategories returns all category values.
func ValidCategories() []Category {
	return []Category{
		CategoryVerdict,
		CategoryAuth,
		CategoryMigration,
		CategoryWebhook,
		CategoryError,
	}
}

// IsValidCategory checks if the given string is a valid category.
func IsValidCategory(s string) bool {
	for _, c := range ValidCategories() {
		if string(c) == s {
			return true
		}
	}
	return false
}
