// Package permission records permission-denial occurrences so that a
// notification surface can display them independently of the view that
// raised them.
package permission

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// UnknownCapability is recorded when a forbidden response does not name
// the capability it required.
const UnknownCapability = "unknown"

// Event is an immutable record of one permission denial.
type Event struct {
	ID                 string    `json:"id"`
	AttemptedPath      string    `json:"attempted_path"`
	RequiredCapability string    `json:"required_capability"`
	OriginComponent    string    `json:"origin_component,omitempty"`
	Description        string    `json:"description"`
	Timestamp          time.Time `json:"timestamp"`
}

// NewEvent creates an Event stamped with a fresh ID and the current time.
// An empty capability is replaced with UnknownCapability.
func NewEvent(path, capability, origin, description string) Event {
	if capability == "" {
		capability = UnknownCapability
	}
	return Event{
		ID:                 uuid.NewString(),
		AttemptedPath:      path,
		RequiredCapability: capability,
		OriginComponent:    origin,
		Description:        description,
		Timestamp:          time.Now(),
	}
}

// Store persists denial events.
type Store interface {
	// Log records an event.
	Log(ctx context.Context, event Event) error

	// Query retrieves events matching the filter, newest first.
	Query(ctx context.Context, filter QueryFilter) ([]Event, error)

	// Close releases resources.
	Close() error
}

// QueryFilter defines criteria for querying denial events.
type QueryFilter struct {
	StartTime     *time.Time
	EndTime       *time.Time
	Capability    string
	AttemptedPath string
	Limit         int
	Offset        int
}
