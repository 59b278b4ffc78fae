// Package notify reports rotation outcomes and detected drift to webhooks
// and Slack. Events carry class names and store labels only; secret values
// never leave the host through this package.
package notify

import (
	"errors"
	"time"

	dserrors "github.com/systmms/rekey/internal/errors"
)

// EventType identifies what happened.
type EventType string

const (
	// EventRotationCompleted: every store holds the new value.
	EventRotationCompleted EventType = "rotation_completed"

	// EventRotationPartial: some stores were updated and some were not.
	EventRotationPartial EventType = "rotation_partial"

	// EventRotationFailed: the first write failed and nothing changed.
	EventRotationFailed EventType = "rotation_failed"

	// EventDriftDetected: the consistency check found a mismatch.
	EventDriftDetected EventType = "drift_detected"
)

// AllEventTypes returns every event type.
func AllEventTypes() []EventType {
	return []EventType{
		EventRotationCompleted,
		EventRotationPartial,
		EventRotationFailed,
		EventDriftDetected,
	}
}

// Event is one notification.
type Event struct {
	Type       EventType
	Deployment string
	Timestamp  time.Time

	// Rotation events
	Class        string
	Epoch        int
	Updated      []string
	NotUpdated   []string
	RecoveryPath string
	User         string
	Duration     time.Duration

	// Drift events
	Invariants []string
	Details    []string

	Error string
}

// Failure reports whether the event needs attention.
func (e Event) Failure() bool {
	return e.Type != EventRotationCompleted
}

// RotationEvent builds the event for a finished rotation from the step
// results and the error the rotation returned.
func RotationEvent(class string, steps []dserrors.StepResult, err error) Event {
	ev := Event{Class: class, Type: EventRotationCompleted}
	for _, s := range steps {
		if s.Status == dserrors.StepOK {
			ev.Updated = append(ev.Updated, s.Label())
		} else {
			ev.NotUpdated = append(ev.NotUpdated, s.Label())
		}
	}

	var partial *dserrors.PartialRotationFailure
	if errors.As(err, &partial) {
		ev.Type = EventRotationPartial
		if len(ev.Updated) == 0 {
			ev.Type = EventRotationFailed
		}
		ev.Error = partial.Error()
	}
	return ev
}

// DriftEvent builds the event for a consistency violation.
func DriftEvent(violation *dserrors.InvariantViolation) Event {
	return Event{
		Type:       EventDriftDetected,
		Invariants: append([]string(nil), violation.Invariants...),
		Details:    append([]string(nil), violation.Details...),
		Error:      violation.Error(),
	}
}

func supports(events []string, t EventType) bool {
	if len(events) == 0 {
		return true
	}
	for _, e := range events {
		if EventType(e) == t {
			return true
		}
	}
	return false
}
