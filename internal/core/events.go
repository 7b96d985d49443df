package core

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventKind identifies a ledger mutation event.
type EventKind string

const (
	EventRecipeCreated      EventKind = "recipe_created"
	EventRecipeBatchCreated EventKind = "recipe_batch_created"
	EventRecipeToggled      EventKind = "recipe_toggled"
	EventDeposit            EventKind = "deposit"
	EventConversionResolved EventKind = "conversion_resolved"
	EventCrucibleWithdrawal EventKind = "crucible_withdrawal"
	EventPauseChanged       EventKind = "pause_changed"
	EventFeeChanged         EventKind = "fee_changed"
	EventVesselLabelUpdated EventKind = "vessel_label_updated"
)

// Event is an observability record emitted after a successful mutation.
// Fields carries the literal values named by the mutation; Seq is the
// resolution sequence position at emission time.
type Event struct {
	ID         string         `json:"id"`
	Kind       EventKind      `json:"kind"`
	Seq        uint64         `json:"seq"`
	Fields     map[string]any `json:"fields,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// EventRecorder consumes mutation events. Delivery is fire and forget:
// recorder failures never affect the committed mutation.
type EventRecorder interface {
	Record(ctx context.Context, event Event)
}

// MemoryEventRecorder captures events in memory for tests and dev tooling.
type MemoryEventRecorder struct {
	mu      sync.Mutex
	entries []Event
}

// Record stores an event.
func (r *MemoryEventRecorder) Record(_ context.Context, event Event) {
	r.mu.Lock()
	r.entries = append(r.entries, event)
	r.mu.Unlock()
}

// Entries returns a copy of recorded events.
func (r *MemoryEventRecorder) Entries() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.entries))
	copy(out, r.entries)
	return out
}

// emit delivers an event to the configured recorder, if any.
func (s *Service) emit(ctx context.Context, kind EventKind, seq uint64, fields map[string]any) {
	if s.events == nil {
		return
	}
	s.events.Record(ctx, Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		Seq:        seq,
		Fields:     fields,
		OccurredAt: s.nowFn(),
	})
}
