// Package blackboard provides the typed, region-partitioned shared memory that
// pipeline steps use to exchange derived facts without direct coupling. The
// blackboard is a plain value type: parallel branches receive deep clones via
// Clone and are folded back by a single coordinating goroutine via Merge, so
// no locking is ever required.
//
// Every read and write is appended to an immutable event log for auditing and
// for replaying the side effects of cached results.
package blackboard

import (
	"errors"
	"fmt"
	"time"
)

// Region identifies one of the five fixed blackboard namespaces.
// Each region carries its own shape and merge policy.
type Region string

const (
	// RegionDocumentMetadata holds a single document-level record
	// (language, layout, page count, detected content types, extras).
	RegionDocumentMetadata Region = "document_metadata"

	// RegionPageObservations holds per-page records keyed by 1-based page number.
	RegionPageObservations Region = "page_observations"

	// RegionStepOutputs holds rendered markdown keyed by step name.
	RegionStepOutputs Region = "step_outputs"

	// RegionAgentNotes holds free-form key/value notes keyed by producer name.
	RegionAgentNotes Region = "agent_notes"

	// RegionConfidenceSignals holds signal-name/score maps keyed by step or
	// step/page identifier, written by the confidence engine.
	RegionConfidenceSignals Region = "confidence_signals"
)

// Regions returns the closed set of valid region names in stable order.
func Regions() []Region {
	return []Region{
		RegionDocumentMetadata,
		RegionPageObservations,
		RegionStepOutputs,
		RegionAgentNotes,
		RegionConfidenceSignals,
	}
}

// Validate checks if the Region is one of the five valid namespaces.
func (r Region) Validate() error {
	switch r {
	case RegionDocumentMetadata, RegionPageObservations, RegionStepOutputs,
		RegionAgentNotes, RegionConfidenceSignals:
		return nil
	default:
		return fmt.Errorf("invalid blackboard region: %q", r)
	}
}

// ErrKeyNotFound is returned by Read when the addressed key has no value.
var ErrKeyNotFound = errors.New("blackboard key not found")

// IsNotFound reports whether err indicates a missing blackboard key.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound)
}

// DocumentMetadata is the single document-level record, typically written
// once by an early step. Unknown dotted keys written to this region land in
// Extra so collaborators can attach free-form facts.
type DocumentMetadata struct {
	Language     string         `json:"language,omitempty" yaml:"language,omitempty"`
	DateFormat   string         `json:"date_format,omitempty" yaml:"date_format,omitempty"`
	Layout       string         `json:"layout,omitempty" yaml:"layout,omitempty"` // e.g. "single_column", "two_column"
	PageCount    int            `json:"page_count,omitempty" yaml:"page_count,omitempty"`
	ContentTypes []string       `json:"content_types,omitempty" yaml:"content_types,omitempty"`
	Extra        map[string]any `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// UncertainRegion marks an area of a page where extraction confidence is low.
type UncertainRegion struct {
	Page       int    `json:"page,omitempty" yaml:"page,omitempty"`
	Area       string `json:"area,omitempty" yaml:"area,omitempty"` // e.g. "bottom_right", "top_left"
	Reason     string `json:"reason,omitempty" yaml:"reason,omitempty"`
	Confidence string `json:"confidence,omitempty" yaml:"confidence,omitempty"`
}

// PageObservation is the per-page record written by steps during execution.
// Pointer fields distinguish "unset" from a genuine zero value, which matters
// for the field-level merge rules.
type PageObservation struct {
	ContentTypes          []string          `json:"content_types,omitempty" yaml:"content_types,omitempty"`
	Rotation              float64           `json:"rotation,omitempty" yaml:"rotation,omitempty"`
	ContinuesOnNextPage   bool              `json:"continues_on_next_page,omitempty" yaml:"continues_on_next_page,omitempty"`
	ContinuesFromPrevious bool              `json:"continues_from_previous,omitempty" yaml:"continues_from_previous,omitempty"`
	QualityScore          *float64          `json:"quality_score,omitempty" yaml:"quality_score,omitempty"`
	TableCount            *int              `json:"table_count,omitempty" yaml:"table_count,omitempty"`
	UncertainRegions      []UncertainRegion `json:"uncertain_regions,omitempty" yaml:"uncertain_regions,omitempty"`
	Extra                 map[string]any    `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// Write records one blackboard mutation in a replayable form. Cache entries
// carry the writes a step elicited so a cache hit can reproduce them.
type Write struct {
	Region Region `json:"region" yaml:"region"`
	Key    string `json:"key" yaml:"key"`
	Value  any    `json:"value" yaml:"value"`
}

// EventOp distinguishes read events from write events in the audit log.
type EventOp string

const (
	// OpRead marks an event recording a blackboard read.
	OpRead EventOp = "READ"

	// OpWrite marks an event recording a blackboard write.
	OpWrite EventOp = "WRITE"
)

// Event is a single entry in the blackboard's append-only audit log.
// Value is populated for write events only.
type Event struct {
	ID     string    `json:"id"`
	Time   time.Time `json:"time"`
	Op     EventOp   `json:"op"`
	Region Region    `json:"region"`
	Key    string    `json:"key"`
	Value  any       `json:"value,omitempty"`
	Actor  string    `json:"actor,omitempty"`
}

// EventLog is the append-only audit trail of all reads and writes on one
// blackboard. Branch clones start with a fresh, empty log so each branch's
// provenance stays independent until merged.
type EventLog struct {
	events []Event
}

// Append adds an event to the log.
func (l *EventLog) Append(e Event) {
	l.events = append(l.events, e)
}

// Len returns the number of recorded events.
func (l *EventLog) Len() int {
	return len(l.events)
}

// Events returns a copy of all recorded events in append order.
func (l *EventLog) Events() []Event {
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// ByActor returns all events recorded for the named actor.
func (l *EventLog) ByActor(actor string) []Event {
	var out []Event
	for _, e := range l.events {
		if e.Actor == actor {
			out = append(out, e)
		}
	}
	return out
}

// ByRegion returns all events touching the given region.
func (l *EventLog) ByRegion(region Region) []Event {
	var out []Event
	for _, e := range l.events {
		if e.Region == region {
			out = append(out, e)
		}
	}
	return out
}

// Writes returns all write events in append order.
func (l *EventLog) Writes() []Event {
	return l.byOp(OpWrite)
}

// Reads returns all read events in append order.
func (l *EventLog) Reads() []Event {
	return l.byOp(OpRead)
}

func (l *EventLog) byOp(op EventOp) []Event {
	var out []Event
	for _, e := range l.events {
		if e.Op == op {
			out = append(out, e)
		}
	}
	return out
}
