package blackboard

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Blackboard is the shared state for one pipeline run. It is NOT safe for
// concurrent mutation: parallel branches must work on clones (see Clone) and
// the coordinating goroutine merges them back (see Merge).
type Blackboard struct {
	metadata DocumentMetadata
	pages    map[int]*PageObservation
	outputs  map[string]string
	notes    map[string]map[string]any
	signals  map[string]map[string]float64
	log      EventLog
}

// New creates an empty blackboard with a fresh event log.
func New() *Blackboard {
	return &Blackboard{
		pages:   make(map[int]*PageObservation),
		outputs: make(map[string]string),
		notes:   make(map[string]map[string]any),
		signals: make(map[string]map[string]float64),
	}
}

// Read returns the value at a dotted key within a region and appends a READ
// event. Missing keys return ErrKeyNotFound. Composite values are returned as
// deep copies so callers can never mutate board state through them.
//
// Key addressing per region:
//
//	document_metadata:  "language", "page_count", "extra.anything", ...
//	page_observations:  "3" (whole observation) or "3.quality_score"
//	step_outputs:       "stepname"
//	agent_notes:        "producer" (whole note map) or "producer.field"
//	confidence_signals: "step_id" (whole signal map)
func (b *Blackboard) Read(region Region, key, actor string) (any, error) {
	if err := region.Validate(); err != nil {
		return nil, err
	}
	value, err := b.getValue(region, key)
	b.log.Append(Event{
		ID:     uuid.New().String(),
		Time:   time.Now().UTC(),
		Op:     OpRead,
		Region: region,
		Key:    key,
		Actor:  actor,
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Write stores a value at a dotted key within a region and appends a WRITE
// event. Addressing follows the same scheme as Read. Writes to unknown
// metadata or observation fields are rejected; free-form facts belong under
// the "extra" subkey.
func (b *Blackboard) Write(region Region, key string, value any, actor string) error {
	if err := region.Validate(); err != nil {
		return err
	}
	if err := b.setValue(region, key, value); err != nil {
		return err
	}
	b.log.Append(Event{
		ID:     uuid.New().String(),
		Time:   time.Now().UTC(),
		Op:     OpWrite,
		Region: region,
		Key:    key,
		Value:  deepCopyValue(value),
		Actor:  actor,
	})
	return nil
}

// ReplayWrites re-applies recorded writes, typically from a cache hit, so the
// side effects of a cached step survive. Individual failures are logged and
// skipped. Returns the number of writes applied.
func (b *Blackboard) ReplayWrites(writes []Write, actor string) int {
	applied := 0
	for _, w := range writes {
		if err := b.Write(w.Region, w.Key, w.Value, actor); err != nil {
			log.Printf("[Blackboard] Skipping replayed write %s/%s: %v", w.Region, w.Key, err)
			continue
		}
		applied++
	}
	return applied
}

// Metadata returns a deep copy of the document metadata record.
func (b *Blackboard) Metadata() DocumentMetadata {
	return copyMetadata(b.metadata)
}

// Page returns a deep copy of the observation for a 1-based page number.
func (b *Blackboard) Page(num int) (PageObservation, bool) {
	obs, ok := b.pages[num]
	if !ok {
		return PageObservation{}, false
	}
	return copyObservation(*obs), true
}

// StepOutput returns the rendered output stored for a step name.
func (b *Blackboard) StepOutput(name string) (string, bool) {
	out, ok := b.outputs[name]
	return out, ok
}

// StepOutputs returns a copy of the whole step-output region.
func (b *Blackboard) StepOutputs() map[string]string {
	out := make(map[string]string, len(b.outputs))
	for k, v := range b.outputs {
		out[k] = v
	}
	return out
}

// Events returns a copy of the audit log entries in append order.
func (b *Blackboard) Events() []Event {
	return b.log.Events()
}

// EventLog exposes the audit log for filtered queries.
func (b *Blackboard) EventLog() *EventLog {
	return &b.log
}

// Snapshot serializes all five regions into plain maps. Used for cache-key
// derivation and condition evaluation; the result shares no memory with the
// board.
func (b *Blackboard) Snapshot() map[string]any {
	snap := make(map[string]any, 5)
	for _, r := range Regions() {
		snap[string(r)] = b.serializeRegion(r)
	}
	return snap
}

// RegionSnapshot serializes only the named regions, in the same shape as
// Snapshot. Unknown names are ignored so agent subscription lists can be
// passed through unchecked.
func (b *Blackboard) RegionSnapshot(regions []Region) map[string]any {
	snap := make(map[string]any, len(regions))
	for _, r := range regions {
		if r.Validate() != nil {
			continue
		}
		snap[string(r)] = b.serializeRegion(r)
	}
	return snap
}

// Subscribe returns a read-only view of the named regions (dotted subpaths
// select their base region). The view is deep-copied: mutating it never
// affects this board. Invalid base regions are rejected.
func (b *Blackboard) Subscribe(paths []string) (*View, error) {
	data := make(map[string]any, len(paths))
	for _, p := range paths {
		base := Region(strings.SplitN(p, ".", 2)[0])
		if err := base.Validate(); err != nil {
			return nil, err
		}
		data[string(base)] = b.serializeRegion(base)
	}
	return &View{data: data}, nil
}

// Clone creates a deep copy of all five regions with a fresh, empty event
// log. Each parallel branch works on its own clone.
func (b *Blackboard) Clone() *Blackboard {
	clone := New()
	clone.metadata = copyMetadata(b.metadata)
	for num, obs := range b.pages {
		o := copyObservation(*obs)
		clone.pages[num] = &o
	}
	for k, v := range b.outputs {
		clone.outputs[k] = v
	}
	for producer, fields := range b.notes {
		clone.notes[producer] = copyAnyMap(fields)
	}
	for id, sig := range b.signals {
		clone.signals[id] = copyFloatMap(sig)
	}
	return clone
}

// View is a read-only, deep-copied snapshot of subscribed regions, the only
// form handed to prompt-building collaborators.
type View struct {
	data map[string]any
}

// Region returns the serialized value of a subscribed region.
func (v *View) Region(name Region) (any, bool) {
	val, ok := v.data[string(name)]
	return val, ok
}

// ToMap returns a fresh deep copy of the whole view for template rendering.
func (v *View) ToMap() map[string]any {
	return copyAnyMap(v.data)
}

// ── Region access internals ──

func (b *Blackboard) getValue(region Region, key string) (any, error) {
	switch region {
	case RegionDocumentMetadata:
		return b.getMetadataField(key)

	case RegionPageObservations:
		pagePart, field, hasField := strings.Cut(key, ".")
		num, err := strconv.Atoi(pagePart)
		if err != nil {
			return nil, fmt.Errorf("page_observations key must start with a page number, got %q", key)
		}
		obs, ok := b.pages[num]
		if !ok {
			return nil, ErrKeyNotFound
		}
		if !hasField {
			return copyObservation(*obs), nil
		}
		return getObservationField(obs, field)

	case RegionStepOutputs:
		out, ok := b.outputs[key]
		if !ok {
			return nil, ErrKeyNotFound
		}
		return out, nil

	case RegionAgentNotes:
		producer, field, hasField := strings.Cut(key, ".")
		notes, ok := b.notes[producer]
		if !ok {
			return nil, ErrKeyNotFound
		}
		if !hasField {
			return copyAnyMap(notes), nil
		}
		val, ok := notes[field]
		if !ok {
			return nil, ErrKeyNotFound
		}
		return deepCopyValue(val), nil

	case RegionConfidenceSignals:
		id, signal, hasSignal := strings.Cut(key, ".")
		sig, ok := b.signals[id]
		if !ok {
			return nil, ErrKeyNotFound
		}
		if !hasSignal {
			return copyFloatMap(sig), nil
		}
		score, ok := sig[signal]
		if !ok {
			return nil, ErrKeyNotFound
		}
		return score, nil
	}
	return nil, fmt.Errorf("invalid blackboard region: %q", region)
}

func (b *Blackboard) setValue(region Region, key string, value any) error {
	switch region {
	case RegionDocumentMetadata:
		return b.setMetadataField(key, value)

	case RegionPageObservations:
		pagePart, field, hasField := strings.Cut(key, ".")
		num, err := strconv.Atoi(pagePart)
		if err != nil {
			return fmt.Errorf("page_observations key must start with a page number, got %q", key)
		}
		if _, ok := b.pages[num]; !ok {
			b.pages[num] = &PageObservation{}
		}
		if hasField {
			return setObservationField(b.pages[num], field, value)
		}
		return b.replaceObservation(num, value)

	case RegionStepOutputs:
		text, ok := value.(string)
		if !ok {
			return fmt.Errorf("step_outputs value for %q must be a string, got %T", key, value)
		}
		b.outputs[key] = text
		return nil

	case RegionAgentNotes:
		producer, field, hasField := strings.Cut(key, ".")
		if b.notes[producer] == nil {
			b.notes[producer] = make(map[string]any)
		}
		if hasField {
			b.notes[producer][field] = deepCopyValue(value)
			return nil
		}
		m, ok := toAnyMap(value)
		if !ok {
			return fmt.Errorf("agent_notes value for %q must be a map when no field is addressed, got %T", key, value)
		}
		for k, v := range m {
			b.notes[producer][k] = deepCopyValue(v)
		}
		return nil

	case RegionConfidenceSignals:
		id, signal, hasSignal := strings.Cut(key, ".")
		if hasSignal {
			score, ok := asFloat(value)
			if !ok {
				return fmt.Errorf("confidence_signals value for %q must be numeric, got %T", key, value)
			}
			if b.signals[id] == nil {
				b.signals[id] = make(map[string]float64)
			}
			b.signals[id][signal] = score
			return nil
		}
		scores, err := toFloatMap(value)
		if err != nil {
			return fmt.Errorf("confidence_signals value for %q: %w", key, err)
		}
		b.signals[id] = scores
		return nil
	}
	return fmt.Errorf("invalid blackboard region: %q", region)
}

func (b *Blackboard) replaceObservation(num int, value any) error {
	switch v := value.(type) {
	case PageObservation:
		o := copyObservation(v)
		b.pages[num] = &o
		return nil
	case *PageObservation:
		o := copyObservation(*v)
		b.pages[num] = &o
		return nil
	default:
		m, ok := toAnyMap(value)
		if !ok {
			return fmt.Errorf("page_observations value for page %d must be an observation or a map, got %T", num, value)
		}
		for field, fv := range m {
			if err := setObservationField(b.pages[num], field, fv); err != nil {
				return err
			}
		}
		return nil
	}
}

func (b *Blackboard) getMetadataField(key string) (any, error) {
	if sub, ok := strings.CutPrefix(key, "extra."); ok {
		val, found := b.metadata.Extra[sub]
		if !found {
			return nil, ErrKeyNotFound
		}
		return deepCopyValue(val), nil
	}
	m := b.metadata
	switch key {
	case "language":
		return valueOrNotFound(m.Language != "", m.Language)
	case "date_format":
		return valueOrNotFound(m.DateFormat != "", m.DateFormat)
	case "layout":
		return valueOrNotFound(m.Layout != "", m.Layout)
	case "page_count":
		return valueOrNotFound(m.PageCount != 0, m.PageCount)
	case "content_types":
		if m.ContentTypes == nil {
			return nil, ErrKeyNotFound
		}
		return append([]string(nil), m.ContentTypes...), nil
	case "extra":
		if m.Extra == nil {
			return nil, ErrKeyNotFound
		}
		return copyAnyMap(m.Extra), nil
	default:
		return nil, ErrKeyNotFound
	}
}

func (b *Blackboard) setMetadataField(key string, value any) error {
	if sub, ok := strings.CutPrefix(key, "extra."); ok {
		if b.metadata.Extra == nil {
			b.metadata.Extra = make(map[string]any)
		}
		b.metadata.Extra[sub] = deepCopyValue(value)
		return nil
	}
	warnChanged := func(old any, set bool) {
		if set {
			log.Printf("[Blackboard] Conflict: document_metadata.%s changing from %v to %v", key, old, value)
		}
	}
	switch key {
	case "language", "date_format", "layout":
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("document_metadata.%s must be a string, got %T", key, value)
		}
		switch key {
		case "language":
			warnChanged(b.metadata.Language, b.metadata.Language != "" && b.metadata.Language != s)
			b.metadata.Language = s
		case "date_format":
			warnChanged(b.metadata.DateFormat, b.metadata.DateFormat != "" && b.metadata.DateFormat != s)
			b.metadata.DateFormat = s
		case "layout":
			warnChanged(b.metadata.Layout, b.metadata.Layout != "" && b.metadata.Layout != s)
			b.metadata.Layout = s
		}
		return nil
	case "page_count":
		n, ok := asInt(value)
		if !ok {
			return fmt.Errorf("document_metadata.page_count must be an integer, got %T", value)
		}
		warnChanged(b.metadata.PageCount, b.metadata.PageCount != 0 && b.metadata.PageCount != n)
		b.metadata.PageCount = n
		return nil
	case "content_types":
		list, ok := asStringSlice(value)
		if !ok {
			return fmt.Errorf("document_metadata.content_types must be a list of strings, got %T", value)
		}
		b.metadata.ContentTypes = list
		return nil
	case "extra":
		m, ok := toAnyMap(value)
		if !ok {
			return fmt.Errorf("document_metadata.extra must be a map, got %T", value)
		}
		b.metadata.Extra = copyAnyMap(m)
		return nil
	default:
		return fmt.Errorf("unknown document_metadata field: %q", key)
	}
}

func getObservationField(obs *PageObservation, field string) (any, error) {
	if sub, ok := strings.CutPrefix(field, "extra."); ok {
		val, found := obs.Extra[sub]
		if !found {
			return nil, ErrKeyNotFound
		}
		return deepCopyValue(val), nil
	}
	switch field {
	case "content_types":
		if obs.ContentTypes == nil {
			return nil, ErrKeyNotFound
		}
		return append([]string(nil), obs.ContentTypes...), nil
	case "rotation":
		return obs.Rotation, nil
	case "continues_on_next_page":
		return obs.ContinuesOnNextPage, nil
	case "continues_from_previous":
		return obs.ContinuesFromPrevious, nil
	case "quality_score":
		if obs.QualityScore == nil {
			return nil, ErrKeyNotFound
		}
		return *obs.QualityScore, nil
	case "table_count":
		if obs.TableCount == nil {
			return nil, ErrKeyNotFound
		}
		return *obs.TableCount, nil
	case "uncertain_regions":
		if obs.UncertainRegions == nil {
			return nil, ErrKeyNotFound
		}
		return copyUncertainRegions(obs.UncertainRegions), nil
	case "extra":
		if obs.Extra == nil {
			return nil, ErrKeyNotFound
		}
		return copyAnyMap(obs.Extra), nil
	default:
		return nil, ErrKeyNotFound
	}
}

func setObservationField(obs *PageObservation, field string, value any) error {
	if sub, ok := strings.CutPrefix(field, "extra."); ok {
		if obs.Extra == nil {
			obs.Extra = make(map[string]any)
		}
		obs.Extra[sub] = deepCopyValue(value)
		return nil
	}
	switch field {
	case "content_types":
		list, ok := asStringSlice(value)
		if !ok {
			return fmt.Errorf("page observation content_types must be a list of strings, got %T", value)
		}
		obs.ContentTypes = list
		return nil
	case "rotation":
		f, ok := asFloat(value)
		if !ok {
			return fmt.Errorf("page observation rotation must be numeric, got %T", value)
		}
		obs.Rotation = f
		return nil
	case "continues_on_next_page", "continues_from_previous":
		flag, ok := value.(bool)
		if !ok {
			return fmt.Errorf("page observation %s must be a bool, got %T", field, value)
		}
		if field == "continues_on_next_page" {
			obs.ContinuesOnNextPage = flag
		} else {
			obs.ContinuesFromPrevious = flag
		}
		return nil
	case "quality_score":
		f, ok := asFloat(value)
		if !ok {
			return fmt.Errorf("page observation quality_score must be numeric, got %T", value)
		}
		obs.QualityScore = &f
		return nil
	case "table_count":
		n, ok := asInt(value)
		if !ok {
			return fmt.Errorf("page observation table_count must be an integer, got %T", value)
		}
		obs.TableCount = &n
		return nil
	case "uncertain_regions":
		regions, err := asUncertainRegions(value)
		if err != nil {
			return err
		}
		obs.UncertainRegions = regions
		return nil
	case "extra":
		m, ok := toAnyMap(value)
		if !ok {
			return fmt.Errorf("page observation extra must be a map, got %T", value)
		}
		obs.Extra = copyAnyMap(m)
		return nil
	default:
		return fmt.Errorf("unknown page observation field: %q", field)
	}
}

func (b *Blackboard) serializeRegion(region Region) any {
	switch region {
	case RegionDocumentMetadata:
		return metadataToMap(b.metadata)
	case RegionPageObservations:
		out := make(map[int]map[string]any, len(b.pages))
		for num, obs := range b.pages {
			out[num] = observationToMap(*obs)
		}
		return out
	case RegionStepOutputs:
		return b.StepOutputs()
	case RegionAgentNotes:
		out := make(map[string]any, len(b.notes))
		for producer, fields := range b.notes {
			out[producer] = copyAnyMap(fields)
		}
		return out
	case RegionConfidenceSignals:
		out := make(map[string]any, len(b.signals))
		for id, sig := range b.signals {
			out[id] = copyFloatMap(sig)
		}
		return out
	}
	return nil
}

// metadataToMap serializes metadata omitting unset fields, so snapshots stay
// stable as unrelated fields remain untouched.
func metadataToMap(m DocumentMetadata) map[string]any {
	out := make(map[string]any)
	if m.Language != "" {
		out["language"] = m.Language
	}
	if m.DateFormat != "" {
		out["date_format"] = m.DateFormat
	}
	if m.Layout != "" {
		out["layout"] = m.Layout
	}
	if m.PageCount != 0 {
		out["page_count"] = m.PageCount
	}
	if len(m.ContentTypes) > 0 {
		out["content_types"] = append([]string(nil), m.ContentTypes...)
	}
	if len(m.Extra) > 0 {
		out["extra"] = copyAnyMap(m.Extra)
	}
	return out
}

func observationToMap(o PageObservation) map[string]any {
	out := make(map[string]any)
	if len(o.ContentTypes) > 0 {
		out["content_types"] = append([]string(nil), o.ContentTypes...)
	}
	if o.Rotation != 0 {
		out["rotation"] = o.Rotation
	}
	if o.ContinuesOnNextPage {
		out["continues_on_next_page"] = true
	}
	if o.ContinuesFromPrevious {
		out["continues_from_previous"] = true
	}
	if o.QualityScore != nil {
		out["quality_score"] = *o.QualityScore
	}
	if o.TableCount != nil {
		out["table_count"] = *o.TableCount
	}
	if len(o.UncertainRegions) > 0 {
		regions := make([]any, 0, len(o.UncertainRegions))
		for _, ur := range o.UncertainRegions {
			regions = append(regions, map[string]any{
				"page": ur.Page, "area": ur.Area, "reason": ur.Reason, "confidence": ur.Confidence,
			})
		}
		out["uncertain_regions"] = regions
	}
	if len(o.Extra) > 0 {
		out["extra"] = copyAnyMap(o.Extra)
	}
	return out
}

func valueOrNotFound(set bool, value any) (any, error) {
	if !set {
		return nil, ErrKeyNotFound
	}
	return value, nil
}
