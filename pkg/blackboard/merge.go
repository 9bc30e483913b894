package blackboard

import (
	"encoding/json"
	"log"
)

// Merge folds the writes accumulated on a branch clone back into this board.
// Merge is one-directional: branches never see each other, and only the
// coordinating goroutine calls Merge, so it needs no locking. Branches that
// touched disjoint keys merge order-independently.
//
// Per-region rules:
//
//	document_metadata:  field-by-field; branch wins on conflict with a logged warning
//	page_observations:  per-page, per-field; list fields union+dedupe, scalars overwrite
//	step_outputs:       keyed by step name (no collision expected)
//	agent_notes:        merged key-by-key within each producer's sub-map
//	confidence_signals: keyed by step/page identifier
func (b *Blackboard) Merge(branch *Blackboard, branchName string) {
	b.mergeMetadata(branch, branchName)
	b.mergeObservations(branch, branchName)
	for step, out := range branch.outputs {
		b.outputs[step] = out
	}
	for producer, fields := range branch.notes {
		if b.notes[producer] == nil {
			b.notes[producer] = make(map[string]any)
		}
		for k, v := range fields {
			b.notes[producer][k] = deepCopyValue(v)
		}
	}
	for id, sig := range branch.signals {
		b.signals[id] = copyFloatMap(sig)
	}
}

func (b *Blackboard) mergeMetadata(branch *Blackboard, branchName string) {
	src := branch.metadata
	warn := func(field string, old, new any) {
		log.Printf("[Blackboard] Merge conflict from branch %q: document_metadata.%s: %v vs %v (using latter)",
			branchName, field, old, new)
	}
	if src.Language != "" {
		if b.metadata.Language != "" && b.metadata.Language != src.Language {
			warn("language", b.metadata.Language, src.Language)
		}
		b.metadata.Language = src.Language
	}
	if src.DateFormat != "" {
		if b.metadata.DateFormat != "" && b.metadata.DateFormat != src.DateFormat {
			warn("date_format", b.metadata.DateFormat, src.DateFormat)
		}
		b.metadata.DateFormat = src.DateFormat
	}
	if src.Layout != "" {
		if b.metadata.Layout != "" && b.metadata.Layout != src.Layout {
			warn("layout", b.metadata.Layout, src.Layout)
		}
		b.metadata.Layout = src.Layout
	}
	if src.PageCount != 0 {
		if b.metadata.PageCount != 0 && b.metadata.PageCount != src.PageCount {
			warn("page_count", b.metadata.PageCount, src.PageCount)
		}
		b.metadata.PageCount = src.PageCount
	}
	if len(src.ContentTypes) > 0 {
		b.metadata.ContentTypes = unionStrings(b.metadata.ContentTypes, src.ContentTypes)
	}
	if len(src.Extra) > 0 {
		if b.metadata.Extra == nil {
			b.metadata.Extra = make(map[string]any)
		}
		for k, v := range src.Extra {
			b.metadata.Extra[k] = deepCopyValue(v)
		}
	}
}

func (b *Blackboard) mergeObservations(branch *Blackboard, branchName string) {
	for num, srcObs := range branch.pages {
		dst, ok := b.pages[num]
		if !ok {
			o := copyObservation(*srcObs)
			b.pages[num] = &o
			continue
		}
		mergeObservation(dst, srcObs, num, branchName)
	}
}

// mergeObservation folds non-default source fields into the target.
func mergeObservation(dst, src *PageObservation, page int, branchName string) {
	warn := func(field string, old, new any) {
		log.Printf("[Blackboard] Merge conflict from branch %q: page %d %s: %v vs %v (using latter)",
			branchName, page, field, old, new)
	}
	if len(src.ContentTypes) > 0 {
		dst.ContentTypes = unionStrings(dst.ContentTypes, src.ContentTypes)
	}
	if src.Rotation != 0 {
		if dst.Rotation != 0 && dst.Rotation != src.Rotation {
			warn("rotation", dst.Rotation, src.Rotation)
		}
		dst.Rotation = src.Rotation
	}
	if src.ContinuesOnNextPage {
		dst.ContinuesOnNextPage = true
	}
	if src.ContinuesFromPrevious {
		dst.ContinuesFromPrevious = true
	}
	if src.QualityScore != nil {
		if dst.QualityScore != nil && *dst.QualityScore != *src.QualityScore {
			warn("quality_score", *dst.QualityScore, *src.QualityScore)
		}
		score := *src.QualityScore
		dst.QualityScore = &score
	}
	if src.TableCount != nil {
		if dst.TableCount != nil && *dst.TableCount != *src.TableCount {
			warn("table_count", *dst.TableCount, *src.TableCount)
		}
		count := *src.TableCount
		dst.TableCount = &count
	}
	if len(src.UncertainRegions) > 0 {
		dst.UncertainRegions = unionUncertainRegions(dst.UncertainRegions, src.UncertainRegions)
	}
	if len(src.Extra) > 0 {
		if dst.Extra == nil {
			dst.Extra = make(map[string]any)
		}
		for k, v := range src.Extra {
			dst.Extra[k] = deepCopyValue(v)
		}
	}
}

// unionStrings appends unseen items preserving first-seen order.
func unionStrings(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	out := append([]string(nil), existing...)
	for _, s := range existing {
		seen[s] = true
	}
	for _, s := range incoming {
		if !seen[s] {
			out = append(out, s)
			seen[s] = true
		}
	}
	return out
}

// unionUncertainRegions dedupes by serialized form since entries are records.
func unionUncertainRegions(existing, incoming []UncertainRegion) []UncertainRegion {
	seen := make(map[string]bool, len(existing))
	out := append([]UncertainRegion(nil), existing...)
	for _, ur := range existing {
		seen[regionFingerprint(ur)] = true
	}
	for _, ur := range incoming {
		fp := regionFingerprint(ur)
		if !seen[fp] {
			out = append(out, ur)
			seen[fp] = true
		}
	}
	return out
}

func regionFingerprint(ur UncertainRegion) string {
	data, err := json.Marshal(ur)
	if err != nil {
		return ur.Area + "|" + ur.Reason
	}
	return string(data)
}
