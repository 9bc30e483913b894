package cachectl

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/inkwellmd/inkwell/internal/cache"
	"github.com/inkwellmd/inkwell/internal/filter"
)

// OutputFormat specifies how to format the cache entry list output.
type OutputFormat string

const (
	// OutputFormatDefault uses a table format with truncated keys
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSONL outputs complete entries as line-delimited JSON
	OutputFormatJSONL OutputFormat = "jsonl"
)

// ListEntries retrieves cache entries from the manager, applies filter
// criteria, and writes them to the provided writer sorted newest first.
func ListEntries(m *cache.Manager, criteria *filter.Criteria, format OutputFormat, w io.Writer) error {
	entries, err := m.Entries()
	if err != nil {
		return fmt.Errorf("failed to list cache entries: %w", err)
	}

	filtered := entries[:0]
	for _, e := range entries {
		if criteria == nil || criteria.Matches(e.Pipeline, e.Agent, e.Step) {
			filtered = append(filtered, e)
		}
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})

	switch format {
	case OutputFormatJSONL:
		return FormatJSONL(w, filtered)
	default:
		FormatTable(w, filtered)
		return nil
	}
}

// MinKeyPrefix is the minimum required length for cache key prefixes.
// Keys are 64-character hex digests; 8 characters balances typing effort
// against collision odds.
const MinKeyPrefix = 8

// NotFoundError indicates no cache entry matched the key prefix.
type NotFoundError struct {
	Prefix string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no cache entry matches %q", e.Prefix)
}

// AmbiguousError indicates the prefix matched more than one entry.
type AmbiguousError struct {
	Prefix  string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("key prefix %q is ambiguous (%d matches); use a longer prefix", e.Prefix, len(e.Matches))
}

// ResolveKey resolves a key prefix to a full cache key.
// A full 64-character key is matched exactly; shorter inputs must be at
// least MinKeyPrefix characters and match exactly one stored entry.
func ResolveKey(m *cache.Manager, prefix string) (*cache.Entry, error) {
	entries, err := m.Entries()
	if err != nil {
		return nil, fmt.Errorf("failed to search cache: %w", err)
	}

	if len(prefix) == 64 {
		for _, e := range entries {
			if e.Key == prefix {
				return e, nil
			}
		}
		return nil, &NotFoundError{Prefix: prefix}
	}

	if len(prefix) < MinKeyPrefix {
		return nil, fmt.Errorf("key prefix must be at least %d characters (got %d)", MinKeyPrefix, len(prefix))
	}

	var matches []*cache.Entry
	for _, e := range entries {
		if strings.HasPrefix(e.Key, prefix) {
			matches = append(matches, e)
		}
	}

	switch len(matches) {
	case 0:
		return nil, &NotFoundError{Prefix: prefix}
	case 1:
		return matches[0], nil
	default:
		keys := make([]string, len(matches))
		for i, e := range matches {
			keys[i] = e.Key
		}
		return nil, &AmbiguousError{Prefix: prefix, Matches: keys}
	}
}
