// Package cachectl implements the cache inspection surface behind the
// `inkwell cache` commands: listing, key resolution, and formatting.
package cachectl

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/inkwellmd/inkwell/internal/cache"
)

// FormatTable writes cache entries as a formatted table to the provided
// writer. Columns: KEY (truncated), PIPELINE, STEP, AGENT, MODEL, AGE, and
// TOKENS. Returns the number of entries formatted.
func FormatTable(w io.Writer, entries []*cache.Entry) int {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No cache entries found")
		return 0
	}

	fmt.Fprintf(w, "%-14s %-16s %-16s %-18s %-14s %-8s %s\n",
		"KEY", "PIPELINE", "STEP", "AGENT", "MODEL", "AGE", "TOKENS")
	fmt.Fprintf(w, "%-14s %-16s %-16s %-18s %-14s %-8s %s\n",
		"--------------", "----------------", "----------------", "------------------", "--------------", "--------", "------")

	for _, e := range entries {
		fmt.Fprintf(w, "%-14s %-16s %-16s %-18s %-14s %-8s %d\n",
			formatKey(e.Key),
			truncate(e.Pipeline, 16),
			truncate(e.Step, 16),
			truncate(e.Agent, 18),
			truncate(e.ModelUsed, 14),
			formatAge(e.CreatedAt),
			e.Usage.TotalTokens,
		)
	}

	noun := "entry"
	if len(entries) != 1 {
		noun = "entries"
	}
	fmt.Fprintf(w, "\n%d %s found\n", len(entries), noun)

	return len(entries)
}

// FormatJSONL writes cache entries as line-delimited JSON to the provided
// writer. This format is ideal for streaming and processing with tools
// like jq.
func FormatJSONL(w io.Writer, entries []*cache.Entry) error {
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal cache entry: %w", err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// FormatEntry writes a single entry as pretty-printed JSON. Used in show
// mode to display complete entry details, replayable writes included.
func FormatEntry(w io.Writer, entry *cache.Entry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	fmt.Fprintln(w)
	return nil
}

// FormatStats writes the manager's counters and per-tier occupancy.
func FormatStats(w io.Writer, stats cache.Stats) {
	if stats.Disabled {
		fmt.Fprintln(w, "Cache: disabled")
		return
	}

	fmt.Fprintln(w, "Cache statistics:")
	fmt.Fprintf(w, "  Hits:          %d\n", stats.Hits)
	fmt.Fprintf(w, "  Misses:        %d\n", stats.Misses)
	fmt.Fprintf(w, "  Hit rate:      %.1f%%\n", stats.HitRate*100)
	fmt.Fprintf(w, "  Tokens saved:  %d\n", stats.TokensSaved)
	fmt.Fprintf(w, "  Memory tier:   %d entries, %s\n", stats.MemoryEntries, formatBytes(stats.MemoryBytes))
	fmt.Fprintf(w, "  Store tier:    %d entries, %s\n", stats.StoreEntries, formatBytes(stats.StoreBytes))
}

// formatKey truncates a cache key to its first 12 characters for compact
// display. Keys are hex digests, so a 12-character prefix is almost always
// unique within one cache.
func formatKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

// formatAge renders the time since creation compactly (5s, 3m, 2h, 4d).
func formatAge(created time.Time) string {
	age := time.Since(created)
	switch {
	case age < time.Minute:
		return fmt.Sprintf("%ds", int(age.Seconds()))
	case age < time.Hour:
		return fmt.Sprintf("%dm", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh", int(age.Hours()))
	default:
		return fmt.Sprintf("%dd", int(age.Hours()/24))
	}
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
