package blackboard

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// WriterFunc derives a deterministic blackboard value from a page's extracted
// markdown, without additional model cost. Writers run after a model call.
type WriterFunc func(markdown string, pageNum int) (any, error)

// Writer pairs a derivation function with the dotted key it writes to.
// The key template may contain "{page_num}", replaced per invocation.
type Writer struct {
	Fn         WriterFunc
	KeyPattern string
}

// OutputKey resolves the writer's key template for a page number.
func (w Writer) OutputKey(pageNum int) string {
	return strings.ReplaceAll(w.KeyPattern, "{page_num}", strconv.Itoa(pageNum))
}

// WriterRegistry holds the code-computed writers available to agents.
// Construct one per process and inject it; there is no global registry.
type WriterRegistry struct {
	writers map[string]Writer
}

// NewWriterRegistry returns a registry pre-populated with the built-in
// writers.
func NewWriterRegistry() *WriterRegistry {
	r := &WriterRegistry{writers: make(map[string]Writer)}
	r.Register("detect_continuations", Writer{
		Fn:         detectContinuations,
		KeyPattern: "page_observations.{page_num}.continues_on_next_page",
	})
	r.Register("count_tables", Writer{
		Fn:         countTables,
		KeyPattern: "page_observations.{page_num}.table_count",
	})
	return r
}

// Register adds or replaces a named writer.
func (r *WriterRegistry) Register(name string, w Writer) {
	r.writers[name] = w
}

// Get looks up a writer by name.
func (r *WriterRegistry) Get(name string) (Writer, bool) {
	w, ok := r.writers[name]
	return w, ok
}

// Names returns all registered writer names.
func (r *WriterRegistry) Names() []string {
	names := make([]string, 0, len(r.writers))
	for name := range r.writers {
		names = append(names, name)
	}
	return names
}

// Apply runs the named writer against a page's markdown and writes the result
// to the board. The resolved key's leading region segment selects the target
// region.
func (r *WriterRegistry) Apply(board *Blackboard, name, markdown string, pageNum int, actor string) error {
	w, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("unknown blackboard writer: %q", name)
	}
	value, err := w.Fn(markdown, pageNum)
	if err != nil {
		return fmt.Errorf("writer %q failed: %w", name, err)
	}
	key := w.OutputKey(pageNum)
	region, rest, found := strings.Cut(key, ".")
	if !found {
		return fmt.Errorf("writer %q output key %q has no region prefix", name, key)
	}
	return board.Write(Region(region), rest, value, actor)
}

// detectContinuations guesses whether a page's markdown ends mid-table or
// mid-sentence, signalling that content continues on the next page.
func detectContinuations(markdown string, _ int) (any, error) {
	stripped := strings.TrimRight(markdown, " \t\r\n")
	if stripped == "" {
		return false, nil
	}
	if strings.HasSuffix(stripped, "|") {
		return true, nil
	}
	last := stripped[len(stripped)-1]
	if !strings.ContainsRune(".!?\"')", rune(last)) {
		return true, nil
	}
	return false, nil
}

// A table starts with a header row followed by a separator row.
var tableSeparatorPattern = regexp.MustCompile(`(?m)^\|[\s:|-]+\|$`)

// countTables counts markdown tables by their separator rows.
func countTables(markdown string, _ int) (any, error) {
	return len(tableSeparatorPattern.FindAllString(markdown, -1)), nil
}
