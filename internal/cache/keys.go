package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// KeyInputs are exactly the inputs that determine a step's model output.
// Two invocations with identical values here must produce an identical key
// regardless of unrelated blackboard state.
type KeyInputs struct {
	ImageHash    string // SHA-256 of image content, empty for text-only calls
	Pipeline     string
	Step         string
	Agent        string
	AgentVersion string
	ModelID      string
	PromptHash   string // HashPrompt over the fully-rendered prompts

	// Snapshot holds only the blackboard regions the agent declared it
	// reads. Hashed with canonical key ordering, so insertion order never
	// changes the key.
	Snapshot map[string]any
}

// Key derives the cache key: SHA-256 hex over the pipe-joined inputs.
func Key(in KeyInputs) string {
	components := []string{
		in.ImageHash,
		in.Pipeline,
		in.Step,
		in.Agent,
		in.AgentVersion,
		in.ModelID,
		in.PromptHash,
		hashSnapshot(in.Snapshot),
	}
	sum := sha256.Sum256([]byte(strings.Join(components, "|")))
	return hex.EncodeToString(sum[:])
}

// HashImage hashes raw image bytes for cache key use.
func HashImage(image []byte) string {
	if len(image) == 0 {
		return ""
	}
	sum := sha256.Sum256(image)
	return hex.EncodeToString(sum[:])
}

// HashPrompt hashes the rendered system and user prompts together.
func HashPrompt(system, user string) string {
	sum := sha256.Sum256([]byte(system + "||" + user))
	return hex.EncodeToString(sum[:])
}

// hashSnapshot produces a deterministic hash of a region snapshot.
// encoding/json emits map keys in sorted order, which gives the canonical
// form; non-string map keys are normalized first.
func hashSnapshot(snapshot map[string]any) string {
	if len(snapshot) == 0 {
		return ""
	}
	data, err := json.Marshal(canonicalize(snapshot))
	if err != nil {
		// Snapshots come from the blackboard's own serializer, which only
		// emits JSON-encodable shapes.
		data = []byte(fmt.Sprintf("%v", snapshot))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// canonicalize normalizes snapshot values so equivalent snapshots always
// serialize identically (int-keyed page maps become string-keyed).
func canonicalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = canonicalize(item)
		}
		return out
	case map[int]map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprintf("%d", k)] = canonicalize(item)
		}
		return out
	case map[string]string:
		return val
	case map[string]float64:
		return val
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = canonicalize(item)
		}
		return out
	default:
		return v
	}
}
