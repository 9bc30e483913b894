package agent

import (
	"embed"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/inkwellmd/inkwell/internal/config"
)

//go:embed builtin/agents/*.yaml builtin/pipelines/*.yaml
var builtinFS embed.FS

// AgentInfo summarizes one registered agent for listings.
type AgentInfo struct {
	Name        string
	Version     string
	Description string
	Builtin     bool
}

// PipelineInfo summarizes one registered pipeline for listings.
type PipelineInfo struct {
	Name        string
	Version     string
	Description string
	Steps       int
	Builtin     bool
}

// AgentRegistry holds the agent configs discoverable by name: the
// compiled-in builtins plus any user directories. User configs override
// builtins with the same name; malformed files are logged and skipped.
type AgentRegistry struct {
	agents  map[string]*config.AgentConfig
	builtin map[string]bool
}

// NewAgentRegistry loads the builtin agents and scans the given user
// directories for agent YAML files.
func NewAgentRegistry(userDirs ...string) *AgentRegistry {
	r := &AgentRegistry{
		agents:  make(map[string]*config.AgentConfig),
		builtin: make(map[string]bool),
	}
	for _, path := range globBuiltin("builtin/agents") {
		cfg, err := config.ParseAgentFS(builtinFS, path)
		if err != nil {
			log.Printf("[Registry] Skipping builtin agent %s: %v", path, err)
			continue
		}
		r.Register(cfg, true)
	}
	for _, dir := range userDirs {
		r.scanDir(dir)
	}
	return r
}

// Register adds or replaces an agent.
func (r *AgentRegistry) Register(cfg *config.AgentConfig, builtin bool) {
	r.agents[cfg.Name] = cfg
	r.builtin[cfg.Name] = builtin
}

// Get looks up an agent by name.
func (r *AgentRegistry) Get(name string) (*config.AgentConfig, bool) {
	cfg, ok := r.agents[name]
	return cfg, ok
}

// Has reports whether an agent name is registered.
func (r *AgentRegistry) Has(name string) bool {
	_, ok := r.agents[name]
	return ok
}

// List returns registered agents sorted by name.
func (r *AgentRegistry) List() []AgentInfo {
	out := make([]AgentInfo, 0, len(r.agents))
	for name, cfg := range r.agents {
		out = append(out, AgentInfo{
			Name:        name,
			Version:     cfg.Version,
			Description: cfg.Description,
			Builtin:     r.builtin[name],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *AgentRegistry) scanDir(dir string) {
	for _, path := range globUser(dir) {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("[Registry] Skipping %s: %v", path, err)
			continue
		}
		if !hasTopLevelKey(data, "agent") {
			continue
		}
		cfg, err := config.ParseAgent(data)
		if err != nil {
			log.Printf("[Registry] Skipping agent config %s: %v", path, err)
			continue
		}
		r.Register(cfg, false)
	}
}

// PipelineRegistry is the pipeline counterpart of AgentRegistry.
type PipelineRegistry struct {
	pipelines map[string]*config.PipelineConfig
	builtin   map[string]bool
}

// NewPipelineRegistry loads the builtin pipelines and scans the given user
// directories for pipeline YAML files.
func NewPipelineRegistry(userDirs ...string) *PipelineRegistry {
	r := &PipelineRegistry{
		pipelines: make(map[string]*config.PipelineConfig),
		builtin:   make(map[string]bool),
	}
	for _, path := range globBuiltin("builtin/pipelines") {
		cfg, err := config.ParsePipelineFS(builtinFS, path)
		if err != nil {
			log.Printf("[Registry] Skipping builtin pipeline %s: %v", path, err)
			continue
		}
		r.Register(cfg, true)
	}
	for _, dir := range userDirs {
		r.scanDir(dir)
	}
	return r
}

// Register adds or replaces a pipeline.
func (r *PipelineRegistry) Register(cfg *config.PipelineConfig, builtin bool) {
	r.pipelines[cfg.Name] = cfg
	r.builtin[cfg.Name] = builtin
}

// Get looks up a pipeline by name.
func (r *PipelineRegistry) Get(name string) (*config.PipelineConfig, bool) {
	cfg, ok := r.pipelines[name]
	return cfg, ok
}

// Has reports whether a pipeline name is registered.
func (r *PipelineRegistry) Has(name string) bool {
	_, ok := r.pipelines[name]
	return ok
}

// List returns registered pipelines sorted by name.
func (r *PipelineRegistry) List() []PipelineInfo {
	out := make([]PipelineInfo, 0, len(r.pipelines))
	for name, cfg := range r.pipelines {
		out = append(out, PipelineInfo{
			Name:        name,
			Version:     cfg.Version,
			Description: cfg.Description,
			Steps:       len(cfg.Steps),
			Builtin:     r.builtin[name],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *PipelineRegistry) scanDir(dir string) {
	for _, path := range globUser(dir) {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("[Registry] Skipping %s: %v", path, err)
			continue
		}
		if !hasTopLevelKey(data, "pipeline") {
			continue
		}
		cfg, err := config.ParsePipeline(data)
		if err != nil {
			log.Printf("[Registry] Skipping pipeline config %s: %v", path, err)
			continue
		}
		r.Register(cfg, false)
	}
}

func globBuiltin(dir string) []string {
	paths, err := fs.Glob(builtinFS, dir+"/*.yaml")
	if err != nil {
		return nil
	}
	sort.Strings(paths)
	return paths
}

func globUser(dir string) []string {
	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matched, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			continue
		}
		paths = append(paths, matched...)
	}
	sort.Strings(paths)
	return paths
}

// hasTopLevelKey reports whether YAML bytes carry the named top-level key.
// Used to tell agent files from pipeline files in mixed user directories
// without warning about the other kind.
func hasTopLevelKey(data []byte, key string) bool {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return strings.Contains(string(data), key+":")
	}
	_, ok := doc[key]
	return ok
}
