package config

import (
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// agentFile is the required top-level shape of an agent YAML.
type agentFile struct {
	Agent *AgentConfig `yaml:"agent"`
}

// pipelineFile is the required top-level shape of a pipeline YAML.
type pipelineFile struct {
	Pipeline *PipelineConfig `yaml:"pipeline"`
}

// LoadAgent reads and validates an agent config from a YAML file with a
// top-level "agent:" key.
func LoadAgent(path string) (*AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read agent config: %w", err)
	}
	return ParseAgent(data)
}

// ParseAgent decodes and validates agent YAML bytes.
func ParseAgent(data []byte) (*AgentConfig, error) {
	var file agentFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if file.Agent == nil {
		return nil, fmt.Errorf("not an agent config: missing top-level 'agent' key")
	}
	if err := file.Agent.Validate(); err != nil {
		return nil, fmt.Errorf("invalid agent configuration: %w", err)
	}
	return file.Agent, nil
}

// LoadPipeline reads and validates a pipeline config from a YAML file with a
// top-level "pipeline:" key.
func LoadPipeline(path string) (*PipelineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline config: %w", err)
	}
	return ParsePipeline(data)
}

// ParsePipeline decodes and validates pipeline YAML bytes.
func ParsePipeline(data []byte) (*PipelineConfig, error) {
	var file pipelineFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if file.Pipeline == nil {
		return nil, fmt.Errorf("not a pipeline config: missing top-level 'pipeline' key")
	}
	if err := file.Pipeline.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline configuration: %w", err)
	}
	return file.Pipeline, nil
}

// ParseAgentFS is ParseAgent over an fs.FS entry, used for compiled-in
// builtin configs.
func ParseAgentFS(fsys fs.FS, path string) (*AgentConfig, error) {
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read agent config: %w", err)
	}
	return ParseAgent(data)
}

// ParsePipelineFS is ParsePipeline over an fs.FS entry.
func ParsePipelineFS(fsys fs.FS, path string) (*PipelineConfig, error) {
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline config: %w", err)
	}
	return ParsePipeline(data)
}
