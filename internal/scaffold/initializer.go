// Package scaffold creates the starter files for a new Inkwell project.
package scaffold

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/inkwellmd/inkwell/internal/config"
)

//go:embed templates/*
var templatesFS embed.FS

// FileInfo represents a file to be created during initialization
type FileInfo struct {
	Path        string
	Content     []byte
	Permissions os.FileMode
}

// Initialize creates the Inkwell project structure: a starter inkwell.yaml
// plus an example custom agent and pipeline under custom/.
// If force is true, it will remove existing inkwell.yaml and custom/ first.
func Initialize(force bool) error {
	if force {
		if err := handleForce(); err != nil {
			return err
		}
	}

	files, err := getTemplateFiles()
	if err != nil {
		return err
	}

	if err := createDirectories(); err != nil {
		return err
	}

	if err := writeFiles(files); err != nil {
		return err
	}

	return validateCreatedFiles()
}

// handleForce removes existing files if --force was specified
func handleForce() error {
	if _, err := os.Stat("inkwell.yaml"); err == nil {
		fmt.Println("⚠️  Removing existing inkwell.yaml...")
		if err := os.Remove("inkwell.yaml"); err != nil {
			return fmt.Errorf("failed to remove inkwell.yaml: %w", err)
		}
	}

	if info, err := os.Stat("custom"); err == nil && info.IsDir() {
		fmt.Println("⚠️  Removing existing custom/ directory...")
		if err := os.RemoveAll("custom"); err != nil {
			return fmt.Errorf("failed to remove custom/ directory: %w", err)
		}
	}

	return nil
}

// getTemplateFiles reads and maps all template files to their target paths
func getTemplateFiles() ([]FileInfo, error) {
	targets := []struct {
		template string
		path     string
	}{
		{"templates/inkwell.yaml.tmpl", "inkwell.yaml"},
		{"templates/example-agent.yaml.tmpl", filepath.Join("custom", "agents", "example-agent.yaml")},
		{"templates/example-pipeline.yaml.tmpl", filepath.Join("custom", "pipelines", "example-pipeline.yaml")},
	}

	files := make([]FileInfo, 0, len(targets))
	for _, t := range targets {
		content, err := templatesFS.ReadFile(t.template)
		if err != nil {
			return nil, fmt.Errorf("failed to read template %s: %w", t.template, err)
		}
		files = append(files, FileInfo{Path: t.path, Content: content, Permissions: 0644})
	}
	return files, nil
}

// createDirectories creates the custom agent and pipeline directories
func createDirectories() error {
	for _, dir := range []string{
		filepath.Join("custom", "agents"),
		filepath.Join("custom", "pipelines"),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// writeFiles writes all scaffold files to disk
func writeFiles(files []FileInfo) error {
	for _, file := range files {
		if err := os.WriteFile(file.Path, file.Content, file.Permissions); err != nil {
			return fmt.Errorf("failed to write %s: %w", file.Path, err)
		}
	}
	return nil
}

// validateCreatedFiles parses the scaffolded files, so a broken template
// never ships a project that fails on first run
func validateCreatedFiles() error {
	data, err := os.ReadFile("inkwell.yaml")
	if err != nil {
		return fmt.Errorf("failed to read created inkwell.yaml: %w", err)
	}
	var settings config.Settings
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return fmt.Errorf("created inkwell.yaml is not valid YAML: %w", err)
	}

	agentPath := filepath.Join("custom", "agents", "example-agent.yaml")
	agentData, err := os.ReadFile(agentPath)
	if err != nil {
		return fmt.Errorf("failed to read created %s: %w", agentPath, err)
	}
	if _, err := config.ParseAgent(agentData); err != nil {
		return fmt.Errorf("created %s is invalid: %w", agentPath, err)
	}

	pipelinePath := filepath.Join("custom", "pipelines", "example-pipeline.yaml")
	pipelineData, err := os.ReadFile(pipelinePath)
	if err != nil {
		return fmt.Errorf("failed to read created %s: %w", pipelinePath, err)
	}
	if _, err := config.ParsePipeline(pipelineData); err != nil {
		return fmt.Errorf("created %s is invalid: %w", pipelinePath, err)
	}

	return nil
}

// PrintSuccess prints the success message with created files
func PrintSuccess() {
	fmt.Println("\n✅ Successfully initialized Inkwell project!")
	fmt.Println("\nCreated:")
	fmt.Println("  ✓ inkwell.yaml")
	fmt.Println("  ✓ custom/agents/example-agent.yaml")
	fmt.Println("  ✓ custom/pipelines/example-pipeline.yaml")
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Set OPENAI_API_KEY (or api_key in ~/.inkwell/config.yaml)")
	fmt.Println("  2. Customize the example agent and pipeline under custom/")
	fmt.Println("  3. Run 'inkwell convert <document>' to convert your first document")
}
