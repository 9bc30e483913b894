package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/inkwellmd/inkwell/internal/agent"
	"github.com/inkwellmd/inkwell/internal/config"
	"github.com/inkwellmd/inkwell/internal/models"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Work with agent definitions",
}

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := config.LoadSettings(&config.Overrides{CustomDirs: listCustomDirs})
		if err != nil {
			return err
		}
		registry := agent.NewAgentRegistry(settings.CustomDirs...)

		fmt.Printf("%-22s %-8s %-8s %s\n", "NAME", "VERSION", "SOURCE", "DESCRIPTION")
		for _, info := range registry.List() {
			fmt.Printf("%-22s %-8s %-8s %s\n", info.Name, info.Version, sourceLabel(info.Builtin), info.Description)
		}
		return nil
	},
}

var pipelinesCmd = &cobra.Command{
	Use:   "pipelines",
	Short: "Work with pipeline definitions",
}

var pipelinesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available pipelines",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := config.LoadSettings(&config.Overrides{CustomDirs: listCustomDirs})
		if err != nil {
			return err
		}
		registry := agent.NewPipelineRegistry(settings.CustomDirs...)

		fmt.Printf("%-22s %-8s %-6s %-8s %s\n", "NAME", "VERSION", "STEPS", "SOURCE", "DESCRIPTION")
		for _, info := range registry.List() {
			fmt.Printf("%-22s %-8s %-6d %-8s %s\n", info.Name, info.Version, info.Steps, sourceLabel(info.Builtin), info.Description)
		}
		return nil
	},
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Work with the model allowlist",
}

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List models available to agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		allowlist, err := models.Load()
		if err != nil {
			return err
		}

		fmt.Printf("%-16s %-10s %-8s %-10s %s\n", "MODEL", "TIER", "LOGPROBS", "MAXTOKENS", "DESCRIPTION")
		for _, info := range allowlist.List() {
			logprobs := "no"
			if info.Logprobs {
				logprobs = "yes"
			}
			fmt.Printf("%-16s %-10s %-8s %-10d %s\n", info.Name, info.Tier, logprobs, info.MaxTokens, info.Description)
		}
		return nil
	},
}

var listCustomDirs []string

func init() {
	for _, cmd := range []*cobra.Command{agentsListCmd, pipelinesListCmd} {
		cmd.Flags().StringArrayVar(&listCustomDirs, "custom-dir", nil, "Extra directory with agent/pipeline definitions (repeatable)")
	}

	agentsCmd.AddCommand(agentsListCmd)
	pipelinesCmd.AddCommand(pipelinesListCmd)
	modelsCmd.AddCommand(modelsListCmd)
	rootCmd.AddCommand(agentsCmd, pipelinesCmd, modelsCmd)
}

func sourceLabel(builtin bool) string {
	if builtin {
		return "builtin"
	}
	return "custom"
}
