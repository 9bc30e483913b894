package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/inkwellmd/inkwell/internal/cache"
	"github.com/inkwellmd/inkwell/internal/cachectl"
	"github.com/inkwellmd/inkwell/internal/config"
	"github.com/inkwellmd/inkwell/internal/filter"
	"github.com/inkwellmd/inkwell/internal/printer"
)

var (
	cacheFilterPipeline string
	cacheFilterAgent    string
	cacheFilterStep     string
	cacheListJSONL      bool
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage the result cache",
	Long: `Inspect and manage the two-tier result cache.

Cached entries are keyed by a content hash of every input that determines
a step's output, so edits to images, prompts, agents, or upstream results
miss naturally. Use these commands to inspect what is stored, and to
invalidate entries after changing an agent without bumping its version.`,
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache hit counters and tier occupancy",
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := openManagerFromSettings()
		if err != nil {
			return err
		}
		defer manager.Close()

		cachectl.FormatStats(os.Stdout, manager.Stats())
		return nil
	},
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached entries, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := openManagerFromSettings()
		if err != nil {
			return err
		}
		defer manager.Close()

		format := cachectl.OutputFormatDefault
		if cacheListJSONL {
			format = cachectl.OutputFormatJSONL
		}
		return cachectl.ListEntries(manager, cacheCriteria(), format, os.Stdout)
	},
}

var cacheShowCmd = &cobra.Command{
	Use:   "show <key>",
	Short: "Show one cache entry as JSON",
	Long: `Show one cache entry as pretty-printed JSON, replayable blackboard
writes included. The key may be a unique prefix (at least 8 characters) of
the full 64-character key, as printed by 'inkwell cache list'.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := openManagerFromSettings()
		if err != nil {
			return err
		}
		defer manager.Close()

		entry, err := cachectl.ResolveKey(manager, args[0])
		if err != nil {
			return err
		}
		return cachectl.FormatEntry(os.Stdout, entry)
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := openManagerFromSettings()
		if err != nil {
			return err
		}
		defer manager.Close()

		if err := manager.Clear(); err != nil {
			return fmt.Errorf("failed to clear cache: %w", err)
		}
		printer.Success("Cache cleared\n")
		return nil
	},
}

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate",
	Short: "Remove cached entries matching the given filters",
	Long: `Remove cached entries matching the given filters. Filters are ANDed:

  inkwell cache invalidate --pipeline technical-doc --step extract

At least one filter is required; clearing everything is an explicit
'inkwell cache clear'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		criteria := cacheCriteria()
		if !criteria.HasFilters() {
			return printer.Error(
				"no filters given",
				"Invalidation with no filters would match nothing.",
				[]string{
					"Narrow it down:\n  inkwell cache invalidate --pipeline <name> [--agent <name>] [--step <name>]",
					"To remove everything:\n  inkwell cache clear",
				},
			)
		}

		manager, err := openManagerFromSettings()
		if err != nil {
			return err
		}
		defer manager.Close()

		count, err := manager.Invalidate(criteria)
		if err != nil {
			return fmt.Errorf("failed to invalidate: %w", err)
		}
		printer.Success("Invalidated %d entries\n", count)
		return nil
	},
}

func cacheCriteria() *filter.Criteria {
	return &filter.Criteria{
		Pipeline: cacheFilterPipeline,
		Agent:    cacheFilterAgent,
		Step:     cacheFilterStep,
	}
}

// openManagerFromSettings opens the cache exactly as convert would, so the
// inspection commands see the same store.
func openManagerFromSettings() (*cache.Manager, error) {
	settings, err := config.LoadSettings(nil)
	if err != nil {
		return nil, err
	}
	return openCacheManager(settings)
}

func init() {
	cacheListCmd.Flags().BoolVar(&cacheListJSONL, "jsonl", false, "Output as line-delimited JSON")

	for _, cmd := range []*cobra.Command{cacheListCmd, cacheInvalidateCmd} {
		cmd.Flags().StringVar(&cacheFilterPipeline, "pipeline", "", "Filter by producing pipeline")
		cmd.Flags().StringVar(&cacheFilterAgent, "agent", "", "Filter by producing agent")
		cmd.Flags().StringVar(&cacheFilterStep, "step", "", "Filter by producing step")
	}

	cacheCmd.AddCommand(cacheStatsCmd, cacheListCmd, cacheShowCmd, cacheClearCmd, cacheInvalidateCmd)
	rootCmd.AddCommand(cacheCmd)
}
