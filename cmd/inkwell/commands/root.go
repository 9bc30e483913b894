package commands

import (
	"fmt"
	"io"
	"log"

	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string
)

var verbosity int

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "inkwell",
	Short: "Inkwell - vision-model document to markdown converter",
	Long: `Inkwell converts document page images into structured markdown by
running a pipeline of extraction steps against vision-capable models.

Pipelines share state through a blackboard, results are cached by content
hash, and every conversion carries a confidence score that decides whether
a human needs to review the output.`,
	Version: version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Component logs stay quiet unless the user asks for them.
		if verbosity == 0 {
			log.SetOutput(io.Discard)
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	// Silence Cobra's default error and usage printing
	// We print formatted colored errors directly in the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase output verbosity (repeatable)")
}
