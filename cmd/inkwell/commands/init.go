package commands

import (
	"github.com/spf13/cobra"

	"github.com/inkwellmd/inkwell/internal/printer"
	"github.com/inkwellmd/inkwell/internal/scaffold"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new Inkwell project",
	Long: `Initialize a new Inkwell project in the current directory.

Creates a starter inkwell.yaml plus an example custom agent and pipeline
under custom/. Refuses to overwrite an existing project unless --force is
given.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing project")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	if !initForce {
		if err := scaffold.CheckExisting(); err != nil {
			return printer.Error("cannot initialize project", err.Error(), nil)
		}
	}

	if err := scaffold.Initialize(initForce); err != nil {
		return printer.Error(
			"initialization failed",
			err.Error(),
			nil,
		)
	}

	scaffold.PrintSuccess()
	return nil
}
