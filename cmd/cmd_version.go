// cmd_version.go - version Command
// Hauptfunktionen: versionHandler, newVersionCmd
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ollama/tfbind/native"
	"github.com/ollama/tfbind/version"
)

// versionHandler - Zeigt die Client-Version und die der nativen Runtime
func versionHandler(cmd *cobra.Command, _ []string) {
	fmt.Fprintf(cmd.OutOrStdout(), "tfbind version is %s\n", version.Version)

	rt, err := openRuntime(cmd)
	if err != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Warning: could not open a native runtime: %v\n", err)
		return
	}
	defer rt.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "%s runtime version is %s\n", rt.API().Name(), rt.Version())
	if names := native.Names(); len(names) > 1 {
		fmt.Fprintf(cmd.OutOrStdout(), "available runtimes: %v\n", names)
	}
}

// newVersionCmd - Erstellt den version Command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run:   versionHandler,
	}
}
