// cmd.go - Haupt-CLI Setup und Root Command
// Hauptfunktionen: NewCLI, appendEnvDocs, openRuntime
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ollama/tfbind/envconfig"
	"github.com/ollama/tfbind/logutil"
	"github.com/ollama/tfbind/tf"
)

// appendEnvDocs - Fuegt Umgebungsvariablen-Dokumentation zum Command hinzu
func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// openRuntime - Oeffnet die Runtime gemaess --native und der Umgebung
func openRuntime(cmd *cobra.Command) (*tf.Runtime, error) {
	opts := []tf.Option{
		tf.WithLogger(logutil.NewLogger(cmd.ErrOrStderr(), envconfig.LogLevel())),
	}
	if name, _ := cmd.Flags().GetString("native"); name != "" {
		opts = append(opts, tf.WithNative(name))
	}

	rt, err := tf.NewRuntime(opts...)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(rt.Logger())
	return rt, nil
}

// NewCLI - Erstellt das Haupt-CLI mit allen Commands
func NewCLI() *cobra.Command {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "tfbind",
		Short:         "TensorFlow graph and session runner",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Run: func(cmd *cobra.Command, args []string) {
			if version, _ := cmd.Flags().GetBool("version"); version {
				versionHandler(cmd, args)
				return
			}

			cmd.Print(cmd.UsageString())
		},
	}

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
	rootCmd.PersistentFlags().String("native", "", "Native runtime to use (see 'tfbind env')")

	versionCmd := newVersionCmd()
	envCmd := newEnvCmd()
	selftestCmd := newSelftestCmd()
	trainCmd := newTrainCmd()

	// Environment-Dokumentation hinzufuegen
	envVars := envconfig.AsMap()
	runtimeEnvs := []envconfig.EnvVar{
		envVars["TFBIND_DEBUG"],
		envVars["TFBIND_NATIVE"],
		envVars["TFBIND_STRICT"],
		envVars["TFBIND_LEAK_CHECK"],
	}

	for _, cmd := range []*cobra.Command{versionCmd, selftestCmd, trainCmd} {
		switch cmd {
		case selftestCmd, trainCmd:
			appendEnvDocs(cmd, append(runtimeEnvs,
				envVars["TFBIND_RUN_TIMEOUT"],
				envVars["TFBIND_INTRA_OP_THREADS"],
				envVars["TFBIND_INTER_OP_THREADS"],
			))
		default:
			appendEnvDocs(cmd, []envconfig.EnvVar{envVars["TFBIND_NATIVE"]})
		}
	}

	rootCmd.AddCommand(
		versionCmd,
		envCmd,
		selftestCmd,
		trainCmd,
	)

	return rootCmd
}

// exitCode - Bildet Fehler auf Exit-Codes ab
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || tf.IsCode(err, tf.DeadlineExceeded) {
		return 124
	}
	return 1
}

// Main - Fuehrt das CLI aus und beendet den Prozess
func Main(cmd *cobra.Command) {
	err := cmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(exitCode(err))
}
