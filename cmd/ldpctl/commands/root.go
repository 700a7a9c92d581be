// Package commands implements the ldpctl CLI commands.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ldp-project/ldpd/internal/control"
)

var (
	// ctl is the control-socket client, initialized in PersistentPreRunE.
	ctl *control.Client

	// outputFormat controls the output format for all commands (table or json).
	outputFormat string

	// socketPath is the ldpd control socket path.
	socketPath string
)

var rootCmd = &cobra.Command{
	Use:   "ldpctl",
	Short: "CLI client for the ldpd daemon",
	Long:  "ldpctl communicates with the ldpd control socket to inspect and manage a running daemon.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		ctl = control.NewClient(socketPath)
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "/var/run/ldpd.sock",
		"ldpd control socket path")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")

	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(reloadCmd())
	rootCmd.AddCommand(fibCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(versionCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
