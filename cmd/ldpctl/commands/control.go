package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func reloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Reload the daemon's configuration file",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			resp, err := ctl.Call("reload", nil)
			if err != nil {
				return fmt.Errorf("reload: %w", err)
			}
			return printResponse(resp, outputFormat)
		},
	}
}

func fibCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fib",
		Short: "Couple or decouple pseudowire forwarding with the kernel FIB",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "couple <pw-name>",
		Short: "Couple a pseudowire's forwarding state to the kernel FIB",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			resp, err := ctl.Call("fib-couple", map[string]string{"pw": args[0]})
			if err != nil {
				return fmt.Errorf("fib couple: %w", err)
			}
			return printResponse(resp, outputFormat)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "decouple <pw-name>",
		Short: "Decouple a pseudowire's forwarding state from the kernel FIB",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			resp, err := ctl.Call("fib-decouple", map[string]string{"pw": args[0]})
			if err != nil {
				return fmt.Errorf("fib decouple: %w", err)
			}
			return printResponse(resp, outputFormat)
		},
	})

	return cmd
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Adjust daemon log verbosity",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "verbosity <level>",
		Short: "Set the running log level (debug|info|warn|error)",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			resp, err := ctl.Call("log-verbosity", map[string]string{"level": args[0]})
			if err != nil {
				return fmt.Errorf("log verbosity: %w", err)
			}
			return printResponse(resp, outputFormat)
		},
	})

	return cmd
}
