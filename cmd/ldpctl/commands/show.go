package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func showCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display daemon state",
	}

	cmd.AddCommand(showSubCmd("interfaces", "Show LDP-enabled interfaces and link hello adjacencies"))
	cmd.AddCommand(showSubCmd("discovery", "Show link and targeted hello adjacencies"))
	cmd.AddCommand(showSubCmd("neighbors", "Show LDP neighbor sessions and their FSM state"))
	cmd.AddCommand(showSubCmd("lib", "Show the Label Information Base"))
	cmd.AddCommand(showSubCmd("l2vpn", "Show pseudowire bindings and status"))
	cmd.AddCommand(showSubCmd("running-config", "Show the effective running configuration"))

	return cmd
}

func showSubCmd(name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			resp, err := ctl.Call(fmt.Sprintf("show-%s", name), nil)
			if err != nil {
				return fmt.Errorf("show %s: %w", name, err)
			}
			return printResponse(resp, outputFormat)
		},
	}
}
