package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	appversion "github.com/ldp-project/ldpd/internal/version"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print ldpctl build information, and the daemon's if reachable",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println(appversion.Full("ldpctl"))

			resp, err := ctl.Call("version", nil)
			if err != nil {
				fmt.Printf("daemon: unreachable (%s)\n", err)
				return
			}
			_ = printResponse(resp, outputFormat)
		},
	}
}
