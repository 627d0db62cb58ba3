package cmd

import (
	"github.com/Diniboy1123/halfpipe/internal"
	"github.com/Diniboy1123/halfpipe/internal/tlsconf"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("%s %s (protocol %s)\n", internal.AppName, internal.Version, tlsconf.DefaultProtocol)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
