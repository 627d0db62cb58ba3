package cmd

import (
	"github.com/Diniboy1123/halfpipe/internal"
	"github.com/Diniboy1123/halfpipe/internal/logging"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   internal.AppName,
	Short: "Point to point IP tunnel over mutually authenticated QUIC",
	Long: "halfpipe connects two hosts with a TUN device each and forwards IP packets between them" +
		" over a single QUIC stream, authenticated on both ends by certificates from a private CA.",
	SilenceUsage: true,
	// Logging is set up from the flags first so that config loading is
	// logged too; run refines it with the config's log block.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Setup(logOptionsFromFlags(cmd, logging.Options{}))
	},
}

func Execute() error {
	return rootCmd.Execute()
}

// logOptionsFromFlags overrides opts with the flags the user set.
func logOptionsFromFlags(cmd *cobra.Command, opts logging.Options) logging.Options {
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		opts.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("json") {
		if asJSON, _ := flags.GetBool("json"); asJSON {
			opts.Format = "json"
		} else {
			opts.Format = "text"
		}
	}
	return opts
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "config.json", "path to configuration file (.json or .toml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().Bool("json", false, "log in JSON format")
}
