package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Diniboy1123/halfpipe/internal/config"
	"github.com/Diniboy1123/halfpipe/internal/core"
	"github.com/Diniboy1123/halfpipe/internal/logging"
	"github.com/Diniboy1123/halfpipe/internal/tlsconf"
	"github.com/Diniboy1123/halfpipe/internal/tunnel"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run halfpipe with a configuration file",
	Long:  `Starts the client or server tunnel, depending on the role in the JSON or TOML configuration file.`,
	Run: func(cmd *cobra.Command, args []string) {
		runWithRole(cmd, "")
	},
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the tunnel server",
	Long:  `Same as run, with the role forced to server.`,
	Run: func(cmd *cobra.Command, args []string) {
		runWithRole(cmd, config.RoleServer)
	},
}

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Run the tunnel client",
	Long:  `Same as run, with the role forced to client.`,
	Run: func(cmd *cobra.Command, args []string) {
		runWithRole(cmd, config.RoleClient)
	},
}

// loadConfig reads the config file and applies the command line overrides.
func loadConfig(cmd *cobra.Command, role string) (*config.Config, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	if configPath == "" {
		return nil, fmt.Errorf("a configuration file must be provided via the --config or -c flag")
	}

	conf, err := config.Read(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from %s: %w", configPath, err)
	}

	if role != "" {
		conf.Role = role
	}
	if cmd.Flags().Changed("remote") {
		conf.Client.Remote, _ = cmd.Flags().GetString("remote")
	}
	if cmd.Flags().Changed("listen") {
		conf.Server.Listen, _ = cmd.Flags().GetString("listen")
	}
	conf.ApplyDefaults()
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func runWithRole(cmd *cobra.Command, role string) {
	conf, err := loadConfig(cmd, role)
	if err != nil {
		log.Fatal(err)
	}

	logOpts := logOptionsFromFlags(cmd, logging.Options{
		Level:        conf.Log.Level,
		Format:       conf.Log.Format,
		ReportCaller: conf.Log.ReportCaller,
	})
	if err := logging.Setup(logOpts); err != nil {
		log.Fatalf("Invalid log configuration: %v", err)
	}

	if err := tlsconf.InstallProvider(tlsconf.DefaultProvider); err != nil {
		log.Fatalf("Failed to install crypto provider: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var inbound core.Inbound
	switch conf.Role {
	case config.RoleServer:
		inbound = tunnel.NewServer(ctx, conf, tunnel.Options{})
	case config.RoleClient:
		inbound = tunnel.NewClient(ctx, conf, tunnel.Options{})
	}

	if err := inbound.Start(); err != nil {
		log.Fatalf("Failed to start %s: %v", inbound.Tag(), err)
	}
	log.WithField("role", conf.Role).Info("Application started successfully")

	// Wait for shutdown signal or for the tunnel to end on its own
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		log.WithField("signal", sig.String()).Info("Shutting down...")
		if err := inbound.Close(); err != nil {
			log.WithError(err).Errorf("Error closing %s", inbound.Tag())
		}
	case <-inbound.Done():
	}

	if err := inbound.Err(); err != nil {
		log.Fatalf("Tunnel failed: %v", err)
	}
}

func init() {
	for _, c := range []*cobra.Command{runCmd, serverCmd, clientCmd} {
		rootCmd.AddCommand(c)
	}
	clientCmd.Flags().String("remote", "", "server address, overrides client.remote")
	runCmd.Flags().String("remote", "", "server address, overrides client.remote")
	serverCmd.Flags().String("listen", "", "listen address, overrides server.listen")
	runCmd.Flags().String("listen", "", "listen address, overrides server.listen")
}
