package cmd

import (
	"net"
	"path/filepath"

	"github.com/Diniboy1123/halfpipe/internal"
	"github.com/Diniboy1123/halfpipe/internal/identity"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var gencertsCmd = &cobra.Command{
	Use:   "gencerts",
	Short: "Generate a development CA with a server and a client certificate",
	Long: "Writes ca/ca.crt, server/{cert,key}.pem and client/{cert,key}.pem below the output directory," +
		" the layout the default configuration expects. Meant for testing, not for production keys.",
	Run: func(cmd *cobra.Command, args []string) {
		dir, err := cmd.Flags().GetString("out")
		if err != nil {
			log.Fatalf("Failed to get output directory: %v", err)
		}
		dnsNames, err := cmd.Flags().GetStringSlice("dns")
		if err != nil {
			log.Fatalf("Failed to get DNS names: %v", err)
		}
		ipStrings, err := cmd.Flags().GetStringSlice("ip")
		if err != nil {
			log.Fatalf("Failed to get IP addresses: %v", err)
		}

		var ips []net.IP
		for _, s := range ipStrings {
			ip := net.ParseIP(s)
			if ip == nil {
				log.Fatalf("Invalid IP address %q", s)
			}
			ips = append(ips, ip)
		}

		if err := identity.WriteDevelopmentPKI(dir, dnsNames, ips); err != nil {
			log.Fatalf("Failed to write certificates: %v", err)
		}
		log.WithFields(log.Fields{
			"ca":     filepath.Join(dir, "ca", "ca.crt"),
			"server": filepath.Join(dir, "server"),
			"client": filepath.Join(dir, "client"),
		}).Info("Certificates written")
	},
}

func init() {
	gencertsCmd.Flags().StringP("out", "o", internal.DefaultKeysDir, "output directory")
	gencertsCmd.Flags().StringSlice("dns", []string{"localhost"}, "DNS names of the server certificate")
	gencertsCmd.Flags().StringSlice("ip", []string{"127.0.0.1", "::1"}, "IP addresses of the server certificate")
	rootCmd.AddCommand(gencertsCmd)
}
