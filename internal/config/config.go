package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/Diniboy1123/halfpipe/internal"
	"github.com/Diniboy1123/halfpipe/internal/tlsconf"
	"github.com/Diniboy1123/halfpipe/internal/transport/quictun"
	"github.com/hashicorp/go-multierror"
)

const (
	RoleClient = "client"
	RoleServer = "server"

	StackSystem   = "system"
	StackNetstack = "netstack"
	StackEcho     = "echo"

	DefaultMTU     = 1280
	DefaultTunName = "halfpipe0"
	maxMaxPacket   = 1 << 24
)

// Duration is a time.Duration written as a string like "30s".
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// LogOptions holds the logging configuration.
type LogOptions struct {
	Level        string `json:"level" toml:"level"`
	Format       string `json:"format" toml:"format"` // "text" or "json"
	ReportCaller bool   `json:"report_caller" toml:"report-caller"`
}

// IdentityOptions names the credential files. Either Cert and Key or
// PKCS12 must be set; CA is always required.
type IdentityOptions struct {
	Cert           string `json:"cert" toml:"cert"`
	Key            string `json:"key" toml:"key"`
	CA             string `json:"ca" toml:"ca"`
	PKCS12         string `json:"pkcs12" toml:"pkcs12"`
	PKCS12Password string `json:"pkcs12_password" toml:"pkcs12-password"`
}

// ServerOptions holds the server role configuration.
type ServerOptions struct {
	Listen string `json:"listen" toml:"listen"`
}

// ClientOptions holds the client role configuration.
type ClientOptions struct {
	Remote     string `json:"remote" toml:"remote"`
	ServerName string `json:"server_name" toml:"server-name"`
	Bind       string `json:"bind" toml:"bind"`
}

// TunnelOptions tune the QUIC transport and the bridge.
type TunnelOptions struct {
	Protocol         string   `json:"protocol" toml:"protocol"`
	MaxPacket        int      `json:"max_packet" toml:"max-packet"`
	KeepAlive        Duration `json:"keepalive" toml:"keepalive"`
	IdleTimeout      Duration `json:"idle_timeout" toml:"idle-timeout"`
	HandshakeTimeout Duration `json:"handshake_timeout" toml:"handshake-timeout"`
}

// TunOptions describe the local packet channel.
type TunOptions struct {
	Stack string `json:"stack" toml:"stack"`
	Name  string `json:"name" toml:"name"`
	MTU   int    `json:"mtu" toml:"mtu"`
	// IPv4 and IPv6 are CIDR addresses assigned to the interface.
	IPv4 string `json:"ipv4" toml:"ipv4"`
	IPv6 string `json:"ipv6" toml:"ipv6"`
}

// Config is the main configuration structure for the application.
type Config struct {
	Role     string          `json:"role" toml:"role"`
	Log      LogOptions      `json:"log" toml:"log"`
	Identity IdentityOptions `json:"identity" toml:"identity"`
	Server   ServerOptions   `json:"server" toml:"server"`
	Client   ClientOptions   `json:"client" toml:"client"`
	Tunnel   TunnelOptions   `json:"tunnel" toml:"tunnel"`
	Tun      TunOptions      `json:"tun" toml:"tun"`
}

// Load parses a JSON or, for a .toml extension, TOML configuration file,
// applies defaults and validates the result.
func Load(path string) (*Config, error) {
	config, err := Read(path)
	if err != nil {
		return nil, err
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Read only parses the configuration file. Callers that override options
// call ApplyDefaults and Validate afterwards.
func Read(path string) (*Config, error) {
	var config Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.DecodeFile(path, &config); err != nil {
			return nil, err
		}
		return &config, nil
	}

	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

// ApplyDefaults fills every unset option. Identity paths default to the
// keys/ layout written by gencerts.
func (c *Config) ApplyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}

	if c.Identity.PKCS12 == "" && (c.Role == RoleClient || c.Role == RoleServer) {
		if c.Identity.Cert == "" {
			c.Identity.Cert = filepath.Join(internal.DefaultKeysDir, c.Role, "cert.pem")
		}
		if c.Identity.Key == "" {
			c.Identity.Key = filepath.Join(internal.DefaultKeysDir, c.Role, "key.pem")
		}
	}
	if c.Identity.CA == "" {
		c.Identity.CA = filepath.Join(internal.DefaultKeysDir, "ca", "ca.crt")
	}

	if c.Server.Listen == "" {
		c.Server.Listen = quictun.DefaultListenAddr
	}
	if c.Client.ServerName == "" && c.Client.Remote != "" {
		if host, _, err := net.SplitHostPort(c.Client.Remote); err == nil {
			c.Client.ServerName = host
		}
	}
	if c.Client.Bind == "" {
		c.Client.Bind = internal.EphemeralBindAddress(c.Client.Remote)
	}

	if c.Tunnel.Protocol == "" {
		c.Tunnel.Protocol = tlsconf.DefaultProtocol
	}
	if c.Tunnel.MaxPacket == 0 {
		c.Tunnel.MaxPacket = quictun.DefaultMaxPacket
	}
	if c.Tunnel.KeepAlive == 0 {
		c.Tunnel.KeepAlive = Duration(quictun.DefaultKeepAlive)
	}
	if c.Tunnel.IdleTimeout == 0 {
		c.Tunnel.IdleTimeout = Duration(quictun.DefaultIdleTimeout)
	}
	if c.Tunnel.HandshakeTimeout == 0 {
		c.Tunnel.HandshakeTimeout = Duration(quictun.DefaultHandshakeTimeout)
	}

	if c.Tun.Stack == "" {
		c.Tun.Stack = StackSystem
	}
	if c.Tun.MTU == 0 {
		c.Tun.MTU = DefaultMTU
	}
	if c.Tun.Name == "" {
		c.Tun.Name = DefaultTunName
	}
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs *multierror.Error

	switch c.Role {
	case RoleClient:
		if c.Client.Remote == "" {
			errs = multierror.Append(errs, errors.New("client.remote is required"))
		} else if err := internal.CheckHostPort(c.Client.Remote); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("client.remote: %w", err))
		}
		if c.Client.ServerName == "" {
			errs = multierror.Append(errs, errors.New("client.server_name is required"))
		}
		if err := internal.CheckHostPort(c.Client.Bind); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("client.bind: %w", err))
		}
	case RoleServer:
		if err := internal.CheckHostPort(c.Server.Listen); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("server.listen: %w", err))
		}
	default:
		errs = multierror.Append(errs, fmt.Errorf("role must be %q or %q, got %q", RoleClient, RoleServer, c.Role))
	}

	if c.Identity.PKCS12 == "" && (c.Identity.Cert == "" || c.Identity.Key == "") {
		errs = multierror.Append(errs, errors.New("identity needs cert and key, or pkcs12"))
	}

	if c.Tunnel.MaxPacket < 1 || c.Tunnel.MaxPacket > maxMaxPacket {
		errs = multierror.Append(errs, fmt.Errorf("tunnel.max_packet must be between 1 and %d", maxMaxPacket))
	}
	if c.Tun.MTU < 1 || c.Tun.MTU > c.Tunnel.MaxPacket {
		errs = multierror.Append(errs, fmt.Errorf("tun.mtu must be between 1 and tunnel.max_packet (%d)", c.Tunnel.MaxPacket))
	}

	switch c.Tun.Stack {
	case StackSystem:
		if err := internal.CheckIfname(c.Tun.Name); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("tun.name: %w", err))
		}
	case StackNetstack, StackEcho:
	default:
		errs = multierror.Append(errs, fmt.Errorf("unknown tun.stack %q", c.Tun.Stack))
	}
	for field, cidr := range map[string]string{"tun.ipv4": c.Tun.IPv4, "tun.ipv6": c.Tun.IPv6} {
		if cidr == "" {
			continue
		}
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", field, err))
		}
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		errs = multierror.Append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}

	return errs.ErrorOrNil()
}

// QuicOptions converts the tunnel options for the transport.
func (c *Config) QuicOptions() quictun.Options {
	return quictun.Options{
		KeepAlive:        time.Duration(c.Tunnel.KeepAlive),
		IdleTimeout:      time.Duration(c.Tunnel.IdleTimeout),
		HandshakeTimeout: time.Duration(c.Tunnel.HandshakeTimeout),
		MaxPacket:        c.Tunnel.MaxPacket,
	}
}
