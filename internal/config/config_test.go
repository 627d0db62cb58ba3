package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadJSONDefaults(t *testing.T) {
	path := writeFile(t, "config.json", `{"role": "server"}`)

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:4444", c.Server.Listen)
	assert.Equal(t, filepath.Join("keys", "server", "cert.pem"), c.Identity.Cert)
	assert.Equal(t, filepath.Join("keys", "server", "key.pem"), c.Identity.Key)
	assert.Equal(t, filepath.Join("keys", "ca", "ca.crt"), c.Identity.CA)
	assert.Equal(t, "hq-29", c.Tunnel.Protocol)
	assert.Equal(t, 65536, c.Tunnel.MaxPacket)
	assert.Equal(t, StackSystem, c.Tun.Stack)
	assert.Equal(t, DefaultMTU, c.Tun.MTU)
	assert.Equal(t, "info", c.Log.Level)
	assert.Equal(t, "text", c.Log.Format)
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "config.toml", `
role = "client"

[log]
level = "debug"
format = "json"

[client]
remote = "[2001:db8::1]:4444"
server-name = "tunnel.example"

[tunnel]
max-packet = 2000
idle-timeout = "1m"

[tun]
stack = "netstack"
mtu = 1400
ipv4 = "10.0.18.21/24"
`)

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, RoleClient, c.Role)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, "json", c.Log.Format)
	assert.Equal(t, "tunnel.example", c.Client.ServerName)
	assert.Equal(t, "[::]:0", c.Client.Bind)
	assert.Equal(t, 2000, c.Tunnel.MaxPacket)
	assert.Equal(t, Duration(time.Minute), c.Tunnel.IdleTimeout)
	assert.Equal(t, StackNetstack, c.Tun.Stack)

	opts := c.QuicOptions()
	assert.Equal(t, time.Minute, opts.IdleTimeout)
	assert.Equal(t, 2000, opts.MaxPacket)
}

func TestServerNameDefaultsToRemoteHost(t *testing.T) {
	path := writeFile(t, "config.json", `{"role": "client", "client": {"remote": "vpn.example.org:4444"}}`)

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "vpn.example.org", c.Client.ServerName)
	assert.Equal(t, "0.0.0.0:0", c.Client.Bind)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	c := &Config{
		Role: "client",
		Tun:  TunOptions{Stack: "carrier-pigeon", IPv4: "not-a-cidr"},
		Log:  LogOptions{Format: "xml"},
	}
	c.ApplyDefaults()
	c.Tun.MTU = 70000

	err := c.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "client.remote is required")
	assert.Contains(t, msg, "tun.mtu")
	assert.Contains(t, msg, "unknown tun.stack")
	assert.Contains(t, msg, "tun.ipv4")
	assert.Contains(t, msg, "unknown log.format")
}

func TestValidateRole(t *testing.T) {
	c := &Config{}
	c.ApplyDefaults()
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "role must be")
}

func TestPKCS12SkipsPEMDefaults(t *testing.T) {
	path := writeFile(t, "config.json", `{"role": "server", "identity": {"pkcs12": "server.p12"}}`)

	c, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, c.Identity.Cert)
	assert.Empty(t, c.Identity.Key)
	assert.Equal(t, "server.p12", c.Identity.PKCS12)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDurationText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1500ms")))
	assert.Equal(t, Duration(1500*time.Millisecond), d)

	out, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1.5s", string(out))

	assert.Error(t, d.UnmarshalText([]byte("soon")))
}

func TestReadThenOverride(t *testing.T) {
	path := writeFile(t, "config.json", `{"client": {"remote": "192.0.2.1:4444"}}`)

	c, err := Read(path)
	require.NoError(t, err)
	assert.Empty(t, c.Role)

	c.Role = RoleClient
	c.Client.Remote = "[2001:db8::7]:4444"
	c.ApplyDefaults()
	require.NoError(t, c.Validate())
	assert.Equal(t, "2001:db8::7", c.Client.ServerName)
	assert.Equal(t, "[::]:0", c.Client.Bind)
}
