package tunnel

import (
	"context"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/Diniboy1123/halfpipe/internal/config"
	"github.com/Diniboy1123/halfpipe/internal/identity"
	"github.com/Diniboy1123/halfpipe/internal/stack"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testServerName = "localhost"

// writeKeys stores a development PKI in a temp dir and returns the dir.
func writeKeys(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, identity.WriteDevelopmentPKI(dir, []string{testServerName}, []net.IP{net.IPv4(127, 0, 0, 1)}))
	return dir
}

func identityFor(keys, role string) config.IdentityOptions {
	return config.IdentityOptions{
		Cert: filepath.Join(keys, role, "cert.pem"),
		Key:  filepath.Join(keys, role, "key.pem"),
		CA:   filepath.Join(keys, "ca", "ca.crt"),
	}
}

func serverConfig(t *testing.T, keys, stackType string) *config.Config {
	t.Helper()
	c := &config.Config{
		Role:     config.RoleServer,
		Identity: identityFor(keys, config.RoleServer),
		Server:   config.ServerOptions{Listen: "127.0.0.1:0"},
		Tun:      config.TunOptions{Stack: stackType, IPv4: "10.0.18.1/24"},
	}
	c.ApplyDefaults()
	require.NoError(t, c.Validate())
	return c
}

func clientConfig(t *testing.T, keys, remote, stackType string) *config.Config {
	t.Helper()
	c := &config.Config{
		Role:     config.RoleClient,
		Identity: identityFor(keys, config.RoleClient),
		Client: config.ClientOptions{
			Remote:     remote,
			ServerName: testServerName,
			Bind:       "127.0.0.1:0",
		},
		Tun: config.TunOptions{Stack: stackType, IPv4: "10.0.18.2/24"},
	}
	c.ApplyDefaults()
	require.NoError(t, c.Validate())
	return c
}

func startServer(t *testing.T, conf *config.Config) *Server {
	t.Helper()
	server := NewServer(context.Background(), conf, Options{})
	require.NoError(t, server.Start())
	t.Cleanup(func() { _ = server.Close() })
	return server
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("service did not stop")
	}
}

func TestEchoEndToEnd(t *testing.T) {
	keys := writeKeys(t)
	server := startServer(t, serverConfig(t, keys, config.StackEcho))

	tunSide, local := stack.Pipe(16)
	client := NewClient(context.Background(), clientConfig(t, keys, server.Addr(), config.StackSystem), Options{Stack: tunSide})
	require.NoError(t, client.Start())
	defer client.Close()

	require.NoError(t, local.WritePacket([]byte("why hello there")))
	buf := make([]byte, 1500)
	n, err := local.ReadPacket(buf)
	require.NoError(t, err)
	assert.Equal(t, "why hello there", string(buf[:n]))
	assert.Equal(t, 1, server.Sessions())

	// end of data on the local side finishes the tunnel in both directions
	require.NoError(t, local.CloseWrite())
	_, err = local.ReadPacket(buf)
	assert.ErrorIs(t, err, io.EOF)

	waitDone(t, client.Done())
	assert.NoError(t, client.Err())
	require.Eventually(t, func() bool { return server.Sessions() == 0 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, server.Close())
	waitDone(t, server.Done())
	assert.NoError(t, server.Err())
}

func TestServerShutdownEndsClient(t *testing.T) {
	keys := writeKeys(t)
	server := startServer(t, serverConfig(t, keys, config.StackEcho))

	client := NewClient(context.Background(), clientConfig(t, keys, server.Addr(), config.StackEcho), Options{})
	require.NoError(t, client.Start())
	defer client.Close()
	require.Eventually(t, func() bool { return server.Sessions() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, server.Close())
	waitDone(t, client.Done())
	assert.NoError(t, client.Err())
}

func TestSecondConnectionOnSharedStackWarns(t *testing.T) {
	keys := writeKeys(t)
	logger, hook := test.NewNullLogger()
	tunSide, _ := stack.Pipe(16)
	server := NewServer(context.Background(), serverConfig(t, keys, config.StackEcho), Options{
		Stack: tunSide,
		Log:   log.NewEntry(logger),
	})
	require.NoError(t, server.Start())
	t.Cleanup(func() { _ = server.Close() })

	warnings := func() int {
		n := 0
		for _, e := range hook.AllEntries() {
			if e.Level == log.WarnLevel && e.Data["sessions"] == 2 {
				n++
			}
		}
		return n
	}

	first := NewClient(context.Background(), clientConfig(t, keys, server.Addr(), config.StackEcho), Options{})
	require.NoError(t, first.Start())
	defer first.Close()
	require.Eventually(t, func() bool { return server.Sessions() == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Zero(t, warnings())

	second := NewClient(context.Background(), clientConfig(t, keys, server.Addr(), config.StackEcho), Options{})
	require.NoError(t, second.Start())
	defer second.Close()
	require.Eventually(t, func() bool { return warnings() == 1 }, 5*time.Second, 10*time.Millisecond)
}

func TestClientFromForeignCAIsRejected(t *testing.T) {
	server := startServer(t, serverConfig(t, writeKeys(t), config.StackEcho))

	// the client's certificate and trust anchor come from another CA
	foreign := writeKeys(t)
	conf := clientConfig(t, foreign, server.Addr(), config.StackEcho)

	client := NewClient(context.Background(), conf, Options{})
	err := client.Start()
	defer client.Close()
	if err == nil {
		waitDone(t, client.Done())
		assert.Error(t, client.Err())
	}
	assert.Equal(t, 0, server.Sessions())
}

func TestStartFailsWithoutIdentity(t *testing.T) {
	conf := serverConfig(t, t.TempDir(), config.StackEcho)
	server := NewServer(context.Background(), conf, Options{})

	err := server.Start()
	assert.ErrorIs(t, err, identity.ErrNotFound)
	assert.NoError(t, server.Close())
	waitDone(t, server.Done())
}

func TestNetstackTCPThroughTunnel(t *testing.T) {
	keys := writeKeys(t)
	server := startServer(t, serverConfig(t, keys, config.StackNetstack))
	require.NotNil(t, server.Net())

	ln, err := server.Net().ListenTCP(&net.TCPAddr{IP: net.IPv4(10, 0, 18, 1), Port: 8080})
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = io.Copy(conn, conn)
	}()

	client := NewClient(context.Background(), clientConfig(t, keys, server.Addr(), config.StackNetstack), Options{})
	require.NoError(t, client.Start())
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, err := client.Net().DialContextTCP(ctx, &net.TCPAddr{IP: net.IPv4(10, 0, 18, 1), Port: 8080})
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetDeadline(time.Now().Add(10*time.Second)))
	_, err = conn.Write([]byte("why hello there"))
	require.NoError(t, err)
	buf := make([]byte, len("why hello there"))
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "why hello there", string(buf))
}

func TestTunAddresses(t *testing.T) {
	addrs, err := tunAddresses(config.TunOptions{IPv4: "10.0.18.2/24", IPv6: "fd00::2/64"})
	require.NoError(t, err)
	require.Len(t, addrs, 2)
	assert.Equal(t, "10.0.18.2", addrs[0].String())
	assert.Equal(t, "fd00::2", addrs[1].String())

	_, err = tunAddresses(config.TunOptions{IPv4: "10.0.18.2"})
	assert.Error(t, err)
}
