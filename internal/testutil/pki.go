// Package testutil provides certificate material for tests that run real
// QUIC handshakes over loopback.
package testutil

import (
	"crypto/tls"
	"net"
	"testing"

	"github.com/Diniboy1123/halfpipe/internal/identity"
	"github.com/Diniboy1123/halfpipe/internal/tlsconf"
	"github.com/stretchr/testify/require"
)

// ServerName is the DNS name every server certificate from PKI is valid for.
const ServerName = "halfpipe.test"

// PKI is a throwaway CA with one server and one client credential.
type PKI struct {
	CA     *identity.Authority
	Server *identity.Credential
	Client *identity.Credential
}

// NewPKI creates a fresh CA and issues a server and a client certificate.
func NewPKI(t testing.TB) *PKI {
	t.Helper()

	ca, err := identity.NewAuthority("halfpipe test CA")
	require.NoError(t, err)
	server, err := ca.Issue("server", []string{ServerName, "localhost"}, []net.IP{net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	client, err := ca.Issue("client", nil, nil)
	require.NoError(t, err)

	return &PKI{CA: ca, Server: server.Credential(), Client: client.Credential()}
}

// Anchor returns the CA as trust anchor.
func (p *PKI) Anchor() *identity.TrustAnchor {
	return p.CA.Anchor()
}

// ServerTLS builds the server side configuration.
func (p *PKI) ServerTLS(t testing.TB, protocol string) *tls.Config {
	t.Helper()
	conf, err := tlsconf.Build(tlsconf.RoleServer, p.Server, p.Anchor(), protocol)
	require.NoError(t, err)
	return conf
}

// ClientTLS builds the client side configuration.
func (p *PKI) ClientTLS(t testing.TB, protocol string) *tls.Config {
	t.Helper()
	conf, err := tlsconf.Build(tlsconf.RoleClient, p.Client, p.Anchor(), protocol)
	require.NoError(t, err)
	return conf
}
