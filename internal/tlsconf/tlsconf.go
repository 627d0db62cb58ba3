// Package tlsconf builds the mutually authenticated TLS configurations
// used by both ends of the tunnel.
package tlsconf

import (
	"crypto/tls"
	"errors"
	"fmt"
	"strings"

	"github.com/Diniboy1123/halfpipe/internal/identity"
)

// DefaultProtocol is the application protocol token negotiated via ALPN.
// Both peers must use the same token.
const DefaultProtocol = "hq-29"

// Role selects which side of the handshake a configuration is for.
type Role int

const (
	RoleClient Role = iota + 1
	RoleServer
)

func (r Role) String() string {
	switch r {
	case RoleClient:
		return "client"
	case RoleServer:
		return "server"
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// TLSConfigError reports why a TLS configuration could not be built.
type TLSConfigError struct {
	Reason string
	Err    error
}

func (e *TLSConfigError) Error() string {
	if e.Err == nil {
		return "tlsconf: " + e.Reason
	}
	return fmt.Sprintf("tlsconf: %s: %v", e.Reason, e.Err)
}

func (e *TLSConfigError) Unwrap() error {
	return e.Err
}

// Build returns a TLS configuration for role that presents cred and only
// accepts peers whose certificate chains up to anchor. The client side
// additionally checks the server name set on the returned config (or by
// the dialer) against the server certificate.
func Build(role Role, cred *identity.Credential, anchor *identity.TrustAnchor, protocol string) (*tls.Config, error) {
	if err := validateProtocol(protocol); err != nil {
		return nil, err
	}
	if cred == nil || len(cred.Chain) == 0 || cred.Leaf == nil {
		return nil, &TLSConfigError{Reason: "credential without certificate", Err: identity.ErrEmptyChain}
	}
	if anchor == nil || anchor.Cert == nil {
		return nil, &TLSConfigError{Reason: "missing trust anchor"}
	}
	if err := identity.CheckKeyPair(cred.Leaf, cred.Key); err != nil {
		return nil, &TLSConfigError{Reason: "credential key does not match certificate", Err: err}
	}

	provider := installedProvider()
	conf := &tls.Config{
		Certificates: []tls.Certificate{{
			Certificate: cred.Chain,
			PrivateKey:  cred.Key,
			Leaf:        cred.Leaf,
		}},
		NextProtos:       []string{protocol},
		MinVersion:       tls.VersionTLS13,
		CurvePreferences: provider.Curves,
	}

	switch role {
	case RoleClient:
		conf.RootCAs = anchor.Pool()
	case RoleServer:
		conf.ClientAuth = tls.RequireAndVerifyClientCert
		conf.ClientCAs = anchor.Pool()
	default:
		return nil, &TLSConfigError{Reason: "unknown role " + role.String()}
	}
	return conf, nil
}

// validateProtocol enforces the ALPN limits of RFC 7301.
func validateProtocol(protocol string) error {
	switch {
	case protocol == "":
		return &TLSConfigError{Reason: "empty application protocol token"}
	case len(protocol) > 255:
		return &TLSConfigError{Reason: "application protocol token longer than 255 bytes"}
	case strings.ContainsRune(protocol, 0):
		return &TLSConfigError{Reason: "unsupported application protocol token", Err: errors.New("contains NUL byte")}
	}
	return nil
}
