package tlsconf

import (
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
)

// ErrProviderConflict is returned when a second, different crypto provider
// is installed.
var ErrProviderConflict = errors.New("tlsconf: a different crypto provider is already installed")

// Provider selects the key exchange groups every TLS context built by this
// package offers. Exactly one provider is installed per process.
type Provider struct {
	Name   string
	Curves []tls.CurveID
}

// DefaultProvider prefers the hybrid post-quantum group and falls back to
// the classic ones.
var DefaultProvider = Provider{
	Name: "go-default",
	Curves: []tls.CurveID{
		tls.X25519MLKEM768,
		tls.X25519,
		tls.CurveP256,
	},
}

var (
	providerMu sync.Mutex
	installed  *Provider
)

// InstallProvider installs p as the process wide crypto provider. Installing
// the same provider again is a no-op; installing a different one fails.
func InstallProvider(p Provider) error {
	if p.Name == "" {
		return errors.New("tlsconf: provider without a name")
	}

	providerMu.Lock()
	defer providerMu.Unlock()

	if installed == nil {
		cp := p
		cp.Curves = append([]tls.CurveID(nil), p.Curves...)
		installed = &cp
		return nil
	}
	if installed.Name != p.Name {
		return fmt.Errorf("%w: have %q, got %q", ErrProviderConflict, installed.Name, p.Name)
	}
	return nil
}

// installedProvider returns the installed provider, installing
// DefaultProvider first if nothing was installed yet.
func installedProvider() Provider {
	providerMu.Lock()
	defer providerMu.Unlock()

	if installed == nil {
		cp := DefaultProvider
		installed = &cp
	}
	return *installed
}
