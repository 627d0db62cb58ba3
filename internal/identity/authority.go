package identity

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

const (
	caValidity   = 10 * 365 * 24 * time.Hour
	leafValidity = 365 * 24 * time.Hour
)

// Authority is a development certificate authority that issues the
// client and server certificates of a tunnel.
type Authority struct {
	Cert *x509.Certificate
	key  *ecdsa.PrivateKey
}

// Issued is a leaf certificate produced by an Authority.
type Issued struct {
	Cert *x509.Certificate
	Key  *ecdsa.PrivateKey
}

// NewAuthority creates a self-signed ECDSA P-256 CA.
func NewAuthority(commonName string) (*Authority, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate CA key: %w", err)
	}
	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}

	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(caValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create CA certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse CA certificate: %w", err)
	}
	return &Authority{Cert: cert, key: key}, nil
}

// Anchor returns the authority as a TrustAnchor.
func (a *Authority) Anchor() *TrustAnchor {
	return NewTrustAnchor(a.Cert)
}

// Issue signs a leaf certificate usable for both client and server auth.
// dnsNames and ips become the subject alternative names the client checks
// the server name against.
func (a *Authority) Issue(commonName string, dnsNames []string, ips []net.IP) (*Issued, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}

	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(leafValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{
			x509.ExtKeyUsageServerAuth,
			x509.ExtKeyUsageClientAuth,
		},
		DNSNames:    dnsNames,
		IPAddresses: ips,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, a.Cert, &key.PublicKey, a.key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}
	return &Issued{Cert: cert, Key: key}, nil
}

// Credential converts the issued certificate into a Credential.
func (i *Issued) Credential() *Credential {
	return &Credential{Chain: [][]byte{i.Cert.Raw}, Key: i.Key, Leaf: i.Cert}
}

// CertPEM returns the certificate PEM encoded.
func (i *Issued) CertPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: i.Cert.Raw})
}

// KeyPEM returns the private key as a PKCS#8 PEM block.
func (i *Issued) KeyPEM() ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(i.Key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// CertPEM returns the CA certificate PEM encoded.
func (a *Authority) CertPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: a.Cert.Raw})
}

// KeyPEM returns the CA private key as a SEC1 PEM block.
func (a *Authority) KeyPEM() ([]byte, error) {
	der, err := x509.MarshalECPrivateKey(a.key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil
}

// WriteFiles stores the CA as dir/ca/ca.crt and dir/ca/ca.key.
func (a *Authority) WriteFiles(dir string) error {
	keyPEM, err := a.KeyPEM()
	if err != nil {
		return err
	}
	return writePair(filepath.Join(dir, "ca"), "ca.crt", a.CertPEM(), "ca.key", keyPEM)
}

// WriteFiles stores the leaf as dir/cert.pem and dir/key.pem.
func (i *Issued) WriteFiles(dir string) error {
	keyPEM, err := i.KeyPEM()
	if err != nil {
		return err
	}
	return writePair(dir, "cert.pem", i.CertPEM(), "key.pem", keyPEM)
}

func writePair(dir, certName string, certPEM []byte, keyName string, keyPEM []byte) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, certName), certPEM, 0o644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, keyName), keyPEM, 0o600)
}

func randomSerial() (*big.Int, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}
	return serial, nil
}

// WriteDevelopmentPKI creates a CA and issues one server and one client
// certificate below dir: ca/ca.crt, server/cert.pem, client/cert.pem and
// the matching keys. The server certificate is valid for dnsNames and ips.
func WriteDevelopmentPKI(dir string, dnsNames []string, ips []net.IP) error {
	ca, err := NewAuthority("halfpipe CA")
	if err != nil {
		return err
	}
	if err := ca.WriteFiles(dir); err != nil {
		return err
	}

	server, err := ca.Issue("server", dnsNames, ips)
	if err != nil {
		return err
	}
	if err := server.WriteFiles(filepath.Join(dir, "server")); err != nil {
		return err
	}

	client, err := ca.Issue("client", nil, nil)
	if err != nil {
		return err
	}
	return client.WriteFiles(filepath.Join(dir, "client"))
}
