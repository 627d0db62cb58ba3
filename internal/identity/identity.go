// Package identity loads the certificate, private key and trust anchor
// each tunnel peer authenticates with.
package identity

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
)

// Credential is a certificate chain together with the private key of its
// leaf. It is immutable once loaded.
type Credential struct {
	// Chain holds DER certificates, leaf first. It is never empty.
	Chain [][]byte
	Key   crypto.Signer
	Leaf  *x509.Certificate
}

// TrustAnchor is the CA certificate both peers are issued by.
type TrustAnchor struct {
	Cert *x509.Certificate
	pool *x509.CertPool
}

// Pool returns a certificate pool holding only the anchor.
func (a *TrustAnchor) Pool() *x509.CertPool {
	return a.pool
}

// Paths names the files an identity is loaded from.
type Paths struct {
	Cert string
	Key  string
	CA   string
}

// Load reads the local credential and the trust anchor.
func Load(paths Paths) (*Credential, *TrustAnchor, error) {
	cred, err := LoadCredential(paths.Cert, paths.Key)
	if err != nil {
		return nil, nil, err
	}
	anchor, err := LoadTrustAnchor(paths.CA)
	if err != nil {
		return nil, nil, err
	}
	return cred, anchor, nil
}

// LoadCredential reads a PEM certificate and a PEM private key.
func LoadCredential(certPath, keyPath string) (*Credential, error) {
	certPEM, err := readFile(certPath)
	if err != nil {
		return nil, err
	}
	keyPEM, err := readFile(keyPath)
	if err != nil {
		return nil, err
	}

	leaf, err := parseFirstCertificate(certPath, certPEM)
	if err != nil {
		return nil, err
	}
	key, err := parsePrivateKey(keyPath, keyPEM)
	if err != nil {
		return nil, err
	}
	return newCredential(leaf, key)
}

// ParseCredential is LoadCredential for in-memory PEM data.
func ParseCredential(certPEM, keyPEM []byte) (*Credential, error) {
	leaf, err := parseFirstCertificate("", certPEM)
	if err != nil {
		return nil, err
	}
	key, err := parsePrivateKey("", keyPEM)
	if err != nil {
		return nil, err
	}
	return newCredential(leaf, key)
}

// LoadTrustAnchor reads the first certificate of a PEM file as the CA.
func LoadTrustAnchor(caPath string) (*TrustAnchor, error) {
	caPEM, err := readFile(caPath)
	if err != nil {
		return nil, err
	}
	cert, err := parseFirstCertificate(caPath, caPEM)
	if err != nil {
		return nil, err
	}
	return NewTrustAnchor(cert), nil
}

// ParseTrustAnchor is LoadTrustAnchor for in-memory PEM data.
func ParseTrustAnchor(caPEM []byte) (*TrustAnchor, error) {
	cert, err := parseFirstCertificate("", caPEM)
	if err != nil {
		return nil, err
	}
	return NewTrustAnchor(cert), nil
}

// NewTrustAnchor wraps an already parsed CA certificate.
func NewTrustAnchor(cert *x509.Certificate) *TrustAnchor {
	pool := x509.NewCertPool()
	pool.AddCert(cert)
	return &TrustAnchor{Cert: cert, pool: pool}
}

func newCredential(leaf *x509.Certificate, key crypto.Signer) (*Credential, error) {
	if err := CheckKeyPair(leaf, key); err != nil {
		return nil, err
	}
	return &Credential{
		Chain: [][]byte{leaf.Raw},
		Key:   key,
		Leaf:  leaf,
	}, nil
}

// CheckKeyPair verifies that key is the private half of the leaf's
// public key.
func CheckKeyPair(leaf *x509.Certificate, key crypto.Signer) error {
	if leaf == nil {
		return newError(EmptyChain, "", ErrEmptyChain)
	}
	if key == nil {
		return newError(ParseFailure, "", errors.New("missing private key"))
	}
	pub, ok := key.Public().(interface{ Equal(crypto.PublicKey) bool })
	if !ok || !pub.Equal(leaf.PublicKey) {
		return newError(KeyMismatch, "", ErrKeyMismatch)
	}
	return nil
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, newError(NotFound, path, err)
	}
	return data, nil
}

// parseFirstCertificate returns the first CERTIFICATE block. Further
// certificates in the same file are ignored.
func parseFirstCertificate(path string, data []byte) (*x509.Certificate, error) {
	rest := data
	sawBlock := false
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		sawBlock = true
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, newError(ParseFailure, path, err)
		}
		if next, _ := pem.Decode(rest); next != nil {
			log.WithField("path", path).Debug("ignoring additional PEM blocks after the first certificate")
		}
		return cert, nil
	}
	if !sawBlock {
		return nil, newError(ParseFailure, path, errors.New("no PEM data"))
	}
	return nil, newError(EmptyChain, path, ErrEmptyChain)
}

func parsePrivateKey(path string, data []byte) (crypto.Signer, error) {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil, newError(ParseFailure, path, errors.New("no private key PEM block"))
		}

		var (
			key any
			err error
		)
		switch block.Type {
		case "PRIVATE KEY":
			key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
		case "RSA PRIVATE KEY":
			key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
		case "EC PRIVATE KEY":
			key, err = x509.ParseECPrivateKey(block.Bytes)
		default:
			continue
		}
		if err != nil {
			return nil, newError(ParseFailure, path, err)
		}
		return asSigner(path, key)
	}
}

func asSigner(path string, key any) (crypto.Signer, error) {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return k, nil
	case *ecdsa.PrivateKey:
		return k, nil
	case ed25519.PrivateKey:
		return k, nil
	}
	return nil, newError(ParseFailure, path, fmt.Errorf("unsupported private key type %T", key))
}
