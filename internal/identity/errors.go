package identity

import (
	"errors"
	"fmt"
)

// Kind classifies a CredentialError.
type Kind int

const (
	// NotFound means a credential file could not be read.
	NotFound Kind = iota + 1
	// ParseFailure means a file was read but holds no usable PEM/DER data.
	ParseFailure
	// EmptyChain means a certificate file holds no certificate at all.
	EmptyChain
	// KeyMismatch means the private key does not belong to the certificate.
	KeyMismatch
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not found"
	case ParseFailure:
		return "parse failure"
	case EmptyChain:
		return "empty chain"
	case KeyMismatch:
		return "key mismatch"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Sentinels matching each Kind, usable with errors.Is.
var (
	ErrNotFound     = errors.New("credential not found")
	ErrParseFailure = errors.New("credential parse failure")
	ErrEmptyChain   = errors.New("credential has empty certificate chain")
	ErrKeyMismatch  = errors.New("private key does not match certificate")
)

// CredentialError is returned by every loader in this package.
type CredentialError struct {
	Kind Kind
	Path string
	Err  error
}

func (e *CredentialError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("identity: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("identity: %s: %s: %v", e.Kind, e.Path, e.Err)
}

func (e *CredentialError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e.Kind.
func (e *CredentialError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == NotFound
	case ErrParseFailure:
		return e.Kind == ParseFailure
	case ErrEmptyChain:
		return e.Kind == EmptyChain
	case ErrKeyMismatch:
		return e.Kind == KeyMismatch
	}
	return false
}

func newError(kind Kind, path string, err error) *CredentialError {
	return &CredentialError{Kind: kind, Path: path, Err: err}
}
