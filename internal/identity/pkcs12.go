package identity

import (
	"errors"

	"software.sslmate.com/src/go-pkcs12"
)

// LoadPKCS12 reads a credential from a PKCS#12 bundle. CA certificates in
// the bundle are appended to the chain; the trust anchor is still loaded
// separately.
func LoadPKCS12(path, password string) (*Credential, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}

	key, leaf, caCerts, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		return nil, newError(ParseFailure, path, err)
	}
	if leaf == nil {
		return nil, newError(EmptyChain, path, ErrEmptyChain)
	}
	signer, err := asSigner(path, key)
	if err != nil {
		return nil, err
	}

	cred, err := newCredential(leaf, signer)
	if err != nil {
		var ce *CredentialError
		if errors.As(err, &ce) {
			ce.Path = path
		}
		return nil, err
	}
	for _, ca := range caCerts {
		cred.Chain = append(cred.Chain, ca.Raw)
	}
	return cred, nil
}
