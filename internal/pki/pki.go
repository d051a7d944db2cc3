// Package pki issues the client certificates behind TLS access and
// generates SCRAM passwords. The Issuer interface is the seam; LocalCA is
// the shipped implementation, signing with a CA loaded from disk or
// generated at startup.
package pki

import "context"

// KeyPair is one issued client identity: the certificate, its private key
// and the CA certificate clients need to trust, all PEM-encoded.
type KeyPair struct {
	CertPEM []byte
	KeyPEM  []byte
	CAPEM   []byte
}

// Issuer hands out client certificates. An existing pair may be passed in;
// the issuer returns it unchanged while it still verifies and has enough
// validity left, so converged streams keep their material across
// reconciliations.
type Issuer interface {
	Issue(ctx context.Context, commonName string, existing *KeyPair) (*KeyPair, error)
}
