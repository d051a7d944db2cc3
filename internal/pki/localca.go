package pki

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"time"

	"streamop/pkg/logging"
)

const subsystem = "pki"

const (
	clientCertValidity = 365 * 24 * time.Hour
	ephemeralCAValid   = 5 * 365 * 24 * time.Hour
)

// LocalCA signs client certificates with a single CA key it holds in
// memory.
type LocalCA struct {
	caCert *x509.Certificate
	caKey  *ecdsa.PrivateKey
	caPEM  []byte
	now    func() time.Time
}

// NewLocalCA loads the CA from the given PEM files. With empty paths it
// generates an ephemeral CA instead; certificates issued by an ephemeral CA
// do not survive a restart, which is fine for standalone runs and tests but
// means a real deployment should configure persisted CA files.
func NewLocalCA(certFile, keyFile string) (*LocalCA, error) {
	if certFile == "" && keyFile == "" {
		return generateEphemeralCA()
	}
	if certFile == "" || keyFile == "" {
		return nil, errors.New("ca cert and key files must be configured together")
	}

	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return nil, fmt.Errorf("read ca certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("read ca key: %w", err)
	}

	caCert, err := parseCertificatePEM(certPEM)
	if err != nil {
		return nil, fmt.Errorf("parse ca certificate: %w", err)
	}
	caKey, err := parseECKeyPEM(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse ca key: %w", err)
	}

	logging.Info(subsystem, "Loaded CA %q, valid until %s",
		caCert.Subject.CommonName, caCert.NotAfter.Format(time.RFC3339))
	return &LocalCA{caCert: caCert, caKey: caKey, caPEM: certPEM, now: time.Now}, nil
}

func generateEphemeralCA() (*LocalCA, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ca key: %w", err)
	}
	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "streamop-ca"},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(ephemeralCAValid),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create ca certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse ca certificate: %w", err)
	}

	logging.Warn(subsystem, "No CA configured, generated an ephemeral one")
	return &LocalCA{
		caCert: cert,
		caKey:  key,
		caPEM:  pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		now:    time.Now,
	}, nil
}

// Issue returns a certificate for commonName. An existing pair is kept while
// it verifies against the CA, names the same subject and has at least a
// third of its validity window left; otherwise a fresh pair is signed.
func (ca *LocalCA) Issue(_ context.Context, commonName string, existing *KeyPair) (*KeyPair, error) {
	if existing != nil && ca.reusable(commonName, existing) {
		logging.Debug(subsystem, "Reusing certificate for %s", commonName)
		// The CA PEM is refreshed so a rotated CA file propagates into
		// secrets even when the client certificate itself is kept.
		kept := *existing
		kept.CAPEM = ca.caPEM
		return &kept, nil
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key for %q: %w", commonName, err)
	}
	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}
	now := ca.now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    now.Add(-5 * time.Minute),
		NotAfter:     now.Add(clientCertValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, ca.caCert, &key.PublicKey, ca.caKey)
	if err != nil {
		return nil, fmt.Errorf("sign certificate for %q: %w", commonName, err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("encode key for %q: %w", commonName, err)
	}

	logging.Info(subsystem, "Issued certificate for %s", commonName)
	return &KeyPair{
		CertPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		KeyPEM:  pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}),
		CAPEM:   ca.caPEM,
	}, nil
}

// CAPEM returns the CA certificate in PEM form.
func (ca *LocalCA) CAPEM() []byte {
	return ca.caPEM
}

func (ca *LocalCA) reusable(commonName string, existing *KeyPair) bool {
	cert, err := parseCertificatePEM(existing.CertPEM)
	if err != nil {
		return false
	}
	if cert.Subject.CommonName != commonName {
		return false
	}
	if err := cert.CheckSignatureFrom(ca.caCert); err != nil {
		return false
	}
	now := ca.now()
	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		return false
	}
	total := cert.NotAfter.Sub(cert.NotBefore)
	remaining := cert.NotAfter.Sub(now)
	return remaining >= total/3
}

func parseCertificatePEM(pemBytes []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, errors.New("no certificate block")
	}
	return x509.ParseCertificate(block.Bytes)
}

func parseECKeyPEM(pemBytes []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no key block")
	}
	switch block.Type {
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		ecKey, ok := key.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("unsupported key type %T", key)
		}
		return ecKey, nil
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	default:
		return nil, fmt.Errorf("unsupported key block %q", block.Type)
	}
}

func randomSerial() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	serial, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}
	return serial, nil
}
