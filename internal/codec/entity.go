// Package codec translates Stream resources into the canonical in-memory
// entity the reconciliation engine works with, and from there into the
// payloads each backing store expects: the persisted record format, the
// secret key material layout, the ACL rule set and the principal name.
//
// The package is pure: nothing in it performs I/O or touches the cluster.
package codec

import (
	"fmt"
	"strings"
)

// AccessMode is the authentication mode of a stream's principal. The set of
// modes is closed; every mode has a registered profile (see accessProfiles)
// that decides its principal format and its secret layout.
type AccessMode string

const (
	// AccessTLS authenticates clients with mutual TLS.
	AccessTLS AccessMode = "tls"
	// AccessScramSHA512 authenticates clients with SCRAM-SHA-512.
	AccessScramSHA512 AccessMode = "scram-sha-512"
)

// Entity is the validated, store-agnostic representation of one stream.
// It lives for the duration of a single reconciliation.
type Entity struct {
	// StreamName is the name of the Stream resource the entity came from.
	// Empty for entities built from a live backend view.
	StreamName string
	// TopicName is the resolved name of the backing topic.
	TopicName  string
	Partitions int32
	Replicas   int16
	// Config holds the operator-managed topic configuration, values
	// stringified from their scalar form.
	Config map[string]string
	// Access is empty for entities built from a live backend view or from
	// a persisted record that predates access tracking.
	Access   AccessMode
	ReadOnly bool
}

// accessProfile is the per-mode behavior bundle. Modes are dispatched
// through this static table, never through type inspection.
type accessProfile struct {
	principal     func(name string) string
	principalName func(principal string) (string, bool)
	secretData    func(e *Entity, m *KeyMaterial) map[string][]byte
}

var accessProfiles = map[AccessMode]accessProfile{
	AccessTLS: {
		principal:     func(name string) string { return "CN=" + name },
		principalName: tlsPrincipalName,
		secretData:    tlsSecretData,
	},
	AccessScramSHA512: {
		principal:     func(name string) string { return name },
		principalName: scramPrincipalName,
		secretData:    scramSecretData,
	},
}

func tlsPrincipalName(principal string) (string, bool) {
	name, ok := strings.CutPrefix(principal, "CN=")
	if !ok || name == "" {
		return "", false
	}
	return name, true
}

func scramPrincipalName(principal string) (string, bool) {
	// Anything in another mode's format is not a SCRAM principal.
	if principal == "" || strings.HasPrefix(principal, "CN=") {
		return "", false
	}
	return principal, true
}

// AccessModes returns the closed set of supported modes in stable order.
func AccessModes() []AccessMode {
	return []AccessMode{AccessTLS, AccessScramSHA512}
}

// ParseAccessMode resolves a spec.access.type value against the registry.
func ParseAccessMode(s string) (AccessMode, error) {
	mode := AccessMode(s)
	if _, ok := accessProfiles[mode]; !ok {
		return "", fmt.Errorf("unsupported access type %q, expected one of %s: %w",
			s, joinModes(), ErrValidation)
	}
	return mode, nil
}

// ValidateAccessModes checks the registry for completeness. Called once at
// startup so a half-registered mode fails the process early instead of the
// first reconciliation that hits it.
func ValidateAccessModes() error {
	for _, mode := range AccessModes() {
		profile, ok := accessProfiles[mode]
		if !ok {
			return fmt.Errorf("access mode %q has no registered profile", mode)
		}
		if profile.principal == nil || profile.principalName == nil || profile.secretData == nil {
			return fmt.Errorf("access mode %q has an incomplete profile", mode)
		}
	}
	return nil
}

func joinModes() string {
	modes := AccessModes()
	parts := make([]string, len(modes))
	for i, m := range modes {
		parts[i] = string(m)
	}
	return strings.Join(parts, ", ")
}
