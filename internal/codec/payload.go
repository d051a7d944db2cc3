package codec

import "fmt"

// ResourceKind is the kind of backend resource an ACL rule applies to.
type ResourceKind string

const (
	ResourceTopic ResourceKind = "topic"
	ResourceGroup ResourceKind = "group"
)

// Operation is one ACL-controlled action.
type Operation string

const (
	OperationRead     Operation = "Read"
	OperationWrite    Operation = "Write"
	OperationDescribe Operation = "Describe"
)

// ACLRule grants one operation on one backend resource. Rules carry no
// principal; the ACL store binds them to the principal it manages.
type ACLRule struct {
	Resource  ResourceKind
	Name      string
	Operation Operation
}

// KeyMaterial is the sensitive material backing one stream's access,
// produced outside the codec (password generation, certificate issuance)
// and laid out into secret data here.
type KeyMaterial struct {
	// Password is set for SCRAM access.
	Password string
	// CertPEM, KeyPEM and CAPEM are set for TLS access.
	CertPEM []byte
	KeyPEM  []byte
	CAPEM   []byte
}

// Principal returns the authenticated identity the backend sees for the
// entity's clients under the given mode: "CN=<name>" for TLS, the bare name
// for SCRAM.
func Principal(name string, mode AccessMode) string {
	return accessProfiles[mode].principal(name)
}

// NameFromPrincipal inverts Principal for one mode. The second return is
// false when the principal is not in the mode's format, so a listing that
// mixes modes can be split without any principal landing in both.
func NameFromPrincipal(principal string, mode AccessMode) (string, bool) {
	return accessProfiles[mode].principalName(principal)
}

// ACLRules derives the rules the entity's principal needs: describe and
// read on the topic, write unless the stream is read-only, and read on the
// stream's consumer group.
func ACLRules(e *Entity) []ACLRule {
	rules := []ACLRule{
		{Resource: ResourceTopic, Name: e.TopicName, Operation: OperationDescribe},
		{Resource: ResourceTopic, Name: e.TopicName, Operation: OperationRead},
	}
	if !e.ReadOnly {
		rules = append(rules, ACLRule{Resource: ResourceTopic, Name: e.TopicName, Operation: OperationWrite})
	}
	rules = append(rules, ACLRule{Resource: ResourceGroup, Name: e.StreamName, Operation: OperationRead})
	return rules
}

// SecretData lays the key material out the way the entity's access mode
// expects it in the stream's Secret.
func SecretData(e *Entity, m *KeyMaterial) (map[string][]byte, error) {
	profile, ok := accessProfiles[e.Access]
	if !ok {
		return nil, fmt.Errorf("entity %q has no access mode", e.StreamName)
	}
	return profile.secretData(e, m), nil
}

// SecretName returns the name of the Secret holding a stream's key
// material. The prefix comes from configuration and defaults to empty.
func SecretName(prefix, streamName string) string {
	return prefix + streamName
}

func tlsSecretData(_ *Entity, m *KeyMaterial) map[string][]byte {
	return map[string][]byte{
		"ca.crt":   m.CAPEM,
		"user.crt": m.CertPEM,
		"user.key": m.KeyPEM,
	}
}

func scramSecretData(e *Entity, m *KeyMaterial) map[string][]byte {
	jaas := fmt.Sprintf(
		`org.apache.kafka.common.security.scram.ScramLoginModule required username=%q password=%q;`,
		e.StreamName, m.Password)
	return map[string][]byte{
		"password":         []byte(m.Password),
		"sasl.jaas.config": []byte(jaas),
	}
}
