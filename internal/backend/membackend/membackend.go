// Package membackend is the embedded messaging backend: SCRAM credentials,
// ACL bindings and topic descriptions held in process memory. It serves
// standalone deployments that have no external cluster, and it is the
// backend the engine's own tests converge against. Every method is safe for
// concurrent use.
package membackend

import (
	"context"
	"slices"
	"sync"

	"streamop/internal/codec"
)

// Backend implements the credential and ACL seams of the stores plus topic
// description for drift checks.
type Backend struct {
	mu          sync.Mutex
	credentials map[string]string
	acls        map[string][]codec.ACLRule
	topics      map[string]codec.BackendDescription
	mutations   int
}

// New creates an empty backend.
func New() *Backend {
	return &Backend{
		credentials: map[string]string{},
		acls:        map[string][]codec.ACLRule{},
		topics:      map[string]codec.BackendDescription{},
	}
}

// HasCredential reports whether user's stored credential verifies password.
func (b *Backend) HasCredential(_ context.Context, user, password string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	stored, ok := b.credentials[user]
	return ok && stored == password, nil
}

// SetCredential stores user's credential.
func (b *Backend) SetCredential(_ context.Context, user, password string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.credentials[user] = password
	b.mutations++
	return nil
}

// DeleteCredential removes user's credential. Unknown users are fine.
func (b *Backend) DeleteCredential(_ context.Context, user string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.credentials[user]; ok {
		delete(b.credentials, user)
		b.mutations++
	}
	return nil
}

// ListUsers lists every user holding a credential.
func (b *Backend) ListUsers(_ context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	users := make([]string, 0, len(b.credentials))
	for user := range b.credentials {
		users = append(users, user)
	}
	return users, nil
}

// GetRules returns the rules bound to principal, nil when there are none.
func (b *Backend) GetRules(_ context.Context, principal string) ([]codec.ACLRule, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.acls[principal]), nil
}

// SetRules binds rules to principal, replacing whatever was bound.
func (b *Backend) SetRules(_ context.Context, principal string, rules []codec.ACLRule) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.acls[principal] = slices.Clone(rules)
	b.mutations++
	return nil
}

// DeleteRules removes principal's bindings. Unknown principals are fine.
func (b *Backend) DeleteRules(_ context.Context, principal string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.acls[principal]; ok {
		delete(b.acls, principal)
		b.mutations++
	}
	return nil
}

// ListPrincipals lists every principal with bindings.
func (b *Backend) ListPrincipals(_ context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	principals := make([]string, 0, len(b.acls))
	for principal := range b.acls {
		principals = append(principals, principal)
	}
	return principals, nil
}

// Describe returns the live description of a topic, or nil when the backend
// has no such topic.
func (b *Backend) Describe(_ context.Context, topicName string) (*codec.BackendDescription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	description, ok := b.topics[topicName]
	if !ok {
		return nil, nil
	}
	description.Config = slices.Clone(description.Config)
	return &description, nil
}

// SetTopic installs or replaces a topic description.
func (b *Backend) SetTopic(description codec.BackendDescription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics[description.Name] = description
}

// Mutations reports how many state-changing calls have run. A sweep over an
// already-converged backend leaves the count where it was.
func (b *Backend) Mutations() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mutations
}
