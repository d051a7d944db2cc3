// Package scramstore converges SCRAM-SHA-512 credentials in the messaging
// cluster with the desired state of one stream. The wire protocol stays
// behind the Backend interface; the store owns the convergence rules.
package scramstore

import (
	"context"
	"fmt"

	"streamop/pkg/logging"
)

const subsystem = "store.scram"

// Backend is the credential protocol seam. A backend must be able to verify
// a password against the credential it holds (SCRAM servers can, from the
// stored key), set one, delete one and list users. DeleteCredential on an
// unknown user returns nil.
type Backend interface {
	HasCredential(ctx context.Context, user, password string) (bool, error)
	SetCredential(ctx context.Context, user, password string) error
	DeleteCredential(ctx context.Context, user string) error
	ListUsers(ctx context.Context) ([]string, error)
}

// Store reconciles one user's SCRAM credential. Reconcile is idempotent: a
// password that already verifies is left untouched, deleting an absent
// credential succeeds.
type Store struct {
	backend Backend
}

// New creates a store over the given backend.
func New(backend Backend) *Store {
	return &Store{backend: backend}
}

// Reconcile converges the credential for name. A nil password means the
// credential must not exist.
func (s *Store) Reconcile(ctx context.Context, name string, password *string) error {
	if password == nil {
		if err := s.backend.DeleteCredential(ctx, name); err != nil {
			return fmt.Errorf("delete scram credential for %q: %w", name, err)
		}
		logging.Debug(subsystem, "Credential for %s absent", name)
		return nil
	}

	ok, err := s.backend.HasCredential(ctx, name, *password)
	if err != nil {
		return fmt.Errorf("check scram credential for %q: %w", name, err)
	}
	if ok {
		logging.Debug(subsystem, "Credential for %s already current", name)
		return nil
	}
	if err := s.backend.SetCredential(ctx, name, *password); err != nil {
		return fmt.Errorf("set scram credential for %q: %w", name, err)
	}
	logging.Info(subsystem, "Credential for %s updated", name)
	return nil
}

// KnownNames lists every user the backend holds a credential for.
func (s *Store) KnownNames(ctx context.Context) ([]string, error) {
	users, err := s.backend.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list scram users: %w", err)
	}
	return users, nil
}
