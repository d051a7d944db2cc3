// Package aclstore converges the ACL bindings of one principal format with
// the desired state of a stream. The engine runs one store per access mode
// over the same backend; each store only ever sees principals in its own
// format, so a TLS principal and a SCRAM principal for the same stream never
// shadow each other.
package aclstore

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"streamop/internal/codec"
	"streamop/pkg/logging"
)

const subsystem = "store.acl"

// Backend is the ACL protocol seam. GetRules returns an empty set for a
// principal with no bindings; DeleteRules on such a principal returns nil.
type Backend interface {
	GetRules(ctx context.Context, principal string) ([]codec.ACLRule, error)
	SetRules(ctx context.Context, principal string, rules []codec.ACLRule) error
	DeleteRules(ctx context.Context, principal string) error
	ListPrincipals(ctx context.Context) ([]string, error)
}

// Store reconciles the ACL rule set bound to one stream's principal in a
// single access mode's format.
type Store struct {
	backend Backend
	mode    codec.AccessMode
}

// New creates a store that addresses principals in the given mode's format.
func New(backend Backend, mode codec.AccessMode) *Store {
	return &Store{backend: backend, mode: mode}
}

// Reconcile converges the rules bound to name's principal. A nil rule set
// means no bindings must exist; an empty non-nil set is a valid desired
// state and is written as such.
func (s *Store) Reconcile(ctx context.Context, name string, rules []codec.ACLRule) error {
	principal := codec.Principal(name, s.mode)

	if rules == nil {
		if err := s.backend.DeleteRules(ctx, principal); err != nil {
			return fmt.Errorf("delete acl rules for %q: %w", principal, err)
		}
		logging.Debug(subsystem, "Rules for %s absent", principal)
		return nil
	}

	current, err := s.backend.GetRules(ctx, principal)
	if err != nil {
		return fmt.Errorf("get acl rules for %q: %w", principal, err)
	}
	if equalRuleSets(current, rules) {
		logging.Debug(subsystem, "Rules for %s already current", principal)
		return nil
	}
	if err := s.backend.SetRules(ctx, principal, rules); err != nil {
		return fmt.Errorf("set acl rules for %q: %w", principal, err)
	}
	logging.Info(subsystem, "Rules for %s updated (%d rules)", principal, len(rules))
	return nil
}

// KnownNames lists the streams that have bindings in this store's principal
// format. Principals in another mode's format are not this store's to
// report; the sibling store covering that mode reports them.
func (s *Store) KnownNames(ctx context.Context) ([]string, error) {
	principals, err := s.backend.ListPrincipals(ctx)
	if err != nil {
		return nil, fmt.Errorf("list acl principals: %w", err)
	}
	names := make([]string, 0, len(principals))
	for _, principal := range principals {
		if name, ok := codec.NameFromPrincipal(principal, s.mode); ok {
			names = append(names, name)
		}
	}
	return names, nil
}

// equalRuleSets compares two rule sets ignoring order.
func equalRuleSets(a, b []codec.ACLRule) bool {
	if len(a) != len(b) {
		return false
	}
	as := slices.Clone(a)
	bs := slices.Clone(b)
	slices.SortFunc(as, compareRules)
	slices.SortFunc(bs, compareRules)
	return slices.Equal(as, bs)
}

func compareRules(a, b codec.ACLRule) int {
	if c := strings.Compare(string(a.Resource), string(b.Resource)); c != 0 {
		return c
	}
	if c := strings.Compare(a.Name, b.Name); c != 0 {
		return c
	}
	return strings.Compare(string(a.Operation), string(b.Operation))
}
