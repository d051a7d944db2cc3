package secretstore

import (
	"context"
	"sync"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/types"

	"streamop/internal/codec"
)

// Memory holds secrets in process memory. It backs standalone mode, where
// there is no cluster to write to, and counts its writes so convergence can
// be observed.
type Memory struct {
	mu        sync.Mutex
	namespace string
	prefix    string
	secrets   map[string]*corev1.Secret
	mutations int
}

// NewMemory creates an empty in-memory store.
func NewMemory(namespace, prefix string) *Memory {
	return &Memory{namespace: namespace, prefix: prefix, secrets: map[string]*corev1.Secret{}}
}

// Reconcile converges the stored secret for the named stream. Semantics
// match the cluster-backed store: nil deletes, equal content is left alone.
func (s *Memory) Reconcile(_ context.Context, name string, desired *corev1.Secret) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if desired == nil {
		if _, ok := s.secrets[name]; ok {
			delete(s.secrets, name)
			s.mutations++
		}
		return nil
	}

	key := types.NamespacedName{Namespace: s.namespace, Name: codec.SecretName(s.prefix, name)}
	stamp(desired, key, name)
	if existing, ok := s.secrets[name]; ok && !needsUpdate(existing, desired) {
		return nil
	}
	s.secrets[name] = desired.DeepCopy()
	s.mutations++
	return nil
}

// Get returns a copy of the stream's secret, or nil when there is none.
func (s *Memory) Get(_ context.Context, name string) (*corev1.Secret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	secret, ok := s.secrets[name]
	if !ok {
		return nil, nil
	}
	return secret.DeepCopy(), nil
}

// KnownNames lists the streams with a stored secret.
func (s *Memory) KnownNames(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.secrets))
	for name := range s.secrets {
		names = append(names, name)
	}
	return names, nil
}

// Mutations reports how many state-changing reconciliations have run.
func (s *Memory) Mutations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutations
}
