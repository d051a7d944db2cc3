// Package secretstore converges the Secret holding each stream's key
// material. The store owns secret naming and labeling; callers hand it the
// desired content and the owning stream's name.
package secretstore

import (
	"bytes"
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"streamop/internal/codec"
	"streamop/pkg/logging"
)

const subsystem = "store.secret"

// Kubernetes converges secrets in the cluster.
type Kubernetes struct {
	client    client.Client
	namespace string
	prefix    string
}

// NewKubernetes creates a store writing into the given namespace. Secrets
// are named by prefixing the stream name with prefix.
func NewKubernetes(c client.Client, namespace, prefix string) *Kubernetes {
	return &Kubernetes{client: c, namespace: namespace, prefix: prefix}
}

// Reconcile converges the secret for the named stream. A nil desired secret
// means the secret must not exist. The desired secret's content is taken as
// given; its name, namespace and managed labels are stamped here.
func (s *Kubernetes) Reconcile(ctx context.Context, name string, desired *corev1.Secret) error {
	key := types.NamespacedName{Namespace: s.namespace, Name: codec.SecretName(s.prefix, name)}

	if desired == nil {
		existing := &corev1.Secret{}
		existing.Namespace = key.Namespace
		existing.Name = key.Name
		if err := s.client.Delete(ctx, existing); err != nil && !apierrors.IsNotFound(err) {
			return fmt.Errorf("delete secret %s: %w", key.Name, err)
		}
		logging.Debug(subsystem, "Secret %s absent", key.Name)
		return nil
	}

	stamp(desired, key, name)

	existing := &corev1.Secret{}
	err := s.client.Get(ctx, key, existing)
	switch {
	case apierrors.IsNotFound(err):
		if err := s.client.Create(ctx, desired); err != nil {
			return fmt.Errorf("create secret %s: %w", key.Name, err)
		}
		logging.Info(subsystem, "Secret %s created", key.Name)
		return nil
	case err != nil:
		return fmt.Errorf("get secret %s: %w", key.Name, err)
	}

	if !needsUpdate(existing, desired) {
		logging.Debug(subsystem, "Secret %s already current", key.Name)
		return nil
	}
	// Mutate the fetched object so the resource version and any labels a
	// user added by hand survive the update.
	existing.Data = desired.Data
	existing.Type = desired.Type
	if existing.Labels == nil {
		existing.Labels = map[string]string{}
	}
	for k, v := range desired.Labels {
		existing.Labels[k] = v
	}
	if len(desired.OwnerReferences) > 0 {
		existing.OwnerReferences = desired.OwnerReferences
	}
	if err := s.client.Update(ctx, existing); err != nil {
		return fmt.Errorf("update secret %s: %w", key.Name, err)
	}
	logging.Info(subsystem, "Secret %s updated", key.Name)
	return nil
}

// Get returns the stream's current secret, or nil when there is none.
func (s *Kubernetes) Get(ctx context.Context, name string) (*corev1.Secret, error) {
	key := types.NamespacedName{Namespace: s.namespace, Name: codec.SecretName(s.prefix, name)}
	secret := &corev1.Secret{}
	err := s.client.Get(ctx, key, secret)
	if apierrors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get secret %s: %w", key.Name, err)
	}
	return secret, nil
}

// KnownNames lists the streams that currently have a managed secret.
func (s *Kubernetes) KnownNames(ctx context.Context) ([]string, error) {
	list := &corev1.SecretList{}
	err := s.client.List(ctx, list,
		client.InNamespace(s.namespace),
		client.MatchingLabels{codec.ManagedByLabelKey: codec.ManagedByLabelValue})
	if err != nil {
		return nil, fmt.Errorf("list managed secrets: %w", err)
	}
	names := make([]string, 0, len(list.Items))
	for _, secret := range list.Items {
		if name := secret.Labels[codec.StreamLabelKey]; name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

func stamp(secret *corev1.Secret, key types.NamespacedName, streamName string) {
	secret.Namespace = key.Namespace
	secret.Name = key.Name
	if secret.Labels == nil {
		secret.Labels = map[string]string{}
	}
	for k, v := range codec.ManagedLabels(streamName) {
		secret.Labels[k] = v
	}
}

func needsUpdate(existing, desired *corev1.Secret) bool {
	if existing.Type != desired.Type && existing.Type != "" && desired.Type != "" {
		return true
	}
	if !equalData(existing.Data, desired.Data) {
		return true
	}
	for k, v := range desired.Labels {
		if existing.Labels[k] != v {
			return true
		}
	}
	if len(desired.OwnerReferences) > 0 && len(existing.OwnerReferences) == 0 {
		return true
	}
	return false
}

func equalData(a, b map[string][]byte) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		other, ok := b[k]
		if !ok || !bytes.Equal(v, other) {
			return false
		}
	}
	return true
}
