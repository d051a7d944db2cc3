// Package operator is the reconciliation engine: it converges the
// credential, ACL, secret and record stores to the desired state declared by
// Stream resources. Work arrives from the watch dispatcher and the periodic
// sweeper and meets at Controller.ReconcileOne, where the per-key lock
// serializes.
package operator

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"

	"streamop/internal/codec"
	"streamop/pkg/apis/streamop/v1alpha1"
)

// Trigger names what caused a reconciliation. Purely informational: it ends
// up in logs and metric labels, never in behavior.
type Trigger string

const (
	TriggerWatch        Trigger = "watch"
	TriggerPeriodic     Trigger = "periodic"
	TriggerWatchError   Trigger = "watch error"
	TriggerWatchUnknown Trigger = "watch unknown"
	TriggerWatchClosed  Trigger = "watch closed"
	TriggerStartup      Trigger = "startup"
	TriggerManual       Trigger = "manual"
)

// Key identifies one stream to reconcile. Two keys naming the same stream
// are the same piece of work regardless of trigger.
type Key struct {
	Namespace string
	Name      string
	Trigger   Trigger
}

func (k Key) String() string {
	return k.Namespace + "/" + k.Name
}

// LockName is the lock table entry guarding this stream.
func (k Key) LockName() string {
	return "lock::" + k.Namespace + "::Stream::" + k.Name
}

// Outcome is how a single reconciliation ended.
type Outcome string

const (
	// OutcomeConverged means the desired state was applied to every store.
	OutcomeConverged Outcome = "converged"
	// OutcomeDeleted means the stream is gone and every store dropped it.
	OutcomeDeleted Outcome = "deleted"
	// OutcomeSkipped means the key lock stayed held; the next trigger
	// retries.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeFailed means at least one store did not converge.
	OutcomeFailed Outcome = "failed"
)

// CredentialStore converges one stream's SCRAM credential. A nil password
// means the credential must not exist.
type CredentialStore interface {
	Reconcile(ctx context.Context, name string, password *string) error
	KnownNames(ctx context.Context) ([]string, error)
}

// ACLStore converges the rule set bound to one stream's principal. A nil
// rule set means no bindings must exist.
type ACLStore interface {
	Reconcile(ctx context.Context, name string, rules []codec.ACLRule) error
	KnownNames(ctx context.Context) ([]string, error)
}

// SecretStore converges one stream's key-material secret. Get returns nil
// when the stream has no secret; its material seeds password and
// certificate reuse.
type SecretStore interface {
	Reconcile(ctx context.Context, name string, desired *corev1.Secret) error
	KnownNames(ctx context.Context) ([]string, error)
	Get(ctx context.Context, name string) (*corev1.Secret, error)
}

// RecordStore converges the engine's own persisted record of one stream.
type RecordStore interface {
	Reconcile(ctx context.Context, name string, data []byte) error
	KnownNames(ctx context.Context) ([]string, error)
	Get(ctx context.Context, name string) ([]byte, error)
}

// BackendDescriber reports the live state of a topic for drift detection.
// Describe returns nil for a topic the backend does not know.
type BackendDescriber interface {
	Describe(ctx context.Context, topicName string) (*codec.BackendDescription, error)
}

// StatusSyncer writes a stream's status subresource. Implemented by the
// kubernetes source; absent in standalone mode.
type StatusSyncer interface {
	SyncStatus(ctx context.Context, namespace, name string, mutate func(*v1alpha1.Stream)) error
}

// PasswordSource hands out fresh SCRAM passwords.
type PasswordSource interface {
	Generate() (string, error)
}

// StoreError is one store's failure inside a fan-out. Failures from several
// stores are joined into a single error, so callers see every cause at once.
type StoreError struct {
	Store string
	Err   error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s store: %v", e.Store, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
