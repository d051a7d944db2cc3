package operator

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/utils/ptr"

	"streamop/internal/codec"
	"streamop/internal/lock"
	"streamop/internal/metrics"
	"streamop/internal/pki"
	"streamop/internal/source"
	"streamop/pkg/apis/streamop/v1alpha1"
	"streamop/pkg/logging"
)

const subsystem = "operator"

const (
	defaultLockTimeout = 10 * time.Second
	defaultWorkers     = 4
)

// ConditionReady is the condition type the controller maintains on
// reconciled streams.
const ConditionReady = "Ready"

// Config carries every collaborator and knob of a Controller. Status,
// Describer and Metrics are optional; everything else must be set.
type Config struct {
	Source      source.Source
	Status      StatusSyncer
	Credentials CredentialStore
	TLSACLs     ACLStore
	ScramACLs   ACLStore
	Secrets     SecretStore
	Records     RecordStore
	Describer   BackendDescriber
	Issuer      pki.Issuer
	Passwords   PasswordSource
	Metrics     *metrics.Metrics

	Namespace    string
	Selector     labels.Selector
	SecretPrefix string
	LockTimeout  time.Duration
	Workers      int
}

// Controller drives every backing store toward the desired state of the
// streams in one namespace.
type Controller struct {
	cfg   Config
	locks *lock.Manager

	queue   *workQueue
	workers sync.WaitGroup
}

// New creates a controller. Zero LockTimeout and Workers get defaults.
func New(cfg Config) *Controller {
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = defaultLockTimeout
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	return &Controller{
		cfg:   cfg,
		locks: lock.NewManager(),
		queue: newWorkQueue(),
	}
}

// Enqueue hands a key to the worker pool. Safe from any goroutine.
func (c *Controller) Enqueue(key Key) {
	c.queue.Add(key)
}

// QueueLen reports how many keys wait for a worker.
func (c *Controller) QueueLen() int {
	return c.queue.Len()
}

// Start launches the worker pool draining the queue. Stop shuts it down.
func (c *Controller) Start(ctx context.Context) {
	logging.Info(subsystem, "Starting %d reconciliation workers", c.cfg.Workers)
	for i := 0; i < c.cfg.Workers; i++ {
		c.workers.Add(1)
		go c.worker(ctx)
	}
}

// Stop drains the queue and waits for in-flight reconciliations to finish.
func (c *Controller) Stop() {
	c.queue.Shutdown()
	c.workers.Wait()
	logging.Info(subsystem, "Reconciliation workers stopped")
}

func (c *Controller) worker(ctx context.Context) {
	defer c.workers.Done()
	for {
		key, ok := c.queue.Get(ctx)
		if !ok {
			return
		}
		// A reconciliation that started runs to completion; shutdown only
		// stops the queue from handing out more work.
		outcome, err := c.ReconcileOne(context.WithoutCancel(ctx), key)
		if err != nil {
			logging.Error(subsystem, err, "Reconciliation of %s failed", key)
		} else {
			logging.Debug(subsystem, "Reconciliation of %s finished: %s", key, outcome)
		}
		c.queue.Done(key)
	}
}

// ReconcileOne converges every store for one stream. A lock timeout is a
// skip, not an error: the holder at the time reconciles an at-least-as-fresh
// view, and the next trigger retries.
func (c *Controller) ReconcileOne(ctx context.Context, key Key) (Outcome, error) {
	start := time.Now()
	outcome, err := c.reconcile(ctx, key)
	c.cfg.Metrics.RecordReconciliation(string(key.Trigger), string(outcome), time.Since(start))
	return outcome, err
}

func (c *Controller) reconcile(ctx context.Context, key Key) (Outcome, error) {
	held, err := c.locks.Acquire(ctx, key.LockName(), c.cfg.LockTimeout)
	if errors.Is(err, lock.ErrTimeout) {
		logging.Info(subsystem, "Lock on %s still held, skipping %s reconciliation", key, key.Trigger)
		c.cfg.Metrics.RecordLockTimeout()
		return OutcomeSkipped, nil
	}
	if err != nil {
		return OutcomeFailed, fmt.Errorf("acquire lock for %s: %w", key, err)
	}
	defer c.locks.Release(held)

	stream, err := c.cfg.Source.Get(ctx, key.Namespace, key.Name)
	switch {
	case errors.Is(err, source.ErrNotFound):
		if err := c.deleteEverywhere(ctx, key); err != nil {
			return OutcomeFailed, err
		}
		return OutcomeDeleted, nil
	case err != nil:
		return OutcomeFailed, fmt.Errorf("fetch stream %s: %w", key, err)
	}

	if err := c.createOrUpdate(ctx, key, stream); err != nil {
		c.syncFailure(ctx, key, stream, err)
		return OutcomeFailed, err
	}
	return OutcomeConverged, nil
}

// createOrUpdate converges the stores to a present stream: decode, reuse or
// mint key material, then one concurrent Reconcile per store. Exactly one
// access mode's credential payloads are non-absent; the other mode's stores
// receive absent so a mode switch cleans up after itself.
func (c *Controller) createOrUpdate(ctx context.Context, key Key, stream *v1alpha1.Stream) error {
	entity, err := codec.Decode(stream)
	if err != nil {
		return fmt.Errorf("stream %s: %w", key, err)
	}

	if c.cfg.Describer != nil {
		c.checkDrift(ctx, entity)
	}

	material, err := c.keyMaterial(ctx, entity)
	if err != nil {
		return fmt.Errorf("stream %s: %w", key, err)
	}

	var password *string
	var tlsRules, scramRules []codec.ACLRule
	switch entity.Access {
	case codec.AccessTLS:
		tlsRules = codec.ACLRules(entity)
	case codec.AccessScramSHA512:
		scramRules = codec.ACLRules(entity)
		password = &material.Password
	}

	secretData, err := codec.SecretData(entity, material)
	if err != nil {
		return fmt.Errorf("stream %s: %w", key, err)
	}
	secret := &corev1.Secret{Type: corev1.SecretTypeOpaque, Data: secretData}
	if stream.UID != "" {
		secret.OwnerReferences = []metav1.OwnerReference{ownerReference(stream)}
	}

	record, err := codec.MarshalRecord(entity.Record())
	if err != nil {
		return fmt.Errorf("stream %s: %w", key, err)
	}

	err = c.fanOut(ctx,
		storeCall{"credential", func(ctx context.Context) error {
			return c.cfg.Credentials.Reconcile(ctx, key.Name, password)
		}},
		storeCall{"tls-acl", func(ctx context.Context) error {
			return c.cfg.TLSACLs.Reconcile(ctx, key.Name, tlsRules)
		}},
		storeCall{"scram-acl", func(ctx context.Context) error {
			return c.cfg.ScramACLs.Reconcile(ctx, key.Name, scramRules)
		}},
		storeCall{"secret", func(ctx context.Context) error {
			return c.cfg.Secrets.Reconcile(ctx, key.Name, secret)
		}},
		storeCall{"record", func(ctx context.Context) error {
			return c.cfg.Records.Reconcile(ctx, key.Name, record)
		}},
	)
	if err != nil {
		return fmt.Errorf("stream %s: %w", key, err)
	}

	c.syncSuccess(ctx, key, stream, entity)
	return nil
}

// deleteEverywhere removes a vanished stream's state from every store.
// Stores report success for what is already gone, so repeats converge.
func (c *Controller) deleteEverywhere(ctx context.Context, key Key) error {
	logging.Info(subsystem, "Stream %s is gone, removing its state from every store", key)
	err := c.fanOut(ctx,
		storeCall{"credential", func(ctx context.Context) error {
			return c.cfg.Credentials.Reconcile(ctx, key.Name, nil)
		}},
		storeCall{"tls-acl", func(ctx context.Context) error {
			return c.cfg.TLSACLs.Reconcile(ctx, key.Name, nil)
		}},
		storeCall{"scram-acl", func(ctx context.Context) error {
			return c.cfg.ScramACLs.Reconcile(ctx, key.Name, nil)
		}},
		storeCall{"secret", func(ctx context.Context) error {
			return c.cfg.Secrets.Reconcile(ctx, key.Name, nil)
		}},
		storeCall{"record", func(ctx context.Context) error {
			return c.cfg.Records.Reconcile(ctx, key.Name, nil)
		}},
	)
	if err != nil {
		return fmt.Errorf("stream %s: %w", key, err)
	}
	return nil
}

type storeCall struct {
	store string
	run   func(ctx context.Context) error
}

// fanOut runs every store call concurrently and joins the failures. No call
// is cancelled because a sibling failed: each store converges or reports its
// own cause, and there is no rollback.
func (c *Controller) fanOut(ctx context.Context, calls ...storeCall) error {
	results := make([]error, len(calls))
	var group errgroup.Group
	for i, call := range calls {
		group.Go(func() error {
			if err := call.run(ctx); err != nil {
				c.cfg.Metrics.RecordStoreFailure(call.store)
				results[i] = &StoreError{Store: call.store, Err: err}
			}
			return nil
		})
	}
	_ = group.Wait()
	return errors.Join(results...)
}

// keyMaterial returns the material the stream's secret must hold, reusing
// what the existing secret carries: a scram password is kept verbatim, a TLS
// pair is kept while the issuer still accepts it. Reuse is what keeps a
// converged stream's reconciliations mutation-free.
func (c *Controller) keyMaterial(ctx context.Context, entity *codec.Entity) (*codec.KeyMaterial, error) {
	existing, err := c.cfg.Secrets.Get(ctx, entity.StreamName)
	if err != nil {
		return nil, fmt.Errorf("fetch existing secret: %w", err)
	}

	switch entity.Access {
	case codec.AccessScramSHA512:
		if existing != nil {
			if pw := existing.Data["password"]; len(pw) > 0 {
				return &codec.KeyMaterial{Password: string(pw)}, nil
			}
		}
		pw, err := c.cfg.Passwords.Generate()
		if err != nil {
			return nil, err
		}
		return &codec.KeyMaterial{Password: pw}, nil

	case codec.AccessTLS:
		var prior *pki.KeyPair
		if existing != nil && len(existing.Data["user.crt"]) > 0 {
			prior = &pki.KeyPair{
				CertPEM: existing.Data["user.crt"],
				KeyPEM:  existing.Data["user.key"],
				CAPEM:   existing.Data["ca.crt"],
			}
		}
		pair, err := c.cfg.Issuer.Issue(ctx, entity.StreamName, prior)
		if err != nil {
			return nil, fmt.Errorf("issue certificate: %w", err)
		}
		return &codec.KeyMaterial{CertPEM: pair.CertPEM, KeyPEM: pair.KeyPEM, CAPEM: pair.CAPEM}, nil
	}
	return nil, fmt.Errorf("no key material for access mode %q", entity.Access)
}

// checkDrift compares the live topic against the desired entity before
// converging. Purely observational; convergence happens either way.
func (c *Controller) checkDrift(ctx context.Context, desired *codec.Entity) {
	description, err := c.cfg.Describer.Describe(ctx, desired.TopicName)
	if err != nil {
		logging.Warn(subsystem, "Drift check for topic %s failed: %v", desired.TopicName, err)
		return
	}
	if description == nil {
		return
	}
	observed := codec.FromBackendView(description)
	var diffs []string
	if observed.Partitions != desired.Partitions {
		diffs = append(diffs, fmt.Sprintf("partitions %d != %d", observed.Partitions, desired.Partitions))
	}
	if observed.Replicas != desired.Replicas {
		diffs = append(diffs, fmt.Sprintf("replicas %d != %d", observed.Replicas, desired.Replicas))
	}
	if !maps.Equal(observed.Config, desired.Config) {
		diffs = append(diffs, "config differs")
	}
	if len(diffs) == 0 {
		return
	}
	c.cfg.Metrics.RecordDrift()
	logging.Warn(subsystem, "Topic %s diverged from desired state: %v", desired.TopicName, diffs)
}

// syncSuccess publishes a converged stream's status. Best effort: the
// stores already converged, a status write failure only delays what the
// next reconciliation will publish anyway.
func (c *Controller) syncSuccess(ctx context.Context, key Key, stream *v1alpha1.Stream, entity *codec.Entity) {
	if c.cfg.Status == nil {
		return
	}
	generation := stream.Generation
	topicName := entity.TopicName
	principal := codec.Principal(key.Name, entity.Access)
	secretName := codec.SecretName(c.cfg.SecretPrefix, key.Name)

	err := c.cfg.Status.SyncStatus(ctx, key.Namespace, key.Name, func(s *v1alpha1.Stream) {
		s.Status.ObservedGeneration = generation
		s.Status.TopicName = topicName
		s.Status.Principal = principal
		s.Status.SecretName = secretName
		meta.SetStatusCondition(&s.Status.Conditions, metav1.Condition{
			Type:               ConditionReady,
			Status:             metav1.ConditionTrue,
			Reason:             "Reconciled",
			Message:            "all stores converged",
			ObservedGeneration: generation,
		})
	})
	if err != nil {
		logging.Warn(subsystem, "Status update for %s failed: %v", key, err)
	}
}

func (c *Controller) syncFailure(ctx context.Context, key Key, stream *v1alpha1.Stream, cause error) {
	if c.cfg.Status == nil {
		return
	}
	generation := stream.Generation
	message := cause.Error()

	err := c.cfg.Status.SyncStatus(ctx, key.Namespace, key.Name, func(s *v1alpha1.Stream) {
		s.Status.ObservedGeneration = generation
		meta.SetStatusCondition(&s.Status.Conditions, metav1.Condition{
			Type:               ConditionReady,
			Status:             metav1.ConditionFalse,
			Reason:             "ReconciliationFailed",
			Message:            message,
			ObservedGeneration: generation,
		})
	})
	if err != nil {
		logging.Warn(subsystem, "Status update for %s failed: %v", key, err)
	}
}

func ownerReference(stream *v1alpha1.Stream) metav1.OwnerReference {
	return metav1.OwnerReference{
		APIVersion:         v1alpha1.GroupVersion.String(),
		Kind:               "Stream",
		Name:               stream.Name,
		UID:                stream.UID,
		Controller:         ptr.To(true),
		BlockOwnerDeletion: ptr.To(false),
	}
}
