package operator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"streamop/internal/codec"
	"streamop/internal/metrics"
)

func TestReconcileOne_ScramStreamConverges(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.src.put(newStream("orders", "scram-sha-512"))

	outcome, err := h.controller.ReconcileOne(ctx, keyFor("orders"))
	require.NoError(t, err)
	require.Equal(t, OutcomeConverged, outcome)

	// Credential under the bare name, verifying the generated password.
	ok, err := h.backend.HasCredential(ctx, "orders", "password-01")
	require.NoError(t, err)
	assert.True(t, ok)

	// Rules bound to the bare principal only; the TLS principal stays clean.
	scramRules, err := h.backend.GetRules(ctx, "orders")
	require.NoError(t, err)
	assert.Len(t, scramRules, 4)
	tlsRules, err := h.backend.GetRules(ctx, "CN=orders")
	require.NoError(t, err)
	assert.Empty(t, tlsRules)

	secret, err := h.secrets.Get(ctx, "orders")
	require.NoError(t, err)
	require.NotNil(t, secret)
	assert.Equal(t, "password-01", string(secret.Data["password"]))
	assert.Contains(t, string(secret.Data["sasl.jaas.config"]), `username="orders"`)

	raw := h.records.record("orders")
	require.NotNil(t, raw)
	var record struct {
		MapName    string            `json:"map-name"`
		TopicName  string            `json:"topic-name"`
		Partitions int32             `json:"partitions"`
		Replicas   int16             `json:"replicas"`
		Config     map[string]string `json:"config"`
	}
	require.NoError(t, json.Unmarshal(raw, &record))
	assert.Equal(t, "orders", record.MapName)
	assert.Equal(t, "orders", record.TopicName)
	assert.Equal(t, int32(3), record.Partitions)
	assert.Equal(t, int16(2), record.Replicas)
	assert.Equal(t, "60000", record.Config["retention.ms"])
	assert.Equal(t, "scram-sha-512", record.Config["streamop.dev/access"])

	status := h.src.stream("orders").Status
	assert.Equal(t, int64(1), status.ObservedGeneration)
	assert.Equal(t, "orders", status.TopicName)
	assert.Equal(t, "orders", status.Principal)
	assert.Equal(t, "streamop-orders", status.SecretName)
	ready := meta.FindStatusCondition(status.Conditions, ConditionReady)
	require.NotNil(t, ready)
	assert.Equal(t, metav1.ConditionTrue, ready.Status)
	assert.Equal(t, "Reconciled", ready.Reason)
}

func TestReconcileOne_TLSStreamConverges(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.src.put(newStream("orders", "tls"))

	outcome, err := h.controller.ReconcileOne(ctx, keyFor("orders"))
	require.NoError(t, err)
	require.Equal(t, OutcomeConverged, outcome)

	// No SCRAM credential and no rules on the bare principal.
	users, err := h.backend.ListUsers(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)
	bareRules, err := h.backend.GetRules(ctx, "orders")
	require.NoError(t, err)
	assert.Empty(t, bareRules)

	tlsRules, err := h.backend.GetRules(ctx, "CN=orders")
	require.NoError(t, err)
	assert.Len(t, tlsRules, 4)

	secret, err := h.secrets.Get(ctx, "orders")
	require.NoError(t, err)
	require.NotNil(t, secret)
	assert.NotEmpty(t, secret.Data["ca.crt"])
	assert.NotEmpty(t, secret.Data["user.crt"])
	assert.NotEmpty(t, secret.Data["user.key"])
	assert.NotContains(t, secret.Data, "password")

	assert.Equal(t, "CN=orders", h.src.stream("orders").Status.Principal)
	assert.Zero(t, h.passwords.drawn())
}

func TestReconcileOne_RepeatIsMutationFree(t *testing.T) {
	for _, accessType := range []string{"scram-sha-512", "tls"} {
		t.Run(accessType, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t, nil)
			h.src.put(newStream("orders", accessType))

			_, err := h.controller.ReconcileOne(ctx, keyFor("orders"))
			require.NoError(t, err)
			settled := h.mutations()

			outcome, err := h.controller.ReconcileOne(ctx, keyFor("orders"))
			require.NoError(t, err)
			assert.Equal(t, OutcomeConverged, outcome)
			assert.Equal(t, settled, h.mutations())
			assert.LessOrEqual(t, h.passwords.drawn(), 1)
		})
	}
}

func TestReconcileOne_AccessModeSwitchCleansUp(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.src.put(newStream("orders", "scram-sha-512"))
	_, err := h.controller.ReconcileOne(ctx, keyFor("orders"))
	require.NoError(t, err)

	switched := newStream("orders", "tls")
	switched.Generation = 2
	h.src.put(switched)
	outcome, err := h.controller.ReconcileOne(ctx, keyFor("orders"))
	require.NoError(t, err)
	require.Equal(t, OutcomeConverged, outcome)

	users, err := h.backend.ListUsers(ctx)
	require.NoError(t, err)
	assert.Empty(t, users, "scram credential must be gone after the switch")
	principals, err := h.backend.ListPrincipals(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"CN=orders"}, principals)

	secret, err := h.secrets.Get(ctx, "orders")
	require.NoError(t, err)
	require.NotNil(t, secret)
	assert.NotContains(t, secret.Data, "password")
	assert.NotEmpty(t, secret.Data["user.crt"])
}

func TestReconcileOne_DeleteRemovesEverything(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.src.put(newStream("orders", "scram-sha-512"))
	_, err := h.controller.ReconcileOne(ctx, keyFor("orders"))
	require.NoError(t, err)

	h.src.remove("orders")
	outcome, err := h.controller.ReconcileOne(ctx, keyFor("orders"))
	require.NoError(t, err)
	require.Equal(t, OutcomeDeleted, outcome)

	users, err := h.backend.ListUsers(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)
	principals, err := h.backend.ListPrincipals(ctx)
	require.NoError(t, err)
	assert.Empty(t, principals)
	secretNames, err := h.secrets.KnownNames(ctx)
	require.NoError(t, err)
	assert.Empty(t, secretNames)
	recordNames, err := h.records.KnownNames(ctx)
	require.NoError(t, err)
	assert.Empty(t, recordNames)

	// Deleting again converges without touching anything.
	settled := h.mutations()
	outcome, err = h.controller.ReconcileOne(ctx, keyFor("orders"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeleted, outcome)
	assert.Equal(t, settled, h.mutations())
}

// gatedCredentials holds the first Reconcile open so a test can observe the
// per-key lock from outside the critical section.
type gatedCredentials struct {
	CredentialStore
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedCredentials) Reconcile(ctx context.Context, name string, password *string) error {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return g.CredentialStore.Reconcile(ctx, name, password)
}

func TestReconcileOne_ConcurrentSameKey(t *testing.T) {
	t.Run("times out into a skip", func(t *testing.T) {
		ctx := context.Background()
		gate := &gatedCredentials{entered: make(chan struct{}), release: make(chan struct{})}
		h := newHarness(t, func(cfg *Config) {
			cfg.LockTimeout = 50 * time.Millisecond
			gate.CredentialStore = cfg.Credentials
			cfg.Credentials = gate
		})
		h.src.put(newStream("orders", "scram-sha-512"))

		var firstOutcome Outcome
		var firstErr error
		done := make(chan struct{})
		go func() {
			defer close(done)
			firstOutcome, firstErr = h.controller.ReconcileOne(ctx, keyFor("orders"))
		}()
		<-gate.entered

		outcome, err := h.controller.ReconcileOne(ctx, keyFor("orders"))
		require.NoError(t, err, "a lock timeout is a skip, not a failure")
		assert.Equal(t, OutcomeSkipped, outcome)

		close(gate.release)
		<-done
		require.NoError(t, firstErr)
		assert.Equal(t, OutcomeConverged, firstOutcome)
	})

	t.Run("waits for the holder", func(t *testing.T) {
		ctx := context.Background()
		gate := &gatedCredentials{entered: make(chan struct{}), release: make(chan struct{})}
		h := newHarness(t, func(cfg *Config) {
			gate.CredentialStore = cfg.Credentials
			cfg.Credentials = gate
		})
		h.src.put(newStream("orders", "scram-sha-512"))

		holder := make(chan struct{})
		go func() {
			defer close(holder)
			_, _ = h.controller.ReconcileOne(ctx, keyFor("orders"))
		}()
		<-gate.entered

		type result struct {
			outcome Outcome
			err     error
		}
		waiter := make(chan result, 1)
		go func() {
			outcome, err := h.controller.ReconcileOne(ctx, keyFor("orders"))
			waiter <- result{outcome, err}
		}()

		time.Sleep(20 * time.Millisecond)
		close(gate.release)
		<-holder
		select {
		case got := <-waiter:
			require.NoError(t, got.err)
			assert.Equal(t, OutcomeConverged, got.outcome)
		case <-time.After(2 * time.Second):
			t.Fatal("second reconciliation never got the lock")
		}
	})
}

func TestReconcileOne_InvalidStreamTouchesNoStore(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	broken := newStream("orders", "scram-sha-512")
	broken.Spec.Partitions = 0
	h.src.put(broken)

	outcome, err := h.controller.ReconcileOne(ctx, keyFor("orders"))
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.ErrorIs(t, err, codec.ErrValidation)

	assert.Zero(t, h.mutations(), "a rejected stream must not reach any store")
	assert.Zero(t, h.passwords.drawn())

	ready := meta.FindStatusCondition(h.src.stream("orders").Status.Conditions, ConditionReady)
	require.NotNil(t, ready)
	assert.Equal(t, metav1.ConditionFalse, ready.Status)
	assert.Equal(t, "ReconciliationFailed", ready.Reason)
}

type failingCredentials struct{ err error }

func (f failingCredentials) Reconcile(context.Context, string, *string) error {
	return f.err
}

func (f failingCredentials) KnownNames(context.Context) ([]string, error) {
	return nil, nil
}

func TestReconcileOne_StoreFailuresAreJoined(t *testing.T) {
	ctx := context.Background()
	credentialErr := errors.New("cluster unreachable")
	recordErr := errors.New("disk full")
	h := newHarness(t, func(cfg *Config) {
		cfg.Credentials = failingCredentials{err: credentialErr}
	})
	h.records.failWith = recordErr
	h.src.put(newStream("orders", "scram-sha-512"))

	outcome, err := h.controller.ReconcileOne(ctx, keyFor("orders"))
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, outcome)

	// Every failed store names itself and carries its cause.
	assert.ErrorContains(t, err, "credential store")
	assert.ErrorContains(t, err, "record store")
	assert.ErrorIs(t, err, credentialErr)
	assert.ErrorIs(t, err, recordErr)
	var storeErr *StoreError
	assert.ErrorAs(t, err, &storeErr)

	// A sibling failure does not stop the other stores from converging.
	secret, getErr := h.secrets.Get(ctx, "orders")
	require.NoError(t, getErr)
	assert.NotNil(t, secret)
}

func TestReconcileAll_SweepIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.src.put(newStream("orders", "scram-sha-512"))
	audit := newStream("audit", "tls")
	audit.Spec.Access.ReadOnly = true
	h.src.put(audit)

	sweep, err := h.controller.ReconcileAll(ctx, TriggerStartup)
	require.NoError(t, err)
	require.NoError(t, sweep.Wait(ctx))
	summary := sweep.Summary()
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 2, summary.Converged)
	assert.Zero(t, summary.Failed)

	// Read-only streams get no write rule.
	auditRules, err := h.backend.GetRules(ctx, "CN=audit")
	require.NoError(t, err)
	assert.Len(t, auditRules, 3)

	settled := h.mutations()
	sweep, err = h.controller.ReconcileAll(ctx, TriggerPeriodic)
	require.NoError(t, err)
	require.NoError(t, sweep.Wait(ctx))
	summary = sweep.Summary()
	assert.Equal(t, 2, summary.Converged)
	assert.Equal(t, settled, h.mutations(), "a sweep over converged streams must not mutate any store")
}

func TestReconcileAll_RemovesOrphanedState(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.src.put(newStream("orders", "scram-sha-512"))
	require.NoError(t, h.backend.SetCredential(ctx, "ghost", "stale"))
	require.NoError(t, h.backend.SetRules(ctx, "CN=phantom", []codec.ACLRule{
		{Resource: "topic", Name: "phantom", Operation: "Read"},
	}))

	sweep, err := h.controller.ReconcileAll(ctx, TriggerPeriodic)
	require.NoError(t, err)
	require.NoError(t, sweep.Wait(ctx))
	summary := sweep.Summary()
	assert.Equal(t, 3, summary.Total, "sweep scope is desired names plus every store's known names")
	assert.Equal(t, 1, summary.Converged)
	assert.Equal(t, 2, summary.Deleted)

	users, err := h.backend.ListUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"orders"}, users)
	principals, err := h.backend.ListPrincipals(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"orders"}, principals)
}

func TestReconcileAll_ListingFailuresCarryTheCause(t *testing.T) {
	ctx := context.Background()

	t.Run("desired list", func(t *testing.T) {
		h := newHarness(t, nil)
		cause := errors.New("api server down")
		h.src.listErr = cause

		sweep, err := h.controller.ReconcileAll(ctx, TriggerPeriodic)
		require.Error(t, err)
		assert.Nil(t, sweep)
		assert.ErrorIs(t, err, cause)
		assert.ErrorContains(t, err, "list desired streams")
	})

	t.Run("store known names", func(t *testing.T) {
		h := newHarness(t, nil)
		cause := errors.New("table missing")
		h.records.knownErr = cause

		sweep, err := h.controller.ReconcileAll(ctx, TriggerPeriodic)
		require.Error(t, err)
		assert.Nil(t, sweep)
		assert.ErrorIs(t, err, cause)
		assert.ErrorContains(t, err, "record store known names")
	})
}

func TestReconcileOne_ReportsTopicDrift(t *testing.T) {
	ctx := context.Background()
	m := metrics.New()
	h := newHarness(t, func(cfg *Config) {
		cfg.Metrics = m
	})
	h.src.put(newStream("orders", "scram-sha-512"))
	h.backend.SetTopic(codec.BackendDescription{Name: "orders", Partitions: 5, Replicas: 2})

	outcome, err := h.controller.ReconcileOne(ctx, keyFor("orders"))
	require.NoError(t, err, "drift is observational, convergence proceeds")
	assert.Equal(t, OutcomeConverged, outcome)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "streamop_drift_detected_total 1")
}

func TestController_WorkerPoolDrainsQueue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, func(cfg *Config) {
		cfg.Workers = 2
	})
	h.src.put(newStream("orders", "scram-sha-512"))
	h.src.put(newStream("audit", "tls"))

	h.controller.Start(ctx)
	h.controller.Enqueue(Key{Namespace: testNamespace, Name: "orders", Trigger: TriggerWatch})
	h.controller.Enqueue(Key{Namespace: testNamespace, Name: "audit", Trigger: TriggerWatch})

	require.Eventually(t, func() bool {
		return h.records.record("orders") != nil && h.records.record("audit") != nil
	}, 2*time.Second, 10*time.Millisecond)
	h.controller.Stop()
	assert.Zero(t, h.controller.QueueLen())
}
