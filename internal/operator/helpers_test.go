package operator

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/watch"
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"

	"streamop/internal/backend/membackend"
	"streamop/internal/codec"
	"streamop/internal/pki"
	"streamop/internal/source"
	"streamop/internal/store/aclstore"
	"streamop/internal/store/scramstore"
	"streamop/internal/store/secretstore"
	"streamop/pkg/apis/streamop/v1alpha1"
)

const testNamespace = "streams"

// fakeSource serves streams from a map the way the cluster source would,
// with injectable listing failures and a gate to hold List open.
type fakeSource struct {
	mu         sync.Mutex
	streams    map[string]*v1alpha1.Stream
	listErr    error
	listGate   chan struct{}
	listCalls  int
	listNS     string
	watchers   []*watch.FakeWatcher
	watchCalls int
}

func newFakeSource() *fakeSource {
	return &fakeSource{streams: map[string]*v1alpha1.Stream{}}
}

func (s *fakeSource) put(stream *v1alpha1.Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams[stream.Name] = stream.DeepCopy()
}

func (s *fakeSource) remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.streams, name)
}

func (s *fakeSource) stream(name string) *v1alpha1.Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stream, ok := s.streams[name]; ok {
		return stream.DeepCopy()
	}
	return nil
}

func (s *fakeSource) Get(_ context.Context, namespace, name string) (*v1alpha1.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stream, ok := s.streams[name]
	if !ok {
		return nil, fmt.Errorf("stream %s/%s: %w", namespace, name, source.ErrNotFound)
	}
	return stream.DeepCopy(), nil
}

func (s *fakeSource) List(_ context.Context, namespace string, _ labels.Selector) ([]v1alpha1.Stream, error) {
	s.mu.Lock()
	s.listCalls++
	s.listNS = namespace
	gate := s.listGate
	err := s.listErr
	items := make([]v1alpha1.Stream, 0, len(s.streams))
	for _, stream := range s.streams {
		items = append(items, *stream.DeepCopy())
	}
	s.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *fakeSource) Watch(_ context.Context, _ string, _ labels.Selector) (watch.Interface, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := watch.NewFake()
	s.watchers = append(s.watchers, w)
	s.watchCalls++
	return w, nil
}

func (s *fakeSource) listed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listCalls
}

func (s *fakeSource) watched() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watchCalls
}

func (s *fakeSource) watcher(t *testing.T, n int) *watch.FakeWatcher {
	t.Helper()
	var w *watch.FakeWatcher
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		if len(s.watchers) > n {
			w = s.watchers[n]
			return true
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
	return w
}

// SyncStatus makes the fake double as the status syncer, like the real
// kubernetes source does.
func (s *fakeSource) SyncStatus(_ context.Context, _, name string, mutate func(*v1alpha1.Stream)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stream, ok := s.streams[name]
	if !ok {
		return nil
	}
	mutate(stream)
	return nil
}

// fakeRecords is a record store with a write counter and injectable
// failures.
type fakeRecords struct {
	mu       sync.Mutex
	records  map[string][]byte
	writes   int
	failWith error
	knownErr error
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{records: map[string][]byte{}}
}

func (r *fakeRecords) Reconcile(_ context.Context, name string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
	if data == nil {
		if _, ok := r.records[name]; ok {
			delete(r.records, name)
			r.writes++
		}
		return nil
	}
	if existing, ok := r.records[name]; ok && bytes.Equal(existing, data) {
		return nil
	}
	r.records[name] = slices.Clone(data)
	r.writes++
	return nil
}

func (r *fakeRecords) KnownNames(_ context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.knownErr != nil {
		return nil, r.knownErr
	}
	names := make([]string, 0, len(r.records))
	for name := range r.records {
		names = append(names, name)
	}
	return names, nil
}

func (r *fakeRecords) Get(_ context.Context, name string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.records[name]
	if !ok {
		return nil, fmt.Errorf("record for %q not held", name)
	}
	return slices.Clone(data), nil
}

func (r *fakeRecords) written() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

func (r *fakeRecords) record(name string) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.records[name])
}

// sequencePasswords hands out predictable passwords and counts draws.
type sequencePasswords struct {
	mu sync.Mutex
	n  int
}

func (p *sequencePasswords) Generate() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.n++
	return fmt.Sprintf("password-%02d", p.n), nil
}

func (p *sequencePasswords) drawn() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.n
}

type harness struct {
	src       *fakeSource
	backend   *membackend.Backend
	secrets   *secretstore.Memory
	records   *fakeRecords
	passwords *sequencePasswords

	controller *Controller
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()

	src := newFakeSource()
	backend := membackend.New()
	secrets := secretstore.NewMemory(testNamespace, "streamop-")
	records := newFakeRecords()
	passwords := &sequencePasswords{}
	issuer, err := pki.NewLocalCA("", "")
	require.NoError(t, err)

	cfg := Config{
		Source:       src,
		Status:       src,
		Credentials:  scramstore.New(backend),
		TLSACLs:      aclstore.New(backend, codec.AccessTLS),
		ScramACLs:    aclstore.New(backend, codec.AccessScramSHA512),
		Secrets:      secrets,
		Records:      records,
		Describer:    backend,
		Issuer:       issuer,
		Passwords:    passwords,
		Namespace:    testNamespace,
		SecretPrefix: "streamop-",
		LockTimeout:  2 * time.Second,
		Workers:      4,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	return &harness{
		src:        src,
		backend:    backend,
		secrets:    secrets,
		records:    records,
		passwords:  passwords,
		controller: New(cfg),
	}
}

// mutations sums the state changes across every store.
func (h *harness) mutations() int {
	return h.backend.Mutations() + h.secrets.Mutations() + h.records.written()
}

func newStream(name, accessType string) *v1alpha1.Stream {
	return &v1alpha1.Stream{
		ObjectMeta: metav1.ObjectMeta{
			Namespace:  testNamespace,
			Name:       name,
			Generation: 1,
			UID:        types.UID("uid-" + name),
		},
		Spec: v1alpha1.StreamSpec{
			Partitions: 3,
			Replicas:   2,
			Config: map[string]apiextensionsv1.JSON{
				"retention.ms": {Raw: []byte(`"60000"`)},
			},
			Access: v1alpha1.AccessSpec{Type: accessType},
		},
	}
}

func keyFor(name string) Key {
	return Key{Namespace: testNamespace, Name: name, Trigger: TriggerManual}
}
