package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/watch"

	"streamop/pkg/apis/streamop/v1alpha1"
)

const ordersManifest = `apiVersion: streamop.dev/v1alpha1
kind: Stream
metadata:
  name: orders
  labels:
    team: payments
spec:
  partitions: 3
  replicas: 2
  access:
    type: scram-sha-512
`

const auditManifest = `apiVersion: streamop.dev/v1alpha1
kind: Stream
metadata:
  name: audit
  labels:
    team: compliance
spec:
  partitions: 1
  replicas: 1
  access:
    type: tls
`

func writeManifest(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestFilesystem(t *testing.T, dir string) *Filesystem {
	t.Helper()
	fs, err := NewFilesystem(dir, "ns1", 10*time.Millisecond)
	require.NoError(t, err)
	return fs
}

func nextEvent(t *testing.T, w watch.Interface) watch.Event {
	t.Helper()
	select {
	case event, ok := <-w.ResultChan():
		require.True(t, ok, "watch channel closed unexpectedly")
		return event
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a watch event")
		return watch.Event{}
	}
}

func TestFilesystemGetAndList(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "orders.yaml", ordersManifest)
	writeManifest(t, dir, "audit.yaml", auditManifest)
	fs := newTestFilesystem(t, dir)
	ctx := context.Background()

	stream, err := fs.Get(ctx, "ns1", "orders")
	require.NoError(t, err)
	assert.Equal(t, int32(3), stream.Spec.Partitions)
	assert.Equal(t, "ns1", stream.Namespace, "manifests without a namespace land in the source's")

	_, err = fs.Get(ctx, "ns1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := fs.List(ctx, "ns1", labels.Everything())
	require.NoError(t, err)
	assert.Len(t, all, 2)

	selector, err := labels.Parse("team=payments")
	require.NoError(t, err)
	matched, err := fs.List(ctx, "ns1", selector)
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, "orders", matched[0].Name)
}

func TestFilesystemList_SkipsBrokenManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "orders.yaml", ordersManifest)
	writeManifest(t, dir, "broken.yaml", "{[not yaml")

	fs := newTestFilesystem(t, dir)
	all, err := fs.List(context.Background(), "ns1", labels.Everything())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "orders", all[0].Name)
}

func TestFilesystemWatch_Lifecycle(t *testing.T) {
	dir := t.TempDir()
	fs := newTestFilesystem(t, dir)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := fs.Watch(ctx, "ns1", labels.Everything())
	require.NoError(t, err)
	defer w.Stop()

	path := writeManifest(t, dir, "orders.yaml", ordersManifest)
	event := nextEvent(t, w)
	assert.Equal(t, watch.Added, event.Type)
	stream, ok := event.Object.(*v1alpha1.Stream)
	require.True(t, ok)
	assert.Equal(t, "orders", stream.Name)

	writeManifest(t, dir, "orders.yaml", ordersManifest)
	event = nextEvent(t, w)
	assert.Equal(t, watch.Modified, event.Type)

	require.NoError(t, os.Remove(path))
	event = nextEvent(t, w)
	assert.Equal(t, watch.Deleted, event.Type)
	stream, ok = event.Object.(*v1alpha1.Stream)
	require.True(t, ok)
	assert.Equal(t, "orders", stream.Name)
}

func TestFilesystemWatch_ExistingFileReportsModified(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "orders.yaml", ordersManifest)
	fs := newTestFilesystem(t, dir)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := fs.Watch(ctx, "ns1", labels.Everything())
	require.NoError(t, err)
	defer w.Stop()

	// The file predates the watch, so a rewrite is a modification, not an add.
	writeManifest(t, dir, "orders.yaml", ordersManifest)
	event := nextEvent(t, w)
	assert.Equal(t, watch.Modified, event.Type)
}

func TestFilesystemWatch_SelectorFiltersEvents(t *testing.T) {
	dir := t.TempDir()
	fs := newTestFilesystem(t, dir)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	selector, err := labels.Parse("team=payments")
	require.NoError(t, err)
	w, err := fs.Watch(ctx, "ns1", selector)
	require.NoError(t, err)
	defer w.Stop()

	writeManifest(t, dir, "audit.yaml", auditManifest)
	writeManifest(t, dir, "orders.yaml", ordersManifest)

	event := nextEvent(t, w)
	assert.Equal(t, watch.Added, event.Type)
	stream, ok := event.Object.(*v1alpha1.Stream)
	require.True(t, ok)
	assert.Equal(t, "orders", stream.Name, "the non-matching stream must not produce an event")
}
