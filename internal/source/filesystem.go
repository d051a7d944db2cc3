package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/watch"
	"sigs.k8s.io/yaml"

	"streamop/pkg/apis/streamop/v1alpha1"
	"streamop/pkg/logging"
)

const (
	subsystem       = "source.filesystem"
	defaultDebounce = 300 * time.Millisecond
)

// Filesystem serves Streams from a directory of YAML manifests, one Stream
// per file. It backs standalone mode, where no cluster is involved. Streams
// without a namespace in their manifest are placed in the source's
// namespace, and the Watch contract matches the cluster-backed source so the
// dispatcher cannot tell the two apart.
type Filesystem struct {
	dir       string
	namespace string
	debounce  time.Duration
}

// NewFilesystem creates a source over dir. A zero debounce picks the
// default; editors tend to produce several writes per save, and only the
// last one should turn into an event.
func NewFilesystem(dir, namespace string, debounce time.Duration) (*Filesystem, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stream manifest directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("stream manifest path %s is not a directory", dir)
	}
	if debounce == 0 {
		debounce = defaultDebounce
	}
	return &Filesystem{dir: dir, namespace: namespace, debounce: debounce}, nil
}

func (f *Filesystem) Get(ctx context.Context, namespace, name string) (*v1alpha1.Stream, error) {
	streams, err := f.load()
	if err != nil {
		return nil, err
	}
	for i := range streams {
		if streams[i].Name == name && streams[i].Namespace == namespace {
			return &streams[i], nil
		}
	}
	return nil, fmt.Errorf("stream %s/%s: %w", namespace, name, ErrNotFound)
}

func (f *Filesystem) List(ctx context.Context, namespace string, selector labels.Selector) ([]v1alpha1.Stream, error) {
	streams, err := f.load()
	if err != nil {
		return nil, err
	}
	matched := make([]v1alpha1.Stream, 0, len(streams))
	for _, s := range streams {
		if s.Namespace != namespace {
			continue
		}
		if selector != nil && !selector.Matches(labels.Set(s.Labels)) {
			continue
		}
		matched = append(matched, s)
	}
	return matched, nil
}

// Watch follows the manifest directory with fsnotify. File writes surface as
// Added or Modified depending on whether the path was seen before, removals
// as Deleted, and watcher failures as Error events, which the dispatcher
// escalates to a sweep.
func (f *Filesystem) Watch(ctx context.Context, namespace string, selector labels.Selector) (watch.Interface, error) {
	notify, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create manifest watcher: %w", err)
	}
	if err := notify.Add(f.dir); err != nil {
		notify.Close()
		return nil, fmt.Errorf("watch manifest directory %s: %w", f.dir, err)
	}

	w := &fsWatch{
		source:    f,
		namespace: namespace,
		selector:  selector,
		notify:    notify,
		events:    make(chan watch.Event, 64),
		known:     make(map[string]string),
		pending:   make(map[string]*time.Timer),
		stopCh:    make(chan struct{}),
	}

	// Seed the path index so the first change to an existing file reports
	// Modified, and a removal can still name the stream the file held.
	if streams, err := f.load(); err == nil {
		for _, s := range streams {
			w.known[filepath.Join(f.dir, s.Name+".yaml")] = s.Name
		}
	}

	go w.run(ctx)
	return w, nil
}

// load decodes every manifest in the directory. Files that fail to decode
// are skipped with a warning rather than failing the whole listing; a broken
// file must not stall reconciliation of its healthy neighbors.
func (f *Filesystem) load() ([]v1alpha1.Stream, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("read stream manifest directory: %w", err)
	}
	streams := make([]v1alpha1.Stream, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !isManifest(entry.Name()) {
			continue
		}
		path := filepath.Join(f.dir, entry.Name())
		stream, err := f.loadFile(path)
		if err != nil {
			logging.Warn(subsystem, "Skipping manifest %s: %v", path, err)
			continue
		}
		streams = append(streams, *stream)
	}
	return streams, nil
}

func (f *Filesystem) loadFile(path string) (*v1alpha1.Stream, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var stream v1alpha1.Stream
	if err := yaml.UnmarshalStrict(data, &stream); err != nil {
		return nil, fmt.Errorf("decode stream manifest: %w", err)
	}
	if stream.Name == "" {
		return nil, fmt.Errorf("stream manifest %s has no metadata.name", path)
	}
	if stream.Namespace == "" {
		stream.Namespace = f.namespace
	}
	return &stream, nil
}

func isManifest(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	ext := filepath.Ext(name)
	return ext == ".yaml" || ext == ".yml"
}

// fsWatch adapts fsnotify events to the watch.Interface contract.
type fsWatch struct {
	source    *Filesystem
	namespace string
	selector  labels.Selector
	notify    *fsnotify.Watcher
	events    chan watch.Event

	mu      sync.Mutex
	known   map[string]string // manifest path -> stream name
	pending map[string]*time.Timer

	stopOnce sync.Once
	stopCh   chan struct{}
}

func (w *fsWatch) ResultChan() <-chan watch.Event { return w.events }

func (w *fsWatch) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

func (w *fsWatch) run(ctx context.Context) {
	defer func() {
		w.notify.Close()
		w.mu.Lock()
		for _, timer := range w.pending {
			timer.Stop()
		}
		w.pending = make(map[string]*time.Timer)
		w.mu.Unlock()
		close(w.events)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.notify.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.notify.Errors:
			if !ok {
				return
			}
			logging.Error(subsystem, err, "Manifest watcher failed")
			w.emit(watch.Event{
				Type: watch.Error,
				Object: &metav1.Status{
					Status:  metav1.StatusFailure,
					Message: fmt.Sprintf("manifest watcher failed: %v", err),
				},
			})
		}
	}
}

func (w *fsWatch) handle(event fsnotify.Event) {
	if !isManifest(filepath.Base(event.Name)) {
		return
	}

	switch {
	case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
		w.debounce(event.Name)
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.mu.Lock()
		if timer, ok := w.pending[event.Name]; ok {
			timer.Stop()
			delete(w.pending, event.Name)
		}
		name, ok := w.known[event.Name]
		delete(w.known, event.Name)
		w.mu.Unlock()
		if !ok {
			return
		}
		stream := &v1alpha1.Stream{}
		stream.Name = name
		stream.Namespace = w.namespace
		w.emit(watch.Event{Type: watch.Deleted, Object: stream})
	}
}

// debounce collapses the write bursts editors produce into one event per
// file, fired after the writes go quiet.
func (w *fsWatch) debounce(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.pending[path]; ok {
		timer.Stop()
	}
	w.pending[path] = time.AfterFunc(w.source.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		select {
		case <-w.stopCh:
			return
		default:
		}
		w.fileChanged(path)
	})
}

func (w *fsWatch) fileChanged(path string) {
	stream, err := w.source.loadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		logging.Warn(subsystem, "Ignoring unreadable manifest %s: %v", path, err)
		return
	}
	if stream.Namespace != w.namespace {
		return
	}
	if w.selector != nil && !w.selector.Matches(labels.Set(stream.Labels)) {
		return
	}

	w.mu.Lock()
	_, seen := w.known[path]
	w.known[path] = stream.Name
	w.mu.Unlock()

	eventType := watch.Added
	if seen {
		eventType = watch.Modified
	}
	w.emit(watch.Event{Type: eventType, Object: stream})
}

func (w *fsWatch) emit(event watch.Event) {
	select {
	case w.events <- event:
	case <-w.stopCh:
	}
}
