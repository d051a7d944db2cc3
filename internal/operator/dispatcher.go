package operator

import (
	"context"
	"sync/atomic"
	"time"

	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/watch"

	"streamop/internal/metrics"
	"streamop/internal/source"
	"streamop/pkg/apis/streamop/v1alpha1"
	"streamop/pkg/logging"
)

const dispatcherSubsystem = "dispatcher"

const (
	rewatchBackoffInitial = time.Second
	rewatchBackoffMax     = 30 * time.Second
)

// Dispatcher feeds the controller from the notification stream. Normal
// events enqueue single-stream work; anything that casts doubt on the
// stream's completeness escalates to a full sweep, because events may have
// been missed.
type Dispatcher struct {
	source     source.Source
	controller *Controller
	namespace  string
	selector   labels.Selector
	metrics    *metrics.Metrics

	// sweeping coalesces escalations: one failure-triggered sweep at a
	// time, later failures during it re-establish the watch only.
	sweeping atomic.Bool

	// bookmarkVersion is the resource version of the last bookmark,
	// kept for log context only.
	bookmarkVersion string
}

// NewDispatcher creates a dispatcher over the given source.
func NewDispatcher(src source.Source, controller *Controller, namespace string, selector labels.Selector, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		source:     src,
		controller: controller,
		namespace:  namespace,
		selector:   selector,
		metrics:    m,
	}
}

// Run establishes the watch and consumes it until the context ends,
// re-establishing with backoff whenever the stream breaks.
func (d *Dispatcher) Run(ctx context.Context) error {
	backoff := rewatchBackoffInitial
	for {
		w, err := d.source.Watch(ctx, d.namespace, d.selector)
		if err != nil {
			logging.Error(dispatcherSubsystem, err, "Watch could not be established, retrying in %s", backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, rewatchBackoffMax)
			continue
		}
		backoff = rewatchBackoffInitial
		logging.Info(dispatcherSubsystem, "Watching streams in %s", d.namespace)

		trigger, alive := d.consume(ctx, w)
		w.Stop()
		if !alive {
			return ctx.Err()
		}

		d.metrics.RecordWatchRestart()
		d.escalate(ctx, trigger)
	}
}

// consume drains one watch stream. It returns the escalation trigger and
// true when the stream broke, or false when the context ended.
func (d *Dispatcher) consume(ctx context.Context, w watch.Interface) (Trigger, bool) {
	for {
		select {
		case <-ctx.Done():
			return "", false
		case event, ok := <-w.ResultChan():
			if !ok {
				logging.Warn(dispatcherSubsystem, "Notification stream closed, resyncing")
				return TriggerWatchClosed, true
			}
			d.dispatch(ctx, event)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, event watch.Event) {
	switch event.Type {
	case watch.Added, watch.Modified, watch.Deleted:
		stream, ok := event.Object.(*v1alpha1.Stream)
		if !ok {
			logging.Warn(dispatcherSubsystem, "Notification carried a %T, not a Stream", event.Object)
			d.escalate(ctx, TriggerWatchUnknown)
			return
		}
		d.controller.Enqueue(Key{
			Namespace: stream.Namespace,
			Name:      stream.Name,
			Trigger:   TriggerWatch,
		})

	case watch.Error:
		logging.Warn(dispatcherSubsystem, "Notification stream reported an error: %v", event.Object)
		d.escalate(ctx, TriggerWatchError)

	case watch.Bookmark:
		if stream, ok := event.Object.(*v1alpha1.Stream); ok {
			d.bookmarkVersion = stream.ResourceVersion
		}
		logging.Debug(dispatcherSubsystem, "Bookmark at resource version %s", d.bookmarkVersion)

	default:
		logging.Warn(dispatcherSubsystem, "Unrecognized notification %q, resyncing to be safe", event.Type)
		d.escalate(ctx, TriggerWatchUnknown)
	}
}

// escalate runs a full sweep off the dispatch path. While one escalation
// sweep runs, further escalations coalesce into it: the sweep that is
// already running reconciles an at-least-as-fresh view of the world.
func (d *Dispatcher) escalate(ctx context.Context, trigger Trigger) {
	if !d.sweeping.CompareAndSwap(false, true) {
		logging.Info(dispatcherSubsystem, "Escalation (%s) coalesced into the running sweep", trigger)
		return
	}
	go func() {
		defer d.sweeping.Store(false)
		sweep, err := d.controller.ReconcileAll(ctx, trigger)
		if err != nil {
			logging.Error(dispatcherSubsystem, err, "Escalation sweep could not start")
			return
		}
		if err := sweep.Wait(ctx); err != nil {
			return
		}
		logging.Info(dispatcherSubsystem, "Escalation sweep (%s) finished: %s", trigger, sweep.Summary())
	}()
}
