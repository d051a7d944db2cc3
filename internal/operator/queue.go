package operator

import (
	"context"
	"sync"
)

// workQueue is the dispatcher-to-worker buffer. It deduplicates by stream:
// a key already waiting is replaced in place, and a key currently being
// reconciled is parked as dirty and requeued once the worker finishes, so a
// burst of events for one stream collapses into at most one pending run.
type workQueue struct {
	mu sync.Mutex

	// pending holds keys in FIFO order.
	pending []Key

	// processing tracks streams a worker currently holds.
	processing map[string]bool

	// dirty holds the latest key for streams that changed mid-run.
	dirty map[string]Key

	cond *sync.Cond

	shuttingDown bool
}

func newWorkQueue() *workQueue {
	q := &workQueue{
		processing: make(map[string]bool),
		dirty:      make(map[string]Key),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func queueID(k Key) string {
	return k.Namespace + "/" + k.Name
}

// Add enqueues a key, coalescing with any pending or in-flight run for the
// same stream.
func (q *workQueue) Add(key Key) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.shuttingDown {
		return
	}

	id := queueID(key)
	if q.processing[id] {
		q.dirty[id] = key
		return
	}
	for i, waiting := range q.pending {
		if queueID(waiting) == id {
			q.pending[i] = key
			return
		}
	}
	q.pending = append(q.pending, key)
	q.cond.Signal()
}

// Get blocks until a key is available or the queue shuts down. The second
// return is false when there is nothing left to do.
func (q *workQueue) Get(ctx context.Context) (Key, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.pending) == 0 && !q.shuttingDown {
		select {
		case <-ctx.Done():
			return Key{}, false
		default:
		}

		// cond.Wait cannot watch the context, so a helper goroutine
		// broadcasts when the context ends. The done channel stops the
		// helper on a normal wakeup.
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				q.mu.Lock()
				q.cond.Broadcast()
				q.mu.Unlock()
			case <-done:
			}
		}()

		q.cond.Wait()
		close(done)

		select {
		case <-ctx.Done():
			return Key{}, false
		default:
		}
	}

	if q.shuttingDown && len(q.pending) == 0 {
		return Key{}, false
	}

	key := q.pending[0]
	q.pending = q.pending[1:]
	q.processing[queueID(key)] = true
	return key, true
}

// Done releases a stream a worker finished with, requeuing it if it went
// dirty in the meantime.
func (q *workQueue) Done(key Key) {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := queueID(key)
	delete(q.processing, id)

	if parked, ok := q.dirty[id]; ok {
		delete(q.dirty, id)
		q.pending = append(q.pending, parked)
		q.cond.Signal()
	}
}

// Len reports how many keys are waiting.
func (q *workQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Shutdown stops the queue accepting new keys. Pending keys are still
// handed out; Get returns false once they are drained.
func (q *workQueue) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.shuttingDown = true
	q.cond.Broadcast()
}
