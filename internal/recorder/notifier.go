package recorder

import (
	"log/slog"
	"sync"
)

// Notifier delivers callbacks on its own goroutine in the order they were
// posted. Post never blocks the caller, so observer code can be slow without
// stalling buffer processing.
//
// The queue is unbounded; a consumer that never keeps up grows memory rather
// than dropping events, because dropped events would break the FIFO contract.
type Notifier struct {
	mu     sync.Mutex
	queue  []func()
	closed bool

	notify chan struct{} // signalled when a callback is enqueued or Close is called
	done   chan struct{} // closed when the dispatch goroutine exits
}

// NewNotifier starts a dispatch goroutine. Call Close to stop it.
func NewNotifier() *Notifier {
	n := &Notifier{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go n.dispatch()
	return n
}

// Post enqueues fn and returns immediately. It reports false once the
// notifier has been closed, in which case fn is dropped.
func (n *Notifier) Post(fn func()) bool {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return false
	}
	n.queue = append(n.queue, fn)
	n.mu.Unlock()

	select {
	case n.notify <- struct{}{}:
	default:
	}
	return true
}

// Flush blocks until every callback posted before the call has run.
func (n *Notifier) Flush() {
	reached := make(chan struct{})
	if !n.Post(func() { close(reached) }) {
		<-n.done
		return
	}
	select {
	case <-reached:
	case <-n.done:
	}
}

// Close delivers everything still queued, then stops the dispatch goroutine.
// It is safe to call more than once.
func (n *Notifier) Close() {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()

	select {
	case n.notify <- struct{}{}:
	default:
	}
	<-n.done
}

func (n *Notifier) dispatch() {
	defer close(n.done)
	for range n.notify {
		for {
			n.mu.Lock()
			if len(n.queue) == 0 {
				closed := n.closed
				n.mu.Unlock()
				if closed {
					return
				}
				break
			}
			fn := n.queue[0]
			n.queue[0] = nil
			n.queue = n.queue[1:]
			n.mu.Unlock()

			n.run(fn)
		}
	}
}

func (n *Notifier) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("recorder: observer callback panicked", "panic", r)
		}
	}()
	fn()
}
