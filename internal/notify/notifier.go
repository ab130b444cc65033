// Package notify delivers user-facing desktop notifications for recording and
// dispatch outcomes.
//
// Delivery runs on a dedicated worker goroutine fed by a buffered channel so
// that a slow or broken desktop notification daemon never stalls the pipeline
// or the dispatcher. Presentation is delegated to a [Backend]; the default
// uses the host desktop notification facility.
package notify

import (
	"log/slog"
	"sync"

	"github.com/gen2brain/beeep"
)

// appName is the application name shown by the desktop notification daemon.
const appName = "Audio Recorder"

// Kind classifies a notification event.
type Kind int

const (
	// KindSuccess reports a completed operation.
	KindSuccess Kind = iota

	// KindFailure reports a failed operation.
	KindFailure
)

// String returns the human-readable name of the kind.
func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Event is one user-facing outcome to present. Context names the operation
// the outcome belongs to ("save", "upload", "record").
type Event struct {
	Kind    Kind
	Context string
	Detail  string
}

// Backend delivers one rendered notification. Implementations must be safe
// for sequential use from the worker goroutine.
type Backend interface {
	Send(title, body string) error
}

// beeepBackend delivers through the host desktop notification facility.
type beeepBackend struct{}

func (beeepBackend) Send(title, body string) error {
	return beeep.Notify(title, body, "")
}

// Option configures a [Notifier].
type Option func(*Notifier)

// WithBackend replaces the desktop backend. Used by tests.
func WithBackend(b Backend) Option {
	return func(n *Notifier) {
		n.backend = b
	}
}

// Notifier queues events and delivers them on a background worker goroutine.
// All exported methods are safe for concurrent use.
type Notifier struct {
	backend Backend
	events  chan Event
	done    chan struct{}
	wg      sync.WaitGroup

	closeOnce sync.Once
}

// New creates a Notifier and starts its delivery goroutine.
func New(opts ...Option) *Notifier {
	n := &Notifier{
		backend: beeepBackend{},
		events:  make(chan Event, 16),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(n)
	}
	n.wg.Add(1)
	go n.deliver()
	return n
}

// Notify queues an event for delivery. Never blocks: if the queue is full the
// event is logged and dropped rather than stalling the caller.
func (n *Notifier) Notify(ev Event) {
	select {
	case <-n.done:
	case n.events <- ev:
	default:
		slog.Warn("notification queue full, dropping", "kind", ev.Kind, "context", ev.Context, "detail", ev.Detail)
	}
}

// Close stops the delivery goroutine after draining queued events.
// Idempotent. The events channel is never closed so a late Notify from
// another goroutine cannot panic.
func (n *Notifier) Close() error {
	n.closeOnce.Do(func() {
		close(n.done)
		n.wg.Wait()
	})
	return nil
}

// deliver is the worker goroutine: renders and sends queued events in order.
// On shutdown it drains whatever is already queued before returning.
func (n *Notifier) deliver() {
	defer n.wg.Done()
	for {
		select {
		case ev := <-n.events:
			n.send(ev)
		case <-n.done:
			for {
				select {
				case ev := <-n.events:
					n.send(ev)
				default:
					return
				}
			}
		}
	}
}

func (n *Notifier) send(ev Event) {
	title, body := render(ev)
	if err := n.backend.Send(title, body); err != nil {
		slog.Warn("notification delivery failed", "context", ev.Context, "err", err)
	}
}

// render maps an event to the title/body pair shown to the user.
func render(ev Event) (title, body string) {
	switch {
	case ev.Context == "upload" && ev.Kind == KindSuccess:
		title = appName + " — upload complete"
	case ev.Context == "upload":
		title = appName + " — upload failed"
	case ev.Context == "save" && ev.Kind == KindSuccess:
		title = appName + " — recording saved"
	case ev.Context == "save":
		title = appName + " — save failed"
	case ev.Context == "record" && ev.Kind == KindFailure:
		title = appName + " — recording failed"
	case ev.Kind == KindSuccess:
		title = appName
	default:
		title = appName + " — error"
	}
	return title, ev.Detail
}
