// Package dispatch applies the configured storage policy to finished
// recording artifacts.
//
// A dedicated worker goroutine consumes one-shot dispatch requests so that
// network latency (up to the upload timeout) never blocks the recording
// session or the UI. Outcomes are reported through the notification channel
// and an optional results channel; never through shared mutable state.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/MrWong99/tapedeck/internal/encoder"
	"github.com/MrWong99/tapedeck/internal/notify"
	"github.com/MrWong99/tapedeck/internal/observe"
	"github.com/MrWong99/tapedeck/internal/upload"
)

// Policy is the configured disposition of a finished artifact.
type Policy int

const (
	// PolicyLocalOnly keeps the artifact at its final path; no network.
	PolicyLocalOnly Policy = iota

	// PolicyUploadOnly uploads the artifact and deletes the local copy only
	// after a successful transfer.
	PolicyUploadOnly

	// PolicyHybrid uploads the artifact and keeps the local copy regardless
	// of the upload outcome.
	PolicyHybrid
)

// String returns the human-readable name of the policy.
func (p Policy) String() string {
	switch p {
	case PolicyLocalOnly:
		return "LOCAL_ONLY"
	case PolicyUploadOnly:
		return "UPLOAD_ONLY"
	case PolicyHybrid:
		return "HYBRID"
	default:
		return "UNKNOWN"
	}
}

// PolicyFor derives the policy from the configuration snapshot flags.
// Both flags off is a degenerate configuration; it resolves to LocalOnly so
// a recording is never silently discarded.
func PolicyFor(saveLocally, uploadEnabled bool) Policy {
	switch {
	case uploadEnabled && saveLocally:
		return PolicyHybrid
	case uploadEnabled:
		return PolicyUploadOnly
	case !saveLocally:
		slog.Warn("neither local save nor upload enabled; keeping recording locally")
		return PolicyLocalOnly
	default:
		return PolicyLocalOnly
	}
}

// Uploader is the network transfer dependency. [upload.Client] implements it;
// tests supply fakes.
type Uploader interface {
	Upload(ctx context.Context, art encoder.Artifact, endpoint string) upload.Outcome
}

// Result describes the outcome of one dispatch, delivered on [Dispatcher.Results].
type Result struct {
	Artifact encoder.Artifact
	Policy   Policy

	// Uploaded reports whether an upload was attempted and succeeded.
	Uploaded bool

	// Deleted reports whether the local file was removed (UploadOnly success).
	Deleted bool

	// UploadOutcome holds the transfer result when an upload was attempted.
	UploadOutcome upload.Outcome
}

// request is one unit of work for the worker goroutine.
type request struct {
	artifact encoder.Artifact
	policy   Policy
	endpoint string
}

// Option configures a [Dispatcher].
type Option func(*Dispatcher)

// WithQueueSize sets the pending-dispatch queue capacity. Default 4.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan request, n)
		}
	}
}

// Dispatcher owns the storage-policy worker. Create with [New]; hand it
// artifacts with [Dispatcher.Dispatch]; stop it with [Dispatcher.Close],
// which drains pending work first.
type Dispatcher struct {
	uploader Uploader
	notifier *notify.Notifier
	metrics  *observe.Metrics

	queue   chan request
	results chan Result
	wg      sync.WaitGroup

	closeOnce sync.Once
}

// New creates a Dispatcher and starts its worker goroutine.
func New(uploader Uploader, notifier *notify.Notifier, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		uploader: uploader,
		notifier: notifier,
		metrics:  observe.DefaultMetrics(),
		queue:    make(chan request, 4),
		results:  make(chan Result, 4),
	}
	for _, o := range opts {
		o(d)
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Dispatch queues the artifact for disposition under the given policy.
// Returns immediately; the outcome arrives on [Dispatcher.Results] and the
// notification channel. Blocks only if the pending queue is full.
func (d *Dispatcher) Dispatch(art encoder.Artifact, policy Policy, endpoint string) {
	d.queue <- request{artifact: art, policy: policy, endpoint: endpoint}
}

// Results returns the channel carrying dispatch outcomes. Receives are
// optional: sends are best-effort and never block the worker.
func (d *Dispatcher) Results() <-chan Result {
	return d.results
}

// Close stops the worker after draining queued dispatches, then closes the
// results channel. Idempotent.
func (d *Dispatcher) Close() error {
	d.closeOnce.Do(func() {
		close(d.queue)
		d.wg.Wait()
		close(d.results)
	})
	return nil
}

// run is the worker goroutine.
func (d *Dispatcher) run() {
	defer d.wg.Done()
	for req := range d.queue {
		res := d.process(req)
		select {
		case d.results <- res:
		default:
		}
	}
}

// process applies the policy to one artifact. The local file survives any
// upload failure: only an UploadOnly policy with a successful transfer may
// delete it.
func (d *Dispatcher) process(req request) Result {
	res := Result{Artifact: req.artifact, Policy: req.policy}
	ctx := context.Background()

	switch req.policy {
	case PolicyLocalOnly:
		slog.Info("dispatch: kept locally", "path", req.artifact.Path, "bytes", req.artifact.Size)
		d.notifier.Notify(notify.Event{
			Kind:    notify.KindSuccess,
			Context: "save",
			Detail:  fmt.Sprintf("Saved %s", req.artifact.Path),
		})
		d.record(ctx, req.policy, "kept")
		return res

	case PolicyUploadOnly, PolicyHybrid:
		outcome := d.uploader.Upload(ctx, req.artifact, req.endpoint)
		res.UploadOutcome = outcome
		d.metrics.UploadDuration.Record(ctx, outcome.Duration.Seconds())

		if outcome.Status == upload.StatusSuccess {
			res.Uploaded = true
			if req.policy == PolicyUploadOnly {
				if err := os.Remove(req.artifact.Path); err != nil {
					slog.Warn("dispatch: delete after upload failed", "path", req.artifact.Path, "err", err)
				} else {
					res.Deleted = true
				}
			}
			d.notifier.Notify(notify.Event{
				Kind:    notify.KindSuccess,
				Context: "upload",
				Detail:  fmt.Sprintf("Uploaded %s (%.1f KiB)", req.artifact.Path, float64(req.artifact.Size)/1024),
			})
			d.record(ctx, req.policy, "uploaded")
			return res
		}

		// Failed or timed-out upload: the local copy is deliberately kept,
		// whatever the policy. A failed network operation must never cost
		// the user their recording.
		detail := outcome.Reason
		if outcome.Status == upload.StatusTimedOut {
			detail = "upload timed out; recording kept at " + req.artifact.Path
		} else {
			detail = fmt.Sprintf("upload failed (%s); recording kept at %s", outcome.Reason, req.artifact.Path)
		}
		d.notifier.Notify(notify.Event{
			Kind:    notify.KindFailure,
			Context: "upload",
			Detail:  detail,
		})
		d.record(ctx, req.policy, "upload_"+outcome.Status.String())
		return res

	default:
		slog.Error("dispatch: unknown policy", "policy", req.policy)
		d.record(ctx, req.policy, "unknown_policy")
		return res
	}
}

// record increments the dispatch outcome counter.
func (d *Dispatcher) record(ctx context.Context, policy Policy, status string) {
	d.metrics.RecordDispatch(ctx, policy.String(), status)
}
