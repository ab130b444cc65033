// Package session owns the lifecycle of a recording: opening capture
// devices, running the mix/encode pipeline, and handing the finished
// artifact to the dispatcher.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/MrWong99/tapedeck/internal/config"
	"github.com/MrWong99/tapedeck/internal/dispatch"
	"github.com/MrWong99/tapedeck/internal/encoder"
	"github.com/MrWong99/tapedeck/internal/notify"
	"github.com/MrWong99/tapedeck/internal/observe"
	"github.com/MrWong99/tapedeck/pkg/audio"
	"github.com/MrWong99/tapedeck/pkg/audio/capture"
	"github.com/MrWong99/tapedeck/pkg/audio/mixer"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

// ErrDirectoryUnavailable is returned by Start when the configured save
// directory does not exist and cannot be created.
var ErrDirectoryUnavailable = errors.New("session: save directory unavailable")

// Source is the slice of a capture device the session drives. Implemented by
// [capture.Source]; tests substitute fakes.
type Source interface {
	NextFrame() ([]int16, bool)
	Gain() float64
	SetGain(linear float64)
	Level() float64
	Stats() capture.Stats
	Close() error
}

// Opener opens a capture source for the given device index. Injected so
// tests can run the full lifecycle without real audio hardware.
type Opener func(deviceIndex int, id audio.SourceID, gain float64) (Source, error)

// Lister enumerates input-capable devices. Defaults to [capture.ListDevices].
type Lister func() ([]capture.DeviceInfo, error)

// Encoder is the sink mixed frames are pushed into. Implemented by
// [encoder.Encoder]; tests substitute failing fakes.
type Encoder interface {
	Start(path string) error
	Push(frame []int16) error
	Finish() (encoder.Artifact, error)
	Abort() error
	Frames() uint64
}

func defaultOpener(deviceIndex int, id audio.SourceID, gain float64) (Source, error) {
	return capture.Open(deviceIndex, id, capture.WithGain(gain))
}

// Option configures a [Manager].
type Option func(*Manager)

// WithOpener replaces the device opener. Used by tests.
func WithOpener(o Opener) Option {
	return func(m *Manager) {
		m.open = o
	}
}

// WithLister replaces the device lister. Used by tests.
func WithLister(l Lister) Option {
	return func(m *Manager) {
		m.list = l
	}
}

// WithEncoderFactory replaces the encoder constructor. Used by tests.
func WithEncoderFactory(f func() Encoder) Option {
	return func(m *Manager) {
		m.newEncoder = f
	}
}

// Info holds metadata about the active recording.
type Info struct {
	// Path is the output file the recording is written to.
	Path string

	// StartedAt is when the recording entered the recording state.
	StartedAt time.Time

	// Sources lists the capture sources feeding the mix.
	Sources []audio.SourceID
}

// boundSource pairs an open source with its pipeline identity.
type boundSource struct {
	id  audio.SourceID
	src Source
}

// Manager runs at most one recording at a time. All exported methods are
// safe for concurrent use.
type Manager struct {
	mu    sync.Mutex
	state State
	snap  config.Snapshot
	info  Info

	enc     Encoder
	mix     *mixer.Mixer
	sources []boundSource

	pausedAt    time.Time
	pausedTotal time.Duration

	// pushErr holds the first encoder failure seen by the mixer output
	// callback. It has its own lock: the callback runs on the pipeline
	// goroutine, which teardown waits for while holding mu, so the callback
	// must never block on mu.
	pushMu  sync.Mutex
	pushErr error

	dispatcher *dispatch.Dispatcher
	notifier   *notify.Notifier
	metrics    *observe.Metrics
	open       Opener
	list       Lister
	newEncoder func() Encoder
}

// New creates a Manager. The dispatcher receives every finalized artifact;
// the notifier reports save failures.
func New(dispatcher *dispatch.Dispatcher, notifier *notify.Notifier, opts ...Option) *Manager {
	m := &Manager{
		state:      StateIdle,
		dispatcher: dispatcher,
		notifier:   notifier,
		metrics:    observe.DefaultMetrics(),
		open:       defaultOpener,
		list:       capture.ListDevices,
		newEncoder: func() Encoder { return encoder.New() },
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Info returns metadata about the active recording.
// Returns the zero value when nothing is recording.
func (m *Manager) Info() Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info
}

// Start begins a new recording using the settings in snap. Devices that
// cannot be opened are skipped with a warning; Start fails only when the
// save directory is unusable, the output file cannot be created, or no
// capture source opens at all.
func (m *Manager) Start(ctx context.Context, snap config.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.state.CanTransition(StateStarting) {
		return fmt.Errorf("session: cannot start while %s", m.state)
	}
	m.state = StateStarting

	dir := snap.SaveDirectory
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		m.state = StateAborted
		err = fmt.Errorf("%w: %w", ErrDirectoryUnavailable, err)
		m.notifyFailure("record", fmt.Sprintf("recording could not be started: %v", err))
		return err
	}

	now := time.Now()
	path := recordingPath(dir, now)

	enc := m.newEncoder()
	if err := enc.Start(path); err != nil {
		m.state = StateAborted
		err = fmt.Errorf("session: create output file: %w", err)
		m.notifyFailure("record", fmt.Sprintf("recording could not be started: %v", err))
		return err
	}

	sources, err := m.openSources(snap)
	if err != nil {
		_ = enc.Abort()
		m.state = StateAborted
		m.notifyFailure("record", fmt.Sprintf("recording could not be started: %v", err))
		return err
	}

	// Clear any error left by a previous session before the first tick can
	// report a new one.
	m.setPushErr(nil)

	mix := mixer.New(func(frame []int16) {
		if err := enc.Push(frame); err != nil {
			m.encodeFailed(err)
		}
	})
	ids := make([]audio.SourceID, 0, len(sources))
	for _, b := range sources {
		mix.AddSource(b.src)
		ids = append(ids, b.id)
	}
	mix.Start()

	m.snap = snap
	m.enc = enc
	m.mix = mix
	m.sources = sources
	m.pausedTotal = 0
	m.info = Info{Path: path, StartedAt: now, Sources: ids}
	m.state = StateRecording
	m.metrics.ActiveSessions.Add(ctx, 1)

	slog.Info("recording started",
		"path", path,
		"sources", len(sources),
		"mic_gain", snap.MicGain,
	)
	return nil
}

// openSources resolves device indices and opens the mic and loopback
// sources. Either may be missing; both missing is an error.
func (m *Manager) openSources(snap config.Snapshot) ([]boundSource, error) {
	devices, err := m.list()
	if err != nil {
		return nil, fmt.Errorf("session: enumerate devices: %w", err)
	}

	var sources []boundSource
	add := func(id audio.SourceID, configured *int, autoIndex int, gain float64) {
		idx := autoIndex
		if configured != nil {
			if deviceExists(devices, *configured) {
				idx = *configured
			} else {
				slog.Warn("configured device not found, falling back to auto-detect",
					"source", id, "index", *configured)
			}
		}
		if idx < 0 {
			slog.Warn("no device available", "source", id)
			return
		}
		src, err := m.open(idx, id, gain)
		if err != nil {
			slog.Warn("device could not be opened, continuing without it",
				"source", id, "index", idx, "err", err)
			return
		}
		sources = append(sources, boundSource{id: id, src: src})
	}

	add(audio.SourceMic, snap.MicIndex, capture.DefaultMicIndex(devices), snap.MicGain)
	add(audio.SourceLoopback, snap.LoopbackIndex, capture.DefaultLoopbackIndex(devices), 1.0)

	if len(sources) == 0 {
		return nil, fmt.Errorf("session: no capture source available")
	}
	return sources, nil
}

// Pause stops feeding mixed audio to the encoder. Capture keeps running so
// level meters stay live. No-op error when not recording.
func (m *Manager) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateRecording {
		return fmt.Errorf("session: cannot pause while %s", m.state)
	}
	m.state = StatePaused
	m.pausedAt = time.Now()
	m.mix.SetPaused(true)
	slog.Info("recording paused", "path", m.info.Path)
	return nil
}

// Resume continues a paused recording.
func (m *Manager) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StatePaused {
		return fmt.Errorf("session: cannot resume while %s", m.state)
	}
	m.pausedTotal += time.Since(m.pausedAt)
	m.state = StateRecording
	m.mix.SetPaused(false)
	slog.Info("recording resumed", "path", m.info.Path)
	return nil
}

// Stop ends the recording: the pipeline is drained, the file finalized, and
// the artifact handed to the dispatcher. The upload (if any) runs in the
// background; Stop does not wait for it.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.state.CanTransition(StateStopping) {
		return fmt.Errorf("session: cannot stop while %s", m.state)
	}
	m.state = StateStopping

	path := m.info.Path
	m.teardownPipeline()

	if err := m.firstPushErr(); err != nil {
		err = fmt.Errorf("session: encode failed mid-recording: %w", err)
		m.abortLocked(ctx, err)
		return err
	}

	art, err := m.enc.Finish()
	if err != nil {
		m.abortLocked(ctx, err)
		return fmt.Errorf("session: finalize recording: %w", err)
	}

	m.recordStats(ctx, art)
	m.metrics.ActiveSessions.Add(ctx, -1)

	policy := dispatch.PolicyFor(m.snap.SaveLocally, m.snap.UploadEnabled)
	m.dispatcher.Dispatch(art, policy, m.snap.Endpoint)

	m.clearPipeline()
	m.state = StateFinalized

	slog.Info("recording finalized",
		"path", path,
		"size", art.Size,
		"duration", art.Duration,
		"policy", policy,
	)
	return nil
}

// Abort cancels the recording and deletes any partial file. Safe to call
// from any active state; no-op when nothing is recording.
func (m *Manager) Abort(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateIdle, StateFinalized, StateAborted:
		return nil
	}
	m.teardownPipeline()
	// A pending encoder error means this abort is a failure the user must
	// hear about, not a deliberate cancel.
	var cause error
	if err := m.firstPushErr(); err != nil {
		cause = fmt.Errorf("session: encode failed mid-recording: %w", err)
	}
	m.abortLocked(ctx, cause)
	return nil
}

// Elapsed returns how much audio has been recorded, excluding paused time.
func (m *Manager) Elapsed() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateRecording, StateStopping:
		return time.Since(m.info.StartedAt) - m.pausedTotal
	case StatePaused:
		return m.pausedAt.Sub(m.info.StartedAt) - m.pausedTotal
	}
	return 0
}

// Levels returns the current RMS level per source, normalized to [0, 1].
func (m *Manager) Levels() map[audio.SourceID]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	levels := make(map[audio.SourceID]float64, len(m.sources))
	for _, b := range m.sources {
		levels[b.id] = b.src.Level()
	}
	return levels
}

// SetMicGain adjusts the microphone gain of the active recording.
func (m *Manager) SetMicGain(linear float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	linear = audio.ClampGain(linear)
	for _, b := range m.sources {
		if b.id == audio.SourceMic {
			b.src.SetGain(linear)
		}
	}
}

// encodeFailed records the first encoder error and aborts the session from
// a separate goroutine. It runs on the pipeline goroutine, which Stop and
// Abort wait for while holding mu, so it must only touch pushMu.
func (m *Manager) encodeFailed(err error) {
	m.pushMu.Lock()
	if m.pushErr != nil {
		m.pushMu.Unlock()
		return
	}
	m.pushErr = err
	m.pushMu.Unlock()

	slog.Error("encoder failure, aborting recording", "err", err)
	go func() {
		_ = m.Abort(context.Background())
	}()
}

func (m *Manager) setPushErr(err error) {
	m.pushMu.Lock()
	m.pushErr = err
	m.pushMu.Unlock()
}

// firstPushErr returns the first encoder error seen by the mixer callback,
// or nil.
func (m *Manager) firstPushErr() error {
	m.pushMu.Lock()
	defer m.pushMu.Unlock()
	return m.pushErr
}

// teardownPipeline stops the mixer, closes the sources, and pushes any
// frames still queued so the tail of the recording is not lost.
// Caller holds m.mu.
func (m *Manager) teardownPipeline() {
	if m.mix != nil {
		_ = m.mix.Close()
	}
	// Closing a source waits for its capture goroutine; do them in parallel
	// so teardown is bounded by the slowest device, not the sum.
	var g errgroup.Group
	for _, b := range m.sources {
		g.Go(func() error {
			if err := b.src.Close(); err != nil {
				slog.Warn("closing capture source", "source", b.id, "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	if m.firstPushErr() == nil && m.enc != nil {
		m.drainSources()
	}
}

// drainSources flushes frames left in the capture queues through the mix
// into the encoder. Caller holds m.mu.
func (m *Manager) drainSources() {
	for {
		var frames [][]int16
		var gains []float64
		for _, b := range m.sources {
			if samples, ok := b.src.NextFrame(); ok {
				frames = append(frames, samples)
				gains = append(gains, b.src.Gain())
			}
		}
		if len(frames) == 0 {
			return
		}
		mixed := mixer.MixFrames(frames, gains, audio.FrameSize)
		if err := m.enc.Push(mixed); err != nil {
			slog.Warn("drain push failed, discarding remaining frames", "err", err)
			return
		}
	}
}

// abortLocked discards the partial file, notifies, and resets to Aborted.
// Caller holds m.mu; the pipeline must already be torn down.
func (m *Manager) abortLocked(ctx context.Context, cause error) {
	path := m.info.Path
	if m.enc != nil {
		if err := m.enc.Abort(); err != nil {
			slog.Warn("discarding partial recording", "path", path, "err", err)
		}
	}
	if cause != nil {
		m.notifyFailure("save", fmt.Sprintf("recording could not be saved: %v", cause))
	}
	m.metrics.ActiveSessions.Add(ctx, -1)
	m.clearPipeline()
	m.state = StateAborted
	slog.Warn("recording aborted", "path", path, "cause", cause)
}

// notifyFailure surfaces a failed start or save to the desktop.
func (m *Manager) notifyFailure(scope, detail string) {
	if m.notifier == nil {
		return
	}
	m.notifier.Notify(notify.Event{
		Kind:    notify.KindFailure,
		Context: scope,
		Detail:  detail,
	})
}

// recordStats flushes per-source capture counters and pipeline totals to the
// metrics instruments. Caller holds m.mu.
func (m *Manager) recordStats(ctx context.Context, art encoder.Artifact) {
	for _, b := range m.sources {
		st := b.src.Stats()
		m.metrics.RecordCapture(ctx, string(b.id), st.Captured, st.Dropped)
	}
	m.metrics.FramesMixed.Add(ctx, int64(m.enc.Frames()))
	m.metrics.EncodedBytes.Add(ctx, art.Size,
		metric.WithAttributes(attribute.String("container", "ogg")))
}

// clearPipeline drops all per-recording state. Caller holds m.mu.
func (m *Manager) clearPipeline() {
	m.enc = nil
	m.mix = nil
	m.sources = nil
	m.info = Info{}
	m.pausedAt = time.Time{}
}

// deviceExists reports whether index names a device in the enumeration.
func deviceExists(devices []capture.DeviceInfo, index int) bool {
	for _, d := range devices {
		if d.Index == index {
			return true
		}
	}
	return false
}

// recordingPath builds the output filename recording_YYYYMMDD_HHMMSS.ogg
// inside dir, appending _2, _3, ... when a file for that second already exists.
func recordingPath(dir string, now time.Time) string {
	base := "recording_" + now.Format("20060102_150405")
	path := filepath.Join(dir, base+".ogg")
	for n := 2; ; n++ {
		if _, err := os.Stat(path); err != nil {
			return path
		}
		path = filepath.Join(dir, fmt.Sprintf("%s_%d.ogg", base, n))
	}
}
