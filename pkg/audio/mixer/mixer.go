// Package mixer combines zero or more capture sources into a single
// canonical-format PCM stream, applying per-source gain and saturating
// arithmetic.
package mixer

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/tapedeck/pkg/audio"
)

// Source is one input feeding the mixer. [capture.Source] implements this;
// tests supply fakes.
type Source interface {
	// NextFrame returns the next buffered frame for this source, or ok=false
	// when none is available. The mixer substitutes silence in that case so a
	// stalled or inactive device never blocks the tick.
	NextFrame() (samples []int16, ok bool)

	// Gain returns the linear gain factor to apply to this source's samples.
	Gain() float64
}

// Option configures a [Mixer] during construction.
type Option func(*Mixer)

// WithTick overrides the tick interval. Default: [audio.FrameDuration].
// Intended for tests that want faster cadence.
func WithTick(d time.Duration) Option {
	return func(m *Mixer) {
		if d > 0 {
			m.tick = d
		}
	}
}

// Stats is a snapshot of the mixer's counters.
type Stats struct {
	// Ticks is the number of mixed frames emitted.
	Ticks uint64

	// Silent is the number of per-source silence substitutions (empty queue
	// at tick time).
	Silent uint64
}

// Mixer produces exactly one mixed frame per tick from its sources and hands
// it to the output callback. It runs a single pipeline goroutine paced by a
// ticker; the output callback is invoked sequentially from that goroutine and
// must not block beyond short buffered writes.
//
// All exported methods are safe for concurrent use.
type Mixer struct {
	output func([]int16)
	tick   time.Duration

	mu      sync.Mutex
	sources []Source
	started bool
	closed  bool

	paused atomic.Bool
	ticks  atomic.Uint64
	silent atomic.Uint64

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a Mixer delivering mixed frames to output. The mixer does not
// start ticking until [Mixer.Start] is called, so sources can be attached
// first.
//
// output must not be nil; it is called once per tick from the pipeline
// goroutine.
func New(output func([]int16), opts ...Option) *Mixer {
	m := &Mixer{
		output: output,
		tick:   audio.FrameDuration,
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// AddSource attaches a source. Sources added after Start participate from the
// next tick.
func (m *Mixer) AddSource(s Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources = append(m.sources, s)
}

// Start begins the tick loop. Calling Start more than once is a no-op.
func (m *Mixer) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || m.closed {
		return
	}
	m.started = true
	m.wg.Add(1)
	go m.run()
}

// SetPaused suspends or resumes output. While paused the ticker keeps
// draining source queues (so capture backlog doesn't build up) but no frames
// reach the output callback.
func (m *Mixer) SetPaused(paused bool) {
	m.paused.Store(paused)
}

// Stats returns a snapshot of the mixer counters.
func (m *Mixer) Stats() Stats {
	return Stats{Ticks: m.ticks.Load(), Silent: m.silent.Load()}
}

// Close stops the tick loop and waits for the pipeline goroutine to exit.
// Idempotent.
func (m *Mixer) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	started := m.started
	m.mu.Unlock()

	close(m.done)
	if started {
		m.wg.Wait()
	}
	return nil
}

// run is the pipeline goroutine: one mixed frame per tick until Close.
func (m *Mixer) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.step()
		}
	}
}

// step performs one tick: poll each source round-robin, mix, emit.
func (m *Mixer) step() {
	m.mu.Lock()
	sources := make([]Source, len(m.sources))
	copy(sources, m.sources)
	m.mu.Unlock()

	frames := make([][]int16, 0, len(sources))
	gains := make([]float64, 0, len(sources))
	for _, src := range sources {
		samples, ok := src.NextFrame()
		if !ok {
			m.silent.Add(1)
			continue
		}
		frames = append(frames, samples)
		gains = append(gains, src.Gain())
	}

	if m.paused.Load() {
		return
	}

	m.ticks.Add(1)
	m.output(MixFrames(frames, gains, audio.FrameSize))
}

// MixFrames applies each gain to its frame, sums sample-wise, and clips to
// the int16 range. Missing or short frames contribute silence for the absent
// samples; with no frames at all the result is pure silence of size samples.
func MixFrames(frames [][]int16, gains []float64, size int) []int16 {
	out := make([]int16, size)
	if len(frames) == 0 {
		return out
	}

	acc := make([]int32, size)
	for i, frame := range frames {
		gain := 1.0
		if i < len(gains) {
			gain = gains[i]
		}
		for j, s := range frame {
			if j >= size {
				break
			}
			// Saturate the gain step before summing, matching what a single
			// over-driven source sounds like on its own.
			acc[j] += int32(audio.ClampSample(int32(math.Round(float64(s) * gain))))
		}
	}
	for j, v := range acc {
		out[j] = audio.ClampSample(v)
	}
	return out
}
