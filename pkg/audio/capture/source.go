package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/tapedeck/pkg/audio"
)

// ErrDeviceUnavailable is returned by [Open] when the requested device index
// does not resolve to a usable input device. Callers treat the source as
// inactive rather than failing the whole recording.
var ErrDeviceUnavailable = errors.New("capture: device unavailable")

// Option configures a [Source] during [Open].
type Option func(*Source)

// WithQueueCapacity sets the frame queue capacity. Default: [DefaultQueueFrames].
func WithQueueCapacity(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.queue = NewFrameQueue(n)
		}
	}
}

// WithGain sets the initial linear gain. Default: 1.0.
func WithGain(linear float64) Option {
	return func(s *Source) {
		s.SetGain(linear)
	}
}

// Stats is a snapshot of a source's capture counters.
type Stats struct {
	// Captured is the number of canonical frames pushed to the queue.
	Captured uint64

	// Dropped is the number of frames discarded due to queue overflow.
	Dropped uint64
}

// Source wraps one open PortAudio input stream. A background goroutine reads
// hardware buffers, converts them to the canonical pipeline format, and
// pushes frames into the bounded queue until [Source.Close] is called.
//
// All exported methods are safe for concurrent use.
type Source struct {
	id     audio.SourceID
	queue  *FrameQueue
	stream *portaudio.Stream
	buf    []int16 // hardware read buffer, owned by the capture goroutine

	srcRate     int
	srcChannels int

	gain     atomic.Uint64 // math.Float64bits of the linear gain
	level    atomic.Uint64 // math.Float64bits of the last frame's RMS
	captured atomic.Uint64

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// Open opens the input device at the given enumeration index (as returned by
// [ListDevices]) and starts capturing. Returns [ErrDeviceUnavailable] if the
// index is out of range or the stream cannot be opened or started.
func Open(deviceIndex int, id audio.SourceID, opts ...Option) (*Source, error) {
	devs, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("capture: enumerate devices: %w", err)
	}

	// Resolve the enumeration index against input-capable devices only,
	// mirroring the order ListDevices exposes to configuration.
	var info *portaudio.DeviceInfo
	n := 0
	for _, d := range devs {
		if d.MaxInputChannels <= 0 {
			continue
		}
		if n == deviceIndex {
			info = d
			break
		}
		n++
	}
	if info == nil {
		return nil, fmt.Errorf("%w: no input device at index %d", ErrDeviceUnavailable, deviceIndex)
	}

	channels := info.MaxInputChannels
	if channels > 2 {
		channels = 2
	}
	rate := int(info.DefaultSampleRate)
	if rate <= 0 {
		rate = audio.SampleRate
	}
	// One hardware read per 20 ms pipeline tick, at the device's native rate.
	framesPerBuffer := rate * 20 / 1000

	s := &Source{
		id:          id,
		queue:       NewFrameQueue(DefaultQueueFrames),
		buf:         make([]int16, framesPerBuffer*channels),
		srcRate:     rate,
		srcChannels: channels,
		done:        make(chan struct{}),
	}
	s.SetGain(1.0)
	for _, o := range opts {
		o(s)
	}

	params := portaudio.LowLatencyParameters(info, nil)
	params.Input.Channels = channels
	params.SampleRate = float64(rate)
	params.FramesPerBuffer = framesPerBuffer

	stream, err := portaudio.OpenStream(params, s.buf)
	if err != nil {
		return nil, fmt.Errorf("%w: open stream for %q: %v", ErrDeviceUnavailable, info.Name, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("%w: start stream for %q: %v", ErrDeviceUnavailable, info.Name, err)
	}
	s.stream = stream

	slog.Info("capture source opened",
		"source", id,
		"device", info.Name,
		"rate", rate,
		"channels", channels,
	)

	s.wg.Add(1)
	go s.captureLoop()

	return s, nil
}

// ID returns the source identifier this adapter was opened with.
func (s *Source) ID() audio.SourceID { return s.id }

// NextFrame pops the oldest buffered frame and reports whether one was
// available. The mixer calls this once per tick; ok=false means the mixer
// substitutes silence for this source.
func (s *Source) NextFrame() ([]int16, bool) {
	f, ok := s.queue.Pop()
	if !ok {
		return nil, false
	}
	return f.Samples, true
}

// Gain returns the current linear gain factor for this source.
func (s *Source) Gain() float64 {
	return math.Float64frombits(s.gain.Load())
}

// SetGain updates the linear gain factor. Takes effect on the next mixer tick.
func (s *Source) SetGain(linear float64) {
	s.gain.Store(math.Float64bits(audio.ClampGain(linear)))
}

// Level returns the RMS level of the most recently captured frame, in [0, 1].
func (s *Source) Level() float64 {
	return math.Float64frombits(s.level.Load())
}

// Stats returns a snapshot of the capture counters.
func (s *Source) Stats() Stats {
	return Stats{
		Captured: s.captured.Load(),
		Dropped:  s.queue.Drops(),
	}
}

// Close stops the capture goroutine and releases the hardware stream.
// Idempotent; subsequent calls return the first result.
func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		// Abort blocks any in-flight blocking read so the goroutine can exit.
		if err := s.stream.Abort(); err != nil {
			s.closeErr = fmt.Errorf("capture: abort stream: %w", err)
		}
		s.wg.Wait()
		if err := s.stream.Close(); err != nil && s.closeErr == nil {
			s.closeErr = fmt.Errorf("capture: close stream: %w", err)
		}
		slog.Info("capture source closed", "source", s.id, "captured", s.captured.Load(), "dropped", s.queue.Drops())
	})
	return s.closeErr
}

// captureLoop reads hardware buffers until Close. It owns s.buf and the
// pending sample accumulator; nothing else touches them.
func (s *Source) captureLoop() {
	defer s.wg.Done()

	var pending []int16
	var seq uint64

	for {
		select {
		case <-s.done:
			return
		default:
		}

		if err := s.stream.Read(); err != nil {
			select {
			case <-s.done:
				// Expected: Abort interrupts the read during Close.
			default:
				slog.Warn("capture read error", "source", s.id, "err", err)
			}
			return
		}

		chunk := s.buf
		if s.srcChannels == 2 {
			chunk = audio.StereoToMono(chunk)
		} else {
			// Copy out of the reusable hardware buffer before conversion.
			cp := make([]int16, len(chunk))
			copy(cp, chunk)
			chunk = cp
		}
		chunk = audio.Resample(chunk, s.srcRate, audio.SampleRate)

		s.level.Store(math.Float64bits(audio.RMS(chunk)))

		// Emit full canonical frames; carry the remainder to the next read.
		pending = append(pending, chunk...)
		for len(pending) >= audio.FrameSize {
			samples := make([]int16, audio.FrameSize)
			copy(samples, pending[:audio.FrameSize])
			pending = pending[audio.FrameSize:]

			seq++
			s.queue.Push(audio.Frame{Samples: samples, Seq: seq, Source: s.id})
			s.captured.Add(1)
		}
	}
}
