// Package encoder turns the mixed PCM stream into a durable Ogg/Opus file.
//
// The encoder is the durability boundary of the pipeline: [Encoder.Finish]
// flushes and fsyncs the container before returning the artifact, so nothing
// downstream ever sees a partially written file.
package encoder

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"layeh.com/gopus"

	"github.com/MrWong99/tapedeck/pkg/audio"
)

var (
	// ErrCannotCreateFile is returned by [Encoder.Start] when the target file
	// cannot be created. Fatal to session start.
	ErrCannotCreateFile = errors.New("encoder: cannot create file")

	// ErrEncodeFailure is returned when encoding or container writing fails
	// mid-stream. The session aborts and the partial file is deleted.
	ErrEncodeFailure = errors.New("encoder: encode failure")
)

// Artifact is the finalized encoded recording. Created only by a successful
// [Encoder.Finish]; immutable thereafter. Ownership passes to the storage
// dispatcher, which is the only component allowed to delete the file.
type Artifact struct {
	// Path is the absolute path of the encoded file.
	Path string

	// Size is the file size in bytes.
	Size int64

	// CreatedAt is when the artifact was finalized.
	CreatedAt time.Time

	// Duration is the audio duration derived from the encoded frame count.
	Duration time.Duration
}

// Encoder consumes canonical-format mixed frames and writes an Ogg/Opus
// container incrementally. Usage: Start, then Push once per frame from the
// pipeline goroutine, then Finish (or Abort on failure).
//
// Push is called from a single goroutine; Start/Finish/Abort may race with
// it, so all state is mutex-protected.
type Encoder struct {
	mu       sync.Mutex
	opus     *gopus.Encoder
	ogg      *oggwriter.OggWriter
	file     *os.File
	path     string
	rtpSeq   uint16
	rtpTS    uint32
	frames   uint64
	started  bool
	finished bool
}

// New creates an idle Encoder.
func New() *Encoder {
	return &Encoder{}
}

// Start creates the target file and initialises the Opus encoder and Ogg
// container. Returns [ErrCannotCreateFile] if the file cannot be created.
func (e *Encoder) Start(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return fmt.Errorf("encoder: already started (path=%s)", e.path)
	}

	opusEnc, err := gopus.NewEncoder(audio.SampleRate, audio.Channels, gopus.Audio)
	if err != nil {
		return fmt.Errorf("%w: create opus encoder: %v", ErrEncodeFailure, err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCannotCreateFile, err)
	}

	ogg, err := oggwriter.NewWith(f, audio.SampleRate, audio.Channels)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return fmt.Errorf("%w: create ogg container: %v", ErrEncodeFailure, err)
	}

	e.opus = opusEnc
	e.ogg = ogg
	e.file = f
	e.path = path
	e.rtpSeq = 0
	e.rtpTS = 0
	e.frames = 0
	e.started = true
	e.finished = false

	slog.Debug("encoder started", "path", path)
	return nil
}

// Push encodes one mixed frame and appends it to the container. Frames
// shorter than the canonical size are zero-padded; longer ones truncated.
// On failure the encoder is unusable until the caller runs [Encoder.Abort].
func (e *Encoder) Push(samples []int16) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started || e.finished {
		return fmt.Errorf("encoder: push on inactive encoder")
	}

	if len(samples) != audio.FrameSize {
		padded := make([]int16, audio.FrameSize)
		copy(padded, samples)
		samples = padded
	}

	packet, err := e.opus.Encode(samples, audio.FrameSize, audio.FrameSize*2)
	if err != nil {
		return fmt.Errorf("%w: opus encode: %v", ErrEncodeFailure, err)
	}

	e.rtpSeq++
	e.rtpTS += uint32(audio.FrameSize)
	if err := e.ogg.WriteRTP(&rtp.Packet{
		Header:  rtp.Header{SequenceNumber: e.rtpSeq, Timestamp: e.rtpTS},
		Payload: packet,
	}); err != nil {
		return fmt.Errorf("%w: write ogg page: %v", ErrEncodeFailure, err)
	}

	e.frames++
	return nil
}

// Finish flushes the container, fsyncs, and closes the file, then returns the
// finalized artifact. The file is guaranteed durable on disk before Finish
// returns successfully. On failure the partial file is removed and
// [ErrEncodeFailure] returned.
func (e *Encoder) Finish() (Artifact, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started || e.finished {
		return Artifact{}, fmt.Errorf("encoder: finish on inactive encoder")
	}
	e.finished = true

	if err := e.ogg.Close(); err != nil {
		e.discardLocked()
		return Artifact{}, fmt.Errorf("%w: close ogg container: %v", ErrEncodeFailure, err)
	}
	if err := e.file.Sync(); err != nil {
		e.discardLocked()
		return Artifact{}, fmt.Errorf("%w: sync: %v", ErrEncodeFailure, err)
	}
	info, err := e.file.Stat()
	if err != nil {
		e.discardLocked()
		return Artifact{}, fmt.Errorf("%w: stat: %v", ErrEncodeFailure, err)
	}
	if err := e.file.Close(); err != nil {
		_ = os.Remove(e.path)
		return Artifact{}, fmt.Errorf("%w: close: %v", ErrEncodeFailure, err)
	}

	art := Artifact{
		Path:      e.path,
		Size:      info.Size(),
		CreatedAt: time.Now(),
		Duration:  time.Duration(e.frames) * audio.FrameDuration,
	}
	slog.Info("encoder finished", "path", art.Path, "bytes", art.Size, "duration", art.Duration)
	return art, nil
}

// Abort discards an in-progress encode: the file handle is closed and the
// partial file deleted. Safe to call whether or not Start succeeded;
// idempotent.
func (e *Encoder) Abort() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started || e.finished {
		return nil
	}
	e.finished = true
	e.discardLocked()
	slog.Warn("encoder aborted, partial file removed", "path", e.path)
	return nil
}

// Frames returns the number of frames encoded so far.
func (e *Encoder) Frames() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frames
}

// discardLocked closes and deletes the partial file. Must hold e.mu.
func (e *Encoder) discardLocked() {
	_ = e.file.Close()
	_ = os.Remove(e.path)
}
