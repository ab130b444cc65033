package encoder_test

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/tapedeck/internal/encoder"
	"github.com/MrWong99/tapedeck/pkg/audio"
)

// sineFrame produces one canonical frame of a quiet 440 Hz tone so the Opus
// encoder has something other than digital silence to chew on.
func sineFrame(offset int) []int16 {
	frame := make([]int16, audio.FrameSize)
	for i := range frame {
		phase := float64(offset+i) * 2 * math.Pi * 440 / float64(audio.SampleRate)
		frame[i] = int16(math.Sin(phase) * 8000)
	}
	return frame
}

func encodeFrames(t *testing.T, e *encoder.Encoder, n int) {
	t.Helper()
	for i := range n {
		if err := e.Push(sineFrame(i * audio.FrameSize)); err != nil {
			t.Fatalf("Push frame %d: %v", i, err)
		}
	}
}

func TestEncoder_ProducesOggFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "out.ogg")

	e := encoder.New()
	if err := e.Start(path); err != nil {
		t.Fatalf("Start: %v", err)
	}
	encodeFrames(t, e, 50)

	art, err := e.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}

	data, err := os.ReadFile(art.Path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("OggS")) {
		t.Errorf("file does not start with the Ogg capture pattern: % x", data[:8])
	}
	if art.Size != int64(len(data)) {
		t.Errorf("artifact size %d != file size %d", art.Size, len(data))
	}
	if want := 50 * audio.FrameDuration; art.Duration != want {
		t.Errorf("duration: got %v, want %v", art.Duration, want)
	}
	if art.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

func TestEncoder_PushPadsShortFrames(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "short.ogg")

	e := encoder.New()
	if err := e.Start(path); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := e.Push([]int16{100, 200, 300}); err != nil {
		t.Fatalf("Push short frame: %v", err)
	}
	if e.Frames() != 1 {
		t.Errorf("Frames: got %d, want 1", e.Frames())
	}
	if _, err := e.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
}

func TestEncoder_StartInMissingDirectoryFails(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "no", "such", "dir", "out.ogg")

	e := encoder.New()
	err := e.Start(path)
	if err == nil {
		t.Fatal("expected error for unwritable path")
	}
	if !errors.Is(err, encoder.ErrCannotCreateFile) {
		t.Errorf("error should wrap ErrCannotCreateFile, got: %v", err)
	}
}

func TestEncoder_AbortRemovesPartialFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "partial.ogg")

	e := encoder.New()
	if err := e.Start(path); err != nil {
		t.Fatalf("Start: %v", err)
	}
	encodeFrames(t, e, 5)

	if err := e.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("partial file should be removed, stat err: %v", err)
	}
	// A second Abort is a no-op.
	if err := e.Abort(); err != nil {
		t.Fatalf("second Abort: %v", err)
	}
}

func TestEncoder_PushAfterFinishFails(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "done.ogg")

	e := encoder.New()
	if err := e.Start(path); err != nil {
		t.Fatalf("Start: %v", err)
	}
	encodeFrames(t, e, 1)
	if _, err := e.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if err := e.Push(sineFrame(0)); err == nil {
		t.Error("Push after Finish should fail")
	}
}

func TestEncoder_DurationTracksFrameCount(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "dur.ogg")

	e := encoder.New()
	if err := e.Start(path); err != nil {
		t.Fatalf("Start: %v", err)
	}
	encodeFrames(t, e, 150) // 3 s of audio

	art, err := e.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if art.Duration != 3*time.Second {
		t.Errorf("duration: got %v, want 3s", art.Duration)
	}
}
