// Package audio defines the frame types, sample-format constants, and PCM
// helpers shared by the tapedeck capture → mix → encode pipeline.
//
// Everything downstream of the capture adapters speaks one canonical format:
// 48 kHz mono signed 16-bit PCM, chopped into 20 ms frames. Capture adapters
// convert whatever the hardware delivers into this format before frames enter
// the pipeline.
package audio

import "time"

// Canonical pipeline format. 48 kHz matches the native Opus rate; 20 ms is
// the Opus frame size the encoder consumes.
const (
	SampleRate    = 48000
	Channels      = 1
	FrameDuration = 20 * time.Millisecond

	// FrameSize is the number of samples per 20 ms mono frame.
	FrameSize = SampleRate / int(time.Second/FrameDuration) // 960
)

// SourceID identifies which capture device a frame originated from.
type SourceID string

const (
	// SourceMic is the microphone input.
	SourceMic SourceID = "mic"

	// SourceLoopback is the system-audio loopback (monitor) input.
	SourceLoopback SourceID = "loopback"
)

// Frame is a fixed-size block of canonical-format PCM captured from one
// source. Frames are immutable once produced; the capture adapter hands
// ownership to the mixer and never touches the samples again.
type Frame struct {
	// Samples holds FrameSize mono int16 samples.
	Samples []int16

	// Seq is a per-source monotonic sequence number, starting at 1.
	Seq uint64

	// Source identifies the adapter that captured this frame.
	Source SourceID
}

// Silence returns a zeroed sample block of n samples.
func Silence(n int) []int16 {
	return make([]int16, n)
}
