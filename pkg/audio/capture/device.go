// Package capture wraps PortAudio input devices as pull sources of
// canonical-format audio frames.
//
// Each open [Source] runs a dedicated capture goroutine that reads from the
// hardware stream, converts to the pipeline's 48 kHz mono format, and pushes
// frames into a bounded [FrameQueue]. The consumer (the mixer) polls the
// queue; a full queue drops the oldest frame rather than stalling capture.
package capture

import (
	"fmt"
	"strings"

	"github.com/gordonklaus/portaudio"
)

// DefaultQueueFrames is the per-source queue capacity: 32 frames of 20 ms
// each, roughly 640 ms of slack before drops begin.
const DefaultQueueFrames = 32

// Init initialises the PortAudio host subsystem. Must be called once before
// enumerating devices or opening sources; pair with [Terminate].
func Init() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("capture: initialize portaudio: %w", err)
	}
	return nil
}

// Terminate releases the PortAudio host subsystem.
func Terminate() error {
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("capture: terminate portaudio: %w", err)
	}
	return nil
}

// DeviceInfo describes one enumerated input device.
type DeviceInfo struct {
	// Index is the position in the enumeration order; configuration refers to
	// devices by this index.
	Index int

	// Name is the host-API device name.
	Name string

	// Channels is the maximum input channel count.
	Channels int

	// SampleRate is the device's default sample rate in Hz.
	SampleRate int

	// IsMonitor reports whether the device looks like a system-audio loopback.
	IsMonitor bool
}

// ListDevices enumerates all input-capable devices known to the host audio
// subsystem. Output-only devices are skipped; enumeration order is stable for
// the lifetime of the PortAudio session.
func ListDevices() ([]DeviceInfo, error) {
	devs, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("capture: enumerate devices: %w", err)
	}

	var out []DeviceInfo
	for _, d := range devs {
		if d.MaxInputChannels <= 0 {
			continue
		}
		out = append(out, DeviceInfo{
			Index:      len(out),
			Name:       d.Name,
			Channels:   d.MaxInputChannels,
			SampleRate: int(d.DefaultSampleRate),
			IsMonitor:  IsMonitorName(d.Name),
		})
	}
	return out, nil
}

// IsMonitorName reports whether a device name identifies a loopback/monitor
// source. PulseAudio and PipeWire expose these with a ".monitor" suffix;
// Windows drivers commonly call them "Stereo Mix" or "Loopback".
func IsMonitorName(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, ".monitor") ||
		strings.HasPrefix(lower, "monitor of ") ||
		strings.Contains(lower, "stereo mix") ||
		strings.Contains(lower, "loopback")
}

// DefaultMicIndex picks a sensible default microphone from an enumeration:
// the first non-monitor device named "pulse" or "pipewire" (the host-routed
// virtual device on Linux), else the first non-monitor device. Returns -1 if
// no candidate exists.
func DefaultMicIndex(devices []DeviceInfo) int {
	for _, d := range devices {
		if d.IsMonitor {
			continue
		}
		lower := strings.ToLower(d.Name)
		if lower == "pulse" || lower == "pipewire" {
			return d.Index
		}
	}
	for _, d := range devices {
		if !d.IsMonitor {
			return d.Index
		}
	}
	return -1
}

// DefaultLoopbackIndex picks the first monitor device from an enumeration,
// or -1 if none exists.
func DefaultLoopbackIndex(devices []DeviceInfo) int {
	for _, d := range devices {
		if d.IsMonitor {
			return d.Index
		}
	}
	return -1
}
