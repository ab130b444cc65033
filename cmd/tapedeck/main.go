// Command tapedeck records microphone and system audio into a single
// Ogg/Opus file and saves or uploads it according to the configured policy.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/MrWong99/tapedeck/internal/config"
	"github.com/MrWong99/tapedeck/internal/dispatch"
	"github.com/MrWong99/tapedeck/internal/health"
	"github.com/MrWong99/tapedeck/internal/notify"
	"github.com/MrWong99/tapedeck/internal/observe"
	"github.com/MrWong99/tapedeck/internal/session"
	"github.com/MrWong99/tapedeck/internal/upload"
	"github.com/MrWong99/tapedeck/pkg/audio"
	"github.com/MrWong99/tapedeck/pkg/audio/capture"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the JSON configuration file (default: ~/.config/tapedeck/config.json)")
	listDevices := flag.Bool("list-devices", false, "list input-capable audio devices and exit")
	duration := flag.Duration("duration", 0, "stop automatically after this long (0 = interactive)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	path := *configPath
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "tapedeck: %v\n", err)
			return 1
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tapedeck: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.LogLevel))
	slog.Info("tapedeck starting", "config", path, "log_level", cfg.LogLevel)

	// ── Audio backend ─────────────────────────────────────────────────────────
	if err := capture.Init(); err != nil {
		slog.Error("audio backend init failed", "err", err)
		return 1
	}
	defer func() {
		if err := capture.Terminate(); err != nil {
			slog.Warn("audio backend terminate error", "err", err)
		}
	}()

	if *listDevices {
		return printDevices()
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Metrics ───────────────────────────────────────────────────────────────
	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("metrics init failed", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(sctx); err != nil {
			slog.Warn("metrics shutdown error", "err", err)
		}
	}()
	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, cfg.Snapshot().SaveDirectory)
	}

	// ── Pipeline ──────────────────────────────────────────────────────────────
	notifier := notify.New()
	defer notifier.Close()

	dispatcher := dispatch.New(upload.NewClient(), notifier)
	go logResults(dispatcher)

	mgr := session.New(dispatcher, notifier)

	// ── Config watcher ────────────────────────────────────────────────────────
	// Settings edits take effect mid-recording for the mic gain and at the
	// next session start for everything else.
	watcher, err := config.NewWatcher(path, func(_, cur *config.Config) {
		if mgr.State() == session.StateRecording || mgr.State() == session.StatePaused {
			mgr.SetMicGain(cur.MicGain)
		}
	})
	if err != nil {
		slog.Warn("config watcher unavailable, edits need a restart", "err", err)
	} else {
		defer watcher.Stop()
	}
	currentConfig := func() *config.Config {
		if watcher != nil {
			return watcher.Current()
		}
		return cfg
	}

	// setGain applies a live mic gain change and persists it for the next run.
	setGain := func(linear float64) {
		mgr.SetMicGain(linear)
		cur := *currentConfig()
		cur.MicGain = linear
		if err := config.Save(&cur, path); err != nil {
			slog.Warn("persisting mic gain", "err", err)
		}
	}

	printStartupSummary(cfg)

	// ── Record until stopped; "n" starts the next take ────────────────────────
	var lines chan string
	if *duration == 0 {
		lines = make(chan string)
		go func() {
			defer close(lines)
			sc := bufio.NewScanner(os.Stdin)
			for sc.Scan() {
				lines <- strings.TrimSpace(sc.Text())
			}
		}()
		// The scanner goroutine may be mid-send when we leave; drain so it
		// can finish instead of blocking forever.
		defer func() { go audio.Drain(lines) }()
	}

	for {
		if err := mgr.Start(ctx, currentConfig().Snapshot()); err != nil {
			slog.Error("failed to start recording", "err", err)
			dispatcher.Close()
			return 1
		}

		again := wait(ctx, mgr, *duration, lines, setGain)

		if err := mgr.Stop(context.Background()); err != nil {
			slog.Error("stop error", "err", err)
			dispatcher.Close()
			return 1
		}
		if !again || ctx.Err() != nil {
			break
		}
	}

	// Close drains queued dispatches (including an in-flight upload).
	if err := dispatcher.Close(); err != nil {
		slog.Warn("dispatcher close error", "err", err)
	}
	slog.Info("goodbye")
	return 0
}

// wait blocks until the duration elapses, the context is cancelled, or the
// user stops interactively. It reports whether the user asked for another
// recording to start right after this one ("n").
func wait(ctx context.Context, mgr *session.Manager, duration time.Duration, lines <-chan string, setGain func(float64)) bool {
	if duration > 0 {
		slog.Info("recording", "duration", duration)
		select {
		case <-ctx.Done():
		case <-time.After(duration):
		}
		return false
	}

	fmt.Println("recording — Enter/q stop, n next take, p pause, r resume, l levels, g <dB> mic gain")

	for {
		select {
		case <-ctx.Done():
			return false
		case line, ok := <-lines:
			if !ok {
				return false
			}
			switch {
			case line == "" || line == "q" || line == "s":
				return false
			case line == "n":
				fmt.Println("starting next take")
				return true
			case line == "p":
				if err := mgr.Pause(); err != nil {
					slog.Warn("pause", "err", err)
				} else {
					fmt.Printf("paused at %s\n", formatElapsed(mgr.Elapsed()))
				}
			case line == "r":
				if err := mgr.Resume(); err != nil {
					slog.Warn("resume", "err", err)
				}
			case line == "l":
				for id, level := range mgr.Levels() {
					fmt.Printf("%-9s %5.1f%%\n", id, level*100)
				}
			case strings.HasPrefix(line, "g "):
				db, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimPrefix(line, "g ")), 64)
				if err != nil {
					fmt.Println("usage: g <dB>   (e.g. g -6)")
					continue
				}
				linear := audio.ClampGain(audio.DBToLinear(db))
				setGain(linear)
				fmt.Printf("mic gain %+.1f dB\n", audio.LinearToDB(linear))
			default:
				fmt.Println("commands: Enter/q stop, n next take, p pause, r resume, l levels, g <dB>")
			}
		}
	}
}

// logResults logs dispatch outcomes as they complete.
func logResults(d *dispatch.Dispatcher) {
	for res := range d.Results() {
		if res.Uploaded {
			slog.Info("upload complete",
				"path", res.Artifact.Path,
				"deleted_local", res.Deleted,
				"took", res.UploadOutcome.Duration,
			)
		} else if res.UploadOutcome.Reason != "" {
			slog.Warn("upload did not complete",
				"path", res.Artifact.Path,
				"status", res.UploadOutcome.Status,
				"reason", res.UploadOutcome.Reason,
			)
		} else {
			slog.Info("recording kept locally", "path", res.Artifact.Path)
		}
	}
}

// printDevices lists input-capable devices the way -list-devices expects.
func printDevices() int {
	devices, err := capture.ListDevices()
	if err != nil {
		slog.Error("device enumeration failed", "err", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Println("no input-capable devices found")
		return 0
	}
	micIdx := capture.DefaultMicIndex(devices)
	loopIdx := capture.DefaultLoopbackIndex(devices)
	fmt.Printf("%-5s %-8s %-9s %s\n", "index", "kind", "default", "name")
	for _, d := range devices {
		kind := "mic"
		if d.IsMonitor {
			kind = "monitor"
		}
		def := ""
		if d.Index == micIdx || d.Index == loopIdx {
			def = "*"
		}
		fmt.Printf("%-5d %-8s %-9s %s\n", d.Index, kind, def, d.Name)
	}
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════════╗")
	fmt.Println("║         tapedeck — startup summary        ║")
	fmt.Println("╠═══════════════════════════════════════════╣")
	printField("Save directory", config.ExpandTilde(cfg.SaveDirectory))
	printField("Mic gain", fmt.Sprintf("%+.1f dB", audio.LinearToDB(audio.ClampGain(cfg.MicGain))))
	printField("Mic device", deviceLabel(cfg.SelectedMicIndex))
	printField("Loopback device", deviceLabel(cfg.SelectedLoopbackIndex))
	printField("Save locally", fmt.Sprintf("%t", cfg.SaveLocally))
	if cfg.N8NEnabled {
		printField("Upload", cfg.N8NEndpoint)
	} else {
		printField("Upload", "(disabled)")
	}
	if cfg.MetricsAddr != "" {
		printField("Metrics", cfg.MetricsAddr)
	}
	fmt.Println("╚═══════════════════════════════════════════╝")
}

func printField(name, value string) {
	if len([]rune(value)) > 23 {
		value = string([]rune(value)[:22]) + "…"
	}
	fmt.Printf("║  %-15s : %-23s ║\n", name, value)
}

func deviceLabel(index *int) string {
	if index == nil {
		return "(auto)"
	}
	return fmt.Sprintf("#%d", *index)
}

// ── Metrics endpoint ──────────────────────────────────────────────────────────

func serveMetrics(addr, saveDir string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observe.Handler())
	health.New(
		health.AudioBackend(func() error {
			_, err := capture.ListDevices()
			return err
		}),
		health.DirectoryWritable(saveDir),
	).Register(mux)
	slog.Info("metrics endpoint listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Warn("metrics endpoint error", "err", err)
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// formatElapsed renders a duration as mm:ss for the interactive prompt.
func formatElapsed(d time.Duration) string {
	d = d.Round(time.Second)
	return fmt.Sprintf("%02d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}
