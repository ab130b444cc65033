package dispatch_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/tapedeck/internal/dispatch"
	"github.com/MrWong99/tapedeck/internal/encoder"
	"github.com/MrWong99/tapedeck/internal/notify"
	"github.com/MrWong99/tapedeck/internal/upload"
)

// fakeUploader returns a canned outcome and records calls.
type fakeUploader struct {
	mu      sync.Mutex
	outcome upload.Outcome
	calls   int
}

func (f *fakeUploader) Upload(_ context.Context, _ encoder.Artifact, _ string) upload.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.outcome
}

func (f *fakeUploader) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// recordingBackend captures notifications instead of showing them.
type recordingBackend struct {
	mu     sync.Mutex
	titles []string
}

func (r *recordingBackend) Send(title, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	return nil
}

func (r *recordingBackend) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.titles...)
}

func writeArtifact(t *testing.T) encoder.Artifact {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recording_20260830_120000.ogg")
	if err := os.WriteFile(path, []byte("OggS fake"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	return encoder.Artifact{Path: path, Size: 9, CreatedAt: time.Now(), Duration: time.Second}
}

func dispatchOne(t *testing.T, up *fakeUploader, policy dispatch.Policy) (encoder.Artifact, dispatch.Result, *recordingBackend) {
	t.Helper()
	backend := &recordingBackend{}
	notifier := notify.New(notify.WithBackend(backend))

	d := dispatch.New(up, notifier)
	art := writeArtifact(t)

	results := d.Results()
	d.Dispatch(art, policy, "http://n8n.example/webhook")
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := notifier.Close(); err != nil {
		t.Fatalf("notifier Close: %v", err)
	}

	res, ok := <-results
	if !ok {
		t.Fatal("no result delivered")
	}
	return art, res, backend
}

func TestDispatch_LocalOnlyKeepsFileWithoutUpload(t *testing.T) {
	t.Parallel()
	up := &fakeUploader{}
	art, res, backend := dispatchOne(t, up, dispatch.PolicyLocalOnly)

	if up.callCount() != 0 {
		t.Errorf("uploader called %d times, want 0", up.callCount())
	}
	if res.Uploaded || res.Deleted {
		t.Errorf("unexpected result flags: %+v", res)
	}
	if _, err := os.Stat(art.Path); err != nil {
		t.Errorf("local file should survive: %v", err)
	}
	titles := backend.sent()
	if len(titles) != 1 {
		t.Fatalf("notifications: got %d, want 1", len(titles))
	}
	if titles[0] != "Audio Recorder — recording saved" {
		t.Errorf("notification title: %q", titles[0])
	}
}

func TestDispatch_UploadOnlySuccessDeletesLocalFile(t *testing.T) {
	t.Parallel()
	up := &fakeUploader{outcome: upload.Outcome{Status: upload.StatusSuccess}}
	art, res, backend := dispatchOne(t, up, dispatch.PolicyUploadOnly)

	if !res.Uploaded || !res.Deleted {
		t.Errorf("result flags: %+v", res)
	}
	if _, err := os.Stat(art.Path); !os.IsNotExist(err) {
		t.Errorf("file should be deleted after upload-only success, stat err: %v", err)
	}
	titles := backend.sent()
	if len(titles) != 1 || titles[0] != "Audio Recorder — upload complete" {
		t.Errorf("notifications: %v", titles)
	}
}

func TestDispatch_HybridSuccessKeepsLocalFile(t *testing.T) {
	t.Parallel()
	up := &fakeUploader{outcome: upload.Outcome{Status: upload.StatusSuccess}}
	art, res, _ := dispatchOne(t, up, dispatch.PolicyHybrid)

	if !res.Uploaded {
		t.Error("result should report upload")
	}
	if res.Deleted {
		t.Error("hybrid policy must not delete the local copy")
	}
	if _, err := os.Stat(art.Path); err != nil {
		t.Errorf("local file should survive: %v", err)
	}
}

func TestDispatch_UploadFailureKeepsFileEvenForUploadOnly(t *testing.T) {
	t.Parallel()
	up := &fakeUploader{outcome: upload.Outcome{Status: upload.StatusFailure, Reason: "http 500"}}
	art, res, backend := dispatchOne(t, up, dispatch.PolicyUploadOnly)

	if res.Uploaded || res.Deleted {
		t.Errorf("result flags: %+v", res)
	}
	if _, err := os.Stat(art.Path); err != nil {
		t.Errorf("file must survive upload failure: %v", err)
	}
	titles := backend.sent()
	if len(titles) != 1 || titles[0] != "Audio Recorder — upload failed" {
		t.Errorf("notifications: %v", titles)
	}
}

func TestDispatch_TimeoutKeepsFile(t *testing.T) {
	t.Parallel()
	up := &fakeUploader{outcome: upload.Outcome{Status: upload.StatusTimedOut}}
	art, res, _ := dispatchOne(t, up, dispatch.PolicyHybrid)

	if res.Uploaded {
		t.Error("timed-out upload must not count as uploaded")
	}
	if _, err := os.Stat(art.Path); err != nil {
		t.Errorf("file must survive upload timeout: %v", err)
	}
	if res.UploadOutcome.Status != upload.StatusTimedOut {
		t.Errorf("outcome status: got %v", res.UploadOutcome.Status)
	}
}

func TestPolicyFor(t *testing.T) {
	t.Parallel()
	cases := []struct {
		saveLocally, uploadEnabled bool
		want                       dispatch.Policy
	}{
		{true, true, dispatch.PolicyHybrid},
		{false, true, dispatch.PolicyUploadOnly},
		{true, false, dispatch.PolicyLocalOnly},
		// Degenerate case: keeping nothing would silently discard the
		// recording, so the dispatcher falls back to local-only.
		{false, false, dispatch.PolicyLocalOnly},
	}
	for _, c := range cases {
		if got := dispatch.PolicyFor(c.saveLocally, c.uploadEnabled); got != c.want {
			t.Errorf("PolicyFor(%t, %t) = %v, want %v", c.saveLocally, c.uploadEnabled, got, c.want)
		}
	}
}

func TestDispatch_CloseIsIdempotent(t *testing.T) {
	t.Parallel()
	notifier := notify.New(notify.WithBackend(&recordingBackend{}))
	defer notifier.Close()
	d := dispatch.New(&fakeUploader{}, notifier)
	if err := d.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
