package upload_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/tapedeck/internal/encoder"
	"github.com/MrWong99/tapedeck/internal/upload"
)

func testArtifact(t *testing.T, content string) encoder.Artifact {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recording_20260830_120000.ogg")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	created, _ := time.Parse(time.RFC3339, "2026-08-30T12:00:00Z")
	return encoder.Artifact{
		Path:      path,
		Size:      int64(len(content)),
		CreatedAt: created,
		Duration:  2 * time.Second,
	}
}

func TestUpload_SendsMultipartFields(t *testing.T) {
	t.Parallel()
	var gotFilename, gotTimestamp, gotFile string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		gotFilename = r.FormValue("filename")
		gotTimestamp = r.FormValue("timestamp")

		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		if header.Filename != "recording_20260830_120000.ogg" {
			t.Errorf("file part name: %q", header.Filename)
		}
		data, _ := io.ReadAll(file)
		gotFile = string(data)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	art := testArtifact(t, "OggS payload")
	outcome := upload.NewClient().Upload(context.Background(), art, srv.URL)

	if outcome.Status != upload.StatusSuccess {
		t.Fatalf("status: got %v (%s), want success", outcome.Status, outcome.Reason)
	}
	if gotFilename != "recording_20260830_120000.ogg" {
		t.Errorf("filename field: %q", gotFilename)
	}
	if gotTimestamp != "2026-08-30T12:00:00Z" {
		t.Errorf("timestamp field: %q", gotTimestamp)
	}
	if gotFile != "OggS payload" {
		t.Errorf("file content: %q", gotFile)
	}
}

func TestUpload_Non2xxIsFailure(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	outcome := upload.NewClient().Upload(context.Background(), testArtifact(t, "x"), srv.URL)
	if outcome.Status != upload.StatusFailure {
		t.Fatalf("status: got %v, want failure", outcome.Status)
	}
	if !strings.Contains(outcome.Reason, "500") {
		t.Errorf("reason should carry the HTTP status, got %q", outcome.Reason)
	}
}

func TestUpload_ConnectionRefusedIsFailure(t *testing.T) {
	t.Parallel()
	// Reserve a port, then close the listener so nothing is listening.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	outcome := upload.NewClient().Upload(context.Background(), testArtifact(t, "x"), url)
	if outcome.Status != upload.StatusFailure {
		t.Fatalf("status: got %v, want failure", outcome.Status)
	}
	if outcome.Reason == "" {
		t.Error("failure outcome should carry a reason")
	}
}

func TestUpload_SlowEndpointTimesOut(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(release)

	c := upload.NewClient(upload.WithTimeout(50 * time.Millisecond))
	outcome := c.Upload(context.Background(), testArtifact(t, "x"), srv.URL)
	if outcome.Status != upload.StatusTimedOut {
		t.Fatalf("status: got %v (%s), want timed out", outcome.Status, outcome.Reason)
	}
}

func TestUpload_MissingArtifactIsFailure(t *testing.T) {
	t.Parallel()
	art := encoder.Artifact{Path: filepath.Join(t.TempDir(), "gone.ogg")}
	outcome := upload.NewClient().Upload(context.Background(), art, "http://127.0.0.1:1/webhook")
	if outcome.Status != upload.StatusFailure {
		t.Fatalf("status: got %v, want failure", outcome.Status)
	}
	if !strings.Contains(outcome.Reason, "read artifact") {
		t.Errorf("reason: %q", outcome.Reason)
	}
}
