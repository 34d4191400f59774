package main

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

// Re-executes the test binary as the real program
func TestMissingTokenExitsBeforeNetwork(t *testing.T) {
	if os.Getenv("WIKISTREAM_RUN_MAIN") == "1" {
		os.Args = []string{"wikistream", "-env", os.Getenv("WIKISTREAM_ENV_FILE"), "-timeout", "1"}
		main()
		return
	}

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	cmd := exec.Command(os.Args[0], "-test.run=^TestMissingTokenExitsBeforeNetwork$")
	cmd.Env = append(os.Environ(),
		"WIKISTREAM_RUN_MAIN=1",
		"WIKISTREAM_ENV_FILE="+filepath.Join(t.TempDir(), "missing.env"),
		"TINYBIRD_TOKEN=",
		"STREAM_URL="+server.URL,
		"INGEST_URL="+server.URL,
	)
	out, err := cmd.CombinedOutput()

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected non-zero exit, got err=%v output=%s", err, out)
	}
	if exitErr.ExitCode() == 0 {
		t.Fatalf("expected non-zero exit code")
	}
	if !strings.Contains(string(out), "TINYBIRD_TOKEN") {
		t.Fatalf("expected diagnostic naming the token variable, got %s", out)
	}
	if hits.Load() != 0 {
		t.Fatalf("expected no network calls, got %d", hits.Load())
	}
}
