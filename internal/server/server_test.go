package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rama-kairi/zencube/internal/config"
	"github.com/rama-kairi/zencube/internal/database"
	"github.com/rama-kairi/zencube/internal/logger"
	"github.com/rama-kairi/zencube/internal/sandbox"
)

// fakeSandboxScript strips the limit flags and runs the wrapped command, so
// tests exercise the real launch path without the native sandbox binary.
const fakeSandboxScript = `#!/bin/sh
while [ $# -gt 0 ]; do
  case "$1" in
    --cpu=*|--mem=*|--procs=*|--fsize=*) shift ;;
    *) break ;;
  esac
done
exec "$@"
`

func setupTestServer(t *testing.T, withDB bool) (*Server, *httptest.Server) {
	tempDir := t.TempDir()

	binary := filepath.Join(tempDir, "sandbox")
	if err := os.WriteFile(binary, []byte(fakeSandboxScript), 0o755); err != nil {
		t.Fatalf("Failed to write fake sandbox: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.Sandbox.BinaryPath = binary
	cfg.Sandbox.RootDir = filepath.Join(tempDir, "uploads")
	cfg.Sandbox.QuietInterval = 100 * time.Millisecond
	cfg.Sandbox.MonitorInterval = 50 * time.Millisecond
	cfg.Sandbox.StopGracePeriod = 2 * time.Second

	log, err := logger.NewLogger(&cfg.Logging, "test")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	var db *database.DB
	if withDB {
		db, err = database.NewDB(filepath.Join(tempDir, "test.db"))
		if err != nil {
			t.Fatalf("Failed to create database: %v", err)
		}
		t.Cleanup(func() { db.Close() })
	}

	manager, err := sandbox.NewManager(cfg, log, db)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	srv, err := New(cfg, log, manager, db, nil)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(httpSrv.Close)
	return srv, httpSrv
}

func postJSON(t *testing.T, url string, payload any) (*http.Response, map[string]any) {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return resp, decoded
}

func getJSON(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return resp, decoded
}

func TestHealthEndpoint(t *testing.T) {
	_, httpSrv := setupTestServer(t, true)

	resp, body := getJSON(t, httpSrv.URL+"/api/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if body["ok"] != true {
		t.Errorf("Expected ok=true, got %v", body["ok"])
	}
}

func TestRunEndpointValidation(t *testing.T) {
	_, httpSrv := setupTestServer(t, false)

	resp, _ := postJSON(t, httpSrv.URL+"/api/run", map[string]any{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty request, got %d", resp.StatusCode)
	}

	resp, _ = postJSON(t, httpSrv.URL+"/api/run", map[string]any{"filename": "a.py"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for filename without content, got %d", resp.StatusCode)
	}
}

func TestRunStopRoundTrip(t *testing.T) {
	_, httpSrv := setupTestServer(t, false)

	resp, body := postJSON(t, httpSrv.URL+"/api/run", map[string]any{
		"command": "sleep 30",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %v", resp.StatusCode, body)
	}
	sessionID, _ := body["session_id"].(string)
	if sessionID == "" {
		t.Fatal("Expected a session ID")
	}

	resp, listing := getJSON(t, httpSrv.URL+"/api/sessions")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if count, _ := listing["count"].(float64); count != 1 {
		t.Errorf("Expected one live session, got %v", listing["count"])
	}

	resp, stopBody := postJSON(t, httpSrv.URL+"/api/stop", map[string]any{
		"session_id": sessionID,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 stopping session, got %d: %v", resp.StatusCode, stopBody)
	}
	if stopBody["stopped"] != true {
		t.Errorf("Expected stopped=true, got %v", stopBody["stopped"])
	}

	resp, _ = postJSON(t, httpSrv.URL+"/api/stop", map[string]any{
		"session_id": sessionID,
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for second stop, got %d", resp.StatusCode)
	}
}

func TestInputEndpoint(t *testing.T) {
	_, httpSrv := setupTestServer(t, false)

	resp, body := postJSON(t, httpSrv.URL+"/api/run", map[string]any{
		"command": "cat",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	sessionID, _ := body["session_id"].(string)

	resp, inputBody := postJSON(t, httpSrv.URL+"/api/input", map[string]any{
		"session_id": sessionID,
		"input":      "hello",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if inputBody["delivered"] != true {
		t.Errorf("Expected delivered=true, got %v", inputBody["delivered"])
	}

	resp, _ = postJSON(t, httpSrv.URL+"/api/input", map[string]any{
		"session_id": "not-a-uuid",
		"input":      "hello",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed session ID, got %d", resp.StatusCode)
	}

	postJSON(t, httpSrv.URL+"/api/stop", map[string]any{"session_id": sessionID})
}

func TestStreamDeliversOutput(t *testing.T) {
	_, httpSrv := setupTestServer(t, false)

	// The session emits predictable output after a short delay, giving the
	// stream time to attach before the event is published.
	resp, body := postJSON(t, httpSrv.URL+"/api/run", map[string]any{
		"filename": "emit.sh",
		"content":  "sleep 0.2\necho streamed-output\n",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %v", resp.StatusCode, body)
	}
	sessionID, _ := body["session_id"].(string)

	streamResp, err := http.Get(httpSrv.URL + "/api/sessions/" + sessionID + "/stream")
	if err != nil {
		t.Fatalf("Failed to open stream: %v", err)
	}
	defer streamResp.Body.Close()

	if ct := streamResp.Header.Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		t.Fatalf("Expected event-stream content type, got %q", ct)
	}

	deadline := time.After(5 * time.Second)
	found := make(chan bool, 1)
	go func() {
		scanner := bufio.NewScanner(streamResp.Body)
		for scanner.Scan() {
			if strings.Contains(scanner.Text(), "streamed-output") {
				found <- true
				return
			}
		}
		found <- false
	}()

	select {
	case ok := <-found:
		if !ok {
			t.Error("Stream ended without the expected output event")
		}
	case <-deadline:
		t.Error("Timed out waiting for output on the stream")
	}
}

func TestAnalyzeEndpoint(t *testing.T) {
	_, httpSrv := setupTestServer(t, true)

	resp, body := postJSON(t, httpSrv.URL+"/api/analyze", map[string]any{
		"filename": "risky.py",
		"content":  "eval(input(\"expr: \"))\n",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %v", resp.StatusCode, body)
	}
	if body["language"] != "python" {
		t.Errorf("Expected python, got %v", body["language"])
	}

	resp, _ = postJSON(t, httpSrv.URL+"/api/analyze", map[string]any{
		"filename": "notes.txt",
		"content":  "hello",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for unsupported extension, got %d", resp.StatusCode)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	_, httpSrv := setupTestServer(t, true)

	resp, body := postJSON(t, httpSrv.URL+"/api/run", map[string]any{
		"command": "sh -c pwd",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %v", resp.StatusCode, body)
	}

	// The run finishes and lands in history shortly after
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, listing := getJSON(t, httpSrv.URL+"/api/history?command=pwd")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Expected 200, got %d", resp.StatusCode)
		}
		if count, _ := listing["count"].(float64); count >= 1 {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatal("Run never appeared in history")
}

func TestHistoryEndpointDisabled(t *testing.T) {
	_, httpSrv := setupTestServer(t, false)

	resp, _ := getJSON(t, httpSrv.URL+"/api/history")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 when history is disabled, got %d", resp.StatusCode)
	}
}

func TestStatusEndpoint(t *testing.T) {
	_, httpSrv := setupTestServer(t, true)

	resp, body := getJSON(t, httpSrv.URL+"/api/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if _, ok := body["sessions"]; !ok {
		t.Error("Expected sessions in status payload")
	}
	if _, ok := body["run_stats"]; !ok {
		t.Error("Expected run_stats in status payload")
	}
}
