// tests/integration/integration_test.go
package integration

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/mux"

	"hybridscan/internal/api"
	"hybridscan/internal/config"
	"hybridscan/internal/database"
	"hybridscan/internal/models"
	"hybridscan/internal/scanner"
)

// setupTestEnvironment creates an integration test environment with a
// temp database and fake tool binaries.
func setupTestEnvironment(t *testing.T) (*config.Config, *database.DB, http.Handler) {
	t.Helper()
	tempDir := t.TempDir()

	cfg := config.New()
	cfg.Database.Path = filepath.Join(tempDir, "data", "test.db")
	cfg.Logging.OutputPath = filepath.Join(tempDir, "logs", "test.log")
	cfg.Scanner.NmapPath = writeTool(t, tempDir, "nmap", `
echo "Starting Nmap 7.94"
echo "Timing: About 50.00% done; ETC: 15:00 (0:00:10 remaining)"
echo "22/tcp open ssh"
echo "OS details: Linux 5.0 - 5.14"
echo "Nmap done"
`)
	cfg.Scanner.SherlockPath = writeTool(t, tempDir, "sherlock", `
echo "[+] GitHub: https://github.com/someuser"
`)

	db, err := database.New(cfg.Database.Path)
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	scanService := scanner.New(cfg, db)
	if err := scanService.Start(); err != nil {
		t.Fatalf("Failed to start scan service: %v", err)
	}
	t.Cleanup(func() { scanService.Stop() })

	router := mux.NewRouter()
	api.NewStreamHandler(scanService, cfg).RegisterRoutes(router)
	api.NewResultHandler(db).RegisterRoutes(router)
	api.NewStatusHandler(db, scanService, cfg).RegisterRoutes(router)

	return cfg, db, router
}

func writeTool(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755); err != nil {
		t.Fatalf("Failed to write tool script %s: %v", name, err)
	}
	return path
}

// readEventData returns the data payloads of all events with the name.
func readEventData(t *testing.T, resp *http.Response, name string) []string {
	t.Helper()
	defer resp.Body.Close()

	var out []string
	var current string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "event: ") {
			current = strings.TrimPrefix(line, "event: ")
		} else if strings.HasPrefix(line, "data: ") && current == name {
			out = append(out, strings.TrimPrefix(line, "data: "))
		}
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("Failed reading event stream: %v", err)
	}
	return out
}

func TestScanStreamPersistsResult(t *testing.T) {
	_, db, handler := setupTestEnvironment(t)

	server := httptest.NewServer(handler)
	defer server.Close()

	// Run a scan over the event stream endpoint.
	resp, err := http.Get(server.URL + "/scan/stream?target=scanme.nmap.org&os=true")
	if err != nil {
		t.Fatalf("Scan request failed: %v", err)
	}

	resultData := readEventData(t, resp, "result")
	if len(resultData) != 1 {
		t.Fatalf("Expected 1 result event, got %d", len(resultData))
	}

	var result models.ScanResult
	if err := json.Unmarshal([]byte(resultData[0]), &result); err != nil {
		t.Fatalf("Result payload is not JSON: %v", err)
	}
	if result.Status != models.StatusCompleted {
		t.Errorf("Expected completed scan, got %s", result.Status)
	}
	if result.DetectedOS != "Linux 5.0 - 5.14" {
		t.Errorf("Expected OS extracted, got %q", result.DetectedOS)
	}

	// The same result is now visible through the results API.
	resp, err = http.Get(server.URL + "/api/scans")
	if err != nil {
		t.Fatalf("Results request failed: %v", err)
	}
	defer resp.Body.Close()

	var results []*models.ScanResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		t.Fatalf("Failed to parse results: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Expected 1 stored result, got %d", len(results))
	}
	if results[0].ID != result.ID {
		t.Errorf("Stored result id %s does not match streamed result %s", results[0].ID, result.ID)
	}
	if len(results[0].Ports) != 1 || results[0].Ports[0].Port != "22" {
		t.Errorf("Expected stored port record, got %+v", results[0].Ports)
	}

	// And the single-result endpoint serves it by id.
	resp, err = http.Get(server.URL + "/api/scans/" + result.ID)
	if err != nil {
		t.Fatalf("Single result request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 for stored result, got %d", resp.StatusCode)
	}

	// Direct database check
	stored, err := db.GetScanResult(result.ID)
	if err != nil {
		t.Fatalf("Result missing from database: %v", err)
	}
	if stored.Target != "scanme.nmap.org" {
		t.Errorf("Expected stored target, got %q", stored.Target)
	}
}

func TestOSINTStreamAndGroupedResults(t *testing.T) {
	_, _, handler := setupTestEnvironment(t)

	server := httptest.NewServer(handler)
	defer server.Close()

	resp, err := http.Get(server.URL + "/osint/username?username=someuser")
	if err != nil {
		t.Fatalf("OSINT request failed: %v", err)
	}

	endData := readEventData(t, resp, "end")
	if len(endData) != 1 || endData[0] != "Stream complete" {
		t.Fatalf("Expected end event with completion marker, got %v", endData)
	}

	resp, err = http.Get(server.URL + "/api/scans/grouped")
	if err != nil {
		t.Fatalf("Grouped results request failed: %v", err)
	}
	defer resp.Body.Close()

	var groups []*models.TargetGroup
	if err := json.NewDecoder(resp.Body).Decode(&groups); err != nil {
		t.Fatalf("Failed to parse grouped results: %v", err)
	}
	if len(groups) != 1 || groups[0].Target != "someuser" {
		t.Fatalf("Expected single group for someuser, got %+v", groups)
	}
	if groups[0].Scans[0].Matches["GitHub"] != "https://github.com/someuser" {
		t.Errorf("Expected OSINT match stored, got %#v", groups[0].Scans[0].Matches)
	}
}

func TestHealthAndStatusEndpoints(t *testing.T) {
	_, _, handler := setupTestEnvironment(t)

	server := httptest.NewServer(handler)
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/status/health")
	if err != nil {
		t.Fatalf("Health request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected healthy status, got %d", resp.StatusCode)
	}

	resp, err = http.Get(server.URL + "/api/status")
	if err != nil {
		t.Fatalf("Status request failed: %v", err)
	}
	defer resp.Body.Close()

	var status map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("Failed to parse status: %v", err)
	}
	if status["status"] != "healthy" {
		t.Errorf("Expected healthy status, got %v", status["status"])
	}
	if _, ok := status["scanner"]; !ok {
		t.Errorf("Expected scanner section in status, got %v", status)
	}
}
