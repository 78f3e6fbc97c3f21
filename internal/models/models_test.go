package models

import (
	"encoding/json"
	"testing"
)

func TestParseTool(t *testing.T) {
	tests := []struct {
		input   string
		want    Tool
		wantErr bool
	}{
		{"nmap", ToolPortScan, false},
		{"osint", ToolOSINT, false},
		{"subdomain", ToolSubdomain, false},
		{"sherlock", "", true},
		{"", "", true},
		{"NMAP", "", true},
	}

	for _, tc := range tests {
		got, err := ParseTool(tc.input)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseTool(%q) error = %v, wantErr %v", tc.input, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseTool(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestScanResultJSONShape(t *testing.T) {
	result := ScanResult{
		ID:         "abc",
		Target:     "example.com",
		Tool:       ToolPortScan,
		Status:     StatusCompleted,
		DetectedOS: "Unknown",
		Ports:      []PortRecord{},
	}

	data, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("Failed to marshal result: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal result: %v", err)
	}

	// Ports is always present, even empty, so stored documents keep a
	// stable shape. The tool-specific maps are omitted when unused.
	if _, ok := decoded["ports"]; !ok {
		t.Errorf("Expected ports field present, got %s", data)
	}
	if _, ok := decoded["results"]; ok {
		t.Errorf("Expected empty results omitted, got %s", data)
	}
	if _, ok := decoded["subdomains"]; ok {
		t.Errorf("Expected empty subdomains omitted, got %s", data)
	}
}
