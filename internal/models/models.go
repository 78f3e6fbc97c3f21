// Package models defines the data structures used throughout hybridscan.
// It contains the scan request/result records exchanged between the API
// layer, the scan sessions, and the result store, plus the payload shapes
// pushed over the event stream.
package models

import (
	"fmt"
	"time"
)

// Tool identifies which external reconnaissance tool a scan uses.
type Tool string

const (
	// ToolPortScan runs nmap against a host or network.
	ToolPortScan Tool = "nmap"
	// ToolOSINT runs a username search across platforms (sherlock).
	ToolOSINT Tool = "osint"
	// ToolSubdomain enumerates subdomains of a domain (amass).
	ToolSubdomain Tool = "subdomain"
)

// ParseTool converts a tool identifier string to a Tool.
func ParseTool(s string) (Tool, error) {
	switch Tool(s) {
	case ToolPortScan, ToolOSINT, ToolSubdomain:
		return Tool(s), nil
	}
	return "", fmt.Errorf("unknown tool: %q", s)
}

// ScanOptions holds tool-specific switches taken from the scan request.
// Only the fields relevant to the selected tool are consulted.
type ScanOptions struct {
	Ports            string `json:"ports,omitempty"`            // nmap -p
	OSDetection      bool   `json:"osDetection,omitempty"`      // nmap -O
	ServiceDetection bool   `json:"serviceDetection,omitempty"` // nmap -sV
	ScriptScan       bool   `json:"scriptScan,omitempty"`       // nmap -sC
}

// ScanRequest is the immutable input that starts a scan session.
type ScanRequest struct {
	Target  string      `json:"target"`
	Tool    Tool        `json:"tool"`
	Options ScanOptions `json:"options"`
}

// PortRecord is one discovered port from a port scan.
type PortRecord struct {
	Port     string `json:"port"`
	Protocol string `json:"protocol"`
	State    string `json:"state"`
	Service  string `json:"service"`
}

// ScanResult is the durable record produced by a finished scan session.
// Ports, Matches and Subdomains are tool-specific; only the one matching
// Tool is populated (Ports stays an empty slice for the other tools so
// stored documents keep a stable shape).
type ScanResult struct {
	ID         string            `json:"id"`
	Target     string            `json:"target"`
	Tool       Tool              `json:"tool"`
	Status     string            `json:"status"` // completed | failed
	DetectedOS string            `json:"detectedOS"`
	Ports      []PortRecord      `json:"ports"`
	Matches    map[string]string `json:"results,omitempty"`    // platform -> profile URL
	Subdomains []string          `json:"subdomains,omitempty"` // insertion order, deduplicated
	Timestamp  time.Time         `json:"timestamp"`
}

// StatusCompleted and StatusFailed are the two terminal result statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ProgressPayload is the body of a "progress" stream event.
type ProgressPayload struct {
	Percent float64 `json:"percent"`
	ETA     string  `json:"eta"`
}

// LogPayload is the body of a "log" stream event. Line is the raw
// subprocess output line; ANSI escape stripping is left to consumers.
type LogPayload struct {
	Line string `json:"line"`
}

// ErrorPayload is the body of an "error" stream event.
type ErrorPayload struct {
	Error string `json:"error"`
}

// TargetGroup is one target with all of its stored scan results,
// consumed by the results browser.
type TargetGroup struct {
	Target string        `json:"target"`
	Scans  []*ScanResult `json:"scans"`
}
