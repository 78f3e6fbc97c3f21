package scanner

import (
	"regexp"
	"strings"

	"hybridscan/internal/models"
)

// Extraction patterns for the accumulated tool output. These mirror the
// textual grammar the tools print; output format drift across tool
// versions shows up as empty extractions, never as errors.
var (
	portLine  = regexp.MustCompile(`(\d+)/(tcp|udp)\s+(\w+)\s+([\w\-?]+)`)
	osDetails = regexp.MustCompile(`OS details: (.*)`)
	// "[+] GitHub: https://github.com/user" after ANSI stripping.
	osintFound = regexp.MustCompile(`\+\] (.*): (https?://.*)`)
	ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*m`)
)

// StripANSI removes terminal color escape sequences from a line.
func StripANSI(s string) string {
	return ansiEscape.ReplaceAllString(s, "")
}

// extractor turns the full accumulated output of a finished tool run
// into a scan result. Implementations are pure: no I/O, deterministic,
// and never failing; missing matches yield empty collections.
// The session fills in identity fields (ID, target, tool, timestamp).
type extractor interface {
	Extract(accumulated string, exitCode int) *models.ScanResult
}

// statusForExit maps the subprocess exit code to the result status.
func statusForExit(exitCode int) string {
	if exitCode == 0 {
		return models.StatusCompleted
	}
	return models.StatusFailed
}

// portScanExtractor parses nmap's human-readable output.
type portScanExtractor struct{}

func (portScanExtractor) Extract(accumulated string, exitCode int) *models.ScanResult {
	result := &models.ScanResult{
		Status:     statusForExit(exitCode),
		DetectedOS: "Unknown",
		Ports:      []models.PortRecord{},
	}

	if m := osDetails.FindStringSubmatch(accumulated); m != nil {
		result.DetectedOS = m[1]
	}

	// Matches are kept in order of first appearance and duplicates are
	// preserved: nmap repeats port lines in its summary table and the
	// stored record reflects the tool's output as-is.
	for _, m := range portLine.FindAllStringSubmatch(accumulated, -1) {
		result.Ports = append(result.Ports, models.PortRecord{
			Port:     m[1],
			Protocol: m[2],
			State:    m[3],
			Service:  m[4],
		})
	}

	return result
}

// osintExtractor parses username-search output of the "[+] Platform:
// URL" form into a platform-keyed map.
type osintExtractor struct{}

func (osintExtractor) Extract(accumulated string, exitCode int) *models.ScanResult {
	result := &models.ScanResult{
		Status:  statusForExit(exitCode),
		Ports:   []models.PortRecord{},
		Matches: map[string]string{},
	}

	for _, line := range strings.Split(accumulated, "\n") {
		m := osintFound.FindStringSubmatch(StripANSI(line))
		if m == nil {
			continue
		}
		// Last occurrence for a platform wins.
		result.Matches[m[1]] = m[2]
	}

	return result
}

// subdomainExtractor collects every output line that mentions the
// requested domain into a deduplicated, insertion-ordered set.
type subdomainExtractor struct {
	domain string
}

func (e subdomainExtractor) Extract(accumulated string, exitCode int) *models.ScanResult {
	result := &models.ScanResult{
		Status:     statusForExit(exitCode),
		Ports:      []models.PortRecord{},
		Subdomains: []string{},
	}

	domain := strings.ToLower(strings.TrimSpace(e.domain))
	if domain == "" {
		return result
	}

	seen := make(map[string]struct{})
	for _, line := range strings.Split(accumulated, "\n") {
		cleaned := strings.ToLower(strings.TrimSpace(StripANSI(line)))
		if cleaned == "" || !strings.Contains(cleaned, domain) {
			continue
		}
		if _, dup := seen[cleaned]; dup {
			continue
		}
		seen[cleaned] = struct{}{}
		result.Subdomains = append(result.Subdomains, cleaned)
	}

	return result
}
