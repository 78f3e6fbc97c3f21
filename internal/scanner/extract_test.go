package scanner

import (
	"strings"
	"testing"

	"hybridscan/internal/models"
)

func TestPortScanExtraction(t *testing.T) {
	output := strings.Join([]string{
		"Starting Nmap 7.94 ( https://nmap.org )",
		"Nmap scan report for scanme.nmap.org (45.33.32.156)",
		"PORT     STATE  SERVICE",
		"22/tcp open ssh",
		"80/tcp closed http",
		"Nmap done: 1 IP address (1 host up) scanned in 4.2 seconds",
	}, "\n")

	result := portScanExtractor{}.Extract(output, 0)

	if result.Status != models.StatusCompleted {
		t.Errorf("Expected status completed, got %s", result.Status)
	}

	if len(result.Ports) != 2 {
		t.Fatalf("Expected 2 port records, got %d", len(result.Ports))
	}

	want := []models.PortRecord{
		{Port: "22", Protocol: "tcp", State: "open", Service: "ssh"},
		{Port: "80", Protocol: "tcp", State: "closed", Service: "http"},
	}
	for i, rec := range want {
		if result.Ports[i] != rec {
			t.Errorf("Port record %d: expected %+v, got %+v", i, rec, result.Ports[i])
		}
	}
}

func TestPortScanExtractionPreservesDuplicates(t *testing.T) {
	output := "22/tcp open ssh\nsome chatter\n22/tcp open ssh\n"

	result := portScanExtractor{}.Extract(output, 0)

	// Repeated port lines are upstream tool behavior, not a parsing
	// bug; the record keeps them in order.
	if len(result.Ports) != 2 {
		t.Fatalf("Expected duplicates preserved (2 records), got %d", len(result.Ports))
	}
}

func TestPortScanExtractionOSDetails(t *testing.T) {
	output := "Running: Linux 5.X\nOS details: Linux 5.0 - 5.14\nNetwork Distance: 1 hop\n"

	result := portScanExtractor{}.Extract(output, 0)
	if result.DetectedOS != "Linux 5.0 - 5.14" {
		t.Errorf("Expected detected OS from output, got %q", result.DetectedOS)
	}
}

func TestPortScanExtractionOSUnknown(t *testing.T) {
	result := portScanExtractor{}.Extract("22/tcp open ssh\n", 0)
	if result.DetectedOS != "Unknown" {
		t.Errorf("Expected DetectedOS Unknown when no OS line present, got %q", result.DetectedOS)
	}
}

func TestPortScanExtractionNonZeroExit(t *testing.T) {
	result := portScanExtractor{}.Extract("80/udp open dns\n", 3)

	if result.Status != models.StatusFailed {
		t.Errorf("Expected status failed for non-zero exit, got %s", result.Status)
	}
	// Extraction still runs on whatever output exists.
	if len(result.Ports) != 1 {
		t.Errorf("Expected partial output still extracted, got %d records", len(result.Ports))
	}
}

func TestPortScanExtractionServiceCharacters(t *testing.T) {
	output := "443/tcp open ssl-http\n8080/tcp filtered http-proxy?\n"

	result := portScanExtractor{}.Extract(output, 0)
	if len(result.Ports) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(result.Ports))
	}
	if result.Ports[0].Service != "ssl-http" {
		t.Errorf("Expected hyphenated service name, got %q", result.Ports[0].Service)
	}
	if result.Ports[1].Service != "http-proxy?" {
		t.Errorf("Expected service with question mark, got %q", result.Ports[1].Service)
	}
}

func TestPortScanExtractionEmptyOutput(t *testing.T) {
	result := portScanExtractor{}.Extract("", 0)

	if result.Ports == nil || len(result.Ports) != 0 {
		t.Errorf("Expected empty (non-nil) port list, got %#v", result.Ports)
	}
	if result.DetectedOS != "Unknown" {
		t.Errorf("Expected Unknown OS for empty output, got %q", result.DetectedOS)
	}
}

func TestOSINTExtractionLastMatchWins(t *testing.T) {
	output := strings.Join([]string{
		"[*] Checking username x on:",
		"[+] GitHub: https://github.com/x",
		"[+] Reddit: https://reddit.com/user/x",
		"[+] GitHub: https://github.com/y",
	}, "\n")

	result := osintExtractor{}.Extract(output, 0)

	if len(result.Matches) != 2 {
		t.Fatalf("Expected 2 platforms, got %d", len(result.Matches))
	}
	if result.Matches["GitHub"] != "https://github.com/y" {
		t.Errorf("Expected last GitHub occurrence to win, got %q", result.Matches["GitHub"])
	}
	if result.Matches["Reddit"] != "https://reddit.com/user/x" {
		t.Errorf("Expected Reddit match, got %q", result.Matches["Reddit"])
	}
}

func TestOSINTExtractionStripsColorEscapes(t *testing.T) {
	output := "\x1b[32m[+]\x1b[0m GitHub: https://github.com/x\n"

	result := osintExtractor{}.Extract(output, 0)
	if result.Matches["GitHub"] != "https://github.com/x" {
		t.Errorf("Expected match after ANSI stripping, got %#v", result.Matches)
	}
}

func TestSubdomainExtraction(t *testing.T) {
	output := strings.Join([]string{
		"OWASP Amass v4.2.0",
		"www.Example.com",
		"mail.example.com",
		"www.example.com",
		"unrelated.host.net",
		"  api.example.com  ",
	}, "\n")

	result := subdomainExtractor{domain: "example.com"}.Extract(output, 0)

	want := []string{"www.example.com", "mail.example.com", "api.example.com"}
	if len(result.Subdomains) != len(want) {
		t.Fatalf("Expected %d subdomains, got %d: %v", len(want), len(result.Subdomains), result.Subdomains)
	}
	for i, sub := range want {
		if result.Subdomains[i] != sub {
			t.Errorf("Subdomain %d: expected %q, got %q", i, sub, result.Subdomains[i])
		}
	}
}

func TestSubdomainExtractionEmptyDomain(t *testing.T) {
	result := subdomainExtractor{domain: ""}.Extract("www.example.com\n", 0)
	if len(result.Subdomains) != 0 {
		t.Errorf("Expected no subdomains for empty domain, got %v", result.Subdomains)
	}
}

func TestStripANSI(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"\x1b[32m[+]\x1b[0m found", "[+] found"},
		{"no escapes here", "no escapes here"},
		{"\x1b[1;31mbold red\x1b[0m", "bold red"},
	}

	for _, tc := range tests {
		if got := StripANSI(tc.in); got != tc.want {
			t.Errorf("StripANSI(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
