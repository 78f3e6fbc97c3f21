// Package scanner implements the live scan pipeline for hybridscan.
// It launches external reconnaissance tools as subprocesses, classifies
// their output line by line, streams typed events to a subscriber, and
// extracts a structured result from the accumulated output when the
// tool exits.
package scanner

import (
	"fmt"
	"regexp"

	"hybridscan/internal/config"
	"hybridscan/internal/models"
)

// nmapProgress matches nmap's --stats-every progress lines, e.g.
// "Stats: ... About 42.50% done; ETC: 14:33 (0:02:10 remaining)".
// The full pattern is required: a line with "done;" but no "ETC:" is a
// plain log line.
var nmapProgress = regexp.MustCompile(`About\s+([\d.]+)%\s+done;.*ETC:\s+(.*)`)

// toolDefinition describes how to invoke one external tool and how to
// interpret its output. The progress pattern is per tool because the
// wording is tool- and version-specific; tools without one never emit
// progress events.
type toolDefinition struct {
	tool     models.Tool
	binary   string
	args     []string
	progress *regexp.Regexp
	extract  extractor
}

// resolveTool builds the tool definition for a scan request, including
// the full argument vector. Arguments are always passed as a discrete
// slice, never interpolated into a shell string, so a hostile target
// value cannot inject options of its own.
func resolveTool(cfg *config.Config, req models.ScanRequest) (*toolDefinition, error) {
	switch req.Tool {
	case models.ToolPortScan:
		args := make([]string, 0, 8)
		if req.Options.Ports != "" {
			args = append(args, "-p", req.Options.Ports)
		}
		if req.Options.OSDetection {
			args = append(args, "-O")
		}
		if req.Options.ServiceDetection {
			args = append(args, "-sV")
		}
		if req.Options.ScriptScan {
			args = append(args, "-sC")
		}
		args = append(args, "--stats-every", cfg.Scanner.StatsInterval)
		args = append(args, req.Target)
		return &toolDefinition{
			tool:     models.ToolPortScan,
			binary:   cfg.Scanner.NmapPath,
			args:     args,
			progress: nmapProgress,
			extract:  portScanExtractor{},
		}, nil

	case models.ToolOSINT:
		return &toolDefinition{
			tool:    models.ToolOSINT,
			binary:  cfg.Scanner.SherlockPath,
			args:    []string{req.Target},
			extract: osintExtractor{},
		}, nil

	case models.ToolSubdomain:
		return &toolDefinition{
			tool:    models.ToolSubdomain,
			binary:  cfg.Scanner.AmassPath,
			args:    []string{"enum", "-d", req.Target},
			extract: subdomainExtractor{domain: req.Target},
		}, nil
	}

	return nil, fmt.Errorf("unsupported tool: %q", req.Tool)
}
