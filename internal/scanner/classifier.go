package scanner

import (
	"regexp"
	"strconv"

	"hybridscan/internal/models"
)

// LineClassifier decides, per output line, whether the line is a
// progress report or a plain log line. The progress pattern is supplied
// per tool; a nil pattern classifies everything as a log line.
type LineClassifier struct {
	progress *regexp.Regexp
}

// NewLineClassifier creates a classifier using the given progress
// pattern. The pattern must have two capture groups: the percentage
// value and the remainder used as the ETA text.
func NewLineClassifier(progress *regexp.Regexp) *LineClassifier {
	return &LineClassifier{progress: progress}
}

// Classify matches one raw output line against the progress pattern.
// When it matches, the extracted progress payload is returned with
// ok=true. The percentage is passed through as parsed, without range
// validation, and the ETA text is kept verbatim. Any other line,
// including partial matches, is a log line and is left untouched.
func (c *LineClassifier) Classify(line string) (models.ProgressPayload, bool) {
	if c.progress == nil {
		return models.ProgressPayload{}, false
	}

	m := c.progress.FindStringSubmatch(line)
	if m == nil {
		return models.ProgressPayload{}, false
	}

	percent, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		// The capture group admits strings like "12.34.5" that look
		// numeric to the pattern but are not parseable; treat those
		// lines as logs.
		return models.ProgressPayload{}, false
	}

	return models.ProgressPayload{Percent: percent, ETA: m[2]}, true
}
