package gateway

import (
	"regexp"
	"strings"
)

// SegmentClassifier decides whether a manifest line references a media
// segment that must be routed through the segment proxy.
type SegmentClassifier interface {
	IsSegmentReference(line string) bool
}

// segmentPattern: a URI line (not a tag or comment) ending in .ts, optionally
// followed by a query string.
var segmentPattern = regexp.MustCompile(`(?i)^[^#\s]\S*\.ts(\?\S*)?$`)

// TSClassifier matches MPEG transport stream segment references, absolute or relative.
type TSClassifier struct{}

func (TSClassifier) IsSegmentReference(line string) bool {
	return segmentPattern.MatchString(strings.TrimSpace(line))
}
