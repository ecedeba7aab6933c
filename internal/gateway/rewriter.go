package gateway

import (
	"net/url"
	"strings"
)

// DefaultSegmentPath is where the segment proxy is mounted when no route
// prefix is configured.
const DefaultSegmentPath = "/segment"

// Rewriter replaces segment references in an HLS manifest with same-origin
// proxy URLs carrying the absolute upstream URL in the "url" query parameter.
type Rewriter struct {
	classifier  SegmentClassifier
	segmentPath string
}

// NewRewriter returns a Rewriter. A nil classifier selects TSClassifier and an
// empty segmentPath selects DefaultSegmentPath.
func NewRewriter(c SegmentClassifier, segmentPath string) *Rewriter {
	if c == nil {
		c = TSClassifier{}
	}
	if segmentPath == "" {
		segmentPath = DefaultSegmentPath
	}
	return &Rewriter{classifier: c, segmentPath: segmentPath}
}

// Rewrite resolves every segment line against base and swaps it for a proxy
// URL. All other lines, including tags, comments, blank lines and CR line
// endings, are kept byte-for-byte and in order. Segment references that cannot
// be resolved to an absolute URL are left as they are.
func (rw *Rewriter) Rewrite(manifest string, base *url.URL) string {
	lines := strings.Split(manifest, "\n")
	for i, line := range lines {
		text, hadCR := strings.CutSuffix(line, "\r")
		if !rw.classifier.IsSegmentReference(text) {
			continue
		}

		ref, err := url.Parse(strings.TrimSpace(text))
		if err != nil {
			continue
		}
		if base != nil {
			ref = base.ResolveReference(ref)
		}
		if !ref.IsAbs() {
			continue
		}

		out := rw.ProxyURL(ref.String())
		if hadCR {
			out += "\r"
		}
		lines[i] = out
	}
	return strings.Join(lines, "\n")
}

// ProxyURL returns the segment proxy URL for an absolute upstream URL.
func (rw *Rewriter) ProxyURL(target string) string {
	return rw.segmentPath + "?url=" + url.QueryEscape(target)
}
