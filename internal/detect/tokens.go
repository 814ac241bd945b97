package detect

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/tandemloop/tandem/internal/util"
)

// tokenRe matches the running token counter agents print in their status
// footer, e.g. "12,345 tokens", "12.5k tokens", "1.2M tokens".
var tokenRe = regexp.MustCompile(`(?i)\b([0-9][0-9,]*(?:\.[0-9]+)?)\s*([km])?\s*tokens\b`)

// TokenCount scrapes the most recent token counter from a captured
// screen. The footer shows a cumulative count, so callers should keep
// the maximum they have seen. Returns false when no counter is visible.
func TokenCount(screen string) (int, bool) {
	matches := tokenRe.FindAllStringSubmatch(util.StripANSI(screen), -1)
	if len(matches) == 0 {
		return 0, false
	}
	m := matches[len(matches)-1]
	n, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0, false
	}
	switch strings.ToLower(m[2]) {
	case "k":
		n *= 1_000
	case "m":
		n *= 1_000_000
	}
	return int(n), true
}
