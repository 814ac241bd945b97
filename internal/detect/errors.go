package detect

import (
	"regexp"
	"strings"

	"github.com/tandemloop/tandem/internal/util"
)

// Severity grades an error rendering seen on a worker's pane.
type Severity int

const (
	// SeverityNone means no structural error indicator was found.
	// Prose that merely discusses errors or race conditions lands here.
	SeverityNone Severity = iota

	// SeverityTransient is a recoverable-looking fault: a typed error
	// line, a stack-trace header, or a shell-level failure. The
	// orchestrator tolerates a configured number of these (patience)
	// before escalating.
	SeverityTransient

	// SeveritySerious is an unambiguous process fault: fatal signals,
	// core dumps, forced termination. Serious faults are always
	// escalated and are never suppressed by a dismissed flag.
	SeveritySerious
)

// String returns a human-readable name for the severity.
func (s Severity) String() string {
	switch s {
	case SeverityNone:
		return "none"
	case SeverityTransient:
		return "transient"
	case SeveritySerious:
		return "serious"
	default:
		return "unknown"
	}
}

// classifyLines bounds how much of the capture the classifier examines.
const classifyLines = 40

// Serious indicators: process-fault signatures. Matched anywhere in the
// recent excerpt, regardless of what calmer prose follows.
var seriousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)segmentation fault`),
	regexp.MustCompile(`(?i)\(core dumped\)`),
	regexp.MustCompile(`(?i)signal:\s*(?:SIGSEGV|SIGKILL|SIGABRT|SIGBUS|SIGTERM)`),
	regexp.MustCompile(`(?i)fatal signal`),
	regexp.MustCompile(`(?im)^\s*Killed\b`),
	regexp.MustCompile(`(?i)process (?:crashed|terminated unexpectedly)`),
}

// Transient indicators: structural error markers. Each requires a typed
// prefix, a stack-trace header, or a shell failure phrase, so ordinary
// prose about "error handling" never matches.
var transientPatterns = []*regexp.Regexp{
	// Typed error/exception prefixes at line start (TypeError:,
	// ValueError:, RuntimeException:, error[E0308]:).
	regexp.MustCompile(`(?m)^\s*[A-Z][A-Za-z]*(?:Error|Exception):`),
	regexp.MustCompile(`(?m)^\s*error(?:\[[A-Z0-9]+\])?:`),
	// Stack-trace headers.
	regexp.MustCompile(`Traceback \(most recent call last\)`),
	regexp.MustCompile(`(?m)^panic: `),
	regexp.MustCompile(`(?m)^\s*at .+\(.+:\d+:\d+\)$`),
	// Shell-level failures.
	regexp.MustCompile(`(?i)command not found`),
	regexp.MustCompile(`(?i)no such file or directory`),
	regexp.MustCompile(`(?m)FAILED?\s*\(exit (?:status|code) [1-9]\d*\)`),
}

// Classify scans captured pane text for structural error indicators and
// returns a severity tier. It is stateless; the patience policy layered
// on top belongs to the turn monitor, not here.
func Classify(text string) Severity {
	if text == "" {
		return SeverityNone
	}

	recent := strings.Join(lastLines(util.StripANSI(text), classifyLines), "\n")

	// Serious signatures win no matter where in the excerpt they sit:
	// an agent often prints calm recovery prose after a crash line.
	for _, re := range seriousPatterns {
		if re.MatchString(recent) {
			return SeveritySerious
		}
	}

	for _, re := range transientPatterns {
		if re.MatchString(recent) {
			return SeverityTransient
		}
	}

	return SeverityNone
}
