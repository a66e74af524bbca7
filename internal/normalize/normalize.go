// Package normalize strips run-specific variability from failure text so that
// two occurrences of the same underlying defect produce identical strings.
package normalize

import (
	"regexp"
	"strings"
)

const (
	// maxErrorLen bounds the normalized error message.
	maxErrorLen = 200
	// maxStackLen bounds the normalized stack excerpt.
	maxStackLen = 100
	// significantFrames is how many leading stack lines participate in the
	// signature. Deeper frames churn with call depth without changing the
	// identity of the failure.
	significantFrames = 5
)

var (
	uuidPattern      = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)
	timestampPattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:?\d{2})?`)
	lineColPattern   = regexp.MustCompile(`:\d+:\d+`)
	numberPattern    = regexp.MustCompile(`\d+`)
	quotePattern     = regexp.MustCompile("[\"'`]")
	spacePattern     = regexp.MustCompile(`\s+`)
)

// Error normalizes a raw error message. The result is deterministic for a
// given input and bounded to a length that keeps hash inputs small and
// representative strings scannable.
func Error(text string) string {
	return truncate(scrub(text), maxErrorLen)
}

// Stack normalizes a stack trace, keeping only the leading significant
// frames.
func Stack(trace string) string {
	if trace == "" {
		return ""
	}
	lines := strings.Split(trace, "\n")
	if len(lines) > significantFrames {
		lines = lines[:significantFrames]
	}
	return truncate(scrub(strings.Join(lines, " ")), maxStackLen)
}

// Signature combines the normalized error and stack into the hash input for
// signature computation.
func Signature(errorText, stackTrace string) string {
	return Error(errorText) + "\n" + Stack(stackTrace)
}

func scrub(text string) string {
	if text == "" {
		return ""
	}
	out := uuidPattern.ReplaceAllString(text, "UUID")
	out = timestampPattern.ReplaceAllString(out, "TIMESTAMP")
	out = lineColPattern.ReplaceAllString(out, ":LINE:COL")
	out = numberPattern.ReplaceAllString(out, "NUMBER")
	out = quotePattern.ReplaceAllString(out, "")
	out = spacePattern.ReplaceAllString(out, " ")
	return strings.TrimSpace(out)
}

func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[:limit]
}
