package pipeline

import (
	"strings"
)

// defaultPreservation is appended to every step when the instruction
// carries no preservation clause of its own.
const defaultPreservation = "Keep every other part of the image exactly as it is."

// preservationMarkers mark a trailing clause as a preservation clause
// ("leave everything else unchanged"). Matched case-insensitively as a
// prefix of the clause.
var preservationMarkers = []string{
	"keep ",
	"keeping ",
	"preserve ",
	"preserving ",
	"leave ",
	"leaving ",
	"maintain ",
	"maintaining ",
	"do not change",
	"don't change",
	"without changing",
}

// stepDelimiters split the actionable text into atomic fragments.
// Longest patterns first so the replacer prefers ", and then " over
// ", and " over ", ". This is a locale-specific syntactic heuristic,
// not a grammar; the set is deliberately small and frozen because the
// escalation routing depends on its exact behavior.
var stepDelimiters = []string{
	", and then ",
	" and then ",
	", and ",
	", then ",
	" then ",
	"; ",
	". ",
	", ",
	" and ",
}

// stepSeparator is the internal split token fragments are cut on after
// delimiter rewriting.
const stepSeparator = "\x1f"

// Decomposition is the outcome of splitting an instruction into ordered
// atomic steps. Each step carries the shared preservation clause so it
// stands alone as a complete edit request.
type Decomposition struct {
	Steps        []string
	Preservation string
}

// IsCompound reports whether decomposition found more than one step.
// Single-step decompositions must not enter sequential execution; they
// route directly to hybrid fallback.
func (d Decomposition) IsCompound() bool {
	return len(d.Steps) > 1
}

// Decompose splits an instruction into ordered atomic step instructions.
// Pure and deterministic: identical input always yields identical
// output.
//
// A trailing preservation clause is detected and separated from the
// actionable portion (synthesized if absent), the actionable text is
// split on a fixed set of conjunction and punctuation delimiters, empty
// fragments are discarded, and the preservation clause is re-appended
// to every fragment. The result has length 1 when no delimiter matched.
func Decompose(instruction string) Decomposition {
	text := strings.TrimSpace(instruction)
	text = strings.TrimRight(text, ".!")

	actionable, preservation := splitPreservation(text)
	if preservation == "" {
		preservation = defaultPreservation
	} else if !strings.HasSuffix(preservation, ".") {
		preservation += "."
	}

	replacer := newDelimiterReplacer()
	fragments := strings.Split(replacer.Replace(actionable), stepSeparator)

	steps := make([]string, 0, len(fragments))
	for _, f := range fragments {
		f = strings.TrimSpace(f)
		f = strings.TrimRight(f, ".,;")
		if f == "" {
			continue
		}
		steps = append(steps, f+". "+preservation)
	}

	// Degenerate input (empty or preservation-only): treat the whole
	// instruction as one step so the result is always non-empty and the
	// single-step fallback route applies.
	if len(steps) == 0 {
		steps = append(steps, strings.TrimSpace(instruction))
	}

	return Decomposition{Steps: steps, Preservation: preservation}
}

func newDelimiterReplacer() *strings.Replacer {
	pairs := make([]string, 0, len(stepDelimiters)*2)
	for _, d := range stepDelimiters {
		pairs = append(pairs, d, stepSeparator)
	}
	return strings.NewReplacer(pairs...)
}

// splitPreservation strips one trailing preservation clause from the
// text, returning the actionable head and the clause. The clause is
// the tail after the last sentence or clause boundary when that tail
// starts with a preservation marker.
func splitPreservation(text string) (actionable, preservation string) {
	boundary := -1
	tailStart := -1
	for _, sep := range []string{". ", "; ", ", ", " and "} {
		if idx := strings.LastIndex(text, sep); idx > boundary {
			boundary = idx
			tailStart = idx + len(sep)
		}
	}
	if boundary < 0 {
		if isPreservation(text) {
			return "", strings.TrimSpace(text)
		}
		return text, ""
	}

	tail := strings.TrimSpace(text[tailStart:])
	if !isPreservation(tail) {
		return text, ""
	}
	return strings.TrimSpace(text[:boundary]), tail
}

func isPreservation(clause string) bool {
	lower := strings.ToLower(strings.TrimSpace(clause))
	for _, marker := range preservationMarkers {
		if strings.HasPrefix(lower, marker) {
			return true
		}
	}
	return false
}
