package genai

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/c360studio/retouch/pipeline"
)

// Pre-compiled regex patterns for JSON extraction from model responses.
var (
	// jsonBlockPattern matches JSON inside markdown code blocks: ```json { ... } ```
	jsonBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(\\{.*?\\})\\s*```")
	// trailingCommaPattern matches trailing commas before ] or }.
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
)

// verdict is the JSON shape the grading prompt asks for.
type verdict struct {
	Score     int      `json:"score"`
	Passed    bool     `json:"passed"`
	Issues    []string `json:"issues"`
	Reasoning string   `json:"reasoning"`
	Status    string   `json:"status"`
}

// ParseVerdict extracts the grading verdict from a validation response.
// The outcome's Passed flag is left false: the pipeline derives it from
// the score threshold, not from the model's self-report.
func ParseVerdict(content string) (*pipeline.Outcome, error) {
	raw := ExtractJSON(content)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in validation response")
	}

	var v verdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("parse validation verdict: %w", err)
	}

	if v.Score < 0 {
		v.Score = 0
	}
	if v.Score > 10 {
		v.Score = 10
	}

	status := pipeline.OutcomeStatus(strings.ToUpper(strings.TrimSpace(v.Status)))
	switch status {
	case pipeline.OutcomePass, pipeline.OutcomeFail:
	default:
		// Model omitted or mangled the status: derive it from passed.
		if v.Passed {
			status = pipeline.OutcomePass
		} else {
			status = pipeline.OutcomeFail
		}
	}

	return &pipeline.Outcome{
		Score:     v.Score,
		Issues:    v.Issues,
		Reasoning: v.Reasoning,
		Status:    status,
	}, nil
}

// ExtractJSON extracts a JSON object from a model response string.
// It handles markdown code blocks, JavaScript-style comments, and trailing
// commas. Outside code blocks the FIRST balanced object wins, so prose
// containing stray braces after the verdict cannot corrupt the match.
func ExtractJSON(content string) string {
	if matches := jsonBlockPattern.FindStringSubmatch(content); len(matches) > 1 {
		return cleanJSON(matches[1])
	}
	if raw := firstBalancedObject(content); raw != "" {
		return cleanJSON(raw)
	}
	return ""
}

// firstBalancedObject scans for the first brace-balanced object,
// respecting string literals and escapes.
func firstBalancedObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}

// cleanJSON removes JavaScript-style comments and trailing commas.
// Models commonly produce these invalid JSON artifacts.
func cleanJSON(raw string) string {
	lines := strings.Split(raw, "\n")
	cleaned := make([]string, 0, len(lines))
	for _, line := range lines {
		cleaned = append(cleaned, stripLineComment(line))
	}
	result := strings.Join(cleaned, "\n")

	return trailingCommaPattern.ReplaceAllString(result, "$1")
}

// stripLineComment removes a // comment from a JSON line, respecting
// string values that may themselves contain slashes (URLs, paths).
func stripLineComment(line string) string {
	// Fast path: no // at all
	if !strings.Contains(line, "//") {
		return line
	}

	inString := false
	escaped := false
	for i := 0; i < len(line); i++ {
		ch := line[i]
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if !inString && ch == '/' && i+1 < len(line) && line[i+1] == '/' {
			return strings.TrimRight(line[:i], " \t")
		}
	}
	return line
}
