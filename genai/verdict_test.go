package genai

import (
	"encoding/json"
	"testing"

	"github.com/c360studio/retouch/pipeline"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantKey string // if non-empty, check this key exists in parsed JSON
		wantErr bool
	}{
		{
			name:    "plain JSON",
			input:   `{"score": 8}`,
			wantKey: "score",
		},
		{
			name:    "markdown code block",
			input:   "```json\n{\"score\": 8}\n```",
			wantKey: "score",
		},
		{
			name:    "markdown block with trailing text",
			input:   "```json\n{\"score\": 8}\n```\n\nThe edit looks clean overall.",
			wantKey: "score",
		},
		{
			name:    "prose before the object",
			input:   "Here is my assessment:\n{\"score\": 7, \"passed\": false}",
			wantKey: "score",
		},
		{
			name:    "first balanced object wins over later braces",
			input:   `{"score": 9} and note that {"unrelated": true}`,
			wantKey: "score",
		},
		{
			name:    "nested object",
			input:   `{"score": 8, "detail": {"region": "sky"}}`,
			wantKey: "detail",
		},
		{
			name:    "braces inside string values",
			input:   `{"reasoning": "subject wears a {patterned} shirt", "score": 6}`,
			wantKey: "reasoning",
		},
		{
			name:    "JS comments and trailing commas",
			input:   "```json\n{\n  \"issues\": [\n    \"halo around subject\",  // edge artifact\n    \"color shift\",  // background\n  ]\n}\n```",
			wantKey: "issues",
		},
		{
			name:    "URL in string not stripped",
			input:   `{"url": "http://example.com/path"}`,
			wantKey: "url",
		},
		{
			name:    "empty input",
			input:   "",
			wantErr: true,
		},
		{
			name:    "no JSON at all",
			input:   "The edit looks great, ship it.",
			wantErr: true,
		},
		{
			name:    "unbalanced object",
			input:   `{"score": 8`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ExtractJSON(tt.input)

			if tt.wantErr {
				if result != "" {
					t.Errorf("expected empty result, got: %s", result)
				}
				return
			}

			if result == "" {
				t.Fatal("expected JSON result, got empty string")
			}

			var parsed map[string]any
			if err := json.Unmarshal([]byte(result), &parsed); err != nil {
				t.Fatalf("extracted JSON does not parse: %v\n%s", err, result)
			}
			if tt.wantKey != "" {
				if _, ok := parsed[tt.wantKey]; !ok {
					t.Errorf("expected key %q in parsed JSON: %s", tt.wantKey, result)
				}
			}
		})
	}
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantScore  int
		wantStatus pipeline.OutcomeStatus
		wantErr    bool
	}{
		{
			name:       "clean pass verdict",
			input:      `{"score": 9, "passed": true, "issues": [], "reasoning": "matches the request", "status": "PASS"}`,
			wantScore:  9,
			wantStatus: pipeline.OutcomePass,
		},
		{
			name:       "fail verdict with issues",
			input:      `{"score": 4, "passed": false, "issues": ["background altered"], "reasoning": "drifted", "status": "FAIL"}`,
			wantScore:  4,
			wantStatus: pipeline.OutcomeFail,
		},
		{
			name:       "status missing, derived from passed",
			input:      `{"score": 8, "passed": true}`,
			wantScore:  8,
			wantStatus: pipeline.OutcomePass,
		},
		{
			name:       "lowercase status normalized",
			input:      `{"score": 3, "passed": false, "status": "fail"}`,
			wantScore:  3,
			wantStatus: pipeline.OutcomeFail,
		},
		{
			name:       "unknown status derived from passed",
			input:      `{"score": 2, "passed": false, "status": "REJECTED"}`,
			wantScore:  2,
			wantStatus: pipeline.OutcomeFail,
		},
		{
			name:       "score clamped high",
			input:      `{"score": 15, "passed": true, "status": "PASS"}`,
			wantScore:  10,
			wantStatus: pipeline.OutcomePass,
		},
		{
			name:       "score clamped low",
			input:      `{"score": -2, "passed": false, "status": "FAIL"}`,
			wantScore:  0,
			wantStatus: pipeline.OutcomeFail,
		},
		{
			name:       "verdict wrapped in prose and code fence",
			input:      "The candidate fulfills the request.\n```json\n{\"score\": 8, \"passed\": true, \"status\": \"PASS\"}\n```",
			wantScore:  8,
			wantStatus: pipeline.OutcomePass,
		},
		{
			name:    "no JSON",
			input:   "Looks good to me!",
			wantErr: true,
		},
		{
			name:    "malformed JSON",
			input:   `{"score": "high", "passed": yes}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome, err := ParseVerdict(tt.input)

			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got outcome %+v", outcome)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if outcome.Score != tt.wantScore {
				t.Errorf("score = %d, want %d", outcome.Score, tt.wantScore)
			}
			if outcome.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", outcome.Status, tt.wantStatus)
			}
			// Passed is the pipeline's call, never the parser's.
			if outcome.Passed {
				t.Error("parser must leave Passed false for the threshold check")
			}
		})
	}
}
