package pipeline

import (
	"strings"
	"testing"
)

func TestDecomposeSingleClause(t *testing.T) {
	d := Decompose("Make the sky look more dramatic")

	if len(d.Steps) != 1 {
		t.Fatalf("expected 1 step, got %d: %v", len(d.Steps), d.Steps)
	}
	if d.IsCompound() {
		t.Error("single clause must not be compound")
	}
	if !strings.HasPrefix(d.Steps[0], "Make the sky look more dramatic.") {
		t.Errorf("unexpected step: %q", d.Steps[0])
	}
	if !strings.Contains(d.Steps[0], defaultPreservation) {
		t.Errorf("expected synthesized preservation clause in %q", d.Steps[0])
	}
}

func TestDecomposeCommaAndConjunction(t *testing.T) {
	d := Decompose("Remove the watermark, brighten the background and sharpen the logo. Keep rest identical")

	want := []string{
		"Remove the watermark. Keep rest identical.",
		"brighten the background. Keep rest identical.",
		"sharpen the logo. Keep rest identical.",
	}
	if len(d.Steps) != len(want) {
		t.Fatalf("expected %d steps, got %d: %v", len(want), len(d.Steps), d.Steps)
	}
	for i, s := range d.Steps {
		if s != want[i] {
			t.Errorf("step %d: expected %q, got %q", i, want[i], s)
		}
	}
	if !d.IsCompound() {
		t.Error("expected compound decomposition")
	}
	if d.Preservation != "Keep rest identical." {
		t.Errorf("unexpected preservation clause: %q", d.Preservation)
	}
}

func TestDecomposeDeterministic(t *testing.T) {
	inputs := []string{
		"Change the hat to red, and remove the text. Keep everything else unchanged",
		"Fix the lighting",
		"A, B and C. Keep rest identical",
		"",
	}
	for _, in := range inputs {
		first := Decompose(in)
		second := Decompose(in)
		if len(first.Steps) != len(second.Steps) {
			t.Fatalf("input %q: step counts differ", in)
		}
		for i := range first.Steps {
			if first.Steps[i] != second.Steps[i] {
				t.Errorf("input %q step %d: %q vs %q", in, i, first.Steps[i], second.Steps[i])
			}
		}
		if first.Preservation != second.Preservation {
			t.Errorf("input %q: preservation differs", in)
		}
	}
}

func TestDecomposePreservationVariants(t *testing.T) {
	tests := []struct {
		name         string
		input        string
		wantSteps    int
		preservation string
	}{
		{
			name:         "trailing sentence",
			input:        "Remove the logo. Keep rest identical",
			wantSteps:    1,
			preservation: "Keep rest identical.",
		},
		{
			name:         "trailing comma clause",
			input:        "Change the hat to red, keep everything else the same",
			wantSteps:    1,
			preservation: "keep everything else the same.",
		},
		{
			name:         "joined by and",
			input:        "Blur the background and preserve the subject exactly",
			wantSteps:    1,
			preservation: "preserve the subject exactly.",
		},
		{
			name:         "no clause synthesizes default",
			input:        "Swap the sky, fix the horizon",
			wantSteps:    2,
			preservation: defaultPreservation,
		},
		{
			name:         "do not change marker",
			input:        "Recolor the car; do not change the plates",
			wantSteps:    1,
			preservation: "do not change the plates.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decompose(tt.input)
			if len(d.Steps) != tt.wantSteps {
				t.Fatalf("expected %d steps, got %d: %v", tt.wantSteps, len(d.Steps), d.Steps)
			}
			if d.Preservation != tt.preservation {
				t.Errorf("expected preservation %q, got %q", tt.preservation, d.Preservation)
			}
			for i, s := range d.Steps {
				if !strings.HasSuffix(s, d.Preservation) {
					t.Errorf("step %d missing preservation clause: %q", i, s)
				}
			}
		})
	}
}

func TestDecomposeDelimiters(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		{"A, then B", 2},
		{"A and then B", 2},
		{"A; B; C", 3},
		{"First fix this. Second fix that", 2},
		{"A, and B", 2},
		{"only one edit here", 1},
	}
	for _, tt := range tests {
		d := Decompose(tt.input)
		if len(d.Steps) != tt.want {
			t.Errorf("input %q: expected %d steps, got %d: %v", tt.input, tt.want, len(d.Steps), d.Steps)
		}
	}
}

func TestDecomposeDegenerateInput(t *testing.T) {
	// Preservation-only and empty inputs still yield one step so the
	// single-step route always has something to report.
	for _, in := range []string{"Keep everything exactly the same", "", "   "} {
		d := Decompose(in)
		if len(d.Steps) != 1 {
			t.Errorf("input %q: expected 1 step, got %d: %v", in, len(d.Steps), d.Steps)
		}
		if d.IsCompound() {
			t.Errorf("input %q: degenerate input must not be compound", in)
		}
	}
}

func TestDecomposeTrailingPunctuationTrimmed(t *testing.T) {
	d := Decompose("Remove the text, fix the glare. Keep rest identical.")
	if len(d.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d: %v", len(d.Steps), d.Steps)
	}
	for _, s := range d.Steps {
		if strings.Contains(s, "..") {
			t.Errorf("double punctuation in step: %q", s)
		}
	}
}
