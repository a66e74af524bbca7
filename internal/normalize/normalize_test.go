package normalize

import (
	"strings"
	"testing"
)

func TestErrorReplacesVariableTokens(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "uuid",
			input: "session 550e8400-e29b-41d4-a716-446655440000 expired",
			want:  "session UUID expired",
		},
		{
			name:  "iso timestamp",
			input: "deadline 2024-03-01T10:15:30Z exceeded",
			want:  "deadline TIMESTAMP exceeded",
		},
		{
			name:  "line and column",
			input: "at app.js:120:45",
			want:  "at app.js:LINE:COL",
		},
		{
			name:  "plain integers",
			input: "expected 200 but got 503",
			want:  "expected NUMBER but got NUMBER",
		},
		{
			name:  "quotes stripped",
			input: `element "#submit" not found`,
			want:  "element #submit not found",
		},
		{
			name:  "whitespace collapsed",
			input: "timeout   waiting\tfor\n element",
			want:  "timeout waiting for element",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Error(tt.input); got != tt.want {
				t.Errorf("Error(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestErrorIsDeterministic(t *testing.T) {
	input := "Timeout after 3000ms at 2024-03-01T10:15:30Z in step 4"
	first := Error(input)
	for i := 0; i < 10; i++ {
		if got := Error(input); got != first {
			t.Fatalf("Error is not deterministic: %q vs %q", got, first)
		}
	}
}

func TestErrorTruncates(t *testing.T) {
	long := strings.Repeat("x", 500)
	if got := Error(long); len(got) != 200 {
		t.Errorf("Error length = %d, want 200", len(got))
	}
}

func TestStackKeepsLeadingFramesOnly(t *testing.T) {
	frames := []string{
		"Error: boom",
		"  at first (a.js:1:1)",
		"  at second (b.js:2:2)",
		"  at third (c.js:3:3)",
		"  at fourth (d.js:4:4)",
		"  at fifth (e.js:5:5)",
		"  at unreachable (z.js:99:99)",
	}
	got := Stack(strings.Join(frames, "\n"))
	if strings.Contains(got, "fifth") || strings.Contains(got, "unreachable") {
		t.Errorf("deep frames leaked into signature: %q", got)
	}
	if !strings.Contains(got, "first") {
		t.Errorf("leading frame missing from signature: %q", got)
	}
	if len(got) > 100 {
		t.Errorf("Stack length = %d, want <= 100", len(got))
	}
}

func TestStackEmpty(t *testing.T) {
	if got := Stack(""); got != "" {
		t.Errorf("Stack(\"\") = %q, want empty", got)
	}
}

func TestSignatureCombinesBothParts(t *testing.T) {
	sig := Signature("boom at line 10", "at handler (x.js:1:2)")
	parts := strings.SplitN(sig, "\n", 2)
	if len(parts) != 2 {
		t.Fatalf("expected error and stack separated by newline, got %q", sig)
	}
	if parts[0] != "boom at line NUMBER" {
		t.Errorf("error part = %q", parts[0])
	}
}
