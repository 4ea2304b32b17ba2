package redact

import (
	"strings"
	"testing"
)

func TestRedactPatterns(t *testing.T) {
	r := NewRedactor()

	cases := []struct {
		name  string
		input string
		leak  string // must not survive
		keep  string // identifying prefix that must survive
	}{
		{"bearer", "request failed: Authorization: Bearer abc123token", "abc123token", "Bearer "},
		{"basic", "auth Basic dXNlcjpwYXNz rejected", "dXNlcjpwYXNz", "Basic "},
		{"sk key", "invalid key sk-a1b2c3d4e5f6 for model", "sk-a1b2c3d4e5f6", "invalid key"},
		{"github token", "push denied for ghp_abcdefghij0123456789", "ghp_abcdefghij0123456789", "push denied"},
		{"key assignment", "dial failed: api_key=supersekrit host unreachable", "supersekrit", "api_key="},
		{"password assignment", "bad config: password=hunter2", "hunter2", "password="},
		{"url userinfo", "connect postgres://admin:hunter2@db:5432 refused", "admin:hunter2", "postgres://"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := r.Redact(tc.input)
			if strings.Contains(got, tc.leak) {
				t.Errorf("Redact(%q) = %q, still contains %q", tc.input, got, tc.leak)
			}
			if !strings.Contains(got, placeholder) {
				t.Errorf("Redact(%q) = %q, no placeholder inserted", tc.input, got)
			}
			if !strings.Contains(got, tc.keep) {
				t.Errorf("Redact(%q) = %q, lost identifying prefix %q", tc.input, got, tc.keep)
			}
		})
	}
}

func TestRedactLiteralSecrets(t *testing.T) {
	r := NewRedactor()
	r.AddSecrets([]string{"s3cr3t-value", ""})

	got := r.Redact("engine said: cannot reach s3cr3t-value endpoint")
	if strings.Contains(got, "s3cr3t-value") {
		t.Fatalf("literal secret survived: %q", got)
	}
	if got != "engine said: cannot reach [REDACTED] endpoint" {
		t.Errorf("Redact = %q", got)
	}
}

func TestRedactLeavesPlainTextAlone(t *testing.T) {
	r := NewRedactor()
	input := "tool not found: web_search"
	if got := r.Redact(input); got != input {
		t.Errorf("Redact(%q) = %q, want unchanged", input, got)
	}
}
