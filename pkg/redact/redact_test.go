package redact

import (
	"strings"
	"testing"
)

func TestRedactDisabled(t *testing.T) {
	SetEnabled(false)
	in := "my email is a@b.com and my phone is +62 812 3456 7890"
	if got := Text(in); got != in {
		t.Fatalf("expected no redaction, got %q", got)
	}
}

func TestRedactEnabled(t *testing.T) {
	SetEnabled(true)
	defer SetEnabled(false)

	cases := []struct {
		in   string
		want string
	}{
		{"email a@b.com please", "[REDACTED_EMAIL]"},
		{"write to jane at example dot com okay echo", "[REDACTED_EMAIL]"},
		{"call me on +62 812 3456 7890", "[REDACTED_PHONE]"},
	}
	for _, tc := range cases {
		got := Text(tc.in)
		if !strings.Contains(got, tc.want) {
			t.Fatalf("Text(%q) = %q, expected %q", tc.in, got, tc.want)
		}
	}
	if got := Text("what is a noun."); got != "what is a noun." {
		t.Fatalf("unexpected redaction: %q", got)
	}
}
