package policy

import (
	"strings"
	"testing"
)

func TestRedactPII(t *testing.T) {
	input := "Candidate read sam@example.com off a note, then +1 (555) 123-9876 and 4242 4242 4242 4242."
	out, changed := RedactPII(input)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}
}

func TestRedactPIILeavesDetectionMessagesAlone(t *testing.T) {
	msg := "No face detected in frame for over 10 seconds"
	out, changed := RedactPII(msg)
	if changed || out != msg {
		t.Fatalf("RedactPII(%q) = %q, %v; want unchanged", msg, out, changed)
	}
}

func TestMaskEmail(t *testing.T) {
	cases := map[string]string{
		"alice@x.com": "a***@x.com",
		"":            "",
		"nobody":      "***",
		"@x.com":      "***",
	}
	for in, want := range cases {
		if got := MaskEmail(in); got != want {
			t.Fatalf("MaskEmail(%q) = %q, want %q", in, got, want)
		}
	}
}
