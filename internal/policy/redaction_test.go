package policy

import (
	"strings"
	"testing"
)

func TestRedactPII(t *testing.T) {
	input := "Email me at sam@example.com or +1 (555) 123-9876 and use 4242 4242 4242 4242."
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

func TestRedactPIILeavesPersianQueryAlone(t *testing.T) {
	in := "جاذبه های گردشگری رفسنجان"
	out, changed := RedactPII(in)
	if changed || out != in {
		t.Fatalf("RedactPII(%q) = %q, %v", in, out, changed)
	}
}

func TestRedactSecrets(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{
			in:   `dial wss://host/ws/Service.BidiGenerateContent?key=AIzaSy123&alt=json: refused`,
			want: `dial wss://host/ws/Service.BidiGenerateContent?key=[REDACTED]&alt=json: refused`,
		},
		{in: "Authorization: Bearer abc.def-ghi", want: "Authorization: Bearer [REDACTED]"},
		{in: "no secrets here", want: "no secrets here"},
	}
	for _, tc := range tests {
		if got := RedactSecrets(tc.in); got != tc.want {
			t.Fatalf("RedactSecrets(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
