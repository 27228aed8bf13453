package util

import "testing"

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short string unchanged", "hello", 10, "hello"},
		{"exact length unchanged", "hello", 5, "hello"},
		{"truncated with ellipsis", "hello world", 8, "hello..."},
		{"zero length", "hello", 0, ""},
		{"tiny budget", "hello", 2, "he"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Truncate(tt.in, tt.n)
			if got != tt.want {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
			}
		})
	}
}

func TestFirstLine(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"single line", "single line"},
		{"first\nsecond", "first"},
		{"  padded  \nrest", "padded"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := FirstLine(tt.in); got != tt.want {
			t.Errorf("FirstLine(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidHandle(t *testing.T) {
	valid := []string{"alice", "bob-claude", "user_2", "A.B", "x"}
	for _, h := range valid {
		if !ValidHandle(h) {
			t.Errorf("ValidHandle(%q) = false, want true", h)
		}
	}

	invalid := []string{"", "a/b", "a\\b", "..", ".", "a b", "@alice", "a:b",
		"waytoolonghandlewaytoolonghandlewaytoolonghandlewaytoolonghandle!"}
	for _, h := range invalid {
		if ValidHandle(h) {
			t.Errorf("ValidHandle(%q) = true, want false", h)
		}
	}
}

func TestIndent(t *testing.T) {
	if got := Indent("a\n\nb\n", "  "); got != "  a\n\n  b" {
		t.Errorf("Indent = %q", got)
	}
}

func TestPadCell(t *testing.T) {
	if got := PadCell("ab", 5); got != "ab   " {
		t.Errorf("PadCell(ab, 5) = %q", got)
	}
	if got := PadCell("abcdef", 5); got != "ab..." {
		t.Errorf("PadCell(abcdef, 5) = %q", got)
	}
	if got := PadCell("x", 0); got != "" {
		t.Errorf("PadCell(x, 0) = %q", got)
	}
}
