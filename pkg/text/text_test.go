package text

import "testing"

// TestPlainText tests whitespace normalization
func TestPlainText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"simple", "hello world", "hello world"},
		{"collapse spaces", "hello \t  world", "hello world"},
		{"keeps lines", "  title  \nbody text ", "title\nbody text"},
		{"control chars", "a\x00b", "a b"},
		{"trims outer newlines", "\n\nbody\n", "body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PlainText(tt.in); got != tt.want {
				t.Errorf("PlainText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// TestTitle tests first-line extraction
func TestTitle(t *testing.T) {
	if got := Title("\n\n  My Note \nbody"); got != "My Note" {
		t.Errorf("Title = %q", got)
	}
	if got := Title("   \n \n"); got != "" {
		t.Errorf("Title of blank = %q", got)
	}
}

// TestSnippet tests the rune budget
func TestSnippet(t *testing.T) {
	if got := Snippet("line one\nline two", 0); got != "line one line two" {
		t.Errorf("Snippet = %q", got)
	}
	long := ""
	for i := 0; i < 30; i++ {
		long += "abcdefghij"
	}
	if got := Snippet(long, 100); len([]rune(got)) != 100 {
		t.Errorf("Snippet length = %d", len([]rune(got)))
	}
	// Multi-byte runes count as one.
	if got := Snippet("ééééé", 3); got != "ééé" {
		t.Errorf("Snippet = %q", got)
	}
}
