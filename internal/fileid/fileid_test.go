package fileid

import (
	"strings"
	"testing"
)

func TestFileDocID(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		same bool
	}{
		{"deterministic", "/foo/bar.txt", "/foo/bar.txt", true},
		{"different paths", "/foo/bar.txt", "/foo/baz.txt", false},
		{"trailing slash", "/foo/bar", "/foo/bar/", true},
		{"dot segment", "/foo/bar", "/foo/./bar", true},
		{"relative", "a/b.txt", "a/b.txt", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := FileDocID(tt.a), FileDocID(tt.b)
			if !strings.HasPrefix(a, prefix) {
				t.Errorf("missing prefix: %q", a)
			}
			if (a == b) != tt.same {
				t.Errorf("FileDocID(%q)=%q FileDocID(%q)=%q, same=%v", tt.a, a, tt.b, b, tt.same)
			}
		})
	}
}

func TestIsFileDocID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{FileDocID("/docs/readme.md"), true},
		{"file:abc", false},
		{"d1", false},
		{"", false},
		{strings.TrimPrefix(FileDocID("/x"), prefix), false},
	}
	for _, tt := range tests {
		if got := IsFileDocID(tt.id); got != tt.want {
			t.Errorf("IsFileDocID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}
