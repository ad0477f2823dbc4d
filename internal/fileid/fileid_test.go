package fileid

import (
	"testing"

	"github.com/google/uuid"
)

func TestFileDocID(t *testing.T) {
	id1 := FileDocID("/foo/bar.txt")
	if id1 != FileDocID("/foo/bar.txt") {
		t.Errorf("same path should give same ID")
	}
	if id1 == FileDocID("/foo/baz.txt") {
		t.Errorf("different paths should give different IDs: %q", id1)
	}
	if !IsFileDocID(id1) {
		t.Errorf("IsFileDocID(%q) = false", id1)
	}
}

func TestFileDocID_normalized(t *testing.T) {
	tests := []struct{ a, b string }{
		{"/foo/bar", "/foo/bar/"},
		{"/foo/bar", "/foo/./bar"},
		{"/foo/bar", "/foo/baz/../bar"},
	}
	for _, tt := range tests {
		if FileDocID(tt.a) != FileDocID(tt.b) {
			t.Errorf("%q and %q should map to the same ID", tt.a, tt.b)
		}
	}
}

func TestIsFileDocID(t *testing.T) {
	if IsFileDocID(uuid.New().String()) {
		t.Error("random v4 UUID is not a file ID")
	}
	if IsFileDocID("doc-1") {
		t.Error("arbitrary string is not a file ID")
	}
}
