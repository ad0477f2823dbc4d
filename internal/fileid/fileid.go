// Package fileid derives stable document IDs for files picked up from disk.
package fileid

import (
	"path/filepath"

	"github.com/google/uuid"
)

// namespace scopes path-derived IDs so they never collide with random document IDs.
var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("newsvault:file"))

// FileDocID returns a name-based (version 5) UUID for the cleaned path.
// The same path always yields the same ID, so re-indexing a file replaces its document.
func FileDocID(path string) string {
	return uuid.NewSHA1(namespace, []byte(filepath.Clean(path))).String()
}

// IsFileDocID reports whether id has the shape of a path-derived ID.
func IsFileDocID(id string) bool {
	u, err := uuid.Parse(id)
	return err == nil && u.Version() == 5
}
