package objectclient

import (
	"fmt"
	"path"
	"strings"

	"github.com/markdave123-py/contexta/internal/core"
)

// ObjectKey creates a consistent key layout: users/{owner}/documents/{doc}/{file}.
// The key doubles as the opaque blob handle stored on the document.
func ObjectKey(ownerID, documentID, filename string) string {
	return path.Join("users", ownerID, "documents", documentID, sanitizeFilename(filename))
}

// OwnsHandle reports whether handle sits under ownerID's prefix.
func OwnsHandle(handle, ownerID string) bool {
	if ownerID == "" || strings.Contains(ownerID, "/") {
		return false
	}
	clean := path.Clean(handle)
	return clean == handle && strings.HasPrefix(handle, path.Join("users", ownerID)+"/")
}

func checkOwner(handle, ownerID string) error {
	if !OwnsHandle(handle, ownerID) {
		return fmt.Errorf("blob %q: %w", handle, core.ErrForbidden)
	}
	return nil
}

func sanitizeFilename(filename string) string {
	filename = strings.TrimSpace(filename)
	filename = path.Base(strings.ReplaceAll(filename, "\\", "/"))
	filename = strings.ReplaceAll(filename, " ", "_")
	if filename == "" || filename == "." || filename == ".." || filename == "/" {
		return "upload.pdf"
	}
	return filename
}
