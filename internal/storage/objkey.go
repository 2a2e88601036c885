// Package storage holds helpers shared by payload storage backends.
package storage

import (
	"mime"
	"sort"

	"github.com/nandoflorestan/keepluggable/internal/domain"
)

// ObjectName derives the storage file name for a payload:
// the content fingerprint plus a MIME-type-derived extension.
func ObjectName(md *domain.FileMetadata) string {
	return md.Fingerprint + ExtensionFor(md.MimeType)
}

// ExtensionFor returns a file extension (with leading dot) for a MIME
// type, or empty when no extension is known. The candidates are sorted
// so the result is stable across processes.
func ExtensionFor(mimeType string) string {
	if mimeType == "" {
		return ""
	}
	extensions, err := mime.ExtensionsByType(mimeType)
	if err != nil || len(extensions) == 0 {
		return ""
	}
	sort.Strings(extensions)
	extension := extensions[0]
	if extension == ".jfif" { // some OS mime tables sort this first for image/jpeg
		extension = ".jpe"
	}
	return extension
}
