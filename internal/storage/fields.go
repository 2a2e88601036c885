package storage

import (
	"fmt"

	"github.com/nandoflorestan/keepluggable/internal/domain"
)

// UpdatableFields names the metadata columns a caller may replace.
// Identity fields (id, namespace, fingerprint) and derived-version
// linkage are never updatable.
var UpdatableFields = map[string]bool{
	"file_name":    true,
	"mime_type":    true,
	"image_width":  true,
	"image_height": true,
}

// ApplyFields replaces the supplied fields on md in place.
func ApplyFields(md *domain.FileMetadata, fields map[string]any) error {
	for key, value := range fields {
		if !UpdatableFields[key] {
			return fmt.Errorf("field %q is not updatable", key)
		}
		switch key {
		case "file_name":
			s, ok := value.(string)
			if !ok {
				return fmt.Errorf("field %q must be a string", key)
			}
			md.FileName = s
		case "mime_type":
			s, ok := value.(string)
			if !ok {
				return fmt.Errorf("field %q must be a string", key)
			}
			md.MimeType = s
		case "image_width":
			n, ok := toInt(value)
			if !ok {
				return fmt.Errorf("field %q must be an integer", key)
			}
			md.ImageWidth = &n
		case "image_height":
			n, ok := toInt(value)
			if !ok {
				return fmt.Errorf("field %q must be an integer", key)
			}
			md.ImageHeight = &n
		}
	}
	return nil
}

func toInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	}
	return 0, false
}
