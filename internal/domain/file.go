package domain

import "time"

type FileId = int64

// VersionOriginal is the version discriminator of a first-uploaded,
// non-derived file.
const VersionOriginal = "original"

// FileMetadata is one persisted record per stored payload, either an
// original upload or a derived version of it.
type FileMetadata struct {
	Id          FileId
	Fingerprint string // md5 of the payload bytes, hex
	FileName    string
	Length      int64
	MimeType    string
	Version     string
	OriginalId  *FileId
	ImageWidth  *int
	ImageHeight *int
	Created     time.Time
	Href        string // computed at read time, never persisted

	Versions []*FileMetadata // populated for originals only
}

func (f *FileMetadata) IsOriginal() bool {
	return f.OriginalId == nil
}

// Clone returns a shallow copy without identity fields and without the
// versions list, for deriving a new record from an existing one.
func (f *FileMetadata) Clone() *FileMetadata {
	clone := *f
	clone.Id = 0
	clone.OriginalId = nil
	clone.Versions = nil
	clone.Href = ""
	return &clone
}
