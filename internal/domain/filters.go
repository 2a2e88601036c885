package domain

// Filters narrows a flat metadata listing.
// Zero-valued fields are not applied.
type Filters struct {
	Version    string
	OriginalId *FileId
}
