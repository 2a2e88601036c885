package action

import (
	"context"
	"io"

	"github.com/nandoflorestan/keepluggable/internal/domain"
)

// PassthroughVersions stores the upload as-is with an empty versions
// list. It is the default strategy and the non-image path.
type PassthroughVersions struct{}

func (PassthroughVersions) KeepsOriginalPayload() bool { return true }

func (PassthroughVersions) StoreVersions(ctx context.Context, a *Action, payload io.ReadSeeker, md *domain.FileMetadata) error {
	md.Versions = []*domain.FileMetadata{}
	return a.storeFile(ctx, payload, md)
}
