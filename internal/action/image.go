package action

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"strings"

	"github.com/nandoflorestan/keepluggable/internal/config"
	"github.com/nandoflorestan/keepluggable/internal/domain"
	internal_errors "github.com/nandoflorestan/keepluggable/internal/errors"
	"github.com/nandoflorestan/keepluggable/internal/fingerprint"
	"github.com/nandoflorestan/keepluggable/internal/imaging"
	"github.com/nandoflorestan/keepluggable/internal/metrics"
)

// ImageVersions is the version strategy for image uploads: it decodes
// the original, corrects orientation and derives the configured ladder
// of resized, re-encoded renditions.
type ImageVersions struct {
	specs         []domain.VersionSpec // ascending by area
	quality       int
	storeOriginal bool
	requireImage  bool
}

var _ VersionStrategy = (*ImageVersions)(nil)

func NewImageVersions(cfg config.Image) *ImageVersions {
	specs := make([]domain.VersionSpec, len(cfg.Specs))
	copy(specs, cfg.Specs)
	domain.SortVersionSpecs(specs)
	return &ImageVersions{
		specs:         specs,
		quality:       cfg.Quality,
		storeOriginal: cfg.StoreOriginal,
		requireImage:  cfg.UploadMustBeImage,
	}
}

func (v *ImageVersions) KeepsOriginalPayload() bool { return v.storeOriginal }

func (v *ImageVersions) StoreVersions(ctx context.Context, a *Action, payload io.ReadSeeker, md *domain.FileMetadata) error {
	if !strings.HasPrefix(md.MimeType, "image") {
		if v.requireImage {
			return internal_errors.FileNotAllowedf(
				"the file %q lacks a supported image type, so it was not stored", md.FileName)
		}
		return PassthroughVersions{}.StoreVersions(ctx, a, payload, md)
	}

	// Decoding also converts to the canonical pixel format, so every
	// failure mode surfaces here, before any storage write.
	decoded, err := imaging.Decode(payload)
	if err != nil {
		return internal_errors.FileNotAllowedf(
			"unable to store the image %q because the server cannot identify or convert its format",
			md.FileName)
	}
	width, height := decoded.Width, decoded.Height
	md.ImageWidth, md.ImageHeight = &width, &height

	if v.storeOriginal {
		if err := a.storeFile(ctx, payload, md); err != nil {
			return err
		}
	} else {
		// The metadata row is stored regardless, so repeated uploads of
		// the same content are still recognized.
		if err := a.storeMetadata(ctx, md); err != nil {
			return err
		}
	}

	// Enlarging an upload wastes storage and degrades output, but a tiny
	// upload still needs a stored rendition: derive the ascending ladder
	// up to and including the first spec whose box covers the original.
	originalArea := int64(width) * int64(height)
	covered := false
	versions := make([]*domain.FileMetadata, 0, len(v.specs))
	for _, spec := range v.specs {
		if covered {
			break
		}
		version, err := v.storeImageVersion(ctx, a, decoded.Image, md, spec)
		if err != nil {
			// Versions committed so far stay committed; the caller
			// decides whether to run the deletion workflow.
			return err
		}
		versions = append(versions, version)
		metrics.VersionsDerived.WithLabelValues(a.namespace).Inc()
		if spec.Area() >= originalArea {
			covered = true
		}
	}
	md.Versions = versions
	return nil
}

func (v *ImageVersions) storeImageVersion(ctx context.Context, a *Action, src *image.NRGBA, original *domain.FileMetadata, spec domain.VersionSpec) (*domain.FileMetadata, error) {
	originalId := original.Id
	md := original.Clone()
	md.Version = spec.Name
	md.OriginalId = &originalId
	md.MimeType = "image/" + spec.Format

	resized := imaging.Fit(src, spec.Width, spec.Height)
	bounds := resized.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	md.ImageWidth, md.ImageHeight = &width, &height

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, spec.Format, v.quality); err != nil {
		return nil, fmt.Errorf("encoding %s version of %q: %w", spec.Name, original.FileName, err)
	}

	stream := bytes.NewReader(buf.Bytes())
	fprint, length, err := fingerprint.Compute(stream)
	if err != nil {
		return nil, err
	}
	md.Fingerprint = fprint
	md.Length = length

	if err := a.storeFile(ctx, stream, md); err != nil {
		return nil, err
	}
	return md, nil
}
