package action

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nandoflorestan/keepluggable/internal/config"
	"github.com/nandoflorestan/keepluggable/internal/domain"
	internal_errors "github.com/nandoflorestan/keepluggable/internal/errors"
)

func pngPayload(t *testing.T, w, h int) *bytes.Reader {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return bytes.NewReader(buf.Bytes())
}

func imageFixture(imgCfg config.Image) *fixture {
	payloads := newFakePayloads()
	metadata := newFakeMetadata()
	a := New(payloads, metadata, "ns", config.Action{},
		WithVersionStrategy(NewImageVersions(imgCfg)))
	return &fixture{action: a, payloads: payloads, metadata: metadata}
}

func specs(lines ...string) []domain.VersionSpec {
	out := make([]domain.VersionSpec, 0, len(lines))
	for _, line := range lines {
		spec, err := domain.ParseVersionSpec(line)
		if err != nil {
			panic(err)
		}
		out = append(out, spec)
	}
	return out
}

func TestImageVersionsLadder(t *testing.T) {
	ctx := context.Background()

	t.Run("derives up to the first covering spec", func(t *testing.T) {
		f := imageFixture(config.Image{
			StoreOriginal: true,
			Quality:       80,
			Specs:         specs("jpeg 100 100 thumb", "jpeg 2000 2000 big"),
		})

		md, err := f.action.StoreOriginalFile(ctx, pngPayload(t, 200, 150),
			&domain.FileMetadata{FileName: "photo.png"})
		require.NoError(t, err)

		assert.Equal(t, 200, *md.ImageWidth)
		assert.Equal(t, 150, *md.ImageHeight)
		require.Len(t, md.Versions, 2)

		thumb, big := md.Versions[0], md.Versions[1]
		assert.Equal(t, "thumb", thumb.Version)
		assert.Equal(t, 100, *thumb.ImageWidth)
		assert.Equal(t, 75, *thumb.ImageHeight)
		assert.Equal(t, "image/jpeg", thumb.MimeType)
		assert.Equal(t, md.Id, *thumb.OriginalId)

		// the covering spec never enlarges
		assert.Equal(t, "big", big.Version)
		assert.Equal(t, 200, *big.ImageWidth)
		assert.Equal(t, 150, *big.ImageHeight)

		// three payloads: original + two renditions
		assert.Len(t, f.payloads.blobs, 3)
		// three metadata records as well
		assert.Len(t, f.metadata.records["ns"], 3)
	})

	t.Run("a spec whose box exactly covers ends the ladder", func(t *testing.T) {
		f := imageFixture(config.Image{
			StoreOriginal: true,
			Quality:       80,
			Specs:         specs("jpeg 100 100 same", "jpeg 200 200 bigger"),
		})

		md, err := f.action.StoreOriginalFile(ctx, pngPayload(t, 100, 100),
			&domain.FileMetadata{FileName: "photo.png"})
		require.NoError(t, err)

		require.Len(t, md.Versions, 1)
		assert.Equal(t, "same", md.Versions[0].Version)
	})

	t.Run("no specs yields no versions", func(t *testing.T) {
		f := imageFixture(config.Image{StoreOriginal: true, Quality: 80})

		md, err := f.action.StoreOriginalFile(ctx, pngPayload(t, 50, 50),
			&domain.FileMetadata{FileName: "photo.png"})
		require.NoError(t, err)
		assert.Empty(t, md.Versions)
		assert.Len(t, f.payloads.blobs, 1)
	})
}

func TestImageVersionsNonImage(t *testing.T) {
	ctx := context.Background()

	t.Run("rejected when images are required", func(t *testing.T) {
		f := imageFixture(config.Image{
			StoreOriginal:     true,
			Quality:           80,
			UploadMustBeImage: true,
		})
		_, err := f.action.StoreOriginalFile(ctx, strings.NewReader("just text"),
			&domain.FileMetadata{FileName: "notes.txt"})
		assert.True(t, internal_errors.IsFileNotAllowed(err))
		assert.Empty(t, f.payloads.blobs)
	})

	t.Run("stored as-is otherwise", func(t *testing.T) {
		f := imageFixture(config.Image{StoreOriginal: true, Quality: 80})
		md, err := f.action.StoreOriginalFile(ctx, strings.NewReader("just text"),
			&domain.FileMetadata{FileName: "notes.txt"})
		require.NoError(t, err)
		assert.Nil(t, md.ImageWidth)
		assert.Empty(t, md.Versions)
		assert.Len(t, f.payloads.blobs, 1)
	})

	t.Run("undecodable image payload is rejected", func(t *testing.T) {
		f := imageFixture(config.Image{StoreOriginal: true, Quality: 80})
		_, err := f.action.StoreOriginalFile(ctx, strings.NewReader("not pixels"),
			&domain.FileMetadata{FileName: "broken.png"})
		assert.True(t, internal_errors.IsFileNotAllowed(err))
		assert.Empty(t, f.payloads.blobs)
	})
}

func TestImageVersionsWithoutOriginalPayload(t *testing.T) {
	ctx := context.Background()
	f := imageFixture(config.Image{
		StoreOriginal: false,
		Quality:       80,
		Specs:         specs("jpeg 100 100 thumb"),
	})

	md, err := f.action.StoreOriginalFile(ctx, pngPayload(t, 200, 150),
		&domain.FileMetadata{FileName: "photo.png"})
	require.NoError(t, err)

	// metadata row exists so repeated uploads are recognized
	record, err := f.metadata.Get(ctx, "ns", md.Fingerprint)
	require.NoError(t, err)
	require.NotNil(t, record)

	// but the original's bytes were never written and it gets no link
	assert.Len(t, f.payloads.blobs, 1) // the thumb only
	assert.Empty(t, md.Href)
	require.Len(t, md.Versions, 1)
	assert.NotEmpty(t, md.Versions[0].Href)
}
