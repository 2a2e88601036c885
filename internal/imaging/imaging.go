// Package imaging decodes uploads, corrects camera orientation and
// produces resized, re-encoded renditions.
package imaging

import (
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"math"

	"github.com/rwcarlsen/goexif/exif"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // decode-only
)

// Decoded is an upload decoded to the canonical pixel format, with any
// embedded orientation tag already applied.
type Decoded struct {
	Image  *image.NRGBA
	Format string
	Width  int
	Height int
}

// Decode reads an image from the stream, converts it to the canonical
// pixel format and corrects orientation. The stream is rewound afterward.
func Decode(rs io.ReadSeeker) (*Decoded, error) {
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewinding payload: %w", err)
	}
	orientation := readOrientation(rs)

	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewinding payload: %w", err)
	}
	img, format, err := image.Decode(rs)
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewinding payload: %w", err)
	}

	canonical, err := ToNRGBA(img)
	if err != nil {
		return nil, err
	}
	if degrees := orientationDegrees(orientation); degrees != 0 {
		canonical = rotate(canonical, degrees)
	}

	bounds := canonical.Bounds()
	return &Decoded{
		Image:  canonical,
		Format: format,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}, nil
}

// readOrientation returns the EXIF orientation value, or 0 when the
// stream carries no readable orientation metadata. Absence is not an error:
// most PNGs and many JPEGs simply have no EXIF segment.
func readOrientation(r io.Reader) int {
	meta, err := exif.Decode(r)
	if err != nil {
		return 0
	}
	tag, err := meta.Get(exif.Orientation)
	if err != nil {
		return 0
	}
	orientation, err := tag.Int(0)
	if err != nil {
		return 0
	}
	return orientation
}

// orientationDegrees maps the four recognized EXIF orientation values to
// counter-clockwise correction angles. Mirrored orientations (2,4,5,7)
// are rare in camera output and are left uncorrected.
func orientationDegrees(orientation int) int {
	switch orientation {
	case 8:
		return 90
	case 3:
		return 180
	case 6:
		return 270
	default:
		return 0
	}
}

// ToNRGBA converts any decoded image (paletted, CMYK, YCbCr...) to NRGBA.
func ToNRGBA(img image.Image) (*image.NRGBA, error) {
	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, fmt.Errorf("image has no pixels")
	}
	if canonical, ok := img.(*image.NRGBA); ok && bounds.Min == (image.Point{}) {
		return canonical, nil
	}
	dst := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Src)
	return dst, nil
}

func rotate(src *image.NRGBA, degrees int) *image.NRGBA {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	var dst *image.NRGBA
	switch degrees {
	case 90: // counter-clockwise
		dst = image.NewNRGBA(image.Rect(0, 0, h, w))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				dst.SetNRGBA(y, w-1-x, src.NRGBAAt(x, y))
			}
		}
	case 180:
		dst = image.NewNRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				dst.SetNRGBA(w-1-x, h-1-y, src.NRGBAAt(x, y))
			}
		}
	case 270:
		dst = image.NewNRGBA(image.Rect(0, 0, h, w))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				dst.SetNRGBA(h-1-y, x, src.NRGBAAt(x, y))
			}
		}
	default:
		return src
	}
	return dst
}

// FitWithin returns the dimensions of an image scaled to fit inside a
// maxW x maxH box, preserving aspect ratio. It never enlarges.
func FitWithin(w, h, maxW, maxH int) (int, int) {
	if w <= maxW && h <= maxH {
		return w, h
	}
	ratio := math.Min(float64(maxW)/float64(w), float64(maxH)/float64(h))
	fitW := int(math.Round(float64(w) * ratio))
	fitH := int(math.Round(float64(h) * ratio))
	if fitW < 1 {
		fitW = 1
	}
	if fitH < 1 {
		fitH = 1
	}
	if fitW > maxW {
		fitW = maxW
	}
	if fitH > maxH {
		fitH = maxH
	}
	return fitW, fitH
}

// Fit resizes src to fit inside a maxW x maxH box. When src already fits
// it is returned unchanged.
func Fit(src *image.NRGBA, maxW, maxH int) *image.NRGBA {
	bounds := src.Bounds()
	w, h := FitWithin(bounds.Dx(), bounds.Dy(), maxW, maxH)
	if w == bounds.Dx() && h == bounds.Dy() {
		return src
	}
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Src, nil)
	return dst
}

// Encode writes img in the given format. The quality setting applies to
// the JPEG encoder only.
func Encode(w io.Writer, img image.Image, format string, quality int) error {
	switch format {
	case "jpeg":
		return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
	case "png":
		return png.Encode(w, img)
	case "gif":
		return gif.Encode(w, img, nil)
	default:
		return fmt.Errorf("unsupported image format %q", format)
	}
}
