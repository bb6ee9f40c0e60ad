// Package imaging validates uploaded lesion photos and normalizes them into
// the base64 JPEG payload vision providers expect.
package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	_ "image/png"
	"log/slog"
	"strings"

	"github.com/rwcarlsen/goexif/exif"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	// MaxUploadBytes is the largest accepted upload.
	MaxUploadBytes = 10 << 20

	maxDimension = 1024
	jpegQuality  = 85
)

var (
	ErrUnsupportedType = errors.New("unsupported image type")
	ErrTooLarge        = errors.New("image exceeds 10MB")
	ErrEmpty           = errors.New("empty image")
	ErrDecode          = errors.New("cannot decode image")
)

var allowedTypes = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true,
	"image/png":  true,
	"image/webp": true,
}

// AllowedTypes lists the accepted content types.
func AllowedTypes() []string {
	return []string{"image/jpeg", "image/jpg", "image/png", "image/webp"}
}

// Validate checks the declared content type and size of an upload.
func Validate(contentType string, size int64) error {
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	if !allowedTypes[ct] {
		return fmt.Errorf("%w %q (supported: %s)", ErrUnsupportedType, contentType, strings.Join(AllowedTypes(), ", "))
	}
	if size > MaxUploadBytes {
		return ErrTooLarge
	}
	return nil
}

// Info describes an uploaded image and the payload derived from it.
type Info struct {
	Filename     string `json:"filename,omitempty"`
	ContentType  string `json:"content_type,omitempty"`
	Format       string `json:"format"`
	Bytes        int    `json:"bytes"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	Orientation  int    `json:"orientation"`
	OutputWidth  int    `json:"output_width"`
	OutputHeight int    `json:"output_height"`
	OutputBytes  int    `json:"output_bytes"`
}

// Prepared is a normalized image ready to send to a provider.
type Prepared struct {
	Base64 string
	Info   Info
}

// Prepare decodes data, applies the EXIF orientation, shrinks it to fit
// within 1024x1024 and re-encodes it as a JPEG at quality 85.
func Prepare(data []byte, contentType, filename string) (Prepared, error) {
	if len(data) == 0 {
		return Prepared{}, ErrEmpty
	}
	if err := Validate(contentType, int64(len(data))); err != nil {
		return Prepared{}, err
	}

	orientation := Orientation(data)

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Prepared{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	src := img.Bounds()
	info := Info{
		Filename:    filename,
		ContentType: contentType,
		Format:      format,
		Bytes:       len(data),
		Width:       src.Dx(),
		Height:      src.Dy(),
		Orientation: orientation,
	}

	if orientation != 1 {
		img = Orient(img, orientation)
	}
	out := fit(img, maxDimension)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return Prepared{}, fmt.Errorf("encoding jpeg: %w", err)
	}

	info.OutputWidth = out.Bounds().Dx()
	info.OutputHeight = out.Bounds().Dy()
	info.OutputBytes = buf.Len()

	slog.Debug("image prepared",
		"format", format,
		"orientation", orientation,
		"in", fmt.Sprintf("%dx%d/%dB", info.Width, info.Height, info.Bytes),
		"out", fmt.Sprintf("%dx%d/%dB", info.OutputWidth, info.OutputHeight, info.OutputBytes),
	)

	return Prepared{
		Base64: base64.StdEncoding.EncodeToString(buf.Bytes()),
		Info:   info,
	}, nil
}

// Orientation returns the EXIF orientation tag of data, or 1 when absent.
func Orientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil || v < 1 || v > 8 {
		return 1
	}
	return v
}

// Orient returns img transformed so that EXIF orientation o displays upright.
func Orient(img image.Image, o int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	dw, dh := w, h
	if o >= 5 {
		dw, dh = h, w
	}
	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var dx, dy int
			switch o {
			case 2:
				dx, dy = w-1-x, y
			case 3:
				dx, dy = w-1-x, h-1-y
			case 4:
				dx, dy = x, h-1-y
			case 5:
				dx, dy = y, x
			case 6:
				dx, dy = h-1-y, x
			case 7:
				dx, dy = h-1-y, w-1-x
			case 8:
				dx, dy = y, w-1-x
			default:
				dx, dy = x, y
			}
			dst.Set(dx, dy, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}

// fit scales img down to fit within limit×limit, keeping the aspect ratio, and
// flattens transparency onto white.
func fit(img image.Image, limit int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	nw, nh := w, h
	if w > limit || h > limit {
		if w >= h {
			nw, nh = limit, h*limit/w
		} else {
			nw, nh = w*limit/h, limit
		}
		nw, nh = clampMin(nw), clampMin(nh)
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	if nw == w && nh == h {
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	}
	return dst
}

func clampMin(v int) int {
	if v < 1 {
		return 1
	}
	return v
}
