package pipeline

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/dunamismax/pixelopt/internal/domain"
	"github.com/dunamismax/pixelopt/internal/metadata"
	_ "golang.org/x/image/webp"
)

// ColorMode names the channel layout of a decoded image.
type ColorMode string

const (
	ModeRGB     ColorMode = "RGB"
	ModeRGBA    ColorMode = "RGBA"
	ModeGray    ColorMode = "L"
	ModePalette ColorMode = "P"
	ModeCMYK    ColorMode = "CMYK"
)

// ImageAsset is one decoded image moving through the pipeline. It is owned by a single
// Optimize call and mutated in place by the stages.
type ImageAsset struct {
	Image    image.Image
	Format   domain.Format
	Metadata metadata.Metadata
}

func decodeAsset(input []byte) (*ImageAsset, error) {
	if len(input) == 0 {
		return nil, fmt.Errorf("%w: empty input", domain.ErrUnsupportedFormat)
	}

	img, name, err := image.Decode(bytes.NewReader(input))
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %v", domain.ErrUnsupportedFormat, err)
	}
	format, err := domain.ParseFormat(name)
	if err != nil {
		return nil, err
	}

	return &ImageAsset{
		Image:    img,
		Format:   format,
		Metadata: metadata.Extract(format, input),
	}, nil
}

func (a *ImageAsset) Size() (int, int) {
	b := a.Image.Bounds()
	return b.Dx(), b.Dy()
}

func modeOf(img image.Image) ColorMode {
	switch img.(type) {
	case *image.YCbCr:
		return ModeRGB
	case *image.Gray, *image.Gray16:
		return ModeGray
	case *image.Paletted:
		return ModePalette
	case *image.CMYK:
		return ModeCMYK
	default:
		return ModeRGBA
	}
}

// hasTransparentPalette reports whether a paletted image declares any non-opaque entry.
func hasTransparentPalette(img image.Image) bool {
	p, ok := img.(*image.Paletted)
	if !ok {
		return false
	}
	for _, c := range p.Palette {
		if _, _, _, a := c.RGBA(); a != 0xFFFF {
			return true
		}
	}
	return false
}
