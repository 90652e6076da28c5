package pipeline

import (
	"bytes"
	"fmt"
	"image/png"

	"github.com/dunamismax/pixelopt/internal/domain"
	"github.com/dunamismax/pixelopt/internal/metadata"
	"github.com/dunamismax/pixelopt/internal/preset"
	"github.com/gen2brain/jpegli"
	"github.com/gen2brain/webp"
)

// jpegProgressiveLevel is jpegli's deepest progression (0 is sequential).
const jpegProgressiveLevel = 2

// portableEncoder needs neither cgo nor system codec libraries: JPEG goes through jpegli and
// WebP through libwebp, both compiled to WebAssembly. PNG uses image/png.
type portableEncoder struct{}

func (portableEncoder) Encode(asset *ImageAsset, target domain.Format, profile preset.EncodeProfile) ([]byte, error) {
	var buf bytes.Buffer
	var err error

	switch target {
	case domain.FormatJPEG:
		err = jpegli.Encode(&buf, asset.Image, &jpegli.EncodingOptions{
			Quality:          profile.JPEGQuality,
			ProgressiveLevel: jpegProgressiveLevel,
			OptimizeCoding:   true,
		})
	case domain.FormatPNG:
		enc := png.Encoder{CompressionLevel: pngCompression(profile.PNGCompressLevel)}
		err = enc.Encode(&buf, asset.Image)
	case domain.FormatWebP:
		err = webp.Encode(&buf, asset.Image, webp.Options{
			Quality: profile.WebPQuality,
			Method:  profile.WebPMethod,
		})
	default:
		return nil, fmt.Errorf("%w: no encoder for %s", domain.ErrUnsupportedFormat, target)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: encode %s: %v", domain.ErrEncodeFailure, target, err)
	}

	return embedMetadata(target, buf.Bytes(), asset.Metadata)
}

// pngCompression maps a zlib-style 0-9 level onto the four levels image/png exposes.
func pngCompression(level int) png.CompressionLevel {
	switch {
	case level <= 0:
		return png.NoCompression
	case level <= 3:
		return png.BestSpeed
	case level <= 6:
		return png.DefaultCompression
	default:
		return png.BestCompression
	}
}

func embedMetadata(target domain.Format, data []byte, md metadata.Metadata) ([]byte, error) {
	out, err := metadata.Embed(target, data, md)
	if err != nil {
		return nil, fmt.Errorf("%w: embed metadata: %v", domain.ErrEncodeFailure, err)
	}
	return out, nil
}
