//go:build govips && cgo

package pipeline

import (
	"bytes"
	"fmt"
	"image/png"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/dunamismax/pixelopt/internal/domain"
	"github.com/dunamismax/pixelopt/internal/preset"
)

// govipsEncoder hands the transformed pixels to libvips through a fast PNG intermediate and
// exports with the full set of codec knobs: progressive, Huffman-optimized JPEG and WebP
// reduction effort.
type govipsEncoder struct{}

func (govipsEncoder) Encode(asset *ImageAsset, target domain.Format, profile preset.EncodeProfile) ([]byte, error) {
	var raw bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&raw, asset.Image); err != nil {
		return nil, fmt.Errorf("%w: stage pixels: %v", domain.ErrEncodeFailure, err)
	}

	img, err := vips.NewImageFromBuffer(raw.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: load pixels: %v", domain.ErrEncodeFailure, err)
	}
	defer img.Close()

	data, err := exportGovipsImage(img, target, profile)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEncodeFailure, err)
	}
	return embedMetadata(target, data, asset.Metadata)
}

func exportGovipsImage(img *vips.ImageRef, target domain.Format, profile preset.EncodeProfile) ([]byte, error) {
	switch target {
	case domain.FormatJPEG:
		if img.HasAlpha() {
			if err := img.Flatten(&vips.Color{R: 255, G: 255, B: 255}); err != nil {
				return nil, fmt.Errorf("flatten: %w", err)
			}
		}
		params := vips.NewJpegExportParams()
		params.Quality = profile.JPEGQuality
		params.Interlace = true
		params.OptimizeCoding = true
		params.StripMetadata = true
		data, _, err := img.ExportJpeg(params)
		if err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
		return data, nil
	case domain.FormatPNG:
		params := vips.NewPngExportParams()
		params.Compression = profile.PNGCompressLevel
		params.StripMetadata = true
		data, _, err := img.ExportPng(params)
		if err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
		return data, nil
	case domain.FormatWebP:
		params := vips.NewWebpExportParams()
		params.Quality = profile.WebPQuality
		params.ReductionEffort = profile.WebPMethod
		params.StripMetadata = true
		data, _, err := img.ExportWebp(params)
		if err != nil {
			return nil, fmt.Errorf("encode webp: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", target)
	}
}
