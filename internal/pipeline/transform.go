package pipeline

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/pixelopt/internal/domain"
	"github.com/dunamismax/pixelopt/internal/metadata"
)

// orient returns img rotated/flipped so that it displays upright for the given EXIF
// orientation value.
func orient(img image.Image, orientation int) image.Image {
	switch orientation {
	case metadata.OrientationTopRight:
		return imaging.FlipH(img)
	case metadata.OrientationBottomRight:
		return imaging.Rotate180(img)
	case metadata.OrientationBottomLeft:
		return imaging.FlipV(img)
	case metadata.OrientationLeftTop:
		return imaging.Transpose(img)
	case metadata.OrientationRightTop:
		return imaging.Rotate270(img)
	case metadata.OrientationRightBottom:
		return imaging.Transverse(img)
	case metadata.OrientationLeftBottom:
		return imaging.Rotate90(img)
	default:
		return img
	}
}

// scaledSize applies percent to each axis independently, never going below one pixel.
func scaledSize(width, height, percent int) (int, int) {
	scale := func(v int) int {
		return max(1, int(math.Round(float64(v)*float64(percent)/100)))
	}
	return scale(width), scale(height)
}

func resize(img image.Image, percent int) image.Image {
	if percent == 100 {
		return img
	}
	b := img.Bounds()
	w, h := scaledSize(b.Dx(), b.Dy(), percent)
	return imaging.Resize(img, w, h, imaging.Lanczos)
}

// SharpenParams are the unsharp-mask parameters derived from a 0-100 strength.
type SharpenParams struct {
	Radius    float64
	Percent   int
	Threshold int
}

func SharpenParamsFor(strength int) SharpenParams {
	s := float64(strength) / 100
	return SharpenParams{
		Radius:    s * 2.5,
		Percent:   50 + strength,
		Threshold: int(math.Floor(s * 3)),
	}
}

// unsharpMask boosts each color channel by Percent of its difference from a Gaussian blur
// wherever that difference reaches Threshold. Alpha is copied through.
func unsharpMask(img image.Image, p SharpenParams) *image.NRGBA {
	src := imaging.Clone(img)
	blurred := imaging.Blur(src, p.Radius)
	out := imaging.Clone(src)

	for i := 0; i+3 < len(src.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			orig := int(src.Pix[i+c])
			diff := orig - int(blurred.Pix[i+c])
			if abs(diff) < p.Threshold {
				continue
			}
			out.Pix[i+c] = clampUint8(orig + diff*p.Percent/100)
		}
	}
	return out
}

func sharpen(img image.Image, strength int) image.Image {
	if strength <= 0 {
		return img
	}
	return unsharpMask(img, SharpenParamsFor(strength))
}

// resolveTarget maps the output_format option onto a container format.
func resolveTarget(source domain.Format, requested string) (domain.Format, error) {
	if requested == "" || requested == domain.OutputSame {
		return source, nil
	}
	return domain.ParseFormat(requested)
}

// convertFor prepares img for the target container. JPEG cannot carry alpha, so anything that
// might be transparent is composited onto opaque white first.
func convertFor(img image.Image, target domain.Format) image.Image {
	if target != domain.FormatJPEG {
		return img
	}
	mode := modeOf(img)
	if mode != ModeRGBA && !(mode == ModePalette && hasTransparentPalette(img)) {
		return img
	}
	return flattenOnto(img, color.White)
}

func flattenOnto(img image.Image, bg color.Color) *image.NRGBA {
	b := img.Bounds()
	canvas := imaging.New(b.Dx(), b.Dy(), bg)
	return imaging.Overlay(canvas, img, image.Pt(0, 0), 1.0)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func clampUint8(v int) uint8 {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	default:
		return uint8(v)
	}
}
