package domain

import (
	"fmt"
	"strings"
)

// Format is a container format, upper-case internally.
type Format string

const (
	FormatJPEG Format = "JPEG"
	FormatPNG  Format = "PNG"
	FormatWebP Format = "WEBP"
)

// ParseFormat maps a codec or option name ("jpeg", "jpg", "png", "webp") to a Format.
func ParseFormat(name string) (Format, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "JPEG", "JPG":
		return FormatJPEG, nil
	case "PNG":
		return FormatPNG, nil
	case "WEBP":
		return FormatWebP, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
	}
}

// Extension is the file extension (without dot) used for outputs of this format.
func (f Format) Extension() string {
	switch f {
	case FormatJPEG:
		return "jpeg"
	case FormatPNG:
		return "png"
	case FormatWebP:
		return "webp"
	default:
		return strings.ToLower(string(f))
	}
}

func (f Format) ContentType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatWebP:
		return "image/webp"
	default:
		return "image/png"
	}
}

// Lossy reports whether the format takes a quality setting.
func (f Format) Lossy() bool {
	return f == FormatJPEG || f == FormatWebP
}
