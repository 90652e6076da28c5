// Package metadata extracts and re-embeds the auxiliary metadata blob (EXIF, ICC, XMP, IPTC,
// comments) carried by JPEG, PNG and WebP containers.
//
// The pipeline treats the blob as opaque: it only needs to know whether it is present and to be
// able to clear it. Keys are container independent so that a blob read from one JPEG can be
// written back into another JPEG untouched.
package metadata

import (
	"errors"
	"fmt"

	"github.com/dunamismax/pixelopt/internal/domain"
)

const (
	KeyEXIF    = "exif"
	KeyICC     = "icc"
	KeyXMP     = "xmp"
	KeyIPTC    = "iptc"
	KeyComment = "comment"
)

var errMalformed = errors.New("malformed container")

// Metadata maps a metadata kind to its raw payload. EXIF payloads are stored as a bare TIFF
// structure without the JPEG "Exif\x00\x00" preamble.
type Metadata map[string][]byte

func (m Metadata) Empty() bool {
	return len(m) == 0
}

// Clear drops every entry in place.
func (m Metadata) Clear() {
	clear(m)
}

func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = append([]byte(nil), v...)
	}
	return out
}

// Extract reads the metadata blob from an encoded image. A container that cannot be walked
// yields an empty blob, since the pixel decoder has the final say on validity.
func Extract(format domain.Format, data []byte) Metadata {
	var (
		md  Metadata
		err error
	)
	switch format {
	case domain.FormatJPEG:
		md, err = extractJPEG(data)
	case domain.FormatPNG:
		md, err = extractPNG(data)
	case domain.FormatWebP:
		md, err = extractWebP(data)
	default:
		return Metadata{}
	}
	if err != nil || md == nil {
		return Metadata{}
	}
	return md
}

// Embed writes md into an already encoded image of the given format and returns the new bytes.
// An empty blob returns data unchanged.
func Embed(format domain.Format, data []byte, md Metadata) ([]byte, error) {
	if md.Empty() {
		return data, nil
	}
	switch format {
	case domain.FormatJPEG:
		return embedJPEG(data, md)
	case domain.FormatPNG:
		return embedPNG(data, md)
	case domain.FormatWebP:
		return embedWebP(data, md)
	default:
		return nil, fmt.Errorf("embed metadata: %w: %s", domain.ErrUnsupportedFormat, format)
	}
}
