package metadata

import (
	"bytes"
	"encoding/binary"

	"github.com/rwcarlsen/goexif/exif"
)

// Orientation values as defined by the EXIF Orientation tag (0x0112).
const (
	OrientationTopLeft     = 1
	OrientationTopRight    = 2
	OrientationBottomRight = 3
	OrientationBottomLeft  = 4
	OrientationLeftTop     = 5
	OrientationRightTop    = 6
	OrientationRightBottom = 7
	OrientationLeftBottom  = 8

	tagOrientation = 0x0112
	typeShort      = 3
)

// Orientation reads the EXIF orientation from md. Missing or unreadable tags report
// OrientationTopLeft.
func (m Metadata) Orientation() int {
	raw, ok := m[KeyEXIF]
	if !ok || len(raw) == 0 {
		return OrientationTopLeft
	}

	x, err := exif.Decode(bytes.NewReader(raw))
	if x == nil || (err != nil && exif.IsCriticalError(err)) {
		return OrientationTopLeft
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return OrientationTopLeft
	}
	v, err := tag.Int(0)
	if err != nil || v < OrientationTopLeft || v > OrientationLeftBottom {
		return OrientationTopLeft
	}
	return v
}

// ResetOrientation rewrites the orientation tag in the EXIF payload to top-left so a viewer
// does not rotate pixels that were already rotated. Other tags are left untouched.
func (m Metadata) ResetOrientation() {
	raw, ok := m[KeyEXIF]
	if !ok {
		return
	}
	m[KeyEXIF] = resetOrientationTag(raw)
}

func resetOrientationTag(raw []byte) []byte {
	out := clone(raw)
	if len(out) < 8 {
		return out
	}

	var bo binary.ByteOrder
	switch string(out[:2]) {
	case "II":
		bo = binary.LittleEndian
	case "MM":
		bo = binary.BigEndian
	default:
		return out
	}

	ifd := int(bo.Uint32(out[4:8]))
	if ifd+2 > len(out) {
		return out
	}
	entries := int(bo.Uint16(out[ifd : ifd+2]))
	for i := 0; i < entries; i++ {
		entry := ifd + 2 + i*12
		if entry+12 > len(out) {
			break
		}
		if bo.Uint16(out[entry:entry+2]) != tagOrientation {
			continue
		}
		if bo.Uint16(out[entry+2:entry+4]) == typeShort {
			bo.PutUint16(out[entry+8:entry+10], OrientationTopLeft)
		}
		break
	}
	return out
}
