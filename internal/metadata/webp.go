package metadata

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	vp8xFlagICC   = 0x20
	vp8xFlagAlpha = 0x10
	vp8xFlagEXIF  = 0x08
	vp8xFlagXMP   = 0x04
)

type riffChunk struct {
	fourCC string
	data   []byte
}

func readWebPChunks(data []byte) ([]riffChunk, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WEBP" {
		return nil, fmt.Errorf("webp: %w: bad RIFF header", errMalformed)
	}

	var chunks []riffChunk
	pos := 12
	for pos+8 <= len(data) {
		fourCC := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		end := pos + 8 + size
		if end > len(data) {
			return nil, fmt.Errorf("webp: %w: chunk %q overruns input", errMalformed, fourCC)
		}
		chunks = append(chunks, riffChunk{fourCC: fourCC, data: data[pos+8 : end]})
		pos = end + size%2
	}
	return chunks, nil
}

func extractWebP(data []byte) (Metadata, error) {
	chunks, err := readWebPChunks(data)
	if err != nil {
		return nil, err
	}

	md := Metadata{}
	for _, c := range chunks {
		switch c.fourCC {
		case "ICCP":
			md[KeyICC] = clone(c.data)
		case "EXIF":
			md[KeyEXIF] = clone(bytes.TrimPrefix(c.data, exifPreamble))
		case "XMP ":
			md[KeyXMP] = clone(c.data)
		}
	}
	return md, nil
}

// embedWebP rebuilds the RIFF container in extended (VP8X) layout:
// VP8X, ICCP, image chunks, EXIF, XMP.
func embedWebP(data []byte, md Metadata) ([]byte, error) {
	chunks, err := readWebPChunks(data)
	if err != nil {
		return nil, err
	}

	var (
		image         []riffChunk
		width, height int
		alpha         bool
	)
	for _, c := range chunks {
		switch c.fourCC {
		case "VP8X":
			if len(c.data) >= 10 {
				alpha = c.data[0]&vp8xFlagAlpha != 0
				width = int(uint24(c.data[4:7])) + 1
				height = int(uint24(c.data[7:10])) + 1
			}
		case "ICCP", "EXIF", "XMP ":
			// replaced below
		case "ALPH":
			alpha = true
			image = append(image, c)
		case "VP8 ":
			if width == 0 && len(c.data) >= 10 {
				width = int(binary.LittleEndian.Uint16(c.data[6:8]) & 0x3FFF)
				height = int(binary.LittleEndian.Uint16(c.data[8:10]) & 0x3FFF)
			}
			image = append(image, c)
		case "VP8L":
			if len(c.data) >= 5 {
				bits := binary.LittleEndian.Uint32(c.data[1:5])
				if width == 0 {
					width = int(bits&0x3FFF) + 1
					height = int((bits>>14)&0x3FFF) + 1
				}
				alpha = alpha || (bits>>28)&1 == 1
			}
			image = append(image, c)
		default:
			image = append(image, c)
		}
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("webp: %w: cannot determine canvas size", errMalformed)
	}

	var flags byte
	if alpha {
		flags |= vp8xFlagAlpha
	}
	icc, hasICC := md[KeyICC]
	exif, hasEXIF := md[KeyEXIF]
	xmp, hasXMP := md[KeyXMP]
	if hasICC {
		flags |= vp8xFlagICC
	}
	if hasEXIF {
		flags |= vp8xFlagEXIF
	}
	if hasXMP {
		flags |= vp8xFlagXMP
	}

	vp8x := make([]byte, 10)
	vp8x[0] = flags
	putUint24(vp8x[4:7], uint32(width-1))
	putUint24(vp8x[7:10], uint32(height-1))

	var body bytes.Buffer
	body.WriteString("WEBP")
	writeRIFFChunk(&body, "VP8X", vp8x)
	if hasICC {
		writeRIFFChunk(&body, "ICCP", icc)
	}
	for _, c := range image {
		writeRIFFChunk(&body, c.fourCC, c.data)
	}
	if hasEXIF {
		writeRIFFChunk(&body, "EXIF", exif)
	}
	if hasXMP {
		writeRIFFChunk(&body, "XMP ", xmp)
	}

	out := make([]byte, 0, 8+body.Len())
	out = append(out, "RIFF"...)
	out = binary.LittleEndian.AppendUint32(out, uint32(body.Len()))
	out = append(out, body.Bytes()...)
	return out, nil
}

func writeRIFFChunk(buf *bytes.Buffer, fourCC string, data []byte) {
	buf.WriteString(fourCC)
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(data)))
	buf.Write(data)
	if len(data)%2 == 1 {
		buf.WriteByte(0)
	}
}

func uint24(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}

func putUint24(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
}
