package metadata

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
)

const (
	markerAPP0 = 0xE0
	markerAPP1 = 0xE1
	markerAPP2 = 0xE2
	markerAPPD = 0xED
	markerCOM  = 0xFE
	markerSOS  = 0xDA
	markerEOI  = 0xD9

	maxSegmentPayload = 0xFFFF - 2
)

var (
	exifPreamble = []byte("Exif\x00\x00")
	xmpPreamble  = []byte("http://ns.adobe.com/xap/1.0/\x00")
	iccPreamble  = []byte("ICC_PROFILE\x00")
	iptcPreamble = []byte("Photoshop 3.0\x00")
)

type iccChunk struct {
	seq  byte
	data []byte
}

func extractJPEG(data []byte) (Metadata, error) {
	if len(data) < 4 || data[0] != 0xFF || data[1] != 0xD8 {
		return nil, fmt.Errorf("jpeg: %w", errMalformed)
	}

	md := Metadata{}
	var icc []iccChunk

	err := walkJPEG(data, func(marker byte, payload []byte) {
		switch marker {
		case markerAPP1:
			switch {
			case bytes.HasPrefix(payload, exifPreamble):
				md[KeyEXIF] = clone(payload[len(exifPreamble):])
			case bytes.HasPrefix(payload, xmpPreamble):
				md[KeyXMP] = clone(payload[len(xmpPreamble):])
			}
		case markerAPP2:
			if bytes.HasPrefix(payload, iccPreamble) && len(payload) >= len(iccPreamble)+2 {
				icc = append(icc, iccChunk{
					seq:  payload[len(iccPreamble)],
					data: payload[len(iccPreamble)+2:],
				})
			}
		case markerAPPD:
			if bytes.HasPrefix(payload, iptcPreamble) {
				md[KeyIPTC] = clone(payload[len(iptcPreamble):])
			}
		case markerCOM:
			md[KeyComment] = clone(payload)
		}
	})
	if err != nil {
		return nil, err
	}

	if len(icc) > 0 {
		sort.SliceStable(icc, func(i, j int) bool { return icc[i].seq < icc[j].seq })
		var profile []byte
		for _, c := range icc {
			profile = append(profile, c.data...)
		}
		md[KeyICC] = profile
	}
	return md, nil
}

// walkJPEG calls fn for every marker segment before the first scan.
func walkJPEG(data []byte, fn func(marker byte, payload []byte)) error {
	pos := 2
	for pos+4 <= len(data) {
		if data[pos] != 0xFF {
			return fmt.Errorf("jpeg: %w: expected marker at %d", errMalformed, pos)
		}
		marker := data[pos+1]
		switch {
		case marker == 0xFF:
			pos++
			continue
		case marker == 0x01 || (marker >= 0xD0 && marker <= 0xD8):
			pos += 2
			continue
		case marker == markerSOS || marker == markerEOI:
			return nil
		}

		length := int(binary.BigEndian.Uint16(data[pos+2 : pos+4]))
		end := pos + 2 + length
		if length < 2 || end > len(data) {
			return fmt.Errorf("jpeg: %w: segment overruns input", errMalformed)
		}
		fn(marker, data[pos+4:end])
		pos = end
	}
	return nil
}

func embedJPEG(data []byte, md Metadata) ([]byte, error) {
	if len(data) < 4 || data[0] != 0xFF || data[1] != 0xD8 {
		return nil, fmt.Errorf("jpeg: %w", errMalformed)
	}

	insertAt := 2
	if data[2] == 0xFF && data[3] == markerAPP0 && len(data) >= 6 {
		insertAt = 4 + int(binary.BigEndian.Uint16(data[4:6]))
		if insertAt > len(data) {
			return nil, fmt.Errorf("jpeg: %w: truncated APP0", errMalformed)
		}
	}

	var segs bytes.Buffer
	if exif, ok := md[KeyEXIF]; ok {
		if err := writeSegment(&segs, markerAPP1, exifPreamble, exif); err != nil {
			return nil, err
		}
	}
	if xmp, ok := md[KeyXMP]; ok {
		if err := writeSegment(&segs, markerAPP1, xmpPreamble, xmp); err != nil {
			return nil, err
		}
	}
	if icc, ok := md[KeyICC]; ok {
		if err := writeICCSegments(&segs, icc); err != nil {
			return nil, err
		}
	}
	if iptc, ok := md[KeyIPTC]; ok {
		if err := writeSegment(&segs, markerAPPD, iptcPreamble, iptc); err != nil {
			return nil, err
		}
	}
	if comment, ok := md[KeyComment]; ok {
		if err := writeSegment(&segs, markerCOM, nil, comment); err != nil {
			return nil, err
		}
	}

	out := make([]byte, 0, len(data)+segs.Len())
	out = append(out, data[:insertAt]...)
	out = append(out, segs.Bytes()...)
	out = append(out, data[insertAt:]...)
	return out, nil
}

func writeSegment(buf *bytes.Buffer, marker byte, preamble, payload []byte) error {
	size := len(preamble) + len(payload)
	if size > maxSegmentPayload {
		return fmt.Errorf("jpeg: segment 0x%X too large: %d bytes", marker, size)
	}
	buf.Write([]byte{0xFF, marker})
	_ = binary.Write(buf, binary.BigEndian, uint16(size+2))
	buf.Write(preamble)
	buf.Write(payload)
	return nil
}

func writeICCSegments(buf *bytes.Buffer, profile []byte) error {
	chunkSize := maxSegmentPayload - len(iccPreamble) - 2
	count := (len(profile) + chunkSize - 1) / chunkSize
	if count > 255 {
		return fmt.Errorf("jpeg: icc profile too large: %d bytes", len(profile))
	}
	for i := 0; i < count; i++ {
		start := i * chunkSize
		end := min(start+chunkSize, len(profile))
		header := append(clone(iccPreamble), byte(i+1), byte(count))
		if err := writeSegment(buf, markerAPP2, header, profile[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}
