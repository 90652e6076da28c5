package metadata

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
)

const (
	xmpKeyword     = "XML:com.adobe.xmp"
	commentKeyword = "Comment"
	iccName        = "ICC Profile"
)

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

type pngChunk struct {
	typ  string
	data []byte
}

func extractPNG(data []byte) (Metadata, error) {
	chunks, err := readPNGChunks(data)
	if err != nil {
		return nil, err
	}

	md := Metadata{}
	for _, c := range chunks {
		switch c.typ {
		case "eXIf":
			md[KeyEXIF] = clone(c.data)
		case "iCCP":
			if profile, err := decodeICCP(c.data); err == nil {
				md[KeyICC] = profile
			}
		case "iTXt":
			if keyword, text, err := decodeITXt(c.data); err == nil && keyword == xmpKeyword {
				md[KeyXMP] = text
			}
		case "tEXt":
			if keyword, text, ok := bytes.Cut(c.data, []byte{0}); ok && string(keyword) == commentKeyword {
				md[KeyComment] = clone(text)
			}
		}
	}
	return md, nil
}

func readPNGChunks(data []byte) ([]pngChunk, error) {
	if !bytes.HasPrefix(data, pngSignature) {
		return nil, fmt.Errorf("png: %w: bad signature", errMalformed)
	}

	var chunks []pngChunk
	pos := len(pngSignature)
	for pos+8 <= len(data) {
		length := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		typ := string(data[pos+4 : pos+8])
		end := pos + 8 + length + 4
		if end > len(data) {
			return nil, fmt.Errorf("png: %w: chunk %q overruns input", errMalformed, typ)
		}
		chunks = append(chunks, pngChunk{typ: typ, data: data[pos+8 : pos+8+length]})
		pos = end
		if typ == "IEND" {
			break
		}
	}
	return chunks, nil
}

func decodeICCP(data []byte) ([]byte, error) {
	_, rest, ok := bytes.Cut(data, []byte{0})
	if !ok || len(rest) < 1 {
		return nil, fmt.Errorf("png: %w: iCCP", errMalformed)
	}
	zr, err := zlib.NewReader(bytes.NewReader(rest[1:]))
	if err != nil {
		return nil, fmt.Errorf("png: iCCP: %w", err)
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

func decodeITXt(data []byte) (string, []byte, error) {
	keyword, rest, ok := bytes.Cut(data, []byte{0})
	if !ok || len(rest) < 2 {
		return "", nil, fmt.Errorf("png: %w: iTXt", errMalformed)
	}
	compressed := rest[0] == 1
	rest = rest[2:]
	// language tag, then translated keyword
	for i := 0; i < 2; i++ {
		_, after, ok := bytes.Cut(rest, []byte{0})
		if !ok {
			return "", nil, fmt.Errorf("png: %w: iTXt", errMalformed)
		}
		rest = after
	}
	if !compressed {
		return string(keyword), clone(rest), nil
	}
	zr, err := zlib.NewReader(bytes.NewReader(rest))
	if err != nil {
		return "", nil, fmt.Errorf("png: iTXt: %w", err)
	}
	defer zr.Close()
	text, err := io.ReadAll(zr)
	return string(keyword), text, err
}

// embedPNG inserts metadata chunks right after IHDR so that iCCP precedes PLTE and IDAT.
func embedPNG(data []byte, md Metadata) ([]byte, error) {
	if !bytes.HasPrefix(data, pngSignature) || len(data) < len(pngSignature)+8 {
		return nil, fmt.Errorf("png: %w: bad signature", errMalformed)
	}
	ihdrLen := int(binary.BigEndian.Uint32(data[8:12]))
	if string(data[12:16]) != "IHDR" {
		return nil, fmt.Errorf("png: %w: IHDR is not the first chunk", errMalformed)
	}
	insertAt := len(pngSignature) + 8 + ihdrLen + 4
	if insertAt > len(data) {
		return nil, fmt.Errorf("png: %w: truncated IHDR", errMalformed)
	}

	var chunks bytes.Buffer
	if icc, ok := md[KeyICC]; ok {
		var body bytes.Buffer
		body.WriteString(iccName)
		body.Write([]byte{0, 0})
		zw := zlib.NewWriter(&body)
		if _, err := zw.Write(icc); err != nil {
			return nil, fmt.Errorf("png: compress iCCP: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("png: compress iCCP: %w", err)
		}
		writePNGChunk(&chunks, "iCCP", body.Bytes())
	}
	if exif, ok := md[KeyEXIF]; ok {
		writePNGChunk(&chunks, "eXIf", exif)
	}
	if xmp, ok := md[KeyXMP]; ok {
		var body bytes.Buffer
		body.WriteString(xmpKeyword)
		// NUL, uncompressed, method 0, empty language, empty translated keyword
		body.Write([]byte{0, 0, 0, 0, 0})
		body.Write(xmp)
		writePNGChunk(&chunks, "iTXt", body.Bytes())
	}
	if comment, ok := md[KeyComment]; ok {
		body := append([]byte(commentKeyword+"\x00"), comment...)
		writePNGChunk(&chunks, "tEXt", body)
	}

	out := make([]byte, 0, len(data)+chunks.Len())
	out = append(out, data[:insertAt]...)
	out = append(out, chunks.Bytes()...)
	out = append(out, data[insertAt:]...)
	return out, nil
}

func writePNGChunk(buf *bytes.Buffer, typ string, data []byte) {
	_ = binary.Write(buf, binary.BigEndian, uint32(len(data)))
	crc := crc32.NewIEEE()
	crc.Write([]byte(typ))
	crc.Write(data)
	buf.WriteString(typ)
	buf.Write(data)
	_ = binary.Write(buf, binary.BigEndian, crc.Sum32())
}
