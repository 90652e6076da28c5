// Package upload validates incoming image files and turns form values into ProcessingOptions.
package upload

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/pixelopt/internal/domain"
	"github.com/dunamismax/pixelopt/internal/preset"
	"github.com/gabriel-vasile/mimetype"
)

var ErrInvalidUpload = errors.New("invalid upload")

// AllowedExtensions lists the accepted upload extensions, lower-case and without the dot.
var AllowedExtensions = []string{"jpg", "jpeg", "png", "webp"}

var (
	allowedExtensions  = map[string]bool{"jpg": true, "jpeg": true, "png": true, "webp": true}
	rejectedExtensions = map[string]bool{"svg": true, "gif": true}
	allowedMIMETypes   = []string{"image/jpeg", "image/png", "image/webp"}
)

type Info struct {
	MIMEType string
	Size     int64
}

// Validate checks the declared extension, the sniffed content type and the size, in that order.
func Validate(filename string, data []byte, maxBytes int64) (Info, error) {
	ext := extension(filename)
	if !allowedExtensions[ext] || rejectedExtensions[ext] {
		if rejectedExtensions[ext] {
			return Info{}, fmt.Errorf("%w: %s files are not supported. Please upload JPEG, PNG, or WebP only", ErrInvalidUpload, strings.ToUpper(ext))
		}
		return Info{}, fmt.Errorf("%w: invalid file type. Please upload JPEG, PNG, or WebP images only", ErrInvalidUpload)
	}

	mime := mimetype.Detect(data)
	if !mimetype.EqualsAny(mime.String(), allowedMIMETypes...) {
		return Info{}, fmt.Errorf("%w: invalid file format detected (MIME: %s). Please upload a valid image", ErrInvalidUpload, mime.String())
	}

	size := int64(len(data))
	if size > maxBytes {
		return Info{}, fmt.Errorf("%w: file size exceeds maximum allowed size of %gMB", ErrInvalidUpload, float64(maxBytes)/(1<<20))
	}

	return Info{MIMEType: mime.String(), Size: size}, nil
}

func extension(filename string) string {
	i := strings.LastIndexByte(filename, '.')
	if i < 0 {
		return ""
	}
	return strings.ToLower(filename[i+1:])
}

// SafeFilename reduces name to a conservative ASCII file name and appends a millisecond timestamp
// so concurrent uploads of the same name do not collide.
func SafeFilename(name string, now time.Time) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	ext := filepath.Ext(name)

	base := strings.Trim(sanitize(strings.TrimSuffix(name, ext)), "._")
	if base == "" {
		base = "image"
	}
	ext = sanitize(ext)
	if ext == "." {
		ext = ""
	}
	return fmt.Sprintf("%s_%d%s", base, now.UnixMilli(), ext)
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range strings.Join(strings.Fields(s), "_") {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FinalName is the name under which an optimized output is stored and downloaded. The extension
// always names the encoded format, so a JPEG uploaded as photo.png comes back as photo.jpeg.
func FinalName(safeFilename string, res domain.OptimizationResult) string {
	ext := filepath.Ext(safeFilename)
	if f, err := domain.ParseFormat(strings.TrimPrefix(ext, ".")); err == nil && f == res.TargetFormat {
		return safeFilename
	}
	base := strings.TrimSuffix(safeFilename, filepath.Ext(safeFilename))
	return base + "." + res.TargetFormat.Extension()
}

// ParseOptions builds ProcessingOptions from form values. Numbers are clamped into range and
// unknown presets or formats fall back to defaults; only non-numeric input is an error.
func ParseOptions(form url.Values, presets preset.Table) (domain.ProcessingOptions, error) {
	opts := domain.DefaultOptions()

	if raw := strings.TrimSpace(form.Get("quality")); raw != "" {
		q, err := strconv.Atoi(raw)
		if err != nil {
			return domain.ProcessingOptions{}, fmt.Errorf("%w: quality: %v", domain.ErrInvalidOption, err)
		}
		opts.Quality = domain.IntPtr(clamp(q, domain.MinQuality, domain.MaxQuality))
	}

	var err error
	if opts.ResizePercent, err = intField(form, "resize_percent", opts.ResizePercent, domain.MinResizePercent, domain.MaxResizePercent); err != nil {
		return domain.ProcessingOptions{}, err
	}
	if opts.Sharpen, err = intField(form, "sharpen", opts.Sharpen, domain.MinSharpen, domain.MaxSharpen); err != nil {
		return domain.ProcessingOptions{}, err
	}

	opts.StripMetadata = boolField(form, "strip_metadata")
	opts.AutoOrient = boolField(form, "auto_orient")

	if p := form.Get("preset"); presets.Has(p) {
		opts.Preset = p
	}
	switch f := form.Get("output_format"); f {
	case domain.OutputSame, domain.OutputJPEG, domain.OutputPNG, domain.OutputWebP:
		opts.OutputFormat = f
	}

	return opts, nil
}

func intField(form url.Values, key string, fallback, lo, hi int) (int, error) {
	raw := strings.TrimSpace(form.Get(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", domain.ErrInvalidOption, key, err)
	}
	return clamp(v, lo, hi), nil
}

// boolField treats anything but a case-insensitive "true" as false; a missing key is true.
func boolField(form url.Values, key string) bool {
	if !form.Has(key) {
		return true
	}
	return strings.EqualFold(form.Get(key), "true")
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
