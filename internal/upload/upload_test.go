package upload

import (
	"bytes"
	"image"
	"image/png"
	"net/url"
	"testing"
	"time"

	"github.com/dunamismax/pixelopt/internal/domain"
	"github.com/dunamismax/pixelopt/internal/preset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4))))
	return buf.Bytes()
}

func TestValidate(t *testing.T) {
	data := pngBytes(t)

	info, err := Validate("photo.PNG", data, 1<<20)
	require.NoError(t, err)
	assert.Equal(t, "image/png", info.MIMEType)
	assert.Equal(t, int64(len(data)), info.Size)

	_, err = Validate("anim.gif", data, 1<<20)
	require.ErrorIs(t, err, ErrInvalidUpload)
	assert.Contains(t, err.Error(), "GIF files are not supported")

	_, err = Validate("notes.txt", data, 1<<20)
	require.ErrorIs(t, err, ErrInvalidUpload)
	assert.Contains(t, err.Error(), "invalid file type")

	_, err = Validate("fake.jpg", []byte("plain text pretending to be an image"), 1<<20)
	require.ErrorIs(t, err, ErrInvalidUpload)
	assert.Contains(t, err.Error(), "MIME: text/plain")

	_, err = Validate("big.png", data, 10)
	require.ErrorIs(t, err, ErrInvalidUpload)
	assert.Contains(t, err.Error(), "exceeds maximum")
}

func TestSafeFilename(t *testing.T) {
	now := time.UnixMilli(1700000000123)

	assert.Equal(t, "my_holiday_photo_1700000000123.jpg", SafeFilename("my holiday photo.jpg", now))
	assert.Equal(t, "passwd_1700000000123", SafeFilename("../../etc/passwd", now))
	assert.Equal(t, "evil_1700000000123.png", SafeFilename(`C:\Users\x\evil.png`, now))
	assert.Equal(t, "image_1700000000123.webp", SafeFilename("ñ.webp", now))
}

func TestFinalName(t *testing.T) {
	tests := []struct {
		name      string
		safe      string
		target    domain.Format
		converted bool
		want      string
	}{
		{"same format keeps name", "cat_1.png", domain.FormatPNG, false, "cat_1.png"},
		{"jpeg alias kept", "cat_1.jpeg", domain.FormatJPEG, false, "cat_1.jpeg"},
		{"upper case extension kept", "cat_1.JPG", domain.FormatJPEG, false, "cat_1.JPG"},
		{"converted takes target extension", "cat_1.png", domain.FormatWebP, true, "cat_1.webp"},
		{"mislabelled jpeg content renamed", "photo_1.png", domain.FormatJPEG, false, "photo_1.jpeg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := domain.OptimizationResult{TargetFormat: tt.target, FormatConverted: tt.converted}
			assert.Equal(t, tt.want, FinalName(tt.safe, res))
		})
	}
}

func TestParseOptions(t *testing.T) {
	table := preset.DefaultTable()

	opts, err := ParseOptions(url.Values{}, table)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultOptions(), opts)

	opts, err = ParseOptions(url.Values{
		"quality":        {"150"},
		"resize_percent": {"5"},
		"sharpen":        {"300"},
		"strip_metadata": {"False"},
		"auto_orient":    {"TRUE"},
		"preset":         {"ultra"},
		"output_format":  {"gif"},
	}, table)
	require.NoError(t, err)
	require.NotNil(t, opts.Quality)
	assert.Equal(t, domain.MaxQuality, *opts.Quality)
	assert.Equal(t, domain.MinResizePercent, opts.ResizePercent)
	assert.Equal(t, domain.MaxSharpen, opts.Sharpen)
	assert.False(t, opts.StripMetadata)
	assert.True(t, opts.AutoOrient)
	assert.Equal(t, domain.PresetBalanced, opts.Preset)
	assert.Equal(t, domain.OutputSame, opts.OutputFormat)
	assert.NoError(t, opts.Validate())

	opts, err = ParseOptions(url.Values{"preset": {"speed"}, "output_format": {"webp"}}, table)
	require.NoError(t, err)
	assert.Equal(t, domain.PresetSpeed, opts.Preset)
	assert.Equal(t, domain.OutputWebP, opts.OutputFormat)

	_, err = ParseOptions(url.Values{"sharpen": {"lots"}}, table)
	assert.ErrorIs(t, err, domain.ErrInvalidOption)
}
