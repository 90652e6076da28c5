package service

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/dunamismax/pixelopt/internal/domain"
	"github.com/dunamismax/pixelopt/internal/pipeline"
	"github.com/dunamismax/pixelopt/internal/preset"
	"github.com/dunamismax/pixelopt/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 7), G: uint8(y * 5), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newService(t *testing.T) (*Service, *storage.LocalStore) {
	t.Helper()
	files, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	return New(files, pipeline.NewProcessor(preset.DefaultTable())), files
}

func TestReoptimizeStoresConvertedOutput(t *testing.T) {
	ctx := context.Background()
	svc, files := newService(t)

	require.NoError(t, svc.StoreOriginal(ctx, "cat_1.png", testPNG(t, 40, 20), "image/png"))

	opts := domain.DefaultOptions()
	opts.OutputFormat = domain.OutputJPEG
	outcome, err := svc.Reoptimize(ctx, "cat_1.png", opts)
	require.NoError(t, err)
	assert.Equal(t, "cat_1.jpeg", outcome.OutputName)
	assert.True(t, outcome.Result.FormatConverted)

	data, err := svc.Open(ctx, storage.KindOptimized, "cat_1.jpeg")
	require.NoError(t, err)
	assert.Equal(t, outcome.Result.OptimizedSizeBytes, int64(len(data)))

	opts.OutputFormat = domain.OutputSame
	opts.ResizePercent = 50
	again, err := svc.Reoptimize(ctx, "cat_1.jpeg", opts)
	require.NoError(t, err, "a converted output name resolves to its original")

	resolved, err := svc.ResolveOriginal(ctx, "cat_1.jpeg")
	require.NoError(t, err)
	assert.Equal(t, "cat_1.png", resolved)
	assert.Equal(t, "cat_1.png", again.OutputName)
	assert.Equal(t, domain.FormatPNG, again.Result.SourceFormat)
	assert.Equal(t, 20, again.Result.OutputWidth)
	require.NoError(t, svc.Discard(ctx, "cat_1.png"))

	require.NoError(t, svc.Discard(ctx, "cat_1.jpeg"))
	objects, err := files.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, objects)
}

func TestReoptimizeMissingOriginal(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Reoptimize(context.Background(), "ghost_1.png", domain.DefaultOptions())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestOptimizeFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	svc, files := newService(t)

	_, err := svc.Optimize(ctx, "junk_1.png", []byte("not an image"), domain.DefaultOptions())
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)

	objects, err := files.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, objects)
}

func TestOpenRejectsTraversal(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Open(context.Background(), storage.KindOriginal, "../etc/passwd")
	assert.ErrorIs(t, err, storage.ErrInvalidKey)
}

func TestOriginalCandidates(t *testing.T) {
	got := originalCandidates("cat_1.webp")
	assert.Equal(t, "cat_1.webp", got[0])
	assert.Contains(t, got, "cat_1.png")
	assert.Contains(t, got, "cat_1.JPG")
	assert.NotContains(t, got[1:], "cat_1.webp")
}
