package storage

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	key, err := Key(KindOriginal, "cat_1.png")
	require.NoError(t, err)
	assert.Equal(t, "original_cat_1.png", key)

	key, err = Key(KindOptimized, "cat_1.webp")
	require.NoError(t, err)
	assert.Equal(t, "optimized_cat_1.webp", key)

	for _, name := range []string{"", "../secret", "a/b.png", `a\b.png`} {
		_, err := Key(KindOriginal, name)
		assert.ErrorIs(t, err, ErrInvalidKey, name)
	}
	_, err = Key("thumbnail", "cat.png")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestLocalStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewLocalStore(dir)
	require.NoError(t, err)

	ok, err := s.Exists(ctx, "original_a.png")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Get(ctx, "original_a.png")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, "original_a.png", []byte("abc"), "image/png"))
	data, err := s.Get(ctx, "original_a.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), data)

	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, tempPrefix+"inflight"), []byte("x"), 0o644))

	objects, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, "original_a.png", objects[0].Key)
	assert.Equal(t, int64(3), objects[0].Size)

	require.NoError(t, s.Delete(ctx, "original_a.png"))
	require.NoError(t, s.Delete(ctx, "original_a.png"))
	ok, err = s.Exists(ctx, "original_a.png")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, s.Put(ctx, "../escape", nil, ""), ErrInvalidKey)
}

func TestLocalStoreConcurrentPutNeverExposesPartialFile(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	small := []byte("short")
	large := make([]byte, 1<<20)
	for i := range large {
		large[i] = 'L'
	}
	require.NoError(t, s.Put(ctx, "optimized_x.png", small, ""))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := small
			if i%2 == 0 {
				payload = large
			}
			assert.NoError(t, s.Put(ctx, "optimized_x.png", payload, ""))
		}(i)
	}
	for i := 0; i < 50; i++ {
		data, err := s.Get(ctx, "optimized_x.png")
		require.NoError(t, err)
		assert.True(t, len(data) == len(small) || len(data) == len(large), "partial read of %d bytes", len(data))
	}
	wg.Wait()
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(minio.ErrorResponse{Code: "NoSuchKey"}))
	assert.False(t, isNotFound(minio.ErrorResponse{Code: "AccessDenied"}))
	assert.False(t, isNotFound(nil))
}

func TestNewMinioStoreRequiresBucket(t *testing.T) {
	_, err := NewMinioStore(MinioConfig{Endpoint: "localhost:9000"})
	assert.Error(t, err)

	s, err := NewMinioStore(MinioConfig{Endpoint: "localhost:9000", Bucket: "pixelopt"})
	require.NoError(t, err)
	assert.Equal(t, "pixelopt", s.bucket)
}
