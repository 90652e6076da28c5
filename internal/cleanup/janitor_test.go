package cleanup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dunamismax/pixelopt/internal/storage"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunOnceRemovesOnlyExpiredFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := storage.NewLocalStore(dir)
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "original_old.png", []byte("old"), ""))
	require.NoError(t, s.Put(ctx, "optimized_new.png", []byte("new"), ""))
	stale := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "original_old.png"), stale, stale))

	j := NewJanitor(s, time.Hour, zerolog.Nop())
	removed, err := j.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	ok, err := s.Exists(ctx, "original_old.png")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.Exists(ctx, "optimized_new.png")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPurgeAll(t *testing.T) {
	ctx := context.Background()
	s, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	for _, key := range []string{"original_a.png", "optimized_a.webp", "original_b.jpg"} {
		require.NoError(t, s.Put(ctx, key, []byte("x"), ""))
	}

	removed, err := NewJanitor(s, time.Hour, zerolog.Nop()).PurgeAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	objects, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, objects)
}

type flakyStore struct {
	storage.Store
	objects []storage.Object
	deleted []string
	listErr error
}

func (f *flakyStore) List(context.Context) ([]storage.Object, error) {
	return f.objects, f.listErr
}

func (f *flakyStore) Delete(_ context.Context, key string) error {
	if key == "original_locked.png" {
		return errors.New("permission denied")
	}
	f.deleted = append(f.deleted, key)
	return nil
}

func TestSweepSkipsFailedDeletes(t *testing.T) {
	old := time.Now().Add(-3 * time.Hour)
	fs := &flakyStore{objects: []storage.Object{
		{Key: "original_locked.png", ModTime: old},
		{Key: "optimized_ok.png", ModTime: old},
	}}

	removed, err := NewJanitor(fs, time.Hour, zerolog.Nop()).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, []string{"optimized_ok.png"}, fs.deleted)
}

func TestSweepReportsListFailure(t *testing.T) {
	fs := &flakyStore{listErr: errors.New("bucket unreachable")}
	_, err := NewJanitor(fs, time.Hour, zerolog.Nop()).RunOnce(context.Background())
	assert.ErrorContains(t, err, "bucket unreachable")
}

func TestRunStopsOnCancel(t *testing.T) {
	s, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewJanitor(s, time.Hour, zerolog.Nop()).Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop after cancel")
	}
}
