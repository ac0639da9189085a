package transfer

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResumeStateSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "transfer.resume")

	bm := NewBitmap(10)
	bm.Set(0)
	bm.Set(3)
	bm.Set(9)

	s := &ResumeState{
		Bitmap:    bm,
		RootHash:  ChunkHash([]byte("root")),
		ChunkSize: 4096,
		FileSize:  123456,
	}
	require.NoError(t, SaveResumeState(path, s))

	loaded, err := LoadResumeState(path)
	require.NoError(t, err)
	require.Equal(t, s.RootHash, loaded.RootHash)
	require.Equal(t, s.ChunkSize, loaded.ChunkSize)
	require.Equal(t, s.FileSize, loaded.FileSize)
	require.True(t, loaded.Bitmap.IsSet(0))
	require.True(t, loaded.Bitmap.IsSet(3))
	require.True(t, loaded.Bitmap.IsSet(9))
	require.False(t, loaded.Bitmap.IsSet(1))
}

func TestResumeStateOverwriteIsAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "transfer.resume")

	bm := NewBitmap(4)
	s := &ResumeState{Bitmap: bm, ChunkSize: 1024, FileSize: 4096}
	require.NoError(t, SaveResumeState(path, s))

	bm2 := NewBitmap(4)
	bm2.Set(0)
	bm2.Set(1)
	s2 := &ResumeState{Bitmap: bm2, ChunkSize: 1024, FileSize: 4096}
	require.NoError(t, SaveResumeState(path, s2))

	loaded, err := LoadResumeState(path)
	require.NoError(t, err)
	require.True(t, loaded.Bitmap.IsSet(0))
	require.True(t, loaded.Bitmap.IsSet(1))
}

func TestBitmapCompleteness(t *testing.T) {
	bm := NewBitmap(3)
	require.False(t, bm.Complete(3))
	bm.Set(0)
	bm.Set(1)
	bm.Set(2)
	require.True(t, bm.Complete(3))
}
