package transfer

import (
	"encoding/binary"
	"os"
	"path/filepath"

	"github.com/wraith-network/wraith/pkg/wraitherr"
)

// resumeFileVersion-free layout per §6: ChunkBitmap || RootHash[32] ||
// ChunkSize[4] || FileSize[8].

// Bitmap is a completed/not-completed flag per chunk index, one bit per
// chunk, packed LSB-first within each byte.
type Bitmap []byte

func NewBitmap(chunkCount uint32) Bitmap {
	return make(Bitmap, (chunkCount+7)/8)
}

func (b Bitmap) Set(i uint32) {
	b[i/8] |= 1 << (i % 8)
}

func (b Bitmap) IsSet(i uint32) bool {
	return b[i/8]&(1<<(i%8)) != 0
}

// Complete reports whether every one of chunkCount chunks is marked done.
func (b Bitmap) Complete(chunkCount uint32) bool {
	for i := uint32(0); i < chunkCount; i++ {
		if !b.IsSet(i) {
			return false
		}
	}
	return true
}

// ResumeState is the on-disk resume record for one transfer.
type ResumeState struct {
	Bitmap    Bitmap
	RootHash  [HashSize]byte
	ChunkSize uint32
	FileSize  uint64
}

func (s *ResumeState) encode() []byte {
	out := make([]byte, len(s.Bitmap)+HashSize+4+8)
	n := copy(out, s.Bitmap)
	copy(out[n:], s.RootHash[:])
	n += HashSize
	binary.BigEndian.PutUint32(out[n:], s.ChunkSize)
	n += 4
	binary.BigEndian.PutUint64(out[n:], s.FileSize)
	return out
}

func decodeResumeState(b []byte) (*ResumeState, error) {
	if len(b) < HashSize+4+8+1 {
		return nil, wraitherr.New(wraitherr.FrameMalformed, "resume file too short")
	}
	bitmapLen := len(b) - HashSize - 4 - 8
	s := &ResumeState{Bitmap: make(Bitmap, bitmapLen)}
	n := copy(s.Bitmap, b[:bitmapLen])
	copy(s.RootHash[:], b[n:n+HashSize])
	n += HashSize
	s.ChunkSize = binary.BigEndian.Uint32(b[n:])
	n += 4
	s.FileSize = binary.BigEndian.Uint64(b[n:])
	return s, nil
}

// SaveResumeState atomically (re)writes the resume file at path, following
// the teacher's disk-persistence sequence: write to a .tmp sibling, rename
// the existing file out of the way, rename .tmp into place, then remove
// the displaced backup. This guarantees a crash never leaves path
// half-written.
func SaveResumeState(path string, s *ResumeState) error {
	tmp := path + ".tmp"
	backup := path + "~"

	if err := os.WriteFile(tmp, s.encode(), 0o600); err != nil {
		return wraitherr.Wrap(wraitherr.FrameMalformed, "write resume temp file", err)
	}

	if _, err := os.Stat(path); err == nil {
		if err := os.Rename(path, backup); err != nil {
			return wraitherr.Wrap(wraitherr.FrameMalformed, "back up existing resume file", err)
		}
	}
	if err := os.Rename(tmp, path); err != nil {
		return wraitherr.Wrap(wraitherr.FrameMalformed, "install resume file", err)
	}
	_ = os.Remove(backup)
	return nil
}

// LoadResumeState reads a resume file previously written by
// SaveResumeState.
func LoadResumeState(path string) (*ResumeState, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, wraitherr.Wrap(wraitherr.FrameMalformed, "read resume file", err)
	}
	return decodeResumeState(b)
}
