package transfer

import (
	"io"

	"github.com/wraith-network/wraith/pkg/wraitherr"
)

// Manifest describes a transfer's shape: what a sender announces and a
// receiver needs to validate incoming chunks against (§4.7).
type Manifest struct {
	TransferID [HashSize]byte
	FileSize   uint64
	ChunkSize  uint32
	ChunkCount uint32
}

// ChunkCountFor returns the number of chunks a file of fileSize bytes
// splits into at chunkSize, with a minimum of 1 (an empty file is one
// zero-length chunk, per §4.7's explicit edge case).
func ChunkCountFor(fileSize uint64, chunkSize uint32) uint32 {
	if fileSize == 0 {
		return 1
	}
	n := fileSize / uint64(chunkSize)
	if fileSize%uint64(chunkSize) != 0 {
		n++
	}
	return uint32(n)
}

// BuildManifest chunks r (of known fileSize) into chunkSize pieces,
// hashing each and building the Merkle tree, returning the resulting
// Manifest and Tree. r is read through once, sequentially.
func BuildManifest(r io.Reader, fileSize uint64, chunkSize uint32) (Manifest, *Tree, error) {
	count := ChunkCountFor(fileSize, chunkSize)
	leaves := make([][HashSize]byte, 0, count)
	buf := make([]byte, chunkSize)

	remaining := fileSize
	for i := uint32(0); i < count; i++ {
		want := uint64(chunkSize)
		if remaining < want {
			want = remaining
		}
		n, err := io.ReadFull(r, buf[:want])
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return Manifest{}, nil, wraitherr.Wrap(wraitherr.FrameMalformed, "read chunk", err)
		}
		leaves = append(leaves, ChunkHash(buf[:n]))
		remaining -= uint64(n)
	}

	tree := BuildTree(leaves)
	m := Manifest{
		TransferID: tree.Root(),
		FileSize:   fileSize,
		ChunkSize:  chunkSize,
		ChunkCount: count,
	}
	return m, tree, nil
}

// ChunkOffset returns the byte offset of chunk index within the file.
func ChunkOffset(index uint32, chunkSize uint32) uint64 {
	return uint64(index) * uint64(chunkSize)
}

// ChunkLen returns the length in bytes of chunk index, accounting for a
// possibly-short final chunk.
func ChunkLen(index uint32, m Manifest) uint32 {
	if index != m.ChunkCount-1 {
		return m.ChunkSize
	}
	last := m.FileSize - ChunkOffset(index, m.ChunkSize)
	if last == 0 && m.ChunkCount == 1 {
		return 0
	}
	return uint32(last)
}
