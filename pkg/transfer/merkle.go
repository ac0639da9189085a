// Package transfer implements the WRAITH content-addressed file-transfer
// layer (C7): fixed-size chunking, a BLAKE3 binary Merkle tree over chunk
// hashes, per-chunk verification against a sibling path, a multi-source
// assignment coordinator, and crash-resumable progress persistence.
package transfer

import (
	"lukechampine.com/blake3"
)

// DefaultChunkSize is the chunk length used unless a transfer overrides it
// (§4.7).
const DefaultChunkSize = 256 * 1024

// HashSize is the width of a tree node, matching BLAKE3's default digest.
const HashSize = 32

// ChunkHash returns BLAKE3(chunk), the leaf hash for one chunk's bytes.
func ChunkHash(chunk []byte) [HashSize]byte {
	return blake3.Sum256(chunk)
}

func parentHash(left, right [HashSize]byte) [HashSize]byte {
	h := blake3.New(HashSize, nil)
	h.Write(left[:])
	h.Write(right[:])
	var out [HashSize]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Tree is a binary Merkle tree over a file's chunk hashes. Level 0 is the
// leaves (chunk hashes); the last level holds a single root. An odd node at
// any level is promoted unchanged (duplicated-last-node padding is not
// used, avoiding the classic second-preimage ambiguity).
type Tree struct {
	levels [][][HashSize]byte
}

// BuildTree constructs the Merkle tree over leaves (one hash per chunk, in
// order). Panics if leaves is empty; an empty file is represented by a
// single zero-length chunk upstream in BuildManifest.
func BuildTree(leaves [][HashSize]byte) *Tree {
	if len(leaves) == 0 {
		panic("transfer: BuildTree requires at least one leaf")
	}
	t := &Tree{levels: [][][HashSize]byte{leaves}}
	cur := leaves
	for len(cur) > 1 {
		next := make([][HashSize]byte, 0, (len(cur)+1)/2)
		for i := 0; i < len(cur); i += 2 {
			if i+1 < len(cur) {
				next = append(next, parentHash(cur[i], cur[i+1]))
			} else {
				next = append(next, cur[i])
			}
		}
		t.levels = append(t.levels, next)
		cur = next
	}
	return t
}

// Root returns the tree's root hash, the transfer's TransferID.
func (t *Tree) Root() [HashSize]byte {
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// PathNode is one sibling hash in a Merkle proof, tagged with which side it
// sits on relative to the node being proven.
type PathNode struct {
	Hash    [HashSize]byte
	IsRight bool // true if Hash is the right sibling of the node being proven
}

// Path returns the Merkle proof for leaf index i: the sequence of sibling
// hashes from the leaf level up to (but excluding) the root.
func (t *Tree) Path(i int) []PathNode {
	var path []PathNode
	idx := i
	for level := 0; level < len(t.levels)-1; level++ {
		nodes := t.levels[level]
		var sibling int
		var isRight bool
		if idx%2 == 0 {
			sibling = idx + 1
			isRight = true
		} else {
			sibling = idx - 1
			isRight = false
		}
		if sibling < len(nodes) {
			path = append(path, PathNode{Hash: nodes[sibling], IsRight: isRight})
		}
		idx /= 2
	}
	return path
}

// VerifyPath reconstructs the root from a chunk's hash and its sibling
// path, reporting whether the reconstruction matches root.
func VerifyPath(leaf [HashSize]byte, path []PathNode, root [HashSize]byte) bool {
	cur := leaf
	for _, node := range path {
		if node.IsRight {
			cur = parentHash(cur, node.Hash)
		} else {
			cur = parentHash(node.Hash, cur)
		}
	}
	return cur == root
}
