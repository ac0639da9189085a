package transfer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMerklePathVerifiesEveryLeaf(t *testing.T) {
	var leaves [][HashSize]byte
	for i := 0; i < 13; i++ {
		leaves = append(leaves, ChunkHash([]byte{byte(i), byte(i * 7)}))
	}
	tree := BuildTree(leaves)
	root := tree.Root()

	for i, leaf := range leaves {
		path := tree.Path(i)
		require.True(t, VerifyPath(leaf, path, root), "leaf %d failed to verify", i)
	}
}

func TestMerklePathRejectsTamperedLeaf(t *testing.T) {
	leaves := [][HashSize]byte{ChunkHash([]byte("a")), ChunkHash([]byte("b")), ChunkHash([]byte("c"))}
	tree := BuildTree(leaves)
	root := tree.Root()
	path := tree.Path(1)

	tampered := ChunkHash([]byte("not-b"))
	require.False(t, VerifyPath(tampered, path, root))
}

func TestSingleLeafTreeRootIsTheLeaf(t *testing.T) {
	leaf := ChunkHash([]byte("only"))
	tree := BuildTree([][HashSize]byte{leaf})
	require.Equal(t, leaf, tree.Root())
	require.Empty(t, tree.Path(0))
}
