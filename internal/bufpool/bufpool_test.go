package bufpool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetPutZeroes(t *testing.T) {
	buf := Get(100)
	require.Len(t, buf, 100)
	for i := range buf {
		buf[i] = 0xff
	}
	Put(buf)

	buf2 := Get(100)
	for _, b := range buf2 {
		require.Equal(t, byte(0), b)
	}
}

func TestGetOversize(t *testing.T) {
	buf := Get(ClassLarge + 1)
	require.Len(t, buf, ClassLarge+1)
}
