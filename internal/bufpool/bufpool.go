// Package bufpool provides size-classed byte-slice pools for packet and
// frame buffers. Buffers are zeroed on release so that a buffer handed back
// to the pool never leaks bytes from one connection into another.
package bufpool

import "sync"

// Standard size classes, chosen to cover the PMTU floor/ceiling range from
// §4.5 (1200..9000) plus the maximum packet overhead.
const (
	ClassSmall  = 1500
	ClassMedium = 4096
	ClassLarge  = 9216
)

var classes = [...]int{ClassSmall, ClassMedium, ClassLarge}

var pools = [len(classes)]sync.Pool{}

func init() {
	for i, size := range classes {
		size := size
		pools[i].New = func() any {
			return make([]byte, size)
		}
	}
}

func classFor(n int) int {
	for i, size := range classes {
		if n <= size {
			return i
		}
	}
	return -1
}

// Get returns a buffer of at least n bytes, sliced to exactly n. Buffers
// larger than the biggest size class are allocated directly and not pooled.
func Get(n int) []byte {
	idx := classFor(n)
	if idx < 0 {
		return make([]byte, n)
	}
	buf := pools[idx].Get().([]byte)
	return buf[:n]
}

// Put clears buf and returns it to its size class's pool. A buffer not
// originally obtained from Get (wrong capacity) is simply dropped.
func Put(buf []byte) {
	cap := cap(buf)
	idx := -1
	for i, size := range classes {
		if cap == size {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	full := buf[:cap]
	for i := range full {
		full[i] = 0
	}
	pools[idx].Put(full)
}
