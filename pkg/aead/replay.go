package aead

// WindowWidth is the number of trailing counters the replay window tracks
// behind MaxSeen. Fixed at 64 per the tested default (see DESIGN.md's Open
// Question resolutions); widening it is a constant change since the bitmap
// is a named type.
const WindowWidth = 64

// ReplayWindow is a sliding bitmap of recently accepted packet counters,
// anchored at MaxSeen. It rejects duplicate and too-old counters while
// tolerating reordering within WindowWidth slots.
type ReplayWindow struct {
	MaxSeen uint64
	bitmap  uint64
	seeded  bool
}

// Accept reports whether counter is acceptable (not a duplicate, not older
// than the window) without mutating state. Callers must call Commit after
// the accompanying AEAD tag verifies, never before, so that replay checks
// never act as a decryption oracle.
func (w *ReplayWindow) Accept(counter uint64) bool {
	if !w.seeded {
		return true
	}
	if counter > w.MaxSeen {
		return true
	}
	age := w.MaxSeen - counter
	if age >= WindowWidth {
		return false
	}
	return w.bitmap&(1<<age) == 0
}

// Commit records counter as accepted. Must only be called after Accept
// returned true for the same counter and the packet's AEAD tag verified.
func (w *ReplayWindow) Commit(counter uint64) {
	if !w.seeded {
		w.MaxSeen = counter
		w.bitmap = 1
		w.seeded = true
		return
	}
	if counter > w.MaxSeen {
		shift := counter - w.MaxSeen
		if shift >= 64 {
			w.bitmap = 0
		} else {
			w.bitmap <<= shift
		}
		w.MaxSeen = counter
		w.bitmap |= 1
		return
	}
	age := w.MaxSeen - counter
	w.bitmap |= 1 << age
}
