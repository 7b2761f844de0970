package subscriber

import "sync"

// dedupWindow remembers the last size frame hashes. A frame sent on
// several layers is delivered by the first one to arrive.
type dedupWindow struct {
	mu   sync.Mutex
	ring []uint64
	next int
	set  map[uint64]struct{}
}

func newDedupWindow(size int) *dedupWindow {
	return &dedupWindow{
		ring: make([]uint64, 0, size),
		set:  make(map[uint64]struct{}, size),
	}
}

// seen records h and reports whether it was already in the window
func (d *dedupWindow) seen(h uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.set[h]; ok {
		return true
	}
	if len(d.ring) < cap(d.ring) {
		d.ring = append(d.ring, h)
	} else {
		delete(d.set, d.ring[d.next])
		d.ring[d.next] = h
		d.next = (d.next + 1) % len(d.ring)
	}
	d.set[h] = struct{}{}
	return false
}
