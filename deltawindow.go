// deltawindow.go
//
// Recently inflated delta bases, keyed by their location in a pack.
// Changesets of one history are usually stored as chains against each
// other, so reconstructing a run of revisions keeps hitting the same bases.

package hgbridge

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	windowBudget  = 32 << 20 // bytes
	windowEntries = 4096
)

// deltaLoc addresses an entry inside one of the store's packs.
type deltaLoc struct {
	pack int
	off  uint64
}

type windowEntry struct {
	data []byte
	typ  ObjectType
}

// deltaWindow is an LRU of inflated objects bounded both by entry count and
// by total bytes. Entries larger than the budget are never admitted.
type deltaWindow struct {
	mu      sync.Mutex
	entries *lru.Cache[deltaLoc, windowEntry]
	bytes   int
}

func newDeltaWindow() (*deltaWindow, error) {
	w := &deltaWindow{}
	cache, err := lru.NewWithEvict(windowEntries, func(_ deltaLoc, e windowEntry) {
		w.bytes -= len(e.data)
	})
	if err != nil {
		return nil, err
	}
	w.entries = cache
	return w, nil
}

func (w *deltaWindow) lookup(loc deltaLoc) (windowEntry, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.entries.Get(loc)
}

func (w *deltaWindow) add(loc deltaLoc, data []byte, typ ObjectType) {
	if len(data) > windowBudget {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.entries.Contains(loc) {
		return
	}
	w.entries.Add(loc, windowEntry{data: data, typ: typ})
	w.bytes += len(data)
	for w.bytes > windowBudget {
		if _, _, ok := w.entries.RemoveOldest(); !ok {
			break
		}
	}
}
