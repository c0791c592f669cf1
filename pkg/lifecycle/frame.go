package lifecycle

import (
	"sync"

	"github.com/ethpandaops/perception/pkg/timing"
)

// Frame is the embedding slot of one instance: the content currently
// loaded, if any. It is safe for concurrent readers.
type Frame struct {
	mu         sync.RWMutex
	content    timing.Content
	loaded     bool
	generation uint64
}

// Load replaces the frame content.
func (f *Frame) Load(c timing.Content) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.content = c
	f.loaded = true
	f.generation++
}

// Clear removes the content.
func (f *Frame) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.loaded {
		f.generation++
	}

	f.content = timing.Content{}
	f.loaded = false
}

// Current returns the loaded content.
func (f *Frame) Current() (timing.Content, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.content, f.loaded
}

// Generation increments on every load and clear so a page can tell a
// fresh embed from a stale one.
func (f *Frame) Generation() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.generation
}
