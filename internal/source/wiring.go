package source

import "sync"

// Sources decoded straight off the Store never go through NewIndexedSource/
// NewInlineSource, so a freshly unmarshaled value would otherwise carry a
// nil index/generator on every single load. SetDefaultIndex/SetDefaultGenerator
// let the process wire its upstream index and sandbox-backed recipe tool
// once at startup; every subsequent decode picks them up automatically.
var (
	defaultsMu       sync.RWMutex
	defaultIndex     Index
	defaultGenerator SrcinfoGenerator
)

// SetDefaultIndex sets the Index newly decoded IndexedSource values are
// wired with. Call once during startup, before the store is read.
func SetDefaultIndex(idx Index) {
	defaultsMu.Lock()
	defer defaultsMu.Unlock()
	defaultIndex = idx
}

// SetDefaultGenerator sets the SrcinfoGenerator newly decoded InlineSource
// values are wired with. Call once during startup, before the store is read.
func SetDefaultGenerator(gen SrcinfoGenerator) {
	defaultsMu.Lock()
	defer defaultsMu.Unlock()
	defaultGenerator = gen
}

func currentIndex() Index {
	defaultsMu.RLock()
	defer defaultsMu.RUnlock()
	return defaultIndex
}

func currentGenerator() SrcinfoGenerator {
	defaultsMu.RLock()
	defer defaultsMu.RUnlock()
	return defaultGenerator
}
