package upstream

import "github.com/serene-build/serene/internal/source"

var (
	_ source.Index = (*Client)(nil)
	_ source.Index = Stub{}
)
