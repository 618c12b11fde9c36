// Package serene implements the build orchestrator core of a self-hosted
// package build service: scheduling, dependency resolution, the per-package
// build pipeline and the repository publisher.
package serene

// Info carries build-time information about this binary, substituted into
// places like the configured runner image reference ("{version}").
type Info struct {
	Version string
}

// Build is filled in by the linker (-ldflags -X) in release builds; it
// defaults to "dev" for local builds.
var Build = Info{Version: "dev"}
