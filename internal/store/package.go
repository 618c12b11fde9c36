package store

import "time"

// Settings are the user-editable knobs of a Package that do not themselves
// identify its source (spec §3).
type Settings struct {
	Enabled bool `json:"enabled"`
	// Clean forces a from-scratch sandbox on every build of this package,
	// regardless of the session's clean flag.
	Clean bool `json:"clean"`
	// Schedule is a 6-field cron string overriding the configured default;
	// empty means "use the default/devel schedule for this source kind".
	Schedule string `json:"schedule,omitempty"`
	// Prepare is an optional shell script run inside the sandbox before the
	// recipe's build step.
	Prepare string `json:"prepare,omitempty"`
	// Flags are recognized build-tool flags (e.g. "nocheck", "sign")
	// written verbatim into the makepkg-flags input file.
	Flags []string `json:"flags,omitempty"`
}

// Package is the persisted record of one managed recipe, identified by its
// unique Base (spec §3).
type Package struct {
	Base     string    `json:"base"`
	Added    time.Time `json:"added"`
	Source   Source    `json:"-"` // encoded separately, see MarshalSource
	Settings Settings  `json:"settings"`

	// Version is nil until the package's first successful publish.
	Version *string `json:"version,omitempty"`
	// Recipe is the last successfully built recipe text, refreshed on every
	// successful Publish step.
	Recipe *string `json:"recipe,omitempty"`
	// Metadata is Recipe parsed, kept in lockstep with it.
	Metadata *RecipeMetadata `json:"metadata,omitempty"`
}

// Clone returns a deep-enough copy suitable for the orchestrator's "mutable
// working copy for the duration of a build" (spec §3 ownership note). The
// Source itself is shared (sources carry no mutable build-local state beyond
// what Update persists through the Store).
func (p Package) Clone() Package {
	clone := p
	if p.Version != nil {
		v := *p.Version
		clone.Version = &v
	}
	if p.Recipe != nil {
		r := *p.Recipe
		clone.Recipe = &r
	}
	if p.Metadata != nil {
		m := *p.Metadata
		clone.Metadata = &m
	}
	return clone
}

// EverBuilt reports whether this package has a recorded version, i.e. has
// published successfully at least once.
func (p Package) EverBuilt() bool {
	return p.Version != nil
}
