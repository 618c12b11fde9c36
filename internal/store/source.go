package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/serene-build/serene/internal/archive"
	"golang.org/x/xerrors"
)

// Source is the capability set every package-source kind implements (spec
// §3/§4.2). Concrete kinds live in internal/source; this package only knows
// the interface and how to (de)serialize whichever kind a Package carries,
// so that internal/source can depend on internal/store without a cycle.
type Source interface {
	// Kind returns the discriminator tag used for persistence, e.g. "vcs".
	Kind() string

	Initialize(ctx context.Context, folder string) error
	UpdateAvailable(ctx context.Context) (bool, error)
	Update(ctx context.Context, folder string) error
	PackBuildInputs(ctx context.Context, folder string) (*archive.Input, error)
	ReadRecipe(ctx context.Context, folder string) (string, error)
	ReadMetadata(ctx context.Context, folder string) (*RecipeMetadata, error)
	IsDevel() bool

	// StateToken is an opaque string compared for equality to detect when a
	// source's identity (not its content) changed, e.g. a VCS URL edit.
	StateToken() string
}

// sourceFactory constructs a zero-value Source of a given kind, ready to be
// unmarshaled into.
type sourceFactory func() Source

// legacyDecoder turns a legacy-shaped payload directly into a live Source,
// for tags whose on-disk field names don't line up with any current kind's
// JSON tags.
type legacyDecoder func(data json.RawMessage) (Source, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]sourceFactory{}
	// legacyTags maps an old on-disk discriminator to the current one it
	// migrates to (spec §9: "legacy on-disk records may carry an older tag
	// scheme that must migrate forward on first load"), for legacy shapes
	// that happen to already match the new kind's field names.
	legacyTags = map[string]string{}
	// legacyDecoders handles legacy shapes that need field remapping instead
	// of a straight re-tag.
	legacyDecoders = map[string]legacyDecoder{}
)

// RegisterSourceKind makes a Source kind available for deserialization.
// Concrete adapter packages call this from an init() func.
func RegisterSourceKind(kind string, factory sourceFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[kind] = factory
}

// RegisterLegacyTag records that an old persisted discriminator should be
// treated as newTag on load, because the legacy payload's fields already
// line up with newTag's. Safe to call from an init() func alongside
// RegisterSourceKind.
func RegisterLegacyTag(oldTag, newTag string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	legacyTags[oldTag] = newTag
}

// RegisterLegacyDecoder records a full decode function for a legacy
// discriminator whose field names don't match any current kind, so the
// fields can be remapped explicitly instead of silently dropped.
func RegisterLegacyDecoder(oldTag string, decode legacyDecoder) {
	registryMu.Lock()
	defer registryMu.Unlock()
	legacyDecoders[oldTag] = decode
}

// sourceEnvelope is the on-disk shape of a polymorphic Source: a
// discriminator tag plus the kind-specific payload, the same pattern the
// teacher uses for its protobuf oneof fields but here expressed directly in
// JSON since the store has no wire schema of its own.
type sourceEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MarshalSource encodes a Source into its persisted envelope form.
func MarshalSource(s Source) ([]byte, error) {
	if s == nil {
		return []byte("null"), nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, xerrors.Errorf("marshaling source payload: %w", err)
	}
	return json.Marshal(sourceEnvelope{Type: s.Kind(), Data: data})
}

// UnmarshalSource decodes a persisted envelope back into a concrete Source,
// migrating legacy discriminators first.
func UnmarshalSource(raw []byte) (Source, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var env sourceEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, xerrors.Errorf("unmarshaling source envelope: %w", err)
	}

	registryMu.RLock()
	decode, hasDecoder := legacyDecoders[env.Type]
	registryMu.RUnlock()
	if hasDecoder {
		return decode(env.Data)
	}

	registryMu.RLock()
	tag := env.Type
	if migrated, ok := legacyTags[tag]; ok {
		tag = migrated
	}
	factory, ok := registry[tag]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown source kind %q", env.Type)
	}

	s := factory()
	if err := json.Unmarshal(env.Data, s); err != nil {
		return nil, xerrors.Errorf("unmarshaling %s source: %w", tag, err)
	}
	return s, nil
}
