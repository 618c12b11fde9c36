package source

import (
	"context"
	"encoding/json"

	"github.com/serene-build/serene/internal/archive"
	"github.com/serene-build/serene/internal/store"
	"golang.org/x/xerrors"
)

// IndexedKind is the persisted discriminator for IndexedSource.
const IndexedKind = "indexed"

// Index is the capability IndexedSource needs from an upstream package
// index; internal/upstream's client satisfies it. Kept narrow and defined
// here (rather than imported from internal/upstream) so internal/source does
// not need to depend on the upstream package's oauth2/go-github wiring.
type Index interface {
	// RepositoryURL resolves base to the VCS URL the index says hosts its
	// recipe, or ok=false if the index has no such package.
	RepositoryURL(ctx context.Context, base string) (url string, ok bool, err error)
	// Version reports the index's currently known version for base, or
	// ok=false if unavailable (spec §4.2: "fallback: parsed from recipe when
	// index lookup cannot resolve").
	Version(ctx context.Context, base string) (version string, ok bool, err error)
}

// IndexedSource looks up a name in an upstream package index and clones the
// VCS URL the index reports. Grounded on AurSource in
// original_source/.../source/aur.rs: version primarily comes from the index
// RPC, falling back to the locally generated .SRCINFO when the index can't
// resolve it (e.g. split packages whose base isn't a member name there).
type IndexedSource struct {
	Base    string `json:"base"`
	Devel   bool   `json:"devel"`
	Version string `json:"version"`

	SourceHeads map[string]string `json:"source_heads,omitempty"`

	index          Index // not persisted; wired by the caller after decode
	cachedMetadata *store.RecipeMetadata
}

// NewIndexedSource returns an IndexedSource for base, querying idx for its
// repository URL and version.
func NewIndexedSource(base string, devel bool, idx Index) *IndexedSource {
	return &IndexedSource{Base: base, Devel: devel, SourceHeads: map[string]string{}, index: idx}
}

// SetIndex replaces the upstream index client. A value decoded from the
// Store already carries the index set by SetDefaultIndex (see wiring.go);
// SetIndex is for wiring a different one.
func (s *IndexedSource) SetIndex(idx Index) { s.index = idx }

func (s *IndexedSource) Kind() string { return IndexedKind }

func (s *IndexedSource) Initialize(ctx context.Context, folder string) error {
	if s.index == nil {
		return xerrors.New("indexed source used before SetIndex")
	}
	url, ok, err := s.index.RepositoryURL(ctx, s.Base)
	if err != nil {
		return xerrors.Errorf("resolving %s in upstream index: %w", s.Base, err)
	}
	if !ok {
		return xerrors.Errorf("unknown upstream package %q", s.Base)
	}
	if err := gitClone(ctx, url, folder); err != nil {
		return err
	}
	return s.Update(ctx, folder)
}

func (s *IndexedSource) UpdateAvailable(ctx context.Context) (bool, error) {
	if version, ok, err := s.indexVersion(ctx); err != nil {
		return false, err
	} else if ok {
		return version != s.Version, nil
	}
	// Index can't resolve this base's version (spec §4.2 fallback path);
	// without a tree to inspect we can't compare against the recipe, so
	// devel-head tracking is the only signal left.
	if s.Devel {
		return develHeadsChanged(ctx, s.SourceHeads, s.cachedMetadata)
	}
	return false, nil
}

func (s *IndexedSource) indexVersion(ctx context.Context) (string, bool, error) {
	if s.index == nil {
		return "", false, xerrors.New("indexed source used before SetIndex")
	}
	return s.index.Version(ctx, s.Base)
}

func (s *IndexedSource) Update(ctx context.Context, folder string) error {
	if err := gitPull(ctx, folder); err != nil {
		return err
	}

	m, err := readMetadataFromTree(ctx, folder)
	if err != nil {
		return err
	}
	s.cachedMetadata = m

	if version, ok, err := s.indexVersion(ctx); err != nil {
		return err
	} else if ok {
		s.Version = version
	} else {
		s.Version = m.Version
	}

	if s.Devel {
		heads, err := develHeadsRefresh(ctx, m)
		if err != nil {
			return err
		}
		s.SourceHeads = heads
	}
	return nil
}

func (s *IndexedSource) PackBuildInputs(ctx context.Context, folder string) (*archive.Input, error) {
	return packFromTree(folder)
}

func (s *IndexedSource) ReadRecipe(ctx context.Context, folder string) (string, error) {
	return readRecipeFromTree(folder)
}

func (s *IndexedSource) ReadMetadata(ctx context.Context, folder string) (*store.RecipeMetadata, error) {
	m, err := readMetadataFromTree(ctx, folder)
	if err != nil {
		return nil, err
	}
	s.cachedMetadata = m
	return m, nil
}

func (s *IndexedSource) IsDevel() bool { return s.Devel }

func (s *IndexedSource) StateToken() string { return s.Base }

// legacyIndexedPayload matches the predecessor "AurSource" on-disk shape
// (original_source's package/source/aur.rs).
type legacyIndexedPayload struct {
	Base    string `json:"base"`
	Version string `json:"version"`
}

func decodeLegacyIndexed(data json.RawMessage) (store.Source, error) {
	var legacy legacyIndexedPayload
	if err := json.Unmarshal(data, &legacy); err != nil {
		return nil, xerrors.Errorf("unmarshaling legacy indexed source: %w", err)
	}
	return &IndexedSource{Base: legacy.Base, Version: legacy.Version, SourceHeads: map[string]string{}, index: currentIndex()}, nil
}

func init() {
	store.RegisterSourceKind(IndexedKind, func() store.Source { return NewIndexedSource("", false, currentIndex()) })
	store.RegisterLegacyDecoder("AurSource", decodeLegacyIndexed)
}
