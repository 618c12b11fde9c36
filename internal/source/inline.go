package source

import (
	"context"
	"encoding/json"

	"github.com/serene-build/serene/internal/archive"
	"github.com/serene-build/serene/internal/store"
	"golang.org/x/xerrors"
)

// InlineKind is the persisted discriminator for InlineSource.
const InlineKind = "inline"

// SrcinfoGenerator runs the recipe-tool against a bare recipe's text, for
// sources that have no cloned tree to run it against in-process. Satisfied
// structurally by *sandbox.Runner; kept narrow here so internal/source does
// not need to depend on the docker client.
type SrcinfoGenerator interface {
	GenerateSrcinfo(ctx context.Context, recipe string) (string, error)
}

// InlineSource stores a recipe's text directly rather than tracking a
// repository (spec §4.2 "Inline"). Grounded on SingleSource in
// original_source's package/source/single.rs, which likewise embeds the
// PKGBUILD text and a generated .SRCINFO string.
type InlineSource struct {
	Recipe  string `json:"recipe"`
	Devel   bool   `json:"devel"`
	srcinfo string // cached parsed-metadata source text; regenerated on demand

	SourceHeads map[string]string `json:"source_heads,omitempty"`

	generator SrcinfoGenerator // not persisted; wired by the caller after decode
}

func NewInlineSource(recipe string, devel bool, gen SrcinfoGenerator) *InlineSource {
	return &InlineSource{Recipe: recipe, Devel: devel, SourceHeads: map[string]string{}, generator: gen}
}

// SetGenerator wires the sandbox-backed recipe tool after a decode.
func (s *InlineSource) SetGenerator(gen SrcinfoGenerator) { s.generator = gen }

func (s *InlineSource) Kind() string { return InlineKind }

func (s *InlineSource) Initialize(ctx context.Context, folder string) error {
	return s.Update(ctx, folder)
}

func (s *InlineSource) UpdateAvailable(ctx context.Context) (bool, error) {
	if !s.Devel {
		return false, nil
	}
	m, err := s.metadata(ctx)
	if err != nil {
		return false, err
	}
	return develHeadsChanged(ctx, s.SourceHeads, m)
}

func (s *InlineSource) Update(ctx context.Context, folder string) error {
	m, err := s.metadata(ctx)
	if err != nil {
		return err
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

// metadata lazily (re)generates the .SRCINFO text for the current recipe via
// the sandbox and parses it.
func (s *InlineSource) metadata(ctx context.Context) (*store.RecipeMetadata, error) {
	if s.generator == nil {
		return nil, xerrors.New("inline source used before SetGenerator")
	}
	text, err := s.generator.GenerateSrcinfo(ctx, s.Recipe)
	if err != nil {
		return nil, xerrors.Errorf("generating .SRCINFO for inline recipe: %w", err)
	}
	s.srcinfo = text
	m := parseSrcinfo(text)
	return &m, nil
}

func (s *InlineSource) PackBuildInputs(ctx context.Context, folder string) (*archive.Input, error) {
	in := archive.NewInput()
	in.AddFile(pkgbuildFile, []byte(s.Recipe), true)
	return in, nil
}

func (s *InlineSource) ReadRecipe(ctx context.Context, folder string) (string, error) {
	return s.Recipe, nil
}

func (s *InlineSource) ReadMetadata(ctx context.Context, folder string) (*store.RecipeMetadata, error) {
	return s.metadata(ctx)
}

func (s *InlineSource) IsDevel() bool { return s.Devel }

// StateToken hashes neither here nor elsewhere with a cryptographic digest —
// it only needs equality, so the recipe text itself (which is short) serves
// directly, matching legacy's use of a content hash only for compactness.
func (s *InlineSource) StateToken() string { return s.Recipe }

// legacyInlinePayload matches the predecessor "SingleSource"/"SereneCliSource"
// on-disk shape (original_source's package/source/{single,cli}.rs).
type legacyInlinePayload struct {
	Pkgbuild          string            `json:"pkgbuild"`
	Devel             bool              `json:"devel"`
	LastSourceCommits map[string]string `json:"last_source_commits"`
}

func decodeLegacyInline(data json.RawMessage) (store.Source, error) {
	var legacy legacyInlinePayload
	if err := json.Unmarshal(data, &legacy); err != nil {
		return nil, xerrors.Errorf("unmarshaling legacy inline source: %w", err)
	}
	return &InlineSource{Recipe: legacy.Pkgbuild, Devel: legacy.Devel, SourceHeads: legacy.LastSourceCommits, generator: currentGenerator()}, nil
}

func init() {
	store.RegisterSourceKind(InlineKind, func() store.Source { return NewInlineSource("", false, currentGenerator()) })
	store.RegisterLegacyDecoder("SingleSource", decodeLegacyInline)
	store.RegisterLegacyDecoder("SereneCliSource", decodeLegacyInline)
}
