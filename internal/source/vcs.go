package source

import (
	"context"
	"encoding/json"

	"github.com/serene-build/serene/internal/archive"
	"github.com/serene-build/serene/internal/store"
	"golang.org/x/xerrors"
)

// VCSKind is the persisted discriminator for VCSSource.
const VCSKind = "vcs"

// VCSSource clones an arbitrary recipe-repository URL (spec §4.2 "VCS").
// Grounded on NormalSource/DevelGitSource in original_source's
// package/source/{normal,devel}.rs: a plain VCS source and its devel variant
// differ only by whether they also track the recipe's own declared upstream
// VCS sources, so one struct with a Devel flag covers both here.
type VCSSource struct {
	URL    string `json:"url"`
	Devel  bool   `json:"devel"`
	Commit string `json:"commit"`
	// SourceHeads tracks the last-seen commit of each VCS-hosted source the
	// recipe declares; only consulted when Devel is true.
	SourceHeads map[string]string `json:"source_heads,omitempty"`

	// ReleasesURL, when set, names a page listing release tags or tarballs
	// (a GitHub/GitLab tags page, a plain directory listing) tracked
	// independently of Commit. Some recipes pin a VCS mirror whose tracked
	// branch never moves between tags, so commit comparison alone would
	// never see a new release; this gives those sources a second signal.
	ReleasesURL   string `json:"releases_url,omitempty"`
	LatestRelease string `json:"latest_release,omitempty"`

	cachedMetadata *store.RecipeMetadata `json:"-"`
}

func NewVCSSource(url string, devel bool) *VCSSource {
	return &VCSSource{URL: url, Devel: devel, SourceHeads: map[string]string{}}
}

// SetReleasesURL opts a VCS source into the release-page enrichment.
func (s *VCSSource) SetReleasesURL(url string) { s.ReleasesURL = url }

func (s *VCSSource) Kind() string { return VCSKind }

func (s *VCSSource) Initialize(ctx context.Context, folder string) error {
	if err := gitClone(ctx, s.URL, folder); err != nil {
		return err
	}
	return s.Update(ctx, folder)
}

func (s *VCSSource) UpdateAvailable(ctx context.Context) (bool, error) {
	latest, err := gitLatestCommit(ctx, s.URL)
	if err != nil {
		return false, err
	}
	if latest != s.Commit {
		return true, nil
	}
	if s.ReleasesURL != "" {
		release, err := latestReleaseVersion(ctx, s.ReleasesURL)
		if err != nil {
			return false, err
		}
		if release != "" && release != s.LatestRelease {
			return true, nil
		}
	}
	if !s.Devel {
		return false, nil
	}
	return develHeadsChanged(ctx, s.SourceHeads, s.cachedMetadata)
}

// cachedMetadata is populated by ReadMetadata so UpdateAvailable's devel path
// (which must not itself run the recipe tool, a blocking sandbox/exec call
// with its own suspension point) can reuse the last-read metadata.
func (s *VCSSource) setCachedMetadata(m *store.RecipeMetadata) { s.cachedMetadata = m }

func (s *VCSSource) Update(ctx context.Context, folder string) error {
	if err := gitPull(ctx, folder); err != nil {
		return err
	}
	commit, err := gitLocalCommit(ctx, folder)
	if err != nil {
		return err
	}
	s.Commit = commit

	if s.ReleasesURL != "" {
		release, err := latestReleaseVersion(ctx, s.ReleasesURL)
		if err != nil {
			return err
		}
		if release != "" {
			s.LatestRelease = release
		}
	}

	if s.Devel {
		m, err := readMetadataFromTree(ctx, folder)
		if err != nil {
			return err
		}
		s.setCachedMetadata(m)
		heads, err := develHeadsRefresh(ctx, m)
		if err != nil {
			return err
		}
		s.SourceHeads = heads
	}
	return nil
}

func (s *VCSSource) PackBuildInputs(ctx context.Context, folder string) (*archive.Input, error) {
	return packFromTree(folder)
}

func (s *VCSSource) ReadRecipe(ctx context.Context, folder string) (string, error) {
	return readRecipeFromTree(folder)
}

func (s *VCSSource) ReadMetadata(ctx context.Context, folder string) (*store.RecipeMetadata, error) {
	m, err := readMetadataFromTree(ctx, folder)
	if err != nil {
		return nil, err
	}
	s.setCachedMetadata(m)
	return m, nil
}

func (s *VCSSource) IsDevel() bool { return s.Devel }

func (s *VCSSource) StateToken() string { return s.URL }

// legacyVCSPayload matches the field names serene's predecessor on-disk
// schema used for its NormalSource/DevelGitSource kinds (original_source's
// package/source/{normal,devel}.rs), before the "vcs" kind unified them.
type legacyVCSPayload struct {
	Repository        string            `json:"repository"`
	LastCommit        string            `json:"last_commit"`
	LastSourceCommits map[string]string `json:"last_source_commits"`
}

func decodeLegacyVCS(devel bool) func(json.RawMessage) (store.Source, error) {
	return func(data json.RawMessage) (store.Source, error) {
		var legacy legacyVCSPayload
		if err := json.Unmarshal(data, &legacy); err != nil {
			return nil, xerrors.Errorf("unmarshaling legacy vcs source: %w", err)
		}
		return &VCSSource{
			URL:         legacy.Repository,
			Devel:       devel,
			Commit:      legacy.LastCommit,
			SourceHeads: legacy.LastSourceCommits,
		}, nil
	}
}

func init() {
	store.RegisterSourceKind(VCSKind, func() store.Source { return NewVCSSource("", false) })
	store.RegisterLegacyDecoder("NormalSource", decodeLegacyVCS(false))
	store.RegisterLegacyDecoder("DevelGitSource", decodeLegacyVCS(true))
}
