package source

import (
	"context"

	"github.com/serene-build/serene/internal/store"
)

// develHeadsChanged reports whether any of metadata's tracked upstream VCS
// sources has moved past the commit recorded in known. Grounded on
// DevelGitSource::update_available in original_source/.../devel.rs, which
// walks last_source_commits the same way.
func develHeadsChanged(ctx context.Context, known map[string]string, metadata *store.RecipeMetadata) (bool, error) {
	if metadata == nil {
		return false, nil
	}
	for _, url := range metadata.Sources {
		latest, err := gitLatestCommit(ctx, url)
		if err != nil {
			return false, err
		}
		if latest != known[url] {
			return true, nil
		}
	}
	return false, nil
}

// develHeadsRefresh recomputes the tracked commit for every source URL the
// recipe currently declares, dropping ones no longer referenced.
func develHeadsRefresh(ctx context.Context, metadata *store.RecipeMetadata) (map[string]string, error) {
	heads := map[string]string{}
	if metadata == nil {
		return heads, nil
	}
	for _, url := range metadata.Sources {
		latest, err := gitLatestCommit(ctx, url)
		if err != nil {
			return nil, err
		}
		heads[url] = latest
	}
	return heads, nil
}
