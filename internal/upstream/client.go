// Package upstream implements the client for the upstream package index:
// the catalogue indexed sources are resolved against, modeled (like the
// teacher's autobuilder polls its distri branch) as a GitHub repository
// polled through the REST API rather than a bespoke RPC protocol.
package upstream

import (
	"context"
	"encoding/json"

	"github.com/google/go-github/v27/github"
	"golang.org/x/oauth2"
	"golang.org/x/xerrors"
)

// entry is the per-package record stored at "<base>.json" in the index
// repository.
type entry struct {
	Repository string `json:"repository"`
	Version    string `json:"version"`
}

// Client resolves package bases against an index repository hosted on
// GitHub, the same access pattern cmd/autobuilder/autobuilder.go uses to
// poll its build branch (oauth2 token + go-github REST client).
type Client struct {
	gh    *github.Client
	owner string
	repo  string
}

// NewClient returns a Client authenticated with token (may be empty for
// unauthenticated, rate-limited access) against owner/repo.
func NewClient(ctx context.Context, token, owner, repo string) *Client {
	var hc = oauth2.NewClient(ctx, nil)
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		hc = oauth2.NewClient(ctx, ts)
	}
	return &Client{gh: github.NewClient(hc), owner: owner, repo: repo}
}

func (c *Client) fetch(ctx context.Context, base string) (*entry, bool, error) {
	file, _, _, err := c.gh.Repositories.GetContents(ctx, c.owner, c.repo, base+".json", nil)
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, xerrors.Errorf("fetching %s from upstream index: %w", base, err)
	}
	if file == nil {
		return nil, false, nil
	}
	raw, err := file.GetContent()
	if err != nil {
		return nil, false, xerrors.Errorf("decoding %s: %w", base, err)
	}

	var e entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, false, xerrors.Errorf("parsing %s: %w", base, err)
	}
	return &e, true, nil
}

func isNotFound(err error) bool {
	if ge, ok := err.(*github.ErrorResponse); ok {
		return ge.Response != nil && ge.Response.StatusCode == 404
	}
	return false
}

// RepositoryURL implements internal/source.Index.
func (c *Client) RepositoryURL(ctx context.Context, base string) (string, bool, error) {
	e, ok, err := c.fetch(ctx, base)
	if err != nil || !ok {
		return "", ok, err
	}
	return e.Repository, true, nil
}

// Version implements internal/source.Index.
func (c *Client) Version(ctx context.Context, base string) (string, bool, error) {
	e, ok, err := c.fetch(ctx, base)
	if err != nil || !ok {
		return "", ok, err
	}
	return e.Version, true, nil
}
