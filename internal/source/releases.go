package source

import (
	"context"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/mod/semver"
	"golang.org/x/net/html"
	"golang.org/x/xerrors"
)

// extractLinks returns every <a href> target in an HTML document, same as a
// directory listing or a GitHub/GitLab tags page would render. Grounded on
// internal/checkupstream's extractLinks.
func extractLinks(r io.Reader) ([]string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, xerrors.Errorf("parsing html: %w", err)
	}
	var links []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, a := range n.Attr {
				if a.Key == "href" {
					links = append(links, a.Val)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links, nil
}

var versionToken = regexp.MustCompile(`[0-9]+(?:\.[0-9]+){1,3}`)

// extractVersions pulls version-looking tokens out of links and returns them
// newest first. Tokens that parse as semver sort by semver.Compare; any
// remaining non-semver tokens are appended after, reverse-sorted as strings,
// matching checkupstream's fallback for version schemes semver can't parse.
func extractVersions(links []string) []string {
	seen := map[string]bool{}
	var semvers, rest []string
	for _, l := range links {
		m := versionToken.FindString(l)
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		v := m
		if !strings.HasPrefix(v, "v") {
			v = "v" + v
		}
		if semver.IsValid(v) {
			semvers = append(semvers, m)
		} else {
			rest = append(rest, m)
		}
	}
	sort.Slice(semvers, func(i, j int) bool {
		vi, vj := semvers[i], semvers[j]
		if !strings.HasPrefix(vi, "v") {
			vi = "v" + vi
		}
		if !strings.HasPrefix(vj, "v") {
			vj = "v" + vj
		}
		return semver.Compare(vi, vj) > 0
	})
	sort.Sort(sort.Reverse(sort.StringSlice(rest)))
	return append(semvers, rest...)
}

// latestReleaseVersion fetches releasesURL and returns the newest version
// token found among its links, or "" if none parse. Grounded on
// internal/checkupstream's checkHeuristic, stripped of its Debian/SourceForge/
// Go-proxy/textproto dispatch since every VCSSource releases page is a plain
// link listing.
func latestReleaseVersion(ctx context.Context, releasesURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, releasesURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", xerrors.Errorf("fetching %s: %w", releasesURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", xerrors.Errorf("fetching %s: status %s", releasesURL, resp.Status)
	}

	links, err := extractLinks(resp.Body)
	if err != nil {
		return "", err
	}
	versions := extractVersions(links)
	if len(versions) == 0 {
		return "", nil
	}
	return versions[0], nil
}
