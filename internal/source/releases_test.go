package source

import (
	"strings"
	"testing"
)

func TestExtractLinks(t *testing.T) {
	const body = `<html><body>
<a href="/project/v1.2.0.tar.gz">v1.2.0</a>
<a href="/project/v1.3.0.tar.gz">v1.3.0</a>
<a href="/about">about</a>
</body></html>`
	links, err := extractLinks(strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"/project/v1.2.0.tar.gz", "/project/v1.3.0.tar.gz", "/about"}
	if len(links) != len(want) {
		t.Fatalf("extractLinks() = %v, want %v", links, want)
	}
	for i, w := range want {
		if links[i] != w {
			t.Fatalf("extractLinks()[%d] = %q, want %q", i, links[i], w)
		}
	}
}

func TestExtractVersions(t *testing.T) {
	links := []string{
		"/project/v1.2.0.tar.gz",
		"/project/v1.10.0.tar.gz",
		"/project/v1.3.0.tar.gz",
		"/about",
	}
	got := extractVersions(links)
	want := []string{"1.10.0", "1.3.0", "1.2.0"}
	if len(got) != len(want) {
		t.Fatalf("extractVersions() = %v, want %v", got, want)
	}
	for i, w := range want {
		if got[i] != w {
			t.Fatalf("extractVersions()[%d] = %q, want %q", i, got[i], w)
		}
	}
}

func TestExtractVersionsNonSemverFallback(t *testing.T) {
	// Leading zeros make these invalid semver, so they fall back to the
	// plain reverse string sort.
	links := []string{"/dl/2023.01.01", "/dl/2024.01.01", "/dl/2022.01.01"}
	got := extractVersions(links)
	want := []string{"2024.01.01", "2023.01.01", "2022.01.01"}
	if len(got) != len(want) {
		t.Fatalf("extractVersions() = %v, want %v", got, want)
	}
	for i, w := range want {
		if got[i] != w {
			t.Fatalf("extractVersions()[%d] = %q, want %q", i, got[i], w)
		}
	}
}
