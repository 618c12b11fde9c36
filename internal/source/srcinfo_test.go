package source

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/serene-build/serene/internal/store"
)

func TestParseSrcinfo(t *testing.T) {
	const text = `
pkgbase = hello-git
	pkgver = 1.0.r5.g1234567
	pkgrel = 1
	arch = x86_64
	arch = aarch64
	makedepends = git
	source = git+https://example.com/hello.git

pkgname = hello-git
	depends = glibc
`
	got := parseSrcinfo(text)
	want := store.RecipeMetadata{
		Base:    "hello-git",
		Version: "1.0.r5.g1234567",
		Release: "1",
		Arches:  []string{"x86_64", "aarch64"},
		Depends: []string{"git", "glibc"},
		Sources: []string{"https://example.com/hello.git"},
		Members: []string{"hello-git"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("parseSrcinfo() mismatch (-want +got):\n%s", diff)
	}
}

func TestStripVersionConstraint(t *testing.T) {
	for _, tt := range []struct{ in, want string }{
		{"glibc>=2.38", "glibc"},
		{"glibc=2.38", "glibc"},
		{"glibc", "glibc"},
	} {
		if got := stripVersionConstraint(tt.in); got != tt.want {
			t.Errorf("stripVersionConstraint(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestVCSSourceLegacyMigration(t *testing.T) {
	raw := []byte(`{"type":"NormalSource","data":{"repository":"https://example.com/hello.git","last_commit":"abc123"}}`)
	src, err := store.UnmarshalSource(raw)
	if err != nil {
		t.Fatalf("UnmarshalSource: %v", err)
	}
	vcs, ok := src.(*VCSSource)
	if !ok {
		t.Fatalf("got %T, want *VCSSource", src)
	}
	if vcs.URL != "https://example.com/hello.git" || vcs.Commit != "abc123" || vcs.Devel {
		t.Fatalf("migrated source = %+v, unexpected fields", vcs)
	}
}

func TestIndexedSourceLegacyMigration(t *testing.T) {
	raw := []byte(`{"type":"AurSource","data":{"base":"hello","version":"1.0"}}`)
	src, err := store.UnmarshalSource(raw)
	if err != nil {
		t.Fatalf("UnmarshalSource: %v", err)
	}
	indexed, ok := src.(*IndexedSource)
	if !ok {
		t.Fatalf("got %T, want *IndexedSource", src)
	}
	if indexed.Base != "hello" || indexed.Version != "1.0" {
		t.Fatalf("migrated source = %+v, unexpected fields", indexed)
	}
}
