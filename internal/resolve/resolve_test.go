package resolve

import (
	"context"
	"sort"
	"testing"

	"github.com/serene-build/serene/internal/store"
)

func TestResolveClassifiesRequirements(t *testing.T) {
	packages := map[string]*store.RecipeMetadata{
		"hello": {Base: "hello", Members: []string{"hello"}, Depends: []string{"glibc", "libhello-helper", "some-aur-pkg"}},
		"libhello-helper": {Base: "libhello-helper", Members: []string{"libhello-helper"}, Depends: []string{"glibc"}},
	}
	distro := DistroSet{"glibc": {}}

	r := New(ModeStub, distro, nil, packages)
	info, err := r.Resolve(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}

	if !info.Depend["libhello-helper"] {
		t.Fatalf("expected libhello-helper classified as depend, got %+v", info.Depend)
	}
	sort.Strings(info.Missing)
	if len(info.Missing) != 1 || info.Missing[0] != "some-aur-pkg" {
		t.Fatalf("expected [some-aur-pkg] missing in stub mode, got %v", info.Missing)
	}
	if len(info.AUR) != 0 {
		t.Fatalf("stub mode should never populate AUR, got %+v", info.AUR)
	}
}

func TestResolveStripsSelfFromMissingOnSplitPackage(t *testing.T) {
	packages := map[string]*store.RecipeMetadata{
		"hello-split": {Base: "hello-split", Members: []string{"hello-a", "hello-b"}, Depends: []string{"hello-split"}},
	}

	r := New(ModeStub, DistroSet{}, nil, packages)
	info, err := r.Resolve(context.Background(), "hello-split")
	if err != nil {
		t.Fatal(err)
	}
	if len(info.Missing) != 0 {
		t.Fatalf("expected target base stripped from its own missing list, got %v", info.Missing)
	}
}

type fakeIndex struct{ known map[string]bool }

func (f fakeIndex) RepositoryURL(ctx context.Context, base string) (string, bool, error) {
	if f.known[base] {
		return "https://aur.example/" + base, true, nil
	}
	return "", false, nil
}

func (f fakeIndex) Version(ctx context.Context, base string) (string, bool, error) {
	return "", false, nil
}

func TestResolveLiveModeQueriesIndex(t *testing.T) {
	packages := map[string]*store.RecipeMetadata{
		"hello": {Base: "hello", Members: []string{"hello"}, Depends: []string{"some-aur-pkg"}},
	}
	idx := fakeIndex{known: map[string]bool{"some-aur-pkg": true}}

	r := New(ModeLive, DistroSet{}, idx, packages)
	info, err := r.Resolve(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	if !info.AUR["some-aur-pkg"] {
		t.Fatalf("expected some-aur-pkg classified as AUR in live mode, got %+v", info.AUR)
	}
	if len(info.Missing) != 0 {
		t.Fatalf("expected nothing missing, got %v", info.Missing)
	}
}
