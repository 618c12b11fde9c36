package repo

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/serene-build/serene/internal/store"
)

// stageFiles writes files (name -> contents) into a fresh staging directory,
// standing in for what the pipeline extracts there from the sandbox's output
// archive before handing it to Publish.
func stageFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, contents := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func requireRepoTools(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("repo-add"); err != nil {
		t.Skip("repo-add not available in this environment")
	}
	if _, err := exec.LookPath("repo-remove"); err != nil {
		t.Skip("repo-remove not available in this environment")
	}
}

func testPackage() store.Package {
	return store.Package{
		Base: "hello",
		Metadata: &store.RecipeMetadata{
			Base:    "hello",
			Version: "1.0",
			Release: "1",
			Members: []string{"hello"},
			Arches:  []string{"x86_64"},
		},
	}
}

func TestPublisherPublishAndRemove(t *testing.T) {
	requireRepoTools(t)

	dir := t.TempDir()
	p, err := New(dir, "testrepo", "x86_64", nil)
	if err != nil {
		t.Fatal(err)
	}

	pkg := testPackage()
	fileName := "hello-1.0-1-x86_64.pkg.tar.zst"
	staging := stageFiles(t, map[string]string{fileName: "package contents"})

	ctx := context.Background()
	if err := p.Publish(ctx, pkg, staging); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, fileName)); err != nil {
		t.Fatalf("expected package file on disk: %v", err)
	}
	if file, ok := p.PackageFile("hello"); !ok || file != fileName {
		t.Fatalf("PackageFile(hello) = %q, %v, want %q, true", file, ok, fileName)
	}

	if err := p.Remove(ctx, "hello"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := p.PackageFile("hello"); ok {
		t.Fatal("PackageFile(hello) still found after Remove")
	}
	if _, err := os.Stat(filepath.Join(dir, fileName)); !os.IsNotExist(err) {
		t.Fatalf("expected package file removed, stat err = %v", err)
	}
}

func TestPublisherReloadsSidecar(t *testing.T) {
	requireRepoTools(t)

	dir := t.TempDir()
	p, err := New(dir, "testrepo", "x86_64", nil)
	if err != nil {
		t.Fatal(err)
	}

	pkg := testPackage()
	fileName := "hello-1.0-1-x86_64.pkg.tar.zst"
	staging := stageFiles(t, map[string]string{fileName: "package contents"})

	ctx := context.Background()
	if err := p.Publish(ctx, pkg, staging); err != nil {
		t.Fatal(err)
	}

	reopened, err := New(dir, "testrepo", "x86_64", nil)
	if err != nil {
		t.Fatal(err)
	}
	if file, ok := reopened.PackageFile("hello"); !ok || file != fileName {
		t.Fatalf("after reload, PackageFile(hello) = %q, %v, want %q, true", file, ok, fileName)
	}
}
