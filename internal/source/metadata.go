package source

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/serene-build/serene/internal/archive"
	"github.com/serene-build/serene/internal/store"
	"golang.org/x/xerrors"
)

const pkgbuildFile = "PKGBUILD"

// readRecipeFromTree reads the recipe text out of a cloned source tree.
func readRecipeFromTree(folder string) (string, error) {
	data, err := os.ReadFile(filepath.Join(folder, pkgbuildFile))
	if err != nil {
		return "", xerrors.Errorf("reading %s: %w", pkgbuildFile, err)
	}
	return string(data), nil
}

// readMetadataFromTree runs the recipe-tool (makepkg --printsrcinfo) against
// a cloned source tree and parses its output. This is the "running it
// in-process against the cloned tree" path of spec §4.2; inline sources have
// no tree and instead generate metadata via the sandbox (see inline.go).
func readMetadataFromTree(ctx context.Context, folder string) (*store.RecipeMetadata, error) {
	cmd := exec.CommandContext(ctx, "makepkg", "--printsrcinfo")
	cmd.Dir = folder
	out, err := cmd.Output()
	if err != nil {
		return nil, xerrors.Errorf("generating .SRCINFO in %s: %w", folder, err)
	}
	m := parseSrcinfo(string(out))
	return &m, nil
}

// packFromTree builds an input archive containing the recipe text read from
// folder. Pipeline later appends serene-prepare.sh and makepkg-flags before
// sealing it.
func packFromTree(folder string) (*archive.Input, error) {
	recipe, err := readRecipeFromTree(folder)
	if err != nil {
		return nil, err
	}
	in := archive.NewInput()
	in.AddFile(pkgbuildFile, []byte(recipe), true)
	return in, nil
}
