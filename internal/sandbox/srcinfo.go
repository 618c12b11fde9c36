package sandbox

import (
	"context"

	"github.com/serene-build/serene/internal/archive"
	"golang.org/x/xerrors"
)

// GenerateSrcinfo runs the shared srcinfo container against a bare recipe
// text and returns the generated .SRCINFO contents, implementing
// internal/source.SrcinfoGenerator for inline sources that have no cloned
// tree to run the recipe tool against directly.
func (r *Runner) GenerateSrcinfo(ctx context.Context, recipe string) (string, error) {
	id, err := r.PrepareSrcinfoContainer(ctx, false)
	if err != nil {
		return "", err
	}

	in := archive.NewInput()
	in.AddFile("PKGBUILD", []byte(recipe), true)
	payload, err := in.Finish()
	if err != nil {
		return "", err
	}
	if err := r.UploadInputs(ctx, id, payload); err != nil {
		return "", err
	}

	status, err := r.Run(ctx, id, "", nil)
	if err != nil {
		return "", err
	}
	if !status.Success {
		return "", xerrors.Errorf("recipe tool failed: %s", status.Log)
	}

	rc, err := r.DownloadOutputs(ctx, id)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	out := archive.NewOutput(rc)
	srcinfo, err := out.ReadAndExtract(nil, "")
	if err != nil {
		return "", xerrors.Errorf("reading generated .SRCINFO: %w", err)
	}
	return string(srcinfo), nil
}
