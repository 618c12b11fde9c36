package source

import (
	"context"
	"os/exec"
	"strings"

	"golang.org/x/xerrors"
)

// gitClone and friends shell out to the system git binary, the same way the
// teacher's autobuilder shells out to external build tools rather than
// linking a git library (cmd/autobuilder/autobuilder.go runs "git" via
// exec.CommandContext throughout).

func gitClone(ctx context.Context, url, folder string) error {
	cmd := exec.CommandContext(ctx, "git", "clone", "--quiet", url, folder)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return xerrors.Errorf("git clone %s: %w: %s", url, err, out)
	}
	return nil
}

func gitPull(ctx context.Context, folder string) error {
	cmd := exec.CommandContext(ctx, "git", "-C", folder, "pull", "--quiet")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return xerrors.Errorf("git pull in %s: %w: %s", folder, err, out)
	}
	return nil
}

// gitLatestCommit returns the commit hash HEAD points to on the remote,
// without requiring a local clone.
func gitLatestCommit(ctx context.Context, url string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "ls-remote", url, "HEAD")
	out, err := cmd.Output()
	if err != nil {
		return "", xerrors.Errorf("git ls-remote %s: %w", url, err)
	}
	fields := strings.Fields(string(out))
	if len(fields) == 0 {
		return "", xerrors.Errorf("git ls-remote %s: empty response", url)
	}
	return fields[0], nil
}

// gitLocalCommit returns the commit hash HEAD resolves to in a local clone.
func gitLocalCommit(ctx context.Context, folder string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", folder, "rev-parse", "HEAD")
	out, err := cmd.Output()
	if err != nil {
		return "", xerrors.Errorf("git rev-parse HEAD in %s: %w", folder, err)
	}
	return strings.TrimSpace(string(out)), nil
}
