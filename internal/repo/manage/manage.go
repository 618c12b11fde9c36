// Package manage wraps the repo-management tool (repo-add / repo-remove) as
// child processes, the same way original_source's repository/manage.rs
// shells out to them.
package manage

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/xerrors"
)

// DBFile returns the repo DB filename for a repository named name.
func DBFile(name string) string {
	return name + ".db.tar.gz"
}

func dbFile(name string) string { return DBFile(name) }

// run invokes tool with args in dir, surfacing a non-zero exit as an error
// carrying the captured stderr (spec §6 repo-management tool contract).
func run(ctx context.Context, dir, tool string, args ...string) error {
	cmd := exec.CommandContext(ctx, tool, args...)
	cmd.Dir = dir
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return xerrors.Errorf("%s: %w: %s", tool, err, stderr.String())
	}
	return nil
}

// Add registers packageFiles (paths relative to dir) in name's repo DB.
func Add(ctx context.Context, dir, name string, packageFiles []string) error {
	if len(packageFiles) == 0 {
		return nil
	}
	args := append([]string{dbFile(name)}, packageFiles...)
	return run(ctx, dir, "repo-add", args...)
}

// Remove unregisters memberNames from name's repo DB.
func Remove(ctx context.Context, dir, name string, memberNames []string) error {
	if len(memberNames) == 0 {
		return nil
	}
	args := append([]string{dbFile(name)}, memberNames...)
	return run(ctx, dir, "repo-remove", args...)
}

// Exists reports whether name's repo DB has been initialized in dir.
func Exists(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, dbFile(name)))
	return err == nil
}
