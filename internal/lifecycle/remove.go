// Package lifecycle implements whole-package operations that span several
// other components, where no single one owns the full sequence. Remove is
// the Go counterpart of original_source's package deletion path (spec.md:39
// "destroyed by 'remove' which must also delete sandbox container,
// repository entries, and log files"; spec.md:270's testable property);
// unlike add/update/build, nothing in internal/store, internal/sandbox,
// internal/repo, or internal/schedule on its own ties those steps together.
package lifecycle

import (
	"context"
	"os"

	"github.com/serene-build/serene/internal/store"
	"golang.org/x/xerrors"
)

// Scheduler drops a package's recurring job; satisfied by
// *schedule.Scheduler.
type Scheduler interface {
	Unschedule(base string)
}

// ContainerCleaner tears down a package's sandbox container, if any exists;
// satisfied by *sandbox.Runner.
type ContainerCleaner interface {
	CleanPackageContainer(ctx context.Context, base string) error
}

// Publisher strips a package's entries from the repository; satisfied by
// *repo.Publisher.
type Publisher interface {
	Published(base string) bool
	Remove(ctx context.Context, base string) error
}

// Sources resolves a package base to its cloned source tree; satisfied by
// *store.JSONStore.
type Sources interface {
	SourceFolder(base string) string
}

// Remove destroys base: it stops any recurring schedule, tears down its
// sandbox container, unpublishes it from the repository if published,
// deletes its build summaries and logs, removes its cloned source tree, and
// finally deletes its package record. Steps are ordered so a failure partway
// through leaves the package record in place (still findable, still
// schedulable) rather than a dangling repository entry or log directory with
// no owning record; the record itself is only deleted once everything it
// owns is gone.
func Remove(ctx context.Context, st store.Store, sched Scheduler, containers ContainerCleaner, pub Publisher, sources Sources, base string) error {
	pkg, err := st.PackageFind(ctx, base)
	if err != nil {
		return xerrors.Errorf("finding package %s: %w", base, err)
	}
	if pkg == nil {
		return xerrors.Errorf("package %s does not exist", base)
	}

	sched.Unschedule(base)

	if err := containers.CleanPackageContainer(ctx, base); err != nil {
		return xerrors.Errorf("cleaning sandbox container for %s: %w", base, err)
	}

	if pub.Published(base) {
		if err := pub.Remove(ctx, base); err != nil {
			return xerrors.Errorf("removing %s from repository: %w", base, err)
		}
	}

	if err := st.LogClean(ctx, base); err != nil {
		return xerrors.Errorf("cleaning build summaries and logs for %s: %w", base, err)
	}

	if folder := sources.SourceFolder(base); folder != "" {
		if err := os.RemoveAll(folder); err != nil {
			return xerrors.Errorf("removing source tree for %s: %w", base, err)
		}
	}

	if err := st.PackageDelete(ctx, base); err != nil {
		return xerrors.Errorf("deleting package record for %s: %w", base, err)
	}
	return nil
}
