package lifecycle

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/serene-build/serene/internal/source"
	"github.com/serene-build/serene/internal/store"
)

type fakeScheduler struct{ unscheduled []string }

func (s *fakeScheduler) Unschedule(base string) { s.unscheduled = append(s.unscheduled, base) }

type fakeContainers struct {
	cleaned []string
	fail    error
}

func (c *fakeContainers) CleanPackageContainer(ctx context.Context, base string) error {
	c.cleaned = append(c.cleaned, base)
	return c.fail
}

type fakePublisher struct {
	published map[string]bool
	removed   []string
	fail      error
}

func (p *fakePublisher) Published(base string) bool { return p.published[base] }

func (p *fakePublisher) Remove(ctx context.Context, base string) error {
	if p.fail != nil {
		return p.fail
	}
	p.removed = append(p.removed, base)
	delete(p.published, base)
	return nil
}

type fakeSources struct{ dir string }

func (f fakeSources) SourceFolder(base string) string { return f.dir }

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewJSONStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func TestRemoveDestroysEveryOwnedResource(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	pkg := store.Package{Base: "hello", Added: time.Now(), Source: source.NewInlineSource("pkgname=hello\n", false, nil), Settings: store.Settings{Enabled: true}}
	if err := st.PackageSave(ctx, pkg); err != nil {
		t.Fatal(err)
	}
	sum := store.BuildSummary{Base: "hello", StartedAt: time.Now(), Reason: store.ReasonManual}
	sum.SetState(time.Now(), store.Success())
	if err := st.SummarySave(ctx, sum); err != nil {
		t.Fatal(err)
	}
	if err := st.LogWrite(ctx, sum, "build log"); err != nil {
		t.Fatal(err)
	}

	sourceDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(sourceDir, "PKGBUILD"), []byte("pkgname=hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	sched := &fakeScheduler{}
	containers := &fakeContainers{}
	pub := &fakePublisher{published: map[string]bool{"hello": true}}
	sources := fakeSources{dir: sourceDir}

	if err := Remove(ctx, st, sched, containers, pub, sources, "hello"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if len(sched.unscheduled) != 1 || sched.unscheduled[0] != "hello" {
		t.Fatalf("expected hello unscheduled, got %v", sched.unscheduled)
	}
	if len(containers.cleaned) != 1 || containers.cleaned[0] != "hello" {
		t.Fatalf("expected hello's container cleaned, got %v", containers.cleaned)
	}
	if len(pub.removed) != 1 || pub.removed[0] != "hello" {
		t.Fatalf("expected hello removed from repository, got %v", pub.removed)
	}

	if _, err := os.Stat(sourceDir); !os.IsNotExist(err) {
		t.Fatalf("expected source tree removed, stat err=%v", err)
	}

	sums, err := st.SummaryFindAllFor(ctx, "hello")
	if err != nil {
		t.Fatal(err)
	}
	if len(sums) != 0 {
		t.Fatalf("expected no summaries left, got %d", len(sums))
	}
	if _, found, err := st.LogRead(ctx, sum); err != nil || found {
		t.Fatalf("expected log removed, found=%v err=%v", found, err)
	}

	has, err := st.PackageHas(ctx, "hello")
	if err != nil {
		t.Fatal(err)
	}
	if has {
		t.Fatal("expected package record deleted")
	}
}

func TestRemoveSkipsUnpublishedPackage(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	pkg := store.Package{Base: "hello", Added: time.Now(), Source: source.NewInlineSource("pkgname=hello\n", false, nil), Settings: store.Settings{Enabled: true}}
	if err := st.PackageSave(ctx, pkg); err != nil {
		t.Fatal(err)
	}

	sched := &fakeScheduler{}
	containers := &fakeContainers{}
	pub := &fakePublisher{published: map[string]bool{}}
	sources := fakeSources{dir: t.TempDir()}

	if err := Remove(ctx, st, sched, containers, pub, sources, "hello"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if len(pub.removed) != 0 {
		t.Fatalf("expected no repository removal for an unpublished package, got %v", pub.removed)
	}
}

func TestRemoveRejectsUnknownPackage(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	err := Remove(ctx, st, &fakeScheduler{}, &fakeContainers{}, &fakePublisher{published: map[string]bool{}}, fakeSources{dir: t.TempDir()}, "ghost")
	if err == nil {
		t.Fatal("expected an error removing a package that was never added")
	}
}
