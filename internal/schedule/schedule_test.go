package schedule

import (
	"context"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/serene-build/serene/internal/config"
	"github.com/serene-build/serene/internal/session"
	"github.com/serene-build/serene/internal/store"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string
	delay time.Duration
	block chan struct{} // if non-nil, Run waits for this to close
}

func (r *fakeRunner) Run(ctx context.Context, packages []store.Package, reason store.BuildReason, flags session.Flags) error {
	if r.block != nil {
		<-r.block
	}
	time.Sleep(r.delay)
	bases := make([]string, len(packages))
	for i, p := range packages {
		bases[i] = p.Base
	}
	r.mu.Lock()
	r.calls = append(r.calls, bases)
	r.mu.Unlock()
	return nil
}

func (r *fakeRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type fakeUpdater struct {
	mu       sync.Mutex
	updated  int
	pruneArg bool
}

func (u *fakeUpdater) UpdateImage(ctx context.Context, prune bool) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.updated++
	u.pruneArg = prune
	return nil
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.ScheduleDefault = "*/1 * * * * *"
	cfg.ScheduleDevel = "*/1 * * * * *"
	cfg.ScheduleImage = "0 0 0 1 1 *" // never fires within a test
	return cfg
}

func discardLogger() *log.Logger {
	return log.New(logDiscard{}, "", 0)
}

type logDiscard struct{}

func (logDiscard) Write(p []byte) (int, error) { return len(p), nil }

func TestSchedulerSkipsOverlappingRun(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	s := New(nil, runner, &fakeUpdater{}, testConfig(), discardLogger(), false)

	pkg := store.Package{Base: "hello"}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Run(context.Background(), pkg, false)
	}()

	// Give the first Run a moment to acquire the lock before the second fires.
	time.Sleep(20 * time.Millisecond)
	s.Run(context.Background(), pkg, false) // should observe the lock held and skip immediately

	close(runner.block)
	wg.Wait()

	if got := runner.callCount(); got != 1 {
		t.Fatalf("expected exactly one build round, got %d", got)
	}
}

func TestSchedulerRescheduleNoopWhenUnchanged(t *testing.T) {
	runner := &fakeRunner{}
	s := New(nil, runner, &fakeUpdater{}, testConfig(), discardLogger(), false)

	pkg := store.Package{Base: "hello", Settings: store.Settings{Enabled: true, Schedule: "*/1 * * * * *"}}
	ctx := context.Background()

	if err := s.Schedule(ctx, pkg); err != nil {
		t.Fatal(err)
	}
	first := s.jobs["hello"]

	if err := s.Schedule(ctx, pkg); err != nil {
		t.Fatal(err)
	}
	second := s.jobs["hello"]

	if first.id != second.id {
		t.Fatal("expected rescheduling with an unchanged cron string to be a no-op")
	}
}

func TestSchedulerReschedulesOnCronChange(t *testing.T) {
	runner := &fakeRunner{}
	s := New(nil, runner, &fakeUpdater{}, testConfig(), discardLogger(), false)

	pkg := store.Package{Base: "hello", Settings: store.Settings{Enabled: true, Schedule: "*/1 * * * * *"}}
	ctx := context.Background()

	if err := s.Schedule(ctx, pkg); err != nil {
		t.Fatal(err)
	}
	first := s.jobs["hello"]

	pkg.Settings.Schedule = "0 */5 * * * *"
	if err := s.Schedule(ctx, pkg); err != nil {
		t.Fatal(err)
	}
	second := s.jobs["hello"]

	if first.id == second.id {
		t.Fatal("expected a changed cron string to replace the job")
	}
}

func TestSchedulerDisablingUnschedules(t *testing.T) {
	runner := &fakeRunner{}
	s := New(nil, runner, &fakeUpdater{}, testConfig(), discardLogger(), false)

	pkg := store.Package{Base: "hello", Settings: store.Settings{Enabled: true, Schedule: "*/1 * * * * *"}}
	ctx := context.Background()

	if err := s.Schedule(ctx, pkg); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.jobs["hello"]; !ok {
		t.Fatal("expected job to be scheduled")
	}

	pkg.Settings.Enabled = false
	if err := s.Schedule(ctx, pkg); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.jobs["hello"]; ok {
		t.Fatal("expected job to be unscheduled once disabled")
	}
}

func TestSchedulerImageJobFanout(t *testing.T) {
	st, err := store.NewJSONStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	for _, base := range []string{"a", "b", "disabled"} {
		pkg := store.Package{Base: base, Settings: store.Settings{Enabled: base != "disabled"}}
		if err := st.PackageSave(ctx, pkg); err != nil {
			t.Fatal(err)
		}
	}

	runner := &fakeRunner{}
	updater := &fakeUpdater{}
	s := New(st, runner, updater, testConfig(), discardLogger(), true)

	s.runImageJob(ctx)

	if updater.updated != 1 {
		t.Fatalf("expected image update to run once, got %d", updater.updated)
	}
	if runner.callCount() != 1 {
		t.Fatalf("expected one fan-out build round, got %d", runner.callCount())
	}
	got := runner.calls[0]
	if len(got) != 2 {
		t.Fatalf("expected exactly the two enabled packages, got %v", got)
	}
}

func TestSchedulerImageJobNoFanoutWithoutOptIn(t *testing.T) {
	st, err := store.NewJSONStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := st.PackageSave(ctx, store.Package{Base: "a", Settings: store.Settings{Enabled: true}}); err != nil {
		t.Fatal(err)
	}

	runner := &fakeRunner{}
	updater := &fakeUpdater{}
	s := New(st, runner, updater, testConfig(), discardLogger(), false)

	s.runImageJob(ctx)

	if updater.updated != 1 {
		t.Fatalf("expected image update to run once, got %d", updater.updated)
	}
	if runner.callCount() != 0 {
		t.Fatal("expected no fan-out build round without opt-in")
	}
}
