// Package schedule wraps an external cron scheduler to drive recurring and
// one-shot package builds, plus an independent image-update job. Grounded on
// original_source/server/src/schedule/mod.rs's Scheduler (recurring job map,
// per-base building lock, reschedule-on-enabled-or-cron-change rule) and, for
// the periodic-wakeup shape outside the cron library itself, cmd/autobuilder/
// autobuilder.go's select-loop (here delegated to robfig/cron instead of a
// hand-rolled ticker, since the core needs true cron expressions per spec §6
// rather than a single fixed interval).
package schedule

import (
	"context"
	"log"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/serene-build/serene/internal/config"
	"github.com/serene-build/serene/internal/session"
	"github.com/serene-build/serene/internal/store"
	"golang.org/x/xerrors"
)

// Runner drives one build round; satisfied by *session.Session.
type Runner interface {
	Run(ctx context.Context, packages []store.Package, reason store.BuildReason, flags session.Flags) error
}

// ImageUpdater refreshes the sandbox's runner image; satisfied by
// *sandbox.Runner.
type ImageUpdater interface {
	UpdateImage(ctx context.Context, prune bool) error
}

// job tracks what a package's recurring entry was scheduled with, so a
// settings change that leaves the effective cron string and enabled flag
// untouched doesn't needlessly restart the job (spec §4.9 reschedule rule).
type job struct {
	id   cron.EntryID
	cron string
}

// Scheduler owns the recurring per-package jobs, the independent image job,
// and the per-base "currently building" locks.
type Scheduler struct {
	cron    *cron.Cron
	store   store.Store
	runner  Runner
	updater ImageUpdater
	cfg     config.Config
	log     *log.Logger

	fanoutOnImageUpdate bool

	mu       sync.Mutex
	jobs     map[string]job
	building map[string]bool
}

// New returns a Scheduler. When fanoutOnImageUpdate is true, a successful
// image update job also fires a build of every enabled package, the policy
// spec §4.3 leaves to the outer app rather than mandating in the core.
func New(st store.Store, runner Runner, updater ImageUpdater, cfg config.Config, logger *log.Logger, fanoutOnImageUpdate bool) *Scheduler {
	return &Scheduler{
		cron:                cron.New(cron.WithSeconds()),
		store:               st,
		runner:              runner,
		updater:             updater,
		cfg:                 cfg,
		log:                 logger,
		fanoutOnImageUpdate: fanoutOnImageUpdate,
		jobs:                map[string]job{},
		building:            map[string]bool{},
	}
}

// Start launches the cron goroutine, scheduling pkgs' recurring jobs and the
// image job. It does not block.
func (s *Scheduler) Start(ctx context.Context, pkgs []store.Package) error {
	for _, pkg := range pkgs {
		if err := s.Schedule(ctx, pkg); err != nil {
			return err
		}
	}
	if _, err := s.cron.AddFunc(s.cfg.ScheduleImage, func() { s.runImageJob(ctx) }); err != nil {
		return xerrors.Errorf("scheduling image update job %q: %w", s.cfg.ScheduleImage, err)
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron goroutine and waits for any in-progress job to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// cronFor returns the effective schedule for pkg: its own override, else the
// configured default for non-devel/devel sources.
func (s *Scheduler) cronFor(pkg store.Package) string {
	if pkg.Settings.Schedule != "" {
		return pkg.Settings.Schedule
	}
	if pkg.Source.IsDevel() {
		return s.cfg.ScheduleDevel
	}
	return s.cfg.ScheduleDefault
}

// Schedule (re)registers pkg's recurring job per spec §4.9: disabled drops
// any existing job; enabled with an unchanged effective cron string is a
// no-op; enabled with a new cron string (or no prior job) replaces it.
func (s *Scheduler) Schedule(ctx context.Context, pkg store.Package) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !pkg.Settings.Enabled {
		s.unscheduleLocked(pkg.Base)
		return nil
	}

	want := s.cronFor(pkg)
	if existing, ok := s.jobs[pkg.Base]; ok {
		if existing.cron == want {
			return nil
		}
		s.cron.Remove(existing.id)
	}

	id, err := s.cron.AddFunc(want, func() { s.trigger(ctx, pkg.Base) })
	if err != nil {
		return xerrors.Errorf("scheduling %s with cron %q: %w", pkg.Base, want, err)
	}
	s.jobs[pkg.Base] = job{id: id, cron: want}
	return nil
}

// Unschedule drops base's recurring job, if any.
func (s *Scheduler) Unschedule(base string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unscheduleLocked(base)
}

func (s *Scheduler) unscheduleLocked(base string) {
	if j, ok := s.jobs[base]; ok {
		s.cron.Remove(j.id)
		delete(s.jobs, base)
	}
}

// tryLock sets base's building flag if clear, reporting whether it acquired
// it. A cron firing that finds the flag already set skips and logs a
// warning (spec §4.9); RunAsync's caller-triggered one-shots observe the
// same lock.
func (s *Scheduler) tryLock(base string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.building[base] {
		return false
	}
	s.building[base] = true
	return true
}

func (s *Scheduler) unlock(base string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.building, base)
}

// trigger is the cron callback for one package's recurring job.
func (s *Scheduler) trigger(ctx context.Context, base string) {
	pkg, err := s.store.PackageFind(ctx, base)
	if err != nil || pkg == nil {
		s.log.Printf("schedule: %s: package vanished before its trigger fired: %v", base, err)
		return
	}
	s.runSync(ctx, *pkg, false, false, store.ReasonSchedule)
}

// Run fires an immediate one-shot build of pkg and blocks until it
// completes, skipping (and logging) if base is already building.
func (s *Scheduler) Run(ctx context.Context, pkg store.Package, clean bool) {
	s.runSync(ctx, pkg, clean, true, store.ReasonManual)
}

// RunAsync is Run's non-blocking counterpart.
func (s *Scheduler) RunAsync(ctx context.Context, pkg store.Package, clean bool) {
	go s.runSync(ctx, pkg, clean, true, store.ReasonManual)
}

func (s *Scheduler) runSync(ctx context.Context, pkg store.Package, clean, force bool, reason store.BuildReason) {
	if !s.tryLock(pkg.Base) {
		s.log.Printf("schedule: %s: skipping trigger, a build is already in progress", pkg.Base)
		return
	}
	defer s.unlock(pkg.Base)

	flags := session.Flags{Clean: clean, Resolve: s.cfg.ResolveBuildSequence, Force: force}
	if err := s.runner.Run(ctx, []store.Package{pkg}, reason, flags); err != nil {
		s.log.Printf("schedule: %s: build round failed: %v", pkg.Base, err)
	}
}

// runImageJob is the cron callback for the image job: update the sandbox
// image and, if configured, fan out one build per enabled package.
func (s *Scheduler) runImageJob(ctx context.Context) {
	if err := s.updater.UpdateImage(ctx, s.cfg.PruneImages); err != nil {
		s.log.Printf("schedule: image update failed: %v", err)
		return
	}
	if !s.fanoutOnImageUpdate {
		return
	}

	pkgs, err := s.store.PackageFindAll(ctx)
	if err != nil {
		s.log.Printf("schedule: image update fan-out: listing packages: %v", err)
		return
	}
	var enabled []store.Package
	for _, pkg := range pkgs {
		if pkg.Settings.Enabled {
			enabled = append(enabled, pkg)
		}
	}
	if len(enabled) == 0 {
		return
	}

	flags := session.Flags{Clean: false, Resolve: s.cfg.ResolveBuildSequence, Force: false}
	bases := make([]string, 0, len(enabled))
	for _, pkg := range enabled {
		bases = append(bases, pkg.Base)
		s.mu.Lock()
		s.building[pkg.Base] = true
		s.mu.Unlock()
	}
	defer func() {
		for _, base := range bases {
			s.unlock(base)
		}
	}()

	if err := s.runner.Run(ctx, enabled, store.ReasonSchedule, flags); err != nil {
		s.log.Printf("schedule: image update fan-out build round failed: %v", err)
	}
}
