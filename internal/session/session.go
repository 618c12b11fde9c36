// Package session drives a set of packages through their builds in
// dependency order: a resolution phase classifies and cancels unbuildable
// packages, then a dispatch loop runs the rest concurrently, propagating
// dependency failure and bounding concurrency with a weighted semaphore.
// Grounded on original_source's resolve/build.rs session driver.
package session

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/serene-build/serene/internal/broadcast"
	"github.com/serene-build/serene/internal/resolve"
	"github.com/serene-build/serene/internal/store"
	"golang.org/x/sync/semaphore"
)

// Builder runs the build pipeline (§4.8) for one package, returning whether
// the build succeeded. It never returns an error for a build-level failure —
// those are terminal states persisted by the pipeline itself; err is
// reserved for reasons the session couldn't even attempt the build.
type Builder interface {
	Build(ctx context.Context, pkg store.Package, summary *store.BuildSummary, clean, force bool) (success bool, err error)
}

// Flags are the per-session build knobs (spec §4.7).
type Flags struct {
	Clean   bool
	Resolve bool
	Force   bool
}

// Session orchestrates one build round.
type Session struct {
	store         store.Store
	hub           *broadcast.Hub
	resolverFor   func(context.Context) (*resolve.Resolver, error)
	builder       Builder
	ignoreFailed  bool
	maxConcurrent int
}

// New returns a Session. resolverFor may be nil when the caller never sets
// Flags.Resolve (spec's resolve_build_sequence=false path). Otherwise it is
// called once at the top of every Run, so each build round resolves against
// a metadata snapshot taken for that round rather than one taken at process
// startup — a build session never holds on to a resolver across rounds.
// maxConcurrent bounds how many ready packages dispatch() runs at once; 0
// means unbounded.
func New(st store.Store, hub *broadcast.Hub, resolverFor func(context.Context) (*resolve.Resolver, error), builder Builder, ignoreFailed bool, maxConcurrent int) *Session {
	return &Session{store: st, hub: hub, resolverFor: resolverFor, builder: builder, ignoreFailed: ignoreFailed, maxConcurrent: maxConcurrent}
}

type outcome struct {
	success bool
	reason  string   // Failure/Cancelled message
	deps    []string // Success: filtered dependency set to wait on
}

// Run drives packages through resolution and dispatch. reason tags every
// build summary created this round.
func (s *Session) Run(ctx context.Context, packages []store.Package, reason store.BuildReason, flags Flags) error {
	now := time.Now()

	summaries := make(map[string]*store.BuildSummary, len(packages))
	working := make(map[string]store.Package, len(packages))
	for _, pkg := range packages {
		working[pkg.Base] = pkg.Clone()

		initial := store.Running(store.ProgressResolve)
		if !flags.Resolve {
			initial = store.Running(store.ProgressBuild)
		}
		sum := &store.BuildSummary{Base: pkg.Base, StartedAt: now, Reason: reason}
		sum.SetState(now, initial)
		summaries[pkg.Base] = sum
		if err := s.store.SummarySave(ctx, *sum); err != nil {
			return fmt.Errorf("saving initial build summary for %s: %w", pkg.Base, err)
		}
		if s.hub != nil {
			s.hub.PublishChange(pkg.Base, initial)
		}
	}

	ready := make(map[string][]string, len(packages)) // base -> waiting deps
	for base := range working {
		ready[base] = nil
	}
	if !flags.Resolve {
		// resolve_build_sequence=false: skip the resolver, chain packages
		// into their given input order instead of dispatching all at once.
		for i := 1; i < len(packages); i++ {
			ready[packages[i].Base] = []string{packages[i-1].Base}
		}
	}

	if flags.Resolve && s.resolverFor != nil {
		resolver, err := s.resolverFor(ctx)
		if err != nil {
			return fmt.Errorf("refreshing dependency resolver: %w", err)
		}
		outcomes, err := s.resolvePhase(ctx, resolver, working)
		if err != nil {
			return err
		}
		for base, oc := range outcomes {
			if oc.success {
				ready[base] = oc.deps
				continue
			}
			delete(ready, base)
			s.finish(ctx, summaries[base], store.Cancelled(oc.reason))
		}
	}

	return s.dispatch(ctx, working, summaries, ready, flags.Clean, flags.Force)
}

// resolvePhase implements spec §4.7's classify/fixpoint-cancel steps.
func (s *Session) resolvePhase(ctx context.Context, resolver *resolve.Resolver, working map[string]store.Package) (map[string]outcome, error) {
	outcomes := make(map[string]outcome, len(working))

	bases := make([]string, 0, len(working))
	for base := range working {
		bases = append(bases, base)
	}
	sort.Strings(bases) // deterministic order for tests/log readability

	for _, base := range bases {
		info, err := resolver.Resolve(ctx, base)
		if err != nil {
			return nil, fmt.Errorf("resolving dependencies of %s: %w", base, err)
		}

		if len(info.Missing) > 0 {
			outcomes[base] = outcome{success: false, reason: s.missingReason(ctx, info.Missing)}
			continue
		}

		deps := make([]string, 0, len(info.Depend))
		for dep := range info.Depend {
			deps = append(deps, dep)
		}
		sort.Strings(deps)
		outcomes[base] = outcome{success: true, deps: deps}
	}

	// Fixpoint: a Success whose deps intersect the current Failure set
	// itself becomes a Failure.
	for changed := true; changed; {
		changed = false
		for base, oc := range outcomes {
			if !oc.success {
				continue
			}
			var cancelledDeps []string
			for _, dep := range oc.deps {
				if other, ok := outcomes[dep]; ok && !other.success {
					cancelledDeps = append(cancelledDeps, dep)
				}
			}
			if len(cancelledDeps) > 0 {
				sort.Strings(cancelledDeps)
				outcomes[base] = outcome{
					success: false,
					reason:  fmt.Sprintf("dependencies are added but have been cancelled: %v", cancelledDeps),
				}
				changed = true
			}
		}
	}

	// Drop self and non-Success dependencies from each remaining Success's
	// wait set (they're implicitly available upstream packages).
	for base, oc := range outcomes {
		if !oc.success {
			continue
		}
		filtered := oc.deps[:0]
		for _, dep := range oc.deps {
			if dep == base {
				continue
			}
			if other, ok := outcomes[dep]; ok && other.success {
				filtered = append(filtered, dep)
			}
		}
		oc.deps = filtered
		outcomes[base] = oc
	}

	return outcomes, nil
}

// missingReason builds the Failure message for a package with unsatisfiable
// requirements, special-casing a missing name that is itself a
// never-built managed package.
func (s *Session) missingReason(ctx context.Context, missing []string) string {
	sort.Strings(missing)
	for _, name := range missing {
		pkg, err := s.store.PackageFind(ctx, name)
		if err == nil && pkg != nil && !pkg.EverBuilt() {
			return fmt.Sprintf("missing dependencies: %v (package %s is managed but has never built successfully)", missing, name)
		}
	}
	return fmt.Sprintf("missing dependencies: %v", missing)
}

// finish persists a terminal state on summary and broadcasts it.
func (s *Session) finish(ctx context.Context, summary *store.BuildSummary, state store.BuildState) {
	summary.SetState(time.Now(), state)
	_ = s.store.SummaryChange(ctx, *summary)
	if s.hub != nil {
		s.hub.PublishChange(summary.Base, state)
	}
}

type result struct {
	base    string
	success bool
}

// dispatch runs spec §4.7's build phase loop.
func (s *Session) dispatch(ctx context.Context, working map[string]store.Package, summaries map[string]*store.BuildSummary, waiting map[string][]string, clean, force bool) error {
	building := map[string]bool{}
	done := make(chan result)

	limit := int64(s.maxConcurrent)
	if limit <= 0 {
		limit = math.MaxInt64
	}
	sem := semaphore.NewWeighted(limit)

	var wg sync.WaitGroup
	launch := func(base string) {
		building[base] = true
		wg.Add(1)
		go func() {
			defer wg.Done()
			pkg := working[base]
			summary := summaries[base]

			success, err := s.builder.Build(ctx, pkg, summary, clean || pkg.Settings.Clean, force)
			// Free the slot before reporting, so the dispatchReady that follows
			// the report can reuse it.
			sem.Release(1)
			if err != nil {
				s.finish(ctx, summary, store.Fatal(err.Error(), store.ProgressBuild))
				done <- result{base: base, success: false}
				return
			}
			done <- result{base: base, success: success}
		}()
	}

	// dispatchReady launches every waiting package with no remaining
	// dependencies, up to the concurrency limit; bases that lose the race for
	// a slot stay in waiting and are retried the next time a build finishes.
	dispatchReady := func() {
		for base, deps := range waiting {
			if building[base] || len(deps) > 0 {
				continue
			}
			if !sem.TryAcquire(1) {
				continue
			}
			delete(waiting, base)
			launch(base)
		}
	}
	dispatchReady()

	for len(building) > 0 {
		r := <-done
		delete(building, r.base)

		if r.success || s.ignoreFailed {
			for base, deps := range waiting {
				waiting[base] = removeString(deps, r.base)
			}
		} else {
			for base, deps := range waiting {
				if contains(deps, r.base) {
					delete(waiting, base)
					s.finish(ctx, summaries[base], store.Cancelled(fmt.Sprintf("failed to build dependency %s successfully", r.base)))
				}
			}
		}

		dispatchReady()
	}
	wg.Wait()

	for base := range waiting {
		s.finish(ctx, summaries[base], store.Fatal("package was orphaned: resolver produced an unsatisfiable wait set", store.ProgressResolve))
	}

	return nil
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func removeString(xs []string, x string) []string {
	out := xs[:0]
	for _, v := range xs {
		if v != x {
			out = append(out, v)
		}
	}
	return out
}
