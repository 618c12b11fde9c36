// Package pipeline drives a single build of a single package through the
// Update/Build/Publish/Clean state machine (spec §4.8), the Go counterpart
// of original_source's build/mod.rs Builder.run_build. It implements
// internal/session's Builder interface.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/serene-build/serene/internal/archive"
	"github.com/serene-build/serene/internal/sandbox"
	"github.com/serene-build/serene/internal/store"
	"golang.org/x/xerrors"
)

const (
	prepareScriptFile = "serene-prepare.sh"
	flagsFile         = "makepkg-flags"
	repositoryFile    = "own-repository.conf"
)

// Sources resolves a package base to the on-disk tree its source was cloned
// into; satisfied structurally by *store.JSONStore.
type Sources interface {
	SourceFolder(base string) string
}

// Runner is the subset of *sandbox.Runner the pipeline drives, kept narrow
// here (rather than depending on *sandbox.Runner directly) so tests can
// substitute a fake instead of a real container engine.
type Runner interface {
	PrepareBuildContainer(ctx context.Context, pkg store.Package, clean bool) (string, error)
	UploadInputs(ctx context.Context, id string, archiveBytes []byte) error
	Run(ctx context.Context, id string, broadcastTarget string, sink sandbox.LineSink) (store.RunStatus, error)
	DownloadOutputs(ctx context.Context, id string) (io.ReadCloser, error)
	Clean(ctx context.Context, id string) error
}

// Publisher is the subset of *repo.Publisher the pipeline drives.
type Publisher interface {
	Publish(ctx context.Context, pkg store.Package, stagingDir string) error
}

// Pipeline wires the sandbox, repository publisher, and store together to
// carry out one package build.
type Pipeline struct {
	store   store.Store
	sources Sources
	runner  Runner
	repo    Publisher
	sink    sandbox.LineSink

	repositoryName   string
	ownRepositoryURL string
}

// New returns a Pipeline. repositoryName and ownRepositoryURL feed the
// optional own-repository.conf auxiliary input (spec §6 own_repository_url).
func New(st store.Store, sources Sources, runner Runner, publisher Publisher, sink sandbox.LineSink, repositoryName, ownRepositoryURL string) *Pipeline {
	return &Pipeline{
		store: st, sources: sources, runner: runner, repo: publisher, sink: sink,
		repositoryName: repositoryName, ownRepositoryURL: ownRepositoryURL,
	}
}

// fatalError carries the terminal Fatal(...) state a step produced, letting
// run surface it without the summary bookkeeping living in every step.
type fatalError struct {
	state store.BuildState
}

func (f fatalError) Error() string { return fmt.Sprintf("%s: %s", f.state.Progress, f.state.Message) }

func fatal(progress store.BuildProgress, err error) error {
	return fatalError{state: store.Fatal(err.Error(), progress)}
}

// Build runs pkg's build to completion, persisting every state transition
// through summary along the way. It satisfies internal/session.Builder.
func (p *Pipeline) Build(ctx context.Context, pkg store.Package, summary *store.BuildSummary, clean, force bool) (bool, error) {
	folder := p.sources.SourceFolder(pkg.Base)

	success, runErr := p.run(ctx, &pkg, folder, summary, clean, force)

	final := store.Failure()
	if ferr, ok := runErr.(fatalError); ok {
		final = ferr.state
	} else if success {
		final = store.Success()
	}
	summary.SetState(time.Now(), final)
	if err := p.store.SummaryChange(ctx, *summary); err != nil {
		return false, xerrors.Errorf("persisting final build state for %s: %w", pkg.Base, err)
	}
	return success, nil
}

// run executes the Update/Build/Publish/Clean sequence. A returned
// fatalError names the terminal Fatal state Build should persist; any other
// error is treated as an ordinary session-level failure.
func (p *Pipeline) run(ctx context.Context, pkg *store.Package, folder string, summary *store.BuildSummary, clean, force bool) (bool, error) {
	updateRequested := force
	if !updateRequested {
		updatable, err := pkg.Source.UpdateAvailable(ctx)
		if err != nil {
			return false, fatal(store.ProgressUpdate, xerrors.Errorf("checking for updates: %w", err))
		}
		updateRequested = updatable
	}

	if updateRequested {
		if err := p.transition(ctx, summary, store.ProgressUpdate); err != nil {
			return false, err
		}
		if err := pkg.Source.Update(ctx, folder); err != nil {
			return false, fatal(store.ProgressUpdate, xerrors.Errorf("updating source: %w", err))
		}
	}

	if err := p.transition(ctx, summary, store.ProgressBuild); err != nil {
		return false, err
	}
	containerID, runStatus, err := p.build(ctx, *pkg, folder, summary, clean)
	if err != nil {
		return false, fatal(store.ProgressBuild, err)
	}
	summary.Run = &runStatus

	if !runStatus.Success {
		if err := p.transition(ctx, summary, store.ProgressClean); err != nil {
			return false, err
		}
		if pkg.Settings.Clean {
			if err := p.runner.Clean(ctx, containerID); err != nil {
				return false, fatal(store.ProgressClean, xerrors.Errorf("cleaning container after failed build: %w", err))
			}
		}
		return false, nil
	}

	if err := p.transition(ctx, summary, store.ProgressPublish); err != nil {
		return false, err
	}
	if err := p.publish(ctx, pkg, folder, containerID); err != nil {
		return false, fatal(store.ProgressPublish, err)
	}
	summary.Version = pkg.Version

	if err := p.transition(ctx, summary, store.ProgressClean); err != nil {
		return false, err
	}
	if pkg.Settings.Clean {
		if err := p.runner.Clean(ctx, containerID); err != nil {
			return false, fatal(store.ProgressClean, xerrors.Errorf("cleaning container after successful build: %w", err))
		}
	}

	return true, nil
}

// transition persists an intermediate Running(progress) state.
func (p *Pipeline) transition(ctx context.Context, summary *store.BuildSummary, progress store.BuildProgress) error {
	summary.SetState(time.Now(), store.Running(progress))
	if err := p.store.SummaryChange(ctx, *summary); err != nil {
		return fatal(progress, err)
	}
	return nil
}

// build prepares the sandbox container (clean if pkg/session demands it),
// uploads the packed build inputs, and runs it, returning the container id
// so publish/clean can reuse it without re-preparing.
func (p *Pipeline) build(ctx context.Context, pkg store.Package, folder string, summary *store.BuildSummary, clean bool) (string, store.RunStatus, error) {
	id, err := p.runner.PrepareBuildContainer(ctx, pkg, clean)
	if err != nil {
		return "", store.RunStatus{}, xerrors.Errorf("preparing build container: %w", err)
	}

	in, err := pkg.Source.PackBuildInputs(ctx, folder)
	if err != nil {
		return id, store.RunStatus{}, xerrors.Errorf("packing build inputs: %w", err)
	}
	in.AddFile(prepareScriptFile, []byte(pkg.Settings.Prepare), true)
	in.AddFile(flagsFile, []byte(flagsText(pkg.Settings.Flags)), true)
	if p.ownRepositoryURL != "" {
		in.AddFile(repositoryFile, []byte(ownRepositoryConf(p.repositoryName, p.ownRepositoryURL)), true)
	}

	payload, err := in.Finish()
	if err != nil {
		return id, store.RunStatus{}, xerrors.Errorf("sealing build input archive: %w", err)
	}
	if err := p.runner.UploadInputs(ctx, id, payload); err != nil {
		return id, store.RunStatus{}, xerrors.Errorf("uploading build inputs: %w", err)
	}

	status, err := p.runner.Run(ctx, id, summary.Base, p.sink)
	if err != nil {
		return id, status, xerrors.Errorf("running build container: %w", err)
	}
	return id, status, nil
}

// flagsText renders the configured build-tool flags, one "--flag " token per
// entry, the way original_source's package/mod.rs build_files does.
func flagsText(flags []string) string {
	var b strings.Builder
	for _, f := range flags {
		b.WriteString("--")
		b.WriteString(f)
		b.WriteByte(' ')
	}
	return b.String()
}

// ownRepositoryConf renders a pacman repository stanza pointing the sandbox
// at this service's own published packages, so a build can pull a sibling
// package that was just published this session.
func ownRepositoryConf(name, url string) string {
	return fmt.Sprintf("[%s]\nSigLevel = Never\nServer = %s\n", name, url)
}

// publish downloads the sandbox's outputs, verifies the reported version,
// refreshes pkg's working copy, and hands the extracted files to the
// repository publisher. The built package's filenames depend on its version,
// which for devel sources is only known from this same archive, so every
// target/ file is staged first and the repository publisher (which knows
// the naming convention) picks out what it needs by the refreshed metadata.
func (p *Pipeline) publish(ctx context.Context, pkg *store.Package, folder, containerID string) error {
	rc, err := p.runner.DownloadOutputs(ctx, containerID)
	if err != nil {
		return xerrors.Errorf("downloading outputs: %w", err)
	}
	defer rc.Close()

	staging, err := os.MkdirTemp("", "serene-publish-*")
	if err != nil {
		return xerrors.Errorf("creating staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	_, _, reported, err := archive.NewOutput(rc).ReadAndExtractAll(staging)
	if err != nil {
		return xerrors.Errorf("reading sandbox output archive: %w", err)
	}

	recipe, err := pkg.Source.ReadRecipe(ctx, folder)
	if err != nil {
		return xerrors.Errorf("reading built recipe: %w", err)
	}
	metadata, err := pkg.Source.ReadMetadata(ctx, folder)
	if err != nil {
		return xerrors.Errorf("reading built recipe metadata: %w", err)
	}

	if !pkg.Source.IsDevel() && metadata != nil && reported != metadata.Version {
		return xerrors.Errorf("version mismatch: expected %s but built %s", metadata.Version, reported)
	}

	pkg.Version = &reported
	pkg.Recipe = &recipe
	pkg.Metadata = metadata
	if err := p.store.PackageChangeSources(ctx, pkg.Base, pkg.Source); err != nil {
		return xerrors.Errorf("persisting source changes: %w", err)
	}
	if err := p.store.PackageSave(ctx, *pkg); err != nil {
		return xerrors.Errorf("persisting package after build: %w", err)
	}

	if err := p.repo.Publish(ctx, *pkg, staging); err != nil {
		return xerrors.Errorf("publishing to repository: %w", err)
	}
	return nil
}
