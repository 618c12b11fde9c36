// Package sandbox implements the sandbox runner (spec §4.3): the component
// that prepares, uploads to, runs, and tears down the isolated container
// each build happens in. It is the one component that talks to an external
// container engine, via github.com/docker/docker/client the way
// jesseduffield's lazydocker talks to its container engine.
package sandbox

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/serene-build/serene/internal/broadcast"
	"github.com/serene-build/serene/internal/store"
	"golang.org/x/xerrors"
)

const (
	inPath       = "/build/in.tar"
	outPath      = "/build/out.tar"
	workdir      = "/build"
	entryBuild   = "/build/entrypoint-build.sh"
	entrySrcinfo = "/build/entrypoint-srcinfo.sh"
)

// Runner drives the configured container engine to carry out one build.
type Runner struct {
	cli    *client.Client
	image  string // resolved, with "{version}" already substituted
	prefix string // container name prefix
}

// NewRunner connects to dockerURL (empty for the platform default) and
// targets image for every prepared container, named "<prefix><base>".
func NewRunner(dockerURL, image, prefix string) (*Runner, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if dockerURL != "" {
		opts = append(opts, client.WithHost(dockerURL))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, xerrors.Errorf("connecting to container engine: %w", err)
	}
	return &Runner{cli: cli, image: image, prefix: prefix}, nil
}

func (r *Runner) containerName(base string) string {
	return r.prefix + base
}

// FindContainer looks up a container by its exact name among all containers,
// running or not (spec §4.3 find_container).
func (r *Runner) FindContainer(ctx context.Context, name string) (id string, found bool, err error) {
	containers, err := r.cli.ContainerList(ctx, types.ContainerListOptions{All: true})
	if err != nil {
		return "", false, xerrors.Errorf("listing containers: %w", err)
	}
	want := "/" + name
	for _, c := range containers {
		for _, n := range c.Names {
			if n == want {
				return c.ID, true, nil
			}
		}
	}
	return "", false, nil
}

// recycle decides whether an existing container with the given id can be
// reused for the given entrypoint, per spec §4.3: its image tag and
// entry-point must match current configuration and clean must be false.
func (r *Runner) recycle(ctx context.Context, id string, entrypoint string, clean bool) (bool, error) {
	if clean {
		return false, nil
	}
	inspect, err := r.cli.ContainerInspect(ctx, id)
	if err != nil {
		return false, xerrors.Errorf("inspecting %s: %w", id, err)
	}
	if inspect.Config == nil || inspect.Config.Image != r.image {
		return false, nil
	}
	var current string
	if len(inspect.Config.Entrypoint) > 0 {
		current = inspect.Config.Entrypoint[0]
	}
	return current == entrypoint, nil
}

func (r *Runner) teardownAndCreate(ctx context.Context, name, entrypoint string, existing string) (string, error) {
	if existing != "" {
		if err := r.Clean(ctx, existing); err != nil {
			return "", err
		}
	}

	resp, err := r.cli.ContainerCreate(ctx, &container.Config{
		Image:      r.image,
		Entrypoint: []string{entrypoint},
		WorkingDir: workdir,
		Tty:        false,
	}, nil, nil, nil, name)
	if err != nil {
		return "", xerrors.Errorf("creating container %s: %w", name, err)
	}
	return resp.ID, nil
}

func (r *Runner) prepare(ctx context.Context, name, entrypoint string, clean bool) (string, error) {
	id, found, err := r.FindContainer(ctx, name)
	if err != nil {
		return "", err
	}
	if found {
		ok, err := r.recycle(ctx, id, entrypoint, clean)
		if err != nil {
			return "", err
		}
		if ok {
			return id, nil
		}
		return r.teardownAndCreate(ctx, name, entrypoint, id)
	}
	return r.teardownAndCreate(ctx, name, entrypoint, "")
}

// PrepareBuildContainer implements spec §4.3 prepare_build_container.
func (r *Runner) PrepareBuildContainer(ctx context.Context, pkg store.Package, clean bool) (string, error) {
	return r.prepare(ctx, r.containerName(pkg.Base), entryBuild, clean || pkg.Settings.Clean)
}

// PrepareSrcinfoContainer implements spec §4.3 prepare_srcinfo_container: a
// single shared container (not per-package) used only to run the recipe
// tool against inline recipes.
func (r *Runner) PrepareSrcinfoContainer(ctx context.Context, clean bool) (string, error) {
	return r.prepare(ctx, r.prefix+"srcinfo", entrySrcinfo, clean)
}

// UploadInputs uploads a tar archive to the container's fixed in-path.
func (r *Runner) UploadInputs(ctx context.Context, id string, archiveBytes []byte) error {
	wrapped, err := wrapSingleFileTar(inPath, archiveBytes)
	if err != nil {
		return err
	}
	if err := r.cli.CopyToContainer(ctx, id, "/", wrapped, types.CopyToContainerOptions{}); err != nil {
		return xerrors.Errorf("uploading inputs to %s: %w", id, err)
	}
	return nil
}

// wrapSingleFileTar re-tars a single already-built archive under a fixed
// path, since CopyToContainer expects a tar stream describing the
// destination layout rather than a bare byte blob.
func wrapSingleFileTar(path string, content []byte) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(&tar.Header{
		Name: strings.TrimPrefix(path, "/"),
		Size: int64(len(content)),
		Mode: 0o644,
	}); err != nil {
		return nil, xerrors.Errorf("writing tar header: %w", err)
	}
	if _, err := tw.Write(content); err != nil {
		return nil, xerrors.Errorf("writing tar body: %w", err)
	}
	if err := tw.Close(); err != nil {
		return nil, xerrors.Errorf("closing tar writer: %w", err)
	}
	return &buf, nil
}

// LineSink receives one streamed output line at a time, implemented by
// internal/broadcast so run() can forward container output live.
type LineSink interface {
	Log(base string, line string)
}

// Run starts id, streams its combined stdout+stderr (forwarding each line to
// sink for broadcastTarget if non-empty), waits for exit, and returns the
// resulting RunStatus (spec §4.3 run).
func (r *Runner) Run(ctx context.Context, id string, broadcastTarget string, sink LineSink) (store.RunStatus, error) {
	status := store.RunStatus{StartedAt: time.Now()}

	if err := r.cli.ContainerStart(ctx, id, types.ContainerStartOptions{}); err != nil {
		return status, xerrors.Errorf("starting container %s: %w", id, err)
	}

	logs, err := r.cli.ContainerLogs(ctx, id, types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return status, xerrors.Errorf("streaming logs from %s: %w", id, err)
	}
	defer logs.Close()

	var combined bytes.Buffer
	done := make(chan struct{})
	go func() {
		defer close(done)
		scanLines(logs, func(line string) {
			combined.WriteString(line)
			combined.WriteByte('\n')
			if broadcastTarget != "" && sink != nil {
				sink.Log(broadcastTarget, line)
			}
		})
	}()

	waitCh, errCh := r.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	var exitOK bool
	select {
	case err := <-errCh:
		<-done
		status.EndedAt = time.Now()
		status.Log = combined.String()
		return status, xerrors.Errorf("waiting for container %s: %w", id, err)
	case result := <-waitCh:
		<-done
		exitOK = result.StatusCode == 0
	}

	status.EndedAt = time.Now()
	status.Log = combined.String()
	status.Success = exitOK
	return status, nil
}

// scanLines is a small line-oriented reader; Docker's raw log stream
// interleaves an 8-byte frame header per write when TTY is disabled, which
// is stripped here rather than pulled in via the stdcopy helper, since we
// only need line text, not stream demultiplexing fidelity.
func scanLines(r io.Reader, emit func(line string)) {
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			for {
				idx := bytes.IndexByte(buf, '\n')
				if idx < 0 {
					break
				}
				line := buf[:idx]
				if len(line) >= 8 {
					line = line[8:] // strip docker multiplexed stream header
				}
				emit(string(line))
				buf = buf[idx+1:]
			}
		}
		if err != nil {
			if len(buf) > 0 {
				emit(string(buf))
			}
			return
		}
	}
}

// DownloadOutputs fetches the fixed out-path as a tar stream (spec §4.3
// download_outputs). outPath names a single file (the entrypoint scripts
// tar up target/ into it, the same convention UploadInputs uses in
// reverse), so the container-archive API Docker hands back wraps that
// file's raw bytes as one top-level tar entry named after its basename —
// it never expands nested paths for a file source the way it would for a
// directory. unwrapSingleFileTar peels that one entry off so the caller
// sees the real target/-prefixed tar stream the entrypoint produced.
func (r *Runner) DownloadOutputs(ctx context.Context, id string) (io.ReadCloser, error) {
	rc, _, err := r.cli.CopyFromContainer(ctx, id, outPath)
	if err != nil {
		return nil, xerrors.Errorf("downloading outputs from %s: %w", id, err)
	}
	inner, err := unwrapSingleFileTar(rc)
	if err != nil {
		rc.Close()
		return nil, xerrors.Errorf("unwrapping output archive from %s: %w", id, err)
	}
	return inner, nil
}

// unwrapSingleFileTar reads past the one top-level entry a container-archive
// copy of a single file produces and returns a ReadCloser over that entry's
// content, closing outer once the caller is done with it.
func unwrapSingleFileTar(outer io.ReadCloser) (io.ReadCloser, error) {
	tr := tar.NewReader(outer)
	if _, err := tr.Next(); err != nil {
		return nil, xerrors.Errorf("reading outer tar entry: %w", err)
	}
	return wrappedTarEntry{tr: tr, outer: outer}, nil
}

// wrappedTarEntry adapts a tar.Reader positioned at one entry's content,
// plus the stream it came from, into an io.ReadCloser.
type wrappedTarEntry struct {
	tr    *tar.Reader
	outer io.Closer
}

func (w wrappedTarEntry) Read(p []byte) (int, error) { return w.tr.Read(p) }
func (w wrappedTarEntry) Close() error               { return w.outer.Close() }

// CleanPackageContainer removes base's build container, if one exists. Used
// by package removal (spec.md:39/270), which must tear down the sandbox
// container even when no build is currently running against it.
func (r *Runner) CleanPackageContainer(ctx context.Context, base string) error {
	id, found, err := r.FindContainer(ctx, r.containerName(base))
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	return r.Clean(ctx, id)
}

// Clean removes the container (spec §4.3 clean).
func (r *Runner) Clean(ctx context.Context, id string) error {
	err := r.cli.ContainerRemove(ctx, id, types.ContainerRemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		return xerrors.Errorf("removing container %s: %w", id, err)
	}
	return nil
}

// UpdateImage pulls the configured image and optionally prunes dangling
// images afterward (spec §4.3 update_image).
func (r *Runner) UpdateImage(ctx context.Context, prune bool) error {
	rc, err := r.cli.ImagePull(ctx, r.image, types.ImagePullOptions{})
	if err != nil {
		return xerrors.Errorf("pulling image %s: %w", r.image, err)
	}
	defer rc.Close()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return xerrors.Errorf("reading pull progress for %s: %w", r.image, err)
	}

	if !prune {
		return nil
	}
	f := filters.NewArgs()
	f.Add("dangling", "true")
	if _, err := r.cli.ImagesPrune(ctx, f); err != nil {
		return xerrors.Errorf("pruning images: %w", err)
	}
	return nil
}

// broadcastAdapter lets *broadcast.Hub satisfy LineSink without internal/sandbox
// needing to import broadcast's event types into Run's signature.
type broadcastAdapter struct{ hub *broadcast.Hub }

func (a broadcastAdapter) Log(base string, line string) { a.hub.PublishLog(base, line) }

// NewBroadcastSink adapts a *broadcast.Hub into a LineSink.
func NewBroadcastSink(hub *broadcast.Hub) LineSink { return broadcastAdapter{hub: hub} }
