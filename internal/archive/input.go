// Package archive implements the tar codec used for every byte exchanged
// with the sandbox runner: plain (uncompressed) tar streams in both
// directions, built and read in memory.
package archive

import (
	"archive/tar"
	"bytes"
	"time"

	"golang.org/x/xerrors"
)

const (
	modeWritable = 0o644
	modeReadOnly = 0o444
)

// Input accumulates files destined for the sandbox as a tar stream. Callers
// add entries with AddFile and seal the archive with Finish. Obtain one from
// NewInput; the zero value has no tar writer and is not usable.
type Input struct {
	buf bytes.Buffer
	tw  *tar.Writer
	err error
}

// NewInput returns an empty input archive builder.
func NewInput() *Input {
	in := &Input{}
	in.tw = tar.NewWriter(&in.buf)
	return in
}

// AddFile writes a single regular file entry at path. writable controls the
// entry's permission bits (0644 vs 0444); the sandbox's build-tool refuses to
// run against a tree it cannot write into, so writable and read-only inputs
// are distinguished here; the pipeline adds the source tree contents and its
// prepare, flags and repository files as writable.
func (in *Input) AddFile(path string, contents []byte, writable bool) {
	if in.err != nil {
		return
	}
	mode := int64(modeReadOnly)
	if writable {
		mode = modeWritable
	}
	hdr := &tar.Header{
		Name:    path,
		Size:    int64(len(contents)),
		Mode:    mode,
		ModTime: time.Now(),
	}
	if err := in.tw.WriteHeader(hdr); err != nil {
		in.err = xerrors.Errorf("writing tar header for %s: %w", path, err)
		return
	}
	if _, err := in.tw.Write(contents); err != nil {
		in.err = xerrors.Errorf("writing tar body for %s: %w", path, err)
	}
}

// Finish seals the archive and returns its bytes. The Input must not be used
// afterward.
func (in *Input) Finish() ([]byte, error) {
	if in.err != nil {
		return nil, in.err
	}
	if err := in.tw.Close(); err != nil {
		return nil, xerrors.Errorf("closing tar writer: %w", err)
	}
	return in.buf.Bytes(), nil
}
