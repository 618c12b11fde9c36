package archive

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/xerrors"
)

// outputPrefix is the well-known directory under which the sandbox places
// every produced file (spec §6: "Outputs from sandbox ... under target/").
const outputPrefix = "target/"

// srcinfoEntry is the well-known path of the parsed-metadata file within the
// output prefix.
const srcinfoEntry = outputPrefix + ".SRCINFO"

// Output wraps a single read of a tar stream produced by the sandbox. The
// stream is consumed exactly once (spec §9 "archive streaming"): reading the
// metadata and extracting files are interleaved over one pass, not two.
type Output struct {
	r io.Reader
}

// NewOutput wraps r, the sandbox's output tar stream.
func NewOutput(r io.Reader) *Output {
	return &Output{r: r}
}

// ReadAndExtract scans the archive in stream order exactly once. It captures
// the bytes of the .SRCINFO entry (if present) and extracts every entry
// whose name (relative to target/) is in files into dest, creating parent
// directories as needed. It returns an error naming every requested file
// that was not found by end-of-stream.
func (o *Output) ReadAndExtract(files []string, dest string) (srcinfo []byte, err error) {
	want := make(map[string]bool, len(files))
	for _, f := range files {
		want[f] = true
	}

	tr := tar.NewReader(o.r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, xerrors.Errorf("reading output archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		if hdr.Name == srcinfoEntry {
			buf, err := io.ReadAll(tr)
			if err != nil {
				return nil, xerrors.Errorf("reading %s: %w", srcinfoEntry, err)
			}
			srcinfo = buf
			continue
		}

		if !strings.HasPrefix(hdr.Name, outputPrefix) {
			continue
		}
		rel := strings.TrimPrefix(hdr.Name, outputPrefix)
		if !want[rel] {
			continue
		}

		target := filepath.Join(dest, rel)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, xerrors.Errorf("creating %s: %w", filepath.Dir(target), err)
		}
		f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode))
		if err != nil {
			return nil, xerrors.Errorf("creating %s: %w", target, err)
		}
		if _, err := io.Copy(f, tr); err != nil {
			f.Close()
			return nil, xerrors.Errorf("extracting %s: %w", target, err)
		}
		if err := f.Close(); err != nil {
			return nil, xerrors.Errorf("closing %s: %w", target, err)
		}
		delete(want, rel)
	}

	if len(want) > 0 {
		missing := make([]string, 0, len(want))
		for f := range want {
			missing = append(missing, f)
		}
		return srcinfo, xerrors.Errorf("output archive missing expected files: %v", missing)
	}
	return srcinfo, nil
}

// versionEntry is the well-known path of the reported build version within
// the output prefix.
const versionEntry = outputPrefix + ".VERSION"

// ReadAndExtractAll scans the archive in stream order exactly once,
// extracting every regular file under target/ into dest except .SRCINFO
// (captured and returned separately) and .VERSION (returned as version).
// Used by the publish step, which does not know the built package
// filenames in advance for devel sources whose version only becomes known
// from this same archive.
func (o *Output) ReadAndExtractAll(dest string) (srcinfo []byte, names []string, version string, err error) {
	tr := tar.NewReader(o.r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, "", xerrors.Errorf("reading output archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg || !strings.HasPrefix(hdr.Name, outputPrefix) {
			continue
		}

		if hdr.Name == srcinfoEntry {
			buf, err := io.ReadAll(tr)
			if err != nil {
				return nil, nil, "", xerrors.Errorf("reading %s: %w", srcinfoEntry, err)
			}
			srcinfo = buf
			continue
		}
		if hdr.Name == versionEntry {
			buf, err := io.ReadAll(tr)
			if err != nil {
				return nil, nil, "", xerrors.Errorf("reading %s: %w", versionEntry, err)
			}
			version = ReadVersion(buf)
			continue
		}

		rel := strings.TrimPrefix(hdr.Name, outputPrefix)
		target := filepath.Join(dest, rel)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, nil, "", xerrors.Errorf("creating %s: %w", filepath.Dir(target), err)
		}
		f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode))
		if err != nil {
			return nil, nil, "", xerrors.Errorf("creating %s: %w", target, err)
		}
		if _, err := io.Copy(f, tr); err != nil {
			f.Close()
			return nil, nil, "", xerrors.Errorf("extracting %s: %w", target, err)
		}
		if err := f.Close(); err != nil {
			return nil, nil, "", xerrors.Errorf("closing %s: %w", target, err)
		}
		names = append(names, rel)
	}

	if version == "" {
		return srcinfo, names, "", xerrors.New("output archive missing .VERSION")
	}
	return srcinfo, names, version, nil
}

// ReadVersion turns the raw contents of target/.VERSION, as read (not
// extracted) by ReadAndExtractAll, into the version string, trimming the
// trailing newline a writer commonly leaves.
func ReadVersion(raw []byte) string {
	return strings.TrimSpace(string(bytes.TrimRight(raw, "\n")))
}
