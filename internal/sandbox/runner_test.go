package sandbox

import (
	"archive/tar"
	"bytes"
	"io"
	"testing"
)

// innerArchive builds a small tar stream standing in for the nested
// target/-prefixed archive an entrypoint script writes into out.tar.
func innerArchive(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, contents := range entries {
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(contents))}); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(contents)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// TestUnwrapSingleFileTarRoundTrips exercises wrapSingleFileTar (what
// UploadInputs sends) and unwrapSingleFileTar (what DownloadOutputs needs)
// back to back, standing in for Docker's container-archive API wrapping the
// copied file's basename as one top-level tar entry.
func TestUnwrapSingleFileTarRoundTrips(t *testing.T) {
	inner := innerArchive(t, map[string]string{
		"target/hello-1.0-1-x86_64.pkg.tar.zst": "package contents",
		"target/.VERSION":                       "1.0\n",
	})

	wrapped, err := wrapSingleFileTar(outPath, inner)
	if err != nil {
		t.Fatalf("wrapSingleFileTar: %v", err)
	}

	// Docker's CopyFromContainer of a file path hands back exactly this
	// shape: one entry named after the file's basename, containing its raw
	// bytes - simulate that by reading the wrapped stream as-is.
	rc := io.NopCloser(wrapped)
	unwrapped, err := unwrapSingleFileTar(rc)
	if err != nil {
		t.Fatalf("unwrapSingleFileTar: %v", err)
	}
	defer unwrapped.Close()

	got, err := io.ReadAll(unwrapped)
	if err != nil {
		t.Fatalf("reading unwrapped content: %v", err)
	}
	if !bytes.Equal(got, inner) {
		t.Fatalf("unwrapped content did not round-trip: got %d bytes, want %d bytes", len(got), len(inner))
	}

	tr := tar.NewReader(bytes.NewReader(got))
	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("reading re-parsed inner tar: %v", err)
		}
		names = append(names, hdr.Name)
	}
	if len(names) != 2 {
		t.Fatalf("expected 2 entries in the re-parsed inner archive, got %v", names)
	}
}

func TestUnwrapSingleFileTarRejectsEmptyStream(t *testing.T) {
	if _, err := unwrapSingleFileTar(io.NopCloser(bytes.NewReader(nil))); err == nil {
		t.Fatal("expected an error unwrapping an empty stream")
	}
}
