package syncdb

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/klauspost/compress/zstd"
)

func serveBytes(t *testing.T, path string, body []byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != path {
			http.NotFound(w, r)
			return
		}
		w.Write(body)
	}))
}

func TestFetchGzip(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write([]byte("hello pacman db"))
	zw.Close()

	srv := serveBytes(t, "/core.db.tar.gz", buf.Bytes())
	defer srv.Close()

	mirror := Mirror{Template: srv.URL + "/{repo}.db.tar.gz"}
	rc, err := Fetch(context.Background(), mirror, "core", "x86_64", "")
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()

	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello pacman db" {
		t.Fatalf("Fetch() = %q, want %q", got, "hello pacman db")
	}
}

func TestFetchZstd(t *testing.T) {
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	zw.Write([]byte("hello zstd db"))
	zw.Close()

	srv := serveBytes(t, "/core.db.tar.zst", buf.Bytes())
	defer srv.Close()

	mirror := Mirror{Template: srv.URL + "/{repo}.db.tar.zst"}
	rc, err := Fetch(context.Background(), mirror, "core", "x86_64", "")
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()

	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello zstd db" {
		t.Fatalf("Fetch() = %q, want %q", got, "hello zstd db")
	}
}
