//go:build !integration

package storage

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"cineai/internal/domain"
)

func TestFileStore_StoreAndOpen(t *testing.T) {
	t.Parallel()
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ref, err := fs.Store(context.Background(), []byte(`{"scenes":[]}`), "videos")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if !strings.HasPrefix(ref, "videos/") || !strings.HasSuffix(ref, ".json") {
		t.Fatalf("unexpected ref %q", ref)
	}
	f, err := fs.Open(ref)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	f.Close()
	if _, err := os.Stat(fs.Path(ref) + ".part"); !os.IsNotExist(err) {
		t.Fatal("temp file left behind")
	}
}

func TestFileStore_RejectsBadInput(t *testing.T) {
	t.Parallel()
	fs, _ := NewFileStore(t.TempDir())
	if _, err := fs.Store(context.Background(), []byte("x"), "../etc"); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("category: %v", err)
	}
	if _, err := fs.Store(context.Background(), nil, "temp"); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("empty: %v", err)
	}
	if _, err := fs.Open("../../secret"); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("traversal: %v", err)
	}
	if _, err := fs.Open("temp/missing.bin"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing: %v", err)
	}
}

func TestExtensionFor(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"ID3\x04\x00rest": ".mp3",
		`{"a":1}`:         ".json",
		"plain words":     ".txt",
	}
	for in, want := range cases {
		if got := extensionFor([]byte(in)); got != want {
			t.Fatalf("extensionFor(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestHTTPFetcher(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			_, _ = w.Write([]byte("video"))
		case "/big":
			_, _ = w.Write([]byte(strings.Repeat("x", 64)))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	f := NewHTTPFetcher(time.Second, 16)
	if b, err := f.Fetch(context.Background(), srv.URL+"/ok"); err != nil || string(b) != "video" {
		t.Fatalf("ok: %q %v", b, err)
	}
	if _, err := f.Fetch(context.Background(), srv.URL+"/big"); !errors.Is(err, domain.ErrProviderRejected) {
		t.Fatalf("big: %v", err)
	}
	if _, err := f.Fetch(context.Background(), srv.URL+"/gone"); !errors.Is(err, domain.ErrProviderRejected) {
		t.Fatalf("404: %v", err)
	}
}
