package validator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestPrevalidator(hts *httptest.Server) *Prevalidator {
	p := NewPrevalidator(50, 2*time.Second)
	if hts != nil {
		p.HTTP = hts.Client()
	}
	return p
}

func TestScreenFileMissingPath(t *testing.T) {
	pv := newTestPrevalidator(nil)
	res := pv.Screen(context.Background(), ProofFile, Payload{})
	if res.OK {
		t.Fatalf("file proof without a path must be rejected")
	}
}

func TestScreenFileTooLarge(t *testing.T) {
	pv := newTestPrevalidator(nil)
	res := pv.Screen(context.Background(), ProofFile, Payload{FilePath: "report.pdf", FileSizeBytes: 51 * 1024 * 1024})
	if res.OK {
		t.Fatalf("oversized file must be rejected")
	}
}

func TestScreenFileOnDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	pv := newTestPrevalidator(nil)
	res := pv.Screen(context.Background(), ProofFile, Payload{FilePath: path})
	if !res.OK {
		t.Fatalf("small existing file rejected: %s", res.Reason)
	}
}

func TestScreenURLInvalid(t *testing.T) {
	pv := newTestPrevalidator(nil)
	for _, raw := range []string{"", "not a url", "ftp://example.com/x"} {
		if res := pv.Screen(context.Background(), ProofURL, Payload{URL: raw}); res.OK {
			t.Fatalf("url %q should be rejected", raw)
		}
	}
}

func TestScreenURLGone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()
	pv := newTestPrevalidator(srv)
	res := pv.Screen(context.Background(), ProofURL, Payload{URL: srv.URL})
	if res.OK {
		t.Fatalf("404 url should be rejected")
	}
}

func TestScreenURLServerErrorForwardsWithWarning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	pv := newTestPrevalidator(srv)
	res := pv.Screen(context.Background(), ProofURL, Payload{URL: srv.URL})
	if !res.OK {
		t.Fatalf("5xx must not block the submitter")
	}
	if len(res.Warnings) == 0 {
		t.Fatalf("5xx should carry a warning into review")
	}
}

func TestScreenURLReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	pv := newTestPrevalidator(srv)
	res := pv.Screen(context.Background(), ProofURL, Payload{URL: srv.URL})
	if !res.OK || len(res.Warnings) != 0 {
		t.Fatalf("reachable url should pass clean, got %+v", res)
	}
}

func TestScreenStructuredTypesPassThrough(t *testing.T) {
	pv := newTestPrevalidator(nil)
	for _, pt := range []string{ProofRepository, ProofQuiz, ProofNone} {
		if res := pv.Screen(context.Background(), pt, Payload{}); !res.OK {
			t.Fatalf("proof type %s must pass through prevalidation", pt)
		}
	}
}
