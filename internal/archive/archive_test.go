package archive

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/domain"
)

type upload struct {
	method string
	path   string
	body   string
	ctype  string
}

func newS3Stub(t *testing.T, status int) (*httptest.Server, func() []upload) {
	t.Helper()
	var mu sync.Mutex
	var uploads []upload

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		uploads = append(uploads, upload{
			method: r.Method,
			path:   r.URL.Path,
			body:   string(body),
			ctype:  r.Header.Get("Content-Type"),
		})
		mu.Unlock()
		if status != http.StatusOK {
			w.WriteHeader(status)
			io.WriteString(w, `<Error><Code>AccessDenied</Code><Message>denied</Message></Error>`)
			return
		}
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	return srv, func() []upload {
		mu.Lock()
		defer mu.Unlock()
		return append([]upload(nil), uploads...)
	}
}

func newTestArchive(t *testing.T, endpoint string) *S3Archive {
	t.Helper()
	a, err := New(context.Background(), domain.ArchiveConfig{
		Enabled:         true,
		Region:          "eu-west-1",
		Bucket:          "audit",
		Prefix:          "/evaluations/",
		Endpoint:        endpoint,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		UsePathStyle:    true,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return a
}

func sampleEvaluation() *domain.Evaluation {
	return &domain.Evaluation{
		ID:        "eval-123",
		TenantID:  "tenant-001",
		EntityID:  "cust-9",
		Category:  domain.CategoryTransaction,
		Status:    domain.StatusEscalate,
		Score:     70,
		Timestamp: time.Date(2026, 3, 7, 23, 30, 0, 0, time.FixedZone("CET", 3600)),
	}
}

func TestArchive(t *testing.T) {
	srv, uploads := newS3Stub(t, http.StatusOK)
	a := newTestArchive(t, srv.URL)

	if err := a.Archive(context.Background(), sampleEvaluation()); err != nil {
		t.Fatalf("archive failed: %v", err)
	}

	got := uploads()
	if len(got) != 1 {
		t.Fatalf("expected 1 upload, got %d", len(got))
	}
	if got[0].method != http.MethodPut {
		t.Errorf("expected PUT, got %s", got[0].method)
	}
	want := "/audit/evaluations/tenant-001/2026/03/07/eval-123.json"
	if got[0].path != want {
		t.Errorf("expected path %s, got %s", want, got[0].path)
	}
	if !strings.Contains(got[0].body, `"id":"eval-123"`) {
		t.Errorf("expected evaluation JSON in body, got %s", got[0].body)
	}
	if got[0].ctype != "application/json" {
		t.Errorf("expected application/json, got %s", got[0].ctype)
	}
}

func TestArchiveErrors(t *testing.T) {
	t.Run("ServerError", func(t *testing.T) {
		srv, _ := newS3Stub(t, http.StatusForbidden)
		a := newTestArchive(t, srv.URL)

		if err := a.Archive(context.Background(), sampleEvaluation()); err == nil {
			t.Error("expected error from rejected upload")
		}
	})

	t.Run("MissingIdentity", func(t *testing.T) {
		a := &S3Archive{bucket: "audit"}
		if err := a.Archive(context.Background(), &domain.Evaluation{ID: "x"}); err == nil {
			t.Error("expected error without tenant")
		}
	})

	t.Run("BucketRequired", func(t *testing.T) {
		_, err := New(context.Background(), domain.ArchiveConfig{Enabled: true})
		if !errors.Is(err, ErrBucketRequired) {
			t.Errorf("expected ErrBucketRequired, got %v", err)
		}
	})
}

func TestKey(t *testing.T) {
	a := &S3Archive{prefix: ""}
	got := a.Key(sampleEvaluation())
	if got != "tenant-001/2026/03/07/eval-123.json" {
		t.Errorf("unexpected key %s", got)
	}
}
