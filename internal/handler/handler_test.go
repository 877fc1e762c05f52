package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/snaglist/internal/access"
	"github.com/dukerupert/snaglist/internal/auth"
	"github.com/dukerupert/snaglist/internal/database"
	"github.com/dukerupert/snaglist/internal/model"
	"github.com/dukerupert/snaglist/internal/store"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	svc    *access.Service
	clock  *fakeClock
	mux    *http.ServeMux
	public *PublicHandler
	links  *LinkHandler
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := &fakeClock{now: testNow}
	svc := access.NewService(store.NewAccessLinkStore(db),
		access.WithClock(clock),
		access.WithAuditReader(store.NewAuditStore(db)),
		access.WithLogger(logger),
	)

	env := &testEnv{
		svc:    svc,
		clock:  clock,
		mux:    http.NewServeMux(),
		public: NewPublicHandler(svc, logger),
		links:  NewLinkHandler(svc, "https://snag.example/", logger),
	}
	env.mux.HandleFunc("GET /l/{token}", env.public.Validate)
	env.mux.HandleFunc("GET /s/{slug}", env.public.Resolve)
	env.mux.HandleFunc("POST /l/{token}/pin", env.public.VerifyPIN)
	env.mux.HandleFunc("POST /api/links", env.links.Create)
	env.mux.HandleFunc("GET /api/links", env.links.List)
	env.mux.HandleFunc("GET /api/links/{id}", env.links.Get)
	env.mux.HandleFunc("POST /api/links/{id}/revoke", env.links.Revoke)
	env.mux.HandleFunc("DELETE /api/links/{id}", env.links.Delete)
	env.mux.HandleFunc("GET /api/links/{id}/analytics", env.links.Analytics)
	return env
}

func (e *testEnv) createLink(t *testing.T, owner string, p access.CreateParams) *model.AccessLink {
	t.Helper()
	if p.AccessLevel == 0 {
		p.AccessLevel = model.AccessUpdate
	}
	if p.ProjectID == "" {
		p.ProjectID = "proj-1"
	}
	link, err := e.svc.Create(context.Background(), owner, p)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return link
}

func (e *testEnv) do(t *testing.T, method, target, owner string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, r)
	req.Header.Set("User-Agent", "handler-test")
	if owner != "" {
		req = req.WithContext(auth.WithPrincipal(req.Context(), auth.Principal{OwnerID: owner, Subject: owner}))
	}
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&m); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return m
}

func jsonDecode(rec *httptest.ResponseRecorder, v any) error {
	return json.NewDecoder(rec.Body).Decode(v)
}
