package push

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/snaglist/internal/dispatch"
	"github.com/dukerupert/snaglist/internal/model"
	"github.com/dukerupert/snaglist/internal/websocket"
)

func TestGenerateVAPIDKeys(t *testing.T) {
	pub, priv, err := GenerateVAPIDKeys()
	if err != nil {
		t.Fatalf("generate VAPID keys: %v", err)
	}

	// Uncompressed P-256 point.
	pubBytes, err := base64.RawURLEncoding.DecodeString(pub)
	if err != nil {
		t.Fatalf("decode public key: %v", err)
	}
	if len(pubBytes) != 65 {
		t.Errorf("public key length = %d, want 65", len(pubBytes))
	}

	privBytes, err := base64.RawURLEncoding.DecodeString(priv)
	if err != nil {
		t.Fatalf("decode private key: %v", err)
	}
	if len(privBytes) != 32 {
		t.Errorf("private key length = %d, want 32", len(privBytes))
	}

	pub2, _, _ := GenerateVAPIDKeys()
	if pub == pub2 {
		t.Error("expected different keys on second generation")
	}
}

type pushRequest struct {
	path    string
	headers http.Header
	body    []byte
}

// pushEndpoint is a fake push service. Paths in gone answer 410.
type pushEndpoint struct {
	srv  *httptest.Server
	mu   sync.Mutex
	reqs []pushRequest
	gone map[string]bool
}

func newPushEndpoint(t *testing.T, gone ...string) *pushEndpoint {
	t.Helper()
	e := &pushEndpoint{gone: map[string]bool{}}
	for _, p := range gone {
		e.gone[p] = true
	}
	e.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		e.mu.Lock()
		e.reqs = append(e.reqs, pushRequest{path: r.URL.Path, headers: r.Header.Clone(), body: body})
		e.mu.Unlock()
		if e.gone[r.URL.Path] {
			w.WriteHeader(http.StatusGone)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(e.srv.Close)
	return e
}

func (e *pushEndpoint) requests() []pushRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]pushRequest(nil), e.reqs...)
}

func testSubscription(t *testing.T, endpoint string) model.PushSubscription {
	t.Helper()
	p256dh, _, err := GenerateVAPIDKeys()
	if err != nil {
		t.Fatalf("generate subscription key: %v", err)
	}
	auth := make([]byte, 16)
	rand.Read(auth)
	return model.PushSubscription{
		ID:        "sub-" + endpoint[strings.LastIndex(endpoint, "/")+1:],
		OwnerID:   "owner-1",
		Endpoint:  endpoint,
		P256dhKey: p256dh,
		AuthKey:   base64.RawURLEncoding.EncodeToString(auth),
	}
}

func testService(t *testing.T) *Service {
	t.Helper()
	pub, priv, err := GenerateVAPIDKeys()
	if err != nil {
		t.Fatalf("generate VAPID keys: %v", err)
	}
	return NewService(Config{VAPIDPublicKey: pub, VAPIDPrivateKey: priv}, nil)
}

func TestSend(t *testing.T) {
	e := newPushEndpoint(t)
	svc := testService(t)
	sub := testSubscription(t, e.srv.URL+"/a")

	if err := svc.Send(context.Background(), &sub, Payload{Title: "hi", Body: "there"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	reqs := e.requests()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(reqs))
	}
	got := reqs[0]
	if got.headers.Get("Content-Encoding") != "aes128gcm" {
		t.Errorf("Content-Encoding = %q", got.headers.Get("Content-Encoding"))
	}
	if got.headers.Get("Urgency") != "high" {
		t.Errorf("Urgency = %q", got.headers.Get("Urgency"))
	}
	if !strings.HasPrefix(got.headers.Get("Authorization"), "vapid ") {
		t.Errorf("Authorization = %q", got.headers.Get("Authorization"))
	}
	if strings.Contains(string(got.body), "there") {
		t.Error("payload sent in the clear")
	}
}

func TestSendExpired(t *testing.T) {
	e := newPushEndpoint(t, "/gone")
	svc := testService(t)
	sub := testSubscription(t, e.srv.URL+"/gone")

	err := svc.Send(context.Background(), &sub, Payload{Title: "hi"})
	if !errors.Is(err, ErrExpired) {
		t.Errorf("err = %v, want ErrExpired", err)
	}
}

type fakeSubStore struct {
	mu      sync.Mutex
	subs    []model.PushSubscription
	deleted []string
}

func (f *fakeSubStore) ListByOwner(_ context.Context, ownerID string) ([]model.PushSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.PushSubscription
	for _, s := range f.subs {
		if s.OwnerID == ownerID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSubStore) DeleteByEndpoint(_ context.Context, endpoint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, endpoint)
	return nil
}

func TestNotifierPINLocked(t *testing.T) {
	e := newPushEndpoint(t, "/gone")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	queue := dispatch.New(4, 1, logger)

	live := testSubscription(t, e.srv.URL+"/live")
	gone := testSubscription(t, e.srv.URL+"/gone")
	other := testSubscription(t, e.srv.URL+"/other")
	other.OwnerID = "owner-2"
	subs := &fakeSubStore{subs: []model.PushSubscription{live, gone, other}}

	n := NewNotifier(testService(t), subs, queue, "https://snag.example", logger)
	n.Publish("owner-1", websocket.NewMessage(websocket.TypeLinkOpened, "link-1", time.Now(), nil))
	n.Publish("owner-1", websocket.NewMessage(websocket.TypePINLocked, "link-1", time.Now(), nil))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := queue.Close(ctx); err != nil {
		t.Fatalf("close queue: %v", err)
	}

	paths := map[string]int{}
	for _, r := range e.requests() {
		paths[r.path]++
	}
	if paths["/live"] != 1 || paths["/gone"] != 1 {
		t.Errorf("deliveries = %v, want one each to /live and /gone", paths)
	}
	if paths["/other"] != 0 {
		t.Error("pushed to another owner's browser")
	}
	if len(subs.deleted) != 1 || subs.deleted[0] != gone.Endpoint {
		t.Errorf("deleted = %v, want [%s]", subs.deleted, gone.Endpoint)
	}
}
