package handler

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/dukerupert/snaglist/internal/access"
)

func TestCreateLink(t *testing.T) {
	env := setupEnv(t)

	rec := env.do(t, "POST", "/api/links", "owner-1", map[string]any{
		"access_level":     "view",
		"project_id":       "proj-7",
		"snag_ids":         []string{"a", "b"},
		"expires_in_hours": 48,
		"pin":              "123456",
		"with_slug":        true,
		"slug_hint":        "Level 3",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusCreated, rec.Body.String())
	}
	body := decode(t, rec)

	token, _ := body["token"].(string)
	if len(token) < 43 {
		t.Errorf("token = %q, want >= 43 chars", token)
	}
	if body["url"] != "https://snag.example/l/"+token {
		t.Errorf("url = %v", body["url"])
	}
	if u, _ := body["short_url"].(string); !strings.HasPrefix(u, "https://snag.example/s/") {
		t.Errorf("short_url = %v", body["short_url"])
	}

	link, _ := body["link"].(map[string]any)
	if link["access_level"] != "view" || link["project_id"] != "proj-7" {
		t.Errorf("link = %v", link)
	}
	if _, ok := link["token"]; ok {
		t.Error("token serialized inside link")
	}
	want := testNow.Add(48 * time.Hour).Format("2006-01-02T15:04:05Z07:00")
	if link["expires_at"] != want {
		t.Errorf("expires_at = %v, want %s", link["expires_at"], want)
	}
}

func TestCreateLinkValidation(t *testing.T) {
	env := setupEnv(t)

	tests := []struct {
		name string
		body any
	}{
		{"bad level", map[string]any{"access_level": "admin", "project_id": "p"}},
		{"missing level", map[string]any{"project_id": "p"}},
		{"missing project", map[string]any{"access_level": "view"}},
		{"past expiry", map[string]any{"access_level": "view", "project_id": "p", "expires_at": "2020-01-01T00:00:00Z"}},
		{"short pin", map[string]any{"access_level": "view", "project_id": "p", "pin": "12"}},
		{"letters in pin", map[string]any{"access_level": "view", "project_id": "p", "pin": "12ab"}},
		{"too long", map[string]any{"access_level": "view", "project_id": "p", "expires_in_hours": 24 * 365}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, "POST", "/api/links", "owner-1", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d: %s", rec.Code, http.StatusBadRequest, rec.Body.String())
			}
		})
	}
}

func TestListLinksScopedToOwner(t *testing.T) {
	env := setupEnv(t)
	env.createLink(t, "owner-1", access.CreateParams{})
	env.createLink(t, "owner-1", access.CreateParams{})
	env.createLink(t, "owner-2", access.CreateParams{})

	rec := env.do(t, "GET", "/api/links", "owner-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var links []map[string]any
	if err := jsonDecode(rec, &links); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(links) != 2 {
		t.Fatalf("len = %d, want 2", len(links))
	}
	for _, l := range links {
		if l["status"] != "active" {
			t.Errorf("status = %v", l["status"])
		}
	}
}

func TestRevokeAndDelete(t *testing.T) {
	env := setupEnv(t)
	link := env.createLink(t, "owner-1", access.CreateParams{})

	rec := env.do(t, "POST", "/api/links/"+link.ID+"/revoke", "owner-2", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("other owner revoke: status = %d, want %d", rec.Code, http.StatusNotFound)
	}

	rec = env.do(t, "POST", "/api/links/"+link.ID+"/revoke", "owner-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("revoke: status = %d", rec.Code)
	}
	if body := decode(t, rec); body["status"] != "revoked" || body["revoked_at"] == nil {
		t.Errorf("revoke body = %v", body)
	}

	rec = env.do(t, "POST", "/api/links/"+link.ID+"/revoke", "owner-1", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("second revoke: status = %d", rec.Code)
	}

	rec = env.do(t, "DELETE", "/api/links/"+link.ID, "owner-1", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: status = %d", rec.Code)
	}
	rec = env.do(t, "DELETE", "/api/links/"+link.ID, "owner-1", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete: status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	rec = env.do(t, "GET", "/l/"+link.Token, "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("validate deleted: status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestAnalytics(t *testing.T) {
	env := setupEnv(t)
	link := env.createLink(t, "owner-1", access.CreateParams{})

	env.do(t, "GET", "/l/"+link.Token, "", nil)
	env.do(t, "GET", "/l/"+link.Token, "", nil)

	rec := env.do(t, "GET", "/api/links/"+link.ID+"/analytics?limit=10", "owner-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if opens, _ := body["opens"].([]any); len(opens) != 2 {
		t.Errorf("opens = %v", body["opens"])
	}
	if body["unique_ips"] != float64(1) {
		t.Errorf("unique_ips = %v", body["unique_ips"])
	}
	if body["status"] != "active" {
		t.Errorf("status = %v", body["status"])
	}

	rec = env.do(t, "GET", "/api/links/"+link.ID+"/analytics?limit=zero", "owner-1", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit: status = %d", rec.Code)
	}
	rec = env.do(t, "GET", "/api/links/"+link.ID+"/analytics", "owner-2", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("other owner: status = %d", rec.Code)
	}
}
