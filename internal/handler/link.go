package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dukerupert/snaglist/internal/access"
	"github.com/dukerupert/snaglist/internal/auth"
	"github.com/dukerupert/snaglist/internal/model"
)

const (
	defaultAnalyticsLimit = 50
	maxAnalyticsLimit     = 500
)

// LinkHandler serves the owner API. Every route sits behind
// middleware.RequireOwner.
type LinkHandler struct {
	svc     *access.Service
	baseURL string
	logger  *slog.Logger
}

func NewLinkHandler(svc *access.Service, baseURL string, logger *slog.Logger) *LinkHandler {
	return &LinkHandler{svc: svc, baseURL: strings.TrimRight(baseURL, "/"), logger: logger}
}

type createLinkRequest struct {
	AccessLevel     model.AccessLevel `json:"access_level"`
	ProjectID       string            `json:"project_id"`
	ContractorID    string            `json:"contractor_id"`
	ContractorEmail string            `json:"contractor_email"`
	SnagIDs         []string          `json:"snag_ids"`
	ExpiresAt       *time.Time        `json:"expires_at"`
	// ExpiresInHours is used when ExpiresAt is absent.
	ExpiresInHours int    `json:"expires_in_hours"`
	PIN            string `json:"pin"`
	WithSlug       bool   `json:"with_slug"`
	SlugHint       string `json:"slug_hint"`
}

type createLinkResponse struct {
	Link  *model.AccessLink `json:"link"`
	Token string            `json:"token"`
	URL   string            `json:"url"`
	// ShortURL is set when the link has a slug.
	ShortURL string `json:"short_url,omitempty"`
}

func (h *LinkHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createLinkRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid JSON")
		return
	}
	if req.ExpiresInHours < 0 {
		writeError(w, http.StatusBadRequest, "invalid_input", "expires_in_hours must be positive")
		return
	}

	p := access.CreateParams{
		AccessLevel:     req.AccessLevel,
		ProjectID:       strings.TrimSpace(req.ProjectID),
		ContractorID:    strings.TrimSpace(req.ContractorID),
		ContractorEmail: strings.TrimSpace(req.ContractorEmail),
		SnagIDs:         req.SnagIDs,
		PIN:             strings.TrimSpace(req.PIN),
		WithSlug:        req.WithSlug,
		SlugHint:        req.SlugHint,
	}
	switch {
	case req.ExpiresAt != nil:
		p.ExpiresAt = *req.ExpiresAt
	case req.ExpiresInHours > 0:
		p.TTL = time.Duration(req.ExpiresInHours) * time.Hour
	}

	link, err := h.svc.Create(r.Context(), auth.OwnerID(r.Context()), p)
	if err != nil {
		writeServiceError(w, h.logger, "create link", err)
		return
	}

	resp := createLinkResponse{
		Link:  link,
		Token: link.Token,
		URL:   h.baseURL + "/l/" + link.Token,
	}
	if link.Slug != nil {
		resp.ShortURL = h.baseURL + "/s/" + *link.Slug
	}
	writeJSON(w, http.StatusCreated, resp)
}

type linkSummary struct {
	*model.AccessLink
	Status string `json:"status"`
}

func (h *LinkHandler) List(w http.ResponseWriter, r *http.Request) {
	links, err := h.svc.List(r.Context(), auth.OwnerID(r.Context()))
	if err != nil {
		writeServiceError(w, h.logger, "list links", err)
		return
	}
	out := make([]linkSummary, 0, len(links))
	for i := range links {
		out = append(out, linkSummary{AccessLink: &links[i], Status: h.svc.StatusOf(&links[i]).String()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *LinkHandler) Get(w http.ResponseWriter, r *http.Request) {
	link, err := h.svc.Get(r.Context(), auth.OwnerID(r.Context()), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, h.logger, "get link", err)
		return
	}
	writeJSON(w, http.StatusOK, linkSummary{AccessLink: link, Status: h.svc.StatusOf(link).String()})
}

func (h *LinkHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	link, err := h.svc.Revoke(r.Context(), auth.OwnerID(r.Context()), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, h.logger, "revoke link", err)
		return
	}
	writeJSON(w, http.StatusOK, linkSummary{AccessLink: link, Status: h.svc.StatusOf(link).String()})
}

func (h *LinkHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), auth.OwnerID(r.Context()), r.PathValue("id")); err != nil {
		writeServiceError(w, h.logger, "delete link", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *LinkHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	limit := defaultAnalyticsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_input", "limit must be a positive integer")
			return
		}
		limit = min(n, maxAnalyticsLimit)
	}

	a, err := h.svc.Analytics(r.Context(), auth.OwnerID(r.Context()), r.PathValue("id"), limit)
	if err != nil {
		writeServiceError(w, h.logger, "link analytics", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}
