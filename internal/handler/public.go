package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/snaglist/internal/access"
	"github.com/dukerupert/snaglist/internal/model"
)

// PublicHandler serves the contractor-facing link endpoints. No
// authentication beyond the token itself.
type PublicHandler struct {
	svc    *access.Service
	logger *slog.Logger
}

func NewPublicHandler(svc *access.Service, logger *slog.Logger) *PublicHandler {
	return &PublicHandler{svc: svc, logger: logger}
}

type linkView struct {
	Valid        bool              `json:"valid"`
	Status       string            `json:"status"`
	Reason       string            `json:"reason"`
	AccessLevel  model.AccessLevel `json:"accessLevel,omitempty"`
	ExpiresAt    *time.Time        `json:"expiresAt,omitempty"`
	ProjectID    string            `json:"projectId,omitempty"`
	ContractorID string            `json:"contractorId,omitempty"`
	SnagIDs      []string          `json:"snagIds,omitempty"`
	PINRequired  bool              `json:"pinRequired,omitempty"`
	// RetryAfterSeconds is set while the link is locked.
	RetryAfterSeconds int `json:"retryAfterSeconds,omitempty"`
}

// scoped fills the fields a holder may see once access is granted.
func (v *linkView) scoped(link *model.AccessLink, withSnags bool) {
	exp := link.ExpiresAt.UTC()
	v.AccessLevel = link.AccessLevel
	v.ExpiresAt = &exp
	v.ProjectID = link.ProjectID
	v.ContractorID = link.ContractorID
	if withSnags {
		v.SnagIDs = link.SnagIDs
		if v.SnagIDs == nil {
			v.SnagIDs = []string{}
		}
	}
}

// Validate handles GET /l/{token}.
func (h *PublicHandler) Validate(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.Validate(r.Context(), r.PathValue("token"), callerInfo(r))
	if err != nil {
		writeServiceError(w, h.logger, "validate link", err)
		return
	}
	h.writeValidation(w, v)
}

// Resolve handles GET /s/{slug}.
func (h *PublicHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.Resolve(r.Context(), r.PathValue("slug"), callerInfo(r))
	if err != nil {
		writeServiceError(w, h.logger, "resolve slug", err)
		return
	}
	h.writeValidation(w, v)
}

func (h *PublicHandler) writeValidation(w http.ResponseWriter, v access.Validation) {
	resp := linkView{
		Valid:  v.Valid(),
		Status: v.Status.String(),
		Reason: v.Status.Reason(),
	}
	switch {
	case v.Valid():
		resp.scoped(v.Link, !v.PINRequired)
		resp.PINRequired = v.PINRequired
		if v.PINRequired {
			resp.Reason = "Enter the PIN to continue."
		}
	case v.Status == access.StatusLocked:
		resp.RetryAfterSeconds = retryAfterSeconds(v.RetryAfter)
		setRetryAfter(w, v.RetryAfter)
	}
	writeJSON(w, statusCode(v.Status), resp)
}

type pinRequest struct {
	PIN string `json:"pin"`
}

type pinResponse struct {
	linkView
	Verified          bool `json:"verified"`
	AttemptsRemaining *int `json:"attemptsRemaining,omitempty"`
}

// VerifyPIN handles POST /l/{token}/pin.
func (h *PublicHandler) VerifyPIN(w http.ResponseWriter, r *http.Request) {
	var req pinRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid JSON")
		return
	}
	req.PIN = strings.TrimSpace(req.PIN)
	if req.PIN == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "pin is required")
		return
	}

	res, err := h.svc.VerifyPIN(r.Context(), r.PathValue("token"), req.PIN, callerInfo(r))
	if err != nil {
		writeServiceError(w, h.logger, "verify pin", err)
		return
	}

	resp := pinResponse{linkView: linkView{Status: res.Status.String(), Reason: res.Status.Reason()}}
	switch res.Outcome {
	case access.PINVerified:
		resp.Valid = true
		resp.Verified = true
		resp.Reason = "PIN verified."
		resp.scoped(res.Link, true)
		writeJSON(w, http.StatusOK, resp)
	case access.PINMismatch:
		remaining := res.Remaining
		resp.Valid = true
		resp.AttemptsRemaining = &remaining
		resp.Reason = "Incorrect PIN."
		if res.RetryAfter > 0 {
			resp.Reason = "Incorrect PIN. " + access.StatusLocked.Reason()
			resp.RetryAfterSeconds = retryAfterSeconds(res.RetryAfter)
			setRetryAfter(w, res.RetryAfter)
		}
		writeJSON(w, http.StatusUnauthorized, resp)
	case access.PINLocked:
		resp.Status = access.StatusLocked.String()
		resp.Reason = access.StatusLocked.Reason()
		resp.RetryAfterSeconds = retryAfterSeconds(res.RetryAfter)
		setRetryAfter(w, res.RetryAfter)
		writeJSON(w, http.StatusLocked, resp)
	case access.PINNotConfigured:
		resp.Valid = true
		resp.Reason = "This link does not use a PIN."
		writeJSON(w, http.StatusBadRequest, resp)
	case access.PINLinkInvalid:
		writeJSON(w, statusCode(res.Status), resp)
	default:
		writeServiceError(w, h.logger, "verify pin", res.Err())
	}
}
