package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/stratumkit/stratum/internal/service"
)

// RateLimitHandler exposes the operator surface of the rate limit engine:
// inspecting counters and resetting them. All routes sit behind the
// super-admin gate.
type RateLimitHandler struct {
	svc *service.RateLimitService
}

func NewRateLimitHandler(svc *service.RateLimitService) *RateLimitHandler {
	return &RateLimitHandler{svc: svc}
}

// Rules lists the configured limit policy.
func (h *RateLimitHandler) Rules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"rules": h.svc.Rules()})
}

// Status returns the live counter for one limit type and identifier.
func (h *RateLimitHandler) Status(w http.ResponseWriter, r *http.Request) {
	limitType := r.URL.Query().Get("type")
	identifier := r.URL.Query().Get("identifier")
	if limitType == "" || identifier == "" {
		writeError(w, http.StatusBadRequest, "type and identifier are required")
		return
	}

	record, err := h.svc.Status(r.Context(), limitType, identifier)
	if err != nil {
		if errors.Is(err, service.ErrRateLimitNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeServiceError(w, err, "failed to get rate limit status")
		return
	}

	writeJSON(w, http.StatusOK, record)
}

// Reset deletes a single counter by record id.
func (h *RateLimitHandler) Reset(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid rate limit id")
		return
	}

	if err := h.svc.Reset(r.Context(), id); err != nil {
		if errors.Is(err, service.ErrRateLimitNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeServiceError(w, err, "failed to reset rate limit")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type resetIdentifierRequest struct {
	Identifier string `json:"identifier"`
}

// ResetIdentifier clears every counter held against one identifier.
func (h *RateLimitHandler) ResetIdentifier(w http.ResponseWriter, r *http.Request) {
	var req resetIdentifierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Identifier == "" {
		writeError(w, http.StatusBadRequest, "identifier is required")
		return
	}

	deleted, err := h.svc.ResetIdentifier(r.Context(), req.Identifier)
	if err != nil {
		writeServiceError(w, err, "failed to reset rate limits")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

type resetOrganizationRequest struct {
	OrganizationID string `json:"organization_id"`
}

// ResetOrganization clears the counters of every member of an organization.
func (h *RateLimitHandler) ResetOrganization(w http.ResponseWriter, r *http.Request) {
	var req resetOrganizationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	orgID, err := uuid.Parse(req.OrganizationID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid organization_id")
		return
	}

	deleted, err := h.svc.ResetOrganization(r.Context(), orgID)
	if err != nil {
		writeServiceError(w, err, "failed to reset rate limits")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}
