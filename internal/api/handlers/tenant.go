package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/stratumkit/stratum/internal/api/middleware"
	"github.com/stratumkit/stratum/internal/service"
)

type TenantHandler struct {
	svc *service.TenantService
}

func NewTenantHandler(svc *service.TenantService) *TenantHandler {
	return &TenantHandler{svc: svc}
}

type createTenantRequest struct {
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	MaxProjects int    `json:"max_projects"`
	MaxMembers  int    `json:"max_members"`
}

type createTenantResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	MaxProjects int    `json:"max_projects"`
	MaxMembers  int    `json:"max_members"`
	APIKey      string `json:"api_key"`
}

// Create provisions a tenant. The API key is returned exactly once; only its
// hash is stored.
func (h *TenantHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Slug == "" {
		writeError(w, http.StatusBadRequest, "slug is required")
		return
	}

	tenant, apiKey, err := h.svc.Create(r.Context(), req.Name, req.Slug, req.MaxProjects, req.MaxMembers)
	if err != nil {
		if errors.Is(err, service.ErrTenantConflict) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeServiceError(w, err, "failed to create tenant")
		return
	}

	writeJSON(w, http.StatusCreated, createTenantResponse{
		ID:          tenant.ID.String(),
		Name:        tenant.Name,
		Slug:        tenant.Slug,
		MaxProjects: tenant.MaxProjects,
		MaxMembers:  tenant.MaxMembers,
		APIKey:      apiKey,
	})
}

// Current returns the authenticated tenant.
func (h *TenantHandler) Current(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromContext(r.Context())
	if tenant == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	writeJSON(w, http.StatusOK, tenant)
}

// Suspend locks a tenant out. Super-admin only.
func (h *TenantHandler) Suspend(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, h.svc.Suspend)
}

// Activate reinstates a suspended tenant. Super-admin only.
func (h *TenantHandler) Activate(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, h.svc.Activate)
}

func (h *TenantHandler) setStatus(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id uuid.UUID) error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}

	if err := op(r.Context(), id); err != nil {
		if errors.Is(err, service.ErrTenantNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeServiceError(w, err, "failed to update tenant status")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
