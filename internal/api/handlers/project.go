package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/stratumkit/stratum/internal/domain"
	"github.com/stratumkit/stratum/internal/service"
)

// maxBatchSize caps one batch-create request.
const maxBatchSize = 100

type ProjectHandler struct {
	svc *service.ProjectService
}

func NewProjectHandler(svc *service.ProjectService) *ProjectHandler {
	return &ProjectHandler{svc: svc}
}

type projectRequest struct {
	Name   string `json:"name"`
	Status string `json:"status,omitempty"`
}

func validProjectStatus(s string) bool {
	return s == "" || s == string(domain.ProjectActive) || s == string(domain.ProjectArchived)
}

func (h *ProjectHandler) Create(w http.ResponseWriter, r *http.Request) {
	orgID, err := uuid.Parse(chi.URLParam(r, "orgID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid organization id")
		return
	}

	var req projectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if !validProjectStatus(req.Status) {
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}

	project := &domain.Project{
		OrganizationID: orgID,
		Name:           req.Name,
		Status:         domain.ProjectStatus(req.Status),
	}

	if err := h.svc.Create(r.Context(), project); err != nil {
		writeServiceError(w, err, "failed to create project")
		return
	}

	writeJSON(w, http.StatusCreated, project)
}

type batchCreateRequest struct {
	Projects []projectRequest `json:"projects"`
}

// BatchCreate inserts all named projects atomically; one bad row fails the
// whole batch.
func (h *ProjectHandler) BatchCreate(w http.ResponseWriter, r *http.Request) {
	orgID, err := uuid.Parse(chi.URLParam(r, "orgID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid organization id")
		return
	}

	var req batchCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Projects) == 0 {
		writeError(w, http.StatusBadRequest, "projects is required")
		return
	}
	if len(req.Projects) > maxBatchSize {
		writeError(w, http.StatusBadRequest, "too many projects in one batch")
		return
	}

	projects := make([]*domain.Project, 0, len(req.Projects))
	for _, p := range req.Projects {
		if p.Name == "" {
			writeError(w, http.StatusBadRequest, "every project needs a name")
			return
		}
		if !validProjectStatus(p.Status) {
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
		projects = append(projects, &domain.Project{
			OrganizationID: orgID,
			Name:           p.Name,
			Status:         domain.ProjectStatus(p.Status),
		})
	}

	if err := h.svc.BatchCreate(r.Context(), projects); err != nil {
		writeServiceError(w, err, "failed to create projects")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"projects": projects})
}

func (h *ProjectHandler) List(w http.ResponseWriter, r *http.Request) {
	orgID, err := uuid.Parse(chi.URLParam(r, "orgID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid organization id")
		return
	}

	projects, err := h.svc.ListByOrganization(r.Context(), orgID)
	if err != nil {
		writeServiceError(w, err, "failed to list projects")
		return
	}

	if projects == nil {
		projects = []domain.Project{}
	}
	writeJSON(w, http.StatusOK, projects)
}

func (h *ProjectHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid project id")
		return
	}

	project, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrProjectNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeServiceError(w, err, "failed to get project")
		return
	}

	writeJSON(w, http.StatusOK, project)
}

// Update edits name and status. The owning organization comes from the stored
// row, never from the request, so permission checks cannot be redirected.
func (h *ProjectHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid project id")
		return
	}

	var req projectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if !validProjectStatus(req.Status) {
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}

	project, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrProjectNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeServiceError(w, err, "failed to get project")
		return
	}

	project.Name = req.Name
	if req.Status != "" {
		project.Status = domain.ProjectStatus(req.Status)
	}

	if err := h.svc.Update(r.Context(), project); err != nil {
		if errors.Is(err, service.ErrProjectNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeServiceError(w, err, "failed to update project")
		return
	}

	writeJSON(w, http.StatusOK, project)
}

func (h *ProjectHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid project id")
		return
	}

	project, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrProjectNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeServiceError(w, err, "failed to get project")
		return
	}

	if err := h.svc.SoftDelete(r.Context(), project.OrganizationID, id); err != nil {
		if errors.Is(err, service.ErrProjectNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeServiceError(w, err, "failed to delete project")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Restore brings a soft-deleted project back.
func (h *ProjectHandler) Restore(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid project id")
		return
	}

	project, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrProjectNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeServiceError(w, err, "failed to get project")
		return
	}

	if err := h.svc.Restore(r.Context(), project.OrganizationID, id); err != nil {
		if errors.Is(err, service.ErrProjectNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeServiceError(w, err, "failed to restore project")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
