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

type MembershipHandler struct {
	svc *service.MembershipService
}

func NewMembershipHandler(svc *service.MembershipService) *MembershipHandler {
	return &MembershipHandler{svc: svc}
}

func validMembershipStatus(s string) bool {
	switch domain.MembershipStatus(s) {
	case domain.MembershipInvited, domain.MembershipActive, domain.MembershipSuspended:
		return true
	}
	return s == ""
}

type addMemberRequest struct {
	UserID            string `json:"user_id"`
	Role              string `json:"role"`
	Status            string `json:"status,omitempty"`
	CanManageProjects bool   `json:"can_manage_projects"`
	CanManageMembers  bool   `json:"can_manage_members"`
	CanViewBilling    bool   `json:"can_view_billing"`
}

func (h *MembershipHandler) Add(w http.ResponseWriter, r *http.Request) {
	orgID, err := uuid.Parse(chi.URLParam(r, "orgID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid organization id")
		return
	}

	var req addMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user_id")
		return
	}
	role := domain.Role(req.Role)
	if !role.Valid() {
		writeError(w, http.StatusBadRequest, "invalid role")
		return
	}
	if !validMembershipStatus(req.Status) {
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}

	member := &domain.Membership{
		OrganizationID:    orgID,
		UserID:            userID,
		Role:              role,
		Status:            domain.MembershipStatus(req.Status),
		CanManageProjects: req.CanManageProjects,
		CanManageMembers:  req.CanManageMembers,
		CanViewBilling:    req.CanViewBilling,
	}

	if err := h.svc.Add(r.Context(), member); err != nil {
		if errors.Is(err, service.ErrMemberConflict) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeServiceError(w, err, "failed to add member")
		return
	}

	writeJSON(w, http.StatusCreated, member)
}

func (h *MembershipHandler) List(w http.ResponseWriter, r *http.Request) {
	orgID, err := uuid.Parse(chi.URLParam(r, "orgID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid organization id")
		return
	}

	members, err := h.svc.ListByOrganization(r.Context(), orgID)
	if err != nil {
		writeServiceError(w, err, "failed to list members")
		return
	}

	if members == nil {
		members = []domain.Membership{}
	}
	writeJSON(w, http.StatusOK, members)
}

func (h *MembershipHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid membership id")
		return
	}

	member, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrMembershipNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeServiceError(w, err, "failed to get member")
		return
	}

	writeJSON(w, http.StatusOK, member)
}

type updateRoleRequest struct {
	Role              string `json:"role"`
	CanManageProjects bool   `json:"can_manage_projects"`
	CanManageMembers  bool   `json:"can_manage_members"`
	CanViewBilling    bool   `json:"can_view_billing"`
}

func (h *MembershipHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid membership id")
		return
	}

	var req updateRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	role := domain.Role(req.Role)
	if !role.Valid() {
		writeError(w, http.StatusBadRequest, "invalid role")
		return
	}

	grants := domain.PermissionGrants{
		ManageProjects: req.CanManageProjects,
		ManageMembers:  req.CanManageMembers,
		ViewBilling:    req.CanViewBilling,
	}

	if err := h.svc.UpdateRole(r.Context(), id, role, grants); err != nil {
		if errors.Is(err, service.ErrMembershipNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeServiceError(w, err, "failed to update role")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

func (h *MembershipHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid membership id")
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Status == "" || !validMembershipStatus(req.Status) {
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}

	if err := h.svc.UpdateStatus(r.Context(), id, domain.MembershipStatus(req.Status)); err != nil {
		if errors.Is(err, service.ErrMembershipNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeServiceError(w, err, "failed to update status")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *MembershipHandler) Remove(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid membership id")
		return
	}

	if err := h.svc.Remove(r.Context(), id); err != nil {
		if errors.Is(err, service.ErrMembershipNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeServiceError(w, err, "failed to remove member")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
