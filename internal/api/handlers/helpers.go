package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/stratumkit/stratum/internal/domain"
	"github.com/stratumkit/stratum/internal/tenancy"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps the cross-cutting failures any guarded operation can
// produce. Handlers check their own sentinels first and fall back here with a
// message for the unclassified 500 case.
func writeServiceError(w http.ResponseWriter, err error, fallback string) {
	var quota *domain.QuotaExceededError
	switch {
	case errors.Is(err, tenancy.ErrContextNotSet):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.As(err, &quota):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":    quota.Error(),
			"resource": quota.Resource,
			"current":  quota.Current,
			"limit":    quota.Limit,
		})
	case errors.Is(err, domain.ErrQuotaExceeded):
		writeError(w, http.StatusUnprocessableEntity, "quota exceeded")
	case errors.Is(err, domain.ErrIsolationViolation):
		// A row outside the caller's tenant reads the same as a missing row.
		writeError(w, http.StatusNotFound, "not found")
	default:
		writeError(w, http.StatusInternalServerError, fallback)
	}
}
