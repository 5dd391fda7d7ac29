package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fjod/studenthub/settlement-service/internal/domain"
	"github.com/fjod/studenthub/settlement-service/internal/gateway"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// handleServiceError maps the domain error taxonomy onto HTTP statuses.
func handleServiceError(w http.ResponseWriter, log *slog.Logger, err error) {
	var (
		validation *domain.ValidationError
		notFound   *domain.NotFoundError
		authz      *domain.AuthorizationError
		conflict   *domain.StateConflictError
		gwErr      *gateway.Error
	)
	switch {
	case errors.As(err, &validation):
		respondJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "request validation failed",
			Code:    "invalid_argument",
			Details: validation.Fields,
		})
	case errors.As(err, &notFound):
		respondError(w, http.StatusNotFound, "not_found", notFound.Error())
	case errors.As(err, &authz):
		respondError(w, http.StatusForbidden, "permission_denied", "you are not allowed to act on this order")
	case errors.As(err, &conflict):
		respondError(w, http.StatusConflict, "failed_precondition", conflict.Error())
	case errors.Is(err, domain.ErrDuplicateOrder):
		respondError(w, http.StatusConflict, "already_exists", err.Error())
	case errors.As(err, &gwErr):
		log.Warn("payment gateway error", "gateway", gwErr.Gateway, "op", gwErr.Op, "error", err)
		respondError(w, http.StatusBadGateway, "gateway_error", "payment gateway unavailable")
	default:
		log.Error("internal error", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
