package handlers

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/hhottdogg/community/internal/errors"
	"github.com/sirupsen/logrus"
)

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// responder is embedded by every handler set.
type responder struct {
	logger *logrus.Logger
}

func (rs responder) respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		rs.logger.WithError(err).WithField("status", status).Error("Failed to encode response")
	}
}

func (rs responder) respondWithError(w http.ResponseWriter, status int, code, message string) {
	rs.respondWithJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// respondUpstreamError forwards client errors from a backend service and
// reports everything else as a failed action.
func (rs responder) respondUpstreamError(w http.ResponseWriter, err error) {
	var httpErr *apperrors.HTTPError
	if apperrors.As(err, &httpErr) && httpErr.Status >= 400 && httpErr.Status < 500 {
		rs.respondWithError(w, httpErr.Status, "UPSTREAM_REJECTED", httpErr.Message)
		return
	}

	rs.logger.WithError(err).Error("Upstream action failed")
	rs.respondWithError(w, http.StatusBadGateway, "ACTION_FAILED", "The action failed. Please try again.")
}
