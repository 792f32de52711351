package handlers

import (
	"net/http"
	"time"

	"github.com/hhottdogg/community/internal/models"
	"github.com/hhottdogg/community/internal/service"
	"github.com/sirupsen/logrus"
)

type HealthHandlers struct {
	apiService  *service.APIService
	serviceName string
	responder
}

func NewHealthHandlers(apiService *service.APIService, serviceName string, logger *logrus.Logger) *HealthHandlers {
	return &HealthHandlers{
		apiService:  apiService,
		serviceName: serviceName,
		responder:   responder{logger: logger},
	}
}

type HealthResponse struct {
	OK      bool   `json:"ok"`
	Service string `json:"service"`
	Time    string `json:"time"`
}

type ServicesHealthResponse struct {
	OK       bool                   `json:"ok"`
	Services []models.ServiceHealth `json:"services"`
}

func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, HealthResponse{
		OK:      true,
		Service: h.serviceName,
		Time:    time.Now().UTC().Format(time.RFC3339),
	})
}

// Services reports every backend; it answers 200 even when some are down.
func (h *HealthHandlers) Services(w http.ResponseWriter, r *http.Request) {
	results := h.apiService.CheckServiceHealth(r.Context())

	ok := true
	for _, res := range results {
		if res.Status != models.HealthHealthy {
			ok = false
		}
	}

	h.respondWithJSON(w, http.StatusOK, ServicesHealthResponse{OK: ok, Services: results})
}
