package models

type HealthStatus string

const (
	HealthHealthy     HealthStatus = "healthy"
	HealthUnhealthy   HealthStatus = "unhealthy"
	HealthUnreachable HealthStatus = "unreachable"
	HealthError       HealthStatus = "error"
)

// ServiceHealth is one row of a readiness probe.
type ServiceHealth struct {
	Name   string       `json:"name"`
	Status HealthStatus `json:"status"`
	URL    string       `json:"url"`
	Error  string       `json:"error,omitempty"`
}
