package model

// HealthResponse represents response for GET /healthz
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}
