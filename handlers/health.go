package handlers

import (
	"net/http"

	"github.com/MoSam007/MicasaWeb/models"
	"github.com/MoSam007/MicasaWeb/services/propagation"
	"github.com/MoSam007/MicasaWeb/utils"
)

// Version is reported by the public status endpoint
const Version = "0.1.0"

// PropagationStats exposes the role propagation queue state
type PropagationStats interface {
	GetStats() propagation.Stats
}

// StatusResponse is the body of GET /api/public/status
type StatusResponse struct {
	Version         string                `json:"version"`
	Environment     string                `json:"environment"`
	Providers       []models.AuthProvider `json:"providers"`
	DefaultProvider models.AuthProvider   `json:"default_provider"`
	Propagation     *PropagationStatus    `json:"propagation,omitempty"`
}

// PropagationStatus summarizes the background propagation worker
type PropagationStatus struct {
	Running     bool `json:"running"`
	PendingJobs int  `json:"pending_jobs"`
}

// StatusHandler serves the anonymous service status endpoint
type StatusHandler struct {
	environment     string
	defaultProvider models.AuthProvider
	providers       ProviderLister
	propagation     PropagationStats
}

// NewStatusHandler creates a new StatusHandler. stats may be nil.
func NewStatusHandler(environment string, defaultProvider models.AuthProvider, providers ProviderLister, stats PropagationStats) *StatusHandler {
	return &StatusHandler{
		environment:     environment,
		defaultProvider: defaultProvider,
		providers:       providers,
		propagation:     stats,
	}
}

// HandleStatus handles GET /api/public/status
func (h *StatusHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	response := StatusResponse{
		Version:         Version,
		Environment:     h.environment,
		Providers:       []models.AuthProvider{},
		DefaultProvider: h.defaultProvider,
	}
	if h.providers != nil {
		response.Providers = append(response.Providers, h.providers.Providers()...)
	}
	if h.propagation != nil {
		stats := h.propagation.GetStats()
		response.Propagation = &PropagationStatus{
			Running:     stats.Started,
			PendingJobs: stats.PendingJobs,
		}
	}

	_ = utils.WriteOK(w, response)
}
