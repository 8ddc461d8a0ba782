package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/mattermost/mattermost/server/public/model"
	"github.com/mattermost/mattermost/server/public/plugin"

	"github.com/mattermost/mattermost-plugin-vma/server/stream"
	"github.com/mattermost/mattermost-plugin-vma/server/target"
)

type breakerStatus struct {
	Open     bool       `json:"open"`
	Failures int        `json:"failures"`
	OpenedAt *time.Time `json:"openedAt,omitempty"`
}

type runStatus struct {
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Result     string     `json:"result,omitempty"`
}

type targetStatus struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	AreaCode      string     `json:"areaCode"`
	Enabled       bool       `json:"enabled"`
	TestMode      bool       `json:"testMode"`
	Alarm         bool       `json:"alarm"`
	Message       *string    `json:"message"`
	OpenIncidents int        `json:"openIncidents"`
	UpdatedAt     *time.Time `json:"updatedAt,omitempty"`
	Error         string     `json:"error,omitempty"`
}

type statusResponse struct {
	Streams        []stream.Status `json:"streams"`
	CircuitBreaker breakerStatus   `json:"circuitBreaker"`
	LastRun        runStatus       `json:"lastRun"`
	Targets        []targetStatus  `json:"targets"`
}

// ServeHTTP handles HTTP requests for the plugin.
// The root URL is currently <siteUrl>/plugins/com.mattermost.plugin-vma/api/v1/.
func (p *Plugin) ServeHTTP(c *plugin.Context, w http.ResponseWriter, r *http.Request) {
	router := mux.NewRouter()

	// Middleware to require that the user is logged in
	router.Use(p.MattermostAuthorizationRequired)

	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	apiRouter.Use(p.SystemAdminRequired)
	apiRouter.HandleFunc("/status", p.handleStatus).Methods(http.MethodGet)
	apiRouter.HandleFunc("/refresh", p.handleRefresh).Methods(http.MethodPost)

	router.ServeHTTP(w, r)
}

// ServeMetrics exposes the plugin's Prometheus metrics to the server's metrics endpoint.
func (p *Plugin) ServeMetrics(c *plugin.Context, w http.ResponseWriter, r *http.Request) {
	p.metrics.Handler().ServeHTTP(w, r)
}

func (p *Plugin) MattermostAuthorizationRequired(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("Mattermost-User-ID")
		if userID == "" {
			http.Error(w, "Not authorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (p *Plugin) SystemAdminRequired(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("Mattermost-User-ID")
		if !p.API.HasPermissionTo(userID, model.PermissionManageSystem) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (p *Plugin) handleStatus(w http.ResponseWriter, r *http.Request) {
	if p.pipeline == nil {
		http.Error(w, "Plugin is not active", http.StatusServiceUnavailable)
		return
	}

	breaker := p.pipeline.Breaker()
	response := statusResponse{
		Streams: p.streams.Snapshot(),
		CircuitBreaker: breakerStatus{
			Open:     breaker.IsOpen(),
			Failures: breaker.Failures(),
			OpenedAt: timeOrNil(breaker.OpenedAt()),
		},
		Targets: []targetStatus{},
	}

	finishedAt, result := p.pipeline.LastRun()
	response.LastRun = runStatus{FinishedAt: timeOrNil(finishedAt), Result: result}

	for _, t := range p.registry.List() {
		channelTarget, ok := t.(*target.ChannelTarget)
		if !ok {
			continue
		}
		response.Targets = append(response.Targets, describeTarget(channelTarget))
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		p.API.LogError("Failed to write status response", "error", err.Error())
	}
}

func (p *Plugin) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if p.pipeline == nil {
		http.Error(w, "Plugin is not active", http.StatusServiceUnavailable)
		return
	}

	p.pipeline.RequestRun()
	w.WriteHeader(http.StatusAccepted)
}

func describeTarget(t *target.ChannelTarget) targetStatus {
	cfg := t.Config()
	described := targetStatus{
		ID:       cfg.ID,
		Name:     cfg.Name,
		AreaCode: cfg.AreaCode,
		Enabled:  cfg.Enabled,
		TestMode: cfg.TestMode,
	}

	status, openIncidents, err := t.Status()
	if err != nil {
		described.Error = err.Error()
		return described
	}

	described.Alarm = status.Alarm
	described.Message = status.Message
	described.OpenIncidents = openIncidents
	described.UpdatedAt = timeOrNil(status.UpdatedAt)
	return described
}

func timeOrNil(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
