package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/snarg/vidsum/internal/mqttclient"
)

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
	Transcription *ProviderInfo     `json:"transcription,omitempty"`
	Busy          bool              `json:"busy"`
}

// ProviderInfo describes the configured transcription backend.
type ProviderInfo struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Device   string `json:"device,omitempty"`
}

// HealthOptions wires the health handler to the running components.
// Every field except Version and StartTime is optional.
type HealthOptions struct {
	Version   string
	StartTime time.Time

	// Dependencies returns the startup external-tool check (nil = ok).
	Dependencies func() error
	Busy         func() bool
	Provider     *ProviderInfo
	ArtifactType string
	MQTT         *mqttclient.Client
	// Watcher returns the drop-folder watcher status ("" = not configured).
	Watcher func() string
}

type HealthHandler struct {
	opts HealthOptions
}

func NewHealthHandler(opts HealthOptions) *HealthHandler {
	return &HealthHandler{opts: opts}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	// A missing downloader only breaks URL runs; uploads still work.
	if h.opts.Dependencies != nil {
		if err := h.opts.Dependencies(); err != nil {
			checks["media_tools"] = "missing"
			status = "degraded"
		} else {
			checks["media_tools"] = "ok"
		}
	}

	if h.opts.Provider != nil {
		checks["transcription"] = "ok"
	} else {
		checks["transcription"] = "not_configured"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	if h.opts.ArtifactType != "" {
		checks["artifacts"] = h.opts.ArtifactType
	}

	// MQTT check
	if h.opts.MQTT != nil {
		if h.opts.MQTT.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			if status == "healthy" {
				status = "degraded"
			}
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	if h.opts.Watcher != nil {
		if ws := h.opts.Watcher(); ws != "" {
			checks["file_watcher"] = ws
		}
	}

	resp := HealthResponse{
		Status:        status,
		Version:       h.opts.Version,
		UptimeSeconds: int64(time.Since(h.opts.StartTime).Seconds()),
		Checks:        checks,
		Transcription: h.opts.Provider,
	}
	if h.opts.Busy != nil {
		resp.Busy = h.opts.Busy()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(resp)
}
