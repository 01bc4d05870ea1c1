package main

import (
	"encoding/json"
	"net/http"

	"github.com/rickgao/deriv-stream/internal/protocol"
	"github.com/rickgao/deriv-stream/internal/session"
	"github.com/rickgao/deriv-stream/internal/version"
)

type statusSource interface {
	Snapshot() session.Snapshot
	Stats() session.Stats
	Symbols() []string
}

// createHealthHandler creates the HTTP handler for health checks.
func createHealthHandler(src statusSource) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		snap := src.Snapshot()
		stats := src.Stats()

		health := struct {
			Status     string                 `json:"status"`
			Version    map[string]string      `json:"version"`
			Components map[string]interface{} `json:"components"`
		}{
			Status:     "healthy",
			Version:    version.Info(),
			Components: make(map[string]interface{}),
		}

		switch {
		case stats.Connected && snap.Authenticated:
			health.Components["session"] = map[string]interface{}{
				"status":   "authorized",
				"login_id": snap.LoginID,
				"balance":  snap.Balance.StringFixed(protocol.AmountPlaces),
				"currency": snap.Currency,
			}
		case stats.Reconnecting:
			health.Status = "degraded"
			health.Components["session"] = map[string]string{"status": "reconnecting"}
		default:
			health.Status = "unhealthy"
			health.Components["session"] = map[string]interface{}{
				"status":        "down",
				"connected":     stats.Connected,
				"authenticated": snap.Authenticated,
			}
		}

		health.Components["router"] = map[string]int64{
			"frames":        stats.FramesRouted,
			"anomalies":     stats.ProtocolAnomalies,
			"unknown":       stats.UnknownFrames,
			"ticks_dropped": stats.TicksDropped,
		}
		health.Components["subscriptions"] = src.Symbols()

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	return mux
}
