// Package server exposes the health check and the signed CSV export over HTTP.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"meetup-bot/internal/config"
	"meetup-bot/internal/util"
)

const (
	ExportPath    = "/export/users.csv"
	exportSubject = "export:users"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type CSVSource interface {
	BuildUsersCSV(ctx context.Context) ([]byte, error)
}

// ExportLink returns the signed download link for the participant CSV, or ""
// when no public URL or signing secret is configured.
func ExportLink(cfg config.Config) string {
	if cfg.BasePublicURL == "" || !cfg.SigningEnabled() {
		return ""
	}
	return cfg.BasePublicURL + ExportPath + "?token=" + util.HMACSHA256Hex(cfg.SigningSecret, exportSubject)
}

func New(cfg config.Config, db Pinger, csv CSVSource, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"ok": true, "ts": util.NowISO()}
		if err := db.Ping(ctx); err != nil {
			logger.Warn("health check failed", zap.Error(err))
			status = http.StatusServiceUnavailable
			body["ok"] = false
			body["error"] = "database unavailable"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	})

	// CSV export (admin-only link with token = HMAC); not served without a secret
	if cfg.SigningEnabled() {
		mux.HandleFunc(ExportPath, func(w http.ResponseWriter, r *http.Request) {
			token := r.URL.Query().Get("token")
			if token == "" {
				http.Error(w, "token required", http.StatusBadRequest)
				return
			}
			if !util.ValidHMAC(cfg.SigningSecret, exportSubject, token) {
				http.Error(w, "invalid token", http.StatusForbidden)
				return
			}
			b, err := csv.BuildUsersCSV(r.Context())
			if err != nil {
				logger.Error("csv export", zap.Error(err))
				http.Error(w, "export failed", http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "text/csv; charset=utf-8")
			w.Header().Set("Content-Disposition", `attachment; filename="users.csv"`)
			_, _ = w.Write(b)
		})
	}

	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
