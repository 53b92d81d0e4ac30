// Package httpapi serves the non-core HTTP surface: the config probe the
// frontend uses to bootstrap itself, and the SPA fallback.
package httpapi

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"

	"github.com/b/tmux-remote/internal/auth"
	"github.com/b/tmux-remote/internal/config"
)

// configResponse is what /api/config discloses — never the token or
// password themselves.
type configResponse struct {
	PasswordRequired bool `json:"passwordRequired"`
	ScrollbackLines  int  `json:"scrollbackLines"`
	PollIntervalMs   int  `json:"pollIntervalMs"`
}

// NewMux builds the HTTP surface: /api/config, a 404 catch-all for
// unmatched /ws/* paths (the caller registers the real upgrade paths on the
// returned mux; being more specific patterns, they take precedence over this
// fallback), and an SPA file server rooted at cfg.FrontendDir.
func NewMux(cfg config.RuntimeConfig, authSvc *auth.Service) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/config", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(configResponse{
			PasswordRequired: authSvc.RequiresPassword(),
			ScrollbackLines:  cfg.ScrollbackLines,
			PollIntervalMs:   cfg.PollIntervalMs,
		})
	})

	mux.HandleFunc("/ws/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	mux.HandleFunc("/", spaHandler(cfg.FrontendDir))

	return mux
}

// spaHandler serves index.html from dir for any non-WebSocket GET, the way
// a single-page app expects its router to be fed on every path.
func spaHandler(dir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		indexPath := filepath.Join(dir, "index.html")
		if _, err := os.Stat(indexPath); err != nil {
			http.Error(w, "Frontend not built", http.StatusInternalServerError)
			return
		}
		http.ServeFile(w, r, indexPath)
	}
}
