package handler

import (
	"context"
	"net/http"

	"github.com/mir00r/sip-dispatcher/internal/config"
	"github.com/mir00r/sip-dispatcher/internal/dispatcher"
	"github.com/mir00r/sip-dispatcher/pkg/logger"
)

// Reloader reloads the destination list from its configured source
type Reloader func(ctx context.Context) (*dispatcher.LoadResult, error)

// ConfigHandler handles list reload and configuration queries
type ConfigHandler struct {
	reload Reloader
	config *config.Config
	logger *logger.Logger
}

// NewConfigHandler creates a new configuration handler; cfg may be nil
func NewConfigHandler(reload Reloader, cfg *config.Config, log *logger.Logger) *ConfigHandler {
	return &ConfigHandler{
		reload: reload,
		config: cfg,
		logger: log.AdminLogger(),
	}
}

// ReloadHandler rebuilds the destination sets from the list source. On
// failure the active sets stay in place.
func (ch *ConfigHandler) ReloadHandler(w http.ResponseWriter, r *http.Request) {
	ch.logger.Info("Destination list reload requested")

	res, err := ch.reload(r.Context())
	if err != nil {
		writeError(w, r, ch.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "reloaded",
		"sets":    res.Sets,
		"loaded":  res.Loaded,
		"skipped": res.Skipped,
	})
}

// GetConfigHandler returns the effective configuration with secrets masked
func (ch *ConfigHandler) GetConfigHandler(w http.ResponseWriter, r *http.Request) {
	if ch.config == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{})
		return
	}
	cfg := *ch.config
	if cfg.Admin.JWTSecret != "" {
		cfg.Admin.JWTSecret = "********"
	}
	writeJSON(w, http.StatusOK, cfg)
}
