package handlers

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/erikv05/oversea/artifact"
	"github.com/erikv05/oversea/internal/metrics"
)

// AudioHandler serves synthesized audio artifacts by opaque id.
type AudioHandler struct {
	store   artifact.Store
	prefix  string
	logger  *zap.Logger
	metrics *metrics.Collector
}

// NewAudioHandler creates the artifact endpoint for the given path
// prefix (e.g. "/audio/").
func NewAudioHandler(store artifact.Store, prefix string, logger *zap.Logger, collector *metrics.Collector) *AudioHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &AudioHandler{
		store:   store,
		prefix:  prefix,
		logger:  logger.With(zap.String("component", "audio_handler")),
		metrics: collector,
	}
}

// ServeHTTP handles GET <prefix>{id}.
func (h *AudioHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use GET")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, h.prefix)
	if id == "" || strings.Contains(id, "/") {
		WriteError(w, http.StatusNotFound, "ARTIFACT_NOT_FOUND", "no such artifact")
		return
	}

	art, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			h.metrics.RecordCacheMiss()
			h.logger.Debug("artifact miss", zap.String("id", id))
			WriteError(w, http.StatusNotFound, "ARTIFACT_NOT_FOUND", "artifact absent or expired")
			return
		}
		h.logger.Error("artifact fetch failed", zap.String("id", id), zap.Error(err))
		WriteError(w, http.StatusInternalServerError, "INTERNAL", "artifact fetch failed")
		return
	}

	h.metrics.RecordCacheHit()
	w.Header().Set("Content-Type", art.ContentType)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(art.Data)
}
