package dialog

import (
	"net/http"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/erikv05/oversea/config"
	"github.com/erikv05/oversea/internal/metrics"
	"github.com/erikv05/oversea/llm"
)

// Handler upgrades HTTP requests to dialog sessions.
type Handler struct {
	cfg       *config.Config
	providers Providers
	trimmer   *llm.Trimmer
	logger    *zap.Logger
	metrics   *metrics.Collector
}

// NewHandler creates the websocket endpoint handler.
func NewHandler(cfg *config.Config, providers Providers, trimmer *llm.Trimmer, logger *zap.Logger, collector *metrics.Collector) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		cfg:       cfg,
		providers: providers,
		trimmer:   trimmer,
		logger:    logger.With(zap.String("component", "ws_handler")),
		metrics:   collector,
	}
}

// ServeHTTP accepts the websocket and runs the session until it ends.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The browser client runs on a different origin in development.
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(1 << 20)

	session := NewSession(h.cfg, conn, h.providers, h.trimmer, r.RemoteAddr, h.logger, h.metrics)
	session.Run(r.Context())
}
