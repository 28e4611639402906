package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/erikv05/oversea/agents"
	"github.com/erikv05/oversea/api/handlers"
	"github.com/erikv05/oversea/artifact"
	"github.com/erikv05/oversea/config"
	"github.com/erikv05/oversea/dialog"
	"github.com/erikv05/oversea/internal/metrics"
	"github.com/erikv05/oversea/internal/server"
	"github.com/erikv05/oversea/internal/telemetry"
	"github.com/erikv05/oversea/llm"
	"github.com/erikv05/oversea/speech"
)

// Server wires the dialog core, the providers, and the REST surface.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	otel   *telemetry.Providers

	httpManager    *server.Manager
	metricsManager *server.Manager

	collector  *metrics.Collector
	agentStore *agents.Store
	artifacts  artifact.Store
}

// NewServer creates the server from resolved configuration.
func NewServer(cfg *config.Config, logger *zap.Logger, otel *telemetry.Providers) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
		otel:   otel,
	}
}

// Start brings up the artifact store, the agent registry, the providers,
// and both HTTP servers.
func (s *Server) Start() error {
	s.collector = metrics.NewCollector("oversea", s.logger)

	artifacts, err := s.openArtifactStore()
	if err != nil {
		return fmt.Errorf("failed to open artifact store: %w", err)
	}
	s.artifacts = artifacts

	agentStore, err := agents.NewStore(s.cfg.Database.Path, s.logger)
	if err != nil {
		return fmt.Errorf("failed to open agent registry: %w", err)
	}
	s.agentStore = agentStore

	if s.cfg.Database.SeedSampleAgents {
		if err := agentStore.SeedSampleAgents(context.Background()); err != nil {
			s.logger.Warn("sample agent seeding failed", zap.Error(err))
		}
	}

	providers := dialog.Providers{
		Agents: agentStore,
		STT: speech.NewDeepgramProvider(speech.DeepgramConfig{
			APIKey:  s.cfg.STT.APIKey,
			BaseURL: s.cfg.STT.BaseURL,
			Model:   s.cfg.STT.Model,
		}, s.logger),
		LLM: llm.NewGeminiProvider(llm.GeminiConfig{
			APIKey:  s.cfg.LLM.APIKey,
			BaseURL: s.cfg.LLM.BaseURL,
			Model:   s.cfg.LLM.Model,
		}, s.logger),
		TTS: speech.NewElevenLabsProvider(speech.ElevenLabsConfig{
			APIKey:  s.cfg.TTS.APIKey,
			BaseURL: s.cfg.TTS.BaseURL,
			Model:   s.cfg.TTS.Model,
			VoiceID: s.cfg.TTS.VoiceID,
			Timeout: s.cfg.TTS.UnitTimeout,
		}),
		Store: artifacts,
	}

	trimmer := llm.NewTrimmer(s.cfg.LLM.HistoryTokenBudget, s.cfg.LLM.HistoryMaxEntries, s.logger)
	wsHandler := dialog.NewHandler(s.cfg, providers, trimmer, s.logger, s.collector)

	mux := http.NewServeMux()
	mux.Handle("/ws", wsHandler)
	mux.Handle("/health", s.instrument(handlers.NewHealthHandler(s.logger)))
	mux.Handle(s.cfg.Artifact.PathPrefix, s.instrument(
		handlers.NewAudioHandler(artifacts, s.cfg.Artifact.PathPrefix, s.logger, s.collector)))
	mux.Handle("/api/agents", s.instrument(handlers.NewAgentsHandler(agentStore, s.logger)))
	mux.Handle("/api/agents/", s.instrument(handlers.NewAgentsHandler(agentStore, s.logger)))

	s.httpManager = server.NewManager(mux, server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     0, // websocket sessions outlive any fixed read window
		WriteTimeout:    0,
		IdleTimeout:     0,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)
	if err := s.httpManager.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	s.metricsManager = server.NewManager(metricsMux, server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)
	if err := s.metricsManager.Start(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.String("artifact_backend", s.cfg.Artifact.Backend),
	)

	return nil
}

func (s *Server) openArtifactStore() (artifact.Store, error) {
	storeCfg := artifact.Config{
		TTL:          s.cfg.Artifact.TTL,
		MaxBytes:     s.cfg.Artifact.MaxBytes,
		ReapInterval: s.cfg.Artifact.ReapInterval,
	}

	if s.cfg.Artifact.Backend == "redis" {
		return artifact.NewRedisStore(artifact.RedisConfig{
			Addr:     s.cfg.Redis.Addr,
			Password: s.cfg.Redis.Password,
			DB:       s.cfg.Redis.DB,
			PoolSize: s.cfg.Redis.PoolSize,
		}, storeCfg, s.logger)
	}
	return artifact.NewMemoryStore(storeCfg, s.logger), nil
}

// WaitForShutdown blocks until a signal, then tears everything down.
func (s *Server) WaitForShutdown() {
	s.httpManager.WaitForShutdown()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Warn("metrics server shutdown failed", zap.Error(err))
		}
	}
	if s.artifacts != nil {
		if err := s.artifacts.Close(); err != nil {
			s.logger.Warn("artifact store close failed", zap.Error(err))
		}
	}
	if s.otel != nil {
		if err := s.otel.Shutdown(ctx); err != nil {
			s.logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}
}
