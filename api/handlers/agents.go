package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/erikv05/oversea/agents"
)

// AgentsHandler exposes agent CRUD under /api/agents.
type AgentsHandler struct {
	store  *agents.Store
	logger *zap.Logger
}

// NewAgentsHandler creates the agent CRUD handler.
func NewAgentsHandler(store *agents.Store, logger *zap.Logger) *AgentsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AgentsHandler{
		store:  store,
		logger: logger.With(zap.String("component", "agents_handler")),
	}
}

// ServeHTTP routes /api/agents and /api/agents/{id}.
func (h *AgentsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/agents"), "/")

	switch {
	case id == "" && r.Method == http.MethodGet:
		h.list(w, r)
	case id == "" && r.Method == http.MethodPost:
		h.create(w, r)
	case id != "" && r.Method == http.MethodGet:
		h.get(w, r, id)
	case id != "" && r.Method == http.MethodPut:
		h.update(w, r, id)
	case id != "" && r.Method == http.MethodDelete:
		h.delete(w, r, id)
	default:
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "unsupported method")
	}
}

func (h *AgentsHandler) list(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.List(r.Context())
	if err != nil {
		h.logger.Error("list agents failed", zap.Error(err))
		WriteError(w, http.StatusInternalServerError, "INTERNAL", "could not list agents")
		return
	}
	WriteSuccess(w, list)
}

func (h *AgentsHandler) create(w http.ResponseWriter, r *http.Request) {
	var agent agents.Agent
	if err := json.NewDecoder(r.Body).Decode(&agent); err != nil {
		WriteError(w, http.StatusBadRequest, "INVALID_BODY", "malformed agent definition")
		return
	}

	if err := h.store.Create(r.Context(), &agent); err != nil {
		h.logger.Warn("create agent failed", zap.Error(err))
		WriteError(w, http.StatusBadRequest, "INVALID_AGENT", err.Error())
		return
	}
	WriteJSON(w, http.StatusCreated, Response{Success: true, Data: agent})
}

func (h *AgentsHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	agent, err := h.store.GetAgent(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	WriteSuccess(w, agent)
}

func (h *AgentsHandler) update(w http.ResponseWriter, r *http.Request, id string) {
	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		WriteError(w, http.StatusBadRequest, "INVALID_BODY", "malformed agent patch")
		return
	}

	agent, err := h.store.Update(r.Context(), id, patch)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	WriteSuccess(w, agent)
}

func (h *AgentsHandler) delete(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.store.Delete(r.Context(), id); err != nil {
		h.writeStoreError(w, err)
		return
	}
	WriteSuccess(w, map[string]string{"message": "agent deleted"})
}

func (h *AgentsHandler) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, agents.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "AGENT_NOT_FOUND", "agent not found")
		return
	}
	h.logger.Error("agent store failure", zap.Error(err))
	WriteError(w, http.StatusInternalServerError, "INTERNAL", "agent store failure")
}
