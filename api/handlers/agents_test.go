package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/erikv05/oversea/agents"
)

func newAgentsHandler(t *testing.T) (*AgentsHandler, *agents.Store) {
	t.Helper()
	store, err := agents.NewStore(":memory:", zap.NewNop())
	require.NoError(t, err)
	return NewAgentsHandler(store, zap.NewNop()), store
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	var resp struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.NoError(t, json.Unmarshal(resp.Data, dest))
}

func TestAgentsCreateAndGet(t *testing.T) {
	h, _ := newAgentsHandler(t)

	body := `{"name":"Concierge","greeting":"Welcome!","behavior":"professional"}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/agents", bytes.NewBufferString(body)))
	require.Equal(t, http.StatusCreated, rec.Code)

	var created agents.Agent
	decodeData(t, rec, &created)
	require.NotEmpty(t, created.ID)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/agents/"+created.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got agents.Agent
	decodeData(t, rec, &got)
	assert.Equal(t, "Concierge", got.Name)
	assert.Equal(t, "Welcome!", got.Greeting)
}

func TestAgentsList(t *testing.T) {
	h, store := newAgentsHandler(t)
	require.NoError(t, store.SeedSampleAgents(t.Context()))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/agents", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var list []agents.Agent
	decodeData(t, rec, &list)
	assert.Len(t, list, 2)
}

func TestAgentsUpdate(t *testing.T) {
	h, store := newAgentsHandler(t)
	agent := &agents.Agent{Name: "Before"}
	require.NoError(t, store.Create(t.Context(), agent))

	body := `{"name":"After","guardrails_enabled":true}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/agents/"+agent.ID, bytes.NewBufferString(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	var updated agents.Agent
	decodeData(t, rec, &updated)
	assert.Equal(t, "After", updated.Name)
	assert.True(t, updated.GuardrailsEnabled)
}

func TestAgentsDelete(t *testing.T) {
	h, store := newAgentsHandler(t)
	agent := &agents.Agent{Name: "Doomed"}
	require.NoError(t, store.Create(t.Context(), agent))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/agents/"+agent.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/agents/"+agent.ID, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAgentsUnknownID(t *testing.T) {
	h, _ := newAgentsHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/agents/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAgentsBadBody(t *testing.T) {
	h, _ := newAgentsHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/agents", bytes.NewBufferString("{nope")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
