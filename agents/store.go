// Package agents is the agent-definition registry: the CRUD surface the
// dashboard talks to and the read-only records dialog sessions snapshot.
package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/erikv05/oversea/types"
)

// ErrNotFound is returned when no agent matches the id.
var ErrNotFound = errors.New("agent not found")

// Agent is the persisted agent definition.
type Agent struct {
	ID        string `gorm:"primaryKey" json:"id"`
	DisplayID string `gorm:"uniqueIndex" json:"agent_id"`

	Name               string  `json:"name"`
	Voice              string  `json:"voice"`
	Speed              float64 `json:"speed"`
	Greeting           string  `json:"greeting"`
	SystemPrompt       string  `json:"system_prompt"`
	Behavior           string  `json:"behavior"`
	LLMModel           string  `json:"llm_model"`
	CustomKnowledge    string  `json:"custom_knowledge"`
	GuardrailsEnabled  bool    `json:"guardrails_enabled"`
	CurrentDateEnabled bool    `json:"current_date_enabled"`
	CallerInfoEnabled  bool    `json:"caller_info_enabled"`
	Timezone           string  `json:"timezone"`

	Conversations int     `json:"conversations"`
	MinutesSpoken float64 `json:"minutes_spoken"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Record converts the definition into the immutable snapshot a dialog
// session consumes.
func (a *Agent) Record() types.AgentRecord {
	return types.AgentRecord{
		ID:                 a.ID,
		Name:               a.Name,
		Voice:              a.Voice,
		Speed:              a.Speed,
		Greeting:           a.Greeting,
		SystemPrompt:       a.SystemPrompt,
		Tone:               a.Behavior,
		Model:              a.LLMModel,
		Knowledge:          a.CustomKnowledge,
		GuardrailsEnabled:  a.GuardrailsEnabled,
		CurrentDateEnabled: a.CurrentDateEnabled,
		CallerInfoEnabled:  a.CallerInfoEnabled,
		Timezone:           a.Timezone,
	}
}

// Store is the sqlite-backed registry.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStore opens (or creates) the registry database at path. Use
// ":memory:" for an ephemeral registry.
func NewStore(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open agent registry: %w", err)
	}

	if err := db.AutoMigrate(&Agent{}); err != nil {
		return nil, fmt.Errorf("migrate agent registry: %w", err)
	}

	logger = logger.With(zap.String("component", "agent_store"))
	logger.Info("agent registry opened", zap.String("path", path))

	return &Store{db: db, logger: logger}, nil
}

// Create stores a new agent, assigning its ids and timestamps.
func (s *Store) Create(ctx context.Context, agent *Agent) error {
	if agent.Name == "" {
		return fmt.Errorf("agent name is required")
	}
	agent.ID = uuid.NewString()
	agent.DisplayID = displayID(agent.Name, agent.ID)
	if agent.Speed == 0 {
		agent.Speed = 1.0
	}
	now := time.Now()
	agent.CreatedAt = now
	agent.UpdatedAt = now

	if err := s.db.WithContext(ctx).Create(agent).Error; err != nil {
		return fmt.Errorf("create agent: %w", err)
	}
	return nil
}

// GetAgent returns the full definition for id.
func (s *Store) GetAgent(ctx context.Context, id string) (*Agent, error) {
	var agent Agent
	err := s.db.WithContext(ctx).First(&agent, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return &agent, nil
}

// Get returns the read-only record for id, satisfying the dialog core's
// agent source contract.
func (s *Store) Get(ctx context.Context, id string) (types.AgentRecord, error) {
	agent, err := s.GetAgent(ctx, id)
	if err != nil {
		return types.AgentRecord{}, err
	}
	return agent.Record(), nil
}

// List returns all agents, newest first.
func (s *Store) List(ctx context.Context) ([]Agent, error) {
	var out []Agent
	if err := s.db.WithContext(ctx).Order("created_at desc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	return out, nil
}

// Update applies every field present in patch to the stored agent, zero
// values included. The id keys are ignored, updated_at is refreshed, and a
// non-empty name also refreshes display_id.
func (s *Store) Update(ctx context.Context, id string, patch map[string]any) (*Agent, error) {
	agent, err := s.GetAgent(ctx, id)
	if err != nil {
		return nil, err
	}

	delete(patch, "id")
	delete(patch, "agent_id")
	patch["updated_at"] = time.Now()
	if name, ok := patch["name"].(string); ok && name != "" {
		patch["display_id"] = displayID(name, agent.ID)
	}

	if err := s.db.WithContext(ctx).Model(agent).Updates(patch).Error; err != nil {
		return nil, fmt.Errorf("update agent: %w", err)
	}
	return s.GetAgent(ctx, id)
}

// Delete removes an agent.
func (s *Store) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&Agent{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete agent: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordConversation rolls one finished conversation into the agent's
// usage counters.
func (s *Store) RecordConversation(ctx context.Context, id string, duration time.Duration) error {
	res := s.db.WithContext(ctx).Model(&Agent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"conversations":  gorm.Expr("conversations + 1"),
			"minutes_spoken": gorm.Expr("minutes_spoken + ?", duration.Minutes()),
			"updated_at":     time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("record conversation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SeedSampleAgents inserts starter agents into an empty registry.
func (s *Store) SeedSampleAgents(ctx context.Context) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Agent{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	samples := []Agent{
		{
			Name:               "Bozidar",
			Voice:              "21m00Tcm4TlvDq8ikWAM",
			Speed:              1.0,
			Greeting:           "Hello! I'm Bozidar. How can I help you today?",
			SystemPrompt:       "You are Bozidar, a helpful and professional assistant.",
			Behavior:           "professional",
			CurrentDateEnabled: true,
			CallerInfoEnabled:  true,
			Timezone:           "America/Los_Angeles",
		},
		{
			Name:               "Untitled Agent",
			Voice:              "21m00Tcm4TlvDq8ikWAM",
			Speed:              1.0,
			Greeting:           "Hi there! How can I assist you?",
			SystemPrompt:       "You are a friendly conversational assistant.",
			Behavior:           "chatty",
			CurrentDateEnabled: true,
			CallerInfoEnabled:  true,
			Timezone:           "America/Los_Angeles",
		},
	}

	for i := range samples {
		if err := s.Create(ctx, &samples[i]); err != nil {
			return err
		}
	}
	s.logger.Info("seeded sample agents", zap.Int("count", len(samples)))
	return nil
}

func displayID(name, id string) string {
	short := id
	if len(short) > 8 {
		short = short[:8]
	}
	return strings.ReplaceAll(name, " ", "-") + "-" + short
}
