package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/erikv05/oversea/types"
)

// GeminiConfig configures the Gemini streaming provider.
type GeminiConfig struct {
	APIKey  string        `json:"api_key" yaml:"api_key"`
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// GeminiProvider streams completions from the Gemini API over SSE.
type GeminiProvider struct {
	cfg    GeminiConfig
	client *http.Client
	logger *zap.Logger
}

// NewGeminiProvider creates a new Gemini streaming provider.
func NewGeminiProvider(cfg GeminiConfig, logger *zap.Logger) *GeminiProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com"
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash-exp"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeminiProvider{
		cfg: cfg,
		// No client timeout: streams live as long as their context.
		client: &http.Client{},
		logger: logger.With(zap.String("component", "gemini_llm")),
	}
}

func (p *GeminiProvider) Name() string { return "gemini" }

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	GenerationConfig  struct {
		Temperature     float64 `json:"temperature,omitempty"`
		MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	} `json:"generationConfig"`
}

type geminiChunk struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason,omitempty"`
	} `json:"candidates"`
}

// StreamChat issues a streaming request and returns the fragment stream.
func (p *GeminiProvider) StreamChat(ctx context.Context, req *Request) (Stream, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}

	body := geminiRequest{}
	if req.System != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	for _, msg := range req.Messages {
		role := "user"
		if msg.Role == types.RoleAssistant {
			role = "model"
		}
		body.Contents = append(body.Contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: msg.Content}},
		})
	}
	body.GenerationConfig.Temperature = req.Temperature
	body.GenerationConfig.MaxOutputTokens = req.MaxTokens

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse",
		strings.TrimRight(p.cfg.BaseURL, "/"), model)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", p.cfg.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(resp.Body)
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, types.NewError(types.ErrProviderAuth, "gemini rejected credentials").
				WithProvider(p.Name()).WithFatal()
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, types.NewError(types.ErrProviderQuota, "gemini quota exhausted").
				WithProvider(p.Name())
		}
		return nil, fmt.Errorf("gemini error: status=%d body=%s", resp.StatusCode, string(errBody))
	}

	s := &geminiStream{
		body:      resp.Body,
		fragments: make(chan string, 16),
		logger:    p.logger,
		cancelled: make(chan struct{}),
	}
	go s.readLoop(ctx)

	return s, nil
}

type geminiStream struct {
	body      io.ReadCloser
	fragments chan string
	logger    *zap.Logger

	closeOnce sync.Once
	cancelled chan struct{}

	errMu sync.Mutex
	err   error
}

func (s *geminiStream) Fragments() <-chan string { return s.fragments }

func (s *geminiStream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close stops reading the provider stream and releases the connection.
func (s *geminiStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.cancelled)
		s.body.Close()
	})
	return nil
}

func (s *geminiStream) readLoop(ctx context.Context) {
	defer close(s.fragments)
	defer s.body.Close()

	scanner := bufio.NewScanner(s.body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}

		var chunk geminiChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			s.logger.Warn("undecodable gemini payload", zap.Error(err))
			continue
		}
		for _, cand := range chunk.Candidates {
			for _, part := range cand.Content.Parts {
				if part.Text == "" {
					continue
				}
				select {
				case s.fragments <- part.Text:
				case <-ctx.Done():
					return
				case <-s.cancelled:
					return
				}
			}
		}
	}

	if err := scanner.Err(); err != nil {
		select {
		case <-s.cancelled:
			// Reader tear-down after Close is not a failure.
		default:
			if ctx.Err() == nil {
				s.setErr(types.NewError(types.ErrLLMPartialFailure, "gemini stream dropped").
					WithProvider("gemini").WithCause(err))
			}
		}
	}
}

func (s *geminiStream) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}
