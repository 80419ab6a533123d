package llmclient

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultOllamaURL is the local server address.
const DefaultOllamaURL = "http://localhost:11434"

// OllamaConfig configures an OllamaClient.
type OllamaConfig struct {
	URL     string
	Model   string
	Timeout time.Duration
}

// OllamaClient talks to a local model server through the streamed generate
// endpoint.
type OllamaClient struct {
	cfg         OllamaConfig
	transport   *httpTransport
	attachments *AttachmentLoader
	logger      *zap.Logger
}

type ollamaRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	System string   `json:"system,omitempty"`
	Images []string `json:"images,omitempty"`
	Stream bool     `json:"stream"`
	Format string   `json:"format,omitempty"`
}

type ollamaChunk struct {
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	Error           string `json:"error"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// NewOllamaClient initializes the client.
func NewOllamaClient(cfg OllamaConfig, attachments *AttachmentLoader, logger *zap.Logger) (*OllamaClient, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("ollama model is required")
	}
	if cfg.URL == "" {
		cfg.URL = DefaultOllamaURL
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	log := logger.Named("llm_client.ollama")
	return &OllamaClient{
		cfg:         cfg,
		transport:   newHTTPTransport(ProviderOllama, cfg.Timeout, log),
		attachments: attachments,
		logger:      log,
	}, nil
}

// Generate posts to /api/generate and concatenates the streamed chunks.
func (c *OllamaClient) Generate(ctx context.Context, req Request) (*Response, error) {
	payload := ollamaRequest{
		Model:  c.cfg.Model,
		Prompt: req.Text,
		System: req.System,
		Stream: true,
	}
	for _, p := range mediaParts(req, c.attachments) {
		if !strings.HasPrefix(p.MIMEType, "image/") {
			c.logger.Debug("Skipping non-image attachment for local model.", zap.String("name", p.Name))
			continue
		}
		payload.Images = append(payload.Images, base64.StdEncoding.EncodeToString(p.Data))
	}
	if req.JSON {
		payload.Format = "json"
	}

	start := time.Now()
	resp, err := c.transport.post(ctx, c.cfg.URL+"/api/generate", nil, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var (
		text  strings.Builder
		usage Usage
	)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var chunk ollamaChunk
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			return nil, classify(ProviderOllama, 0, fmt.Errorf("failed to decode stream chunk: %w", err))
		}
		if chunk.Error != "" {
			return nil, classify(ProviderOllama, 0, fmt.Errorf("%s", chunk.Error))
		}
		text.WriteString(chunk.Response)
		if chunk.Done {
			usage = Usage{
				PromptTokens:     chunk.PromptEvalCount,
				CompletionTokens: chunk.EvalCount,
				TotalTokens:      chunk.PromptEvalCount + chunk.EvalCount,
			}
			break
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classify(ProviderOllama, 0, fmt.Errorf("stream interrupted: %w", err))
	}
	if strings.TrimSpace(text.String()) == "" {
		return nil, &ProviderError{Kind: KindOther, Provider: ProviderOllama, Err: ErrEmptyResponse}
	}

	c.logger.Info("LLM generation complete (Ollama)",
		zap.Duration("duration", time.Since(start)),
		zap.String("model", c.cfg.Model),
		zap.Int("total_tokens", usage.TotalTokens))
	return &Response{Text: text.String(), Usage: &usage, Provider: ProviderOllama, Model: c.cfg.Model}, nil
}
