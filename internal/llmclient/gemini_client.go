// internal/llmclient/gemini_client.go
package llmclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// GeminiConfig configures a GeminiClient.
type GeminiConfig struct {
	APIKey string
	Model  string
	// BaseURL overrides the API host, used by tests.
	BaseURL     string
	Temperature float32
	Timeout     time.Duration
}

// GeminiClient is the primary vision provider, backed by the genai SDK.
type GeminiClient struct {
	client      *genai.Client
	model       string
	temperature float32
	attachments *AttachmentLoader
	logger      *zap.Logger
}

// NewGeminiClient initializes the client. No request is made here.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig, attachments *AttachmentLoader, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, &ProviderError{Kind: KindOther, Provider: ProviderGemini, Err: fmt.Errorf("gemini API key is required")}
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("gemini model is required")
	}

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL, APIVersion: "v1beta"}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GeminiClient{
		client:      client,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		attachments: attachments,
		logger:      logger.Named("llm_client.gemini"),
	}, nil
}

// Generate sends one multimodal prompt. Failures are returned as a
// *ProviderError; nothing is retried here.
func (c *GeminiClient) Generate(ctx context.Context, req Request) (*Response, error) {
	contents := []*genai.Content{genai.NewContentFromParts(c.buildParts(req), genai.RoleUser)}
	config := c.buildConfig(req)

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	duration := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		pe := classifyGenAI(err)
		c.logger.Warn("Gemini request failed.",
			zap.String("kind", string(pe.Kind)),
			zap.Int("status", pe.Status),
			zap.Error(err))
		return nil, pe
	}

	text := resp.Text()
	if text == "" {
		reason := ""
		if len(resp.Candidates) > 0 {
			reason = string(resp.Candidates[0].FinishReason)
		}
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			reason = string(resp.PromptFeedback.BlockReason)
		}
		return nil, &ProviderError{Kind: KindOther, Provider: ProviderGemini, Err: fmt.Errorf("%w (reason: %s)", ErrEmptyResponse, reason)}
	}

	out := &Response{Text: text, Provider: ProviderGemini, Model: c.model}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = &Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}

	fields := []zap.Field{zap.Duration("duration", duration), zap.String("model", c.model)}
	if out.Usage != nil {
		fields = append(fields,
			zap.Int("prompt_tokens", out.Usage.PromptTokens),
			zap.Int("completion_tokens", out.Usage.CompletionTokens),
			zap.Int("total_tokens", out.Usage.TotalTokens))
	}
	c.logger.Info("LLM generation complete (Gemini)", fields...)
	return out, nil
}

func (c *GeminiClient) buildParts(req Request) []*genai.Part {
	media := mediaParts(req, c.attachments)
	parts := make([]*genai.Part, 0, len(media)+1)
	for _, m := range media {
		parts = append(parts, genai.NewPartFromBytes(m.Data, m.MIMEType))
	}
	return append(parts, genai.NewPartFromText(req.Text))
}

func (c *GeminiClient) buildConfig(req Request) *genai.GenerateContentConfig {
	temp := c.temperature
	config := &genai.GenerateContentConfig{Temperature: &temp}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	// Search grounding and a JSON MIME type cannot be combined.
	if req.SearchTool {
		config.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	} else if req.JSON {
		config.ResponseMIMEType = "application/json"
	}
	return config
}
