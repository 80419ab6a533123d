package llmclient

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultOpenRouterEndpoint is the chat completions URL.
const DefaultOpenRouterEndpoint = "https://openrouter.ai/api/v1/chat/completions"

// OpenRouterConfig configures an OpenRouterClient.
type OpenRouterConfig struct {
	APIKey      string
	Model       string
	Endpoint    string
	Temperature float32
	Timeout     time.Duration
}

// OpenRouterClient is the router provider. Replies are requested in JSON mode.
type OpenRouterClient struct {
	cfg         OpenRouterConfig
	transport   *httpTransport
	attachments *AttachmentLoader
	logger      *zap.Logger
}

// -- Chat completions payloads --

type orContent struct {
	Type     string      `json:"type"`
	Text     string      `json:"text,omitempty"`
	ImageURL *orImageURL `json:"image_url,omitempty"`
	File     *orFile     `json:"file,omitempty"`
}

type orImageURL struct {
	URL string `json:"url"`
}

type orFile struct {
	Filename string `json:"filename"`
	FileData string `json:"file_data"`
}

type orMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type orResponseFormat struct {
	Type string `json:"type"`
}

type orRequest struct {
	Model          string            `json:"model"`
	Messages       []orMessage       `json:"messages"`
	Temperature    float32           `json:"temperature"`
	ResponseFormat *orResponseFormat `json:"response_format,omitempty"`
}

type orResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
	Error *struct {
		Message string      `json:"message"`
		Code    interface{} `json:"code"`
	} `json:"error"`
}

// NewOpenRouterClient initializes the client.
func NewOpenRouterClient(cfg OpenRouterConfig, attachments *AttachmentLoader, logger *zap.Logger) (*OpenRouterClient, error) {
	if cfg.APIKey == "" {
		return nil, &ProviderError{Kind: KindOther, Provider: ProviderOpenRouter, Err: fmt.Errorf("OpenRouter API key is required")}
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("openrouter model is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultOpenRouterEndpoint
	}
	log := logger.Named("llm_client.openrouter")
	return &OpenRouterClient{
		cfg:         cfg,
		transport:   newHTTPTransport(ProviderOpenRouter, cfg.Timeout, log),
		attachments: attachments,
		logger:      log,
	}, nil
}

// Generate sends one prompt through chat completions.
func (c *OpenRouterClient) Generate(ctx context.Context, req Request) (*Response, error) {
	payload := c.buildRequestPayload(req)
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}

	start := time.Now()
	resp, err := c.transport.post(ctx, c.cfg.Endpoint, headers, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(ProviderOpenRouter, resp.StatusCode, fmt.Errorf("failed to read response body: %w", err))
	}
	var parsed orResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, classify(ProviderOpenRouter, resp.StatusCode, fmt.Errorf("failed to decode response payload: %w", err))
	}
	if parsed.Error != nil {
		status := 0
		if code, ok := parsed.Error.Code.(float64); ok {
			status = int(code)
		}
		return nil, classify(ProviderOpenRouter, status, fmt.Errorf("%s", parsed.Error.Message))
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return nil, &ProviderError{Kind: KindOther, Provider: ProviderOpenRouter, Err: ErrEmptyResponse}
	}

	out := &Response{
		Text:     parsed.Choices[0].Message.Content,
		Usage:    parsed.Usage,
		Provider: ProviderOpenRouter,
		Model:    c.cfg.Model,
	}
	c.logger.Info("LLM generation complete (OpenRouter)",
		zap.Duration("duration", time.Since(start)),
		zap.String("model", c.cfg.Model))
	return out, nil
}

func (c *OpenRouterClient) buildRequestPayload(req Request) orRequest {
	var content []orContent
	for _, p := range mediaParts(req, c.attachments) {
		dataURL := "data:" + p.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(p.Data)
		if strings.HasPrefix(p.MIMEType, "image/") {
			content = append(content, orContent{Type: "image_url", ImageURL: &orImageURL{URL: dataURL}})
			continue
		}
		content = append(content, orContent{Type: "file", File: &orFile{Filename: p.Name, FileData: dataURL}})
	}
	content = append(content, orContent{Type: "text", Text: req.Text})

	var messages []orMessage
	if req.System != "" {
		messages = append(messages, orMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, orMessage{Role: "user", Content: content})

	payload := orRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: c.cfg.Temperature,
	}
	if req.JSON {
		payload.ResponseFormat = &orResponseFormat{Type: "json_object"}
	}
	return payload
}
