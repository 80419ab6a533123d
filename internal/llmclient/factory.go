// internal/llmclient/factory.go
package llmclient

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/deskpilot/internal/config"
)

// Provider names as they appear in errors and responses.
const (
	ProviderGemini     = string(config.ProviderGemini)
	ProviderOpenRouter = string(config.ProviderOpenRouter)
	ProviderOllama     = string(config.ProviderOllama)
)

// Factory builds a provider client for each request from the task settings
// and the current key state. Clients share one rate limiter and one
// attachment cache.
type Factory struct {
	cfg         config.LLMConfig
	limiter     *rate.Limiter
	attachments *AttachmentLoader
	logger      *zap.Logger
}

// NewFactory creates a factory for cfg.
func NewFactory(cfg config.LLMConfig, logger *zap.Logger) (*Factory, error) {
	attachments, err := NewAttachmentLoader(cfg.AttachmentCacheSize, logger)
	if err != nil {
		return nil, err
	}
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(cfg.RequestsPerMinute / 60)
	}
	return &Factory{
		cfg:         cfg,
		limiter:     rate.NewLimiter(limit, 1),
		attachments: attachments,
		logger:      logger.Named("llm_factory"),
	}, nil
}

// InitialState builds the Gemini key ring. A key supplied with the request
// goes first, followed by the configured keys.
func (f *Factory) InitialState(requestKey string) State {
	var keys []string
	seen := map[string]bool{}
	add := func(k string) {
		k = strings.TrimSpace(k)
		if k != "" && !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	add(requestKey)
	for _, k := range f.cfg.GeminiAPIKeys {
		add(k)
	}
	return State{Keys: keys}
}

// NewClient returns the client selected by settings. For Gemini the active
// key of state is used.
func (f *Factory) NewClient(ctx context.Context, settings config.Settings, state State) (Client, error) {
	var (
		client Client
		err    error
	)
	switch settings.Provider() {
	case config.ProviderOpenRouter:
		client, err = NewOpenRouterClient(OpenRouterConfig{
			APIKey:      settings.OpenRouterAPIKey,
			Model:       settings.Model(),
			Endpoint:    f.cfg.OpenRouterEndpoint,
			Temperature: f.cfg.Temperature,
			Timeout:     f.cfg.APITimeout,
		}, f.attachments, f.logger)
	case config.ProviderOllama:
		client, err = NewOllamaClient(OllamaConfig{
			URL:     settings.OllamaURL,
			Model:   settings.Model(),
			Timeout: f.cfg.APITimeout,
		}, f.attachments, f.logger)
	default:
		client, err = NewGeminiClient(ctx, GeminiConfig{
			APIKey:      state.Key(),
			Model:       settings.Model(),
			BaseURL:     f.cfg.GeminiEndpoint,
			Temperature: f.cfg.Temperature,
			Timeout:     f.cfg.APITimeout,
		}, f.attachments, f.logger)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", settings.Provider(), err)
	}
	return &limitedClient{client: client, limiter: f.limiter}, nil
}
