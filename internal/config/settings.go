package config

import "strings"

// Settings is the per-task settings record sent by the UI with each request.
// JSON names match the UI's field names.
type Settings struct {
	ModelProvider              string `json:"modelProvider"`
	SelectedModel              string `json:"selectedModel"`
	OpenRouterModel            string `json:"openrouterModel"`
	OpenRouterCustomModel      string `json:"openrouterCustomModel"`
	OllamaModel                string `json:"ollamaModel"`
	OllamaURL                  string `json:"ollamaUrl"`
	OpenRouterAPIKey           string `json:"openrouterApiKey"`
	ProceedWithoutConfirmation bool   `json:"proceedWithoutConfirmation"`
	DisableSearchTool          bool   `json:"disableSearchTool"`
}

// WithDefaults fills every empty string field from def. Booleans are taken
// as sent, since the UI always sends them.
func (s Settings) WithDefaults(def Settings) Settings {
	fill := func(v *string, d string) {
		if strings.TrimSpace(*v) == "" {
			*v = d
		}
	}
	fill(&s.ModelProvider, def.ModelProvider)
	fill(&s.SelectedModel, def.SelectedModel)
	fill(&s.OpenRouterModel, def.OpenRouterModel)
	fill(&s.OpenRouterCustomModel, def.OpenRouterCustomModel)
	fill(&s.OllamaModel, def.OllamaModel)
	fill(&s.OllamaURL, def.OllamaURL)
	fill(&s.OpenRouterAPIKey, def.OpenRouterAPIKey)
	return s
}

// Provider returns the normalized provider choice. Unknown values select Gemini.
func (s Settings) Provider() LLMProvider {
	switch LLMProvider(strings.ToLower(strings.TrimSpace(s.ModelProvider))) {
	case ProviderOpenRouter:
		return ProviderOpenRouter
	case ProviderOllama:
		return ProviderOllama
	default:
		return ProviderGemini
	}
}

// Model returns the model name for the selected provider. A custom OpenRouter
// model overrides the picked one.
func (s Settings) Model() string {
	switch s.Provider() {
	case ProviderOpenRouter:
		if m := strings.TrimSpace(s.OpenRouterCustomModel); m != "" {
			return m
		}
		return s.OpenRouterModel
	case ProviderOllama:
		return s.OllamaModel
	default:
		return s.SelectedModel
	}
}
