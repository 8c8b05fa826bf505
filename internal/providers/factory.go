package providers

import (
	"fmt"
)

// FactoryConfig is the provider-agnostic slice of configuration the
// factory needs; richer per-provider knobs use the concrete
// constructors directly.
type FactoryConfig struct {
	APIKey  string
	BaseURL string
}

// New constructs a provider by name. Unknown names are an error; the
// caller reports them rather than guessing.
func New(name string, cfg FactoryConfig) (LLMProvider, error) {
	switch name {
	case "anthropic":
		return NewAnthropicProvider(AnthropicConfig{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL})
	case "openai":
		return NewOpenAIProvider(cfg.APIKey), nil
	case "google":
		return NewGoogleProvider(GoogleConfig{APIKey: cfg.APIKey})
	case "bedrock":
		return NewBedrockProvider(BedrockConfig{})
	case "azure":
		return NewAzureOpenAIProvider(AzureOpenAIConfig{Endpoint: cfg.BaseURL, APIKey: cfg.APIKey})
	case "ollama":
		return NewOllamaProvider(OllamaConfig{BaseURL: cfg.BaseURL}), nil
	case "openrouter":
		return NewOpenRouterProvider(OpenRouterConfig{APIKey: cfg.APIKey})
	case "copilot-proxy":
		return NewCopilotProxyProvider(CopilotProxyConfig{BaseURL: cfg.BaseURL})
	default:
		return nil, fmt.Errorf("unknown provider: %q", name)
	}
}
