package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/formai-apps/kyuyoagent/internal/config"
	"github.com/formai-apps/kyuyoagent/internal/llm"
	"github.com/formai-apps/kyuyoagent/internal/logger"
)

// Manager builds LLM clients from the configured provider settings.
type Manager struct {
	cfg config.LLMConfig
	log *logger.Logger
}

// NewManager creates a provider manager for the given LLM configuration.
func NewManager(cfg config.LLMConfig) *Manager {
	return &Manager{
		cfg: cfg,
		log: logger.Global().WithPrefix("provider"),
	}
}

// CreateClient creates an LLM client for the configured provider.
func (m *Manager) CreateClient() (llm.Client, error) {
	apiKey := m.cfg.APIKey()

	switch canonicalProviderName(m.cfg.Provider) {
	case "azure", "":
		deployment := m.cfg.Azure.Deployment
		if deployment == "" {
			deployment = m.cfg.Model
		}
		return llm.NewAzureOpenAIClient(apiKey, m.cfg.Azure.Endpoint, deployment, m.cfg.Azure.APIVersion)
	case "anthropic":
		return llm.NewAnthropicClient(apiKey, m.cfg.Model)
	case "google":
		return llm.NewGoogleAIClient(apiKey, m.cfg.Model)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", m.cfg.Provider)
	}
}

// TestConnection verifies the configured provider answers a trivial request.
func (m *Manager) TestConnection(ctx context.Context) error {
	client, err := m.CreateClient()
	if err != nil {
		return err
	}

	m.log.Debug("testing connection to %s model %s", m.cfg.Provider, client.GetModelName())
	_, err = client.Complete(ctx, "Hello")
	return err
}

// canonicalProviderName normalizes provider aliases so configs written for
// different spellings select the same client.
func canonicalProviderName(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "google", "googleai", "gemini":
		return "google"
	case "azure", "azure-openai", "azureopenai":
		return "azure"
	default:
		return strings.ToLower(strings.TrimSpace(name))
	}
}
