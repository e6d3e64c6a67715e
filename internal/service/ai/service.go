package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"userchat/internal/config"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"
)

const claudeMaxTokens = 3000

// ModelSettings selects the provider model and its default sampling.
// Model name and temperature may still be overridden per call.
type ModelSettings struct {
	Provider    string
	Model       string
	Temperature float32
	Timeout     time.Duration
}

// NewChatModel builds the provider's eino chat model from the configured
// credentials.
func NewChatModel(ctx context.Context, cfg *config.Config, settings ModelSettings) (model.ToolCallingChatModel, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	provider := strings.ToLower(strings.TrimSpace(settings.Provider))
	provCfg, ok := cfg.Provider(provider)
	if !ok {
		return nil, fmt.Errorf("provider %s not configured", provider)
	}
	if provCfg.APIKey == "" {
		return nil, fmt.Errorf("api key for provider %s not configured", provider)
	}
	modelName := settings.Model
	if modelName == "" {
		modelName = provCfg.Model
	}
	temperature := settings.Temperature

	var (
		chatModel model.ToolCallingChatModel
		err       error
	)
	switch provider {
	case "openai":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL:     provCfg.BaseURL,
			Model:       modelName,
			APIKey:      provCfg.APIKey,
			Temperature: &temperature,
			Timeout:     settings.Timeout,
		})
	case "gemini":
		client, cerr := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey: provCfg.APIKey,
		})
		if cerr != nil {
			return nil, fmt.Errorf("new gemini client: %w", cerr)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client:      client,
			Model:       modelName,
			Temperature: &temperature,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:      provCfg.APIKey,
			Model:       modelName,
			BaseURL:     baseURLPtr,
			MaxTokens:   claudeMaxTokens,
			Temperature: &temperature,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}
	return chatModel, nil
}
