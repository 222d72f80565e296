// Package factory maps a configured provider name to an llm.Provider.
// It imports the provider sub-packages so the llm package itself stays free
// of concrete clients.
package factory

import (
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/crewplanner/llm"
	"github.com/BaSui01/crewplanner/llm/providers/anthropic"
	"github.com/BaSui01/crewplanner/llm/providers/openaicompat"
	"github.com/BaSui01/crewplanner/llm/retry"
	"github.com/BaSui01/crewplanner/types"
	"go.uber.org/zap"
)

// NewProvider creates a Provider for cfg.Provider. Completion calls are
// wrapped with backoff retries when cfg.MaxRetries > 0.
//
// Supported names: openai, anthropic, siliconflow, ollama, huggingface.
func NewProvider(cfg llm.Config, logger *zap.Logger) (llm.Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	name := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if !llm.IsKnownProvider(name) {
		return nil, types.NewError(types.ErrUnknownProvider,
			fmt.Sprintf("unknown provider %q (supported: %s)", cfg.Provider, strings.Join(llm.KnownProviders(), ", "))).
			WithPath("llm.provider")
	}
	if cfg.APIKey == "" && name != llm.ProviderOllama {
		return nil, types.NewError(types.ErrMissingEnv, "api key is required").
			WithPath(strings.ToUpper(name) + "_API_KEY")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = llm.DefaultBaseURL(name)
	}

	var p llm.Provider
	switch name {
	case llm.ProviderAnthropic:
		p = anthropic.New(anthropic.Config{
			APIKey:       cfg.APIKey,
			BaseURL:      baseURL,
			DefaultModel: cfg.Model,
			Timeout:      cfg.Timeout,
		}, logger)

	default:
		// openai / siliconflow / ollama / huggingface（router.huggingface.co 暴露 /v1/chat/completions）
		p = openaicompat.New(openaicompat.Config{
			ProviderName: name,
			APIKey:       cfg.APIKey,
			BaseURL:      baseURL,
			DefaultModel: cfg.Model,
			Timeout:      cfg.Timeout,
		}, logger)
	}

	if cfg.MaxRetries > 0 {
		p = retry.WrapProvider(p, retry.NewRetryer(&retry.RetryPolicy{
			MaxRetries:   cfg.MaxRetries,
			InitialDelay: time.Second,
			MaxDelay:     20 * time.Second,
			Multiplier:   2.0,
			Jitter:       true,
		}, logger))
	}

	logger.Info("llm provider created",
		zap.String("provider", name),
		zap.String("model", cfg.Model),
		zap.String("base_url", baseURL),
	)
	return p, nil
}
