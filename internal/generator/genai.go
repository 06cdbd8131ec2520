package generator

import (
	"context"
	"fmt"

	"github.com/maruel/genai"
	"github.com/maruel/genai/providers"

	"github.com/fyrsmithlabs/pagesmith/internal/config"
	"github.com/fyrsmithlabs/pagesmith/internal/logging"
)

// NewGenAICapability creates a backend on any provider known to genai. The
// provider reads its credentials from its usual environment variable.
func NewGenAICapability(ctx context.Context, cfg config.GeneratorConfig, logger *logging.Logger) (Capability, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	pcfg, ok := providers.All[cfg.Provider]
	if !ok || pcfg.Factory == nil {
		return nil, fmt.Errorf("unknown genai provider %q", cfg.Provider)
	}

	var opts []genai.ProviderOption
	if cfg.Model != "" {
		opts = append(opts, genai.ProviderOptionModel(cfg.Model))
	} else {
		opts = append(opts, genai.ModelCheap)
	}
	provider, err := pcfg.Factory(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create %s provider: %w", cfg.Provider, err)
	}

	maxTokens := int64(cfg.MaxTokens)
	return &llmCapability{
		name: "genai/" + cfg.Provider,
		complete: func(ctx context.Context, system, prompt string) (string, error) {
			res, err := provider.GenSync(ctx,
				genai.Messages{genai.NewTextMessage(prompt)},
				&genai.GenOptionText{
					SystemPrompt: system,
					MaxTokens:    maxTokens,
					Temperature:  cfg.Temperature,
				},
			)
			if err != nil {
				return "", err
			}
			return res.String(), nil
		},
		logger: logger.Named("generator"),
	}, nil
}
