package generator

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/fyrsmithlabs/pagesmith/internal/config"
	"github.com/fyrsmithlabs/pagesmith/internal/logging"
)

// NewLangChainCapability creates a backend for any OpenAI-compatible chat
// endpoint.
func NewLangChainCapability(cfg config.GeneratorConfig, logger *logging.Logger) (Capability, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if !cfg.APIKey.IsSet() {
		return nil, errors.New("langchain backend requires generator.api_key")
	}

	opts := []openai.Option{openai.WithToken(cfg.APIKey.Value())}
	if cfg.Model != "" {
		opts = append(opts, openai.WithModel(cfg.Model))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}

	var callOpts []llms.CallOption
	if cfg.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(cfg.MaxTokens))
	}
	if cfg.Temperature > 0 {
		callOpts = append(callOpts, llms.WithTemperature(cfg.Temperature))
	}

	return &llmCapability{
		name: "langchain",
		complete: func(ctx context.Context, system, prompt string) (string, error) {
			return llms.GenerateFromSinglePrompt(ctx, llm, system+"\n\n"+prompt, callOpts...)
		},
		logger: logger.Named("generator"),
	}, nil
}
