package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	appconfig "github.com/wolfman30/clinic-frontdesk/internal/config"
	"github.com/wolfman30/clinic-frontdesk/internal/conversation"
	"github.com/wolfman30/clinic-frontdesk/internal/dispatch"
	"github.com/wolfman30/clinic-frontdesk/internal/scheduling"
	"github.com/wolfman30/clinic-frontdesk/pkg/logging"
)

// AWSLoader resolves the AWS SDK config. It is only called when a configured
// provider needs AWS.
type AWSLoader func(ctx context.Context) (aws.Config, error)

var errNoAWS = errors.New("bootstrap: aws config loader not provided")

const (
	providerAuto         = "auto"
	providerGemini       = "gemini"
	providerGeminiOpenAI = "gemini-openai"
	providerOpenAI       = "openai"
	providerBedrock      = "bedrock"
	providerKeyword      = "keyword"
)

// BuildLLMClient selects the primary and fallback language model providers.
// A nil client with a nil error means no provider is configured.
func BuildLLMClient(ctx context.Context, cfg *appconfig.Config, loadAWS AWSLoader, logger *logging.Logger) (conversation.LLMClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	primary, err := buildProvider(ctx, cfg, cfg.LLMProvider, loadAWS)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: llm provider %q: %w", cfg.LLMProvider, err)
	}
	var fallback conversation.LLMClient
	if cfg.LLMFallbackProvider != "" && cfg.LLMFallbackProvider != cfg.LLMProvider {
		if fallback, err = buildProvider(ctx, cfg, cfg.LLMFallbackProvider, loadAWS); err != nil {
			logger.Warn("fallback llm provider unavailable", "provider", cfg.LLMFallbackProvider, "error", err)
			fallback = nil
		}
	}
	if primary == nil && fallback == nil {
		return nil, nil
	}
	logger.Info("language model configured", "provider", cfg.LLMProvider, "fallback", cfg.LLMFallbackProvider)
	return conversation.NewFallbackLLMClient(primary, fallback, logger), nil
}

func buildProvider(ctx context.Context, cfg *appconfig.Config, provider string, loadAWS AWSLoader) (conversation.LLMClient, error) {
	switch strings.TrimSpace(provider) {
	case "", providerAuto:
		switch {
		case cfg.GeminiAPIKey != "":
			return buildProvider(ctx, cfg, providerGemini, loadAWS)
		case cfg.OpenAIAPIKey != "":
			return buildProvider(ctx, cfg, providerOpenAI, loadAWS)
		case cfg.BedrockModelID != "":
			return buildProvider(ctx, cfg, providerBedrock, loadAWS)
		}
		return nil, nil
	case providerGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, errors.New("GEMINI_API_KEY is required")
		}
		return conversation.NewGeminiLLMClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	case providerGeminiOpenAI:
		return conversation.NewOpenAILLMClient(cfg.GeminiAPIKey, conversation.GeminiOpenAIBaseURL, cfg.GeminiModel)
	case providerOpenAI:
		return conversation.NewOpenAILLMClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)
	case providerBedrock:
		if cfg.BedrockModelID == "" {
			return nil, errors.New("BEDROCK_MODEL_ID is required")
		}
		if loadAWS == nil {
			return nil, errNoAWS
		}
		awsCfg, err := loadAWS(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return conversation.NewBedrockLLMClient(bedrockruntime.NewFromConfig(awsCfg), cfg.BedrockModelID), nil
	case providerKeyword, "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown provider")
	}
}

// BuildClassifier wraps the configured model in the intent classifier, or
// returns the keyword classifier when no model is available.
func BuildClassifier(ctx context.Context, cfg *appconfig.Config, rules scheduling.Rules, loadAWS AWSLoader, logger *logging.Logger) (dispatch.Classifier, error) {
	if logger == nil {
		logger = logging.Default()
	}
	client, err := BuildLLMClient(ctx, cfg, loadAWS, logger)
	if err != nil {
		return nil, err
	}
	if client == nil {
		logger.Warn("no language model configured; using keyword classifier")
		return conversation.KeywordClassifier{}, nil
	}
	return conversation.NewLLMClassifier(client, conversation.PromptConfig{
		ClinicName: cfg.ClinicName,
		Hours:      rules.Hours(),
		Location:   rules.Location,
	}, conversation.WithHistoryWindow(cfg.HistoryWindow)), nil
}
