package llm

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"google.golang.org/genai"

	"github.com/pmo-platform/chatcore/internal/agent/model"
	logx "github.com/pmo-platform/chatcore/pkg/logger"
)

// ChatModelConfig holds the configuration for chat model creation
type ChatModelConfig struct {
	APIKey     string
	BaseURL    string
	ExtractCfg *model.ExtractionModelConfig
	RespCfg    *model.ResponseModelConfig
}

// ChatModels holds the analysis model (extraction and semantic condition
// checks, low temperature) and the response model.
type ChatModels struct {
	Analysis          *gemini.ChatModel
	Response          *gemini.ChatModel
	AnalysisModelName string
	ResponseModelName string
}

// NewChatModels creates both chat models on one shared Gemini client.
func NewChatModels(ctx context.Context, config ChatModelConfig) (*ChatModels, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = config.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}

	analysisModel, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       config.ExtractCfg.Model,
		Temperature: &config.ExtractCfg.Temperature,
		MaxTokens:   &config.ExtractCfg.MaxTokens,
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating analysis model")
		return nil, fmt.Errorf("error creating analysis model: %w", err)
	}

	responseModel, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       config.RespCfg.Model,
		Temperature: &config.RespCfg.Temperature,
		MaxTokens:   &config.RespCfg.MaxTokens,
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating response model")
		return nil, fmt.Errorf("error creating response model: %w", err)
	}

	return &ChatModels{
		Analysis:          analysisModel,
		Response:          responseModel,
		AnalysisModelName: config.ExtractCfg.Model,
		ResponseModelName: config.RespCfg.Model,
	}, nil
}
