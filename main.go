package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pmo-platform/chatcore/internal/agent/conversations"
	"github.com/pmo-platform/chatcore/internal/agent/extract"
	"github.com/pmo-platform/chatcore/internal/agent/goals"
	"github.com/pmo-platform/chatcore/internal/agent/llm"
	"github.com/pmo-platform/chatcore/internal/agent/model"
	"github.com/pmo-platform/chatcore/internal/agent/orchestrator"
	"github.com/pmo-platform/chatcore/internal/agent/repo"
	"github.com/pmo-platform/chatcore/internal/agent/respond"
	"github.com/pmo-platform/chatcore/internal/agent/session"
	"github.com/pmo-platform/chatcore/internal/agent/toolexec"
	"github.com/pmo-platform/chatcore/internal/agent/transition"
	"github.com/pmo-platform/chatcore/internal/core"
	logx "github.com/pmo-platform/chatcore/pkg/logger"
	pkgredis "github.com/pmo-platform/chatcore/pkg/redis"
)

// AppConfig defines all configurable parameters for the conversation
// core, sourced from environment variables (loaded from .env for local
// runs).
type AppConfig struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	// Infrastructure
	Redis pkgredis.Config

	// LLM provider
	APIKey  string `envconfig:"GEMINI_API_KEY" required:"true"`
	BaseURL string `envconfig:"GEMINI_BASE_URL"`

	// Agent configs
	Extraction   model.ExtractionModelConfig
	Response     model.ResponseModelConfig
	Prompt       model.ResponsePromptConfig
	Conversation model.ConversationConfig
	Goals        model.GoalsConfig
	MCP          model.MCPConfig
}

func main() {
	ctx := context.Background()

	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	var envCfg AppConfig
	if err := envconfig.Process("", &envCfg); err != nil {
		log.Fatalf("Failed to process environment config: %v", err)
	}

	logx.Init(logx.LoggerOpts{Environment: core.ParseEnvironment(envCfg.Environment)})

	rdb, err := envCfg.Redis.New()
	if err != nil {
		log.Fatalf("Failed to initialise Redis client: %v", err)
	}
	defer rdb.Close()

	ttl, err := time.ParseDuration(envCfg.Conversation.TTL)
	if err != nil {
		log.Fatalf("Invalid CONVERSATION_TTL '%s': %v", envCfg.Conversation.TTL, err)
	}

	registry, err := goals.Load(envCfg.Goals.Path)
	if err != nil {
		log.Fatalf("Failed to load goal registry: %v", err)
	}

	cms, err := llm.NewChatModels(ctx, llm.ChatModelConfig{
		APIKey:     envCfg.APIKey,
		BaseURL:    envCfg.BaseURL,
		ExtractCfg: &envCfg.Extraction,
		RespCfg:    &envCfg.Response,
	})
	if err != nil {
		log.Fatalf("Failed to create chat models: %v", err)
	}

	analysisReasoner := llm.NewReasoner(cms.Analysis, cms.AnalysisModelName)
	responseReasoner := llm.NewReasoner(cms.Response, cms.ResponseModelName)

	store := session.NewStore(repo.NewRedisSessionRepository(rdb, ttl))
	builder := conversations.NewContextBuilder(envCfg.Conversation.History.Window)

	orch := orchestrator.New(orchestrator.Deps{
		Store:     store,
		Registry:  registry,
		Extractor: extract.NewExtractor(analysisReasoner, registry.KnownFieldPaths(), envCfg.Extraction.MinConfidence),
		Evaluator: transition.NewEvaluator(registry, analysisReasoner),
		Responder: respond.NewResponder(responseReasoner, envCfg.Prompt, builder),
		Executor: toolexec.NewExecutor(
			toolexec.NewMCPClient(envCfg.MCP),
			envCfg.Conversation.Retry.MaxAttempts,
			time.Duration(envCfg.Conversation.Retry.BackoffMS)*time.Millisecond,
		),
		Builder: builder,
	}, envCfg.Conversation)

	// Scripted conversation for local verification.
	testMessages := []struct {
		description string
		message     string
	}{
		{
			description: "Initial greeting",
			message:     "Hi, my name is Dana Reyes",
		},
		{
			description: "Describe the problem",
			message:     "My roof has been leaking since last night",
		},
		{
			description: "Provide contact and preferred date",
			message:     "You can reach me at 416-555-0142, any time this Friday works",
		},
	}

	sessionID := session.NewSessionID()

	for i, test := range testMessages {
		fmt.Printf("\nTurn %d: %s\n", i+1, test.description)
		fmt.Printf("Customer: %q\n", test.message)

		result, err := orch.HandleMessage(ctx, sessionID, test.message)
		if err != nil {
			log.Fatalf("Failed to handle message %d: %v", i+1, err)
		}

		fmt.Printf("Agent [%s]: %s\n", result.CurrentGoal, result.AgentReply)
		if result.SessionClosed {
			fmt.Println("Session closed.")
			break
		}

		time.Sleep(500 * time.Millisecond)
	}
}
