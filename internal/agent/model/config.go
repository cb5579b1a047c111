package model

// ================ Config ================
type ConversationConfig struct {
	TTL     string `envconfig:"CONVERSATION_TTL" default:"30m"`
	History struct {
		// Window bounds how many recent exchanges are fed to extraction,
		// semantic checks, and response generation. The full log stays in
		// the session; only agent inputs are windowed.
		Window int `envconfig:"CONVERSATION_HISTORY_WINDOW" default:"6"`
	}
	Loop struct {
		// MaxIterations caps auto-advance processing within one user turn.
		MaxIterations int `envconfig:"CONVERSATION_MAX_ITERATIONS" default:"10"`
	}
	Retry struct {
		// MaxAttempts bounds retries of a single failed external call.
		MaxAttempts int `envconfig:"CONVERSATION_RETRY_MAX_ATTEMPTS" default:"3"`
		// BackoffMS is the base delay between attempts, doubled each retry.
		BackoffMS int `envconfig:"CONVERSATION_RETRY_BACKOFF_MS" default:"200"`
	}
}

type ExtractionModelConfig struct {
	Model       string  `envconfig:"EXTRACTION_MODEL" default:"gemini-2.5-flash-lite"`
	MaxTokens   int     `envconfig:"EXTRACTION_MAX_TOKENS" default:"1500"`
	Temperature float32 `envconfig:"EXTRACTION_TEMPERATURE" default:"0.1"`
	// MinConfidence drops harvested fields the model is unsure about.
	MinConfidence float64 `envconfig:"EXTRACTION_MIN_CONFIDENCE" default:"0.5"`
}

type ResponseModelConfig struct {
	Model       string  `envconfig:"RESPONSE_MODEL" default:"gemini-2.5-flash"`
	MaxTokens   int     `envconfig:"RESPONSE_MAX_TOKENS" default:"2000"`
	Temperature float32 `envconfig:"RESPONSE_TEMPERATURE" default:"0.4"`
}

type ResponsePromptConfig struct {
	BusinessType string `envconfig:"PROMPT_BUSINESS_TYPE" default:"home services company"`
	BusinessName string `envconfig:"PROMPT_BUSINESS_NAME" default:"PMO"`
}

type GoalsConfig struct {
	// Path to a YAML goal configuration. Empty means the embedded
	// default 5-goal schema.
	Path string `envconfig:"GOALS_CONFIG_PATH"`
}

type MCPConfig struct {
	BaseURL   string `envconfig:"MCP_BASE_URL"`
	Token     string `envconfig:"MCP_TOKEN"`
	TimeoutMS int    `envconfig:"MCP_TIMEOUT_MS" default:"10000"`
}
