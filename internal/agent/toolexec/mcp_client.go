package toolexec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pmo-platform/chatcore/internal/agent/model"
	errx "github.com/pmo-platform/chatcore/internal/core/error"
	logx "github.com/pmo-platform/chatcore/pkg/logger"
)

// Business tools exposed by the PMO MCP API.
const (
	ToolCreateCustomer  = "create_customer"
	ToolFindCustomer    = "find_customer"
	ToolCreateTask      = "create_task"
	ToolBookAppointment = "book_appointment"
)

// MCPClient invokes business tools over the PMO MCP HTTP API.
type MCPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewMCPClient(cfg model.MCPConfig) *MCPClient {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &MCPClient{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		client:  &http.Client{Timeout: timeout},
	}
}

type mcpEnvelope struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

func (c *MCPClient) Invoke(ctx context.Context, tool string, args map[string]any) (map[string]any, error) {
	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal tool args: %w", err)
	}

	url := fmt.Sprintf("%s/tools/%s", c.baseURL, tool)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build tool request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		logx.Error().Err(err).Str("tool", tool).Msg("mcp request failed")
		return nil, errx.ExternalCall(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errx.ExternalCall(fmt.Errorf("read mcp response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logx.Error().Int("status", resp.StatusCode).Str("tool", tool).Msg("mcp returned non-2xx")
		return nil, errx.ExternalCall(fmt.Errorf("mcp %s: status %d", tool, resp.StatusCode))
	}

	var env mcpEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, errx.ExternalCall(fmt.Errorf("decode mcp response: %w", err))
	}
	if !env.Success {
		return nil, errx.ExternalCall(fmt.Errorf("mcp %s: %s", tool, env.Error))
	}
	return env.Data, nil
}

var _ model.ToolInvoker = (*MCPClient)(nil)
