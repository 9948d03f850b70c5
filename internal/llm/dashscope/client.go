// Package dashscope talks to the DashScope native generation API used for the
// vision, long-context and pro model tiers.
package dashscope

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/llm"
)

const (
	multimodalPath = "/services/aigc/multimodal-generation/generation"
	textPath       = "/services/aigc/text-generation/generation"
)

// Config for the DashScope client.
type Config struct {
	APIKey  string
	BaseURL string        // default https://dashscope.aliyuncs.com/api/v1
	Timeout time.Duration // http client timeout
}

type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://dashscope.aliyuncs.com/api/v1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 180 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type contentPart struct {
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type generationResponse struct {
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Output    struct {
		Choices []struct {
			FinishReason string `json:"finish_reason"`
			Message      struct {
				Content json.RawMessage `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	} `json:"output"`
	Usage llm.Usage `json:"usage"`
}

// Complete implements llm.Completer. Vision requests use list content with
// inline images; text requests use plain string content and drop images.
func (c *Client) Complete(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	path := textPath
	if req.Vision {
		path = multimodalPath
	}

	messages := make([]wireMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		wm := wireMessage{Role: string(m.Role)}
		if req.Vision {
			parts := []contentPart{{Text: m.Text}}
			for _, img := range m.Images {
				parts = append(parts, contentPart{Image: img})
			}
			wm.Content = parts
		} else {
			wm.Content = m.Text
		}
		messages = append(messages, wm)
	}

	params := map[string]any{
		"result_format": "message",
		"temperature":   req.Temperature,
	}
	if req.JSONMode {
		params["response_format"] = map[string]any{"type": "json_object"}
	}
	body := map[string]any{
		"model":      req.Model,
		"input":      map[string]any{"messages": messages},
		"parameters": params,
	}
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + path
	raw, status, err := llm.SendJSON(ctx, c.http, endpoint, body, headers, c.logger)
	out := llm.ChatResponse{StatusCode: status}
	if err != nil {
		var gr generationResponse
		if json.Unmarshal(raw, &gr) == nil && gr.Code != "" {
			c.logger.Error("llm.dashscope.api_error",
				"model", req.Model, "status", status, "code", gr.Code, "message", gr.Message, "request_id", gr.RequestID)
			out.RequestID = gr.RequestID
		}
		return out, err
	}

	var gr generationResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return out, common.TransportError("dashscope", fmt.Errorf("decode response: %w", err))
	}
	out.RequestID = gr.RequestID
	out.Usage = gr.Usage
	if len(gr.Output.Choices) == 0 {
		return out, common.TransportErrorf("dashscope", "no choices in response %s", gr.RequestID)
	}
	content, err := flattenContent(gr.Output.Choices[0].Message.Content)
	if err != nil {
		return out, common.TransportError("dashscope", err)
	}
	out.Content = content

	c.logger.Info("llm.dashscope.ok",
		"model", req.Model,
		"vision", req.Vision,
		"request_id", gr.RequestID,
		"input_tokens", gr.Usage.InputTokens,
		"output_tokens", gr.Usage.OutputTokens,
	)
	return out, nil
}

// flattenContent accepts either a string or a list of {"text": ...} parts.
func flattenContent(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("decode content: %w", err)
		}
		return s, nil
	}
	var parts []contentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", fmt.Errorf("decode content parts: %w", err)
	}
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(p.Text)
	}
	return b.String(), nil
}
