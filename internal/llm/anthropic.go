package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	anthropicBaseURL   = "https://api.anthropic.com"
	anthropicVersion   = "2023-06-01"
	anthropicMaxTokens = 4096
)

type AnthropicClient struct {
	baseURL   string
	apiKey    string
	authToken string
	model     string
	maxTokens int
	headers   map[string]string
	http      *transport
}

func NewAnthropicClient(opts ClientOptions) *AnthropicClient {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = anthropicBaseURL
	}
	model := opts.Model
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicMaxTokens
	}
	return &AnthropicClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    opts.APIKey,
		authToken: opts.AuthToken,
		model:     model,
		maxTokens: maxTokens,
		headers:   opts.Headers,
		http:      newTransport("anthropic", opts),
	}
}

func (c *AnthropicClient) Name() string { return "anthropic" }

// Raw API response types

type anthBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type anthUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthResponse struct {
	Content    []anthBlock `json:"content"`
	StopReason string      `json:"stop_reason"`
	Usage      *anthUsage  `json:"usage,omitempty"`
}

func (c *AnthropicClient) Chat(ctx context.Context, req Request) (*Response, error) {
	body, err := c.buildBody(req)
	if err != nil {
		return nil, err
	}
	data, err := c.http.do(ctx, c.baseURL+"/v1/messages", c.header(false), body)
	if err != nil {
		return nil, fmt.Errorf("anthropic chat: %w", err)
	}

	var anthResp anthResponse
	if err := json.Unmarshal(data, &anthResp); err != nil {
		return nil, fmt.Errorf("anthropic chat: parsing response: %w", err)
	}

	result := &Response{}
	for _, block := range anthResp.Content {
		switch block.Type {
		case "text":
			result.Content += block.Text
		case "tool_use":
			id := block.ID
			if id == "" {
				id = syntheticCallID()
			}
			result.ToolCalls = append(result.ToolCalls, ToolCall{
				ID:        id,
				Name:      block.Name,
				Arguments: ParseRawArguments(block.Input),
			})
		}
	}
	result.FinishReason = anthropicStopReason(anthResp.StopReason, len(result.ToolCalls) > 0)
	if u := anthResp.Usage; u != nil {
		result.Usage = &Usage{
			PromptTokens:     u.InputTokens,
			CompletionTokens: u.OutputTokens,
			TotalTokens:      u.InputTokens + u.OutputTokens,
		}
	}
	return result, nil
}

func (c *AnthropicClient) Stream(ctx context.Context, req Request) (*Stream, error) {
	body, err := c.buildBody(req)
	if err != nil {
		return nil, err
	}
	body, err = sjson.SetBytes(body, "stream", true)
	if err != nil {
		return nil, fmt.Errorf("anthropic stream: marshaling request: %w", err)
	}

	resp, release, err := c.http.open(ctx, c.baseURL+"/v1/messages", c.header(true), body)
	if err != nil {
		return nil, fmt.Errorf("anthropic stream: %w", err)
	}
	return newStream("anthropic", resp.Body, release, &anthropicDecoder{}), nil
}

func (c *AnthropicClient) header(stream bool) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("anthropic-version", anthropicVersion)
	h.Set("User-Agent", "yana/1.0")
	if stream {
		h.Set("Accept", "text/event-stream")
	}

	if c.authToken != "" {
		h.Set("Authorization", "Bearer "+c.authToken)
		h.Set("anthropic-beta", "oauth-2025-04-20")
	} else if c.apiKey != "" {
		h.Set("X-Api-Key", c.apiKey)
	}
	for k, v := range c.headers {
		if v != "" {
			h.Set(k, v)
		}
	}
	return h
}

func (c *AnthropicClient) buildBody(req Request) ([]byte, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	var system []string
	var msgs []anthropic.MessageParam
	// Consecutive tool results are folded into a single user turn.
	lastToolResult := false
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			if m.Content != "" {
				system = append(system, m.Content)
			}
			continue
		case RoleUser:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case RoleTool:
			block := anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false)
			if lastToolResult {
				last := &msgs[len(msgs)-1]
				last.Content = append(last.Content, block)
			} else {
				msgs = append(msgs, anthropic.NewUserMessage(block))
			}
			lastToolResult = true
			continue
		case RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				input := json.RawMessage(tc.Arguments)
				if !json.Valid(input) {
					input = json.RawMessage("{}")
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    tc.ID,
						Name:  tc.Name,
						Input: input,
					},
				})
			}
			if len(blocks) == 0 {
				continue
			}
			msgs = append(msgs, anthropic.NewAssistantMessage(blocks...))
		}
		lastToolResult = false
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(c.maxTokens),
		Messages:  msgs,
		Tools:     anthropicTools(req.Tools),
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}

	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshaling request: %w", err)
	}
	return body, nil
}

func anthropicTools(tools []Tool) []anthropic.ToolUnionParam {
	if len(tools) == 0 {
		return nil
	}
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, t := range tools {
		props, _ := t.Parameters["properties"].(map[string]any)
		if props == nil {
			props = map[string]any{}
		}
		var required []string
		switch req := t.Parameters["required"].(type) {
		case []string:
			required = req
		case []any:
			for _, r := range req {
				if s, ok := r.(string); ok {
					required = append(required, s)
				}
			}
		}
		out[i] = anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: props,
					Required:   required,
				},
			},
		}
	}
	return out
}

func anthropicStopReason(reason string, hasCalls bool) string {
	switch reason {
	case "end_turn", "stop_sequence":
		reason = "stop"
	case "tool_use":
		reason = "tool_calls"
	case "max_tokens":
		reason = "length"
	}
	return defaultFinishReason(reason, hasCalls)
}

// anthropicErrorKind maps the type of an in-stream error event.
func anthropicErrorKind(typ string) ErrorKind {
	switch typ {
	case "authentication_error", "permission_error":
		return KindAuth
	case "rate_limit_error":
		return KindRateLimit
	case "invalid_request_error", "not_found_error", "request_too_large":
		return KindBadRequest
	default:
		return KindServer
	}
}

// anthropicDecoder assembles Messages API stream events. Tool-use blocks are
// keyed by their content block index.
type anthropicDecoder struct {
	calls  toolCallSet
	reason string
	input  int
	output int
	usage  bool
}

func (d *anthropicDecoder) decode(ev gjson.Result) (string, error) {
	switch ev.Get("type").String() {
	case "message_start":
		if u := ev.Get("message.usage"); u.IsObject() {
			d.usage = true
			d.input = int(u.Get("input_tokens").Int())
			d.output = int(u.Get("output_tokens").Int())
		}
	case "content_block_start":
		block := ev.Get("content_block")
		switch block.Get("type").String() {
		case "tool_use":
			b := d.calls.get(ev.Get("index").Int())
			b.merge(block.Get("id").String(), block.Get("name").String(), "")
			if in := block.Get("input"); in.IsObject() && len(in.Map()) > 0 {
				b.initial = in.Raw
			}
		case "text":
			return block.Get("text").String(), nil
		}
	case "content_block_delta":
		delta := ev.Get("delta")
		switch delta.Get("type").String() {
		case "text_delta":
			return delta.Get("text").String(), nil
		case "input_json_delta":
			d.calls.get(ev.Get("index").Int()).merge("", "", delta.Get("partial_json").String())
		}
	case "message_delta":
		if r := ev.Get("delta.stop_reason"); r.Type == gjson.String {
			d.reason = r.Str
		}
		if out := ev.Get("usage.output_tokens"); out.Exists() {
			d.usage = true
			d.output = int(out.Int())
		}
	case "error":
		e := ev.Get("error")
		return "", newProviderError("anthropic", anthropicErrorKind(e.Get("type").String()), 0, e.Get("message").String(), nil)
	}
	return "", nil
}

func (d *anthropicDecoder) finish() Response {
	calls := d.calls.build()
	resp := Response{
		ToolCalls:    calls,
		FinishReason: anthropicStopReason(d.reason, len(calls) > 0),
	}
	if d.usage {
		resp.Usage = &Usage{
			PromptTokens:     d.input,
			CompletionTokens: d.output,
			TotalTokens:      d.input + d.output,
		}
	}
	return resp
}
