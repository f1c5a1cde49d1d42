package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// OpenAIClient speaks the OpenAI chat completions protocol. OpenRouter and
// Ollama are the same protocol with a different base URL and headers.
type OpenAIClient struct {
	name    string
	baseURL string
	apiKey  string
	model   string
	headers map[string]string
	http    *transport
}

func NewOpenAIClient(name string, opts ClientOptions) *OpenAIClient {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = openAIBaseURL
	}
	model := opts.Model
	if model == "" {
		model = string(openai.ChatModelGPT4o)
	}
	return &OpenAIClient{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  opts.APIKey,
		model:   model,
		headers: opts.Headers,
		http:    newTransport(name, opts),
	}
}

// NewOpenRouterClient returns an OpenAI-style client pointed at OpenRouter.
// appURL and appName are sent as attribution headers when set.
func NewOpenRouterClient(opts ClientOptions, appURL, appName string) *OpenAIClient {
	if opts.BaseURL == "" {
		opts.BaseURL = openRouterBaseURL
	}
	if opts.Model == "" {
		opts.Model = "openai/gpt-4o"
	}
	headers := make(map[string]string, len(opts.Headers)+2)
	for k, v := range opts.Headers {
		headers[k] = v
	}
	if appURL != "" {
		headers["HTTP-Referer"] = appURL
	}
	if appName != "" {
		headers["X-Title"] = appName
	}
	opts.Headers = headers
	return NewOpenAIClient("openrouter", opts)
}

func (c *OpenAIClient) Name() string { return c.name }

// Wire response types. Content stays raw because compatible servers send
// either a string or a list of parts.

type oaiResponse struct {
	Choices []struct {
		Message      oaiMessage `json:"message"`
		FinishReason string     `json:"finish_reason"`
	} `json:"choices"`
	Usage *oaiUsage `json:"usage,omitempty"`
}

type oaiMessage struct {
	Content      json.RawMessage `json:"content"`
	ToolCalls    []oaiToolCall   `json:"tool_calls,omitempty"`
	FunctionCall *oaiFunction    `json:"function_call,omitempty"`
}

type oaiToolCall struct {
	ID       string      `json:"id"`
	Type     string      `json:"type"`
	Function oaiFunction `json:"function"`
}

type oaiFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type oaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (c *OpenAIClient) Chat(ctx context.Context, req Request) (*Response, error) {
	body, err := c.buildBody(req)
	if err != nil {
		return nil, err
	}
	data, err := c.http.do(ctx, c.baseURL+"/chat/completions", c.header(false), body)
	if err != nil {
		return nil, fmt.Errorf("%s chat: %w", c.name, err)
	}

	var resp oaiResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%s chat: parsing response: %w", c.name, err)
	}
	return resp.toResponse(), nil
}

func (c *OpenAIClient) Stream(ctx context.Context, req Request) (*Stream, error) {
	body, err := c.buildBody(req)
	if err != nil {
		return nil, err
	}
	body, err = sjson.SetBytes(body, "stream", true)
	if err != nil {
		return nil, fmt.Errorf("%s stream: marshaling request: %w", c.name, err)
	}
	body, err = sjson.SetBytes(body, "stream_options.include_usage", true)
	if err != nil {
		return nil, fmt.Errorf("%s stream: marshaling request: %w", c.name, err)
	}

	resp, release, err := c.http.open(ctx, c.baseURL+"/chat/completions", c.header(true), body)
	if err != nil {
		return nil, fmt.Errorf("%s stream: %w", c.name, err)
	}
	return newStream(c.name, resp.Body, release, &openAIDecoder{provider: c.name}), nil
}

func (c *OpenAIClient) header(stream bool) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	if stream {
		h.Set("Accept", "text/event-stream")
	}
	if c.apiKey != "" {
		h.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.headers {
		if v != "" {
			h.Set(k, v)
		}
	}
	return h
}

func (c *OpenAIClient) buildBody(req Request) ([]byte, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	// Convert tools
	var oaiTools []openai.ChatCompletionToolUnionParam
	for _, t := range req.Tools {
		oaiTools = append(oaiTools, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        t.Name,
			Description: openai.String(t.Description),
			Parameters:  openai.FunctionParameters(t.Parameters),
		}))
	}

	// Convert messages
	oaiMsgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			oaiMsgs = append(oaiMsgs, openai.SystemMessage(m.Content))
		case RoleUser:
			oaiMsgs = append(oaiMsgs, openai.UserMessage(m.Content))
		case RoleTool:
			oaiMsgs = append(oaiMsgs, openai.ToolMessage(m.Content, m.ToolCallID))
		case RoleAssistant:
			if len(m.ToolCalls) > 0 {
				toolCalls := make([]openai.ChatCompletionMessageToolCallUnionParam, len(m.ToolCalls))
				for j, tc := range m.ToolCalls {
					args := tc.Arguments
					if args == "" {
						args = "{}"
					}
					toolCalls[j] = openai.ChatCompletionMessageToolCallUnionParam{
						OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
							ID: tc.ID,
							Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
								Name:      tc.Name,
								Arguments: args,
							},
						},
					}
				}
				assistant := &openai.ChatCompletionAssistantMessageParam{ToolCalls: toolCalls}
				if m.Content != "" {
					assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
						OfString: param.NewOpt(m.Content),
					}
				}
				oaiMsgs = append(oaiMsgs, openai.ChatCompletionMessageParamUnion{OfAssistant: assistant})
			} else {
				oaiMsgs = append(oaiMsgs, openai.AssistantMessage(m.Content))
			}
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: oaiMsgs,
		Tools:    oaiTools,
	}
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("%s: marshaling request: %w", c.name, err)
	}
	return body, nil
}

func (r oaiResponse) toResponse() *Response {
	if len(r.Choices) == 0 {
		return &Response{FinishReason: "stop", Usage: r.Usage.toUsage()}
	}

	choice := r.Choices[0]
	content, _ := NormalizeRawContent(choice.Message.Content)
	result := &Response{
		Content: content,
		Usage:   r.Usage.toUsage(),
	}
	for _, tc := range choice.Message.ToolCalls {
		id := tc.ID
		if id == "" {
			id = syntheticCallID()
		}
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:        id,
			Name:      tc.Function.Name,
			Arguments: ParseRawArguments(tc.Function.Arguments),
		})
	}
	if len(result.ToolCalls) == 0 && choice.Message.FunctionCall != nil && choice.Message.FunctionCall.Name != "" {
		fc := choice.Message.FunctionCall
		result.ToolCalls = []ToolCall{{
			ID:        syntheticCallID(),
			Name:      fc.Name,
			Arguments: ParseRawArguments(fc.Arguments),
		}}
	}
	result.FinishReason = openAIFinishReason(choice.FinishReason, len(result.ToolCalls) > 0)
	return result
}

func (u *oaiUsage) toUsage() *Usage {
	if u == nil {
		return nil
	}
	return &Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

func openAIFinishReason(reason string, hasCalls bool) string {
	if reason == "function_call" {
		reason = "tool_calls"
	}
	return defaultFinishReason(reason, hasCalls)
}

// openAIDecoder assembles chat.completion.chunk events. Tool-call deltas are
// keyed by their index; the legacy function_call delta is kept aside and
// used only when no tool calls arrive.
type openAIDecoder struct {
	provider string
	calls    toolCallSet
	legacy   *toolCallBuilder
	reason   string
	usage    *Usage
}

func (d *openAIDecoder) decode(ev gjson.Result) (string, error) {
	if e := ev.Get("error"); e.IsObject() {
		status := int(e.Get("code").Int())
		kind := KindServer
		if status >= 400 {
			kind = KindForStatus(status)
		}
		return "", newProviderError(d.provider, kind, status, e.Get("message").String(), nil)
	}
	if u := ev.Get("usage"); u.IsObject() {
		d.usage = &Usage{
			PromptTokens:     int(u.Get("prompt_tokens").Int()),
			CompletionTokens: int(u.Get("completion_tokens").Int()),
			TotalTokens:      int(u.Get("total_tokens").Int()),
		}
	}

	choice := ev.Get("choices.0")
	if !choice.Exists() {
		return "", nil
	}
	if fr := choice.Get("finish_reason"); fr.Type == gjson.String && fr.Str != "" {
		d.reason = fr.Str
	}

	delta := choice.Get("delta")
	for i, tc := range delta.Get("tool_calls").Array() {
		index := int64(i)
		if ix := tc.Get("index"); ix.Exists() {
			index = ix.Int()
		}
		d.calls.get(index).merge(
			tc.Get("id").String(),
			tc.Get("function.name").String(),
			tc.Get("function.arguments").String(),
		)
	}
	if fc := delta.Get("function_call"); fc.IsObject() {
		if d.legacy == nil {
			d.legacy = &toolCallBuilder{}
		}
		d.legacy.merge("", fc.Get("name").String(), fc.Get("arguments").String())
	}

	text, _ := NormalizeContent(delta.Get("content").Value())
	return text, nil
}

func (d *openAIDecoder) finish() Response {
	calls := d.calls.build()
	if len(calls) == 0 && d.legacy != nil && d.legacy.name != "" {
		calls = []ToolCall{d.legacy.build()}
	}
	return Response{
		ToolCalls:    calls,
		FinishReason: openAIFinishReason(d.reason, len(calls) > 0),
		Usage:        d.usage,
	}
}
