package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultGeminiModel = "gemini-2.5-pro"
	geminiAPIBase      = "https://generativelanguage.googleapis.com/v1beta"
)

// GeminiProvider implements Provider using the Gemini native contents API.
//
// Gemini requires strict user/model alternation and echoes signed fields
// (thoughtSignature) on assistant turns that contained functionCall parts.
// Those parts are round-tripped byte-for-byte via Message.OriginalParts;
// assistant tool calls without preserved parts are dropped rather than
// reconstructed, because signed fields cannot be forged.
type GeminiProvider struct {
	apiKey       string
	baseURL      string
	defaultModel string
	client       *http.Client
	limiter      *rate.Limiter
	retryConfig  RetryConfig
}

func NewGeminiProvider(apiKey string, opts ...GeminiOption) *GeminiProvider {
	p := &GeminiProvider{
		apiKey:       apiKey,
		baseURL:      geminiAPIBase,
		defaultModel: defaultGeminiModel,
		client:       &http.Client{Timeout: 300 * time.Second},
		limiter:      rate.NewLimiter(rate.Limit(5), 5),
		retryConfig:  DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

type GeminiOption func(*GeminiProvider)

func WithGeminiModel(model string) GeminiOption {
	return func(p *GeminiProvider) {
		if model != "" {
			p.defaultModel = model
		}
	}
}

func WithGeminiBaseURL(baseURL string) GeminiOption {
	return func(p *GeminiProvider) {
		if baseURL != "" {
			p.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

func (p *GeminiProvider) Name() string         { return "gemini" }
func (p *GeminiProvider) DefaultModel() string { return p.defaultModel }

func (p *GeminiProvider) SetRetryHooks(onRetry func(int, int, time.Duration, string), onExhausted func(int, string)) {
	p.retryConfig.OnRetry = onRetry
	p.retryConfig.OnExhausted = onExhausted
}

func (p *GeminiProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	body := p.buildRequestBody(req)

	return RetryDo(ctx, p.retryConfig, func() (*ChatResponse, error) {
		respBody, err := p.doRequest(ctx, model, ":generateContent", body)
		if err != nil {
			return nil, err
		}
		defer respBody.Close()

		var resp geminiResponse
		if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
			return nil, fmt.Errorf("gemini: decode response: %w", err)
		}
		return parseGeminiCandidates(&resp, nil), nil
	})
}

func (p *GeminiProvider) ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	body := p.buildRequestBody(req)

	// Retry only the connection phase; once streaming starts, no retry.
	respBody, err := RetryDo(ctx, p.retryConfig, func() (io.ReadCloser, error) {
		return p.doRequest(ctx, model, ":streamGenerateContent?alt=sse", body)
	})
	if err != nil {
		return nil, err
	}
	defer respBody.Close()

	result := &ChatResponse{FinishReason: "stop"}
	var rawParts []json.RawMessage
	var calls []ToolCall

	scanner := bufio.NewScanner(respBody)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		var chunk geminiResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Candidates) == 0 {
			if chunk.UsageMetadata != nil {
				result.Usage = chunk.UsageMetadata.toUsage()
			}
			continue
		}

		cand := chunk.Candidates[0]
		for _, raw := range cand.Content.Parts {
			var part geminiPart
			if err := json.Unmarshal(raw, &part); err != nil {
				continue
			}
			switch {
			case part.FunctionCall != nil:
				rawParts = append(rawParts, raw)
				args, _ := json.Marshal(part.FunctionCall.Args)
				calls = append(calls, ToolCall{
					ID:        fmt.Sprintf("gemini-%d-%s", len(calls), part.FunctionCall.Name),
					Name:      part.FunctionCall.Name,
					Arguments: string(args),
				})
			case part.Thought || part.ThoughtText != "" || part.Thinking != "":
				thinking := part.ThoughtText + part.Thinking
				if thinking == "" {
					thinking = part.Text
				}
				result.Thinking += thinking
				if onChunk != nil && thinking != "" {
					onChunk(StreamChunk{Thinking: thinking})
				}
			case part.Text != "":
				rawParts = append(rawParts, raw)
				result.Content += part.Text
				if onChunk != nil {
					onChunk(StreamChunk{Content: part.Text})
				}
			default:
				// Unknown part types (thoughtSignature carriers) are preserved
				// verbatim so the next request can echo them.
				rawParts = append(rawParts, raw)
			}
		}
		if cand.FinishReason != "" && cand.FinishReason != "STOP" {
			result.FinishReason = strings.ToLower(cand.FinishReason)
		}
		if chunk.UsageMetadata != nil {
			result.Usage = chunk.UsageMetadata.toUsage()
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("gemini: read stream: %w", err)
	}

	if result.FinishReason == "safety" || result.FinishReason == "prohibited_content" {
		return nil, fmt.Errorf("%w: gemini finish_reason=%s", ErrContentFilter, result.FinishReason)
	}

	result.ToolCalls = calls
	if len(calls) > 0 {
		result.FinishReason = "tool_calls"
		// Preserve the whole parts vector of the tool-calling turn.
		if joined, err := json.Marshal(rawParts); err == nil {
			result.RawParts = joined
		}
	}

	if onChunk != nil {
		onChunk(StreamChunk{Done: true})
	}
	return result, nil
}

func (p *GeminiProvider) buildRequestBody(req ChatRequest) map[string]interface{} {
	msgs := dropUnsignedToolTurns(req.Messages)

	// System messages merge into the first user message as a bracketed preamble.
	var systemParts []string
	var contents []map[string]interface{}
	systemInjected := false

	appendContent := func(role string, parts []interface{}) {
		// Merge consecutive messages of the same role: adjacent text-only parts
		// are concatenated with a blank line, otherwise parts are appended.
		if n := len(contents); n > 0 && contents[n-1]["role"] == role {
			prev := contents[n-1]["parts"].([]interface{})
			if pt, ok := textOnlyPart(prev); ok {
				if ct, ok2 := textOnlyPart(parts); ok2 {
					contents[n-1]["parts"] = []interface{}{map[string]interface{}{"text": pt + "\n\n" + ct}}
					return
				}
			}
			contents[n-1]["parts"] = append(prev, parts...)
			return
		}
		contents = append(contents, map[string]interface{}{"role": role, "parts": parts})
	}

	for _, msg := range msgs {
		switch msg.Role {
		case "system":
			systemParts = append(systemParts, msg.Text())

		case "user":
			parts := geminiUserParts(msg)
			if !systemInjected && len(systemParts) > 0 {
				preamble := fmt.Sprintf("[System instructions]\n%s\n[End system instructions]\n\n", strings.Join(systemParts, "\n\n"))
				parts = prependText(parts, preamble)
				systemInjected = true
			}
			appendContent("user", parts)

		case "assistant":
			if len(msg.OriginalParts) > 0 {
				// Signed parts: reuse verbatim.
				var raw []json.RawMessage
				if err := json.Unmarshal(msg.OriginalParts, &raw); err == nil {
					parts := make([]interface{}, len(raw))
					for i, r := range raw {
						parts[i] = r
					}
					appendContent("model", parts)
					continue
				}
			}
			if text := msg.Text(); text != "" {
				appendContent("model", []interface{}{map[string]interface{}{"text": text}})
			}

		case "tool":
			// Gemini requires strict alternation, so functionResponses ride in
			// user-role messages.
			appendContent("user", []interface{}{map[string]interface{}{
				"functionResponse": map[string]interface{}{
					"name":     msg.Name,
					"response": map[string]interface{}{"result": msg.Content},
				},
			}})
		}
	}

	// Pure-system conversations still need the preamble delivered.
	if !systemInjected && len(systemParts) > 0 {
		preamble := fmt.Sprintf("[System instructions]\n%s\n[End system instructions]", strings.Join(systemParts, "\n\n"))
		contents = append([]map[string]interface{}{{
			"role":  "user",
			"parts": []interface{}{map[string]interface{}{"text": preamble}},
		}}, contents...)
	}

	// First message must be user.
	if len(contents) == 0 || contents[0]["role"] != "user" {
		contents = append([]map[string]interface{}{{
			"role":  "user",
			"parts": []interface{}{map[string]interface{}{"text": "Continue."}},
		}}, contents...)
	}

	body := map[string]interface{}{"contents": contents}

	if len(req.Tools) > 0 {
		var decls []map[string]interface{}
		for _, t := range req.Tools {
			decls = append(decls, map[string]interface{}{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  CleanSchemaForProvider("gemini", t.Parameters),
			})
		}
		body["tools"] = []map[string]interface{}{{"functionDeclarations": decls}}
	}

	genConfig := map[string]interface{}{}
	if v, ok := req.Options["temperature"]; ok {
		genConfig["temperature"] = v
	}
	if v, ok := req.Options["max_tokens"]; ok {
		genConfig["maxOutputTokens"] = v
	}
	if len(genConfig) > 0 {
		body["generationConfig"] = genConfig
	}

	return ScrubNonFinite(body).(map[string]interface{})
}

// dropUnsignedToolTurns removes assistant tool-call turns that lack preserved
// original parts, together with their tool results. Signed fields cannot be
// reconstructed, and Gemini rejects unsigned functionCall echoes.
func dropUnsignedToolTurns(msgs []Message) []Message {
	dropIDs := make(map[string]bool)
	for _, m := range msgs {
		if m.Role != "assistant" || len(m.ToolCalls) == 0 || len(m.OriginalParts) > 0 {
			continue
		}
		for _, tc := range m.ToolCalls {
			dropIDs[tc.ID] = true
		}
	}
	if len(dropIDs) == 0 {
		return msgs
	}

	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == "assistant" && len(m.ToolCalls) > 0 && dropIDs[m.ToolCalls[0].ID] {
			if m.Content != "" {
				out = append(out, Message{Role: "assistant", Content: m.Content})
			}
			continue
		}
		if m.Role == "tool" && dropIDs[m.ToolCallID] {
			continue
		}
		out = append(out, m)
	}
	return out
}

func geminiUserParts(msg Message) []interface{} {
	if len(msg.Parts) == 0 {
		text := msg.Content
		if text == "" {
			text = "…"
		}
		return []interface{}{map[string]interface{}{"text": text}}
	}
	var parts []interface{}
	for _, part := range msg.Parts {
		switch part.Type {
		case "text":
			parts = append(parts, map[string]interface{}{"text": part.Text})
		case "image_url":
			if part.ImageURL == nil {
				continue
			}
			mediaType, b64, ok := ParseDataURL(part.ImageURL.URL)
			if !ok {
				continue
			}
			parts = append(parts, map[string]interface{}{
				"inlineData": map[string]interface{}{
					"mimeType": mediaType,
					"data":     b64,
				},
			})
		}
	}
	return parts
}

func prependText(parts []interface{}, prefix string) []interface{} {
	if len(parts) > 0 {
		if m, ok := parts[0].(map[string]interface{}); ok {
			if t, ok := m["text"].(string); ok {
				parts[0] = map[string]interface{}{"text": prefix + t}
				return parts
			}
		}
	}
	return append([]interface{}{map[string]interface{}{"text": prefix}}, parts...)
}

func textOnlyPart(parts []interface{}) (string, bool) {
	if len(parts) != 1 {
		return "", false
	}
	switch m := parts[0].(type) {
	case map[string]interface{}:
		if t, ok := m["text"].(string); ok && len(m) == 1 {
			return t, true
		}
	case json.RawMessage:
		var p struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(m, &p); err == nil && p.Text != "" {
			return "", false // raw parts stay raw, never merged by text
		}
	}
	return "", false
}

func (p *GeminiProvider) doRequest(ctx context.Context, model, method string, body interface{}) (io.ReadCloser, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("gemini: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s%s", p.baseURL, model, method)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gemini: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini: request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &HTTPError{
			Status:     resp.StatusCode,
			Body:       fmt.Sprintf("gemini: %s", string(respBody)),
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return resp.Body, nil
}

func parseGeminiCandidates(resp *geminiResponse, onChunk func(StreamChunk)) *ChatResponse {
	result := &ChatResponse{FinishReason: "stop"}
	var rawParts []json.RawMessage

	if len(resp.Candidates) > 0 {
		cand := resp.Candidates[0]
		for _, raw := range cand.Content.Parts {
			var part geminiPart
			if err := json.Unmarshal(raw, &part); err != nil {
				continue
			}
			switch {
			case part.FunctionCall != nil:
				rawParts = append(rawParts, raw)
				args, _ := json.Marshal(part.FunctionCall.Args)
				result.ToolCalls = append(result.ToolCalls, ToolCall{
					ID:        fmt.Sprintf("gemini-%d-%s", len(result.ToolCalls), part.FunctionCall.Name),
					Name:      part.FunctionCall.Name,
					Arguments: string(args),
				})
			case part.Thought || part.ThoughtText != "" || part.Thinking != "":
				result.Thinking += part.ThoughtText + part.Thinking
			case part.Text != "":
				rawParts = append(rawParts, raw)
				result.Content += part.Text
			default:
				rawParts = append(rawParts, raw)
			}
		}
		if cand.FinishReason != "" && cand.FinishReason != "STOP" {
			result.FinishReason = strings.ToLower(cand.FinishReason)
		}
	}
	if len(result.ToolCalls) > 0 {
		result.FinishReason = "tool_calls"
		if joined, err := json.Marshal(rawParts); err == nil {
			result.RawParts = joined
		}
	}
	if resp.UsageMetadata != nil {
		result.Usage = resp.UsageMetadata.toUsage()
	}
	return result
}

// --- Gemini API types (internal) ---

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []json.RawMessage `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason,omitempty"`
	} `json:"candidates"`
	UsageMetadata *geminiUsage `json:"usageMetadata,omitempty"`
}

type geminiPart struct {
	Text         string `json:"text,omitempty"`
	Thought      bool   `json:"thought,omitempty"`
	ThoughtText  string `json:"thoughtText,omitempty"`
	Thinking     string `json:"thinking,omitempty"`
	FunctionCall *struct {
		Name string                 `json:"name"`
		Args map[string]interface{} `json:"args"`
	} `json:"functionCall,omitempty"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

func (u *geminiUsage) toUsage() *Usage {
	return &Usage{
		PromptTokens:     u.PromptTokenCount,
		CompletionTokens: u.CandidatesTokenCount,
		TotalTokens:      u.TotalTokenCount,
	}
}
