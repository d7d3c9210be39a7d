package openaicompat

import (
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/shared"

	"github.com/n0madic/go-modelgate/internal/types"
)

func buildParams(req *types.CanonicalRequest) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: toMessages(req.Messages),
	}
	applyExtra(&params, req)
	return params
}

func toMessages(messages []types.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case types.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case types.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// typedKeys are set through typed fields by applyExtra.
var typedKeys = map[string]bool{
	"temperature":           true,
	"top_p":                 true,
	"presence_penalty":      true,
	"frequency_penalty":     true,
	"max_tokens":            true,
	"max_completion_tokens": true,
	"seed":                  true,
	"user":                  true,
	"stop":                  true,
}

// skippedKeys are owned by the router or meant for other backends.
var skippedKeys = map[string]bool{
	"model":             true,
	"messages":          true,
	"stream":            true,
	"generation_config": true,
	"safety_settings":   true,
}

// applyExtra copies the sampling options into typed fields and forwards every
// other key verbatim as an extra JSON field.
func applyExtra(params *openai.ChatCompletionNewParams, req *types.CanonicalRequest) {
	if rest := passthroughExtra(req.Extra); len(rest) > 0 {
		params.SetExtraFields(rest)
	}
	if v, ok := req.ExtraValue("temperature"); ok {
		if f, ok := types.FloatFromAny(v); ok {
			params.Temperature = openai.Float(f)
		}
	}
	if v, ok := req.ExtraValue("top_p"); ok {
		if f, ok := types.FloatFromAny(v); ok {
			params.TopP = openai.Float(f)
		}
	}
	if v, ok := req.ExtraValue("presence_penalty"); ok {
		if f, ok := types.FloatFromAny(v); ok {
			params.PresencePenalty = openai.Float(f)
		}
	}
	if v, ok := req.ExtraValue("frequency_penalty"); ok {
		if f, ok := types.FloatFromAny(v); ok {
			params.FrequencyPenalty = openai.Float(f)
		}
	}
	if v, ok := req.ExtraValue("max_tokens"); ok {
		if n, ok := types.IntFromAny(v); ok {
			params.MaxTokens = openai.Int(int64(n))
		}
	}
	if v, ok := req.ExtraValue("max_completion_tokens"); ok {
		if n, ok := types.IntFromAny(v); ok {
			params.MaxCompletionTokens = openai.Int(int64(n))
		}
	}
	if v, ok := req.ExtraValue("seed"); ok {
		if n, ok := types.IntFromAny(v); ok {
			params.Seed = openai.Int(int64(n))
		}
	}
	if v, ok := req.ExtraValue("user"); ok {
		if s, ok := v.(string); ok && s != "" {
			params.User = openai.String(s)
		}
	}
	if v, ok := req.ExtraValue("stop"); ok {
		if stops := types.StringsFromAny(v); len(stops) > 0 {
			params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: stops}
		}
	}
}

func passthroughExtra(extra map[string]any) map[string]any {
	var rest map[string]any
	for k, v := range extra {
		if typedKeys[k] || skippedKeys[k] {
			continue
		}
		if rest == nil {
			rest = make(map[string]any)
		}
		rest[k] = v
	}
	return rest
}
