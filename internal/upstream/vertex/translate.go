package vertex

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"google.golang.org/genai"

	"github.com/n0madic/go-modelgate/internal/types"
	"github.com/n0madic/go-modelgate/internal/upstream"
)

// toContents maps canonical messages onto Vertex contents. The provider only
// knows the user and model roles, so assistant turns become model turns and
// system messages are gathered into the system instruction.
func toContents(messages []types.Message) (*genai.Content, []*genai.Content) {
	var system *genai.Content
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		part := &genai.Part{Text: m.Content}
		switch m.Role {
		case types.RoleSystem:
			if system == nil {
				system = &genai.Content{}
			}
			system.Parts = append(system.Parts, part)
		case types.RoleAssistant:
			contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{part}})
		default:
			contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{part}})
		}
	}
	return system, contents
}

// buildConfig turns extra.generation_config and extra.safety_settings into a
// request config. Absent and empty values produce the same config.
func buildConfig(req *types.CanonicalRequest, system *genai.Content) (*genai.GenerateContentConfig, error) {
	cfg := &genai.GenerateContentConfig{}
	if v, ok := req.ExtraValue("generation_config"); ok {
		gen, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("invalid generation_config: unexpected %T", v)
		}
		if len(gen) > 0 {
			raw, err := json.Marshal(camelKeys(gen))
			if err != nil {
				return nil, fmt.Errorf("encode generation_config: %w", err)
			}
			if err := json.Unmarshal(raw, cfg); err != nil {
				return nil, fmt.Errorf("invalid generation_config: %w", err)
			}
		}
	}
	if v, ok := req.ExtraValue("safety_settings"); ok {
		settings, err := safetySettings(v)
		if err != nil {
			return nil, err
		}
		if len(settings) > 0 {
			cfg.SafetySettings = settings
		}
	}
	cfg.SystemInstruction = system
	return cfg, nil
}

// safetySettings accepts either a list of {category, threshold} objects or a
// map from category to threshold.
func safetySettings(v any) ([]*genai.SafetySetting, error) {
	switch s := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		categories := make([]string, 0, len(s))
		for k := range s {
			categories = append(categories, k)
		}
		sort.Strings(categories)
		out := make([]*genai.SafetySetting, 0, len(s))
		for _, c := range categories {
			threshold, ok := s[c].(string)
			if !ok {
				return nil, fmt.Errorf("invalid safety_settings: threshold for %s must be a string", c)
			}
			out = append(out, &genai.SafetySetting{
				Category:  genai.HarmCategory(c),
				Threshold: genai.HarmBlockThreshold(threshold),
			})
		}
		return out, nil
	case []any:
		raw, err := json.Marshal(camelKeys(s))
		if err != nil {
			return nil, fmt.Errorf("encode safety_settings: %w", err)
		}
		var out []*genai.SafetySetting
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("invalid safety_settings: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("invalid safety_settings: unexpected %T", v)
	}
}

// camelKeys rewrites snake_case object keys to the camelCase the provider's
// JSON uses, recursively. Keys already in camelCase are left alone.
func camelKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[snakeToCamel(k)] = camelKeys(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = camelKeys(val)
		}
		return out
	default:
		return v
	}
}

func snakeToCamel(s string) string {
	if !strings.Contains(s, "_") {
		return s
	}
	parts := strings.Split(s, "_")
	var b strings.Builder
	b.WriteString(parts[0])
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}

// firstText returns the text of the first part of the first candidate.
func firstText(resp *genai.GenerateContentResponse) (string, bool) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", false
	}
	c := resp.Candidates[0]
	if c == nil || c.Content == nil || len(c.Content.Parts) == 0 || c.Content.Parts[0] == nil {
		return "", false
	}
	return c.Content.Parts[0].Text, true
}

// responseText is firstText for a single-shot reply, where nothing to read
// is a failure.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", upstream.ErrNoCandidates
	}
	text, ok := firstText(resp)
	if !ok || text == "" {
		return "", upstream.ErrNoResponseText
	}
	return text, nil
}
