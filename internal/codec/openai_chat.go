package codec

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/n0madic/go-modelgate/internal/stream"
	"github.com/n0madic/go-modelgate/internal/types"
	"github.com/n0madic/go-modelgate/internal/upstream"
)

// reservedKeys are the request keys with a place in the canonical request.
var reservedKeys = map[string]bool{"model": true, "messages": true, "stream": true}

// DecodeChatRequest converts an OpenAI chat completion body into a
// CanonicalRequest. Top-level keys other than model, messages and stream are
// kept verbatim in Extra.
func DecodeChatRequest(body []byte) (*types.CanonicalRequest, *DecodeError) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil || raw == nil {
		return nil, badRequest("Invalid JSON body")
	}
	var chatReq types.ChatCompletionRequest
	if err := json.Unmarshal(body, &chatReq); err != nil {
		return nil, badRequest("Invalid chat completion request: %v", err)
	}

	messages := make([]types.Message, 0, len(chatReq.Messages))
	for i, m := range chatReq.Messages {
		role, ok := canonicalRole(m.Role)
		if !ok {
			return nil, badRequest("messages[%d]: unsupported role %q", i, m.Role)
		}
		content, err := messageContent(m.Content)
		if err != nil {
			return nil, badRequest("messages[%d]: %v", i, err)
		}
		messages = append(messages, types.Message{Role: role, Content: content})
	}

	var extra map[string]any
	for key, value := range raw {
		if reservedKeys[key] {
			continue
		}
		var v any
		if err := json.Unmarshal(value, &v); err != nil {
			return nil, badRequest("Invalid value for %s", key)
		}
		if extra == nil {
			extra = make(map[string]any)
		}
		extra[key] = v
	}

	return &types.CanonicalRequest{
		Model:    chatReq.Model,
		Messages: messages,
		Stream:   chatReq.Stream,
		Extra:    extra,
	}, nil
}

func canonicalRole(role string) (types.Role, bool) {
	r := types.Role(strings.ToLower(strings.TrimSpace(role)))
	if r == "developer" {
		return types.RoleSystem, true
	}
	return r, r.Valid()
}

// messageContent flattens string or text-part content into one string.
// Text parts are joined with newlines; other part types are rejected.
func messageContent(content any) (string, error) {
	switch c := content.(type) {
	case nil:
		return "", nil
	case string:
		return c, nil
	case []any:
		texts := make([]string, 0, len(c))
		for _, item := range c {
			part, ok := item.(map[string]any)
			if !ok {
				return "", fmt.Errorf("content parts must be objects")
			}
			kind, _ := part["type"].(string)
			if kind != "text" {
				return "", fmt.Errorf("unsupported content part type %q", kind)
			}
			text, _ := part["text"].(string)
			texts = append(texts, text)
		}
		return strings.Join(texts, "\n"), nil
	default:
		return "", fmt.Errorf("content must be a string or an array of parts")
	}
}

// ChatEncoder encodes results in OpenAI Chat Completions format.
type ChatEncoder struct {
	ID      string
	Model   string
	Created int64
}

func (e *ChatEncoder) WriteStreamHeaders(w http.ResponseWriter, statusCode int) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(statusCode)
}

// WriteCompletion writes a single chat.completion object.
func (e *ChatEncoder) WriteCompletion(w http.ResponseWriter, statusCode int, text string) {
	WriteJSON(w, statusCode, types.ChatCompletionResponse{
		ID:      e.ID,
		Object:  "chat.completion",
		Created: e.Created,
		Model:   e.Model,
		Choices: []types.ChatChoice{{
			Index:        0,
			Message:      types.ChatResponseMsg{Role: "assistant", Content: text},
			FinishReason: types.StringPtr("stop"),
		}},
	})
}

// WriteStream writes frags as chat.completion.chunk events: a role chunk,
// one content chunk per fragment, a stop chunk and the [DONE] marker. A
// stream that fails part way ends with an "Error: ..." content chunk. The
// stream is closed before returning, also when the client goes away.
func (e *ChatEncoder) WriteStream(w http.ResponseWriter, frags *stream.Fragments) {
	defer frags.Close()
	sw := &sseWriter{w: w}
	sw.flusher, _ = w.(http.Flusher)

	sw.writeChunk(e.chunk(types.ChatDelta{Role: "assistant"}, nil))
	for !sw.failed && frags.Next() {
		sw.writeChunk(e.chunk(types.ChatDelta{Content: frags.Current()}, nil))
	}
	if err := frags.Err(); err != nil {
		slog.Warn("stream.failed", "model", e.Model, "error", err.Error())
		sw.writeChunk(e.chunk(types.ChatDelta{Content: upstream.ErrorText(err)}, nil))
	}
	sw.writeChunk(e.chunk(types.ChatDelta{}, types.StringPtr("stop")))
	sw.writeDone()
}

// WriteTextAsStream replays a complete text as a stream, used when a failure
// is reported through the text channel for a streaming request.
func (e *ChatEncoder) WriteTextAsStream(w http.ResponseWriter, text string) {
	e.WriteStream(w, stream.FromSlice([]string{text}))
}

func (e *ChatEncoder) chunk(delta types.ChatDelta, finish *string) types.ChatCompletionChunk {
	return types.ChatCompletionChunk{
		ID:      e.ID,
		Object:  "chat.completion.chunk",
		Created: e.Created,
		Model:   e.Model,
		Choices: []types.ChatChunkChoice{{Index: 0, Delta: delta, FinishReason: finish}},
	}
}

type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	failed  bool
}

func (s *sseWriter) writeChunk(chunk any) {
	if s.failed {
		return
	}
	data, err := json.Marshal(chunk)
	if err != nil {
		slog.Error("failed to marshal SSE chunk", "error", err)
		return
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		slog.Debug("client disconnected during SSE write", "error", err)
		s.failed = true
		return
	}
	s.flush()
}

func (s *sseWriter) writeDone() {
	if s.failed {
		return
	}
	if _, err := fmt.Fprint(s.w, "data: [DONE]\n\n"); err != nil {
		slog.Debug("client disconnected during SSE done", "error", err)
		s.failed = true
		return
	}
	s.flush()
}

func (s *sseWriter) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}
