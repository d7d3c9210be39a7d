package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/n0madic/go-modelgate/internal/codec"
	"github.com/n0madic/go-modelgate/internal/models"
	"github.com/n0madic/go-modelgate/internal/types"
	"github.com/n0madic/go-modelgate/internal/upstream"
)

// handleChatCompletions dispatches one chat completion. Routing and provider
// failures are answered with HTTP 200 and "Error: ..." as the assistant
// content; only requests that cannot be decoded get an error status.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	req, derr := codec.DecodeChatRequest(body)
	if derr != nil {
		codec.WriteOpenAIError(w, derr.StatusCode, derr.Message)
		return
	}

	enc := &codec.ChatEncoder{
		ID:      "chatcmpl-" + uuid.NewString(),
		Model:   req.Model,
		Created: time.Now().Unix(),
	}
	start := time.Now()
	res := s.Router.Dispatch(r.Context(), req)

	if req.Stream {
		enc.WriteStreamHeaders(w, http.StatusOK)
		if res.IsStream() {
			enc.WriteStream(w, res.Fragments())
		} else {
			enc.WriteTextAsStream(w, res.Text())
		}
	} else {
		text, err := res.Collect()
		if err != nil {
			text = upstream.ErrorText(err)
		}
		enc.WriteCompletion(w, http.StatusOK, text)
	}

	if s.Config.Verbose {
		slog.Info("chat.completed",
			"request_id", requestIDFrom(r.Context()),
			"model", enc.Model,
			"stream", req.Stream,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	entries := s.Router.Models()
	data := make([]types.ModelObject, 0, len(entries))
	for _, e := range entries {
		data = append(data, s.modelObject(e))
	}
	codec.WriteJSON(w, http.StatusOK, types.ModelList{Object: "list", Data: data})
}

// handleGetModel answers for one catalog id, with or without the gateway
// prefix.
func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.PathValue("id"), s.Config.GatewayPrefix)
	e, ok := s.Router.Catalog().Lookup(id)
	if !ok {
		codec.WriteOpenAIError(w, http.StatusNotFound, fmt.Sprintf("The model '%s' does not exist", id))
		return
	}
	codec.WriteJSON(w, http.StatusOK, s.modelObject(e))
}

func (s *Server) modelObject(e models.Entry) types.ModelObject {
	return types.ModelObject{
		ID:      e.ID,
		Object:  "model",
		Created: s.started.Unix(),
		OwnedBy: e.Namespace(),
		Name:    e.Name(),
	}
}
