package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/n0madic/go-modelgate/internal/config"
	"github.com/n0madic/go-modelgate/internal/router"
	"github.com/n0madic/go-modelgate/internal/stream"
	"github.com/n0madic/go-modelgate/internal/types"
	"github.com/n0madic/go-modelgate/internal/upstream"
)

type fakeAdapter struct {
	backend   upstream.Backend
	fragments []string
	streamErr error
	err       error
	got       *types.CanonicalRequest
}

func (f *fakeAdapter) Backend() upstream.Backend { return f.backend }

func (f *fakeAdapter) Invoke(_ context.Context, req *types.CanonicalRequest) (*upstream.Result, error) {
	f.got = req
	if f.err != nil {
		return nil, upstream.NewBackendError(f.backend, f.err, nil)
	}
	if !req.Stream {
		return upstream.Text(strings.Join(f.fragments, "")), nil
	}
	frags := append([]string(nil), f.fragments...)
	next := func() (string, error) {
		if len(frags) == 0 {
			if f.streamErr != nil {
				return "", upstream.NewBackendError(f.backend, f.streamErr, nil)
			}
			return "", io.EOF
		}
		s := frags[0]
		frags = frags[1:]
		return s, nil
	}
	return upstream.Streamed(stream.New(next, nil)), nil
}

func testConfig() *config.ServerConfig {
	return &config.ServerConfig{Host: "127.0.0.1", Port: 0, GatewayPrefix: config.DefaultGatewayPrefix}
}

func newTestServer(t *testing.T, cfg *config.ServerConfig, adapters ...upstream.Adapter) (*Server, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	rt := router.New(router.Options{
		GatewayPrefix: cfg.GatewayPrefix,
		Metrics:       router.NewMetrics(reg),
	}, adapters...)
	return New(cfg, rt, reg), reg
}

func doRequest(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestChatCompletionNonStreaming(t *testing.T) {
	fa := &fakeAdapter{backend: upstream.BackendOpenAI, fragments: []string{"Hello", " there"}}
	s, _ := newTestServer(t, testConfig(), fa)

	rec := doRequest(t, s.Handler(), http.MethodPost, "/v1/chat/completions",
		`{"model":"openai_proxy_pipe.openai/gpt-4o","messages":[{"role":"user","content":"hi"}],"temperature":0.2}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var resp types.ChatCompletionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Choices[0].Message.Content != "Hello there" {
		t.Fatalf("content = %q", resp.Choices[0].Message.Content)
	}
	if !strings.HasPrefix(resp.ID, "chatcmpl-") {
		t.Fatalf("id = %q", resp.ID)
	}
	if resp.Model != "openai_proxy_pipe.openai/gpt-4o" {
		t.Fatalf("model echoed as %q", resp.Model)
	}
	if fa.got.Model != "gpt-4o" || fa.got.Extra["temperature"] != 0.2 {
		t.Fatalf("adapter saw %+v", fa.got)
	}
}

func TestChatCompletionUnsupportedPrefixIsContent(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	rec := doRequest(t, s.Handler(), http.MethodPost, "/v1/chat/completions",
		`{"model":"unknown/foo","messages":[{"role":"user","content":"hi"}]}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp types.ChatCompletionResponse
	json.Unmarshal(rec.Body.Bytes(), &resp) //nolint:errcheck
	if got := resp.Choices[0].Message.Content; got != "Error: Unsupported model prefix for unknown/foo" {
		t.Fatalf("content = %q", got)
	}
}

func TestChatCompletionStreaming(t *testing.T) {
	fa := &fakeAdapter{backend: upstream.BackendBedrock, fragments: []string{"Hel", "lo"}}
	s, _ := newTestServer(t, testConfig(), fa)

	rec := doRequest(t, s.Handler(), http.MethodPost, "/v1/chat/completions",
		`{"model":"bedrock/us.meta.llama3-2-3b-instruct-v1:0","stream":true,"messages":[{"role":"user","content":"hi"}]}`, nil)
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}
	body := rec.Body.String()
	for _, want := range []string{`"content":"Hel"`, `"content":"lo"`, `"finish_reason":"stop"`, "data: [DONE]"} {
		if !strings.Contains(body, want) {
			t.Fatalf("body missing %s:\n%s", want, body)
		}
	}
}

func TestChatCompletionStreamingErrors(t *testing.T) {
	tests := []struct {
		name    string
		adapter *fakeAdapter
		model   string
		want    string
	}{
		{
			name:    "mid-stream failure",
			adapter: &fakeAdapter{backend: upstream.BackendVertex, fragments: []string{"part"}, streamErr: errors.New("deadline exceeded")},
			model:   "vertex/gemini-1.5-pro-002",
			want:    `"content":"Error: deadline exceeded"`,
		},
		{
			name:    "failure before the stream",
			adapter: &fakeAdapter{backend: upstream.BackendAzure, err: errors.New("401 Unauthorized")},
			model:   "azure/gpt-4o",
			want:    `"content":"Error: 401 Unauthorized"`,
		},
		{
			name:    "unsupported prefix",
			adapter: &fakeAdapter{backend: upstream.BackendOpenAI},
			model:   "mistral/large",
			want:    `"content":"Error: Unsupported model prefix for mistral/large"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t, testConfig(), tt.adapter)
			rec := doRequest(t, s.Handler(), http.MethodPost, "/v1/chat/completions",
				`{"model":"`+tt.model+`","stream":true,"messages":[{"role":"user","content":"hi"}]}`, nil)
			body := rec.Body.String()
			if rec.Code != http.StatusOK || !strings.Contains(body, tt.want) || !strings.HasSuffix(body, "data: [DONE]\n\n") {
				t.Fatalf("status %d body:\n%s", rec.Code, body)
			}
		})
	}
}

func TestChatCompletionBadRequest(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	rec := doRequest(t, s.Handler(), http.MethodPost, "/v1/chat/completions", `{"messages":[{"role":"tool","content":"x"}]}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp types.ErrorResponse
	json.Unmarshal(rec.Body.Bytes(), &resp) //nolint:errcheck
	if !strings.Contains(resp.Error.Message, "unsupported role") || resp.Error.Type != "invalid_request_error" {
		t.Fatalf("error = %+v", resp.Error)
	}
}

func TestListModels(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	rec := doRequest(t, s.Handler(), http.MethodGet, "/v1/models", "", nil)
	var list types.ModelList
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if list.Object != "list" || len(list.Data) != 10 {
		t.Fatalf("list = %+v", list)
	}
	first := list.Data[0]
	if first.ID != "openai/gpt-4o" || first.OwnedBy != "openai" || first.Object != "model" {
		t.Fatalf("first = %+v", first)
	}
	for _, m := range list.Data {
		if m.ID == "bedrock/us.anthropic.claude-3-haiku-20240307-v1:0" && m.Name != "bedrock/claude-3-haiku" {
			t.Fatalf("haiku name = %q", m.Name)
		}
	}
}

func TestGetModel(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	tests := []struct {
		path   string
		status int
		id     string
	}{
		{"/v1/models/openai/gpt-4o", http.StatusOK, "openai/gpt-4o"},
		{"/v1/models/openai_proxy_pipe.bedrock/us.anthropic.claude-3-haiku-20240307-v1:0", http.StatusOK, "bedrock/us.anthropic.claude-3-haiku-20240307-v1:0"},
		{"/v1/models/cohere/command", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := doRequest(t, s.Handler(), http.MethodGet, tt.path, "", nil)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
			}
			if tt.status != http.StatusOK {
				var resp types.ErrorResponse
				if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || !strings.Contains(resp.Error.Message, "cohere/command") {
					t.Fatalf("error body = %s", rec.Body.String())
				}
				return
			}
			var m types.ModelObject
			if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if m.ID != tt.id || m.OwnedBy != strings.SplitN(tt.id, "/", 2)[0] {
				t.Fatalf("model = %+v", m)
			}
		})
	}
}

func TestHealthListsConfiguredBackends(t *testing.T) {
	s, _ := newTestServer(t, testConfig(), &fakeAdapter{backend: upstream.BackendVertex}, &fakeAdapter{backend: upstream.BackendOpenAI})
	for _, path := range []string{"/", "/health"} {
		rec := doRequest(t, s.Handler(), http.MethodGet, path, "", nil)
		var resp healthResponse
		json.Unmarshal(rec.Body.Bytes(), &resp) //nolint:errcheck
		if resp.Status != "ok" || strings.Join(resp.Backends, ",") != "openai,vertex" {
			t.Fatalf("%s: %+v", path, resp)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, testConfig(), &fakeAdapter{backend: upstream.BackendOpenAI, fragments: []string{"x"}})
	doRequest(t, s.Handler(), http.MethodPost, "/v1/chat/completions", `{"model":"openai/gpt-4o","messages":[]}`, nil)

	rec := doRequest(t, s.Handler(), http.MethodGet, "/metrics", "", nil)
	if !strings.Contains(rec.Body.String(), `modelgate_dispatch_total{backend="openai",outcome="ok"} 1`) {
		t.Fatalf("metrics body:\n%s", rec.Body.String())
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	rec := doRequest(t, s.Handler(), http.MethodGet, "/health", "", map[string]string{"X-Request-ID": "abc-123"})
	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Fatalf("X-Request-ID = %q", got)
	}
	rec = doRequest(t, s.Handler(), http.MethodGet, "/health", "", nil)
	if got := rec.Header().Get("X-Request-ID"); len(got) != 36 {
		t.Fatalf("generated X-Request-ID = %q", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	rec := doRequest(t, s.Handler(), http.MethodOptions, "/v1/chat/completions", "", nil)
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("status = %d headers = %v", rec.Code, rec.Header())
	}
}
