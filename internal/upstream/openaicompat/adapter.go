// Package openaicompat adapts OpenAI-compatible chat completion endpoints,
// both the public OpenAI API and Azure OpenAI deployments, to the gateway's
// canonical request and result types.
package openaicompat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/azure"
	"github.com/openai/openai-go/v3/option"

	"github.com/n0madic/go-modelgate/internal/codec"
	"github.com/n0madic/go-modelgate/internal/stream"
	"github.com/n0madic/go-modelgate/internal/types"
	"github.com/n0madic/go-modelgate/internal/upstream"
)

// Config holds what is needed to build one client.
type Config struct {
	// BaseURL overrides the OpenAI endpoint. For Azure it is the resource
	// endpoint (https://<resource>.openai.azure.com).
	BaseURL string
	APIKey  string
	// APIVersion is the Azure api-version query parameter.
	APIVersion string
	HTTPClient *http.Client
	Verbose    bool
}

// Adapter serves the openai and azure namespaces. Both speak the same chat
// completion protocol; only client construction differs.
type Adapter struct {
	backend upstream.Backend
	client  openai.Client
	verbose bool
}

// NewOpenAI builds the adapter for the openai namespace.
func NewOpenAI(cfg Config) *Adapter {
	opts := baseOptions(cfg)
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	return &Adapter{backend: upstream.BackendOpenAI, client: openai.NewClient(opts...), verbose: cfg.Verbose}
}

// NewAzure builds the adapter for the azure namespace. The request model is
// used as the deployment name.
func NewAzure(cfg Config) *Adapter {
	opts := baseOptions(cfg)
	opts = append(opts, azure.WithEndpoint(cfg.BaseURL, cfg.APIVersion))
	if cfg.APIKey != "" {
		opts = append(opts, azure.WithAPIKey(cfg.APIKey))
	}
	return &Adapter{backend: upstream.BackendAzure, client: openai.NewClient(opts...), verbose: cfg.Verbose}
}

func baseOptions(cfg Config) []option.RequestOption {
	// Retries are the caller's business.
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	return opts
}

func (a *Adapter) Backend() upstream.Backend {
	return a.backend
}

// Invoke forwards the request as a chat completion. Streaming requests return
// only the non-empty delta contents of the leading choice, in arrival order.
func (a *Adapter) Invoke(ctx context.Context, req *types.CanonicalRequest) (*upstream.Result, error) {
	return upstream.Guard(a.backend, describeError, func() (*upstream.Result, error) {
		params := buildParams(req)
		if a.verbose {
			slog.Info("upstream.request",
				"backend", a.backend,
				"model", req.Model,
				"messages", len(req.Messages),
				"stream", req.Stream,
			)
		}
		if req.Stream {
			return a.stream(ctx, params)
		}
		return a.complete(ctx, params)
	})
}

func (a *Adapter) complete(ctx context.Context, params openai.ChatCompletionNewParams) (*upstream.Result, error) {
	completion, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(completion.Choices) == 0 {
		return nil, upstream.ErrNoChoices
	}
	return upstream.Text(completion.Choices[0].Message.Content), nil
}

func (a *Adapter) stream(ctx context.Context, params openai.ChatCompletionNewParams) (*upstream.Result, error) {
	s := a.client.Chat.Completions.NewStreaming(ctx, params)
	// The request is issued eagerly, so connection and HTTP status failures
	// are already known here.
	if err := s.Err(); err != nil {
		s.Close()
		return nil, err
	}
	next := func() (string, error) {
		for s.Next() {
			chunk := s.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			if content := chunk.Choices[0].Delta.Content; content != "" {
				return content, nil
			}
		}
		if err := s.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return upstream.Streamed(stream.New(upstream.GuardNext(a.backend, describeError, next), s.Close)), nil
}

func describeError(err error) string {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		msg := codec.FormatUpstreamError(apiErr.StatusCode, apiErr.Message, []byte(apiErr.RawJSON()))
		if apiErr.Response != nil {
			msg = codec.WithRequestID(msg, apiErr.Response.Header)
		}
		return msg
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("request aborted: %v", err)
	}
	return err.Error()
}
