// Package vertex adapts the Vertex AI generative API to the gateway's
// canonical request and result types.
package vertex

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"

	"cloud.google.com/go/auth/httptransport"
	"google.golang.org/genai"

	"github.com/n0madic/go-modelgate/internal/codec"
	"github.com/n0madic/go-modelgate/internal/stream"
	"github.com/n0madic/go-modelgate/internal/types"
	"github.com/n0madic/go-modelgate/internal/upstream"
)

const (
	defaultLocation   = "us-central1"
	defaultAPIVersion = "v1"
)

// Config holds what is needed to build the generative client.
type Config struct {
	Project  string
	Location string
	// Endpoint overrides the regional aiplatform endpoint.
	Endpoint   string
	APIVersion string
	// AccessToken is sent as a bearer token. Without it Application Default
	// Credentials are used, read from CredentialsFile when that is set.
	AccessToken     string
	CredentialsFile string
	HTTPClient      *http.Client
	Verbose         bool
}

// generator is the slice of genai.Models the adapter needs.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
}

// Adapter serves the vertex namespace.
type Adapter struct {
	models  generator
	verbose bool
}

// New builds the generative client once; it is shared by every request.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	if cfg.Project == "" {
		return nil, errors.New("vertex: project is required")
	}
	location := cfg.Location
	if location == "" {
		location = defaultLocation
	}
	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}

	creds, err := newCredentials(cfg)
	if err != nil {
		return nil, fmt.Errorf("vertex credentials: %w", err)
	}
	opts := &httptransport.Options{
		Credentials:      creds,
		DisableTelemetry: true,
	}
	if cfg.HTTPClient != nil {
		opts.BaseRoundTripper = cfg.HTTPClient.Transport
	}
	httpClient, err := httptransport.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("vertex http client: %w", err)
	}
	if cfg.HTTPClient != nil {
		httpClient.Timeout = cfg.HTTPClient.Timeout
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Backend:    genai.BackendVertexAI,
		Project:    cfg.Project,
		Location:   location,
		HTTPClient: httpClient,
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    cfg.Endpoint,
			APIVersion: apiVersion,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("vertex client: %w", err)
	}
	return newWithGenerator(client.Models, cfg.Verbose), nil
}

func newWithGenerator(g generator, verbose bool) *Adapter {
	return &Adapter{models: g, verbose: verbose}
}

func (a *Adapter) Backend() upstream.Backend {
	return upstream.BackendVertex
}

// Invoke runs generateContent. Streaming requests are served from a single
// blocking streamed call whose chunks are buffered and then replayed.
func (a *Adapter) Invoke(ctx context.Context, req *types.CanonicalRequest) (*upstream.Result, error) {
	return upstream.Guard(upstream.BackendVertex, describeError, func() (*upstream.Result, error) {
		system, contents := toContents(req.Messages)
		cfg, err := buildConfig(req, system)
		if err != nil {
			return nil, err
		}
		if a.verbose {
			slog.Info("upstream.request",
				"backend", upstream.BackendVertex,
				"model", req.Model,
				"contents", len(contents),
				"system_instruction", system != nil,
				"stream", req.Stream,
			)
		}
		if req.Stream {
			return a.stream(ctx, req.Model, contents, cfg)
		}
		resp, err := a.models.GenerateContent(ctx, req.Model, contents, cfg)
		if err != nil {
			return nil, err
		}
		text, err := responseText(resp)
		if err != nil {
			return nil, err
		}
		return upstream.Text(text), nil
	})
}

func (a *Adapter) stream(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*upstream.Result, error) {
	var fragments []string
	for chunk, err := range a.models.GenerateContentStream(ctx, model, contents, cfg) {
		if err != nil {
			return nil, err
		}
		if text, ok := firstText(chunk); ok && text != "" {
			fragments = append(fragments, text)
		}
	}
	if a.verbose {
		slog.Info("upstream.response", "backend", upstream.BackendVertex, "model", model, "fragments", len(fragments))
	}
	return upstream.Streamed(stream.FromSlice(fragments)), nil
}

func describeError(err error) string {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == 0 {
			return apiErr.Message
		}
		return codec.FormatUpstreamError(apiErr.Code, apiErr.Message, nil)
	}
	return err.Error()
}
