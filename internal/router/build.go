package router

import (
	"context"
	"log/slog"

	"github.com/n0madic/go-modelgate/internal/config"
	"github.com/n0madic/go-modelgate/internal/models"
	"github.com/n0madic/go-modelgate/internal/upstream"
	"github.com/n0madic/go-modelgate/internal/upstream/bedrock"
	"github.com/n0madic/go-modelgate/internal/upstream/openaicompat"
	"github.com/n0madic/go-modelgate/internal/upstream/vertex"
)

// FromConfig builds one adapter per configured backend and a Router over
// them. A backend whose client cannot be built is logged and left
// unconfigured, so requests for it fail without affecting the others.
func FromConfig(ctx context.Context, cfg *config.ServerConfig, metrics *Metrics) (*Router, error) {
	catalog, err := models.NewCatalog(cfg.Models)
	if err != nil {
		return nil, err
	}
	return New(Options{
		GatewayPrefix: cfg.GatewayPrefix,
		Catalog:       catalog,
		Metrics:       metrics,
		Verbose:       cfg.Verbose,
	}, Adapters(ctx, cfg)...), nil
}

// Adapters constructs the provider clients for every enabled backend.
func Adapters(ctx context.Context, cfg *config.ServerConfig) []upstream.Adapter {
	b := cfg.Backends
	clientOpts := upstream.ClientOptions{Timeout: cfg.UpstreamTimeout, Verbose: cfg.Verbose, Debug: cfg.Debug}

	var adapters []upstream.Adapter
	if b.OpenAI.Enabled() {
		adapters = append(adapters, openaicompat.NewOpenAI(openaicompat.Config{
			BaseURL:    b.OpenAI.BaseURL,
			APIKey:     b.OpenAI.APIKey,
			HTTPClient: upstream.NewHTTPClient(upstream.BackendOpenAI, clientOpts),
			Verbose:    cfg.Verbose,
		}))
	}
	if b.Azure.Enabled() {
		adapters = append(adapters, openaicompat.NewAzure(openaicompat.Config{
			BaseURL:    b.Azure.Endpoint,
			APIKey:     b.Azure.APIKey,
			APIVersion: b.Azure.APIVersion,
			HTTPClient: upstream.NewHTTPClient(upstream.BackendAzure, clientOpts),
			Verbose:    cfg.Verbose,
		}))
	}
	if b.Bedrock.Enabled() {
		adapters = append(adapters, bedrock.New(bedrock.Config{
			Endpoint:        b.Bedrock.Endpoint,
			Region:          b.Bedrock.Region,
			AccessKeyID:     b.Bedrock.AccessKeyID,
			SecretAccessKey: b.Bedrock.SecretAccessKey,
			BearerToken:     b.Bedrock.BearerToken,
			HTTPClient:      upstream.NewHTTPClient(upstream.BackendBedrock, clientOpts),
			Verbose:         cfg.Verbose,
		}))
	}
	if b.Vertex.Enabled() {
		a, err := vertex.New(ctx, vertex.Config{
			Project:         b.Vertex.Project,
			Location:        b.Vertex.Location,
			Endpoint:        b.Vertex.Endpoint,
			APIVersion:      b.Vertex.APIVersion,
			AccessToken:     b.Vertex.AccessToken,
			CredentialsFile: b.Vertex.CredentialsFile,
			HTTPClient:      upstream.NewHTTPClient(upstream.BackendVertex, clientOpts),
			Verbose:         cfg.Verbose,
		})
		if err != nil {
			slog.Error("router.backend_init_failed", "backend", upstream.BackendVertex, "error", err)
		} else {
			adapters = append(adapters, a)
		}
	}

	for _, a := range adapters {
		slog.Info("router.backend_ready", "backend", a.Backend())
	}
	return adapters
}
