// Package router selects a backend adapter from the namespace prefix of a
// logical model id and hands the request over.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/n0madic/go-modelgate/internal/models"
	"github.com/n0madic/go-modelgate/internal/types"
	"github.com/n0madic/go-modelgate/internal/upstream"
)

// Options configures a Router.
type Options struct {
	// GatewayPrefix is stripped from the model id before parsing.
	GatewayPrefix string
	Catalog       *models.Catalog
	Metrics       *Metrics
	Verbose       bool
}

// Router owns the catalog and the adapter table. Both are fixed at
// construction and safe for concurrent use.
type Router struct {
	prefix   string
	catalog  *models.Catalog
	adapters map[upstream.Backend]upstream.Adapter
	metrics  *Metrics
	verbose  bool
}

// New builds a Router. A later adapter for the same backend replaces an
// earlier one.
func New(opts Options, adapters ...upstream.Adapter) *Router {
	catalog := opts.Catalog
	if catalog == nil {
		catalog = models.Default()
	}
	r := &Router{
		prefix:   opts.GatewayPrefix,
		catalog:  catalog,
		adapters: make(map[upstream.Backend]upstream.Adapter, len(adapters)),
		metrics:  opts.Metrics,
		verbose:  opts.Verbose,
	}
	for _, a := range adapters {
		if a != nil {
			r.adapters[a.Backend()] = a
		}
	}
	return r
}

// Catalog returns the model catalog.
func (r *Router) Catalog() *models.Catalog {
	return r.catalog
}

// Models returns the catalog entries.
func (r *Router) Models() []models.Entry {
	return r.catalog.Entries()
}

// Configured reports whether an adapter is installed for backend.
func (r *Router) Configured(backend upstream.Backend) bool {
	_, ok := r.adapters[backend]
	return ok
}

// Resolve strips the gateway prefix from model and splits the remainder into
// backend and provider model id. The returned string is the model after
// gateway-prefix stripping, used in error messages.
func (r *Router) Resolve(model string) (upstream.Backend, string, string, error) {
	stripped := strings.TrimPrefix(model, r.prefix)
	namespace, rest, ok := strings.Cut(stripped, "/")
	if !ok {
		return "", "", stripped, fmt.Errorf("%w for %s", ErrUnsupportedModel, stripped)
	}
	backend, ok := upstream.ParseBackend(namespace)
	if !ok {
		return "", "", stripped, fmt.Errorf("%w for %s", ErrUnsupportedModel, stripped)
	}
	return backend, rest, stripped, nil
}

// Route selects the adapter for req.Model, rewrites req.Model to the provider
// model id and invokes the adapter.
func (r *Router) Route(ctx context.Context, req *types.CanonicalRequest) (*upstream.Result, error) {
	started := time.Now()
	backend, model, stripped, err := r.Resolve(req.Model)
	if err != nil {
		r.metrics.observe("", outcomeUnsupported, started)
		slog.Warn("router.unsupported_model", "model", stripped)
		return nil, err
	}

	adapter, ok := r.adapters[backend]
	if !ok {
		r.metrics.observe(backend, outcomeError, started)
		return nil, &upstream.BackendError{
			Backend: backend,
			Message: fmt.Sprintf("%s %s", backend, ErrBackendNotConfigured),
			Err:     ErrBackendNotConfigured,
		}
	}

	req.Model = model
	if r.verbose {
		slog.Info("router.dispatch",
			"backend", backend,
			"model", model,
			"messages", len(req.Messages),
			"stream", req.Stream,
		)
	}

	res, err := adapter.Invoke(ctx, req)
	if err != nil {
		r.metrics.observe(backend, outcomeError, started)
		var be *upstream.BackendError
		if !errors.As(err, &be) {
			err = upstream.NewBackendError(backend, err, nil)
		}
		slog.Warn("router.backend_error", "backend", backend, "model", model, "error", err.Error())
		return nil, err
	}
	r.metrics.observe(backend, outcomeOK, started)
	return res, nil
}

// Dispatch is Route for callers that only understand text: every failure is
// folded into a Text result of the form "Error: <message>".
func (r *Router) Dispatch(ctx context.Context, req *types.CanonicalRequest) *upstream.Result {
	res, err := r.Route(ctx, req)
	if err != nil {
		return upstream.Text(upstream.ErrorText(err))
	}
	if res == nil {
		return upstream.Text("")
	}
	return res
}
