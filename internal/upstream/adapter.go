package upstream

import (
	"context"

	"github.com/n0madic/go-modelgate/internal/stream"
	"github.com/n0madic/go-modelgate/internal/types"
)

// Backend names a provider family. It doubles as the namespace prefix of a
// logical model id ("bedrock/us.meta.llama3-2-1b-instruct-v1:0").
type Backend string

const (
	BackendOpenAI  Backend = "openai"
	BackendAzure   Backend = "azure"
	BackendBedrock Backend = "bedrock"
	BackendVertex  Backend = "vertex"
)

// Backends lists every supported backend in catalog order.
func Backends() []Backend {
	return []Backend{BackendOpenAI, BackendAzure, BackendBedrock, BackendVertex}
}

// ParseBackend maps a namespace prefix to a Backend. The match is exact.
func ParseBackend(namespace string) (Backend, bool) {
	b := Backend(namespace)
	switch b {
	case BackendOpenAI, BackendAzure, BackendBedrock, BackendVertex:
		return b, true
	}
	return "", false
}

// Adapter translates a canonical request into one provider's native call and
// the provider's answer back into a Result.
//
// Implementations own one long-lived provider client and must be safe for
// concurrent use. Invoke never panics and reports every provider failure as a
// *BackendError.
type Adapter interface {
	Backend() Backend
	Invoke(ctx context.Context, req *types.CanonicalRequest) (*Result, error)
}

// Result is either a complete text or a fragment stream, chosen by the
// request's Stream flag.
type Result struct {
	text      string
	fragments *stream.Fragments
}

// Text builds a single-shot result.
func Text(s string) *Result {
	return &Result{text: s}
}

// Streamed builds a streaming result.
func Streamed(f *stream.Fragments) *Result {
	return &Result{fragments: f}
}

// IsStream reports whether the result carries a fragment stream.
func (r *Result) IsStream() bool {
	return r != nil && r.fragments != nil
}

// Text returns the single-shot text. It is empty for streaming results.
func (r *Result) Text() string {
	if r == nil {
		return ""
	}
	return r.text
}

// Fragments returns the fragment stream, or nil for single-shot results.
func (r *Result) Fragments() *stream.Fragments {
	if r == nil {
		return nil
	}
	return r.fragments
}

// Collect flattens either variant into one string, draining a stream.
func (r *Result) Collect() (string, error) {
	if r.IsStream() {
		return r.fragments.Collect()
	}
	return r.Text(), nil
}
