package upstream

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"os"
	"strings"
	"sync"
	"time"
)

// DefaultTimeout bounds how long a provider may take to start answering.
const DefaultTimeout = 5 * time.Minute

// ClientOptions controls the HTTP client handed to each provider SDK.
type ClientOptions struct {
	// Timeout limits the wait for response headers. Reading the body is not
	// limited, so long streams are never cut off; cancellation of an
	// in-flight stream travels through the request context.
	Timeout time.Duration
	Verbose bool
	Debug   bool
}

// NewHTTPClient builds the shared client for one backend. With Verbose set it
// logs every outbound call; with Debug set it dumps requests and responses to
// stderr.
func NewHTTPClient(backend Backend, opts ClientOptions) *http.Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.ResponseHeaderTimeout = timeout

	var rt http.RoundTripper = base
	if opts.Verbose || opts.Debug {
		rt = &loggingTransport{backend: backend, base: rt, verbose: opts.Verbose, debug: opts.Debug}
	}
	return &http.Client{Transport: rt}
}

type loggingTransport struct {
	backend Backend
	base    http.RoundTripper
	verbose bool
	debug   bool
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	if t.debug {
		if dump, err := httputil.DumpRequestOut(req, true); err != nil {
			slog.Error("upstream.request.dump.failed", "backend", t.backend, "error", err)
		} else {
			writeDebugDumpBlock(fmt.Sprintf("UPSTREAM REQUEST %s", t.backend), dump)
		}
	}
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		if t.verbose {
			slog.Warn("upstream.request.failed", "backend", t.backend, "url", req.URL.Redacted(), "error", err)
		}
		return nil, err
	}
	if t.verbose {
		attrs := []any{
			"backend", t.backend,
			"method", req.Method,
			"url", req.URL.Redacted(),
			"status", resp.StatusCode,
			"elapsed", time.Since(start).String(),
		}
		if id := RequestID(resp.Header); id != "" {
			attrs = append(attrs, "request_id", id)
		}
		slog.Info("upstream.response", attrs...)
	}
	if t.debug {
		if head, err := httputil.DumpResponse(resp, false); err == nil {
			writeDebugDumpBlock(fmt.Sprintf("UPSTREAM RESPONSE %s", t.backend), head)
		}
		if resp.Body != nil {
			title := fmt.Sprintf("UPSTREAM RESPONSE BODY %s status=%d", t.backend, resp.StatusCode)
			writeDebugDumpBoundary(title, true)
			resp.Body = &debugDumpReadCloser{src: resp.Body, title: title}
		}
	}
	return resp, nil
}

var debugDumpMu sync.Mutex

func writeDebugDumpBlock(title string, data []byte) {
	writeDebugDumpBoundary(title, true)
	if len(data) > 0 {
		writeDebugDumpChunk(data)
		if data[len(data)-1] != '\n' {
			writeDebugDumpChunk([]byte("\n"))
		}
	}
	writeDebugDumpBoundary(title, false)
}

func writeDebugDumpBoundary(title string, begin bool) {
	kind := "END"
	if begin {
		kind = "BEGIN"
	}
	writeDebugDumpChunk([]byte("===== " + strings.TrimSpace(title) + " " + kind + " =====\n"))
}

func writeDebugDumpChunk(data []byte) {
	if len(data) == 0 {
		return
	}
	debugDumpMu.Lock()
	defer debugDumpMu.Unlock()
	if _, err := os.Stderr.Write(data); err != nil {
		slog.Error("upstream.dump.write.failed", "error", err)
	}
}

// debugDumpReadCloser tees the response body to stderr as the SDK consumes
// it, so streamed bodies are dumped chunk by chunk.
type debugDumpReadCloser struct {
	src      io.ReadCloser
	title    string
	closed   bool
	lastByte byte
	hasData  bool
}

func (d *debugDumpReadCloser) Read(p []byte) (int, error) {
	n, err := d.src.Read(p)
	if n > 0 {
		d.hasData = true
		d.lastByte = p[n-1]
		writeDebugDumpChunk(p[:n])
	}
	if err == io.EOF {
		d.finish()
	}
	return n, err
}

func (d *debugDumpReadCloser) Close() error {
	err := d.src.Close()
	d.finish()
	return err
}

func (d *debugDumpReadCloser) finish() {
	if d.closed {
		return
	}
	d.closed = true
	if d.hasData && d.lastByte != '\n' {
		writeDebugDumpChunk([]byte("\n"))
	}
	writeDebugDumpBoundary(d.title, false)
}

// RequestID returns the provider request id from response headers.
func RequestID(headers http.Header) string {
	if headers == nil {
		return ""
	}
	for _, key := range []string{
		"x-request-id",
		"x-amzn-requestid",
		"apim-request-id",
		"x-goog-request-id",
		"openai-request-id",
		"request-id",
	} {
		if v := strings.TrimSpace(headers.Get(key)); v != "" {
			return v
		}
	}
	return ""
}
