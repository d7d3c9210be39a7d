// Package bedrock adapts the Bedrock Converse API to the gateway's canonical
// request and result types.
package bedrock

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"golang.org/x/oauth2"

	"github.com/n0madic/go-modelgate/internal/codec"
	"github.com/n0madic/go-modelgate/internal/stream"
	"github.com/n0madic/go-modelgate/internal/types"
	"github.com/n0madic/go-modelgate/internal/upstream"
)

const defaultRegion = "us-east-1"

// Config holds what is needed to build the runtime client.
type Config struct {
	// Endpoint overrides the regional bedrock-runtime endpoint.
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// BearerToken, when set, replaces the Authorization header of every
	// outbound call after SigV4 signing.
	BearerToken string
	HTTPClient  *http.Client
	Verbose     bool
}

// eventReader is the part of the SDK event stream the adapter consumes.
type eventReader interface {
	Events() <-chan brtypes.ConverseStreamOutput
	Close() error
	Err() error
}

// runtimeAPI is the slice of the Bedrock runtime client the adapter needs.
type runtimeAPI interface {
	Converse(ctx context.Context, in *bedrockruntime.ConverseInput) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, in *bedrockruntime.ConverseStreamInput) (eventReader, error)
}

type sdkRuntime struct {
	client *bedrockruntime.Client
}

func (s sdkRuntime) Converse(ctx context.Context, in *bedrockruntime.ConverseInput) (*bedrockruntime.ConverseOutput, error) {
	return s.client.Converse(ctx, in)
}

func (s sdkRuntime) ConverseStream(ctx context.Context, in *bedrockruntime.ConverseStreamInput) (eventReader, error) {
	out, err := s.client.ConverseStream(ctx, in)
	if err != nil {
		return nil, err
	}
	return out.GetStream(), nil
}

// Adapter serves the bedrock namespace.
type Adapter struct {
	runtime runtimeAPI
	verbose bool
}

// New builds the runtime client once; it is shared by every request.
func New(cfg Config) *Adapter {
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}
	awsCfg := aws.Config{
		Region:  region,
		Retryer: func() aws.Retryer { return aws.NopRetryer{} },
	}
	if cfg.AccessKeyID != "" || cfg.SecretAccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	} else {
		// Bearer-only deployments still need something to sign with.
		awsCfg.Credentials = aws.AnonymousCredentials{}
	}
	if cfg.HTTPClient != nil {
		awsCfg.HTTPClient = cfg.HTTPClient
	}

	client := bedrockruntime.NewFromConfig(awsCfg, func(o *bedrockruntime.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.BearerToken != "" {
			ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.BearerToken, TokenType: "Bearer"})
			o.APIOptions = append(o.APIOptions, WithBearerToken(ts))
		}
	})
	return newWithRuntime(sdkRuntime{client: client}, cfg.Verbose)
}

func newWithRuntime(rt runtimeAPI, verbose bool) *Adapter {
	return &Adapter{runtime: rt, verbose: verbose}
}

func (a *Adapter) Backend() upstream.Backend {
	return upstream.BackendBedrock
}

// Invoke runs Converse, or ConverseStream when the request streams.
func (a *Adapter) Invoke(ctx context.Context, req *types.CanonicalRequest) (*upstream.Result, error) {
	return upstream.Guard(upstream.BackendBedrock, describeError, func() (*upstream.Result, error) {
		system, messages := toConversation(req.Messages)
		if a.verbose {
			slog.Info("upstream.request",
				"backend", upstream.BackendBedrock,
				"model", req.Model,
				"messages", len(messages),
				"system_blocks", len(system),
				"stream", req.Stream,
			)
		}
		if req.Stream {
			return a.stream(ctx, req.Model, system, messages)
		}
		return a.converse(ctx, req.Model, system, messages)
	})
}

func (a *Adapter) converse(ctx context.Context, model string, system []brtypes.SystemContentBlock, messages []brtypes.Message) (*upstream.Result, error) {
	out, err := a.runtime.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId:  aws.String(model),
		Messages: messages,
		System:   system,
	})
	if err != nil {
		return nil, err
	}
	text, err := outputText(out)
	if err != nil {
		return nil, err
	}
	return upstream.Text(text), nil
}

func (a *Adapter) stream(ctx context.Context, model string, system []brtypes.SystemContentBlock, messages []brtypes.Message) (*upstream.Result, error) {
	events, err := a.runtime.ConverseStream(ctx, &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(model),
		Messages: messages,
		System:   system,
	})
	if err != nil {
		return nil, err
	}
	ch := events.Events()
	next := func() (string, error) {
		for event := range ch {
			if text := deltaText(event); text != "" {
				return text, nil
			}
		}
		if err := events.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return upstream.Streamed(stream.New(upstream.GuardNext(upstream.BackendBedrock, describeError, next), events.Close)), nil
}

// deltaText returns the text of a content block delta. Every other event
// kind, including ones this SDK version does not know, yields "".
func deltaText(event brtypes.ConverseStreamOutput) string {
	v, ok := event.(*brtypes.ConverseStreamOutputMemberContentBlockDelta)
	if !ok || v.Value.Delta == nil {
		return ""
	}
	text, ok := v.Value.Delta.(*brtypes.ContentBlockDeltaMemberText)
	if !ok {
		return ""
	}
	return text.Value
}

func describeError(err error) string {
	if errors.Is(err, upstream.ErrNoResponseText) {
		return err.Error()
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.ErrorMessage()
		if msg == "" {
			msg = apiErr.ErrorCode()
		}
		var respErr *awshttp.ResponseError
		if errors.As(err, &respErr) {
			out := codec.FormatUpstreamError(respErr.HTTPStatusCode(), msg, nil)
			if id := respErr.ServiceRequestID(); id != "" {
				out = fmt.Sprintf("%s (request_id: %s)", out, id)
			}
			return out
		}
		return fmt.Sprintf("%s: %s", apiErr.ErrorCode(), msg)
	}
	return err.Error()
}
