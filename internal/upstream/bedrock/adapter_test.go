package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/n0madic/go-modelgate/internal/types"
	"github.com/n0madic/go-modelgate/internal/upstream"
)

type fakeEvents struct {
	ch     chan brtypes.ConverseStreamOutput
	err    error
	closed bool
}

func newFakeEvents(err error, events ...brtypes.ConverseStreamOutput) *fakeEvents {
	ch := make(chan brtypes.ConverseStreamOutput, len(events))
	for _, e := range events {
		ch <- e
	}
	close(ch)
	return &fakeEvents{ch: ch, err: err}
}

func (f *fakeEvents) Events() <-chan brtypes.ConverseStreamOutput { return f.ch }
func (f *fakeEvents) Close() error                                { f.closed = true; return nil }
func (f *fakeEvents) Err() error                                  { return f.err }

type fakeRuntime struct {
	converseOut *bedrockruntime.ConverseOutput
	converseErr error
	events      *fakeEvents
	streamErr   error

	lastConverse *bedrockruntime.ConverseInput
	lastStream   *bedrockruntime.ConverseStreamInput
}

func (f *fakeRuntime) Converse(_ context.Context, in *bedrockruntime.ConverseInput) (*bedrockruntime.ConverseOutput, error) {
	f.lastConverse = in
	return f.converseOut, f.converseErr
}

func (f *fakeRuntime) ConverseStream(_ context.Context, in *bedrockruntime.ConverseStreamInput) (eventReader, error) {
	f.lastStream = in
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	return f.events, nil
}

func replyWith(blocks ...brtypes.ContentBlock) *bedrockruntime.ConverseOutput {
	return &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{
			Role:    brtypes.ConversationRoleAssistant,
			Content: blocks,
		}},
	}
}

func textDelta(s string) brtypes.ConverseStreamOutput {
	return &brtypes.ConverseStreamOutputMemberContentBlockDelta{Value: brtypes.ContentBlockDeltaEvent{
		Delta: &brtypes.ContentBlockDeltaMemberText{Value: s},
	}}
}

func userRequest(stream bool) *types.CanonicalRequest {
	return &types.CanonicalRequest{
		Model:    "us.meta.llama3-2-11b-instruct-v1:0",
		Messages: []types.Message{{Role: types.RoleUser, Content: "hi"}},
		Stream:   stream,
	}
}

func TestConverseReturnsFirstText(t *testing.T) {
	rt := &fakeRuntime{converseOut: replyWith(&brtypes.ContentBlockMemberText{Value: "hello from llama"})}
	a := newWithRuntime(rt, false)

	res, err := a.Invoke(context.Background(), userRequest(false))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Text() != "hello from llama" {
		t.Fatalf("text = %q", res.Text())
	}
	if got := *rt.lastConverse.ModelId; got != "us.meta.llama3-2-11b-instruct-v1:0" {
		t.Fatalf("model id = %q", got)
	}
}

func TestConverseWithoutTextIsAnError(t *testing.T) {
	tests := []struct {
		name string
		out  *bedrockruntime.ConverseOutput
	}{
		{"no content blocks", replyWith()},
		{"empty text", replyWith(&brtypes.ContentBlockMemberText{Value: ""})},
		{"nil output", &bedrockruntime.ConverseOutput{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newWithRuntime(&fakeRuntime{converseOut: tt.out}, false)
			res, err := a.Invoke(context.Background(), userRequest(false))
			if res != nil {
				t.Fatalf("expected no result, got %q", res.Text())
			}
			if !errors.Is(err, upstream.ErrNoResponseText) {
				t.Fatalf("err = %v, want ErrNoResponseText", err)
			}
			if got := upstream.ErrorText(err); got != "Error: no response text found in the response" {
				t.Fatalf("ErrorText = %q", got)
			}
		})
	}
}

func TestConverseStreamYieldsOnlyTextDeltas(t *testing.T) {
	events := newFakeEvents(nil,
		&brtypes.ConverseStreamOutputMemberMessageStart{Value: brtypes.MessageStartEvent{Role: brtypes.ConversationRoleAssistant}},
		textDelta("Hel"),
		textDelta(""),
		&brtypes.ConverseStreamOutputMemberContentBlockStop{Value: brtypes.ContentBlockStopEvent{}},
		textDelta("lo"),
		&brtypes.UnknownUnionMember{Tag: "futureEvent"},
		&brtypes.ConverseStreamOutputMemberMessageStop{Value: brtypes.MessageStopEvent{StopReason: brtypes.StopReasonEndTurn}},
	)
	rt := &fakeRuntime{events: events}
	a := newWithRuntime(rt, false)

	res, err := a.Invoke(context.Background(), userRequest(true))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	frags := res.Fragments()
	var got []string
	for frags.Next() {
		got = append(got, frags.Current())
	}
	if err := frags.Err(); err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if want := []string{"Hel", "lo"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("fragments = %v, want %v", got, want)
	}
	if !events.closed {
		t.Fatal("draining the stream must close the event stream")
	}
	if rt.lastStream == nil || *rt.lastStream.ModelId != "us.meta.llama3-2-11b-instruct-v1:0" {
		t.Fatal("ConverseStream not called with the stripped model id")
	}
}

func TestConverseStreamMidStreamFailure(t *testing.T) {
	events := newFakeEvents(errors.New("ModelStreamErrorException: boom"), textDelta("partial"))
	a := newWithRuntime(&fakeRuntime{events: events}, false)

	res, err := a.Invoke(context.Background(), userRequest(true))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	text, err := res.Collect()
	if text != "partial" {
		t.Fatalf("text = %q", text)
	}
	var be *upstream.BackendError
	if !errors.As(err, &be) || be.Backend != upstream.BackendBedrock {
		t.Fatalf("expected bedrock BackendError, got %v", err)
	}
}

func TestConverseStreamOpenFailure(t *testing.T) {
	a := newWithRuntime(&fakeRuntime{streamErr: errors.New("dial tcp: connection refused")}, false)
	res, err := a.Invoke(context.Background(), userRequest(true))
	if res != nil {
		t.Fatal("expected no result")
	}
	if got := upstream.ErrorText(err); got != "Error: dial tcp: connection refused" {
		t.Fatalf("ErrorText = %q", got)
	}
}

func TestInvokeContainsPanics(t *testing.T) {
	a := newWithRuntime(panickingRuntime{}, false)
	_, err := a.Invoke(context.Background(), userRequest(false))
	var be *upstream.BackendError
	if !errors.As(err, &be) {
		t.Fatalf("expected BackendError, got %v", err)
	}
	if !strings.Contains(be.Message, "panicked") {
		t.Fatalf("message = %q", be.Message)
	}
}

type panickingRuntime struct{}

func (panickingRuntime) Converse(context.Context, *bedrockruntime.ConverseInput) (*bedrockruntime.ConverseOutput, error) {
	panic("nil pointer in provider client")
}

func (panickingRuntime) ConverseStream(context.Context, *bedrockruntime.ConverseStreamInput) (eventReader, error) {
	panic("nil pointer in provider client")
}

func TestSDKClientInjectsBearerToken(t *testing.T) {
	var gotAuth, gotPath string
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"output": {"message": {"role": "assistant", "content": [{"text": "hi from bedrock"}]}},
			"stopReason": "end_turn",
			"usage": {"inputTokens": 1, "outputTokens": 3, "totalTokens": 4},
			"metrics": {"latencyMs": 12}
		}`))
	}))
	defer srv.Close()

	a := New(Config{
		Endpoint:        srv.URL,
		Region:          "us-east-1",
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		BearerToken:     "test-token",
	})
	res, err := a.Invoke(context.Background(), &types.CanonicalRequest{
		Model: "us.meta.llama3-2-11b-instruct-v1:0",
		Messages: []types.Message{
			{Role: types.RoleSystem, Content: "be brief"},
			{Role: types.RoleUser, Content: "hi"},
		},
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Text() != "hi from bedrock" {
		t.Fatalf("text = %q", res.Text())
	}
	if gotAuth != "Bearer test-token" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if gotPath != "/model/us.meta.llama3-2-11b-instruct-v1:0/converse" {
		t.Fatalf("path = %q", gotPath)
	}
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 1 {
		t.Fatalf("messages = %v", body["messages"])
	}
	system, _ := body["system"].([]any)
	if len(system) != 1 {
		t.Fatalf("system = %v", body["system"])
	}
}

func TestSDKClientErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Amzn-Errortype", "AccessDeniedException")
		w.Header().Set("X-Amzn-Requestid", "req-42")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"message":"You don't have access to the model"}`))
	}))
	defer srv.Close()

	a := New(Config{Endpoint: srv.URL, AccessKeyID: "test", SecretAccessKey: "test"})
	_, err := a.Invoke(context.Background(), userRequest(false))
	var be *upstream.BackendError
	if !errors.As(err, &be) {
		t.Fatalf("expected BackendError, got %v", err)
	}
	for _, want := range []string{"403", "You don't have access to the model"} {
		if !strings.Contains(be.Message, want) {
			t.Fatalf("message %q does not contain %q", be.Message, want)
		}
	}
}
