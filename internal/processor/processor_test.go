package processor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rzbill/llmq/pkg/log"
)

func TestDecodeRequest(t *testing.T) {
	req, err := DecodeRequest([]byte(`{"prompt":"be kind","past_messages":[{"user":"hi","assistant":"hello"}],"new_message":"I am thrilled","session":{"previous_emotion":"sad"}}`))
	require.NoError(t, err)
	require.Equal(t, "I am thrilled", req.NewMessage)
	require.Len(t, req.PastMessages, 1)
	require.Equal(t, "sad", req.Session.PreviousEmotion)

	for _, bad := range []string{`not json`, `{}`, `{"new_message":"   "}`, `[]`} {
		_, err := DecodeRequest([]byte(bad))
		require.ErrorIs(t, err, ErrInvalidRequest, bad)
	}
}

func TestBuildPrompt(t *testing.T) {
	got := BuildPrompt(Request{
		Prompt:       "be kind",
		PastMessages: []Exchange{{User: "hi", Assistant: "hello"}},
		NewMessage:   "I am thrilled",
	}, Happy)
	want := "### Prompt: be kind\n### Past Messages:\nUser: hi\nAssistant: hello\n### New Message: I am thrilled\n### Detected Emotion: happy\n### Response:"
	require.Equal(t, want, got)
}

func TestLexicon(t *testing.T) {
	tests := []struct {
		msg      string
		previous string
		want     string
	}{
		{"I am thrilled", "", Happy},
		{"I feel a bit down about this.", "", Sad},
		{"This glitch is driving me nuts!", "", Angry},
		{"Wow, what a day", "", Surprise},
		{"just chatting", "", Neutral},
		{"just chatting", Sad, Sad},
	}
	for _, tt := range tests {
		req := Request{NewMessage: tt.msg}
		if tt.previous != "" {
			req.Session = &Session{PreviousEmotion: tt.previous}
		}
		res, err := Lexicon{}.Process(context.Background(), req)
		require.NoError(t, err)
		require.Equal(t, tt.want, res.DetectedEmotion, tt.msg)
		require.Contains(t, res.Response, tt.want)
	}
}

func TestHTTPForwarder(t *testing.T) {
	var got forwardRequest
	var gotCID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req forwardRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		got = req
		gotCID = r.Header.Get(CorrelationIDHeader)
		switch {
		case strings.Contains(req.NewMessage, "boom"):
			http.Error(w, "model crashed", http.StatusInternalServerError)
		case strings.Contains(req.NewMessage, "quiet"):
			_ = json.NewEncoder(w).Encode(Response{Response: "ok"})
		default:
			_ = json.NewEncoder(w).Encode(Response{Response: "echo: " + req.NewMessage, DetectedEmotion: Neutral})
		}
	}))
	defer srv.Close()

	p := NewHTTP(srv.URL+"/chat", time.Second)
	res, err := p.Process(context.Background(), Request{NewMessage: "abc", Prompt: "be kind"})
	require.NoError(t, err)
	require.Equal(t, "echo: abc", res.Response)
	require.Equal(t, "abc", got.NewMessage)
	require.Equal(t, BuildPrompt(Request{NewMessage: "abc", Prompt: "be kind"}, Neutral), got.RenderedPrompt)
	require.True(t, strings.HasSuffix(got.RenderedPrompt, "### Response:"))
	require.Empty(t, gotCID)

	ctx := log.ContextWithCorrelationID(context.Background(), "c-42")
	_, err = p.Process(ctx, Request{NewMessage: "traced"})
	require.NoError(t, err)
	require.Equal(t, "c-42", gotCID)

	res, err = p.Process(context.Background(), Request{NewMessage: "quiet please", Session: &Session{PreviousEmotion: Sad}})
	require.NoError(t, err)
	require.Equal(t, Sad, got.DetectedEmotion)
	require.Equal(t, Sad, res.DetectedEmotion, "filled from local detection")

	_, err = p.Process(context.Background(), Request{NewMessage: "boom"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "500")
}

func TestFunc(t *testing.T) {
	errBusy := errors.New("busy")
	var p Processor = Func(func(context.Context, Request) (Response, error) { return Response{}, errBusy })
	_, err := p.Process(context.Background(), Request{NewMessage: "x"})
	require.ErrorIs(t, err, errBusy)
}
