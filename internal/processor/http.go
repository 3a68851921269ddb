package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rzbill/llmq/pkg/log"
)

// maxResponseBytes caps what is read from a model server.
const maxResponseBytes = 1 << 20

// HTTP forwards requests to a model server that accepts the chat request
// JSON on POST and answers with the response JSON. The posted request also
// carries the detected emotion and the rendered text prompt, for servers
// that run a plain completion model.
type HTTP struct {
	url    string
	client *http.Client
}

// NewHTTP returns a forwarder posting to url. A zero timeout means none.
func NewHTTP(url string, timeout time.Duration) *HTTP {
	return &HTTP{url: url, client: &http.Client{Timeout: timeout}}
}

// CorrelationIDHeader carries the broker correlation id to the model server.
const CorrelationIDHeader = "X-Correlation-ID"

// forwardRequest is the body posted to the model server.
type forwardRequest struct {
	Request
	DetectedEmotion string `json:"detected_emotion"`
	RenderedPrompt  string `json:"rendered_prompt"`
}

// Process posts req and decodes the reply. Non-2xx statuses are errors. A
// reply without detected_emotion gets the locally detected one.
func (h *HTTP) Process(ctx context.Context, req Request) (Response, error) {
	emotion := sessionEmotion(req)
	body, err := json.Marshal(forwardRequest{
		Request:         req,
		DetectedEmotion: emotion,
		RenderedPrompt:  BuildPrompt(req, emotion),
	})
	if err != nil {
		return Response{}, err
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	hreq.Header.Set("Content-Type", "application/json")
	if cid := log.CorrelationIDFromContext(ctx); cid != "" {
		hreq.Header.Set(CorrelationIDHeader, cid)
	}
	res, err := h.client.Do(hreq)
	if err != nil {
		return Response{}, fmt.Errorf("post %s: %w", h.url, err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return Response{}, fmt.Errorf("read %s: %w", h.url, err)
	}
	if res.StatusCode/100 != 2 {
		return Response{}, fmt.Errorf("post %s: status %d: %s", h.url, res.StatusCode, bytes.TrimSpace(data))
	}
	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		return Response{}, fmt.Errorf("decode %s: %w", h.url, err)
	}
	if out.DetectedEmotion == "" {
		out.DetectedEmotion = emotion
	}
	return out, nil
}
