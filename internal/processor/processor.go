package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRequest is returned by DecodeRequest for bodies that are not a
// usable chat request.
var ErrInvalidRequest = errors.New("processor: invalid request")

// Exchange is one earlier turn of a conversation.
type Exchange struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

// Session is caller-owned state carried with each request.
type Session struct {
	PreviousEmotion string `json:"previous_emotion,omitempty"`
}

// Request is a chat turn.
type Request struct {
	Prompt       string     `json:"prompt,omitempty"`
	PastMessages []Exchange `json:"past_messages,omitempty"`
	NewMessage   string     `json:"new_message"`
	Session      *Session   `json:"session,omitempty"`
}

// Response is the processor's answer.
type Response struct {
	Response        string `json:"response"`
	DetectedEmotion string `json:"detected_emotion"`
}

// Processor runs inference. Implementations must be safe for concurrent use.
type Processor interface {
	Process(ctx context.Context, req Request) (Response, error)
}

// Func adapts a function to Processor.
type Func func(ctx context.Context, req Request) (Response, error)

// Process calls f.
func (f Func) Process(ctx context.Context, req Request) (Response, error) { return f(ctx, req) }

// DecodeRequest parses a JSON chat request. new_message is required.
func DecodeRequest(b []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(b, &req); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if strings.TrimSpace(req.NewMessage) == "" {
		return Request{}, fmt.Errorf("%w: new_message is required", ErrInvalidRequest)
	}
	return req, nil
}

// BuildPrompt renders a request as the sectioned text prompt model servers
// expect, ending with the response marker.
func BuildPrompt(req Request, emotion string) string {
	var b strings.Builder
	if req.Prompt != "" {
		fmt.Fprintf(&b, "### Prompt: %s\n", req.Prompt)
	}
	if len(req.PastMessages) > 0 {
		b.WriteString("### Past Messages:\n")
		for _, m := range req.PastMessages {
			fmt.Fprintf(&b, "User: %s\nAssistant: %s\n", m.User, m.Assistant)
		}
	}
	fmt.Fprintf(&b, "### New Message: %s\n", req.NewMessage)
	fmt.Fprintf(&b, "### Detected Emotion: %s\n", emotion)
	b.WriteString("### Response:")
	return b.String()
}
