package processor

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

// Emotion labels.
const (
	Happy    = "happy"
	Sad      = "sad"
	Angry    = "angry"
	Neutral  = "neutral"
	Surprise = "surprise"
)

var lexicon = map[string]string{
	"happy": Happy, "glad": Happy, "thrilled": Happy, "excited": Happy, "great": Happy, "love": Happy, "joy": Happy,
	"sad": Sad, "down": Sad, "unhappy": Sad, "lonely": Sad, "miserable": Sad, "depressed": Sad,
	"angry": Angry, "furious": Angry, "mad": Angry, "annoyed": Angry, "nuts": Angry, "hate": Angry,
	"wow": Surprise, "surprised": Surprise, "unexpected": Surprise, "shocked": Surprise, "expect": Surprise,
}

// Lexicon classifies emotion from keywords and answers with a canned
// acknowledgement. With no keyword it keeps the session's previous emotion,
// falling back to neutral.
type Lexicon struct{}

// Process implements Processor.
func (Lexicon) Process(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	emotion := sessionEmotion(req)
	return Response{
		Response:        fmt.Sprintf("I noticed you're feeling %s. How can I assist?", emotion),
		DetectedEmotion: emotion,
	}, nil
}

// DetectEmotion returns the label of the first keyword found in text.
func DetectEmotion(text string) string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
	for _, w := range words {
		if e, ok := lexicon[w]; ok {
			return e
		}
	}
	return Neutral
}

// sessionEmotion detects the emotion of req's new message, keeping the
// session's previous emotion when the message has no keyword.
func sessionEmotion(req Request) string {
	emotion := DetectEmotion(req.NewMessage)
	if emotion == Neutral && req.Session != nil && req.Session.PreviousEmotion != "" {
		return req.Session.PreviousEmotion
	}
	return emotion
}
