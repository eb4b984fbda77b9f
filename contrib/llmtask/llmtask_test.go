package llmtask

import (
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/google/generative-ai-go/genai"
)

func TestFirstTextReturnsFirstNonEmptyBlock(t *testing.T) {
	msg := &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{
			{},
			{Text: "hello"},
			{Text: "ignored"},
		},
	}
	if got := firstText(msg); got != "hello" {
		t.Errorf("firstText = %q, want %q", got, "hello")
	}
}

func TestFirstTextHandlesEmptyResponse(t *testing.T) {
	if got := firstText(nil); got != "" {
		t.Errorf("firstText(nil) = %q, want empty", got)
	}
	if got := firstText(&anthropic.Message{}); got != "" {
		t.Errorf("firstText(empty) = %q, want empty", got)
	}
}

func TestFirstGeminiTextReturnsFirstTextPart(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{
				Content: &genai.Content{
					Parts: []genai.Part{genai.Text("hi there")},
				},
			},
		},
	}
	if got := firstGeminiText(resp); got != "hi there" {
		t.Errorf("firstGeminiText = %q, want %q", got, "hi there")
	}
}

func TestFirstGeminiTextHandlesNoCandidates(t *testing.T) {
	if got := firstGeminiText(&genai.GenerateContentResponse{}); got != "" {
		t.Errorf("firstGeminiText = %q, want empty", got)
	}
	if got := firstGeminiText(nil); got != "" {
		t.Errorf("firstGeminiText(nil) = %q, want empty", got)
	}
}
