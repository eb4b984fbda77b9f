// Package llmtask provides LongRunning Task[string] constructors that
// wrap a chat-completion call to Anthropic, OpenAI, or Gemini, the shape
// an editor host uses to run AI assistance off the UI thread. Each
// constructor does a single request/response exchange since a task body
// returns one result, not a stream.
package llmtask

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/generative-ai-go/genai"
	"github.com/openai/openai-go"
	openaioption "github.com/openai/openai-go/option"
	googleoption "google.golang.org/api/option"

	"github.com/forgekit/taskkernel/scheduler"
	"github.com/forgekit/taskkernel/task"
)

// ChatRequest is the provider-agnostic request shape every constructor in
// this package accepts.
type ChatRequest struct {
	// SystemPrompt, if non-empty, is sent as the system message.
	SystemPrompt string
	// UserMessage is the single user turn sent to the model.
	UserMessage string
	// Model selects the provider's model identifier. When empty, the
	// constructors use Claude 3.5 Sonnet (latest) for Anthropic, GPT-4o
	// for OpenAI, and gemini-1.5-flash for Gemini.
	Model string
	// MaxTokens bounds the response length; 0 leaves it to the provider
	// for OpenAI and Gemini, and means 1024 for Anthropic.
	MaxTokens int
}

// ProviderError wraps a failure returned by the underlying SDK call, so
// callers inspecting a faulted Task's error can tell a transport/API
// failure from a task-engine one.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("llmtask: %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewAnthropicFuncTask builds a LongRunning Task[string] that sends req to
// the Anthropic Messages API using client and returns the first text
// block of the response.
func NewAnthropicFuncTask(name string, client *anthropic.Client, req ChatRequest) *task.Task {
	return task.NewFunc[string](name, scheduler.LongRunning, func(ctx context.Context, successFromParent bool) (string, error) {
		if !successFromParent {
			return "", nil
		}
		model := req.Model
		if model == "" {
			model = string(anthropic.ModelClaude3_5SonnetLatest)
		}
		maxTokens := int64(req.MaxTokens)
		if maxTokens == 0 {
			maxTokens = 1024
		}

		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(model),
			MaxTokens: maxTokens,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(req.UserMessage)),
			},
		}
		if req.SystemPrompt != "" {
			params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
		}

		msg, err := client.Messages.New(ctx, params)
		if err != nil {
			return "", &ProviderError{Provider: "anthropic", Err: err}
		}
		return firstText(msg), nil
	})
}

// NewAnthropicClient is a thin convenience wrapper over anthropic's
// option.WithAPIKey.
func NewAnthropicClient(apiKey string) *anthropic.Client {
	client := anthropic.NewClient(anthropicoption.WithAPIKey(apiKey))
	return &client
}

func firstText(msg *anthropic.Message) string {
	if msg == nil || len(msg.Content) == 0 {
		return ""
	}
	for _, block := range msg.Content {
		if text := block.Text; text != "" {
			return text
		}
	}
	return ""
}

// NewOpenAIFuncTask builds a LongRunning Task[string] that sends req to
// the OpenAI chat completions API using client and returns the first
// choice's message content.
func NewOpenAIFuncTask(name string, client *openai.Client, req ChatRequest) *task.Task {
	return task.NewFunc[string](name, scheduler.LongRunning, func(ctx context.Context, successFromParent bool) (string, error) {
		if !successFromParent {
			return "", nil
		}
		model := req.Model
		if model == "" {
			model = openai.ChatModelGPT4o
		}

		messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
		if req.SystemPrompt != "" {
			messages = append(messages, openai.SystemMessage(req.SystemPrompt))
		}
		messages = append(messages, openai.UserMessage(req.UserMessage))

		params := openai.ChatCompletionNewParams{
			Model:    model,
			Messages: messages,
		}
		if req.MaxTokens > 0 {
			params.MaxTokens = openai.Int(int64(req.MaxTokens))
		}

		resp, err := client.Chat.Completions.New(ctx, params)
		if err != nil {
			return "", &ProviderError{Provider: "openai", Err: err}
		}
		if len(resp.Choices) == 0 {
			return "", nil
		}
		return resp.Choices[0].Message.Content, nil
	})
}

// NewOpenAIClient is a thin convenience wrapper over openai's
// option.WithAPIKey.
func NewOpenAIClient(apiKey string) *openai.Client {
	client := openai.NewClient(openaioption.WithAPIKey(apiKey))
	return &client
}

// NewGeminiFuncTask builds a LongRunning Task[string] that sends req to a
// Gemini generative model and returns the first candidate's text.
func NewGeminiFuncTask(name string, client *genai.Client, req ChatRequest) *task.Task {
	return task.NewFunc[string](name, scheduler.LongRunning, func(ctx context.Context, successFromParent bool) (string, error) {
		if !successFromParent {
			return "", nil
		}
		model := req.Model
		if model == "" {
			model = "gemini-1.5-flash"
		}

		gm := client.GenerativeModel(model)
		if req.SystemPrompt != "" {
			gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.SystemPrompt)}}
		}
		if req.MaxTokens > 0 {
			maxTokens := int32(req.MaxTokens)
			gm.MaxOutputTokens = &maxTokens
		}

		resp, err := gm.GenerateContent(ctx, genai.Text(req.UserMessage))
		if err != nil {
			return "", &ProviderError{Provider: "gemini", Err: err}
		}
		return firstGeminiText(resp), nil
	})
}

// NewGeminiClient creates a genai.Client from apiKey.
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	return genai.NewClient(ctx, googleoption.WithAPIKey(apiKey))
}

func firstGeminiText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			return string(text)
		}
	}
	return ""
}
