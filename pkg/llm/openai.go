package llm

import (
	"context"
	"io"

	"github.com/go-go-golems/stromboli/pkg/toolprovider"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"
)

const (
	ApiTypeOpenAI = "openai"
	ApiTypeAzure  = "azure"

	// DefaultFallbackChunkSize is the fragment size used when a failed
	// stream degrades to a sliced non-streaming answer. Small enough to
	// keep the perceived streaming pacing.
	DefaultFallbackChunkSize = 25
)

// Settings configures the OpenAI-backed engine. BaseURL doubles as the Azure
// endpoint when ApiType is azure.
type Settings struct {
	ApiType    string
	APIKey     string
	BaseURL    string
	APIVersion string
	Model      string

	FallbackChunkSize int
}

// OpenAIEngine implements Engine on the OpenAI chat completions API,
// including Azure deployments.
type OpenAIEngine struct {
	client    *go_openai.Client
	model     string
	chunkSize int
}

func NewOpenAIEngine(settings Settings) (*OpenAIEngine, error) {
	if settings.APIKey == "" {
		return nil, errors.New("no API key")
	}
	if settings.Model == "" {
		return nil, errors.New("no model specified")
	}

	var config go_openai.ClientConfig
	switch settings.ApiType {
	case ApiTypeAzure:
		if settings.BaseURL == "" {
			return nil, errors.New("no azure endpoint")
		}
		config = go_openai.DefaultAzureConfig(settings.APIKey, settings.BaseURL)
		if settings.APIVersion != "" {
			config.APIVersion = settings.APIVersion
		}
	case ApiTypeOpenAI, "":
		config = go_openai.DefaultConfig(settings.APIKey)
		if settings.BaseURL != "" {
			config.BaseURL = settings.BaseURL
		}
	default:
		return nil, errors.Errorf("unknown api type %s", settings.ApiType)
	}

	chunkSize := settings.FallbackChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultFallbackChunkSize
	}

	return &OpenAIEngine{
		client:    go_openai.NewClientWithConfig(config),
		model:     settings.Model,
		chunkSize: chunkSize,
	}, nil
}

// Decide asks the model what to do next. Tool choice is left to the model;
// the full tool list is advertised on every call.
func (e *OpenAIEngine) Decide(ctx context.Context, messages []Message, tools []toolprovider.Descriptor) (*Decision, error) {
	req := e.makeRequest(messages, tools, "auto", false)

	log.Debug().Str("model", req.Model).Int("num_messages", len(req.Messages)).Int("tool_count", len(req.Tools)).Msg("OpenAI decision request")
	resp, err := e.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "chat completion")
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}

	message := resp.Choices[0].Message
	decision := &Decision{Content: message.Content}
	for _, tc := range message.ToolCalls {
		decision.ToolCalls = append(decision.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	log.Debug().Int("tool_call_count", len(decision.ToolCalls)).Str("finish_reason", string(resp.Choices[0].FinishReason)).Msg("OpenAI decision response")
	return decision, nil
}

// StreamAnswer streams the final answer with tool use forced off. A
// transport failure before or during the stream degrades to a non-streaming
// call whose text is re-emitted in fixed-size chunks.
func (e *OpenAIEngine) StreamAnswer(ctx context.Context, messages []Message, tools []toolprovider.Descriptor, onDelta func(delta string) error) error {
	req := e.makeRequest(messages, tools, "none", true)

	stream, err := e.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		log.Warn().Err(err).Msg("OpenAI stream open failed, falling back to non-streaming delivery")
		return e.fallbackAnswer(ctx, req, onDelta)
	}
	defer func() {
		if err := stream.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close OpenAI stream")
		}
	}()

	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn().Err(err).Msg("OpenAI stream receive failed, falling back to non-streaming delivery")
			return e.fallbackAnswer(ctx, req, onDelta)
		}
		if len(response.Choices) == 0 {
			continue
		}

		choice := response.Choices[0]
		if choice.Delta.Content != "" {
			if err := onDelta(choice.Delta.Content); err != nil {
				return err
			}
		}
		if choice.FinishReason == go_openai.FinishReasonStop || choice.FinishReason == go_openai.FinishReasonLength {
			return nil
		}
	}
}

func (e *OpenAIEngine) fallbackAnswer(ctx context.Context, req go_openai.ChatCompletionRequest, onDelta func(delta string) error) error {
	req.Stream = false
	req.StreamOptions = nil

	resp, err := e.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return errors.Wrap(err, "non-streaming fallback")
	}
	if len(resp.Choices) == 0 {
		return errors.New("non-streaming fallback returned no choices")
	}

	text := resp.Choices[0].Message.Content
	log.Debug().Int("text_length", len(text)).Int("chunk_size", e.chunkSize).Msg("OpenAI delivering fallback answer in chunks")
	for _, chunk := range chunkText(text, e.chunkSize) {
		if err := onDelta(chunk); err != nil {
			return err
		}
	}
	return nil
}

func (e *OpenAIEngine) makeRequest(messages []Message, tools []toolprovider.Descriptor, toolChoice string, stream bool) go_openai.ChatCompletionRequest {
	msgs := make([]go_openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := go_openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, go_openai.ToolCall{
				ID:   tc.ID,
				Type: go_openai.ToolTypeFunction,
				Function: go_openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		msgs = append(msgs, msg)
	}

	req := go_openai.ChatCompletionRequest{
		Model:    e.model,
		Messages: msgs,
		Stream:   stream,
	}

	// tool_choice is only valid when tools are advertised
	if len(tools) > 0 {
		for _, tool := range tools {
			req.Tools = append(req.Tools, go_openai.Tool{
				Type: go_openai.ToolTypeFunction,
				Function: &go_openai.FunctionDefinition{
					Name:        tool.Name,
					Description: tool.Description,
					Parameters:  tool.InputSchema,
				},
			})
		}
		req.ToolChoice = toolChoice
	}

	return req
}

// chunkText slices s into rune-safe chunks of at most size runes.
func chunkText(s string, size int) []string {
	if s == "" {
		return nil
	}
	if size <= 0 {
		size = DefaultFallbackChunkSize
	}
	runes := []rune(s)
	chunks := make([]string, 0, len(runes)/size+1)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

var _ Engine = (*OpenAIEngine)(nil)
