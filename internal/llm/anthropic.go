package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/sokinpui/chatapply/internal/logging"
)

const defaultAnthropicMaxTokens = 16384

// AnthropicClient streams from the Anthropic Messages API.
type AnthropicClient struct {
	client anthropic.Client
	log    *zap.Logger
}

func NewAnthropicClient(baseURL, apiKey string, log *zap.Logger) *AnthropicClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicClient{
		client: anthropic.NewClient(opts...),
		log:    logging.OrNop(log),
	}
}

func (c *AnthropicClient) Provider() string { return "anthropic" }

func (c *AnthropicClient) StreamCompletion(ctx context.Context, req Request, onChunk func(string)) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	// The Messages API accepts temperatures in [0,1].
	temperature := req.Temperature
	if temperature > 1 {
		temperature = 1
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(req.Model),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(temperature),
	}
	var system []string
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			system = append(system, m.Content)
		case "assistant":
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}

	c.log.Debug("anthropic messages stream", zap.String("model", req.Model), zap.Int("messages", len(params.Messages)))

	stream := c.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	var out strings.Builder
	var stop anthropic.StopReason
	for stream.Next() {
		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				out.WriteString(delta.Text)
				if onChunk != nil {
					onChunk(delta.Text)
				}
			}
		case anthropic.MessageDeltaEvent:
			if ev.Delta.StopReason != "" {
				stop = ev.Delta.StopReason
			}
		}
	}
	if err := stream.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", &StatusError{StatusCode: apiErr.StatusCode, Body: apiErr.Error()}
		}
		return "", err
	}
	if stop == anthropic.StopReasonMaxTokens {
		return "", fmt.Errorf("%w: %d bytes received", ErrTruncated, out.Len())
	}
	return out.String(), nil
}
