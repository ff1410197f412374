package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/sokinpui/chatapply/internal/logging"
)

const defaultOpenAIEndpoint = "https://api.openai.com/v1"

// OpenAIClient streams from any OpenAI-compatible /chat/completions endpoint.
type OpenAIClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *zap.Logger
}

func NewOpenAIClient(baseURL, apiKey string, log *zap.Logger) *OpenAIClient {
	if baseURL == "" {
		baseURL = defaultOpenAIEndpoint
	}
	return &OpenAIClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{},
		log:        logging.OrNop(log),
	}
}

func (c *OpenAIClient) Provider() string { return "openai" }

type chatRequest struct {
	Model           string    `json:"model"`
	Messages        []Message `json:"messages"`
	Stream          bool      `json:"stream"`
	Temperature     *float64  `json:"temperature,omitempty"`
	MaxTokens       int       `json:"max_completion_tokens,omitempty"`
	ReasoningEffort string    `json:"reasoning_effort,omitempty"`
}

// StreamCompletion sends req with stream=true and reads the SSE response.
func (c *OpenAIClient) StreamCompletion(ctx context.Context, req Request, onChunk func(string)) (string, error) {
	body := chatRequest{
		Model:           req.Model,
		Messages:        req.Messages,
		Stream:          true,
		MaxTokens:       req.MaxTokens,
		ReasoningEffort: req.ReasoningEffort,
	}
	// Reasoning models reject an explicit temperature.
	if req.ReasoningEffort == "" {
		t := req.Temperature
		body.Temperature = &t
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	c.log.Debug("HTTP POST chat/completions",
		zap.String("url", c.baseURL),
		zap.String("model", req.Model),
		zap.Int("messages", len(req.Messages)))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	return c.processStream(ctx, resp.Body, onChunk)
}

// processStream reads "data: {json}" events until [DONE] or EOF. A stream
// whose last finish_reason is "length" returns ErrTruncated.
func (c *OpenAIClient) processStream(ctx context.Context, r io.Reader, onChunk func(string)) (string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var out strings.Builder
	var finish string
	done := func() (string, error) {
		if finish == "length" {
			return "", fmt.Errorf("%w: %d bytes received", ErrTruncated, out.Len())
		}
		return out.String(), nil
	}
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return done()
		}
		if !gjson.Valid(data) {
			c.log.Debug("skipping malformed SSE event", zap.String("data", data))
			continue
		}

		parsed := gjson.Parse(data)
		if msg := parsed.Get("error.message"); msg.Exists() {
			return "", fmt.Errorf("%w: %s", ErrStreamError, msg.String())
		}
		if r := parsed.Get("choices.0.finish_reason"); r.Exists() && r.String() != "" {
			finish = r.String()
		}
		chunk := parsed.Get("choices.0.delta.content").String()
		if chunk == "" {
			continue
		}
		out.WriteString(chunk)
		if onChunk != nil {
			onChunk(chunk)
		}
	}
	if err := scanner.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("%w: %v", ErrStreamError, err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return done()
}
