package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
)

type ObserverFunc func(endpoint string, status int, duration time.Duration)

type Option func(*options)

type options struct {
	observer ObserverFunc
}

// Kind selects how requests are addressed and authenticated.
type Kind string

const (
	KindOpenAI Kind = "openai"
	KindAzure  Kind = "azure"
)

const DefaultAzureAPIVersion = "2024-06-01"

type Provider struct {
	Kind       Kind
	BaseURL    string
	APIKey     string
	APIVersion string
}

type Client struct {
	api  *goopenai.Client
	kind Kind
}

type Error struct {
	StatusCode int
	Body       string
	err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("upstream request failed with status %d", e.StatusCode)
}

func (e *Error) Unwrap() error { return e.err }

type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

type ChatMessage struct {
	Role    string
	Content string
}

type ChatCompletionRequest struct {
	Model       string
	Temperature float32
	MaxTokens   int
	Messages    []ChatMessage
}

type ChatCompletionResponse struct {
	Content string
	Usage   *TokenUsage
}

func WithObserver(observer ObserverFunc) Option {
	return func(o *options) {
		o.observer = observer
	}
}

func New(p Provider, httpClient *http.Client, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	baseURL := strings.TrimRight(strings.TrimSpace(p.BaseURL), "/")
	apiKey := strings.TrimSpace(p.APIKey)

	var cfg goopenai.ClientConfig
	switch p.Kind {
	case KindAzure:
		cfg = goopenai.DefaultAzureConfig(apiKey, baseURL)
		cfg.APIVersion = DefaultAzureAPIVersion
		if v := strings.TrimSpace(p.APIVersion); v != "" {
			cfg.APIVersion = v
		}
		// Deployment names are configured verbatim.
		cfg.AzureModelMapperFunc = func(model string) string { return model }
	default:
		cfg = goopenai.DefaultConfig(apiKey)
		if baseURL != "" {
			cfg.BaseURL = baseURL
		}
	}
	cfg.HTTPClient = observingDoer{next: httpClient, observer: o.observer}

	kind := p.Kind
	if kind == "" {
		kind = KindOpenAI
	}
	return &Client{api: goopenai.NewClientWithConfig(cfg), kind: kind}
}

func (c *Client) Kind() Kind { return c.kind }

func (c *Client) Transcribe(ctx context.Context, file io.Reader, fileName, model string) (string, error) {
	resp, err := c.api.CreateTranscription(ctx, goopenai.AudioRequest{
		Model:    model,
		FilePath: fileName,
		Reader:   file,
	})
	if err != nil {
		return "", toError(err)
	}
	text := strings.TrimSpace(joinLines(resp.Text))
	if text == "" {
		return "", fmt.Errorf("invalid transcription response")
	}
	return text, nil
}

func (c *Client) ChatCompletion(ctx context.Context, reqPayload ChatCompletionRequest) (ChatCompletionResponse, error) {
	messages := make([]goopenai.ChatCompletionMessage, 0, len(reqPayload.Messages))
	for _, m := range reqPayload.Messages {
		messages = append(messages, goopenai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	// go-openai omits a zero temperature, which the provider reads as 1.0.
	temperature := reqPayload.Temperature
	if temperature == 0 {
		temperature = math.SmallestNonzeroFloat32
	}

	resp, err := c.api.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:       reqPayload.Model,
		Messages:    messages,
		MaxTokens:   reqPayload.MaxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return ChatCompletionResponse{}, toError(err)
	}
	return parseChatCompletion(resp)
}

func (c *Client) CheckModels(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return toError(err)
	}
	return nil
}

func parseChatCompletion(resp goopenai.ChatCompletionResponse) (ChatCompletionResponse, error) {
	if len(resp.Choices) == 0 {
		return ChatCompletionResponse{}, fmt.Errorf("missing choices")
	}

	out := ChatCompletionResponse{Content: resp.Choices[0].Message.Content}
	if resp.Usage.TotalTokens > 0 || resp.Usage.PromptTokens > 0 {
		out.Usage = &TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return out, nil
}

// toError normalizes provider failures into *Error so callers only need one
// errors.As target. Transport and context errors pass through untouched.
func toError(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return &Error{StatusCode: apiErr.HTTPStatusCode, Body: truncateBody(apiErr.Message), err: err}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		body := ""
		if reqErr.Err != nil {
			body = reqErr.Err.Error()
		}
		return &Error{StatusCode: reqErr.HTTPStatusCode, Body: truncateBody(body), err: err}
	}
	return err
}

type observingDoer struct {
	next     goopenai.HTTPDoer
	observer ObserverFunc
}

func (d observingDoer) Do(req *http.Request) (*http.Response, error) {
	started := time.Now()
	resp, err := d.next.Do(req)
	if d.observer != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		d.observer(endpointLabel(req.URL.Path), status, time.Since(started))
	}
	return resp, err
}

func endpointLabel(path string) string {
	switch {
	case strings.HasSuffix(path, "/chat/completions"):
		return "chat_completions"
	case strings.HasSuffix(path, "/audio/transcriptions"):
		return "audio_transcriptions"
	case strings.HasSuffix(path, "/models"):
		return "models"
	default:
		return "other"
	}
}

func joinLines(s string) string {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == '\n' || r == '\r'
	})
	return strings.Join(parts, " ")
}

func truncateBody(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 4096 {
		return s
	}
	return s[:4096] + "..."
}
