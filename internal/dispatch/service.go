package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"vetconsult/internal/audit"
	"vetconsult/internal/cache"
	"vetconsult/internal/prompt"
	"vetconsult/internal/upstream/openai"
)

var ErrEmptyTranscript = errors.New("transcription is required")

type ChatClient interface {
	ChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type Recorder interface {
	Record(ctx context.Context, e audit.Entry) error
}

type Observer interface {
	ObserveDispatch(action, outcome string, duration time.Duration)
	ObserveCacheLookup(result string)
}

type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

type Input struct {
	Action     string
	Transcript string
	// Model overrides the configured deployment when set.
	Model     string
	RequestID string
}

type Result struct {
	Action  prompt.Action
	Content string
	Model   string
	Usage   *TokenUsage
	Cached  bool
}

type Settings struct {
	DefaultModel string
	Timeout      time.Duration
	MaxTokens    int
	Temperature  float32
}

type Option func(*Service)

func WithCache(c cache.Cache) Option {
	return func(s *Service) { s.cache = c }
}

func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

type Service struct {
	client       ChatClient
	catalog      *prompt.Catalog
	defaultModel string
	timeout      time.Duration
	maxTokens    int
	temperature  float32

	cache    cache.Cache
	recorder Recorder
	observer Observer
	logger   *slog.Logger
}

func New(client ChatClient, catalog *prompt.Catalog, settings Settings, opts ...Option) *Service {
	if catalog == nil {
		catalog = prompt.DefaultCatalog()
	}
	s := &Service{
		client:       client,
		catalog:      catalog,
		defaultModel: strings.TrimSpace(settings.DefaultModel),
		timeout:      settings.Timeout,
		maxTokens:    settings.MaxTokens,
		temperature:  settings.Temperature,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *Service) Catalog() *prompt.Catalog { return s.catalog }

func (s *Service) Supports(action string) bool { return s.catalog.Supports(action) }

// Dispatch resolves the action's template and sends it, with the transcript,
// to the chat-completion provider. The provider is never contacted for an
// unknown action or a blank transcript.
func (s *Service) Dispatch(ctx context.Context, in Input) (Result, error) {
	started := time.Now()

	tmpl, err := s.catalog.Lookup(in.Action)
	if err != nil {
		s.finish(ctx, in, "", audit.StatusUnsupported, started, nil)
		return Result{}, err
	}
	if strings.TrimSpace(in.Transcript) == "" {
		s.finish(ctx, in, "", audit.StatusInvalid, started, nil)
		return Result{}, ErrEmptyTranscript
	}

	model := strings.TrimSpace(in.Model)
	if model == "" {
		model = s.defaultModel
	}

	cacheKey := cache.Key(model, tmpl.System, tmpl.Instruction, in.Transcript)
	if s.cache != nil {
		content, ok, err := s.cache.Get(ctx, cacheKey)
		switch {
		case err != nil:
			s.observeCache("error")
			s.logger.Warn("result cache read failed", "request_id", in.RequestID, "error", err)
		case ok:
			s.observeCache("hit")
			s.finish(ctx, in, model, audit.StatusCached, started, nil)
			return Result{Action: tmpl.Action, Content: content, Model: model, Cached: true}, nil
		default:
			s.observeCache("miss")
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	chatResp, err := s.client.ChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model:       model,
		Temperature: s.temperature,
		MaxTokens:   s.maxTokens,
		Messages: []openai.ChatMessage{
			{Role: "system", Content: tmpl.System},
			{Role: "user", Content: tmpl.UserMessage(in.Transcript)},
		},
	})
	if err != nil {
		s.finish(ctx, in, model, audit.StatusFailed, started, nil)
		return Result{}, fmt.Errorf("%s: %w", tmpl.Action, err)
	}

	result := Result{Action: tmpl.Action, Content: chatResp.Content, Model: model}
	if chatResp.Usage != nil {
		result.Usage = &TokenUsage{
			PromptTokens:     chatResp.Usage.PromptTokens,
			CompletionTokens: chatResp.Usage.CompletionTokens,
			TotalTokens:      chatResp.Usage.TotalTokens,
		}
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, result.Content); err != nil {
			s.logger.Warn("result cache write failed", "request_id", in.RequestID, "error", err)
		}
	}
	s.finish(ctx, in, model, audit.StatusOK, started, result.Usage)
	return result, nil
}

func (s *Service) finish(ctx context.Context, in Input, model, status string, started time.Time, usage *TokenUsage) {
	duration := time.Since(started)
	if s.observer != nil {
		label := in.Action
		if status == audit.StatusUnsupported {
			label = "unknown"
		}
		s.observer.ObserveDispatch(label, status, duration)
	}
	if s.recorder == nil {
		return
	}

	entry := audit.Entry{
		RequestID: clip(in.RequestID, 128),
		Action:    clip(in.Action, 64),
		Model:     clip(model, 255),
		Status:    status,
		LatencyMS: duration.Milliseconds(),
	}
	if usage != nil {
		entry.PromptTokens = usage.PromptTokens
		entry.CompletionTokens = usage.CompletionTokens
		entry.TotalTokens = usage.TotalTokens
	}
	// Record even when the request context is already done.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := s.recorder.Record(recordCtx, entry); err != nil {
		s.logger.Warn("audit record failed", "request_id", in.RequestID, "error", err)
	}
}

func (s *Service) observeCache(result string) {
	if s.observer != nil {
		s.observer.ObserveCacheLookup(result)
	}
}

// clip makes caller-supplied text storable in a VARCHAR(n) column: valid
// UTF-8, no NUL bytes, at most n characters.
func clip(s string, n int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	s = strings.ReplaceAll(s, "\x00", "")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
