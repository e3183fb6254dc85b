package pipeline

import (
	"context"
	"io"
	"strings"
	"time"

	"vetconsult/internal/dispatch"
)

type Transcriber interface {
	Transcribe(ctx context.Context, file io.Reader, fileName, model string) (string, error)
}

type Dispatcher interface {
	Supports(action string) bool
	Dispatch(ctx context.Context, in dispatch.Input) (dispatch.Result, error)
}

type Service struct {
	transcriber Transcriber
	dispatcher  Dispatcher
}

type ProcessInput struct {
	File               io.Reader
	FileName           string
	Action             string
	TranscriptionModel string
	Model              string
	RequestID          string
}

type Timings struct {
	Transcription time.Duration
	Analysis      time.Duration
	Total         time.Duration
}

type ProcessResult struct {
	Transcript string
	Analysis   dispatch.Result
	Timings    Timings
}

func New(transcriber Transcriber, dispatcher Dispatcher) *Service {
	return &Service{
		transcriber: transcriber,
		dispatcher:  dispatcher,
	}
}

// Process transcribes a recorded consultation and runs the requested analysis
// over the transcript. The action is validated before any audio is uploaded.
func (s *Service) Process(ctx context.Context, in ProcessInput) (ProcessResult, error) {
	started := time.Now()

	if !s.dispatcher.Supports(in.Action) {
		// The dispatcher rejects and records unknown actions itself.
		_, err := s.dispatcher.Dispatch(ctx, dispatch.Input{Action: in.Action, RequestID: in.RequestID})
		return ProcessResult{}, err
	}

	transcript, err := s.transcriber.Transcribe(ctx, in.File, in.FileName, in.TranscriptionModel)
	transcriptionDuration := time.Since(started)
	if err != nil {
		return ProcessResult{}, err
	}
	transcript = strings.TrimSpace(transcript)

	analysisStarted := time.Now()
	analysis, err := s.dispatcher.Dispatch(ctx, dispatch.Input{
		Action:     in.Action,
		Transcript: transcript,
		Model:      in.Model,
		RequestID:  in.RequestID,
	})
	if err != nil {
		return ProcessResult{}, err
	}

	return ProcessResult{
		Transcript: transcript,
		Analysis:   analysis,
		Timings: Timings{
			Transcription: transcriptionDuration,
			Analysis:      time.Since(analysisStarted),
			Total:         time.Since(started),
		},
	}, nil
}
