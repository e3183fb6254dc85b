package transcription

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

type fakeClient struct {
	fileName string
	model    string
	text     string
	err      error
	deadline bool
}

func (f *fakeClient) Transcribe(ctx context.Context, _ io.Reader, fileName, model string) (string, error) {
	f.fileName = fileName
	f.model = model
	_, f.deadline = ctx.Deadline()
	return f.text, f.err
}

func TestTranscribeAppliesDefaults(t *testing.T) {
	client := &fakeClient{text: "  temp 101.5  "}
	svc := New(client, "whisper-1", time.Second)

	text, err := svc.Transcribe(context.Background(), strings.NewReader("audio"), "", "")
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if text != "temp 101.5" {
		t.Fatalf("unexpected text: %q", text)
	}
	if client.fileName != "audio.wav" || client.model != "whisper-1" {
		t.Fatalf("unexpected defaults: file=%q model=%q", client.fileName, client.model)
	}
	if !client.deadline {
		t.Fatal("expected a deadline on the upstream context")
	}
}

func TestTranscribeStripsDirectories(t *testing.T) {
	client := &fakeClient{text: "ok"}
	svc := New(client, "whisper-1", time.Second)

	if _, err := svc.Transcribe(context.Background(), strings.NewReader("a"), "../../exam/visit.webm", "custom"); err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if client.fileName != "visit.webm" || client.model != "custom" {
		t.Fatalf("unexpected forwarding: file=%q model=%q", client.fileName, client.model)
	}
}

func TestTranscribeRejectsEmptyText(t *testing.T) {
	svc := New(&fakeClient{text: "   "}, "whisper-1", time.Second)
	if _, err := svc.Transcribe(context.Background(), strings.NewReader("a"), "a.wav", ""); !errors.Is(err, ErrEmptyTranscript) {
		t.Fatalf("expected ErrEmptyTranscript, got %v", err)
	}
}
