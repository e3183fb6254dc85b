package model

import "time"

type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error     APIError `json:"error"`
	RequestID string   `json:"request_id,omitempty"`
}

type HealthResponse struct {
	OK bool `json:"ok"`
}

type ReadyResponse struct {
	OK          bool   `json:"ok"`
	ServiceName string `json:"service_name,omitempty"`
}

type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// TranscriptionRequest is the body accepted by the transcription controller
// route and by /v1/consultations/analyze.
type TranscriptionRequest struct {
	Transcription string `json:"transcription"`
	Action        string `json:"action"`
	Model         string `json:"model,omitempty"`
}

type TranscriptionResult struct {
	Result string `json:"result"`
}

// ConsultRequest is the body of the function-style route, which names the
// action "operation".
type ConsultRequest struct {
	Operation     string `json:"operation"`
	Transcription string `json:"transcription"`
}

type AnalyzeResponse struct {
	Result string      `json:"result"`
	Action string      `json:"action"`
	Model  string      `json:"model"`
	Cached bool        `json:"cached"`
	Usage  *TokenUsage `json:"usage,omitempty"`
}

type TranscriptionResponse struct {
	Text string `json:"text"`
}

type ProcessTimings struct {
	Transcription int64 `json:"transcription"`
	Analysis      int64 `json:"analysis"`
	Total         int64 `json:"total"`
}

type ProcessResponse struct {
	Transcript string         `json:"transcript"`
	Result     string         `json:"result"`
	Action     string         `json:"action"`
	Model      string         `json:"model"`
	Cached     bool           `json:"cached"`
	Usage      *TokenUsage    `json:"usage,omitempty"`
	TimingsMS  ProcessTimings `json:"timings_ms"`
}

type ActionsResponse struct {
	Actions []string `json:"actions"`
}

type AuditEntry struct {
	ID          string    `json:"id"`
	RequestID   string    `json:"request_id,omitempty"`
	Action      string    `json:"action"`
	Model       string    `json:"model,omitempty"`
	Status      string    `json:"status"`
	LatencyMS   int64     `json:"latency_ms"`
	TotalTokens int       `json:"total_tokens"`
	CreatedAt   time.Time `json:"created_at"`
}

type AuditResponse struct {
	Entries []AuditEntry `json:"entries"`
}
