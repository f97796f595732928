package websocket

import "github.com/stemsi/exstem-session/internal/model"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionStart    Action = "start"
	ActionContinue Action = "continue"
	ActionRestart  Action = "restart"
	ActionAnswer   Action = "answer"
	ActionTime     Action = "time"
	ActionNavigate Action = "navigate"
	ActionComplete Action = "complete"
	ActionEnd      Action = "end"
	ActionSnapshot Action = "snapshot"
	ActionTakeOver Action = "takeover"
	ActionPing     Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// StartRequest asks to begin a timed attempt.
type StartRequest struct {
	Action         Action   `json:"action"`
	TestID         string   `json:"test_id" binding:"required,max=128"`
	TotalQuestions int      `json:"total_questions" binding:"gte=0,lte=1000"`
	TimeLimitMs    int64    `json:"time_limit_ms" binding:"required,gt=0,lte=86400000"`
	Mode           string   `json:"mode" binding:"required,oneof=full custom"`
	Parts          []string `json:"parts" binding:"max=16,dive,required,max=16,excludes=-"`
}

// AnswerRequest saves a single answer.
type AnswerRequest struct {
	Action   Action `json:"action"`
	Question int    `json:"q" binding:"required,gte=1"`
	Answer   string `json:"ans" binding:"max=20000"`
}

// TimeRequest reports the countdown shown by the client timer.
type TimeRequest struct {
	Action      Action `json:"action"`
	RemainingMs int64  `json:"remaining_ms" binding:"gte=0,lte=86400000"`
}

// NavigateRequest reports the question on screen.
type NavigateRequest struct {
	Action   Action `json:"action"`
	Question int    `json:"q" binding:"required,gte=1"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventStarted      Event = "started"
	EventResumePrompt Event = "resume_prompt"
	EventRestored     Event = "restored"
	EventRestarted    Event = "restarted"
	EventState        Event = "state"
	EventSaved        Event = "saved"
	EventCompleted    Event = "completed"
	EventEnded        Event = "ended"
	EventConflict     Event = "conflict"
	EventError        Event = "error"
	EventPong         Event = "pong"
)

// StateResponse carries the current in-memory session.
type StateResponse struct {
	Event   Event       `json:"event"`
	Session interface{} `json:"session"`
}

// ResumePromptResponse offers continue or restart for unfinished work.
type ResumePromptResponse struct {
	Event    Event                `json:"event"`
	Existing model.SessionSummary `json:"existing"`
}

// SavedResponse acknowledges a durable autosave.
type SavedResponse struct {
	Event   Event `json:"event"`
	Version int64 `json:"version"`
}

// CompletedResponse closes a finished attempt.
type CompletedResponse struct {
	Event          Event `json:"event"`
	Answered       int   `json:"answered"`
	TotalQuestions int   `json:"total_questions"`
}

// EndedResponse confirms an abandoned attempt stays resumable.
type EndedResponse struct {
	Event Event `json:"event"`
}

// ConflictResponse reports that another tab advanced the stored record.
type ConflictResponse struct {
	Event  Event                 `json:"event"`
	Stored *model.SessionSummary `json:"stored"`
}

type ErrorResponse struct {
	Event  Event             `json:"event"`
	Code   string            `json:"code"`
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
