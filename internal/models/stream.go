package models

import "time"

// Row change operations, named the way the push stream reports them.
const (
	ChangeInsert = "INSERT"
	ChangeUpdate = "UPDATE"
	ChangeDelete = "DELETE"
)

const TableTimerSessions = "timer_sessions"

// Change is one row mutation on the running-session table.
type Change struct {
	EventType  string        `json:"eventType"`
	Table      string        `json:"table"`
	New        *TimerSession `json:"new,omitempty"`
	Old        *TimerSession `json:"old,omitempty"`
	CommitTime time.Time     `json:"commit_timestamp"`
}

// Push stream message types
type StreamMessage struct {
	Type      string        `json:"type"`
	EventType string        `json:"eventType,omitempty"`
	Table     string        `json:"table,omitempty"`
	New       *SessionState `json:"new,omitempty"`
	Old       *TimerSession `json:"old,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// SessionState is a session row enriched with server-computed elapsed time.
type SessionState struct {
	TimerSession
	CalculatedElapsedTime int64 `json:"calculatedElapsedTime"`
}

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
