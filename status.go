package taskstream

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is a task lifecycle state.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// ParseStatus converts a stored status name to Status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

// Terminal reports whether no further transition is expected. A FAILED task
// may still be redelivered by the claiming path.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

// ErrorDetail describes the failure recorded with StatusFailed.
type ErrorDetail struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Traceback string `json:"traceback"`
}

// RawStreamMessage is the delivery metadata recorded with StatusProcessing.
type RawStreamMessage struct {
	Type       string            `json:"type"`
	Channel    string            `json:"channel"`
	MessageIDs []string          `json:"message_ids"`
	Data       map[string]string `json:"data"`
}

// StatusRecord is the stored state of one task.
type StatusRecord struct {
	Status           Status            `json:"status"`
	UpdatedAt        time.Time         `json:"updated_at"`
	Result           json.RawMessage   `json:"result,omitempty"`
	Error            *ErrorDetail      `json:"error,omitempty"`
	RawStreamMessage *RawStreamMessage `json:"raw_stream_message,omitempty"`
}

// HasResult reports whether a result was recorded. A handler returning nil
// stores a JSON null, which still counts.
func (r *StatusRecord) HasResult() bool { return len(r.Result) > 0 }
