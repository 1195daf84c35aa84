package api

import (
	"github.com/colonyops/crew/internal/core/lease"
	"github.com/colonyops/crew/internal/core/messaging"
	"github.com/colonyops/crew/internal/core/task"
)

// Health is the body of GET /health.
type Health struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// WorkerRequest carries the acting worker for claim, heartbeat, release and
// complete.
type WorkerRequest struct {
	WorkerID string `json:"workerId"`
}

// BlockRequest is the body of POST /tasks/{id}/block.
type BlockRequest struct {
	WorkerID string `json:"workerId"`
	Reason   string `json:"reason"`
}

// ApproveRequest is the body of POST /tasks/{id}/approve.
type ApproveRequest struct {
	Response string `json:"response,omitempty"`
	By       string `json:"by,omitempty"`
}

// ResetRequest is the body of POST /tasks/{id}/reset.
type ResetRequest struct {
	Force bool `json:"force,omitempty"`
}

// NextRequest is the body of POST /tasks/next.
type NextRequest struct {
	WorkerID string `json:"workerId"`
	Category string `json:"category,omitempty"`
	File     string `json:"file,omitempty"`
}

// ClaimResponse is returned by POST /tasks/next.
type ClaimResponse struct {
	Task  task.Task   `json:"task"`
	Lease lease.Lease `json:"lease"`
}

// CompleteResponse is returned by POST /tasks/{id}/complete.
type CompleteResponse struct {
	Task      task.Task   `json:"task"`
	Unblocked []task.Task `json:"unblocked"`
}

// PublishRequest is the body of POST /messages.
type PublishRequest struct {
	SessionKey string           `json:"sessionKey"`
	TaskID     string           `json:"taskId,omitempty"`
	Sender     messaging.Sender `json:"sender"`
	Content    string           `json:"content"`
}

// Message converts the request into a message to publish.
func (r PublishRequest) Message() messaging.Message {
	return messaging.Message{
		SessionKey: r.SessionKey,
		TaskID:     r.TaskID,
		Sender:     r.Sender,
		Content:    r.Content,
	}
}

// MessageStatusRequest is the body of PATCH /messages/{id}.
type MessageStatusRequest struct {
	Status          messaging.Status `json:"status"`
	ResponseContent string           `json:"responseContent,omitempty"`
}

// MessageStatusResponse is returned by PATCH /messages/{id}.
type MessageStatusResponse struct {
	Message  messaging.Message  `json:"message"`
	Response *messaging.Message `json:"response,omitempty"`
}
