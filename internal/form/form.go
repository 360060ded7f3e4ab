// Package form defines the contact form submission model, its validation rules,
// and the collaborator interfaces used by the submission pipeline.
package form

import (
	"context"
	"time"
)

// Input is a raw submission as decoded from a request body. Every field is optional
// at this stage; Validate decides what is acceptable.
type Input struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

// Submission is a validated, sanitized contact form entry ready for storage.
type Submission struct {
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Message string `json:"message"`
}

// Input converts a sanitized submission back into raw input form.
func (s Submission) Input() Input {
	return Input(s)
}

// SubmissionEvent is published after a submission has been stored.
type SubmissionEvent struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Email         string    `json:"email,omitempty"`
	Phone         string    `json:"phone,omitempty"`
	Message       string    `json:"message"`
	CorrelationID string    `json:"correlation_id"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

// NewSubmissionEvent builds the event payload for a stored submission.
func NewSubmissionEvent(id int64, sub Submission, correlationID string, at time.Time) SubmissionEvent {
	return SubmissionEvent{
		ID:            id,
		Name:          sub.Name,
		Email:         sub.Email,
		Phone:         sub.Phone,
		Message:       sub.Message,
		CorrelationID: correlationID,
		SubmittedAt:   at,
	}
}

// Publisher pushes submission events to a notification backend.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// IDGenerator produces correlation identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
