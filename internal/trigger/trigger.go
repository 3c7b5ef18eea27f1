package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/buildbid/docproc-service/internal/jobs/domain"
)

// Reason tells the worker why it is being notified
type Reason string

const (
	ReasonStart  Reason = "start"
	ReasonResume Reason = "resume"
	ReasonRetry  Reason = "retry"
)

const contentTypeJSON = "application/json"

// Message is the body published for the external worker
type Message struct {
	JobID       string    `json:"job_id"`
	DocumentID  string    `json:"document_id"`
	ProjectID   string    `json:"project_id"`
	Reason      Reason    `json:"reason"`
	StepKey     string    `json:"step_key,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewMessage builds the notification for a job
func NewMessage(job *domain.Job, reason Reason, now time.Time) Message {
	msg := Message{
		JobID:       job.ID,
		DocumentID:  job.DocumentID,
		ProjectID:   job.ProjectID,
		Reason:      reason,
		RequestedAt: now.UTC(),
	}
	if job.CurrentStep != nil {
		msg.StepKey = *job.CurrentStep
	}
	return msg
}

// Decode parses a message body and checks the required fields
func Decode(body []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	if msg.JobID == "" {
		return Message{}, fmt.Errorf("%w: job_id is required", domain.ErrValidation)
	}
	return msg, nil
}

// Broker is the transport a Publisher writes to
type Broker interface {
	Publish(ctx context.Context, body []byte, contentType string) error
}

// Publisher notifies the external worker that a job may proceed. Delivery is attempted once.
type Publisher struct {
	broker Broker
	logger *slog.Logger
}

func NewPublisher(broker Broker, logger *slog.Logger) *Publisher {
	return &Publisher{
		broker: broker,
		logger: logger,
	}
}

// Notify publishes msg
func (p *Publisher) Notify(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger message: %w", err)
	}

	if err := p.broker.Publish(ctx, body, contentTypeJSON); err != nil {
		return fmt.Errorf("failed to publish trigger for job %s: %w", msg.JobID, err)
	}

	p.logger.Info("Orchestrator trigger published",
		slog.String("job_id", msg.JobID),
		slog.String("reason", string(msg.Reason)),
	)

	return nil
}
