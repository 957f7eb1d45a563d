// Package notify delivers terminal job events to users. Delivery is
// best-effort: a notification failure never changes a job's outcome.
package notify

import (
	"context"

	"go.uber.org/zap"
)

// Event is a terminal job outcome worth telling the user about.
type Event string

const (
	EventCompleted    Event = "completed"
	EventDeadLettered Event = "dead_lettered"
)

// Notifier delivers a terminal event for a job.
type Notifier interface {
	Notify(ctx context.Context, jobID, userID string, event Event) error
}

// LogNotifier writes notifications to the structured log. Stands in for a
// real channel (email, webhook, in-app) in single-binary deployments.
type LogNotifier struct {
	log *zap.SugaredLogger
}

// NewLogNotifier creates a notifier that logs deliveries.
func NewLogNotifier(log *zap.SugaredLogger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(ctx context.Context, jobID, userID string, event Event) error {
	n.log.Infow("Job notification",
		"job_id", jobID,
		"user_id", userID,
		"event", string(event))
	return nil
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) Notify(ctx context.Context, jobID, userID string, event Event) error {
	return nil
}
