package audit

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"
)

// LogrusLogger emits audit events as structured log lines. It is the
// default destination for deployments that ship audit trails through
// the normal log pipeline.
type LogrusLogger struct {
	logger *logrus.Logger
}

// NewLogrusLogger creates a logrus-backed audit logger writing JSON to
// output.
func NewLogrusLogger(output io.Writer) *LogrusLogger {
	logger := logrus.New()
	logger.SetOutput(output)
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	logger.SetLevel(logrus.InfoLevel)
	return &LogrusLogger{logger: logger}
}

// Log records an audit event as one log line.
func (l *LogrusLogger) Log(ctx context.Context, event *Event) error {
	stamp(event)

	fields := logrus.Fields{
		"audit_id":        event.ID,
		"event_type":      event.Type,
		"actor_id":        event.ActorID,
		"organization_id": event.OrganizationID,
		"project_id":      event.ProjectID,
		"allowed":         event.Allowed,
	}
	if event.TargetUserID != nil {
		fields["target_user_id"] = *event.TargetUserID
	}
	if event.Resource != "" {
		fields["resource"] = event.Resource
	}
	if event.Action != "" {
		fields["action"] = event.Action
	}
	if event.Reason != "" {
		fields["reason"] = event.Reason
	}
	if event.MatchedRule != "" {
		fields["matched_rule"] = event.MatchedRule
	}
	if event.RequestID != "" {
		fields["request_id"] = event.RequestID
	}
	for k, v := range event.Metadata {
		fields["meta_"+k] = v
	}

	entry := l.logger.WithFields(fields)
	if event.Allowed {
		entry.Info(event.messageOrDefault())
	} else {
		entry.Warn(event.messageOrDefault())
	}
	return nil
}

// Close is a no-op; the underlying writer is owned by the caller.
func (l *LogrusLogger) Close() error {
	return nil
}

func (e *Event) messageOrDefault() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Type)
}
