package audit

import (
	"io"

	"github.com/sirupsen/logrus"
)

// LogrusSink writes audit events as structured log lines on a dedicated
// logrus logger, keeping the audit stream separate from service logs.
type LogrusSink struct {
	logger *logrus.Logger
}

// NewLogrusSink creates a sink writing JSON-formatted events to out
func NewLogrusSink(out io.Writer) *LogrusSink {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)
	return &LogrusSink{logger: logger}
}

// WriteDecision logs a permission check event
func (s *LogrusSink) WriteDecision(event DecisionEvent) error {
	fields := logrus.Fields{
		"event_id":      event.ID,
		"event_type":    event.EventType,
		"user_id":       event.UserID,
		"tenant_id":     event.TenantID,
		"resource_type": event.Resource,
		"action":        event.Action,
		"granted":       event.Granted,
		"reason":        event.Reason,
		"latency_ms":    event.LatencyMs,
		"cache_hit":     event.CacheHit,
	}
	if event.EntityID != nil {
		fields["entity_id"] = *event.EntityID
	}
	if event.ResourceID != nil {
		fields["resource_id"] = *event.ResourceID
	}

	entry := s.logger.WithFields(fields)
	if event.Granted {
		entry.Info("permission granted")
	} else {
		entry.Warn("permission denied")
	}
	return nil
}

// WriteInvalidation logs a cache invalidation event
func (s *LogrusSink) WriteInvalidation(event InvalidationEvent) error {
	s.logger.WithFields(logrus.Fields{
		"event_id":   event.ID,
		"event_type": event.EventType,
		"scope":      event.Scope,
		"user_id":    event.UserID,
		"role_id":    event.RoleID,
		"holders":    event.Holders,
	}).Info("cache invalidated")
	return nil
}

// Close is a no-op; the underlying writer is owned by the caller
func (s *LogrusSink) Close() error {
	return nil
}

var _ Sink = (*LogrusSink)(nil)
