package notify

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Kind classifies a notification
type Kind string

const (
	KindAlert    Kind = "alert"
	KindProgress Kind = "progress"
	KindRun      Kind = "run"
)

// Severity levels follow the alert list of the dashboard
const (
	SeverityLow      = "low"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Notification is an event raised during an ingestion run
type Notification struct {
	Kind      Kind      `json:"kind"`
	RunID     string    `json:"run_id"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	Timestamp string    `json:"timestamp,omitempty"`
	Papp      float64   `json:"papp,omitempty"`
	Threshold float64   `json:"threshold,omitempty"`
	Done      int       `json:"done,omitempty"`
	Total     int       `json:"total,omitempty"`
	State     string    `json:"state,omitempty"`
	RaisedAt  time.Time `json:"raised_at"`
}

// Notifier delivers notifications
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the structured log
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a notifier backed by logger
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs n; alerts are logged at warn level
func (l *LogNotifier) Notify(_ context.Context, n Notification) error {
	fields := []zap.Field{
		zap.String("kind", string(n.Kind)),
		zap.String("run_id", n.RunID),
		zap.String("severity", n.Severity),
	}
	switch n.Kind {
	case KindAlert:
		l.logger.Warn("ALERT: "+n.Message, append(fields,
			zap.String("timestamp", n.Timestamp),
			zap.Float64("papp", n.Papp),
			zap.Float64("threshold", n.Threshold),
		)...)
	case KindProgress:
		l.logger.Info("SAVE: "+n.Message, append(fields, zap.Int("done", n.Done), zap.Int("total", n.Total))...)
	default:
		l.logger.Debug(n.Message, append(fields, zap.String("state", n.State))...)
	}
	return nil
}

// Fanout delivers to every notifier and joins their errors
type Fanout []Notifier

// Notify calls each notifier in order
func (f Fanout) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range f {
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
