package coordinator

import (
	"context"

	"go.uber.org/zap"

	"github.com/docuflow/ingest-backend/pkg/logger"
	"github.com/docuflow/ingest-backend/pkg/repository"
)

// Notifier receives a callback after every processing-state write. This is
// the hook point for future real-time subscribers; push-based delivery is
// out of scope, so the default implementation only emits a log event.
type Notifier interface {
	StateChanged(ctx context.Context, state *repository.ProcessingState)
}

type logNotifier struct{}

// NewLogNotifier returns the default log-emitting Notifier.
func NewLogNotifier() Notifier {
	return logNotifier{}
}

func (logNotifier) StateChanged(ctx context.Context, state *repository.ProcessingState) {
	log, _ := logger.GetZapLogger(ctx)
	fields := []zap.Field{
		zap.String("documentID", state.DocumentID),
		zap.String("status", string(state.Status)),
	}
	if state.ProgressUnmarshal != nil {
		fields = append(fields,
			zap.String("currentStep", state.ProgressUnmarshal.CurrentStep),
			zap.Int("percentage", state.ProgressUnmarshal.Percentage))
	}
	if state.Error != "" {
		fields = append(fields, zap.String("error", state.Error))
	}
	log.Info("state_changed", fields...)
}
