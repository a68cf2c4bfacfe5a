package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/commercekit/conduct/workflow"
)

// Logging returns an interceptor that logs run start and completion.
func Logging(logger *slog.Logger) workflow.Interceptor {
	return func(ctx context.Context, run *workflow.Run, next workflow.Handler) error {
		logger.Info("workflow started",
			slog.String("workflow", run.Name),
			slog.String("run_id", run.ID.String()),
			slog.String("correlation_id", run.CorrelationID),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("workflow failed",
				slog.String("workflow", run.Name),
				slog.String("run_id", run.ID.String()),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
			return err
		}

		logger.Info("workflow completed",
			slog.String("workflow", run.Name),
			slog.String("run_id", run.ID.String()),
			slog.Duration("elapsed", elapsed),
		)
		return nil
	}
}
