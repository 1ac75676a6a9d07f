package loader

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// CleanupFailed drops tables of failed tasks that the decider approves.
// Tasks that succeeded are never touched. Lookup and drop errors are logged
// and collected; cleanup continues with the next task.
func CleanupFailed(ctx context.Context, storage Storage, result *QueueResult, logger *zap.Logger) ([]TableID, error) {
	if result == nil {
		return nil, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		decider FailedLoadTableDecider
		dropped []TableID
		errs    []error
	)
	for _, o := range result.Outcomes {
		if o.Succeeded() {
			continue
		}
		dest := o.Task.Destination()
		drop, err := decider.Decide(ctx, o.Task, storage)
		if err != nil {
			logger.Warn("cannot inspect table after failed load", zap.String("table", dest.String()), zap.Error(err))
			errs = append(errs, fmt.Errorf("inspect %s: %w", dest, err))
			continue
		}
		if !drop {
			continue
		}
		if err := storage.DropTable(ctx, dest); err != nil {
			logger.Warn("cannot drop table after failed load", zap.String("table", dest.String()), zap.Error(err))
			errs = append(errs, fmt.Errorf("drop %s: %w", dest, err))
			continue
		}
		logger.Info("dropped table created by failed load", zap.String("table", dest.String()))
		dropped = append(dropped, dest)
	}
	if len(errs) > 0 {
		return dropped, errors.Join(errs...)
	}
	return dropped, nil
}
