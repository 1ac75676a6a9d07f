package loader

import (
	"context"
)

// FailedLoadTableDecider decides whether a table left behind by a failed
// load should be dropped.
type FailedLoadTableDecider struct{}

// Decide returns true only when the task created the table in this run, the
// table holds no rows, and it has no metadata at all. Table metadata is only
// written after a successful load, so its absence proves no load ever
// completed. A table that cannot be found is never reported for drop; other
// lookup errors are returned together with false.
func (FailedLoadTableDecider) Decide(ctx context.Context, task *LoadTask, lookup TableInfoLookup) (bool, error) {
	if !task.FreshlyCreated() {
		return false, nil
	}
	info, err := lookup.GetTable(ctx, task.Destination())
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if info.RowsCount != nil && *info.RowsCount != 0 {
		return false, nil
	}
	return len(info.Metadata) == 0, nil
}
