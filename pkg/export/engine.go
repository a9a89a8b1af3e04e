// Package export decides whether a log source has produced data since
// the last successful export and, when it has, requests a bulk export
// of exactly that window and advances the watermark.
package export

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prayosha-panchal-glean/CloudwatchLogExportAWSS3/pkg/watermark"
)

// fallbackWindow bounds the first export when neither a watermark nor a
// source creation time is available.
const fallbackWindow = 24 * time.Hour

// Outcome classifies one invocation.
type Outcome string

const (
	OutcomeExported Outcome = "exported"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
)

// Result is the structured outcome of one invocation. From/To describe
// the window attempted (or skipped). Partial marks the case where the
// export request was accepted but the watermark write failed; the next
// invocation re-exports an overlapping window instead of losing data.
type Result struct {
	Outcome Outcome
	From    int64
	To      int64
	TaskID  string
	Partial bool
	Err     error
}

// SourceAPI is the log source as the engine sees it: a probe for recent
// activity, a creation-time lookup for the fallback start, and the bulk
// export request itself.
type SourceAPI interface {
	LatestActivity(ctx context.Context) (int64, bool, error)
	CreationTime(ctx context.Context) (int64, bool, error)
	StartExport(ctx context.Context, from, to int64) (taskID string, err error)
}

// Engine runs the watermark-gated export decision for one source.
//
// Two invocations for the same source may overlap; there is no lease.
// Both would read the same watermark and both may export the same
// window. The failure mode is duplicate data in the destination, never
// a gap: the watermark only moves forward, and only after an accepted
// export request.
type Engine struct {
	SourceID   string
	Watermarks watermark.Store
	Source     SourceAPI
	Now        func() time.Time
	Logger     *slog.Logger
}

// Run executes one decision cycle. It never returns an error; failures
// are carried inside the Result so the caller can shape a response for
// a scheduler that has no exception path.
func (e *Engine) Run(ctx context.Context) Result {
	now := e.now().UnixMilli()

	from, err := e.Watermarks.Load(ctx, e.SourceID)
	if err != nil {
		if errors.Is(err, watermark.ErrNotFound) {
			// First export for this source: start at its creation time
			// when obtainable, else the 24h default.
			e.logger().Warn("no watermark recorded, using fallback start", "source", e.SourceID)
			from = e.fallbackStart(ctx, now)
		} else {
			// Corrupt or unreadable record: bound the re-export to the
			// 24h default window rather than the full source history.
			e.logger().Error("watermark read failed, using default window", "source", e.SourceID, "error", err)
			from = now - fallbackWindow.Milliseconds()
		}
	}

	// The window never includes the instant of invocation; events still
	// being written at now must land in the next window.
	to := now - 1

	if from >= to {
		e.logger().Info("window empty, skipping", "source", e.SourceID, "from", from, "to", to)
		return Result{Outcome: OutcomeSkipped, From: from, To: to}
	}

	latest, ok, err := e.Source.LatestActivity(ctx)
	if err != nil {
		// Fail safe: do not export on uncertain state.
		e.logger().Error("activity probe failed, skipping", "source", e.SourceID, "error", err)
		return Result{Outcome: OutcomeSkipped, From: from, To: to}
	}
	if !ok || latest <= from {
		e.logger().Info("no new activity, skipping", "source", e.SourceID, "latest", latest, "from", from)
		return Result{Outcome: OutcomeSkipped, From: from, To: to}
	}

	taskID, err := e.Source.StartExport(ctx, from, to)
	if err != nil {
		e.logger().Error("export request rejected", "source", e.SourceID, "from", from, "to", to, "error", err)
		return Result{Outcome: OutcomeFailed, From: from, To: to, Err: err}
	}

	if err := e.Watermarks.Save(ctx, e.SourceID, to); err != nil {
		// The export happened but the bookkeeping did not. Surface it so
		// operators can anticipate the overlapping re-export next tick.
		e.logger().Error("watermark write failed after accepted export", "source", e.SourceID, "task", taskID, "to", to, "error", err)
		return Result{Outcome: OutcomeFailed, From: from, To: to, TaskID: taskID, Partial: true, Err: err}
	}

	e.logger().Info("export task created", "source", e.SourceID, "task", taskID, "from", from, "to", to)
	return Result{Outcome: OutcomeExported, From: from, To: to, TaskID: taskID}
}

// fallbackStart resolves where the first export begins: the source's
// recorded creation time when obtainable, else now minus 24 hours.
func (e *Engine) fallbackStart(ctx context.Context, now int64) int64 {
	created, ok, err := e.Source.CreationTime(ctx)
	if err != nil {
		e.logger().Error("creation time lookup failed", "source", e.SourceID, "error", err)
	} else if ok {
		return created
	}
	return now - fallbackWindow.Milliseconds()
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}
