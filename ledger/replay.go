package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// EventSource yields events in input order and io.EOF once drained.
// Records that cannot be decoded are reported with an error wrapping
// ErrMalformedEvent; any other error is an unreadable source.
type EventSource interface {
	Next() (TransactionEvent, error)
}

// MalformedPolicy decides what a malformed record does to the run.
type MalformedPolicy string

const (
	// AbortOnMalformed stops the run at the first malformed record.
	AbortOnMalformed MalformedPolicy = "abort"
	// SkipMalformed logs the record and continues with the next one.
	SkipMalformed MalformedPolicy = "skip"
)

func (p MalformedPolicy) Valid() bool {
	return p == AbortOnMalformed || p == SkipMalformed
}

// Replay drains src into the engine, one event at a time. It returns the
// run summary once src reports io.EOF. The run stops early, with an error,
// when ctx is cancelled, when src cannot be read, or on a malformed record
// under AbortOnMalformed.
//
// A completed run is recorded when the session store implements
// RunRecorder.
func (e *Engine) Replay(ctx context.Context, src EventSource, policy MalformedPolicy) (RunSummary, error) {
	skipped := 0
	for {
		if err := ctx.Err(); err != nil {
			return e.summary(skipped), err
		}

		ev, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if errors.Is(err, ErrMalformedEvent) && policy == SkipMalformed {
				skipped++
				e.log.Warn("malformed record skipped", zap.Error(err))
				continue
			}
			return e.summary(skipped), fmt.Errorf("read event: %w", err)
		}

		e.Apply(ctx, ev)
	}

	run := e.summary(skipped)
	e.log.Info("run complete",
		zap.Int("read", run.Read),
		zap.Int("applied", run.Applied),
		zap.Int("discarded", run.Discarded),
		zap.Int("failed", run.Failed),
		zap.Int("skipped", run.Skipped),
	)

	if rec, ok := e.session.Store.(RunRecorder); ok {
		if err := rec.RecordRun(ctx, run); err != nil {
			e.log.Warn("failed to record run", zap.Error(err))
		}
	}
	return run, nil
}

func (e *Engine) summary(skipped int) RunSummary {
	stats := e.stats
	stats.Read += skipped
	stats.Skipped = skipped
	return RunSummary{
		ID:         e.session.ID,
		StartedAt:  e.session.StartedAt,
		FinishedAt: e.session.Now(),
		Stats:      stats,
	}
}
