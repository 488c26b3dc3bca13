// Package monitor runs the periodic sampling tasks: each samples telemetry,
// records one line and hands the readings to its mitigation controllers.
package monitor

import (
	"context"
	"time"

	"codeberg.org/mutker/edgegov/internal/clock"
	"codeberg.org/mutker/edgegov/internal/logger"
)

// Task is one sampling iteration.
type Task interface {
	Tick(ctx context.Context)
}

// Loop runs a Task, then waits the full interval before the next
// iteration. Slow iterations stretch the period; there is no drift
// compensation.
type Loop struct {
	name     string
	task     Task
	interval time.Duration
	clock    clock.Clock
}

func NewLoop(name string, task Task, interval time.Duration, clk clock.Clock) *Loop {
	if clk == nil {
		clk = clock.Real()
	}

	return &Loop{name: name, task: task, interval: interval, clock: clk}
}

// Run blocks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	logger.Info().Str("monitor", l.name).Dur("interval", l.interval).Msg("Starting monitor")

	for ctx.Err() == nil {
		l.task.Tick(ctx)

		select {
		case <-ctx.Done():
		case <-l.clock.After(l.interval):
		}
	}

	logger.Info().Str("monitor", l.name).Msg("Monitor stopped")
}
