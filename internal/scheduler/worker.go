package scheduler

import (
	"context"
	"runtime/debug"
	"time"

	logx "sheetbot/pkg/logx"
)

func (r *Registry) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan task, idx int) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("panic in scheduler worker",
				logx.Int("worker", idx),
				logx.Any("panic", rec),
				logx.String("stack", string(debug.Stack())),
			)
		}
	}()
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case t := <-queue:
			r.execOne(ctx, t)
		}
	}
}

func (r *Registry) execOne(ctx context.Context, t task) {
	start := time.Now()

	// The fire-time check in addCronLocked cannot see a firing that is still
	// waiting in the queue, so the claim has to be atomic here: whichever
	// worker sets running first wins, the other drops its task.
	t.state.mu.Lock()
	if t.state.running {
		t.state.mu.Unlock()
		r.log.Warn("trigger already running; dropping queued firing", logx.String("id", t.id))
		return
	}
	t.state.running = true
	t.state.mu.Unlock()
	defer func() {
		t.state.mu.Lock()
		t.state.running = false
		t.state.mu.Unlock()
	}()

	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("panic in trigger job",
				logx.String("id", t.id),
				logx.Any("panic", rec),
				logx.String("stack", string(debug.Stack())),
			)
		}
	}()

	err := t.run(ctx)
	dur := time.Since(start)
	if err != nil {
		// A failed firing is retried naturally at the next scheduled time,
		// never immediately.
		r.log.Warn("trigger job failed", logx.String("id", t.id), logx.Err(err), logx.Duration("dur", dur))
		return
	}
	r.log.Info("trigger job completed", logx.String("id", t.id), logx.Duration("dur", dur))
}
