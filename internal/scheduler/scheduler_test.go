package scheduler

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	logx "sheetbot/pkg/logx"
)

func nopJob(ctx context.Context) error { return nil }

func TestTriggerValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		trig    Trigger
		wantErr bool
	}{
		{name: "ok", trig: Trigger{ID: "notify:morning", Hour: 11, Minute: 0, Job: nopJob}},
		{name: "ok with zone", trig: Trigger{ID: "x", Hour: 18, Minute: 30, Timezone: "Europe/Moscow", Job: nopJob}},
		{name: "empty id", trig: Trigger{Hour: 1, Job: nopJob}, wantErr: true},
		{name: "nil job", trig: Trigger{ID: "x", Hour: 1}, wantErr: true},
		{name: "hour too big", trig: Trigger{ID: "x", Hour: 24, Job: nopJob}, wantErr: true},
		{name: "negative minute", trig: Trigger{ID: "x", Minute: -1, Job: nopJob}, wantErr: true},
		{name: "bad zone", trig: Trigger{ID: "x", Timezone: "Mars/Olympus", Job: nopJob}, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := tt.trig.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCronSpec(t *testing.T) {
	t.Parallel()
	trig := Trigger{ID: "x", Hour: 7, Minute: 30, Timezone: "Europe/Moscow", Job: nopJob}
	if got := trig.cronSpec(); got != "CRON_TZ=Europe/Moscow 30 7 * * *" {
		t.Fatalf("cronSpec() = %q", got)
	}
	trig.Timezone = ""
	if got := trig.cronSpec(); got != "30 7 * * *" {
		t.Fatalf("cronSpec() without zone = %q", got)
	}
}

func TestUpsertSnapshot(t *testing.T) {
	t.Parallel()
	r := New(logx.Nop())
	r.SetDisplayZone("UTC")

	if err := r.Upsert(Trigger{ID: "notify:morning", Hour: 11, Job: nopJob}); err != nil {
		t.Fatal(err)
	}
	if err := r.Upsert(Trigger{ID: "notify:evening", Hour: 18, Job: nopJob}); err != nil {
		t.Fatal(err)
	}

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot has %d entries, want 2", len(snap))
	}
	// Sorted by id: evening before morning.
	if snap[0].ID != "notify:evening" || snap[1].ID != "notify:morning" {
		t.Fatalf("snapshot order: %s, %s", snap[0].ID, snap[1].ID)
	}
	for _, e := range snap {
		if e.Next.IsZero() {
			t.Fatalf("entry %s has no next fire time", e.ID)
		}
		if e.Next.Before(time.Now().Add(-time.Minute)) {
			t.Fatalf("entry %s next fire time %v is in the past", e.ID, e.Next)
		}
	}
}

func TestUpsertReplacesById(t *testing.T) {
	t.Parallel()
	r := New(logx.Nop())
	if err := r.Upsert(Trigger{ID: "notify:morning", Hour: 11, Job: nopJob}); err != nil {
		t.Fatal(err)
	}
	if err := r.Upsert(Trigger{ID: "notify:evening", Hour: 18, Job: nopJob}); err != nil {
		t.Fatal(err)
	}

	// Reconfigure only the evening time.
	if err := r.Upsert(Trigger{ID: "notify:evening", Hour: 19, Job: nopJob}); err != nil {
		t.Fatal(err)
	}

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot has %d entries after replace, want 2", len(snap))
	}
	for _, e := range snap {
		switch e.ID {
		case "notify:evening":
			if !strings.Contains(e.Spec, "0 19 ") {
				t.Fatalf("evening spec = %q, want 19:00", e.Spec)
			}
		case "notify:morning":
			if !strings.Contains(e.Spec, "0 11 ") {
				t.Fatalf("morning spec = %q, morning must be untouched", e.Spec)
			}
		}
	}
}

func TestUpsertRejectsInvalid(t *testing.T) {
	t.Parallel()
	r := New(logx.Nop())
	if err := r.Upsert(Trigger{ID: "x", Hour: 99, Job: nopJob}); err == nil {
		t.Fatal("expected error for invalid hour")
	}
	if len(r.Snapshot()) != 0 {
		t.Fatal("invalid trigger must not be registered")
	}
}

func TestRemoveIdempotent(t *testing.T) {
	t.Parallel()
	r := New(logx.Nop())
	if err := r.Upsert(Trigger{ID: "x", Hour: 1, Job: nopJob}); err != nil {
		t.Fatal(err)
	}
	r.Remove("x")
	r.Remove("x")
	r.Remove("never-existed")
	if len(r.Snapshot()) != 0 {
		t.Fatal("removed trigger still visible")
	}
}

func TestQueuedFiringsNeverOverlapPerTrigger(t *testing.T) {
	t.Parallel()
	r := New(logx.Nop())
	r.Start(context.Background())

	// Two firings of the same trigger id sitting in the queue at once: the
	// fire-time overlap check cannot catch this case, the workers must.
	var active, peak, runs int32
	release := make(chan struct{})
	job := func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		cur := atomic.AddInt32(&active, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
				break
			}
		}
		<-release
		atomic.AddInt32(&active, -1)
		return nil
	}

	state := &runState{}
	r.enqueue(task{id: "notify:morning", run: job, state: state})
	r.enqueue(task{id: "notify:morning", run: job, state: state})

	// Let both workers pick up their tasks before releasing the first run.
	time.Sleep(200 * time.Millisecond)
	close(release)

	deadline := time.Now().Add(5 * time.Second)
	for atomic.LoadInt32(&active) != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.Stop(stopCtx)

	// Sequential execution of both firings is acceptable; concurrent is not.
	if got := atomic.LoadInt32(&peak); got != 1 {
		t.Fatalf("same trigger id ran %d times concurrently, want at most 1", got)
	}
	if got := atomic.LoadInt32(&runs); got < 1 || got > 2 {
		t.Fatalf("unexpected run count %d", got)
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	r := New(logx.Nop())
	if err := r.Upsert(Trigger{ID: "x", Hour: 3, Minute: 15, Job: nopJob}); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	r.Start(ctx)
	// Upsert against the running cron must land immediately.
	if err := r.Upsert(Trigger{ID: "y", Hour: 4, Job: nopJob}); err != nil {
		t.Fatal(err)
	}
	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot has %d entries while running, want 2", len(snap))
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	r.Stop(stopCtx)

	// Definitions survive a stop; next fire times fall back to computed ones.
	snap = r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot has %d entries after stop, want 2", len(snap))
	}
	for _, e := range snap {
		if e.Next.IsZero() {
			t.Fatalf("entry %s lost its next fire time after stop", e.ID)
		}
	}
}
