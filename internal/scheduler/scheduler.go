// Package scheduler owns the live set of time-of-day triggers.
//
// Triggers are registered under a stable id ("notify:morning") and can be
// replaced at runtime: Upsert removes the previous entry and installs the new
// one inside a single critical section, so diagnostics never observe the id
// missing. Firing is fire-and-forget onto a small worker pool; a trigger is
// never re-entered concurrently for the same id.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "sheetbot/pkg/logx"
)

// Trigger is one recurring time-of-day firing rule bound to a job.
type Trigger struct {
	ID       string
	Hour     int
	Minute   int
	Timezone string // IANA zone; the trigger fires at Hour:Minute in this zone
	Job      func(ctx context.Context) error
}

func (t Trigger) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("trigger id required")
	}
	if t.Job == nil {
		return errors.New("trigger job required")
	}
	if t.Hour < 0 || t.Hour > 23 {
		return fmt.Errorf("trigger %s: hour %d out of range", t.ID, t.Hour)
	}
	if t.Minute < 0 || t.Minute > 59 {
		return fmt.Errorf("trigger %s: minute %d out of range", t.ID, t.Minute)
	}
	if tz := strings.TrimSpace(t.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("trigger %s: unknown timezone %q", t.ID, tz)
		}
	}
	return nil
}

// cronSpec renders the trigger as a 5-field spec, carrying the zone in a
// CRON_TZ prefix so every trigger can live on its own clock.
func (t Trigger) cronSpec() string {
	spec := fmt.Sprintf("%d %d * * *", t.Minute, t.Hour)
	if tz := strings.TrimSpace(t.Timezone); tz != "" {
		spec = "CRON_TZ=" + tz + " " + spec
	}
	return spec
}

// Entry is one row of a schedule snapshot: a copy, never a live view.
type Entry struct {
	ID   string
	Spec string
	Next time.Time
	Prev time.Time
}

type runState struct {
	mu      sync.Mutex
	running bool
}

type triggerDef struct {
	trig    Trigger
	spec    string
	entryID cron.EntryID
	state   *runState
}

type task struct {
	id    string
	run   func(ctx context.Context) error
	state *runState
}

// Registry is the single owner of all live triggers. All mutation and all
// reads go through its synchronized operations.
type Registry struct {
	mu sync.Mutex

	log    logx.Logger
	parser cron.Parser
	c      *cron.Cron
	defs   map[string]*triggerDef

	workers int
	queue   chan task
	stopCh  chan struct{}
	runCtx  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	displayLoc *time.Location
}

func New(log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		log:        log,
		parser:     cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		defs:       map[string]*triggerDef{},
		workers:    2,
		displayLoc: time.Local,
	}
}

// SetDisplayZone sets the zone used to render next-fire times in snapshots.
func (r *Registry) SetDisplayZone(tz string) {
	loc, err := time.LoadLocation(strings.TrimSpace(tz))
	if err != nil {
		r.log.Warn("invalid display timezone; keeping previous", logx.String("tz", tz), logx.Err(err))
		return
	}
	r.mu.Lock()
	r.displayLoc = loc
	r.mu.Unlock()
}

// Upsert installs or atomically replaces a trigger by id. Safe to call from
// the config watcher concurrently with firings and snapshot reads.
func (r *Registry) Upsert(t Trigger) error {
	if err := t.Validate(); err != nil {
		return err
	}
	spec := t.cronSpec()

	r.mu.Lock()
	defer r.mu.Unlock()

	old, hadOld := r.defs[t.ID]
	if hadOld && r.c != nil && old.entryID != 0 {
		r.c.Remove(old.entryID)
	}

	def := &triggerDef{trig: t, spec: spec, state: &runState{}}
	if r.c != nil {
		if err := r.addCronLocked(def); err != nil {
			// Reinstall the previous trigger rather than leaving a hole.
			if hadOld {
				old.entryID = 0
				if rerr := r.addCronLocked(old); rerr != nil {
					r.log.Error("failed restoring previous trigger", logx.String("id", t.ID), logx.Err(rerr))
				}
			}
			return fmt.Errorf("trigger %s: %w", t.ID, err)
		}
	}
	r.defs[t.ID] = def
	r.log.Debug("trigger registered", logx.String("id", t.ID), logx.String("spec", spec))
	return nil
}

// Remove unschedules the trigger with the given id. Removing an unknown id
// is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	def, ok := r.defs[id]
	if !ok {
		return
	}
	if r.c != nil && def.entryID != 0 {
		r.c.Remove(def.entryID)
	}
	delete(r.defs, id)
	r.log.Debug("trigger removed", logx.String("id", id))
}

// Start brings up the cron loop and the worker pool, registering any
// triggers added before Start.
func (r *Registry) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopCh != nil {
		return
	}
	r.stopCh = make(chan struct{})
	r.runCtx, r.cancel = context.WithCancel(ctx)
	r.queue = make(chan task, 16)

	r.c = cron.New(cron.WithParser(r.parser))
	for _, def := range r.defs {
		if err := r.addCronLocked(def); err != nil {
			r.log.Error("trigger register failed", logx.String("id", def.trig.ID), logx.Err(err))
		}
	}

	runCtx := r.runCtx
	stopCh := r.stopCh
	queue := r.queue
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go func(idx int) {
			defer r.wg.Done()
			r.worker(runCtx, stopCh, queue, idx)
		}(i)
	}
	r.c.Start()
	r.log.Info("scheduler started", logx.Int("workers", r.workers), logx.Int("triggers", len(r.defs)))
}

// Stop halts firing. Registered definitions are kept so a later Start
// resumes them.
func (r *Registry) Stop(ctx context.Context) {
	r.mu.Lock()
	if r.stopCh == nil {
		r.mu.Unlock()
		return
	}
	stopCh := r.stopCh
	cancel := r.cancel
	c := r.c
	r.stopCh = nil
	r.cancel = nil
	r.c = nil
	r.queue = nil
	for _, def := range r.defs {
		def.entryID = 0
	}
	r.mu.Unlock()

	close(stopCh)
	if cancel != nil {
		cancel()
	}
	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	r.wg.Wait()
	r.log.Info("scheduler stopped")
}

// addCronLocked registers def with the running cron. Call with r.mu held.
func (r *Registry) addCronLocked(def *triggerDef) error {
	id := def.trig.ID
	state := def.state
	job := def.trig.Job
	eid, err := r.c.AddFunc(def.spec, func() {
		// No concurrent re-entry per trigger id: if the previous run is
		// still going, this firing is skipped, not queued behind it.
		state.mu.Lock()
		running := state.running
		state.mu.Unlock()
		if running {
			r.log.Warn("trigger skipped (previous run still running)", logx.String("id", id))
			return
		}
		r.enqueue(task{id: id, run: job, state: state})
	})
	if err != nil {
		return err
	}
	def.entryID = eid
	return nil
}

func (r *Registry) enqueue(t task) {
	r.mu.Lock()
	q := r.queue
	r.mu.Unlock()
	if q == nil {
		r.log.Debug("scheduler not running; dropping firing", logx.String("id", t.id))
		return
	}
	select {
	case q <- t:
	default:
		r.log.Warn("scheduler queue full; dropping firing", logx.String("id", t.id))
	}
}
