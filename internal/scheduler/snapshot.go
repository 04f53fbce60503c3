package scheduler

import (
	"sort"
	"time"

	"github.com/robfig/cron/v3"
)

// Snapshot returns next-fire times for all registered triggers, converted to
// the display zone and sorted by id. The result is a copy; concurrent
// mutation never invalidates it.
func (r *Registry) Snapshot() []Entry {
	type item struct {
		id      string
		spec    string
		entryID cron.EntryID
	}

	r.mu.Lock()
	c := r.c
	loc := r.displayLoc
	items := make([]item, 0, len(r.defs))
	for _, def := range r.defs {
		items = append(items, item{id: def.trig.ID, spec: def.spec, entryID: def.entryID})
	}
	r.mu.Unlock()

	if loc == nil {
		loc = time.Local
	}

	entries := make([]Entry, 0, len(items))
	for _, it := range items {
		e := Entry{ID: it.id, Spec: it.spec}
		if c != nil && it.entryID != 0 {
			ce := c.Entry(it.entryID)
			if !ce.Next.IsZero() {
				e.Next = ce.Next.In(loc)
			}
			if !ce.Prev.IsZero() {
				e.Prev = ce.Prev.In(loc)
			}
		} else if sched, err := r.parser.Parse(it.spec); err == nil {
			// Not started yet: compute the would-be next fire time.
			e.Next = sched.Next(time.Now()).In(loc)
		}
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}
