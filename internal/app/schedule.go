package app

import (
	"context"

	"sheetbot/internal/config"
	"sheetbot/internal/dispatch"
	"sheetbot/internal/scheduler"
	kit "sheetbot/internal/transport"
)

// scheduleApplier installs the notification triggers and dispatch target for
// sampled schedule settings. It has no handle on the reload trigger: that one
// is registered once at startup and nothing on the sampling path can replace
// or remove it.
type scheduleApplier struct {
	registry   *scheduler.Registry
	dispatcher *dispatch.Dispatcher
	morningJob func(ctx context.Context) error
	eveningJob func(ctx context.Context) error
}

// Apply upserts the morning/evening triggers and retargets dispatch. Called
// at startup and on every accepted watcher sample; a rejected trigger leaves
// the previous one in place.
func (p *scheduleApplier) Apply(s config.Schedule) error {
	p.registry.SetDisplayZone(s.Timezone)

	if err := p.registry.Upsert(scheduler.Trigger{
		ID:       triggerMorning,
		Hour:     s.Morning.Hour,
		Minute:   s.Morning.Minute,
		Timezone: s.Timezone,
		Job:      p.morningJob,
	}); err != nil {
		return err
	}
	if err := p.registry.Upsert(scheduler.Trigger{
		ID:       triggerEvening,
		Hour:     s.Evening.Hour,
		Minute:   s.Evening.Minute,
		Timezone: s.Timezone,
		Job:      p.eveningJob,
	}); err != nil {
		return err
	}

	p.dispatcher.SetTarget(kit.ChatTarget{ChatID: s.ChatID})
	return nil
}
