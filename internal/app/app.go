// Package app assembles the bot: transport, scheduler, sheet client, config
// watcher and dispatcher, and owns their lifecycle.
package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"sheetbot/internal/config"
	"sheetbot/internal/dispatch"
	"sheetbot/internal/router"
	"sheetbot/internal/scheduler"
	"sheetbot/internal/sheet"
	"sheetbot/internal/storage"
	kit "sheetbot/internal/transport"
	"sheetbot/internal/transport/telegram"
	logx "sheetbot/pkg/logx"
)

// Trigger ids. The reload trigger is installed once at startup and is never
// touched by the config watcher, so a reload can always fire even after a bad
// schedule sample.
const (
	triggerMorning = "notify:morning"
	triggerEvening = "notify:evening"
	triggerReload  = "reload:daily"
)

const jobTimeout = 2 * time.Minute

type Options struct {
	EnvPath    string
	ConfigPath string
	Version    string
}

type App struct {
	opts Options

	logSvc *logx.Service
	log    logx.Logger

	watcher    *config.Watcher
	store      storage.Store
	sheets     *sheet.Client
	adapter    *telegram.Adapter
	registry   *scheduler.Registry
	dispatcher *dispatch.Dispatcher
	applier    *scheduleApplier
	router     *router.Router

	// botToken is written once in New; reloadJob only compares against it.
	botToken string

	updates chan kit.Update
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(opts Options) (*App, error) {
	if err := config.LoadDotenv(opts.EnvPath); err != nil {
		return nil, fmt.Errorf("load env file: %w", err)
	}
	sched, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	fileCfg, err := config.LoadFile(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config file: %w", err)
	}

	logSvc, log := logx.New(logConfig(fileCfg))

	a := &App{
		opts:   opts,
		logSvc: logSvc,
		log:    log,
	}

	a.store, err = storage.Open(storage.Config{
		Driver: fileCfg.Storage.Driver,
		Path:   fileCfg.Storage.Path,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	a.sheets = sheet.NewClient(a.sheetConfig(fileCfg), a.store, log.With(logx.String("comp", "sheet")))

	pollTimeout, err := config.ParseDurationField("telegram.poll_timeout", fileCfg.Telegram.PollTimeout)
	if err != nil {
		return nil, err
	}
	a.botToken = os.Getenv(config.EnvBotToken)
	a.adapter, err = telegram.New(telegram.Config{
		Token:       a.botToken,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}

	a.dispatcher, err = dispatch.New(dispatch.Config{
		MorningTemplate: fileCfg.Dispatch.MorningTemplate,
		EveningTemplate: fileCfg.Dispatch.EveningTemplate,
		RatePerSec:      fileCfg.Dispatch.RatePerSec,
	}, a.adapter, log.With(logx.String("comp", "dispatch")))
	if err != nil {
		return nil, err
	}

	a.registry = scheduler.New(log.With(logx.String("comp", "scheduler")))
	a.applier = &scheduleApplier{
		registry:   a.registry,
		dispatcher: a.dispatcher,
		morningJob: a.notifyJob(dispatch.KindMorning),
		eveningJob: a.notifyJob(dispatch.KindEvening),
	}
	a.watcher = config.NewWatcher(opts.EnvPath, sched, log.With(logx.String("comp", "config")))

	a.router = router.New(a.adapter, a.watcher.Current, log.With(logx.String("comp", "router")))
	a.router.Register(router.StatusCommand(router.StatusDeps{
		Registry:   a.registry,
		Source:     a.sheets,
		Dispatcher: a.dispatcher,
		Current:    a.watcher.Current,
		StartedAt:  time.Now(),
		Version:    opts.Version,
	}))
	a.router.Register(router.HelpCommand(a.router))

	return a, nil
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	sched := a.watcher.Current()
	if err := a.applier.Apply(sched); err != nil {
		cancel()
		return err
	}
	if err := a.registry.Upsert(scheduler.Trigger{
		ID:       triggerReload,
		Hour:     sched.Reload.Hour,
		Minute:   sched.Reload.Minute,
		Timezone: sched.Timezone,
		Job:      a.reloadJob,
	}); err != nil {
		cancel()
		return err
	}
	a.dispatcher.SetSheetURL(a.sheets.SpreadsheetURL())

	a.updates = make(chan kit.Update, 64)
	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		cancel()
		return err
	}
	a.registry.Start(runCtx)

	a.wg.Add(3)
	go func() {
		defer a.wg.Done()
		a.watcher.Run(runCtx)
	}()
	go func() {
		defer a.wg.Done()
		a.router.Run(runCtx, a.updates)
	}()
	go func() {
		defer a.wg.Done()
		a.consumeScheduleUpdates(runCtx)
	}()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("bot started",
		logx.String("morning", sched.Morning.String()),
		logx.String("evening", sched.Evening.String()),
		logx.String("tz", sched.Timezone),
		logx.Int64("chat_id", sched.ChatID),
	)
	return nil
}

func (a *App) Stop(ctx context.Context) {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	if a.cancel != nil {
		a.cancel()
	}
	a.registry.Stop(ctx)
	_ = a.adapter.Stop(ctx)
	a.wg.Wait()
	if a.store != nil {
		_ = a.store.Close()
	}
	_ = a.logSvc.Close()
}

// consumeScheduleUpdates applies changed environment samples to the live
// triggers. The reload trigger is deliberately not re-registered here.
func (a *App) consumeScheduleUpdates(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case sched, ok := <-a.watcher.Updates():
			if !ok {
				return
			}
			if err := a.applier.Apply(sched); err != nil {
				a.log.Warn("schedule update not applied", logx.Err(err))
			}
		}
	}
}

// notifyJob builds the trigger body for one notification kind: fetch rows,
// match today, dispatch. A fetch failure aborts the firing; the next scheduled
// one retries naturally.
func (a *App) notifyJob(kind dispatch.Kind) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		jctx, cancel := context.WithTimeout(ctx, jobTimeout)
		defer cancel()

		rows, err := a.sheets.FetchRows(jctx)
		if err != nil {
			return fmt.Errorf("fetch rows: %w", err)
		}

		tz := a.watcher.Current().Timezone
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("timezone %q: %w", tz, err)
		}

		items := sheet.TodaysItems(rows, time.Now().In(loc))
		a.log.Debug("rows scanned",
			logx.String("kind", string(kind)),
			logx.Int("rows", len(rows)),
			logx.Int("matched", len(items)),
		)
		a.dispatcher.Notify(jctx, kind, items)
		return nil
	}
}

// reloadJob is the daily refresh. In-process mode re-reads the config file
// and the environment and swaps credentials into the running components. Hard
// mode exits cleanly instead and relies on the service supervisor to restart
// the process.
func (a *App) reloadJob(ctx context.Context) error {
	if a.watcher.Current().ReloadHard {
		a.log.Info("daily reload: exiting for supervised restart")
		_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
		os.Exit(0)
	}

	if err := config.LoadDotenv(a.opts.EnvPath); err != nil {
		return fmt.Errorf("reload env file: %w", err)
	}

	fileCfg, err := config.LoadFile(a.opts.ConfigPath)
	if err != nil {
		// Keep running on the previous file config rather than half-applying.
		return fmt.Errorf("reload config file: %w", err)
	}

	a.logSvc.Apply(logConfig(fileCfg))
	if err := a.dispatcher.Apply(dispatch.Config{
		MorningTemplate: fileCfg.Dispatch.MorningTemplate,
		EveningTemplate: fileCfg.Dispatch.EveningTemplate,
		RatePerSec:      fileCfg.Dispatch.RatePerSec,
	}); err != nil {
		return fmt.Errorf("reload dispatch config: %w", err)
	}

	a.sheets.Reload(a.sheetConfig(fileCfg))
	a.dispatcher.SetSheetURL(a.sheets.SpreadsheetURL())

	// Pick up changed fire times right away instead of waiting for the next
	// watcher tick; an accepted sample flows back through applySchedule.
	a.watcher.Resample()

	if tok := os.Getenv(config.EnvBotToken); tok != a.botToken {
		// telebot cannot swap tokens on a live bot.
		a.log.Warn("bot token changed in environment; restart required to apply")
	}

	a.log.Info("daily reload completed")
	return nil
}

// logConfig maps the file config to a log service config. LOG_LEVEL in the
// environment overrides the file setting.
func logConfig(fileCfg *config.File) logx.Config {
	level := fileCfg.Logging.Level
	if env := strings.TrimSpace(os.Getenv(config.EnvLogLevel)); env != "" {
		level = env
	}
	return logx.Config{
		Level:   level,
		Console: fileCfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: fileCfg.Logging.File.Enabled,
			Path:    fileCfg.Logging.File.Path,
		},
	}
}

func (a *App) sheetConfig(fileCfg *config.File) sheet.ClientConfig {
	return sheet.ClientConfig{
		SpreadsheetID:   os.Getenv(config.EnvSpreadsheetID),
		CredentialsJSON: os.Getenv(config.EnvCredentials),
		Range:           fileCfg.Sheet.Range,
	}
}
