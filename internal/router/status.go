package router

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"sheetbot/internal/config"
	"sheetbot/internal/dispatch"
	"sheetbot/internal/scheduler"
	"sheetbot/internal/sheet"
	kit "sheetbot/internal/transport"
)

// StatusDeps are the read-only views the diagnostics command reports on.
type StatusDeps struct {
	Registry   *scheduler.Registry
	Source     sheet.Source
	Dispatcher *dispatch.Dispatcher
	Current    func() config.Schedule
	StartedAt  time.Time
	Version    string
}

// StatusCommand reports liveness, the live trigger schedule and a preview of
// what the next firings would send. It reads state only; nothing it does can
// mutate the schedule or deliver a group notification.
func StatusCommand(deps StatusDeps) Command {
	return Command{
		Name:        "status",
		Aliases:     []string{"ping"},
		Description: "liveness, schedule and today's matches",
		Access:      AccessAdminPrivate,
		Handle: func(ctx context.Context, req *Request) error {
			var b strings.Builder

			fmt.Fprintf(&b, "✅ alive, uptime %s", time.Since(deps.StartedAt).Round(time.Second))
			if deps.Version != "" {
				fmt.Fprintf(&b, " (%s)", deps.Version)
			}
			b.WriteByte('\n')

			sched := deps.Current()
			fmt.Fprintf(&b, "schedule: morning %s, evening %s (%s)\n",
				sched.Morning, sched.Evening, sched.Timezone)

			for _, e := range deps.Registry.Snapshot() {
				if e.Next.IsZero() {
					fmt.Fprintf(&b, "• %s: not scheduled\n", e.ID)
					continue
				}
				fmt.Fprintf(&b, "• %s: next %s\n", e.ID, e.Next.Format("2006-01-02 15:04 MST"))
			}

			b.WriteString(previewSection(ctx, deps, sched))

			_, err := req.Adapter.SendText(ctx, req.Chat, b.String(), &kit.SendOptions{DisablePreview: true})
			return err
		},
	}
}

func previewSection(ctx context.Context, deps StatusDeps, sched config.Schedule) string {
	loc, err := time.LoadLocation(sched.Timezone)
	if err != nil {
		loc = time.UTC
	}

	rows, err := deps.Source.FetchRows(ctx)
	if err != nil {
		return fmt.Sprintf("row source: unavailable (%v)\n", err)
	}
	items := sheet.TodaysItems(rows, time.Now().In(loc))

	var b strings.Builder
	fmt.Fprintf(&b, "rows: %d, matched today: %d\n", len(rows), len(items))
	if len(items) == 0 {
		return b.String()
	}

	texts, err := deps.Dispatcher.Render(dispatch.KindEvening, items)
	if err != nil {
		fmt.Fprintf(&b, "preview failed: %v\n", err)
		return b.String()
	}
	b.WriteString("would send:\n")
	for _, t := range texts {
		fmt.Fprintf(&b, "  %s\n", firstLine(t))
	}
	return b.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// HelpCommand lists the registered commands. Registered last so it sees the
// full set.
func HelpCommand(r *Router) Command {
	return Command{
		Name:        "help",
		Description: "list available commands",
		Access:      AccessAdminPrivate,
		Handle: func(ctx context.Context, req *Request) error {
			seen := map[string]bool{}
			var lines []string
			for _, c := range r.cmds {
				if seen[c.Name] {
					continue
				}
				seen[c.Name] = true
				lines = append(lines, fmt.Sprintf("/%s — %s", c.Name, c.Description))
			}
			sort.Strings(lines)
			_, err := req.Adapter.SendText(ctx, req.Chat, strings.Join(lines, "\n"), nil)
			return err
		},
	}
}
