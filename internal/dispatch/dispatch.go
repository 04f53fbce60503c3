// Package dispatch renders and sends the scheduled notifications.
//
// Delivery is best-effort and at-most-once: a failed send is logged and
// dropped; the next scheduled firing is the retry. One evening message is
// sent per matched item so each value gets its own delivery confirmation.
package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"text/template"

	"golang.org/x/time/rate"

	kit "sheetbot/internal/transport"
	logx "sheetbot/pkg/logx"
)

type Kind string

const (
	KindMorning Kind = "morning"
	KindEvening Kind = "evening"
)

// Default templates mirror the production announcement texts.
const (
	defaultMorningTemplate = "☀️ Всем доброго дня!) Записываемся на занятия:\n{{.SheetURL}}"
	defaultEveningTemplate = "🌙 Подводим итоги — по {{.Item}}р. Приносите наличными до конца недели."
)

type Config struct {
	MorningTemplate string
	EveningTemplate string
	RatePerSec      int
}

type templateData struct {
	Item     string
	SheetURL string
}

// Dispatcher renders matched items into messages and hands them to the
// transport adapter. It holds no per-firing state.
type Dispatcher struct {
	adapter kit.Adapter
	log     logx.Logger

	mu       sync.Mutex
	morning  *template.Template
	evening  *template.Template
	limiter  *rate.Limiter
	target   kit.ChatTarget
	sheetURL string
}

func New(cfg Config, adapter kit.Adapter, log logx.Logger) (*Dispatcher, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{adapter: adapter, log: log}
	if err := d.Apply(cfg); err != nil {
		return nil, err
	}
	return d, nil
}

// Apply swaps templates and rate limit at runtime (config reload).
func (d *Dispatcher) Apply(cfg Config) error {
	morning, err := parseTemplate("morning", cfg.MorningTemplate, defaultMorningTemplate)
	if err != nil {
		return err
	}
	evening, err := parseTemplate("evening", cfg.EveningTemplate, defaultEveningTemplate)
	if err != nil {
		return err
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 3
	}

	d.mu.Lock()
	d.morning = morning
	d.evening = evening
	d.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	d.mu.Unlock()
	return nil
}

// SetTarget sets the destination chat. A zero chat id disables dispatch.
func (d *Dispatcher) SetTarget(t kit.ChatTarget) {
	d.mu.Lock()
	d.target = t
	d.mu.Unlock()
}

// SetSheetURL sets the document link rendered into the morning announcement.
func (d *Dispatcher) SetSheetURL(url string) {
	d.mu.Lock()
	d.sheetURL = url
	d.mu.Unlock()
}

// Render produces the message bodies that Notify would send, without sending.
// Used by diagnostics for a side-effect-free preview.
func (d *Dispatcher) Render(kind Kind, items []string) ([]string, error) {
	d.mu.Lock()
	morning, evening, sheetURL := d.morning, d.evening, d.sheetURL
	d.mu.Unlock()

	switch kind {
	case KindMorning:
		if len(items) == 0 {
			return nil, nil
		}
		text, err := renderTemplate(morning, templateData{SheetURL: sheetURL})
		if err != nil {
			return nil, err
		}
		return []string{text}, nil
	case KindEvening:
		out := make([]string, 0, len(items))
		for _, item := range items {
			text, err := renderTemplate(evening, templateData{Item: item, SheetURL: sheetURL})
			if err != nil {
				return nil, err
			}
			out = append(out, text)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown dispatch kind %q", kind)
	}
}

// Notify sends the rendered messages for kind. Transport failures are logged
// and never propagate: one item's failure must not abort the rest of the
// batch, and nothing here may crash the firing trigger.
func (d *Dispatcher) Notify(ctx context.Context, kind Kind, items []string) {
	d.mu.Lock()
	target := d.target
	limiter := d.limiter
	d.mu.Unlock()

	if target.ChatID == 0 {
		d.log.Debug("dispatch target not set; skipping", logx.String("kind", string(kind)))
		return
	}

	texts, err := d.Render(kind, items)
	if err != nil {
		d.log.Error("dispatch render failed", logx.String("kind", string(kind)), logx.Err(err))
		return
	}
	if len(texts) == 0 {
		d.log.Debug("nothing to report", logx.String("kind", string(kind)))
		return
	}

	sent := 0
	for _, text := range texts {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				d.log.Warn("dispatch aborted", logx.String("kind", string(kind)), logx.Err(err))
				break
			}
		}
		_, err := d.adapter.SendText(ctx, target, text, &kit.SendOptions{DisablePreview: false})
		if err != nil {
			// No retry: lost until the next scheduled firing.
			d.log.Warn("dispatch send failed",
				logx.String("kind", string(kind)),
				logx.Int64("chat_id", target.ChatID),
				logx.Err(err),
			)
			continue
		}
		sent++
	}
	d.log.Info("dispatch done",
		logx.String("kind", string(kind)),
		logx.Int("items", len(items)),
		logx.Int("sent", sent),
	)
}

func parseTemplate(name, body, def string) (*template.Template, error) {
	if strings.TrimSpace(body) == "" {
		body = def
	}
	t, err := template.New(name).Parse(body)
	if err != nil {
		return nil, fmt.Errorf("%s template: %w", name, err)
	}
	return t, nil
}

func renderTemplate(t *template.Template, data templateData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
