package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	kit "sheetbot/internal/transport"
	logx "sheetbot/pkg/logx"
)

type fakeAdapter struct {
	mu   sync.Mutex
	sent []string
	// failOn makes SendText fail for any text containing this substring.
	failOn string
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                         { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn != "" && strings.Contains(text, f.failOn) {
		return kit.MessageRef{}, errors.New("send rejected")
	}
	f.sent = append(f.sent, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func newTestDispatcher(t *testing.T, cfg Config, fa *fakeAdapter) *Dispatcher {
	t.Helper()
	d, err := New(cfg, fa, logx.Nop())
	require.NoError(t, err)
	d.SetTarget(kit.ChatTarget{ChatID: -100})
	d.SetSheetURL("https://docs.google.com/spreadsheets/d/abc")
	return d
}

func TestMorningSkippedWhenNothingMatched(t *testing.T) {
	t.Parallel()
	fa := &fakeAdapter{}
	d := newTestDispatcher(t, Config{}, fa)

	d.Notify(context.Background(), KindMorning, nil)
	require.Empty(t, fa.sentTexts())
}

func TestMorningSingleMessageWithLink(t *testing.T) {
	t.Parallel()
	fa := &fakeAdapter{}
	d := newTestDispatcher(t, Config{}, fa)

	d.Notify(context.Background(), KindMorning, []string{"30", "45"})

	sent := fa.sentTexts()
	require.Len(t, sent, 1)
	require.Contains(t, sent[0], "https://docs.google.com/spreadsheets/d/abc")
}

func TestEveningOneMessagePerItem(t *testing.T) {
	t.Parallel()
	fa := &fakeAdapter{}
	d := newTestDispatcher(t, Config{EveningTemplate: "total {{.Item}}"}, fa)

	d.Notify(context.Background(), KindEvening, []string{"30", "45"})

	sent := fa.sentTexts()
	require.Equal(t, []string{"total 30", "total 45"}, sent)
}

func TestEveningSendFailureDoesNotAbortBatch(t *testing.T) {
	t.Parallel()
	fa := &fakeAdapter{failOn: "30"}
	d := newTestDispatcher(t, Config{EveningTemplate: "total {{.Item}}"}, fa)

	d.Notify(context.Background(), KindEvening, []string{"30", "45"})

	// The failed item is dropped, the rest of the batch still goes out.
	require.Equal(t, []string{"total 45"}, fa.sentTexts())
}

func TestNotifyWithoutTargetIsNoop(t *testing.T) {
	t.Parallel()
	fa := &fakeAdapter{}
	d, err := New(Config{}, fa, logx.Nop())
	require.NoError(t, err)

	d.Notify(context.Background(), KindMorning, []string{"30"})
	require.Empty(t, fa.sentTexts())
}

func TestRenderIsSideEffectFree(t *testing.T) {
	t.Parallel()
	fa := &fakeAdapter{}
	d := newTestDispatcher(t, Config{EveningTemplate: "total {{.Item}}"}, fa)

	texts, err := d.Render(KindEvening, []string{"30"})
	require.NoError(t, err)
	require.Equal(t, []string{"total 30"}, texts)
	require.Empty(t, fa.sentTexts())

	texts, err = d.Render(KindMorning, nil)
	require.NoError(t, err)
	require.Empty(t, texts)
}

func TestRenderUnknownKind(t *testing.T) {
	t.Parallel()
	fa := &fakeAdapter{}
	d := newTestDispatcher(t, Config{}, fa)

	_, err := d.Render(Kind("afternoon"), []string{"x"})
	require.Error(t, err)
}

func TestApplyRejectsBadTemplate(t *testing.T) {
	t.Parallel()
	fa := &fakeAdapter{}
	d := newTestDispatcher(t, Config{}, fa)

	err := d.Apply(Config{EveningTemplate: "{{.Item"})
	require.Error(t, err)

	// The previous templates must keep working after a rejected Apply.
	texts, err := d.Render(KindEvening, []string{"30"})
	require.NoError(t, err)
	require.Len(t, texts, 1)
}

func TestDefaultTemplates(t *testing.T) {
	t.Parallel()
	fa := &fakeAdapter{}
	d := newTestDispatcher(t, Config{}, fa)

	texts, err := d.Render(KindEvening, []string{"300"})
	require.NoError(t, err)
	require.Len(t, texts, 1)
	require.Contains(t, texts[0], "300")
}
