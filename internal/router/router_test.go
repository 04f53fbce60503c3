package router

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"sheetbot/internal/config"
	kit "sheetbot/internal/transport"
	logx "sheetbot/pkg/logx"
)

type stubAdapter struct{}

func (stubAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (stubAdapter) Stop(ctx context.Context) error                         { return nil }
func (stubAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return kit.MessageRef{}, nil
}

func testSchedule() config.Schedule {
	return config.Schedule{Admins: []int64{111}}
}

func newTestRouter() *Router {
	return New(stubAdapter{}, testSchedule, logx.Nop())
}

func TestParseCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		text string
		cmd  string
		args []string
		ok   bool
	}{
		{name: "bare", text: "/status", cmd: "status", ok: true},
		{name: "with bot mention", text: "/status@my_bot", cmd: "status", ok: true},
		{name: "with args", text: "/status verbose now", cmd: "status", args: []string{"verbose", "now"}, ok: true},
		{name: "uppercase", text: "/PING", cmd: "ping", ok: true},
		{name: "padded", text: "  /ping  ", cmd: "ping", ok: true},
		{name: "plain text", text: "hello"},
		{name: "lone slash", text: "/"},
		{name: "empty", text: ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cmd, args, ok := parseCommand(tt.text)
			if ok != tt.ok {
				t.Fatalf("parseCommand(%q) ok = %v, want %v", tt.text, ok, tt.ok)
			}
			if !ok {
				return
			}
			if cmd != tt.cmd {
				t.Fatalf("parseCommand(%q) cmd = %q, want %q", tt.text, cmd, tt.cmd)
			}
			if len(tt.args) > 0 && !reflect.DeepEqual(args, tt.args) {
				t.Fatalf("parseCommand(%q) args = %v, want %v", tt.text, args, tt.args)
			}
		})
	}
}

func TestAdminPrivateGate(t *testing.T) {
	t.Parallel()
	r := newTestRouter()
	cmd := Command{Name: "status", Access: AccessAdminPrivate}

	tests := []struct {
		name string
		msg  kit.Message
		want bool
	}{
		{name: "admin in private", msg: kit.Message{FromID: 111}, want: true},
		{name: "admin in group", msg: kit.Message{FromID: 111, IsGroup: true}, want: false},
		{name: "stranger in private", msg: kit.Message{FromID: 999}, want: false},
		{name: "stranger in group", msg: kit.Message{FromID: 999, IsGroup: true}, want: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := r.allowed(cmd, tt.msg); got != tt.want {
				t.Fatalf("allowed = %v, want %v", got, tt.want)
			}
		})
	}

	open := Command{Name: "anything", Access: AccessEveryone}
	if !r.allowed(open, kit.Message{FromID: 999, IsGroup: true}) {
		t.Fatal("AccessEveryone must not be gated")
	}
}

func TestHandleMessageDispatchesOnceViaAlias(t *testing.T) {
	t.Parallel()
	r := newTestRouter()
	called := make(chan string, 1)
	r.Register(Command{
		Name:    "status",
		Aliases: []string{"ping"},
		Access:  AccessAdminPrivate,
		Handle: func(ctx context.Context, req *Request) error {
			called <- req.Command
			return nil
		},
	})

	r.handleMessage(context.Background(), kit.Message{FromID: 111, ChatID: 111, Text: "/ping"})
	select {
	case got := <-called:
		if got != "ping" {
			t.Fatalf("handler saw command %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked")
	}
}

func TestHandleMessageSilentDenial(t *testing.T) {
	t.Parallel()
	r := newTestRouter()
	called := make(chan struct{}, 1)
	r.Register(Command{
		Name:   "status",
		Access: AccessAdminPrivate,
		Handle: func(ctx context.Context, req *Request) error {
			called <- struct{}{}
			return nil
		},
	})

	// Group chat: denied even for an admin sender.
	r.handleMessage(context.Background(), kit.Message{FromID: 111, ChatID: -100, IsGroup: true, Text: "/status"})
	// Unknown command and plain text: both ignored.
	r.handleMessage(context.Background(), kit.Message{FromID: 111, ChatID: 111, Text: "/nosuch"})
	r.handleMessage(context.Background(), kit.Message{FromID: 111, ChatID: 111, Text: "hi"})

	select {
	case <-called:
		t.Fatal("handler invoked for a denied or unknown command")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestChainOrderAndPanicRecovery(t *testing.T) {
	t.Parallel()
	var order []string
	mk := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *Request) error {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}
	h := Chain(func(ctx context.Context, req *Request) error {
		order = append(order, "handler")
		return nil
	}, mk("outer"), mk("inner"))

	if err := h(context.Background(), &Request{}); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(order, []string{"outer", "inner", "handler"}) {
		t.Fatalf("chain order = %v", order)
	}

	panics := Chain(func(ctx context.Context, req *Request) error {
		panic("boom")
	}, MWPanicRecover(logx.Nop()))
	if err := panics(context.Background(), &Request{}); err == nil {
		t.Fatal("panic must surface as an error")
	}
}

func TestMWTimeout(t *testing.T) {
	t.Parallel()
	h := Chain(func(ctx context.Context, req *Request) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return nil
		}
	}, MWTimeout(20*time.Millisecond))

	err := h(context.Background(), &Request{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestRunStopsOnClosedChannel(t *testing.T) {
	t.Parallel()
	r := newTestRouter()
	updates := make(chan kit.Update)
	close(updates)

	done := make(chan struct{})
	go func() {
		r.Run(context.Background(), updates)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return on closed channel")
	}
}
