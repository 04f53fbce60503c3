// Package router dispatches incoming chat commands.
//
// There is deliberately no command tree here: the bot exposes a handful of
// flat commands, gated by a private-chat + allowlist check. Unauthorized
// requests are dropped silently so the bot reveals nothing about itself in
// group chats.
package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"sheetbot/internal/config"
	kit "sheetbot/internal/transport"
	logx "sheetbot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("panic recovered",
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			d := time.Since(start)

			fields := []logx.Field{
				logx.Int64("chat_id", req.Chat.ChatID),
				logx.Int64("from_id", req.Msg.FromID),
				logx.String("cmd", req.Command),
				logx.Duration("dur", d),
			}
			if err != nil {
				log.Warn("request failed", append(fields, logx.Err(err))...)
			} else {
				log.Debug("request ok", fields...)
			}
			return err
		}
	}
}

type Access int

const (
	AccessEveryone Access = iota
	// AccessAdminPrivate requires a private chat and an allow-listed sender.
	AccessAdminPrivate
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Access      Access
	Handle      HandlerFunc
}

type Request struct {
	Msg     kit.Message
	Chat    kit.ChatTarget
	Command string
	Args    []string

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Router consumes transport updates and dispatches command handlers.
type Router struct {
	log     logx.Logger
	adapter kit.Adapter
	// current returns the live schedule settings (allowlist may change at
	// runtime, so it is read per request).
	current func() config.Schedule

	cmds    map[string]Command
	timeout time.Duration
}

func New(adapter kit.Adapter, current func() config.Schedule, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		log:     log,
		adapter: adapter,
		current: current,
		cmds:    map[string]Command{},
		timeout: 30 * time.Second,
	}
}

func (r *Router) Register(cmds ...Command) {
	for _, c := range cmds {
		if c.Name == "" || c.Handle == nil {
			continue
		}
		r.cmds[c.Name] = c
		for _, a := range c.Aliases {
			r.cmds[a] = c
		}
	}
}

// Run consumes updates until ctx is done. Each command runs in its own
// goroutine so a slow handler never blocks the receive loop.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-updates:
			if !ok {
				return
			}
			if up.Message == nil {
				continue
			}
			r.handleMessage(ctx, *up.Message)
		}
	}
}

func (r *Router) handleMessage(ctx context.Context, msg kit.Message) {
	name, args, ok := parseCommand(msg.Text)
	if !ok {
		return
	}
	cmd, ok := r.cmds[name]
	if !ok {
		return
	}
	if !r.allowed(cmd, msg) {
		// Silent denial: no reply, no state revealed.
		r.log.Debug("command denied",
			logx.String("cmd", name),
			logx.Int64("from_id", msg.FromID),
			logx.Bool("group", msg.IsGroup),
		)
		return
	}

	req := &Request{
		Msg:     msg,
		Chat:    kit.ChatTarget{ChatID: msg.ChatID},
		Command: name,
		Args:    args,
		Adapter: r.adapter,
		Logger:  r.log,
	}
	h := Chain(cmd.Handle,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(r.timeout),
	)
	go func() {
		_ = h(ctx, req)
	}()
}

func (r *Router) allowed(cmd Command, msg kit.Message) bool {
	switch cmd.Access {
	case AccessAdminPrivate:
		if msg.IsGroup {
			return false
		}
		return r.current().IsAdmin(msg.FromID)
	default:
		return true
	}
}

// parseCommand splits "/status@botname arg1 arg2" into its parts.
func parseCommand(text string) (name string, args []string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	fields := strings.Fields(text)
	name = strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return "", nil, false
	}
	return strings.ToLower(name), fields[1:], true
}
