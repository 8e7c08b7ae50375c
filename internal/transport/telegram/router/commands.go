// Package router dispatches Telegram updates to command, callback and
// free-text handlers on a bounded worker pool.
package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"mindfulbot/internal/runtime/supervisor"
	kit "mindfulbot/internal/transport"
	logx "mindfulbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	Name        string   // without the leading slash, e.g. "timezone"
	Aliases     []string // e.g. ["tz"]
	Description string
	Usage       string
	Access      Access
	Hidden      bool // kept out of /help and the Telegram menu

	Timeout time.Duration // optional per-command override
	Handle  HandlerFunc
}

type CallbackHandlerFunc func(ctx context.Context, req *Request, payload string) error

// CallbackRoute handles inline-button data of the form "<scope>:<action>[:payload]".
type CallbackRoute struct {
	Scope   string
	Action  string
	Access  Access
	Timeout time.Duration
	Handle  CallbackHandlerFunc
}

type Request struct {
	Update        kit.Update
	Chat          kit.ChatTarget
	FromID        int64
	FromUsername  string
	FromFirstName string
	Command       string // command name or "cb:<scope>:<action>"
	Args          []string
	Text          string // raw text after the command word
	Payload       string // callback payload
	ReqID         string

	Adapter kit.Adapter
	Logger  logx.Logger
	Owners  []int64
}

// Reply sends text to the request's chat.
func (r *Request) Reply(ctx context.Context, text string, opt *kit.SendOptions) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, opt)
	return err
}

// IsOwner reports whether the sender is a configured owner.
func (r *Request) IsOwner() bool { return isOwner(r.FromID, r.Owners) }

type Manager struct {
	mu       sync.RWMutex
	commands map[string]*Command // name and aliases
	ordered  []Command
	textH    HandlerFunc
	owners   []int64

	cbMu      sync.RWMutex
	callbacks map[string]map[string]CallbackRoute // scope -> action -> route

	log     logx.Logger
	adapter kit.Adapter

	runMu   sync.Mutex
	running bool
	sup     *supervisor.Supervisor

	jobs    chan func()
	workers int
}

func NewManager(log logx.Logger, adapter kit.Adapter, owners []int64) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{
		commands:  map[string]*Command{},
		callbacks: map[string]map[string]CallbackRoute{},
		owners:    append([]int64(nil), owners...),
		log:       log.With(logx.String("comp", "telegram.router")),
		adapter:   adapter,
		jobs:      make(chan func(), 256),
		workers:   max(runtime.NumCPU(), 2),
	}
}

// SetOwners updates the owner list used for AccessOwnerOnly checks.
// Safe to call during hot-reload.
func (m *Manager) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	m.mu.Lock()
	m.owners = cp
	m.mu.Unlock()
}

func (m *Manager) ownersSnapshot() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]int64(nil), m.owners...)
}

// SetTextHandler installs the handler for private non-command messages.
func (m *Manager) SetTextHandler(h HandlerFunc) {
	m.mu.Lock()
	m.textH = h
	m.mu.Unlock()
}

// SetRegistry replaces the command and callback tables. A /help command is
// always added. The Telegram menu is refreshed in the background when the
// adapter supports it.
func (m *Manager) SetRegistry(cmds []Command, cbs []CallbackRoute) {
	cmds = append(cmds, Command{
		Name:        "help",
		Aliases:     []string{"h"},
		Description: "show available commands",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, helpText(m.commandsSnapshot(), req.IsOwner()), &kit.SendOptions{ParseMode: kit.ParseModeHTML, DisablePreview: true})
		},
	})

	table := map[string]*Command{}
	ordered := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		ordered = append(ordered, c)
	}
	for i := range ordered {
		table[ordered[i].Name] = &ordered[i]
	}
	// Aliases never shadow a real command name.
	for i := range ordered {
		for _, a := range ordered[i].Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if _, taken := table[a]; a == "" || taken {
				continue
			}
			table[a] = &ordered[i]
		}
	}

	cb := map[string]map[string]CallbackRoute{}
	for _, r := range cbs {
		s, a := strings.TrimSpace(r.Scope), strings.TrimSpace(r.Action)
		if s == "" || a == "" || r.Handle == nil {
			continue
		}
		if cb[s] == nil {
			cb[s] = map[string]CallbackRoute{}
		}
		cb[s][a] = r
	}

	m.mu.Lock()
	m.commands = table
	m.ordered = ordered
	m.mu.Unlock()

	m.cbMu.Lock()
	m.callbacks = cb
	m.cbMu.Unlock()

	if up, ok := m.adapter.(kit.CommandMenuUpdater); ok {
		menu := buildMenuCommands(ordered)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(ctx, menu); err != nil {
				m.log.Warn("menu update failed", logx.Err(err))
			}
		}()
	}
}

func (m *Manager) commandsSnapshot() []Command {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Command(nil), m.ordered...)
}

// DispatchLoop consumes updates until ctx is done or updates is closed.
func (m *Manager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := supervisor.New(ctx, supervisor.WithLogger(m.log), supervisor.WithCancelOnError(false))
	m.runMu.Lock()
	m.sup, m.running = sup, true
	jobs := m.jobs
	m.runMu.Unlock()

	m.log.Info("command dispatcher started", logx.Int("workers", m.workers), logx.Int("job_queue_cap", cap(jobs)))

	for i := 0; i < m.workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-jobs:
					func() {
						defer func() {
							if r := recover(); r != nil {
								m.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		}, supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}

	defer func() {
		m.runMu.Lock()
		m.running = false
		m.runMu.Unlock()
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.Route(ctx, up)
		}
	}
}

// Route handles one update. Handlers run on the worker pool when the
// dispatcher is running, inline otherwise.
func (m *Manager) Route(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		m.routeMessage(ctx, up)
	case kit.UpdateCallback:
		m.routeCallback(ctx, up)
	}
}

func (m *Manager) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	chat := kit.ChatTarget{ChatID: msg.ChatID}

	if !strings.HasPrefix(text, "/") {
		m.mu.RLock()
		h := m.textH
		m.mu.RUnlock()
		if h == nil || !msg.IsPrivate || text == "" {
			return
		}
		m.dispatch(ctx, m.newRequest(up, chat, msg.FromID, "text", nil, text), h, 0, nil)
		return
	}

	word, rest, _ := strings.Cut(text, " ")
	word = strings.ToLower(strings.TrimPrefix(word, "/"))
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	rest = strings.TrimSpace(rest)

	m.mu.RLock()
	cmd := m.commands[word]
	m.mu.RUnlock()
	if cmd == nil {
		_, _ = m.adapter.SendText(ctx, chat, "Unknown command. Try /help", nil)
		return
	}
	if cmd.Access == AccessOwnerOnly && !isOwner(msg.FromID, m.ownersSnapshot()) {
		_, _ = m.adapter.SendText(ctx, chat, "unauthorized", nil)
		return
	}

	req := m.newRequest(up, chat, msg.FromID, cmd.Name, strings.Fields(rest), rest)
	m.dispatch(ctx, req, cmd.Handle, cmd.Timeout, func() {
		_, _ = m.adapter.SendText(ctx, chat, "Busy, try again in a moment.", nil)
	})
}

func (m *Manager) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	parts := strings.SplitN(strings.TrimSpace(cb.Data), ":", 3)
	if len(parts) < 2 {
		return
	}
	scope, action, payload := parts[0], parts[1], ""
	if len(parts) == 3 {
		payload = parts[2]
	}

	m.cbMu.RLock()
	route, ok := m.callbacks[scope][action]
	m.cbMu.RUnlock()
	if !ok {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}
	if route.Access == AccessOwnerOnly && !isOwner(cb.FromID, m.ownersSnapshot()) {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "forbidden")
		return
	}

	req := m.newRequest(up, kit.ChatTarget{ChatID: cb.ChatID}, cb.FromID, "cb:"+scope+":"+action, nil, "")
	req.Payload = payload
	h := func(c context.Context, r *Request) error {
		err := route.Handle(c, r, payload)
		// stop the client's loading spinner
		_ = m.adapter.AnswerCallback(c, cb.ID, "")
		return err
	}
	m.dispatch(ctx, req, h, route.Timeout, func() {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "busy")
	})
}

func (m *Manager) newRequest(up kit.Update, chat kit.ChatTarget, from int64, command string, args []string, text string) *Request {
	rid := uuid.NewString()[:8]
	req := &Request{
		Update:  up,
		Chat:    chat,
		FromID:  from,
		Command: command,
		Args:    args,
		Text:    text,
		ReqID:   rid,
		Adapter: m.adapter,
		Owners:  m.ownersSnapshot(),
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chat.ChatID),
			logx.Int64("from_id", from),
			logx.String("cmd", command),
		),
	}
	if up.Message != nil {
		req.FromUsername = up.Message.FromUsername
		req.FromFirstName = up.Message.FromFirstName
	}
	return req
}

func (m *Manager) dispatch(ctx context.Context, req *Request, h HandlerFunc, timeout time.Duration, busy func()) {
	final := Chain(h, MWPanicRecover(m.log), MWRequestLog(m.log), MWTimeout(timeout))
	job := func() { _ = final(ctx, req) }

	m.runMu.Lock()
	running := m.running
	m.runMu.Unlock()
	if !running {
		job()
		return
	}
	select {
	case m.jobs <- job:
	default:
		if busy != nil {
			busy()
		}
	}
}

func isOwner(id int64, owners []int64) bool {
	for _, o := range owners {
		if o == id {
			return true
		}
	}
	return false
}
