package router

import (
	"context"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	rtsup "countdownbot/internal/runtime/supervisor"
	kit "countdownbot/internal/transport"
	logx "countdownbot/pkg/logx"
)

type Option func(*CommandManager)

// WithWorkers sets the number of dispatch shards. Updates of one user
// always land on the same shard and are handled in arrival order.
func WithWorkers(n int) Option { return func(m *CommandManager) { m.workers = n } }

func WithQueueSize(n int) Option { return func(m *CommandManager) { m.queueSize = n } }

// WithTexts overrides the replies sent when a shard queue is full and when
// a non-owner hits an owner-only route.
func WithTexts(busy, forbidden string) Option {
	return func(m *CommandManager) {
		if busy != "" {
			m.busyText = busy
		}
		if forbidden != "" {
			m.forbiddenText = forbidden
		}
	}
}

type Stats struct {
	Workers  int    `json:"workers"`
	Handled  uint64 `json:"handled"`
	Rejected uint64 `json:"rejected"`
	Busy     uint64 `json:"busy"`
}

type compiled struct {
	commands  map[string]Command
	buttons   map[string]Button
	callbacks map[string]map[string]CallbackRoute
	fallback  HandlerFunc
	menu      []kit.BotCommand
}

type CommandManager struct {
	mu     sync.RWMutex
	reg    compiled
	owners []int64

	log     logx.Logger
	adapter kit.Adapter

	workers       int
	queueSize     int
	busyText      string
	forbiddenText string

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	handled  atomic.Uint64
	rejected atomic.Uint64
	busy     atomic.Uint64
}

func NewCommandManager(log logx.Logger, adapter kit.Adapter, owners []int64, opts ...Option) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &CommandManager{
		log:           log,
		adapter:       adapter,
		owners:        append([]int64(nil), owners...),
		workers:       4,
		queueSize:     64,
		busyText:      "busy, try again",
		forbiddenText: "unauthorized",
	}
	for _, o := range opts {
		if o != nil {
			o(m)
		}
	}
	if m.workers < 1 {
		m.workers = 1
	}
	if m.queueSize < 1 {
		m.queueSize = 1
	}
	m.reg = compile(Registry{})
	return m
}

// Supervisor returns the dispatcher's supervisor, or nil when not running.
func (m *CommandManager) Supervisor() *rtsup.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	return m.sup
}

func (m *CommandManager) setSupervisor(sup *rtsup.Supervisor, running bool) {
	m.runMu.Lock()
	m.sup = sup
	m.running = running
	m.runMu.Unlock()
}

func (m *CommandManager) Stats() Stats {
	return Stats{
		Workers:  m.workers,
		Handled:  m.handled.Load(),
		Rejected: m.rejected.Load(),
		Busy:     m.busy.Load(),
	}
}

// SetOwners replaces the owner list. Safe during hot reload.
func (m *CommandManager) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	m.mu.Lock()
	m.owners = cp
	m.mu.Unlock()
}

func (m *CommandManager) isOwner(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, o := range m.owners {
		if o == id {
			return true
		}
	}
	return false
}

func (m *CommandManager) SetRegistry(reg Registry) {
	c := compile(reg)
	m.mu.Lock()
	m.reg = c
	m.mu.Unlock()
}

func (m *CommandManager) snapshot() compiled {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reg
}

// MenuCommands is the command menu derived from the current registry.
func (m *CommandManager) MenuCommands() []kit.BotCommand {
	return append([]kit.BotCommand(nil), m.snapshot().menu...)
}

// PublishMenu pushes the command menu when the adapter supports it.
func (m *CommandManager) PublishMenu(ctx context.Context) error {
	up, ok := m.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return up.UpdateMenuCommands(ctx, m.MenuCommands())
}

func compile(reg Registry) compiled {
	c := compiled{
		commands:  map[string]Command{},
		buttons:   map[string]Button{},
		callbacks: map[string]map[string]CallbackRoute{},
		fallback:  reg.Fallback,
	}
	menu := make([]Command, 0, len(reg.Commands))
	for _, cmd := range reg.Commands {
		name := strings.ToLower(strings.TrimSpace(cmd.Name))
		if name == "" || cmd.Handle == nil {
			continue
		}
		cmd.Name = name
		c.commands[name] = cmd
		menu = append(menu, cmd)
		for _, a := range cmd.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || strings.Contains(a, " ") {
				continue
			}
			if _, exists := c.commands[a]; !exists {
				c.commands[a] = cmd
			}
		}
	}
	for _, b := range reg.Buttons {
		t := strings.TrimSpace(b.Text)
		if t == "" || b.Handle == nil {
			continue
		}
		c.buttons[t] = b
	}
	for _, r := range reg.Callbacks {
		ns := strings.TrimSpace(r.Namespace)
		a := strings.TrimSpace(r.Action)
		if ns == "" || a == "" || r.Handle == nil {
			continue
		}
		if c.callbacks[ns] == nil {
			c.callbacks[ns] = map[string]CallbackRoute{}
		}
		c.callbacks[ns][a] = r
	}
	c.menu = buildMenuCommands(menu)
	return c
}

// DispatchLoop routes updates until ctx is done or updates is closed.
// Each shard is a restartable worker under the dispatcher's supervisor.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(m.log.With(logx.String("comp", "telegram.router"))),
		rtsup.WithCancelOnError(false),
	)
	shards := make([]chan func(), m.workers)
	for i := range shards {
		shards[i] = make(chan func(), m.queueSize)
	}
	m.setSupervisor(sup, true)
	m.log.Info("command dispatcher started", logx.Int("workers", m.workers), logx.Int("shard_queue_cap", m.queueSize))

	for i := range shards {
		idx := i
		jobs := shards[i]
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-jobs:
					if !ok {
						return nil
					}
					m.runJob(idx, job)
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
			rtsup.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		m.setSupervisor(sup, false)
		for _, ch := range shards {
			close(ch)
		}
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.setSupervisor(nil, false)
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
			m.route(ctx, shards, up)
		}
	}
}

func (m *CommandManager) runJob(worker int, job func()) {
	if job == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

func (m *CommandManager) route(ctx context.Context, shards []chan func(), up kit.Update) {
	id := up.UserID()
	if id < 0 {
		id = -id
	}
	jobs := shards[int(id%int64(len(shards)))]
	enqueue := func(fn func()) bool {
		select {
		case jobs <- fn:
			return true
		default:
			m.busy.Add(1)
			return false
		}
	}
	switch up.Kind {
	case kit.UpdateMessage:
		m.routeMessage(ctx, up, enqueue)
	case kit.UpdateCallback:
		m.routeCallback(ctx, up, enqueue)
	}
}

// parseCommand splits "/cmd@bot a b" into ("cmd", [a b]). ok is false for
// text that is not a command.
func parseCommand(text string) (word string, args []string, ok bool) {
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	parts := strings.Fields(text)
	word = strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	if word == "" {
		return "", nil, false
	}
	return strings.ToLower(word), parts[1:], true
}

func (m *CommandManager) routeMessage(root context.Context, up kit.Update, enqueue func(func()) bool) {
	msg := up.Message
	if msg == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	reg := m.snapshot()

	var (
		name    string
		args    []string
		access  Access
		timeout time.Duration
		h       HandlerFunc
	)
	if word, a, ok := parseCommand(text); ok {
		args = a
		if cmd, found := reg.commands[word]; found {
			name, access, timeout, h = cmd.Name, cmd.Access, cmd.Timeout, cmd.Handle
		} else {
			name, h = "unknown:"+word, reg.fallback
		}
	} else if b, found := reg.buttons[text]; found {
		name, access, timeout, h = "button:"+b.Text, b.Access, b.Timeout, b.Handle
	} else {
		name, h = "text", reg.fallback
	}
	if h == nil {
		return
	}

	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	owner := m.isOwner(msg.FromID)
	if access == AccessOwnerOnly && !owner {
		m.rejected.Add(1)
		_, _ = m.adapter.SendText(root, chat, m.forbiddenText, nil)
		return
	}

	req := m.newRequest(up, chat, msg.FromID, name)
	req.FromName = msg.FromName
	req.Username = msg.FromUsername
	req.Args = args
	req.Text = text
	req.IsOwner = owner

	final := Chain(h,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWTimeout(timeout),
	)
	if !enqueue(func() {
		_ = final(root, req)
		m.handled.Add(1)
	}) {
		_, _ = m.adapter.SendText(root, chat, m.busyText, nil)
	}
}

func (m *CommandManager) routeCallback(root context.Context, up kit.Update, enqueue func(func()) bool) {
	cb := up.Callback
	if cb == nil {
		return
	}
	parts := strings.SplitN(strings.TrimSpace(cb.Data), ":", 3)
	if len(parts) < 2 {
		_ = m.adapter.AnswerCallback(root, cb.ID, "")
		return
	}
	ns, action, payload := parts[0], parts[1], ""
	if len(parts) == 3 {
		payload = parts[2]
	}

	reg := m.snapshot()
	route, ok := reg.callbacks[ns][action]
	if !ok {
		// stale button from an older build; stop the spinner
		_ = m.adapter.AnswerCallback(root, cb.ID, "")
		return
	}

	owner := m.isOwner(cb.FromID)
	if route.Access == AccessOwnerOnly && !owner {
		m.rejected.Add(1)
		_ = m.adapter.AnswerCallback(root, cb.ID, m.forbiddenText)
		return
	}

	chat := kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}
	req := m.newRequest(up, chat, cb.FromID, "cb:"+ns+":"+action)
	req.Payload = payload
	req.CallbackID = cb.ID
	req.MessageID = cb.MessageID
	req.IsOwner = owner

	h := func(ctx context.Context, r *Request) error { return route.Handle(ctx, r, payload) }
	final := Chain(h,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWTimeout(route.Timeout),
	)
	if !enqueue(func() {
		_ = final(root, req)
		m.handled.Add(1)
		_ = m.adapter.AnswerCallback(root, cb.ID, "")
	}) {
		_ = m.adapter.AnswerCallback(root, cb.ID, m.busyText)
	}
}

func (m *CommandManager) newRequest(up kit.Update, chat kit.ChatTarget, from int64, name string) *Request {
	rid := uuid.NewString()
	return &Request{
		Update:  up,
		Chat:    chat,
		FromID:  from,
		Command: name,
		ReqID:   rid,
		Adapter: m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chat.ChatID),
			logx.Int64("from_id", from),
			logx.String("cmd", name),
		),
	}
}
