// Package router routes inbound messages: dispatch triggers go to the gate,
// owner commands in private chats to their handlers, and owner commands
// posted anywhere else are deleted.
package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"codegate/internal/access"
	"codegate/internal/eventbus"
	"codegate/internal/gate"
	"codegate/internal/runtime/supervisor"
	"codegate/internal/stats"
	"codegate/internal/storage"
	kit "codegate/internal/transport"
	logx "codegate/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	Name        string
	Aliases     []string
	Usage       string
	Description string
	Access      Access
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

type Request struct {
	Message kit.Message
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
	// Rest is the text after the command word with inner whitespace kept.
	Rest   string
	ReqID  string
	Logger logx.Logger
}

// Arg returns the i-th argument or "".
func (r *Request) Arg(i int) string {
	if i < len(r.Args) {
		return r.Args[i]
	}
	return ""
}

type Deps struct {
	Adapter     kit.Adapter
	State       *access.State
	Gate        *gate.Handler
	Stats       *stats.Collector
	Audit       storage.Store
	Bus         eventbus.Bus
	BotUsername string
}

type Router struct {
	deps Deps
	log  logx.Logger
	now  func() time.Time

	mu    sync.RWMutex
	cmds  []Command
	index map[string]*Command // name and aliases

	workers int
	jobs    chan func()

	runMu   sync.Mutex
	running bool
	sup     *supervisor.Supervisor
}

func New(deps Deps, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	deps.BotUsername = strings.TrimPrefix(deps.BotUsername, "@")
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}
	r := &Router{
		deps:    deps,
		log:     log,
		now:     time.Now,
		workers: workers,
		jobs:    make(chan func(), 256),
	}
	r.SetRegistry(r.ownerCommands())
	return r
}

func (r *Router) SetRegistry(cmds []Command) {
	index := map[string]*Command{}
	list := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Name == "" || c.Handle == nil {
			continue
		}
		list = append(list, c)
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].Access < list[j].Access })
	for i := range list {
		c := &list[i]
		index[c.Name] = c
		for _, a := range c.Aliases {
			if a = strings.TrimSpace(a); a != "" {
				index[a] = c
			}
		}
	}
	r.mu.Lock()
	r.cmds = list
	r.index = index
	r.mu.Unlock()
}

// Commands returns the registry in display order.
func (r *Router) Commands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Command(nil), r.cmds...)
}

// Lookup finds a command by name or alias.
func (r *Router) Lookup(name string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.index[strings.ToLower(strings.TrimPrefix(name, "/"))]
	if !ok {
		return Command{}, false
	}
	return *c, true
}

func (r *Router) setSupervisor(sup *supervisor.Supervisor, running bool) {
	r.runMu.Lock()
	r.sup = sup
	r.running = running
	r.runMu.Unlock()
}

// tryEnqueue is a panic-safe enqueue helper (the jobs channel may be closed).
func (r *Router) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
		}
	}()
	select {
	case r.jobs <- fn:
		return true
	default:
		return false
	}
}

// enqueueWait blocks until a worker slot frees up or ctx ends. Gate jobs use
// it so a trigger carrying a token is never dropped unhandled.
func (r *Router) enqueueWait(ctx context.Context, fn func()) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
		}
	}()
	select {
	case r.jobs <- fn:
		return true
	case <-ctx.Done():
		return false
	}
}

// DispatchLoop consumes updates until ctx ends or updates is closed, running
// handlers on a bounded worker pool.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := supervisor.New(ctx,
		supervisor.WithLogger(r.log.With(logx.String("comp", "telegram.router"))),
		supervisor.WithCancelOnError(false),
	)
	r.setSupervisor(sup, true)
	r.log.Info("command dispatcher started", logx.Int("workers", r.workers), logx.Int("job_queue_cap", cap(r.jobs)))

	var closeOnce sync.Once
	closeJobs := func() {
		closeOnce.Do(func() {
			r.setSupervisor(sup, false)
			close(r.jobs)
		})
	}

	for i := 0; i < r.workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-r.jobs:
					if !ok {
						return nil
					}
					r.runJob(idx, job)
				}
			}
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		closeJobs()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.setSupervisor(nil, false)
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Message == nil {
				continue
			}
			job, critical := r.plan(ctx, *up.Message)
			switch {
			case job == nil:
			case critical:
				if !r.enqueueWait(ctx, job) {
					r.log.Warn("gate job dropped on shutdown", logx.Int64("chat_id", up.Message.ChatID))
				}
			case !r.tryEnqueue(job):
				_, _ = r.deps.Adapter.SendText(ctx, kit.ChatTarget{ChatID: up.Message.ChatID}, "Busy, try again.", nil)
			}
		}
	}
}

func (r *Router) runJob(worker int, job func()) {
	if job == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

// Handle routes m and runs the resulting job on the calling goroutine.
func (r *Router) Handle(ctx context.Context, m kit.Message) {
	if job, _ := r.plan(ctx, m); job != nil {
		job()
	}
}

// plan decides what m is. critical jobs must not be dropped when the queue
// is full.
func (r *Router) plan(ctx context.Context, m kit.Message) (job func(), critical bool) {
	text := strings.TrimSpace(m.Text)
	if text == "" {
		return nil, false
	}

	botName := r.deps.BotUsername
	name, bot, args, rest := splitCommand(text)
	addressedElsewhere := bot != "" && botName != "" && !strings.EqualFold(bot, botName)
	cmd, isCmd := Command{}, false
	if name != "" && !addressedElsewhere {
		cmd, isCmd = r.Lookup(name)
	}
	private := m.ChatKind.IsPrivate()

	if private && isCmd {
		return r.commandJob(ctx, m, cmd, args, rest), false
	}
	if r.deps.Gate != nil && r.deps.Gate.Gate().IsTrigger(text) {
		return func() { r.deps.Gate.Handle(ctx, m) }, true
	}
	if !private && isCmd && cmd.Access == AccessOwnerOnly && r.deps.Gate != nil {
		return func() {
			r.log.Debug("owner command outside private chat", logx.Int64("chat_id", m.ChatID), logx.String("cmd", cmd.Name))
			r.deps.Gate.Discard(ctx, m)
		}, true
	}
	if private && name != "" && !addressedElsewhere {
		return func() {
			_, _ = r.deps.Adapter.SendText(ctx, kit.ChatTarget{ChatID: m.ChatID}, "Unknown command. Try /help", nil)
		}, false
	}
	return nil, false
}

func (r *Router) commandJob(ctx context.Context, m kit.Message, cmd Command, args []string, rest string) func() {
	var from int64
	if m.SenderID != nil {
		from = *m.SenderID
	}
	chat := kit.ChatTarget{ChatID: m.ChatID}

	rid := uuid.NewString()[:8]
	req := &Request{
		Message: m,
		Chat:    chat,
		FromID:  from,
		Command: cmd.Name,
		Args:    args,
		Rest:    rest,
		ReqID:   rid,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", m.ChatID),
			logx.Int64("from_id", from),
			logx.String("cmd", cmd.Name),
		),
	}
	final := Chain(
		cmd.Handle,
		recoverPanic(r.log, r.commandBroke),
		logRequest(r.log),
		ownerOnly(cmd.Access, r.deps.State.Ledger().IsOwner, r.denyNonOwner),
		withDeadline(cmd.Timeout),
	)
	return func() { _ = final(ctx, req) }
}
