// Package dispatch sends a rotated pool of mention messages into a chat on
// behalf of an accepted command.
package dispatch

import (
	"context"
	"errors"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"codegate/internal/eventbus"
	"codegate/internal/storage"
	kit "codegate/internal/transport"
	logx "codegate/pkg/logx"
	"codegate/pkg/tgui"
)

// Platform is the part of the chat client a run needs.
type Platform interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
	ResolveAccount(ctx context.Context, handle string) (int64, error)
	FetchProfile(ctx context.Context, id int64) (kit.Profile, error)
	SelfRole(ctx context.Context, chatID int64) (kit.Role, error)
}

// Templates supplies the current message templates.
type Templates interface {
	Templates() []string
}

const Placeholder = "{mention}"

type AbortReason string

const (
	AbortNone               AbortReason = ""
	AbortBadQuantity        AbortReason = "bad_quantity"
	AbortUnresolvedTarget   AbortReason = "unresolved_target"
	AbortProfileUnavailable AbortReason = "profile_unavailable"
	AbortNotAdmin           AbortReason = "not_admin"
	AbortNoTemplates        AbortReason = "no_templates"
	AbortWriteForbidden     AbortReason = "write_forbidden"
	AbortCanceled           AbortReason = "canceled"
)

type Request struct {
	ChatID   int64
	Target   string // numeric id or @handle
	Quantity string // raw, validated by Run
	Account  int64  // account the token acts for
}

type Report struct {
	RunID     string
	ChatID    int64
	TargetID  int64
	Requested int
	Sent      int
	Failed    int
	Skipped   int
	Aborted   AbortReason
	Duration  time.Duration
}

// QuantityLimit is the largest quantity any run accepts.
const QuantityLimit = 100

// Settings are hot-reloadable run parameters.
type Settings struct {
	MaxQuantity int
	PauseMin    time.Duration
	PauseMax    time.Duration
	RatePerSec  float64 // 0 disables the shared limiter
	MaxDuration time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		MaxQuantity: QuantityLimit,
		PauseMin:    100 * time.Millisecond,
		PauseMax:    500 * time.Millisecond,
		MaxDuration: 10 * time.Minute,
	}
}

type Engine struct {
	platform  Platform
	templates Templates
	log       logx.Logger
	bus       eventbus.Bus
	audit     storage.Store

	mu       sync.RWMutex
	settings Settings
	limiter  *rate.Limiter

	rngMu sync.Mutex
	rng   *rand.Rand

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

type Option func(*Engine)

func WithLogger(log logx.Logger) Option { return func(e *Engine) { e.log = log } }
func WithBus(bus eventbus.Bus) Option   { return func(e *Engine) { e.bus = bus } }
func WithAudit(st storage.Store) Option { return func(e *Engine) { e.audit = st } }
func WithSettings(s Settings) Option    { return func(e *Engine) { e.settings = s } }
func WithRand(r *rand.Rand) Option      { return func(e *Engine) { e.rng = r } }

// WithSleeper replaces the context-aware sleep used for pauses and flood waits.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) { e.sleep = fn }
}

func New(p Platform, t Templates, opts ...Option) *Engine {
	e := &Engine{
		platform:  p,
		templates: t,
		log:       logx.Nop(),
		settings:  DefaultSettings(),
		rng:       rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64())),
		sleep:     sleepCtx,
		now:       time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	e.Apply(e.settings)
	return e
}

// Apply swaps the settings. Runs in flight keep their limiter.
func (e *Engine) Apply(s Settings) {
	if s.MaxQuantity <= 0 || s.MaxQuantity > QuantityLimit {
		s.MaxQuantity = QuantityLimit
	}
	if s.PauseMax < s.PauseMin {
		s.PauseMax = s.PauseMin
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if s.RatePerSec != e.settings.RatePerSec || (e.limiter == nil) != (s.RatePerSec <= 0) {
		e.limiter = nil
		if s.RatePerSec > 0 {
			burst := int(s.RatePerSec)
			if burst < 1 {
				burst = 1
			}
			e.limiter = rate.NewLimiter(rate.Limit(s.RatePerSec), burst)
		}
	}
	e.settings = s
}

func (e *Engine) Settings() Settings {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.settings
}

// Run validates req and sends the pool. Nothing is reported into the chat;
// the outcome is logged, published and audited.
func (e *Engine) Run(ctx context.Context, req Request) Report {
	e.mu.RLock()
	set, limiter := e.settings, e.limiter
	e.mu.RUnlock()

	start := e.now()
	rep := Report{RunID: uuid.NewString(), ChatID: req.ChatID}
	log := e.log.With(logx.String("run_id", rep.RunID), logx.Int64("chat_id", req.ChatID))

	if set.MaxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, set.MaxDuration)
		defer cancel()
	}

	rep.Aborted = e.execute(ctx, req, set, limiter, &rep, log)
	rep.Duration = e.now().Sub(start)
	e.finish(rep, req, log)
	return rep
}

func (e *Engine) execute(ctx context.Context, req Request, set Settings, limiter *rate.Limiter, rep *Report, log logx.Logger) AbortReason {
	q, ok := ParseQuantity(req.Quantity, set.MaxQuantity)
	if !ok {
		log.Info("invalid quantity", logx.String("quantity", req.Quantity), logx.Int("max", set.MaxQuantity))
		return AbortBadQuantity
	}
	rep.Requested = q

	targetID, err := ResolveTarget(ctx, e.platform, req.Target)
	if err != nil {
		log.Info("target unresolved", logx.String("target", req.Target), logx.Err(err))
		return AbortUnresolvedTarget
	}
	rep.TargetID = targetID

	profile, err := e.platform.FetchProfile(ctx, targetID)
	if err != nil {
		log.Error("target profile unavailable", logx.Int64("target_id", targetID), logx.Err(err))
		return AbortProfileUnavailable
	}
	if profile.ID == 0 {
		profile.ID = targetID
	}

	role, err := e.platform.SelfRole(ctx, req.ChatID)
	switch {
	case errors.Is(err, kit.ErrAdminRequired):
		log.Info("bot is not admin (admin required)")
		return AbortNotAdmin
	case err != nil:
		log.Error("role check failed", logx.Err(err))
		return AbortNotAdmin
	case !role.IsAdmin():
		log.Info("bot is not admin", logx.String("role", string(role)))
		return AbortNotAdmin
	}

	templates := e.templates.Templates()
	if len(templates) == 0 {
		log.Info("no templates configured")
		return AbortNoTemplates
	}

	e.rngMu.Lock()
	pool := BuildPool(templates, q, e.rng)
	e.rngMu.Unlock()

	mention := Mention(profile)
	log.Info("dispatch started", logx.Int("quantity", q), logx.Int64("target_id", targetID))
	return e.sendLoop(ctx, req.ChatID, pool, mention, set, limiter, rep, log)
}

func (e *Engine) sendLoop(ctx context.Context, chatID int64, pool []string, mention string, set Settings, limiter *rate.Limiter, rep *Report, log logx.Logger) AbortReason {
	// one entry is one message, so a partly delivered entry never happens
	opts := &kit.SendOptions{ParseMode: kit.ParseModeHTML, Whole: true}
	for _, tpl := range pool {
		if ctx.Err() != nil {
			return AbortCanceled
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return AbortCanceled
			}
		}

		text := strings.ReplaceAll(tpl, Placeholder, mention)
		_, err := e.platform.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, opts)
		if wait, ok := kit.AsFloodWait(err); ok {
			rep.Skipped++
			log.Warn("flood wait", logx.Duration("wait", wait))
			if e.sleep(ctx, wait) != nil {
				return AbortCanceled
			}
			continue
		}
		switch {
		case errors.Is(err, kit.ErrWriteForbidden):
			rep.Failed++
			log.Error("bot cannot write in chat", logx.Err(err))
			return AbortWriteForbidden
		case err != nil:
			if ctx.Err() != nil {
				return AbortCanceled
			}
			rep.Failed++
			log.Error("send failed", logx.Err(err))
			continue
		}

		rep.Sent++
		if e.sleep(ctx, e.pause(set)) != nil {
			return AbortCanceled
		}
	}
	return AbortNone
}

func (e *Engine) pause(set Settings) time.Duration {
	span := set.PauseMax - set.PauseMin
	if span <= 0 {
		return set.PauseMin
	}
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return set.PauseMin + time.Duration(e.rng.Int64N(int64(span)))
}

func (e *Engine) finish(rep Report, req Request, log logx.Logger) {
	fields := []logx.Field{
		logx.Int("requested", rep.Requested),
		logx.Int("sent", rep.Sent),
		logx.Int("failed", rep.Failed),
		logx.Int("skipped", rep.Skipped),
		logx.Duration("took", rep.Duration),
	}
	if rep.Aborted != AbortNone {
		fields = append(fields, logx.String("aborted", string(rep.Aborted)))
	}
	log.Info("dispatch finished", fields...)

	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: eventbus.TypeDispatchFinished, Data: eventbus.DispatchFinished{
			RunID:     rep.RunID,
			ChatID:    rep.ChatID,
			Requested: rep.Requested,
			Sent:      rep.Sent,
			Failed:    rep.Failed,
			Skipped:   rep.Skipped,
			Aborted:   string(rep.Aborted),
			Duration:  rep.Duration,
		}})
	}
	if e.audit != nil {
		actx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := e.audit.AppendAudit(actx, storage.AuditEntry{
			ActorID: req.Account,
			ChatID:  rep.ChatID,
			Action:  "dispatch",
			Target:  strconv.FormatInt(rep.TargetID, 10),
			OK:      rep.Sent,
			Fail:    rep.Failed,
			Error:   string(rep.Aborted),
			TookMS:  rep.Duration.Milliseconds(),
			Meta:    rep.RunID,
		})
		if err != nil {
			log.Warn("audit append failed", logx.Err(err))
		}
	}
}

// ResolveTarget turns a raw target into an account id. Numeric input,
// including negative ids, is used as is; anything else is resolved as a
// handle with its "@" stripped.
func ResolveTarget(ctx context.Context, p Platform, raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return id, nil
	}
	handle := strings.TrimPrefix(raw, "@")
	if handle == "" {
		return 0, kit.ErrInvalidIdentity
	}
	id, err := p.ResolveAccount(ctx, handle)
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, kit.ErrInvalidIdentity
	}
	return id, nil
}

// Mention renders the HTML link that replaces the placeholder.
func Mention(p kit.Profile) string {
	return tgui.Mention(p.DisplayName(), p.ID).String()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
