package gate

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"codegate/internal/cleanup"
	"codegate/internal/eventbus"
	"codegate/internal/storage"
	kit "codegate/internal/transport"
	logx "codegate/pkg/logx"
	"codegate/pkg/tgui"
)

const DefaultWarningTTL = 20 * time.Second

// Notices posted for rejections that warn.
var warnings = map[Reason]string{
	ReasonUnknownToken:         "❌ Unauthorized user. Command ignored.",
	ReasonSenderMismatch:       "❌ Command sent by a user ID that does not match the secret code's assigned user ID. Command ignored.",
	ReasonAccountNotAuthorized: "❌ Unauthorized user (code valid, but linked user ID is not authorized). Command ignored.",
}

// Warning returns the notice text for r.
func Warning(r Reason) string { return warnings[r] }

// Platform is the part of the chat client the handler needs.
type Platform interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
	DeleteMessages(ctx context.Context, chatID int64, ids ...int) error
}

// Dispatcher receives accepted commands.
type Dispatcher interface {
	Dispatch(ctx context.Context, rec Record)
}

type DispatchFunc func(ctx context.Context, rec Record)

func (f DispatchFunc) Dispatch(ctx context.Context, rec Record) { f(ctx, rec) }

type Handler struct {
	gate     *Gate
	platform Platform
	janitor  *cleanup.Janitor
	dispatch Dispatcher

	log   logx.Logger
	bus   eventbus.Bus
	audit storage.Store

	warningTTL atomic.Int64
}

type HandlerOption func(*Handler)

func WithLogger(log logx.Logger) HandlerOption { return func(h *Handler) { h.log = log } }
func WithBus(bus eventbus.Bus) HandlerOption   { return func(h *Handler) { h.bus = bus } }
func WithAudit(st storage.Store) HandlerOption { return func(h *Handler) { h.audit = st } }

func WithWarningTTL(d time.Duration) HandlerOption {
	return func(h *Handler) { h.SetWarningTTL(d) }
}

func NewHandler(g *Gate, p Platform, j *cleanup.Janitor, d Dispatcher, opts ...HandlerOption) *Handler {
	h := &Handler{gate: g, platform: p, janitor: j, dispatch: d, log: logx.Nop()}
	h.warningTTL.Store(int64(DefaultWarningTTL))
	for _, o := range opts {
		o(h)
	}
	return h
}

// SetWarningTTL changes the delay for notices posted from now on.
func (h *Handler) SetWarningTTL(d time.Duration) {
	if d <= 0 {
		d = DefaultWarningTTL
	}
	h.warningTTL.Store(int64(d))
}

func (h *Handler) WarningTTL() time.Duration { return time.Duration(h.warningTTL.Load()) }

func (h *Handler) Gate() *Gate { return h.gate }

// Handle evaluates m and applies the outcome. Platform failures are logged,
// never returned.
func (h *Handler) Handle(ctx context.Context, m kit.Message) Outcome {
	out := h.gate.Evaluate(m)
	if out.Kind == Ignored {
		return out
	}
	log := h.log.With(logx.Int64("chat_id", m.ChatID), logx.Int("msg_id", m.ID))

	switch out.Kind {
	case PrivateReply:
		log.Debug("dispatch command in private chat")
		h.replyGuidance(ctx, m, log)

	case Rejected:
		log.Info("command rejected", logx.String("reason", string(out.Reason)))
		h.Discard(ctx, m)
		if out.Cleanup == CleanupDeleteTriggerAndWarn {
			h.warn(ctx, m.ChatID, out.Reason, log)
		}
		h.auditReject(m, out.Reason)

	case Accepted:
		log.Info("command accepted", logx.Int64("account", out.Record.Account), logx.String("target", out.Record.Target))
		h.Discard(ctx, m)
		if h.dispatch != nil {
			h.dispatch.Dispatch(ctx, *out.Record)
		}
	}

	if h.bus != nil {
		h.bus.Publish(eventbus.Event{Type: eventbus.TypeGateOutcome, Data: eventbus.GateOutcome{
			Kind:   out.Kind.String(),
			Reason: string(out.Reason),
			ChatID: m.ChatID,
		}})
	}
	return out
}

// Discard deletes m. Deletion is best effort: a missing permission is a
// warning, anything else an error, neither is returned.
func (h *Handler) Discard(ctx context.Context, m kit.Message) {
	err := h.platform.DeleteMessages(ctx, m.ChatID, m.ID)
	switch {
	case err == nil:
		h.log.Debug("trigger deleted", logx.Int64("chat_id", m.ChatID), logx.Int("msg_id", m.ID))
	case errors.Is(err, kit.ErrDeleteForbidden):
		h.log.Warn("cannot delete message: forbidden", logx.Int64("chat_id", m.ChatID), logx.Int("msg_id", m.ID))
	default:
		h.log.Error("delete message failed", logx.Int64("chat_id", m.ChatID), logx.Int("msg_id", m.ID), logx.Err(err))
	}
}

func (h *Handler) warn(ctx context.Context, chatID int64, r Reason, log logx.Logger) {
	text := Warning(r)
	if text == "" {
		return
	}
	ref, err := h.platform.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, nil)
	if err != nil {
		log.Error("warning not sent", logx.Err(err))
		return
	}
	ttl := h.WarningTTL()
	h.janitor.Schedule(ttl, "warning", func(ctx context.Context) error {
		return h.platform.DeleteMessages(ctx, ref.ChatID, ref.MessageID)
	})
	log.Debug("warning posted", logx.Int("warning_id", ref.MessageID), logx.Duration("ttl", ttl))
}

func (h *Handler) replyGuidance(ctx context.Context, m kit.Message, log logx.Logger) {
	_, err := h.platform.SendText(ctx, kit.ChatTarget{ChatID: m.ChatID}, Guidance(h.gate.auth.Command()).String(),
		&kit.SendOptions{ParseMode: kit.ParseModeHTML, DisablePreview: true})
	if err != nil {
		log.Warn("guidance reply failed", logx.Err(err))
	}
}

// Guidance explains where the dispatch command works.
func Guidance(command string) tgui.H {
	return tgui.B("Dispatch command detected in a private chat!") + "\n\n" +
		"To use " + tgui.Code(command) + ", add me to a group or channel as admin, then authorize that chat with " + tgui.Code("/addchat") + ".\n\n" +
		"Then use: " + tgui.Code(command+" <your_secret_code> @username 5")
}

func (h *Handler) auditReject(m kit.Message, r Reason) {
	if h.audit == nil {
		return
	}
	var actor int64
	if m.SenderID != nil {
		actor = *m.SenderID
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.audit.AppendAudit(ctx, storage.AuditEntry{
		ActorID: actor,
		ChatID:  m.ChatID,
		Action:  "gate.reject",
		Error:   string(r),
	}); err != nil {
		h.log.Warn("audit append failed", logx.Err(err))
	}
}
