package adapter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "codegate/internal/runtime/supervisor"
	kit "codegate/internal/transport"
	logx "codegate/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

// Adapter implements transport.Adapter on top of telebot long polling.
type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Value // chan<- kit.Update
	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	droppedUpdates atomic.Uint64
}

var _ kit.Adapter = (*Adapter)(nil)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

// Username is the bot's own @handle without the marker.
func (a *Adapter) Username() string {
	if a.bot == nil || a.bot.Me == nil {
		return ""
	}
	return a.bot.Me.Username
}

func (a *Adapter) registerHandlers() {
	forward := func(c tele.Context) error {
		if m := c.Message(); m != nil && m.Chat != nil {
			a.sendUpdate(kit.Update{Message: convertMessage(m)})
		}
		return nil
	}
	a.bot.Handle(tele.OnText, forward)
	a.bot.Handle(tele.OnChannelPost, forward)
}

func convertMessage(m *tele.Message) *kit.Message {
	out := &kit.Message{
		ID:       m.ID,
		ChatID:   m.Chat.ID,
		ChatKind: chatKind(m.Chat.Type),
		Text:     m.Text,
		Date:     m.Time(),
	}
	// A message posted on behalf of a chat (anonymous admin, linked channel)
	// carries the group bot as Sender; treat it as anonymous.
	if m.Sender != nil && m.SenderChat == nil {
		id := m.Sender.ID
		out.SenderID = &id
		out.SenderUsername = m.Sender.Username
	}
	return out
}

func chatKind(t tele.ChatType) kit.ChatKind {
	switch t {
	case tele.ChatPrivate:
		return kit.ChatPrivate
	case tele.ChatGroup:
		return kit.ChatGroup
	case tele.ChatSuperGroup:
		return kit.ChatSupergroup
	default:
		return kit.ChatChannel
	}
}

func (a *Adapter) sendUpdate(up kit.Update) {
	out, _ := a.out.Load().(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		a.droppedUpdates.Add(1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log))
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				a.reportDropped(cap(out))
				return
			case <-ticker.C:
				a.reportDropped(cap(out))
			}
		}
	})

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// bot.Start blocks until Stop; restart it if it returns early.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started", logx.String("bot", a.Username()))
		a.bot.Start()
		a.log.Info("polling stopped")
		return nil
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) reportDropped(capacity int) {
	if n := a.droppedUpdates.Swap(0); n > 0 {
		a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", capacity))
	}
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	sup.Cancel()

	// Never block shutdown on a pending getUpdates long-poll.
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		a.log.Warn("telegram stop incomplete", logx.Err(err))
	}
	return nil
}

// splitText cuts long text into sendable chunks, preferring newline
// boundaries and avoiding a cut inside an HTML tag.
func splitText(s string, limit int, parseMode string) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	var out []string
	start := 0
	for start < len(rs) {
		end := start + limit
		if end >= len(rs) {
			out = append(out, string(rs[start:]))
			break
		}
		for i := end - 1; i > start+limit/3; i-- {
			if rs[i] == '\n' {
				end = i + 1
				break
			}
		}
		if strings.EqualFold(parseMode, kit.ParseModeHTML) {
			open, closed := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					open = i
				case '>':
					closed = i
				}
			}
			if open > closed && open > start+1 {
				end = open
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	if opt.Whole && !kit.FitsOneMessage(text) {
		return kit.MessageRef{}, kit.ErrTextTooLong
	}
	chat := &tele.Chat{ID: to.ChatID}
	sendOpt := &tele.SendOptions{ParseMode: opt.ParseMode, DisableWebPagePreview: opt.DisablePreview}

	var first kit.MessageRef
	for i, chunk := range splitText(text, kit.TextLimit, opt.ParseMode) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := a.bot.Send(chat, chunk, sendOpt)
		if err != nil {
			return first, classify(err)
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}
		}
	}
	return first, nil
}

func (a *Adapter) DeleteMessages(ctx context.Context, chatID int64, ids ...int) error {
	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := a.bot.Delete(&tele.Message{ID: id, Chat: &tele.Chat{ID: chatID}}); err != nil {
			errs = append(errs, classifyDelete(err))
		}
	}
	return errors.Join(errs...)
}

// ResolveAccount accepts a numeric id or an @username. The Bot API only
// resolves usernames of chats the bot can see.
func (a *Adapter) ResolveAccount(ctx context.Context, handle string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	ch, err := a.bot.ChatByUsername("@" + strings.TrimPrefix(strings.TrimSpace(handle), "@"))
	if err != nil {
		return 0, errors.Join(kit.ErrInvalidIdentity, classify(err))
	}
	if ch.Type != tele.ChatPrivate {
		return 0, kit.ErrInvalidIdentity
	}
	return ch.ID, nil
}

func (a *Adapter) FetchProfile(ctx context.Context, id int64) (kit.Profile, error) {
	if err := ctx.Err(); err != nil {
		return kit.Profile{}, err
	}
	ch, err := a.bot.ChatByID(id)
	if err != nil {
		return kit.Profile{}, errors.Join(kit.ErrInvalidIdentity, classify(err))
	}
	return kit.Profile{ID: ch.ID, FirstName: ch.FirstName, LastName: ch.LastName, Username: ch.Username}, nil
}

func (a *Adapter) SelfRole(ctx context.Context, chatID int64) (kit.Role, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	member, err := a.bot.ChatMemberOf(&tele.Chat{ID: chatID}, a.bot.Me)
	if err != nil {
		err = classify(err)
		if errors.Is(err, kit.ErrWriteForbidden) {
			return "", errors.Join(kit.ErrAdminRequired, err)
		}
		return "", err
	}
	switch member.Role {
	case tele.Creator:
		return kit.RoleCreator, nil
	case tele.Administrator:
		return kit.RoleAdministrator, nil
	case tele.Restricted:
		return kit.RoleRestricted, nil
	case tele.Left:
		return kit.RoleLeft, nil
	case tele.Kicked:
		return kit.RoleKicked, nil
	default:
		return kit.RoleMember, nil
	}
}

func (a *Adapter) ResolveChat(ctx context.Context, handle string) (kit.Chat, error) {
	if err := ctx.Err(); err != nil {
		return kit.Chat{}, err
	}
	handle = strings.TrimSpace(handle)
	var (
		ch  *tele.Chat
		err error
	)
	if id, ok := parseChatID(handle); ok {
		ch, err = a.bot.ChatByID(id)
	} else {
		ch, err = a.bot.ChatByUsername("@" + strings.TrimPrefix(handle, "@"))
	}
	if err != nil {
		return kit.Chat{}, errors.Join(kit.ErrInvalidIdentity, classify(err))
	}
	return kit.Chat{ID: ch.ID, Kind: chatKind(ch.Type), Title: ch.Title, Username: ch.Username}, nil
}
