// Package fake is an in-memory transport.Adapter for tests.
package fake

import (
	"context"
	"slices"
	"strings"
	"sync"

	kit "codegate/internal/transport"
)

type Sent struct {
	ChatID    int64
	MessageID int
	Text      string
}

type Deleted struct {
	ChatID    int64
	MessageID int
}

// Platform records every call. Unset roles default to administrator.
type Platform struct {
	mu     sync.Mutex
	nextID int
	out    chan<- kit.Update

	sent    []Sent
	deleted []Deleted
	calls   []string

	Accounts map[string]int64
	Profiles map[int64]kit.Profile
	Roles    map[int64]kit.Role
	Chats    map[string]kit.Chat

	// SendErrs is consumed one entry per SendText call; nil means success.
	SendErrs  []error
	DeleteErr error
	RoleErr   error
}

var _ kit.Adapter = (*Platform)(nil)

func New() *Platform {
	return &Platform{
		nextID:   1000,
		Accounts: map[string]int64{},
		Profiles: map[int64]kit.Profile{},
		Roles:    map[int64]kit.Role{},
		Chats:    map[string]kit.Chat{},
	}
}

func (p *Platform) Start(ctx context.Context, out chan<- kit.Update) error {
	p.mu.Lock()
	p.out = out
	p.mu.Unlock()
	return nil
}

func (p *Platform) Stop(ctx context.Context) error {
	p.mu.Lock()
	p.out = nil
	p.mu.Unlock()
	return nil
}

// Push delivers m to the consumer registered by Start.
func (p *Platform) Push(m kit.Message) {
	p.mu.Lock()
	out := p.out
	p.mu.Unlock()
	if out != nil {
		out <- kit.Update{Message: &m}
	}
}

func (p *Platform) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if opt != nil && opt.Whole && !kit.FitsOneMessage(text) {
		return kit.MessageRef{}, kit.ErrTextTooLong
	}
	p.calls = append(p.calls, "send")
	if len(p.SendErrs) > 0 {
		err := p.SendErrs[0]
		p.SendErrs = p.SendErrs[1:]
		if err != nil {
			return kit.MessageRef{}, err
		}
	}
	p.nextID++
	p.sent = append(p.sent, Sent{ChatID: to.ChatID, MessageID: p.nextID, Text: text})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: p.nextID}, nil
}

func (p *Platform) DeleteMessages(ctx context.Context, chatID int64, ids ...int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "delete")
	if p.DeleteErr != nil {
		return p.DeleteErr
	}
	for _, id := range ids {
		p.deleted = append(p.deleted, Deleted{ChatID: chatID, MessageID: id})
	}
	return nil
}

func (p *Platform) ResolveAccount(ctx context.Context, handle string) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.Accounts[strings.TrimPrefix(handle, "@")]
	if !ok {
		return 0, kit.ErrInvalidIdentity
	}
	return id, nil
}

func (p *Platform) FetchProfile(ctx context.Context, id int64) (kit.Profile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pr, ok := p.Profiles[id]
	if !ok {
		return kit.Profile{}, kit.ErrInvalidIdentity
	}
	return pr, nil
}

func (p *Platform) SelfRole(ctx context.Context, chatID int64) (kit.Role, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.RoleErr != nil {
		return "", p.RoleErr
	}
	if r, ok := p.Roles[chatID]; ok {
		return r, nil
	}
	return kit.RoleAdministrator, nil
}

func (p *Platform) ResolveChat(ctx context.Context, handle string) (kit.Chat, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.Chats[strings.TrimPrefix(handle, "@")]
	if !ok {
		return kit.Chat{}, kit.ErrInvalidIdentity
	}
	return c, nil
}

// AddUser registers a resolvable account with a profile.
func (p *Platform) AddUser(id int64, username, firstName string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if username != "" {
		p.Accounts[username] = id
	}
	p.Profiles[id] = kit.Profile{ID: id, Username: username, FirstName: firstName}
}

func (p *Platform) Sent() []Sent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.sent)
}

// SentTo returns the texts sent into chatID.
func (p *Platform) SentTo(chatID int64) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, s := range p.sent {
		if s.ChatID == chatID {
			out = append(out, s.Text)
		}
	}
	return out
}

func (p *Platform) Deleted() []Deleted {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.deleted)
}

// WasDeleted reports whether message id in chatID was deleted.
func (p *Platform) WasDeleted(chatID int64, id int) bool {
	return slices.Contains(p.Deleted(), Deleted{ChatID: chatID, MessageID: id})
}

// Calls lists "send" and "delete" in call order.
func (p *Platform) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.calls)
}
