package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

type ChatKind string

const (
	ChatPrivate    ChatKind = "private"
	ChatGroup      ChatKind = "group"
	ChatSupergroup ChatKind = "supergroup"
	ChatChannel    ChatKind = "channel"
)

func (k ChatKind) IsPrivate() bool { return k == ChatPrivate }

type Update struct {
	Message *Message
}

// Message is an inbound text message.
//
// SenderID is nil when the platform hides the author (anonymous group admin,
// channel post).
type Message struct {
	ID             int
	ChatID         int64
	ChatKind       ChatKind
	SenderID       *int64
	SenderUsername string
	Text           string
	Date           time.Time
}

func (m *Message) HasSender() bool { return m != nil && m.SenderID != nil }

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	// Whole fails with ErrTextTooLong instead of splitting text that does
	// not fit one message.
	Whole bool
}

// TextLimit is the most runes a single outgoing message carries.
const TextLimit = 4000

// FitsOneMessage reports whether text can go out without being split.
func FitsOneMessage(text string) bool {
	return utf8.RuneCountInString(text) <= TextLimit
}

const ParseModeHTML = "HTML"

// Profile is the public identity of an account.
type Profile struct {
	ID        int64
	FirstName string
	LastName  string
	Username  string
}

// DisplayName prefers the first name, then the username, then the numeric id.
func (p Profile) DisplayName() string {
	switch {
	case p.FirstName != "":
		return p.FirstName
	case p.Username != "":
		return p.Username
	default:
		return fmt.Sprintf("%d", p.ID)
	}
}

type Role string

const (
	RoleCreator       Role = "creator"
	RoleAdministrator Role = "administrator"
	RoleMember        Role = "member"
	RoleRestricted    Role = "restricted"
	RoleLeft          Role = "left"
	RoleKicked        Role = "kicked"
)

func (r Role) IsAdmin() bool { return r == RoleCreator || r == RoleAdministrator }

type Chat struct {
	ID       int64
	Kind     ChatKind
	Title    string
	Username string
}

// Name is the title, the @username or the id, in that order.
func (c Chat) Name() string {
	switch {
	case c.Title != "":
		return c.Title
	case c.Username != "":
		return "@" + c.Username
	default:
		return fmt.Sprintf("%d", c.ID)
	}
}

// Adapter is the platform client. Implementations classify failures into the
// errors below so callers can branch with errors.Is / errors.As.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	DeleteMessages(ctx context.Context, chatID int64, ids ...int) error

	ResolveAccount(ctx context.Context, handle string) (int64, error)
	FetchProfile(ctx context.Context, id int64) (Profile, error)
	SelfRole(ctx context.Context, chatID int64) (Role, error)
	ResolveChat(ctx context.Context, handle string) (Chat, error)
}

var (
	ErrWriteForbidden  = errors.New("transport: write forbidden in chat")
	ErrNotParticipant  = errors.New("transport: bot is not a participant")
	ErrInvalidIdentity = errors.New("transport: identity cannot be resolved")
	ErrDeleteForbidden = errors.New("transport: delete forbidden")
	ErrAdminRequired   = errors.New("transport: admin rights required")
	ErrTextTooLong     = errors.New("transport: text exceeds one message")
)

// FloodWaitError asks the caller to back off for Wait before the next call.
type FloodWaitError struct {
	Wait time.Duration
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("transport: flood wait %s", e.Wait)
}

// AsFloodWait reports the requested back-off if err is a flood wait.
func AsFloodWait(err error) (time.Duration, bool) {
	var fw *FloodWaitError
	if errors.As(err, &fw) {
		return fw.Wait, true
	}
	return 0, false
}
