// Package gate decides what happens to an inbound message that may carry the
// dispatch command. Evaluation is a pure ordered rule pipeline; Handler
// applies the resulting Outcome against the platform.
package gate

import (
	"strings"

	"codegate/internal/access"
	kit "codegate/internal/transport"
)

type Kind int

const (
	Ignored Kind = iota
	PrivateReply
	Rejected
	Accepted
)

func (k Kind) String() string {
	switch k {
	case Ignored:
		return "ignored"
	case PrivateReply:
		return "private"
	case Rejected:
		return "rejected"
	case Accepted:
		return "accepted"
	default:
		return "unknown"
	}
}

type Reason string

const (
	ReasonChatNotAuthorized    Reason = "chat_not_authorized"
	ReasonMalformed            Reason = "malformed"
	ReasonUnknownToken         Reason = "unknown_token"
	ReasonSenderMismatch       Reason = "sender_mismatch"
	ReasonAccountNotAuthorized Reason = "account_not_authorized"
)

// Cleanup is the artifact removal a rejection asks for.
type Cleanup int

const (
	CleanupNone Cleanup = iota
	// CleanupDeleteTrigger removes the command message.
	CleanupDeleteTrigger
	// CleanupDeleteTriggerAndWarn also posts a notice that removes itself
	// after the warning delay.
	CleanupDeleteTriggerAndWarn
)

// Record is an accepted command.
type Record struct {
	ChatID    int64
	MessageID int
	SenderID  *int64
	Text      string
	Token     string
	Target    string
	Quantity  string // raw; the dispatcher validates it
	Account   int64  // account bound to Token
}

type Outcome struct {
	Kind    Kind
	Reason  Reason
	Cleanup Cleanup
	Record  *Record
}

func reject(r Reason, c Cleanup) *Outcome {
	return &Outcome{Kind: Rejected, Reason: r, Cleanup: c}
}

// Authority is the read side of the authorization state.
type Authority interface {
	Command() string
	ResolveToken(token string) (int64, bool)
	IsChatAuthorized(chat int64) bool
	IsAccountAuthorized(account int64) bool
}

type stateAuthority struct{ s *access.State }

// FromState reads live authorization data from s on every call.
func FromState(s *access.State) Authority { return stateAuthority{s: s} }

func (a stateAuthority) Command() string                     { return a.s.Settings().Command() }
func (a stateAuthority) ResolveToken(t string) (int64, bool) { return a.s.Tokens().Resolve(t) }
func (a stateAuthority) IsChatAuthorized(c int64) bool       { return a.s.Ledger().IsChatAuthorized(c) }
func (a stateAuthority) IsAccountAuthorized(id int64) bool   { return a.s.Ledger().IsAccountAuthorized(id) }

// Input is the per-message evaluation state shared by the rules.
type Input struct {
	Message     kit.Message
	Auth        Authority
	BotUsername string

	fields []string
	rec    Record
}

// Rule returns a terminal outcome, or nil to pass the message on.
type Rule struct {
	Name  string
	Check func(in *Input) *Outcome
}

// Rules returns the pipeline in evaluation order.
func Rules() []Rule {
	return []Rule{
		{"trigger", checkTrigger},
		{"chat", checkChat},
		{"private", checkPrivate},
		{"parse", checkParse},
		{"token", checkToken},
		{"sender", checkSender},
		{"account", checkAccount},
	}
}

type Gate struct {
	auth  Authority
	bot   string
	rules []Rule
}

// New builds a gate. botUsername (without "@") lets "/cmd@bot" match; when
// empty any @suffix is accepted.
func New(auth Authority, botUsername string) *Gate {
	return &Gate{auth: auth, bot: strings.TrimPrefix(botUsername, "@"), rules: Rules()}
}

// Evaluate runs the rules in order and stops at the first terminal outcome.
func (g *Gate) Evaluate(m kit.Message) Outcome {
	in := &Input{Message: m, Auth: g.auth, BotUsername: g.bot}
	for _, r := range g.rules {
		if out := r.Check(in); out != nil {
			return *out
		}
	}
	rec := in.rec
	return Outcome{Kind: Accepted, Record: &rec}
}

// IsTrigger reports whether text starts with command.
func (g *Gate) IsTrigger(text string) bool {
	return MatchCommand(text, g.auth.Command(), g.bot)
}

// MatchCommand reports whether the first word of text is command, with or
// without its leading "/", optionally addressed as "/cmd@bot".
func MatchCommand(text, command, botUsername string) bool {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false
	}
	first := fields[0]
	if at := strings.IndexByte(first, '@'); at > 0 {
		if botUsername != "" && !strings.EqualFold(first[at+1:], botUsername) {
			return false
		}
		first = first[:at]
	}
	bare := strings.TrimPrefix(command, "/")
	if bare == "" {
		return false
	}
	return first == "/"+bare || first == bare
}

func checkTrigger(in *Input) *Outcome {
	if !MatchCommand(in.Message.Text, in.Auth.Command(), in.BotUsername) {
		return &Outcome{Kind: Ignored}
	}
	return nil
}

func checkChat(in *Input) *Outcome {
	m := in.Message
	if !m.ChatKind.IsPrivate() && !in.Auth.IsChatAuthorized(m.ChatID) {
		return reject(ReasonChatNotAuthorized, CleanupDeleteTrigger)
	}
	return nil
}

func checkPrivate(in *Input) *Outcome {
	if in.Message.ChatKind.IsPrivate() {
		return &Outcome{Kind: PrivateReply}
	}
	return nil
}

func checkParse(in *Input) *Outcome {
	in.fields = strings.Fields(in.Message.Text)
	if len(in.fields) < 4 {
		return reject(ReasonMalformed, CleanupDeleteTrigger)
	}
	m := in.Message
	in.rec = Record{
		ChatID:    m.ChatID,
		MessageID: m.ID,
		SenderID:  m.SenderID,
		Text:      m.Text,
		Token:     in.fields[1],
		Target:    in.fields[2],
		Quantity:  in.fields[3],
	}
	return nil
}

func checkToken(in *Input) *Outcome {
	account, ok := in.Auth.ResolveToken(in.rec.Token)
	if !ok {
		return reject(ReasonUnknownToken, CleanupDeleteTriggerAndWarn)
	}
	in.rec.Account = account
	return nil
}

// checkSender only applies to messages with a visible author; anonymous
// admins and channel posts act as the token's account.
func checkSender(in *Input) *Outcome {
	if in.Message.HasSender() && *in.Message.SenderID != in.rec.Account {
		return reject(ReasonSenderMismatch, CleanupDeleteTriggerAndWarn)
	}
	return nil
}

func checkAccount(in *Input) *Outcome {
	if !in.Auth.IsAccountAuthorized(in.rec.Account) {
		return reject(ReasonAccountNotAuthorized, CleanupDeleteTriggerAndWarn)
	}
	return nil
}
