package gate

import (
	"testing"

	kit "codegate/internal/transport"
)

type staticAuth struct {
	command  string
	tokens   map[string]int64
	chats    map[int64]bool
	accounts map[int64]bool
}

func (a staticAuth) Command() string { return a.command }
func (a staticAuth) ResolveToken(t string) (int64, bool) {
	id, ok := a.tokens[t]
	return id, ok
}
func (a staticAuth) IsChatAuthorized(c int64) bool     { return a.chats[c] }
func (a staticAuth) IsAccountAuthorized(id int64) bool { return a.accounts[id] }

func newAuth() staticAuth {
	return staticAuth{
		command:  "/s",
		tokens:   map[string]int64{"ABC123": 42, "ORPHAN": 77},
		chats:    map[int64]bool{100: true},
		accounts: map[int64]bool{1: true, 42: true},
	}
}

func sender(id int64) *int64 { return &id }

func group(text string, from *int64) kit.Message {
	return kit.Message{ID: 5, ChatID: 100, ChatKind: kit.ChatSupergroup, SenderID: from, Text: text}
}

func TestMatchCommand(t *testing.T) {
	t.Parallel()

	cases := []struct {
		text, cmd, bot string
		want           bool
	}{
		{"/s a b 1", "/s", "", true},
		{"s a b 1", "/s", "", true},
		{"/s@codegate_bot a b 1", "/s", "codegate_bot", true},
		{"/s@CodeGate_Bot a", "/s", "codegate_bot", true},
		{"/s@other_bot a b 1", "/s", "codegate_bot", false},
		{"/s@any a", "/s", "", true},
		{"/start", "/s", "", false},
		{"/setcmd x", "/s", "", false},
		{"  /s\ta b 1", "/s", "", true},
		{"hello /s", "/s", "", false},
		{"", "/s", "", false},
		{"/go now", "go", "", true},
	}
	for _, tc := range cases {
		if got := MatchCommand(tc.text, tc.cmd, tc.bot); got != tc.want {
			t.Fatalf("MatchCommand(%q,%q,%q)=%v want %v", tc.text, tc.cmd, tc.bot, got, tc.want)
		}
	}
}

func TestEvaluateBotHandleIsFixedAtConstruction(t *testing.T) {
	t.Parallel()

	g := New(newAuth(), "@codegate_bot")
	if out := g.Evaluate(group("/s@codegate_bot ABC123 @alice 3", sender(42))); out.Kind != Accepted {
		t.Fatalf("own handle: kind=%v", out.Kind)
	}
	if out := g.Evaluate(group("/s@other_bot ABC123 @alice 3", sender(42))); out.Kind != Ignored {
		t.Fatalf("other bot: kind=%v", out.Kind)
	}
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	g := New(newAuth(), "codegate_bot")
	cases := []struct {
		name    string
		msg     kit.Message
		kind    Kind
		reason  Reason
		cleanup Cleanup
	}{
		{"not a trigger", group("hello", sender(42)), Ignored, "", CleanupNone},
		{"chat not authorized", kit.Message{ChatID: 555, ChatKind: kit.ChatGroup, SenderID: sender(42), Text: "/s ABC123 @alice 3"}, Rejected, ReasonChatNotAuthorized, CleanupDeleteTrigger},
		{"unauthorized chat is checked before parsing", kit.Message{ChatID: 555, ChatKind: kit.ChatChannel, Text: "/s"}, Rejected, ReasonChatNotAuthorized, CleanupDeleteTrigger},
		{"private", kit.Message{ChatID: 42, ChatKind: kit.ChatPrivate, SenderID: sender(42), Text: "/s ABC123 @alice 3"}, PrivateReply, "", CleanupNone},
		{"too short", group("/s ABC123 @alice", sender(42)), Rejected, ReasonMalformed, CleanupDeleteTrigger},
		{"unknown token", group("/s NOPE @alice 3", sender(42)), Rejected, ReasonUnknownToken, CleanupDeleteTriggerAndWarn},
		{"sender mismatch", group("/s ABC123 @alice 3", sender(9)), Rejected, ReasonSenderMismatch, CleanupDeleteTriggerAndWarn},
		{"sender mismatch even if sender is authorized", group("/s ABC123 @alice 3", sender(1)), Rejected, ReasonSenderMismatch, CleanupDeleteTriggerAndWarn},
		{"account not authorized", group("/s ORPHAN @alice 3", sender(77)), Rejected, ReasonAccountNotAuthorized, CleanupDeleteTriggerAndWarn},
		{"anonymous, account not authorized", group("/s ORPHAN @alice 3", nil), Rejected, ReasonAccountNotAuthorized, CleanupDeleteTriggerAndWarn},
		{"accepted", group("/s ABC123 @alice 3", sender(42)), Accepted, "", CleanupNone},
		{"anonymous accepted", group("/s ABC123 @alice 3", nil), Accepted, "", CleanupNone},
		{"bare command accepted", group("s ABC123 @alice 3 extra", sender(42)), Accepted, "", CleanupNone},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			out := g.Evaluate(tc.msg)
			if out.Kind != tc.kind || out.Reason != tc.reason || out.Cleanup != tc.cleanup {
				t.Fatalf("got %+v want kind=%v reason=%q cleanup=%v", out, tc.kind, tc.reason, tc.cleanup)
			}
			if (out.Kind == Accepted) != (out.Record != nil) {
				t.Fatalf("record presence mismatch: %+v", out)
			}
		})
	}
}

func TestEvaluateRecord(t *testing.T) {
	t.Parallel()

	g := New(newAuth(), "")
	out := g.Evaluate(group("/s  ABC123   -100200  7", sender(42)))
	if out.Kind != Accepted {
		t.Fatalf("out=%+v", out)
	}
	r := out.Record
	if r.Token != "ABC123" || r.Target != "-100200" || r.Quantity != "7" || r.Account != 42 || r.ChatID != 100 || r.MessageID != 5 {
		t.Fatalf("record=%+v", r)
	}
}

func TestRulesInIsolation(t *testing.T) {
	t.Parallel()

	in := &Input{Message: group("/s ABC123 @alice 3", sender(9)), Auth: newAuth()}
	for _, r := range Rules()[:4] {
		if out := r.Check(in); out != nil {
			t.Fatalf("rule %s stopped early: %+v", r.Name, out)
		}
	}
	if out := checkToken(in); out != nil || in.rec.Account != 42 {
		t.Fatalf("token rule: out=%+v account=%d", out, in.rec.Account)
	}
	if out := checkSender(in); out == nil || out.Reason != ReasonSenderMismatch {
		t.Fatalf("sender rule: %+v", out)
	}

	names := []string{}
	for _, r := range Rules() {
		names = append(names, r.Name)
	}
	want := []string{"trigger", "chat", "private", "parse", "token", "sender", "account"}
	if len(names) != len(want) {
		t.Fatalf("rules=%v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("rules=%v want %v", names, want)
		}
	}
}

func TestKindString(t *testing.T) {
	t.Parallel()

	if Accepted.String() != "accepted" || Rejected.String() != "rejected" || PrivateReply.String() != "private" || Ignored.String() != "ignored" {
		t.Fatal("unexpected kind names")
	}
}
