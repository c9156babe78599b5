package adapter

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "codegate/internal/transport"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   error
		want error
	}{
		{"write forbidden", errors.New("telegram: Bad Request: have no rights to send a message (400)"), kit.ErrWriteForbidden},
		{"kicked", errors.New("telegram: Forbidden: bot was kicked from the supergroup chat (403)"), kit.ErrWriteForbidden},
		{"chat not found", errors.New("telegram: Bad Request: chat not found (400)"), kit.ErrNotParticipant},
		{"bad username", errors.New("USERNAME_INVALID"), kit.ErrInvalidIdentity},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := classify(tc.in); !errors.Is(got, tc.want) {
				t.Fatalf("classify(%v)=%v want %v", tc.in, got, tc.want)
			}
		})
	}

	other := errors.New("network down")
	if got := classify(other); got != other {
		t.Fatalf("unknown errors must pass through, got %v", got)
	}
}

func TestClassifyFloodWait(t *testing.T) {
	t.Parallel()

	got := classify(tele.FloodError{RetryAfter: 7})
	wait, ok := kit.AsFloodWait(got)
	if !ok || wait != 7*time.Second {
		t.Fatalf("wait=%v ok=%v", wait, ok)
	}
}

func TestClassifyDelete(t *testing.T) {
	t.Parallel()

	err := classifyDelete(errors.New("telegram: Bad Request: message can't be deleted (400)"))
	if !errors.Is(err, kit.ErrDeleteForbidden) {
		t.Fatalf("got %v", err)
	}
}

func TestConvertMessageAnonymousSender(t *testing.T) {
	t.Parallel()

	group := &tele.Chat{ID: -100, Type: tele.ChatSuperGroup}
	named := convertMessage(&tele.Message{ID: 1, Chat: group, Sender: &tele.User{ID: 42, Username: "bob"}, Text: "/s x y 1"})
	if named.SenderID == nil || *named.SenderID != 42 || named.ChatKind != kit.ChatSupergroup {
		t.Fatalf("named=%+v", named)
	}

	anon := convertMessage(&tele.Message{ID: 2, Chat: group, Sender: &tele.User{ID: 1087968824}, SenderChat: group})
	if anon.SenderID != nil {
		t.Fatalf("anonymous admin must have no sender, got %d", *anon.SenderID)
	}
}

func TestSplitText(t *testing.T) {
	t.Parallel()

	if got := splitText("short", 10, ""); len(got) != 1 || got[0] != "short" {
		t.Fatalf("got %q", got)
	}

	long := strings.Repeat("abcdefghi\n", 5)
	parts := splitText(long, 20, "")
	if len(parts) < 3 {
		t.Fatalf("parts=%q", parts)
	}
	for _, p := range parts {
		if len([]rune(p)) > 20 {
			t.Fatalf("chunk too long: %q", p)
		}
	}

	html := strings.Repeat("x", 15) + `<a href="y">z</a>`
	for _, p := range splitText(html, 18, kit.ParseModeHTML) {
		if strings.Count(p, "<") > strings.Count(p, ">") {
			t.Fatalf("chunk cuts a tag: %q", p)
		}
	}
}

func TestSendTextWholeRejectsOversize(t *testing.T) {
	t.Parallel()

	// no bot is needed: the check runs before anything is sent
	a := &Adapter{}
	long := strings.Repeat("x", kit.TextLimit+1)
	_, err := a.SendText(context.Background(), kit.ChatTarget{ChatID: 1}, long, &kit.SendOptions{Whole: true})
	if !errors.Is(err, kit.ErrTextTooLong) {
		t.Fatalf("err=%v", err)
	}
}

func TestParseChatID(t *testing.T) {
	t.Parallel()

	if id, ok := parseChatID("-1001234"); !ok || id != -1001234 {
		t.Fatalf("id=%d ok=%v", id, ok)
	}
	if _, ok := parseChatID("@group"); ok {
		t.Fatalf("username must not parse as id")
	}
}
