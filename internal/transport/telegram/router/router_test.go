package router

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"codegate/internal/access"
	"codegate/internal/cleanup"
	"codegate/internal/eventbus"
	"codegate/internal/gate"
	"codegate/internal/stats"
	"codegate/internal/storage"
	kit "codegate/internal/transport"
	"codegate/internal/transport/fake"
	logx "codegate/pkg/logx"
)

const ownerID = 1

type testRouter struct {
	*Router
	platform *fake.Platform
	state    *access.State
	store    *storage.Memory

	mu         sync.Mutex
	dispatched []gate.Record
}

func (tr *testRouter) records() []gate.Record {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]gate.Record(nil), tr.dispatched...)
}

func newTestRouter(t *testing.T) *testRouter {
	t.Helper()

	store := storage.NewMemory()
	st, err := access.Open(context.Background(), store, ownerID, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	p := fake.New()
	p.AddUser(5, "bob", "Bob")
	p.Chats["-100"] = kit.Chat{ID: -100, Kind: kit.ChatSupergroup, Title: "Friends"}
	p.Chats["friends"] = kit.Chat{ID: -100, Kind: kit.ChatSupergroup, Title: "Friends"}

	tr := &testRouter{platform: p, state: st, store: store}
	janitor := cleanup.New(cleanup.NewVirtualClock(time.Unix(0, 0)), logx.Nop())
	dispatch := gate.DispatchFunc(func(ctx context.Context, rec gate.Record) {
		tr.mu.Lock()
		tr.dispatched = append(tr.dispatched, rec)
		tr.mu.Unlock()
	})
	gh := gate.NewHandler(gate.New(gate.FromState(st), "codegate_bot"), p, janitor, dispatch)
	tr.Router = New(Deps{
		Adapter:     p,
		State:       st,
		Gate:        gh,
		Stats:       stats.NewCollector(),
		Audit:       store,
		Bus:         eventbus.New(),
		BotUsername: "codegate_bot",
	}, logx.Nop())
	return tr
}

func private(from int64, text string) kit.Message {
	return kit.Message{ID: 10, ChatID: from, ChatKind: kit.ChatPrivate, SenderID: &from, Text: text}
}

func inGroup(from int64, text string) kit.Message {
	return kit.Message{ID: 11, ChatID: -100, ChatKind: kit.ChatSupergroup, SenderID: &from, Text: text}
}

func (tr *testRouter) lastReply(t *testing.T, chat int64) string {
	t.Helper()
	texts := tr.platform.SentTo(chat)
	if len(texts) == 0 {
		t.Fatalf("no reply in chat %d", chat)
	}
	return texts[len(texts)-1]
}

func TestSplitCommand(t *testing.T) {
	t.Parallel()

	name, bot, args, rest := splitCommand("  /AddMsg@codegate_bot Hello   {mention}  !")
	if name != "addmsg" || bot != "codegate_bot" || len(args) != 2 || rest != "Hello   {mention}  !" {
		t.Fatalf("name=%q bot=%q args=%q rest=%q", name, bot, args, rest)
	}
	if name, _, _, _ := splitCommand("hello"); name != "" {
		t.Fatalf("plain text parsed as %q", name)
	}
	if name, _, args, _ := splitCommand("/listauth"); name != "listauth" || len(args) != 0 {
		t.Fatalf("name=%q args=%q", name, args)
	}
}

func TestOwnerOnly(t *testing.T) {
	t.Parallel()

	tr := newTestRouter(t)
	tr.Handle(context.Background(), private(5, "/a 9"))
	if got := tr.lastReply(t, 5); !strings.Contains(got, "owner only") {
		t.Fatalf("reply=%q", got)
	}
	if tr.state.Ledger().IsAccountAuthorized(9) {
		t.Fatal("non-owner changed the ledger")
	}
}

func TestAddRemoveAccount(t *testing.T) {
	t.Parallel()

	tr := newTestRouter(t)
	ctx := context.Background()

	tr.Handle(ctx, private(ownerID, "/a @bob"))
	if !tr.state.Ledger().IsAccountAuthorized(5) || !strings.Contains(tr.lastReply(t, ownerID), "has been authorized") {
		t.Fatalf("reply=%q", tr.lastReply(t, ownerID))
	}
	tr.Handle(ctx, private(ownerID, "/add 5"))
	if !strings.Contains(tr.lastReply(t, ownerID), "already authorized") {
		t.Fatalf("reply=%q", tr.lastReply(t, ownerID))
	}
	tr.Handle(ctx, private(ownerID, "/a"))
	if !strings.Contains(tr.lastReply(t, ownerID), "Usage:") {
		t.Fatalf("reply=%q", tr.lastReply(t, ownerID))
	}
	tr.Handle(ctx, private(ownerID, "/a @ghost"))
	if !strings.Contains(tr.lastReply(t, ownerID), "Invalid user") {
		t.Fatalf("reply=%q", tr.lastReply(t, ownerID))
	}

	tr.Handle(ctx, private(ownerID, "/r 1"))
	if !strings.Contains(tr.lastReply(t, ownerID), "Cannot remove owner") || !tr.state.Ledger().IsAccountAuthorized(ownerID) {
		t.Fatalf("reply=%q", tr.lastReply(t, ownerID))
	}
	tr.Handle(ctx, private(ownerID, "/remove 5"))
	if tr.state.Ledger().IsAccountAuthorized(5) {
		t.Fatal("account not removed")
	}
	tr.Handle(ctx, private(ownerID, "/r 5"))
	if !strings.Contains(tr.lastReply(t, ownerID), "not in authorized list") {
		t.Fatalf("reply=%q", tr.lastReply(t, ownerID))
	}

	entries, _ := tr.store.RecentAudit(ctx, 10)
	if len(entries) != 2 || entries[0].Action != "owner.remove" || entries[1].Action != "owner.add" {
		t.Fatalf("audit=%+v", entries)
	}
}

func TestGenAndRevokeSecret(t *testing.T) {
	t.Parallel()

	tr := newTestRouter(t)
	ctx := context.Background()

	tr.Handle(ctx, private(ownerID, "/gensecret 5"))
	if !strings.Contains(tr.lastReply(t, ownerID), "not authorized") || len(tr.state.Tokens().List()) != 0 {
		t.Fatalf("reply=%q", tr.lastReply(t, ownerID))
	}

	tr.Handle(ctx, private(ownerID, "/a 5"))
	tr.Handle(ctx, private(ownerID, "/gensecret @bob"))
	token, ok := tr.state.Tokens().TokenFor(5)
	if !ok || !strings.Contains(tr.lastReply(t, ownerID), token) {
		t.Fatalf("token=%q reply=%q", token, tr.lastReply(t, ownerID))
	}

	tr.Handle(ctx, private(ownerID, "/listcodes"))
	if !strings.Contains(tr.lastReply(t, ownerID), token) {
		t.Fatalf("reply=%q", tr.lastReply(t, ownerID))
	}

	tr.Handle(ctx, private(ownerID, "/revokesecret "+token))
	if _, ok := tr.state.Tokens().Resolve(token); ok {
		t.Fatal("token still resolves")
	}
	tr.Handle(ctx, private(ownerID, "/revokesecret "+token))
	if !strings.Contains(tr.lastReply(t, ownerID), "not found") {
		t.Fatalf("reply=%q", tr.lastReply(t, ownerID))
	}
}

func TestChats(t *testing.T) {
	t.Parallel()

	tr := newTestRouter(t)
	ctx := context.Background()

	tr.Handle(ctx, private(ownerID, "/listchats"))
	if !strings.Contains(tr.lastReply(t, ownerID), "No authorized chats") {
		t.Fatalf("reply=%q", tr.lastReply(t, ownerID))
	}
	tr.Handle(ctx, private(ownerID, "/addchat @friends"))
	if !tr.state.Ledger().IsChatAuthorized(-100) {
		t.Fatal("chat not authorized")
	}
	tr.Handle(ctx, private(ownerID, "/addchat -100"))
	if !strings.Contains(tr.lastReply(t, ownerID), "already authorized") {
		t.Fatalf("reply=%q", tr.lastReply(t, ownerID))
	}
	tr.Handle(ctx, private(ownerID, "/addchat -200"))
	tr.Handle(ctx, private(ownerID, "/listchats"))
	got := tr.lastReply(t, ownerID)
	if !strings.Contains(got, "Friends (Group)") || !strings.Contains(got, "-200</code> - Unknown") {
		t.Fatalf("reply=%q", got)
	}
	tr.Handle(ctx, private(ownerID, "/removechat -100"))
	if tr.state.Ledger().IsChatAuthorized(-100) {
		t.Fatal("chat not removed")
	}
}

func TestSetCommand(t *testing.T) {
	t.Parallel()

	tr := newTestRouter(t)
	ctx := context.Background()

	tr.Handle(ctx, private(ownerID, "/setcmd go"))
	if got := tr.state.Settings().Command(); got != "/go" {
		t.Fatalf("command=%q", got)
	}
	tr.Handle(ctx, private(ownerID, "/setcmd add"))
	if got := tr.state.Settings().Command(); got != "/go" || !strings.Contains(tr.lastReply(t, ownerID), "owner command") {
		t.Fatalf("command=%q reply=%q", got, tr.lastReply(t, ownerID))
	}
	tr.Handle(ctx, private(ownerID, "/setcmd a@b"))
	if !strings.Contains(tr.lastReply(t, ownerID), "single word") {
		t.Fatalf("reply=%q", tr.lastReply(t, ownerID))
	}
}

func TestTemplates(t *testing.T) {
	t.Parallel()

	tr := newTestRouter(t)
	ctx := context.Background()
	settings := tr.state.Settings()

	tr.Handle(ctx, private(ownerID, "/addmsg Hey  {mention}, <look>"))
	tpls := settings.Templates()
	if len(tpls) != 2 || tpls[1] != "Hey  {mention}, <look>" {
		t.Fatalf("templates=%q", tpls)
	}
	if !strings.Contains(tr.lastReply(t, ownerID), "&lt;look&gt;") {
		t.Fatalf("reply not escaped: %q", tr.lastReply(t, ownerID))
	}
	tr.Handle(ctx, private(ownerID, "/addmsg Hey  {mention}, <look>"))
	if !strings.Contains(tr.lastReply(t, ownerID), "already exists") {
		t.Fatalf("reply=%q", tr.lastReply(t, ownerID))
	}

	tr.Handle(ctx, private(ownerID, "/delmsg 9"))
	if !strings.Contains(tr.lastReply(t, ownerID), "1-2") {
		t.Fatalf("reply=%q", tr.lastReply(t, ownerID))
	}
	tr.Handle(ctx, private(ownerID, "/delmsg x"))
	if !strings.Contains(tr.lastReply(t, ownerID), "provide a number") {
		t.Fatalf("reply=%q", tr.lastReply(t, ownerID))
	}
	tr.Handle(ctx, private(ownerID, "/delmsg 1"))
	if tpls := settings.Templates(); len(tpls) != 1 || tpls[0] != "Hey  {mention}, <look>" {
		t.Fatalf("templates=%q", tpls)
	}

	tr.Handle(ctx, private(ownerID, "/clrmsg"))
	if tpls := settings.Templates(); len(tpls) != 1 || tpls[0] != access.DefaultTemplate {
		t.Fatalf("templates=%q", tpls)
	}
	tr.Handle(ctx, private(ownerID, "/listmsg"))
	if !strings.Contains(tr.lastReply(t, ownerID), "1. ") {
		t.Fatalf("reply=%q", tr.lastReply(t, ownerID))
	}
}

func TestOwnerCommandInGroupIsDeleted(t *testing.T) {
	t.Parallel()

	tr := newTestRouter(t)
	tr.Handle(context.Background(), inGroup(ownerID, "/listcodes"))
	if !tr.platform.WasDeleted(-100, 11) || len(tr.platform.Sent()) != 0 {
		t.Fatalf("deleted=%v sent=%v", tr.platform.Deleted(), tr.platform.Sent())
	}

	tr.Handle(context.Background(), inGroup(ownerID, "/listcodes@other_bot"))
	if len(tr.platform.Deleted()) != 1 {
		t.Fatalf("command for another bot must be left alone: %v", tr.platform.Deleted())
	}

	tr.Handle(context.Background(), inGroup(5, "/start"))
	if len(tr.platform.Deleted()) != 1 || len(tr.platform.Sent()) != 0 {
		t.Fatalf("public command in group must be ignored: %v %v", tr.platform.Deleted(), tr.platform.Sent())
	}
}

func TestTriggerGoesToGate(t *testing.T) {
	t.Parallel()

	tr := newTestRouter(t)
	ctx := context.Background()
	tr.Handle(ctx, private(ownerID, "/addchat -100"))
	tr.Handle(ctx, private(ownerID, "/gensecret 1"))
	token, _ := tr.state.Tokens().TokenFor(ownerID)

	tr.Handle(ctx, inGroup(ownerID, "/s "+token+" @bob 2"))
	recs := tr.records()
	if len(recs) != 1 || recs[0].Target != "@bob" || recs[0].Quantity != "2" || recs[0].Account != ownerID {
		t.Fatalf("records=%+v", recs)
	}
	if !tr.platform.WasDeleted(-100, 11) {
		t.Fatal("trigger not deleted")
	}

	tr.Handle(ctx, private(5, "/s x y 1"))
	if got := tr.lastReply(t, 5); !strings.Contains(got, "private chat") {
		t.Fatalf("reply=%q", got)
	}
}

func TestStartAndUnknown(t *testing.T) {
	t.Parallel()

	tr := newTestRouter(t)
	ctx := context.Background()

	tr.Handle(ctx, private(9, "/start"))
	if got := tr.lastReply(t, 9); !strings.Contains(got, "Access Denied") || !strings.Contains(got, "/a 9") {
		t.Fatalf("reply=%q", got)
	}
	tr.Handle(ctx, private(ownerID, "/help"))
	if got := tr.lastReply(t, ownerID); !strings.Contains(got, "Owner Commands") || !strings.Contains(got, "/gensecret") {
		t.Fatalf("reply=%q", got)
	}
	tr.Handle(ctx, private(ownerID, "/a 5"))
	tr.Handle(ctx, private(5, "/start"))
	if got := tr.lastReply(t, 5); !strings.Contains(got, "not issued") {
		t.Fatalf("reply=%q", got)
	}

	tr.Handle(ctx, private(ownerID, "/nope"))
	if got := tr.lastReply(t, ownerID); !strings.Contains(got, "Unknown command") {
		t.Fatalf("reply=%q", got)
	}
	before := len(tr.platform.Sent())
	tr.Handle(ctx, private(ownerID, "just chatting"))
	if len(tr.platform.Sent()) != before {
		t.Fatal("plain text must be ignored")
	}
}

func TestStatusAndAudit(t *testing.T) {
	t.Parallel()

	tr := newTestRouter(t)
	ctx := context.Background()

	tr.Handle(ctx, private(ownerID, "/a 5"))
	tr.Handle(ctx, private(ownerID, "/status"))
	if got := tr.lastReply(t, ownerID); !strings.Contains(got, "Status") || !strings.Contains(got, "Accounts: 2") {
		t.Fatalf("reply=%q", got)
	}
	tr.Handle(ctx, private(ownerID, "/audit 5"))
	if got := tr.lastReply(t, ownerID); !strings.Contains(got, "owner.add") {
		t.Fatalf("reply=%q", got)
	}
	tr.Handle(ctx, private(ownerID, "/audit zero"))
	if got := tr.lastReply(t, ownerID); !strings.Contains(got, "Usage:") {
		t.Fatalf("reply=%q", got)
	}
}

func TestDispatchLoop(t *testing.T) {
	t.Parallel()

	tr := newTestRouter(t)
	updates := make(chan kit.Update, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.DispatchLoop(ctx, updates) }()

	m := private(ownerID, "/a 5")
	updates <- kit.Update{Message: &m}

	deadline := time.Now().Add(2 * time.Second)
	for !tr.state.Ledger().IsAccountAuthorized(5) {
		if time.Now().After(deadline) {
			t.Fatal("update not handled")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("loop: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop")
	}
}
