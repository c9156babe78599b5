package router

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"codegate/internal/access"
	"codegate/internal/dispatch"
	"codegate/internal/eventbus"
	"codegate/internal/storage"
	kit "codegate/internal/transport"
	logx "codegate/pkg/logx"
	"codegate/pkg/tgui"
)

func (r *Router) ownerCommands() []Command {
	owner := func(name, usage, desc string, h HandlerFunc, aliases ...string) Command {
		return Command{Name: name, Aliases: aliases, Usage: usage, Description: desc, Access: AccessOwnerOnly, Handle: h}
	}
	return []Command{
		{Name: "start", Aliases: []string{"help"}, Usage: "/start", Description: "Show the welcome message", Access: AccessEveryone, Handle: r.cmdStart},
		owner("add", "/a <user_id_or_username>", "Authorize an account", r.cmdAdd, "a"),
		owner("remove", "/r <user_id_or_username>", "Remove an authorized account", r.cmdRemove, "r"),
		owner("gensecret", "/gensecret <user_id_or_username>", "Issue a secret code for an authorized account", r.cmdGenSecret),
		owner("revokesecret", "/revokesecret <secret_code>", "Revoke a secret code", r.cmdRevokeSecret),
		owner("listauth", "/listauth", "List authorized accounts", r.cmdListAuth),
		owner("listcodes", "/listcodes", "List secret codes", r.cmdListCodes),
		owner("addchat", "/addchat <chat_id_or_username>", "Authorize a group or channel", r.cmdAddChat),
		owner("removechat", "/removechat <chat_id_or_username>", "Remove an authorized chat", r.cmdRemoveChat),
		owner("listchats", "/listchats", "List authorized chats", r.cmdListChats),
		owner("setcmd", "/setcmd <new_command>", "Change the dispatch command", r.cmdSetCommand),
		owner("addmsg", "/addmsg <text with {mention}>", "Add a message template", r.cmdAddTemplate),
		owner("delmsg", "/delmsg <index>", "Delete a message template", r.cmdDelTemplate),
		owner("listmsg", "/listmsg", "List message templates", r.cmdListTemplates),
		owner("clrmsg", "/clrmsg", "Reset templates to the default", r.cmdResetTemplates),
		owner("status", "/status", "Show counters since start", r.cmdStatus),
		owner("audit", "/audit [n]", "Show the latest audit entries", r.cmdAudit),
	}
}

func (r *Router) reply(ctx context.Context, req *Request, h tgui.H) error {
	_, err := r.deps.Adapter.SendText(ctx, req.Chat, h.String(), &kit.SendOptions{ParseMode: kit.ParseModeHTML, DisablePreview: true})
	return err
}

func (r *Router) denyNonOwner(ctx context.Context, req *Request) error {
	_, err := r.deps.Adapter.SendText(ctx, req.Chat, "⛔ This command is for owner only!", nil)
	return err
}

func (r *Router) commandBroke(ctx context.Context, req *Request) error {
	_, err := r.deps.Adapter.SendText(ctx, req.Chat, "❌ Something went wrong, check the logs.", nil)
	return err
}

func (r *Router) usage(ctx context.Context, req *Request) error {
	c, _ := r.Lookup(req.Command)
	return r.reply(ctx, req, "Usage: "+tgui.Code(c.Usage))
}

func (r *Router) failed(ctx context.Context, req *Request, err error) error {
	_ = r.reply(ctx, req, "❌ "+tgui.Esc("Could not save the change: "+err.Error()))
	return err
}

// record audits an owner mutation and announces it on the bus.
func (r *Router) record(req *Request, action, target string) {
	if r.deps.Bus != nil {
		r.deps.Bus.Publish(eventbus.Event{Type: eventbus.TypeOwnerAction, Data: eventbus.OwnerAction{Command: action, Arg: target}})
	}
	if r.deps.Audit == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.deps.Audit.AppendAudit(ctx, storage.AuditEntry{
		ActorID: req.FromID,
		ChatID:  req.Chat.ChatID,
		Action:  "owner." + action,
		Target:  target,
		Meta:    req.ReqID,
	}); err != nil {
		req.Logger.Warn("audit append failed", logx.Err(err))
	}
}

func (r *Router) resolveAccount(ctx context.Context, raw string) (int64, bool) {
	id, err := dispatch.ResolveTarget(ctx, r.deps.Adapter, raw)
	return id, err == nil
}

func (r *Router) resolveChat(ctx context.Context, raw string) (int64, bool) {
	if id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err == nil {
		return id, true
	}
	chat, err := r.deps.Adapter.ResolveChat(ctx, raw)
	if err != nil || chat.ID == 0 {
		return 0, false
	}
	return chat.ID, true
}

func (r *Router) cmdStart(ctx context.Context, req *Request) error {
	return r.reply(ctx, req, r.welcome(req.FromID))
}

func (r *Router) cmdAdd(ctx context.Context, req *Request) error {
	if len(req.Args) < 1 {
		return r.usage(ctx, req)
	}
	id, ok := r.resolveAccount(ctx, req.Arg(0))
	if !ok {
		return r.reply(ctx, req, "❌ Invalid user ID or username!")
	}
	ledger := r.deps.State.Ledger()
	if ledger.IsOwner(id) {
		return r.reply(ctx, req, "✅ Owner is already authorized by default!")
	}
	changed, err := ledger.AuthorizeAccount(ctx, id)
	if err != nil {
		return r.failed(ctx, req, err)
	}
	if !changed {
		return r.reply(ctx, req, "⚠️ User "+tgui.Code(fmt.Sprint(id))+" is already authorized!")
	}
	r.record(req, "add", fmt.Sprint(id))
	return r.reply(ctx, req, "✅ User "+tgui.Code(fmt.Sprint(id))+" has been authorized!")
}

func (r *Router) cmdRemove(ctx context.Context, req *Request) error {
	if len(req.Args) < 1 {
		return r.usage(ctx, req)
	}
	id, ok := r.resolveAccount(ctx, req.Arg(0))
	if !ok {
		return r.reply(ctx, req, "❌ Invalid user ID or username!")
	}
	changed, err := r.deps.State.Ledger().DeauthorizeAccount(ctx, id)
	switch {
	case errors.Is(err, access.ErrOwnerPermanent):
		return r.reply(ctx, req, "❌ Cannot remove owner!")
	case err != nil:
		return r.failed(ctx, req, err)
	case !changed:
		return r.reply(ctx, req, "⚠️ User is not in authorized list!")
	}
	r.record(req, "remove", fmt.Sprint(id))
	return r.reply(ctx, req, "✅ User "+tgui.Code(fmt.Sprint(id))+" has been removed!")
}

func (r *Router) cmdGenSecret(ctx context.Context, req *Request) error {
	if len(req.Args) < 1 {
		return r.usage(ctx, req)
	}
	id, ok := r.resolveAccount(ctx, req.Arg(0))
	if !ok {
		return r.reply(ctx, req, "❌ Invalid user ID or username!")
	}
	if !r.deps.State.Ledger().IsAccountAuthorized(id) {
		return r.reply(ctx, req, "⚠️ User "+tgui.Code(fmt.Sprint(id))+" is not authorized. Authorize them first using /a.")
	}
	token, err := r.deps.State.Tokens().Issue(ctx, id)
	if err != nil {
		return r.failed(ctx, req, err)
	}
	r.record(req, "gensecret", fmt.Sprint(id))
	return r.reply(ctx, req, tgui.Lines(
		"✅ Secret code generated for user "+tgui.Code(fmt.Sprint(id))+"!",
		tgui.B("Code:")+" "+tgui.Code(token),
		"Share this code securely with the user.",
	))
}

func (r *Router) cmdRevokeSecret(ctx context.Context, req *Request) error {
	if len(req.Args) < 1 {
		return r.usage(ctx, req)
	}
	token := req.Arg(0)
	removed, err := r.deps.State.Tokens().Revoke(ctx, token)
	if err != nil {
		return r.failed(ctx, req, err)
	}
	if !removed {
		return r.reply(ctx, req, "❌ Secret code "+tgui.Code(token)+" not found.")
	}
	r.record(req, "revokesecret", "")
	return r.reply(ctx, req, "✅ Secret code "+tgui.Code(token)+" has been revoked.")
}

func (r *Router) cmdListAuth(ctx context.Context, req *Request) error {
	ledger := r.deps.State.Ledger()
	accounts := ledger.Accounts()
	items := make([]tgui.H, 0, len(accounts))
	for _, id := range accounts {
		items = append(items, tgui.Code(fmt.Sprint(id)))
	}
	return r.reply(ctx, req, tgui.Lines(
		tgui.B("👥 Authorized Users"),
		tgui.B("Owner:")+" "+tgui.Code(fmt.Sprint(ledger.Owner())),
		tgui.B(fmt.Sprintf("Authorized Users (%d):", len(accounts))),
		tgui.Bullets(items),
	))
}

func (r *Router) cmdListCodes(ctx context.Context, req *Request) error {
	bindings := r.deps.State.Tokens().List()
	if len(bindings) == 0 {
		return r.reply(ctx, req, "❌ No secret codes generated yet.")
	}
	items := make([]tgui.H, 0, len(bindings))
	for _, b := range bindings {
		items = append(items, "User ID: "+tgui.Code(fmt.Sprint(b.Account))+" → Code: "+tgui.Code(b.Token))
	}
	return r.reply(ctx, req, tgui.Lines(
		tgui.B(fmt.Sprintf("🔐 User Secret Codes (%d):", len(bindings))),
		tgui.Bullets(items),
	))
}

func (r *Router) cmdAddChat(ctx context.Context, req *Request) error {
	if len(req.Args) < 1 {
		return r.usage(ctx, req)
	}
	id, ok := r.resolveChat(ctx, req.Arg(0))
	if !ok {
		return r.reply(ctx, req, "❌ Invalid chat ID or username!")
	}
	changed, err := r.deps.State.Ledger().AuthorizeChat(ctx, id)
	if err != nil {
		return r.failed(ctx, req, err)
	}
	if !changed {
		return r.reply(ctx, req, "⚠️ Chat is already authorized!")
	}
	r.record(req, "addchat", fmt.Sprint(id))
	return r.reply(ctx, req, "✅ Chat "+tgui.Code(fmt.Sprint(id))+" has been authorized!")
}

func (r *Router) cmdRemoveChat(ctx context.Context, req *Request) error {
	if len(req.Args) < 1 {
		return r.usage(ctx, req)
	}
	id, ok := r.resolveChat(ctx, req.Arg(0))
	if !ok {
		return r.reply(ctx, req, "❌ Invalid chat ID or username!")
	}
	changed, err := r.deps.State.Ledger().DeauthorizeChat(ctx, id)
	if err != nil {
		return r.failed(ctx, req, err)
	}
	if !changed {
		return r.reply(ctx, req, "⚠️ Chat is not in authorized list!")
	}
	r.record(req, "removechat", fmt.Sprint(id))
	return r.reply(ctx, req, "✅ Chat "+tgui.Code(fmt.Sprint(id))+" has been removed!")
}

func (r *Router) cmdListChats(ctx context.Context, req *Request) error {
	chats := r.deps.State.Ledger().Chats()
	if len(chats) == 0 {
		return r.reply(ctx, req, "❌ No authorized chats!")
	}
	items := make([]tgui.H, 0, len(chats))
	for _, id := range chats {
		label := tgui.Code(fmt.Sprint(id))
		chat, err := r.deps.Adapter.ResolveChat(ctx, fmt.Sprint(id))
		if err != nil {
			items = append(items, label+" - Unknown (Cannot fetch info)")
			continue
		}
		items = append(items, label+" - "+tgui.Esc(chat.Name())+tgui.Esc(" ("+chatKindLabel(chat.Kind)+")"))
	}
	return r.reply(ctx, req, tgui.Lines(
		tgui.B(fmt.Sprintf("💬 Authorized Chats (%d):", len(chats))),
		tgui.Bullets(items),
	))
}

func chatKindLabel(k kit.ChatKind) string {
	switch k {
	case kit.ChatChannel:
		return "Channel"
	case kit.ChatGroup, kit.ChatSupergroup:
		return "Group"
	default:
		return "Private"
	}
}

func (r *Router) cmdSetCommand(ctx context.Context, req *Request) error {
	if len(req.Args) < 1 {
		return r.usage(ctx, req)
	}
	if _, taken := r.Lookup(req.Arg(0)); taken {
		return r.reply(ctx, req, "❌ "+tgui.Code(req.Arg(0))+" is an owner command.")
	}
	settings := r.deps.State.Settings()
	old := settings.Command()
	cmd, err := settings.SetCommand(ctx, req.Arg(0))
	switch {
	case errors.Is(err, access.ErrInvalidCommand):
		return r.reply(ctx, req, "❌ The command must be a single word without @.")
	case err != nil:
		return r.failed(ctx, req, err)
	}
	r.record(req, "setcmd", cmd)
	return r.reply(ctx, req, tgui.Lines(
		"✅ Dispatch command updated!",
		"Old: "+tgui.Code(old),
		"New: "+tgui.Code(cmd),
	))
}

func (r *Router) cmdAddTemplate(ctx context.Context, req *Request) error {
	tpl := strings.TrimSpace(req.Rest)
	if tpl == "" {
		return r.reply(ctx, req, tgui.Lines(
			"Usage: "+tgui.Code("/addmsg <message_text>"),
			"Use "+tgui.Code(access.Placeholder)+" as placeholder for the user mention.",
			"Example: "+tgui.Code("/addmsg Hello "+access.Placeholder+"! Check this out!"),
		))
	}
	settings := r.deps.State.Settings()
	added, err := settings.AddTemplate(ctx, tpl)
	if err != nil {
		return r.failed(ctx, req, err)
	}
	if !added {
		return r.reply(ctx, req, "⚠️ This message already exists in the list!")
	}
	r.record(req, "addmsg", "")
	lines := []tgui.H{
		"✅ Message template added!",
		"Total messages: " + tgui.Code(strconv.Itoa(len(settings.Templates()))),
		tgui.B("Message:") + " " + tgui.Code(tpl),
	}
	if !strings.Contains(tpl, access.Placeholder) {
		lines = append(lines, tgui.I("Note: no "+access.Placeholder+" placeholder, the target will not be mentioned."))
	}
	return r.reply(ctx, req, tgui.Lines(lines...))
}

func (r *Router) templateList() tgui.H {
	tpls := r.deps.State.Settings().Templates()
	lines := make([]tgui.H, 0, len(tpls))
	for i, t := range tpls {
		lines = append(lines, tgui.Esc(strconv.Itoa(i+1)+". ")+tgui.Code(t))
	}
	return tgui.Lines(lines...)
}

func (r *Router) cmdDelTemplate(ctx context.Context, req *Request) error {
	settings := r.deps.State.Settings()
	n := len(settings.Templates())
	if len(req.Args) < 1 {
		if n == 0 {
			return r.reply(ctx, req, "❌ No message templates configured!")
		}
		return r.reply(ctx, req, tgui.Lines(
			"📝 Current message templates:",
			r.templateList(),
			"Usage: "+tgui.Code("/delmsg <index>"),
		))
	}
	idx, err := strconv.Atoi(req.Arg(0))
	if err != nil {
		return r.reply(ctx, req, "❌ Invalid index! Please provide a number.")
	}
	removed, err := settings.RemoveTemplate(ctx, idx-1)
	switch {
	case errors.Is(err, access.ErrIndexOutOfRange):
		return r.reply(ctx, req, tgui.Esc(fmt.Sprintf("❌ Invalid index! Please use 1-%d", n)))
	case err != nil:
		return r.failed(ctx, req, err)
	}
	r.record(req, "delmsg", strconv.Itoa(idx))
	return r.reply(ctx, req, tgui.Lines(
		"✅ Message template deleted!",
		"Remaining messages: "+tgui.Code(strconv.Itoa(len(settings.Templates()))),
		tgui.B("Deleted:")+" "+tgui.Code(removed),
	))
}

func (r *Router) cmdListTemplates(ctx context.Context, req *Request) error {
	n := len(r.deps.State.Settings().Templates())
	if n == 0 {
		return r.reply(ctx, req, "❌ No message templates configured!")
	}
	return r.reply(ctx, req, tgui.Lines(
		tgui.Esc(fmt.Sprintf("📝 Message templates (%d):", n)),
		r.templateList(),
	))
}

func (r *Router) cmdResetTemplates(ctx context.Context, req *Request) error {
	if err := r.deps.State.Settings().ResetTemplates(ctx); err != nil {
		return r.failed(ctx, req, err)
	}
	r.record(req, "clrmsg", "")
	return r.reply(ctx, req, tgui.Lines(
		"✅ All message templates cleared!",
		"Default message has been added.",
	))
}

func (r *Router) cmdStatus(ctx context.Context, req *Request) error {
	snap := r.deps.State.Snapshot()
	state := tgui.Lines(
		tgui.B("⚙️ State"),
		"Command: "+tgui.Code(snap.Command),
		tgui.Esc(fmt.Sprintf("Accounts: %d  Chats: %d  Codes: %d  Templates: %d",
			len(snap.AuthorizedUsers), len(snap.AuthorizedChats), len(snap.SecretCodes), len(snap.Messages))),
	)
	if r.deps.Stats == nil {
		return r.reply(ctx, req, state)
	}
	return r.reply(ctx, req, tgui.Sections(r.deps.Stats.Snapshot().Render(r.now()), state))
}

func (r *Router) cmdAudit(ctx context.Context, req *Request) error {
	if r.deps.Audit == nil {
		return r.reply(ctx, req, "❌ Audit log is not available.")
	}
	n := 10
	if raw := req.Arg(0); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			return r.usage(ctx, req)
		}
		n = min(v, 50)
	}
	entries, err := r.deps.Audit.RecentAudit(ctx, n)
	if err != nil {
		return r.failed(ctx, req, err)
	}
	if len(entries) == 0 {
		return r.reply(ctx, req, "No audit entries yet.")
	}
	items := make([]tgui.H, 0, len(entries))
	for _, e := range entries {
		line := tgui.Code(e.At.UTC().Format("01-02 15:04:05")) + " " + tgui.B(e.Action)
		if e.Target != "" {
			line += " " + tgui.Esc(e.Target)
		}
		if e.ChatID != 0 {
			line += tgui.Esc(fmt.Sprintf(" chat=%d", e.ChatID))
		}
		if e.Action == "dispatch" {
			line += tgui.Esc(fmt.Sprintf(" ok=%d fail=%d", e.OK, e.Fail))
		}
		if e.Error != "" {
			line += " " + tgui.I(e.Error)
		}
		items = append(items, line)
	}
	return r.reply(ctx, req, tgui.Lines(tgui.B(fmt.Sprintf("🧾 Audit (%d)", len(entries))), tgui.Bullets(items)))
}
