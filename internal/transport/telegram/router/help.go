package router

import (
	"fmt"

	"codegate/pkg/tgui"
)

// welcome renders /start for the owner, an authorized account, or anyone
// else.
func (r *Router) welcome(from int64) tgui.H {
	st := r.deps.State
	ledger := st.Ledger()
	command := st.Settings().Command()
	id := tgui.Code(fmt.Sprint(from))
	title := tgui.B("✨ Welcome to CodeGate ✨")

	switch {
	case ledger.IsOwner(from):
		var cmds []tgui.H
		for _, c := range r.Commands() {
			if c.Access == AccessOwnerOnly {
				cmds = append(cmds, tgui.Code(c.Usage)+" - "+tgui.Esc(c.Description))
			}
		}
		return tgui.Sections(
			tgui.Lines(title, tgui.B("Your ID:")+" "+id+" (Owner)"),
			tgui.Lines(tgui.B("👑 Owner Commands:"), tgui.Bullets(cmds)),
			tgui.Lines(
				tgui.B("⚙️ Current Configuration:"),
				"• Dispatch command: "+tgui.Code(command),
				tgui.Esc(fmt.Sprintf("• Templates: %d  Accounts: %d  Chats: %d",
					len(st.Settings().Templates()), len(ledger.Accounts()), len(ledger.Chats()))),
			),
			tgui.Lines(
				tgui.B("📝 Usage:"),
				"• Generate code for user: "+tgui.Code("/gensecret 123456789"),
				"• User sends: "+tgui.Code(command+" <their_code> @username 5"),
			),
		)

	case ledger.IsAccountAuthorized(from):
		code := tgui.I("not issued")
		if token, ok := st.Tokens().TokenFor(from); ok {
			code = tgui.Code(token)
		}
		return tgui.Sections(
			tgui.Lines(
				title,
				tgui.B("Your ID:")+" "+id,
				tgui.B("Your Secret Code:")+" "+code+" (keep it private)",
			),
			tgui.Lines(
				tgui.B("📋 Available Commands:"),
				"• "+tgui.Code(command+" <your_secret_code> <target> <quantity>")+" - Send mention messages",
			),
			tgui.Lines(
				tgui.B("📝 Usage:"),
				"1. Add me to a group or channel as admin",
				"2. Ask the owner to authorize that chat using "+tgui.Code("/addchat"),
				"3. Get your secret code from the owner",
				"4. Use: "+tgui.Code(command+" <your_code> @username 5"),
			),
			tgui.I("Note: the command only works in authorized chats."),
		)

	default:
		return tgui.Sections(
			tgui.Lines(title, tgui.B("Your ID:")+" "+id),
			tgui.Lines(
				"⛔ "+tgui.B("Access Denied"),
				"You are not authorized to use this bot.",
				"Contact the owner ("+tgui.Code(fmt.Sprint(ledger.Owner()))+") for access.",
			),
			tgui.I("Owner can authorize you using: /a "+fmt.Sprint(from)),
		)
	}
}
