package tgui

import (
	"fmt"
	"html"
	"strings"
)

// H is HTML that is safe to send with ParseMode "HTML".
type H string

func (h H) String() string { return string(h) }

// Esc escapes text for Telegram HTML parse mode.
func Esc(s string) H { return H(html.EscapeString(s)) }

// Raw marks s as already escaped.
func Raw(s string) H { return H(s) }

func wrap(tag string, inner H) H { return H("<" + tag + ">" + inner.String() + "</" + tag + ">") }

func B(s string) H    { return wrap("b", Esc(s)) }
func I(s string) H    { return wrap("i", Esc(s)) }
func Code(s string) H { return wrap("code", Esc(s)) }

// Link escapes both the text and the URL attribute.
func Link(text, url string) H {
	return H(fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(url), html.EscapeString(text)))
}

// Mention links to a Telegram user id.
func Mention(name string, userID int64) H {
	return Link(name, fmt.Sprintf("tg://user?id=%d", userID))
}

// Lines joins non-empty parts with newlines.
func Lines(parts ...H) H {
	ss := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p.String()) == "" {
			continue
		}
		ss = append(ss, p.String())
	}
	return H(strings.Join(ss, "\n"))
}

// Sections joins non-empty blocks with a blank line between them.
func Sections(blocks ...H) H {
	ss := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if strings.TrimSpace(b.String()) != "" {
			ss = append(ss, b.String())
		}
	}
	return H(strings.Join(ss, "\n\n"))
}

// Bullets renders items as "• item" lines, or empty when there are none.
func Bullets(items []H) H {
	if len(items) == 0 {
		return ""
	}
	ss := make([]string, len(items))
	for i, it := range items {
		ss[i] = "• " + it.String()
	}
	return H(strings.Join(ss, "\n"))
}
