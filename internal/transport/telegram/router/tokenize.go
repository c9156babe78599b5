package router

import (
	"strings"
	"unicode"
)

// splitCommand breaks "/name@bot args..." into the bare name, the addressed
// bot (empty when none), the whitespace separated args and the raw text after
// the command word.
func splitCommand(text string) (name, bot string, args []string, rest string) {
	text = strings.TrimLeftFunc(text, unicode.IsSpace)
	if !strings.HasPrefix(text, "/") {
		return "", "", nil, ""
	}
	word := text
	if i := strings.IndexFunc(text, unicode.IsSpace); i >= 0 {
		word, rest = text[:i], strings.TrimSpace(text[i:])
	}
	word = strings.TrimPrefix(word, "/")
	if at := strings.IndexByte(word, '@'); at >= 0 {
		word, bot = word[:at], word[at+1:]
	}
	return strings.ToLower(word), bot, strings.Fields(rest), rest
}
