// Package tgui builds Telegram HTML message fragments with escaping applied
// by default.
package tgui
