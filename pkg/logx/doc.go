// Package logx configures codegate's structured logging.
//
// Logger is a small value type on top of zerolog:
//   - console output stays human readable (short timestamp + file:line caller)
//   - file output is JSON lines
//   - an optional Telegram sink forwards warnings to a log chat (min level + rate limit)
package logx
