package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	logx "codegate/pkg/logx"
)

// HandlerFunc serves one command from a private chat.
type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain wraps h so that m[0] runs first.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

const (
	defaultCommandTimeout = 30 * time.Second
	slowCommand           = 750 * time.Millisecond
)

var errNotOwner = errors.New("command is for the owner only")

// withDeadline bounds a command. Most commands resolve accounts or chats
// over the network, so none runs unbounded.
func withDeadline(d time.Duration) Middleware {
	if d <= 0 {
		d = defaultCommandTimeout
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

// ownerOnly runs deny instead of next when an owner-only command comes from
// anyone else.
func ownerOnly(access Access, isOwner func(int64) bool, deny HandlerFunc) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if access != AccessOwnerOnly {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			if isOwner(req.FromID) {
				return next(ctx, req)
			}
			if err := deny(ctx, req); err != nil {
				return errors.Join(errNotOwner, err)
			}
			return errNotOwner
		}
	}
}

// recoverPanic turns a handler panic into an error. notify, when set, tells
// the sender the command broke.
func recoverPanic(log logx.Logger, notify HandlerFunc) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				requestLogger(log, req).Error("command panicked",
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())),
				)
				err = fmt.Errorf("panic: %v", r)
				if notify != nil {
					_ = notify(ctx, req)
				}
			}()
			return next(ctx, req)
		}
	}
}

// logRequest logs each command once. Arguments are left out: /revokesecret
// carries a live secret code.
func logRequest(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			took := time.Since(start)

			logger := requestLogger(log, req)
			fields := []logx.Field{
				logx.Int64("chat_id", req.Chat.ChatID),
				logx.Int64("from_id", req.FromID),
				logx.String("cmd", req.Command),
				logx.Int("args", len(req.Args)),
				logx.Duration("dur", took),
			}
			switch {
			case errors.Is(err, errNotOwner):
				logger.Info("command denied", fields...)
			case err != nil:
				logger.Warn("command failed", append(fields, logx.Err(err))...)
			case took >= slowCommand:
				logger.Info("command slow", fields...)
			default:
				logger.Debug("command ok", fields...)
			}
			return err
		}
	}
}

func requestLogger(fallback logx.Logger, req *Request) logx.Logger {
	if req != nil && !req.Logger.IsZero() {
		return req.Logger
	}
	return fallback
}
