package router

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	logx "codegate/pkg/logx"
)

func TestChainOrder(t *testing.T) {
	t.Parallel()

	var order []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *Request) error {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}
	h := Chain(func(ctx context.Context, req *Request) error {
		order = append(order, "handler")
		return nil
	}, mark("a"), mark("b"))

	if err := h(context.Background(), &Request{}); err != nil {
		t.Fatalf("err: %v", err)
	}
	if got := strings.Join(order, ","); got != "a,b,handler" {
		t.Fatalf("order=%s", got)
	}
}

func TestRecoverPanicNotifiesSender(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	notified := false
	h := Chain(func(ctx context.Context, req *Request) error {
		panic("boom")
	}, recoverPanic(logx.NewWriter(&buf, "debug"), func(ctx context.Context, req *Request) error {
		notified = true
		return nil
	}))

	err := h(context.Background(), &Request{Command: "add"})
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("err=%v", err)
	}
	if !notified || !strings.Contains(buf.String(), "command panicked") {
		t.Fatalf("notified=%v log=%s", notified, buf.String())
	}
}

func TestWithDeadline(t *testing.T) {
	t.Parallel()

	h := Chain(func(ctx context.Context, req *Request) error {
		<-ctx.Done()
		return ctx.Err()
	}, withDeadline(10*time.Millisecond))

	if err := h(context.Background(), &Request{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v", err)
	}

	var left time.Duration
	h = Chain(func(ctx context.Context, req *Request) error {
		dl, _ := ctx.Deadline()
		left = time.Until(dl)
		return nil
	}, withDeadline(0))
	_ = h(context.Background(), &Request{})
	if left <= time.Second || left > defaultCommandTimeout {
		t.Fatalf("default deadline left=%v", left)
	}
}

func TestOwnerOnlyMiddleware(t *testing.T) {
	t.Parallel()

	isOwner := func(id int64) bool { return id == 1 }
	for _, tc := range []struct {
		name    string
		access  Access
		from    int64
		handled bool
		denied  bool
	}{
		{"owner", AccessOwnerOnly, 1, true, false},
		{"stranger", AccessOwnerOnly, 2, false, true},
		{"public command", AccessEveryone, 2, true, false},
	} {
		handled, denied := false, false
		h := Chain(func(ctx context.Context, req *Request) error {
			handled = true
			return nil
		}, ownerOnly(tc.access, isOwner, func(ctx context.Context, req *Request) error {
			denied = true
			return nil
		}))
		err := h(context.Background(), &Request{FromID: tc.from})
		if handled != tc.handled || denied != tc.denied {
			t.Fatalf("%s: handled=%v denied=%v", tc.name, handled, denied)
		}
		if tc.denied != errors.Is(err, errNotOwner) {
			t.Fatalf("%s: err=%v", tc.name, err)
		}
	}
}

func TestLogRequestOmitsArgs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h := Chain(func(ctx context.Context, req *Request) error {
		return errors.New("nope")
	}, logRequest(logx.NewWriter(&buf, "debug")))

	_ = h(context.Background(), &Request{Command: "revokesecret", FromID: 1, Args: []string{"s3cretCode"}})
	out := buf.String()
	if !strings.Contains(out, "command failed") || !strings.Contains(out, `"cmd":"revokesecret"`) || !strings.Contains(out, `"args":1`) {
		t.Fatalf("log=%s", out)
	}
	if strings.Contains(out, "s3cretCode") {
		t.Fatalf("secret code leaked into the log: %s", out)
	}
}

func TestLogRequestDenied(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h := Chain(func(ctx context.Context, req *Request) error {
		return errNotOwner
	}, logRequest(logx.NewWriter(&buf, "debug")))

	_ = h(context.Background(), &Request{Command: "add", FromID: 5})
	if out := buf.String(); !strings.Contains(out, "command denied") || strings.Contains(out, "command failed") {
		t.Fatalf("log=%s", out)
	}
}
