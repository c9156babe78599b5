package stats

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"codegate/internal/eventbus"
	logx "codegate/pkg/logx"
)

func TestCollectorObserve(t *testing.T) {
	t.Parallel()

	c := NewCollector()
	c.Observe(eventbus.Event{Type: eventbus.TypeGateOutcome, Data: eventbus.GateOutcome{Kind: "accepted"}})
	c.Observe(eventbus.Event{Type: eventbus.TypeGateOutcome, Data: eventbus.GateOutcome{Kind: "rejected", Reason: "unknown_token"}})
	c.Observe(eventbus.Event{Type: eventbus.TypeGateOutcome, Data: eventbus.GateOutcome{Kind: "rejected", Reason: "unknown_token"}})
	c.Observe(eventbus.Event{Type: eventbus.TypeDispatchFinished, Data: eventbus.DispatchFinished{Sent: 3, Failed: 1, Skipped: 1}})
	c.Observe(eventbus.Event{Type: eventbus.TypeDispatchFinished, Data: eventbus.DispatchFinished{Aborted: "not_admin"}})
	c.Observe(eventbus.Event{Type: eventbus.TypeConfigReloaded})
	c.Observe(eventbus.Event{Type: eventbus.TypeOwnerAction, Data: eventbus.OwnerAction{Command: "add"}})

	s := c.Snapshot()
	if s.Gate["accepted"] != 1 || s.Gate["rejected:unknown_token"] != 2 {
		t.Fatalf("gate=%v", s.Gate)
	}
	if s.Runs != 2 || s.Sent != 3 || s.Failed != 1 || s.Skipped != 1 || s.Aborted["not_admin"] != 1 {
		t.Fatalf("snapshot=%+v", s)
	}
	if s.Reloads != 1 || s.OwnerActions != 1 {
		t.Fatalf("snapshot=%+v", s)
	}

	s.Gate["accepted"] = 99
	if c.Snapshot().Gate["accepted"] != 1 {
		t.Fatal("snapshot must be a copy")
	}
}

func TestCollectorRun(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	c := NewCollector()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, bus)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for c.Snapshot().Runs == 0 {
		if time.Now().After(deadline) {
			t.Fatal("event never observed")
		}
		bus.Publish(eventbus.Event{Type: eventbus.TypeDispatchFinished, Data: eventbus.DispatchFinished{Sent: 1}})
		time.Sleep(10 * time.Millisecond)
	}

	// a subscriber that never reads loses the second event
	_, unsub := bus.Subscribe(1)
	defer unsub()
	bus.Publish(eventbus.Event{Type: "noise"})
	bus.Publish(eventbus.Event{Type: "noise"})
	if got := c.Snapshot().DroppedEvents; got == 0 {
		t.Fatalf("dropped events not reported")
	}

	cancel()
	<-done
}

func TestRender(t *testing.T) {
	t.Parallel()

	c := NewCollector()
	c.Observe(eventbus.Event{Data: eventbus.GateOutcome{Kind: "rejected", Reason: "sender_mismatch"}})
	out := c.Snapshot().Render(time.Now()).String()
	for _, want := range []string{"Status", "<code>rejected:sender_mismatch</code>: 1", "Runs: 0", "<i>none</i>"} {
		if !strings.Contains(out, want) {
			t.Fatalf("render missing %q:\n%s", want, out)
		}
	}
}

func TestValidateSchedule(t *testing.T) {
	t.Parallel()

	for _, ok := range []string{"", "@hourly", "*/5 * * * *", "@every 30m"} {
		if err := ValidateSchedule(ok); err != nil {
			t.Fatalf("%q: %v", ok, err)
		}
	}
	for _, bad := range []string{"every hour", "* * *"} {
		if err := ValidateSchedule(bad); err == nil {
			t.Fatalf("%q must be rejected", bad)
		}
	}
}

func TestReporterApplyAndReport(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logx.NewWriter(&buf, "info")
	c := NewCollector()
	c.Observe(eventbus.Event{Data: eventbus.DispatchFinished{Sent: 4}})

	r := NewReporter(c, log)
	if err := r.Apply("nonsense"); err == nil {
		t.Fatal("bad spec accepted")
	}
	if err := r.Apply("@hourly"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	r.Start()
	if err := r.Apply(""); err != nil {
		t.Fatalf("disable: %v", err)
	}
	r.Stop(context.Background())

	r.Report()
	if !strings.Contains(buf.String(), `"sent":4`) {
		t.Fatalf("log=%s", buf.String())
	}
}
