// Package stats counts gate outcomes and dispatch runs from the event bus and
// reports them on a schedule and on /status.
package stats

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"codegate/internal/eventbus"
	logx "codegate/pkg/logx"
	"codegate/pkg/tgui"
)

type Snapshot struct {
	Since time.Time

	// Gate counts outcomes by kind; rejections are keyed "rejected:<reason>".
	Gate map[string]uint64

	Runs    uint64
	Sent    uint64
	Failed  uint64
	Skipped uint64
	Aborted map[string]uint64

	Reloads      uint64
	OwnerActions uint64

	// DroppedEvents counts bus deliveries lost to slow subscribers.
	DroppedEvents uint64
}

type Collector struct {
	mu   sync.Mutex
	snap Snapshot
	bus  eventbus.Bus
	now  func() time.Time
}

func NewCollector() *Collector {
	c := &Collector{now: time.Now}
	c.snap = Snapshot{Since: c.now(), Gate: map[string]uint64{}, Aborted: map[string]uint64{}}
	return c
}

// Run feeds bus events into Observe until ctx is done.
func (c *Collector) Run(ctx context.Context, bus eventbus.Bus) {
	ch, unsubscribe := bus.Subscribe(256,
		eventbus.TypeGateOutcome,
		eventbus.TypeDispatchFinished,
		eventbus.TypeConfigReloaded,
		eventbus.TypeOwnerAction,
	)
	defer unsubscribe()
	c.mu.Lock()
	c.bus = bus
	c.mu.Unlock()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			c.Observe(ev)
		}
	}
}

func (c *Collector) Observe(ev eventbus.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch d := ev.Data.(type) {
	case eventbus.GateOutcome:
		key := d.Kind
		if d.Reason != "" {
			key += ":" + d.Reason
		}
		c.snap.Gate[key]++
	case eventbus.DispatchFinished:
		c.snap.Runs++
		c.snap.Sent += uint64(d.Sent)
		c.snap.Failed += uint64(d.Failed)
		c.snap.Skipped += uint64(d.Skipped)
		if d.Aborted != "" {
			c.snap.Aborted[d.Aborted]++
		}
	case eventbus.OwnerAction:
		c.snap.OwnerActions++
	default:
		if ev.Type == eventbus.TypeConfigReloaded {
			c.snap.Reloads++
		}
	}
}

func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.snap
	s.Gate = maps.Clone(c.snap.Gate)
	s.Aborted = maps.Clone(c.snap.Aborted)
	if c.bus != nil {
		s.DroppedEvents = c.bus.Dropped()
	}
	return s
}

// Fields flattens s for a log line.
func (s Snapshot) Fields() []logx.Field {
	fields := []logx.Field{
		logx.Time("since", s.Since),
		logx.Uint64("runs", s.Runs),
		logx.Uint64("sent", s.Sent),
		logx.Uint64("failed", s.Failed),
		logx.Uint64("skipped", s.Skipped),
		logx.Uint64("reloads", s.Reloads),
		logx.Uint64("owner_actions", s.OwnerActions),
		logx.Uint64("dropped_events", s.DroppedEvents),
	}
	for _, k := range slices.Sorted(maps.Keys(s.Gate)) {
		fields = append(fields, logx.Uint64("gate."+k, s.Gate[k]))
	}
	for _, k := range slices.Sorted(maps.Keys(s.Aborted)) {
		fields = append(fields, logx.Uint64("aborted."+k, s.Aborted[k]))
	}
	return fields
}

// Render formats s as HTML for the owner.
func (s Snapshot) Render(now time.Time) tgui.H {
	counts := func(m map[string]uint64) tgui.H {
		if len(m) == 0 {
			return tgui.I("none")
		}
		items := make([]tgui.H, 0, len(m))
		for _, k := range slices.Sorted(maps.Keys(m)) {
			items = append(items, tgui.Code(k)+tgui.Esc(fmt.Sprintf(": %d", m[k])))
		}
		return tgui.Bullets(items)
	}
	return tgui.Sections(
		tgui.Lines(
			tgui.B("📊 Status"),
			tgui.Esc("Uptime: "+now.Sub(s.Since).Round(time.Second).String()),
		),
		tgui.Lines(tgui.B("Gate"), counts(s.Gate)),
		tgui.Lines(
			tgui.B("Dispatch"),
			tgui.Esc(fmt.Sprintf("Runs: %d  Sent: %d  Failed: %d  Skipped: %d", s.Runs, s.Sent, s.Failed, s.Skipped)),
			tgui.B("Aborted"),
			counts(s.Aborted),
		),
		tgui.Esc(fmt.Sprintf("Config reloads: %d  Owner actions: %d  Dropped events: %d", s.Reloads, s.OwnerActions, s.DroppedEvents)),
	)
}
