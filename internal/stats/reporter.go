package stats

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"

	logx "codegate/pkg/logx"
)

var specParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule accepts a five-field cron spec or a descriptor such as
// "@hourly". Empty means disabled and is valid.
func ValidateSchedule(spec string) error {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil
	}
	if _, err := specParser.Parse(spec); err != nil {
		return fmt.Errorf("stats schedule %q: %w", spec, err)
	}
	return nil
}

// Reporter logs the collector snapshot on a cron schedule.
type Reporter struct {
	col *Collector
	log logx.Logger

	mu      sync.Mutex
	spec    string
	c       *cron.Cron
	running bool
}

func NewReporter(col *Collector, log logx.Logger) *Reporter {
	return &Reporter{col: col, log: log}
}

// Apply switches to spec. An empty spec stops reporting.
func (r *Reporter) Apply(spec string) error {
	spec = strings.TrimSpace(spec)
	if err := ValidateSchedule(spec); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if spec == r.spec {
		return nil
	}
	r.spec = spec
	if r.running {
		r.restartLocked()
	}
	return nil
}

func (r *Reporter) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.restartLocked()
}

func (r *Reporter) Stop(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
	r.stopLocked(ctx)
}

func (r *Reporter) restartLocked() {
	r.stopLocked(context.Background())
	if r.spec == "" {
		r.log.Info("stats report disabled")
		return
	}
	c := cron.New(cron.WithParser(specParser))
	if _, err := c.AddFunc(r.spec, r.Report); err != nil {
		r.log.Error("stats schedule rejected", logx.String("spec", r.spec), logx.Err(err))
		return
	}
	c.Start()
	r.c = c
	r.log.Info("stats report scheduled", logx.String("spec", r.spec))
}

func (r *Reporter) stopLocked(ctx context.Context) {
	if r.c == nil {
		return
	}
	done := r.c.Stop().Done()
	r.c = nil
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Report logs one summary line.
func (r *Reporter) Report() {
	r.log.Info("stats", r.col.Snapshot().Fields()...)
}
