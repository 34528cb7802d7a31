package standup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"hansbot/internal/delivery"
	logx "hansbot/pkg/logx"

	"github.com/robfig/cron/v3"
)

// DefaultTickSpec fires the driver at second zero of every minute.
const DefaultTickSpec = "* * * * *"

// Dispatcher takes fired messages off the tick path.
type Dispatcher interface {
	Dispatch(ctx context.Context, m delivery.OutboundMessage)
}

// Runner drives Scheduler.Tick from a cron trigger. A tick that runs long
// delays the next one instead of overlapping it.
type Runner struct {
	sched *Scheduler
	out   Dispatcher
	spec  string
	log   logx.Logger

	mu sync.Mutex
	c  *cron.Cron
}

func NewRunner(sched *Scheduler, out Dispatcher, spec string, log logx.Logger) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	if spec == "" {
		spec = DefaultTickSpec
	}
	return &Runner{sched: sched, out: out, spec: spec, log: log}
}

// Start registers the tick and starts the cron trigger. ctx bounds every tick.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c != nil {
		return errors.New("standup runner already started")
	}
	cl := cronLogger{log: r.log}
	c := cron.New(
		cron.WithLocation(r.sched.Location()),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.DelayIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(r.spec, func() { r.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("standup: tick spec %q: %w", r.spec, err)
	}
	c.Start()
	r.c = c
	r.log.Info("runner started", logx.String("spec", r.spec), logx.String("tz", r.sched.Location().String()))
	return nil
}

// RunOnce performs a single tick at the scheduler clock's current time and
// dispatches whatever fired.
func (r *Runner) RunOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	start := time.Now()
	msgs := r.sched.Tick(ctx, r.sched.Now())
	for _, m := range msgs {
		r.out.Dispatch(ctx, m)
	}
	r.log.Trace("tick done", logx.Int("fired", len(msgs)), logx.Duration("took", time.Since(start)))
	return len(msgs)
}

// Stop stops the trigger and waits for a running tick, bounded by ctx.
func (r *Runner) Stop(ctx context.Context) {
	r.mu.Lock()
	c := r.c
	r.c = nil
	r.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	r.log.Info("runner stopped")
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct {
	log logx.Logger
}

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Trace("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
