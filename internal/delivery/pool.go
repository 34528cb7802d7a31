package delivery

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	logx "hansbot/pkg/logx"

	"github.com/gammazero/workerpool"
	"golang.org/x/time/rate"
)

// PoolConfig controls the dispatch pool.
type PoolConfig struct {
	Workers    int           // default 4
	RatePerSec int           // 0 disables rate limiting
	Timeout    time.Duration // per send; 0 means 10s
}

// Stats are best-effort counters.
type Stats struct {
	Sent    uint64
	Failed  uint64
	Dropped uint64
}

// Pool dispatches messages to a Deliverer without blocking the caller.
type Pool struct {
	d       Deliverer
	log     logx.Logger
	lim     *rate.Limiter
	timeout time.Duration

	mu      sync.RWMutex
	wp      *workerpool.WorkerPool
	stopped bool

	sent, failed, dropped atomic.Uint64
}

func NewPool(d Deliverer, cfg PoolConfig, log logx.Logger) *Pool {
	if log.IsZero() {
		log = logx.Nop()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	var lim *rate.Limiter
	if cfg.RatePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	return &Pool{
		d:       d,
		log:     log,
		lim:     lim,
		timeout: timeout,
		wp:      workerpool.New(workers),
	}
}

// Dispatch queues m and returns immediately. Messages dispatched after Stop
// are dropped.
func (p *Pool) Dispatch(ctx context.Context, m OutboundMessage) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		p.dropped.Add(1)
		p.log.Warn("delivery pool stopped; dropping message", logx.String("tenant", m.TenantID), logx.String("channel", m.ChannelID))
		return
	}
	p.wp.Submit(func() { p.deliver(ctx, m) })
}

func (p *Pool) deliver(ctx context.Context, m OutboundMessage) {
	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("deliverer panic: %v", r)
			}
		}()
		if p.lim != nil {
			if err := p.lim.Wait(ctx); err != nil {
				return err
			}
		}
		sendCtx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()
		return p.d.Deliver(sendCtx, m)
	}()
	if err != nil {
		p.failed.Add(1)
		p.log.Warn("delivery failed",
			logx.String("tenant", m.TenantID),
			logx.String("channel", m.ChannelID),
			logx.Duration("took", time.Since(start)),
			logx.Err(err),
		)
		return
	}
	p.sent.Add(1)
	p.log.Debug("message delivered", logx.String("tenant", m.TenantID), logx.String("channel", m.ChannelID), logx.Duration("took", time.Since(start)))
}

// Stop waits for queued messages to finish and rejects new ones.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()
	p.wp.StopWait()
}

func (p *Pool) Stats() Stats {
	return Stats{Sent: p.sent.Load(), Failed: p.failed.Load(), Dropped: p.dropped.Load()}
}
