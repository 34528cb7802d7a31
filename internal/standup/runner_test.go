package standup

import (
	"context"
	"sync"
	"testing"
	"time"

	"hansbot/internal/delivery"
	"hansbot/internal/storage"
	logx "hansbot/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	msgs []delivery.OutboundMessage
}

func (r *recorder) Dispatch(_ context.Context, m delivery.OutboundMessage) {
	r.mu.Lock()
	r.msgs = append(r.msgs, m)
	r.mu.Unlock()
}

func TestRunnerRunOnceDispatches(t *testing.T) {
	t.Parallel()
	now := at(19, 9, 0)
	s := New(storage.NewMemory(), WithClock(ClockFunc(func() time.Time { return now })), WithLocation(time.UTC))
	ctx := context.Background()
	require.NoError(t, s.Register(ctx, standupJob("g1")))

	rec := &recorder{}
	r := NewRunner(s, rec, "", logx.Nop())
	assert.Equal(t, 1, r.RunOnce(ctx))
	assert.Equal(t, 0, r.RunOnce(ctx))
	require.Len(t, rec.msgs, 1)
	assert.Equal(t, "c-g1", rec.msgs[0].ChannelID)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	now = at(20, 9, 0)
	assert.Equal(t, 0, r.RunOnce(cancelled))
}

func TestRunnerStartStop(t *testing.T) {
	t.Parallel()
	s := New(storage.NewMemory(), WithLocation(time.UTC))
	r := NewRunner(s, &recorder{}, "", logx.Nop())
	ctx := context.Background()
	require.NoError(t, r.Start(ctx))
	assert.Error(t, r.Start(ctx))
	r.Stop(ctx)
	r.Stop(ctx)

	bad := NewRunner(s, &recorder{}, "not a spec", logx.Nop())
	assert.Error(t, bad.Start(ctx))
}
