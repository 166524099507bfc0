package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/stellarlinkco/resonance/internal/event"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestService_StartRunsInitialSweep(t *testing.T) {
	c := &clock{t: start}
	src := &fakeSource{entries: func() []event.Entry { return burst(c.t, "fire") }}
	sched := newTestScheduler(t, c, src, newMemKV(), echo("hello"), "fire")

	svc := NewService(sched, "@every 1h", nil)
	swept := make(chan SweepResult, 1)
	svc.OnSweep = func(res SweepResult, err error) {
		assert.NoError(t, err)
		swept <- res
	}

	require.NoError(t, svc.Start(context.Background()))
	defer svc.Stop()

	select {
	case res := <-swept:
		assert.Len(t, res.Emitted, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("initial sweep did not run")
	}
	assert.False(t, svc.Next().IsZero())
	assert.Error(t, svc.Start(context.Background()))
}

func TestService_InvalidSchedule(t *testing.T) {
	c := &clock{t: start}
	svc := NewService(newTestScheduler(t, c, &fakeSource{}, newMemKV(), echo("x")), "every tuesday", nil)
	assert.Error(t, svc.Start(context.Background()))
	svc.Stop()
}

func TestService_ContextCancelStops(t *testing.T) {
	c := &clock{t: start}
	svc := NewService(newTestScheduler(t, c, &fakeSource{}, newMemKV(), echo("x")), "", nil)
	swept := make(chan struct{}, 1)
	svc.OnSweep = func(SweepResult, error) { swept <- struct{}{} }

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, svc.Start(ctx))
	<-swept
	cancel()

	require.Eventually(t, func() bool { return svc.Next().IsZero() }, 2*time.Second, 10*time.Millisecond)
	svc.Stop()
}

func TestService_ForceIgnoresTimer(t *testing.T) {
	c := &clock{t: start}
	src := &fakeSource{entries: func() []event.Entry { return burst(c.t, "fire") }}
	sched := newTestScheduler(t, c, src, newMemKV(), echo("now"), "fire")
	svc := NewService(sched, "@every 24h", nil)

	res, err := svc.Force(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, res.Emitted, 1)
	assert.True(t, res.Emitted[0].Forced)
	assert.True(t, svc.Next().IsZero())
}
