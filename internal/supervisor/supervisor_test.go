package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fantine-org/fantine-agent/internal/node"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

// fakeProcess exits when released, or immediately when exitErr is preset.
type fakeProcess struct {
	exitOnce sync.Once
	exitCh   chan error
	stopped  chan struct{}
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{exitCh: make(chan error, 1), stopped: make(chan struct{}, 1)}
}

func (p *fakeProcess) Wait() error { return <-p.exitCh }

func (p *fakeProcess) Stop() error {
	p.stopped <- struct{}{}
	p.exit(nil)
	return nil
}

func (p *fakeProcess) exit(err error) {
	p.exitOnce.Do(func() { p.exitCh <- err })
}

// crashingLauncher produces processes that exit immediately with an
// error, up to crashes times, then one that lives until stopped.
type crashingLauncher struct {
	mu      sync.Mutex
	crashes int
	started []*fakeProcess
}

func (l *crashingLauncher) launch(_ context.Context, _ Config) (Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p := newFakeProcess()
	l.started = append(l.started, p)
	if len(l.started) <= l.crashes {
		p.exit(errors.New("exit status 1"))
	}
	return p, nil
}

func (l *crashingLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.started)
}

func TestSupervisor_RestartsAfterEachCrash(t *testing.T) {
	t.Parallel()

	launcher := &crashingLauncher{crashes: 3}
	state := node.NewWorkerState()
	s := New(
		Config{Command: "scraper", RestartDelay: 5 * time.Millisecond},
		launcher.launch,
		state,
		&fakeClock{now: time.Unix(100, 0)},
		zap.NewNop(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	require.Eventually(t, func() bool {
		return state.View().Active && launcher.count() == 4
	}, 2*time.Second, 5*time.Millisecond)

	view := state.View()
	require.Equal(t, 3, view.RestartCount)
	require.True(t, view.Active)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	require.NoError(t, s.Stop(stopCtx))
}

func TestSupervisor_StopIsTerminal(t *testing.T) {
	t.Parallel()

	launcher := &crashingLauncher{}
	state := node.NewWorkerState()
	s := New(
		Config{Command: "scraper", RestartDelay: 5 * time.Millisecond},
		launcher.launch,
		state,
		&fakeClock{now: time.Unix(100, 0)},
		zap.NewNop(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	require.Eventually(t, func() bool { return state.View().Active }, time.Second, 5*time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	require.NoError(t, s.Stop(stopCtx))

	view := state.View()
	require.False(t, view.Active)
	require.Equal(t, 0, view.RestartCount)

	// No further launches after a terminal stop.
	time.Sleep(25 * time.Millisecond)
	require.Equal(t, 1, launcher.count())

	// Stop tolerates repeat invocation.
	require.NoError(t, s.Stop(stopCtx))
}

func TestSupervisor_StateReadableDuringRestart(t *testing.T) {
	t.Parallel()

	launcher := &crashingLauncher{crashes: 50}
	state := node.NewWorkerState()
	s := New(
		Config{Command: "scraper", RestartDelay: time.Millisecond},
		launcher.launch,
		state,
		&fakeClock{now: time.Unix(100, 0)},
		zap.NewNop(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	// Concurrent readers must never block or observe a torn view while
	// the supervisor churns through restarts.
	deadline := time.Now().Add(200 * time.Millisecond)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(deadline) {
				view := state.View()
				require.GreaterOrEqual(t, view.RestartCount, 0)
			}
		}()
	}
	wg.Wait()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	require.NoError(t, s.Stop(stopCtx))
}

func TestSupervisor_LaunchErrorBacksOffAndRetries(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	attempts := 0
	launcher := func(_ context.Context, _ Config) (Process, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			return nil, errors.New("no such file or directory")
		}
		p := newFakeProcess()
		return p, nil
	}

	state := node.NewWorkerState()
	s := New(
		Config{Command: "missing", RestartDelay: time.Millisecond},
		launcher,
		state,
		&fakeClock{now: time.Unix(100, 0)},
		zap.NewNop(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	require.Eventually(t, func() bool { return state.View().Active }, time.Second, 5*time.Millisecond)
	require.Equal(t, 2, state.View().RestartCount)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	require.NoError(t, s.Stop(stopCtx))
}
