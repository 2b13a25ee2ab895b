package reconcile

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newsroomate/rundown/internal/clock"
	"github.com/newsroomate/rundown/internal/collection"
	"github.com/newsroomate/rundown/internal/echo"
	"github.com/newsroomate/rundown/internal/metrics"
	"github.com/newsroomate/rundown/pkg/rundown"
)

var errRefused = errors.New("dial tcp: connection refused")

type fakeSub struct {
	events chan rundown.Notification
	errs   chan error
	err    error

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeSub(buffered ...rundown.Notification) *fakeSub {
	s := &fakeSub{
		events: make(chan rundown.Notification, len(buffered)+8),
		errs:   make(chan error, 8),
		closed: make(chan struct{}),
	}
	for _, n := range buffered {
		s.events <- n
	}
	return s
}

func (s *fakeSub) Events() <-chan rundown.Notification { return s.events }
func (s *fakeSub) Errors() <-chan error                { return s.errs }
func (s *fakeSub) Err() error                          { return s.err }

func (s *fakeSub) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// lose ends the stream the way a dropped connection does.
func (s *fakeSub) lose() {
	s.err = rundown.ErrSubscriptionLost
	close(s.events)
}

// script hands out queued subscriptions (or errors) in order, then fails.
type script struct {
	mu    sync.Mutex
	steps []any
	calls int
}

func (s *script) Subscribe(ctx context.Context, rundownID string) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.steps) == 0 {
		return nil, errRefused
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	if err, ok := step.(error); ok {
		return nil, err
	}
	return step.(Subscription), nil
}

func (s *script) push(steps ...any) {
	s.mu.Lock()
	s.steps = append(s.steps, steps...)
	s.mu.Unlock()
}

func (s *script) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// advanceRetries releases n backoff waits, one at a time.
func advanceRetries(t *testing.T, clk *clock.Fake, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.Eventually(t, func() bool { return clk.Waiters() == 1 }, time.Second, time.Millisecond,
			"retry %d never waited", i+1)
		clk.Advance(DefaultBackoff)
	}
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func TestRunDegradesAfterRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.NewFake(time.Unix(0, 0))
	m := metrics.New()
	subs := &script{}

	var cause error
	rec := New("r1", collection.NewState(nil), echo.New(clk, 0), subs,
		WithClock(clk), WithMetrics(m),
		OnDegraded(func(err error) { cause = err }))

	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()

	advanceRetries(t, clk, DefaultMaxRetries)
	err := waitRun(t, done)

	require.ErrorIs(t, err, ErrDegraded)
	assert.ErrorIs(t, cause, errRefused)
	assert.True(t, rec.Degraded())
	assert.Equal(t, DefaultMaxRetries+1, subs.callCount())

	expected := `
# HELP rundown_realtime_degraded 1 when realtime updates gave up and only manual refresh works
# TYPE rundown_realtime_degraded gauge
rundown_realtime_degraded 1
# HELP rundown_subscription_reconnects_total Subscription reconnect attempts
# TYPE rundown_subscription_reconnects_total counter
rundown_subscription_reconnects_total 3
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"rundown_realtime_degraded", "rundown_subscription_reconnects_total"))

	t.Run("a later Run restores realtime updates", func(t *testing.T) {
		live := newFakeSub()
		subs.push(live)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- rec.Run(ctx) }()

		require.Eventually(t, func() bool { return !rec.Degraded() }, time.Second, time.Millisecond)
		cancel()
		assert.NoError(t, waitRun(t, done))
	})
}

func TestRunResetsRetriesAfterDelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.NewFake(time.Unix(0, 0))
	state := collection.NewState(collection.Build(
		[]rundown.Block{{ID: "a", RundownID: "r1", Name: "A", Order: 1}}, nil))

	flaky := newFakeSub(note(t, rundown.EventInsert, "other", row("x", "a", 1, 100)))
	flaky.lose()
	subs := &script{steps: []any{errRefused, flaky}}

	resyncs := 0
	rec := New("r1", state, echo.New(clk, 0), subs,
		WithClock(clk),
		WithResync(func(context.Context) error { resyncs++; return nil }))

	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()

	// One failure before the flaky subscription, then a fresh budget of
	// three retries after it delivered.
	advanceRetries(t, clk, 1+DefaultMaxRetries)
	err := waitRun(t, done)

	require.ErrorIs(t, err, ErrDegraded)
	assert.Equal(t, 2+DefaultMaxRetries, subs.callCount())
	assert.Equal(t, 1, resyncs)
	_, ok := collection.FindByID(state.Snapshot(), "x")
	assert.True(t, ok, "notification delivered before the loss was applied")
	assert.True(t, rundown.IsSubscriptionLost(flaky.Err()))
}

func TestRunAppliesUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	clk := clock.NewFake(time.Unix(0, 0))
	m := metrics.New()
	state := collection.NewState(collection.Build(
		[]rundown.Block{{ID: "a", RundownID: "r1", Name: "A", Order: 1}}, nil))

	live := newFakeSub()
	subs := &script{steps: []any{live}}
	rec := New("r1", state, echo.New(clk, 0), subs, WithClock(clk), WithMetrics(m))

	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()

	live.events <- note(t, rundown.EventInsert, "other", row("x", "a", 1, 100))
	live.errs <- errors.New("failed to decode notification: unexpected end of JSON input")

	require.Eventually(t, func() bool {
		_, ok := collection.FindByID(state.Snapshot(), "x")
		return ok && m.Snapshot().Malformed == 1
	}, time.Second, time.Millisecond)

	cancel()
	assert.NoError(t, waitRun(t, done))
	assert.False(t, rec.Degraded())
	assert.Equal(t, 1, subs.callCount())

	select {
	case <-live.closed:
	default:
		t.Fatal("subscription was not closed")
	}
}

func TestRunCancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	clk := clock.NewFake(time.Unix(0, 0))
	rec := New("r1", collection.NewState(nil), echo.New(clk, 0), &script{}, WithClock(clk))

	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()

	require.Eventually(t, func() bool { return clk.Waiters() == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.NoError(t, waitRun(t, done))
	assert.False(t, rec.Degraded())
}
