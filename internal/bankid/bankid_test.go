package bankid

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"utilitysign/internal/model"
	"utilitysign/internal/signing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeWindow struct {
	closed     atomic.Bool
	closeCalls atomic.Int32
}

func (w *fakeWindow) Closed() bool { return w.closed.Load() }

func (w *fakeWindow) Close() {
	w.closeCalls.Add(1)
	w.closed.Store(true)
}

type fakeOpener struct {
	window    Window
	opened    []WindowOptions
	navigated []string
}

func (o *fakeOpener) Open(ctx context.Context, url string, opts WindowOptions) Window {
	o.opened = append(o.opened, opts)
	return o.window
}

func (o *fakeOpener) Navigate(ctx context.Context, url string) error {
	o.navigated = append(o.navigated, url)
	return nil
}

type fakeConfirmer struct {
	answer   bool
	messages []string
}

func (c *fakeConfirmer) Confirm(ctx context.Context, message string) bool {
	c.messages = append(c.messages, message)
	return c.answer
}

// scriptedChecker replays a list of reads, repeating the last one
type scriptedChecker struct {
	mu        sync.Mutex
	reads     []signing.StatusResult
	calls     int
	cancelled int
}

func (c *scriptedChecker) CheckBankIDStatus(ctx context.Context, sessionID string) signing.StatusResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.calls
	if i >= len(c.reads) {
		i = len(c.reads) - 1
	}
	c.calls++
	return c.reads[i]
}

func (c *scriptedChecker) CancelBankIDSession(ctx context.Context, sessionID string) {
	c.mu.Lock()
	c.cancelled++
	c.mu.Unlock()
}

func (c *scriptedChecker) setReads(reads ...signing.StatusResult) {
	c.mu.Lock()
	c.reads = reads
	c.mu.Unlock()
}

func (c *scriptedChecker) counts() (calls, cancelled int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls, c.cancelled
}

type countingNotifier struct {
	mu  sync.Mutex
	ids []string
}

func (n *countingNotifier) NotifyCompleted(requestID string) {
	n.mu.Lock()
	n.ids = append(n.ids, requestID)
	n.mu.Unlock()
}

func (n *countingNotifier) calls() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.ids...)
}

func status(s model.Status) signing.StatusResult {
	return signing.StatusResult{Status: s}
}

func fastConfig() PollerConfig {
	return PollerConfig{
		Interval:           5 * time.Millisecond,
		CloseCheckInterval: 3 * time.Millisecond,
		HardTimeout:        2 * time.Second,
	}
}

func waitDone(t *testing.T, pl *Polling) PollResult {
	t.Helper()
	select {
	case <-pl.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("polling did not stop")
	}
	return pl.Result()
}

func TestLauncher_Launch(t *testing.T) {
	ctx := context.Background()

	t.Run("opens popup", func(t *testing.T) {
		opener := &fakeOpener{window: &fakeWindow{}}
		l := NewLauncher(opener, &fakeConfirmer{}, zap.NewNop())

		res, err := l.Launch(ctx, "https://bankid.example/a")
		require.NoError(t, err)
		assert.Equal(t, Opened, res.Outcome)
		assert.NotNil(t, res.Window)
		assert.Equal(t, StatePopupOpen, l.State())
		require.Len(t, opener.opened, 1)
		assert.Equal(t, "bankid_signing", opener.opened[0].Name)
		assert.Equal(t, "width=600,height=700,scrollbars=yes,resizable=yes", opener.opened[0].Features())
	})

	t.Run("blocked and redirect accepted", func(t *testing.T) {
		opener := &fakeOpener{}
		confirmer := &fakeConfirmer{answer: true}
		l := NewLauncher(opener, confirmer, zap.NewNop())

		res, err := l.Launch(ctx, "https://bankid.example/a")
		require.NoError(t, err)
		assert.Equal(t, Redirected, res.Outcome)
		assert.Equal(t, []string{"https://bankid.example/a"}, opener.navigated)
		assert.Equal(t, []string{MsgPopupBlocked}, confirmer.messages)
		assert.Equal(t, StateRedirected, l.State())
	})

	t.Run("blocked and redirect declined", func(t *testing.T) {
		opener := &fakeOpener{}
		l := NewLauncher(opener, &fakeConfirmer{answer: false}, zap.NewNop())

		res, err := l.Launch(ctx, "https://bankid.example/a")
		require.NoError(t, err)
		assert.Equal(t, Declined, res.Outcome)
		assert.Equal(t, MsgAllowPopups, res.Message)
		assert.Nil(t, res.Window)
		assert.Empty(t, opener.navigated)
		assert.Equal(t, StateIdle, l.State())
	})

	t.Run("empty url", func(t *testing.T) {
		l := NewLauncher(&fakeOpener{}, &fakeConfirmer{}, zap.NewNop())
		_, err := l.Launch(ctx, "")
		assert.ErrorIs(t, err, ErrNoSigningURL)
	})
}

func TestPoller_Completed(t *testing.T) {
	checker := &scriptedChecker{reads: []signing.StatusResult{
		status(model.StatusPending),
		status(model.StatusInProgress),
		{Status: model.StatusCompleted, UserInfo: &signing.UserInfo{Name: "Jo Doe"}},
	}}
	notifier := &countingNotifier{}
	window := &fakeWindow{}
	p := NewPoller(checker, notifier, fastConfig(), zap.NewNop())

	var terminal atomic.Int32
	pl := p.Start(context.Background(), Session{RequestID: "r1", SessionID: "s1", Window: window}, func(r PollResult) {
		terminal.Add(1)
	})
	res := waitDone(t, pl)

	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, "Jo Doe", res.UserInfo.Name)
	assert.Equal(t, []string{"r1"}, notifier.calls())
	assert.Equal(t, int32(1), terminal.Load())
	assert.Equal(t, int32(1), window.closeCalls.Load())

	calls, cancelled := checker.counts()
	assert.Equal(t, 3, calls, "no reads after the terminal status")
	assert.Zero(t, cancelled, "closing the window on success does not cancel the session")

	time.Sleep(20 * time.Millisecond)
	calls, _ = checker.counts()
	assert.Equal(t, 3, calls)
}

func TestPoller_FailedAndCancelled(t *testing.T) {
	for _, tc := range []struct {
		status  model.Status
		outcome PollOutcome
	}{
		{model.StatusFailed, OutcomeFailed},
		{model.StatusCancelled, OutcomeCancelled},
	} {
		t.Run(string(tc.status), func(t *testing.T) {
			checker := &scriptedChecker{reads: []signing.StatusResult{status(model.StatusPending), status(tc.status)}}
			notifier := &countingNotifier{}
			p := NewPoller(checker, notifier, fastConfig(), zap.NewNop())

			res := waitDone(t, p.Start(context.Background(), Session{RequestID: "r", SessionID: "s"}, nil))
			assert.Equal(t, tc.outcome, res.Outcome)
			assert.Empty(t, notifier.calls())
		})
	}
}

func TestPoller_TransportErrorKeepsPolling(t *testing.T) {
	netErr := errors.New("network down")
	checker := &scriptedChecker{reads: []signing.StatusResult{
		status(model.StatusPending),
		{Status: model.StatusFailed, Err: netErr},
		status(model.StatusInProgress),
		status(model.StatusCompleted),
	}}
	p := NewPoller(checker, &countingNotifier{}, fastConfig(), zap.NewNop())

	res := waitDone(t, p.Start(context.Background(), Session{RequestID: "r", SessionID: "s"}, nil))
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	calls, _ := checker.counts()
	assert.Equal(t, 4, calls)
}

func TestPoller_HardTimeout(t *testing.T) {
	checker := &scriptedChecker{reads: []signing.StatusResult{status(model.StatusPending)}}
	cfg := fastConfig()
	cfg.HardTimeout = 40 * time.Millisecond
	p := NewPoller(checker, &countingNotifier{}, cfg, zap.NewNop())

	var got PollResult
	start := time.Now()
	pl := p.Start(context.Background(), Session{RequestID: "r", SessionID: "s"}, func(r PollResult) { got = r })
	res := waitDone(t, pl)

	assert.Equal(t, OutcomeTimedOut, res.Outcome)
	assert.Equal(t, OutcomeTimedOut, got.Outcome)
	assert.Less(t, time.Since(start), time.Second)

	calls, _ := checker.counts()
	time.Sleep(30 * time.Millisecond)
	after, _ := checker.counts()
	assert.Equal(t, calls, after, "no reads after the timeout")
}

func TestPoller_ExpiryBeforeHardTimeout(t *testing.T) {
	checker := &scriptedChecker{reads: []signing.StatusResult{status(model.StatusInProgress)}}
	p := NewPoller(checker, &countingNotifier{}, fastConfig(), zap.NewNop())

	res := waitDone(t, p.Start(context.Background(), Session{
		RequestID: "r",
		SessionID: "s",
		ExpiresAt: time.Now().Add(30 * time.Millisecond),
	}, nil))
	assert.Equal(t, OutcomeExpired, res.Outcome)
}

func TestPoller_WithoutSessionWatchesDeadline(t *testing.T) {
	checker := &scriptedChecker{reads: []signing.StatusResult{status(model.StatusCompleted)}}
	window := &fakeWindow{}
	p := NewPoller(checker, &countingNotifier{}, fastConfig(), zap.NewNop())

	pl := p.Start(context.Background(), Session{
		RequestID: "r",
		Window:    window,
		ExpiresAt: time.Now().Add(40 * time.Millisecond),
	}, nil)
	window.closed.Store(true)

	res := waitDone(t, pl)
	assert.Equal(t, OutcomeExpired, res.Outcome)
	calls, cancelled := checker.counts()
	assert.Zero(t, calls, "nothing to read without a session")
	assert.Zero(t, cancelled)
}

func TestPoller_WindowClosedCancelsOnce(t *testing.T) {
	checker := &scriptedChecker{reads: []signing.StatusResult{status(model.StatusPending)}}
	window := &fakeWindow{}
	p := NewPoller(checker, &countingNotifier{}, fastConfig(), zap.NewNop())

	pl := p.Start(context.Background(), Session{RequestID: "r", SessionID: "s", Window: window}, nil)
	window.closed.Store(true)

	assert.Eventually(t, func() bool {
		_, cancelled := checker.counts()
		return cancelled == 1
	}, time.Second, 2*time.Millisecond)

	// a late terminal read ends polling without a second cancel
	checker.setReads(status(model.StatusCancelled))
	res := waitDone(t, pl)
	assert.Equal(t, OutcomeCancelled, res.Outcome)

	_, cancelled := checker.counts()
	assert.Equal(t, 1, cancelled)
	assert.Zero(t, window.closeCalls.Load())
}

func TestPolling_StopIsIdempotent(t *testing.T) {
	checker := &scriptedChecker{reads: []signing.StatusResult{status(model.StatusPending)}}
	p := NewPoller(checker, &countingNotifier{}, fastConfig(), zap.NewNop())

	called := false
	pl := p.Start(context.Background(), Session{RequestID: "r", SessionID: "s", Window: &fakeWindow{}}, func(PollResult) { called = true })
	pl.Stop()
	pl.Stop()

	res := waitDone(t, pl)
	assert.Equal(t, OutcomeStopped, res.Outcome)
	assert.False(t, called)
	pl.Stop()
}

func TestAsyncNotifier(t *testing.T) {
	done := make(chan string, 1)
	n := AsyncNotifier{Trigger: func(ctx context.Context, id string) { done <- id }}
	n.NotifyCompleted("r1")

	select {
	case id := <-done:
		assert.Equal(t, "r1", id)
	case <-time.After(time.Second):
		t.Fatal("trigger not called")
	}
}
