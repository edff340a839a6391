package bankid

import (
	"context"
	"errors"
	"sync"
	"time"

	"utilitysign/internal/model"
	"utilitysign/internal/signing"

	"go.uber.org/zap"
)

// StatusChecker reads and cancels BankID sessions. CheckBankIDStatus must not
// fail: a failed read is reported with Err set.
type StatusChecker interface {
	CheckBankIDStatus(ctx context.Context, sessionID string) signing.StatusResult
	CancelBankIDSession(ctx context.Context, sessionID string)
}

// CompletionNotifier runs the completion side effect of a signed request. It
// must return without waiting for the side effect.
type CompletionNotifier interface {
	NotifyCompleted(requestID string)
}

// TriggerFunc triggers signing completion for a request
type TriggerFunc func(ctx context.Context, requestID string)

// AsyncNotifier runs Trigger on its own goroutine with a fresh context
type AsyncNotifier struct {
	Trigger TriggerFunc
	Timeout time.Duration
}

func (n AsyncNotifier) NotifyCompleted(requestID string) {
	timeout := n.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		n.Trigger(ctx, requestID)
	}()
}

// PollOutcome is the way a polling run ended
type PollOutcome string

const (
	OutcomeCompleted PollOutcome = "completed"
	OutcomeFailed    PollOutcome = "failed"
	OutcomeCancelled PollOutcome = "cancelled"
	// OutcomeTimedOut means the hard timeout elapsed first
	OutcomeTimedOut PollOutcome = "timed_out"
	// OutcomeExpired means the request expiry elapsed first
	OutcomeExpired PollOutcome = "expired"
	// OutcomeStopped means the run was stopped by its owner
	OutcomeStopped PollOutcome = "stopped"
)

// PollResult is the final result of a polling run
type PollResult struct {
	Outcome  PollOutcome
	Status   model.Status
	UserInfo *signing.UserInfo
}

// PollerConfig holds the timers of a polling run
type PollerConfig struct {
	Interval           time.Duration
	CloseCheckInterval time.Duration
	HardTimeout        time.Duration
}

// DefaultPollerConfig returns the reference timings
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Interval:           2 * time.Second,
		CloseCheckInterval: time.Second,
		HardTimeout:        5 * time.Minute,
	}
}

// Session identifies what to poll. Window may be nil when the session was not
// opened in a watchable window. A zero ExpiresAt leaves only the hard timeout.
// Without a SessionID only the deadlines are watched.
type Session struct {
	RequestID string
	SessionID string
	Window    Window
	ExpiresAt time.Time
}

// Poller watches BankID sessions
type Poller struct {
	checker  StatusChecker
	notifier CompletionNotifier
	cfg      PollerConfig
	log      *zap.Logger
	now      func() time.Time
}

func NewPoller(checker StatusChecker, notifier CompletionNotifier, cfg PollerConfig, log *zap.Logger) *Poller {
	def := DefaultPollerConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.CloseCheckInterval <= 0 {
		cfg.CloseCheckInterval = def.CloseCheckInterval
	}
	if cfg.HardTimeout <= 0 {
		cfg.HardTimeout = def.HardTimeout
	}
	return &Poller{
		checker:  checker,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// Polling is one running poll of a session
type Polling struct {
	poller     *Poller
	session    Session
	onTerminal func(PollResult)
	onDeadline PollOutcome

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	settleOnce sync.Once
	cancelOnce sync.Once
	result     PollResult
}

// Start begins polling s. The status loop and the window watcher run on their
// own goroutines until the first of: a terminal status, the hard timeout, the
// request expiry, Stop, or cancellation of ctx. onTerminal is called once
// unless the run was stopped by its owner; it runs on the polling goroutine.
func (p *Poller) Start(ctx context.Context, s Session, onTerminal func(PollResult)) *Polling {
	deadline := p.now().Add(p.cfg.HardTimeout)
	onDeadline := OutcomeTimedOut
	if !s.ExpiresAt.IsZero() && s.ExpiresAt.Before(deadline) {
		deadline = s.ExpiresAt
		onDeadline = OutcomeExpired
	}

	pctx, cancel := context.WithDeadline(ctx, deadline)
	pl := &Polling{
		poller:     p,
		session:    s,
		onTerminal: onTerminal,
		onDeadline: onDeadline,
		ctx:        pctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		pl.pollLoop()
	}()
	if s.Window != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pl.watchWindow()
		}()
	}
	go func() {
		wg.Wait()
		close(pl.done)
	}()

	p.log.Debug("BankID polling started",
		zap.String("request_id", s.RequestID),
		zap.String("session_id", s.SessionID),
		zap.Time("deadline", deadline),
	)
	return pl
}

// Stop ends the run without invoking the terminal callback. It is safe to call
// any number of times, also after the run ended by itself.
func (pl *Polling) Stop() {
	pl.settle(PollResult{Outcome: OutcomeStopped})
}

// Done is closed once both loops have exited
func (pl *Polling) Done() <-chan struct{} {
	return pl.done
}

// Result waits for the run to end and returns how it ended
func (pl *Polling) Result() PollResult {
	<-pl.done
	return pl.result
}

// settle records the result and tears the run down. Only the first call wins.
func (pl *Polling) settle(r PollResult) bool {
	won := false
	pl.settleOnce.Do(func() {
		pl.result = r
		pl.cancel()
		won = true
	})
	return won
}

func (pl *Polling) finish(r PollResult) {
	if !pl.settle(r) {
		return
	}
	p := pl.poller
	if r.Outcome == OutcomeCompleted {
		if w := pl.session.Window; w != nil && !w.Closed() {
			w.Close()
		}
		if p.notifier != nil {
			p.notifier.NotifyCompleted(pl.session.RequestID)
		}
	}
	p.log.Info("BankID polling finished",
		zap.String("request_id", pl.session.RequestID),
		zap.String("session_id", pl.session.SessionID),
		zap.String("outcome", string(r.Outcome)),
	)
	if pl.onTerminal != nil {
		pl.onTerminal(r)
	}
}

func (pl *Polling) pollLoop() {
	p := pl.poller
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-pl.ctx.Done():
			if errors.Is(pl.ctx.Err(), context.DeadlineExceeded) {
				pl.finish(PollResult{Outcome: pl.onDeadline})
			} else {
				pl.settle(PollResult{Outcome: OutcomeStopped})
			}
			return
		case <-ticker.C:
		}
		if pl.session.SessionID == "" {
			continue
		}

		result := p.checker.CheckBankIDStatus(pl.ctx, pl.session.SessionID)
		if pl.ctx.Err() != nil {
			continue
		}
		if result.Err != nil {
			p.log.Debug("BankID status read failed, retrying on next tick",
				zap.String("session_id", pl.session.SessionID), zap.Error(result.Err))
			continue
		}

		var outcome PollOutcome
		switch result.Status {
		case model.StatusCompleted:
			outcome = OutcomeCompleted
		case model.StatusFailed:
			outcome = OutcomeFailed
		case model.StatusCancelled:
			outcome = OutcomeCancelled
		case model.StatusExpired:
			outcome = OutcomeExpired
		default:
			continue
		}
		pl.finish(PollResult{Outcome: outcome, Status: result.Status, UserInfo: result.UserInfo})
		return
	}
}

// watchWindow cancels the session once the user closes the window before a
// terminal status arrived. Status polling keeps running.
func (pl *Polling) watchWindow() {
	p := pl.poller
	ticker := time.NewTicker(p.cfg.CloseCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-pl.ctx.Done():
			return
		case <-ticker.C:
		}
		if !pl.session.Window.Closed() {
			continue
		}
		if pl.ctx.Err() != nil || pl.session.SessionID == "" {
			return
		}
		pl.cancelOnce.Do(func() {
			p.log.Info("BankID window closed by user, cancelling session",
				zap.String("session_id", pl.session.SessionID))
			ctx, cancel := context.WithTimeout(context.WithoutCancel(pl.ctx), 10*time.Second)
			defer cancel()
			p.checker.CancelBankIDSession(ctx, pl.session.SessionID)
		})
		return
	}
}
