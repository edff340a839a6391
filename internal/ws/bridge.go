package ws

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"utilitysign/internal/bankid"
	"utilitysign/internal/pubsub"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// ErrNoClient is returned when no browser is subscribed to the workflow
var ErrNoClient = errors.New("no client connected")

type reply struct {
	kind string
	ok   bool
}

// Bridge drives the browser of one workflow over the hub. It opens the BankID
// window, redirects the page and asks confirmations, waiting for the client's
// replies. The first reply to a ref wins.
type Bridge struct {
	hub     *Hub
	channel string
	timeout time.Duration
	log     *zap.Logger

	mu      sync.Mutex
	waiters map[string]chan reply
	windows map[string]*remoteWindow
}

// NewBridge creates a bridge for a workflow. A window.open unanswered within
// timeout counts as blocked.
func NewBridge(hub *Hub, workflowID string, timeout time.Duration, log *zap.Logger) *Bridge {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Bridge{
		hub:     hub,
		channel: pubsub.WorkflowChannel(workflowID),
		timeout: timeout,
		log:     log,
		waiters: make(map[string]chan reply),
		windows: make(map[string]*remoteWindow),
	}
}

// Open asks the client to open url in a popup. It returns nil when the popup
// was blocked, not answered in time or no client is connected.
func (b *Bridge) Open(ctx context.Context, url string, opts bankid.WindowOptions) bankid.Window {
	r, ref, ok := b.request(ctx, map[string]interface{}{
		"type":     "window.open",
		"url":      url,
		"name":     opts.Name,
		"features": opts.Features(),
	})
	if !ok || r.kind != "window.opened" {
		b.hub.dropRef(ref)
		return nil
	}

	w := &remoteWindow{bridge: b, ref: ref}
	b.mu.Lock()
	b.windows[ref] = w
	b.mu.Unlock()
	return w
}

// Navigate redirects the client page to url
func (b *Bridge) Navigate(ctx context.Context, url string) error {
	if b.hub.Subscribers(b.channel) == 0 {
		return ErrNoClient
	}
	b.hub.Publish(b.channel, map[string]interface{}{"type": "navigate", "url": url})
	return nil
}

// Confirm asks the client a yes/no question. No answer counts as no.
func (b *Bridge) Confirm(ctx context.Context, message string) bool {
	r, ref, ok := b.request(ctx, map[string]interface{}{
		"type":    "confirm",
		"message": message,
	})
	b.hub.dropRef(ref)
	return ok && r.kind == "confirm.result" && r.ok
}

func (b *Bridge) request(ctx context.Context, msg map[string]interface{}) (reply, string, bool) {
	ref := ulid.Make().String()
	if b.hub.Subscribers(b.channel) == 0 {
		return reply{}, ref, false
	}

	ch := make(chan reply, 1)
	b.mu.Lock()
	b.waiters[ref] = ch
	b.mu.Unlock()
	b.hub.addRef(ref, b)
	defer func() {
		b.mu.Lock()
		delete(b.waiters, ref)
		b.mu.Unlock()
	}()

	msg["ref"] = ref
	b.hub.Publish(b.channel, msg)

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		return r, ref, true
	case <-timer.C:
		b.log.Debug("Client did not answer", zap.String("type", msg["type"].(string)), zap.String("ref", ref))
	case <-ctx.Done():
	}
	return reply{}, ref, false
}

func (b *Bridge) deliver(ref, kind string, ok bool) {
	b.mu.Lock()
	if ch, found := b.waiters[ref]; found {
		delete(b.waiters, ref)
		b.mu.Unlock()
		ch <- reply{kind: kind, ok: ok}
		return
	}
	w := b.windows[ref]
	b.mu.Unlock()

	if w != nil && kind == "window.closed" {
		w.closed.Store(true)
		b.release(ref)
	}
}

func (b *Bridge) release(ref string) {
	b.mu.Lock()
	delete(b.windows, ref)
	b.mu.Unlock()
	b.hub.dropRef(ref)
}

type remoteWindow struct {
	bridge *Bridge
	ref    string
	closed atomic.Bool
}

func (w *remoteWindow) Closed() bool {
	return w.closed.Load()
}

func (w *remoteWindow) Close() {
	if !w.closed.CompareAndSwap(false, true) {
		return
	}
	w.bridge.hub.Publish(w.bridge.channel, map[string]interface{}{"type": "window.close", "ref": w.ref})
	w.bridge.release(w.ref)
}

var (
	_ bankid.Opener    = (*Bridge)(nil)
	_ bankid.Confirmer = (*Bridge)(nil)
)
