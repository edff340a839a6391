package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"utilitysign/internal/bankid"

	"github.com/mdp/qrterminal/v3"
)

// terminal presents BankID URLs on the console. The "window" is the QR code
// and link; typing c closes it.
type terminal struct {
	out    io.Writer
	lines  chan string
	popups bool

	mu     sync.Mutex
	window *termWindow
}

func newTerminal(in io.Reader, out io.Writer, popups bool) *terminal {
	t := &terminal{out: out, lines: make(chan string), popups: popups}
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			t.lines <- strings.TrimSpace(scanner.Text())
		}
		close(t.lines)
	}()
	return t
}

func (t *terminal) show(url string) {
	fmt.Fprintf(t.out, "\n%s\n\n", url)
	qrterminal.GenerateHalfBlock(url, qrterminal.L, t.out)
}

// Open shows url, or reports a blocked popup when popups are disabled
func (t *terminal) Open(ctx context.Context, url string, opts bankid.WindowOptions) bankid.Window {
	if !t.popups {
		return nil
	}
	fmt.Fprintf(t.out, "Åpne BankID for å signere (skriv c og Enter for å lukke):")
	t.show(url)

	w := &termWindow{}
	t.mu.Lock()
	t.window = w
	t.mu.Unlock()
	return w
}

func (t *terminal) Navigate(ctx context.Context, url string) error {
	fmt.Fprintf(t.out, "Fortsett til BankID i nettleseren:")
	t.show(url)
	return nil
}

func (t *terminal) Confirm(ctx context.Context, message string) bool {
	fmt.Fprintf(t.out, "%s [j/N]: ", message)
	select {
	case line, ok := <-t.lines:
		if !ok {
			return false
		}
		switch strings.ToLower(line) {
		case "j", "ja", "y", "yes":
			return true
		}
		return false
	case <-ctx.Done():
		return false
	}
}

// watchClose closes the open window when the user types c
func (t *terminal) watchClose(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-t.lines:
			if !ok {
				return
			}
			if strings.EqualFold(line, "c") {
				t.mu.Lock()
				w := t.window
				t.mu.Unlock()
				if w != nil && !w.Closed() {
					w.Close()
					fmt.Fprintln(t.out, "BankID-vinduet ble lukket.")
				}
			}
		}
	}
}

type termWindow struct {
	closed atomic.Bool
}

func (w *termWindow) Closed() bool { return w.closed.Load() }
func (w *termWindow) Close()       { w.closed.Store(true) }
