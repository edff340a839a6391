// Package bankid launches BankID authentication windows and watches the
// resulting sessions until they reach a terminal status.
package bankid

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrNoSigningURL is returned when there is nothing to launch
	ErrNoSigningURL = errors.New("no signing URL available")
)

const (
	MsgPopupBlocked = "Popup-vinduet ble blokkert. Vil du fortsette til BankID i dette vinduet i stedet?"
	MsgAllowPopups  = "Popup-vinduet ble blokkert. Tillat popup-vinduer for dette nettstedet, eller godta omdirigering for å signere med BankID."
)

// WindowOptions describes the window a signing URL is opened in
type WindowOptions struct {
	Name       string `json:"name"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Scrollbars bool   `json:"scrollbars"`
	Resizable  bool   `json:"resizable"`
}

// DefaultWindow is the BankID popup
var DefaultWindow = WindowOptions{
	Name:       "bankid_signing",
	Width:      600,
	Height:     700,
	Scrollbars: true,
	Resizable:  true,
}

// Features renders the options as a window.open feature string
func (o WindowOptions) Features() string {
	return fmt.Sprintf("width=%d,height=%d,scrollbars=%s,resizable=%s",
		o.Width, o.Height, yesNo(o.Scrollbars), yesNo(o.Resizable))
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// Window is a handle to an opened window
type Window interface {
	Closed() bool
	Close()
}

// Opener is the presentation capability used to show a URL. Open returns nil
// when no window could be opened.
type Opener interface {
	Open(ctx context.Context, url string, opts WindowOptions) Window
	Navigate(ctx context.Context, url string) error
}

// Confirmer asks the user a yes/no question and blocks for the answer
type Confirmer interface {
	Confirm(ctx context.Context, message string) bool
}

// LaunchState is the state of the launcher
type LaunchState string

const (
	StateIdle         LaunchState = "idle"
	StateLaunching    LaunchState = "launching"
	StatePopupOpen    LaunchState = "popup_open"
	StatePopupBlocked LaunchState = "popup_blocked"
	StateRedirected   LaunchState = "redirected"
)

// Outcome is the result of a launch
type Outcome string

const (
	// Opened means a window was opened and can be watched
	Opened Outcome = "opened"
	// Redirected means the current page navigates away to the URL
	Redirected Outcome = "redirected"
	// Declined means the popup was blocked and the user refused the redirect
	Declined Outcome = "declined"
)

// LaunchResult describes how a URL was launched. Window is set for Opened;
// Message is set for Declined.
type LaunchResult struct {
	Outcome Outcome
	Window  Window
	Message string
}

// Launcher opens a signing URL in a popup, falling back to a confirmed
// redirect of the current page when the popup is blocked.
type Launcher struct {
	opener    Opener
	confirmer Confirmer
	options   WindowOptions
	log       *zap.Logger

	mu    sync.Mutex
	state LaunchState
}

func NewLauncher(opener Opener, confirmer Confirmer, log *zap.Logger) *Launcher {
	return &Launcher{
		opener:    opener,
		confirmer: confirmer,
		options:   DefaultWindow,
		log:       log,
		state:     StateIdle,
	}
}

// State returns the current launcher state
func (l *Launcher) State() LaunchState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Launcher) setState(s LaunchState) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// Launch opens url. A declined redirect is not an error: it is reported as a
// Declined result and leaves the launcher idle.
func (l *Launcher) Launch(ctx context.Context, url string) (LaunchResult, error) {
	if url == "" {
		return LaunchResult{}, ErrNoSigningURL
	}
	l.setState(StateLaunching)

	if w := l.opener.Open(ctx, url, l.options); w != nil {
		l.setState(StatePopupOpen)
		l.log.Debug("BankID window opened", zap.String("window", l.options.Name))
		return LaunchResult{Outcome: Opened, Window: w}, nil
	}

	l.setState(StatePopupBlocked)
	l.log.Info("BankID popup blocked, asking for redirect")

	if !l.confirmer.Confirm(ctx, MsgPopupBlocked) {
		l.setState(StateIdle)
		return LaunchResult{Outcome: Declined, Message: MsgAllowPopups}, nil
	}

	if err := l.opener.Navigate(ctx, url); err != nil {
		l.setState(StateIdle)
		return LaunchResult{}, fmt.Errorf("failed to redirect to BankID: %w", err)
	}
	l.setState(StateRedirected)
	return LaunchResult{Outcome: Redirected}, nil
}

// Reset returns the launcher to idle
func (l *Launcher) Reset() {
	l.setState(StateIdle)
}
