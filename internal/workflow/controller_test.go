package workflow

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"utilitysign/internal/bankid"
	"utilitysign/internal/formstate"
	"utilitysign/internal/model"
	"utilitysign/internal/signing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSigning struct {
	mu        sync.Mutex
	inlineURL bool
	// urlOnly returns a signing URL without a BankID session
	urlOnly   bool
	noSession bool
	expiresIn time.Duration
	createErr error
	inputs    []signing.CreateInput
	initiated int
}

func (f *fakeSigning) CreateSigningRequest(ctx context.Context, input signing.CreateInput) (*model.SigningRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, input)
	if f.createErr != nil {
		return nil, f.createErr
	}
	now := time.Now()
	expiresIn := f.expiresIn
	if expiresIn == 0 {
		expiresIn = time.Hour
	}
	req := &model.SigningRequest{
		ID:          "req-1",
		DocumentID:  input.DocumentID,
		SignerEmail: input.SignerEmail,
		SignerName:  input.SignerName,
		Status:      model.StatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(expiresIn),
	}
	if f.inlineURL || f.urlOnly {
		req.SigningURL = "https://sign.example/req-1"
	}
	if f.inlineURL {
		req.AttachSession("sess-inline")
	}
	return req, nil
}

func (f *fakeSigning) InitiateBankID(ctx context.Context, requestID string) (*signing.BankIDSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initiated++
	session := &signing.BankIDSession{AuthURL: "https://bankid.example/" + requestID, SessionID: "sess-1"}
	if f.noSession {
		session.SessionID = ""
	}
	return session, nil
}

type fakeDocuments struct {
	discarded []string
}

func (d *fakeDocuments) Store(ctx context.Context, fileName, contentType string, r io.Reader) (*model.Document, error) {
	if _, err := io.ReadAll(r); err != nil {
		return nil, err
	}
	if fileName == "bad.exe" {
		return nil, errors.New("file type not allowed")
	}
	return &model.Document{ID: "doc-1", FileName: fileName, ObjectKey: "documents/doc-1/" + fileName}, nil
}

func (d *fakeDocuments) Discard(ctx context.Context, doc *model.Document) error {
	d.discarded = append(d.discarded, doc.ID)
	return nil
}

type fakeWindow struct{ closed atomic.Bool }

func (w *fakeWindow) Closed() bool { return w.closed.Load() }
func (w *fakeWindow) Close()       { w.closed.Store(true) }

type fakeOpener struct {
	blocked bool
	window  *fakeWindow
}

func (o *fakeOpener) Open(ctx context.Context, url string, opts bankid.WindowOptions) bankid.Window {
	if o.blocked {
		return nil
	}
	o.window = &fakeWindow{}
	return o.window
}

func (o *fakeOpener) Navigate(ctx context.Context, url string) error { return nil }

type answer bool

func (a answer) Confirm(ctx context.Context, message string) bool { return bool(a) }

type statusScript struct {
	mu     sync.Mutex
	status model.Status
	reads  int
}

func (s *statusScript) CheckBankIDStatus(ctx context.Context, sessionID string) signing.StatusResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	return signing.StatusResult{Status: s.status, UserInfo: &signing.UserInfo{Name: "Jo Doe"}}
}

func (s *statusScript) CancelBankIDSession(ctx context.Context, sessionID string) {}

func (s *statusScript) set(status model.Status) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

type notifier struct{ calls atomic.Int32 }

func (n *notifier) NotifyCompleted(string) { n.calls.Add(1) }

type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (s *recordingSink) PublishWorkflow(id string, event map[string]interface{}) error {
	s.mu.Lock()
	s.events = append(s.events, event["type"].(string))
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) has(eventType string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e == eventType {
			return true
		}
	}
	return false
}

type fixture struct {
	ctrl     *Controller
	signing  *fakeSigning
	docs     *fakeDocuments
	opener   *fakeOpener
	status   *statusScript
	notifier *notifier
	sink     *recordingSink
}

func newFixture(t *testing.T, confirm bool) *fixture {
	t.Helper()
	return newFixtureWithTimeout(t, confirm, 5*time.Second)
}

func newFixtureWithTimeout(t *testing.T, confirm bool, hardTimeout time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		signing:  &fakeSigning{},
		docs:     &fakeDocuments{},
		opener:   &fakeOpener{},
		status:   &statusScript{status: model.StatusPending},
		notifier: &notifier{},
		sink:     &recordingSink{},
	}
	log := zap.NewNop()
	poller := bankid.NewPoller(f.status, f.notifier, bankid.PollerConfig{
		Interval:           5 * time.Millisecond,
		CloseCheckInterval: 5 * time.Millisecond,
		HardTimeout:        hardTimeout,
	}, log)
	f.ctrl = New("wf-1", Deps{
		Signing:   f.signing,
		Documents: f.docs,
		Launcher:  bankid.NewLauncher(f.opener, answer(confirm), log),
		Poller:    poller,
		Events:    f.sink,
		Log:       log,
	})
	t.Cleanup(f.ctrl.Close)
	return f
}

func validSnapshot() formstate.Snapshot {
	return formstate.Snapshot{
		Values: map[string]string{
			model.FieldFirstName:   "Jo",
			model.FieldLastName:    "Doe",
			model.FieldSignerEmail: "jo@example.com",
			model.FieldPhone:       "12345678",
			model.FieldAddress:     "Storgata 1",
			model.FieldCity:        "Oslo",
			model.FieldZip:         "0155",
		},
		Checked: map[string]bool{model.FieldUseSameAddressForBilling: true},
	}
}

func (f *fixture) toSigning(t *testing.T) {
	t.Helper()
	_, err := f.ctrl.Upload(context.Background(), "kontrakt.pdf", "application/pdf", stringsReader("%PDF"))
	require.NoError(t, err)
	require.NoError(t, f.ctrl.ConfirmPreview())
	require.Equal(t, model.StepSigning, f.ctrl.State().Step)
}

func TestController_StepOrder(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	assert.ErrorIs(t, f.ctrl.ConfirmPreview(), ErrStepNotAllowed)
	_, err := f.ctrl.Submit(ctx, formstate.StaticSource(validSnapshot()))
	assert.ErrorIs(t, err, ErrStepNotAllowed)
	assert.ErrorIs(t, f.ctrl.AttachDocument(nil), ErrMissingDocument)

	doc, err := f.ctrl.Upload(ctx, "kontrakt.pdf", "application/pdf", stringsReader("%PDF"))
	require.NoError(t, err)
	assert.Equal(t, model.StepPreview, f.ctrl.State().Step)

	_, err = f.ctrl.Upload(ctx, "again.pdf", "application/pdf", stringsReader("%PDF"))
	assert.ErrorIs(t, err, ErrStepNotAllowed)

	require.NoError(t, f.ctrl.BackToUpload(ctx))
	st := f.ctrl.State()
	assert.Equal(t, model.StepUpload, st.Step)
	assert.Nil(t, st.Document)
	assert.Equal(t, []string{doc.ID}, f.docs.discarded)
	assert.True(t, f.sink.has("workflow.step"))
}

func TestController_UploadFailure(t *testing.T) {
	f := newFixture(t, false)

	_, err := f.ctrl.Upload(context.Background(), "bad.exe", "application/octet-stream", stringsReader("MZ"))
	require.Error(t, err)
	st := f.ctrl.State()
	assert.Equal(t, model.StepUpload, st.Step)
	assert.Equal(t, MsgUploadFailed, st.Error)
}

func TestController_ValidationBlocksSubmit(t *testing.T) {
	f := newFixture(t, false)
	f.toSigning(t)

	snap := validSnapshot()
	snap.Values[model.FieldMeterNumber] = "12345"
	_, err := f.ctrl.Submit(context.Background(), formstate.StaticSource(snap))

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, map[string]string{model.FieldMeterNumber: "MålepunktID må være 18 siffer"}, verr.Fields)

	st := f.ctrl.State()
	assert.Equal(t, model.StepSigning, st.Step)
	assert.Equal(t, MsgInvalidForm, st.Error)
	assert.Contains(t, st.FieldErrors, model.FieldMeterNumber)
	assert.Empty(t, f.signing.inputs, "invalid forms are never sent")
}

func TestController_SubmitCompletes(t *testing.T) {
	f := newFixture(t, false)
	f.toSigning(t)
	f.ctrl.Form().Update(func(form *model.FormData) {
		form.BillingAddress = "Gammel vei 2"
	})

	res, err := f.ctrl.Submit(context.Background(), formstate.StaticSource(validSnapshot()))
	require.NoError(t, err)
	assert.Equal(t, bankid.Opened, res.Outcome)
	assert.Equal(t, 1, f.signing.initiated, "no inline URL so BankID is initiated")

	require.Len(t, f.signing.inputs, 1)
	input := f.signing.inputs[0]
	assert.Equal(t, "doc-1", input.DocumentID)
	assert.Equal(t, "Jo Doe", input.SignerName)
	assert.Regexp(t, `^doc-1:[0-9a-f]{16}:`, input.IdempotencyKey)
	assert.NotContains(t, input.ExtraFields, model.FieldBillingAddress)

	st := f.ctrl.State()
	assert.Equal(t, model.StepStatus, st.Step)
	assert.True(t, st.Polling)

	f.status.set(model.StatusCompleted)
	assert.Eventually(t, func() bool {
		return f.ctrl.State().Step == model.StepCompleted
	}, 2*time.Second, 5*time.Millisecond)

	st = f.ctrl.State()
	assert.Equal(t, model.StatusCompleted, st.SigningRequest.Status)
	assert.NotNil(t, st.SigningRequest.CompletedAt)
	assert.Equal(t, "Jo Doe", st.Signer.Name)
	assert.False(t, st.Polling)
	assert.Equal(t, int32(1), f.notifier.calls.Load())
	assert.True(t, f.opener.window.Closed())
	assert.True(t, f.sink.has("signing.completed"))

	assert.ErrorIs(t, f.ctrl.Retry(), ErrStepNotAllowed)
	f.ctrl.Reset()
	st = f.ctrl.State()
	assert.Equal(t, model.StepUpload, st.Step)
	assert.Nil(t, st.Document)
	assert.Nil(t, st.SigningRequest)
	assert.Empty(t, st.Form.FirstName)
}

func TestController_InlineURLSkipsInitiation(t *testing.T) {
	f := newFixture(t, false)
	f.signing.inlineURL = true
	f.toSigning(t)

	_, err := f.ctrl.Submit(context.Background(), formstate.StaticSource(validSnapshot()))
	require.NoError(t, err)
	assert.Zero(t, f.signing.initiated)
	assert.Equal(t, "sess-inline", f.ctrl.State().SigningRequest.BankIDSessionID)
}

func TestController_URLWithoutSessionInitiatesBankID(t *testing.T) {
	f := newFixture(t, false)
	f.signing.urlOnly = true
	f.toSigning(t)

	_, err := f.ctrl.Submit(context.Background(), formstate.StaticSource(validSnapshot()))
	require.NoError(t, err)
	assert.Equal(t, 1, f.signing.initiated)

	st := f.ctrl.State()
	assert.Equal(t, model.StepStatus, st.Step)
	assert.True(t, st.Polling)
	assert.Equal(t, "sess-1", st.SigningRequest.BankIDSessionID)
	assert.Equal(t, "https://sign.example/req-1", st.SigningRequest.LaunchURL())

	f.status.set(model.StatusCompleted)
	assert.Eventually(t, func() bool {
		return f.ctrl.State().Step == model.StepCompleted
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), f.notifier.calls.Load())
}

func TestController_SessionlessRequestStillExpires(t *testing.T) {
	f := newFixture(t, false)
	f.signing.urlOnly = true
	f.signing.noSession = true
	f.signing.expiresIn = 50 * time.Millisecond
	f.toSigning(t)

	_, err := f.ctrl.Submit(context.Background(), formstate.StaticSource(validSnapshot()))
	require.NoError(t, err)
	assert.True(t, f.ctrl.State().Polling, "deadlines are watched without a session")

	assert.Eventually(t, func() bool {
		return f.sink.has("signing.timeout")
	}, 2*time.Second, 5*time.Millisecond)

	st := f.ctrl.State()
	assert.Equal(t, model.StepStatus, st.Step)
	assert.Equal(t, model.StatusExpired, st.SigningRequest.Status)
	assert.False(t, st.Polling)
	f.status.mu.Lock()
	assert.Zero(t, f.status.reads)
	f.status.mu.Unlock()
}

func TestController_HardTimeoutIsSilent(t *testing.T) {
	f := newFixtureWithTimeout(t, false, 40*time.Millisecond)
	f.toSigning(t)

	_, err := f.ctrl.Submit(context.Background(), formstate.StaticSource(validSnapshot()))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return f.sink.has("signing.timeout")
	}, 2*time.Second, 5*time.Millisecond)

	st := f.ctrl.State()
	assert.Equal(t, model.StepStatus, st.Step)
	assert.Empty(t, st.Error)
	assert.False(t, st.Polling)
	assert.Equal(t, model.StatusInProgress, st.SigningRequest.Status, "the request itself has not expired")
	assert.Zero(t, f.notifier.calls.Load())
}

func TestController_ExpiryMarksRequestExpired(t *testing.T) {
	f := newFixture(t, false)
	f.signing.expiresIn = 40 * time.Millisecond
	f.toSigning(t)

	_, err := f.ctrl.Submit(context.Background(), formstate.StaticSource(validSnapshot()))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return f.sink.has("signing.timeout")
	}, 2*time.Second, 5*time.Millisecond)

	st := f.ctrl.State()
	assert.Equal(t, model.StepStatus, st.Step)
	assert.Empty(t, st.Error)
	assert.Equal(t, model.StatusExpired, st.SigningRequest.Status)
	assert.Empty(t, st.SigningRequest.BankIDSessionID)
}

func TestController_TrimsSignerIdentity(t *testing.T) {
	f := newFixture(t, false)
	f.toSigning(t)

	snap := validSnapshot()
	snap.Values[model.FieldSignerEmail] = "  jo@example.com "
	snap.Values[model.FieldFirstName] = " Jo"
	snap.Values[model.FieldLastName] = "Doe  "
	_, err := f.ctrl.Submit(context.Background(), formstate.StaticSource(snap))
	require.NoError(t, err)

	require.Len(t, f.signing.inputs, 1)
	assert.Equal(t, "jo@example.com", f.signing.inputs[0].SignerEmail)
	assert.Equal(t, "Jo Doe", f.signing.inputs[0].SignerName)
}

func TestController_PopupDeclined(t *testing.T) {
	f := newFixture(t, false)
	f.opener.blocked = true
	f.toSigning(t)

	res, err := f.ctrl.Submit(context.Background(), formstate.StaticSource(validSnapshot()))
	require.NoError(t, err)
	assert.Equal(t, bankid.Declined, res.Outcome)

	st := f.ctrl.State()
	assert.Equal(t, model.StepSigning, st.Step, "a blocked popup never advances")
	assert.Equal(t, bankid.MsgAllowPopups, st.Error)
	assert.False(t, st.Polling)

	f.opener.blocked = false
	res, err = f.ctrl.RetryLaunch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, bankid.Opened, res.Outcome)
	assert.Equal(t, model.StepStatus, f.ctrl.State().Step)
	assert.Empty(t, f.ctrl.State().Error)
	assert.Len(t, f.signing.inputs, 1, "retrying the launch reuses the request")
}

func TestController_PopupRedirected(t *testing.T) {
	f := newFixture(t, true)
	f.opener.blocked = true
	f.toSigning(t)

	res, err := f.ctrl.Submit(context.Background(), formstate.StaticSource(validSnapshot()))
	require.NoError(t, err)
	assert.Equal(t, bankid.Redirected, res.Outcome)
	assert.Equal(t, model.StepSigning, f.ctrl.State().Step)
	assert.Empty(t, f.ctrl.State().Error)
}

func TestController_CreateFailure(t *testing.T) {
	f := newFixture(t, false)
	f.signing.createErr = &signing.APIError{
		StatusCode:  422,
		Code:        "validation_failed",
		Message:     "Ugyldig e-post",
		FieldErrors: map[string]string{model.FieldSignerEmail: "Ugyldig e-postadresse"},
	}
	f.toSigning(t)

	_, err := f.ctrl.Submit(context.Background(), formstate.StaticSource(validSnapshot()))
	require.Error(t, err)

	st := f.ctrl.State()
	assert.Equal(t, model.StepSigning, st.Step)
	assert.Equal(t, "Ugyldig e-post", st.Error)
	assert.Equal(t, "Ugyldig e-postadresse", st.FieldErrors[model.FieldSignerEmail])

	require.NoError(t, f.ctrl.Retry())
	st = f.ctrl.State()
	assert.Equal(t, model.StepUpload, st.Step)
	assert.Empty(t, st.Error)
	assert.Nil(t, st.Document)
}

func TestController_FailedStatusSetsError(t *testing.T) {
	f := newFixture(t, false)
	f.toSigning(t)

	_, err := f.ctrl.Submit(context.Background(), formstate.StaticSource(validSnapshot()))
	require.NoError(t, err)
	f.status.set(model.StatusFailed)

	assert.Eventually(t, func() bool {
		return f.ctrl.State().Error == MsgSigningFailed
	}, 2*time.Second, 5*time.Millisecond)
	st := f.ctrl.State()
	assert.Equal(t, model.StepStatus, st.Step, "errors never auto-advance")
	assert.Equal(t, model.StatusFailed, st.SigningRequest.Status)
	assert.Zero(t, f.notifier.calls.Load())
}

func TestController_BackToSigningIgnoresLateResult(t *testing.T) {
	f := newFixture(t, false)
	f.toSigning(t)

	_, err := f.ctrl.Submit(context.Background(), formstate.StaticSource(validSnapshot()))
	require.NoError(t, err)
	require.NoError(t, f.ctrl.BackToSigning())

	st := f.ctrl.State()
	assert.Equal(t, model.StepSigning, st.Step)
	assert.Nil(t, st.SigningRequest)
	assert.False(t, st.Polling)

	f.status.set(model.StatusCompleted)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, model.StepSigning, f.ctrl.State().Step)
	assert.Zero(t, f.notifier.calls.Load())

	_, err = f.ctrl.RetryLaunch(context.Background())
	assert.ErrorIs(t, err, ErrMissingSigningRequest)
}

func TestController_FormReadFailure(t *testing.T) {
	f := newFixture(t, false)
	f.toSigning(t)

	source := formstate.SourceFunc(func(ctx context.Context) (formstate.Snapshot, error) {
		return formstate.Snapshot{}, errors.New("page gone")
	})
	_, err := f.ctrl.Submit(context.Background(), source)
	require.Error(t, err)
	assert.Equal(t, MsgFormUnreadable, f.ctrl.State().Error)
}
