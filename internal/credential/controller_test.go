package credential

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/msplit/msplit/internal/auth"
	"github.com/msplit/msplit/internal/identity"
	"github.com/msplit/msplit/internal/localstore"
	"github.com/msplit/msplit/internal/logging"
	"github.com/msplit/msplit/internal/notification"
	"github.com/msplit/msplit/internal/phase"
)

type stack struct {
	svc      *identity.Service
	local    *localstore.MemoryStore
	resolver *phase.Resolver
	ctrl     *Controller
	notes    *recordingNotifier
}

func newStack(t *testing.T) *stack {
	t.Helper()
	svc := identity.NewService(identity.NewMemoryRepository(), identity.NewMemorySessionStore(), identity.NewBroker(),
		auth.NewIssuer("test-secret", time.Hour), identity.Options{HashCost: bcrypt.MinCost, Logger: logging.Discard()})
	client := svc.Client("device-1")
	local := localstore.NewMemoryStore()
	resolver := phase.NewResolver(client, local, logging.Discard())
	resolver.Refresh(context.Background())
	notes := &recordingNotifier{}
	ctrl := New(client, local, resolver, Options{Notifier: notes, Logger: logging.Discard()})
	return &stack{svc: svc, local: local, resolver: resolver, ctrl: ctrl, notes: notes}
}

// register creates a returning user signed in on another device.
func (s *stack) register(t *testing.T, phone, email string) identity.Identity {
	t.Helper()
	user, _, err := s.svc.Register(context.Background(), "other-device", identity.Draft{
		FullName: "Existing User", Email: email, Phone: phone, PIN: "1234",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	returning := false
	if err := s.svc.Update(context.Background(), user.ID, identity.Patch{IsFirstTime: &returning}); err != nil {
		t.Fatalf("mark returning: %v", err)
	}
	user.IsFirstTime = false
	return user
}

func edit(t *testing.T, c *Controller, pairs ...string) {
	t.Helper()
	for i := 0; i+1 < len(pairs); i += 2 {
		if _, err := c.Edit(Field(pairs[i]), pairs[i+1]); err != nil {
			t.Fatalf("edit %s: %v", pairs[i], err)
		}
	}
}

func navigate(t *testing.T, c *Controller, views ...View) {
	t.Helper()
	for _, v := range views {
		if _, err := c.Navigate(v); err != nil {
			t.Fatalf("navigate to %s: %v", v, err)
		}
	}
}

func fillSignup(t *testing.T, c *Controller, phone, email string) {
	t.Helper()
	navigate(t, c, ViewSignup)
	edit(t, c,
		string(FieldName), "Jane Wanjiru",
		string(FieldEmail), email,
		string(FieldMobileNumber), phone,
	)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification.Message
}

func (n *recordingNotifier) Send(_ context.Context, msg notification.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

// stubAccounts answers from funcs; unset funcs fall back to "not found".
type stubAccounts struct {
	calls    atomic.Int32
	signOuts atomic.Int32
	find   func(ctx context.Context, contact string) (identity.Identity, error)
	verify func(ctx context.Context, contact, pin string) (bool, error)
	create func(ctx context.Context, draft identity.Draft) (identity.Identity, error)
}

func (s *stubAccounts) CurrentSession(context.Context) (*identity.Session, error) {
	s.calls.Add(1)
	return nil, nil
}

func (s *stubAccounts) FindIdentityByContact(ctx context.Context, contact string) (identity.Identity, error) {
	s.calls.Add(1)
	if s.find != nil {
		return s.find(ctx, contact)
	}
	return identity.Identity{}, identity.ErrNotFound
}

func (s *stubAccounts) FetchIdentity(context.Context, string) (identity.Identity, error) {
	s.calls.Add(1)
	return identity.Identity{}, identity.ErrNotFound
}

func (s *stubAccounts) CreateIdentity(ctx context.Context, draft identity.Draft) (identity.Identity, error) {
	s.calls.Add(1)
	if s.create != nil {
		return s.create(ctx, draft)
	}
	return identity.Identity{ID: "new"}, nil
}

func (s *stubAccounts) VerifyCredentials(ctx context.Context, contact, pin string) (bool, error) {
	s.calls.Add(1)
	if s.verify != nil {
		return s.verify(ctx, contact, pin)
	}
	return false, nil
}

func (s *stubAccounts) SignOut(context.Context) error {
	s.signOuts.Add(1)
	return nil
}

type stubPhases struct {
	refreshes atomic.Int32
}

func (p *stubPhases) Refresh(context.Context) phase.Phase {
	p.refreshes.Add(1)
	return phase.Authenticated
}

func (p *stubPhases) ClearLock(context.Context) error { return nil }

func newStubController(accounts Accounts, timeout time.Duration) (*Controller, *localstore.MemoryStore) {
	local := localstore.NewMemoryStore()
	return New(accounts, local, &stubPhases{}, Options{Timeout: timeout, Logger: logging.Discard()}), local
}

func TestStartPicksInitialOrQuickLogin(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	if st := s.ctrl.Start(ctx); st.View != ViewInitial {
		t.Fatalf("fresh install should start at initial, got %s", st.View)
	}

	if err := s.local.Set(ctx, localstore.KeyRememberedUser, "0712345678"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	st := s.ctrl.Start(ctx)
	if st.View != ViewQuickLogin || st.RememberedContact != "0712345678" {
		t.Fatalf("returning user should start at quickLogin, got %+v", st)
	}
}

func TestSignupReachesOnboarding(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	s.ctrl.Start(ctx)

	fillSignup(t, s.ctrl, "0712345678", "jane@example.com")
	st, err := s.ctrl.SubmitSignupDetails(ctx)
	if err != nil {
		t.Fatalf("submit details: %v", err)
	}
	if st.View != ViewSetupPIN || st.Busy {
		t.Fatalf("expected setupPin and not busy, got %+v", st)
	}

	edit(t, s.ctrl, string(FieldNewPIN), "1234", string(FieldConfirmNewPIN), "1234")
	st, err = s.ctrl.CreateAccount(ctx)
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if st.Message != msgAccountCreated {
		t.Fatalf("unexpected message %q", st.Message)
	}
	if s.resolver.Current() != phase.Onboarding {
		t.Fatalf("expected Onboarding after signup, got %s", s.resolver.Current())
	}
	if contact, _ := localstore.RememberedContact(ctx, s.local); contact != "0712345678" {
		t.Fatalf("expected remembered contact, got %q", contact)
	}
}

func TestSubmitSignupDetailsRejectsRegisteredPhone(t *testing.T) {
	s := newStack(t)
	s.register(t, "0712345678", "taken@example.com")
	ctx := context.Background()

	fillSignup(t, s.ctrl, "0712345678", "jane@example.com")
	st, err := s.ctrl.SubmitSignupDetails(ctx)
	if KindOf(err) != KindDuplicatePhone {
		t.Fatalf("expected duplicate_phone, got %v", err)
	}
	if st.View != ViewSignup || st.Message != msgPhoneTaken {
		t.Fatalf("expected to stay on signup with message, got %+v", st)
	}
}

func TestCreateAccountRaceReportsDuplicatePhone(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	fillSignup(t, s.ctrl, "0712345678", "jane@example.com")
	if _, err := s.ctrl.SubmitSignupDetails(ctx); err != nil {
		t.Fatalf("submit details: %v", err)
	}
	s.register(t, "0712345678", "someone@example.com")

	edit(t, s.ctrl, string(FieldNewPIN), "1234", string(FieldConfirmNewPIN), "1234")
	st, err := s.ctrl.CreateAccount(ctx)
	if KindOf(err) != KindDuplicatePhone {
		t.Fatalf("expected duplicate_phone at creation, got %v", err)
	}
	if st.Message != msgPhoneTaken {
		t.Fatalf("unexpected message %q", st.Message)
	}
}

func TestCreateAccountDuplicateEmailSuggestsLogin(t *testing.T) {
	s := newStack(t)
	s.register(t, "0798765432", "jane@example.com")
	ctx := context.Background()

	fillSignup(t, s.ctrl, "0712345678", "jane@example.com")
	if _, err := s.ctrl.SubmitSignupDetails(ctx); err != nil {
		t.Fatalf("submit details: %v", err)
	}
	edit(t, s.ctrl, string(FieldNewPIN), "1234", string(FieldConfirmNewPIN), "1234")
	st, err := s.ctrl.CreateAccount(ctx)
	if KindOf(err) != KindDuplicateEmail {
		t.Fatalf("expected duplicate_email, got %v", err)
	}
	if !strings.Contains(st.Message, "logging in") {
		t.Fatalf("message should suggest logging in: %q", st.Message)
	}
}

func TestCreateAccountRateLimited(t *testing.T) {
	accounts := &stubAccounts{create: func(context.Context, identity.Draft) (identity.Identity, error) {
		return identity.Identity{}, identity.ErrRateLimited
	}}
	c, _ := newStubController(accounts, time.Second)
	ctx := context.Background()

	fillSignup(t, c, "0712345678", "jane@example.com")
	if _, err := c.SubmitSignupDetails(ctx); err != nil {
		t.Fatalf("submit details: %v", err)
	}
	edit(t, c, string(FieldNewPIN), "1234", string(FieldConfirmNewPIN), "1234")
	st, err := c.CreateAccount(ctx)
	if KindOf(err) != KindRateLimited {
		t.Fatalf("expected rate_limited, got %v", err)
	}
	if !strings.Contains(st.Message, "wait") {
		t.Fatalf("message should ask to wait: %q", st.Message)
	}
}

func TestPINGateRunsBeforeRemoteCalls(t *testing.T) {
	for _, pin := range []string{"12a4", "123", "12345"} {
		accounts := &stubAccounts{}
		c, _ := newStubController(accounts, time.Second)
		navigate(t, c, ViewLogin)
		edit(t, c, string(FieldPhoneNumber), "0712345678", string(FieldPIN), pin)

		st, err := c.Login(context.Background())
		if KindOf(err) != KindValidation {
			t.Fatalf("pin %q: expected validation, got %v", pin, err)
		}
		if n := accounts.calls.Load(); n != 0 {
			t.Fatalf("pin %q: expected no remote calls, got %d", pin, n)
		}
		if strings.Contains(st.Message, pin) {
			t.Fatalf("message echoes pin: %q", st.Message)
		}
	}
}

func TestLoginOutcomes(t *testing.T) {
	s := newStack(t)
	s.register(t, "0712345678", "jane@example.com")
	ctx := context.Background()
	navigate(t, s.ctrl, ViewLogin)

	edit(t, s.ctrl, string(FieldPhoneNumber), "0799999999", string(FieldPIN), "1234")
	st, err := s.ctrl.Login(ctx)
	if KindOf(err) != KindNotFound || st.Message != msgPhoneNotFound {
		t.Fatalf("expected not_found, got %v / %q", err, st.Message)
	}

	edit(t, s.ctrl, string(FieldPhoneNumber), "0712345678", string(FieldPIN), "9876")
	st, err = s.ctrl.Login(ctx)
	if KindOf(err) != KindInvalidPIN || st.Message != msgInvalidPIN {
		t.Fatalf("expected invalid_pin, got %v / %q", err, st.Message)
	}
	if st.Form.PIN != "" {
		t.Fatalf("snapshot must not carry the pin")
	}

	edit(t, s.ctrl, string(FieldPIN), "1234")
	st, err = s.ctrl.Login(ctx)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if st.Message != msgLoginOK || st.Form.PhoneNumber != "" {
		t.Fatalf("expected success with cleared form, got %+v", st)
	}
	if s.resolver.Current() != phase.Authenticated {
		t.Fatalf("expected Authenticated, got %s", s.resolver.Current())
	}
	if contact, _ := localstore.RememberedContact(ctx, s.local); contact != "0712345678" {
		t.Fatalf("expected remembered contact, got %q", contact)
	}
}

func TestQuickLoginAfterRestart(t *testing.T) {
	s := newStack(t)
	s.register(t, "0712345678", "jane@example.com")
	ctx := context.Background()
	if err := localstore.SaveLogin(ctx, s.local, "0712345678", "", ""); err != nil {
		t.Fatalf("seed: %v", err)
	}

	st := s.ctrl.Start(ctx)
	if st.View != ViewQuickLogin {
		t.Fatalf("expected quickLogin, got %s", st.View)
	}
	edit(t, s.ctrl, string(FieldPIN), "1234")
	st, err := s.ctrl.QuickLogin(ctx)
	if err != nil {
		t.Fatalf("quick login: %v", err)
	}
	if st.Message != msgWelcomeBack {
		t.Fatalf("unexpected message %q", st.Message)
	}
	if s.resolver.Current() != phase.Authenticated {
		t.Fatalf("expected Authenticated, got %s", s.resolver.Current())
	}
}

func TestQuickLoginWithoutContactResetsFlow(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	if err := localstore.SaveLogin(ctx, s.local, "0712345678", "user-1", "jane@example.com"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	s.ctrl.Start(ctx)
	if err := s.local.Remove(ctx, localstore.KeyRememberedUser); err != nil {
		t.Fatalf("remove: %v", err)
	}

	edit(t, s.ctrl, string(FieldPIN), "1234")
	st, err := s.ctrl.QuickLogin(ctx)
	if KindOf(err) != KindSessionExpired {
		t.Fatalf("expected session_expired, got %v", err)
	}
	if st.View != ViewInitial || st.Message != msgSessionExpired || st.RememberedContact != "" {
		t.Fatalf("expected reset to initial, got %+v", st)
	}
	flags, _ := localstore.LoadFlags(ctx, s.local)
	if flags != (localstore.Flags{}) {
		t.Fatalf("expected local flags cleared, got %+v", flags)
	}
}

func TestTimeoutReleasesBusy(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	accounts := &stubAccounts{find: func(context.Context, string) (identity.Identity, error) {
		<-release
		return identity.Identity{}, identity.ErrNotFound
	}}
	c, _ := newStubController(accounts, 20*time.Millisecond)

	fillSignup(t, c, "0712345678", "jane@example.com")
	st, err := c.SubmitSignupDetails(context.Background())
	if KindOf(err) != KindTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}
	if st.Busy || st.View != ViewSignup || st.Message != msgTimeout {
		t.Fatalf("unexpected state after timeout: %+v", st)
	}
}

func TestBusyRejectsSecondSubmit(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	accounts := &stubAccounts{find: func(context.Context, string) (identity.Identity, error) {
		close(entered)
		<-release
		return identity.Identity{}, identity.ErrNotFound
	}}
	c, _ := newStubController(accounts, time.Second)
	fillSignup(t, c, "0712345678", "jane@example.com")

	done := make(chan error, 1)
	go func() {
		_, err := c.SubmitSignupDetails(context.Background())
		done <- err
	}()
	<-entered

	if !c.State().Busy {
		t.Fatalf("expected busy while the call is pending")
	}
	if _, err := c.SubmitSignupDetails(context.Background()); KindOf(err) != KindBusy {
		t.Fatalf("expected busy rejection, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if st := c.State(); st.Busy || st.View != ViewSetupPIN {
		t.Fatalf("unexpected final state %+v", st)
	}
}

func TestNavigateDiscardsPendingResult(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	accounts := &stubAccounts{find: func(context.Context, string) (identity.Identity, error) {
		close(entered)
		<-release
		return identity.Identity{}, identity.ErrNotFound
	}}
	c, _ := newStubController(accounts, time.Second)
	navigate(t, c, ViewLogin)
	edit(t, c, string(FieldPhoneNumber), "0712345678", string(FieldPIN), "1234")

	done := make(chan error, 1)
	go func() {
		_, err := c.Login(context.Background())
		done <- err
	}()
	<-entered
	navigate(t, c, ViewInitial)
	close(release)

	if err := <-done; KindOf(err) != KindSuperseded {
		t.Fatalf("expected superseded, got %v", err)
	}
	st := c.State()
	if st.View != ViewInitial || st.Message != "" || st.Busy {
		t.Fatalf("stale result leaked into state: %+v", st)
	}
}

func TestSwitchAccountDuringLoginKeepsFlagsCleared(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	accounts := &stubAccounts{
		find: func(context.Context, string) (identity.Identity, error) {
			return identity.Identity{ID: "user-1", ContactPhone: "0712345678", Email: "jane@example.com"}, nil
		},
		verify: func(context.Context, string, string) (bool, error) {
			close(entered)
			<-release
			return true, nil
		},
	}
	c, local := newStubController(accounts, time.Second)
	ctx := context.Background()
	navigate(t, c, ViewLogin)
	edit(t, c, string(FieldPhoneNumber), "0712345678", string(FieldPIN), "1234")

	done := make(chan error, 1)
	go func() {
		_, err := c.Login(ctx)
		done <- err
	}()
	<-entered
	if _, err := c.SwitchAccount(ctx); err != nil {
		t.Fatalf("switch account: %v", err)
	}
	close(release)

	if err := <-done; KindOf(err) != KindSuperseded {
		t.Fatalf("expected superseded, got %v", err)
	}
	flags, err := localstore.LoadFlags(ctx, local)
	if err != nil {
		t.Fatalf("load flags: %v", err)
	}
	if flags != (localstore.Flags{}) {
		t.Fatalf("superseded login rewrote cleared flags: %+v", flags)
	}
	if accounts.signOuts.Load() != 1 {
		t.Fatalf("expected the abandoned session to be signed out, got %d sign-outs", accounts.signOuts.Load())
	}
	if st := c.Start(ctx); st.View != ViewInitial {
		t.Fatalf("restart after switch should be initial, got %+v", st)
	}
}

func TestNavigateRules(t *testing.T) {
	c, _ := newStubController(&stubAccounts{}, time.Second)

	if _, err := c.Navigate(ViewSetupPIN); KindOf(err) != KindInvalidTransition {
		t.Fatalf("initial -> setupPin must be rejected, got %v", err)
	}
	navigate(t, c, ViewLogin, ViewSignup, ViewInitial, ViewSignup, ViewLogin, ViewInitial)
	if _, err := c.Navigate(ViewQuickLogin); KindOf(err) != KindInvalidTransition {
		t.Fatalf("quickLogin is only entered at start, got %v", err)
	}
}

func TestEditClearsMessage(t *testing.T) {
	c, _ := newStubController(&stubAccounts{}, time.Second)
	navigate(t, c, ViewSignup)

	st, _ := c.SubmitSignupDetails(context.Background())
	if st.Message != msgNameRequired {
		t.Fatalf("expected name message, got %q", st.Message)
	}
	st, err := c.Edit(FieldName, "Jane")
	if err != nil || st.Message != "" {
		t.Fatalf("expected message cleared, got %q err=%v", st.Message, err)
	}
	if _, err := c.Edit("nickname", "x"); KindOf(err) != KindValidation {
		t.Fatalf("expected unknown field rejected, got %v", err)
	}
}

func TestFatalErrorReturnsToInitial(t *testing.T) {
	accounts := &stubAccounts{find: func(context.Context, string) (identity.Identity, error) {
		return identity.Identity{}, errors.New("unexpected response")
	}}
	c, _ := newStubController(accounts, time.Second)
	fillSignup(t, c, "0712345678", "jane@example.com")

	st, err := c.SubmitSignupDetails(context.Background())
	if KindOf(err) != KindFatal {
		t.Fatalf("expected fatal, got %v", err)
	}
	if st.View != ViewInitial || st.Message != msgSignupCheckFailed {
		t.Fatalf("expected reset to initial with message, got %+v", st)
	}
}

func TestUnlockClearsLock(t *testing.T) {
	s := newStack(t)
	user := s.register(t, "0712345678", "jane@example.com")
	ctx := context.Background()
	if _, err := s.svc.Client("device-1").VerifyCredentials(ctx, user.ContactPhone, "1234"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if err := s.resolver.Lock(ctx); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if s.resolver.Current() != phase.AwaitingPinUnlock {
		t.Fatalf("expected AwaitingPinUnlock, got %s", s.resolver.Current())
	}

	if _, err := s.ctrl.Unlock(ctx, "12"); KindOf(err) != KindValidation {
		t.Fatalf("expected validation, got %v", err)
	}
	if _, err := s.ctrl.Unlock(ctx, "4321"); KindOf(err) != KindInvalidPIN {
		t.Fatalf("expected invalid_pin, got %v", err)
	}
	if s.resolver.Current() != phase.AwaitingPinUnlock {
		t.Fatalf("wrong pin must keep the lock")
	}
	if _, err := s.ctrl.Unlock(ctx, "1234"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if s.resolver.Current() != phase.Authenticated {
		t.Fatalf("expected Authenticated, got %s", s.resolver.Current())
	}
}

func TestForgotPINIsAStub(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	if _, err := s.ctrl.ForgotPIN(ctx); KindOf(err) != KindNotFound {
		t.Fatalf("expected not_found without a contact, got %v", err)
	}

	if err := s.local.Set(ctx, localstore.KeyRememberedUser, "0712345678"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	st, err := s.ctrl.ForgotPIN(ctx)
	if err != nil {
		t.Fatalf("forgot pin: %v", err)
	}
	if st.Message != msgResetStub {
		t.Fatalf("unexpected message %q", st.Message)
	}
	if len(s.notes.sent) != 1 || s.notes.sent[0].Kind != notification.KindPINResetRequested {
		t.Fatalf("expected one reset notification, got %+v", s.notes.sent)
	}
}

func TestSwitchAccountClearsFlags(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	if err := localstore.SaveLogin(ctx, s.local, "0712345678", "user-1", "jane@example.com"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := localstore.SetOnboardingCompleted(ctx, s.local); err != nil {
		t.Fatalf("seed: %v", err)
	}
	s.ctrl.Start(ctx)

	st, err := s.ctrl.SwitchAccount(ctx)
	if err != nil {
		t.Fatalf("switch account: %v", err)
	}
	if st.View != ViewInitial || st.RememberedContact != "" {
		t.Fatalf("expected initial without remembered contact, got %+v", st)
	}
	flags, _ := localstore.LoadFlags(ctx, s.local)
	if flags != (localstore.Flags{}) {
		t.Fatalf("expected every flag cleared, got %+v", flags)
	}
	if st := s.ctrl.Start(ctx); st.View != ViewInitial {
		t.Fatalf("restart after switch should be initial, got %s", st.View)
	}
}
