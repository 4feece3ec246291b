// Package credential implements the login, signup and PIN state machine that
// sits in front of the account store.
package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/msplit/msplit/internal/identity"
	"github.com/msplit/msplit/internal/localstore"
	"github.com/msplit/msplit/internal/notification"
	"github.com/msplit/msplit/internal/phase"
)

// DefaultTimeout bounds every remote call made by the controller.
const DefaultTimeout = 15 * time.Second

// View is the form currently shown.
type View string

const (
	ViewInitial    View = "initial"
	ViewLogin      View = "login"
	ViewSignup     View = "signup"
	ViewSetupPIN   View = "setupPin"
	ViewQuickLogin View = "quickLogin"
)

var transitions = map[View][]View{
	ViewInitial:  {ViewLogin, ViewSignup},
	ViewLogin:    {ViewSignup, ViewInitial},
	ViewSignup:   {ViewInitial, ViewLogin},
	ViewSetupPIN: {ViewSignup},
}

// Field names an editable form input.
type Field string

const (
	FieldName          Field = "name"
	FieldEmail         Field = "email"
	FieldMobileNumber  Field = "mobileNumber"
	FieldPhoneNumber   Field = "phoneNumber"
	FieldPIN           Field = "pin"
	FieldNewPIN        Field = "newPin"
	FieldConfirmNewPIN Field = "confirmNewPin"
)

// Form holds the inputs of every view. MobileNumber is the signup phone,
// PhoneNumber the login phone.
type Form struct {
	Name          string `json:"name"`
	Email         string `json:"email"`
	MobileNumber  string `json:"mobile_number"`
	PhoneNumber   string `json:"phone_number"`
	PIN           string `json:"-"`
	NewPIN        string `json:"-"`
	ConfirmNewPIN string `json:"-"`
}

// State is a snapshot of the controller. PIN fields are always empty.
type State struct {
	View              View   `json:"view"`
	Form              Form   `json:"form"`
	Message           string `json:"message"`
	Busy              bool   `json:"busy"`
	RememberedContact string `json:"remembered_contact,omitempty"`
}

// Accounts is the part of the account store the flow talks to.
type Accounts interface {
	CurrentSession(ctx context.Context) (*identity.Session, error)
	FindIdentityByContact(ctx context.Context, contact string) (identity.Identity, error)
	FetchIdentity(ctx context.Context, id string) (identity.Identity, error)
	CreateIdentity(ctx context.Context, draft identity.Draft) (identity.Identity, error)
	VerifyCredentials(ctx context.Context, contact, pin string) (bool, error)
	SignOut(ctx context.Context) error
}

// Phases lets the controller ask for a re-resolution after it changed the
// session or the lock flag.
type Phases interface {
	Refresh(ctx context.Context) phase.Phase
	ClearLock(ctx context.Context) error
}

// Options tunes a Controller. Zero values pick defaults.
type Options struct {
	Timeout  time.Duration
	Notifier notification.Notifier
	Logger   *slog.Logger
}

// Controller drives one device's credential forms. At most one remote call
// is in flight at a time; results of a submission are dropped if the view
// changed before it completed.
type Controller struct {
	accounts Accounts
	local    localstore.Store
	phases   Phases
	notifier notification.Notifier
	logger   *slog.Logger
	timeout  time.Duration

	mu         sync.Mutex
	view       View
	form       Form
	message    string
	busy       bool
	remembered string
	token      uint64
}

// New builds a controller in the initial view. Call Start to pick the
// starting view from the local store.
func New(accounts Accounts, local localstore.Store, phases Phases, opts Options) *Controller {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notification.NewLoggerNotifier(logger)
	}
	return &Controller{
		accounts: accounts,
		local:    local,
		phases:   phases,
		notifier: notifier,
		logger:   logger,
		timeout:  timeout,
		view:     ViewInitial,
	}
}

// State returns the current snapshot.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot()
}

func (c *Controller) snapshot() State {
	form := c.form
	form.PIN, form.NewPIN, form.ConfirmNewPIN = "", "", ""
	return State{
		View:              c.view,
		Form:              form,
		Message:           c.message,
		Busy:              c.busy,
		RememberedContact: c.remembered,
	}
}

// Start resets the form and enters quickLogin when a contact is remembered,
// initial otherwise.
func (c *Controller) Start(ctx context.Context) State {
	remembered, err := localstore.RememberedContact(ctx, c.local)
	if err != nil {
		c.logger.Warn("read remembered contact failed", "error", err)
		remembered = ""
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.token++
	c.form = Form{}
	c.message = ""
	c.remembered = remembered
	c.view = ViewInitial
	if remembered != "" {
		c.view = ViewQuickLogin
	}
	return c.snapshot()
}

// Edit sets one form field and clears the message.
func (c *Controller) Edit(field Field, value string) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch field {
	case FieldName:
		c.form.Name = value
	case FieldEmail:
		c.form.Email = value
	case FieldMobileNumber:
		c.form.MobileNumber = value
	case FieldPhoneNumber:
		c.form.PhoneNumber = value
	case FieldPIN:
		c.form.PIN = value
	case FieldNewPIN:
		c.form.NewPIN = value
	case FieldConfirmNewPIN:
		c.form.ConfirmNewPIN = value
	default:
		return c.snapshot(), fail(KindValidation, fmt.Sprintf("unknown field %q", field))
	}
	c.message = ""
	return c.snapshot(), nil
}

// Navigate moves to another view by explicit user choice. A pending
// submission keeps running but its result is discarded.
func (c *Controller) Navigate(to View) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if to == c.view {
		return c.snapshot(), nil
	}
	allowed := false
	for _, v := range transitions[c.view] {
		if v == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return c.snapshot(), &Failure{
			Kind:    KindInvalidTransition,
			Message: fmt.Sprintf("cannot go from %s to %s", c.view, to),
		}
	}
	c.token++
	c.view = to
	c.message = ""
	return c.snapshot(), nil
}

// SubmitSignupDetails checks name, email and phone in that order, then asks
// the account store whether the phone is already registered. On success the
// flow moves to setupPin.
func (c *Controller) SubmitSignupDetails(ctx context.Context) (State, error) {
	form, token, err := c.begin(ViewSignup)
	if err != nil {
		return c.State(), err
	}
	if f := checkSignupDetails(form); f != nil {
		return c.reject(token, "signup_details", f)
	}

	phone := strings.TrimSpace(form.MobileNumber)
	_, err = await(ctx, c.timeout, func(ctx context.Context) (identity.Identity, error) {
		return c.accounts.FindIdentityByContact(ctx, phone)
	})
	switch {
	case err == nil:
		return c.reject(token, "signup_details", fail(KindDuplicatePhone, msgPhoneTaken))
	case !errors.Is(err, identity.ErrNotFound):
		return c.reject(token, "signup_details", classify(err, msgSignupCheckFailed))
	}

	return c.complete(token, func() {
		c.view = ViewSetupPIN
		c.message = ""
	})
}

// CreateAccount applies the PIN gate and registers the identity. The
// account store rejects a phone registered since SubmitSignupDetails.
func (c *Controller) CreateAccount(ctx context.Context) (State, error) {
	form, token, err := c.begin(ViewSetupPIN)
	if err != nil {
		return c.State(), err
	}
	if f := checkNewPIN(form.NewPIN, form.ConfirmNewPIN); f != nil {
		return c.reject(token, "create_account", f)
	}
	if f := checkSignupDetails(form); f != nil {
		return c.reject(token, "create_account", f)
	}

	draft := identity.Draft{
		FullName: strings.TrimSpace(form.Name),
		Email:    strings.TrimSpace(form.Email),
		Phone:    strings.TrimSpace(form.MobileNumber),
		PIN:      form.NewPIN,
	}
	created, err := await(ctx, c.timeout, func(ctx context.Context) (identity.Identity, error) {
		return c.accounts.CreateIdentity(ctx, draft)
	})
	if err != nil {
		return c.reject(token, "create_account", classify(err, msgCreateFailed))
	}

	c.logger.Info("account created", "identity_id", created.ID)
	return c.succeed(ctx, token, draft.Phone, created, msgAccountCreated)
}

// Login verifies phone and PIN from the login view and remembers the phone
// for quick login.
func (c *Controller) Login(ctx context.Context) (State, error) {
	form, token, err := c.begin(ViewLogin)
	if err != nil {
		return c.State(), err
	}
	phone := strings.TrimSpace(form.PhoneNumber)
	if phone == "" {
		return c.reject(token, "login", fail(KindValidation, msgPhoneRequired))
	}
	if f := checkPIN(form.PIN); f != nil {
		return c.reject(token, "login", f)
	}

	return c.verify(ctx, token, "login", phone, form.PIN, msgLoginOK)
}

// QuickLogin verifies the PIN against the remembered contact. A missing
// contact means the local cache no longer matches and the flow is reset as
// if the user switched account.
func (c *Controller) QuickLogin(ctx context.Context) (State, error) {
	form, token, err := c.begin(ViewQuickLogin)
	if err != nil {
		return c.State(), err
	}
	if f := checkPIN(form.PIN); f != nil {
		return c.reject(token, "quick_login", f)
	}

	contact, err := localstore.RememberedContact(ctx, c.local)
	if err != nil {
		return c.reject(token, "quick_login", classify(err, msgLoginFailed))
	}
	if contact == "" {
		c.logger.Info("quick login without remembered contact, resetting flow")
		c.clearLocal(ctx)
		f := fail(KindSessionExpired, msgSessionExpired)
		return c.finishWith(token, f, func() {
			c.resetTo(ViewInitial)
			c.remembered = ""
			c.message = f.Message
		})
	}

	return c.verify(ctx, token, "quick_login", contact, form.PIN, msgWelcomeBack)
}

func (c *Controller) verify(ctx context.Context, token uint64, op, contact, pin, okMsg string) (State, error) {
	found, err := await(ctx, c.timeout, func(ctx context.Context) (identity.Identity, error) {
		return c.accounts.FindIdentityByContact(ctx, contact)
	})
	if err != nil {
		return c.reject(token, op, classify(err, msgLoginFailed))
	}

	ok, err := await(ctx, c.timeout, func(ctx context.Context) (bool, error) {
		return c.accounts.VerifyCredentials(ctx, contact, pin)
	})
	if err != nil {
		return c.reject(token, op, classify(err, msgLoginFailed))
	}
	if !ok {
		return c.reject(token, op, fail(KindInvalidPIN, msgInvalidPIN))
	}

	c.logger.Info("login succeeded", "op", op, "identity_id", found.ID)
	return c.succeed(ctx, token, contact, found, okMsg)
}

// Unlock checks pin against the signed-in identity and clears the app lock.
// It does not depend on the current view.
func (c *Controller) Unlock(ctx context.Context, pin string) (State, error) {
	_, token, err := c.begin("")
	if err != nil {
		return c.State(), err
	}
	if f := checkPIN(pin); f != nil {
		return c.reject(token, "unlock", f)
	}

	sess, err := await(ctx, c.timeout, c.accounts.CurrentSession)
	if err != nil {
		return c.reject(token, "unlock", classify(err, msgLoginFailed))
	}
	if sess == nil {
		return c.reject(token, "unlock", fail(KindSessionExpired, msgSessionExpired))
	}
	owner, err := await(ctx, c.timeout, func(ctx context.Context) (identity.Identity, error) {
		return c.accounts.FetchIdentity(ctx, sess.IdentityID)
	})
	if err != nil {
		return c.reject(token, "unlock", classify(err, msgLoginFailed))
	}
	ok, err := await(ctx, c.timeout, func(ctx context.Context) (bool, error) {
		return c.accounts.VerifyCredentials(ctx, owner.ContactPhone, pin)
	})
	if err != nil {
		return c.reject(token, "unlock", classify(err, msgLoginFailed))
	}
	if !ok {
		return c.reject(token, "unlock", fail(KindInvalidPIN, msgInvalidPIN))
	}

	if err := c.phases.ClearLock(ctx); err != nil {
		return c.reject(token, "unlock", classify(err, msgLoginFailed))
	}
	return c.complete(token, func() {
		c.message = msgWelcomeBack
	})
}

// ForgotPIN always succeeds once a contact is known. The notifier receives
// the request; no recovery happens here.
func (c *Controller) ForgotPIN(ctx context.Context) (State, error) {
	form, token, err := c.begin("")
	if err != nil {
		return c.State(), err
	}

	contact := strings.TrimSpace(form.PhoneNumber)
	if contact == "" {
		if contact, err = localstore.RememberedContact(ctx, c.local); err != nil {
			c.logger.Warn("read remembered contact failed", "error", err)
		}
	}
	if contact == "" {
		return c.reject(token, "forgot_pin", fail(KindNotFound, msgNoAccount))
	}

	_, err = await(ctx, c.timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.notifier.Send(ctx, notification.Message{
			Kind:        notification.KindPINResetRequested,
			Destination: contact,
			Body:        msgResetStub,
		})
	})
	if err != nil {
		c.logger.Warn("pin reset notification failed", "error", err)
	}
	return c.complete(token, func() {
		c.message = msgResetStub
	})
}

// SwitchAccount forgets the remembered user, clears every local flag and
// returns to initial. Any pending submission is discarded; the token is
// bumped before the flags are cleared so a late login cannot rewrite them.
func (c *Controller) SwitchAccount(ctx context.Context) (State, error) {
	c.mu.Lock()
	c.token++
	c.resetTo(ViewInitial)
	c.remembered = ""
	c.mu.Unlock()

	err := c.clearLocal(ctx)
	return c.State(), err
}

func (c *Controller) clearLocal(ctx context.Context) error {
	if err := localstore.ClearFlags(ctx, c.local); err != nil {
		c.logger.Error("clear local flags failed", "error", err)
		return fmt.Errorf("clear local flags: %w", err)
	}
	return nil
}

// begin claims the busy flag for a submission from view. An empty view
// accepts any. It returns a copy of the form and the submission token.
func (c *Controller) begin(view View) (Form, uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.busy {
		return Form{}, 0, fail(KindBusy, msgBusy)
	}
	if view != "" && c.view != view {
		return Form{}, 0, &Failure{
			Kind:    KindInvalidTransition,
			Message: fmt.Sprintf("cannot submit %s from %s", view, c.view),
		}
	}
	c.busy = true
	c.message = ""
	c.token++
	return c.form, c.token, nil
}

// finishWith releases the busy flag and applies fn if the submission is
// still current. A superseded submission reports KindSuperseded instead of
// its own outcome.
func (c *Controller) finishWith(token uint64, outcome error, fn func()) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.busy = false
	if token != c.token {
		c.logger.Debug("discarding superseded submission", "token", token, "current", c.token)
		return c.snapshot(), &Failure{Kind: KindSuperseded, Message: "request superseded", Err: outcome}
	}
	fn()
	return c.snapshot(), outcome
}

func (c *Controller) complete(token uint64, fn func()) (State, error) {
	return c.finishWith(token, nil, fn)
}

func (c *Controller) reject(token uint64, op string, f *Failure) (State, error) {
	switch f.Kind {
	case KindFatal:
		c.logger.Error("credential flow failed", "op", op, "error", f.Err)
		return c.finishWith(token, f, func() {
			c.resetTo(ViewInitial)
			c.message = f.Message
		})
	case KindTimeout, KindUnreachable:
		c.logger.Warn("credential flow transport failure", "op", op, "kind", string(f.Kind), "error", f.Err)
	default:
		c.logger.Info("credential flow rejected", "op", op, "kind", string(f.Kind))
	}
	return c.finishWith(token, f, func() {
		c.message = f.Message
	})
}

// succeed records the login for the quick-login path, clears the form and
// refreshes the phase. The flags are written under the lock only while the
// submission is still current; a superseded login leaves them alone and
// signs out the session it just opened. The view is left alone; the shell
// moves on once the phase changes.
func (c *Controller) succeed(ctx context.Context, token uint64, contact string, who identity.Identity, msg string) (State, error) {
	c.mu.Lock()
	if token != c.token {
		c.busy = false
		current := c.token
		c.mu.Unlock()

		c.logger.Info("discarding superseded login", "token", token, "current", current)
		if _, err := await(ctx, c.timeout, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.accounts.SignOut(ctx)
		}); err != nil {
			c.logger.Warn("sign out of superseded session failed", "error", err)
		}
		return c.State(), &Failure{Kind: KindSuperseded, Message: "request superseded"}
	}

	if err := localstore.SaveLogin(ctx, c.local, contact, who.ID, who.Email); err != nil {
		c.logger.Warn("remember login failed", "error", err)
	}
	c.busy = false
	c.form = Form{}
	c.remembered = contact
	c.message = msg
	state := c.snapshot()
	c.mu.Unlock()

	c.phases.Refresh(ctx)
	return state, nil
}

func (c *Controller) resetTo(v View) {
	c.view = v
	c.form = Form{}
	c.message = ""
}

// await runs call with a deadline. It returns as soon as the deadline passes
// even if call has not.
func await[T any](ctx context.Context, timeout time.Duration, call func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := call(ctx)
		done <- result{val: v, err: err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
