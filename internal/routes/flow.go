package routes

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/msplit/msplit/internal/credential"
	"github.com/msplit/msplit/internal/shell"
)

var kindStatus = map[credential.Kind]int{
	credential.KindValidation:        http.StatusUnprocessableEntity,
	credential.KindNotFound:          http.StatusNotFound,
	credential.KindInvalidPIN:        http.StatusUnauthorized,
	credential.KindDuplicatePhone:    http.StatusConflict,
	credential.KindDuplicateEmail:    http.StatusConflict,
	credential.KindRateLimited:       http.StatusTooManyRequests,
	credential.KindSessionExpired:    http.StatusUnauthorized,
	credential.KindUnreachable:       http.StatusServiceUnavailable,
	credential.KindTimeout:           http.StatusGatewayTimeout,
	credential.KindFatal:             http.StatusInternalServerError,
	credential.KindBusy:              http.StatusConflict,
	credential.KindInvalidTransition: http.StatusConflict,
	credential.KindSuperseded:        http.StatusConflict,
}

type flowError struct {
	Kind    credential.Kind `json:"kind"`
	Message string          `json:"message"`
}

type flowSession struct {
	SessionID   string    `json:"session_id"`
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type flowBody struct {
	shell.Snapshot
	Session *flowSession `json:"session,omitempty"`
	Error   *flowError   `json:"error,omitempty"`
}

// flowResponse renders the app snapshot plus the failure, if any. Flow
// failures are answers, not server errors, so the body always carries state.
func flowResponse(c *fiber.Ctx, app *shell.App, err error) error {
	body := flowBody{Snapshot: app.Snapshot()}
	if err == nil {
		return c.Status(http.StatusOK).JSON(body)
	}

	kind := credential.KindOf(err)
	msg := body.Flow.Message
	var f *credential.Failure
	if errors.As(err, &f) {
		msg = f.Message
	}
	body.Error = &flowError{Kind: kind, Message: msg}
	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	return c.Status(status).JSON(body)
}

// signedInResponse is flowResponse for the steps that open a session. On
// success the body carries the access token the session routes require.
func signedInResponse(c *fiber.Ctx, app *shell.App, err error) error {
	if err != nil {
		return flowResponse(c, app, err)
	}
	sess, lookupErr := app.Session(c.UserContext())
	if lookupErr != nil {
		return fiber.NewError(http.StatusServiceUnavailable, lookupErr.Error())
	}
	body := flowBody{Snapshot: app.Snapshot()}
	if sess != nil {
		body.Session = &flowSession{SessionID: sess.ID, AccessToken: sess.AccessToken, ExpiresAt: sess.ExpiresAt}
	}
	return c.Status(http.StatusOK).JSON(body)
}

type signupDetails struct {
	Name         *string `json:"name"`
	Email        *string `json:"email"`
	MobileNumber *string `json:"mobile_number"`
}

type pinPair struct {
	NewPIN        *string `json:"new_pin"`
	ConfirmNewPIN *string `json:"confirm_new_pin"`
}

type loginBody struct {
	Phone *string `json:"phone"`
	PIN   *string `json:"pin"`
}

// applyEdits copies the provided fields into the form. Absent fields keep
// what earlier edits set.
func applyEdits(flow *credential.Controller, edits map[credential.Field]*string) error {
	for field, value := range edits {
		if value == nil {
			continue
		}
		if _, err := flow.Edit(field, *value); err != nil {
			return err
		}
	}
	return nil
}

// RegisterFlowRoutes wires the credential flow. loginLimiter and
// quickLoginLimiter guard the PIN endpoints and may be nil.
func RegisterFlowRoutes(r fiber.Router, host *shell.Host, loginLimiter, quickLoginLimiter fiber.Handler) {
	g := r.Group("/flow")

	g.Post("/navigate", withApp(host, func(c *fiber.Ctx, app *shell.App) error {
		var req struct {
			View credential.View `json:"view"`
		}
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		_, err := app.Flow().Navigate(req.View)
		return flowResponse(c, app, err)
	}))

	g.Post("/edit", withApp(host, func(c *fiber.Ctx, app *shell.App) error {
		var req struct {
			Field credential.Field `json:"field"`
			Value string           `json:"value"`
		}
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		_, err := app.Flow().Edit(req.Field, req.Value)
		return flowResponse(c, app, err)
	}))

	g.Post("/signup/next", withApp(host, func(c *fiber.Ctx, app *shell.App) error {
		var req signupDetails
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		err := applyEdits(app.Flow(), map[credential.Field]*string{
			credential.FieldName:         req.Name,
			credential.FieldEmail:        req.Email,
			credential.FieldMobileNumber: req.MobileNumber,
		})
		if err == nil {
			_, err = app.Flow().SubmitSignupDetails(c.UserContext())
		}
		return flowResponse(c, app, err)
	}))

	g.Post("/signup/create", withApp(host, func(c *fiber.Ctx, app *shell.App) error {
		var req pinPair
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		err := applyEdits(app.Flow(), map[credential.Field]*string{
			credential.FieldNewPIN:        req.NewPIN,
			credential.FieldConfirmNewPIN: req.ConfirmNewPIN,
		})
		if err == nil {
			_, err = app.Flow().CreateAccount(c.UserContext())
		}
		return signedInResponse(c, app, err)
	}))

	login := withApp(host, func(c *fiber.Ctx, app *shell.App) error {
		var req loginBody
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		err := applyEdits(app.Flow(), map[credential.Field]*string{
			credential.FieldPhoneNumber: req.Phone,
			credential.FieldPIN:         req.PIN,
		})
		if err == nil {
			_, err = app.Flow().Login(c.UserContext())
		}
		return signedInResponse(c, app, err)
	})
	quickLogin := withApp(host, func(c *fiber.Ctx, app *shell.App) error {
		var req loginBody
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		err := applyEdits(app.Flow(), map[credential.Field]*string{
			credential.FieldPIN: req.PIN,
		})
		if err == nil {
			_, err = app.Flow().QuickLogin(c.UserContext())
		}
		return signedInResponse(c, app, err)
	})
	g.Post("/login", chain(loginLimiter, login)...)
	g.Post("/quick-login", chain(quickLoginLimiter, quickLogin)...)

	g.Post("/forgot-pin", withApp(host, func(c *fiber.Ctx, app *shell.App) error {
		_, err := app.Flow().ForgotPIN(c.UserContext())
		return flowResponse(c, app, err)
	}))

	g.Post("/switch-account", withApp(host, func(c *fiber.Ctx, app *shell.App) error {
		_, err := app.Flow().SwitchAccount(c.UserContext())
		if err != nil {
			return fiber.NewError(http.StatusServiceUnavailable, err.Error())
		}
		return flowResponse(c, app, nil)
	}))
}
