package handlers

import (
	"errors"
	"html/template"
	"log"

	"github.com/valyala/fasthttp"

	"energytiles/internal/auth"
	"energytiles/internal/config"
	dbpkg "energytiles/internal/db"
	appmw "energytiles/internal/http/middleware"
)

// mfaCookie carries the pending challenge id between the password form and
// /verify-mfa.
const mfaCookie = "mfa_challenge"

// Form renders a template with no data, for the GET side of the auth forms.
func Form(name string) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		renderTemplate(ctx, fasthttp.StatusOK, name, nil)
	}
}

func LoginSubmit(svc *auth.Service) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		username := string(ctx.PostArgs().Peek("username"))
		password := string(ctx.PostArgs().Peek("password"))

		rctx, cancel := requestContext()
		defer cancel()
		res, err := svc.Login(rctx, username, password)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidCredentials) {
				renderTemplate(ctx, fasthttp.StatusUnauthorized, "login.html", map[string]any{"Error": "Invalid username or password"})
				return
			}
			log.Printf("login %q: %v", username, err)
			renderTemplate(ctx, fasthttp.StatusInternalServerError, "login.html", map[string]any{"Error": "Login failed, please try again"})
			return
		}

		if res.Challenge != nil {
			setCookie(ctx, mfaCookie, res.Challenge.ID, res.Challenge.ExpiresAt)
			ctx.Redirect("/verify-mfa", fasthttp.StatusSeeOther)
			return
		}
		setSessionCookie(ctx, *res.Session)
		ctx.Redirect("/dashboard/"+res.Session.Username, fasthttp.StatusSeeOther)
	}
}

func AdminLoginSubmit(svc *auth.Service) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		username := string(ctx.PostArgs().Peek("username"))
		password := string(ctx.PostArgs().Peek("password"))

		rctx, cancel := requestContext()
		defer cancel()
		c, err := svc.AdminLogin(rctx, username, password)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidCredentials) {
				renderTemplate(ctx, fasthttp.StatusUnauthorized, "admin_login.html", map[string]any{"Error": "Invalid admin credentials"})
				return
			}
			log.Printf("admin login %q: %v", username, err)
			renderTemplate(ctx, fasthttp.StatusInternalServerError, "admin_login.html", map[string]any{"Error": "Login failed, please try again"})
			return
		}

		setCookie(ctx, mfaCookie, c.ID, c.ExpiresAt)
		ctx.Redirect("/verify-mfa", fasthttp.StatusSeeOther)
	}
}

func mfaMethod(role string) string {
	if role == dbpkg.RoleAdmin {
		return auth.MethodEmail
	}
	return auth.MethodTOTP
}

func mfaData(c dbpkg.MFAChallenge, errMsg string) map[string]any {
	data := map[string]any{
		"Username": c.Username,
		"UserType": c.Role,
		"Method":   mfaMethod(c.Role),
	}
	if errMsg != "" {
		data["Error"] = errMsg
	}
	return data
}

func loginPathFor(role string) string {
	if role == dbpkg.RoleAdmin {
		return "/admin-login"
	}
	return "/login"
}

func VerifyMFAForm(svc *auth.Service) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		rctx, cancel := requestContext()
		defer cancel()
		c, err := svc.Challenge(rctx, string(ctx.Request.Header.Cookie(mfaCookie)))
		if err != nil {
			if !errors.Is(err, auth.ErrChallengeExpired) {
				log.Printf("load mfa challenge: %v", err)
			}
			clearCookie(ctx, mfaCookie)
			ctx.Redirect("/login", fasthttp.StatusSeeOther)
			return
		}
		renderTemplate(ctx, fasthttp.StatusOK, "mfa.html", mfaData(c, ""))
	}
}

func VerifyMFASubmit(svc *auth.Service) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		id := string(ctx.Request.Header.Cookie(mfaCookie))
		code := string(ctx.PostArgs().Peek("otp"))

		rctx, cancel := requestContext()
		defer cancel()
		c, err := svc.Challenge(rctx, id)
		if err != nil {
			if !errors.Is(err, auth.ErrChallengeExpired) {
				log.Printf("load mfa challenge: %v", err)
			}
			clearCookie(ctx, mfaCookie)
			renderTemplate(ctx, fasthttp.StatusUnauthorized, "mfa.html", map[string]any{"Error": auth.ErrChallengeExpired.Error()})
			return
		}

		method := string(ctx.PostArgs().Peek("method"))
		if method == "" {
			method = mfaMethod(c.Role)
		}

		sess, err := svc.VerifyMFA(rctx, id, method, code)
		switch {
		case errors.Is(err, auth.ErrInvalidOTP):
			renderTemplate(ctx, fasthttp.StatusUnauthorized, "mfa.html", mfaData(c, "Invalid OTP. Please try again."))
			return
		case errors.Is(err, auth.ErrChallengeExpired):
			clearCookie(ctx, mfaCookie)
			ctx.Redirect(loginPathFor(c.Role), fasthttp.StatusSeeOther)
			return
		case err != nil:
			log.Printf("verify mfa for %q: %v", c.Username, err)
			renderTemplate(ctx, fasthttp.StatusInternalServerError, "mfa.html", mfaData(c, "Verification failed, please try again"))
			return
		}

		clearCookie(ctx, mfaCookie)
		setSessionCookie(ctx, sess)
		if sess.Role == dbpkg.RoleAdmin {
			ctx.Redirect("/admin-panel", fasthttp.StatusSeeOther)
			return
		}
		ctx.Redirect("/dashboard/"+sess.Username, fasthttp.StatusSeeOther)
	}
}

func registration(ctx *fasthttp.RequestCtx) auth.Registration {
	return auth.Registration{
		Username: string(ctx.PostArgs().Peek("username")),
		Email:    string(ctx.PostArgs().Peek("email")),
		Password: string(ctx.PostArgs().Peek("password")),
		Confirm:  string(ctx.PostArgs().Peek("confirm_password")),
	}
}

// registrationError reports whether err is a form problem the user can fix.
func registrationError(err error) bool {
	return errors.Is(err, auth.ErrShortUsername) ||
		errors.Is(err, auth.ErrUsernameTaken) ||
		errors.Is(err, auth.ErrPasswordMismatch) ||
		errors.Is(err, auth.ErrWeakPassword)
}

func RegisterSubmit(svc *auth.Service) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		rctx, cancel := requestContext()
		defer cancel()
		reg, err := svc.Register(rctx, registration(ctx))
		if err != nil {
			if registrationError(err) {
				renderTemplate(ctx, fasthttp.StatusBadRequest, "register.html", map[string]any{"Error": err.Error()})
				return
			}
			log.Printf("register: %v", err)
			renderTemplate(ctx, fasthttp.StatusInternalServerError, "register.html", map[string]any{"Error": "Registration failed, please try again"})
			return
		}

		log.Printf("registered user %s", reg.User.Username)
		data := map[string]any{"Message": "Account created successfully! Please login."}
		if reg.TOTP != nil {
			data["TOTPSecret"] = reg.TOTP.Secret()
			data["TOTPURL"] = template.URL(reg.TOTP.URL())
		}
		renderTemplate(ctx, fasthttp.StatusOK, "register.html", data)
	}
}

// AdminRegisterForm and AdminRegisterSubmit answer 404 unless admin
// registration is enabled.
func AdminRegisterForm(cfg *config.Config) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if !cfg.AllowAdminRegister {
			ctx.NotFound()
			return
		}
		renderTemplate(ctx, fasthttp.StatusOK, "admin_register.html", nil)
	}
}

func AdminRegisterSubmit(svc *auth.Service, cfg *config.Config) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if !cfg.AllowAdminRegister {
			ctx.NotFound()
			return
		}
		rctx, cancel := requestContext()
		defer cancel()
		u, err := svc.RegisterAdmin(rctx, registration(ctx))
		if err != nil {
			if registrationError(err) {
				renderTemplate(ctx, fasthttp.StatusBadRequest, "admin_register.html", map[string]any{"Error": err.Error()})
				return
			}
			log.Printf("register admin: %v", err)
			renderTemplate(ctx, fasthttp.StatusInternalServerError, "admin_register.html", map[string]any{"Error": "Registration failed, please try again"})
			return
		}
		log.Printf("registered admin %s", u.Username)
		renderTemplate(ctx, fasthttp.StatusOK, "admin_register.html", map[string]any{"Message": "Admin account created successfully! Please login."})
	}
}

// Logout ends the session and sends the browser to redirect.
func Logout(svc *auth.Service, redirect string) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		token := string(ctx.Request.Header.Cookie(appmw.SessionCookie))
		rctx, cancel := requestContext()
		defer cancel()
		if err := svc.Logout(rctx, token); err != nil {
			log.Printf("logout: %v", err)
		}
		clearCookie(ctx, appmw.SessionCookie)
		ctx.Redirect(redirect, fasthttp.StatusSeeOther)
	}
}
