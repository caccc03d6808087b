package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/valyala/fasthttp"

	"energytiles/internal/auth"
	dbpkg "energytiles/internal/db"
	httpctx "energytiles/internal/http/ctx"
)

// SessionCookie names the cookie holding the session token.
const SessionCookie = "session_token"

// Sessions resolves session tokens. *auth.Service implements it.
type Sessions interface {
	Session(ctx context.Context, token string) (dbpkg.Session, error)
}

// SessionAuth loads the session from the cookie and requires role. Requests
// without a matching session are handed to onDeny instead of next.
func SessionAuth(sessions Sessions, role string, onDeny fasthttp.RequestHandler) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			token := string(ctx.Request.Header.Cookie(SessionCookie))
			if token == "" {
				onDeny(ctx)
				return
			}

			lookup, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			sess, err := sessions.Session(lookup, token)
			if err != nil {
				if errors.Is(err, auth.ErrNoSession) {
					onDeny(ctx)
					return
				}
				deny(ctx, fasthttp.StatusInternalServerError, "database error")
				return
			}
			if sess.Role != role {
				onDeny(ctx)
				return
			}

			httpctx.SetSession(ctx, &sess)
			next(ctx)
		}
	}
}

// RedirectTo sends browsers to a login page.
func RedirectTo(path string) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		ctx.Redirect(path, fasthttp.StatusSeeOther)
	}
}

// Unauthorized answers API calls with a JSON 401.
func Unauthorized(ctx *fasthttp.RequestCtx) {
	deny(ctx, fasthttp.StatusUnauthorized, "Not logged in")
}
