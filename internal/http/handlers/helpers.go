package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/valyala/fasthttp"

	"energytiles/internal/auth"
	dbpkg "energytiles/internal/db"
	"energytiles/internal/energy"
	httpctx "energytiles/internal/http/ctx"
	appmw "energytiles/internal/http/middleware"
	ui "energytiles/web"
)

const requestTimeout = 10 * time.Second

// requestContext bounds the store work a handler triggers.
func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), requestTimeout)
}

// MustSession returns the current session from context, or sends 401 and returns (nil, false).
func MustSession(ctx *fasthttp.RequestCtx) (*dbpkg.Session, bool) {
	sess, ok := httpctx.SessionFromCtx(ctx)
	if !ok {
		errResponse(ctx, fasthttp.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	return sess, true
}

// RequestLogger returns fasthttp middleware that logs method, path, status, duration.
func RequestLogger(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()
		next(ctx)
		log.Printf("%s %s -> %d (%s) ip=%s", ctx.Method(), ctx.Path(), ctx.Response.StatusCode(), time.Since(start), ctx.RemoteAddr())
	}
}

func jsonResponse(ctx *fasthttp.RequestCtx, data any) {
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(data)
	ctx.SetBody(body)
}

func errResponse(ctx *fasthttp.RequestCtx, code int, msg string) {
	ctx.SetStatusCode(code)
	jsonResponse(ctx, map[string]any{"status": "error", "message": msg})
}

// failWith maps service errors onto status codes. Unexpected errors are
// logged and hidden from the client.
func failWith(ctx *fasthttp.RequestCtx, err error) {
	switch {
	case errors.Is(err, energy.ErrUnknownTile):
		errResponse(ctx, fasthttp.StatusNotFound, "Tile not found")
	case errors.Is(err, energy.ErrInvalidCoordinates):
		errResponse(ctx, fasthttp.StatusBadRequest, "Invalid GPS coordinates")
	case errors.Is(err, energy.ErrMissingField),
		errors.Is(err, energy.ErrInvalidCapacity),
		errors.Is(err, energy.ErrDuplicateTileLocation),
		errors.Is(err, energy.ErrInvalidEnergy):
		errResponse(ctx, fasthttp.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrNoSession):
		errResponse(ctx, fasthttp.StatusUnauthorized, err.Error())
	default:
		log.Printf("%s %s: %v", ctx.Method(), ctx.Path(), err)
		errResponse(ctx, fasthttp.StatusInternalServerError, "internal error")
	}
}

func renderTemplate(ctx *fasthttp.RequestCtx, code int, name string, data map[string]any) {
	t := ui.Templates().Lookup(name)
	if t == nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetBodyString(name + " template not found")
		return
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetBodyString("render error")
		return
	}
	ctx.SetStatusCode(code)
	ctx.SetContentType("text/html; charset=utf-8")
	ctx.SetBody(buf.Bytes())
}

func setCookie(ctx *fasthttp.RequestCtx, name, value string, expires time.Time) {
	var c fasthttp.Cookie
	c.SetKey(name)
	c.SetValue(value)
	c.SetPath("/")
	c.SetHTTPOnly(true)
	c.SetSameSite(fasthttp.CookieSameSiteLaxMode)
	if !expires.IsZero() {
		c.SetExpire(expires)
	}
	ctx.Response.Header.SetCookie(&c)
}

func clearCookie(ctx *fasthttp.RequestCtx, name string) {
	var c fasthttp.Cookie
	c.SetKey(name)
	c.SetValue("")
	c.SetPath("/")
	c.SetMaxAge(-1)
	ctx.Response.Header.SetCookie(&c)
}

func setSessionCookie(ctx *fasthttp.RequestCtx, sess dbpkg.Session) {
	setCookie(ctx, appmw.SessionCookie, sess.Token, sess.ExpiresAt)
}

func pathParam(ctx *fasthttp.RequestCtx, name string) string {
	v, _ := ctx.UserValue(name).(string)
	return v
}
