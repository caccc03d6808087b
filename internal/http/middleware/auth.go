package middleware

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	dbpkg "energytiles/internal/db"
	httpctx "energytiles/internal/http/ctx"
)

// SensorKeys looks up active sensor keys. *db.Store implements it.
type SensorKeys interface {
	FindActiveSensorKey(ctx context.Context, token string) (dbpkg.SensorKey, error)
}

// BearerAuth validates Bearer tokens against the active sensor keys.
func BearerAuth(keys SensorKeys) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			auth := ctx.Request.Header.Peek("Authorization")
			if len(auth) == 0 {
				deny(ctx, fasthttp.StatusUnauthorized, "missing Authorization header")
				return
			}

			const prefix = "Bearer "
			if !bytes.HasPrefix(auth, []byte(prefix)) {
				deny(ctx, fasthttp.StatusUnauthorized, "invalid Authorization header")
				return
			}

			token := strings.TrimSpace(string(auth[len(prefix):]))
			if token == "" {
				deny(ctx, fasthttp.StatusUnauthorized, "empty bearer token")
				return
			}

			lookup, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			key, err := keys.FindActiveSensorKey(lookup, token)
			if err != nil {
				if errors.Is(err, dbpkg.ErrNotFound) {
					deny(ctx, fasthttp.StatusUnauthorized, "invalid sensor key")
					return
				}
				deny(ctx, fasthttp.StatusInternalServerError, "database error")
				return
			}

			httpctx.SetSensorKey(ctx, &key)
			next(ctx)
		}
	}
}

func deny(ctx *fasthttp.RequestCtx, code int, msg string) {
	ctx.SetStatusCode(code)
	ctx.SetContentType("application/json")
	ctx.SetBodyString(`{"status":"error","message":"` + msg + `"}`)
}
