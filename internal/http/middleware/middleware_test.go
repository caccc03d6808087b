package middleware

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/fasthttp/router"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/valyala/fasthttp"

	"energytiles/internal/auth"
	dbpkg "energytiles/internal/db"
	httpctx "energytiles/internal/http/ctx"
	"energytiles/internal/metrics"
)

type fakeSessions map[string]dbpkg.Session

func (f fakeSessions) Session(_ context.Context, token string) (dbpkg.Session, error) {
	if token == "broken" {
		return dbpkg.Session{}, errors.New("db down")
	}
	s, ok := f[token]
	if !ok {
		return dbpkg.Session{}, auth.ErrNoSession
	}
	return s, nil
}

type fakeKeys map[string]dbpkg.SensorKey

func (f fakeKeys) FindActiveSensorKey(_ context.Context, token string) (dbpkg.SensorKey, error) {
	k, ok := f[token]
	if !ok || !k.Active {
		return dbpkg.SensorKey{}, dbpkg.ErrNotFound
	}
	return k, nil
}

func ok(ctx *fasthttp.RequestCtx) {
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBodyString("ok")
}

func TestSessionAuth(t *testing.T) {
	sessions := fakeSessions{
		"u-token": {Token: "u-token", Username: "alice", Role: dbpkg.RoleUser},
		"a-token": {Token: "a-token", Username: "root", Role: dbpkg.RoleAdmin},
	}
	var seen *dbpkg.Session
	next := func(ctx *fasthttp.RequestCtx) {
		seen, _ = httpctx.SessionFromCtx(ctx)
		ok(ctx)
	}
	userOnly := SessionAuth(sessions, dbpkg.RoleUser, Unauthorized)(next)
	adminOnly := SessionAuth(sessions, dbpkg.RoleAdmin, RedirectTo("/admin-login"))(next)

	tests := []struct {
		name   string
		h      fasthttp.RequestHandler
		cookie string
		want   int
		user   string
	}{
		{"user ok", userOnly, "u-token", fasthttp.StatusOK, "alice"},
		{"no cookie", userOnly, "", fasthttp.StatusUnauthorized, ""},
		{"unknown token", userOnly, "nope", fasthttp.StatusUnauthorized, ""},
		{"admin on user route", userOnly, "a-token", fasthttp.StatusUnauthorized, ""},
		{"store error", userOnly, "broken", fasthttp.StatusInternalServerError, ""},
		{"admin ok", adminOnly, "a-token", fasthttp.StatusOK, "root"},
		{"user on admin route", adminOnly, "u-token", fasthttp.StatusSeeOther, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			var ctx fasthttp.RequestCtx
			ctx.Request.SetRequestURI("http://localhost/x")
			if tt.cookie != "" {
				ctx.Request.Header.SetCookie(SessionCookie, tt.cookie)
			}
			tt.h(&ctx)
			if got := ctx.Response.StatusCode(); got != tt.want {
				t.Fatalf("status = %d, want %d", got, tt.want)
			}
			if tt.user == "" {
				if seen != nil {
					t.Fatalf("next ran with %+v", seen)
				}
				return
			}
			if seen == nil || seen.Username != tt.user {
				t.Fatalf("session = %+v, want %s", seen, tt.user)
			}
		})
	}
}

func TestBearerAuth(t *testing.T) {
	keys := fakeKeys{
		"sk_live": {ID: 1, Name: "plate-1", Token: "sk_live", Active: true},
		"sk_off":  {ID: 2, Name: "plate-2", Token: "sk_off", Active: false},
	}
	var device string
	h := BearerAuth(keys)(func(ctx *fasthttp.RequestCtx) {
		if k, found := httpctx.SensorKeyFromCtx(ctx); found {
			device = k.Name
		}
		ok(ctx)
	})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid", "Bearer sk_live", fasthttp.StatusOK},
		{"missing", "", fasthttp.StatusUnauthorized},
		{"wrong scheme", "Basic abc", fasthttp.StatusUnauthorized},
		{"empty token", "Bearer   ", fasthttp.StatusUnauthorized},
		{"inactive", "Bearer sk_off", fasthttp.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			device = ""
			var ctx fasthttp.RequestCtx
			if tt.header != "" {
				ctx.Request.Header.Set("Authorization", tt.header)
			}
			h(&ctx)
			if got := ctx.Response.StatusCode(); got != tt.want {
				t.Fatalf("status = %d, want %d", got, tt.want)
			}
			if tt.want == fasthttp.StatusOK && device != "plate-1" {
				t.Fatalf("device = %q", device)
			}
			if tt.want != fasthttp.StatusOK && !strings.Contains(string(ctx.Response.Body()), `"status":"error"`) {
				t.Fatalf("body = %s", ctx.Response.Body())
			}
		})
	}
}

func TestRequestMetricsUsesRoutePattern(t *testing.T) {
	r := router.New()
	r.SaveMatchedRoutePath = true
	r.POST("/api/tile-usage/{id}", ok)
	h := RequestMetrics(r.Handler)

	route := "/api/tile-usage/{id}"
	before := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues(route, "POST", "200"))

	for _, id := range []string{"tile_001", "tile_002"} {
		var ctx fasthttp.RequestCtx
		ctx.Request.Header.SetMethod("POST")
		ctx.Request.SetRequestURI("/api/tile-usage/" + id)
		h(&ctx)
	}

	after := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues(route, "POST", "200"))
	if after-before != 2 {
		t.Fatalf("counted %v requests under %s, want 2", after-before, route)
	}
}
