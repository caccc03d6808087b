package middleware

import (
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"

	"energytiles/internal/metrics"
)

// RequestMetrics records the count and duration of every request, labelled
// by the matched route pattern so path parameters do not explode the label
// space. The router must have SaveMatchedRoutePath enabled.
func RequestMetrics(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()
		next(ctx)

		route, _ := ctx.UserValue(router.MatchedRoutePathParam).(string)
		if route == "" {
			route = "unmatched"
		}
		metrics.ObserveRequest(route, string(ctx.Method()), ctx.Response.StatusCode(), time.Since(start))
	}
}
