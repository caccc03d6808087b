package handlers

import (
	"errors"

	"github.com/valyala/fasthttp"

	"energytiles/internal/accrual"
	dbpkg "energytiles/internal/db"
)

// EventDetail returns one energy event. Users only see their own; admins
// see any.
func EventDetail(svc *accrual.Service) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		sess, ok := MustSession(ctx)
		if !ok {
			return
		}
		id := pathParam(ctx, "id")
		if id == "" {
			errResponse(ctx, fasthttp.StatusBadRequest, "id required")
			return
		}

		rctx, cancel := requestContext()
		defer cancel()
		ev, err := svc.Event(rctx, id)
		if err != nil {
			if errors.Is(err, accrual.ErrEventNotFound) {
				errResponse(ctx, fasthttp.StatusNotFound, "event not found")
				return
			}
			failWith(ctx, err)
			return
		}

		if sess.Role != dbpkg.RoleAdmin && ev.Username != sess.Username {
			errResponse(ctx, fasthttp.StatusForbidden, "forbidden")
			return
		}
		jsonResponse(ctx, eventView(ev))
	}
}
