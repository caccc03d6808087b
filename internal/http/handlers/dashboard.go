package handlers

import (
	"github.com/valyala/fasthttp"

	"energytiles/internal/accrual"
	"energytiles/internal/energy"
)

// Home sends a signed-in user to their own dashboard. Serves / and /dashboard.
func Home() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		sess, ok := MustSession(ctx)
		if !ok {
			return
		}
		ctx.Redirect("/dashboard/"+sess.Username, fasthttp.StatusSeeOther)
	}
}

// UserDashboard returns the dashboard for the session's user. Asking for
// someone else's redirects to your own.
func UserDashboard(svc *accrual.Service) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		sess, ok := MustSession(ctx)
		if !ok {
			return
		}
		if name := pathParam(ctx, "username"); name != sess.Username {
			ctx.Redirect("/dashboard/"+sess.Username, fasthttp.StatusSeeOther)
			return
		}

		rctx, cancel := requestContext()
		defer cancel()
		d, err := svc.Dashboard(rctx, sess.Username)
		if err != nil {
			failWith(ctx, err)
			return
		}
		jsonResponse(ctx, dashboardView(d))
	}
}

func dashboardView(d accrual.Dashboard) map[string]any {
	events := make([]map[string]any, 0, len(d.RecentEvents))
	for _, e := range d.RecentEvents {
		events = append(events, eventView(e))
	}

	tiles := make([]map[string]any, 0, len(d.Tiles))
	for _, td := range d.Tiles {
		v := tileView(td.Tile)
		if td.DistanceKm != nil {
			v["distance_km"] = energy.Round(*td.DistanceKm, 3)
		} else {
			v["distance_km"] = nil
		}
		tiles = append(tiles, v)
	}

	var last any
	if d.LastLocation != nil {
		last = map[string]float64{"lat": d.LastLocation.Latitude, "lon": d.LastLocation.Longitude}
	}

	return map[string]any{
		"username":            d.Username,
		"metrics":             metricsView(d.Metrics),
		"tier":                d.Tier,
		"today_energy_wh":     wh(d.TodayEnergyWh),
		"today_reward_points": two(d.TodayRewardPoints),
		"recent_events":       events,
		"last_location":       last,
		"tiles":               tiles,
		"active_users":        d.ActiveUsers,
		"active_tiles":        d.ActiveTiles,
		"leaderboard":         leaderboardView(d.Leaderboard),
	}
}

func UserInfo() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		sess, ok := MustSession(ctx)
		if !ok {
			return
		}
		jsonResponse(ctx, map[string]any{
			"username":  sess.Username,
			"user_type": sess.Role,
		})
	}
}
