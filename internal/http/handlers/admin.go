package handlers

import (
	"strconv"

	"github.com/valyala/fasthttp"

	"energytiles/internal/accrual"
)

// maxStatsDays caps ?days on the tile stats endpoint.
const maxStatsDays = 90

// AdminPanel returns platform totals, the top users, tiles with usage and
// the device keys.
func AdminPanel(svc *accrual.Service, keys SensorKeyStore) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		sess, ok := MustSession(ctx)
		if !ok {
			return
		}

		rctx, cancel := requestContext()
		defer cancel()
		o, err := svc.AdminOverview(rctx)
		if err != nil {
			failWith(ctx, err)
			return
		}
		list, err := keys.ListSensorKeys(rctx)
		if err != nil {
			failWith(ctx, err)
			return
		}
		sensorKeys := make([]map[string]any, 0, len(list))
		for _, k := range list {
			sensorKeys = append(sensorKeys, sensorKeyView(k))
		}

		jsonResponse(ctx, map[string]any{
			"admin_username": sess.Username,
			"total_users":    o.TotalUsers,
			"total_energy":   two(o.TotalEnergyWh),
			"total_points":   int64(o.TotalPoints),
			"total_pressure": two(o.TotalPressure),
			"total_ampere":   two(o.TotalAmpere),
			"total_voltage":  two(o.TotalVoltage),
			"active_users":   o.ActiveUsers,
			"active_admins":  o.ActiveAdmins,
			"top_users":      leaderboardView(o.TopUsers),
			"tiles":          tilesView(o.Tiles),
			"sensor_keys":    sensorKeys,
		})
	}
}

// parseDays reads ?days, falling back to the service default when absent.
func parseDays(ctx *fasthttp.RequestCtx) (int, bool) {
	v := string(ctx.QueryArgs().Peek("days"))
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	if n > maxStatsDays {
		n = maxStatsDays
	}
	return n, true
}

// TileStats returns per-tile daily energy for the last ?days days.
func TileStats(svc *accrual.Service) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		days, ok := parseDays(ctx)
		if !ok {
			errResponse(ctx, fasthttp.StatusBadRequest, "invalid days")
			return
		}

		rctx, cancel := requestContext()
		defer cancel()
		buckets, err := svc.TileStats(rctx, days)
		if err != nil {
			failWith(ctx, err)
			return
		}

		out := make([]map[string]any, 0, len(buckets))
		for _, b := range buckets {
			out = append(out, map[string]any{
				"tile_id":       b.TileID,
				"day":           b.Day.UTC().Format("2006-01-02"),
				"event_count":   b.EventCount,
				"energy_wh":     wh(b.EnergyWh),
				"reward_points": two(b.RewardPoints),
			})
		}
		jsonResponse(ctx, map[string]any{"buckets": out})
	}
}
