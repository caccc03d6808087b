package handlers

import (
	"encoding/json"
	"log"

	"github.com/valyala/fasthttp"

	"energytiles/internal/accrual"
	httpctx "energytiles/internal/http/ctx"
)

type gpsRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// CheckGPSLocation credits the signed-in user for standing on a tile.
func CheckGPSLocation(svc *accrual.Service) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		sess, ok := MustSession(ctx)
		if !ok {
			return
		}

		var req gpsRequest
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
			errResponse(ctx, fasthttp.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.Latitude == nil || req.Longitude == nil {
			errResponse(ctx, fasthttp.StatusBadRequest, "Invalid GPS coordinates")
			return
		}

		rctx, cancel := requestContext()
		defer cancel()
		res, err := svc.CheckLocation(rctx, sess.Username, *req.Latitude, *req.Longitude)
		if err != nil {
			failWith(ctx, err)
			return
		}
		jsonResponse(ctx, locationView(res))
	}
}

type sensorRequest struct {
	Username  string         `json:"username"`
	TileID    string         `json:"tile_id"`
	EnergyWh  float64        `json:"electricity_wh"`
	Latitude  *float64       `json:"latitude,omitempty"`
	Longitude *float64       `json:"longitude,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// IoTSensor records a device reading. Requires BearerAuth.
func IoTSensor(svc *accrual.Service) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var req sensorRequest
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
			errResponse(ctx, fasthttp.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.Username == "" || req.TileID == "" {
			errResponse(ctx, fasthttp.StatusBadRequest, "Missing username or tile_id")
			return
		}

		device := "unknown"
		if key, ok := httpctx.SensorKeyFromCtx(ctx); ok {
			device = key.Name
		}

		rctx, cancel := requestContext()
		defer cancel()
		res, err := svc.RecordSensorReading(rctx, accrual.SensorReading{
			Username:  req.Username,
			TileID:    req.TileID,
			EnergyWh:  req.EnergyWh,
			Latitude:  req.Latitude,
			Longitude: req.Longitude,
			Metadata:  req.Metadata,
		})
		if err != nil {
			log.Printf("iot sensor %s: %s on %s: %v", device, req.Username, req.TileID, err)
			failWith(ctx, err)
			return
		}

		jsonResponse(ctx, map[string]any{
			"status":         "success",
			"event_id":       res.EventID,
			"electricity_wh": wh(res.EnergyWh),
			"reward_points":  res.RewardPoints,
			"tile_name":      res.TileName,
		})
	}
}

// TileUsage bumps a tile's usage counter.
func TileUsage(svc *accrual.Service) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		rctx, cancel := requestContext()
		defer cancel()
		n, err := svc.IncrementTileUsage(rctx, pathParam(ctx, "id"))
		if err != nil {
			failWith(ctx, err)
			return
		}
		jsonResponse(ctx, map[string]any{
			"status":      "success",
			"message":     "Usage count updated",
			"usage_count": n,
		})
	}
}
