package handlers

import (
	"errors"
	"log"
	"strconv"
	"strings"

	"github.com/valyala/fasthttp"

	"energytiles/internal/accrual"
	"energytiles/internal/energy"
)

// Leaderboard ranks every user by reward points. ?limit=N truncates.
func Leaderboard(svc *accrual.Service) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		limit := 0
		if v := string(ctx.QueryArgs().Peek("limit")); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				errResponse(ctx, fasthttp.StatusBadRequest, "invalid limit")
				return
			}
			limit = n
		}

		rctx, cancel := requestContext()
		defer cancel()
		entries, err := svc.Leaderboard(rctx, limit)
		if err != nil {
			failWith(ctx, err)
			return
		}
		jsonResponse(ctx, map[string]any{"leaderboard": leaderboardView(entries)})
	}
}

// EnergyTiles lists tiles for the public map.
func EnergyTiles(svc *accrual.Service) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		rctx, cancel := requestContext()
		defer cancel()
		tiles, err := svc.Tiles(rctx)
		if err != nil {
			failWith(ctx, err)
			return
		}
		out := make([]map[string]any, 0, len(tiles))
		for _, t := range tiles {
			out = append(out, map[string]any{
				"id":       t.ID,
				"name":     t.Name,
				"lat":      t.Latitude,
				"lon":      t.Longitude,
				"capacity": t.Capacity,
			})
		}
		jsonResponse(ctx, map[string]any{"tiles": out})
	}
}

// GetTiles returns every tile as a bare JSON array.
func GetTiles(svc *accrual.Service) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		rctx, cancel := requestContext()
		defer cancel()
		tiles, err := svc.Tiles(rctx)
		if err != nil {
			failWith(ctx, err)
			return
		}
		jsonResponse(ctx, tilesView(tiles))
	}
}

func parseFloatArg(args *fasthttp.Args, key string) (float64, bool) {
	v := strings.TrimSpace(string(args.Peek(key)))
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	return f, err == nil
}

// AddTile creates a tile from the admin form.
func AddTile(svc *accrual.Service) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		args := ctx.PostArgs()

		name := strings.TrimSpace(string(args.Peek("tile_name")))
		if name == "" {
			errResponse(ctx, fasthttp.StatusBadRequest, "Tile name required")
			return
		}
		lat, okLat := parseFloatArg(args, "latitude")
		lon, okLon := parseFloatArg(args, "longitude")
		if !okLat || !okLon {
			errResponse(ctx, fasthttp.StatusBadRequest, "Invalid GPS coordinates")
			return
		}
		radius := accrual.DefaultTileRadius
		if v := strings.TrimSpace(string(args.Peek("radius"))); v != "" {
			r, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errResponse(ctx, fasthttp.StatusBadRequest, "Invalid radius")
				return
			}
			radius = r
		}
		capacity := accrual.DefaultTileCapacity
		if v := strings.TrimSpace(string(args.Peek("capacity"))); v != "" {
			c, err := strconv.Atoi(v)
			if err != nil {
				errResponse(ctx, fasthttp.StatusBadRequest, "Capacity must be greater than 0")
				return
			}
			capacity = c
		}

		rctx, cancel := requestContext()
		defer cancel()
		id, err := svc.AddTile(rctx, accrual.NewTile{
			Name:      name,
			Latitude:  lat,
			Longitude: lon,
			Radius:    radius,
			Capacity:  capacity,
		})
		switch {
		case errors.Is(err, energy.ErrInvalidCapacity):
			errResponse(ctx, fasthttp.StatusBadRequest, "Capacity must be greater than 0")
			return
		case errors.Is(err, energy.ErrDuplicateTileLocation):
			errResponse(ctx, fasthttp.StatusBadRequest, "A tile already exists at this location. The new tile was not added.")
			return
		case err != nil:
			failWith(ctx, err)
			return
		}

		log.Printf("tile %s (%s) added at %.6f,%.6f", id, name, lat, lon)
		jsonResponse(ctx, map[string]any{
			"status":  "success",
			"message": "Tile added successfully",
			"tile_id": id,
		})
	}
}

func RemoveTile(svc *accrual.Service) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		id := pathParam(ctx, "id")
		rctx, cancel := requestContext()
		defer cancel()
		if err := svc.RemoveTile(rctx, id); err != nil {
			failWith(ctx, err)
			return
		}
		log.Printf("tile %s removed", id)
		jsonResponse(ctx, map[string]any{"status": "success", "message": "Tile removed"})
	}
}
