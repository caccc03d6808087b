package handlers

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"

	"github.com/valyala/fasthttp"

	"energytiles/internal/auth"
	"energytiles/internal/config"
	dbpkg "energytiles/internal/db"
)

// sensorKeyPrefix marks tokens minted from the admin panel.
const sensorKeyPrefix = "sk_"

// SensorKeyStore manages device keys. *db.Store implements it.
type SensorKeyStore interface {
	ListSensorKeys(ctx context.Context) ([]dbpkg.SensorKey, error)
	CreateSensorKey(ctx context.Context, k *dbpkg.SensorKey) error
	DeleteSensorKey(ctx context.Context, id uint) error
	SetSensorKeyActive(ctx context.Context, id uint, active bool) error
}

func sensorKeyID(raw []byte) (uint, bool) {
	id, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

func sensorKeyView(k dbpkg.SensorKey) map[string]any {
	return map[string]any{
		"id":         k.ID,
		"name":       k.Name,
		"token":      k.Token,
		"active":     k.Active,
		"created_at": FormatEventTime(k.CreatedAt),
	}
}

func CreateSensorKey(keys SensorKeyStore) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		name := strings.TrimSpace(string(ctx.PostArgs().Peek("name")))
		if name == "" {
			errResponse(ctx, fasthttp.StatusBadRequest, "name required")
			return
		}

		token, err := auth.NewToken(sensorKeyPrefix)
		if err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to generate sensor key")
			return
		}

		k := &dbpkg.SensorKey{Name: name, Token: token, Active: true}
		rctx, cancel := requestContext()
		defer cancel()
		if err := keys.CreateSensorKey(rctx, k); err != nil {
			log.Printf("create sensor key %q: %v", name, err)
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to create sensor key")
			return
		}
		log.Printf("sensor key %d (%s) created", k.ID, name)
		jsonResponse(ctx, map[string]any{"status": "success", "sensor_key": sensorKeyView(*k)})
	}
}

// DeleteSensorKey removes a key. The bootstrap key from config cannot be
// deleted, only deactivated.
func DeleteSensorKey(keys SensorKeyStore, cfg *config.Config) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		id, ok := sensorKeyID(ctx.PostArgs().Peek("id"))
		if !ok {
			errResponse(ctx, fasthttp.StatusBadRequest, "id required")
			return
		}

		rctx, cancel := requestContext()
		defer cancel()
		if cfg.SensorAPIKey != "" {
			list, err := keys.ListSensorKeys(rctx)
			if err != nil {
				failWith(ctx, err)
				return
			}
			for _, k := range list {
				if k.ID == id && k.Token == cfg.SensorAPIKey {
					errResponse(ctx, fasthttp.StatusForbidden, "cannot delete bootstrap sensor key")
					return
				}
			}
		}

		if err := keys.DeleteSensorKey(rctx, id); err != nil {
			if errors.Is(err, dbpkg.ErrNotFound) {
				errResponse(ctx, fasthttp.StatusNotFound, "sensor key not found")
				return
			}
			failWith(ctx, err)
			return
		}
		jsonResponse(ctx, map[string]any{"status": "success", "message": "Sensor key deleted"})
	}
}

func SetSensorKeyActive(keys SensorKeyStore) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		id, ok := sensorKeyID(ctx.PostArgs().Peek("id"))
		activeStr := string(ctx.PostArgs().Peek("active"))
		if !ok || (activeStr != "true" && activeStr != "false") {
			errResponse(ctx, fasthttp.StatusBadRequest, "id and active (true|false) required")
			return
		}
		active := activeStr == "true"

		rctx, cancel := requestContext()
		defer cancel()
		if err := keys.SetSensorKeyActive(rctx, id, active); err != nil {
			if errors.Is(err, dbpkg.ErrNotFound) {
				errResponse(ctx, fasthttp.StatusNotFound, "sensor key not found")
				return
			}
			failWith(ctx, err)
			return
		}
		jsonResponse(ctx, map[string]any{"status": "success", "id": id, "active": active})
	}
}
