package ctx

import (
	"github.com/valyala/fasthttp"

	dbpkg "energytiles/internal/db"
)

const (
	SessionKey   = "session"
	SensorKeyKey = "sensorKey"
)

func SetSession(ctx *fasthttp.RequestCtx, sess *dbpkg.Session) {
	ctx.SetUserValue(SessionKey, sess)
}

func SessionFromCtx(ctx *fasthttp.RequestCtx) (*dbpkg.Session, bool) {
	v := ctx.UserValue(SessionKey)
	if v == nil {
		return nil, false
	}
	s, ok := v.(*dbpkg.Session)
	return s, ok && s != nil
}

func SetSensorKey(ctx *fasthttp.RequestCtx, key *dbpkg.SensorKey) {
	ctx.SetUserValue(SensorKeyKey, key)
}

func SensorKeyFromCtx(ctx *fasthttp.RequestCtx) (*dbpkg.SensorKey, bool) {
	v := ctx.UserValue(SensorKeyKey)
	if v == nil {
		return nil, false
	}
	k, ok := v.(*dbpkg.SensorKey)
	return k, ok && k != nil
}
