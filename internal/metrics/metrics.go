package metrics

import (
	"bytes"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/valyala/fasthttp"
)

const namespace = "energytiles"

// Result labels shared by the counters below.
const (
	ResultOnTile = "on_tile"
	ResultNoTile = "no_tile"
	ResultOK     = "ok"
	ResultError  = "error"
)

var (
	AccrualsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accruals_total",
			Help:      "Location checks and sensor readings processed, by source and result.",
		},
		[]string{"source", "result"},
	)
	EnergyWhTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "energy_wh_total",
			Help:      "Watt-hours credited to users.",
		},
		[]string{"source"},
	)
	RewardPointsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reward_points_total",
			Help:      "Reward points credited to users.",
		},
		[]string{"source"},
	)
	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Energy events handed to the event bus.",
		},
		[]string{"result"},
	)
	MQTTMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mqtt_messages_total",
			Help:      "Sensor messages received over MQTT.",
		},
		[]string{"result"},
	)
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served.",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request durations in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)
)

var registerOnce sync.Once

// Init registers the collectors with the default registry. Safe to call more
// than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			AccrualsTotal, EnergyWhTotal, RewardPointsTotal,
			EventsPublishedTotal, MQTTMessagesTotal,
			HTTPRequestsTotal, HTTPRequestDuration,
		)
	})
}

// ObserveAccrual counts one credited accrual.
func ObserveAccrual(source string, energyWh, points float64) {
	AccrualsTotal.WithLabelValues(source, ResultOnTile).Inc()
	EnergyWhTotal.WithLabelValues(source).Add(energyWh)
	RewardPointsTotal.WithLabelValues(source).Add(points)
}

// ObserveRequest records one served HTTP request.
func ObserveRequest(route, method string, status int, d time.Duration) {
	HTTPRequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

// Handler serves the default registry in the text exposition format. Repeated
// "family" query arguments restrict the output to the named metric families.
func Handler() fasthttp.RequestHandler {
	return handler(prometheus.DefaultGatherer)
}

func handler(g prometheus.Gatherer) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		metricFamilies, err := g.Gather()
		if err != nil {
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
			ctx.SetBodyString("failed to gather metrics")
			return
		}

		wanted := make(map[string]bool)
		for _, v := range ctx.QueryArgs().PeekMulti("family") {
			wanted[string(v)] = true
		}
		metricFamilies = filterFamilies(metricFamilies, wanted)

		var buf bytes.Buffer
		encoder := expfmt.NewEncoder(&buf, expfmt.FmtText)
		for _, mf := range metricFamilies {
			if err := encoder.Encode(mf); err != nil {
				ctx.SetStatusCode(fasthttp.StatusInternalServerError)
				ctx.SetBodyString("failed to encode metrics")
				return
			}
		}

		ctx.SetContentType(string(expfmt.FmtText))
		ctx.Response.Header.Set("Cache-Control", "no-store")
		ctx.SetBody(buf.Bytes())
	}
}

func filterFamilies(families []*dto.MetricFamily, wanted map[string]bool) []*dto.MetricFamily {
	if len(wanted) == 0 {
		return families
	}
	kept := make([]*dto.MetricFamily, 0, len(wanted))
	for _, mf := range families {
		if wanted[mf.GetName()] {
			kept = append(kept, mf)
		}
	}
	return kept
}
