// Package metrics exposes the Prometheus collectors for the HTTP and socket
// surfaces.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "connectu",
		Name:      "ws_active_connections",
		Help:      "Active websocket connections on this node",
	})
	SocketEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "connectu",
		Name:      "ws_inbound_events_total",
		Help:      "Client to server socket events by type and outcome",
	}, []string{"type", "outcome"})
	DroppedSessions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "connectu",
		Name:      "ws_slow_consumers_dropped_total",
		Help:      "Sessions dropped because their send buffer was full",
	})
	RelayFrames = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "connectu",
		Name:      "ws_relay_frames_total",
		Help:      "Cross-node relay frames by direction",
	}, []string{"direction"})
	Requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "connectu",
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status",
	}, []string{"method", "route", "status"})
	RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "connectu",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
	OTPSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "connectu",
		Name:      "otp_send_total",
		Help:      "OTP send attempts by outcome",
	}, []string{"outcome"})
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{Connections, SocketEvents, DroppedSessions, RelayFrames, Requests, RequestDuration, OTPSent}
}

// Register adds every collector to reg. Collectors already registered are
// left alone so tests can build several apps in one process.
func Register(reg prometheus.Registerer) error {
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Handler serves the default registry for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request count and latency per matched route.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if fe, ok := err.(*fiber.Error); ok {
			status = fe.Code
		}
		route := c.Route().Path
		Requests.WithLabelValues(c.Method(), route, strconv.Itoa(status)).Inc()
		RequestDuration.WithLabelValues(c.Method(), route).Observe(time.Since(start).Seconds())
		return err
	}
}
