package perf

import (
	"expvar"
	"net/http"

	"github.com/encodeous/metric"
)

var (
	DispatchLatency    = metric.NewHistogram("1m1s")
	AdvertisementsSent = metric.NewCounter("10s1s")
	DataForwarded      = metric.NewCounter("10s1s")
	DataFlooded        = metric.NewCounter("10s1s")
	RoutesExpired      = metric.NewCounter("10s1s")
)

func init() {
	http.Handle("/debug/metrics", metric.Handler(metric.Exposed))
	expvar.Publish("fennel:DispatchLatency (µs)", DispatchLatency)
	expvar.Publish("fennel:Advertisements/s", AdvertisementsSent)
	expvar.Publish("fennel:DataForwarded/s", DataForwarded)
	expvar.Publish("fennel:DataFlooded/s", DataFlooded)
	expvar.Publish("fennel:RoutesExpired/s", RoutesExpired)
}
