/******************************************************************************
 *
 *  Description :
 *    The CPO's debug/management HTTP surface: /debug/vars (wired up by
 *    newStatsReporter) plus a Prometheus /metrics endpoint built on a
 *    custom Collector that re-exposes the expvar counters. The mux is
 *    wrapped in gorilla/handlers' combined log format, the same access
 *    logging wrapper Tinode's own HTTP front end carries.
 *
 *****************************************************************************/
package cpo

import (
	"expvar"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/SlightlyLoony/MOP/logs"
)

// NewHTTPMux builds the *http.ServeMux a CentralPostOffice expects to be
// handed to New, with a Prometheus /metrics endpoint already registered
// and gorilla/handlers' combined-log wrapping applied to the whole mux.
// metricsPath is typically "/metrics"; pass "" or "-" to skip it.
func NewHTTPMux(metricsPath string) (*http.ServeMux, http.Handler) {
	mux := http.NewServeMux()
	if metricsPath != "" && metricsPath != "-" {
		mux.Handle(metricsPath, promhttp.Handler())
	}
	return mux, handlers.CombinedLoggingHandler(accessLogWriter{}, mux)
}

// RegisterPrometheusCollector attaches a Collector backed by c's expvar
// counters to the default Prometheus registry, so the same numbers
// manage.status reports are also visible to anything scraping
// metricsPath.
func RegisterPrometheusCollector(c *CentralPostOffice) {
	prometheus.MustRegister(newCPOCollector(c))
}

type cpoCollector struct {
	cpo *CentralPostOffice

	connections *prometheus.Desc
	messages    *prometheus.Desc
	bytesIn     *prometheus.Desc
	bytesOut    *prometheus.Desc
	dropped     *prometheus.Desc
	authFail    *prometheus.Desc
	uptime      *prometheus.Desc
}

func newCPOCollector(c *CentralPostOffice) *cpoCollector {
	return &cpoCollector{
		cpo: c,
		connections: prometheus.NewDesc(
			prometheus.BuildFQName("mop", "", "live_connections"),
			"Number of currently connected post offices.", nil, nil),
		messages: prometheus.NewDesc(
			prometheus.BuildFQName("mop", "", "messages_routed_total"),
			"Total messages routed since the broker started.", nil, nil),
		bytesIn: prometheus.NewDesc(
			prometheus.BuildFQName("mop", "", "bytes_in_total"),
			"Total bytes read from post office connections.", nil, nil),
		bytesOut: prometheus.NewDesc(
			prometheus.BuildFQName("mop", "", "bytes_out_total"),
			"Total bytes written to post office connections.", nil, nil),
		dropped: prometheus.NewDesc(
			prometheus.BuildFQName("mop", "", "frames_dropped_total"),
			"Total frames dropped: malformed or queue overflow.", nil, nil),
		authFail: prometheus.NewDesc(
			prometheus.BuildFQName("mop", "", "auth_failures_total"),
			"Total bad-authenticator connection attempts.", nil, nil),
		uptime: prometheus.NewDesc(
			prometheus.BuildFQName("mop", "", "uptime_seconds"),
			"Seconds since the broker started.", nil, nil),
	}
}

func (e *cpoCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.connections
	ch <- e.messages
	ch <- e.bytesIn
	ch <- e.bytesOut
	ch <- e.dropped
	ch <- e.authFail
	ch <- e.uptime
}

// Collect reads the live connection count and uptime from the
// CentralPostOffice itself, and the counters straight from the package
// expvar.Int vars -- the same numbers the stats reporter already
// serializes at /debug/vars.
func (e *cpoCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(e.connections, prometheus.GaugeValue, float64(e.cpo.connectionCount()))
	ch <- prometheus.MustNewConstMetric(e.uptime, prometheus.GaugeValue, time.Since(e.cpo.startedAt).Seconds())
	ch <- prometheus.MustNewConstMetric(e.messages, prometheus.CounterValue, expvarFloat("MessagesRouted"))
	ch <- prometheus.MustNewConstMetric(e.bytesIn, prometheus.CounterValue, expvarFloat("BytesIn"))
	ch <- prometheus.MustNewConstMetric(e.bytesOut, prometheus.CounterValue, expvarFloat("BytesOut"))
	ch <- prometheus.MustNewConstMetric(e.dropped, prometheus.CounterValue, expvarFloat("FramesDropped"))
	ch <- prometheus.MustNewConstMetric(e.authFail, prometheus.CounterValue, expvarFloat("AuthFailures"))
}

func expvarFloat(name string) float64 {
	v := expvar.Get(name)
	if v == nil {
		return 0
	}
	iv, ok := v.(*expvar.Int)
	if !ok {
		return 0
	}
	return float64(iv.Value())
}

type accessLogWriter struct{}

func (accessLogWriter) Write(p []byte) (int, error) {
	logs.Info.Print(string(p))
	return len(p), nil
}
