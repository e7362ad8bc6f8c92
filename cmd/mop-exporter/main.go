/******************************************************************************
 *
 *  Description :
 *    Standalone Prometheus exporter for a central post office: scrapes
 *    its /debug/vars expvar endpoint on every Prometheus collection and
 *    re-publishes the numbers under the "mop" namespace. Kept as a
 *    separate binary so a broker never needs outbound network access
 *    of its own to be monitored.
 *
 *****************************************************************************/
package main

import (
	"flag"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/SlightlyLoony/MOP/logs"
)

func main() {
	var (
		cpoAddr     = flag.String("cpo_addr", "http://localhost:6222/debug/vars", "Address of the central post office's /debug/vars endpoint to scrape.")
		listenAt    = flag.String("listen_at", ":9222", "Host and port to serve Prometheus metrics on.")
		namespace   = flag.String("namespace", "mop", "Prometheus namespace for exported metrics.")
		metricsPath = flag.String("metrics_path", "/metrics", "Path under which to expose metrics for Prometheus scrapes.")
		timeout     = flag.Int("timeout", 15, "Scrape timeout against the central post office, in seconds.")
	)
	flag.Parse()

	exporter := NewPromExporter(*cpoAddr, *namespace, time.Duration(*timeout)*time.Second)
	prometheus.MustRegister(exporter)

	mux := http.NewServeMux()
	mux.Handle(*metricsPath, promhttp.Handler())
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>MOP Exporter</title></head><body>
<h1>MOP Exporter</h1>
<p>Scraping: ` + *cpoAddr + `</p>
<p>Metrics path: <a href='` + *metricsPath + `'>` + *metricsPath + `</a></p>
</body></html>`))
	})

	logs.Info.Printf("exporter: serving %s at %s, scraping %s", *metricsPath, *listenAt, *cpoAddr)
	if err := http.ListenAndServe(*listenAt, mux); err != nil {
		logs.Error.Fatalf("exporter: %v", err)
	}
}
