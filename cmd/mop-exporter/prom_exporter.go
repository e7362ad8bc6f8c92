/******************************************************************************
 *
 *  Description :
 *    PromExporter collects metrics in Prometheus format from a running
 *    central post office by scraping its /debug/vars endpoint.
 *
 *****************************************************************************/
package main

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/SlightlyLoony/MOP/logs"
)

// PromExporter implements prometheus.Collector over a Scraper.
type PromExporter struct {
	namespace string
	scraper   *Scraper

	up              *prometheus.Desc
	liveConnections *prometheus.Desc
	liveClients     *prometheus.Desc
	messagesRouted  *prometheus.Desc
	bytesIn         *prometheus.Desc
	bytesOut        *prometheus.Desc
	framesDropped   *prometheus.Desc
	authFailures    *prometheus.Desc
	uptime          *prometheus.Desc
	goroutines      *prometheus.Desc
}

// NewPromExporter returns an initialized Prometheus exporter that
// scrapes address (a central post office's /debug/vars URL) on demand.
func NewPromExporter(address, namespace string, timeout time.Duration) *PromExporter {
	return &PromExporter{
		namespace: namespace,
		scraper:   &Scraper{address: address, client: &http.Client{Timeout: timeout}},
		up: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "up"),
			"Whether the central post office is reachable.", nil, nil),
		liveConnections: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "live_connections"),
			"Number of currently connected post offices.", nil, nil),
		liveClients: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "live_clients"),
			"Number of configured post office clients.", nil, nil),
		messagesRouted: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "messages_routed_total"),
			"Total messages routed since the broker started.", nil, nil),
		bytesIn: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "bytes_in_total"),
			"Total bytes read from post office connections.", nil, nil),
		bytesOut: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "bytes_out_total"),
			"Total bytes written to post office connections.", nil, nil),
		framesDropped: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "frames_dropped_total"),
			"Total frames dropped: malformed or queue overflow.", nil, nil),
		authFailures: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "auth_failures_total"),
			"Total bad-authenticator connection attempts.", nil, nil),
		uptime: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "uptime_seconds"),
			"Seconds since the broker started.", nil, nil),
		goroutines: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "goroutines"),
			"Number of goroutines running in the broker process.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (e *PromExporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.up
	ch <- e.liveConnections
	ch <- e.liveClients
	ch <- e.messagesRouted
	ch <- e.bytesIn
	ch <- e.bytesOut
	ch <- e.framesDropped
	ch <- e.authFailures
	ch <- e.uptime
	ch <- e.goroutines
}

// Collect implements prometheus.Collector.
func (e *PromExporter) Collect(ch chan<- prometheus.Metric) {
	up := float64(1)
	stats, err := e.scraper.Scrape()
	if err != nil {
		up = 0
	} else if err := e.parseStats(ch, stats); err != nil {
		logs.Warning.Printf("exporter: %v", err)
		up = 0
	}
	ch <- prometheus.MustNewConstMetric(e.up, prometheus.GaugeValue, up)
}

func (e *PromExporter) parseStats(ch chan<- prometheus.Metric, stats map[string]interface{}) error {
	return firstError(
		e.emit(ch, e.liveConnections, prometheus.GaugeValue, stats, "LiveConnections"),
		e.emit(ch, e.liveClients, prometheus.GaugeValue, stats, "LiveClients"),
		e.emit(ch, e.messagesRouted, prometheus.CounterValue, stats, "MessagesRouted"),
		e.emit(ch, e.bytesIn, prometheus.CounterValue, stats, "BytesIn"),
		e.emit(ch, e.bytesOut, prometheus.CounterValue, stats, "BytesOut"),
		e.emit(ch, e.framesDropped, prometheus.CounterValue, stats, "FramesDropped"),
		e.emit(ch, e.authFailures, prometheus.CounterValue, stats, "AuthFailures"),
		e.emit(ch, e.uptime, prometheus.GaugeValue, stats, "Uptime"),
		e.emit(ch, e.goroutines, prometheus.GaugeValue, stats, "NumGoroutines"),
	)
}

func (e *PromExporter) emit(ch chan<- prometheus.Metric, desc *prometheus.Desc, vt prometheus.ValueType,
	stats map[string]interface{}, key string) error {
	v, err := parseMetric(stats, key)
	if err != nil {
		return err
	}
	ch <- prometheus.MustNewConstMetric(desc, vt, v)
	return nil
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
