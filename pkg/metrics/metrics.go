package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PowSolvedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hps_pow_solved_total",
			Help: "Total number of proof-of-work challenges solved",
		},
	)

	PowHashesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hps_pow_hashes_total",
			Help: "Total number of hashes computed while mining",
		},
	)

	PowSeconds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hps_pow_seconds_total",
			Help: "Total wall-clock seconds spent mining",
		},
	)

	DataSentBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hps_data_sent_bytes_total",
			Help: "Total bytes of content sent to servers",
		},
	)

	DataReceivedBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hps_data_received_bytes_total",
			Help: "Total bytes of content received from servers",
		},
	)

	ContentDownloaded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hps_content_downloaded_total",
			Help: "Total number of blobs downloaded",
		},
	)

	ContentUploaded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hps_content_uploaded_total",
			Help: "Total number of blobs published",
		},
	)

	DNSRegistered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hps_dns_registered_total",
			Help: "Total number of names registered",
		},
	)

	ContentReported = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hps_content_reported_total",
			Help: "Total number of abuse reports sent",
		},
	)

	Reconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hps_reconnects_total",
			Help: "Total number of transport reconnection attempts",
		},
	)
)

// Handler returns the Prometheus HTTP handler serving every registered
// counter in text exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

func init() {
	prometheus.MustRegister(
		PowSolvedTotal,
		PowHashesTotal,
		PowSeconds,
		DataSentBytes,
		DataReceivedBytes,
		ContentDownloaded,
		ContentUploaded,
		DNSRegistered,
		ContentReported,
		Reconnects,
	)
}
