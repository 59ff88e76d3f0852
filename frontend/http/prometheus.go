package http

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pttracker/pttracker/bittorrent"
)

func init() {
	prometheus.MustRegister(promResponseDurationMilliseconds)
}

var promResponseDurationMilliseconds = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "pttracker_http_response_duration_milliseconds",
		Help:    "The duration of time it takes to receive and write a response to an API request",
		Buckets: prometheus.ExponentialBuckets(9.375, 2, 10),
	},
	[]string{"action", "address_family", "code"},
)

// recordResponseDuration records the duration of time to respond to a Request
// in milliseconds.
func recordResponseDuration(action, ip string, err error, duration time.Duration) {
	code := "0"
	if err != nil {
		code = strconv.Itoa(bittorrent.AsFailure(err).Code)
	}

	var addressFamily string
	switch {
	case bittorrent.IsIPv4(ip):
		addressFamily = "IPv4"
	case bittorrent.IsIPv6(ip):
		addressFamily = "IPv6"
	default:
		addressFamily = "Unknown"
	}

	promResponseDurationMilliseconds.
		WithLabelValues(action, addressFamily, code).
		Observe(float64(duration.Nanoseconds()) / float64(time.Millisecond))
}
