package middleware

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pttracker/pttracker/bittorrent"
)

func init() {
	prometheus.MustRegister(PromAnnounces)
}

// PromAnnounces counts the handled announces by failure code, "0" meaning
// success.
var PromAnnounces = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "pttracker_middleware_announces_total",
	Help: "The number of announces handled, by failure code",
}, []string{"code"})

func recordAnnounce(err error) {
	code := 0
	if err != nil {
		code = bittorrent.AsFailure(err).Code
	}
	PromAnnounces.WithLabelValues(strconv.Itoa(code)).Inc()
}
