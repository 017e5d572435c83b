package broadcast

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var connectedClients = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "sosdispatch",
		Subsystem: "broadcast",
		Name:      "connected_clients",
		Help:      "Number of connected dashboard websocket clients",
	},
)

func recordClientCount(n int) {
	connectedClients.Set(float64(n))
}
