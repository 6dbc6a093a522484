package guard

import "github.com/prometheus/client_golang/prometheus"

var accessDecisions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "notaryadmin_access_decisions_total",
		Help: "Access guard decisions by outcome and denial reason.",
	},
	[]string{"outcome", "reason"},
)

func init() {
	prometheus.MustRegister(accessDecisions)
}
