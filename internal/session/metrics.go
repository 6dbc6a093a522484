package session

import "github.com/prometheus/client_golang/prometheus"

var sessionsCreated = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "notaryadmin_sessions_created_total",
	Help: "Sessions created, anonymous or authenticated.",
})

func init() {
	prometheus.MustRegister(sessionsCreated)
}
