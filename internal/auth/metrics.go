package auth

import "github.com/prometheus/client_golang/prometheus"

var loginsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "notaryadmin_logins_total",
		Help: "Login attempts by result.",
	},
	[]string{"result"},
)

func init() {
	prometheus.MustRegister(loginsTotal)
}
