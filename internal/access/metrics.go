package access

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	accessChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docgate_access_checks_total",
			Help: "Document access checks by result and reason.",
		},
		[]string{"result", "reason"},
	)

	grantMutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docgate_grant_mutations_total",
			Help: "Grant lifecycle operations by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)
)

func observeMutation(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	grantMutationsTotal.WithLabelValues(op, outcome).Inc()
}
