package telemetry

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ActionsTotal counts finished actions by result
	// (succeeded|skipped|no_data|failed).
	ActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strata_actions_total",
		Help: "Actions finished, by result.",
	}, []string{"result"})

	// PartitionsProcessed counts partitions selected for processing.
	PartitionsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "strata_partitions_processed_total",
		Help: "Partitions selected for processing across all actions.",
	})

	// ExpectationFailures counts failed data-quality checks by severity.
	ExpectationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strata_expectation_failures_total",
		Help: "Failed expectations/constraints, by severity.",
	}, []string{"severity"})
)

func Expose(port int) {
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		_ = http.ListenAndServe(fmt.Sprintf(":%d", port), nil)
	}()
}
