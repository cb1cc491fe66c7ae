package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/stewartlord/swarm-sub002/log"
)

var (
	namespace = ""
	subsystem = "swarm"
)

var (
	opCnt = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "review_operations_total",
		Help:      "Counter of review engine operations, by operation and result.",
	}, []string{"operation", "result"})

	opSuccessDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "review_operation_successful_duration_seconds",
		Help:      "Bucketed histogram of processing time (s) of successfully completed review operations, by operation (update/commit etc.).",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 7),
	}, []string{"operation"})
)

func init() {
	opCnt = register(opCnt, "review_operations_total").(*prometheus.CounterVec)
	opSuccessDuration = register(opSuccessDuration, "review_operation_successful_duration_seconds").(*prometheus.HistogramVec)
}

func register(c prometheus.Collector, name string) prometheus.Collector {
	err := prometheus.Register(c)
	if err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
		log.Panic(nil, map[string]interface{}{
			"metric_name": prometheus.BuildFQName(namespace, subsystem, name),
			"err":         err,
		}, "failed to register the prometheus metric")
	}
	return c
}

// RecordOperation counts a finished engine operation and, for successful ones,
// observes its duration.
func RecordOperation(operation string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	opCnt.WithLabelValues(operation, result).Inc()
	if err == nil {
		opSuccessDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}
