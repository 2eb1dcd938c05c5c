package metrics

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ethereum-optimism/infra/op-systest/types"
)

const (
	MetricsNamespace = "systest"
)

var (
	Debug                bool = true
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "jobs_total",
		Help:      "Count of executed jobs",
	}, []string{
		"run_id",
		"test",
		"mode",
		"outcome",
	})

	runResults = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_results",
		Help:      "Worst outcome of completed runs",
	}, []string{
		"run_id",
		"outcome",
	})

	runJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_jobs_total",
		Help:      "Total number of jobs in a run",
	}, []string{
		"run_id",
	})

	runJobsPassed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_jobs_passed",
		Help:      "Number of passed jobs in a run",
	}, []string{
		"run_id",
	})

	runJobsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_jobs_failed",
		Help:      "Number of failed jobs in a run",
	}, []string{
		"run_id",
	})

	runDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration",
		Help:      "Duration of runs in seconds",
	}, []string{
		"run_id",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

// RecordJob counts one completed job under its literal outcome token.
func RecordJob(runID string, job types.Job, outcome types.Outcome) {
	if Debug {
		log.Debug("metric inc",
			"m", "jobs_total",
			"run_id", runID,
			"test", job.Descriptor.ID,
			"mode", job.Mode.Name,
			"outcome", outcome.String())
	}
	jobsTotal.WithLabelValues(runID, job.Descriptor.ID, job.Mode.Name, outcome.String()).Inc()
}

// RecordRun publishes the aggregate of a finished run.
func RecordRun(summary *types.RunSummary) {
	runResults.WithLabelValues(summary.RunID, summary.Worst().String()).Set(1)
	runJobsTotal.WithLabelValues(summary.RunID).Add(float64(summary.Stats.Total))
	runJobsPassed.WithLabelValues(summary.RunID).Add(float64(summary.Stats.Passed))
	runJobsFailed.WithLabelValues(summary.RunID).Add(float64(summary.Stats.Failed))
	runDuration.WithLabelValues(summary.RunID).Set(summary.Duration.Seconds())
}
