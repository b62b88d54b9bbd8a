package domain

// JobRun status constants
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusAborted   = "aborted"
)

// Handler result status values reported back to the queue service
const (
	ResultCompleted        = "completed"
	ResultAlreadyCompleted = "already_completed"
	ResultAborted          = "aborted"
)

// Metric names written by the evaluation pipeline
const (
	MetricWER              = "wer"
	MetricWERSentenceProxy = "wer_sentence_proxy"
	MetricLatencyP50       = "latency_p50_ms"
	MetricLatencyP95       = "latency_p95_ms"
	MetricRTFMean          = "rtf_mean"
	MetricRTFP95           = "rtf_p95"
)

// Confidence interval methods, in descending consumer preference
const (
	CIMethodBootstrapPercentile = "bootstrap_percentile"
	CIMethodOrderStatNormal     = "orderstat_normal_approx"
)

// Outcome is the terminal state of one inference task.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeSkipped
	OutcomeError
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeError:
		return "error"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// OutcomeCounts aggregates task outcomes for one executor run.
type OutcomeCounts struct {
	OK        int
	Skipped   int
	Errors    int
	Cancelled int
}

// Add records one task outcome.
func (c *OutcomeCounts) Add(o Outcome) {
	switch o {
	case OutcomeOK:
		c.OK++
	case OutcomeSkipped:
		c.Skipped++
	case OutcomeError:
		c.Errors++
	case OutcomeCancelled:
		c.Cancelled++
	}
}

// Total returns the number of tasks that reached a terminal outcome.
func (c OutcomeCounts) Total() int {
	return c.OK + c.Skipped + c.Errors + c.Cancelled
}
