package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Utterance is one audio sample plus its reference transcript as emitted by a
// dataset loader. DurationS is nil when the dataset does not record duration.
type Utterance struct {
	ExternalID string
	AudioPath  string
	RefText    string
	DurationS  *float64
	Meta       map[string]string
}

// Variant is the descriptor of one dataset subset (e.g. noise level, split).
type Variant map[string]string

// Key returns a canonical string identity for the variant. json.Marshal sorts
// map keys, so equal descriptors always produce equal keys.
func (v Variant) Key() string {
	if len(v) == 0 {
		return "{}"
	}
	b, _ := json.Marshal(v)
	return string(b)
}

// Label renders the variant for human-facing summary rows.
func (v Variant) Label(datasetName string) string {
	if len(v) == 0 {
		return datasetName + " [default]"
	}
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, v[k]))
	}
	return fmt.Sprintf("%s [%s]", datasetName, strings.Join(parts, ", "))
}

// Task is one unit of inference work: a single utterance within one dataset variant.
type Task struct {
	DatasetName string
	Variant     Variant
	Utt         Utterance
}

// JobRun is one execution attempt of a benchmark.
type JobRun struct {
	JobRunID    int64      `db:"job_run_id"`
	BenchmarkID string     `db:"benchmark_id"`
	ProviderID  int64      `db:"provider_id"`
	ModelID     int64      `db:"model_id"`
	EvalVersion string     `db:"eval_version"`
	StartedAt   time.Time  `db:"started_at"`
	EndedAt     *time.Time `db:"ended_at"`
	Status      string     `db:"status"`
	ErrorText   string     `db:"error_text"`
	EnvJSON     string     `db:"env_json"`
}

// IdentityIDs are the resolved primary keys for one (dataset, variant, utterance).
type IdentityIDs struct {
	DatasetID int64
	VariantID int64
	UttPK     int64
}

// Transcript is a provider's output for one utterance.
type Transcript struct {
	Text  string
	Words json.RawMessage
	Usage json.RawMessage
	Raw   json.RawMessage
}

// EvalRow is one prediction joined to its utterance and latency sample,
// as consumed by the evaluation pipeline.
type EvalRow struct {
	DatasetID   int64
	DatasetName string
	VariantID   int64
	RefText     string
	HypText     string
	TotalTimeMS float64
	DurationS   *float64
}

// CIResult is one confidence interval row for a metric/bucket.
type CIResult struct {
	Metric     string
	CILow      float64
	CIHigh     float64
	Iterations int
	Method     string
	Seed       int64
}

// SummaryRow is one (dataset, variant) line of the handler result payload.
type SummaryRow struct {
	BenchmarkID string `json:"benchmark_id"`
	JobRunID    int64  `json:"job_run_id"`
	Provider    string `json:"provider"`
	Model       string `json:"model"`
	EvalVersion string `json:"eval_version"`

	Label       string `json:"label"`
	DatasetID   int64  `json:"dataset_id"`
	VariantID   int64  `json:"variant_id"`
	NUtterances int    `json:"n_utterances"`

	WER       *float64 `json:"wer"`
	WERCILow  *float64 `json:"wer_ci_low"`
	WERCIHigh *float64 `json:"wer_ci_high"`

	LatencyP50MS       *float64 `json:"latency_p50_ms"`
	LatencyP50MSCILow  *float64 `json:"latency_p50_ms_ci_low"`
	LatencyP50MSCIHigh *float64 `json:"latency_p50_ms_ci_high"`

	LatencyP95MS       *float64 `json:"latency_p95_ms"`
	LatencyP95MSCILow  *float64 `json:"latency_p95_ms_ci_low"`
	LatencyP95MSCIHigh *float64 `json:"latency_p95_ms_ci_high"`

	RTFMean       *float64 `json:"rtf_mean"`
	RTFMeanCILow  *float64 `json:"rtf_mean_ci_low"`
	RTFMeanCIHigh *float64 `json:"rtf_mean_ci_high"`

	RTFP95       *float64 `json:"rtf_p95"`
	RTFP95CILow  *float64 `json:"rtf_p95_ci_low"`
	RTFP95CIHigh *float64 `json:"rtf_p95_ci_high"`
}

// HandlerResult is written back to the queue service as the job's final payload.
type HandlerResult struct {
	OK                 bool         `json:"ok"`
	Status             string       `json:"status"`
	BenchmarkID        string       `json:"benchmark_id"`
	JobRunID           int64        `json:"job_run_id"`
	Resumed            bool         `json:"resumed"`
	FinishedAt         string       `json:"finished_at"`
	MetricSummary      []SummaryRow `json:"metric_summary"`
	MetricSummaryError string       `json:"metric_summary_error,omitempty"`
	Error              string       `json:"error,omitempty"`
}
