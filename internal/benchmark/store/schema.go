package store

import (
	"context"
	"fmt"
	"strings"
)

// schemaTemplate is shared between SQLite and PostgreSQL; the driver-specific
// column types are substituted before execution.
const schemaTemplate = `
CREATE TABLE IF NOT EXISTS provider (
	provider_id {{pk}},
	name TEXT NOT NULL UNIQUE,
	sdk TEXT NOT NULL DEFAULT '',
	sdk_version TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS model (
	model_id {{pk}},
	provider_id BIGINT NOT NULL REFERENCES provider(provider_id),
	name TEXT NOT NULL,
	revision TEXT NOT NULL DEFAULT '',
	UNIQUE (provider_id, name)
);

CREATE TABLE IF NOT EXISTS benchmark (
	benchmark_id TEXT PRIMARY KEY,
	created_at {{ts}} NOT NULL,
	config_json TEXT NOT NULL,
	notes TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS job_run (
	job_run_id {{pk}},
	benchmark_id TEXT NOT NULL REFERENCES benchmark(benchmark_id),
	provider_id BIGINT NOT NULL,
	model_id BIGINT NOT NULL,
	eval_version TEXT NOT NULL,
	started_at {{ts}} NOT NULL,
	ended_at {{ts}},
	status TEXT NOT NULL DEFAULT 'running',
	error_text TEXT NOT NULL DEFAULT '',
	env_json TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS dataset (
	dataset_id {{pk}},
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS dataset_variant (
	variant_id {{pk}},
	dataset_id BIGINT NOT NULL REFERENCES dataset(dataset_id),
	variant_json TEXT NOT NULL,
	UNIQUE (dataset_id, variant_json)
);

CREATE TABLE IF NOT EXISTS utterance (
	utt_pk {{pk}},
	dataset_id BIGINT NOT NULL REFERENCES dataset(dataset_id),
	variant_id BIGINT NOT NULL REFERENCES dataset_variant(variant_id),
	external_id TEXT NOT NULL,
	audio_path TEXT NOT NULL,
	ref_text TEXT NOT NULL,
	duration_s {{real}},
	meta_json TEXT NOT NULL DEFAULT '{}',
	UNIQUE (dataset_id, variant_id, external_id)
);

CREATE TABLE IF NOT EXISTS prediction (
	prediction_id {{pk}},
	job_run_id BIGINT NOT NULL REFERENCES job_run(job_run_id),
	utt_pk BIGINT NOT NULL REFERENCES utterance(utt_pk),
	hyp_text TEXT NOT NULL,
	words_json TEXT NOT NULL DEFAULT '{}',
	usage_json TEXT NOT NULL DEFAULT '{}',
	created_at {{ts}} NOT NULL,
	UNIQUE (job_run_id, utt_pk)
);

CREATE TABLE IF NOT EXISTS latency_sample (
	lat_id {{pk}},
	job_run_id BIGINT NOT NULL REFERENCES job_run(job_run_id),
	utt_pk BIGINT NOT NULL REFERENCES utterance(utt_pk),
	api_time_ms {{real}} NOT NULL,
	total_time_ms {{real}} NOT NULL,
	rtf {{real}} NOT NULL,
	meta_json TEXT NOT NULL DEFAULT '{}',
	UNIQUE (job_run_id, utt_pk)
);

CREATE TABLE IF NOT EXISTS metric_summary (
	summary_id {{pk}},
	job_run_id BIGINT NOT NULL REFERENCES job_run(job_run_id),
	dataset_id BIGINT NOT NULL,
	variant_id BIGINT NOT NULL,
	metric TEXT NOT NULL,
	value {{real}} NOT NULL
);

CREATE TABLE IF NOT EXISTS bootstrap_result (
	boot_id {{pk}},
	job_run_id BIGINT NOT NULL REFERENCES job_run(job_run_id),
	dataset_id BIGINT NOT NULL,
	variant_id BIGINT NOT NULL,
	metric TEXT NOT NULL,
	ci_low {{real}} NOT NULL,
	ci_high {{real}} NOT NULL,
	iterations BIGINT NOT NULL DEFAULT 0,
	method TEXT NOT NULL,
	seed BIGINT NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS ix_prediction_run ON prediction(job_run_id);
CREATE INDEX IF NOT EXISTS ix_latency_run ON latency_sample(job_run_id);
CREATE INDEX IF NOT EXISTS ix_summary_run ON metric_summary(job_run_id);
CREATE INDEX IF NOT EXISTS ix_bootstrap_run ON bootstrap_result(job_run_id);
`

// Init idempotently creates the benchmark tables for the store's driver.
func (s *Store) Init(ctx context.Context) error {
	var repl *strings.Replacer
	switch s.db.DriverName() {
	case "sqlite":
		repl = strings.NewReplacer(
			"{{pk}}", "INTEGER PRIMARY KEY AUTOINCREMENT",
			"{{ts}}", "TIMESTAMP",
			"{{real}}", "REAL",
		)
	case "postgres":
		repl = strings.NewReplacer(
			"{{pk}}", "BIGSERIAL PRIMARY KEY",
			"{{ts}}", "TIMESTAMPTZ",
			"{{real}}", "DOUBLE PRECISION",
		)
	default:
		return fmt.Errorf("no schema for driver %q", s.db.DriverName())
	}

	if _, err := s.db.ExecContext(ctx, repl.Replace(schemaTemplate)); err != nil {
		return fmt.Errorf("failed to create benchmark schema: %w", err)
	}
	return nil
}
