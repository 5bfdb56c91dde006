// Package storage implements the Postgres-backed persistence layer for
// jobs, step executions, dynamic pipeline configuration, and cost/feedback
// logs, using jmoiron/sqlx over database/sql with the lib/pq driver.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/medlingua/pipeline/core"
)

// Store bundles a connected database handle, the transparent field
// encryptor, and a logger, and is embedded by every repository in this
// package so they share one connection pool.
type Store struct {
	DB        *sqlx.DB
	Encryptor *Encryptor
	Logger    core.Logger
}

// Config configures the Postgres connection pool.
type Config struct {
	DatabaseURL     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects to Postgres, applies pool limits, and verifies
// connectivity with a bounded ping.
func Open(ctx context.Context, cfg Config, enc *Encryptor, logger core.Logger) (*Store, error) {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cfg.DatabaseURL == "" {
		return nil, core.NewDomainError(core.KindValidation, "DATABASE_URL is required", nil)
	}

	db, err := sqlx.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("storage: opening postgres connection: %w", err)
	}

	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 20
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = 30 * time.Minute
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("storage: pinging postgres: %w", err)
	}

	logger.Info("connected to postgres", map[string]interface{}{
		"max_open_conns": cfg.MaxOpenConns,
		"max_idle_conns": cfg.MaxIdleConns,
	})

	return &Store{DB: db, Encryptor: enc, Logger: logger}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.DB.Close()
}

// HealthCheck verifies the database is reachable within the given budget.
func (s *Store) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.DB.PingContext(ctx)
}

// schema is the bootstrap DDL, applied idempotently at startup by
// EnsureSchema. It uses jsonb for free-form metadata/snapshot columns and
// bytea for encrypted content.
const schema = `
CREATE TABLE IF NOT EXISTS document_classes (
	id                SERIAL PRIMARY KEY,
	class_key         TEXT UNIQUE NOT NULL,
	display_name      TEXT NOT NULL,
	description       TEXT,
	strong_indicators JSONB,
	weak_indicators   JSONB,
	is_system_class   BOOLEAN NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS available_models (
	id                  SERIAL PRIMARY KEY,
	provider            TEXT NOT NULL,
	name                TEXT NOT NULL,
	input_price_per_1k  DOUBLE PRECISION NOT NULL DEFAULT 0,
	output_price_per_1k DOUBLE PRECISION NOT NULL DEFAULT 0,
	enabled             BOOLEAN NOT NULL DEFAULT true
);

CREATE TABLE IF NOT EXISTS dynamic_steps (
	id                         SERIAL PRIMARY KEY,
	name                       TEXT NOT NULL,
	step_order                 INTEGER UNIQUE NOT NULL,
	enabled                    BOOLEAN NOT NULL DEFAULT true,
	prompt_template            TEXT NOT NULL,
	model_id                   BIGINT REFERENCES available_models(id),
	temperature                DOUBLE PRECISION NOT NULL DEFAULT 0.2,
	max_tokens                 INTEGER NOT NULL DEFAULT 2048,
	retry_on_failure           BOOLEAN NOT NULL DEFAULT true,
	max_retries                INTEGER NOT NULL DEFAULT 3,
	input_from_previous_step   BOOLEAN NOT NULL DEFAULT true,
	output_format              TEXT,
	document_class_id          BIGINT REFERENCES document_classes(id),
	is_branching_step          BOOLEAN NOT NULL DEFAULT false,
	branching_field            TEXT,
	post_branching             BOOLEAN NOT NULL DEFAULT false,
	required_context_variables JSONB,
	stop_on_values             JSONB,
	stop_reason                TEXT,
	stop_message               TEXT
);

CREATE TABLE IF NOT EXISTS ocr_configuration (
	id                          SERIAL PRIMARY KEY,
	engine                      TEXT NOT NULL DEFAULT 'LOCAL_OCR',
	pii_removal_enabled         BOOLEAN NOT NULL DEFAULT true,
	vision_llm_fallback_enabled BOOLEAN NOT NULL DEFAULT true,
	quality_floor               DOUBLE PRECISION NOT NULL DEFAULT 0.6,
	engine_config               JSONB
);

CREATE TABLE IF NOT EXISTS system_settings (
	key          TEXT PRIMARY KEY,
	value        TEXT NOT NULL,
	is_encrypted BOOLEAN NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS jobs (
	id                        BIGSERIAL PRIMARY KEY,
	processing_id             TEXT UNIQUE NOT NULL,
	filename                  TEXT NOT NULL,
	mime_class                TEXT NOT NULL,
	file_size                 BIGINT NOT NULL,
	file_content              BYTEA,
	pipeline_snapshot         JSONB,
	ocr_snapshot              JSONB,
	target_language           TEXT,
	status                    TEXT NOT NULL,
	progress                  INTEGER NOT NULL DEFAULT 0,
	active_step               TEXT,
	uploaded_at               TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at                TIMESTAMPTZ,
	completed_at              TIMESTAMPTZ,
	failed_at                 TIMESTAMPTZ,
	original_text             BYTEA,
	translated_text           BYTEA,
	language_translated_text  BYTEA,
	document_type_detected    TEXT,
	confidence_score          DOUBLE PRECISION,
	branching_path            TEXT,
	termination_reason        TEXT,
	termination_message       TEXT,
	termination_step          TEXT,
	matched_value             TEXT,
	error_step                TEXT,
	error_message             TEXT,
	guidelines_text           BYTEA,
	worker_id                 TEXT,
	content_cleared_at        TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_uploaded_at ON jobs(uploaded_at);

CREATE TABLE IF NOT EXISTS step_executions (
	id           BIGSERIAL PRIMARY KEY,
	job_id       BIGINT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	step_id      BIGINT NOT NULL,
	step_name    TEXT NOT NULL,
	step_order   INTEGER NOT NULL,
	status       TEXT NOT NULL,
	input_text   BYTEA,
	output_text  BYTEA,
	model_used   TEXT,
	prompt_used  TEXT,
	confidence   DOUBLE PRECISION,
	input_tokens INTEGER,
	output_tokens INTEGER,
	execution_ms BIGINT,
	retry_count  INTEGER NOT NULL DEFAULT 0,
	metadata     JSONB,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_step_executions_job ON step_executions(job_id, step_order);

CREATE TABLE IF NOT EXISTS feedback (
	id                 BIGSERIAL PRIMARY KEY,
	processing_id      TEXT NOT NULL,
	overall_rating     INTEGER NOT NULL,
	detailed_ratings   JSONB,
	comment            TEXT,
	data_consent_given BOOLEAN NOT NULL DEFAULT false,
	analysis_status    TEXT,
	analysis_report    JSONB,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_feedback_processing_id ON feedback(processing_id);

CREATE TABLE IF NOT EXISTS ai_cost_logs (
	id            BIGSERIAL PRIMARY KEY,
	processing_id TEXT NOT NULL,
	step_name     TEXT NOT NULL,
	provider      TEXT NOT NULL,
	model         TEXT NOT NULL,
	input_tokens  INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	cost_usd      DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_ai_cost_logs_processing_id ON ai_cost_logs(processing_id);
`

// EnsureSchema applies the bootstrap DDL. It is safe to call on every
// startup: every statement is IF NOT EXISTS.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.DB.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("storage: applying schema: %w", err)
	}
	return nil
}
