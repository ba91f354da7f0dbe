package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sentinel-group/catalog-sentinel/internal/model"
	"github.com/sentinel-group/catalog-sentinel/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hottest store operations.
var preparedStatements = map[string]string{
	"insert_decision":  `INSERT INTO decisions (decision_id, algorithm, version, company, platform, input_features, output, category, value, zone, city, lat, lon, ts, ingested_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
	"get_baseline":     `SELECT algorithm, metric, time_window, computed_at, stats, distribution FROM baselines WHERE algorithm = $1`,
	"get_incident":     `SELECT incident_id, algorithm, drift_score, kl_divergence, affected_metric, affected_zones, revenue_impact, status, detected_at, resolved_at, resolution, agent_analysis, workflow_id, workflow_actions FROM incidents WHERE incident_id = $1`,
	"get_entry":        `SELECT product_id, sku, name, brand, category, subcategory, price, currency, description, attributes, images, embedding, findability_score, schema_completeness, platform, ingested_at, updated_at FROM catalog_entries WHERE product_id = $1`,
	"insert_score":     `INSERT INTO score_history (product_id, score, issues, suggestions, computed_at) VALUES ($1, $2, $3, $4, $5)`,
	"insert_agent_log": `INSERT INTO agent_logs (agent, status, duration_ms, trigger, response_summary, ts) VALUES ($1, $2, $3, $4, $5, $6)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool for use by subsystems that need
// direct query access.
func (s *PostgresStore) Pool() Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS decisions (
	id             BIGSERIAL PRIMARY KEY,
	decision_id    TEXT NOT NULL,
	algorithm      TEXT NOT NULL,
	version        TEXT NOT NULL DEFAULT '',
	company        TEXT NOT NULL DEFAULT '',
	platform       TEXT NOT NULL DEFAULT '',
	input_features JSONB,
	output         JSONB NOT NULL,
	category       TEXT NOT NULL DEFAULT '',
	value          DOUBLE PRECISION NOT NULL DEFAULT 0,
	zone           TEXT NOT NULL DEFAULT '',
	city           TEXT NOT NULL DEFAULT '',
	lat            DOUBLE PRECISION,
	lon            DOUBLE PRECISION,
	ts             TIMESTAMPTZ NOT NULL,
	ingested_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_decisions_algorithm_ts ON decisions(algorithm, ts DESC);
CREATE INDEX IF NOT EXISTS idx_decisions_ts ON decisions(ts);
CREATE INDEX IF NOT EXISTS idx_decisions_decision_id ON decisions(decision_id);

CREATE TABLE IF NOT EXISTS baselines (
	algorithm    TEXT PRIMARY KEY,
	metric       TEXT NOT NULL,
	time_window  TEXT NOT NULL,
	computed_at  TIMESTAMPTZ NOT NULL,
	stats        JSONB NOT NULL,
	distribution JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS incidents (
	incident_id      TEXT PRIMARY KEY,
	algorithm        TEXT NOT NULL,
	drift_score      DOUBLE PRECISION NOT NULL,
	kl_divergence    DOUBLE PRECISION NOT NULL,
	affected_metric  TEXT NOT NULL DEFAULT '',
	affected_zones   JSONB,
	revenue_impact   DOUBLE PRECISION NOT NULL DEFAULT 0,
	status           TEXT NOT NULL DEFAULT 'detected',
	detected_at      TIMESTAMPTZ NOT NULL,
	resolved_at      TIMESTAMPTZ,
	resolution       JSONB,
	agent_analysis   TEXT NOT NULL DEFAULT '',
	workflow_id      TEXT NOT NULL DEFAULT '',
	workflow_actions JSONB
);

CREATE INDEX IF NOT EXISTS idx_incidents_algorithm ON incidents(algorithm);
CREATE INDEX IF NOT EXISTS idx_incidents_status ON incidents(status);
CREATE INDEX IF NOT EXISTS idx_incidents_detected_at ON incidents(detected_at DESC);

CREATE TABLE IF NOT EXISTS catalog_entries (
	product_id          TEXT PRIMARY KEY,
	sku                 TEXT NOT NULL DEFAULT '',
	name                TEXT NOT NULL,
	brand               TEXT NOT NULL DEFAULT '',
	category            TEXT NOT NULL DEFAULT '',
	subcategory         TEXT NOT NULL DEFAULT '',
	price               DOUBLE PRECISION NOT NULL DEFAULT 0,
	currency            TEXT NOT NULL DEFAULT '',
	description         TEXT NOT NULL DEFAULT '',
	attributes          JSONB NOT NULL DEFAULT '{}'::jsonb,
	images              JSONB,
	embedding           JSONB,
	findability_score   DOUBLE PRECISION NOT NULL DEFAULT 0,
	schema_completeness DOUBLE PRECISION NOT NULL DEFAULT 0,
	platform            TEXT NOT NULL DEFAULT '',
	ingested_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_catalog_entries_category ON catalog_entries(category);
CREATE INDEX IF NOT EXISTS idx_catalog_entries_score ON catalog_entries(findability_score);

CREATE TABLE IF NOT EXISTS schema_registry (
	category       TEXT NOT NULL,
	canonical_name TEXT NOT NULL,
	support_pct    DOUBLE PRECISION NOT NULL,
	product_count  INTEGER NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (category, canonical_name)
);

CREATE TABLE IF NOT EXISTS schema_mappings (
	mapping_id     TEXT PRIMARY KEY,
	product_id     TEXT NOT NULL,
	original_attr  TEXT NOT NULL,
	canonical_attr TEXT NOT NULL,
	confidence     DOUBLE PRECISION NOT NULL,
	method         TEXT NOT NULL,
	auto_applied   BOOLEAN NOT NULL DEFAULT false,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_schema_mappings_product ON schema_mappings(product_id);

CREATE TABLE IF NOT EXISTS score_history (
	id          BIGSERIAL PRIMARY KEY,
	product_id  TEXT NOT NULL,
	score       DOUBLE PRECISION NOT NULL,
	issues      JSONB,
	suggestions TEXT NOT NULL DEFAULT '',
	computed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_score_history_product ON score_history(product_id, computed_at DESC);

CREATE TABLE IF NOT EXISTS workflows (
	workflow_id  TEXT PRIMARY KEY,
	trigger      TEXT NOT NULL,
	entity_id    TEXT NOT NULL,
	entity_type  TEXT NOT NULL,
	actions      JSONB,
	status       TEXT NOT NULL,
	jira_ticket  TEXT NOT NULL DEFAULT '',
	slack_sent   BOOLEAN NOT NULL DEFAULT false,
	created_at   TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ NOT NULL,
	details      JSONB
);

CREATE INDEX IF NOT EXISTS idx_workflows_trigger ON workflows(trigger);
CREATE INDEX IF NOT EXISTS idx_workflows_created_at ON workflows(created_at DESC);

CREATE TABLE IF NOT EXISTS agent_logs (
	id               BIGSERIAL PRIMARY KEY,
	agent            TEXT NOT NULL,
	status           TEXT NOT NULL,
	duration_ms      DOUBLE PRECISION NOT NULL,
	trigger          TEXT NOT NULL DEFAULT '',
	response_summary TEXT NOT NULL DEFAULT '',
	ts               TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_agent_logs_agent ON agent_logs(agent, ts DESC);

CREATE TABLE IF NOT EXISTS handoff_queue (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	incident_id    TEXT NOT NULL,
	agent          TEXT NOT NULL,
	instruction    TEXT NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	next_retry_at  TIMESTAMPTZ NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_failed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_handoff_error_type ON handoff_queue(error_type);
CREATE INDEX IF NOT EXISTS idx_handoff_next_retry ON handoff_queue(next_retry_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// decisionColumns is the COPY column order for bulk decision ingest.
var decisionColumns = []string{
	"decision_id", "algorithm", "version", "company", "platform",
	"input_features", "output", "category", "value", "zone", "city",
	"lat", "lon", "ts", "ingested_at",
}

func decisionRow(d model.Decision) ([]any, error) {
	var featuresJSON []byte
	if d.InputFeatures != nil {
		var err error
		featuresJSON, err = json.Marshal(d.InputFeatures)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: marshal input features")
		}
	}
	outputJSON, err := json.Marshal(d.Output)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal output")
	}

	var zone, city string
	var lat, lon *float64
	if d.Location != nil {
		zone = d.Location.Zone
		city = d.Location.City
		lat = &d.Location.Lat
		lon = &d.Location.Lon
	}

	ingestedAt := d.IngestedAt
	if ingestedAt.IsZero() {
		ingestedAt = time.Now().UTC()
	}

	return []any{
		d.DecisionID, d.Algorithm, d.Version, d.Company, d.Platform,
		featuresJSON, outputJSON, d.OutputCategory(), d.OutputValue(),
		zone, city, lat, lon, d.Timestamp, ingestedAt,
	}, nil
}

func (s *PostgresStore) InsertDecision(ctx context.Context, d model.Decision) error {
	row, err := decisionRow(d)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO decisions (decision_id, algorithm, version, company, platform, input_features, output, category, value, zone, city, lat, lon, ts, ingested_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		row...,
	)
	return eris.Wrapf(err, "postgres: insert decision %s", d.DecisionID)
}

func (s *PostgresStore) BulkInsertDecisions(ctx context.Context, ds []model.Decision) (int64, error) {
	rows := make([][]any, 0, len(ds))
	for i := range ds {
		row, err := decisionRow(ds[i])
		if err != nil {
			return 0, err
		}
		rows = append(rows, row)
	}
	n, err := copyRows(ctx, s.pool, "decisions", decisionColumns, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: bulk insert decisions")
	}
	return n, nil
}

func (s *PostgresStore) CurrentDistribution(ctx context.Context, algorithm string, window time.Duration) (*model.CurrentDistribution, error) {
	cutoff := time.Now().UTC().Add(-window)

	rows, err := s.pool.Query(ctx,
		`SELECT category, COUNT(*) FROM decisions
		 WHERE algorithm = $1 AND ts >= $2
		 GROUP BY category`,
		algorithm, cutoff,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: current distribution")
	}
	defer rows.Close()

	counts := map[string]int{}
	total := 0
	for rows.Next() {
		var category string
		var n int
		if err := rows.Scan(&category, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan distribution bucket")
		}
		counts[category] = n
		total += n
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: current distribution iterate")
	}

	dist := &model.CurrentDistribution{
		Algorithm:     algorithm,
		Count:         total,
		Distribution:  map[string]float64{},
		WindowMinutes: int(window.Minutes()),
	}
	if total == 0 {
		return dist, nil
	}
	for category, n := range counts {
		dist.Distribution[category] = float64(n) / float64(total)
	}

	err = s.pool.QueryRow(ctx,
		`SELECT COALESCE(AVG(value), 0) FROM decisions WHERE algorithm = $1 AND ts >= $2`,
		algorithm, cutoff,
	).Scan(&dist.AvgValue)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: current avg value")
	}

	zoneRows, err := s.pool.Query(ctx,
		`SELECT zone, COUNT(*) FROM decisions
		 WHERE algorithm = $1 AND ts >= $2 AND zone <> ''
		 GROUP BY zone`,
		algorithm, cutoff,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: current zones")
	}
	defer zoneRows.Close()

	zones := map[string]int{}
	for zoneRows.Next() {
		var zone string
		var n int
		if err := zoneRows.Scan(&zone, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan zone bucket")
		}
		zones[zone] = n
	}
	if err := zoneRows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: current zones iterate")
	}
	if len(zones) > 0 {
		dist.Zones = zones
	}
	return dist, nil
}

func (s *PostgresStore) DecisionStats(ctx context.Context, algorithm string, window time.Duration) (*model.BaselineStats, map[string]float64, error) {
	cutoff := time.Now().UTC().Add(-window)

	var stats model.BaselineStats
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COALESCE(AVG(value), 0),
		        COALESCE(STDDEV_SAMP(value), 0),
		        COALESCE(PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY value), 0),
		        COALESCE(PERCENTILE_CONT(0.95) WITHIN GROUP (ORDER BY value), 0),
		        COALESCE(PERCENTILE_CONT(0.99) WITHIN GROUP (ORDER BY value), 0)
		 FROM decisions WHERE algorithm = $1 AND ts >= $2`,
		algorithm, cutoff,
	).Scan(&stats.Count, &stats.Mean, &stats.Std, &stats.P50, &stats.P95, &stats.P99)
	if err != nil {
		return nil, nil, eris.Wrap(err, "postgres: decision stats")
	}

	distribution := map[string]float64{}
	if stats.Count == 0 {
		return &stats, distribution, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT category, COUNT(*) FROM decisions
		 WHERE algorithm = $1 AND ts >= $2
		 GROUP BY category`,
		algorithm, cutoff,
	)
	if err != nil {
		return nil, nil, eris.Wrap(err, "postgres: decision stats distribution")
	}
	defer rows.Close()

	for rows.Next() {
		var category string
		var n int
		if err := rows.Scan(&category, &n); err != nil {
			return nil, nil, eris.Wrap(err, "postgres: scan stats bucket")
		}
		distribution[category] = float64(n) / float64(stats.Count)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, eris.Wrap(err, "postgres: decision stats iterate")
	}
	return &stats, distribution, nil
}

func (s *PostgresStore) ActiveAlgorithms(ctx context.Context, since time.Duration) ([]string, error) {
	cutoff := time.Now().UTC().Add(-since)
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT algorithm FROM decisions WHERE ts >= $1 ORDER BY algorithm`,
		cutoff,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: active algorithms")
	}
	defer rows.Close()

	var algorithms []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, eris.Wrap(err, "postgres: scan algorithm")
		}
		algorithms = append(algorithms, a)
	}
	return algorithms, eris.Wrap(rows.Err(), "postgres: active algorithms iterate")
}

func (s *PostgresStore) UpsertBaseline(ctx context.Context, b model.Baseline) error {
	statsJSON, err := json.Marshal(b.Stats)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal baseline stats")
	}
	distJSON, err := json.Marshal(b.Distribution)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal baseline distribution")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO baselines (algorithm, metric, time_window, computed_at, stats, distribution)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (algorithm) DO UPDATE SET
		   metric = $2, time_window = $3, computed_at = $4, stats = $5, distribution = $6`,
		b.Algorithm, b.Metric, b.Window, b.ComputedAt, statsJSON, distJSON,
	)
	return eris.Wrapf(err, "postgres: upsert baseline %s", b.Algorithm)
}

func (s *PostgresStore) GetBaseline(ctx context.Context, algorithm string) (*model.Baseline, error) {
	var b model.Baseline
	var statsJSON, distJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT algorithm, metric, time_window, computed_at, stats, distribution FROM baselines WHERE algorithm = $1`,
		algorithm,
	).Scan(&b.Algorithm, &b.Metric, &b.Window, &b.ComputedAt, &statsJSON, &distJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get baseline %s", algorithm)
	}

	if err := json.Unmarshal(statsJSON, &b.Stats); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal baseline stats")
	}
	if err := json.Unmarshal(distJSON, &b.Distribution); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal baseline distribution")
	}
	return &b, nil
}

func (s *PostgresStore) CreateIncident(ctx context.Context, inc model.Incident) error {
	zonesJSON, err := json.Marshal(inc.AffectedZones)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal affected zones")
	}

	var resolutionJSON []byte
	if inc.Resolution != nil {
		resolutionJSON, err = json.Marshal(inc.Resolution)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal resolution")
		}
	}
	actionsJSON, err := json.Marshal(inc.WorkflowActions)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal workflow actions")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO incidents
		 (incident_id, algorithm, drift_score, kl_divergence, affected_metric, affected_zones, revenue_impact, status, detected_at, resolved_at, resolution, agent_analysis, workflow_id, workflow_actions)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		inc.IncidentID, inc.Algorithm, inc.DriftScore, inc.KLDivergence,
		inc.AffectedMetric, zonesJSON, inc.RevenueImpact, string(inc.Status),
		inc.DetectedAt, inc.ResolvedAt, resolutionJSON, inc.AgentAnalysis,
		inc.WorkflowID, actionsJSON,
	)
	return eris.Wrapf(err, "postgres: create incident %s", inc.IncidentID)
}

func scanIncident(row pgx.Row) (*model.Incident, error) {
	var inc model.Incident
	var zonesJSON, actionsJSON []byte
	var resolutionJSON *[]byte

	err := row.Scan(&inc.IncidentID, &inc.Algorithm, &inc.DriftScore,
		&inc.KLDivergence, &inc.AffectedMetric, &zonesJSON, &inc.RevenueImpact,
		&inc.Status, &inc.DetectedAt, &inc.ResolvedAt, &resolutionJSON,
		&inc.AgentAnalysis, &inc.WorkflowID, &actionsJSON)
	if err != nil {
		return nil, err
	}

	if len(zonesJSON) > 0 {
		if err := json.Unmarshal(zonesJSON, &inc.AffectedZones); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal affected zones")
		}
	}
	if resolutionJSON != nil {
		inc.Resolution = &model.Resolution{}
		if err := json.Unmarshal(*resolutionJSON, inc.Resolution); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal resolution")
		}
	}
	if len(actionsJSON) > 0 {
		if err := json.Unmarshal(actionsJSON, &inc.WorkflowActions); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal workflow actions")
		}
	}
	return &inc, nil
}

const incidentSelect = `SELECT incident_id, algorithm, drift_score, kl_divergence, affected_metric, affected_zones, revenue_impact, status, detected_at, resolved_at, resolution, agent_analysis, workflow_id, workflow_actions FROM incidents`

func (s *PostgresStore) GetIncident(ctx context.Context, incidentID string) (*model.Incident, error) {
	inc, err := scanIncident(s.pool.QueryRow(ctx, incidentSelect+` WHERE incident_id = $1`, incidentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get incident %s", incidentID)
	}
	return inc, nil
}

func (s *PostgresStore) ListIncidents(ctx context.Context, filter IncidentFilter) ([]model.Incident, error) {
	query := incidentSelect + ` WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Algorithm != "" {
		query += fmt.Sprintf(` AND algorithm = $%d`, argIdx)
		args = append(args, filter.Algorithm)
		argIdx++
	}
	query += ` ORDER BY detected_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list incidents")
	}
	defer rows.Close()

	var incidents []model.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan incident")
		}
		incidents = append(incidents, *inc)
	}
	return incidents, eris.Wrap(rows.Err(), "postgres: list incidents iterate")
}

func (s *PostgresStore) UpdateIncidentStatus(ctx context.Context, incidentID string, status model.IncidentStatus) error {
	var current model.IncidentStatus
	err := s.pool.QueryRow(ctx,
		`SELECT status FROM incidents WHERE incident_id = $1`,
		incidentID,
	).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return eris.Errorf("incident not found: %s", incidentID)
		}
		return eris.Wrapf(err, "postgres: read incident status %s", incidentID)
	}
	if !current.CanTransition(status) {
		return eris.Errorf("incident %s: invalid status transition %s -> %s", incidentID, current, status)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE incidents SET status = $1 WHERE incident_id = $2 AND status = $3`,
		string(status), incidentID, string(current),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update incident status %s", incidentID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("incident %s: concurrent status change", incidentID)
	}
	return nil
}

// SetIncidentAnalysis records the agent's analysis. The status only moves
// forward: an analysis landing after the incident progressed (a late handoff
// retry against a resolved incident) keeps the newer status.
func (s *PostgresStore) SetIncidentAnalysis(ctx context.Context, incidentID string, analysis string, status model.IncidentStatus) error {
	var current model.IncidentStatus
	err := s.pool.QueryRow(ctx,
		`SELECT status FROM incidents WHERE incident_id = $1`,
		incidentID,
	).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return eris.Errorf("incident not found: %s", incidentID)
		}
		return eris.Wrapf(err, "postgres: read incident status %s", incidentID)
	}

	next := status
	if !current.CanTransition(next) {
		next = current
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE incidents SET agent_analysis = $1, status = $2 WHERE incident_id = $3`,
		analysis, string(next), incidentID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set incident analysis %s", incidentID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("incident not found: %s", incidentID)
	}
	return nil
}

func (s *PostgresStore) SetIncidentWorkflow(ctx context.Context, incidentID string, workflowID string, actions []string) error {
	actionsJSON, err := json.Marshal(actions)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal workflow actions")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE incidents SET workflow_id = $1, workflow_actions = $2 WHERE incident_id = $3`,
		workflowID, actionsJSON, incidentID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set incident workflow %s", incidentID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("incident not found: %s", incidentID)
	}
	return nil
}

func (s *PostgresStore) ResolveIncident(ctx context.Context, incidentID string, res model.Resolution) error {
	resolutionJSON, err := json.Marshal(res)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal resolution")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE incidents SET status = $1, resolution = $2, resolved_at = $3
		 WHERE incident_id = $4 AND status <> $1`,
		string(model.IncidentResolved), resolutionJSON, res.ResolvedAt, incidentID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: resolve incident %s", incidentID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("incident not found or already resolved: %s", incidentID)
	}
	return nil
}

func (s *PostgresStore) RecentIncidentExists(ctx context.Context, algorithm string, within time.Duration) (bool, error) {
	cutoff := time.Now().UTC().Add(-within)
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM incidents WHERE algorithm = $1 AND detected_at >= $2)`,
		algorithm, cutoff,
	).Scan(&exists)
	return exists, eris.Wrapf(err, "postgres: recent incident exists %s", algorithm)
}

func (s *PostgresStore) DriftMetrics(ctx context.Context, periodHours int) (*model.DriftMetrics, error) {
	if periodHours <= 0 {
		periodHours = 24
	}
	cutoff := time.Now().UTC().Add(-time.Duration(periodHours) * time.Hour)

	m := &model.DriftMetrics{
		PeriodHours: periodHours,
		ByStatus:    map[string]int{},
		ByAlgorithm: map[string]int{},
	}

	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE (resolution->>'auto_fixed')::boolean),
		        COALESCE(AVG(kl_divergence), 0),
		        COALESCE(SUM(revenue_impact), 0)
		 FROM incidents WHERE detected_at >= $1`,
		cutoff,
	).Scan(&m.TotalIncidents, &m.AutoFixed, &m.AvgKLDivergence, &m.TotalRevenueAtRisk)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: drift metrics totals")
	}
	if m.TotalIncidents > 0 {
		m.AutoFixRatePct = float64(m.AutoFixed) / float64(m.TotalIncidents) * 100
	}

	statusRows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM incidents WHERE detected_at >= $1 GROUP BY status`,
		cutoff,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: drift metrics by status")
	}
	defer statusRows.Close()
	for statusRows.Next() {
		var status string
		var n int
		if err := statusRows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan status bucket")
		}
		m.ByStatus[status] = n
	}
	if err := statusRows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: drift metrics by status iterate")
	}

	algoRows, err := s.pool.Query(ctx,
		`SELECT algorithm, COUNT(*) FROM incidents WHERE detected_at >= $1 GROUP BY algorithm`,
		cutoff,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: drift metrics by algorithm")
	}
	defer algoRows.Close()
	for algoRows.Next() {
		var algorithm string
		var n int
		if err := algoRows.Scan(&algorithm, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan algorithm bucket")
		}
		m.ByAlgorithm[algorithm] = n
	}
	if err := algoRows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: drift metrics by algorithm iterate")
	}
	return m, nil
}

const entrySelect = `SELECT product_id, sku, name, brand, category, subcategory, price, currency, description, attributes, images, embedding, findability_score, schema_completeness, platform, ingested_at, updated_at FROM catalog_entries`

func (s *PostgresStore) UpsertEntry(ctx context.Context, e model.CatalogEntry) error {
	attrsJSON, err := json.Marshal(e.Attributes)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal attributes")
	}
	var imagesJSON, embeddingJSON []byte
	if e.Images != nil {
		imagesJSON, err = json.Marshal(e.Images)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal images")
		}
	}
	if e.Embedding != nil {
		embeddingJSON, err = json.Marshal(e.Embedding)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal embedding")
		}
	}

	now := time.Now().UTC()
	ingestedAt := e.IngestedAt
	if ingestedAt.IsZero() {
		ingestedAt = now
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO catalog_entries
		 (product_id, sku, name, brand, category, subcategory, price, currency, description, attributes, images, embedding, findability_score, schema_completeness, platform, ingested_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		 ON CONFLICT (product_id) DO UPDATE SET
		   sku = $2, name = $3, brand = $4, category = $5, subcategory = $6,
		   price = $7, currency = $8, description = $9, attributes = $10,
		   images = $11, embedding = COALESCE($12, catalog_entries.embedding),
		   findability_score = $13, schema_completeness = $14, platform = $15,
		   updated_at = $17`,
		e.ProductID, e.SKU, e.Name, e.Brand, e.Category, e.Subcategory,
		e.Price, e.Currency, e.Description, attrsJSON, imagesJSON, embeddingJSON,
		e.FindabilityScore, e.SchemaCompleteness, e.Platform, ingestedAt, now,
	)
	return eris.Wrapf(err, "postgres: upsert entry %s", e.ProductID)
}

func scanEntry(row pgx.Row) (*model.CatalogEntry, error) {
	var e model.CatalogEntry
	var attrsJSON []byte
	var imagesJSON, embeddingJSON *[]byte

	err := row.Scan(&e.ProductID, &e.SKU, &e.Name, &e.Brand, &e.Category,
		&e.Subcategory, &e.Price, &e.Currency, &e.Description, &attrsJSON,
		&imagesJSON, &embeddingJSON, &e.FindabilityScore, &e.SchemaCompleteness,
		&e.Platform, &e.IngestedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if len(attrsJSON) > 0 {
		if err := json.Unmarshal(attrsJSON, &e.Attributes); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal attributes")
		}
	}
	if imagesJSON != nil {
		if err := json.Unmarshal(*imagesJSON, &e.Images); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal images")
		}
	}
	if embeddingJSON != nil {
		if err := json.Unmarshal(*embeddingJSON, &e.Embedding); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal embedding")
		}
	}
	return &e, nil
}

func (s *PostgresStore) GetEntry(ctx context.Context, productID string) (*model.CatalogEntry, error) {
	e, err := scanEntry(s.pool.QueryRow(ctx, entrySelect+` WHERE product_id = $1`, productID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get entry %s", productID)
	}
	return e, nil
}

func (s *PostgresStore) SearchEntries(ctx context.Context, filter EntryFilter) ([]model.CatalogEntry, error) {
	query := entrySelect + ` WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Query != "" {
		query += fmt.Sprintf(` AND (name ILIKE $%d OR description ILIKE $%d)`, argIdx, argIdx)
		args = append(args, "%"+filter.Query+"%")
		argIdx++
	}
	if filter.Category != "" {
		query += fmt.Sprintf(` AND category = $%d`, argIdx)
		args = append(args, filter.Category)
		argIdx++
	}
	if filter.MaxScore > 0 {
		query += fmt.Sprintf(` AND findability_score <= $%d`, argIdx)
		args = append(args, filter.MaxScore)
		argIdx++
	}
	query += ` ORDER BY updated_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: search entries")
	}
	defer rows.Close()

	var entries []model.CatalogEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan entry")
		}
		entries = append(entries, *e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: search entries iterate")
}

func (s *PostgresStore) CandidateEntries(ctx context.Context, category, excludeID string, limit int) ([]model.CatalogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	query := entrySelect + ` WHERE embedding IS NOT NULL AND product_id <> $1`
	args := []any{excludeID}
	argIdx := 2

	if category != "" {
		query += fmt.Sprintf(` AND category = $%d`, argIdx)
		args = append(args, category)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY updated_at DESC LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: candidate entries")
	}
	defer rows.Close()

	var entries []model.CatalogEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan candidate entry")
		}
		entries = append(entries, *e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: candidate entries iterate")
}

func (s *PostgresStore) KeywordEntries(ctx context.Context, query, category string, limit int) ([]model.CatalogEntry, error) {
	if limit <= 0 {
		limit = 30
	}
	sql := entrySelect + ` WHERE (name ILIKE $1 OR description ILIKE $1)`
	args := []any{"%" + query + "%"}
	argIdx := 2

	if category != "" {
		sql += fmt.Sprintf(` AND category = $%d`, argIdx)
		args = append(args, category)
		argIdx++
	}
	sql += fmt.Sprintf(` ORDER BY findability_score DESC LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: keyword entries")
	}
	defer rows.Close()

	var entries []model.CatalogEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan keyword entry")
		}
		entries = append(entries, *e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: keyword entries iterate")
}

func (s *PostgresStore) CategoryAttributeCounts(ctx context.Context, category string) (map[string]int, int, error) {
	var total int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM catalog_entries WHERE category = $1`,
		category,
	).Scan(&total)
	if err != nil {
		return nil, 0, eris.Wrapf(err, "postgres: category total %s", category)
	}

	counts := map[string]int{}
	if total == 0 {
		return counts, 0, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT attr, COUNT(*)
		 FROM catalog_entries, LATERAL jsonb_object_keys(attributes) AS attr
		 WHERE category = $1
		 GROUP BY attr`,
		category,
	)
	if err != nil {
		return nil, 0, eris.Wrapf(err, "postgres: category attribute counts %s", category)
	}
	defer rows.Close()

	for rows.Next() {
		var attr string
		var n int
		if err := rows.Scan(&attr, &n); err != nil {
			return nil, 0, eris.Wrap(err, "postgres: scan attribute count")
		}
		counts[attr] = n
	}
	return counts, total, eris.Wrap(rows.Err(), "postgres: category attribute counts iterate")
}

func (s *PostgresStore) ReplaceRegistry(ctx context.Context, category string, entries []model.SchemaRegistryEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: replace registry begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM schema_registry WHERE category = $1`, category); err != nil {
		return eris.Wrapf(err, "postgres: replace registry delete %s", category)
	}

	if len(entries) > 0 {
		rows := make([][]any, 0, len(entries))
		for _, e := range entries {
			rows = append(rows, []any{e.Category, e.CanonicalName, e.SupportPct, e.ProductCount, e.UpdatedAt})
		}
		_, err = tx.CopyFrom(ctx, pgx.Identifier{"schema_registry"},
			[]string{"category", "canonical_name", "support_pct", "product_count", "updated_at"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: replace registry copy %s", category)
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: replace registry commit")
}

func (s *PostgresStore) GetRegistry(ctx context.Context, category string) ([]model.SchemaRegistryEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT category, canonical_name, support_pct, product_count, updated_at
		 FROM schema_registry WHERE category = $1 ORDER BY support_pct DESC`,
		category,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get registry %s", category)
	}
	defer rows.Close()

	var entries []model.SchemaRegistryEntry
	for rows.Next() {
		var e model.SchemaRegistryEntry
		if err := rows.Scan(&e.Category, &e.CanonicalName, &e.SupportPct, &e.ProductCount, &e.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan registry entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: get registry iterate")
}

func (s *PostgresStore) InsertMappings(ctx context.Context, ms []model.SchemaMapping) error {
	if len(ms) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(ms))
	for _, m := range ms {
		id := m.MappingID
		if id == "" {
			id = uuid.New().String()
		}
		createdAt := m.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		rows = append(rows, []any{id, m.ProductID, m.OriginalAttr, m.CanonicalAttr, m.Confidence, string(m.Method), m.AutoApplied, createdAt})
	}
	_, err := copyRows(ctx, s.pool, "schema_mappings",
		[]string{"mapping_id", "product_id", "original_attr", "canonical_attr", "confidence", "method", "auto_applied", "created_at"},
		rows,
	)
	return eris.Wrap(err, "postgres: insert mappings")
}

func (s *PostgresStore) InsertScoreRecord(ctx context.Context, r model.ScoreRecord) error {
	issuesJSON, err := json.Marshal(r.Issues)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal score issues")
	}

	computedAt := r.ComputedAt
	if computedAt.IsZero() {
		computedAt = time.Now().UTC()
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO score_history (product_id, score, issues, suggestions, computed_at) VALUES ($1, $2, $3, $4, $5)`,
		r.ProductID, r.Score, issuesJSON, r.Suggestions, computedAt,
	)
	return eris.Wrapf(err, "postgres: insert score record %s", r.ProductID)
}

func (s *PostgresStore) ScoreHistory(ctx context.Context, productID string, limit int) ([]model.ScoreRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT product_id, score, issues, suggestions, computed_at
		 FROM score_history WHERE product_id = $1
		 ORDER BY computed_at DESC LIMIT $2`,
		productID, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: score history %s", productID)
	}
	defer rows.Close()

	var records []model.ScoreRecord
	for rows.Next() {
		var r model.ScoreRecord
		var issuesJSON []byte
		if err := rows.Scan(&r.ProductID, &r.Score, &issuesJSON, &r.Suggestions, &r.ComputedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan score record")
		}
		if len(issuesJSON) > 0 {
			if err := json.Unmarshal(issuesJSON, &r.Issues); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal score issues")
			}
		}
		records = append(records, r)
	}
	return records, eris.Wrap(rows.Err(), "postgres: score history iterate")
}

func (s *PostgresStore) CatalogMetrics(ctx context.Context) (*model.CatalogMetrics, error) {
	m := &model.CatalogMetrics{}

	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COALESCE(AVG(findability_score), 0),
		        COUNT(*) FILTER (WHERE findability_score < 50)
		 FROM catalog_entries`,
	).Scan(&m.TotalProducts, &m.AvgFindability, &m.LowScoreProducts)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: catalog metrics totals")
	}
	if m.TotalProducts > 0 {
		m.LowScorePct = float64(m.LowScoreProducts) / float64(m.TotalProducts) * 100
	}

	err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM schema_mappings`).Scan(&m.TotalSchemaMappings)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: catalog metrics mappings")
	}

	catRows, err := s.pool.Query(ctx,
		`SELECT category, COUNT(*), COALESCE(AVG(findability_score), 0)
		 FROM catalog_entries WHERE category <> ''
		 GROUP BY category ORDER BY COUNT(*) DESC LIMIT 10`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: catalog metrics by category")
	}
	defer catRows.Close()
	for catRows.Next() {
		var cs model.CategoryStats
		if err := catRows.Scan(&cs.Category, &cs.Count, &cs.AvgScore); err != nil {
			return nil, eris.Wrap(err, "postgres: scan category stats")
		}
		m.ByCategory = append(m.ByCategory, cs)
	}
	if err := catRows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: catalog metrics by category iterate")
	}

	bucketRows, err := s.pool.Query(ctx,
		`SELECT LEAST(FLOOR(findability_score / 20) * 20, 80)::int AS lo, COUNT(*)
		 FROM catalog_entries GROUP BY lo ORDER BY lo`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: catalog metrics histogram")
	}
	defer bucketRows.Close()
	for bucketRows.Next() {
		var lo, n int
		if err := bucketRows.Scan(&lo, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan score bucket")
		}
		m.ScoreDistribution = append(m.ScoreDistribution, model.ScoreBucket{
			Range: fmt.Sprintf("%d-%d", lo, lo+20),
			Count: n,
		})
	}
	if err := bucketRows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: catalog metrics histogram iterate")
	}
	return m, nil
}

func (s *PostgresStore) InsertWorkflow(ctx context.Context, w model.WorkflowRecord) error {
	actionsJSON, err := json.Marshal(w.Actions)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal workflow record actions")
	}
	var detailsJSON []byte
	if w.Details != nil {
		detailsJSON, err = json.Marshal(w.Details)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal workflow details")
		}
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO workflows
		 (workflow_id, trigger, entity_id, entity_type, actions, status, jira_ticket, slack_sent, created_at, completed_at, details)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		w.WorkflowID, w.Trigger, w.EntityID, w.EntityType, actionsJSON,
		w.Status, w.JiraTicket, w.SlackSent, w.CreatedAt, w.CompletedAt, detailsJSON,
	)
	return eris.Wrapf(err, "postgres: insert workflow %s", w.WorkflowID)
}

func (s *PostgresStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]model.WorkflowRecord, error) {
	query := `SELECT workflow_id, trigger, entity_id, entity_type, actions, status, jira_ticket, slack_sent, created_at, completed_at, details FROM workflows WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Trigger != "" {
		query += fmt.Sprintf(` AND trigger = $%d`, argIdx)
		args = append(args, filter.Trigger)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list workflows")
	}
	defer rows.Close()

	var workflows []model.WorkflowRecord
	for rows.Next() {
		var w model.WorkflowRecord
		var actionsJSON []byte
		var detailsJSON *[]byte
		if err := rows.Scan(&w.WorkflowID, &w.Trigger, &w.EntityID, &w.EntityType,
			&actionsJSON, &w.Status, &w.JiraTicket, &w.SlackSent,
			&w.CreatedAt, &w.CompletedAt, &detailsJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan workflow")
		}
		if len(actionsJSON) > 0 {
			if err := json.Unmarshal(actionsJSON, &w.Actions); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal workflow record actions")
			}
		}
		if detailsJSON != nil {
			if err := json.Unmarshal(*detailsJSON, &w.Details); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal workflow details")
			}
		}
		workflows = append(workflows, w)
	}
	return workflows, eris.Wrap(rows.Err(), "postgres: list workflows iterate")
}

func (s *PostgresStore) WorkflowStats(ctx context.Context) (*model.WorkflowStats, error) {
	stats := &model.WorkflowStats{ByTrigger: map[string]int{}}

	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE status = 'completed'),
		        COUNT(*) FILTER (WHERE slack_sent)
		 FROM workflows`,
	).Scan(&stats.TotalWorkflows, &stats.Completed, &stats.SlackAlertsSent)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: workflow stats totals")
	}
	if stats.TotalWorkflows > 0 {
		stats.SuccessRatePct = float64(stats.Completed) / float64(stats.TotalWorkflows) * 100
	}

	rows, err := s.pool.Query(ctx,
		`SELECT trigger, COUNT(*) FROM workflows GROUP BY trigger`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: workflow stats by trigger")
	}
	defer rows.Close()
	for rows.Next() {
		var trigger string
		var n int
		if err := rows.Scan(&trigger, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan trigger bucket")
		}
		stats.ByTrigger[trigger] = n
	}
	return stats, eris.Wrap(rows.Err(), "postgres: workflow stats iterate")
}

func (s *PostgresStore) InsertAgentLog(ctx context.Context, l model.AgentLog) error {
	ts := l.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO agent_logs (agent, status, duration_ms, trigger, response_summary, ts) VALUES ($1, $2, $3, $4, $5, $6)`,
		l.Agent, l.Status, l.DurationMS, l.Trigger, l.ResponseSummary, ts,
	)
	return eris.Wrapf(err, "postgres: insert agent log %s", l.Agent)
}

// Handoff queue methods

func (s *PostgresStore) EnqueueHandoff(ctx context.Context, entry resilience.HandoffEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO handoff_queue
		 (id, incident_id, agent, instruction, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO UPDATE SET
		   error = $5, error_type = $6, retry_count = $7,
		   next_retry_at = $9, last_failed_at = $11`,
		entry.ID, entry.IncidentID, entry.Agent, entry.Instruction,
		entry.Error, entry.ErrorType, entry.RetryCount, entry.MaxRetries,
		entry.NextRetryAt, entry.CreatedAt, entry.LastFailedAt,
	)
	return eris.Wrap(err, "postgres: enqueue handoff")
}

func (s *PostgresStore) DueHandoffs(ctx context.Context, filter resilience.HandoffFilter) ([]resilience.HandoffEntry, error) {
	query := `SELECT id, incident_id, agent, instruction, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at
	          FROM handoff_queue
	          WHERE next_retry_at <= now() AND retry_count < max_retries`
	args := []any{}
	argIdx := 1

	if filter.ErrorType != "" {
		query += fmt.Sprintf(` AND error_type = $%d`, argIdx)
		args = append(args, filter.ErrorType)
		argIdx++
	}

	query += ` ORDER BY next_retry_at ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: due handoffs")
	}
	defer rows.Close()

	var entries []resilience.HandoffEntry
	for rows.Next() {
		var e resilience.HandoffEntry
		if err := rows.Scan(&e.ID, &e.IncidentID, &e.Agent, &e.Instruction,
			&e.Error, &e.ErrorType, &e.RetryCount, &e.MaxRetries,
			&e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan handoff entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: due handoffs iterate")
}

func (s *PostgresStore) IncrementHandoffRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE handoff_queue
		 SET retry_count = retry_count + 1, next_retry_at = $1, error = $2, last_failed_at = now()
		 WHERE id = $3`,
		nextRetryAt, lastErr, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: increment handoff retry %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("handoff entry not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) RemoveHandoff(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM handoff_queue WHERE id = $1`, id)
	return eris.Wrap(err, "postgres: remove handoff")
}
