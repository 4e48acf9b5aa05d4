package store

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/compintel-cli/internal/db"
	"github.com/sells-group/compintel-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries prepared on each new connection for the
// hot write path (one apply = version append + projection upsert).
var preparedStatements = map[string]string{
	"append_version": `INSERT INTO claim_versions (entity_id, field_key, version_no, value, evidence_id, entered_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
	"upsert_current": `INSERT INTO current_claims (entity_id, field_key, value, version_no, last_verified_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (entity_id, field_key) DO UPDATE SET
		  value = EXCLUDED.value, version_no = EXCLUDED.version_no, last_verified_at = EXCLUDED.last_verified_at`,
	"get_current": `SELECT entity_id, field_key, value, version_no, last_verified_at
		FROM current_claims WHERE entity_id = $1 AND field_key = $2`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

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

// NewPostgresWithPool wraps an existing pool; used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: pool.Close}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS evidence (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	entity_id    TEXT NOT NULL,
	source_key   TEXT NOT NULL,
	tier         TEXT NOT NULL,
	url          TEXT,
	fetched_at   TIMESTAMPTZ NOT NULL,
	content_hash TEXT NOT NULL,
	snippet      TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (entity_id, source_key, content_hash)
);

CREATE TABLE IF NOT EXISTS claim_candidates (
	id                TEXT PRIMARY KEY,
	entity_id         TEXT NOT NULL,
	field_key         TEXT NOT NULL,
	raw_value         JSONB NOT NULL,
	value             JSONB,
	base_confidence   DOUBLE PRECISION NOT NULL,
	evidence_id       TEXT NOT NULL REFERENCES evidence(id),
	extraction_method TEXT,
	status_auto       TEXT NOT NULL DEFAULT 'PENDING',
	status_final      TEXT NOT NULL DEFAULT '',
	reject_reason     TEXT,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS claim_versions (
	entity_id   TEXT NOT NULL,
	field_key   TEXT NOT NULL,
	version_no  INTEGER NOT NULL,
	value       JSONB NOT NULL,
	evidence_id TEXT NOT NULL,
	entered_by  TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (entity_id, field_key, version_no)
);

CREATE TABLE IF NOT EXISTS current_claims (
	entity_id        TEXT NOT NULL,
	field_key        TEXT NOT NULL,
	value            JSONB NOT NULL,
	version_no       INTEGER NOT NULL,
	last_verified_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (entity_id, field_key)
);

CREATE TABLE IF NOT EXISTS events (
	id          TEXT PRIMARY KEY,
	entity_id   TEXT NOT NULL,
	field_key   TEXT NOT NULL,
	old_value   JSONB,
	new_value   JSONB,
	severity    TEXT NOT NULL,
	detected_at TIMESTAMPTZ NOT NULL,
	dedupe_key  TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'OPEN'
);

CREATE TABLE IF NOT EXISTS alert_rules (
	id           TEXT PRIMARY KEY,
	entity_scope TEXT NOT NULL,
	field_scope  TEXT NOT NULL,
	condition    TEXT NOT NULL,
	threshold    TEXT,
	channels     JSONB NOT NULL,
	enabled      BOOLEAN NOT NULL DEFAULT TRUE,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS alert_dispatches (
	id            TEXT PRIMARY KEY,
	event_id      TEXT NOT NULL,
	rule_id       TEXT NOT NULL,
	channel       TEXT NOT NULL,
	status        TEXT NOT NULL,
	attempts      INTEGER NOT NULL,
	last_error    TEXT,
	dispatched_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS review_tasks (
	id           TEXT PRIMARY KEY,
	candidate_id TEXT NOT NULL REFERENCES claim_candidates(id),
	entity_id    TEXT NOT NULL,
	field_key    TEXT NOT NULL,
	priority     DOUBLE PRECISION NOT NULL,
	status       TEXT NOT NULL DEFAULT 'OPEN',
	resolved_by  TEXT,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS halted_keys (
	entity_id TEXT NOT NULL,
	field_key TEXT NOT NULL,
	reason    TEXT NOT NULL,
	halted_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (entity_id, field_key)
);

CREATE INDEX IF NOT EXISTS idx_evidence_entity ON evidence(entity_id);
CREATE INDEX IF NOT EXISTS idx_candidates_entity_field ON claim_candidates(entity_id, field_key);
CREATE INDEX IF NOT EXISTS idx_events_dedupe ON events(dedupe_key, status);
CREATE INDEX IF NOT EXISTS idx_events_entity ON events(entity_id);
CREATE INDEX IF NOT EXISTS idx_dispatches_triple ON alert_dispatches(event_id, rule_id, channel);
CREATE INDEX IF NOT EXISTS idx_review_tasks_status ON review_tasks(status, priority DESC);
`

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

// --- Evidence ---

func (s *PostgresStore) RecordEvidence(ctx context.Context, ev model.Evidence) (string, bool, error) {
	var existing string
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM evidence WHERE entity_id = $1 AND source_key = $2 AND content_hash = $3`,
		ev.EntityID, ev.SourceKey, ev.ContentHash,
	).Scan(&existing)
	if err == nil {
		return existing, true, nil
	}
	if err != pgx.ErrNoRows {
		return "", false, eris.Wrap(err, "postgres: lookup evidence by hash")
	}

	id := ev.ID
	if id == "" {
		id = uuid.New().String()
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO evidence (id, entity_id, source_key, tier, url, fetched_at, content_hash, snippet, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, ev.EntityID, ev.SourceKey, string(ev.Tier), ev.URL, ev.FetchedAt.UTC(), ev.ContentHash, ev.Snippet, time.Now().UTC(),
	)
	if err != nil {
		return "", false, eris.Wrap(err, "postgres: insert evidence")
	}
	return id, false, nil
}

func (s *PostgresStore) GetEvidence(ctx context.Context, id string) (*model.Evidence, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, entity_id, source_key, tier, url, fetched_at, content_hash, snippet, created_at
		 FROM evidence WHERE id = $1`, id)
	return scanEvidencePG(row)
}

func (s *PostgresStore) ListEvidence(ctx context.Context, entityID string) ([]model.Evidence, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, entity_id, source_key, tier, url, fetched_at, content_hash, snippet, created_at
		 FROM evidence WHERE entity_id = $1 ORDER BY fetched_at DESC`, entityID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list evidence")
	}
	defer rows.Close()

	var out []model.Evidence
	for rows.Next() {
		ev, err := scanEvidencePG(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ev)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list evidence iterate")
}

func scanEvidencePG(row pgx.Row) (*model.Evidence, error) {
	var ev model.Evidence
	var tier string
	var url, snippet *string
	err := row.Scan(&ev.ID, &ev.EntityID, &ev.SourceKey, &tier, &url, &ev.FetchedAt, &ev.ContentHash, &snippet, &ev.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "evidence")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan evidence")
	}
	ev.Tier = model.SourceTier(tier)
	if url != nil {
		ev.URL = *url
	}
	if snippet != nil {
		ev.Snippet = *snippet
	}
	return &ev, nil
}

// --- Claim candidates ---

func (s *PostgresStore) CreateCandidate(ctx context.Context, c model.ClaimCandidate) error {
	rawJSON, err := json.Marshal(c.RawValue)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal raw value")
	}
	var valueJSON []byte
	if c.Value != nil {
		if valueJSON, err = json.Marshal(c.Value); err != nil {
			return eris.Wrap(err, "postgres: marshal value")
		}
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO claim_candidates
		 (id, entity_id, field_key, raw_value, value, base_confidence, evidence_id, extraction_method, status_auto, status_final, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, '', $10)`,
		c.ID, c.EntityID, c.FieldKey, rawJSON, valueJSON, c.BaseConfidence,
		c.EvidenceID, c.ExtractionMethod, string(model.CandidatePending), c.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: insert candidate")
}

func (s *PostgresStore) GetCandidate(ctx context.Context, id string) (*model.ClaimCandidate, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, entity_id, field_key, raw_value, value, base_confidence, evidence_id,
		        extraction_method, status_auto, status_final, reject_reason, created_at
		 FROM claim_candidates WHERE id = $1`, id)

	var c model.ClaimCandidate
	var rawJSON []byte
	var valueJSON []byte
	var method, reason *string
	var auto, final string
	err := row.Scan(&c.ID, &c.EntityID, &c.FieldKey, &rawJSON, &valueJSON, &c.BaseConfidence,
		&c.EvidenceID, &method, &auto, &final, &reason, &c.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "candidate")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan candidate")
	}

	if err := json.Unmarshal(rawJSON, &c.RawValue); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal raw value")
	}
	if len(valueJSON) > 0 {
		c.Value = &model.Value{}
		if err := json.Unmarshal(valueJSON, c.Value); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal value")
		}
	}
	if method != nil {
		c.ExtractionMethod = *method
	}
	if reason != nil {
		c.RejectReason = *reason
	}
	c.StatusAuto = model.CandidateStatus(auto)
	c.StatusFinal = model.CandidateStatus(final)
	return &c, nil
}

func (s *PostgresStore) SetCandidateDecision(ctx context.Context, id string, auto, final model.CandidateStatus, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE claim_candidates SET status_auto = $1, status_final = $2, reject_reason = $3
		 WHERE id = $4 AND status_auto = $5`,
		string(auto), string(final), reason, id, string(model.CandidatePending),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set candidate decision %s", id)
	}
	return s.candidateGuardPG(ctx, tag.RowsAffected(), id)
}

func (s *PostgresStore) FinalizeCandidate(ctx context.Context, id string, final model.CandidateStatus, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE claim_candidates SET status_final = $1, reject_reason = $2
		 WHERE id = $3 AND status_auto = $4 AND status_final = ''`,
		string(final), reason, id, string(model.CandidateReviewRequired),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finalize candidate %s", id)
	}
	return s.candidateGuardPG(ctx, tag.RowsAffected(), id)
}

func (s *PostgresStore) candidateGuardPG(ctx context.Context, affected int64, id string) error {
	if affected > 0 {
		return nil
	}
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM claim_candidates WHERE id = $1`, id).Scan(&one)
	if err == pgx.ErrNoRows {
		return eris.Wrapf(ErrNotFound, "candidate %s", id)
	}
	if err != nil {
		return eris.Wrap(err, "postgres: candidate exists check")
	}
	return eris.Wrapf(ErrCandidateFinal, "candidate %s", id)
}

// --- Claim ledger ---

func (s *PostgresStore) AppendVersion(ctx context.Context, v model.ClaimVersion) error {
	valueJSON, err := json.Marshal(v.Value)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal version value")
	}
	_, err = s.pool.Exec(ctx, "append_version",
		v.EntityID, v.FieldKey, v.VersionNo, valueJSON, v.EvidenceID, v.EnteredBy, v.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: append version %s/%s/%d", v.EntityID, v.FieldKey, v.VersionNo)
}

func (s *PostgresStore) UpsertCurrentClaim(ctx context.Context, c model.CurrentClaim) error {
	valueJSON, err := json.Marshal(c.Value)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal current value")
	}
	_, err = s.pool.Exec(ctx, "upsert_current",
		c.EntityID, c.FieldKey, valueJSON, c.VersionNo, c.LastVerifiedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: upsert current claim %s/%s", c.EntityID, c.FieldKey)
}

func (s *PostgresStore) GetCurrentClaim(ctx context.Context, entityID, fieldKey string) (*model.CurrentClaim, error) {
	row := s.pool.QueryRow(ctx, "get_current", entityID, fieldKey)
	c, err := scanCurrentClaimPG(row)
	if eris.Is(err, ErrNotFound) {
		return nil, nil
	}
	return c, err
}

func (s *PostgresStore) ListCurrentClaims(ctx context.Context, entityID string) ([]model.CurrentClaim, error) {
	return s.queryCurrentClaims(ctx,
		`SELECT entity_id, field_key, value, version_no, last_verified_at
		 FROM current_claims WHERE entity_id = $1 ORDER BY field_key`, entityID)
}

func (s *PostgresStore) AllCurrentClaims(ctx context.Context) ([]model.CurrentClaim, error) {
	return s.queryCurrentClaims(ctx,
		`SELECT entity_id, field_key, value, version_no, last_verified_at
		 FROM current_claims ORDER BY entity_id, field_key`)
}

func (s *PostgresStore) queryCurrentClaims(ctx context.Context, query string, args ...any) ([]model.CurrentClaim, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query current claims")
	}
	defer rows.Close()

	var out []model.CurrentClaim
	for rows.Next() {
		c, err := scanCurrentClaimPG(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: current claims iterate")
}

func scanCurrentClaimPG(row pgx.Row) (*model.CurrentClaim, error) {
	var c model.CurrentClaim
	var valueJSON []byte
	err := row.Scan(&c.EntityID, &c.FieldKey, &valueJSON, &c.VersionNo, &c.LastVerifiedAt)
	if err == pgx.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "current claim")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan current claim")
	}
	if err := json.Unmarshal(valueJSON, &c.Value); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal current value")
	}
	return &c, nil
}

func (s *PostgresStore) ListVersions(ctx context.Context, entityID, fieldKey string) ([]model.ClaimVersion, error) {
	return s.queryVersions(ctx,
		`SELECT entity_id, field_key, version_no, value, evidence_id, entered_by, created_at
		 FROM claim_versions WHERE entity_id = $1 AND field_key = $2 ORDER BY version_no`,
		entityID, fieldKey)
}

func (s *PostgresStore) AllVersions(ctx context.Context) ([]model.ClaimVersion, error) {
	return s.queryVersions(ctx,
		`SELECT entity_id, field_key, version_no, value, evidence_id, entered_by, created_at
		 FROM claim_versions ORDER BY entity_id, field_key, version_no`)
}

func (s *PostgresStore) queryVersions(ctx context.Context, query string, args ...any) ([]model.ClaimVersion, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query versions")
	}
	defer rows.Close()

	var out []model.ClaimVersion
	for rows.Next() {
		var v model.ClaimVersion
		var valueJSON []byte
		if err := rows.Scan(&v.EntityID, &v.FieldKey, &v.VersionNo, &valueJSON, &v.EvidenceID, &v.EnteredBy, &v.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan version")
		}
		if err := json.Unmarshal(valueJSON, &v.Value); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal version value")
		}
		out = append(out, v)
	}
	return out, eris.Wrap(rows.Err(), "postgres: versions iterate")
}

// --- Events ---

func (s *PostgresStore) CreateEvent(ctx context.Context, e model.Event) error {
	oldJSON, err := marshalValuePG(e.OldValue)
	if err != nil {
		return err
	}
	newJSON, err := marshalValuePG(e.NewValue)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO events (id, entity_id, field_key, old_value, new_value, severity, detected_at, dedupe_key, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.EntityID, e.FieldKey, oldJSON, newJSON, string(e.Severity), e.DetectedAt.UTC(), e.DedupeKey, string(e.Status),
	)
	return eris.Wrap(err, "postgres: insert event")
}

func (s *PostgresStore) OpenEventByDedupe(ctx context.Context, dedupeKey string) (*model.Event, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, entity_id, field_key, old_value, new_value, severity, detected_at, dedupe_key, status
		 FROM events WHERE dedupe_key = $1 AND status = $2 LIMIT 1`,
		dedupeKey, string(model.EventOpen))

	e, err := scanEventPG(row)
	if eris.Is(err, ErrNotFound) {
		return nil, nil
	}
	return e, err
}

func (s *PostgresStore) ListEvents(ctx context.Context, f EventFilter) ([]model.Event, error) {
	query := `SELECT id, entity_id, field_key, old_value, new_value, severity, detected_at, dedupe_key, status
	          FROM events WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if f.EntityID != "" {
		query += ` AND entity_id = ` + arg(f.EntityID)
	}
	if f.Status != "" {
		query += ` AND status = ` + arg(string(f.Status))
	}
	if !f.Since.IsZero() {
		query += ` AND detected_at >= ` + arg(f.Since.UTC())
	}
	query += ` ORDER BY detected_at DESC`

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ` + arg(limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list events")
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		e, err := scanEventPG(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list events iterate")
}

func (s *PostgresStore) CloseEvent(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE events SET status = $1 WHERE id = $2`,
		string(model.EventClosed), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: close event %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "event %s", id)
	}
	return nil
}

func scanEventPG(row pgx.Row) (*model.Event, error) {
	var e model.Event
	var oldJSON, newJSON []byte
	var severity, status string
	err := row.Scan(&e.ID, &e.EntityID, &e.FieldKey, &oldJSON, &newJSON, &severity, &e.DetectedAt, &e.DedupeKey, &status)
	if err == pgx.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "event")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan event")
	}
	e.Severity = model.Severity(severity)
	e.Status = model.EventStatus(status)
	if e.OldValue, err = unmarshalValuePG(oldJSON); err != nil {
		return nil, err
	}
	if e.NewValue, err = unmarshalValuePG(newJSON); err != nil {
		return nil, err
	}
	return &e, nil
}

// --- Alert rules and dispatches ---

func (s *PostgresStore) CreateRule(ctx context.Context, r model.AlertRule) error {
	channelsJSON, err := json.Marshal(r.Channels)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal channels")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO alert_rules (id, entity_scope, field_scope, condition, threshold, channels, enabled, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.EntityScope, r.FieldScope, string(r.Condition), r.Threshold, channelsJSON, r.Enabled, r.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: insert rule")
}

func (s *PostgresStore) ListRules(ctx context.Context, enabledOnly bool) ([]model.AlertRule, error) {
	query := `SELECT id, entity_scope, field_scope, condition, threshold, channels, enabled, created_at FROM alert_rules`
	if enabledOnly {
		query += ` WHERE enabled`
	}
	query += ` ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list rules")
	}
	defer rows.Close()

	var out []model.AlertRule
	for rows.Next() {
		var r model.AlertRule
		var condition string
		var threshold *string
		var channelsJSON []byte
		if err := rows.Scan(&r.ID, &r.EntityScope, &r.FieldScope, &condition, &threshold, &channelsJSON, &r.Enabled, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan rule")
		}
		r.Condition = model.RuleCondition(condition)
		if threshold != nil {
			r.Threshold = *threshold
		}
		if err := json.Unmarshal(channelsJSON, &r.Channels); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal channels")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list rules iterate")
}

func (s *PostgresStore) SetRuleEnabled(ctx context.Context, id string, enabled bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE alert_rules SET enabled = $1 WHERE id = $2`, enabled, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: set rule enabled %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "rule %s", id)
	}
	return nil
}

func (s *PostgresStore) HasDispatched(ctx context.Context, eventID, ruleID, channel string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM alert_dispatches WHERE event_id = $1 AND rule_id = $2 AND channel = $3 AND status = $4 LIMIT 1`,
		eventID, ruleID, channel, string(model.DispatchSent),
	).Scan(&one)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "postgres: dispatch lookup")
	}
	return true, nil
}

func (s *PostgresStore) RecordDispatch(ctx context.Context, d model.DispatchRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO alert_dispatches (id, event_id, rule_id, channel, status, attempts, last_error, dispatched_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.EventID, d.RuleID, d.Channel, string(d.Status), d.Attempts, d.LastError, d.DispatchedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: insert dispatch record")
}

// --- Review queue ---

func (s *PostgresStore) CreateReviewTask(ctx context.Context, t model.ReviewTask) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO review_tasks (id, candidate_id, entity_id, field_key, priority, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.CandidateID, t.EntityID, t.FieldKey, t.Priority, string(t.Status), t.CreatedAt.UTC(), t.UpdatedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: insert review task")
}

func (s *PostgresStore) GetReviewTask(ctx context.Context, id string) (*model.ReviewTask, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, candidate_id, entity_id, field_key, priority, status, resolved_by, created_at, updated_at
		 FROM review_tasks WHERE id = $1`, id)
	return scanReviewTaskPG(row)
}

func (s *PostgresStore) ListReviewTasks(ctx context.Context, status model.TaskStatus, limit int) ([]model.ReviewTask, error) {
	query := `SELECT id, candidate_id, entity_id, field_key, priority, status, resolved_by, created_at, updated_at
	          FROM review_tasks`
	var args []any
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY priority DESC, created_at`
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list review tasks")
	}
	defer rows.Close()

	var out []model.ReviewTask
	for rows.Next() {
		t, err := scanReviewTaskPG(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list review tasks iterate")
}

func (s *PostgresStore) SetReviewTaskStatus(ctx context.Context, id string, status model.TaskStatus, resolvedBy string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE review_tasks SET status = $1, resolved_by = $2, updated_at = $3
		 WHERE id = $4 AND status IN ($5, $6)`,
		string(status), resolvedBy, time.Now().UTC(), id,
		string(model.TaskOpen), string(model.TaskInProgress),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set review task status %s", id)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var one int
	err = s.pool.QueryRow(ctx, `SELECT 1 FROM review_tasks WHERE id = $1`, id).Scan(&one)
	if err == pgx.ErrNoRows {
		return eris.Wrapf(ErrNotFound, "review task %s", id)
	}
	if err != nil {
		return eris.Wrap(err, "postgres: review task exists check")
	}
	return eris.Wrapf(ErrTaskClosed, "review task %s", id)
}

func scanReviewTaskPG(row pgx.Row) (*model.ReviewTask, error) {
	var t model.ReviewTask
	var status string
	var resolvedBy *string
	err := row.Scan(&t.ID, &t.CandidateID, &t.EntityID, &t.FieldKey, &t.Priority, &status, &resolvedBy, &t.CreatedAt, &t.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "review task")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan review task")
	}
	t.Status = model.TaskStatus(status)
	if resolvedBy != nil {
		t.ResolvedBy = *resolvedBy
	}
	return &t, nil
}

// --- Integrity halts ---

func (s *PostgresStore) HaltKey(ctx context.Context, entityID, fieldKey, reason string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO halted_keys (entity_id, field_key, reason, halted_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (entity_id, field_key) DO NOTHING`,
		entityID, fieldKey, reason, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: halt key %s/%s", entityID, fieldKey)
}

func (s *PostgresStore) IsKeyHalted(ctx context.Context, entityID, fieldKey string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM halted_keys WHERE entity_id = $1 AND field_key = $2`,
		entityID, fieldKey,
	).Scan(&one)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "postgres: halted key lookup")
	}
	return true, nil
}

// helpers

func marshalValuePG(v *model.Value) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal value")
	}
	return b, nil
}

func unmarshalValuePG(b []byte) (*model.Value, error) {
	if len(b) == 0 || string(b) == "null" {
		return nil, nil
	}
	v := &model.Value{}
	if err := json.Unmarshal(b, v); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal value")
	}
	return v, nil
}
