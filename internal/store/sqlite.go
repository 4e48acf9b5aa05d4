package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/compintel-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	// Single writer; SQLite serializes writes anyway and this avoids
	// SQLITE_BUSY under concurrent entity workers.
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS evidence (
	id           TEXT PRIMARY KEY,
	entity_id    TEXT NOT NULL,
	source_key   TEXT NOT NULL,
	tier         TEXT NOT NULL,
	url          TEXT,
	fetched_at   DATETIME NOT NULL,
	content_hash TEXT NOT NULL,
	snippet      TEXT,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (entity_id, source_key, content_hash)
);

CREATE TABLE IF NOT EXISTS claim_candidates (
	id                TEXT PRIMARY KEY,
	entity_id         TEXT NOT NULL,
	field_key         TEXT NOT NULL,
	raw_value         TEXT NOT NULL,
	value             TEXT,
	base_confidence   REAL NOT NULL,
	evidence_id       TEXT NOT NULL REFERENCES evidence(id),
	extraction_method TEXT,
	status_auto       TEXT NOT NULL DEFAULT 'PENDING',
	status_final      TEXT NOT NULL DEFAULT '',
	reject_reason     TEXT,
	created_at        DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS claim_versions (
	entity_id   TEXT NOT NULL,
	field_key   TEXT NOT NULL,
	version_no  INTEGER NOT NULL,
	value       TEXT NOT NULL,
	evidence_id TEXT NOT NULL,
	entered_by  TEXT NOT NULL,
	created_at  DATETIME NOT NULL,
	PRIMARY KEY (entity_id, field_key, version_no)
);

CREATE TABLE IF NOT EXISTS current_claims (
	entity_id        TEXT NOT NULL,
	field_key        TEXT NOT NULL,
	value            TEXT NOT NULL,
	version_no       INTEGER NOT NULL,
	last_verified_at DATETIME NOT NULL,
	PRIMARY KEY (entity_id, field_key)
);

CREATE TABLE IF NOT EXISTS events (
	id          TEXT PRIMARY KEY,
	entity_id   TEXT NOT NULL,
	field_key   TEXT NOT NULL,
	old_value   TEXT,
	new_value   TEXT,
	severity    TEXT NOT NULL,
	detected_at DATETIME NOT NULL,
	dedupe_key  TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'OPEN'
);

CREATE TABLE IF NOT EXISTS alert_rules (
	id           TEXT PRIMARY KEY,
	entity_scope TEXT NOT NULL,
	field_scope  TEXT NOT NULL,
	condition    TEXT NOT NULL,
	threshold    TEXT,
	channels     TEXT NOT NULL,
	enabled      INTEGER NOT NULL DEFAULT 1,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS alert_dispatches (
	id            TEXT PRIMARY KEY,
	event_id      TEXT NOT NULL,
	rule_id       TEXT NOT NULL,
	channel       TEXT NOT NULL,
	status        TEXT NOT NULL,
	attempts      INTEGER NOT NULL,
	last_error    TEXT,
	dispatched_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS review_tasks (
	id           TEXT PRIMARY KEY,
	candidate_id TEXT NOT NULL REFERENCES claim_candidates(id),
	entity_id    TEXT NOT NULL,
	field_key    TEXT NOT NULL,
	priority     REAL NOT NULL,
	status       TEXT NOT NULL DEFAULT 'OPEN',
	resolved_by  TEXT,
	created_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS halted_keys (
	entity_id TEXT NOT NULL,
	field_key TEXT NOT NULL,
	reason    TEXT NOT NULL,
	halted_at DATETIME NOT NULL,
	PRIMARY KEY (entity_id, field_key)
);

CREATE INDEX IF NOT EXISTS idx_evidence_entity ON evidence(entity_id);
CREATE INDEX IF NOT EXISTS idx_candidates_entity_field ON claim_candidates(entity_id, field_key);
CREATE INDEX IF NOT EXISTS idx_events_dedupe ON events(dedupe_key, status);
CREATE INDEX IF NOT EXISTS idx_events_entity ON events(entity_id);
CREATE INDEX IF NOT EXISTS idx_dispatches_triple ON alert_dispatches(event_id, rule_id, channel);
CREATE INDEX IF NOT EXISTS idx_review_tasks_status ON review_tasks(status, priority);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Evidence ---

func (s *SQLiteStore) RecordEvidence(ctx context.Context, ev model.Evidence) (string, bool, error) {
	var existing string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM evidence WHERE entity_id = ? AND source_key = ? AND content_hash = ?`,
		ev.EntityID, ev.SourceKey, ev.ContentHash,
	).Scan(&existing)
	if err == nil {
		return existing, true, nil
	}
	if err != sql.ErrNoRows {
		return "", false, eris.Wrap(err, "sqlite: lookup evidence by hash")
	}

	id := ev.ID
	if id == "" {
		id = uuid.New().String()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO evidence (id, entity_id, source_key, tier, url, fetched_at, content_hash, snippet, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, ev.EntityID, ev.SourceKey, string(ev.Tier), ev.URL, ev.FetchedAt.UTC(), ev.ContentHash, ev.Snippet, time.Now().UTC(),
	)
	if err != nil {
		return "", false, eris.Wrap(err, "sqlite: insert evidence")
	}
	return id, false, nil
}

func (s *SQLiteStore) GetEvidence(ctx context.Context, id string) (*model.Evidence, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, entity_id, source_key, tier, url, fetched_at, content_hash, snippet, created_at
		 FROM evidence WHERE id = ?`, id)
	return scanEvidence(row)
}

func (s *SQLiteStore) ListEvidence(ctx context.Context, entityID string) ([]model.Evidence, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, entity_id, source_key, tier, url, fetched_at, content_hash, snippet, created_at
		 FROM evidence WHERE entity_id = ? ORDER BY fetched_at DESC`, entityID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list evidence")
	}
	defer rows.Close()

	var out []model.Evidence
	for rows.Next() {
		ev, err := scanEvidence(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ev)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list evidence iterate")
}

func scanEvidence(row scannable) (*model.Evidence, error) {
	var ev model.Evidence
	var tier string
	var url, snippet sql.NullString
	err := row.Scan(&ev.ID, &ev.EntityID, &ev.SourceKey, &tier, &url, &ev.FetchedAt, &ev.ContentHash, &snippet, &ev.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "evidence")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan evidence")
	}
	ev.Tier = model.SourceTier(tier)
	ev.URL = url.String
	ev.Snippet = snippet.String
	return &ev, nil
}

// --- Claim candidates ---

func (s *SQLiteStore) CreateCandidate(ctx context.Context, c model.ClaimCandidate) error {
	rawJSON, err := json.Marshal(c.RawValue)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal raw value")
	}
	valueJSON, err := marshalNullableValue(c.Value)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO claim_candidates
		 (id, entity_id, field_key, raw_value, value, base_confidence, evidence_id, extraction_method, status_auto, status_final, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, '', ?)`,
		c.ID, c.EntityID, c.FieldKey, string(rawJSON), valueJSON, c.BaseConfidence,
		c.EvidenceID, c.ExtractionMethod, string(model.CandidatePending), c.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: insert candidate")
}

func (s *SQLiteStore) GetCandidate(ctx context.Context, id string) (*model.ClaimCandidate, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, entity_id, field_key, raw_value, value, base_confidence, evidence_id,
		        extraction_method, status_auto, status_final, reject_reason, created_at
		 FROM claim_candidates WHERE id = ?`, id)

	var c model.ClaimCandidate
	var rawJSON string
	var valueJSON, method, reason sql.NullString
	var auto, final string
	err := row.Scan(&c.ID, &c.EntityID, &c.FieldKey, &rawJSON, &valueJSON, &c.BaseConfidence,
		&c.EvidenceID, &method, &auto, &final, &reason, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "candidate")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan candidate")
	}

	if err := json.Unmarshal([]byte(rawJSON), &c.RawValue); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal raw value")
	}
	if valueJSON.Valid && valueJSON.String != "" {
		c.Value = &model.Value{}
		if err := json.Unmarshal([]byte(valueJSON.String), c.Value); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal value")
		}
	}
	c.ExtractionMethod = method.String
	c.StatusAuto = model.CandidateStatus(auto)
	c.StatusFinal = model.CandidateStatus(final)
	c.RejectReason = reason.String
	return &c, nil
}

func (s *SQLiteStore) SetCandidateDecision(ctx context.Context, id string, auto, final model.CandidateStatus, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE claim_candidates SET status_auto = ?, status_final = ?, reject_reason = ?
		 WHERE id = ? AND status_auto = ?`,
		string(auto), string(final), reason, id, string(model.CandidatePending),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set candidate decision %s", id)
	}
	return s.candidateGuard(ctx, res, id)
}

func (s *SQLiteStore) FinalizeCandidate(ctx context.Context, id string, final model.CandidateStatus, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE claim_candidates SET status_final = ?, reject_reason = ?
		 WHERE id = ? AND status_auto = ? AND status_final = ''`,
		string(final), reason, id, string(model.CandidateReviewRequired),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finalize candidate %s", id)
	}
	return s.candidateGuard(ctx, res, id)
}

// candidateGuard distinguishes "row missing" from "already decided" when a
// guarded candidate update touched no rows.
func (s *SQLiteStore) candidateGuard(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n > 0 {
		return nil
	}
	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM claim_candidates WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return eris.Wrapf(ErrNotFound, "candidate %s", id)
	}
	if err != nil {
		return eris.Wrap(err, "sqlite: candidate exists check")
	}
	return eris.Wrapf(ErrCandidateFinal, "candidate %s", id)
}

// --- Claim ledger ---

func (s *SQLiteStore) AppendVersion(ctx context.Context, v model.ClaimVersion) error {
	valueJSON, err := json.Marshal(v.Value)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal version value")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO claim_versions (entity_id, field_key, version_no, value, evidence_id, entered_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.EntityID, v.FieldKey, v.VersionNo, string(valueJSON), v.EvidenceID, v.EnteredBy, v.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: append version %s/%s/%d", v.EntityID, v.FieldKey, v.VersionNo)
}

func (s *SQLiteStore) UpsertCurrentClaim(ctx context.Context, c model.CurrentClaim) error {
	valueJSON, err := json.Marshal(c.Value)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal current value")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO current_claims (entity_id, field_key, value, version_no, last_verified_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (entity_id, field_key) DO UPDATE SET
		   value = excluded.value,
		   version_no = excluded.version_no,
		   last_verified_at = excluded.last_verified_at`,
		c.EntityID, c.FieldKey, string(valueJSON), c.VersionNo, c.LastVerifiedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: upsert current claim %s/%s", c.EntityID, c.FieldKey)
}

func (s *SQLiteStore) GetCurrentClaim(ctx context.Context, entityID, fieldKey string) (*model.CurrentClaim, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT entity_id, field_key, value, version_no, last_verified_at
		 FROM current_claims WHERE entity_id = ? AND field_key = ?`,
		entityID, fieldKey)

	c, err := scanCurrentClaim(row)
	if eris.Is(err, ErrNotFound) {
		return nil, nil
	}
	return c, err
}

func (s *SQLiteStore) ListCurrentClaims(ctx context.Context, entityID string) ([]model.CurrentClaim, error) {
	return s.queryCurrentClaims(ctx,
		`SELECT entity_id, field_key, value, version_no, last_verified_at
		 FROM current_claims WHERE entity_id = ? ORDER BY field_key`, entityID)
}

func (s *SQLiteStore) AllCurrentClaims(ctx context.Context) ([]model.CurrentClaim, error) {
	return s.queryCurrentClaims(ctx,
		`SELECT entity_id, field_key, value, version_no, last_verified_at
		 FROM current_claims ORDER BY entity_id, field_key`)
}

func (s *SQLiteStore) queryCurrentClaims(ctx context.Context, query string, args ...any) ([]model.CurrentClaim, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query current claims")
	}
	defer rows.Close()

	var out []model.CurrentClaim
	for rows.Next() {
		c, err := scanCurrentClaim(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: current claims iterate")
}

func scanCurrentClaim(row scannable) (*model.CurrentClaim, error) {
	var c model.CurrentClaim
	var valueJSON string
	err := row.Scan(&c.EntityID, &c.FieldKey, &valueJSON, &c.VersionNo, &c.LastVerifiedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "current claim")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan current claim")
	}
	if err := json.Unmarshal([]byte(valueJSON), &c.Value); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal current value")
	}
	return &c, nil
}

func (s *SQLiteStore) ListVersions(ctx context.Context, entityID, fieldKey string) ([]model.ClaimVersion, error) {
	return s.queryVersions(ctx,
		`SELECT entity_id, field_key, version_no, value, evidence_id, entered_by, created_at
		 FROM claim_versions WHERE entity_id = ? AND field_key = ? ORDER BY version_no`,
		entityID, fieldKey)
}

func (s *SQLiteStore) AllVersions(ctx context.Context) ([]model.ClaimVersion, error) {
	return s.queryVersions(ctx,
		`SELECT entity_id, field_key, version_no, value, evidence_id, entered_by, created_at
		 FROM claim_versions ORDER BY entity_id, field_key, version_no`)
}

func (s *SQLiteStore) queryVersions(ctx context.Context, query string, args ...any) ([]model.ClaimVersion, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query versions")
	}
	defer rows.Close()

	var out []model.ClaimVersion
	for rows.Next() {
		var v model.ClaimVersion
		var valueJSON string
		if err := rows.Scan(&v.EntityID, &v.FieldKey, &v.VersionNo, &valueJSON, &v.EvidenceID, &v.EnteredBy, &v.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan version")
		}
		if err := json.Unmarshal([]byte(valueJSON), &v.Value); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal version value")
		}
		out = append(out, v)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: versions iterate")
}

// --- Events ---

func (s *SQLiteStore) CreateEvent(ctx context.Context, e model.Event) error {
	oldJSON, err := marshalNullableValue(e.OldValue)
	if err != nil {
		return err
	}
	newJSON, err := marshalNullableValue(e.NewValue)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (id, entity_id, field_key, old_value, new_value, severity, detected_at, dedupe_key, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.EntityID, e.FieldKey, oldJSON, newJSON, string(e.Severity), e.DetectedAt.UTC(), e.DedupeKey, string(e.Status),
	)
	return eris.Wrap(err, "sqlite: insert event")
}

func (s *SQLiteStore) OpenEventByDedupe(ctx context.Context, dedupeKey string) (*model.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, entity_id, field_key, old_value, new_value, severity, detected_at, dedupe_key, status
		 FROM events WHERE dedupe_key = ? AND status = ? LIMIT 1`,
		dedupeKey, string(model.EventOpen))

	e, err := scanEvent(row)
	if eris.Is(err, ErrNotFound) {
		return nil, nil
	}
	return e, err
}

func (s *SQLiteStore) ListEvents(ctx context.Context, f EventFilter) ([]model.Event, error) {
	query := `SELECT id, entity_id, field_key, old_value, new_value, severity, detected_at, dedupe_key, status
	          FROM events WHERE 1=1`
	var args []any

	if f.EntityID != "" {
		query += ` AND entity_id = ?`
		args = append(args, f.EntityID)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if !f.Since.IsZero() {
		query += ` AND detected_at >= ?`
		args = append(args, f.Since.UTC())
	}
	query += ` ORDER BY detected_at DESC`

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list events")
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list events iterate")
}

func (s *SQLiteStore) CloseEvent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE events SET status = ? WHERE id = ?`,
		string(model.EventClosed), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: close event %s", id)
	}
	return checkRowsAffected(res, "event", id)
}

func scanEvent(row scannable) (*model.Event, error) {
	var e model.Event
	var oldJSON, newJSON sql.NullString
	var severity, status string
	err := row.Scan(&e.ID, &e.EntityID, &e.FieldKey, &oldJSON, &newJSON, &severity, &e.DetectedAt, &e.DedupeKey, &status)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "event")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan event")
	}
	e.Severity = model.Severity(severity)
	e.Status = model.EventStatus(status)
	if e.OldValue, err = unmarshalNullableValue(oldJSON); err != nil {
		return nil, err
	}
	if e.NewValue, err = unmarshalNullableValue(newJSON); err != nil {
		return nil, err
	}
	return &e, nil
}

// --- Alert rules and dispatches ---

func (s *SQLiteStore) CreateRule(ctx context.Context, r model.AlertRule) error {
	channelsJSON, err := json.Marshal(r.Channels)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal channels")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO alert_rules (id, entity_scope, field_scope, condition, threshold, channels, enabled, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.EntityScope, r.FieldScope, string(r.Condition), r.Threshold, string(channelsJSON), r.Enabled, r.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: insert rule")
}

func (s *SQLiteStore) ListRules(ctx context.Context, enabledOnly bool) ([]model.AlertRule, error) {
	query := `SELECT id, entity_scope, field_scope, condition, threshold, channels, enabled, created_at FROM alert_rules`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list rules")
	}
	defer rows.Close()

	var out []model.AlertRule
	for rows.Next() {
		var r model.AlertRule
		var condition, channelsJSON string
		var threshold sql.NullString
		if err := rows.Scan(&r.ID, &r.EntityScope, &r.FieldScope, &condition, &threshold, &channelsJSON, &r.Enabled, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan rule")
		}
		r.Condition = model.RuleCondition(condition)
		r.Threshold = threshold.String
		if err := json.Unmarshal([]byte(channelsJSON), &r.Channels); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal channels")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list rules iterate")
}

func (s *SQLiteStore) SetRuleEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE alert_rules SET enabled = ? WHERE id = ?`, enabled, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set rule enabled %s", id)
	}
	return checkRowsAffected(res, "rule", id)
}

func (s *SQLiteStore) HasDispatched(ctx context.Context, eventID, ruleID, channel string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM alert_dispatches WHERE event_id = ? AND rule_id = ? AND channel = ? AND status = ? LIMIT 1`,
		eventID, ruleID, channel, string(model.DispatchSent),
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "sqlite: dispatch lookup")
	}
	return true, nil
}

func (s *SQLiteStore) RecordDispatch(ctx context.Context, d model.DispatchRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alert_dispatches (id, event_id, rule_id, channel, status, attempts, last_error, dispatched_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.EventID, d.RuleID, d.Channel, string(d.Status), d.Attempts, d.LastError, d.DispatchedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: insert dispatch record")
}

// --- Review queue ---

func (s *SQLiteStore) CreateReviewTask(ctx context.Context, t model.ReviewTask) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO review_tasks (id, candidate_id, entity_id, field_key, priority, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.CandidateID, t.EntityID, t.FieldKey, t.Priority, string(t.Status), t.CreatedAt.UTC(), t.UpdatedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: insert review task")
}

func (s *SQLiteStore) GetReviewTask(ctx context.Context, id string) (*model.ReviewTask, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, candidate_id, entity_id, field_key, priority, status, resolved_by, created_at, updated_at
		 FROM review_tasks WHERE id = ?`, id)
	return scanReviewTask(row)
}

func (s *SQLiteStore) ListReviewTasks(ctx context.Context, status model.TaskStatus, limit int) ([]model.ReviewTask, error) {
	query := `SELECT id, candidate_id, entity_id, field_key, priority, status, resolved_by, created_at, updated_at
	          FROM review_tasks`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY priority DESC, created_at`
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list review tasks")
	}
	defer rows.Close()

	var out []model.ReviewTask
	for rows.Next() {
		t, err := scanReviewTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list review tasks iterate")
}

func (s *SQLiteStore) SetReviewTaskStatus(ctx context.Context, id string, status model.TaskStatus, resolvedBy string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE review_tasks SET status = ?, resolved_by = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		string(status), resolvedBy, time.Now().UTC(), id,
		string(model.TaskOpen), string(model.TaskInProgress),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set review task status %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n > 0 {
		return nil
	}
	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM review_tasks WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return eris.Wrapf(ErrNotFound, "review task %s", id)
	}
	if err != nil {
		return eris.Wrap(err, "sqlite: review task exists check")
	}
	return eris.Wrapf(ErrTaskClosed, "review task %s", id)
}

func scanReviewTask(row scannable) (*model.ReviewTask, error) {
	var t model.ReviewTask
	var status string
	var resolvedBy sql.NullString
	err := row.Scan(&t.ID, &t.CandidateID, &t.EntityID, &t.FieldKey, &t.Priority, &status, &resolvedBy, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "review task")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan review task")
	}
	t.Status = model.TaskStatus(status)
	t.ResolvedBy = resolvedBy.String
	return &t, nil
}

// --- Integrity halts ---

func (s *SQLiteStore) HaltKey(ctx context.Context, entityID, fieldKey, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO halted_keys (entity_id, field_key, reason, halted_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (entity_id, field_key) DO NOTHING`,
		entityID, fieldKey, reason, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: halt key %s/%s", entityID, fieldKey)
}

func (s *SQLiteStore) IsKeyHalted(ctx context.Context, entityID, fieldKey string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM halted_keys WHERE entity_id = ? AND field_key = ?`,
		entityID, fieldKey,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "sqlite: halted key lookup")
	}
	return true, nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func marshalNullableValue(v *model.Value) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, eris.Wrap(err, "sqlite: marshal value")
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalNullableValue(s sql.NullString) (*model.Value, error) {
	if !s.Valid || s.String == "" || s.String == "null" {
		return nil, nil
	}
	v := &model.Value{}
	if err := json.Unmarshal([]byte(s.String), v); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal value")
	}
	return v, nil
}
