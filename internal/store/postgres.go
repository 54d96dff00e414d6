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

	"github.com/sells-group/strategy-cli/internal/db"
	"github.com/sells-group/strategy-cli/internal/model"
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

const postgresMigration = `
CREATE TABLE IF NOT EXISTS submissions (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL DEFAULT 'received',
	body       JSONB NOT NULL,
	revision   BIGINT NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS enrichments (
	id            TEXT PRIMARY KEY,
	submission_id TEXT NOT NULL UNIQUE REFERENCES submissions(id),
	status        TEXT NOT NULL DEFAULT 'pending',
	body          JSONB NOT NULL,
	revision      BIGINT NOT NULL DEFAULT 1,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS analyses (
	id            TEXT PRIMARY KEY,
	submission_id TEXT NOT NULL REFERENCES submissions(id),
	version       INTEGER NOT NULL CHECK (version >= 1),
	status        TEXT NOT NULL DEFAULT 'pending',
	body          JSONB NOT NULL,
	revision      BIGINT NOT NULL DEFAULT 1,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (submission_id, version)
);

CREATE TABLE IF NOT EXISTS wizard_states (
	submission_id TEXT PRIMARY KEY REFERENCES submissions(id),
	current_step  INTEGER NOT NULL DEFAULT 0,
	body          JSONB NOT NULL,
	revision      BIGINT NOT NULL DEFAULT 1,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_enrichments_status ON enrichments(status);
CREATE INDEX IF NOT EXISTS idx_analyses_status ON analyses(status);
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

// scanBody decodes a (body, revision) row into v and returns the revision.
func scanBody(row pgx.Row, v any) (int64, error) {
	var body []byte
	var rev int64
	if err := row.Scan(&body, &rev); err != nil {
		return 0, err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return 0, eris.Wrap(err, "unmarshal body")
	}
	return rev, nil
}

// casMiss explains why a revision-guarded update touched no rows.
func (s *PostgresStore) casMiss(ctx context.Context, table, keyCol, kind, id string) error {
	var rev int64
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT revision FROM %s WHERE %s = $1`, table, keyCol), id,
	).Scan(&rev)
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound(kind, id)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: check %s %s", kind, id)
	}
	return conflict(kind, id)
}

func newRecord(id *string, created, updated *time.Time, rev *int64) {
	now := time.Now().UTC()
	if *id == "" {
		*id = uuid.New().String()
	}
	if created.IsZero() {
		*created = now
	}
	*updated = now
	*rev = 1
}

// --- Submissions ---

func (s *PostgresStore) CreateSubmission(ctx context.Context, sub *model.Submission) error {
	newRecord(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt, &sub.Revision)
	body, err := json.Marshal(sub)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal submission")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO submissions (id, status, body, revision, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		sub.ID, string(sub.Status), body, sub.Revision, sub.CreatedAt, sub.UpdatedAt,
	)
	if db.IsUniqueViolation(err) {
		return conflict("submission", sub.ID)
	}
	return eris.Wrap(err, "postgres: insert submission")
}

func (s *PostgresStore) GetSubmission(ctx context.Context, id string) (*model.Submission, error) {
	var sub model.Submission
	rev, err := scanBody(s.pool.QueryRow(ctx,
		`SELECT body, revision FROM submissions WHERE id = $1`, id,
	), &sub)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("submission", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get submission %s", id)
	}
	sub.Revision = rev
	return &sub, nil
}

func (s *PostgresStore) UpdateSubmission(ctx context.Context, sub *model.Submission) error {
	next := *sub
	next.Revision++
	next.UpdatedAt = time.Now().UTC()
	body, err := json.Marshal(&next)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal submission")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE submissions SET status = $1, body = $2, revision = $3, updated_at = $4 WHERE id = $5 AND revision = $6`,
		string(next.Status), body, next.Revision, next.UpdatedAt, sub.ID, sub.Revision,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update submission %s", sub.ID)
	}
	if tag.RowsAffected() == 0 {
		return s.casMiss(ctx, "submissions", "id", "submission", sub.ID)
	}
	*sub = next
	return nil
}

// --- Enrichments ---

func enrichmentBody(e *model.Enrichment) ([]byte, error) {
	c := *e
	c.IsLocked, c.LockedBy, c.LockExpiresAt = false, "", nil
	return json.Marshal(&c)
}

func (s *PostgresStore) CreateEnrichment(ctx context.Context, e *model.Enrichment) error {
	newRecord(&e.ID, &e.CreatedAt, &e.UpdatedAt, &e.Revision)
	body, err := enrichmentBody(e)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal enrichment")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO enrichments (id, submission_id, status, body, revision, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.SubmissionID, string(e.Status), body, e.Revision, e.CreatedAt, e.UpdatedAt,
	)
	if db.IsUniqueViolation(err) {
		return conflict("enrichment for submission", e.SubmissionID)
	}
	return eris.Wrap(err, "postgres: insert enrichment")
}

func (s *PostgresStore) GetEnrichment(ctx context.Context, id string) (*model.Enrichment, error) {
	return s.getEnrichment(ctx, `SELECT body, revision FROM enrichments WHERE id = $1`, "enrichment", id)
}

func (s *PostgresStore) GetEnrichmentBySubmission(ctx context.Context, submissionID string) (*model.Enrichment, error) {
	return s.getEnrichment(ctx, `SELECT body, revision FROM enrichments WHERE submission_id = $1`, "enrichment for submission", submissionID)
}

func (s *PostgresStore) getEnrichment(ctx context.Context, query, kind, key string) (*model.Enrichment, error) {
	var e model.Enrichment
	rev, err := scanBody(s.pool.QueryRow(ctx, query, key), &e)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(kind, key)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get %s %s", kind, key)
	}
	e.Revision = rev
	return &e, nil
}

func (s *PostgresStore) UpdateEnrichment(ctx context.Context, e *model.Enrichment) error {
	next := e.Clone()
	next.Revision++
	next.UpdatedAt = time.Now().UTC()
	body, err := enrichmentBody(next)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal enrichment")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE enrichments SET status = $1, body = $2, revision = $3, updated_at = $4 WHERE id = $5 AND revision = $6`,
		string(next.Status), body, next.Revision, next.UpdatedAt, e.ID, e.Revision,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update enrichment %s", e.ID)
	}
	if tag.RowsAffected() == 0 {
		return s.casMiss(ctx, "enrichments", "id", "enrichment", e.ID)
	}
	e.Revision = next.Revision
	e.UpdatedAt = next.UpdatedAt
	return nil
}

// --- Analyses ---

func (s *PostgresStore) CreateAnalysis(ctx context.Context, a *model.Analysis) error {
	newRecord(&a.ID, &a.CreatedAt, &a.UpdatedAt, &a.Revision)
	body, err := json.Marshal(a)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal analysis")
	}

	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		var maxVersion int
		if err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(version), 0) FROM analyses WHERE submission_id = $1`, a.SubmissionID,
		).Scan(&maxVersion); err != nil {
			return eris.Wrapf(err, "postgres: max analysis version for %s", a.SubmissionID)
		}
		if a.Version != maxVersion+1 {
			return conflict("analysis version for submission", a.SubmissionID)
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO analyses (id, submission_id, version, status, body, revision, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			a.ID, a.SubmissionID, a.Version, string(a.Status), body, a.Revision, a.CreatedAt, a.UpdatedAt,
		)
		if db.IsUniqueViolation(err) {
			return conflict("analysis version for submission", a.SubmissionID)
		}
		return eris.Wrap(err, "postgres: insert analysis")
	})
}

func (s *PostgresStore) GetAnalysis(ctx context.Context, id string) (*model.Analysis, error) {
	var a model.Analysis
	rev, err := scanBody(s.pool.QueryRow(ctx,
		`SELECT body, revision FROM analyses WHERE id = $1`, id,
	), &a)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("analysis", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get analysis %s", id)
	}
	a.Revision = rev
	return &a, nil
}

func (s *PostgresStore) LatestAnalysis(ctx context.Context, submissionID string) (*model.Analysis, error) {
	var a model.Analysis
	rev, err := scanBody(s.pool.QueryRow(ctx,
		`SELECT body, revision FROM analyses WHERE submission_id = $1 ORDER BY version DESC LIMIT 1`, submissionID,
	), &a)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("analysis for submission", submissionID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: latest analysis for %s", submissionID)
	}
	a.Revision = rev
	return &a, nil
}

func (s *PostgresStore) ListAnalyses(ctx context.Context, submissionID string) ([]model.Analysis, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT body, revision FROM analyses WHERE submission_id = $1 ORDER BY version ASC`, submissionID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list analyses for %s", submissionID)
	}
	defer rows.Close()

	var out []model.Analysis
	for rows.Next() {
		var a model.Analysis
		rev, err := scanBody(rows, &a)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan analysis")
		}
		a.Revision = rev
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list analyses iterate")
}

func (s *PostgresStore) UpdateAnalysis(ctx context.Context, a *model.Analysis) error {
	next := a.Clone()
	next.Revision++
	next.UpdatedAt = time.Now().UTC()
	body, err := json.Marshal(next)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal analysis")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE analyses SET status = $1, body = $2, revision = $3, updated_at = $4 WHERE id = $5 AND revision = $6`,
		string(next.Status), body, next.Revision, next.UpdatedAt, a.ID, a.Revision,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update analysis %s", a.ID)
	}
	if tag.RowsAffected() == 0 {
		return s.casMiss(ctx, "analyses", "id", "analysis", a.ID)
	}
	a.Revision = next.Revision
	a.UpdatedAt = next.UpdatedAt
	return nil
}

// --- Wizard ---

func (s *PostgresStore) CreateWizard(ctx context.Context, w *model.WizardState) error {
	id := w.SubmissionID
	newRecord(&id, &w.CreatedAt, &w.UpdatedAt, &w.Revision)
	body, err := json.Marshal(w)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal wizard")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO wizard_states (submission_id, current_step, body, revision, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		w.SubmissionID, w.CurrentStep, body, w.Revision, w.CreatedAt, w.UpdatedAt,
	)
	if db.IsUniqueViolation(err) {
		return conflict("wizard", w.SubmissionID)
	}
	return eris.Wrap(err, "postgres: insert wizard")
}

func (s *PostgresStore) GetWizard(ctx context.Context, submissionID string) (*model.WizardState, error) {
	var w model.WizardState
	rev, err := scanBody(s.pool.QueryRow(ctx,
		`SELECT body, revision FROM wizard_states WHERE submission_id = $1`, submissionID,
	), &w)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("wizard", submissionID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get wizard %s", submissionID)
	}
	w.Revision = rev
	return &w, nil
}

func (s *PostgresStore) UpdateWizard(ctx context.Context, w *model.WizardState) error {
	next := w.Clone()
	next.Revision++
	next.UpdatedAt = time.Now().UTC()
	body, err := json.Marshal(next)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal wizard")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE wizard_states SET current_step = $1, body = $2, revision = $3, updated_at = $4 WHERE submission_id = $5 AND revision = $6`,
		next.CurrentStep, body, next.Revision, next.UpdatedAt, w.SubmissionID, w.Revision,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update wizard %s", w.SubmissionID)
	}
	if tag.RowsAffected() == 0 {
		return s.casMiss(ctx, "wizard_states", "submission_id", "wizard", w.SubmissionID)
	}
	w.Revision = next.Revision
	w.UpdatedAt = next.UpdatedAt
	return nil
}
