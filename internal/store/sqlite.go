package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/strategy-cli/internal/model"
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
	// Single connection: SQLite allows one writer.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS submissions (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL DEFAULT 'received',
	body       TEXT NOT NULL,
	revision   INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS enrichments (
	id            TEXT PRIMARY KEY,
	submission_id TEXT NOT NULL UNIQUE,
	status        TEXT NOT NULL DEFAULT 'pending',
	body          TEXT NOT NULL,
	revision      INTEGER NOT NULL DEFAULT 1,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS analyses (
	id            TEXT PRIMARY KEY,
	submission_id TEXT NOT NULL,
	version       INTEGER NOT NULL CHECK (version >= 1),
	status        TEXT NOT NULL DEFAULT 'pending',
	body          TEXT NOT NULL,
	revision      INTEGER NOT NULL DEFAULT 1,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (submission_id, version)
);

CREATE TABLE IF NOT EXISTS wizard_states (
	submission_id TEXT PRIMARY KEY,
	current_step  INTEGER NOT NULL DEFAULT 0,
	body          TEXT NOT NULL,
	revision      INTEGER NOT NULL DEFAULT 1,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_enrichments_status ON enrichments(status);
CREATE INDEX IF NOT EXISTS idx_analyses_status ON analyses(status);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scannable is satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteBody(row scannable, v any) (int64, error) {
	var body string
	var rev int64
	if err := row.Scan(&body, &rev); err != nil {
		return 0, err
	}
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return 0, eris.Wrap(err, "unmarshal body")
	}
	return rev, nil
}

func isSQLiteUnique(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// checkCAS turns a zero-row revision-guarded update into NotFound or
// RevisionConflict.
func (s *SQLiteStore) checkCAS(ctx context.Context, res sql.Result, table, keyCol, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n > 0 {
		return nil
	}
	var rev int64
	err = s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT revision FROM %s WHERE %s = ?`, table, keyCol), id,
	).Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(kind, id)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: check %s %s", kind, id)
	}
	return conflict(kind, id)
}

// --- Submissions ---

func (s *SQLiteStore) CreateSubmission(ctx context.Context, sub *model.Submission) error {
	newRecord(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt, &sub.Revision)
	body, err := json.Marshal(sub)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal submission")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO submissions (id, status, body, revision, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		sub.ID, string(sub.Status), string(body), sub.Revision, sub.CreatedAt, sub.UpdatedAt,
	)
	if isSQLiteUnique(err) {
		return conflict("submission", sub.ID)
	}
	return eris.Wrap(err, "sqlite: insert submission")
}

func (s *SQLiteStore) GetSubmission(ctx context.Context, id string) (*model.Submission, error) {
	var sub model.Submission
	rev, err := scanSQLiteBody(s.db.QueryRowContext(ctx,
		`SELECT body, revision FROM submissions WHERE id = ?`, id,
	), &sub)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("submission", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get submission %s", id)
	}
	sub.Revision = rev
	return &sub, nil
}

func (s *SQLiteStore) UpdateSubmission(ctx context.Context, sub *model.Submission) error {
	next := *sub
	next.Revision++
	next.UpdatedAt = time.Now().UTC()
	body, err := json.Marshal(&next)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal submission")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE submissions SET status = ?, body = ?, revision = ?, updated_at = ? WHERE id = ? AND revision = ?`,
		string(next.Status), string(body), next.Revision, next.UpdatedAt, sub.ID, sub.Revision,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update submission %s", sub.ID)
	}
	if err := s.checkCAS(ctx, res, "submissions", "id", "submission", sub.ID); err != nil {
		return err
	}
	*sub = next
	return nil
}

// --- Enrichments ---

func (s *SQLiteStore) CreateEnrichment(ctx context.Context, e *model.Enrichment) error {
	newRecord(&e.ID, &e.CreatedAt, &e.UpdatedAt, &e.Revision)
	body, err := enrichmentBody(e)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal enrichment")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO enrichments (id, submission_id, status, body, revision, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SubmissionID, string(e.Status), string(body), e.Revision, e.CreatedAt, e.UpdatedAt,
	)
	if isSQLiteUnique(err) {
		return conflict("enrichment for submission", e.SubmissionID)
	}
	return eris.Wrap(err, "sqlite: insert enrichment")
}

func (s *SQLiteStore) GetEnrichment(ctx context.Context, id string) (*model.Enrichment, error) {
	return s.getEnrichment(ctx, `SELECT body, revision FROM enrichments WHERE id = ?`, "enrichment", id)
}

func (s *SQLiteStore) GetEnrichmentBySubmission(ctx context.Context, submissionID string) (*model.Enrichment, error) {
	return s.getEnrichment(ctx, `SELECT body, revision FROM enrichments WHERE submission_id = ?`, "enrichment for submission", submissionID)
}

func (s *SQLiteStore) getEnrichment(ctx context.Context, query, kind, key string) (*model.Enrichment, error) {
	var e model.Enrichment
	rev, err := scanSQLiteBody(s.db.QueryRowContext(ctx, query, key), &e)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(kind, key)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get %s %s", kind, key)
	}
	e.Revision = rev
	return &e, nil
}

func (s *SQLiteStore) UpdateEnrichment(ctx context.Context, e *model.Enrichment) error {
	next := e.Clone()
	next.Revision++
	next.UpdatedAt = time.Now().UTC()
	body, err := enrichmentBody(next)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal enrichment")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE enrichments SET status = ?, body = ?, revision = ?, updated_at = ? WHERE id = ? AND revision = ?`,
		string(next.Status), string(body), next.Revision, next.UpdatedAt, e.ID, e.Revision,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update enrichment %s", e.ID)
	}
	if err := s.checkCAS(ctx, res, "enrichments", "id", "enrichment", e.ID); err != nil {
		return err
	}
	e.Revision = next.Revision
	e.UpdatedAt = next.UpdatedAt
	return nil
}

// --- Analyses ---

func (s *SQLiteStore) CreateAnalysis(ctx context.Context, a *model.Analysis) error {
	newRecord(&a.ID, &a.CreatedAt, &a.UpdatedAt, &a.Revision)
	body, err := json.Marshal(a)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal analysis")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	var maxVersion int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM analyses WHERE submission_id = ?`, a.SubmissionID,
	).Scan(&maxVersion); err != nil {
		return eris.Wrapf(err, "sqlite: max analysis version for %s", a.SubmissionID)
	}
	if a.Version != maxVersion+1 {
		return conflict("analysis version for submission", a.SubmissionID)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO analyses (id, submission_id, version, status, body, revision, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.SubmissionID, a.Version, string(a.Status), string(body), a.Revision, a.CreatedAt, a.UpdatedAt,
	)
	if isSQLiteUnique(err) {
		return conflict("analysis version for submission", a.SubmissionID)
	}
	if err != nil {
		return eris.Wrap(err, "sqlite: insert analysis")
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit analysis")
}

func (s *SQLiteStore) GetAnalysis(ctx context.Context, id string) (*model.Analysis, error) {
	var a model.Analysis
	rev, err := scanSQLiteBody(s.db.QueryRowContext(ctx,
		`SELECT body, revision FROM analyses WHERE id = ?`, id,
	), &a)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("analysis", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get analysis %s", id)
	}
	a.Revision = rev
	return &a, nil
}

func (s *SQLiteStore) LatestAnalysis(ctx context.Context, submissionID string) (*model.Analysis, error) {
	var a model.Analysis
	rev, err := scanSQLiteBody(s.db.QueryRowContext(ctx,
		`SELECT body, revision FROM analyses WHERE submission_id = ? ORDER BY version DESC LIMIT 1`, submissionID,
	), &a)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("analysis for submission", submissionID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: latest analysis for %s", submissionID)
	}
	a.Revision = rev
	return &a, nil
}

func (s *SQLiteStore) ListAnalyses(ctx context.Context, submissionID string) ([]model.Analysis, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT body, revision FROM analyses WHERE submission_id = ? ORDER BY version ASC`, submissionID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list analyses for %s", submissionID)
	}
	defer rows.Close()

	var out []model.Analysis
	for rows.Next() {
		var a model.Analysis
		rev, err := scanSQLiteBody(rows, &a)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan analysis")
		}
		a.Revision = rev
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list analyses iterate")
}

func (s *SQLiteStore) UpdateAnalysis(ctx context.Context, a *model.Analysis) error {
	next := a.Clone()
	next.Revision++
	next.UpdatedAt = time.Now().UTC()
	body, err := json.Marshal(next)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal analysis")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE analyses SET status = ?, body = ?, revision = ?, updated_at = ? WHERE id = ? AND revision = ?`,
		string(next.Status), string(body), next.Revision, next.UpdatedAt, a.ID, a.Revision,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update analysis %s", a.ID)
	}
	if err := s.checkCAS(ctx, res, "analyses", "id", "analysis", a.ID); err != nil {
		return err
	}
	a.Revision = next.Revision
	a.UpdatedAt = next.UpdatedAt
	return nil
}

// --- Wizard ---

func (s *SQLiteStore) CreateWizard(ctx context.Context, w *model.WizardState) error {
	id := w.SubmissionID
	newRecord(&id, &w.CreatedAt, &w.UpdatedAt, &w.Revision)
	body, err := json.Marshal(w)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal wizard")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO wizard_states (submission_id, current_step, body, revision, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		w.SubmissionID, w.CurrentStep, string(body), w.Revision, w.CreatedAt, w.UpdatedAt,
	)
	if isSQLiteUnique(err) {
		return conflict("wizard", w.SubmissionID)
	}
	return eris.Wrap(err, "sqlite: insert wizard")
}

func (s *SQLiteStore) GetWizard(ctx context.Context, submissionID string) (*model.WizardState, error) {
	var w model.WizardState
	rev, err := scanSQLiteBody(s.db.QueryRowContext(ctx,
		`SELECT body, revision FROM wizard_states WHERE submission_id = ?`, submissionID,
	), &w)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("wizard", submissionID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get wizard %s", submissionID)
	}
	w.Revision = rev
	return &w, nil
}

func (s *SQLiteStore) UpdateWizard(ctx context.Context, w *model.WizardState) error {
	next := w.Clone()
	next.Revision++
	next.UpdatedAt = time.Now().UTC()
	body, err := json.Marshal(next)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal wizard")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE wizard_states SET current_step = ?, body = ?, revision = ?, updated_at = ? WHERE submission_id = ? AND revision = ?`,
		next.CurrentStep, string(body), next.Revision, next.UpdatedAt, w.SubmissionID, w.Revision,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update wizard %s", w.SubmissionID)
	}
	if err := s.checkCAS(ctx, res, "wizard_states", "submission_id", "wizard", w.SubmissionID); err != nil {
		return err
	}
	w.Revision = next.Revision
	w.UpdatedAt = next.UpdatedAt
	return nil
}
