package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/danmuck/pipetctl/internal/protocol"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite" // pure go sqlite driver
)

var (
	ErrRunNotFound = errors.New("journal: run not found")
	ErrRunFinished = errors.New("journal: run already finished")
)

// MemoryPath opens a private in-memory journal.
const MemoryPath = ":memory:"

// Status is a run lifecycle marker.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Run is one journaled protocol run.
type Run struct {
	ID         string           `json:"id"`
	Protocol   string           `json:"protocol"`
	Columns    int              `json:"columns"`
	TestMode   bool             `json:"test_mode"`
	DNase      bool             `json:"dnase"`
	Status     Status           `json:"status"`
	Error      string           `json:"error,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at,omitzero"`
	Report     *protocol.Report `json:"report,omitempty"`
}

// StepRecord is one observed step.
type StepRecord struct {
	Index   int               `json:"index"`
	Kind    protocol.StepKind `json:"kind"`
	Phase   protocol.Phase    `json:"phase"`
	Skipped bool              `json:"skipped"`
	At      time.Time         `json:"at"`
}

// Store is a SQLite run journal.
type Store struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
	now  func() time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	protocol TEXT NOT NULL,
	columns INTEGER NOT NULL,
	test_mode INTEGER NOT NULL,
	dnase INTEGER NOT NULL,
	status TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL DEFAULT '',
	report BLOB
);
CREATE TABLE IF NOT EXISTS steps (
	run_id TEXT NOT NULL REFERENCES runs(id),
	idx INTEGER NOT NULL,
	kind TEXT NOT NULL,
	phase TEXT NOT NULL,
	skipped INTEGER NOT NULL,
	at TEXT NOT NULL,
	PRIMARY KEY (run_id, idx)
);`

// Open creates or opens the journal at path.
func Open(path string) (*Store, error) {
	if path == "" {
		path = "pipetctl.db"
	}
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one connection keeps a :memory: database alive and serializes writers
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create journal tables: %w", err)
	}
	log.Debug().Str("path", path).Msg("journal open")
	return &Store{db: db, path: path, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, raw)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Begin records a new running run.
func (s *Store) Begin(ctx context.Context, protocolID string, opts protocol.RunOptions) (Run, error) {
	run := Run{
		ID:        uuid.NewString(),
		Protocol:  protocolID,
		Columns:   opts.Columns,
		TestMode:  opts.TestMode,
		DNase:     opts.DNase,
		Status:    StatusRunning,
		StartedAt: s.now().UTC(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(id, protocol, columns, test_mode, dnase, status, started_at) VALUES(?,?,?,?,?,?,?)`,
		run.ID, run.Protocol, run.Columns, boolInt(run.TestMode), boolInt(run.DNase), string(run.Status), formatTime(run.StartedAt))
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// RecordStep appends one observed step to a running run.
func (s *Store) RecordStep(ctx context.Context, runID string, ev protocol.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO steps(run_id, idx, kind, phase, skipped, at) VALUES(?,?,?,?,?,?)`,
		runID, ev.Index, string(ev.Kind), string(ev.Phase), boolInt(ev.Skipped), formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("insert step %d: %w", ev.Index, err)
	}
	return nil
}

// Observer records every step of runID, logging failures instead of
// halting the run.
func (s *Store) Observer(runID string) protocol.Observer {
	return func(ev protocol.Event) {
		if err := s.RecordStep(context.Background(), runID, ev); err != nil {
			log.Warn().Err(err).Str("run", runID).Msg("journal step")
		}
	}
}

// StatusOf maps a run error onto its final status.
func StatusOf(runErr error) Status {
	switch {
	case runErr == nil:
		return StatusSucceeded
	case errors.Is(runErr, context.Canceled):
		return StatusCanceled
	default:
		return StatusFailed
	}
}

// Finish closes a running run with its report and outcome.
func (s *Store) Finish(ctx context.Context, runID string, report *protocol.Report, runErr error) (retErr error) {
	status := StatusOf(runErr)
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	var blob []byte
	if report != nil {
		var err error
		if blob, err = json.Marshal(report); err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	var current string
	if err := tx.QueryRowContext(ctx, `SELECT status FROM runs WHERE id = ?`, runID).Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return err
	}
	if Status(current) != StatusRunning {
		return fmt.Errorf("%w: %s is %s", ErrRunFinished, runID, current)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, finished_at = ?, report = ? WHERE id = ?`,
		string(status), msg, formatTime(s.now()), blob, runID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return tx.Commit()
}

const runColumns = `id, protocol, columns, test_mode, dnase, status, error, started_at, finished_at, report`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		run               Run
		testMode, dnase   int
		status            string
		started, finished string
		blob              []byte
	)
	if err := row.Scan(&run.ID, &run.Protocol, &run.Columns, &testMode, &dnase, &status, &run.Error, &started, &finished, &blob); err != nil {
		return Run{}, err
	}
	run.TestMode = testMode != 0
	run.DNase = dnase != 0
	run.Status = Status(status)
	var err error
	if run.StartedAt, err = parseTime(started); err != nil {
		return Run{}, fmt.Errorf("decode started_at: %w", err)
	}
	if run.FinishedAt, err = parseTime(finished); err != nil {
		return Run{}, fmt.Errorf("decode finished_at: %w", err)
	}
	if len(blob) > 0 {
		run.Report = &protocol.Report{}
		if err := json.Unmarshal(blob, run.Report); err != nil {
			return Run{}, fmt.Errorf("decode report: %w", err)
		}
	}
	return run, nil
}

// Get returns one run by id.
func (s *Store) Get(ctx context.Context, id string) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

// List returns up to limit runs, newest first. A limit of zero lists all.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("select runs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// Steps returns the recorded steps of a run in order.
func (s *Store) Steps(ctx context.Context, runID string) ([]StepRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, `SELECT idx, kind, phase, skipped, at FROM steps WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, fmt.Errorf("select steps: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []StepRecord
	for rows.Next() {
		var (
			rec     StepRecord
			kind    string
			phase   string
			skipped int
			at      string
		)
		if err := rows.Scan(&rec.Index, &kind, &phase, &skipped, &at); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		rec.Kind = protocol.StepKind(kind)
		rec.Phase = protocol.Phase(phase)
		rec.Skipped = skipped != 0
		if rec.At, err = parseTime(at); err != nil {
			return nil, fmt.Errorf("decode step time: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
