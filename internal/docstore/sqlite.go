package docstore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

//go:embed sqlite_schema.sql
var sqliteSchemaSQL string

// runTimeLayout is fixed width so run timestamps sort as text
const runTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLite is a Backend over a single SQLite file
type SQLite struct {
	db *sqlx.DB
}

// OpenSQLite opens (creating if needed) the document database at path
func OpenSQLite(path string, log logrus.FieldLogger) (*SQLite, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open document database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping document database: %w", err)
	}

	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			log.WithError(err).Warnf("failed to set %s", pragma)
		}
	}

	log.WithField("path", path).Info("connected to SQLite document store")
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchemaSQL); err != nil {
		return fmt.Errorf("failed to create document schema: %w", err)
	}
	return nil
}

func (s *SQLite) Put(ctx context.Context, coll Collection, key string, body []byte) error {
	// updated_at only moves when the body actually changes
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, key, body, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (collection, key) DO UPDATE SET
			body = excluded.body,
			updated_at = excluded.updated_at
		WHERE documents.body <> excluded.body
	`, string(coll), key, string(body), time.Now().UTC().Format(time.RFC3339))
	return err
}

func (s *SQLite) Get(ctx context.Context, coll Collection, key string) ([]byte, error) {
	var body string
	err := s.db.GetContext(ctx, &body,
		"SELECT body FROM documents WHERE collection = ? AND key = ?",
		string(coll), key,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s/%s: %w", coll, key, err)
	}
	return []byte(body), nil
}

func (s *SQLite) List(ctx context.Context, coll Collection) ([]Document, error) {
	var rows []struct {
		Key  string `db:"key"`
		Body string `db:"body"`
	}
	err := s.db.SelectContext(ctx, &rows,
		"SELECT key, body FROM documents WHERE collection = ? ORDER BY key",
		string(coll),
	)
	if err != nil {
		return nil, err
	}
	docs := make([]Document, 0, len(rows))
	for _, r := range rows {
		docs = append(docs, Document{Key: r.Key, Body: []byte(r.Body)})
	}
	return docs, nil
}

func (s *SQLite) DeleteExcept(ctx context.Context, coll Collection, keep []string) (int64, error) {
	// The keep set travels as one JSON array parameter so its size is not
	// bounded by SQLite's host parameter limit.
	keys, err := json.Marshal(keep)
	if err != nil {
		return 0, err
	}
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM documents
		WHERE collection = ?
		  AND key NOT IN (SELECT value FROM json_each(?))
	`, string(coll), string(keys))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

type sqliteRun struct {
	ID             string         `db:"run_id"`
	StartedAt      string         `db:"started_at_utc"`
	FinishedAt     sql.NullString `db:"finished_at_utc"`
	Status         string         `db:"status"`
	Attempted      string         `db:"attempted"`
	Stages         string         `db:"stages"`
	LinesUpserted  int            `db:"lines_upserted"`
	LinesDeleted   int            `db:"lines_deleted"`
	StopsUpserted  int            `db:"stops_upserted"`
	StopsDeleted   int            `db:"stops_deleted"`
	ShapesUpserted int            `db:"shapes_upserted"`
	ShapesDeleted  int            `db:"shapes_deleted"`
	Error          string         `db:"error"`
}

func toSQLiteRun(run Run) sqliteRun {
	r := sqliteRun{
		ID:             run.ID,
		StartedAt:      run.StartedAt.UTC().Format(runTimeLayout),
		Status:         string(run.Status),
		Attempted:      joinStages(run.Attempted),
		Stages:         joinStages(run.Stages),
		LinesUpserted:  run.Lines.Upserted,
		LinesDeleted:   run.Lines.Deleted,
		StopsUpserted:  run.Stops.Upserted,
		StopsDeleted:   run.Stops.Deleted,
		ShapesUpserted: run.Shapes.Upserted,
		ShapesDeleted:  run.Shapes.Deleted,
		Error:          run.Error,
	}
	if !run.FinishedAt.IsZero() {
		r.FinishedAt = sql.NullString{String: run.FinishedAt.UTC().Format(runTimeLayout), Valid: true}
	}
	return r
}

func (r sqliteRun) toRun() (Run, error) {
	started, err := time.Parse(runTimeLayout, r.StartedAt)
	if err != nil {
		return Run{}, fmt.Errorf("run %s: bad started_at %q: %w", r.ID, r.StartedAt, err)
	}
	run := Run{
		ID:        r.ID,
		StartedAt: started,
		Status:    RunStatus(r.Status),
		Attempted: splitStages(r.Attempted),
		Stages:    splitStages(r.Stages),
		Lines:     Counts{Upserted: r.LinesUpserted, Deleted: r.LinesDeleted},
		Stops:     Counts{Upserted: r.StopsUpserted, Deleted: r.StopsDeleted},
		Shapes:    Counts{Upserted: r.ShapesUpserted, Deleted: r.ShapesDeleted},
		Error:     r.Error,
	}
	if r.FinishedAt.Valid {
		finished, err := time.Parse(runTimeLayout, r.FinishedAt.String)
		if err != nil {
			return Run{}, fmt.Errorf("run %s: bad finished_at %q: %w", r.ID, r.FinishedAt.String, err)
		}
		run.FinishedAt = finished
	}
	return run, nil
}

func (s *SQLite) InsertRun(ctx context.Context, run Run) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO build_runs (
			run_id, started_at_utc, finished_at_utc, status, attempted, stages,
			lines_upserted, lines_deleted, stops_upserted, stops_deleted,
			shapes_upserted, shapes_deleted, error
		) VALUES (
			:run_id, :started_at_utc, :finished_at_utc, :status, :attempted, :stages,
			:lines_upserted, :lines_deleted, :stops_upserted, :stops_deleted,
			:shapes_upserted, :shapes_deleted, :error
		)
	`, toSQLiteRun(run))
	return err
}

func (s *SQLite) UpdateRun(ctx context.Context, run Run) error {
	_, err := s.db.NamedExecContext(ctx, `
		UPDATE build_runs SET
			finished_at_utc = :finished_at_utc,
			status = :status,
			attempted = :attempted,
			stages = :stages,
			lines_upserted = :lines_upserted,
			lines_deleted = :lines_deleted,
			stops_upserted = :stops_upserted,
			stops_deleted = :stops_deleted,
			shapes_upserted = :shapes_upserted,
			shapes_deleted = :shapes_deleted,
			error = :error
		WHERE run_id = :run_id
	`, toSQLiteRun(run))
	return err
}

func (s *SQLite) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	var rows []sqliteRun
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM build_runs
		ORDER BY started_at_utc DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	runs := make([]Run, 0, len(rows))
	for _, r := range rows {
		run, err := r.toRun()
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func (s *SQLite) PruneRuns(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM build_runs WHERE finished_at_utc IS NOT NULL AND started_at_utc < ?",
		olderThan.UTC().Format(runTimeLayout),
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
