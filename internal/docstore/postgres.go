package docstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

//go:embed postgres_schema.sql
var postgresSchemaSQL string

// Postgres is a Backend over a PostgreSQL database
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to databaseURL with a single-connection pool
func OpenPostgres(ctx context.Context, databaseURL string, log logrus.FieldLogger) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	poolCfg.MaxConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.WithField("host", poolCfg.ConnConfig.Host).Info("connected to PostgreSQL document store")
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, postgresSchemaSQL); err != nil {
		return fmt.Errorf("failed to create document schema: %w", err)
	}
	return nil
}

func (p *Postgres) Put(ctx context.Context, coll Collection, key string, body []byte) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO documents (collection, key, body, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (collection, key) DO UPDATE SET
			body = EXCLUDED.body,
			updated_at = NOW()
		WHERE documents.body IS DISTINCT FROM EXCLUDED.body
	`, string(coll), key, body)
	return err
}

func (p *Postgres) Get(ctx context.Context, coll Collection, key string) ([]byte, error) {
	var body []byte
	err := p.pool.QueryRow(ctx,
		"SELECT body FROM documents WHERE collection = $1 AND key = $2",
		string(coll), key,
	).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s/%s: %w", coll, key, err)
	}
	return body, nil
}

func (p *Postgres) List(ctx context.Context, coll Collection) ([]Document, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT key, body FROM documents WHERE collection = $1 ORDER BY key COLLATE "C"`,
		string(coll),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.Key, &d.Body); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (p *Postgres) DeleteExcept(ctx context.Context, coll Collection, keep []string) (int64, error) {
	tag, err := p.pool.Exec(ctx,
		"DELETE FROM documents WHERE collection = $1 AND key <> ALL($2)",
		string(coll), keep,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) InsertRun(ctx context.Context, run Run) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO build_runs (run_id, started_at, status, attempted, stages)
		VALUES ($1, $2, $3, $4, $5)
	`, run.ID, run.StartedAt, string(run.Status), joinStages(run.Attempted), joinStages(run.Stages))
	return err
}

func (p *Postgres) UpdateRun(ctx context.Context, run Run) error {
	var finished *time.Time
	if !run.FinishedAt.IsZero() {
		finished = &run.FinishedAt
	}
	_, err := p.pool.Exec(ctx, `
		UPDATE build_runs SET
			finished_at = $2,
			status = $3,
			stages = $4,
			lines_upserted = $5,
			lines_deleted = $6,
			stops_upserted = $7,
			stops_deleted = $8,
			shapes_upserted = $9,
			shapes_deleted = $10,
			error = $11,
			attempted = $12
		WHERE run_id = $1
	`,
		run.ID, finished, string(run.Status), joinStages(run.Stages),
		run.Lines.Upserted, run.Lines.Deleted,
		run.Stops.Upserted, run.Stops.Deleted,
		run.Shapes.Upserted, run.Shapes.Deleted,
		run.Error,
		joinStages(run.Attempted),
	)
	return err
}

func (p *Postgres) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT
			run_id, started_at, finished_at, status, attempted, stages,
			lines_upserted, lines_deleted, stops_upserted, stops_deleted,
			shapes_upserted, shapes_deleted, error
		FROM build_runs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run       Run
			finished  *time.Time
			status    string
			attempted string
			stages    string
		)
		err := rows.Scan(
			&run.ID,
			&run.StartedAt,
			&finished,
			&status,
			&attempted,
			&stages,
			&run.Lines.Upserted,
			&run.Lines.Deleted,
			&run.Stops.Upserted,
			&run.Stops.Deleted,
			&run.Shapes.Upserted,
			&run.Shapes.Deleted,
			&run.Error,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if finished != nil {
			run.FinishedAt = *finished
		}
		run.Status = RunStatus(status)
		run.Attempted = splitStages(attempted)
		run.Stages = splitStages(stages)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (p *Postgres) PruneRuns(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx,
		"DELETE FROM build_runs WHERE finished_at IS NOT NULL AND started_at < $1",
		olderThan,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
