package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time check that PostgresRepository implements Repository.
var _ Repository = (*PostgresRepository)(nil)

const createJobsTable = `
CREATE TABLE IF NOT EXISTS jobs (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	status     TEXT NOT NULL,
	data       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`

// querier is the subset of pgxpool.Pool used by the repository.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores jobs as JSONB documents in a single table.
type PostgresRepository struct {
	db   querier
	pool *pgxpool.Pool
}

// NewPostgresRepository connects to databaseURL and makes sure the jobs table exists.
func NewPostgresRepository(ctx context.Context, databaseURL string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	repo := &PostgresRepository{db: pool, pool: pool}
	if err := repo.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

// Migrate creates the jobs table if it does not exist.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, createJobsTable); err != nil {
		return fmt.Errorf("failed to create jobs table: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *PostgresRepository) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}

// Save upserts the job.
func (r *PostgresRepository) Save(ctx context.Context, job *Job) error {
	snapshot := job.Clone()
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode job %s: %w", snapshot.ID, err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO jobs (id, kind, status, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET kind = EXCLUDED.kind,
		    status = EXCLUDED.status,
		    data = EXCLUDED.data,
		    updated_at = EXCLUDED.updated_at`,
		snapshot.ID, string(snapshot.Kind), string(snapshot.Status), data,
		snapshot.CreatedAt, snapshot.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save job %s: %w", snapshot.ID, err)
	}
	return nil
}

// FindByID retrieves a job by its ID.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (*Job, error) {
	var data []byte
	err := r.db.QueryRow(ctx, "SELECT data FROM jobs WHERE id = $1", id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	return decodeJob(data)
}

// List returns all jobs, oldest first.
func (r *PostgresRepository) List(ctx context.Context) ([]*Job, error) {
	rows, err := r.db.Query(ctx, "SELECT data FROM jobs ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	blobs, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]*Job, 0, len(blobs))
	for _, data := range blobs {
		j, err := decodeJob(data)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// Delete removes a job.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, "DELETE FROM jobs WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

func decodeJob(data []byte) (*Job, error) {
	j := &Job{}
	if err := json.Unmarshal(data, j); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	return j, nil
}
