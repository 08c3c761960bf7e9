package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mattjoyce/facegate/internal/protocol"
)

// pgUniqueViolation is SQLSTATE unique_violation.
const pgUniqueViolation = "23505"

// Postgres is the Registry backend for deployments that share one registry
// across gateways.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn, initializes the schema and purges stale
// reservations.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is empty")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize registry schema: %w", err)
	}
	if _, err := pool.Exec(ctx,
		`DELETE FROM registered_faces WHERE status = 'pending' AND created_at < $1`,
		time.Now().Add(-staleReservation).UTC(),
	); err != nil {
		pool.Close()
		return nil, fmt.Errorf("purge stale reservations: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS registered_faces (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			name_key TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			face_id BIGINT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			confirmed_at TIMESTAMPTZ
		);
		CREATE UNIQUE INDEX IF NOT EXISTS registered_faces_name_key_idx ON registered_faces (name_key);
	`)
	return err
}

func (p *Postgres) Reserve(ctx context.Context, name string) (Reservation, error) {
	name, err := normalizeName(name)
	if err != nil {
		return Reservation{}, err
	}

	var id int64
	err = p.pool.QueryRow(ctx,
		`INSERT INTO registered_faces (name, name_key, status) VALUES ($1, $2, 'pending') RETURNING id`,
		name, nameKey(name),
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return Reservation{}, duplicate(name, err)
		}
		return Reservation{}, fmt.Errorf("reserve name: %w", err)
	}
	return Reservation{ID: id, Name: name}, nil
}

func (p *Postgres) Confirm(ctx context.Context, rv Reservation, reg protocol.Registration) error {
	now := time.Now()
	tag, err := p.pool.Exec(ctx, `
		UPDATE registered_faces
		SET status = 'confirmed', face_id = $1, created_at = $2, confirmed_at = $3
		WHERE id = $4 AND status = 'pending'
	`, reg.ID, createdAt(reg, now), now.UTC(), rv.ID)
	if err != nil {
		return fmt.Errorf("confirm %q: %w", rv.Name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("confirm %q: reservation %d not found", rv.Name, rv.ID)
	}
	return nil
}

func (p *Postgres) Release(ctx context.Context, rv Reservation) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM registered_faces WHERE id = $1 AND status = 'pending'`, rv.ID); err != nil {
		return fmt.Errorf("release %q: %w", rv.Name, err)
	}
	return nil
}

func (p *Postgres) List(ctx context.Context) ([]Face, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT COALESCE(face_id, id), name, created_at
		FROM registered_faces
		WHERE status = 'confirmed'
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list faces: %w", err)
	}
	defer rows.Close()

	faces := []Face{}
	for rows.Next() {
		var f Face
		if err := rows.Scan(&f.ID, &f.Name, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan face: %w", err)
		}
		f.CreatedAt = f.CreatedAt.UTC()
		faces = append(faces, f)
	}
	return faces, rows.Err()
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
