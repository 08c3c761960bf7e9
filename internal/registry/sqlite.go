package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/mattjoyce/facegate/internal/protocol"
	"github.com/mattjoyce/facegate/internal/storage"
)

// tsLayout is fixed-width so stored timestamps sort lexically.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLite is the embedded Registry backend.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens the registry database at path and purges stale reservations.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := storage.OpenSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	r := &SQLite{db: db, now: time.Now}

	cutoff := r.now().Add(-staleReservation).UTC().Format(tsLayout)
	if _, err := db.ExecContext(ctx, `DELETE FROM faces WHERE status = 'pending' AND created_at < ?;`, cutoff); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("purge stale reservations: %w", err)
	}
	return r, nil
}

func (r *SQLite) Reserve(ctx context.Context, name string) (Reservation, error) {
	name, err := normalizeName(name)
	if err != nil {
		return Reservation{}, err
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO faces (name, name_key, status, created_at) VALUES (?, ?, 'pending', ?);`,
		name, nameKey(name), r.now().UTC().Format(tsLayout),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return Reservation{}, duplicate(name, err)
		}
		return Reservation{}, fmt.Errorf("reserve name: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Reservation{}, fmt.Errorf("reserve name: %w", err)
	}
	return Reservation{ID: id, Name: name}, nil
}

func (r *SQLite) Confirm(ctx context.Context, rv Reservation, reg protocol.Registration) error {
	now := r.now()
	res, err := r.db.ExecContext(ctx,
		`UPDATE faces SET status = 'confirmed', face_id = ?, created_at = ?, confirmed_at = ? WHERE id = ? AND status = 'pending';`,
		reg.ID,
		createdAt(reg, now).Format(tsLayout),
		now.UTC().Format(tsLayout),
		rv.ID,
	)
	if err != nil {
		return fmt.Errorf("confirm %q: %w", rv.Name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("confirm %q: reservation %d not found", rv.Name, rv.ID)
	}
	return nil
}

func (r *SQLite) Release(ctx context.Context, rv Reservation) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM faces WHERE id = ? AND status = 'pending';`, rv.ID); err != nil {
		return fmt.Errorf("release %q: %w", rv.Name, err)
	}
	return nil
}

func (r *SQLite) List(ctx context.Context) ([]Face, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT COALESCE(face_id, id), name, created_at
FROM faces
WHERE status = 'confirmed'
ORDER BY created_at DESC, id DESC;`)
	if err != nil {
		return nil, fmt.Errorf("list faces: %w", err)
	}
	defer rows.Close()

	faces := []Face{}
	for rows.Next() {
		var (
			f  Face
			ts string
		)
		if err := rows.Scan(&f.ID, &f.Name, &ts); err != nil {
			return nil, fmt.Errorf("scan face: %w", err)
		}
		if f.CreatedAt, err = time.Parse(tsLayout, ts); err != nil {
			return nil, fmt.Errorf("face %q: bad created_at %q: %w", f.Name, ts, err)
		}
		faces = append(faces, f)
	}
	return faces, rows.Err()
}

func (r *SQLite) Close() error {
	return r.db.Close()
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}
