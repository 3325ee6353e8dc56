package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/superapp-dispatch/internal/models"
)

// PostgresArchive records trips once they reach their terminal phase.
// The service never reads these rows back; the in-memory store stays authoritative.
type PostgresArchive struct {
	db *sql.DB
}

func NewPostgresArchive(dsn string) (*PostgresArchive, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresArchive{db: db}, nil
}

// Migrate applies the schema file at path.
func (p *PostgresArchive) Migrate(ctx context.Context, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read migration: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, string(b)); err != nil {
		return fmt.Errorf("apply migration %s: %w", path, err)
	}
	return nil
}

const archiveSQL = `INSERT INTO trips(id, kind, user_id, status, driver_id, source_id, amount, payload, created_at, completed_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, payload = EXCLUDED.payload, completed_at = EXCLUDED.completed_at`

func (p *PostgresArchive) ArchiveOrder(ctx context.Context, o models.Order) error {
	payload, err := json.Marshal(o)
	if err != nil {
		return err
	}
	source := o.RestaurantID
	if o.Type == models.KindGrocery {
		source = o.StoreID
	}
	_, err = p.db.ExecContext(ctx, archiveSQL,
		o.ID, string(o.Type), o.UserID, string(o.Status), nil, source, o.Total, string(payload), o.CreatedAt, completedAt(o.UpdatedAt))
	return err
}

func (p *PostgresArchive) ArchiveRide(ctx context.Context, r models.Ride) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, archiveSQL,
		r.ID, string(models.KindRide), r.UserID, string(r.Status), r.Driver.ID, nil, r.Fare, string(payload), r.CreatedAt, completedAt(r.UpdatedAt))
	return err
}

// Count returns how many archived trips a user has.
func (p *PostgresArchive) Count(ctx context.Context, userID string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trips WHERE user_id = $1`, userID).Scan(&n)
	return n, err
}

func (p *PostgresArchive) Close() error { return p.db.Close() }

func completedAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
