package postgres

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/samirrijal/saferoute/internal/core/domain"
	"github.com/samirrijal/saferoute/internal/core/ports"
)

var readOnlySnapshot = pgx.TxOptions{
	IsoLevel:   pgx.RepeatableRead,
	AccessMode: pgx.ReadOnly,
}

// IncidentRepo implements ports.IncidentStore with pgx.
//
// A snapshot is one REPEATABLE READ READ ONLY transaction. Every
// aggregation pass of a request runs on it, so a request holds exactly one
// pooled connection for its whole lifetime.
type IncidentRepo struct {
	db *DB
}

// NewIncidentRepo creates a new IncidentRepo.
func NewIncidentRepo(db *DB) *IncidentRepo {
	return &IncidentRepo{db: db}
}

// Ping checks the database is reachable.
func (r *IncidentRepo) Ping(ctx context.Context) error {
	if err := r.db.Pool.Ping(ctx); err != nil {
		return eris.Wrap(err, "postgres: ping")
	}
	return nil
}

// Snapshot begins the read transaction the passes share.
func (r *IncidentRepo) Snapshot(ctx context.Context) (ports.IncidentSnapshot, error) {
	tx, err := r.db.Pool.BeginTx(ctx, readOnlySnapshot)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin snapshot")
	}
	return &incidentSnapshot{tx: tx}, nil
}

// InsertBatch stores incidents, ignoring ones already present.
func (r *IncidentRepo) InsertBatch(ctx context.Context, incidents []domain.Incident) (int64, error) {
	if len(incidents) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, inc := range incidents {
		batch.Queue(`
			INSERT INTO incidents (date, link_id, address, latitude, longitude, type)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (date, link_id, type) DO NOTHING
		`, inc.Date, inc.LinkID, inc.Address, inc.Latitude, inc.Longitude, inc.Type)
	}

	br := r.db.Pool.SendBatch(ctx, batch)
	defer br.Close()

	var inserted int64
	for range incidents {
		tag, err := br.Exec()
		if err != nil {
			return inserted, eris.Wrap(err, "postgres: insert incidents")
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

// incidentSnapshot serializes passes: a pgx transaction is bound to one
// connection, which runs one statement at a time.
type incidentSnapshot struct {
	mu sync.Mutex
	tx pgx.Tx
}

func countQuery(op domain.CompareOp) string {
	return fmt.Sprintf(`
		SELECT link_id, COUNT(*)
		FROM incidents
		WHERE latitude BETWEEN $1 AND $2
		  AND longitude BETWEEN $3 AND $4
		GROUP BY link_id
		HAVING COUNT(*) %s $5
		ORDER BY link_id`, op)
}

// CountLinksByDensity runs one aggregation pass inside the snapshot
// transaction.
func (s *incidentSnapshot) CountLinksByDensity(ctx context.Context, box domain.BoundingBox, pred domain.DensityPredicate) ([]domain.LinkDensity, error) {
	if err := pred.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.tx.Query(ctx, countQuery(pred.Op),
		box.From.Lat, box.To.Lat, box.From.Lng, box.To.Lng, pred.Threshold)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: count links where %s", pred)
	}
	defer rows.Close()

	var out []domain.LinkDensity
	for rows.Next() {
		var d domain.LinkDensity
		if err := rows.Scan(&d.LinkID, &d.Count); err != nil {
			return nil, eris.Wrap(err, "postgres: scan link density")
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "postgres: count links where %s", pred)
	}
	return out, nil
}

// Close ends the transaction and returns its connection to the pool.
func (s *incidentSnapshot) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.tx.Rollback(ctx); err != nil && err != pgx.ErrTxClosed {
		return eris.Wrap(err, "postgres: close snapshot")
	}
	return nil
}
