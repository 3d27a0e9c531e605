package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/samirrijal/saferoute/internal/core/domain"
	"github.com/samirrijal/saferoute/internal/core/ports"
)

// Store implements ports.IncidentStore on a single SQLite file, the
// layout the ingestion job writes (server.db).
type Store struct {
	db *sql.DB
}

// New opens a SQLite database at the given path and configures WAL mode.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
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
	return &Store{db: db}, nil
}

const migration = `
CREATE TABLE IF NOT EXISTS incidents (
	date      INTEGER NOT NULL,
	link_id   INTEGER NOT NULL,
	address   TEXT    NOT NULL DEFAULT '',
	latitude  REAL    NOT NULL,
	longitude REAL    NOT NULL,
	type      TEXT    NOT NULL,
	PRIMARY KEY (date, link_id, type)
);

CREATE INDEX IF NOT EXISTS idx_incidents_lat_lng ON incidents(latitude, longitude);
CREATE INDEX IF NOT EXISTS idx_incidents_link ON incidents(link_id);
`

// Migrate creates the incidents table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, migration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Insert stores incidents in one transaction, ignoring ones already present.
func (s *Store) Insert(ctx context.Context, incidents ...domain.Incident) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin insert")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO incidents (date, link_id, address, latitude, longitude, type)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare insert")
	}
	defer stmt.Close()

	var inserted int64
	for _, inc := range incidents {
		res, err := stmt.ExecContext(ctx, inc.Date, inc.LinkID, inc.Address, inc.Latitude, inc.Longitude, inc.Type)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert incident on link %d", inc.LinkID)
		}
		n, err := rowsInserted(res, inc.LinkID)
		if err != nil {
			return 0, err
		}
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit insert")
	}
	return inserted, nil
}

func rowsInserted(res sql.Result, linkID int64) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: rows inserted for link %d", linkID)
	}
	return n, nil
}

// Ping checks the database file is usable.
func (s *Store) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

// Snapshot opens a read-only transaction. SQLite pins the snapshot at the
// first read and keeps it until the transaction ends.
func (s *Store) Snapshot(ctx context.Context) (ports.IncidentSnapshot, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin snapshot")
	}
	return &snapshot{tx: tx}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// snapshot serializes passes: a transaction is bound to one connection.
type snapshot struct {
	mu sync.Mutex
	tx *sql.Tx
}

func (s *snapshot) CountLinksByDensity(ctx context.Context, box domain.BoundingBox, pred domain.DensityPredicate) ([]domain.LinkDensity, error) {
	if err := pred.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.tx.QueryContext(ctx, fmt.Sprintf(`
		SELECT link_id, COUNT(*)
		FROM incidents
		WHERE latitude BETWEEN ? AND ?
		  AND longitude BETWEEN ? AND ?
		GROUP BY link_id
		HAVING COUNT(*) %s ?
		ORDER BY link_id`, pred.Op),
		box.From.Lat, box.To.Lat, box.From.Lng, box.To.Lng, pred.Threshold)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: count links where %s", pred)
	}
	defer rows.Close()

	var out []domain.LinkDensity
	for rows.Next() {
		var d domain.LinkDensity
		if err := rows.Scan(&d.LinkID, &d.Count); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan link density")
		}
		out = append(out, d)
	}
	return out, eris.Wrapf(rows.Err(), "sqlite: count links where %s", pred)
}

func (s *snapshot) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return eris.Wrap(err, "sqlite: close snapshot")
	}
	return nil
}
