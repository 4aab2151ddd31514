package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/geo-catalog/internal/geo"
	"github.com/sells-group/geo-catalog/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Coordinates live in
// plain REAL columns; radius queries prefilter on a bounding box and compute
// great-circle distance in Go.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// A single writer avoids SQLITE_BUSY between the pipeline's goroutines.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS records (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	dataset_id  TEXT NOT NULL,
	system_name TEXT NOT NULL,
	longitude   REAL NOT NULL,
	latitude    REAL NOT NULL,
	metadata    TEXT NOT NULL DEFAULT '{}',
	ingested_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
	UNIQUE (system_name, dataset_id)
);

CREATE INDEX IF NOT EXISTS idx_records_dataset_id ON records(dataset_id);
CREATE INDEX IF NOT EXISTS idx_records_system_name ON records(system_name);

CREATE TABLE IF NOT EXISTS ingest_runs (
	id           TEXT PRIMARY KEY,
	status       TEXT NOT NULL,
	data_dir     TEXT NOT NULL DEFAULT '',
	cleared      INTEGER NOT NULL DEFAULT 0,
	started_at   TEXT NOT NULL,
	completed_at TEXT,
	sources      TEXT NOT NULL DEFAULT '[]',
	error        TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_ingest_runs_started_at ON ingest_runs(started_at);
`

// Migrate creates the schema if it does not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Ping checks the database handle.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Clear deletes every record.
func (s *SQLiteStore) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM records`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: clear records")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: clear records")
}

const (
	sqliteInsert = `INSERT INTO records (dataset_id, system_name, longitude, latitude, metadata) VALUES (?, ?, ?, ?, ?)`
	sqliteUpsert = sqliteInsert + `
ON CONFLICT (system_name, dataset_id) DO UPDATE SET
	longitude = excluded.longitude,
	latitude = excluded.latitude,
	metadata = excluded.metadata,
	ingested_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')`
)

// InsertRecords writes records in one transaction. A key collision fails
// the whole batch.
func (s *SQLiteStore) InsertRecords(ctx context.Context, records []model.Record) (int64, error) {
	return s.write(ctx, "insert records", sqliteInsert, records)
}

// UpsertRecords writes records in one transaction, replacing any stored
// record with the same (system_name, dataset_id).
func (s *SQLiteStore) UpsertRecords(ctx context.Context, records []model.Record) (int64, error) {
	return s.write(ctx, "upsert records", sqliteUpsert, records)
}

func (s *SQLiteStore) write(ctx context.Context, op, query string, records []model.Record) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: %s: begin", op)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: %s: prepare", op)
	}
	defer stmt.Close() //nolint:errcheck

	var n int64
	for _, r := range records {
		meta, err := json.Marshal(r.Metadata.OrEmpty())
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: encode metadata for %s", r.Key())
		}
		if _, err := stmt.ExecContext(ctx, r.DatasetID, string(r.SystemName),
			r.Coordinates.Longitude, r.Coordinates.Latitude, string(meta)); err != nil {
			return 0, eris.Wrapf(err, "sqlite: %s: %s", op, r.Key())
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrapf(err, "sqlite: %s: commit", op)
	}
	return n, nil
}

// EnsureSpatialIndex creates the coordinate index used by box queries.
func (s *SQLiteStore) EnsureSpatialIndex(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_records_coords ON records(latitude, longitude)`)
	return eris.Wrap(err, "sqlite: ensure spatial index")
}

// Stats counts records per system and computes the coordinate extent.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT system_name, count(*) FROM records GROUP BY system_name ORDER BY system_name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count by system")
	}
	defer rows.Close() //nolint:errcheck

	st := &Stats{BySystem: make(map[model.SystemName]int64)}
	for rows.Next() {
		var sys string
		var n int64
		if err := rows.Scan(&sys, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan count")
		}
		st.BySystem[model.SystemName(sys)] = n
		st.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: count by system")
	}

	var west, east, south, north sql.NullFloat64
	err = s.db.QueryRowContext(ctx,
		`SELECT min(longitude), max(longitude), min(latitude), max(latitude) FROM records`,
	).Scan(&west, &east, &south, &north)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: bounds")
	}
	if west.Valid && east.Valid && south.Valid && north.Valid {
		st.Bounds = &geo.BBox{West: west.Float64, South: south.Float64, East: east.Float64, North: north.Float64}
	}
	return st, nil
}

const sqliteSelect = `SELECT dataset_id, system_name, longitude, latitude, metadata FROM records`

func sqlitePlaceholder(int) string { return "?" }

// sqliteLimit renders a LIMIT clause; SQLite reads -1 as no limit.
func sqliteLimit(w *where, limit int) string {
	if limit <= 0 {
		return ""
	}
	return " LIMIT " + w.next(limit)
}

func sqliteBox(w *where) func(geo.BBox) string {
	return func(b geo.BBox) string {
		return fmt.Sprintf("(longitude BETWEEN %s AND %s AND latitude BETWEEN %s AND %s)",
			w.next(b.West), w.next(b.East), w.next(b.South), w.next(b.North))
	}
}

// ByDatasetID returns every record carrying the id, across systems unless
// narrowed.
func (s *SQLiteStore) ByDatasetID(ctx context.Context, datasetID string, f Filter) ([]model.Hit, error) {
	w := &where{placeholder: sqlitePlaceholder}
	w.add("dataset_id = ?", datasetID)
	if f.System != "" {
		w.add("system_name = ?", string(f.System))
	}
	return s.queryHits(ctx, "by dataset id", sqliteSelect+w.String()+" ORDER BY id"+sqliteLimit(w, f.Limit), w.args)
}

// BySystem returns the records of one system in insertion order.
func (s *SQLiteStore) BySystem(ctx context.Context, system model.SystemName, limit int) ([]model.Hit, error) {
	w := &where{placeholder: sqlitePlaceholder}
	w.add("system_name = ?", string(system))
	return s.queryHits(ctx, "by system", sqliteSelect+w.String()+" ORDER BY id"+sqliteLimit(w, limit), w.args)
}

// InBox returns records inside box. Edges are inclusive.
func (s *SQLiteStore) InBox(ctx context.Context, box geo.BBox, f Filter) ([]model.Hit, error) {
	w := &where{placeholder: sqlitePlaceholder}
	w.conds = append(w.conds, boxCondition(box, sqliteBox(w)))
	if f.System != "" {
		w.add("system_name = ?", string(f.System))
	}
	return s.queryHits(ctx, "in box", sqliteSelect+w.String()+" ORDER BY id"+sqliteLimit(w, f.Limit), w.args)
}

// Nearby returns records within meters of center, nearest first. Ties keep
// insertion order.
func (s *SQLiteStore) Nearby(ctx context.Context, center model.Point, meters float64, f Filter) ([]model.Hit, error) {
	w := &where{placeholder: sqlitePlaceholder}
	w.conds = append(w.conds, boxCondition(geo.Around(center, meters), sqliteBox(w)))
	if f.System != "" {
		w.add("system_name = ?", string(f.System))
	}
	candidates, err := s.queryHits(ctx, "nearby", sqliteSelect+w.String()+" ORDER BY id", w.args)
	if err != nil {
		return nil, err
	}

	hits := candidates[:0]
	for _, h := range candidates {
		d := geo.Haversine(center, h.Coordinates)
		if d > meters {
			continue
		}
		h.DistanceMeters = &d
		hits = append(hits, h)
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return *hits[i].DistanceMeters < *hits[j].DistanceMeters
	})
	if f.Limit > 0 && len(hits) > f.Limit {
		hits = hits[:f.Limit]
	}
	return hits, nil
}

// All returns records in insertion order.
func (s *SQLiteStore) All(ctx context.Context, f Filter) ([]model.Hit, error) {
	w := &where{placeholder: sqlitePlaceholder}
	if f.System != "" {
		w.add("system_name = ?", string(f.System))
	}
	return s.queryHits(ctx, "all", sqliteSelect+w.String()+" ORDER BY id"+sqliteLimit(w, f.Limit), w.args)
}

func (s *SQLiteStore) queryHits(ctx context.Context, op, q string, args []any) ([]model.Hit, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: %s", op)
	}
	defer rows.Close() //nolint:errcheck

	var hits []model.Hit
	for rows.Next() {
		h, err := scanHit(rows)
		if err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, eris.Wrapf(rows.Err(), "sqlite: %s", op)
}

// scannable is satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func scanHit(row scannable) (model.Hit, error) {
	var (
		h    model.Hit
		sys  string
		meta string
	)
	if err := row.Scan(&h.DatasetID, &sys, &h.Coordinates.Longitude, &h.Coordinates.Latitude, &meta); err != nil {
		return h, eris.Wrap(err, "sqlite: scan record")
	}
	h.SystemName = model.SystemName(sys)
	if err := json.Unmarshal([]byte(meta), &h.Metadata); err != nil {
		return h, eris.Wrapf(err, "sqlite: decode metadata for %s", h.Key())
	}
	return h, nil
}

// StartRun records the beginning of an ingest run, assigning an id if the
// run has none.
func (s *SQLiteStore) StartRun(ctx context.Context, run *model.IngestRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	run.Status = model.RunStatusRunning
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ingest_runs (id, status, data_dir, cleared, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, string(run.Status), run.DataDir, run.Cleared, formatTime(run.StartedAt),
	)
	return eris.Wrapf(err, "sqlite: start run %s", run.ID)
}

// FinishRun stores the final status, source reports and error of a run.
func (s *SQLiteStore) FinishRun(ctx context.Context, run *model.IngestRun) error {
	sources, err := json.Marshal(run.Sources)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run sources")
	}
	var completed any
	if run.CompletedAt != nil {
		completed = formatTime(*run.CompletedAt)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE ingest_runs SET status = ?, completed_at = ?, sources = ?, error = ? WHERE id = ?`,
		string(run.Status), completed, string(sources), run.Error, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", run.ID)
	}
	return checkRowsAffected(res, "run", run.ID)
}

// ListRuns returns the most recent runs first. limit <= 0 returns 100.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.IngestRun, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status, data_dir, cleared, started_at, completed_at, sources, error
		 FROM ingest_runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.IngestRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs")
}

func scanRun(row scannable) (*model.IngestRun, error) {
	var (
		r         model.IngestRun
		status    string
		started   string
		completed sql.NullString
		sources   string
	)
	if err := row.Scan(&r.ID, &status, &r.DataDir, &r.Cleared, &started, &completed, &sources, &r.Error); err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	r.Status = model.RunStatus(status)

	var err error
	if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return nil, eris.Wrapf(err, "sqlite: parse started_at for run %s", r.ID)
	}
	if completed.Valid {
		t, err := time.Parse(time.RFC3339Nano, completed.String)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: parse completed_at for run %s", r.ID)
		}
		r.CompletedAt = &t
	}
	if err := json.Unmarshal([]byte(sources), &r.Sources); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal sources for run %s", r.ID)
	}
	return &r, nil
}

// timeLayout keeps fractional seconds at fixed width so stored timestamps
// sort correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "sqlite: rows affected for %s %s", entity, id)
	}
	if n == 0 {
		return eris.Errorf("sqlite: %s not found: %s", entity, id)
	}
	return nil
}
