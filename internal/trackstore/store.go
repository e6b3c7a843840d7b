// Package trackstore persists published track snapshots in SQLite so runs
// can be replayed, inspected and plotted.
package trackstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/scenetrack/internal/monitoring"
	"github.com/banshee-data/scenetrack/internal/scene"
	"github.com/banshee-data/scenetrack/internal/timeutil"
	"github.com/banshee-data/scenetrack/internal/tracking/object"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var logf = monitoring.Component("trackstore")

// ErrUnknownRun is returned for run ids that were never started.
var ErrUnknownRun = errors.New("unknown run")

var _ scene.Sink = (*Store)(nil)

// Store is a SQLite-backed snapshot sink. It is safe for concurrent use.
type Store struct {
	db    *sql.DB
	clock timeutil.Clock // stamps run start times; set before use

	startMu sync.Mutex // serialises Publish's get-or-start of a run

	mu   sync.Mutex
	runs map[uuid.UUID]uuid.UUID // scene id → run id, for Publish
}

// Point is one persisted state of a track.
type Point struct {
	Timestamp      time.Time
	X, Y, Z        float64
	VX, VY         float64
	Yaw            float64
	Length         float64
	Width          float64
	Height         float64
	Classification []float64
	Attributes     map[string]string
}

// TrackKey identifies a track within a run.
type TrackKey struct {
	Category string
	TrackID  int64
}

// CountSample is the number of reliable tracks of a category at one instant.
type CountSample struct {
	Timestamp time.Time
	Category  string
	Tracks    int
}

// Open opens (creating if needed) the database at path and migrates it to
// the latest schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open track store: %w", err)
	}
	// Connection-scoped pragmas below must hold for every statement.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, clock: timeutil.RealClock{}, runs: make(map[uuid.UUID]uuid.UUID)}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	// m is not closed: that would close the shared *sql.DB.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...any) { logf(format, v...) }
func (migrateLogger) Verbose() bool                  { return false }

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// StartRun registers a new run of the given scene and returns its id.
func (s *Store) StartRun(ctx context.Context, sceneID uuid.UUID, sceneName string) (uuid.UUID, error) {
	runID := uuid.New()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, scene_id, scene_name, started_unix_nanos) VALUES (?, ?, ?, ?)`,
		runID.String(), sceneID.String(), sceneName, s.clock.Now().UnixNano())
	if err != nil {
		return uuid.Nil, fmt.Errorf("start run: %w", err)
	}

	s.mu.Lock()
	s.runs[sceneID] = runID
	s.mu.Unlock()
	return runID, nil
}

// SetClock replaces the clock that stamps run start times.
func (s *Store) SetClock(c timeutil.Clock) {
	s.clock = c
}

// Run describes one recorded run.
type Run struct {
	ID        uuid.UUID
	SceneID   uuid.UUID
	SceneName string
	Started   time.Time
}

// Run returns the run registered as runID.
func (s *Store) Run(ctx context.Context, runID uuid.UUID) (Run, error) {
	var (
		r       = Run{ID: runID}
		sceneID string
		nanos   int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT scene_id, scene_name, started_unix_nanos FROM runs WHERE run_id = ?`,
		runID.String()).Scan(&sceneID, &r.SceneName, &nanos)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	if err != nil {
		return Run{}, fmt.Errorf("look up run: %w", err)
	}
	if r.SceneID, err = uuid.Parse(sceneID); err != nil {
		return Run{}, fmt.Errorf("parse scene id of run %s: %w", runID, err)
	}
	r.Started = time.Unix(0, nanos).UTC()
	return r, nil
}

// RunFor returns the run Publish writes the scene's snapshots to.
func (s *Store) RunFor(sceneID uuid.UUID) (uuid.UUID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.runs[sceneID]
	return id, ok
}

// Publish records snap in the scene's current run, starting one on first use.
func (s *Store) Publish(ctx context.Context, snap scene.Snapshot) error {
	s.startMu.Lock()
	runID, ok := s.RunFor(snap.SceneID)
	if !ok {
		var err error
		if runID, err = s.StartRun(ctx, snap.SceneID, snap.SceneName); err != nil {
			s.startMu.Unlock()
			return err
		}
	}
	s.startMu.Unlock()
	return s.RecordSnapshot(ctx, runID, snap.Category, snap.Timestamp, snap.Tracks)
}

// RecordSnapshot stores the tracks of category at ts in one transaction.
// Recording the same run, category and instant again replaces it.
func (s *Store) RecordSnapshot(ctx context.Context, runID uuid.UUID, category string, ts time.Time, tracks []object.TrackedObject) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE run_id = ?`, runID.String()).Scan(&exists); err != nil {
		return fmt.Errorf("look up run: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}

	nanos := ts.UnixNano()
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM track_states WHERE run_id = ? AND category = ? AND ts_unix_nanos = ?`,
		runID.String(), category, nanos); err != nil {
		return fmt.Errorf("clear replaced snapshot: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO snapshots (run_id, category, ts_unix_nanos, track_count) VALUES (?, ?, ?, ?)`,
		runID.String(), category, nanos, len(tracks)); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO track_states
		(run_id, category, track_id, ts_unix_nanos, x, y, z, vx, vy, yaw, length, width, height, class_probs, attributes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare track insert: %w", err)
	}
	defer stmt.Close()

	for i := range tracks {
		t := &tracks[i]
		probs, err := json.Marshal(nonNil(t.Classification))
		if err != nil {
			return fmt.Errorf("encode classification of track %d: %w", t.ID, err)
		}
		attrs, err := json.Marshal(attributeMap(t.Attributes))
		if err != nil {
			return fmt.Errorf("encode attributes of track %d: %w", t.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, runID.String(), category, t.ID, nanos,
			t.X, t.Y, t.Z, t.VX, t.VY, t.Yaw, t.Length, t.Width, t.Height,
			string(probs), string(attrs)); err != nil {
			return fmt.Errorf("insert track %d: %w", t.ID, err)
		}
	}
	return tx.Commit()
}

func nonNil(v []float64) []float64 {
	if v == nil {
		return []float64{}
	}
	return v
}

func attributeMap(a *object.Attributes) map[string]string {
	out := make(map[string]string, a.Len())
	for _, k := range a.Keys() {
		v, _ := a.Get(k)
		out[k] = v
	}
	return out
}

// RunTrackIDs returns every track recorded in runID, by category then id.
func (s *Store) RunTrackIDs(ctx context.Context, runID uuid.UUID) ([]TrackKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT category, track_id FROM track_states WHERE run_id = ? ORDER BY category, track_id`,
		runID.String())
	if err != nil {
		return nil, fmt.Errorf("query track ids: %w", err)
	}
	defer rows.Close()

	var out []TrackKey
	for rows.Next() {
		var k TrackKey
		if err := rows.Scan(&k.Category, &k.TrackID); err != nil {
			return nil, fmt.Errorf("scan track id: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// TrackHistory returns the recorded states of one track in time order.
func (s *Store) TrackHistory(ctx context.Context, runID uuid.UUID, key TrackKey) ([]Point, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts_unix_nanos, x, y, z, vx, vy, yaw, length, width, height, class_probs, attributes
		 FROM track_states WHERE run_id = ? AND category = ? AND track_id = ? ORDER BY ts_unix_nanos`,
		runID.String(), key.Category, key.TrackID)
	if err != nil {
		return nil, fmt.Errorf("query track history: %w", err)
	}
	defer rows.Close()

	var out []Point
	for rows.Next() {
		var (
			p            Point
			nanos        int64
			probs, attrs string
		)
		if err := rows.Scan(&nanos, &p.X, &p.Y, &p.Z, &p.VX, &p.VY, &p.Yaw,
			&p.Length, &p.Width, &p.Height, &probs, &attrs); err != nil {
			return nil, fmt.Errorf("scan track state: %w", err)
		}
		p.Timestamp = time.Unix(0, nanos).UTC()
		if err := json.Unmarshal([]byte(probs), &p.Classification); err != nil {
			return nil, fmt.Errorf("decode classification: %w", err)
		}
		if err := json.Unmarshal([]byte(attrs), &p.Attributes); err != nil {
			return nil, fmt.Errorf("decode attributes: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// TrackCounts returns the reliable-track count of every snapshot in runID,
// in time order.
func (s *Store) TrackCounts(ctx context.Context, runID uuid.UUID) ([]CountSample, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts_unix_nanos, category, track_count FROM snapshots WHERE run_id = ? ORDER BY ts_unix_nanos, category`,
		runID.String())
	if err != nil {
		return nil, fmt.Errorf("query track counts: %w", err)
	}
	defer rows.Close()

	var out []CountSample
	for rows.Next() {
		var (
			c     CountSample
			nanos int64
		)
		if err := rows.Scan(&nanos, &c.Category, &c.Tracks); err != nil {
			return nil, fmt.Errorf("scan track count: %w", err)
		}
		c.Timestamp = time.Unix(0, nanos).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}
