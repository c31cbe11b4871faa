package analysis

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mdobak/go-xerrors"
)

const storeSchema = `
CREATE TABLE IF NOT EXISTS exports (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at    INTEGER NOT NULL,
	sample_rate   INTEGER NOT NULL,
	total_samples INTEGER NOT NULL,
	body          TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS classifications (
	path        TEXT PRIMARY KEY,
	file_hash   TEXT NOT NULL,
	genre       TEXT NOT NULL,
	tempo       REAL NOT NULL,
	low         REAL NOT NULL,
	mid         REAL NOT NULL,
	high        REAL NOT NULL,
	analyzed_at INTEGER NOT NULL
);
`

var (
	// ErrNotFound is returned when a stored record does not exist
	ErrNotFound = xerrors.Message("record not found")
	// ErrStoreClosed is returned by every operation after Close
	ErrStoreClosed = xerrors.Message("store closed")
)

// ExportRecord is a persisted snapshot
type ExportRecord struct {
	ID           int64  `json:"id"`
	CreatedAt    int64  `json:"createdAt"`
	SampleRate   int    `json:"sampleRate"`
	TotalSamples int    `json:"totalSamples"`
	Body         string `json:"body,omitempty"`
}

// Classification is a persisted batch result for one file
type Classification struct {
	Path       string  `json:"path"`
	FileHash   string  `json:"fileHash"`
	Genre      string  `json:"genre"`
	TempoBPM   float64 `json:"tempo"`
	Low        float64 `json:"low"`
	Mid        float64 `json:"mid"`
	High       float64 `json:"high"`
	AnalyzedAt int64   `json:"analyzedAt"`
}

// Store persists snapshots and batch classifications in SQLite
type Store struct {
	mu sync.Mutex
	db *sql.DB

	path string
}

// OpenStore opens (or creates) the database at path
func OpenStore(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, xerrors.New("create store dir", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, xerrors.New("open store", err)
	}
	// A single connection keeps :memory: databases coherent
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(storeSchema); err != nil {
		db.Close()
		return nil, xerrors.New("migrate store", err)
	}

	return &Store{db: db, path: path}, nil
}

// Path returns the database location
func (s *Store) Path() string {
	return s.path
}

// Close releases the database
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// SaveExport stores a snapshot and returns its id
func (s *Store) SaveExport(snap Snapshot) (int64, error) {
	body, err := json.Marshal(snap)
	if err != nil {
		return 0, xerrors.New("marshal snapshot", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return 0, ErrStoreClosed
	}

	res, err := s.db.Exec(
		`INSERT INTO exports (created_at, sample_rate, total_samples, body) VALUES (?, ?, ?, ?)`,
		time.Now().UnixMilli(), snap.SampleRate, snap.TotalSamples, string(body),
	)
	if err != nil {
		return 0, xerrors.New("insert export", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, xerrors.New("export id", err)
	}
	return id, nil
}

// ListExports returns the newest exports without their bodies
func (s *Store) ListExports(limit int) ([]ExportRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(
		`SELECT id, created_at, sample_rate, total_samples FROM exports ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, xerrors.New("query exports", err)
	}
	defer rows.Close()

	var out []ExportRecord
	for rows.Next() {
		var r ExportRecord
		if err := rows.Scan(&r.ID, &r.CreatedAt, &r.SampleRate, &r.TotalSamples); err != nil {
			return nil, xerrors.New("scan export", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.New("iterate exports", err)
	}
	return out, nil
}

// GetExport loads one export including its body
func (s *Store) GetExport(id int64) (ExportRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return ExportRecord{}, ErrStoreClosed
	}

	var r ExportRecord
	err := s.db.QueryRow(
		`SELECT id, created_at, sample_rate, total_samples, body FROM exports WHERE id = ?`, id,
	).Scan(&r.ID, &r.CreatedAt, &r.SampleRate, &r.TotalSamples, &r.Body)
	if err == sql.ErrNoRows {
		return r, ErrNotFound
	}
	if err != nil {
		return r, xerrors.New(fmt.Sprintf("get export %d", id), err)
	}
	return r, nil
}

// SaveClassification upserts the result for a file
func (s *Store) SaveClassification(c Classification) error {
	if c.AnalyzedAt == 0 {
		c.AnalyzedAt = time.Now().Unix()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return ErrStoreClosed
	}

	_, err := s.db.Exec(`
		INSERT INTO classifications (path, file_hash, genre, tempo, low, mid, high, analyzed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			file_hash = excluded.file_hash,
			genre = excluded.genre,
			tempo = excluded.tempo,
			low = excluded.low,
			mid = excluded.mid,
			high = excluded.high,
			analyzed_at = excluded.analyzed_at`,
		c.Path, c.FileHash, c.Genre, c.TempoBPM, c.Low, c.Mid, c.High, c.AnalyzedAt,
	)
	if err != nil {
		return xerrors.New(fmt.Sprintf("save classification %s", c.Path), err)
	}
	return nil
}

// GetClassification loads the stored result for a file
func (s *Store) GetClassification(path string) (Classification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return Classification{}, ErrStoreClosed
	}

	var c Classification
	err := s.db.QueryRow(`
		SELECT path, file_hash, genre, tempo, low, mid, high, analyzed_at
		FROM classifications WHERE path = ?`, path,
	).Scan(&c.Path, &c.FileHash, &c.Genre, &c.TempoBPM, &c.Low, &c.Mid, &c.High, &c.AnalyzedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, xerrors.New(fmt.Sprintf("get classification %s", path), err)
	}
	return c, nil
}

// NeedsClassification reports whether path is missing or its hash changed
func (s *Store) NeedsClassification(path, fileHash string) bool {
	c, err := s.GetClassification(path)
	if err != nil {
		return true
	}
	return c.FileHash != fileHash
}
