// Package sqlite implements the fingerprint store on an embedded sqlite database.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/loomworks/loom/internal/core/domain"
	"github.com/loomworks/loom/internal/core/ports"
	"go.trai.ch/zerr"

	_ "modernc.org/sqlite" // driver
)

var _ ports.FingerprintStore = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS entries (
	target      TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL,
	output_hash TEXT NOT NULL DEFAULT '',
	outputs     TEXT NOT NULL DEFAULT '[]',
	timestamp   INTEGER NOT NULL
);
`

// Store implements ports.FingerprintStore using one sqlite database per
// project root. Entry replacement rides on sqlite's transactional upsert,
// which gives the same atomic-replace guarantee as the file store.
type Store struct {
	mu  sync.Mutex
	dbs map[string]*sql.DB
}

// NewStore creates a new sqlite-backed fingerprint store.
func NewStore() *Store {
	return &Store{dbs: make(map[string]*sql.DB)}
}

// Get retrieves the entry for a target name. Returns nil, nil if not found.
func (s *Store) Get(root, targetName string) (*domain.Entry, error) {
	db, err := s.open(root)
	if err != nil {
		return nil, err
	}

	row := db.QueryRow(
		`SELECT fingerprint, output_hash, outputs, timestamp FROM entries WHERE target = ?`,
		targetName,
	)

	var (
		fingerprint string
		outputHash  string
		outputsJSON string
		ts          int64
	)
	if err := row.Scan(&fingerprint, &outputHash, &outputsJSON, &ts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreReadFailed, err)
	}

	var outputs []domain.OutputRef
	if err := json.Unmarshal([]byte(outputsJSON), &outputs); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnmarshalFailed, err)
	}

	return &domain.Entry{
		TargetName:  targetName,
		Fingerprint: fingerprint,
		OutputHash:  outputHash,
		Outputs:     outputs,
		Timestamp:   time.Unix(0, ts),
	}, nil
}

// Put stores the entry, replacing any previous entry for the target.
func (s *Store) Put(root string, entry domain.Entry) error {
	db, err := s.open(root)
	if err != nil {
		return err
	}

	outputsJSON, err := json.Marshal(entry.Outputs)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStoreMarshalFailed, err)
	}

	_, err = db.Exec(
		`INSERT INTO entries (target, fingerprint, output_hash, outputs, timestamp)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(target) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			output_hash = excluded.output_hash,
			outputs     = excluded.outputs,
			timestamp   = excluded.timestamp`,
		entry.TargetName,
		entry.Fingerprint,
		entry.OutputHash,
		string(outputsJSON),
		entry.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStoreWriteFailed, err)
	}

	return nil
}

// Close closes all open databases.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs error
	for root, db := range s.dbs {
		if err := db.Close(); err != nil {
			errs = errors.Join(errs, zerr.With(err, "root", root))
		}
		delete(s.dbs, root)
	}
	return errs
}

// open returns the database for root, creating it on first use.
func (s *Store) open(root string) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if db, ok := s.dbs[root]; ok {
		return db, nil
	}

	if err := os.MkdirAll(domain.StorePath(root), domain.DirPerm); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreCreateFailed, err)
	}

	// Pragmas go through the DSN so every pooled connection gets them,
	// not just the one that happened to run an Exec.
	dsn := domain.DBPath(root) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreCreateFailed, err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreCreateFailed, err)
	}

	s.dbs[root] = db
	return db, nil
}
