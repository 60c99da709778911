// Package store persists store-and-forward transfer metadata for the
// relay's two-pass hashing path (§4.9, §6): a transfer row tracking
// overall progress plus a chunk row per spooled piece, so a crashed
// relay can resume GC and completion bookkeeping from disk.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ErrTransferNotFound is returned when a transfer row does not exist.
var ErrTransferNotFound = errors.New("store: transfer not found")

// TransferStatus mirrors the §6 transfers.status column.
type TransferStatus string

const (
	StatusPending   TransferStatus = "PENDING"
	StatusReceiving TransferStatus = "RECEIVING"
	StatusComplete  TransferStatus = "COMPLETE"
	StatusFailed    TransferStatus = "FAILED"
)

// Transfer is one row of the transfers table.
type Transfer struct {
	ID            string
	UploaderID    string
	FileSize      int64
	ChunkSize     int64
	ChunkCount    int64
	FileSHA256    [32]byte
	BytesReceived int64
	Status        TransferStatus
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// Chunk is one row of the chunks table.
type Chunk struct {
	TransferID string
	ChunkIndex int64
	SHA256     [32]byte
	ByteOffset int64
	ByteLength int64
	Received   bool
}

// Store wraps a SQLite-backed §6 schema.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open opens (creating if absent) the SQLite database at path and
// ensures the transfers/chunks schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enabling foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
		CREATE TABLE IF NOT EXISTS transfers (
			id              TEXT PRIMARY KEY,
			uploader_id     TEXT NOT NULL,
			file_size       INTEGER NOT NULL,
			chunk_size      INTEGER NOT NULL,
			chunk_count     INTEGER NOT NULL,
			file_sha256     BLOB NOT NULL,
			bytes_received  INTEGER NOT NULL DEFAULT 0,
			status          TEXT NOT NULL,
			created_at      TIMESTAMP NOT NULL,
			expires_at      TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS chunks (
			transfer_id  TEXT NOT NULL,
			chunk_index  INTEGER NOT NULL,
			sha256       BLOB NOT NULL,
			byte_offset  INTEGER NOT NULL,
			byte_length  INTEGER NOT NULL,
			received     INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (transfer_id, chunk_index),
			FOREIGN KEY (transfer_id) REFERENCES transfers(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_transfers_expires ON transfers(expires_at);
		CREATE INDEX IF NOT EXISTS idx_transfers_status ON transfers(status);
	`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("store: init schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// CreateTransfer inserts a new transfer row and its (unreceived) chunk
// rows in one transaction.
func (s *Store) CreateTransfer(t Transfer, chunks []Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO transfers (id, uploader_id, file_size, chunk_size, chunk_count, file_sha256, bytes_received, status, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`,
		t.ID, t.UploaderID, t.FileSize, t.ChunkSize, t.ChunkCount, t.FileSHA256[:], StatusPending, t.CreatedAt, t.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("store: insert transfer: %w", err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO chunks (transfer_id, chunk_index, sha256, byte_offset, byte_length, received) VALUES (?, ?, ?, ?, ?, 0)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.Exec(t.ID, c.ChunkIndex, c.SHA256[:], c.ByteOffset, c.ByteLength); err != nil {
			return fmt.Errorf("store: insert chunk %d: %w", c.ChunkIndex, err)
		}
	}

	return tx.Commit()
}

// MarkChunkReceived flips one chunk's received bit and bumps the
// transfer's bytes_received counter.
func (s *Store) MarkChunkReceived(transferID string, chunkIndex int64, byteLength int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`UPDATE chunks SET received = 1 WHERE transfer_id = ? AND chunk_index = ? AND received = 0`,
		transferID, chunkIndex,
	)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return tx.Commit() // already marked; idempotent
	}

	if _, err := tx.Exec(
		`UPDATE transfers SET bytes_received = bytes_received + ? WHERE id = ?`,
		byteLength, transferID,
	); err != nil {
		return err
	}

	return tx.Commit()
}

// SetStatus updates a transfer's status column.
func (s *Store) SetStatus(transferID string, status TransferStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE transfers SET status = ? WHERE id = ?`, status, transferID)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrTransferNotFound
	}
	return nil
}

// LoadTransfer retrieves a transfer row by id.
func (s *Store) LoadTransfer(transferID string) (Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var t Transfer
	var hash []byte
	var status string
	err := s.db.QueryRow(
		`SELECT id, uploader_id, file_size, chunk_size, chunk_count, file_sha256, bytes_received, status, created_at, expires_at
		 FROM transfers WHERE id = ?`,
		transferID,
	).Scan(&t.ID, &t.UploaderID, &t.FileSize, &t.ChunkSize, &t.ChunkCount, &hash, &t.BytesReceived, &status, &t.CreatedAt, &t.ExpiresAt)
	if err == sql.ErrNoRows {
		return Transfer{}, ErrTransferNotFound
	}
	if err != nil {
		return Transfer{}, fmt.Errorf("store: load transfer: %w", err)
	}
	copy(t.FileSHA256[:], hash)
	t.Status = TransferStatus(status)
	return t, nil
}

// ExpiredTransfers returns transfer ids whose expires_at has passed.
func (s *Store) ExpiredTransfers(now time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT id FROM transfers WHERE expires_at < ?`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteTransfer removes a transfer row; its chunk rows cascade.
func (s *Store) DeleteTransfer(transferID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM transfers WHERE id = ?`, transferID)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrTransferNotFound
	}
	return nil
}
