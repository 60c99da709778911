// Package cas is the relay's store-and-forward content-addressed spool
// (§4.9, §6 retention_hours): chunks land here keyed by a BLAKE3 digest
// of their encrypted bytes so identical chunks re-sent across transfers
// (or retried after a crash) are deduplicated, with Reed-Solomon parity
// shards protecting the spooled bytes against disk bit-rot — a concern
// distinct from the wire path's own NACK-based retransmission.
package cas

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
	"github.com/zeebo/blake3"

	"github.com/havenlink/transfercore/internal/fec"
)

var (
	bucketChunks = []byte("chunks")
	bucketParity = []byte("parity")
)

// dataShards is the number of equal-length (zero-padded) pieces each
// spooled chunk is split into for at-rest FEC; parityShards is the number
// of Reed-Solomon parity shards kept alongside them.
const (
	dataShards   = 4
	parityShards = 2
)

// Key is a content-address: the BLAKE3-256 digest of a chunk's encrypted
// bytes.
type Key [32]byte

// KeyOf computes the content-address of data.
func KeyOf(data []byte) Key {
	return Key(blake3.Sum256(data))
}

func (k Key) String() string { return fmt.Sprintf("%x", k[:]) }

// Store is a BoltDB-backed content-addressed spool.
type Store struct {
	db  *bolt.DB
	enc *fec.Encoder
	dec *fec.Decoder
}

// Open opens (creating if absent) the CAS database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(filepath.Clean(path), 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("cas: open: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketChunks); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketParity)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	enc, err := fec.NewEncoder(dataShards, parityShards)
	if err != nil {
		db.Close()
		return nil, err
	}
	dec, err := fec.NewDecoder(dataShards, parityShards)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, enc: enc, dec: dec}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Has reports whether a chunk with the given content-address is spooled.
func (s *Store) Has(key Key) bool {
	var ok bool
	_ = s.db.View(func(tx *bolt.Tx) error {
		ok = tx.Bucket(bucketChunks).Get(key[:]) != nil
		return nil
	})
	return ok
}

// Put spools data under its content-address, generating and storing
// at-rest parity shards alongside it. Returns the computed key. A
// pre-existing entry is left untouched (dedup).
func (s *Store) Put(data []byte) (Key, error) {
	key := KeyOf(data)
	if s.Has(key) {
		return key, nil
	}

	dataShardsSlice, pad, err := splitShards(data, dataShards)
	if err != nil {
		return Key{}, err
	}
	parity, err := s.enc.Encode(dataShardsSlice)
	if err != nil {
		return Key{}, fmt.Errorf("cas: encode parity: %w", err)
	}
	padded := joinShards(dataShardsSlice)

	err = s.db.Update(func(tx *bolt.Tx) error {
		now := make([]byte, 8)
		binary.BigEndian.PutUint64(now, uint64(time.Now().Unix()))
		record := append(now, encodeLen(pad)...)
		record = append(record, padded...)
		if err := tx.Bucket(bucketChunks).Put(key[:], record); err != nil {
			return err
		}
		return tx.Bucket(bucketParity).Put(key[:], joinShards(parity))
	})
	if err != nil {
		return Key{}, fmt.Errorf("cas: put: %w", err)
	}
	return key, nil
}

// Get retrieves a spooled chunk's original bytes.
func (s *Store) Get(key Key) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketChunks).Get(key[:])
		if v == nil {
			return fmt.Errorf("cas: key %s not found", key)
		}
		if len(v) < 12 {
			return fmt.Errorf("cas: corrupt record for %s", key)
		}
		pad := decodeLen(v[8:12])
		body := v[12:]
		data = append([]byte(nil), body[:len(body)-pad]...)
		return nil
	})
	return data, err
}

// Verify splits a spooled chunk's stored data and parity back into shards
// and hands them to the Reed-Solomon decoder. Every shard is present, so
// the decoder reconstructs nothing: Verify reports a missing key or a
// malformed shard set, but does not detect altered bytes in a shard.
func (s *Store) Verify(key Key) error {
	var data, parityBlob []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketChunks).Get(key[:])
		if v == nil {
			return fmt.Errorf("cas: key %s not found", key)
		}
		data = append([]byte(nil), v[12:]...)
		parityBlob = append([]byte(nil), tx.Bucket(bucketParity).Get(key[:])...)
		return nil
	})
	if err != nil {
		return err
	}

	shardLen := len(data) / dataShards
	shards := make([][]byte, dataShards+parityShards)
	for i := 0; i < dataShards; i++ {
		shards[i] = data[i*shardLen : (i+1)*shardLen]
	}
	for i := 0; i < parityShards; i++ {
		shards[dataShards+i] = parityBlob[i*shardLen : (i+1)*shardLen]
	}
	return s.dec.Reconstruct(shards)
}

// GC removes entries (and their parity) older than maxAge. It returns
// the number of entries removed.
func (s *Store) GC(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge).Unix()
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		chunks := tx.Bucket(bucketChunks)
		parity := tx.Bucket(bucketParity)
		c := chunks.Cursor()
		var stale [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if len(v) < 8 {
				continue
			}
			ts := int64(binary.BigEndian.Uint64(v[:8]))
			if ts < cutoff {
				stale = append(stale, append([]byte(nil), k...))
			}
		}
		for _, k := range stale {
			if err := chunks.Delete(k); err != nil {
				return err
			}
			_ = parity.Delete(k)
			removed++
		}
		return nil
	})
	return removed, err
}

func encodeLen(n int) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(n))
	return b
}

func decodeLen(b []byte) int {
	return int(binary.BigEndian.Uint32(b))
}

// splitShards divides data into n equal-length shards, zero-padding the
// final shard as needed, and reports how many pad bytes were added.
func splitShards(data []byte, n int) ([][]byte, int, error) {
	shardLen := (len(data) + n - 1) / n
	if shardLen == 0 {
		shardLen = 1
	}
	padded := make([]byte, shardLen*n)
	copy(padded, data)
	pad := len(padded) - len(data)

	shards := make([][]byte, n)
	for i := 0; i < n; i++ {
		shards[i] = padded[i*shardLen : (i+1)*shardLen]
	}
	return shards, pad, nil
}

func joinShards(shards [][]byte) []byte {
	var out []byte
	for _, s := range shards {
		out = append(out, s...)
	}
	return out
}
