package receiver

import (
	"fmt"
	"os"

	"github.com/havenlink/transfercore/internal/control"
	"github.com/havenlink/transfercore/internal/crypto"
	"github.com/havenlink/transfercore/internal/progress"
)

// writer owns the output file (§5): for every assembled chunk it verifies
// the per-chunk hash, decrypts, and writes at the chunk's byte offset. Order
// of writes follows completion order, not chunk index, which is safe
// because each chunk targets a disjoint byte range.
type writer struct {
	path       string
	key        crypto.SessionKey
	chunkSize  int64
	chunkCount int64
	perChunk   [][32]byte

	progress *progress.Record
	cc       *control.Channel
}

func newWriter(path string, key crypto.SessionKey, chunkSize int64, chunkCount int64, perChunk [][32]byte, pr *progress.Record, cc *control.Channel) *writer {
	return &writer{
		path:       path,
		key:        key,
		chunkSize:  chunkSize,
		chunkCount: chunkCount,
		perChunk:   perChunk,
		progress:   pr,
		cc:         cc,
	}
}

// run consumes assembled chunks from in until it closes or every chunk has
// been written, verified, and ACKed.
func (w *writer) run(in <-chan assembledChunk) error {
	f, err := os.OpenFile(w.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Truncate(w.progress.BytesTotal()); err != nil {
		return err
	}

	var written int64
	for chunk := range in {
		if w.progress.Cancelled() {
			return nil
		}
		if err := w.writeChunk(f, chunk); err != nil {
			w.progress.SetState(progress.StateFailed)
			w.progress.SetLastError(err.Error())
			return err
		}
		written++
		w.progress.AddChunkComplete()
		_ = w.cc.SendAck(control.Ack{ChunkIndex: chunk.index})

		if written >= w.chunkCount {
			break
		}
	}

	if err := f.Sync(); err != nil {
		return err
	}
	w.progress.SetState(progress.StateComplete)
	return nil
}

func (w *writer) writeChunk(f *os.File, chunk assembledChunk) error {
	if int(chunk.index) >= len(w.perChunk) {
		return fmt.Errorf("receiver: chunk index %d out of range", chunk.index)
	}
	gotHash := crypto.HashEncryptedChunk(chunk.data)
	if gotHash != w.perChunk[chunk.index] {
		return fmt.Errorf("receiver: chunk %d hash mismatch", chunk.index)
	}

	plaintext, err := crypto.OpenChunk(w.key, chunk.index, chunk.data)
	if err != nil {
		return fmt.Errorf("receiver: chunk %d decrypt failed: %w", chunk.index, err)
	}

	offset := int64(chunk.index) * w.chunkSize
	if _, err := f.WriteAt(plaintext, offset); err != nil {
		return err
	}
	w.progress.AddBytesDone(int64(len(plaintext)))
	return nil
}
