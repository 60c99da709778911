package chunkio

import (
	"io"
	"os"
	"sync"

	"github.com/havenlink/transfercore/internal/crypto"
	"github.com/havenlink/transfercore/internal/progress"
)

// UploadConcurrency bounds how many chunks pass 2 has in flight to the
// relay at once — the Go-native equivalent of the original uploader's
// semaphore of 8 concurrent PUTs.
const UploadConcurrency = 8

// UploadPass performs the §4.9 pass-2 sweep: a fresh sequential read of
// path, re-sealing each chunk exactly as pass 1 did (SealChunk's nonce is
// a pure function of chunk index, so the ciphertext is byte-identical),
// then streaming it to the relay over client. Re-sealing concurrently up
// to UploadConcurrency lets the network keep several PUTs outstanding
// without ever holding more than that many chunks' ciphertext in memory
// at once.
func UploadPass(path string, chunkSize int, key crypto.SessionKey, client *Client, recipient, transferID [16]byte, prog *progress.Record) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sem := make(chan struct{}, UploadConcurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}
	failed := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return firstErr != nil
	}

	buf := make([]byte, chunkSize)
	var index uint32
	sawAny := false

	for {
		if failed() {
			break
		}
		n, readErr := io.ReadFull(f, buf)
		if readErr != nil && readErr != io.ErrUnexpectedEOF && readErr != io.EOF {
			fail(readErr)
			break
		}

		if n > 0 || !sawAny {
			plaintext := make([]byte, n)
			copy(plaintext, buf[:n])
			chunkIndex := index

			sem <- struct{}{}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()

				sealed, err := crypto.SealChunk(key, chunkIndex, plaintext)
				if err != nil {
					fail(err)
					return
				}
				if err := client.PutChunk(recipient, transferID, chunkIndex, sealed); err != nil {
					fail(err)
					return
				}
				if prog != nil {
					prog.AddBytesDone(int64(len(plaintext)))
					prog.AddChunkComplete()
				}
			}()

			index++
			sawAny = true
		}

		if readErr == io.ErrUnexpectedEOF || readErr == io.EOF {
			break
		}
	}

	wg.Wait()
	return firstErr
}
