package chunkio

import (
	"fmt"

	"github.com/havenlink/transfercore/internal/crypto"
	"github.com/havenlink/transfercore/internal/progress"
)

// Options configures a full two-pass store-and-forward upload (§4.9).
type Options struct {
	FilePath      string
	ChunkSize     int
	SessionKey    crypto.SessionKey
	TransferID    [16]byte
	Recipient     [16]byte // relay.UIDFromSubject(recipient's bearer subject)
	RelayAddr     string
	Bearer        []byte
	MaxFrameBytes int
}

// Uploader drives both passes of a store-and-forward upload, publishing a
// progress.Record the same way sender.Sender and receiver.Receiver do for
// the direct blast path — a CLI binary can poll Progress() from its own
// goroutine while Run executes.
type Uploader struct {
	opts     Options
	progress *progress.Record
}

// New prepares an Uploader. Progress() reports zero totals until pass 1
// has measured the file — mirroring how receiver.Receiver's own progress
// record starts at progress.New(0, 0) until the OFFER arrives.
func New(opts Options) *Uploader {
	return &Uploader{opts: opts, progress: progress.New(0, 0)}
}

// Progress returns the upload's progress record.
func (u *Uploader) Progress() *progress.Record { return u.progress }

// Run executes pass 1 (hash and discard), registers the resulting
// manifest with the relay, then executes pass 2 (re-seal and stream).
func (u *Uploader) Run() (Manifest, error) {
	manifest, err := HashPass(u.opts.FilePath, u.opts.ChunkSize, u.opts.SessionKey)
	if err != nil {
		u.progress.SetState(progress.StateFailed)
		u.progress.SetLastError(err.Error())
		return Manifest{}, fmt.Errorf("chunkio: pass 1: %w", err)
	}

	u.progress = progress.New(manifest.FileSize, manifest.ChunkCount)
	u.progress.SetState(progress.StateActive)

	client, err := Dial(u.opts.RelayAddr, u.opts.Bearer, u.opts.MaxFrameBytes)
	if err != nil {
		u.progress.SetState(progress.StateFailed)
		u.progress.SetLastError(err.Error())
		return Manifest{}, fmt.Errorf("chunkio: connect to fallback relay: %w", err)
	}
	defer client.Close()

	if err := client.CreateTransfer(u.opts.TransferID, manifest); err != nil {
		u.progress.SetState(progress.StateFailed)
		u.progress.SetLastError(err.Error())
		return Manifest{}, fmt.Errorf("chunkio: register transfer: %w", err)
	}

	if err := UploadPass(u.opts.FilePath, u.opts.ChunkSize, u.opts.SessionKey, client, u.opts.Recipient, u.opts.TransferID, u.progress); err != nil {
		u.progress.SetState(progress.StateFailed)
		u.progress.SetLastError(err.Error())
		return Manifest{}, fmt.Errorf("chunkio: pass 2: %w", err)
	}

	u.progress.SetState(progress.StateComplete)
	return manifest, nil
}
