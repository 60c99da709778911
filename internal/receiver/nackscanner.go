package receiver

import (
	"time"

	"github.com/havenlink/transfercore/internal/control"
)

const (
	nackScanInterval   = 50 * time.Millisecond
	nackMaxPerChunk    = 500
)

// runNackScanner periodically asks the assembler which frames are still
// missing and emits a NACK envelope per incomplete chunk. Emission is
// advisory — duplicate NACKs are tolerated by the sender.
func runNackScanner(asm *assembler, cc *control.Channel, cancelled func() bool, stop <-chan struct{}) {
	ticker := time.NewTicker(nackScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if cancelled() {
				return
			}
			for _, n := range asm.MissingForAll(nackMaxPerChunk) {
				_ = cc.SendNack(n)
			}
		}
	}
}
