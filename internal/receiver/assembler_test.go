package receiver

import "testing"

func TestAssemblerCompletesChunkAfterAllFrames(t *testing.T) {
	sizes := func(uint32) int { return 6 }
	asm := newAssembler(sizes)

	in := make(chan incomingFrame, 4)
	out := make(chan assembledChunk, 4)
	go asm.run(in, out)

	in <- incomingFrame{chunkIndex: 0, frameIndex: 0, frameCount: 2, payload: []byte("abc")}
	in <- incomingFrame{chunkIndex: 0, frameIndex: 1, frameCount: 2, payload: []byte("def")}
	close(in)

	got := <-out
	if got.index != 0 || string(got.data) != "abcdef" {
		t.Fatalf("got %+v, want index 0 data abcdef", got)
	}
}

func TestAssemblerIgnoresDuplicateFrame(t *testing.T) {
	sizes := func(uint32) int { return 3 }
	asm := newAssembler(sizes)

	in := make(chan incomingFrame, 4)
	out := make(chan assembledChunk, 4)
	go asm.run(in, out)

	in <- incomingFrame{chunkIndex: 1, frameIndex: 0, frameCount: 1, payload: []byte("xyz")}
	in <- incomingFrame{chunkIndex: 1, frameIndex: 0, frameCount: 1, payload: []byte("???")}
	close(in)

	got := <-out
	if string(got.data) != "xyz" {
		t.Fatalf("got %q, want xyz (duplicate frame must not overwrite)", got.data)
	}
}

func TestMissingForAllSkipsCompleteChunks(t *testing.T) {
	sizes := func(uint32) int { return 3 }
	asm := newAssembler(sizes)

	// Drive acceptFrame directly (bypassing the channel+goroutine) so the
	// chunk's partial state is visible to MissingForAll deterministically.
	discard := make(chan assembledChunk, 1)
	asm.acceptFrame(incomingFrame{chunkIndex: 2, frameIndex: 0, frameCount: 3, payload: []byte("a")}, discard)

	nacks := asm.MissingForAll(500)
	if len(nacks) != 1 || nacks[0].ChunkIndex != 2 {
		t.Fatalf("got %+v, want one NACK for chunk 2", nacks)
	}
	if len(nacks[0].MissingFrames) != 2 {
		t.Fatalf("got %d missing frames, want 2", len(nacks[0].MissingFrames))
	}
}
