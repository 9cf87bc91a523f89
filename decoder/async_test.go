package decoder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ugparu/govdec"
)

func TestAsyncDecodeDeliversFrames(t *testing.T) {
	t.Parallel()

	factory := &engineFactory{}
	adec := NewAsyncVideo(4, factory.new, WithEventSink(&recordSink{}))
	defer adec.Close()

	adec.Decode()

	// A gated delta produces nothing; the keyed access unit produces exactly
	// one frame.
	adec.Chunks() <- govdec.Chunk{Data: annexB(deltaUnit)}
	adec.Chunks() <- govdec.Chunk{Data: annexB(spsUnit, ppsUnit, idrUnit), Timestamp: 33 * time.Millisecond}

	select {
	case frm := <-adec.Frames():
		require.NotNil(t, frm)
		frm.Release()
	case <-time.After(time.Second):
		t.Fatal("no frame within deadline")
	}

	select {
	case frm := <-adec.Frames():
		t.Fatalf("unexpected extra frame %v", frm)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAsyncDecodeSurvivesBadChunk(t *testing.T) {
	t.Parallel()

	factory := &engineFactory{}
	adec := NewAsyncVideo(4, factory.new, WithEventSink(&recordSink{}))
	defer adec.Close()

	adec.Decode()

	// Unclassifiable input is a decode error; the failsafe loop logs it and
	// keeps serving later chunks.
	adec.Chunks() <- govdec.Chunk{Data: []byte{0xDE, 0xAD, 0xBE, 0xEF}}
	adec.Chunks() <- govdec.Chunk{Data: annexB(spsUnit, idrUnit)}

	select {
	case frm := <-adec.Frames():
		require.NotNil(t, frm)
		frm.Release()
	case <-time.After(time.Second):
		t.Fatal("no frame after recoverable decode error")
	}
}

func TestAsyncCloseWithoutStart(t *testing.T) {
	t.Parallel()

	factory := &engineFactory{}
	adec := NewAsyncVideo(1, factory.new, WithEventSink(&recordSink{}))

	adec.Close()

	select {
	case <-adec.Done():
	case <-time.After(time.Second):
		t.Fatal("done not signalled after close")
	}
}

func TestAsyncCloseReleasesQueuedFrames(t *testing.T) {
	t.Parallel()

	factory := &engineFactory{}
	adec := NewAsyncVideo(4, factory.new, WithEventSink(&recordSink{}))

	adec.Decode()
	adec.Chunks() <- govdec.Chunk{Data: annexB(spsUnit, idrUnit)}

	// Wait for the frame to land on the output queue, then close without
	// claiming it.
	require.Eventually(t, func() bool {
		return len(adec.Frames()) == 1
	}, time.Second, time.Millisecond)

	adec.Close()
	<-adec.Done()
}
