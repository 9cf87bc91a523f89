package decoder

import (
	"fmt"

	"github.com/ugparu/govdec"
	"github.com/ugparu/govdec/utils/buffer"
	"github.com/ugparu/govdec/utils/lifecycle"
	"github.com/ugparu/govdec/utils/logger"
)

// asyncVideoDecoder drives a synchronous orchestrator from a channel loop so
// producers can feed chunks without blocking on engine completions.
type asyncVideoDecoder struct {
	lifecycle.AsyncManager[*asyncVideoDecoder]
	inner    govdec.VideoDecoder
	inpChnks chan govdec.Chunk
	outFrms  chan govdec.Frame
	inBuf    buffer.PooledBuffer
}

// NewAsyncVideo wraps a NewVideo orchestrator in a lifecycle-managed loop
// with buffered chunk input and frame output channels.
func NewAsyncVideo(chanSize int, newEngineFn func() govdec.Engine, opts ...Option) govdec.AsyncVideoDecoder {
	dec := &asyncVideoDecoder{
		AsyncManager: nil,
		inner:        NewVideo(newEngineFn, opts...),
		inpChnks:     make(chan govdec.Chunk, chanSize),
		outFrms:      make(chan govdec.Frame, chanSize),
		inBuf:        buffer.Get(0),
	}
	dec.AsyncManager = lifecycle.NewFailSafeAsyncManager(dec)
	return dec
}

// Decode starts the decoding loop.
func (dec *asyncVideoDecoder) Decode() {
	startFunc := func(_ *asyncVideoDecoder) error {
		return nil
	}
	// Ignoring error as there's no handling needed
	_ = dec.Start(startFunc)
}

// Step consumes one chunk, decodes it and forwards any produced frame.
func (dec *asyncVideoDecoder) Step(stopCh <-chan struct{}) error {
	select {
	case <-stopCh:
		return &lifecycle.BreakError{}
	case chunk := <-dec.inpChnks:
		logger.Tracef(dec, "Processing chunk kind=%v ts=%v len=%d", chunk.Kind, chunk.Timestamp, len(chunk.Data))

		// The producer may reuse the chunk's backing array as soon as the
		// send completes, so decode from a pooled copy.
		dec.inBuf.Resize(len(chunk.Data))
		copy(dec.inBuf.Data(), chunk.Data)

		frm, err := dec.inner.Decode(dec.inBuf.Data(), chunk.Timestamp)
		if err != nil {
			return err
		}
		if frm == nil {
			return nil
		}
		select {
		case dec.outFrms <- frm:
		case <-stopCh:
			frm.Release()
			return &lifecycle.BreakError{}
		}
	}
	return nil
}

func (dec *asyncVideoDecoder) Chunks() chan<- govdec.Chunk {
	return dec.inpChnks
}

func (dec *asyncVideoDecoder) Frames() <-chan govdec.Frame {
	return dec.outFrms
}

func (dec *asyncVideoDecoder) Close() {
	dec.AsyncManager.Close()
}

// Close_ releases the inner decoder and the loop's resources. Frames still
// queued on the output channel are released so the engine gets them back.
func (dec *asyncVideoDecoder) Close_() { //nolint:revive // required by lifecycle.AsyncInstance interface
	dec.inner.Close()
	close(dec.outFrms)
	for frm := range dec.outFrms {
		frm.Release()
	}
	dec.inBuf.Release()
}

func (dec *asyncVideoDecoder) String() string {
	return fmt.Sprintf("ASYNC_%v", dec.inner)
}
