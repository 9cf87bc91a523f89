package decoder

import (
	"errors"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ugparu/govdec"
	"github.com/ugparu/govdec/codec/h264"
	"github.com/ugparu/govdec/frame/rgb"
	"github.com/ugparu/govdec/utils/bits/pio"
)

// Baseline profile SPS for a 320x240 stream, codec tag avc1.42001E.
var spsUnit = []byte{0x67, 0x42, 0x00, 0x1E, 0xF4, 0x0A, 0x0F, 0xC8}

var (
	ppsUnit   = []byte{0x68, 0xCE, 0x38, 0x80}
	idrUnit   = []byte{0x65, 0x88, 0x84, 0x00, 0x11, 0x22}
	deltaUnit = []byte{0x41, 0x9A, 0x02}
)

func annexB(units ...[]byte) []byte {
	var buf []byte
	for _, u := range units {
		buf = append(buf, 0, 0, 0, 1)
		buf = append(buf, u...)
	}
	return buf
}

func prefixed(units ...[]byte) []byte {
	var buf []byte
	for _, u := range units {
		var p [4]byte
		pio.PutU32BE(p[:], uint32(len(u)))
		buf = append(buf, p[:]...)
		buf = append(buf, u...)
	}
	return buf
}

type fakeFrame struct {
	released bool
}

func (f *fakeFrame) Image() image.Image {
	return rgb.NewRGB(image.Rect(0, 0, 2, 2))
}

func (f *fakeFrame) Release() {
	f.released = true
}

// fakeEngine records every call and completes each submission through a hook.
// The default hook emits one fresh frame per chunk.
type fakeEngine struct {
	state    govdec.EngineState
	configs  []govdec.EngineConfig
	chunks   []govdec.Chunk
	out      chan govdec.EngineResult
	onDecode func(e *fakeEngine, chunk govdec.Chunk)
	flushes  int
	resets   int
}

func newFakeEngine() *fakeEngine {
	e := &fakeEngine{out: make(chan govdec.EngineResult, 16)}
	e.onDecode = func(e *fakeEngine, _ govdec.Chunk) {
		e.out <- govdec.EngineResult{Frame: &fakeFrame{}}
	}
	return e
}

func (e *fakeEngine) Configure(cfg govdec.EngineConfig) error {
	e.configs = append(e.configs, cfg)
	e.state = govdec.EngineConfigured
	return nil
}

func (e *fakeEngine) Decode(chunk govdec.Chunk) error {
	e.chunks = append(e.chunks, chunk)
	if e.onDecode != nil {
		e.onDecode(e, chunk)
	}
	return nil
}

func (e *fakeEngine) Output() <-chan govdec.EngineResult { return e.out }

func (e *fakeEngine) Flush() error {
	e.flushes++
	return nil
}

func (e *fakeEngine) Reset() { e.resets++ }

func (e *fakeEngine) Close() { e.state = govdec.EngineClosed }

func (e *fakeEngine) State() govdec.EngineState { return e.state }

// engineFactory hands out fresh fakes and remembers them in creation order.
type engineFactory struct {
	engines []*fakeEngine
}

func (f *engineFactory) new() govdec.Engine {
	e := newFakeEngine()
	f.engines = append(f.engines, e)
	return e
}

func (f *engineFactory) last() *fakeEngine {
	return f.engines[len(f.engines)-1]
}

type recordSink struct {
	infos    []string
	warnings []string
	errors   []string
}

func (s *recordSink) Info(message string)    { s.infos = append(s.infos, message) }
func (s *recordSink) Warning(message string) { s.warnings = append(s.warnings, message) }
func (s *recordSink) Error(message string)   { s.errors = append(s.errors, message) }

// stalledWait returns an already fired deadline while armed, making every
// engine wait time out immediately.
type stalledWait struct {
	armed bool
}

func (w *stalledWait) after(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	if w.armed {
		ch <- time.Time{}
	}
	return ch
}

func newTestDecoder(opts ...Option) (govdec.VideoDecoder, *engineFactory, *recordSink) {
	factory := &engineFactory{}
	sink := &recordSink{}
	dec := NewVideo(factory.new, append([]Option{WithEventSink(sink)}, opts...)...)
	return dec, factory, sink
}

func TestDecodeKeyframeGating(t *testing.T) {
	t.Parallel()

	dec, factory, _ := newTestDecoder()
	defer dec.Close()
	engine := factory.last()

	// Delta chunks before any SPS never reach the engine.
	for i := 0; i < 2; i++ {
		frm, err := dec.Decode(annexB(deltaUnit), 0)
		require.NoError(t, err)
		require.Nil(t, frm)
		require.Empty(t, engine.chunks)
		require.Empty(t, engine.configs)
	}

	frm, err := dec.Decode(annexB(spsUnit, ppsUnit, idrUnit), 33*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, frm)
	frm.Release()

	require.Equal(t, []govdec.EngineConfig{{CodecID: "avc1.42001E", Width: 320, Height: 240}}, engine.configs)
	require.Len(t, engine.chunks, 1)
	require.Equal(t, govdec.KeyChunk, engine.chunks[0].Kind)
	require.Equal(t, annexB(spsUnit, ppsUnit, idrUnit), engine.chunks[0].Data)

	frm, err = dec.Decode(annexB(deltaUnit), 66*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, frm)
	frm.Release()

	require.Len(t, engine.chunks, 2)
	require.Equal(t, govdec.DeltaChunk, engine.chunks[1].Kind)
}

func TestDecodeTimestampsMonotonic(t *testing.T) {
	t.Parallel()

	dec, factory, _ := newTestDecoder()
	defer dec.Close()
	engine := factory.last()

	// Caller timestamps are advisory; identical and regressing values must
	// still produce strictly increasing submission timestamps.
	inputs := []time.Duration{time.Second, time.Second, 100 * time.Millisecond}
	chunks := [][]byte{annexB(spsUnit, idrUnit), annexB(deltaUnit), annexB(deltaUnit)}
	for i, ts := range inputs {
		frm, err := dec.Decode(chunks[i], ts)
		require.NoError(t, err)
		require.NotNil(t, frm)
		frm.Release()
	}

	require.Len(t, engine.chunks, 3)
	for i := 1; i < len(engine.chunks); i++ {
		require.Greater(t, engine.chunks[i].Timestamp, engine.chunks[i-1].Timestamp)
	}
}

func TestDecodeUnknownFormat(t *testing.T) {
	t.Parallel()

	dec, factory, _ := newTestDecoder()
	defer dec.Close()

	_, err := dec.Decode([]byte{0xDE, 0xAD, 0xBE, 0xEF}, 0)
	require.ErrorIs(t, err, ErrStreamFormatUnknown)

	// Classification is retried on the next chunk rather than latched.
	frm, err := dec.Decode(annexB(spsUnit, idrUnit), 0)
	require.NoError(t, err)
	require.NotNil(t, frm)
	frm.Release()
	require.Len(t, factory.last().chunks, 1)
}

func TestDecodeLengthPrefixedNormalized(t *testing.T) {
	t.Parallel()

	dec, factory, _ := newTestDecoder()
	defer dec.Close()

	frm, err := dec.Decode(prefixed(spsUnit, ppsUnit, idrUnit), 0)
	require.NoError(t, err)
	require.NotNil(t, frm)
	frm.Release()

	// The engine always sees Annex-B regardless of the input framing.
	engine := factory.last()
	require.Len(t, engine.chunks, 1)
	require.Equal(t, annexB(spsUnit, ppsUnit, idrUnit), engine.chunks[0].Data)
}

func TestDecodeMalformedSPS(t *testing.T) {
	t.Parallel()

	dec, factory, _ := newTestDecoder()
	defer dec.Close()

	_, err := dec.Decode(annexB([]byte{0x67, 0x42}), 0)
	require.ErrorIs(t, err, h264.ErrSPSInvalid)
	require.Empty(t, factory.last().chunks)

	// A later chunk with a valid SPS configures the stream normally.
	frm, err := dec.Decode(annexB(spsUnit, idrUnit), 0)
	require.NoError(t, err)
	require.NotNil(t, frm)
	frm.Release()
}

func TestDecodeEngineFault(t *testing.T) {
	t.Parallel()

	dec, factory, _ := newTestDecoder()
	defer dec.Close()

	engine := factory.last()
	boom := errors.New("bitstream corrupt")
	engine.onDecode = func(e *fakeEngine, _ govdec.Chunk) {
		e.out <- govdec.EngineResult{Err: boom}
	}

	_, err := dec.Decode(annexB(spsUnit, idrUnit), 0)
	require.ErrorIs(t, err, ErrChunkDecodeFailed)
	require.ErrorIs(t, err, boom)
}

func TestDecodeTimeoutThenLateFrame(t *testing.T) {
	t.Parallel()

	wait := &stalledWait{armed: true}
	dec, factory, sink := newTestDecoder(WithWait(wait.after))
	defer dec.Close()

	engine := factory.last()
	engine.onDecode = func(*fakeEngine, govdec.Chunk) {} // stalls, completes later

	frm, err := dec.Decode(annexB(spsUnit, idrUnit), 0)
	require.NoError(t, err)
	require.Nil(t, frm)
	require.Len(t, engine.chunks, 1)
	require.NotEmpty(t, sink.warnings)

	// The stalled submission finally completes out of band.
	late := &fakeFrame{}
	engine.out <- govdec.EngineResult{Frame: late}
	wait.armed = false
	engine.onDecode = func(e *fakeEngine, _ govdec.Chunk) {
		e.out <- govdec.EngineResult{}
	}

	// The next call first settles the stalled submission and claims its
	// frame; the new submission completed without output.
	frm, err = dec.Decode(annexB(deltaUnit), 0)
	require.NoError(t, err)
	require.Same(t, late, frm)
	require.False(t, late.released)
	frm.Release()
	require.Len(t, engine.chunks, 2)
}

func TestDecodeLateFrameSuperseded(t *testing.T) {
	t.Parallel()

	wait := &stalledWait{armed: true}
	dec, factory, _ := newTestDecoder(WithWait(wait.after))
	defer dec.Close()

	engine := factory.last()
	engine.onDecode = func(*fakeEngine, govdec.Chunk) {}

	frm, err := dec.Decode(annexB(spsUnit, idrUnit), 0)
	require.NoError(t, err)
	require.Nil(t, frm)

	late := &fakeFrame{}
	engine.out <- govdec.EngineResult{Frame: late}
	wait.armed = false
	fresh := &fakeFrame{}
	engine.onDecode = func(e *fakeEngine, _ govdec.Chunk) {
		e.out <- govdec.EngineResult{Frame: fresh}
	}

	// A newer frame replaces the unclaimed late one, which goes back to the
	// engine via Release.
	frm, err = dec.Decode(annexB(deltaUnit), 0)
	require.NoError(t, err)
	require.Same(t, fresh, frm)
	require.True(t, late.released)
	frm.Release()
}

func TestDecodeSingleFlight(t *testing.T) {
	t.Parallel()

	wait := &stalledWait{armed: true}
	dec, factory, _ := newTestDecoder(WithWait(wait.after))
	defer dec.Close()

	engine := factory.last()
	engine.onDecode = func(*fakeEngine, govdec.Chunk) {}

	frm, err := dec.Decode(annexB(spsUnit, idrUnit), 0)
	require.NoError(t, err)
	require.Nil(t, frm)
	require.Len(t, engine.chunks, 1)

	// While the first submission is unresolved nothing new may reach the
	// engine, keyframe or not.
	for i := 0; i < 3; i++ {
		frm, err = dec.Decode(annexB(spsUnit, idrUnit), 0)
		require.NoError(t, err)
		require.Nil(t, frm)
		require.Len(t, engine.chunks, 1)
	}
}

func TestResetForSeek(t *testing.T) {
	t.Parallel()

	dec, factory, _ := newTestDecoder()
	defer dec.Close()
	engine := factory.last()

	frm, err := dec.Decode(annexB(spsUnit, idrUnit), 0)
	require.NoError(t, err)
	require.NotNil(t, frm)
	frm.Release()

	dec.ResetForSeek()
	require.Equal(t, 1, engine.flushes)
	require.Equal(t, 1, engine.resets)

	// Deltas are gated again until the next keyframe arrives.
	frm, err = dec.Decode(annexB(deltaUnit), 0)
	require.NoError(t, err)
	require.Nil(t, frm)
	require.Len(t, engine.chunks, 1)

	frm, err = dec.Decode(annexB(idrUnit), 0)
	require.NoError(t, err)
	require.NotNil(t, frm)
	frm.Release()

	// The configuration survives the seek, so the engine is not reconfigured.
	require.Len(t, engine.configs, 1)
}

func TestCloseThenDecodeRecovers(t *testing.T) {
	t.Parallel()

	dec, factory, _ := newTestDecoder()

	frm, err := dec.Decode(annexB(spsUnit, idrUnit), 0)
	require.NoError(t, err)
	require.NotNil(t, frm)
	frm.Release()

	dec.Close()
	require.Equal(t, govdec.EngineClosed, factory.last().State())
	require.Len(t, factory.engines, 1)

	// A closed decoder transparently reopens on the next chunk with a fresh
	// engine and a fresh stream.
	frm, err = dec.Decode(annexB(spsUnit, idrUnit), 0)
	require.NoError(t, err)
	require.NotNil(t, frm)
	frm.Release()
	require.Len(t, factory.engines, 2)
	require.Len(t, factory.last().configs, 1)

	dec.Close()
}

func TestEngineClosureReconfiguresFromCache(t *testing.T) {
	t.Parallel()

	dec, factory, sink := newTestDecoder()
	defer dec.Close()

	frm, err := dec.Decode(annexB(spsUnit, idrUnit), 0)
	require.NoError(t, err)
	require.NotNil(t, frm)
	frm.Release()

	// The engine dies out from under the decoder.
	factory.last().Close()

	// The next chunk carries no SPS, yet the replacement engine is
	// configured from the cached parameters.
	frm, err = dec.Decode(annexB(idrUnit), 0)
	require.NoError(t, err)
	require.NotNil(t, frm)
	frm.Release()

	require.Len(t, factory.engines, 2)
	require.Equal(t, []govdec.EngineConfig{{CodecID: "avc1.42001E", Width: 320, Height: 240}}, factory.last().configs)
	require.NotEmpty(t, sink.warnings)
}

func TestEngineClosureDropsDeltasUntilKeyframe(t *testing.T) {
	t.Parallel()

	dec, factory, _ := newTestDecoder()
	defer dec.Close()

	frm, err := dec.Decode(annexB(spsUnit, idrUnit), 0)
	require.NoError(t, err)
	require.NotNil(t, frm)
	frm.Release()

	factory.last().Close()

	// A fresh engine has no reference frames, so deltas stay gated until the
	// next keyframe even though the stream was keyed before.
	frm, err = dec.Decode(annexB(deltaUnit), 0)
	require.NoError(t, err)
	require.Nil(t, frm)
	require.Empty(t, factory.last().chunks)

	frm, err = dec.Decode(annexB(idrUnit), 0)
	require.NoError(t, err)
	require.NotNil(t, frm)
	frm.Release()
	require.Len(t, factory.last().chunks, 1)
}
