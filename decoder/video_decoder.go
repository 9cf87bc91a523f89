// Package decoder implements the decode orchestration state machine sitting
// between raw H.264 chunks and a platform decoding engine: framing detection,
// SPS-derived configuration, keyframe gating, single-flight submission with
// timeout recovery and decoded-frame lifetime discipline.
package decoder

import (
	"fmt"
	"sync"
	"time"

	"github.com/ugparu/govdec"
	"github.com/ugparu/govdec/codec/h264"
	"github.com/ugparu/govdec/utils/nal"
)

// defaultTimeout bounds the wait for one engine completion.
const defaultTimeout = 2 * time.Second

// submitInterval spaces the internal submission timestamps handed to the
// engine. They are strictly increasing and decoupled from caller timestamps,
// which are advisory only.
const submitInterval = time.Millisecond

type state uint8

const (
	stateUnconfigured state = iota
	stateConfiguring
	stateConfigured
	stateClosed
)

func (s state) String() string {
	switch s {
	case stateUnconfigured:
		return "unconfigured"
	case stateConfiguring:
		return "configuring"
	case stateConfigured:
		return "configured"
	default:
		return "closed"
	}
}

// videoDecoder is the synchronous orchestrator. All mutable state is guarded
// by mu, which also serializes Decode calls so at most one submission is in
// flight at a time.
type videoDecoder struct {
	newEngineFn func() govdec.Engine
	sink        EventSink
	timeout     time.Duration
	after       func(time.Duration) <-chan time.Time

	mu       sync.Mutex
	engine   govdec.Engine
	state    state
	format   nal.Format           // cached framing, classified once per stream
	config   *govdec.EngineConfig // cached configuration, derived once per stream
	hasKey   bool                 // keyframe gate, monotonic until reset or seek
	pending  govdec.Frame         // at most one unclaimed decoded frame
	inflight int                  // submissions without a settled completion
	seq      int64                // internal submission timestamp counter
}

// Option adjusts orchestrator construction.
type Option func(*videoDecoder)

// WithTimeout overrides the per-submission completion timeout.
func WithTimeout(d time.Duration) Option {
	return func(dec *videoDecoder) {
		dec.timeout = d
	}
}

// WithEventSink replaces the default logger-backed notification sink.
func WithEventSink(sink EventSink) Option {
	return func(dec *videoDecoder) {
		dec.sink = sink
	}
}

// WithWait replaces the timeout wait source, primarily for tests.
func WithWait(after func(time.Duration) <-chan time.Time) Option {
	return func(dec *videoDecoder) {
		dec.after = after
	}
}

// NewVideo creates an orchestrator over engines produced by newEngineFn. The
// first engine is acquired immediately; later ones transparently whenever the
// current engine turns out to be closed.
func NewVideo(newEngineFn func() govdec.Engine, opts ...Option) govdec.VideoDecoder {
	dec := &videoDecoder{
		newEngineFn: newEngineFn,
		timeout:     defaultTimeout,
		after:       time.After,
	}
	dec.sink = loggerSink{owner: dec}
	for _, opt := range opts {
		opt(dec)
	}
	dec.engine = newEngineFn()
	return dec
}

// Decode feeds one raw chunk through the state machine and returns at most
// one decoded frame, transferring its ownership to the caller. A nil frame
// with a nil error means "no frame this call": the stream is not configured
// yet, the chunk was gated out, or the engine did not complete in time.
func (dec *videoDecoder) Decode(data []byte, timestamp time.Duration) (govdec.Frame, error) {
	dec.mu.Lock()
	defer dec.mu.Unlock()

	if dec.state == stateClosed || dec.engine.State() == govdec.EngineClosed {
		dec.recoverEngine()
	}

	deadline := dec.after(dec.timeout)

	// A submission left pending by an earlier timed-out call must settle
	// before anything new reaches the engine.
	for dec.inflight > 0 {
		settled, err := dec.awaitResult(deadline)
		if err != nil {
			dec.sink.Warning(fmt.Sprintf("superseded submission settled with fault: %v", err))
			continue
		}
		if !settled {
			dec.sink.Warning(fmt.Sprintf("previous submission still pending after %v, no frame for ts=%v", dec.timeout, timestamp))
			return nil, nil
		}
	}

	if dec.format.Kind == nal.KindUnknown {
		f := nal.Classify(data)
		if f.Kind == nal.KindUnknown {
			return nil, ErrStreamFormatUnknown
		}
		dec.format = f
		dec.sink.Info(fmt.Sprintf("stream framing detected: %v", f.Kind))
	}

	annexB, err := nal.ConvertToAnnexB(data, dec.format)
	if err != nil {
		return nil, err
	}

	if err = dec.ensureConfigured(annexB); err != nil {
		return nil, err
	}
	if dec.state != stateConfigured {
		// No SPS seen yet. Not an error, just not ready.
		return nil, nil
	}

	kind := govdec.DeltaChunk
	if nal.HasKeyframe(annexB) {
		kind = govdec.KeyChunk
		dec.hasKey = true
	}
	if !dec.hasKey {
		dec.sink.Info(fmt.Sprintf("dropping delta chunk ts=%v before first keyframe", timestamp))
		return nil, nil
	}

	dec.seq++
	chunk := govdec.Chunk{
		Kind:      kind,
		Data:      annexB,
		Timestamp: time.Duration(dec.seq) * submitInterval,
	}
	if err = dec.engine.Decode(chunk); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrChunkDecodeFailed, err)
	}
	dec.inflight++

	settled, err := dec.awaitResult(deadline)
	if err != nil {
		return nil, err
	}
	if !settled {
		// The submission is abandoned, not cancelled: a late completion is
		// accepted by a later call and stored until claimed or superseded.
		dec.sink.Warning(fmt.Sprintf("decode timed out after %v", dec.timeout))
	}

	frm := dec.pending
	dec.pending = nil
	return frm, nil
}

// awaitResult waits for one engine completion or the deadline. A completed
// frame replaces the held pending frame, releasing the old one first.
func (dec *videoDecoder) awaitResult(deadline <-chan time.Time) (settled bool, err error) {
	select {
	case res, ok := <-dec.engine.Output():
		if !ok {
			dec.inflight = 0
			return true, ErrEngineClosed
		}
		dec.inflight--
		if res.Err != nil {
			return true, fmt.Errorf("%w: %w", ErrChunkDecodeFailed, res.Err)
		}
		if res.Frame != nil {
			dec.storeFrame(res.Frame)
		}
		return true, nil
	case <-deadline:
		return false, nil
	}
}

// storeFrame takes ownership of frm, releasing any frame already held.
func (dec *videoDecoder) storeFrame(frm govdec.Frame) {
	if dec.pending != nil {
		dec.pending.Release()
	}
	dec.pending = frm
}

// ensureConfigured derives the engine configuration from the first parseable
// SPS and applies it. The configuration is derived at most once per logical
// stream; a recovered engine is reconfigured from the cache.
func (dec *videoDecoder) ensureConfigured(annexB []byte) error {
	if dec.state == stateConfigured {
		return nil
	}
	if dec.config == nil {
		sc := nal.NewScanner(annexB, nal.Format{Kind: nal.KindAnnexB})
		for sc.Scan() {
			if sc.Type() != h264.NaluSPS {
				continue
			}
			info, err := h264.ParseSPS(sc.Bytes())
			if err != nil {
				return err
			}
			dec.config = &govdec.EngineConfig{
				CodecID: info.Tag(),
				Width:   info.Width,
				Height:  info.Height,
			}
			dec.sink.Info(fmt.Sprintf("stream configured: %s %dx%d", info.Tag(), info.Width, info.Height))
			break
		}
		if dec.config == nil {
			return nil
		}
	}

	dec.state = stateConfiguring
	if err := dec.engine.Configure(*dec.config); err != nil {
		dec.state = stateUnconfigured
		return fmt.Errorf("decoder: engine configure: %w", err)
	}
	dec.state = stateConfigured
	dec.hasKey = false
	return nil
}

// recoverEngine transparently replaces a closed engine with a fresh one. The
// cached framing and configuration survive; the keyframe gate does not.
func (dec *videoDecoder) recoverEngine() {
	dec.sink.Warning("engine closed, acquiring a fresh instance")
	if dec.pending != nil {
		dec.pending.Release()
		dec.pending = nil
	}
	dec.engine = dec.newEngineFn()
	dec.state = stateUnconfigured
	dec.hasKey = false
	dec.inflight = 0
}

// ResetForSeek drains in-flight work, discards the engine's reference-frame
// state and forces resynchronization on the next keyframe. The cached framing
// and configuration survive the seek.
func (dec *videoDecoder) ResetForSeek() {
	dec.mu.Lock()
	defer dec.mu.Unlock()

	if dec.state == stateClosed {
		return
	}
	if err := dec.engine.Flush(); err != nil {
		dec.sink.Warning(fmt.Sprintf("flush before seek: %v", err))
	}
	dec.drainFlushed()
	dec.engine.Reset()
	dec.hasKey = false
	dec.sink.Info("reset for seek, waiting for next keyframe")
}

// drainFlushed collects completions already delivered by a flushed engine
// without blocking on ones that will never arrive.
func (dec *videoDecoder) drainFlushed() {
	for dec.inflight > 0 {
		select {
		case res, ok := <-dec.engine.Output():
			if !ok {
				dec.inflight = 0
				return
			}
			dec.inflight--
			if res.Frame != nil {
				dec.storeFrame(res.Frame)
			}
		default:
			dec.inflight = 0
			return
		}
	}
}

// Close releases the engine and every cached resource. The decoder stays
// usable: a later Decode transparently acquires a fresh engine and starts an
// unconfigured stream.
func (dec *videoDecoder) Close() {
	dec.mu.Lock()
	defer dec.mu.Unlock()

	if dec.state == stateClosed {
		return
	}
	if dec.pending != nil {
		dec.pending.Release()
		dec.pending = nil
	}
	dec.engine.Close()
	dec.format = nal.Unknown
	dec.config = nil
	dec.hasKey = false
	dec.inflight = 0
	dec.seq = 0
	dec.state = stateClosed
}

// String identifies the decoder in log output.
func (dec *videoDecoder) String() string {
	return fmt.Sprintf("VIDEO_DECODER state=%v format=%v", dec.state, dec.format.Kind)
}
