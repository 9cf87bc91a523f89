// Package govdec provides the H.264 bitstream framing layer and the decode
// orchestration state machine that sits in front of a platform decoding engine.
package govdec

import (
	"image"
	"time"
)

// ChunkKind classifies an encoded chunk by its keyframe content.
type ChunkKind uint8

const (
	KeyChunk   ChunkKind = iota // Chunk contains an IDR (keyframe) NAL unit.
	DeltaChunk                  // Chunk contains only predicted frames.
)

// String returns the textual name of the chunk kind.
func (k ChunkKind) String() string {
	if k == KeyChunk {
		return "key"
	}
	return "delta"
}

// Chunk is one fragment of an encoded H.264 stream submitted for decoding.
type Chunk struct {
	Kind      ChunkKind     // Keyframe classification of the chunk.
	Data      []byte        // Encoded bytes, Annex-B framed.
	Timestamp time.Duration // Presentation timestamp of the chunk.
}

// Frame is an opaque decoded-image handle produced by an engine. Frames are
// scarce, externally backed resources: whoever holds a Frame must eventually
// call Release exactly once.
type Frame interface {
	Image() image.Image // Returns the decoded picture.
	Release()           // Returns the frame to its owner; the handle must not be used afterwards.
}

// EngineState describes the lifecycle state of a decoding engine.
type EngineState uint8

const (
	EngineUnconfigured EngineState = iota // Engine created but not yet configured.
	EngineConfigured                      // Engine accepted a configuration and can decode.
	EngineClosed                          // Engine released its resources; terminal.
)

// String returns the textual name of the engine state.
func (s EngineState) String() string {
	switch s {
	case EngineUnconfigured:
		return "unconfigured"
	case EngineConfigured:
		return "configured"
	default:
		return "closed"
	}
}

// EngineConfig carries the stream parameters an engine needs before decoding.
type EngineConfig struct {
	CodecID string // Codec identifier string, e.g. "avc1.42001E".
	Width   uint   // Coded picture width in pixels.
	Height  uint   // Coded picture height in pixels.
}

// EngineResult is one out-of-band completion from an engine: either a decoded
// frame or a fault, never both.
type EngineResult struct {
	Frame Frame // Decoded frame, nil on fault or when the engine produced no output.
	Err   error // Decode fault reported by the engine.
}

// Engine is the platform decoding capability consumed by the orchestrator.
// Decode is asynchronous: completions arrive on Output in submission order.
type Engine interface {
	Configure(cfg EngineConfig) error // Applies stream parameters; state becomes EngineConfigured.
	Decode(chunk Chunk) error         // Submits a chunk; completion is signalled on Output.
	Output() <-chan EngineResult      // Channel delivering decode completions.
	Flush() error                     // Drains in-flight work.
	Reset()                           // Discards reference-frame state, keeps the configuration.
	Close()                           // Releases engine resources; state becomes EngineClosed.
	State() EngineState               // Current engine state.
}

// VideoDecoder is the synchronous decode orchestrator. Decode accepts raw
// stream fragments in either Annex-B or length-prefixed form and returns at
// most one decoded frame per call, transferring ownership to the caller.
type VideoDecoder interface {
	Decode(data []byte, timestamp time.Duration) (Frame, error) // Feeds one chunk, possibly returning a frame.
	ResetForSeek()                                              // Drops reference state and keyframe gating after a seek.
	Close()                                                     // Releases the engine and all cached state.
}

// AsyncVideoDecoder runs a VideoDecoder on its own goroutine with channel
// based input and output.
type AsyncVideoDecoder interface {
	Decode()               // Starts the decoding loop.
	Chunks() chan<- Chunk  // Channel for chunks to be decoded.
	Frames() <-chan Frame  // Channel providing decoded frames.
	Done() <-chan struct{} // Channel signalling loop termination.
	Close()                // Stops decoding and releases resources.
}
