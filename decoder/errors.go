package decoder

import "errors"

// ErrStreamFormatUnknown reports that the framing of a chunk could not be
// classified. Recoverable: the caller retries with a later chunk.
var ErrStreamFormatUnknown = errors.New("decoder: stream format unknown")

// ErrChunkDecodeFailed reports an engine fault on one submission. It does not
// affect subsequent submissions.
var ErrChunkDecodeFailed = errors.New("decoder: chunk decode failed")

// ErrEngineClosed reports that the engine reached its closed state outside an
// explicit Close call. The next Decode transparently acquires a fresh engine.
var ErrEngineClosed = errors.New("decoder: engine closed unexpectedly")
