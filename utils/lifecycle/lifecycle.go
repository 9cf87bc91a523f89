// Package lifecycle manages goroutine-backed components with a Step loop,
// idempotent start/close and panic containment.
package lifecycle

// Instance is a closable component with a printable identity for logging.
type Instance interface {
	Close_()
	String() string
}

// AsyncInstance is a component driven by repeated Step calls on a dedicated
// goroutine until Step returns an error or the stop channel closes.
type AsyncInstance interface {
	Instance
	Step(stopChan <-chan struct{}) error
}

// Manager owns the start/close lifecycle of an instance.
type Manager[T Instance] interface {
	Start(func(T) error) error
	Close()
}

// AsyncManager additionally exposes loop-termination signalling.
type AsyncManager[T AsyncInstance] interface {
	Manager[T]
	Done() <-chan struct{}
}

// BreakError is returned from Step to leave the loop without logging a
// failure.
type BreakError struct{}

func (*BreakError) Error() string {
	return "break"
}

// StartedAlreadyError reports a second Start on the same manager.
type StartedAlreadyError struct{}

func (*StartedAlreadyError) Error() string {
	return "started already"
}

// StartedAfterCloseError reports a Start issued after Close.
type StartedAfterCloseError struct{}

func (*StartedAfterCloseError) Error() string {
	return "start after close"
}

var errBreak = &BreakError{}
