package decoder

import (
	"fmt"

	"github.com/ugparu/govdec/utils/logger"
)

// EventSink receives informational, warning and error notifications from the
// orchestrator. Implementations are called synchronously on the decode path
// and must not block.
type EventSink interface {
	Info(message string)
	Warning(message string)
	Error(message string)
}

// loggerSink forwards notifications to the process logger, tagged with the
// owning decoder's identity.
type loggerSink struct {
	owner fmt.Stringer
}

func (s loggerSink) Info(message string) {
	logger.Info(s.owner, message)
}

func (s loggerSink) Warning(message string) {
	logger.Warning(s.owner, message)
}

func (s loggerSink) Error(message string) {
	logger.Error(s.owner, message)
}
