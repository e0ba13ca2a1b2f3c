package bridge

import (
	"log/slog"

	"github.com/exiv-ai/scriptbridge/pkg/logging"
	"github.com/exiv-ai/scriptbridge/pkg/metrics"
)

// Emitter is the event channel handed to the loaded script. Emit may be
// called at any time, from any goroutine, including from inside a method
// invocation or a background task the script spawned itself.
//
// There is no queueing or backpressure: a slow output stream blocks the
// emitting goroutine on the transport's writer lock.
type Emitter struct {
	transport *Transport
	logger    *logging.Logger
}

// NewEmitter creates an emitter writing to the protocol transport.
func NewEmitter(transport *Transport, logger *logging.Logger) *Emitter {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Emitter{transport: transport, logger: logger}
}

// Emit writes one event line to the protocol stream.
func (e *Emitter) Emit(evtType string, data any) error {
	err := e.transport.Write(Event{
		Type:      eventType,
		EventType: evtType,
		Data:      data,
	})
	if err != nil {
		e.logger.Warn("event write failed",
			slog.String("event_type", evtType),
			slog.String("error", err.Error()))
		return err
	}
	metrics.EventsEmitted.Inc()
	e.logger.Debug("event emitted", slog.String("event_type", evtType))
	return nil
}
