package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	bridgeerrors "github.com/exiv-ai/scriptbridge/pkg/errors"
	"github.com/exiv-ai/scriptbridge/pkg/execution"
	"github.com/exiv-ai/scriptbridge/pkg/logging"
	"github.com/exiv-ai/scriptbridge/pkg/metrics"
	"github.com/exiv-ai/scriptbridge/pkg/script"
)

// nullID is echoed for requests that carry no id at all, so the reply is
// still correlatable as "the answer to the id-less request".
var nullID = json.RawMessage("null")

// Dispatcher drives the protocol loop: one goroutine reads requests,
// routes them through the method registry and the timeout strategy, and
// writes exactly one response per request. Responses are strictly FIFO
// because dispatch is single-threaded; only events may interleave between
// them.
type Dispatcher struct {
	transport *Transport
	module    *script.Module
	strategy  execution.Strategy
	timeout   time.Duration
	logger    *logging.Logger
}

// NewDispatcher wires the dispatch loop. timeout is the default per-method
// wall-clock budget.
func NewDispatcher(transport *Transport, module *script.Module, strategy execution.Strategy, timeout time.Duration, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Dispatcher{
		transport: transport,
		module:    module,
		strategy:  strategy,
		timeout:   timeout,
		logger:    logger,
	}
}

// Run serves requests until end of input. Per-request failures are
// converted into response errors and never stop the loop; only transport
// failures do.
func (d *Dispatcher) Run() error {
	d.logger.Info("dispatch loop started",
		slog.String("strategy", d.strategy.Name()),
		slog.Duration("timeout", d.timeout))

	for {
		raw, err := d.transport.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				d.logger.Info("end of input, shutting down")
				return nil
			}
			return bridgeerrors.Wrap(err, bridgeerrors.ErrCodeInternal, "reading protocol input")
		}

		resp := d.dispatch(raw)
		if err := d.transport.Write(resp); err != nil {
			return bridgeerrors.Wrap(err, bridgeerrors.ErrCodeInternal, "writing protocol response")
		}
	}
}

// dispatch handles one input line and returns the single response for it.
func (d *Dispatcher) dispatch(raw json.RawMessage) Response {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		metrics.Requests.WithLabelValues(metrics.OutcomeMalformed).Inc()
		d.logger.Warn("malformed request line", slog.String("error", err.Error()))
		// No id to echo for a line that did not parse.
		return errorResponse(nil, fmt.Sprintf("invalid request: %v", err))
	}

	id := req.ID
	if id == nil {
		id = nullID
	}

	// get_manifest never goes through the timeout executor: it answers
	// immediately and unconditionally.
	if req.Method == "get_manifest" {
		metrics.Requests.WithLabelValues(metrics.OutcomeOK).Inc()
		return successResponse(id, d.module.Manifest())
	}

	registry := d.module.Registry()
	if !registry.Allowed(req.Method) {
		metrics.Requests.WithLabelValues(metrics.OutcomeNotAllowed).Inc()
		return errorResponse(id, fmt.Sprintf("Method '%s' is not allowed", req.Method))
	}

	fn, ok := registry.Lookup(req.Method)
	if !ok {
		metrics.Requests.WithLabelValues(metrics.OutcomeNotFound).Inc()
		return errorResponse(id, fmt.Sprintf("Method '%s' not found in user script", req.Method))
	}

	params, err := script.ParamsToStarlark(req.Params)
	if err != nil {
		metrics.Requests.WithLabelValues(metrics.OutcomeMalformed).Inc()
		return errorResponse(id, fmt.Sprintf("invalid params: %v", err))
	}

	start := time.Now()
	outcome := d.strategy.Invoke(fn, params, d.timeout)
	metrics.MethodDuration.Observe(time.Since(start).Seconds())

	return d.respond(id, req.Method, outcome)
}

// respond translates an execution outcome into the wire response. The
// diagnostic backtrace goes only to the host log, never onto the wire.
func (d *Dispatcher) respond(id json.RawMessage, method string, outcome execution.Outcome) Response {
	if outcome.OK {
		result, err := script.FromStarlark(outcome.Value)
		if err != nil {
			metrics.Requests.WithLabelValues(metrics.OutcomeError).Inc()
			d.logger.Warn("unserializable method result",
				slog.String("method", method),
				slog.String("error", err.Error()))
			return errorResponse(id, err.Error())
		}
		metrics.Requests.WithLabelValues(metrics.OutcomeOK).Inc()
		return successResponse(id, result)
	}

	if outcome.Timeout {
		metrics.Requests.WithLabelValues(metrics.OutcomeTimeout).Inc()
		d.logger.Warn("method timed out", slog.String("method", method))
		return errorResponse(id, outcome.Err)
	}

	metrics.Requests.WithLabelValues(metrics.OutcomeError).Inc()
	if outcome.Backtrace != "" {
		d.logger.Error("method failed",
			slog.String("method", method),
			slog.String("error", outcome.Err),
			slog.String("backtrace", outcome.Backtrace))
	} else {
		d.logger.Error("method failed",
			slog.String("method", method),
			slog.String("error", outcome.Err))
	}
	return errorResponse(id, outcome.Err)
}
