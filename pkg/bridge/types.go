package bridge

import "encoding/json"

// Request is one protocol request, one per input line. The id is opaque:
// it is only ever echoed back, never interpreted.
type Request struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Response is the single reply to a request, correlated by id. Exactly one
// of Result and Error is set. A malformed input line gets a Response with
// only an error and no id.
type Response struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Result *any            `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Event is an asynchronous out-of-band notification. It has no id and
// expects no response.
type Event struct {
	Type      string `json:"type"`
	EventType string `json:"event_type"`
	Data      any    `json:"data"`
}

// eventType is the fixed discriminator on every Event line.
const eventType = "event"

// successResponse builds a Response carrying result, preserving explicit
// null/false/zero results on the wire.
func successResponse(id json.RawMessage, result any) Response {
	return Response{ID: id, Result: &result}
}

// errorResponse builds a Response carrying an error message.
func errorResponse(id json.RawMessage, message string) Response {
	return Response{ID: id, Error: message}
}
