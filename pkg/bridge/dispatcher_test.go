package bridge

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exiv-ai/scriptbridge/pkg/execution"
	"github.com/exiv-ai/scriptbridge/pkg/logging"
	"github.com/exiv-ai/scriptbridge/pkg/script"
	"github.com/exiv-ai/scriptbridge/pkg/security"
)

// syncBuffer lets the test read output while spawned script tasks may
// still be writing.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

const testScript = `
def think(params):
    return {"ok": True}

def on_action_echo(params):
    return params

def on_action_none(params):
    return None

def on_action_emit(params):
    emit_event("Ping", params)
    return "sent"

def on_action_fail(params):
    fail("broken handler")

def on_action_spin(params):
    for _ in range(1 << 62):
        pass
    return None

def pump(label):
    for i in range(25):
        emit_event("Pulse", {"label": label, "seq": i})

def on_action_pump(params):
    spawn(pump, "a")
    spawn(pump, "b")
    return "pumping"
`

// testHarness wires a full bridge over in-memory streams.
type testHarness struct {
	out        *syncBuffer
	dispatcher *Dispatcher
}

func newHarness(t *testing.T, src, input string, timeout time.Duration) *testHarness {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.star"), []byte(src), 0o644))

	out := &syncBuffer{}
	transport := NewTransport(strings.NewReader(input), out)
	logger := logging.Discard()
	emitter := NewEmitter(transport, logger)

	module, err := script.Load("main.star", script.Options{
		Dir:     dir,
		Policy:  security.DefaultPolicy(),
		Emitter: emitter,
		Logger:  logger,
	})
	require.NoError(t, err)

	strategy, err := execution.New(execution.StrategyPreemptive, module.NewThread)
	require.NoError(t, err)

	return &testHarness{
		out:        out,
		dispatcher: NewDispatcher(transport, module, strategy, timeout, logger),
	}
}

func (h *testHarness) lines(t *testing.T) []map[string]any {
	t.Helper()
	raw := strings.TrimSpace(h.out.String())
	if raw == "" {
		return nil
	}
	var out []map[string]any
	for _, line := range strings.Split(raw, "\n") {
		var v map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &v), "corrupted line %q", line)
		out = append(out, v)
	}
	return out
}

// responses filters out event lines, preserving order.
func (h *testHarness) responses(t *testing.T) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, v := range h.lines(t) {
		if v["type"] != eventType {
			out = append(out, v)
		}
	}
	return out
}

func TestDispatch_ThinkAndManifest(t *testing.T) {
	input := `{"id":1,"method":"think","params":{}}
{"id":2,"method":"get_manifest","params":null}
`
	h := newHarness(t, testScript, input, 8*time.Second)
	require.NoError(t, h.dispatcher.Run())

	resps := h.responses(t)
	require.Len(t, resps, 2)

	assert.Equal(t, float64(1), resps[0]["id"])
	assert.Equal(t, map[string]any{"ok": true}, resps[0]["result"])
	_, hasErr := resps[0]["error"]
	assert.False(t, hasErr)

	assert.Equal(t, float64(2), resps[1]["id"])
	manifest, ok := resps[1]["result"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "python.unnamed", manifest["id"])
	assert.Equal(t, "Unnamed Python Script", manifest["name"])
	assert.Equal(t, "No description provided.", manifest["description"])
	assert.Equal(t, "0.0.0", manifest["version"])
	assert.Equal(t, []any{"Reasoning"}, manifest["capabilities"])
}

func TestDispatch_MethodNotAllowed(t *testing.T) {
	h := newHarness(t, testScript, `{"id":5,"method":"frobnicate","params":{}}`+"\n", time.Second)
	require.NoError(t, h.dispatcher.Run())

	resps := h.responses(t)
	require.Len(t, resps, 1)
	assert.Equal(t, "Method 'frobnicate' is not allowed", resps[0]["error"])
	assert.Equal(t, float64(5), resps[0]["id"])
}

func TestDispatch_CoreMethodNotDefined(t *testing.T) {
	h := newHarness(t, testScript, `{"id":6,"method":"execute","params":{}}`+"\n", time.Second)
	require.NoError(t, h.dispatcher.Run())

	resps := h.responses(t)
	require.Len(t, resps, 1)
	assert.Equal(t, "Method 'execute' not found in user script", resps[0]["error"])
}

func TestDispatch_MalformedLine(t *testing.T) {
	h := newHarness(t, testScript, "{oops\n", time.Second)
	require.NoError(t, h.dispatcher.Run())

	raw := strings.TrimSpace(h.out.String())
	var resp map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &resp))
	assert.Contains(t, resp["error"], "invalid request")
	_, hasID := resp["id"]
	assert.False(t, hasID, "malformed line cannot echo an id")
}

func TestDispatch_MissingIDEchoedAsNull(t *testing.T) {
	h := newHarness(t, testScript, `{"method":"think","params":{}}`+"\n", time.Second)
	require.NoError(t, h.dispatcher.Run())

	raw := strings.TrimSpace(h.out.String())
	assert.Contains(t, raw, `"id":null`)
}

func TestDispatch_OpaqueIDEcho(t *testing.T) {
	input := `{"id":{"trace":"abc","seq":7},"method":"think","params":{}}` + "\n"
	h := newHarness(t, testScript, input, time.Second)
	require.NoError(t, h.dispatcher.Run())

	resps := h.responses(t)
	require.Len(t, resps, 1)
	assert.Equal(t, map[string]any{"trace": "abc", "seq": float64(7)}, resps[0]["id"])
}

func TestDispatch_FIFOOrdering(t *testing.T) {
	var sb strings.Builder
	for i := 1; i <= 20; i++ {
		method := "on_action_echo"
		if i%3 == 0 {
			method = "think"
		}
		sb.WriteString(`{"id":` + jsonInt(i) + `,"method":"` + method + `","params":` + jsonInt(i) + `}` + "\n")
	}

	h := newHarness(t, testScript, sb.String(), 8*time.Second)
	require.NoError(t, h.dispatcher.Run())

	resps := h.responses(t)
	require.Len(t, resps, 20)
	for i, resp := range resps {
		assert.Equal(t, float64(i+1), resp["id"], "responses must keep request order")
	}
}

func jsonInt(i int) string {
	data, _ := json.Marshal(i)
	return string(data)
}

func TestDispatch_NullResultPreserved(t *testing.T) {
	h := newHarness(t, testScript, `{"id":1,"method":"on_action_none","params":{}}`+"\n", time.Second)
	require.NoError(t, h.dispatcher.Run())

	raw := strings.TrimSpace(h.out.String())
	assert.Contains(t, raw, `"result":null`)
}

func TestDispatch_MethodError(t *testing.T) {
	h := newHarness(t, testScript, `{"id":1,"method":"on_action_fail","params":{}}`+"\n", time.Second)
	require.NoError(t, h.dispatcher.Run())

	resps := h.responses(t)
	require.Len(t, resps, 1)
	errMsg, ok := resps[0]["error"].(string)
	require.True(t, ok)
	assert.Contains(t, errMsg, "broken handler")
	assert.NotContains(t, errMsg, "Traceback", "stack traces never reach the wire")
	_, hasResult := resps[0]["result"]
	assert.False(t, hasResult)
}

func TestDispatch_Timeout(t *testing.T) {
	h := newHarness(t, testScript, `{"id":3,"method":"on_action_spin","params":{}}`+"\n", time.Second)

	start := time.Now()
	require.NoError(t, h.dispatcher.Run())
	elapsed := time.Since(start)

	resps := h.responses(t)
	require.Len(t, resps, 1)
	assert.Equal(t, "Method execution timeout (1 seconds)", resps[0]["error"])
	assert.Equal(t, float64(3), resps[0]["id"])
	assert.Less(t, elapsed, 5*time.Second, "timeout must preempt the running method")
}

func TestDispatch_LoopSurvivesFailures(t *testing.T) {
	input := `{"id":1,"method":"on_action_fail","params":{}}
{oops
{"id":2,"method":"frobnicate","params":{}}
{"id":3,"method":"think","params":{}}
`
	h := newHarness(t, testScript, input, time.Second)
	require.NoError(t, h.dispatcher.Run())

	resps := h.responses(t)
	require.Len(t, resps, 4)
	assert.Equal(t, map[string]any{"ok": true}, resps[3]["result"])
}

func TestDispatch_EventDuringInvocation(t *testing.T) {
	h := newHarness(t, testScript, `{"id":1,"method":"on_action_emit","params":{"n":1}}`+"\n", time.Second)
	require.NoError(t, h.dispatcher.Run())

	lines := h.lines(t)
	require.Len(t, lines, 2)

	// The event is written while the method runs, before its response.
	assert.Equal(t, eventType, lines[0]["type"])
	assert.Equal(t, "Ping", lines[0]["event_type"])
	assert.Equal(t, map[string]any{"n": float64(1)}, lines[0]["data"])
	_, hasID := lines[0]["id"]
	assert.False(t, hasID, "events carry no id")

	assert.Equal(t, "sent", lines[1]["result"])
}

// Two script-spawned background tasks hammer the emitter while the
// dispatcher writes its response; every output line must parse on its own.
func TestDispatch_ConcurrentEmitAtomicity(t *testing.T) {
	h := newHarness(t, testScript, `{"id":1,"method":"on_action_pump","params":{}}`+"\n", 5*time.Second)
	require.NoError(t, h.dispatcher.Run())

	// The spawned pumps may still be writing after the loop drained its
	// input; wait for all 50 pulses.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Count(h.out.String(), `"Pulse"`) >= 50 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	lines := h.lines(t)
	var pulses int
	for _, v := range lines {
		if v["type"] == eventType && v["event_type"] == "Pulse" {
			pulses++
		}
	}
	assert.Equal(t, 50, pulses)
}
