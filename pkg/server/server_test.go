package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-go-golems/stromboli/pkg/llm"
	"github.com/go-go-golems/stromboli/pkg/toolprovider"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedEngine struct {
	decisions []llm.Decision
	answer    string
}

func (e *scriptedEngine) Decide(ctx context.Context, messages []llm.Message, tools []toolprovider.Descriptor) (*llm.Decision, error) {
	if len(e.decisions) == 0 {
		return &llm.Decision{}, nil
	}
	d := e.decisions[0]
	e.decisions = e.decisions[1:]
	return &d, nil
}

func (e *scriptedEngine) StreamAnswer(ctx context.Context, messages []llm.Message, tools []toolprovider.Descriptor, onDelta func(string) error) error {
	for _, chunk := range strings.SplitAfter(e.answer, " ") {
		if chunk == "" {
			continue
		}
		if err := onDelta(chunk); err != nil {
			return err
		}
	}
	return nil
}

var _ llm.Engine = (*scriptedEngine)(nil)

type frame struct {
	Type    string `json:"type"`
	Delta   string `json:"delta"`
	Content string `json:"content"`
	Message string `json:"message"`
}

func readFrames(t *testing.T, body io.Reader) []frame {
	t.Helper()
	raw, err := io.ReadAll(body)
	require.NoError(t, err)

	var frames []frame
	for _, chunk := range strings.Split(string(raw), "\n\n") {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		require.True(t, strings.HasPrefix(chunk, "data: "), "frame %q missing data prefix", chunk)
		var f frame
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(chunk, "data: ")), &f))
		frames = append(frames, f)
	}
	return frames
}

func frameTypes(frames []frame) []string {
	types := make([]string, 0, len(frames))
	for _, f := range frames {
		types = append(types, f.Type)
	}
	return types
}

// trackingProvider signals when its session is closed, so tests can check the
// close-on-every-exit-path contract over a real HTTP exchange.
type trackingProvider struct {
	tools   []toolprovider.Descriptor
	listErr error
	callFn  func(name string, arguments map[string]interface{}) (interface{}, error)

	closeOnce sync.Once
	closed    chan struct{}
}

func newTrackingProvider() *trackingProvider {
	return &trackingProvider{closed: make(chan struct{})}
}

func (p *trackingProvider) ListTools(ctx context.Context) ([]toolprovider.Descriptor, error) {
	if p.listErr != nil {
		return nil, p.listErr
	}
	return p.tools, nil
}

func (p *trackingProvider) CallTool(ctx context.Context, name string, arguments map[string]interface{}) (interface{}, error) {
	if p.callFn == nil {
		return nil, errors.New("no call function configured")
	}
	return p.callFn(name, arguments)
}

func (p *trackingProvider) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

func (p *trackingProvider) requireClosed(t *testing.T) {
	t.Helper()
	select {
	case <-p.closed:
	case <-time.After(5 * time.Second):
		t.Fatal("tool provider session was not closed")
	}
}

var _ toolprovider.Provider = (*trackingProvider)(nil)

func newTrackingServer(t *testing.T, engine llm.Engine, provider *trackingProvider) *httptest.Server {
	t.Helper()

	srv, err := New(
		WithEngine(engine),
		WithProviderFactory(func(context.Context) (toolprovider.Provider, error) {
			return provider, nil
		}),
	)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

type echoInput struct {
	Text string `json:"text"`
}

func newTestServer(t *testing.T, engine llm.Engine) *httptest.Server {
	t.Helper()

	registry := toolprovider.NewRegistry()
	require.NoError(t, registry.RegisterFunc("echo", "Echo the text", func(in echoInput) (map[string]interface{}, error) {
		return map[string]interface{}{"echo": in.Text}, nil
	}))

	srv, err := New(
		WithEngine(engine),
		WithProviderFactory(func(context.Context) (toolprovider.Provider, error) {
			return registry, nil
		}),
	)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestGetDataStreamsFullRun(t *testing.T) {
	engine := &scriptedEngine{
		decisions: []llm.Decision{
			{ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "echo", Arguments: `{"text":"hi"}`}}},
		},
		answer: "It said hi back.",
	}
	ts := newTestServer(t, engine)

	resp, err := http.Post(ts.URL+"/get_data?userprompt=say+hi", "", nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	frames := readFrames(t, resp.Body)
	types := frameTypes(frames)

	require.GreaterOrEqual(t, len(types), 7)
	assert.Equal(t, "RUN_STARTED", types[0])
	assert.Equal(t, "TEXT_MESSAGE_START", types[1])
	assert.Equal(t, "TOOL_CALL_START", types[2])
	assert.Equal(t, "TOOL_CALL_ARGS", types[3])
	assert.Equal(t, "TOOL_CALL_RESULT", types[4])
	assert.Equal(t, "TEXT_MESSAGE_END", types[len(types)-2])
	assert.Equal(t, "RUN_FINISHED", types[len(types)-1])

	assert.JSONEq(t, `{"echo":"hi"}`, frames[4].Content)

	var answer strings.Builder
	for _, f := range frames {
		if f.Type == "TEXT_MESSAGE_CONTENT" {
			answer.WriteString(f.Delta)
		}
	}
	assert.Equal(t, "It said hi back.", answer.String())
}

func TestGetDataEmitsTerminalErrorWhenProviderConnectFails(t *testing.T) {
	srv, err := New(
		WithEngine(&scriptedEngine{answer: "unused"}),
		WithProviderFactory(func(context.Context) (toolprovider.Provider, error) {
			return nil, errors.New("mcp server not running")
		}),
	)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	resp, err := http.Post(ts.URL+"/get_data?userprompt=hello", "", nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	frames := readFrames(t, resp.Body)
	require.Len(t, frames, 1)
	assert.Equal(t, "RUN_ERROR", frames[0].Type)
	assert.Contains(t, frames[0].Message, "mcp server not running")
}

func TestProviderSessionClosedAfterRun(t *testing.T) {
	provider := newTrackingProvider()
	ts := newTrackingServer(t, &scriptedEngine{answer: "all done"}, provider)

	resp, err := http.Post(ts.URL+"/get_data?userprompt=hi", "", nil)
	require.NoError(t, err)
	frames := readFrames(t, resp.Body)
	_ = resp.Body.Close()

	require.NotEmpty(t, frames)
	assert.Equal(t, "RUN_FINISHED", frames[len(frames)-1].Type)
	provider.requireClosed(t)
}

func TestProviderSessionClosedAfterFatalRun(t *testing.T) {
	provider := newTrackingProvider()
	provider.listErr = errors.New("server unreachable")
	ts := newTrackingServer(t, &scriptedEngine{answer: "unused"}, provider)

	resp, err := http.Post(ts.URL+"/get_data?userprompt=hi", "", nil)
	require.NoError(t, err)
	frames := readFrames(t, resp.Body)
	_ = resp.Body.Close()

	require.NotEmpty(t, frames)
	assert.Equal(t, "RUN_ERROR", frames[len(frames)-1].Type)
	provider.requireClosed(t)
}

func TestProviderSessionClosedAfterClientDisconnect(t *testing.T) {
	provider := newTrackingProvider()
	engine := &scriptedEngine{answer: strings.Repeat("word ", 256)}
	ts := newTrackingServer(t, engine, provider)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.URL+"/get_data?userprompt=hi", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	// read the first frame, then drop the connection mid-stream
	buf := make([]byte, 64)
	_, err = resp.Body.Read(buf)
	require.NoError(t, err)
	cancel()
	_ = resp.Body.Close()

	provider.requireClosed(t)
}

func TestGetDataRejectsBadRequests(t *testing.T) {
	ts := newTestServer(t, &scriptedEngine{answer: "unused"})

	resp, err := http.Post(ts.URL+"/get_data", "", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/get_data?userprompt=hi")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t, &scriptedEngine{answer: "unused"})

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, &scriptedEngine{answer: "unused"})

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/get_data", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))
}
