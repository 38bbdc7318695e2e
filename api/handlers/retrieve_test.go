package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/counselflow/api"
	"github.com/BaSui01/counselflow/pipeline"
	"github.com/BaSui01/counselflow/types"
)

// fakeRunner 按阶段顺序发出事件，err 非 nil 时以单个 error 事件结束
type fakeRunner struct {
	mu   sync.Mutex
	got  []pipeline.Request
	err  error
	hold chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context, req pipeline.Request, sink pipeline.Sink) (*pipeline.Result, error) {
	f.mu.Lock()
	f.got = append(f.got, req)
	f.mu.Unlock()
	if sink == nil {
		sink = func(types.Event) {}
	}

	seq := 0
	emit := func(kind types.EventKind, stage types.Stage, payload map[string]any) {
		if ctx.Err() != nil {
			return
		}
		seq++
		sink(types.Event{Seq: seq, Kind: kind, Stage: stage, Payload: payload, Timestamp: time.Now()})
	}

	emit(types.EventNodeUpdate, types.StageAnalyzing, map[string]any{"domain": "nutrition"})
	if f.hold != nil {
		select {
		case <-f.hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		emit(types.EventError, types.StageFailed, map[string]any{"code": string(types.GetErrorCode(f.err))})
		return nil, f.err
	}
	emit(types.EventNodeUpdate, types.StageSelecting, map[string]any{"strategy": "vector"})
	emit(types.EventComplete, types.StageComplete, map[string]any{"answer": "식단을 조절하세요."})
	return &pipeline.Result{
		RunID:    "run-1",
		Mode:     req.Mode,
		Strategy: types.Strategy{Name: types.StrategyVector, VectorK: 3},
		Answer:   types.Answer{Text: "식단을 조절하세요."},
		Safety:   types.SafetyClear,
		Timings:  map[string]float64{"analysis": 0.01},
		Warnings: []*types.Error{types.NewSourceUnavailableError("graph", nil)},
		Elapsed:  1500 * time.Millisecond,
	}, nil
}

func (f *fakeRunner) requests() []pipeline.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pipeline.Request(nil), f.got...)
}

func newRetrieveHandler(r Runner) *RetrieveHandler {
	cfg := DefaultRetrieveConfig()
	cfg.Heartbeat = 0
	return NewRetrieveHandler(r, cfg, zap.NewNop())
}

func TestRetrieveHandler_Sync(t *testing.T) {
	runner := &fakeRunner{}
	h := newRetrieveHandler(runner)

	body := `{"question":"혈당이 높아요","context":"당뇨 전단계","mode":"preparation","patient_context":{"age":52}}`
	w := httptest.NewRecorder()
	h.HandleRetrieve(w, httptest.NewRequest(http.MethodPost, "/v1/retrieve", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Success bool                 `json:"success"`
		Data    api.RetrieveResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "run-1", resp.Data.RunID)
	assert.Equal(t, "식단을 조절하세요.", resp.Data.Answer)
	assert.Equal(t, []string{}, resp.Data.Citations)
	assert.Equal(t, 1500.0, resp.Data.ElapsedMS)
	require.Len(t, resp.Data.Warnings, 1)
	assert.Equal(t, "RETRIEVAL_SOURCE_UNAVAILABLE", resp.Data.Warnings[0].Code)

	reqs := runner.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, types.ModePreparation, reqs[0].Mode)
	assert.Equal(t, "당뇨 전단계", reqs[0].Context)
	assert.JSONEq(t, `{"age":52}`, string(reqs[0].PatientContext))
}

func TestRetrieveHandler_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"blank question", `{"question":"   "}`},
		{"unknown mode", `{"question":"q","mode":"batch"}`},
		{"malformed", `{"question":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{}
			h := newRetrieveHandler(runner)
			for _, handle := range []http.HandlerFunc{h.HandleRetrieve, h.HandleStream} {
				w := httptest.NewRecorder()
				handle(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body)))
				assert.Equal(t, http.StatusBadRequest, w.Code)
				assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
			}
			assert.Empty(t, runner.requests())
		})
	}
}

func TestRetrieveHandler_SyncFailure(t *testing.T) {
	h := newRetrieveHandler(&fakeRunner{err: types.NewSynthesisError(assert.AnError)})
	w := httptest.NewRecorder()
	h.HandleRetrieve(w, httptest.NewRequest(http.MethodPost, "/v1/retrieve", strings.NewReader(`{"question":"q"}`)))

	assert.Equal(t, http.StatusBadGateway, w.Code)
	resp := decodeResponse(t, w)
	assert.Equal(t, "SYNTHESIS_FAILURE", resp.Error.Code)
	assert.NotContains(t, w.Body.String(), assert.AnError.Error())
}

type sseFrame struct {
	event string
	data  string
}

func readSSE(t *testing.T, body string) []sseFrame {
	t.Helper()
	var frames []sseFrame
	var cur sseFrame
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if cur.data != "" {
				frames = append(frames, cur)
			}
			cur = sseFrame{}
		case strings.HasPrefix(line, "event: "):
			cur.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		}
	}
	return frames
}

func TestRetrieveHandler_Stream(t *testing.T) {
	h := newRetrieveHandler(&fakeRunner{})
	w := httptest.NewRecorder()
	h.HandleStream(w, httptest.NewRequest(http.MethodPost, "/v1/retrieve/stream", strings.NewReader(`{"question":"q"}`)))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))

	frames := readSSE(t, w.Body.String())
	require.Len(t, frames, 4)
	wantKinds := []string{"node_update", "node_update", "complete"}
	for i, kind := range wantKinds {
		assert.Equal(t, kind, frames[i].event)
		var ev types.Event
		require.NoError(t, json.Unmarshal([]byte(frames[i].data), &ev))
		assert.Equal(t, i+1, ev.Seq, "events arrive in emission order")
	}
	assert.Equal(t, "[DONE]", frames[3].data)
}

func TestRetrieveHandler_StreamFailureEndsWithSingleError(t *testing.T) {
	h := newRetrieveHandler(&fakeRunner{err: types.NewSynthesisError(nil)})
	w := httptest.NewRecorder()
	h.HandleStream(w, httptest.NewRequest(http.MethodPost, "/v1/retrieve/stream", strings.NewReader(`{"question":"q"}`)))

	frames := readSSE(t, w.Body.String())
	var errs int
	for _, f := range frames {
		if f.event == "error" {
			errs++
		}
	}
	assert.Equal(t, 1, errs)
	assert.Equal(t, "[DONE]", frames[len(frames)-1].data)
}

func TestRetrieveHandler_StreamHeartbeat(t *testing.T) {
	runner := &fakeRunner{hold: make(chan struct{})}
	cfg := DefaultRetrieveConfig()
	cfg.Heartbeat = 5 * time.Millisecond
	h := NewRetrieveHandler(runner, cfg, nil)

	go func() {
		time.Sleep(40 * time.Millisecond)
		close(runner.hold)
	}()
	w := httptest.NewRecorder()
	h.HandleStream(w, httptest.NewRequest(http.MethodPost, "/v1/retrieve/stream", strings.NewReader(`{"question":"q"}`)))
	assert.Contains(t, w.Body.String(), ": ping\n\n")
	assert.True(t, strings.HasSuffix(w.Body.String(), "data: [DONE]\n\n"))
}

func TestRetrieveHandler_StreamClientGone(t *testing.T) {
	runner := &fakeRunner{hold: make(chan struct{})}
	h := newRetrieveHandler(runner)

	ctx, cancel := context.WithCancel(context.Background())
	r := httptest.NewRequest(http.MethodPost, "/v1/retrieve/stream", strings.NewReader(`{"question":"q"}`)).WithContext(ctx)
	w := httptest.NewRecorder()
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	h.HandleStream(w, r)
	assert.NotContains(t, w.Body.String(), "[DONE]")
	assert.NotContains(t, w.Body.String(), "event: complete")
}

func TestRetrieveHandler_WebSocket(t *testing.T) {
	h := newRetrieveHandler(&fakeRunner{})
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.NoError(t, wsjson.Write(ctx, conn, api.RetrieveRequest{Question: "q", Mode: "live"}))

	var kinds []types.EventKind
	for {
		var ev types.Event
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
			break
		}
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []types.EventKind{types.EventNodeUpdate, types.EventNodeUpdate, types.EventComplete}, kinds)
}

func TestRetrieveHandler_WebSocketRejectsBadRequest(t *testing.T) {
	runner := &fakeRunner{}
	h := newRetrieveHandler(runner)
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.NoError(t, wsjson.Write(ctx, conn, api.RetrieveRequest{Question: ""}))
	var ev types.Event
	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	assert.Equal(t, types.EventError, ev.Kind)
	assert.Equal(t, "INVALID_REQUEST", ev.Payload["code"])

	err = wsjson.Read(ctx, conn, &ev)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
	assert.Empty(t, runner.requests())
}
