package toolshim

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agpstudio/agp/internal/agent/session"
	"github.com/agpstudio/agp/internal/artifacts"
	"github.com/agpstudio/agp/internal/common/apperr"
	"github.com/agpstudio/agp/internal/events"
	"github.com/agpstudio/agp/internal/events/bus"
	"github.com/agpstudio/agp/internal/mcp"
	"github.com/agpstudio/agp/internal/project/models"
	"github.com/agpstudio/agp/internal/settings"
)

type recordedInvoke struct {
	name          string
	args          map[string]any
	correlationID string
}

type fakeRunner struct {
	mu      sync.Mutex
	calls   []recordedInvoke
	results map[string]*mcp.ToolResult
	errs    map[string]error
	block   bool
}

func (f *fakeRunner) Invoke(ctx context.Context, name string, args map[string]any, correlationID string) (*mcp.ToolResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, recordedInvoke{name: name, args: args, correlationID: correlationID})
	block := f.block
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err, ok := f.errs[name]; ok {
		return nil, err
	}
	if res, ok := f.results[name]; ok {
		return res, nil
	}
	return &mcp.ToolResult{Status: "ok", Result: map[string]any{}}, nil
}

func (f *fakeRunner) invoked() []recordedInvoke {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recordedInvoke, len(f.calls))
	copy(out, f.calls)
	return out
}

type timelineRow struct {
	projectID     string
	tool          string
	payload       map[string]interface{}
	correlationID string
}

type fakeTimeline struct {
	mu   sync.Mutex
	next int64
	rows []timelineRow
	fail bool
}

func (f *fakeTimeline) AppendGenericEvent(ctx context.Context, projectID, tool string, payload map[string]interface{}, correlationID string) (*models.TimelineEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("database is locked")
	}
	f.next++
	f.rows = append(f.rows, timelineRow{projectID: projectID, tool: tool, payload: payload, correlationID: correlationID})
	now := time.Now().UTC()
	return &models.TimelineEvent{
		ID:            f.next,
		ProjectID:     projectID,
		StepIndex:     models.GenericStepIndex,
		Tool:          tool,
		Args:          payload,
		Status:        models.TimelineStatusEvent,
		CorrelationID: correlationID,
		StartedAt:     now,
		FinishedAt:    &now,
	}, nil
}

func (f *fakeTimeline) recorded() []timelineRow {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]timelineRow, len(f.rows))
	copy(out, f.rows)
	return out
}

type injectLog struct {
	mu    sync.Mutex
	lines []string
}

func (l *injectLog) add(line string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, line)
	return nil
}

func (l *injectLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.lines))
	copy(out, l.lines)
	return out
}

type staticSettings struct {
	cfg *settings.Settings
}

func (s staticSettings) GetAll(maskSecrets bool) (*settings.Settings, error) {
	return s.cfg.Clone(), nil
}

type sinkLog struct {
	mu      sync.Mutex
	outputs []artifacts.ToolOutput
}

func (s *sinkLog) Record(ctx context.Context, out artifacts.ToolOutput) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs = append(s.outputs, out)
}

func (s *sinkLog) all() []artifacts.ToolOutput {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]artifacts.ToolOutput, len(s.outputs))
	copy(out, s.outputs)
	return out
}

type shimFixture struct {
	shim     *Shim
	runner   *fakeRunner
	timeline *fakeTimeline
	bus      *bus.MemoryEventBus
	injected *injectLog
	sink     *sinkLog
}

func newTestShim(t *testing.T, cfg *settings.Settings) *shimFixture {
	t.Helper()
	if cfg == nil {
		cfg = settings.Defaults()
	}
	log := newTestLogger(t)
	runner := &fakeRunner{results: map[string]*mcp.ToolResult{}, errs: map[string]error{}}
	timeline := &fakeTimeline{}
	sink := &sinkLog{}
	eventBus := bus.NewMemoryEventBus(log)
	t.Cleanup(eventBus.Close)

	shim := New(Deps{
		Catalog:   builtin(t),
		Runner:    runner,
		Repo:      timeline,
		Bus:       eventBus,
		Settings:  staticSettings{cfg: cfg},
		Artifacts: sink,
		Logger:    log,
	})
	return &shimFixture{
		shim:     shim,
		runner:   runner,
		timeline: timeline,
		bus:      eventBus,
		injected: &injectLog{},
		sink:     sink,
	}
}

func (f *shimFixture) call(name string, args map[string]any) session.ToolCall {
	return session.ToolCall{
		SessionID:     "sess-1",
		ProjectID:     "proj-1",
		CorrelationID: "corr-1",
		Name:          name,
		Args:          args,
		Inject:        f.injected.add,
	}
}

// decodeResult unmarshals an injected line and returns the tool_result object.
func decodeResult(t *testing.T, line string) map[string]any {
	t.Helper()
	var envelope map[string]map[string]any
	if err := json.Unmarshal([]byte(line), &envelope); err != nil {
		t.Fatalf("injected line is not JSON: %v (%q)", err, line)
	}
	result, ok := envelope["tool_result"]
	if !ok {
		t.Fatalf("injected line has no tool_result key: %q", line)
	}
	return result
}

func TestShimHappyPathInjectsResultAndRecordsTimeline(t *testing.T) {
	f := newTestShim(t, nil)
	f.runner.results[mcp.ToolSceneHierarchy] = &mcp.ToolResult{
		Status: "ok",
		Result: map[string]any{"nodes": []any{"Main Camera", "Directional Light"}},
	}

	var published []string
	var mu sync.Mutex
	_, err := f.bus.Subscribe(events.BuildTimelineSubject("proj-1"), func(ctx context.Context, ev *bus.Event) error {
		row, ok := ev.Data.(*models.TimelineEvent)
		if !ok {
			t.Errorf("timeline event carries %T, want *models.TimelineEvent", ev.Data)
			return nil
		}
		mu.Lock()
		published = append(published, row.Tool)
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	f.shim.HandleToolCall(context.Background(), f.call(mcp.ToolSceneHierarchy, nil))

	lines := f.injected.all()
	if len(lines) != 1 {
		t.Fatalf("expected 1 injected line, got %d: %v", len(lines), lines)
	}
	result := decodeResult(t, lines[0])
	if result["name"] != mcp.ToolSceneHierarchy || result["ok"] != true {
		t.Errorf("unexpected tool_result: %v", result)
	}
	payload, ok := result["result"].(map[string]any)
	nodes, _ := payload["nodes"].([]any)
	if !ok || len(nodes) != 2 {
		t.Errorf("result payload lost the adapter data: %v", result["result"])
	}

	rows := f.timeline.recorded()
	if len(rows) != 2 {
		t.Fatalf("expected started+finished timeline rows, got %d", len(rows))
	}
	if rows[0].tool != "tool_call.started" || rows[1].tool != "tool_call.finished" {
		t.Errorf("unexpected timeline markers: %s, %s", rows[0].tool, rows[1].tool)
	}
	if rows[0].payload["name"] != mcp.ToolSceneHierarchy {
		t.Errorf("started payload missing tool name: %v", rows[0].payload)
	}
	reqStarted, _ := rows[0].payload["requestId"].(string)
	reqFinished, _ := rows[1].payload["requestId"].(string)
	if reqStarted == "" || reqStarted != reqFinished {
		t.Errorf("request id does not tie the pair together: %q vs %q", reqStarted, reqFinished)
	}
	if rows[1].payload["ok"] != true {
		t.Errorf("finished payload should be ok: %v", rows[1].payload)
	}
	if _, ok := rows[1].payload["durationMs"].(int64); !ok {
		t.Errorf("finished payload has no durationMs: %v", rows[1].payload)
	}
	if rows[0].correlationID != "corr-1" {
		t.Errorf("timeline row lost the correlation id: %q", rows[0].correlationID)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(published) != 2 {
		t.Errorf("expected 2 bus events, got %d: %v", len(published), published)
	}

	queued, ok := f.shim.TakeResult(mcp.ToolSceneHierarchy, "corr-1")
	if !ok || !queued.OK {
		t.Errorf("result queue did not mirror the success: %+v", queued)
	}
}

func TestShimRejectsUnknownTool(t *testing.T) {
	f := newTestShim(t, nil)

	f.shim.HandleToolCall(context.Background(), f.call("fs_delete", map[string]any{"path": "/"}))

	lines := f.injected.all()
	if len(lines) != 1 {
		t.Fatalf("expected 1 injected line, got %d", len(lines))
	}
	result := decodeResult(t, lines[0])
	if result["ok"] != false {
		t.Errorf("unknown tool must fail: %v", result)
	}
	if msg, _ := result["error"].(string); !strings.Contains(msg, "not in the catalog") {
		t.Errorf("error does not explain the rejection: %v", result)
	}
	if calls := f.runner.invoked(); len(calls) != 0 {
		t.Errorf("adapter must not be called for unknown tools: %v", calls)
	}
	if rows := f.timeline.recorded(); len(rows) != 0 {
		t.Errorf("rejected calls should not produce timeline rows: %v", rows)
	}
}

func TestShimRejectsSchemaViolation(t *testing.T) {
	f := newTestShim(t, nil)

	f.shim.HandleToolCall(context.Background(), f.call(mcp.ToolUnityCommand, map[string]any{}))

	lines := f.injected.all()
	if len(lines) != 1 {
		t.Fatalf("expected 1 injected line, got %d", len(lines))
	}
	result := decodeResult(t, lines[0])
	if result["ok"] != false || result["name"] != mcp.ToolUnityCommand {
		t.Errorf("unexpected tool_result: %v", result)
	}
	if calls := f.runner.invoked(); len(calls) != 0 {
		t.Errorf("adapter must not see invalid args: %v", calls)
	}
}

func TestShimEnforcesBudgetAndEndTurnResets(t *testing.T) {
	cfg := settings.Defaults()
	cfg.Agents.MaxCallsPerTurn = 2
	f := newTestShim(t, cfg)
	ctx := context.Background()

	f.shim.HandleToolCall(ctx, f.call(mcp.ToolPing, nil))
	f.shim.HandleToolCall(ctx, f.call(mcp.ToolPing, nil))
	f.shim.HandleToolCall(ctx, f.call(mcp.ToolPing, nil))

	lines := f.injected.all()
	if len(lines) != 3 {
		t.Fatalf("expected 3 injected lines, got %d", len(lines))
	}
	third := decodeResult(t, lines[2])
	if third["ok"] != false {
		t.Errorf("third call should exceed the budget: %v", third)
	}
	if msg, _ := third["error"].(string); msg != "maxCallsPerTurn exceeded (2)" {
		t.Errorf("unexpected budget error: %q", msg)
	}
	if strings.Contains(lines[2], `"name"`) {
		t.Errorf("budget error should not name a tool: %q", lines[2])
	}

	f.shim.EndTurn(ctx, "sess-1")
	f.shim.HandleToolCall(ctx, f.call(mcp.ToolPing, nil))

	lines = f.injected.all()
	fourth := decodeResult(t, lines[3])
	if fourth["ok"] != true {
		t.Errorf("a fresh turn should accept calls again: %v", fourth)
	}
}

func TestShimCountsRejectedCallsAgainstBudget(t *testing.T) {
	cfg := settings.Defaults()
	cfg.Agents.MaxCallsPerTurn = 2
	f := newTestShim(t, cfg)
	ctx := context.Background()

	f.shim.HandleToolCall(ctx, f.call("made_up_tool", nil))
	f.shim.HandleToolCall(ctx, f.call("made_up_tool", nil))
	f.shim.HandleToolCall(ctx, f.call(mcp.ToolPing, nil))

	lines := f.injected.all()
	if len(lines) != 3 {
		t.Fatalf("expected 3 injected lines, got %d", len(lines))
	}
	third := decodeResult(t, lines[2])
	if msg, _ := third["error"].(string); msg != "maxCallsPerTurn exceeded (2)" {
		t.Errorf("unknown tools must consume budget: %v", third)
	}
}

func TestShimPingShortCircuits(t *testing.T) {
	f := newTestShim(t, nil)

	f.shim.HandleToolCall(context.Background(), f.call(mcp.ToolPing, nil))

	if calls := f.runner.invoked(); len(calls) != 0 {
		t.Errorf("ping must not reach the adapter: %v", calls)
	}
	result := decodeResult(t, f.injected.all()[0])
	if result["ok"] != true {
		t.Fatalf("ping should succeed locally: %v", result)
	}
	payload, _ := result["result"].(map[string]any)
	if payload["pong"] != true {
		t.Errorf("ping payload should be deterministic: %v", payload)
	}
	if rows := f.timeline.recorded(); len(rows) != 2 {
		t.Errorf("ping still records started+finished, got %d rows", len(rows))
	}
}

func TestShimRunnerErrorInjectsFailure(t *testing.T) {
	f := newTestShim(t, nil)
	f.runner.errs[mcp.ToolBlenderCall] = apperr.Upstream("adapter offline")

	f.shim.HandleToolCall(context.Background(), f.call(mcp.ToolBlenderCall, map[string]any{"function": "export_fbx"}))

	result := decodeResult(t, f.injected.all()[0])
	if result["ok"] != false {
		t.Fatalf("runner failure must inject ok:false: %v", result)
	}
	if msg, _ := result["error"].(string); !strings.Contains(msg, "adapter offline") {
		t.Errorf("injected error lost the cause: %v", result)
	}

	rows := f.timeline.recorded()
	if len(rows) != 2 || rows[1].payload["ok"] != false {
		t.Fatalf("finished row should record the failure: %v", rows)
	}
	if msg, _ := rows[1].payload["error"].(string); !strings.Contains(msg, "adapter offline") {
		t.Errorf("finished row lost the error: %v", rows[1].payload)
	}

	queued, ok := f.shim.TakeResult(mcp.ToolBlenderCall, "corr-1")
	if !ok || queued.OK {
		t.Errorf("queue should mirror the failure: %+v", queued)
	}
}

func TestShimAdapterErrorEnvelope(t *testing.T) {
	f := newTestShim(t, nil)
	f.runner.results[mcp.ToolUnityCommand] = &mcp.ToolResult{Status: "error", Error: "bridge offline"}

	f.shim.HandleToolCall(context.Background(), f.call(mcp.ToolUnityCommand, map[string]any{"code": "Debug.Log(1);"}))

	result := decodeResult(t, f.injected.all()[0])
	if result["ok"] != false {
		t.Fatalf("error envelope must inject ok:false: %v", result)
	}
	if msg, _ := result["error"].(string); msg != "bridge offline" {
		t.Errorf("unexpected error text: %q", msg)
	}
}

func TestShimTimeoutProducesError(t *testing.T) {
	cfg := settings.Defaults()
	cfg.Agents.ToolTimeoutSeconds = 1
	f := newTestShim(t, cfg)
	f.runner.block = true

	started := time.Now()
	f.shim.HandleToolCall(context.Background(), f.call(mcp.ToolCaptureScreenshot, nil))
	elapsed := time.Since(started)

	if elapsed < time.Second {
		t.Errorf("call returned before the tool timeout: %v", elapsed)
	}
	result := decodeResult(t, f.injected.all()[0])
	if result["ok"] != false {
		t.Errorf("timed out call must fail: %v", result)
	}
	rows := f.timeline.recorded()
	if len(rows) != 2 || rows[1].payload["ok"] != false {
		t.Errorf("timeline should close the pair with an error: %v", rows)
	}
}

func TestShimSurvivesMalformedCalls(t *testing.T) {
	f := newTestShim(t, nil)

	// Arguments that cannot be encoded as JSON.
	f.shim.HandleToolCall(context.Background(), f.call(mcp.ToolUnityCommand, map[string]any{"code": make(chan int)}))
	result := decodeResult(t, f.injected.all()[0])
	if result["ok"] != false {
		t.Errorf("unencodable args must be rejected, not crash: %v", result)
	}

	// A call with no inject hook must not take the session down.
	f.shim.HandleToolCall(context.Background(), session.ToolCall{
		SessionID: "sess-1",
		ProjectID: "proj-1",
		Name:      mcp.ToolPing,
	})
}

func TestShimContinuesWhenTimelineFails(t *testing.T) {
	f := newTestShim(t, nil)
	f.timeline.fail = true

	f.shim.HandleToolCall(context.Background(), f.call(mcp.ToolPing, nil))

	result := decodeResult(t, f.injected.all()[0])
	if result["ok"] != true {
		t.Errorf("a timeline write failure must not fail the tool call: %v", result)
	}
}

func TestShimAwaitResultDeliversAcrossGoroutines(t *testing.T) {
	f := newTestShim(t, nil)

	go f.shim.HandleToolCall(context.Background(), f.call(mcp.ToolPing, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	queued, err := f.shim.AwaitResult(ctx, mcp.ToolPing, "corr-1")
	if err != nil {
		t.Fatalf("AwaitResult: %v", err)
	}
	if !queued.OK || queued.Name != mcp.ToolPing {
		t.Errorf("unexpected queued result: %+v", queued)
	}
}

func TestResultQueueDropsOldestOnOverflow(t *testing.T) {
	q := newResultQueue(2, newTestLogger(t))

	q.push(QueuedResult{Name: "ping", CorrelationID: "c", RequestID: "r1"})
	q.push(QueuedResult{Name: "ping", CorrelationID: "c", RequestID: "r2"})
	q.push(QueuedResult{Name: "ping", CorrelationID: "c", RequestID: "r3"})

	first, ok := q.take("ping", "c")
	if !ok || first.RequestID != "r2" {
		t.Errorf("expected r1 dropped and r2 first, got %+v", first)
	}
	second, ok := q.take("ping", "c")
	if !ok || second.RequestID != "r3" {
		t.Errorf("expected r3 second, got %+v", second)
	}
	if _, ok := q.take("ping", "c"); ok {
		t.Error("queue should be empty")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := q.await(ctx, "ping", "c"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("await on empty queue should time out, got %v", err)
	}
}

func TestShimRecordsArtifactOnSuccessfulExport(t *testing.T) {
	f := newTestShim(t, nil)
	f.runner.results[mcp.ToolBlenderCall] = &mcp.ToolResult{
		Status: "ok",
		Result: map[string]any{"path": "artifacts/T-001/model.fbx", "objects": float64(1)},
	}

	args := map[string]any{
		"function": "export_fbx",
		"params":   map[string]any{"path": "artifacts/T-001/model.fbx"},
	}
	f.shim.HandleToolCall(context.Background(), f.call(mcp.ToolBlenderCall, args))

	outputs := f.sink.all()
	if len(outputs) != 1 {
		t.Fatalf("expected 1 recorded output, got %d", len(outputs))
	}
	out := outputs[0]
	if out.Tool != mcp.ToolBlenderCall || out.ProjectID != "proj-1" || out.SessionID != "sess-1" {
		t.Fatalf("unexpected output: %+v", out)
	}
	if path, _ := out.Result["path"].(string); path != "artifacts/T-001/model.fbx" {
		t.Fatalf("result path = %q", path)
	}
}

func TestShimSkipsArtifactOnFailedCall(t *testing.T) {
	f := newTestShim(t, nil)
	f.runner.results[mcp.ToolBlenderCall] = &mcp.ToolResult{
		Status: "error",
		Error:  "modeler is gone",
	}

	f.shim.HandleToolCall(context.Background(), f.call(mcp.ToolBlenderCall, map[string]any{
		"function": "export_fbx",
		"params":   map[string]any{"path": "x.fbx"},
	}))

	if got := len(f.sink.all()); got != 0 {
		t.Fatalf("expected no recorded outputs, got %d", got)
	}
}

func TestShimPublishesSceneAfterEngineTool(t *testing.T) {
	f := newTestShim(t, nil)
	f.runner.results[mcp.ToolSceneHierarchy] = &mcp.ToolResult{
		Status: "ok",
		Result: map[string]any{"scene": "SampleScene", "objects": []any{"Main Camera"}},
	}

	var mu sync.Mutex
	var scenes []map[string]interface{}
	if _, err := f.bus.Subscribe(events.BuildSceneSubject("proj-1"), func(ctx context.Context, ev *bus.Event) error {
		payload, _ := ev.Data.(map[string]interface{})
		mu.Lock()
		scenes = append(scenes, payload)
		mu.Unlock()
		return nil
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	f.shim.HandleToolCall(context.Background(), f.call(mcp.ToolSceneHierarchy, nil))

	mu.Lock()
	defer mu.Unlock()
	if len(scenes) != 1 {
		t.Fatalf("expected 1 scene envelope, got %d", len(scenes))
	}
	if scenes[0]["tool"] != mcp.ToolSceneHierarchy || scenes[0]["projectId"] != "proj-1" {
		t.Errorf("unexpected scene payload: %v", scenes[0])
	}
	data, _ := scenes[0]["data"].(map[string]any)
	if data["scene"] != "SampleScene" {
		t.Errorf("scene payload lost the hierarchy: %v", scenes[0]["data"])
	}
}

func TestShimSkipsSceneForModelerTool(t *testing.T) {
	f := newTestShim(t, nil)

	var mu sync.Mutex
	count := 0
	if _, err := f.bus.Subscribe(events.BuildSceneSubject("proj-1"), func(ctx context.Context, ev *bus.Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	f.shim.HandleToolCall(context.Background(), f.call(mcp.ToolCreatePrimitive, map[string]any{
		"kind":   "cube",
		"params": map[string]any{"size": float64(2)},
	}))

	mu.Lock()
	defer mu.Unlock()
	if count != 0 {
		t.Errorf("modeler tools must not publish scene envelopes, got %d", count)
	}
}
