package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/corevox/corevox/internal/agent"
	"github.com/corevox/corevox/internal/corerr"
	"github.com/corevox/corevox/internal/iohandler"
	"github.com/corevox/corevox/internal/llmsession"
	"github.com/corevox/corevox/internal/observer"
	"github.com/corevox/corevox/internal/sessionctx"
	"github.com/corevox/corevox/internal/signal"
	"github.com/corevox/corevox/pkg/types"
)

// fakeAgent is a scriptable agent.Agent for orchestrator tests.
type fakeAgent struct {
	name        string
	tools       []agent.Tool
	processFunc func(sig signal.Signal) (signal.Response, error)

	entered      []*sessionctx.HandoffData
	exited       int
	handleResult func(toolName string, result any, toolErr error) (*signal.Response, error)
}

var _ agent.Agent = (*fakeAgent)(nil)

func (f *fakeAgent) Name() string                    { return f.name }
func (f *fakeAgent) Tools() []agent.Tool              { return f.tools }
func (f *fakeAgent) LiveSession() llmsession.Session  { return nil }
func (f *fakeAgent) ModelConfig() agent.ModelConfig   { return agent.DefaultModelConfig() }
func (f *fakeAgent) RenderPrompt(*sessionctx.GlobalContext) string { return "" }

func (f *fakeAgent) ProcessSignal(_ context.Context, _ *sessionctx.GlobalContext, sig signal.Signal) (signal.Response, error) {
	if f.processFunc != nil {
		return f.processFunc(sig)
	}
	return signal.TextResponse(sig.SessionID, f.name, "ok", true), nil
}

func (f *fakeAgent) OnEnter(_ context.Context, _ *sessionctx.GlobalContext, handoff *sessionctx.HandoffData) error {
	f.entered = append(f.entered, handoff)
	return nil
}

func (f *fakeAgent) OnExit(_ context.Context, _ *sessionctx.GlobalContext) error {
	f.exited++
	return nil
}

func (f *fakeAgent) HandleToolResult(_ context.Context, _ *sessionctx.GlobalContext, toolName string, result any, toolErr error) (*signal.Response, error) {
	if f.handleResult != nil {
		return f.handleResult(toolName, result, toolErr)
	}
	return nil, nil
}

// stubIO is a minimal iohandler.IOHandler recording every call made on it.
type stubIO struct {
	sent            []signal.Response
	fillers         []string
	fillerCancelled int
	closed          bool
	cleared         int
}

var _ iohandler.IOHandler = (*stubIO)(nil)

func (s *stubIO) StreamInput(context.Context) <-chan signal.Signal {
	ch := make(chan signal.Signal)
	close(ch)
	return ch
}

func (s *stubIO) SendResponse(_ context.Context, resp signal.Response) error {
	s.sent = append(s.sent, resp)
	return nil
}

func (s *stubIO) Close() error { s.closed = true; return nil }

func (s *stubIO) SendFiller(_ context.Context, ft iohandler.FillerType) error {
	s.fillers = append(s.fillers, ft.String())
	return nil
}

func (s *stubIO) CancelFiller()              { s.fillerCancelled++ }
func (s *stubIO) IsFillerCancelled() bool    { return s.fillerCancelled > 0 }
func (s *stubIO) ClearAudio(context.Context) error { s.cleared++; return nil }

func newTestGlobalContext(authenticated bool) *sessionctx.GlobalContext {
	sess := sessionctx.NewSessionContext("sess-1", sessionctx.PlatformTest)
	gctx := sessionctx.NewGlobalContext("corevox", "test", "test", sess, nil)
	if authenticated {
		gctx.SetUser(sessionctx.UserContext{UserID: "u1", FullName: "Alice", IsAuthenticated: true})
	}
	return gctx
}

func newTestObserver() *observer.Observer {
	return observer.New(nil, observer.WithTimeout(time.Hour))
}

func toolCall(name string, args map[string]any) types.ToolCall {
	return types.ToolCall{CallID: "call-1", Name: name, Arguments: args}
}

func TestSetActiveAgent_RunsLifecycleHooksInOrder(t *testing.T) {
	gctx := newTestGlobalContext(true)
	o := New(gctx, newTestObserver(), nil, nil)

	a1 := &fakeAgent{name: "router"}
	a2 := &fakeAgent{name: "task_manager"}
	if err := o.RegisterAgent(a1); err != nil {
		t.Fatalf("RegisterAgent() error = %v", err)
	}
	if err := o.RegisterAgent(a2); err != nil {
		t.Fatalf("RegisterAgent() error = %v", err)
	}

	if err := o.SetActiveAgent(context.Background(), "router", nil); err != nil {
		t.Fatalf("SetActiveAgent() error = %v", err)
	}
	if len(a1.entered) != 1 {
		t.Fatalf("router entered %d times, want 1", len(a1.entered))
	}

	handoff := gctx.Session.PrepareHandoff("task_manager", "test", gctx.User)
	if err := o.SetActiveAgent(context.Background(), "task_manager", handoff); err != nil {
		t.Fatalf("SetActiveAgent() error = %v", err)
	}
	if a1.exited != 1 {
		t.Fatalf("router exited %d times, want 1", a1.exited)
	}
	if len(a2.entered) != 1 || a2.entered[0] != handoff {
		t.Fatalf("task_manager entered = %+v, want [handoff]", a2.entered)
	}
	if o.ActiveAgent().Name() != "task_manager" {
		t.Fatalf("ActiveAgent() = %q, want task_manager", o.ActiveAgent().Name())
	}
}

func TestSetActiveAgent_UnknownAgentReturnsRoutingError(t *testing.T) {
	gctx := newTestGlobalContext(true)
	o := New(gctx, newTestObserver(), nil, nil)

	err := o.SetActiveAgent(context.Background(), "nope", nil)
	if err == nil {
		t.Fatal("SetActiveAgent() error = nil, want routing error")
	}
}

func TestProcessSignal_UnauthenticatedRoutesToIdentityBeforeProcessing(t *testing.T) {
	gctx := newTestGlobalContext(false)
	o := New(gctx, newTestObserver(), nil, nil)

	var identitySaw []signal.Signal
	identity := &fakeAgent{
		name: "identity",
		processFunc: func(sig signal.Signal) (signal.Response, error) {
			identitySaw = append(identitySaw, sig)
			return signal.TextResponse(sig.SessionID, "identity", "who are you?", true), nil
		},
	}
	router := &fakeAgent{name: "router"}
	if err := o.RegisterAgent(router); err != nil {
		t.Fatal(err)
	}
	if err := o.RegisterAgent(identity); err != nil {
		t.Fatal(err)
	}
	if err := o.SetActiveAgent(context.Background(), "router", nil); err != nil {
		t.Fatal(err)
	}

	sig := signal.NewText("s1", "sess-1", "hello")
	resp, err := o.processSignal(context.Background(), sig)
	if err != nil {
		t.Fatalf("processSignal() error = %v", err)
	}
	if resp.AgentName != "identity" {
		t.Fatalf("AgentName = %q, want identity", resp.AgentName)
	}
	if len(identitySaw) != 1 {
		t.Fatalf("identity processed %d signals, want 1", len(identitySaw))
	}
	if o.ActiveAgent().Name() != "identity" {
		t.Fatalf("ActiveAgent() = %q, want identity", o.ActiveAgent().Name())
	}
}

func TestHandleResponse_MarksGreetingCompletedOnce(t *testing.T) {
	gctx := newTestGlobalContext(true)
	o := New(gctx, newTestObserver(), nil, nil)
	router := &fakeAgent{name: "router"}
	if err := o.RegisterAgent(router); err != nil {
		t.Fatal(err)
	}
	if err := o.SetActiveAgent(context.Background(), "router", nil); err != nil {
		t.Fatal(err)
	}

	io := &stubIO{}
	resp := signal.TextResponse("sess-1", "router", "hello there", true)
	if err := o.handleResponse(context.Background(), resp, io); err != nil {
		t.Fatalf("handleResponse() error = %v", err)
	}
	if !gctx.Session.GreetingCompleted {
		t.Fatal("GreetingCompleted = false, want true after first response")
	}
	if len(io.sent) != 1 {
		t.Fatalf("sent %d responses, want 1", len(io.sent))
	}
}

func TestHandleTransferAgent_SwitchesWithWarmHandoff(t *testing.T) {
	gctx := newTestGlobalContext(true)
	o := New(gctx, newTestObserver(), nil, nil)
	router := &fakeAgent{name: "router"}
	taskManager := &fakeAgent{name: "task_manager"}
	if err := o.RegisterAgent(router); err != nil {
		t.Fatal(err)
	}
	if err := o.RegisterAgent(taskManager); err != nil {
		t.Fatal(err)
	}
	if err := o.SetActiveAgent(context.Background(), "router", nil); err != nil {
		t.Fatal(err)
	}
	gctx.Session.AddTurn(sessionctx.RoleUser, "add a task to call mom", "")

	io := &stubIO{}
	call := toolCall("transfer_agent", map[string]any{"target_agent_name": "task_manager", "reason": "task intent"})
	if err := o.handleTransferAgent(context.Background(), call, io); err != nil {
		t.Fatalf("handleTransferAgent() error = %v", err)
	}

	if o.ActiveAgent().Name() != "task_manager" {
		t.Fatalf("ActiveAgent() = %q, want task_manager", o.ActiveAgent().Name())
	}
	if len(taskManager.entered) != 1 || taskManager.entered[0] == nil {
		t.Fatalf("task_manager entered = %+v, want one non-nil handoff", taskManager.entered)
	}
	if taskManager.entered[0].UserName != "Alice" {
		t.Errorf("handoff.UserName = %q, want Alice", taskManager.entered[0].UserName)
	}
	if io.fillerCancelled == 0 {
		t.Error("expected filler to be cancelled after transfer")
	}
}

func TestHandleTransferAgent_FallsBackToTaskManagerOnUnknownTarget(t *testing.T) {
	gctx := newTestGlobalContext(true)
	o := New(gctx, newTestObserver(), nil, nil)
	router := &fakeAgent{name: "router"}
	taskManager := &fakeAgent{name: "task_manager"}
	if err := o.RegisterAgent(router); err != nil {
		t.Fatal(err)
	}
	if err := o.RegisterAgent(taskManager); err != nil {
		t.Fatal(err)
	}
	if err := o.SetActiveAgent(context.Background(), "router", nil); err != nil {
		t.Fatal(err)
	}

	io := &stubIO{}
	call := toolCall("transfer_agent", map[string]any{"target_agent_name": "nonexistent", "reason": "bogus"})
	if err := o.handleTransferAgent(context.Background(), call, io); err != nil {
		t.Fatalf("handleTransferAgent() error = %v", err)
	}
	if o.ActiveAgent().Name() != "task_manager" {
		t.Fatalf("ActiveAgent() = %q, want task_manager fallback", o.ActiveAgent().Name())
	}
}

func TestExecuteTools_AppliesSummariserAndRunsFiller(t *testing.T) {
	gctx := newTestGlobalContext(true)
	o := New(gctx, newTestObserver(), nil, nil)

	summarised := signal.TextResponse("sess-1", "task_manager", "You have 1 task", true)
	tm := &fakeAgent{
		name: "task_manager",
		tools: []agent.Tool{{
			Name:   "create_task",
			IsSlow: true,
			Invoke: func(context.Context, map[string]any) (any, error) {
				return map[string]any{"success": true, "description": "call mom"}, nil
			},
		}},
		handleResult: func(toolName string, result any, toolErr error) (*signal.Response, error) {
			if toolName == "create_task" {
				return &summarised, nil
			}
			return nil, nil
		},
	}
	if err := o.RegisterAgent(tm); err != nil {
		t.Fatal(err)
	}
	if err := o.SetActiveAgent(context.Background(), "task_manager", nil); err != nil {
		t.Fatal(err)
	}

	io := &stubIO{}
	call := toolCall("create_task", map[string]any{"description": "call mom"})
	resp := signal.ToolResponse("sess-1", "task_manager", []types.ToolCall{call})

	result, err := o.executeTools(context.Background(), resp, io)
	if err != nil {
		t.Fatalf("executeTools() error = %v", err)
	}
	if result.Text != "You have 1 task" {
		t.Fatalf("result.Text = %q, want summariser output", result.Text)
	}
	if len(io.fillers) != 1 || io.fillers[0] != "CREATING" {
		t.Fatalf("fillers = %v, want [CREATING]", io.fillers)
	}
	if io.fillerCancelled != 1 {
		t.Fatalf("fillerCancelled = %d, want 1", io.fillerCancelled)
	}
}

func TestExecuteTools_UnknownToolProducesApologyAndRecordsFailure(t *testing.T) {
	gctx := newTestGlobalContext(true)
	o := New(gctx, newTestObserver(), nil, nil)
	tm := &fakeAgent{name: "task_manager"}
	if err := o.RegisterAgent(tm); err != nil {
		t.Fatal(err)
	}
	if err := o.SetActiveAgent(context.Background(), "task_manager", nil); err != nil {
		t.Fatal(err)
	}

	io := &stubIO{}
	call := toolCall("does_not_exist", nil)
	resp := signal.ToolResponse("sess-1", "task_manager", []types.ToolCall{call})

	result, err := o.executeTools(context.Background(), resp, io)
	if err != nil {
		t.Fatalf("executeTools() error = %v", err)
	}
	if len(io.sent) != 1 {
		t.Fatalf("sent %d apology responses, want 1", len(io.sent))
	}
	toolResults, _ := result.Metadata["tool_results"].([]map[string]any)
	if len(toolResults) != 1 || toolResults[0]["success"] != false {
		t.Fatalf("tool_results = %+v, want one failed entry", toolResults)
	}
}

func TestHandleIntervention_ReroutesAndResetsObserver(t *testing.T) {
	gctx := newTestGlobalContext(true)
	obs := newTestObserver()
	o := New(gctx, obs, nil, nil)
	router := &fakeAgent{name: "router"}
	human := &fakeAgent{name: "human_intervention"}
	if err := o.RegisterAgent(router); err != nil {
		t.Fatal(err)
	}
	if err := o.RegisterAgent(human); err != nil {
		t.Fatal(err)
	}
	if err := o.SetActiveAgent(context.Background(), "router", nil); err != nil {
		t.Fatal(err)
	}

	io := &stubIO{}
	interv := corerr.NewPriorityIntervention(corerr.InterventionHotword, "human_intervention", "hotword: operator")
	if err := o.handleIntervention(context.Background(), interv, io); err != nil {
		t.Fatalf("handleIntervention() error = %v", err)
	}
	if o.ActiveAgent().Name() != "human_intervention" {
		t.Fatalf("ActiveAgent() = %q, want human_intervention", o.ActiveAgent().Name())
	}
	if len(io.sent) != 1 {
		t.Fatalf("sent %d notices, want 1", len(io.sent))
	}
	if io.fillerCancelled == 0 {
		t.Error("expected filler to be cancelled on intervention")
	}
	if io.cleared == 0 {
		t.Error("expected ClearAudio to be called on intervention")
	}
}

func TestExecuteTools_CreateUserTriggersAutoHandoffToTaskManager(t *testing.T) {
	gctx := newTestGlobalContext(false)
	gctx.Session.Metadata["phone_number"] = "+15551234567"
	o := New(gctx, newTestObserver(), nil, nil)

	identity := &fakeAgent{
		name: "identity",
		tools: []agent.Tool{{
			Name: "create_user",
			Invoke: func(context.Context, map[string]any) (any, error) {
				return map[string]any{"success": true, "user_id": "u9", "full_name": "Bob"}, nil
			},
		}},
	}
	taskManager := &fakeAgent{name: "task_manager"}
	if err := o.RegisterAgent(identity); err != nil {
		t.Fatal(err)
	}
	if err := o.RegisterAgent(taskManager); err != nil {
		t.Fatal(err)
	}
	if err := o.SetActiveAgent(context.Background(), "identity", nil); err != nil {
		t.Fatal(err)
	}

	io := &stubIO{}
	call := toolCall("create_user", map[string]any{"phone_number": "+15551234567", "full_name": "Bob"})
	resp := signal.ToolResponse("sess-1", "identity", []types.ToolCall{call})

	if _, err := o.executeTools(context.Background(), resp, io); err != nil {
		t.Fatalf("executeTools() error = %v", err)
	}

	if !gctx.User.IsAuthenticated || gctx.User.UserID != "u9" {
		t.Fatalf("User = %+v, want authenticated u9", gctx.User)
	}
	if o.ActiveAgent().Name() != "task_manager" {
		t.Fatalf("ActiveAgent() = %q, want task_manager", o.ActiveAgent().Name())
	}
	if len(taskManager.entered) != 1 || taskManager.entered[0] == nil || taskManager.entered[0].UserName != "Bob" {
		t.Fatalf("task_manager entered = %+v, want one handoff naming Bob", taskManager.entered)
	}
	if len(io.sent) != 1 {
		t.Fatalf("sent %d responses, want 1 confirmation", len(io.sent))
	}
}

func TestDispatchInterventionError_NonInterventionIsFatal(t *testing.T) {
	gctx := newTestGlobalContext(true)
	o := New(gctx, newTestObserver(), nil, nil)
	io := &stubIO{}

	err := o.dispatchInterventionError(context.Background(), context.DeadlineExceeded, io)
	if err != context.DeadlineExceeded {
		t.Fatalf("dispatchInterventionError() = %v, want passthrough", err)
	}
}
