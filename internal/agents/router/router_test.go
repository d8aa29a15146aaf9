package router

import (
	"context"
	"strings"
	"testing"

	"github.com/corevox/corevox/internal/llmsession"
	"github.com/corevox/corevox/internal/llmsession/fake"
	"github.com/corevox/corevox/internal/sessionctx"
	"github.com/corevox/corevox/internal/signal"
)

func openFakeSession(t *testing.T) *fake.Session {
	t.Helper()
	p := &fake.Provider{}
	s, err := p.Open(context.Background(), llmsession.Config{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return s.(*fake.Session)
}

func newTestContext(authenticated bool) *sessionctx.GlobalContext {
	sess := sessionctx.NewSessionContext("sess-1", sessionctx.PlatformTelephony)
	gctx := sessionctx.NewGlobalContext("corevox", "test", "test", sess, []string{"router", "identity", "task_manager"})
	if authenticated {
		gctx.SetUser(sessionctx.UserContext{UserID: "u1", FullName: "Alice", IsAuthenticated: true})
	}
	return gctx
}

func TestProcessSignal_UnauthenticatedShortCircuit(t *testing.T) {
	r := New(nil)
	gctx := newTestContext(false)

	resp, err := r.ProcessSignal(context.Background(), gctx, signal.NewText("s1", "sess-1", "anything"))
	if err != nil {
		t.Fatalf("ProcessSignal() error = %v", err)
	}
	if resp.Kind != signal.RRouting || resp.Routing.RouteTo != "identity" {
		t.Fatalf("ProcessSignal() = %+v, want routing to identity", resp)
	}
}

func TestProcessSignal_TaskKeywordFastPath(t *testing.T) {
	r := New(nil)
	gctx := newTestContext(true)

	resp, err := r.ProcessSignal(context.Background(), gctx, signal.NewText("s1", "sess-1", "I need to add a new task"))
	if err != nil {
		t.Fatalf("ProcessSignal() error = %v", err)
	}
	if resp.Routing.RouteTo != "task_manager" {
		t.Fatalf("RouteTo = %q, want task_manager", resp.Routing.RouteTo)
	}
}

func TestProcessSignal_IdentityKeywordFastPath(t *testing.T) {
	r := New(nil)
	gctx := newTestContext(true)

	resp, err := r.ProcessSignal(context.Background(), gctx, signal.NewText("s1", "sess-1", "wait, who am i again?"))
	if err != nil {
		t.Fatalf("ProcessSignal() error = %v", err)
	}
	if resp.Routing.RouteTo != "identity" {
		t.Fatalf("RouteTo = %q, want identity", resp.Routing.RouteTo)
	}
}

func TestProcessSignal_DefaultsToTaskManagerWhenAuthenticated(t *testing.T) {
	r := New(nil)
	gctx := newTestContext(true)

	resp, err := r.ProcessSignal(context.Background(), gctx, signal.NewText("s1", "sess-1", "good morning"))
	if err != nil {
		t.Fatalf("ProcessSignal() error = %v", err)
	}
	if resp.Routing.RouteTo != "task_manager" {
		t.Fatalf("RouteTo = %q, want task_manager", resp.Routing.RouteTo)
	}
}

func TestProcessSignal_LLMFallbackToolCall(t *testing.T) {
	r := New(nil)
	gctx := newTestContext(true)

	sess := openFakeSession(t)
	r.SetSession(sess)
	sess.Emit(llmsession.Response{
		ToolCalls: []llmsession.ResponseToolCall{
			{CallID: "c1", Name: "transfer_agent", Arguments: map[string]any{
				"target_agent_name": "identity",
				"reason":            "needs re-auth",
			}},
		},
	})

	// An audio frame with no transcript skips the keyword fast-path, forcing
	// the LLM fallback.
	resp, err := r.ProcessSignal(context.Background(), gctx, signal.NewAudio("s1", "sess-1", []byte{0, 0}, 16000, 1, signal.Linear16))
	if err != nil {
		t.Fatalf("ProcessSignal() error = %v", err)
	}
	if resp.Routing.RouteTo != "identity" || resp.Routing.ThoughtProcess != "needs re-auth" {
		t.Fatalf("Routing = %+v", resp.Routing)
	}
}

func TestProcessSignal_LLMFallbackInvalidTargetDefaultsToTaskManager(t *testing.T) {
	r := New(nil)
	gctx := newTestContext(true)

	sess := openFakeSession(t)
	r.SetSession(sess)
	sess.Emit(llmsession.Response{
		ToolCalls: []llmsession.ResponseToolCall{
			{CallID: "c1", Name: "transfer_agent", Arguments: map[string]any{
				"target_agent_name": "bogus_agent",
				"reason":            "nonsense",
			}},
		},
	})

	resp, err := r.ProcessSignal(context.Background(), gctx, signal.NewAudio("s1", "sess-1", []byte{0, 0}, 16000, 1, signal.Linear16))
	if err != nil {
		t.Fatalf("ProcessSignal() error = %v", err)
	}
	if resp.Routing.RouteTo != "task_manager" {
		t.Fatalf("RouteTo = %q, want task_manager for invalid target", resp.Routing.RouteTo)
	}
}

func TestProcessSignal_LLMFallbackTextParse(t *testing.T) {
	r := New(nil)
	gctx := newTestContext(true)

	sess := openFakeSession(t)
	r.SetSession(sess)
	sess.Emit(llmsession.Response{Text: "This requires identity verification."})

	resp, err := r.ProcessSignal(context.Background(), gctx, signal.NewAudio("s1", "sess-1", []byte{0, 0}, 16000, 1, signal.Linear16))
	if err != nil {
		t.Fatalf("ProcessSignal() error = %v", err)
	}
	if resp.Routing.RouteTo != "identity" {
		t.Fatalf("RouteTo = %q, want identity", resp.Routing.RouteTo)
	}
}

func TestOnEnter_ClearsHandoffContextWhenNil(t *testing.T) {
	r := New(nil)
	gctx := newTestContext(true)
	handoff := &sessionctx.HandoffData{SourceAgent: "identity", TargetAgent: Name, UserName: "Alice", Reason: "authenticated"}
	if err := r.OnEnter(context.Background(), gctx, handoff); err != nil {
		t.Fatalf("OnEnter(handoff) error = %v", err)
	}
	if !strings.Contains(r.RenderPrompt(gctx), "[HANDOFF CONTEXT]") {
		t.Fatal("RenderPrompt() lacks the handoff block after OnEnter(handoff)")
	}
	if err := r.OnEnter(context.Background(), gctx, nil); err != nil {
		t.Fatalf("OnEnter() error = %v", err)
	}
	if strings.Contains(r.RenderPrompt(gctx), "[HANDOFF CONTEXT]") {
		t.Fatal("RenderPrompt() still carries the previous handoff block after OnEnter(nil)")
	}
}
