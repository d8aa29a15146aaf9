// Package router implements the receptionist agent (§4.3): a lightweight,
// stateless dispatcher that decides which specialized agent should handle
// the caller next.
//
// Grounded on original_source/src/client/agents/router.py: the three-step
// decision precedence (unauthenticated short-circuit, keyword fast-path,
// LLM fallback via the transfer_agent meta-tool) is carried over unchanged,
// down to the exact keyword lists and the VALID_TARGETS fallback rule.
package router

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/corevox/corevox/internal/agent"
	"github.com/corevox/corevox/internal/sessionctx"
	"github.com/corevox/corevox/internal/signal"
	"github.com/corevox/corevox/internal/tooling"
	"github.com/corevox/corevox/pkg/types"
)

// Name is the router's registered agent name.
const Name = "router"

// ValidTargets are the only agent names transfer_agent may route to.
// Mirrors the original's RouterAgent.VALID_TARGETS.
var ValidTargets = []string{"identity", "task_manager", "router"}

func isValidTarget(target string) bool {
	for _, t := range ValidTargets {
		if t == target {
			return true
		}
	}
	return false
}

// taskKeywords are matched case-insensitively, substring, against the last
// user text. Order matches original_source/.../router.py's task_keywords.
var taskKeywords = []string{
	"task", "todo", "remind", "schedule", "add", "create",
	"list", "show", "what's on", "what do i have", "meeting",
	"appointment", "deadline", "priority", "due", "mark",
	"complete", "done", "finish", "delete", "remove",
}

// identityKeywords route back to the identity agent even for an already
// authenticated caller, per the original's auth_keywords.
var identityKeywords = []string{"who am i", "my name", "identify"}

const defaultPrompt = `You are a routing agent (the receptionist) for a voice assistant.
Your job is to determine which specialized agent should handle the
caller's request, then call transfer_agent with your decision.

Available agents:
- identity: handles caller authentication and registration.
- task_manager: handles creating, searching, and updating tasks.

Current caller: {{user_name}}
Authenticated: {{is_authenticated}}`

// Router is the receptionist agent: it never itself converses with the
// caller past a routing decision, so its prompt is used only for the LLM
// fallback step, and its conversation is reset on every OnEnter.
type Router struct {
	agent.Base
	log *slog.Logger
}

var _ agent.Agent = (*Router)(nil)

// New builds the router agent. log may be nil, in which case a discarding
// logger is used.
func New(log *slog.Logger) *Router {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	r := &Router{log: log}
	r.Base = agent.Base{
		AgentName:      Name,
		PromptTemplate: defaultPrompt,
		Model:          routerModelConfig(),
	}
	r.ToolList = []agent.Tool{r.transferAgentTool()}
	return r
}

// routerModelConfig mirrors the original's lower-temperature, text-only
// ModelConfig override for routing decisions.
func routerModelConfig() agent.ModelConfig {
	cfg := agent.DefaultModelConfig()
	cfg.Temperature = 0.3
	cfg.ResponseModality = "TEXT"
	return cfg
}

// transferAgentTool builds the transfer_agent meta-tool schema. Its Invoke
// is a marker only: real routing is performed by Router.ProcessSignal's LLM
// fallback step (when the router calls itself) or intercepted upstream by
// the orchestrator (§4.9) when any other agent calls it.
func (r *Router) transferAgentTool() agent.Tool {
	schema := tooling.Object(map[string]*jsonschema.Schema{
		"target_agent_name": tooling.Enum(
			"The name of the agent to transfer to", ValidTargets...),
		"reason": tooling.String(
			"Brief reason for the transfer (e.g. 'User wants to create a task', 'Authentication required')"),
	}, "target_agent_name", "reason")

	return agent.Tool{
		Name:        "transfer_agent",
		Description: "Transfer the conversation to a specialized agent. Use this to route the user to the appropriate agent based on their intent.",
		Parameters:  tooling.ToParameters(schema),
		Invoke: func(_ context.Context, args map[string]any) (any, error) {
			target, _ := args["target_agent_name"].(string)
			reason, _ := args["reason"].(string)
			return map[string]any{"action": "transfer", "target": target, "reason": reason}, nil
		},
	}
}

// RenderPrompt renders the router prompt with the base template variables.
func (r *Router) RenderPrompt(gctx *sessionctx.GlobalContext) string {
	return r.Base.RenderPrompt(gctx, nil)
}

// OnEnter drops any handoff block left from a previous visit and installs
// the new one, if any: routing is stateless, so nothing from a prior routing
// decision leaks into the next one. The model conversation itself starts
// fresh because a new live session is opened on every agent switch.
func (r *Router) OnEnter(_ context.Context, gctx *sessionctx.GlobalContext, handoff *sessionctx.HandoffData) error {
	r.SetHandoffContext("")
	if handoff != nil {
		r.SetHandoffContext(handoff.ToContextInjection())
	}
	r.log.Info("router_active", slog.Bool("user_authenticated", gctx.User.IsAuthenticated))
	return nil
}

// OnExit is a no-op for the router: its handoff block is replaced on the
// next OnEnter, and its live session is torn down on every agent switch.
func (r *Router) OnExit(_ context.Context, _ *sessionctx.GlobalContext) error { return nil }

// HandleToolResult is unused: the router's only tool, transfer_agent, is
// intercepted before a result is ever looped back (§4.9).
func (r *Router) HandleToolResult(_ context.Context, _ *sessionctx.GlobalContext, _ string, _ any, _ error) (*signal.Response, error) {
	return nil, nil
}

// ProcessSignal implements the three-step routing precedence of §4.3.
func (r *Router) ProcessSignal(ctx context.Context, gctx *sessionctx.GlobalContext, sig signal.Signal) (signal.Response, error) {
	// Step 1: unauthenticated short-circuit.
	if !gctx.User.IsAuthenticated {
		r.log.Info("unauthenticated_user_routing_to_identity", slog.String("session_id", sig.SessionID))
		return signal.RoutingResponse(sig.SessionID, r.AgentName, signal.RoutingDecision{
			ThoughtProcess:  "User is not authenticated",
			RouteTo:         "identity",
			HandoverContext: "New session, authentication required",
		}), nil
	}

	text, _ := sig.TranscriptionText()

	// Step 2: keyword fast-path.
	if text != "" {
		if decision, ok := quickRoute(strings.ToLower(text), gctx); ok {
			return signal.RoutingResponse(sig.SessionID, r.AgentName, decision), nil
		}
	}

	// Step 3: LLM fallback.
	return r.llmRoute(ctx, sig, text)
}

// quickRoute implements step 2: case-insensitive substring match over the
// lowercased text against the task and identity keyword lists, falling
// back to task_manager for an authenticated caller when nothing matches.
func quickRoute(text string, gctx *sessionctx.GlobalContext) (signal.RoutingDecision, bool) {
	for _, kw := range taskKeywords {
		if strings.Contains(text, kw) {
			return signal.RoutingDecision{
				ThoughtProcess:  "Detected task intent: '" + kw + "'",
				RouteTo:         "task_manager",
				HandoverContext: text,
			}, true
		}
	}

	for _, kw := range identityKeywords {
		if strings.Contains(text, kw) {
			return signal.RoutingDecision{
				ThoughtProcess: "User asking about identity: '" + kw + "'",
				RouteTo:        "identity",
			}, true
		}
	}

	if gctx.User.IsAuthenticated {
		return signal.RoutingDecision{
			ThoughtProcess:  "Authenticated user, defaulting to task manager",
			RouteTo:         "task_manager",
			HandoverContext: text,
		}, true
	}

	return signal.RoutingDecision{}, false
}

// llmRoute implements step 3: ask the model, preferring a transfer_agent
// tool call over a free-text parse, falling back to task_manager on error
// or an invalid target.
func (r *Router) llmRoute(ctx context.Context, sig signal.Signal, text string) (signal.Response, error) {
	content := text
	if content == "" {
		content = "[audio input]"
	}

	resp, err := r.ForwardToSession(ctx, signal.NewText(sig.ID, sig.SessionID, content))
	if err != nil {
		r.log.Error("llm_routing_error", slog.String("error", err.Error()))
		return signal.RoutingResponse(sig.SessionID, r.AgentName, signal.RoutingDecision{
			ThoughtProcess: "Fallback routing",
			RouteTo:        "task_manager",
		}), nil
	}

	if decision, ok := r.decisionFromToolCalls(resp.ToolCalls, content); ok {
		return signal.RoutingResponse(sig.SessionID, r.AgentName, decision), nil
	}

	if resp.Text != "" {
		return signal.RoutingResponse(sig.SessionID, r.AgentName, parseTextRouting(resp.Text)), nil
	}

	return signal.RoutingResponse(sig.SessionID, r.AgentName, signal.RoutingDecision{
		ThoughtProcess: "Fallback routing",
		RouteTo:        "task_manager",
	}), nil
}

// decisionFromToolCalls looks for a transfer_agent call among resp and
// validates its target against ValidTargets, defaulting to task_manager.
func (r *Router) decisionFromToolCalls(calls []types.ToolCall, handoverContext string) (signal.RoutingDecision, bool) {
	for _, c := range calls {
		if c.Name != "transfer_agent" {
			continue
		}
		target, _ := c.Arguments["target_agent_name"].(string)
		reason, _ := c.Arguments["reason"].(string)

		if !isValidTarget(target) {
			r.log.Warn("invalid_transfer_target", slog.String("target", target))
			target = "task_manager"
		}

		return signal.RoutingDecision{
			ThoughtProcess:  reason,
			RouteTo:         target,
			HandoverContext: handoverContext,
		}, true
	}
	return signal.RoutingDecision{}, false
}

// parseTextRouting implements the free-text fallback parse: the reply is
// inspected for "identity"/"auth" before defaulting to task_manager.
func parseTextRouting(text string) signal.RoutingDecision {
	lower := strings.ToLower(text)
	target := "task_manager"
	if strings.Contains(lower, "identity") || strings.Contains(lower, "auth") {
		target = "identity"
	}

	summary := text
	if len(summary) > 100 {
		summary = summary[:100]
	}

	return signal.RoutingDecision{
		ThoughtProcess: "Parsed from text: " + summary,
		RouteTo:        target,
	}
}
