// Package agent defines the Agent capability interface shared by the three
// concrete agents (router, identity, task manager), the Tool type, and the
// prompt-rendering helper every LLM-backed agent composes.
//
// Agents share a small capability set modelled as an interface rather than
// an open inheritance hierarchy (§9 design note): ProcessSignal, OnEnter,
// OnExit, HandleToolResult, RenderPrompt.
package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/corevox/corevox/internal/llmsession"
	"github.com/corevox/corevox/internal/sessionctx"
	"github.com/corevox/corevox/internal/signal"
	"github.com/corevox/corevox/pkg/types"
)

// ModelConfig carries per-agent LLM tuning knobs, defaulted per the original
// implementation.
type ModelConfig struct {
	ModelName          string
	Temperature        float64
	MaxOutputTokens    int
	VoiceName          string
	ResponseModality   string
	Language           string
}

// DefaultModelConfig returns the system defaults.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		Temperature:      0.7,
		MaxOutputTokens:  8192,
		VoiceName:        "Kore",
		ResponseModality: "AUDIO",
		Language:         "en-US",
	}
}

// ToolFunc is the Go equivalent of the original's sync/async-uniform
// Tool.execute: it receives the decoded argument map and returns a result
// value or an error.
type ToolFunc func(ctx context.Context, args map[string]any) (any, error)

// Tool is a named, schema-described callable exposed to the LLM by the
// currently active agent. There is no global tool registry (§4.2); each
// agent owns its own tool list.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Invoke      ToolFunc
	IsSlow      bool
}

// Definition projects a Tool into the wire-shape offered to the LLM.
func (t Tool) Definition() types.ToolDefinition {
	return types.ToolDefinition{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  t.Parameters,
		IsSlow:      t.IsSlow,
	}
}

// Agent is the capability set every concrete agent implements.
type Agent interface {
	// Name returns the agent's registered name (router, identity,
	// task_manager, ...).
	Name() string

	// Tools returns the agent's tool list, in the order tool-derived
	// function schemas should be advertised to the LLM.
	Tools() []Tool

	// RenderPrompt renders the agent's system prompt against ctx,
	// substituting {{key}} placeholders and appending the handoff
	// injection block (§4.1) when one is pending.
	RenderPrompt(ctx *sessionctx.GlobalContext) string

	// ProcessSignal handles one inbound signal and returns the agent's
	// response.
	ProcessSignal(ctx context.Context, gctx *sessionctx.GlobalContext, sig signal.Signal) (signal.Response, error)

	// OnEnter is called when this agent becomes active, optionally
	// consuming a pending handoff.
	OnEnter(ctx context.Context, gctx *sessionctx.GlobalContext, handoff *sessionctx.HandoffData) error

	// OnExit is called when this agent is about to be replaced as active.
	OnExit(ctx context.Context, gctx *sessionctx.GlobalContext) error

	// HandleToolResult lets the agent turn a tool's raw result into a
	// user-directed response (e.g. the task summariser). Returning a nil
	// response means "nothing to say".
	HandleToolResult(ctx context.Context, gctx *sessionctx.GlobalContext, toolName string, result any, toolErr error) (*signal.Response, error)

	// LiveSession returns the model session currently installed on this
	// agent (nil until the bridge opens one), so the orchestrator can feed a
	// tool's result back to the model without depending on a concrete agent
	// type.
	LiveSession() llmsession.Session

	// ModelConfig returns the tuning knobs (voice, model name, ...) the
	// bridge uses to open this agent's live session.
	ModelConfig() ModelConfig
}

// Base holds the fields and behavior common to every LLM-backed agent:
// a named prompt template, model config, tool list, and handoff-context
// injection slot. Concrete agents embed Base and implement the remaining
// Agent methods themselves.
type Base struct {
	AgentName      string
	PromptTemplate string
	Model          ModelConfig
	ToolList       []Tool

	// Session is the live model connection for this agent while it is
	// active, opened by the orchestrator/bridge on OnEnter and forwarded
	// every ProcessSignal call via ForwardToSession. Nil until opened.
	Session llmsession.Session

	handoffContext string
}

func (b *Base) Name() string  { return b.AgentName }
func (b *Base) Tools() []Tool { return b.ToolList }

// SetSession installs the live model session this agent forwards signals
// to. Called by the orchestrator/bridge whenever this agent becomes active.
func (b *Base) SetSession(s llmsession.Session) { b.Session = s }

// LiveSession returns the currently installed model session, or nil.
func (b *Base) LiveSession() llmsession.Session { return b.Session }

// ModelConfig returns the agent's tuning knobs.
func (b *Base) ModelConfig() ModelConfig { return b.Model }

// ForwardToSession sends sig's content into the live session and returns the
// next Response event, translated into the agent's outbound signal.Response.
// This is the shared "talk to the model" primitive every LLM-backed agent's
// ProcessSignal composes; concrete agents layer their own pre-processing
// (keyword routing, tool execution) around it.
func (b *Base) ForwardToSession(ctx context.Context, sig signal.Signal) (signal.Response, error) {
	if b.Session == nil {
		return signal.Response{}, fmt.Errorf("agent %s: no live session", b.AgentName)
	}

	switch sig.Kind {
	case signal.Audio:
		if err := b.Session.SendAudio(ctx, sig.AudioData); err != nil {
			return signal.Response{}, fmt.Errorf("agent %s: send audio: %w", b.AgentName, err)
		}
	default:
		text, _ := sig.TranscriptionText()
		if err := b.Session.SendText(ctx, text, true); err != nil {
			return signal.Response{}, fmt.Errorf("agent %s: send text: %w", b.AgentName, err)
		}
	}

	select {
	case resp, ok := <-b.Session.Responses():
		if !ok {
			if err := b.Session.Err(); err != nil {
				return signal.Response{}, fmt.Errorf("agent %s: live session closed: %w", b.AgentName, err)
			}
			return signal.Response{}, fmt.Errorf("agent %s: live session closed", b.AgentName)
		}
		return translateSessionResponse(b.AgentName, sig.SessionID, resp), nil
	case <-ctx.Done():
		return signal.Response{}, ctx.Err()
	}
}

// translateSessionResponse maps one llmsession.Response event onto the
// agent-facing signal.Response tagged variant: a non-empty ToolCalls list
// takes precedence (the orchestrator must see the whole call, including the
// transfer_agent meta-tool, before anything else happens), then text, then
// audio.
func translateSessionResponse(agentName, sessionID string, resp llmsession.Response) signal.Response {
	if len(resp.ToolCalls) > 0 {
		calls := make([]types.ToolCall, len(resp.ToolCalls))
		for i, c := range resp.ToolCalls {
			calls[i] = types.ToolCall{CallID: c.CallID, Name: c.Name, Arguments: c.Arguments}
		}
		return signal.ToolResponse(sessionID, agentName, calls)
	}
	if resp.Text != "" {
		return signal.TextResponse(sessionID, agentName, resp.Text, resp.EndOfTurn)
	}
	return signal.AudioResponse(sessionID, agentName, resp.AudioPCM, resp.EndOfTurn)
}

// SetHandoffContext stores the rendered injection block to append on the
// next RenderPrompt call. Passing "" clears it.
func (b *Base) SetHandoffContext(block string) { b.handoffContext = block }

// RenderPrompt substitutes {{key}} placeholders from ctx.ToTemplateVars()
// plus any agent-specific vars, then appends the handoff injection block
// verbatim, joined by a blank line, per §4.1 and the original's exact join
// behavior (prompt + "\n\n" + block) when a block is present.
func (b *Base) RenderPrompt(ctx *sessionctx.GlobalContext, extra map[string]string) string {
	vars := ctx.ToTemplateVars()
	for k, v := range extra {
		vars[k] = v
	}
	rendered := renderTemplate(b.PromptTemplate, vars)
	if b.handoffContext == "" {
		return rendered
	}
	return rendered + "\n\n" + b.handoffContext
}

// renderTemplate performs naive {{key}} -> value substitution, matching the
// original implementation's string-replace approach (no conditionals, no
// loops — the template language is intentionally minimal).
func renderTemplate(tmpl string, vars map[string]string) string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := tmpl
	for _, k := range keys {
		out = strings.ReplaceAll(out, "{{"+k+"}}", vars[k])
	}
	return out
}
