// Package orchestrator implements the kernel of the framework (§4.9): the
// event loop, the agent registry, transfer_agent interception, routing,
// tool execution with latency-masking fillers, and intervention handling.
//
// Grounded on original_source/src/framework/core/orchestrator.py for the
// full event-loop algorithm (signal processing order, transfer_agent
// interception ahead of regular tool execution, the create-handoff-on-
// routing-decision flow, the two background tickers); teacher
// internal/agent/orchestrator/orchestrator.go for Go idiom — the
// registry/Option mechanics, the snapshot-under-lock-then-release-before-IO
// pattern used by SetActiveAgent, and errors.Join for background-task
// teardown.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/corevox/corevox/internal/agent"
	"github.com/corevox/corevox/internal/corerr"
	"github.com/corevox/corevox/internal/iohandler"
	"github.com/corevox/corevox/internal/metrics"
	"github.com/corevox/corevox/internal/observer"
	"github.com/corevox/corevox/internal/sessionctx"
	"github.com/corevox/corevox/internal/signal"
	"github.com/corevox/corevox/pkg/types"
)

// transferAgentTool is the meta-tool name intercepted ahead of regular tool
// execution, per §4.9.
const transferAgentTool = "transfer_agent"

// createUserTool is identity's sole tool; a successful call triggers the
// auto-handoff special case below instead of the ordinary summariser path.
const createUserTool = "create_user"

const (
	timeoutCheckInterval = 5 * time.Second
	silenceCheckInterval = 1 * time.Second
)

// audioClearer is implemented by IOHandler variants that can abort
// carrier-side playback (only internal/iohandler/carrier, presently); it is
// optional, so the orchestrator probes for it with a type assertion rather
// than widening the IOHandler interface.
type audioClearer interface {
	ClearAudio(ctx context.Context) error
}

// AgentSwitchHook is invoked synchronously by SetActiveAgent once the new
// agent's OnEnter has completed, letting the bridge open (or re-open) that
// agent's live model session and seed its opener turn before any signal is
// processed under it. This is how the per-call agent-instantiation
// architecture (§9) stays decoupled from internal/llmsession: the
// orchestrator only ever talks to agent.Agent, never to a Provider.
type AgentSwitchHook func(ctx context.Context, a agent.Agent, handoff *sessionctx.HandoffData) error

// Orchestrator is the central coordination engine for one call: it owns the
// agent registry and the active-agent pointer, and drives the event loop
// that turns inbound signals into agent responses.
type Orchestrator struct {
	gctx     *sessionctx.GlobalContext
	observer *observer.Observer
	vui      *metrics.VUISession
	log      *slog.Logger

	mu          sync.Mutex
	agents      map[string]agent.Agent
	activeAgent agent.Agent

	switchHook AgentSwitchHook

	stopOnce sync.Once
	stopped  chan struct{}
}

// SetAgentSwitchHook installs the callback SetActiveAgent runs after every
// successful OnEnter. Must be called before Run; nil is a valid value
// (tests that never open real live sessions leave it unset).
func (o *Orchestrator) SetAgentSwitchHook(hook AgentSwitchHook) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.switchHook = hook
}

// New builds an Orchestrator over one call's GlobalContext.
func New(gctx *sessionctx.GlobalContext, obs *observer.Observer, vui *metrics.VUISession, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Orchestrator{
		gctx:     gctx,
		observer: obs,
		vui:      vui,
		log:      log.With(slog.String("session_id", gctx.Session.SessionID)),
		agents:   make(map[string]agent.Agent),
		stopped:  make(chan struct{}),
	}
}

// RegisterAgent adds an agent to the registry, keyed by its own Name(). It
// is an error to register two agents under the same name.
func (o *Orchestrator) RegisterAgent(a agent.Agent) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.agents[a.Name()]; exists {
		return fmt.Errorf("orchestrator: agent %q is already registered", a.Name())
	}
	o.agents[a.Name()] = a
	o.log.Info("agent_registered", slog.String("agent_name", a.Name()))

	for _, name := range o.gctx.AvailableAgents {
		if name == a.Name() {
			return nil
		}
	}
	o.gctx.AvailableAgents = append(o.gctx.AvailableAgents, a.Name())
	return nil
}

// Agent returns a registered agent by name.
func (o *Orchestrator) Agent(name string) (agent.Agent, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	a, ok := o.agents[name]
	return a, ok
}

// ActiveAgent returns the currently active agent, or nil before the first
// SetActiveAgent call.
func (o *Orchestrator) ActiveAgent() agent.Agent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.activeAgent
}

// SetActiveAgent switches the active agent with warm-handoff support: it
// calls the outgoing agent's OnExit, then the incoming agent's OnEnter with
// handoff (which may be nil), then stamps the session, matching the
// lifecycle-hooks-before-bookkeeping order of the original's
// set_active_agent.
func (o *Orchestrator) SetActiveAgent(ctx context.Context, name string, handoff *sessionctx.HandoffData) error {
	o.mu.Lock()
	target, ok := o.agents[name]
	previous := o.activeAgent
	o.mu.Unlock()

	if !ok {
		return corerr.NewRoutingError(o.gctx.Session.ActiveAgent, name, fmt.Sprintf("agent %q not found", name))
	}

	if o.vui != nil {
		o.vui.RecordRoutingStart()
	}

	if previous != nil {
		if err := previous.OnExit(ctx, o.gctx); err != nil {
			o.log.Warn("agent_on_exit_error", slog.String("agent", previous.Name()), slog.String("error", err.Error()))
		}
	}

	o.mu.Lock()
	o.activeAgent = target
	o.mu.Unlock()

	if err := target.OnEnter(ctx, o.gctx, handoff); err != nil {
		return fmt.Errorf("orchestrator: agent %q on_enter: %w", name, err)
	}
	o.gctx.Session.SwitchAgent(name)

	o.mu.Lock()
	hook := o.switchHook
	o.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, target, handoff); err != nil {
			return fmt.Errorf("orchestrator: agent %q switch hook: %w", name, err)
		}
	}

	if o.vui != nil {
		o.vui.RecordRoutingComplete(ctx, name)
	}

	previousName := ""
	if previous != nil {
		previousName = previous.Name()
	}
	o.log.Info("agent_switched",
		slog.String("from_agent", previousName),
		slog.String("to_agent", name),
		slog.Bool("has_handoff", handoff != nil))
	return nil
}

// Run is the primary entry point: it ensures a default active agent, then
// drives the event loop until io's input stream ends, ctx is cancelled, or
// Stop is called. It always closes io on return.
func (o *Orchestrator) Run(ctx context.Context, io iohandler.IOHandler) error {
	if o.ActiveAgent() == nil {
		if err := o.selectDefaultAgent(ctx); err != nil {
			return errors.Join(err, io.Close())
		}
	}

	o.log.Info("orchestrator_started", slog.String("active_agent", o.ActiveAgent().Name()))

	err := o.eventLoop(ctx, io)

	closeErr := io.Close()
	o.log.Info("orchestrator_stopped")
	return errors.Join(err, closeErr)
}

// selectDefaultAgent activates "router" if registered, else whichever agent
// happens to be registered, matching the original's fallback order.
func (o *Orchestrator) selectDefaultAgent(ctx context.Context) error {
	o.mu.Lock()
	_, hasRouter := o.agents["router"]
	var anyName string
	for name := range o.agents {
		anyName = name
		break
	}
	o.mu.Unlock()

	if hasRouter {
		return o.SetActiveAgent(ctx, "router", nil)
	}
	if anyName != "" {
		return o.SetActiveAgent(ctx, anyName, nil)
	}
	return errors.New("orchestrator: no agents registered")
}

// eventLoop is the main processing loop: it wraps io's input stream with
// the intervention observer, runs the two background tickers (inactivity
// timeout and silence monitor) for the loop's lifetime, and dispatches each
// signal through the active agent.
func (o *Orchestrator) eventLoop(ctx context.Context, io iohandler.IOHandler) error {
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	signals, obsErrs := o.observer.Watch(loopCtx, io.StreamInput(loopCtx))

	var wg sync.WaitGroup
	timeoutErrs := make(chan error, 1)
	wg.Add(2)
	go func() { defer wg.Done(); o.runTimeoutChecker(loopCtx, timeoutErrs) }()
	go func() { defer wg.Done(); o.runSilenceMonitor(loopCtx) }()
	defer wg.Wait()

	for {
		select {
		case <-loopCtx.Done():
			return nil
		case <-o.stopped:
			return nil

		case err := <-obsErrs:
			if err := o.dispatchInterventionError(ctx, err, io); err != nil {
				return err
			}

		case err := <-timeoutErrs:
			if err := o.dispatchInterventionError(ctx, err, io); err != nil {
				return err
			}

		case sig, ok := <-signals:
			if !ok {
				return nil
			}
			if err := o.processAndHandle(ctx, sig, io); err != nil {
				return err
			}
		}
	}
}

// dispatchInterventionError routes a background-detected error into the
// intervention handler when it is a *corerr.PriorityIntervention, and
// otherwise treats it as fatal (matching the original's narrower except
// clause: only PriorityIntervention is caught at this boundary).
func (o *Orchestrator) dispatchInterventionError(ctx context.Context, err error, io iohandler.IOHandler) error {
	var intervention *corerr.PriorityIntervention
	if errors.As(err, &intervention) {
		return o.handleIntervention(ctx, intervention, io)
	}
	return err
}

// processAndHandle processes one signal and handles the resulting response,
// converting a *corerr.PriorityIntervention or recoverable *corerr.AgentError
// into its corresponding non-fatal path, matching the original's per-signal
// try/except. A *corerr.RoutingError from handling the response gets a short
// apology and the call continues under the agent that was active.
func (o *Orchestrator) processAndHandle(ctx context.Context, sig signal.Signal, io iohandler.IOHandler) error {
	if o.vui != nil {
		o.vui.RecordUserSpeechEnd()
	}

	resp, err := o.processSignal(ctx, sig)
	if err != nil {
		var intervention *corerr.PriorityIntervention
		if errors.As(err, &intervention) {
			return o.handleIntervention(ctx, intervention, io)
		}

		var agentErr *corerr.AgentError
		if errors.As(err, &agentErr) {
			o.log.Error("agent_error", slog.String("agent", agentErr.AgentName), slog.String("error", agentErr.Message))
			if agentErr.Recoverable {
				return io.SendResponse(ctx, signal.TextResponse(sig.SessionID, "system", corerr.ApologyLine(true), true))
			}
			return err
		}
		return err
	}

	if err := o.handleResponse(ctx, resp, io); err != nil {
		var routingErr *corerr.RoutingError
		if errors.As(err, &routingErr) {
			o.log.Warn("routing_error", slog.String("target", routingErr.Target), slog.String("error", routingErr.Message))
			return io.SendResponse(ctx, signal.TextResponse(sig.SessionID, "system", corerr.ApologyLine(false), true))
		}
		return err
	}
	return nil
}

// processSignal runs one inbound signal through the active agent, first
// enforcing the authentication gate of §4.9: any signal reaching a
// non-identity agent while unauthenticated triggers an immediate warm
// handoff to identity before the signal is actually processed.
func (o *Orchestrator) processSignal(ctx context.Context, sig signal.Signal) (signal.Response, error) {
	active := o.ActiveAgent()
	if active == nil {
		return signal.Response{}, errors.New("orchestrator: no active agent")
	}

	if text, ok := sig.TranscriptionText(); ok {
		o.gctx.Session.AddTurn(sessionctx.RoleUser, text, "")
	}

	if !o.gctx.User.IsAuthenticated && active.Name() != "identity" {
		if _, ok := o.Agent("identity"); ok {
			handoff := o.gctx.Session.PrepareHandoff("identity", "Authentication required", o.gctx.User)
			if err := o.SetActiveAgent(ctx, "identity", handoff); err != nil {
				return signal.Response{}, err
			}
			active = o.ActiveAgent()
		}
	}

	return active.ProcessSignal(ctx, o.gctx, sig)
}

// handleResponse dispatches one agent response: transfer_agent tool calls
// are intercepted ahead of regular tool execution, routing decisions trigger
// a handoff, and anything with user-facing content is streamed out and
// appended to history, per §4.9.
func (o *Orchestrator) handleResponse(ctx context.Context, resp signal.Response, io iohandler.IOHandler) error {
	if resp.RequiresToolExecution && len(resp.ToolCalls) > 0 {
		for _, call := range resp.ToolCalls {
			if call.Name == transferAgentTool {
				return o.handleTransferAgent(ctx, call, io)
			}
		}

		updated, err := o.executeTools(ctx, resp, io)
		if err != nil {
			return err
		}
		resp = updated
	}

	if resp.Kind == signal.RRouting {
		return o.handleRoutingDecision(ctx, resp, io)
	}

	if resp.Text != "" || len(resp.AudioData) > 0 {
		if len(resp.AudioData) > 0 && o.vui != nil {
			o.vui.RecordFirstAudioSent(ctx)
			o.vui.ResetSilenceTracker()
		}

		if err := io.SendResponse(ctx, resp); err != nil {
			return fmt.Errorf("orchestrator: send response: %w", err)
		}

		if !o.gctx.Session.GreetingCompleted {
			o.gctx.Session.MarkGreetingCompleted()
		}

		content := resp.Text
		if content == "" {
			content = "[audio response]"
		}
		o.gctx.Session.AddTurn(sessionctx.RoleAssistant, content, resp.AgentName)
	}

	return nil
}

// handleTransferAgent implements the immediate-switch meta-tool
// interception: it masks the switch with a ROUTING filler, prepares a warm
// handoff carrying the last user turn and (if authenticated) the caller's
// name, then switches — falling back to task_manager on an unregistered
// target, matching the original's _handle_transfer_agent exactly.
func (o *Orchestrator) handleTransferAgent(ctx context.Context, call types.ToolCall, io iohandler.IOHandler) error {
	target, _ := call.Arguments["target_agent_name"].(string)
	if target == "" {
		target = "task_manager"
	}
	reason, _ := call.Arguments["reason"].(string)

	active := o.ActiveAgent()
	activeName := "system"
	if active != nil {
		activeName = active.Name()
	}
	o.log.Info("transfer_agent_intercepted", slog.String("target", target), slog.String("reason", reason))

	o.playFiller(ctx, io, iohandler.FillerRouting, activeName)

	handoff := o.gctx.Session.PrepareHandoff(target, reason, o.gctx.User)

	io.CancelFiller()

	if _, ok := o.Agent(target); !ok {
		o.log.Warn("invalid_transfer_target", slog.String("target", target))
		target = "task_manager"
	}
	return o.SetActiveAgent(ctx, target, handoff)
}

// handleRoutingDecision implements the router's own routing path: a
// signal.RRouting response (produced only by the router agent, §4.3) is
// turned into a warm handoff the same way handleTransferAgent is, masked by
// the same ROUTING filler.
func (o *Orchestrator) handleRoutingDecision(ctx context.Context, resp signal.Response, io iohandler.IOHandler) error {
	target := resp.Routing.RouteTo
	if target == "" {
		return nil
	}
	o.log.Info("routing_decision", slog.String("target", target), slog.String("thought", resp.Routing.ThoughtProcess))

	if _, ok := o.Agent(target); !ok {
		return nil
	}

	o.playFiller(ctx, io, iohandler.FillerRouting, resp.AgentName)

	handoff := o.gctx.Session.PrepareHandoff(target, resp.Routing.ThoughtProcess, o.gctx.User)
	handoff.UserIntent = resp.Routing.HandoverContext

	io.CancelFiller()

	return o.SetActiveAgent(ctx, target, handoff)
}

// executeTools runs every non-transfer_agent tool call in resp sequentially,
// masking any tool the active agent flags IsSlow with the appropriate
// filler, recording VUI metrics, and letting the agent turn the raw result
// into a spoken reply via HandleToolResult. A failed tool call produces an
// apology and continues to the next call rather than aborting the batch,
// matching the original's per-call try/except.
func (o *Orchestrator) executeTools(ctx context.Context, resp signal.Response, io iohandler.IOHandler) (signal.Response, error) {
	active := o.ActiveAgent()
	if active == nil {
		return resp, errors.New("orchestrator: no active agent")
	}

	var results []map[string]any

	for _, call := range resp.ToolCalls {
		if call.Name == transferAgentTool {
			continue
		}

		tool, ok := findTool(active, call.Name)
		if ok && tool.IsSlow {
			o.playFiller(ctx, io, iohandler.PickFillerType(call.Name), active.Name())
		}

		start := time.Now()
		result, err := o.executeSingleTool(ctx, active, call)
		elapsed := time.Since(start)

		if o.vui != nil {
			o.vui.RecordToolExecution(ctx, call.Name, elapsed)
		}
		io.CancelFiller()

		if err != nil {
			var toolErr *corerr.ToolExecutionError
			message := err.Error()
			if errors.As(err, &toolErr) {
				message = toolErr.Message
			}
			results = append(results, map[string]any{
				"tool_name": call.Name,
				"call_id":   call.CallID,
				"success":   false,
				"error":     message,
			})
			if sendErr := io.SendResponse(ctx, signal.TextResponse(resp.SessionID, active.Name(), corerr.ApologyLine(false), true)); sendErr != nil {
				return resp, sendErr
			}
			continue
		}

		if call.Name == createUserTool && active.Name() == "identity" {
			if handled, herr := o.handleUserCreated(ctx, result, io); handled {
				return resp, herr
			}
		}

		results = append(results, map[string]any{
			"tool_name": call.Name,
			"call_id":   call.CallID,
			"success":   true,
			"result":    result,
		})

		if live := active.LiveSession(); live != nil {
			if sendErr := live.SendToolResponse(ctx, call.CallID, result); sendErr != nil {
				o.log.Warn("tool_response_send_error", slog.String("tool", call.Name), slog.String("error", sendErr.Error()))
			}
		}

		handlerResp, err := active.HandleToolResult(ctx, o.gctx, call.Name, result, nil)
		if err != nil {
			return resp, fmt.Errorf("orchestrator: handle tool result: %w", err)
		}
		if handlerResp != nil {
			return *handlerResp, nil
		}
	}

	if resp.Metadata == nil {
		resp.Metadata = map[string]any{}
	}
	resp.Metadata["tool_results"] = results
	resp.IsFinal = true
	return resp, nil
}

// handleUserCreated implements the create_user auto-handoff special case
// (SPEC_FULL.md's supplemented feature, grounded on the original's
// _execute_tool): once identity's create_user tool succeeds, the
// orchestrator — not identity itself (§4.4) — authenticates GlobalContext's
// user, speaks a combined confirmation-and-transfer line, and performs a
// warm handoff straight to task_manager. Returns handled=false when result
// did not represent a successful creation, letting the caller fall through
// to the ordinary tool-result path.
func (o *Orchestrator) handleUserCreated(ctx context.Context, result any, io iohandler.IOHandler) (handled bool, err error) {
	m, ok := result.(map[string]any)
	if !ok {
		return false, nil
	}
	if success, _ := m["success"].(bool); !success {
		return false, nil
	}
	userID, _ := m["user_id"].(string)
	fullName, _ := m["full_name"].(string)
	if userID == "" {
		return false, nil
	}

	phone, _ := o.gctx.Session.Metadata["phone_number"].(string)
	o.gctx.SetUser(sessionctx.UserContext{
		UserID:          userID,
		PhoneNumber:     phone,
		FullName:        fullName,
		IsAuthenticated: true,
	})
	o.log.Info("user_created_switching_to_task_manager", slog.String("user", fullName))

	handoff := o.gctx.Session.PrepareHandoff("task_manager", "User authenticated", o.gctx.User)
	handoff.UserName = fullName

	message := fmt.Sprintf("Account created for %s. Transferring to task manager.", fullName)
	if sendErr := io.SendResponse(ctx, signal.TextResponse(o.gctx.Session.SessionID, "identity", message, true)); sendErr != nil {
		return true, sendErr
	}

	return true, o.SetActiveAgent(ctx, "task_manager", handoff)
}

// findTool looks up a named tool on an agent's advertised tool list.
func findTool(a agent.Agent, name string) (agent.Tool, bool) {
	for _, t := range a.Tools() {
		if t.Name == name {
			return t, true
		}
	}
	return agent.Tool{}, false
}

// executeSingleTool invokes one tool call, wrapping an unknown tool name or
// the tool's own error as a *corerr.ToolExecutionError.
func (o *Orchestrator) executeSingleTool(ctx context.Context, active agent.Agent, call types.ToolCall) (any, error) {
	tool, ok := findTool(active, call.Name)
	if !ok {
		return nil, corerr.NewToolExecutionError(call.Name, call.Arguments, fmt.Sprintf("tool %q not found", call.Name))
	}

	result, err := tool.Invoke(ctx, call.Arguments)
	if err != nil {
		return nil, corerr.NewToolExecutionError(call.Name, call.Arguments, err.Error())
	}
	return result, nil
}

// playFiller sends a filler and records its playback duration in VUI
// metrics, swallowing (but logging) a send error since a failed filler
// should never abort the call.
func (o *Orchestrator) playFiller(ctx context.Context, io iohandler.IOHandler, ft iohandler.FillerType, agentName string) {
	start := time.Now()
	if err := io.SendFiller(ctx, ft); err != nil {
		o.log.Warn("filler_send_error", slog.String("agent", agentName), slog.String("error", err.Error()))
		return
	}
	if o.vui != nil {
		o.vui.RecordFillerPlayed(ctx, ft.String(), time.Since(start))
	}
}

// handleIntervention implements §4.9's priority-intervention handling:
// cancel any filler, best-effort clear carrier-side audio, reroute to the
// intervention's target agent (or router), notify the user, and reset the
// observer so detection state doesn't immediately refire.
func (o *Orchestrator) handleIntervention(ctx context.Context, intervention *corerr.PriorityIntervention, io iohandler.IOHandler) error {
	o.log.Info("intervention_handling", slog.String("type", intervention.Type.String()), slog.String("target", intervention.Target))

	io.CancelFiller()

	if clearer, ok := io.(audioClearer); ok {
		if err := clearer.ClearAudio(ctx); err != nil {
			o.log.Warn("clear_audio_error", slog.String("error", err.Error()))
		}
	}

	target := intervention.Target
	if target == "" {
		target = "router"
	}
	if _, ok := o.Agent(target); ok {
		if err := o.SetActiveAgent(ctx, target, nil); err != nil {
			o.log.Warn("intervention_switch_error", slog.String("target", target), slog.String("error", err.Error()))
		}
	} else if _, ok := o.Agent("router"); ok {
		if err := o.SetActiveAgent(ctx, "router", nil); err != nil {
			o.log.Warn("intervention_switch_error", slog.String("target", "router"), slog.String("error", err.Error()))
		}
	}

	activeName := "system"
	if active := o.ActiveAgent(); active != nil {
		activeName = active.Name()
	}
	if err := io.SendResponse(ctx, signal.TextResponse(o.gctx.Session.SessionID, activeName, "I understand. How can I help you?", true)); err != nil {
		return fmt.Errorf("orchestrator: send intervention notice: %w", err)
	}

	o.observer.Reset()
	return nil
}

// runTimeoutChecker polls the observer for an inactivity timeout every
// timeoutCheckInterval, forwarding any resulting intervention onto errs.
func (o *Orchestrator) runTimeoutChecker(ctx context.Context, errs chan<- error) {
	ticker := time.NewTicker(timeoutCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.observer.CheckTimeout(); err != nil {
				select {
				case errs <- err:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// runSilenceMonitor polls VUI metrics for excessive outbound silence every
// silenceCheckInterval. Unlike the timeout checker this never raises an
// intervention; it only logs.
func (o *Orchestrator) runSilenceMonitor(ctx context.Context) {
	if o.vui == nil {
		return
	}
	ticker := time.NewTicker(silenceCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.vui.CheckSilence(ctx)
		}
	}
}

// Stop ends the event loop at its next select iteration and cancels the
// observer.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stopped) })
	o.observer.Cancel()
}
