// Package bridge wires one accepted carrier WebSocket connection into a full
// call: it resolves the caller, picks the initial agent, constructs the
// per-call orchestrator and its three agents, and drives the call for its
// lifetime (§4.10, §9 per-call agent-instantiation architecture).
//
// Grounded on original_source/src/server/twilio_handler.py's handle_call for
// the end-to-end sequence (accept, await the start event with a 2s timeout,
// phone lookup, initial set_active_agent, run) and on the teacher's
// internal/engine/s2s/engine.go for Go idiom: a small struct holding the
// call's collaborators, a mutex-guarded "current live session" slot swapped
// under lock, and Close left idempotent via sync.Once.
//
// Unlike the original, this port's orchestrator (internal/orchestrator) owns
// the entire per-signal event loop itself, including the agent switch. The
// original's outer `while True` restart loop around _run_agent_session thus
// has no equivalent here: a Bridge installs one AgentSwitchHook before the
// first SetActiveAgent call, and from then on every switch — whether caused
// by transfer_agent, a router decision, an intervention, or the create_user
// auto-handoff — re-enters that same hook synchronously from inside
// orchestrator.Run.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/corevox/corevox/internal/agent"
	"github.com/corevox/corevox/internal/agents/identity"
	"github.com/corevox/corevox/internal/agents/router"
	"github.com/corevox/corevox/internal/agents/taskmanager"
	"github.com/corevox/corevox/internal/corerr"
	"github.com/corevox/corevox/internal/iohandler/carrier"
	"github.com/corevox/corevox/internal/llmsession"
	"github.com/corevox/corevox/internal/metrics"
	"github.com/corevox/corevox/internal/observer"
	"github.com/corevox/corevox/internal/orchestrator"
	"github.com/corevox/corevox/internal/sessionctx"
	"github.com/corevox/corevox/internal/storage"
)

// startEventTimeout bounds how long HandleCall waits for the carrier's start
// event before falling back to the query-string caller id, matching the
// original's asyncio.wait_for(..., timeout=2.0).
const startEventTimeout = 2 * time.Second

// Bridge holds the collaborators shared by every call accepted on a listener:
// the live-session provider, the repositories backing the identity and
// task-manager agents, and the optional VUI metrics instruments. One Bridge
// serves many concurrent calls; HandleCall constructs fresh per-call state.
type Bridge struct {
	provider llmsession.Provider
	users    storage.UserRepo
	tasks    storage.TaskRepo
	met      *metrics.Metrics

	appName     string
	version     string
	environment string

	observerOpts []observer.Option

	log *slog.Logger
}

// New builds a Bridge. met may be nil, in which case calls run without VUI
// instrumentation.
func New(provider llmsession.Provider, users storage.UserRepo, tasks storage.TaskRepo, met *metrics.Metrics, appName, version, environment string, log *slog.Logger, observerOpts ...observer.Option) *Bridge {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Bridge{
		provider:     provider,
		users:        users,
		tasks:        tasks,
		met:          met,
		appName:      appName,
		version:      version,
		environment:  environment,
		observerOpts: observerOpts,
		log:          log,
	}
}

// HandleCall drives one call end to end: accept is already done by the
// caller (conn is a live WebSocket), and HandleCall blocks until the call
// ends, returning the reason. fallbackCaller is the query-string caller id
// used when the start event's custom parameters carry none.
func (b *Bridge) HandleCall(ctx context.Context, conn *websocket.Conn, fallbackCaller string) error {
	sessionID := uuid.NewString()
	log := b.log.With(slog.String("session_id", sessionID))

	if b.met != nil {
		b.met.ActiveCalls.Add(ctx, 1)
		defer b.met.ActiveCalls.Add(ctx, -1)
	}
	callStart := time.Now()
	defer func() {
		if b.met != nil {
			b.met.CallDuration.Record(ctx, time.Since(callStart).Seconds())
		}
	}()

	session := sessionctx.NewSessionContext(sessionID, sessionctx.PlatformTelephony)
	session.Metadata["phone_number"] = fallbackCaller
	gctx := sessionctx.NewGlobalContext(b.appName, b.version, b.environment, session, nil)

	io := carrier.New(sessionID, conn, fallbackCaller, log)
	io.StreamInput(ctx)

	startCtx, cancel := context.WithTimeout(ctx, startEventTimeout)
	callerID, err := io.AwaitStart(startCtx)
	cancel()
	if err != nil {
		log.Warn("start_event_timeout", slog.String("fallback_caller", fallbackCaller))
	}
	session.Metadata["phone_number"] = callerID

	initialAgent := "identity"
	if callerID != "" {
		if user, lookupErr := b.users.GetByPhone(ctx, callerID); lookupErr != nil {
			log.Error("user_lookup_error", slog.String("error", lookupErr.Error()))
		} else if user != nil {
			gctx.SetUser(sessionctx.UserContext{
				UserID:          user.ID,
				PhoneNumber:     user.PhoneNumber,
				FullName:        user.FullName,
				IsAuthenticated: true,
				VoicePreferences: sessionctx.DefaultVoicePreferences(),
			})
			initialAgent = "task_manager"
		}
	}

	var vui *metrics.VUISession
	if b.met != nil {
		vui = metrics.NewVUISession(sessionID, b.met, log)
	}

	obs := observer.New(log, b.observerOpts...)
	orch := orchestrator.New(gctx, obs, vui, log)

	if err := orch.RegisterAgent(router.New(log)); err != nil {
		return fmt.Errorf("bridge: register router: %w", err)
	}
	if err := orch.RegisterAgent(identity.New(b.users, log)); err != nil {
		return fmt.Errorf("bridge: register identity: %w", err)
	}
	if err := orch.RegisterAgent(taskmanager.New(gctx, b.tasks, log)); err != nil {
		return fmt.Errorf("bridge: register task_manager: %w", err)
	}

	cs := &callSession{
		provider: b.provider,
		tasks:    b.tasks,
		io:       io,
		gctx:     gctx,
		vui:      vui,
		log:      log,
	}
	orch.SetAgentSwitchHook(cs.onAgentSwitch)

	if err := orch.SetActiveAgent(ctx, initialAgent, nil); err != nil {
		return fmt.Errorf("bridge: activate %q: %w", initialAgent, err)
	}

	runErr := orch.Run(ctx, io)
	cs.closeCurrent()

	if readErr := io.Err(); readErr != nil {
		return errors.Join(runErr, corerr.NewSessionExpiredError(sessionID, fmt.Sprintf("carrier stream failed after retries: %v", readErr)))
	}
	return runErr
}

// sessionSetter is implemented by every concrete agent (via agent.Base) and
// lets onAgentSwitch install a freshly opened live session without the
// bridge depending on a concrete agent type.
type sessionSetter interface {
	SetSession(llmsession.Session)
}

// callSession holds the per-call state the AgentSwitchHook closes over: the
// live-session provider, the repositories an opener turn needs, the carrier
// IOHandler (so fillers can be wired to the currently active session), and
// whichever session is presently installed.
type callSession struct {
	provider llmsession.Provider
	tasks    storage.TaskRepo
	io       *carrier.Handler
	gctx     *sessionctx.GlobalContext
	vui      *metrics.VUISession
	log      *slog.Logger

	mu      sync.Mutex
	current llmsession.Session
}

// onAgentSwitch implements orchestrator.AgentSwitchHook: close whichever
// session belonged to the outgoing agent, render the incoming agent's
// prompt and tool schema, open a new session, install it, wire fillers to
// speak through it, and seed the synthetic opener turn — the Go equivalent
// of _run_agent_session's per-agent setup, run once per switch instead of
// inside an outer restart loop.
func (c *callSession) onAgentSwitch(ctx context.Context, a agent.Agent, handoff *sessionctx.HandoffData) error {
	c.closeCurrent()
	c.io.ResetResamplers()

	cfg := llmsession.Config{
		SystemPrompt: a.RenderPrompt(c.gctx),
		VoiceName:    a.ModelConfig().VoiceName,
		ToolSchema:   toolSchema(a.Tools()),
	}

	sess, err := c.provider.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("bridge: open live session for %q: %w", a.Name(), err)
	}

	setter, ok := a.(sessionSetter)
	if !ok {
		sess.Close()
		return fmt.Errorf("bridge: agent %q cannot accept a live session", a.Name())
	}
	setter.SetSession(sess)

	c.mu.Lock()
	c.current = sess
	c.mu.Unlock()

	c.io.SetFillerEmit(func(ctx context.Context, phrase string) error {
		return sess.SendText(ctx, phrase, true)
	})

	return c.sendOpener(ctx, a, sess)
}

// closeCurrent closes whichever session is presently installed, if any. The
// outgoing agent's own Session field is left pointing at a closed session
// until that agent is re-entered and SetSession installs a fresh one — it is
// never read while inactive.
func (c *callSession) closeCurrent() {
	c.mu.Lock()
	prev := c.current
	c.current = nil
	c.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
}

// sendOpener seeds the model's first turn for the newly active agent,
// mirroring _run_agent_session's per-agent synthetic trigger text. router
// gets none: it waits silently for the caller's first utterance.
func (c *callSession) sendOpener(ctx context.Context, a agent.Agent, sess llmsession.Session) error {
	switch a.Name() {
	case "identity":
		return sess.SendText(ctx, "User connected. Greet them warmly and ask for their name to create an account.", true)

	case "task_manager":
		return sess.SendText(ctx, c.taskManagerOpener(ctx), true)

	default:
		return nil
	}
}

func (c *callSession) taskManagerOpener(ctx context.Context) string {
	userName := c.gctx.User.FullName
	if userName == "" {
		userName = "the caller"
	}

	count := 0
	if c.gctx.User.IsAuthenticated {
		n, err := c.tasks.GetOpenCount(ctx, c.gctx.User.UserID)
		if err != nil {
			c.log.Error("open_task_count_error", slog.String("error", err.Error()))
		} else {
			count = n
		}
	}

	taskInfo := fmt.Sprintf("They have %d active tasks.", count)
	if count == 0 {
		taskInfo = "They have no active tasks."
	}

	if c.gctx.Session.GreetingCompleted {
		return fmt.Sprintf("User %s has been handed off to you. %s Do NOT greet them again. Mention the task count briefly and ask if they need help with them.", userName, taskInfo)
	}
	return fmt.Sprintf("User %s connected. %s Greet them, mention the %d tasks they have, and ask if they need help with them.", userName, taskInfo, count)
}

// toolSchema projects an agent's tool list into the wire-shape the
// llmsession.Provider advertises to the model.
func toolSchema(tools []agent.Tool) []llmsession.ToolDefinition {
	if len(tools) == 0 {
		return nil
	}
	defs := make([]llmsession.ToolDefinition, len(tools))
	for i, t := range tools {
		defs[i] = llmsession.ToolDefinition{Name: t.Name, Description: t.Description, Parameters: t.Parameters}
	}
	return defs
}
