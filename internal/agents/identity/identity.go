// Package identity implements the gatekeeper agent (§4.4): the only agent
// allowed to authenticate a caller, via its single create_user tool.
//
// Grounded on original_source/src/client/agents/identity.py. Per SPEC_FULL's
// Open Question resolution, prompt rendering here follows the full §4.1
// template-substitution contract rather than the original's narrower
// phone_number-only string replace: phone_number is simply one more
// template variable, sourced from session metadata.
package identity

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/corevox/corevox/internal/agent"
	"github.com/corevox/corevox/internal/sessionctx"
	"github.com/corevox/corevox/internal/signal"
	"github.com/corevox/corevox/internal/storage"
	"github.com/corevox/corevox/internal/tooling"
)

// Name is the identity agent's registered agent name.
const Name = "identity"

const defaultPrompt = `You are the identity verification agent for a voice assistant.
Your job is to authenticate the caller by creating their account if one
does not already exist, using the create_user tool.

Caller's phone number: {{phone_number}}
Current caller: {{user_name}}
Authenticated: {{is_authenticated}}`

// Identity is the gatekeeper agent: it owns create_user and nothing else.
// It never mutates GlobalContext.User or performs a handoff itself — per
// §4.4 and SPEC_FULL's create_user auto-handoff special case, that is the
// orchestrator/bridge's responsibility once this tool call succeeds.
type Identity struct {
	agent.Base
	users storage.UserRepo
	log   *slog.Logger
}

var _ agent.Agent = (*Identity)(nil)

// New builds the identity agent over the given user repository.
func New(users storage.UserRepo, log *slog.Logger) *Identity {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	id := &Identity{users: users, log: log}
	id.Base = agent.Base{
		AgentName:      Name,
		PromptTemplate: defaultPrompt,
		Model:          identityModelConfig(),
	}
	id.ToolList = []agent.Tool{id.createUserTool()}
	return id
}

func identityModelConfig() agent.ModelConfig {
	cfg := agent.DefaultModelConfig()
	cfg.Temperature = 0.5
	cfg.ResponseModality = "AUDIO"
	return cfg
}

func (id *Identity) createUserTool() agent.Tool {
	schema := tooling.Object(map[string]*jsonschema.Schema{
		"phone_number": tooling.String("The caller's phone number"),
		"full_name":    tooling.String("The caller's full name"),
	}, "phone_number", "full_name")

	return agent.Tool{
		Name:        "create_user",
		Description: "Create account. Usage: create_user(phone_number='...', full_name='...')",
		Parameters:  tooling.ToParameters(schema),
		Invoke:      id.createUser,
	}
}

func (id *Identity) createUser(ctx context.Context, args map[string]any) (any, error) {
	phone, _ := args["phone_number"].(string)
	fullName, _ := args["full_name"].(string)

	cleanPhone := normalizePhone(phone)

	u, created, err := id.users.GetOrCreate(ctx, cleanPhone, fullName)
	if err != nil {
		return map[string]any{"success": false, "error": err.Error()}, nil
	}

	message := "Account created."
	if !created {
		message = "Welcome back."
	}

	return map[string]any{
		"success":   true,
		"user_id":   u.ID,
		"full_name": u.FullName,
		"message":   message,
	}, nil
}

// normalizePhone strips spaces and hyphens before persistence, per §4.4.
func normalizePhone(phone string) string {
	phone = strings.ReplaceAll(phone, " ", "")
	phone = strings.ReplaceAll(phone, "-", "")
	return phone
}

// RenderPrompt substitutes the base template vars plus phone_number, sourced
// from session metadata, following the full §4.1 contract.
func (id *Identity) RenderPrompt(gctx *sessionctx.GlobalContext) string {
	phone, _ := gctx.Session.Metadata["phone_number"].(string)
	if phone == "" {
		phone = "unknown"
	}
	return id.Base.RenderPrompt(gctx, map[string]string{"phone_number": phone})
}

// OnEnter seeds the pending handoff injection block, if any.
func (id *Identity) OnEnter(_ context.Context, _ *sessionctx.GlobalContext, handoff *sessionctx.HandoffData) error {
	if handoff != nil {
		id.SetHandoffContext(handoff.ToContextInjection())
	}
	id.log.Info("identity_active")
	return nil
}

// OnExit clears the handoff injection so it doesn't leak into a future entry.
func (id *Identity) OnExit(_ context.Context, _ *sessionctx.GlobalContext) error {
	id.SetHandoffContext("")
	return nil
}

// HandleToolResult speaks create_user's outcome. The orchestrator, not this
// method, is responsible for authenticating GlobalContext.User and
// triggering the task_manager handoff on success (§4.4, SPEC_FULL's
// create_user auto-handoff special case) — this only produces the spoken
// reply.
func (id *Identity) HandleToolResult(_ context.Context, _ *sessionctx.GlobalContext, toolName string, result any, toolErr error) (*signal.Response, error) {
	if toolName != "create_user" {
		return nil, nil
	}
	if toolErr != nil {
		resp := signal.TextResponse("", id.AgentName, "I couldn't create your account, please try again.", true)
		return &resp, nil
	}

	m, _ := result.(map[string]any)
	if ok, _ := m["success"].(bool); !ok {
		resp := signal.TextResponse("", id.AgentName, "I couldn't create your account, please try again.", true)
		return &resp, nil
	}

	resp := signal.TextResponse("", id.AgentName, "Thanks, I've set up your account.", true)
	return &resp, nil
}

// ProcessSignal forwards every signal straight to the live model, the only
// processing this agent does outside tool calls.
func (id *Identity) ProcessSignal(ctx context.Context, _ *sessionctx.GlobalContext, sig signal.Signal) (signal.Response, error) {
	return id.ForwardToSession(ctx, sig)
}
