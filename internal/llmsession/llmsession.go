// Package llmsession defines the LiveSession contract (§6): an abstract
// bidirectional duplex to the remote multimodal LLM — send audio/text/
// tool-result, receive audio/text/tool-calls.
//
// This mirrors the teacher's pkg/provider/s2s Provider/SessionHandle shape
// closely: the session is the hot path of the bridge pump, every method must
// return quickly, and audio/response delivery is channel-based so callers
// never block the provider's own receive loop.
//
// Declared an external collaborator by the spec ("only its live-session
// contract is specified") — the contract here is exercised end to end by
// one concrete adapter (internal/llmsession/openairt) and by an in-memory
// fake used in tests.
package llmsession

import "context"

// ToolCallHandler is a callback shape for tool-call notifications. No
// Session in corevox takes or invokes one: tool calls are delivered as
// Response.ToolCalls on the response stream and executed by the caller.
type ToolCallHandler func(callID, name string, arguments map[string]any)

// ContextItem is a text message injected into the session's rolling context
// mid-conversation (e.g. a tool result, or a corrected transcript).
type ContextItem struct {
	Role    string
	Content string
}

// Config is the initial configuration for a new live session.
type Config struct {
	SystemPrompt string
	VoiceName    string
	ToolSchema   []ToolDefinition
}

// ToolDefinition mirrors types.ToolDefinition without importing pkg/types,
// keeping this package's public surface self-contained for adapters that
// don't otherwise depend on the agent package's tool type.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Response is a single event emitted on a session's Responses channel. Per
// §6, text/audio/tool_calls are independent, optional fields — a single
// Response may carry any combination.
type Response struct {
	Text      string
	AudioPCM  []byte // pcm16, 24kHz mono on the outbound (LLM->carrier) path
	ToolCalls []ResponseToolCall
	EndOfTurn bool
}

// ResponseToolCall is one tool invocation surfaced on a Response.
type ResponseToolCall struct {
	CallID    string
	Name      string
	Arguments map[string]any
}

// Session represents one open live session with the model. The session is
// long-lived; turn boundaries are signalled by the provider via
// Response.EndOfTurn and do not end the session (§6).
//
// Implementations must be safe for concurrent use. Callers must call Close
// when the session is no longer needed; Close is idempotent.
type Session interface {
	// SendAudio delivers a raw pcm16, 16kHz mono chunk for processing.
	SendAudio(ctx context.Context, pcm16 []byte) error

	// SendText injects a text turn. endOfTurn tells the provider whether to
	// treat this as a complete user turn (triggering a model response) or
	// as additional context.
	SendText(ctx context.Context, text string, endOfTurn bool) error

	// SendToolResponse returns a tool's result for the given call id so the
	// model can continue generating.
	SendToolResponse(ctx context.Context, callID string, result any) error

	// InjectContext inserts context items into the session's rolling
	// context without waiting for the user to speak.
	InjectContext(ctx context.Context, items []ContextItem) error

	// UpdateInstructions replaces the system-level instructions effective
	// for the next model turn.
	UpdateInstructions(ctx context.Context, instructions string) error

	// SetTools replaces the active tool schema without restarting the
	// session.
	SetTools(ctx context.Context, tools []ToolDefinition) error

	// Interrupt stops the current generation and discards buffered audio
	// (barge-in, or orchestrator-directed redirection).
	Interrupt(ctx context.Context) error

	// Responses returns the channel of incoming Response events. Closed
	// when the session ends; callers should then check Err.
	Responses() <-chan Response

	// Err returns the error that closed Responses, or nil on a clean end.
	Err() error

	// Close terminates the session and releases its resources.
	Close() error
}

// Provider opens Sessions against a specific backend.
type Provider interface {
	Open(ctx context.Context, cfg Config) (Session, error)
}
