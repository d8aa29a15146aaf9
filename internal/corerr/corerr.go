// Package corerr implements the error taxonomy from §7 as concrete Go error
// types, dispatched with errors.As at the orchestrator event-loop boundary.
//
// The original implementation models these as an exception class hierarchy;
// Go has no such inheritance, so each kind is its own struct satisfying
// error, and callers use errors.As to recover the concrete type instead of
// catching a common base.
package corerr

import "fmt"

// FrameworkError is the base shape shared by every kind below: a message
// plus a free-form details map. It is not itself raised directly.
type FrameworkError struct {
	Message string
	Details map[string]any
}

func (e *FrameworkError) Error() string { return e.Message }

// PriorityIntervention is raised by the Intervention Observer when it
// detects a hotword, a strongly negative sentiment, or an inactivity
// timeout. It is caught at the event-loop boundary and is not fatal.
type PriorityIntervention struct {
	FrameworkError
	Type   InterventionType
	Target string
}

// InterventionType enumerates why a PriorityIntervention fired.
type InterventionType int

const (
	InterventionHotword InterventionType = iota
	InterventionSentiment
	InterventionTimeout
)

func (t InterventionType) String() string {
	switch t {
	case InterventionHotword:
		return "HOTWORD"
	case InterventionSentiment:
		return "SENTIMENT"
	case InterventionTimeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

func NewPriorityIntervention(typ InterventionType, target, message string) *PriorityIntervention {
	return &PriorityIntervention{
		FrameworkError: FrameworkError{Message: message},
		Type:           typ,
		Target:         target,
	}
}

// RoutingError is raised when a target agent is not registered or a switch
// fails. Surfaced to the user with a short apology; the call continues
// under the previous agent.
type RoutingError struct {
	FrameworkError
	Source string
	Target string
}

func NewRoutingError(source, target, message string) *RoutingError {
	return &RoutingError{FrameworkError: FrameworkError{Message: message}, Source: source, Target: target}
}

// AgentError is raised by agent-internal failures. Recoverable errors get an
// apology and the call continues; non-recoverable errors tear down the call.
type AgentError struct {
	FrameworkError
	AgentName   string
	Recoverable bool
}

func NewAgentError(agentName, message string, recoverable bool) *AgentError {
	return &AgentError{FrameworkError: FrameworkError{Message: message}, AgentName: agentName, Recoverable: recoverable}
}

// ToolExecutionError is raised when a tool invocation fails, or when the
// named tool is not found on the active agent.
type ToolExecutionError struct {
	FrameworkError
	ToolName  string
	Arguments map[string]any
}

func NewToolExecutionError(tool string, args map[string]any, message string) *ToolExecutionError {
	return &ToolExecutionError{FrameworkError: FrameworkError{Message: message}, ToolName: tool, Arguments: args}
}

// ArgumentError is raised when a tool or repository call receives a value
// outside its accepted domain (e.g. an unrecognised task status).
type ArgumentError struct {
	FrameworkError
	Field string
	Value any
}

func NewArgumentError(field string, value any, message string) *ArgumentError {
	return &ArgumentError{FrameworkError: FrameworkError{Message: message}, Field: field, Value: value}
}

// AuthenticationError is raised when an operation requires authentication
// and the caller is anonymous. The orchestrator does not convert it: a tool
// that returns it is reported like any other failed tool call. Anonymous
// callers are instead handed off to identity by the orchestrator's
// authentication gate before a non-identity agent processes their signal.
type AuthenticationError struct {
	FrameworkError
}

func NewAuthenticationError(message string) *AuthenticationError {
	return &AuthenticationError{FrameworkError: FrameworkError{Message: message}}
}

// SessionExpiredError is raised when a session is no longer valid; the call
// is torn down.
type SessionExpiredError struct {
	FrameworkError
	SessionID string
}

func NewSessionExpiredError(sessionID, message string) *SessionExpiredError {
	return &SessionExpiredError{FrameworkError: FrameworkError{Message: message}, SessionID: sessionID}
}

// ApologyLine returns one of the two canned user-visible failure lines from
// §7, chosen by whether the failure is the "try again" or "try something
// else" flavor.
func ApologyLine(tryAgain bool) string {
	if tryAgain {
		return "I encountered an issue. Let me try again."
	}
	return "I'm having trouble with that. Let me try something else."
}

// Error formats the ToolExecutionError message the LLM receives so it can
// adapt, per §4.2's failure semantics.
func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %q failed: %s", e.ToolName, e.Message)
}
