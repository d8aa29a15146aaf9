// Package signal defines the tagged-variant Signal and Response messages
// that flow between I/O handlers, agents, and the orchestrator.
//
// Both types are closed, small sets (three signal kinds, five response
// kinds), so they are modelled as a single struct per variant with a Kind
// discriminant rather than an open interface hierarchy — matching the
// design note that prefers "a single match point at each processing stage".
package signal

import (
	"time"

	"github.com/corevox/corevox/pkg/types"
)

// Kind discriminates the Signal variants.
type Kind int

const (
	// Audio carries raw sample bytes from the caller.
	Audio Kind = iota
	// Text carries typed or transcribed text.
	Text
	// System carries orchestrator-internal events (e.g. a synthetic opener).
	System
)

func (k Kind) String() string {
	switch k {
	case Audio:
		return "audio"
	case Text:
		return "text"
	case System:
		return "system"
	default:
		return "unknown"
	}
}

// Encoding names the sample encoding of an Audio signal.
type Encoding int

const (
	// Linear16 is 16-bit signed linear PCM.
	Linear16 Encoding = iota
	// Mulaw is G.711 μ-law, 8-bit.
	Mulaw
)

func (e Encoding) String() string {
	if e == Mulaw {
		return "MULAW"
	}
	return "LINEAR16"
}

// Signal is the tagged-variant input to an agent's ProcessSignal.
type Signal struct {
	ID        string
	Timestamp time.Time
	SessionID string
	Metadata  map[string]any

	Kind Kind

	// Audio fields, populated when Kind == Audio.
	AudioData  []byte
	SampleRate int
	Channels   int
	EncodingOf Encoding

	// Text fields, populated when Kind == Text (and, as a transcription,
	// may also be carried as metadata on an Audio signal per §4.6).
	Content  string
	Language string
}

// NewText builds a Text signal.
func NewText(id, sessionID, content string) Signal {
	return Signal{
		ID:        id,
		Timestamp: time.Now().UTC(),
		SessionID: sessionID,
		Kind:      Text,
		Content:   content,
		Language:  "en-US",
	}
}

// NewAudio builds an Audio signal.
func NewAudio(id, sessionID string, data []byte, sampleRate, channels int, enc Encoding) Signal {
	return Signal{
		ID:         id,
		Timestamp:  time.Now().UTC(),
		SessionID:  sessionID,
		Kind:       Audio,
		AudioData:  data,
		SampleRate: sampleRate,
		Channels:   channels,
		EncodingOf: enc,
	}
}

// NewSystem builds a System signal carrying a free-form instruction, used for
// the carrier bridge's synthetic opener seeding (§4.10).
func NewSystem(id, sessionID, content string) Signal {
	return Signal{
		ID:        id,
		Timestamp: time.Now().UTC(),
		SessionID: sessionID,
		Kind:      System,
		Content:   content,
	}
}

// TranscriptionText returns the best-effort textual content of a signal: the
// Content field for Text/System signals, or the "transcript" metadata key
// for an Audio signal that has already been transcribed upstream. Returns
// ("", false) when no text is available yet.
func (s Signal) TranscriptionText() (string, bool) {
	switch s.Kind {
	case Text, System:
		return s.Content, s.Content != ""
	case Audio:
		if v, ok := s.Metadata["transcript"].(string); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

// ResponseKind discriminates the Response variants.
type ResponseKind int

const (
	// RAudio carries synthesised speech bytes.
	RAudio ResponseKind = iota
	// RText carries a text reply.
	RText
	// RToolCall carries one or more tool invocations requested by the agent's LLM.
	RToolCall
	// RRouting carries a RoutingDecision produced by the receptionist agent.
	RRouting
	// RError carries a user-visible error utterance.
	RError
)

// RoutingDecision is the payload of a Routing response.
type RoutingDecision struct {
	ThoughtProcess   string
	RouteTo          string
	HandoverContext  string
	Priority         int
}

// Response is the tagged-variant output of an agent's ProcessSignal or
// HandleToolResult.
type Response struct {
	Kind      ResponseKind
	SessionID string
	AgentName string
	Metadata  map[string]any

	RequiresToolExecution bool
	IsFinal               bool

	// RAudio payload.
	AudioData []byte

	// RText / RError payload.
	Text string

	// RToolCall payload.
	ToolCalls []types.ToolCall

	// RRouting payload.
	Routing RoutingDecision
}

// AudioResponse builds an audio Response.
func AudioResponse(sessionID, agent string, data []byte, isFinal bool) Response {
	return Response{Kind: RAudio, SessionID: sessionID, AgentName: agent, AudioData: data, IsFinal: isFinal}
}

// TextResponse builds a text Response.
func TextResponse(sessionID, agent, text string, isFinal bool) Response {
	return Response{Kind: RText, SessionID: sessionID, AgentName: agent, Text: text, IsFinal: isFinal}
}

// ToolResponse builds a tool-call Response.
func ToolResponse(sessionID, agent string, calls []types.ToolCall) Response {
	return Response{Kind: RToolCall, SessionID: sessionID, AgentName: agent, ToolCalls: calls, RequiresToolExecution: true}
}

// RoutingResponse builds a routing Response.
func RoutingResponse(sessionID, agent string, decision RoutingDecision) Response {
	return Response{Kind: RRouting, SessionID: sessionID, AgentName: agent, Routing: decision, IsFinal: true}
}

// ErrorResponse builds a user-visible error Response.
func ErrorResponse(sessionID, agent, text string) Response {
	return Response{Kind: RError, SessionID: sessionID, AgentName: agent, Text: text, IsFinal: true}
}
