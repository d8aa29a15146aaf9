// Package sessionctx implements the hierarchical, mutable-but-owned context
// for one call: GlobalContext, SessionContext, UserContext, Scratchpad, and
// the HandoffData envelope exchanged between agents on a warm handoff.
//
// Ownership follows §5's shared-resource policy: the orchestrator owns
// GlobalContext exclusively. Agents receive it by reference and may mutate
// only the scratchpad and append conversation turns; active_agent and user
// are mutated solely through the orchestrator-facing methods on
// SessionContext and GlobalContext.
package sessionctx

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Platform identifies the transport a session was opened over.
type Platform int

const (
	PlatformTelephony Platform = iota
	PlatformWeb
	PlatformCLI
	PlatformTest
)

func (p Platform) String() string {
	switch p {
	case PlatformTelephony:
		return "telephony"
	case PlatformWeb:
		return "web"
	case PlatformCLI:
		return "cli"
	case PlatformTest:
		return "test"
	default:
		return "unknown"
	}
}

// VoicePreferences carries the caller's synthesis preferences, defaulted per
// the original implementation.
type VoicePreferences struct {
	VoiceName    string
	SpeakingRate float64
	Pitch        float64
	Language     string
}

// DefaultVoicePreferences returns the system default voice preferences.
func DefaultVoicePreferences() VoicePreferences {
	return VoicePreferences{VoiceName: "Kore", SpeakingRate: 1.0, Pitch: 0.0, Language: "en-US"}
}

// UserContext describes the caller. The zero-ish Anonymous value is the
// default for every session until the identity agent authenticates a caller.
type UserContext struct {
	UserID           string
	PhoneNumber      string
	FullName         string
	IsAuthenticated  bool
	VoicePreferences VoicePreferences
	Metadata         map[string]any
}

// Anonymous returns the default, unauthenticated UserContext.
func Anonymous() UserContext {
	return UserContext{
		IsAuthenticated:  false,
		VoicePreferences: DefaultVoicePreferences(),
		Metadata:         map[string]any{},
	}
}

// Scratchpad is a mutable key/value map agents use for multi-turn slot
// filling, with bookkeeping timestamps.
type Scratchpad struct {
	mu        sync.Mutex
	values    map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewScratchpad returns an empty, timestamped Scratchpad.
func NewScratchpad() *Scratchpad {
	now := time.Now().UTC()
	return &Scratchpad{values: map[string]any{}, CreatedAt: now, UpdatedAt: now}
}

// Set stores a value and bumps UpdatedAt.
func (s *Scratchpad) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	s.UpdatedAt = time.Now().UTC()
}

// Get returns a stored value.
func (s *Scratchpad) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// Delete removes a stored value.
func (s *Scratchpad) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	s.UpdatedAt = time.Now().UTC()
}

// TurnRole identifies the speaker of a ConversationTurn.
type TurnRole int

const (
	RoleUser TurnRole = iota
	RoleAssistant
	RoleSystem
)

func (r TurnRole) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleAssistant:
		return "assistant"
	case RoleSystem:
		return "system"
	default:
		return "unknown"
	}
}

// ConversationTurn is one append-only entry in a session's history.
type ConversationTurn struct {
	TurnID    string
	Timestamp time.Time
	Role      TurnRole
	Content   string
	AgentName string
	Metadata  map[string]any
}

// HandoffData is the envelope produced at hand-off time and consumed exactly
// once by the next agent's on_enter.
type HandoffData struct {
	SourceAgent        string
	TargetAgent        string
	LastUserTurn       string
	UserIntent         string
	UserName           string
	GreetingCompleted  bool
	ScratchpadSnapshot map[string]any
	Reason             string
	Timestamp          time.Time
}

// ToContextInjection renders the bit-stable [HANDOFF CONTEXT] block described
// in §4.1. Absent fields are omitted; an entirely empty handoff renders to
// the empty string.
func (h *HandoffData) ToContextInjection() string {
	if h == nil {
		return ""
	}
	var lines []string
	if h.UserName != "" {
		lines = append(lines, "User Name: "+h.UserName)
	}
	if h.UserIntent != "" {
		lines = append(lines, "Previous Intent: "+h.UserIntent)
	}
	if h.LastUserTurn != "" {
		lines = append(lines, fmt.Sprintf("Last User Message: %q", h.LastUserTurn))
	}
	if h.GreetingCompleted {
		lines = append(lines, "Note: Greeting already completed. Do NOT re-greet the user.")
	}
	if h.Reason != "" {
		lines = append(lines, "Handoff Reason: "+h.Reason)
	}
	if len(lines) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("[HANDOFF CONTEXT]\n")
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	b.WriteString("[END CONTEXT]")
	return b.String()
}

// SessionContext is the per-call mutable state owned by the orchestrator.
type SessionContext struct {
	mu sync.Mutex

	SessionID         string
	CreatedAt         time.Time
	LastActivity      time.Time
	Platform          Platform
	ActiveAgent       string
	PreviousAgent     string
	history           []ConversationTurn
	Scratchpad        *Scratchpad
	Metadata          map[string]any
	handoffData       *HandoffData
	GreetingCompleted bool
}

// NewSessionContext creates a fresh session with no active agent.
func NewSessionContext(sessionID string, platform Platform) *SessionContext {
	now := time.Now().UTC()
	return &SessionContext{
		SessionID:    sessionID,
		CreatedAt:    now,
		LastActivity: now,
		Platform:     platform,
		Scratchpad:   NewScratchpad(),
		Metadata:     map[string]any{},
	}
}

// AddTurn appends a turn to history and bumps LastActivity. History is
// append-only per §3's invariant; timestamps are monotonic non-decreasing
// because AddTurn always stamps "now".
func (s *SessionContext) AddTurn(role TurnRole, content, agentName string) ConversationTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := ConversationTurn{
		TurnID:    uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Role:      role,
		Content:   content,
		AgentName: agentName,
	}
	s.history = append(s.history, t)
	s.LastActivity = t.Timestamp
	return t
}

// GetRecentHistory returns up to limit most recent turns, oldest first.
func (s *SessionContext) GetRecentHistory(limit int) []ConversationTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	out := make([]ConversationTurn, limit)
	copy(out, s.history[len(s.history)-limit:])
	return out
}

// GetLastUserTurn returns the most recent user-role turn's content, if any.
func (s *SessionContext) GetLastUserTurn() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].Role == RoleUser {
			return s.history[i].Content, true
		}
	}
	return "", false
}

// SwitchAgent records the previous/active agent pair and bumps LastActivity.
// It does not run any lifecycle hooks — the orchestrator calls on_exit/
// on_enter itself and only then calls SwitchAgent to stamp the session.
func (s *SessionContext) SwitchAgent(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PreviousAgent = s.ActiveAgent
	s.ActiveAgent = name
	s.LastActivity = time.Now().UTC()
}

// PrepareHandoff builds and stores the single in-flight HandoffData slot.
// It is the sole authoritative home for a pending handoff (Open Question
// resolution #2 in SPEC_FULL.md) — nothing else on the orchestrator
// duplicates it.
func (s *SessionContext) PrepareHandoff(target, reason string, user UserContext) *HandoffData {
	s.mu.Lock()
	defer s.mu.Unlock()
	var lastUser string
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].Role == RoleUser {
			lastUser = s.history[i].Content
			break
		}
	}
	h := &HandoffData{
		SourceAgent:        s.ActiveAgent,
		TargetAgent:        target,
		LastUserTurn:       lastUser,
		UserIntent:         lastUser,
		GreetingCompleted:  s.GreetingCompleted,
		ScratchpadSnapshot: s.Scratchpad.snapshot(),
		Reason:             reason,
		Timestamp:          time.Now().UTC(),
	}
	if user.IsAuthenticated {
		h.UserName = user.FullName
	}
	s.handoffData = h
	return h
}

// snapshot copies the scratchpad's current values without exposing the
// underlying map to mutation from outside the lock.
func (s *Scratchpad) snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// ConsumeHandoff returns and clears the pending handoff, if any. Per the
// handoff single-consumption invariant (§8), this must be called at most
// once between two PrepareHandoff calls — callers (agent on_enter) are
// expected to call it exactly once per switch.
func (s *SessionContext) ConsumeHandoff() *HandoffData {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.handoffData
	s.handoffData = nil
	return h
}

// PendingHandoff peeks at the in-flight handoff without consuming it.
func (s *SessionContext) PendingHandoff() *HandoffData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handoffData
}

// MarkGreetingCompleted latches GreetingCompleted to true. It is monotonic:
// calling it again, or calling it when already true, is a no-op — the latch
// never goes back to false (§3, §8).
func (s *SessionContext) MarkGreetingCompleted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.GreetingCompleted = true
}

// GlobalContext is the per-call root owned exclusively by the orchestrator.
// Agents receive it by reference for read and for the scoped mutations
// documented on SessionContext (history, scratchpad, handoff) — they must
// not set ActiveAgent or User directly; those are mutated only through
// SessionContext.SwitchAgent and GlobalContext.SetUser.
type GlobalContext struct {
	AppName         string
	Version         string
	Environment     string
	Session         *SessionContext
	User            UserContext
	AvailableAgents []string
	Metadata        map[string]any
}

// NewGlobalContext builds a GlobalContext for a fresh session with an
// anonymous user.
func NewGlobalContext(appName, version, environment string, session *SessionContext, availableAgents []string) *GlobalContext {
	return &GlobalContext{
		AppName:         appName,
		Version:         version,
		Environment:     environment,
		Session:         session,
		User:            Anonymous(),
		AvailableAgents: availableAgents,
		Metadata:        map[string]any{},
	}
}

// SetUser installs an authenticated (or updated) UserContext. If a handoff is
// already pending, its UserName is back-filled so the target agent's prompt
// reflects the newly known name even though PrepareHandoff ran before
// authentication completed.
func (g *GlobalContext) SetUser(user UserContext) {
	g.User = user
	if h := g.Session.PendingHandoff(); h != nil && user.IsAuthenticated {
		h.UserName = user.FullName
	}
}

// ToTemplateVars exports the variable set used by agent prompt rendering
// (§4.1): user_name, current_time, platform_source, session_id,
// is_authenticated, greeting_completed.
func (g *GlobalContext) ToTemplateVars() map[string]string {
	name := g.User.FullName
	if !g.User.IsAuthenticated || name == "" {
		name = "Guest"
	}
	return map[string]string{
		"user_name":          name,
		"current_time":       time.Now().UTC().Format(time.RFC3339),
		"platform_source":    g.Session.Platform.String(),
		"session_id":         g.Session.SessionID,
		"is_authenticated":   fmt.Sprintf("%t", g.User.IsAuthenticated),
		"greeting_completed": fmt.Sprintf("%t", g.Session.GreetingCompleted),
	}
}
