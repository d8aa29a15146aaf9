// Package openairt implements llmsession.Provider/Session against OpenAI's
// Realtime API, adapted from the teacher's pkg/provider/s2s/openai package:
// a bidirectional WebSocket connection exchanging JSON events, audio carried
// as base64 pcm16, tool calls surfaced through the unified Response stream
// rather than a separate callback.
package openairt

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/corevox/corevox/internal/llmsession"
)

var (
	_ llmsession.Provider = (*Provider)(nil)
	_ llmsession.Session  = (*session)(nil)
)

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"
)

// Option configures a Provider.
type Option func(*Provider)

// WithModel overrides the Realtime model name.
func WithModel(model string) Option { return func(p *Provider) { p.model = model } }

// WithBaseURL overrides the base WebSocket URL, primarily for pointing tests
// at a local mock server.
func WithBaseURL(url string) Option { return func(p *Provider) { p.baseURL = url } }

// Provider opens OpenAI Realtime sessions.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a Provider authenticated with apiKey.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{apiKey: apiKey, model: defaultModel, baseURL: defaultBaseURL}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Open establishes a new Realtime session and sends the initial
// session.update event before returning, matching the contract's promise
// that a Session is ready to accept audio immediately.
func (p *Provider) Open(ctx context.Context, cfg llmsession.Config) (llmsession.Session, error) {
	wsURL := fmt.Sprintf("%s?model=%s", p.baseURL, p.model)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + p.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openairt: dial: %w", err)
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	s := &session{
		conn:      conn,
		responses: make(chan llmsession.Response, 64),
		ctx:       sessCtx,
		cancel:    cancel,
	}
	if err := s.sendSessionUpdate(cfg.VoiceName, cfg.SystemPrompt, cfg.ToolSchema); err != nil {
		cancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("openairt: session update: %w", err)
	}

	go s.receiveLoop()
	return s, nil
}

// ── outgoing wire shapes ─────────────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Voice             string    `json:"voice,omitempty"`
	Instructions      string    `json:"instructions,omitempty"`
	Tools             []oaiTool `json:"tools,omitempty"`
	InputAudioFormat  string    `json:"input_audio_format"`
	OutputAudioFormat string    `json:"output_audio_format"`
}

type oaiTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type createItemMessage struct {
	Type string            `json:"type"`
	Item conversationItem  `json:"item"`
}

type conversationItem struct {
	Type    string             `json:"type"`
	Role    string             `json:"role,omitempty"`
	Content []conversationPart `json:"content,omitempty"`
	CallID  string             `json:"call_id,omitempty"`
	Output  string             `json:"output,omitempty"`
}

type conversationPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type sessionUpdateToolsMessage struct {
	Type    string               `json:"type"`
	Session sessionToolsUpdate   `json:"session"`
}

type sessionToolsUpdate struct {
	Tools        []oaiTool `json:"tools,omitempty"`
	Instructions string    `json:"instructions,omitempty"`
}

// ── incoming wire shapes ─────────────────────────────────────────────────

type serverEvent struct {
	Type       string             `json:"type"`
	Delta      string             `json:"delta,omitempty"`
	Transcript string             `json:"transcript,omitempty"`
	Name       string             `json:"name,omitempty"`
	Arguments  string             `json:"arguments,omitempty"`
	CallID     string             `json:"call_id,omitempty"`
	Error      *serverErrorDetail `json:"error,omitempty"`
}

type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ── session ────────────────────────────────────────────────────────────

type session struct {
	conn      *websocket.Conn
	responses chan llmsession.Response

	mu         sync.Mutex
	errVal     error
	closed     bool
	textBuffer string

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (s *session) sendSessionUpdate(voice, instructions string, tools []llmsession.ToolDefinition) error {
	params := sessionParams{InputAudioFormat: "pcm16", OutputAudioFormat: "pcm16"}
	if voice != "" {
		params.Voice = voice
	}
	if instructions != "" {
		params.Instructions = instructions
	}
	if len(tools) > 0 {
		params.Tools = toOAITools(tools)
	}
	return s.writeJSON(sessionUpdateMessage{Type: "session.update", Session: params})
}

func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openairt: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

func (s *session) receiveLoop() {
	defer s.closeChannel()
	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.setErr(err)
			return
		}
		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}
		s.handleServerEvent(&evt)
	}
}

func (s *session) handleServerEvent(evt *serverEvent) {
	switch evt.Type {
	case "response.audio.delta":
		if evt.Delta == "" {
			return
		}
		audio, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil || len(audio) == 0 {
			return
		}
		s.emit(llmsession.Response{AudioPCM: audio})

	case "response.audio_transcript.delta":
		if evt.Delta == "" {
			return
		}
		s.mu.Lock()
		s.textBuffer += evt.Delta
		s.mu.Unlock()

	case "response.audio_transcript.done", "response.done":
		s.mu.Lock()
		text := s.textBuffer
		s.textBuffer = ""
		s.mu.Unlock()
		if text != "" {
			s.emit(llmsession.Response{Text: text})
		}
		s.emit(llmsession.Response{EndOfTurn: true})

	case "response.function_call_arguments.done":
		var args map[string]any
		_ = json.Unmarshal([]byte(evt.Arguments), &args)
		s.emit(llmsession.Response{ToolCalls: []llmsession.ResponseToolCall{{
			CallID:    evt.CallID,
			Name:      evt.Name,
			Arguments: args,
		}}})

	case "error":
		msg := "unknown error"
		if evt.Error != nil && evt.Error.Message != "" {
			msg = evt.Error.Message
		}
		s.setErr(fmt.Errorf("openairt: %s", msg))
	}
}

func (s *session) emit(r llmsession.Response) {
	select {
	case s.responses <- r:
	case <-s.ctx.Done():
	}
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	if s.errVal == nil {
		s.errVal = err
	}
	s.mu.Unlock()
	s.cancel()
}

func (s *session) closeChannel() {
	s.closeOnce.Do(func() { close(s.responses) })
}

func toOAITools(tools []llmsession.ToolDefinition) []oaiTool {
	out := make([]oaiTool, len(tools))
	for i, t := range tools {
		out[i] = oaiTool{Type: "function", Name: t.Name, Description: t.Description, Parameters: t.Parameters}
	}
	return out
}

// ── llmsession.Session ────────────────────────────────────────────────────

func (s *session) SendAudio(ctx context.Context, pcm16 []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return fmt.Errorf("openairt: session closed")
	}
	return s.writeJSON(appendAudioMessage{Type: "input_audio_buffer.append", Audio: base64.StdEncoding.EncodeToString(pcm16)})
}

func (s *session) SendText(ctx context.Context, text string, endOfTurn bool) error {
	if err := s.writeJSON(createItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{Type: "message", Role: "user", Content: []conversationPart{{Type: "input_text", Text: text}}},
	}); err != nil {
		return err
	}
	if endOfTurn {
		return s.writeJSON(map[string]string{"type": "response.create"})
	}
	return nil
}

func (s *session) SendToolResponse(ctx context.Context, callID string, result any) error {
	payload, err := json.Marshal(result)
	if err != nil {
		payload = []byte(fmt.Sprintf(`{"error":%q}`, err.Error()))
	}
	if err := s.writeJSON(createItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{Type: "function_call_output", CallID: callID, Output: string(payload)},
	}); err != nil {
		return err
	}
	return s.writeJSON(map[string]string{"type": "response.create"})
}

func (s *session) InjectContext(ctx context.Context, items []llmsession.ContextItem) error {
	for _, item := range items {
		if err := s.writeJSON(createItemMessage{
			Type: "conversation.item.create",
			Item: conversationItem{Type: "message", Role: item.Role, Content: []conversationPart{{Type: "input_text", Text: item.Content}}},
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) UpdateInstructions(ctx context.Context, instructions string) error {
	return s.writeJSON(sessionUpdateToolsMessage{Type: "session.update", Session: sessionToolsUpdate{Instructions: instructions}})
}

func (s *session) SetTools(ctx context.Context, tools []llmsession.ToolDefinition) error {
	return s.writeJSON(sessionUpdateToolsMessage{Type: "session.update", Session: sessionToolsUpdate{Tools: toOAITools(tools)}})
}

func (s *session) Interrupt(ctx context.Context) error {
	return s.writeJSON(map[string]string{"type": "response.cancel"})
}

func (s *session) Responses() <-chan llmsession.Response { return s.responses }

func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	return s.conn.Close(websocket.StatusNormalClosure, "")
}
