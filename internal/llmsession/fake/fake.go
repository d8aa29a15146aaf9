// Package fake provides an in-memory llmsession.Provider/Session used by
// tests in place of a live model connection, following the shape of the
// teacher's pkg/provider/s2s/mock package.
package fake

import (
	"context"
	"sync"

	"github.com/corevox/corevox/internal/llmsession"
)

// Provider always returns sessions whose behavior is driven by test code
// through the returned *Session's exported fields and Emit method.
type Provider struct {
	mu       sync.Mutex
	Sessions []*Session
}

func (p *Provider) Open(_ context.Context, cfg llmsession.Config) (llmsession.Session, error) {
	s := &Session{
		cfg:       cfg,
		responses: make(chan llmsession.Response, 16),
	}
	p.mu.Lock()
	p.Sessions = append(p.Sessions, s)
	p.mu.Unlock()
	return s, nil
}

// Session is a controllable fake live session.
type Session struct {
	mu   sync.Mutex
	cfg  llmsession.Config
	closed bool
	err  error

	responses chan llmsession.Response

	SentAudio  [][]byte
	SentText   []string
	ToolResults map[string]any
	Instructions string
	Tools        []llmsession.ToolDefinition
}

func (s *Session) SendAudio(_ context.Context, pcm16 []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SentAudio = append(s.SentAudio, pcm16)
	return nil
}

func (s *Session) SendText(_ context.Context, text string, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SentText = append(s.SentText, text)
	return nil
}

func (s *Session) SendToolResponse(_ context.Context, callID string, result any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ToolResults == nil {
		s.ToolResults = map[string]any{}
	}
	s.ToolResults[callID] = result
	return nil
}

func (s *Session) InjectContext(_ context.Context, _ []llmsession.ContextItem) error { return nil }

func (s *Session) UpdateInstructions(_ context.Context, instructions string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Instructions = instructions
	return nil
}

func (s *Session) SetTools(_ context.Context, tools []llmsession.ToolDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Tools = tools
	return nil
}

func (s *Session) Interrupt(_ context.Context) error { return nil }

// Emit pushes a Response to the consumer side, as if the model produced it.
func (s *Session) Emit(r llmsession.Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.responses <- r
}

func (s *Session) Responses() <-chan llmsession.Response { return s.responses }

func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// CloseWithError closes the session as if the provider connection failed.
func (s *Session) CloseWithError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.responses)
}

func (s *Session) Close() error {
	s.CloseWithError(nil)
	return nil
}
