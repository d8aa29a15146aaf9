// Package cli implements the interactive stdin/stdout IOHandler variant
// (§4.8), used by cmd/corevox-cli for manual testing without a telephony
// carrier.
//
// Grounded on original_source/src/framework/core/io_handler.py's CLIHandler:
// reads lines from stdin, emits Text signals, prints responses; "exit",
// "quit", and "bye" end the session.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/corevox/corevox/internal/iohandler"
	"github.com/corevox/corevox/internal/signal"
)

var _ iohandler.IOHandler = (*Handler)(nil)

// exitWords end the CLI session when typed as a whole line, case-insensitive.
var exitWords = map[string]bool{"exit": true, "quit": true, "bye": true}

// Handler is the CLI IOHandler: reads lines via readLine, writes responses
// via write. Both are caller-supplied so tests can drive the handler without
// a real terminal.
type Handler struct {
	iohandler.FillerController

	sessionID string
	readLine  func() (string, bool)
	write     func(string)
	log       *slog.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// New builds a CLI handler. readLine should block for the next line of input
// and return (line, false) at EOF; write prints one output line.
func New(sessionID string, readLine func() (string, bool), write func(string), log *slog.Logger) *Handler {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	h := &Handler{
		sessionID: sessionID,
		readLine:  readLine,
		write:     write,
		log:       log.With("session_id", sessionID, "handler_type", "cli"),
		closed:    make(chan struct{}),
	}
	h.FillerController.Emit = h.emitFiller
	return h
}

func (h *Handler) emitFiller(_ context.Context, phrase string) error {
	h.write(fmt.Sprintf("\n[system]: %s", phrase))
	return nil
}

// StreamInput reads lines until EOF or an exit word; the channel closes in
// either case.
func (h *Handler) StreamInput(ctx context.Context) <-chan signal.Signal {
	out := make(chan signal.Signal)
	go func() {
		defer close(out)
		for {
			line, ok := h.readLine()
			if !ok {
				return
			}
			line = strings.TrimSpace(line)
			if exitWords[strings.ToLower(line)] {
				return
			}
			if line == "" {
				continue
			}
			sig := signal.NewText(uuid.NewString(), h.sessionID, line)
			select {
			case out <- sig:
			case <-ctx.Done():
				return
			case <-h.closed:
				return
			}
		}
	}()
	return out
}

// SendResponse prints a response line for text/audio/routing payloads,
// matching the original's stream_output branches.
func (h *Handler) SendResponse(_ context.Context, resp signal.Response) error {
	switch resp.Kind {
	case signal.RText, signal.RError:
		h.write(fmt.Sprintf("\n[%s]: %s", resp.AgentName, resp.Text))
	case signal.RAudio:
		h.write(fmt.Sprintf("\n[%s]: [Audio Response - %d bytes]", resp.AgentName, len(resp.AudioData)))
	case signal.RRouting:
		h.log.Debug("routing_decision", "route_to", resp.Routing.RouteTo)
	}
	return nil
}

// SendFiller plays a filler line through the shared controller.
func (h *Handler) SendFiller(ctx context.Context, ft iohandler.FillerType) error {
	return h.FillerController.Send(ctx, ft)
}

// CancelFiller cancels any in-flight filler.
func (h *Handler) CancelFiller() { h.FillerController.Cancel() }

// IsFillerCancelled reports the current filler's cancellation state.
func (h *Handler) IsFillerCancelled() bool { return h.FillerController.Cancelled() }

// Close ends the session, printing the original's closing line.
func (h *Handler) Close() error {
	h.closeOnce.Do(func() {
		close(h.closed)
		h.write("\n[system]: Session ended.")
	})
	return nil
}
