// Package browserws implements the browser WebSocket IOHandler variant
// (§4.8): JSON text frames carrying {"type":"text"|"audio", ...}, audio
// base64-encoded PCM.
//
// Grounded on original_source/src/framework/core/io_handler.py's
// WebSocketHandler and on the teacher's pkg/provider/s2s/openai session:
// same coder/websocket dial/accept idiom, same "receive loop owns the output
// channel, closes it on exit" shape.
package browserws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/corevox/corevox/internal/iohandler"
	"github.com/corevox/corevox/internal/signal"
)

var _ iohandler.IOHandler = (*Handler)(nil)

const defaultSampleRate = 16000

// inboundFrame is the JSON shape accepted on a text frame.
type inboundFrame struct {
	Type       string `json:"type"`
	Content    string `json:"content,omitempty"`
	Data       string `json:"data,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

// outboundFrame is the JSON shape written for a response or filler.
type outboundFrame struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Data    string `json:"data,omitempty"`
	Agent   string `json:"agent,omitempty"`
}

// Handler adapts an already-accepted *websocket.Conn to the IOHandler
// contract.
type Handler struct {
	iohandler.FillerController

	sessionID  string
	conn       *websocket.Conn
	sampleRate int
	log        *slog.Logger

	closeOnce sync.Once
}

// New wraps an accepted WebSocket connection. sampleRate is the default
// assumed for binary audio frames lacking an explicit rate.
func New(sessionID string, conn *websocket.Conn, sampleRate int, log *slog.Logger) *Handler {
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	h := &Handler{
		sessionID:  sessionID,
		conn:       conn,
		sampleRate: sampleRate,
		log:        log.With("session_id", sessionID, "handler_type", "browserws"),
	}
	h.FillerController.Emit = h.emitFiller
	return h
}

func (h *Handler) emitFiller(ctx context.Context, phrase string) error {
	return h.writeJSON(ctx, outboundFrame{Type: "text", Content: phrase, Agent: "system"})
}

// StreamInput reads frames until the connection closes or ctx is cancelled.
// A binary frame is treated as raw PCM at sampleRate; a text frame is parsed
// as JSON {"type":"audio"|"text", ...}, falling back to a plain text signal
// if it isn't valid JSON, matching the original's behavior.
func (h *Handler) StreamInput(ctx context.Context) <-chan signal.Signal {
	out := make(chan signal.Signal)
	go func() {
		defer close(out)
		for {
			kind, data, err := h.conn.Read(ctx)
			if err != nil {
				h.log.Debug("websocket_receive_error", "err", err)
				return
			}

			var sig signal.Signal
			switch kind {
			case websocket.MessageBinary:
				sig = signal.NewAudio(uuid.NewString(), h.sessionID, data, h.sampleRate, 1, signal.Linear16)
			case websocket.MessageText:
				var frame inboundFrame
				if jsonErr := json.Unmarshal(data, &frame); jsonErr != nil {
					sig = signal.NewText(uuid.NewString(), h.sessionID, string(data))
					break
				}
				switch frame.Type {
				case "audio":
					raw, decErr := base64.StdEncoding.DecodeString(frame.Data)
					if decErr != nil {
						h.log.Debug("websocket_audio_decode_error", "err", decErr)
						continue
					}
					rate := frame.SampleRate
					if rate <= 0 {
						rate = h.sampleRate
					}
					sig = signal.NewAudio(uuid.NewString(), h.sessionID, raw, rate, 1, signal.Linear16)
				case "text":
					sig = signal.NewText(uuid.NewString(), h.sessionID, frame.Content)
				default:
					continue
				}
			default:
				continue
			}

			select {
			case out <- sig:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// SendResponse writes a JSON frame carrying audio (base64) or text.
func (h *Handler) SendResponse(ctx context.Context, resp signal.Response) error {
	switch resp.Kind {
	case signal.RAudio:
		return h.writeJSON(ctx, outboundFrame{
			Type:  "audio",
			Data:  base64.StdEncoding.EncodeToString(resp.AudioData),
			Agent: resp.AgentName,
		})
	case signal.RText, signal.RError:
		return h.writeJSON(ctx, outboundFrame{Type: "text", Content: resp.Text, Agent: resp.AgentName})
	default:
		return nil
	}
}

func (h *Handler) writeJSON(ctx context.Context, v outboundFrame) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("browserws: marshal: %w", err)
	}
	if err := h.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("browserws: write: %w", err)
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

// Close closes the underlying connection with a normal closure status.
func (h *Handler) Close() error {
	var err error
	h.closeOnce.Do(func() {
		err = h.conn.Close(websocket.StatusNormalClosure, "session ended")
	})
	return err
}
