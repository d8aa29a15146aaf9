// Package carrier implements the telephony (Twilio-style) IOHandler variant
// (§4.8, §6): JSON events keyed by event ∈ {connected, start, media, stop,
// mark, clear} over a WebSocket, inbound/outbound media payloads as
// base64 G.711 μ-law at 8 kHz.
//
// Grounded on original_source/src/framework/core/io_handler.py's
// TwilioMediaStreamHandler for the event shapes and
// original_source/src/server/twilio_handler.py for the start-event wait,
// μ-law/PCM conversion (8kHz<->16kHz inbound, 24kHz<->8kHz outbound), and
// stream_sid caching this package performs internally so internal/bridge can
// treat it as a plain IOHandler.
package carrier

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/corevox/corevox/internal/audio"
	"github.com/corevox/corevox/internal/iohandler"
	"github.com/corevox/corevox/internal/signal"
)

var _ iohandler.IOHandler = (*Handler)(nil)

// Wire sample rates, per §6.
const (
	carrierSampleRate = 8000
	InboundLLMRate    = 16000
	OutboundLLMRate   = 24000
)

// wireEvent is the envelope shared by every carrier event, inbound and
// outbound.
type wireEvent struct {
	Event     string       `json:"event"`
	StreamSID string       `json:"streamSid,omitempty"`
	Start     *startEvent  `json:"start,omitempty"`
	Media     *mediaEvent  `json:"media,omitempty"`
	Mark      *markEvent   `json:"mark,omitempty"`
}

type startEvent struct {
	StreamSID       string            `json:"streamSid"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

type mediaEvent struct {
	Payload   string `json:"payload"`
	Timestamp string `json:"timestamp,omitempty"`
}

type markEvent struct {
	Name string `json:"name"`
}

// Handler adapts an accepted carrier WebSocket connection to the IOHandler
// contract, performing μ-law<->PCM conversion and resampling transparently.
type Handler struct {
	iohandler.FillerController

	sessionID      string
	conn           *websocket.Conn
	fallbackCaller string
	log            *slog.Logger

	inbound  *audio.Resampler // 8kHz carrier -> 16kHz LLM
	outbound *audio.Resampler // 24kHz LLM -> 8kHz carrier

	mu        sync.Mutex
	streamSID string
	callerID  string
	readErr   error

	started   chan struct{}
	startOnce sync.Once
	closeOnce sync.Once

	inputOnce sync.Once
	inputCh   chan signal.Signal
}

// Retry budget for unexpected carrier WS read errors (SPEC_FULL.md Open
// Question resolution #1): a normal/going-away close ends the call cleanly,
// but anything else — a transient network blip, a mid-stream reset — gets a
// few chances before the bridge tears the call down.
const (
	readRetryAttempts = 3
	readRetryDelay    = 250 * time.Millisecond
)

// New wraps an already-accepted carrier WebSocket connection. fallbackCaller
// is the query-string caller id to use if the start event's custom
// parameters don't carry one.
func New(sessionID string, conn *websocket.Conn, fallbackCaller string, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	h := &Handler{
		sessionID:      sessionID,
		conn:           conn,
		fallbackCaller: fallbackCaller,
		log:            log.With("session_id", sessionID, "handler_type", "carrier"),
		inbound:        audio.NewResampler(carrierSampleRate, InboundLLMRate),
		outbound:       audio.NewResampler(OutboundLLMRate, carrierSampleRate),
		started:        make(chan struct{}),
	}
	h.FillerController.Emit = h.emitFiller
	return h
}

// emitFiller is a no-op by default: per §4.8, a carrier filler request does
// not itself synthesize audio, it is a marker the bridge pump translates
// into LLM-synthesized speech. internal/bridge overrides Emit with a hook
// that forwards the phrase into the live session as a text turn.
func (h *Handler) emitFiller(_ context.Context, phrase string) error {
	h.log.Info("filler_requested", "phrase", phrase)
	return nil
}

// SetFillerEmit lets the bridge supply the hook that actually speaks a
// filler phrase through the live LLM session, since this IOHandler has no
// session of its own.
func (h *Handler) SetFillerEmit(emit iohandler.EmitFunc) { h.FillerController.Emit = emit }

// AwaitStart blocks until the start event has been observed by StreamInput's
// read loop (or ctx is done) and returns the resolved caller id: custom
// parameters override the fallback, per §4.10 step 2. StreamInput must
// already be running (its goroutine performs the actual read).
func (h *Handler) AwaitStart(ctx context.Context) (string, error) {
	select {
	case <-h.started:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.callerID, nil
	case <-ctx.Done():
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.callerID == "" {
			h.callerID = h.fallbackCaller
		}
		return h.callerID, ctx.Err()
	}
}

// StreamSID returns the cached Twilio-style stream id, populated once the
// start event has been observed.
func (h *Handler) StreamSID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.streamSID
}

// StreamInput runs the single read loop for the lifetime of the connection:
// it resolves the start event (signalling AwaitStart), then decodes "media"
// events into 16kHz linear PCM Audio signals until "stop" or a read error.
//
// The bridge needs the stream running before AwaitStart returns, and before
// it ever hands this Handler to orchestrator.Run (which calls StreamInput
// itself to obtain the channel it drains) — so the read loop is started at
// most once per Handler, by whichever caller invokes StreamInput first, and
// every call after that returns the same channel.
func (h *Handler) StreamInput(ctx context.Context) <-chan signal.Signal {
	h.inputOnce.Do(func() {
		h.inputCh = make(chan signal.Signal)
		go h.readLoop(ctx, h.inputCh)
	})
	return h.inputCh
}

func (h *Handler) readLoop(ctx context.Context, out chan<- signal.Signal) {
	defer close(out)
	for {
		data, err := h.readWithRetry(ctx)
		if err != nil {
			if err != errNormalClosure {
				h.mu.Lock()
				h.readErr = err
				h.mu.Unlock()
				h.log.Warn("carrier_receive_error", "err", err)
			} else {
				h.log.Debug("carrier_receive_closed")
			}
			return
		}

		var evt wireEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			h.log.Debug("carrier_decode_error", "err", err)
			continue
		}

		switch evt.Event {
		case "connected":
			h.log.Info("carrier_stream_connected")

		case "start":
			h.handleStart(evt.Start)

		case "media":
			sig, ok := h.decodeMedia(evt.Media)
			if !ok {
				continue
			}
			select {
			case out <- sig:
			case <-ctx.Done():
				return
			}

		case "stop":
			h.log.Info("carrier_stream_stopped")
			return
		}
	}
}

// errNormalClosure marks a clean end of stream (close code 1000/1001), which
// readWithRetry never retries and readLoop never records as Err().
var errNormalClosure = errors.New("carrier: normal closure")

// readWithRetry reads one frame, retrying up to readRetryAttempts times with
// readRetryDelay between attempts on anything other than a normal/going-away
// close or ctx cancellation. Exhausting the budget returns the last error.
func (h *Handler) readWithRetry(ctx context.Context) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= readRetryAttempts; attempt++ {
		_, data, err := h.conn.Read(ctx)
		if err == nil {
			return data, nil
		}

		switch status := websocket.CloseStatus(err); status {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			return nil, errNormalClosure
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		if attempt < readRetryAttempts {
			h.log.Debug("carrier_read_retry", "attempt", attempt+1, "err", err)
			select {
			case <-time.After(readRetryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}

// Err returns the terminal error that ended the read loop, or nil if the
// call ended cleanly (normal closure, a "stop" event, or ctx cancellation).
// The bridge checks this after orchestrator.Run returns to distinguish a
// clean hangup from an exhausted retry budget.
func (h *Handler) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.readErr
}

func (h *Handler) handleStart(start *startEvent) {
	if start == nil {
		return
	}
	h.mu.Lock()
	h.streamSID = start.StreamSID
	caller := h.fallbackCaller
	if c, ok := start.CustomParameters["caller"]; ok && c != "" {
		caller = c
	}
	h.callerID = caller
	h.mu.Unlock()

	h.startOnce.Do(func() { close(h.started) })
	h.log.Info("carrier_stream_started", "stream_sid", start.StreamSID, "caller", caller)
}

func (h *Handler) decodeMedia(m *mediaEvent) (signal.Signal, bool) {
	if m == nil {
		return signal.Signal{}, false
	}
	raw, err := base64.StdEncoding.DecodeString(m.Payload)
	if err != nil {
		h.log.Debug("carrier_media_decode_error", "err", err)
		return signal.Signal{}, false
	}
	pcm8k := audio.DecodeMulaw(raw)
	pcm16k := h.inbound.Resample(pcm8k)
	if len(pcm16k) == 0 {
		return signal.Signal{}, false
	}
	sig := signal.NewAudio(uuid.NewString(), h.sessionID, pcm16k, InboundLLMRate, 1, signal.Linear16)
	return sig, true
}

// SendResponse converts a Response's audio payload from 24kHz linear PCM to
// 8kHz μ-law and writes it as a media event with the cached stream SID. Text
// and routing responses have no carrier-native rendering and are dropped
// (the bridge is responsible for turning them into spoken audio upstream).
func (h *Handler) SendResponse(ctx context.Context, resp signal.Response) error {
	if resp.Kind != signal.RAudio || len(resp.AudioData) == 0 {
		return nil
	}
	streamSID := h.StreamSID()
	if streamSID == "" {
		return nil
	}

	pcm8k := h.outbound.Resample(resp.AudioData)
	if len(pcm8k) == 0 {
		return nil
	}
	mulaw := audio.EncodeMulaw(pcm8k)

	evt := wireEvent{
		Event:     "media",
		StreamSID: streamSID,
		Media:     &mediaEvent{Payload: base64.StdEncoding.EncodeToString(mulaw)},
	}
	return h.writeJSON(ctx, evt)
}

// SendMark writes a mark event for output synchronization.
func (h *Handler) SendMark(ctx context.Context, name string) error {
	streamSID := h.StreamSID()
	if streamSID == "" {
		return nil
	}
	return h.writeJSON(ctx, wireEvent{Event: "mark", StreamSID: streamSID, Mark: &markEvent{Name: name}})
}

// ClearAudio writes a clear event, aborting pending carrier-side playback
// (used on intervention, §4.9).
func (h *Handler) ClearAudio(ctx context.Context) error {
	streamSID := h.StreamSID()
	if streamSID == "" {
		return nil
	}
	return h.writeJSON(ctx, wireEvent{Event: "clear", StreamSID: streamSID})
}

// ResetResamplers drops carried resampler state. Called by the bridge on
// every agent swap or reconnect (§9 SUPPLEMENTED FEATURES): resample state
// must persist across an entire live-session's outbound stream but never
// leak into the next one.
func (h *Handler) ResetResamplers() {
	h.inbound.Reset()
	h.outbound.Reset()
}

func (h *Handler) writeJSON(ctx context.Context, v wireEvent) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("carrier: marshal: %w", err)
	}
	if err := h.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("carrier: write: %w", err)
	}
	return nil
}

// SendFiller plays a filler through the shared controller; the bridge
// decides whether that means a real spoken phrase (via SetFillerEmit) or
// just a log line.
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
		err = h.conn.Close(websocket.StatusNormalClosure, "call ended")
	})
	return err
}
