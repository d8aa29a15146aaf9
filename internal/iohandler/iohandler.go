// Package iohandler defines the I/O Handler abstraction (§4.8): a uniform
// streaming in/out contract with filler injection and cancellation, shared
// by every concrete transport (CLI, browser WebSocket, telephony carrier).
//
// Grounded on original_source/src/framework/core/io_handler.go's IOHandler
// base class: stream_input/stream_output/close plus the send_filler/
// cancel_filler/is_filler_cancelled convenience trio. FillerController below
// generalizes the Python base class's asyncio.Task + asyncio.Event pair into
// a goroutine-safe helper concrete handlers embed.
package iohandler

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/corevox/corevox/internal/signal"
)

// FillerType enumerates the latency-masking filler categories (§4.8).
type FillerType int

const (
	FillerRouting FillerType = iota
	FillerToolExecution
	FillerThinking
	FillerCreating
	FillerSearching
)

func (f FillerType) String() string {
	switch f {
	case FillerRouting:
		return "ROUTING"
	case FillerToolExecution:
		return "TOOL_EXECUTION"
	case FillerCreating:
		return "CREATING"
	case FillerSearching:
		return "SEARCHING"
	default:
		return "THINKING"
	}
}

// fillerPhrases holds the exact canned phrase sets pulled from
// original_source's FILLER_PHRASES table (SPEC_FULL.md SUPPLEMENTED
// FEATURES).
var fillerPhrases = map[FillerType][]string{
	FillerRouting: {
		"One moment please.",
		"Just a moment.",
		"Let me connect you.",
	},
	FillerToolExecution: {
		"Let me check on that.",
		"One second while I look that up.",
		"Checking now.",
	},
	FillerThinking: {
		"Let me think about that.",
		"Hmm, good question.",
	},
	FillerCreating: {
		"Let me add that for you.",
		"Creating that now.",
		"Adding that to your list.",
	},
	FillerSearching: {
		"Looking that up for you.",
		"Searching now.",
		"Let me find that.",
	},
}

// PhraseFor returns a random canned phrase for ft, falling back to the
// THINKING set for an unrecognized value, matching the original's
// dict.get(filler_type, FILLER_PHRASES[THINKING]) default.
func PhraseFor(ft FillerType) string {
	phrases, ok := fillerPhrases[ft]
	if !ok {
		phrases = fillerPhrases[FillerThinking]
	}
	return phrases[rand.IntN(len(phrases))]
}

// PickFillerType chooses the filler category for a slow tool invocation by
// name, per original_source's Orchestrator._get_filler_type_for_tool:
// create/add -> CREATING, search/get/list -> SEARCHING, else TOOL_EXECUTION.
func PickFillerType(toolName string) FillerType {
	lower := strings.ToLower(toolName)
	switch {
	case strings.Contains(lower, "create") || strings.Contains(lower, "add"):
		return FillerCreating
	case strings.Contains(lower, "search") || strings.Contains(lower, "get") || strings.Contains(lower, "list"):
		return FillerSearching
	default:
		return FillerToolExecution
	}
}

// IOHandler is the capability set every concrete transport implements
// (§4.8): streaming input/output, close, and the filler trio.
type IOHandler interface {
	// StreamInput returns the channel of inbound signals. The channel is
	// closed on EOF or an explicit Close; callers should then stop reading.
	StreamInput(ctx context.Context) <-chan signal.Signal

	// SendResponse emits a response to the user.
	SendResponse(ctx context.Context, resp signal.Response) error

	// Close releases the handler's resources. Idempotent.
	Close() error

	// SendFiller begins playing an interruptible filler of the given type.
	// Issuing a new filler cancels any prior one (§4.8).
	SendFiller(ctx context.Context, ft FillerType) error

	// CancelFiller cancels any in-flight filler. Idempotent.
	CancelFiller()

	// IsFillerCancelled reports whether the most recently scheduled filler
	// has been cancelled. It reports false while no filler has ever been
	// scheduled or cancelled.
	IsFillerCancelled() bool
}

// EmitFunc delivers one filler phrase to the user, however a concrete
// handler speaks or prints it.
type EmitFunc func(ctx context.Context, phrase string) error

// FillerController implements the send_filler/cancel_filler/
// is_filler_cancelled trio as an embeddable helper. A concrete handler
// supplies Emit (print a line, send a JSON frame, forward to the bridge for
// TTS) and embeds FillerController to get the idempotent
// schedule-cancels-prior behavior for free.
//
// Every filler is tracked by a monotonically increasing generation number
// instead of the Python base class's asyncio.Task handle: Cancel bumps the
// generation so any in-flight Emit call that completes afterward is a no-op
// from the controller's point of view, which is the Go-idiomatic analogue of
// cancelling and awaiting the task.
type FillerController struct {
	Emit EmitFunc

	mu         sync.Mutex
	generation uint64
	cancelled  bool
}

// Send cancels any prior filler, then emits a phrase for ft. The phrase
// selection and cancellation bookkeeping happen before Emit is invoked,
// matching the original's cancel-then-reset-then-send ordering.
func (f *FillerController) Send(ctx context.Context, ft FillerType) error {
	f.mu.Lock()
	f.generation++
	gen := f.generation
	f.cancelled = false
	f.mu.Unlock()

	if f.Emit == nil {
		return nil
	}
	phrase := PhraseFor(ft)

	err := f.Emit(ctx, phrase)

	f.mu.Lock()
	stillCurrent := gen == f.generation
	f.mu.Unlock()
	if !stillCurrent {
		// A newer filler (or a cancel) superseded this one while Emit ran;
		// the original's asyncio.CancelledError equivalent.
		return nil
	}
	return err
}

// Cancel marks the current filler generation cancelled. Idempotent.
func (f *FillerController) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generation++
	f.cancelled = true
}

// Cancelled reports whether the most recent filler was cancelled.
func (f *FillerController) Cancelled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}
