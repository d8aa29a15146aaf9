// Package observer implements the Intervention Observer: a background
// pass-through stage that watches every inbound Signal for hotwords or
// strongly negative sentiment, and watches call activity for inactivity,
// raising a corerr.PriorityIntervention on the call's error channel when one
// fires. The active agent keeps running until the orchestrator's event loop
// observes the intervention and reroutes or tears down the call.
//
// Python's version is an async generator wrapping the signal stream in
// place; Go has no generator coroutines, so this is expressed as a pipeline
// stage that reads from an input channel, forwards to an output channel, and
// reports interventions on a side channel — the same idiom the teacher uses
// for its engine pumps in internal/engine/s2s/engine.go.
package observer

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/corevox/corevox/internal/corerr"
	"github.com/corevox/corevox/internal/signal"
)

// defaultHotwords is the exact keyword table from the original implementation.
var defaultHotwords = []string{
	"stop",
	"cancel",
	"operator",
	"help",
	"emergency",
	"nevermind",
	"never mind",
}

var negativeWords = []string{
	"angry", "frustrated", "terrible", "awful", "hate",
	"worst", "horrible", "disgusting", "furious", "upset",
}

var positiveWords = []string{
	"great", "wonderful", "excellent", "amazing", "love",
	"best", "fantastic", "happy", "pleased", "thank",
}

// HotwordConfig controls hotword matching.
type HotwordConfig struct {
	Hotwords      []string
	CaseSensitive bool
}

// DefaultHotwordConfig returns the config with the standard keyword table,
// case-insensitive matching.
func DefaultHotwordConfig() HotwordConfig {
	return HotwordConfig{Hotwords: append([]string(nil), defaultHotwords...)}
}

// Matches returns the first configured hotword found as a substring of text,
// or "" if none matched.
func (c HotwordConfig) Matches(text string) string {
	check := text
	if !c.CaseSensitive {
		check = strings.ToLower(check)
	}
	for _, word := range c.Hotwords {
		w := word
		if !c.CaseSensitive {
			w = strings.ToLower(w)
		}
		if strings.Contains(check, w) {
			return word
		}
	}
	return ""
}

// Observer watches a session's signal stream and activity clock for
// intervention triggers.
type Observer struct {
	hotwords        HotwordConfig
	timeout         time.Duration
	enableSentiment bool
	log             *slog.Logger

	mu           sync.Mutex
	lastActivity time.Time
	cancelled    atomic.Bool
}

// Option configures an Observer.
type Option func(*Observer)

// WithHotwordConfig overrides the default hotword table.
func WithHotwordConfig(c HotwordConfig) Option { return func(o *Observer) { o.hotwords = c } }

// WithTimeout overrides the inactivity timeout, default 30s.
func WithTimeout(d time.Duration) Option { return func(o *Observer) { o.timeout = d } }

// WithSentiment enables the keyword-based sentiment check.
func WithSentiment(enabled bool) Option { return func(o *Observer) { o.enableSentiment = enabled } }

// New creates an Observer.
func New(log *slog.Logger, opts ...Option) *Observer {
	o := &Observer{
		hotwords:     DefaultHotwordConfig(),
		timeout:      30 * time.Second,
		lastActivity: time.Now(),
		log:          log,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Watch reads signals from in, forwards each unmodified to the returned
// channel, and sends a *corerr.PriorityIntervention on errs the moment one is
// detected. It returns once in is closed or ctx is cancelled; the returned
// channel is closed when Watch returns.
func (o *Observer) Watch(ctx context.Context, in <-chan signal.Signal) (<-chan signal.Signal, <-chan error) {
	out := make(chan signal.Signal)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-in:
				if !ok {
					return
				}
				if o.cancelled.Load() {
					return
				}
				o.touch()
				if err := o.analyze(sig); err != nil {
					select {
					case errs <- err:
					case <-ctx.Done():
						return
					}
				}
				select {
				case out <- sig:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, errs
}

func (o *Observer) touch() {
	o.mu.Lock()
	o.lastActivity = time.Now()
	o.mu.Unlock()
}

func (o *Observer) analyze(sig signal.Signal) error {
	text, ok := sig.TranscriptionText()
	if !ok || text == "" {
		return nil
	}

	if matched := o.hotwords.Matches(text); matched != "" {
		o.log.Info("hotword_detected", slog.String("hotword", matched), slog.String("session_id", sig.SessionID))
		return corerr.NewPriorityIntervention(
			corerr.InterventionHotword,
			targetForHotword(matched),
			"Hotword detected: "+matched,
		)
	}

	if o.enableSentiment {
		score := sentimentScore(text)
		if score < -0.7 {
			o.log.Info("negative_sentiment_detected", slog.Float64("score", score), slog.String("session_id", sig.SessionID))
			return corerr.NewPriorityIntervention(
				corerr.InterventionSentiment,
				"human_intervention",
				"Negative sentiment detected",
			)
		}
	}

	return nil
}

func targetForHotword(hotword string) string {
	switch strings.ToLower(hotword) {
	case "operator", "help", "emergency":
		return "human_intervention"
	case "stop", "cancel", "nevermind", "never mind":
		return "router"
	default:
		return ""
	}
}

func sentimentScore(text string) float64 {
	lower := strings.ToLower(text)
	var neg, pos int
	for _, w := range negativeWords {
		if strings.Contains(lower, w) {
			neg++
		}
	}
	for _, w := range positiveWords {
		if strings.Contains(lower, w) {
			pos++
		}
	}
	total := neg + pos
	if total == 0 {
		return 0.0
	}
	return float64(pos-neg) / float64(total)
}

// CheckTimeout returns a *corerr.PriorityIntervention if the session has been
// inactive longer than the configured timeout. Intended to be polled on a
// ticker by the orchestrator's background task for the call.
func (o *Observer) CheckTimeout() error {
	o.mu.Lock()
	elapsed := time.Since(o.lastActivity)
	o.mu.Unlock()

	if elapsed > o.timeout {
		o.log.Info("timeout_detected", slog.Duration("elapsed", elapsed))
		return corerr.NewPriorityIntervention(
			corerr.InterventionTimeout,
			"router",
			"Inactivity timeout after "+elapsed.Round(time.Second).String(),
		)
	}
	return nil
}

// Cancel stops Watch's goroutine at its next read.
func (o *Observer) Cancel() { o.cancelled.Store(true) }

// Reset clears cancellation and restarts the activity clock, for reuse
// across a handoff within the same call.
func (o *Observer) Reset() {
	o.cancelled.Store(false)
	o.touch()
}
