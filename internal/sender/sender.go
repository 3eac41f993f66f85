// Package sender defines the MessageSender, GuaranteedSender, and
// ExceptionSender contracts consumed by the directive pipeline, plus
// in-memory implementations grounded on internal/resilience's circuit
// breaker. The guaranteed sender additionally stands in for the "opaque
// certified-delivery durable queue" the parent specification treats as an
// external collaborator: it survives transient downstream failures with
// retry and backoff rather than persisting to disk.
package sender

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/emberline/avscore/internal/resilience"
)

// Event is the outbound envelope passed to a sender. Header fields mirror
// the wire event header; Payload is pre-serialized JSON.
type Event struct {
	Namespace       string
	Name            string
	MessageID       string
	DialogRequestID string
	Payload         json.RawMessage
	Context         json.RawMessage
}

// WithMessageID returns a copy of e with a generated MessageID if one is not
// already set.
func (e Event) WithMessageID() Event {
	if e.MessageID == "" {
		e.MessageID = uuid.NewString()
	}
	return e
}

// MessageSender delivers a best-effort outbound event. The transport
// collaborator owns retry policy for transient failures; MessageSender
// itself does not retry.
type MessageSender interface {
	SendEvent(ctx context.Context, e Event) error
}

// GuaranteedSender is a MessageSender whose delivery survives transient
// downstream failures — the core posts ReportDiscoveredPlayers through one
// of these so discovery survives a disconnect.
type GuaranteedSender interface {
	MessageSender
}

// ExceptionSender emits a structured ExceptionEncountered event.
type ExceptionSender interface {
	SendExceptionEncountered(ctx context.Context, unparsedDirective string, kind string, description string) error
}

// Transport is the downstream collaborator a sender ultimately calls into.
// In production this is the HTTP/2 event channel; out of scope here per the
// parent specification, so callers substitute a test double or a thin
// adapter over their own transport.
type Transport interface {
	Deliver(ctx context.Context, e Event) error
}

// DirectSender is a MessageSender/ExceptionSender that calls its Transport
// directly with no retry, matching the "best-effort" contract.
type DirectSender struct {
	transport Transport
}

// NewDirectSender returns a DirectSender over transport.
func NewDirectSender(transport Transport) *DirectSender {
	return &DirectSender{transport: transport}
}

var (
	_ MessageSender   = (*DirectSender)(nil)
	_ ExceptionSender = (*DirectSender)(nil)
)

func (s *DirectSender) SendEvent(ctx context.Context, e Event) error {
	e = e.WithMessageID()
	if err := s.transport.Deliver(ctx, e); err != nil {
		return fmt.Errorf("sender: deliver %s.%s: %w", e.Namespace, e.Name, err)
	}
	return nil
}

func (s *DirectSender) SendExceptionEncountered(ctx context.Context, unparsedDirective, kind, description string) error {
	payload, err := json.Marshal(map[string]string{
		"unparsedDirective": unparsedDirective,
		"error":             kind,
		"errorDescription":  description,
	})
	if err != nil {
		return fmt.Errorf("sender: marshal exception payload: %w", err)
	}
	return s.SendEvent(ctx, Event{Namespace: "System", Name: "ExceptionEncountered", Payload: payload})
}

// pendingEvent is a queued retry attempt for the ResilientGuaranteedSender.
type pendingEvent struct {
	event   Event
	attempt int
}

// ResilientGuaranteedSender is an in-memory GuaranteedSender: a bounded
// channel-backed queue drained by a single worker goroutine. Each attempt is
// tried against transports in order via a [resilience.FallbackGroup] — the
// primary first, then any fallbacks, each behind its own circuit breaker —
// and the whole group is retried with exponential backoff up to MaxAttempts
// if every transport in it fails.
type ResilientGuaranteedSender struct {
	transports  *resilience.FallbackGroup[Transport]
	maxAttempts int
	baseBackoff time.Duration

	queue chan pendingEvent
	done  chan struct{}
	wg    sync.WaitGroup
}

// GuaranteedSenderConfig tunes a ResilientGuaranteedSender.
type GuaranteedSenderConfig struct {
	QueueSize   int
	MaxAttempts int
	BaseBackoff time.Duration
	Breaker     resilience.CircuitBreakerConfig
}

// NewResilientGuaranteedSender starts the sender's worker goroutine and
// returns it. primary is tried first on every attempt; any fallbacks are
// tried in order, each behind its own circuit breaker, before the whole
// attempt is counted as failed and backed off. Call Close to stop the
// worker.
func NewResilientGuaranteedSender(primary Transport, cfg GuaranteedSenderConfig, fallbacks ...Transport) *ResilientGuaranteedSender {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 250 * time.Millisecond
	}
	if cfg.Breaker.Name == "" {
		cfg.Breaker.Name = "guaranteed-sender-primary"
	}

	group := resilience.NewFallbackGroup(primary, cfg.Breaker.Name, resilience.FallbackConfig{CircuitBreaker: cfg.Breaker})
	for i, fb := range fallbacks {
		group.AddFallback(fmt.Sprintf("guaranteed-sender-fallback-%d", i+1), fb)
	}

	s := &ResilientGuaranteedSender{
		transports:  group,
		maxAttempts: cfg.MaxAttempts,
		baseBackoff: cfg.BaseBackoff,
		queue:       make(chan pendingEvent, cfg.QueueSize),
		done:        make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

var _ GuaranteedSender = (*ResilientGuaranteedSender)(nil)

// SendEvent enqueues e for guaranteed delivery. It returns an error only if
// the queue is full — callers should treat that as backpressure, not as
// delivery failure.
func (s *ResilientGuaranteedSender) SendEvent(_ context.Context, e Event) error {
	e = e.WithMessageID()
	select {
	case s.queue <- pendingEvent{event: e}:
		return nil
	default:
		return fmt.Errorf("sender: guaranteed sender queue full, dropping %s.%s", e.Namespace, e.Name)
	}
}

// Close stops the worker goroutine once the queue has drained. An event
// whose retry is still waiting on its backoff is not delivered.
func (s *ResilientGuaranteedSender) Close() {
	close(s.done)
	s.wg.Wait()
}

func (s *ResilientGuaranteedSender) run() {
	defer s.wg.Done()
	for {
		select {
		case pe := <-s.queue:
			s.deliver(pe)
		case <-s.done:
			for {
				select {
				case pe := <-s.queue:
					s.deliver(pe)
				default:
					return
				}
			}
		}
	}
}

func (s *ResilientGuaranteedSender) deliver(pe pendingEvent) {
	err := s.transports.Execute(func(t Transport) error {
		return t.Deliver(context.Background(), pe.event)
	})
	if err == nil {
		return
	}

	pe.attempt++
	if pe.attempt >= s.maxAttempts {
		slog.Error("guaranteed sender exhausted retries, dropping event",
			"namespace", pe.event.Namespace, "name", pe.event.Name, "attempts", pe.attempt, "err", err)
		return
	}

	backoff := s.baseBackoff * time.Duration(1<<uint(pe.attempt-1))
	slog.Warn("guaranteed sender retrying event",
		"namespace", pe.event.Namespace, "name", pe.event.Name, "attempt", pe.attempt, "backoff", backoff, "err", err)
	time.AfterFunc(backoff, func() {
		select {
		case s.queue <- pe:
		case <-s.done:
		}
	})
}
