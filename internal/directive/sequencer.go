// Package directive implements the Directive Sequencer: the component that
// routes cloud-issued directives to registered capability handlers under
// strict blocking and per-dialog ordering rules.
//
// Grounded on the mutex-protected registry and errors.Join-based failure
// aggregation of internal/agent/orchestrator/orchestrator.go, generalised
// from NPC-agent routing to (namespace, name)-keyed directive dispatch, and
// on internal/app/session_manager.go's lifecycle shape for Shutdown.
package directive

import (
	"context"
	"fmt"
	"sync"

	"github.com/emberline/avscore/internal/execq"
	"github.com/emberline/avscore/internal/sender"
	"github.com/emberline/avscore/pkg/avs"
)

// Instrumentation is an optional set of hooks the sequencer calls around
// dispatch, used by internal/observe to attach tracing spans and metrics
// without this package importing OpenTelemetry directly. Nil fields are
// no-ops.
type Instrumentation struct {
	OnDispatch  func(d avs.Directive)
	OnException func(d avs.Directive, kind avs.ErrorKind)
}

type registeredHandler struct {
	handler avs.DirectiveHandler
	policy  avs.BlockingPolicy
}

type mediumGate struct {
	blockedBy string
	pending   []*inFlightEntry
}

type inFlightEntry struct {
	directive avs.Directive
	handler   avs.DirectiveHandler
	policy    avs.BlockingPolicy
	once      sync.Once
	cancelled bool
}

// Sequencer is the Directive Sequencer. Construct with New.
type Sequencer struct {
	mu       sync.RWMutex
	handlers map[avs.NamespaceName]registeredHandler

	exec   *execq.Queue
	gates  map[avs.Medium]*mediumGate
	queue  []avs.Directive
	active []*inFlightEntry

	currentDialogID string
	shutDown        bool

	exceptions sender.ExceptionSender
	instr      Instrumentation
}

// Option configures a Sequencer during construction.
type Option func(*Sequencer)

// WithExceptionSender sets the collaborator used to emit ExceptionEncountered
// events. Without this option, exceptions are silently dropped — callers
// building a real pipeline should always supply one.
func WithExceptionSender(s sender.ExceptionSender) Option {
	return func(sq *Sequencer) { sq.exceptions = s }
}

// WithInstrumentation attaches tracing/metrics hooks.
func WithInstrumentation(i Instrumentation) Option {
	return func(sq *Sequencer) { sq.instr = i }
}

// New creates a Sequencer and starts its dispatch executor.
func New(opts ...Option) *Sequencer {
	s := &Sequencer{
		handlers: make(map[avs.NamespaceName]registeredHandler),
		exec:     execq.New(),
		gates:    make(map[avs.Medium]*mediumGate),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddDirectiveHandler registers h under every (namespace, name) key in
// h.Configuration(). Fails atomically if any key is already occupied.
func (s *Sequencer) AddDirectiveHandler(h avs.DirectiveHandler) bool {
	cfg := h.Configuration()

	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range cfg {
		if _, exists := s.handlers[key]; exists {
			return false
		}
	}
	for key, policy := range cfg {
		s.handlers[key] = registeredHandler{handler: h, policy: policy}
	}
	return true
}

// RemoveDirectiveHandler deregisters every key h currently holds. Fails if h
// does not hold every key in its own Configuration() (e.g. it was never
// registered, or was registered under a stale configuration).
func (s *Sequencer) RemoveDirectiveHandler(h avs.DirectiveHandler) bool {
	cfg := h.Configuration()

	s.mu.Lock()
	for key := range cfg {
		rh, ok := s.handlers[key]
		if !ok || rh.handler != h {
			s.mu.Unlock()
			return false
		}
	}
	for key := range cfg {
		delete(s.handlers, key)
	}
	s.mu.Unlock()

	h.OnDeregistered()
	return true
}

// OnDirective accepts a parsed directive. Returns false only if the
// sequencer has been shut down or d is malformed at the envelope level.
func (s *Sequencer) OnDirective(d avs.Directive) bool {
	if d.Namespace == "" || d.Name == "" || d.MessageID == "" {
		return false
	}

	s.mu.RLock()
	shutDown := s.shutDown
	s.mu.RUnlock()
	if shutDown {
		return false
	}

	s.exec.Post(func() { s.accept(d) })
	return true
}

func (s *Sequencer) accept(d avs.Directive) {
	if s.shutDown {
		return
	}
	if d.DialogRequestID == "" {
		s.dispatchImmediately(d)
		return
	}
	if d.DialogRequestID != s.currentDialogID {
		// Arrived for a group that is no longer current: dropped on arrival,
		// never tracked and never cancelled.
		return
	}
	s.queue = append(s.queue, d)
	s.drainQueue()
}

func (s *Sequencer) dispatchImmediately(d avs.Directive) {
	h, policy, ok := s.lookup(d.Key())
	if !ok {
		s.reportException(d, avs.ErrUnsupportedOperation, "no handler registered for "+d.Namespace+"."+d.Name)
		return
	}
	if s.instr.OnDispatch != nil {
		s.instr.OnDispatch(d)
	}
	h.HandleImmediately(d)
	_ = policy // handleImmediately carries no blocking semantics
}

// drainQueue processes every directive currently queued for the active
// dialog group, in arrival order. Running entirely inside the executor
// satisfies the "preHandle(d_i) happens-before preHandle(d_{i+1})" ordering
// guarantee for free.
func (s *Sequencer) drainQueue() {
	for len(s.queue) > 0 {
		d := s.queue[0]
		s.queue = s.queue[1:]

		h, policy, ok := s.lookup(d.Key())
		if !ok {
			s.reportException(d, avs.ErrUnsupportedOperation, "no handler registered for "+d.Namespace+"."+d.Name)
			continue
		}

		entry := &inFlightEntry{directive: d, handler: h, policy: policy}
		s.active = append(s.active, entry)

		if s.instr.OnDispatch != nil {
			s.instr.OnDispatch(d)
		}
		h.PreHandle(d, s.newResult(entry))
		if entry.cancelled {
			continue
		}
		s.scheduleHandle(entry)
	}
}

func (s *Sequencer) lookup(key avs.NamespaceName) (avs.DirectiveHandler, avs.BlockingPolicy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rh, ok := s.handlers[key]
	if !ok {
		return nil, avs.BlockingPolicy{}, false
	}
	return rh.handler, rh.policy, true
}

func (s *Sequencer) gate(medium avs.Medium) *mediumGate {
	g, ok := s.gates[medium]
	if !ok {
		g = &mediumGate{}
		s.gates[medium] = g
	}
	return g
}

// scheduleHandle begins entry's Handle call once its medium is free. NONE
// never blocks and never waits.
func (s *Sequencer) scheduleHandle(entry *inFlightEntry) {
	if entry.policy.Medium == avs.MediumNone {
		s.runHandle(entry)
		return
	}

	g := s.gate(entry.policy.Medium)
	if g.blockedBy == "" {
		s.runHandle(entry)
		if entry.policy.IsBlocking && !entry.cancelled {
			g.blockedBy = entry.directive.MessageID
		}
		return
	}
	g.pending = append(g.pending, entry)
}

func (s *Sequencer) runHandle(entry *inFlightEntry) {
	if entry.cancelled {
		return
	}
	ok := entry.handler.Handle(entry.directive.MessageID)
	if ok {
		return
	}
	s.reportException(entry.directive, avs.ErrInternalError, "handler refused directive")
	s.cancelAfter(entry.directive.MessageID)
	s.releaseGate(entry)
}

// newResult builds the DirectiveHandlerResult passed to PreHandle. Its
// completion callback runs back on the executor so gate bookkeeping never
// races with the dispatch loop.
func (s *Sequencer) newResult(entry *inFlightEntry) avs.DirectiveHandlerResult {
	return &resultCallback{seq: s, entry: entry}
}

type resultCallback struct {
	seq   *Sequencer
	entry *inFlightEntry
}

func (r *resultCallback) SetCompleted() {
	r.entry.once.Do(func() {
		r.seq.exec.Post(func() { r.seq.releaseGate(r.entry) })
	})
}

func (r *resultCallback) SetFailed(reason string) {
	r.entry.once.Do(func() {
		r.seq.exec.Post(func() {
			r.seq.cancelAfter(r.entry.directive.MessageID)
			r.seq.releaseGate(r.entry)
		})
	})
}

// releaseGate frees entry's medium if entry currently holds it, then keeps
// draining pending followers on that medium — each re-entering
// scheduleHandle so a blocking follower re-holds the gate — until the
// pending list empties or a follower re-blocks it.
func (s *Sequencer) releaseGate(entry *inFlightEntry) {
	if entry.policy.Medium == avs.MediumNone || !entry.policy.IsBlocking {
		return
	}
	g := s.gate(entry.policy.Medium)
	if g.blockedBy != entry.directive.MessageID {
		return
	}
	g.blockedBy = ""
	for g.blockedBy == "" && len(g.pending) > 0 {
		next := g.pending[0]
		g.pending = g.pending[1:]
		s.scheduleHandle(next)
	}
}

// cancelAfter cancels every in-flight entry that arrived after messageID in
// the active group (exclusive of messageID itself), in enqueue order.
func (s *Sequencer) cancelAfter(messageID string) {
	idx := -1
	for i, e := range s.active {
		if e.directive.MessageID == messageID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	for _, e := range s.active[idx+1:] {
		s.cancelEntry(e)
	}
}

func (s *Sequencer) cancelEntry(e *inFlightEntry) {
	if e.cancelled {
		return
	}
	e.cancelled = true
	e.handler.Cancel(e.directive.MessageID)
}

// SetDialogRequestId changes the active dialog group. Every directive
// belonging to the previous group — queued or in-flight — receives exactly
// one Cancel call, in enqueue order, before the new id becomes current.
func (s *Sequencer) SetDialogRequestId(id string) {
	s.exec.Post(func() { s.setDialogRequestID(id) })
}

func (s *Sequencer) setDialogRequestID(id string) {
	if s.shutDown || id == s.currentDialogID {
		return
	}

	for _, e := range s.active {
		s.cancelEntry(e)
	}
	for _, d := range s.queue {
		if h, _, ok := s.lookup(d.Key()); ok {
			h.Cancel(d.MessageID)
		}
	}

	s.active = nil
	s.queue = nil
	s.gates = make(map[avs.Medium]*mediumGate)
	s.currentDialogID = id
}

// Shutdown drains, cancels everything outstanding, disowns every handler,
// and becomes a no-op for subsequent OnDirective calls. Idempotent.
func (s *Sequencer) Shutdown() {
	s.mu.RLock()
	already := s.shutDown
	s.mu.RUnlock()
	if already {
		return
	}
	done := make(chan struct{})
	s.exec.Post(func() {
		defer close(done)
		if s.shutDown {
			return
		}
		for _, e := range s.active {
			s.cancelEntry(e)
		}
		for _, d := range s.queue {
			if h, _, ok := s.lookup(d.Key()); ok {
				h.Cancel(d.MessageID)
			}
		}
		s.active = nil
		s.queue = nil

		s.mu.Lock()
		handlers := s.handlers
		s.handlers = make(map[avs.NamespaceName]registeredHandler)
		s.shutDown = true
		s.mu.Unlock()

		deregistered := make(map[avs.DirectiveHandler]struct{}, len(handlers))
		for _, rh := range handlers {
			if _, done := deregistered[rh.handler]; done {
				continue
			}
			deregistered[rh.handler] = struct{}{}
			rh.handler.OnDeregistered()
		}
	})
	<-done
	s.exec.Close()
}

func (s *Sequencer) reportException(d avs.Directive, kind avs.ErrorKind, description string) {
	if s.instr.OnException != nil {
		s.instr.OnException(d, kind)
	}
	if s.exceptions == nil {
		return
	}
	unparsed := fmt.Sprintf("%s.%s/%s", d.Namespace, d.Name, d.MessageID)
	// Exception dispatch must never block the sequencer's executor; fire it
	// on its own goroutine since ExceptionSender implementations may do I/O.
	go func() {
		_ = s.exceptions.SendExceptionEncountered(context.Background(), unparsed, kind.String(), description)
	}()
}
