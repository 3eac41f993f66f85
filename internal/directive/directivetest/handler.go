// Package directivetest provides an in-package test double for
// avs.DirectiveHandler, generalised from original_source's
// Integration/TestDirectiveHandler.h/.cpp: a handler that records every
// call it receives, in order, so dispatch-order properties can be asserted
// directly instead of inferred from side effects.
package directivetest

import (
	"sync"

	"github.com/emberline/avscore/pkg/avs"
)

// Call is one recorded invocation on a Handler.
type Call struct {
	Kind      string // "preHandle", "handle", "cancel", "handleImmediately", "onDeregistered"
	MessageID string
}

// Handler is a configurable, call-recording avs.DirectiveHandler.
type Handler struct {
	mu    sync.Mutex
	calls []Call

	config map[avs.NamespaceName]avs.BlockingPolicy

	// HandleResult, if set, is returned by Handle for every messageID.
	// Defaults to true.
	HandleResult bool

	// AutoComplete, when true (the default), calls result.SetCompleted()
	// synchronously from PreHandle. Set false to control completion timing
	// from the test via Complete/Fail.
	AutoComplete bool

	results map[string]avs.DirectiveHandlerResult
}

// New returns a Handler registered for the given (namespace, name) -> policy
// map.
func New(config map[avs.NamespaceName]avs.BlockingPolicy) *Handler {
	return &Handler{
		config:       config,
		HandleResult: true,
		AutoComplete: true,
		results:      make(map[string]avs.DirectiveHandlerResult),
	}
}

var _ avs.DirectiveHandler = (*Handler)(nil)

func (h *Handler) Configuration() map[avs.NamespaceName]avs.BlockingPolicy {
	return h.config
}

func (h *Handler) HandleImmediately(d avs.Directive) {
	h.record(Call{Kind: "handleImmediately", MessageID: d.MessageID})
}

func (h *Handler) PreHandle(d avs.Directive, result avs.DirectiveHandlerResult) {
	h.record(Call{Kind: "preHandle", MessageID: d.MessageID})
	h.mu.Lock()
	h.results[d.MessageID] = result
	h.mu.Unlock()
	if h.AutoComplete {
		result.SetCompleted()
	}
}

func (h *Handler) Handle(messageID string) bool {
	h.record(Call{Kind: "handle", MessageID: messageID})
	return h.HandleResult
}

func (h *Handler) Cancel(messageID string) {
	h.record(Call{Kind: "cancel", MessageID: messageID})
}

func (h *Handler) OnDeregistered() {
	h.record(Call{Kind: "onDeregistered"})
}

// Complete resolves messageID's pending result as completed. Use with
// AutoComplete=false to control blocking release timing from a test.
func (h *Handler) Complete(messageID string) {
	h.mu.Lock()
	r := h.results[messageID]
	h.mu.Unlock()
	if r != nil {
		r.SetCompleted()
	}
}

// Fail resolves messageID's pending result as failed.
func (h *Handler) Fail(messageID, reason string) {
	h.mu.Lock()
	r := h.results[messageID]
	h.mu.Unlock()
	if r != nil {
		r.SetFailed(reason)
	}
}

func (h *Handler) record(c Call) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, c)
}

// Calls returns a snapshot of every call recorded so far, in order.
func (h *Handler) Calls() []Call {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Call, len(h.calls))
	copy(out, h.calls)
	return out
}
