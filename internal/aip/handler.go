package aip

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/emberline/avscore/pkg/avs"
)

// directiveNamespace is the namespace AIP registers under with the
// sequencer for its own cloud-issued directives.
const directiveNamespace = "SpeechRecognizer"

// Handler adapts Processor to avs.DirectiveHandler for the StopCapture and
// ExpectSpeech directives, which are the only ones AIP services directly
// (Recognize is device-initiated, not cloud-issued).
type Handler struct {
	p *Processor

	mu      sync.Mutex
	pending map[string]pendingDirective
}

// NewHandler wraps p as a DirectiveHandler.
func NewHandler(p *Processor) *Handler {
	return &Handler{p: p, pending: make(map[string]pendingDirective)}
}

var _ avs.DirectiveHandler = (*Handler)(nil)

func (h *Handler) Configuration() map[avs.NamespaceName]avs.BlockingPolicy {
	return map[avs.NamespaceName]avs.BlockingPolicy{
		{Namespace: directiveNamespace, Name: "StopCapture"}:  {Medium: avs.MediumAudio, IsBlocking: false},
		{Namespace: directiveNamespace, Name: "ExpectSpeech"}: {Medium: avs.MediumAudio, IsBlocking: false},
	}
}

func (h *Handler) HandleImmediately(d avs.Directive) {
	h.dispatch(d)
}

func (h *Handler) PreHandle(d avs.Directive, result avs.DirectiveHandlerResult) {
	h.mu.Lock()
	h.pending[d.MessageID] = pendingDirective{directive: d, result: result}
	h.mu.Unlock()
}

func (h *Handler) Handle(messageID string) bool {
	h.mu.Lock()
	pd, ok := h.pending[messageID]
	delete(h.pending, messageID)
	h.mu.Unlock()
	if !ok {
		return false
	}
	h.dispatch(pd.directive)
	pd.result.SetCompleted()
	return true
}

func (h *Handler) Cancel(messageID string) {
	h.mu.Lock()
	delete(h.pending, messageID)
	h.mu.Unlock()
}

func (h *Handler) OnDeregistered() {}

func (h *Handler) dispatch(d avs.Directive) {
	switch d.Name {
	case "StopCapture":
		h.p.StopCapture()
	case "ExpectSpeech":
		var payload struct {
			TimeoutInMilliseconds int64 `json:"timeoutInMilliseconds"`
		}
		_ = json.Unmarshal(d.Payload, &payload)
		h.p.ExpectSpeech(d.DialogRequestID, time.Duration(payload.TimeoutInMilliseconds)*time.Millisecond)
	}
}
