// Package aip implements the Audio Input Processor: the state machine
// coordinating wake-word/button capture, streaming recognition uploads,
// expect-speech re-prompting, and focus arbitration.
//
// Grounded on pkg/audio/mixer.go's InterruptReason/priority-preemption shape
// for provider-override handling and on internal/resilience/circuitbreaker.go's
// state-enum style for the AIPState machine itself.
package aip

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/emberline/avscore/internal/contextmgr"
	"github.com/emberline/avscore/internal/execq"
	"github.com/emberline/avscore/internal/focus"
	"github.com/emberline/avscore/internal/sender"
	"github.com/emberline/avscore/pkg/avs"
)

// StateObserver is notified of AIP state transitions and capture overruns.
type StateObserver interface {
	OnStateChanged(old, new avs.AIPState)
	OnOverrun()
}

// InactivityObserver resets its idle timer on every recognize() call.
type InactivityObserver interface {
	OnUserActive()
}

// Option configures a Processor during construction.
type Option func(*Processor)

// WithObserver registers a StateObserver.
func WithObserver(o StateObserver) Option {
	return func(p *Processor) { p.observers = append(p.observers, o) }
}

// WithInactivityObserver sets the collaborator notified on every RECOGNIZING
// transition.
func WithInactivityObserver(o InactivityObserver) Option {
	return func(p *Processor) { p.inactivity = o }
}

// WithDefaultExpectSpeechTimeout overrides the timeout used when an
// ExpectSpeech directive's own timeout is zero.
func WithDefaultExpectSpeechTimeout(d time.Duration) Option {
	return func(p *Processor) { p.defaultExpectSpeechTimeout = d }
}

// Processor is the Audio Input Processor. Construct with New.
type Processor struct {
	exec       *execq.Queue
	focus      focus.Manager
	contextMgr contextmgr.Manager
	msgSender  sender.MessageSender

	observers  []StateObserver
	inactivity InactivityObserver

	defaultExpectSpeechTimeout time.Duration

	state                  avs.AIPState
	activeProvider         *avs.AudioProvider
	activeReader           avs.RingReader
	currentMessageID       string
	currentDialogRequestID string
	expectSpeechTimer      *time.Timer

	pending map[string]pendingDirective
}

type pendingDirective struct {
	directive avs.Directive
	result    avs.DirectiveHandlerResult
}

// New constructs a Processor bound to focusMgr and ctxMgr, emitting events
// through msgSender.
func New(focusMgr focus.Manager, ctxMgr contextmgr.Manager, msgSender sender.MessageSender, opts ...Option) *Processor {
	p := &Processor{
		exec:                       execq.New(),
		focus:                      focusMgr,
		contextMgr:                 ctxMgr,
		msgSender:                  msgSender,
		defaultExpectSpeechTimeout: 6 * time.Second,
		state:                      avs.AIPIdle,
		pending:                    make(map[string]pendingDirective),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var _ focus.Observer = (*Processor)(nil)

// State returns the processor's current state. Safe to call from any
// goroutine but reflects a point-in-time snapshot; use an observer for
// transition notifications.
func (p *Processor) State() avs.AIPState {
	done := make(chan avs.AIPState, 1)
	p.exec.Post(func() { done <- p.state })
	return <-done
}

// Recognize requests a capture/recognition cycle. The returned channel
// receives true if the request was accepted (state transitioned to
// RECOGNIZING) or false if refused per provider-override precedence.
func (p *Processor) Recognize(provider avs.AudioProvider, initiator avs.AudioInputInitiator, wakeword avs.WakewordIndices, dialogRequestID string) <-chan bool {
	accepted := make(chan bool, 1)
	p.exec.Post(func() { accepted <- p.recognize(provider, initiator, wakeword, dialogRequestID) })
	return accepted
}

func (p *Processor) recognize(provider avs.AudioProvider, initiator avs.AudioInputInitiator, wakeword avs.WakewordIndices, dialogRequestID string) bool {
	switch p.state {
	case avs.AIPIdle, avs.AIPExpectingSpeech:
		// proceed
	case avs.AIPRecognizing, avs.AIPBusy:
		if p.activeProvider == nil || !(provider.CanOverride && p.activeProvider.CanBeOverridden) {
			return false
		}
		p.closeCapture()
	}

	if p.expectSpeechTimer != nil {
		p.expectSpeechTimer.Stop()
		p.expectSpeechTimer = nil
	}

	p.activeProvider = &provider
	p.currentMessageID = uuid.NewString()
	p.currentDialogRequestID = dialogRequestID
	p.setState(avs.AIPRecognizing)

	if p.inactivity != nil {
		p.inactivity.OnUserActive()
	}

	p.focus.Acquire(avs.ChannelDialog, p)

	var start *uint64
	if initiator == avs.InitiatorWakeword {
		switch {
		case wakeword.BeginIndex != nil:
			start = wakeword.BeginIndex
		case wakeword.EndIndex != nil:
			start = wakeword.EndIndex
		}
	}
	p.activeReader = provider.Stream.NewReader(start)
	go p.streamCapture(p.activeReader)

	return true
}

// OnFocusChanged implements focus.Observer.
func (p *Processor) OnFocusChanged(channel avs.FocusChannel, state avs.FocusState) {
	p.exec.Post(func() { p.onFocusChanged(channel, state) })
}

func (p *Processor) onFocusChanged(_ avs.FocusChannel, state avs.FocusState) {
	switch state {
	case avs.FocusForeground:
		if p.state == avs.AIPRecognizing {
			p.requestContextAndDispatch()
		}
	case avs.FocusBackground:
		// continue streaming silently until stopCapture
	case avs.FocusNone:
		p.closeCapture()
		p.setState(avs.AIPIdle)
	}
}

func (p *Processor) requestContextAndDispatch() {
	if p.contextMgr == nil {
		p.dispatchRecognizeEvent(nil)
		return
	}
	token := p.currentMessageID
	dialogID := p.currentDialogRequestID
	go func() {
		snap, _ := p.contextMgr.GetContext(context.Background(), token)
		ctxBytes, _ := json.Marshal(snap.Namespaces)
		p.exec.Post(func() {
			if p.currentDialogRequestID == dialogID && p.state == avs.AIPRecognizing {
				p.dispatchRecognizeEvent(ctxBytes)
			}
		})
	}()
}

func (p *Processor) dispatchRecognizeEvent(ctxBytes []byte) {
	if p.msgSender == nil {
		return
	}
	profile := avs.ProfileNearField
	if p.activeProvider != nil {
		profile = p.activeProvider.Profile
	}
	payload, _ := json.Marshal(map[string]any{"profile": profileName(profile)})
	ev := sender.Event{
		Namespace:       "SpeechRecognizer",
		Name:            "Recognize",
		DialogRequestID: p.currentDialogRequestID,
		Payload:         payload,
		Context:         ctxBytes,
	}
	go func() { _ = p.msgSender.SendEvent(context.Background(), ev) }()
}

func profileName(p avs.AudioProfile) string {
	switch p {
	case avs.ProfileCloseTalk:
		return "CLOSE_TALK"
	case avs.ProfileFarField:
		return "FAR_FIELD"
	default:
		return "NEAR_FIELD"
	}
}

// StopCapture ends the current capture, transitioning RECOGNIZING -> BUSY.
func (p *Processor) StopCapture() {
	p.exec.Post(func() { p.stopCapture() })
}

func (p *Processor) stopCapture() {
	if p.state != avs.AIPRecognizing {
		return
	}
	p.closeCapture()
	p.setState(avs.AIPBusy)
}

// CompleteBusy transitions BUSY -> IDLE once the transport collaborator
// confirms the server received the capture (or goes idle).
func (p *Processor) CompleteBusy() {
	p.exec.Post(func() {
		if p.state == avs.AIPBusy {
			p.setState(avs.AIPIdle)
		}
	})
}

// ResetState cancels any outstanding capture, releases focus, and returns
// to IDLE. Idempotent.
func (p *Processor) ResetState() {
	p.exec.Post(func() { p.resetState() })
}

func (p *Processor) resetState() {
	if p.state == avs.AIPIdle {
		return
	}
	p.closeCapture()
	p.focus.Release(avs.ChannelDialog, p)
	if p.expectSpeechTimer != nil {
		p.expectSpeechTimer.Stop()
		p.expectSpeechTimer = nil
	}
	p.setState(avs.AIPIdle)
}

// ExpectSpeech transitions IDLE -> EXPECTING_SPEECH and starts the timeout
// timer. A zero timeout uses the processor's configured default.
func (p *Processor) ExpectSpeech(dialogRequestID string, timeout time.Duration) {
	p.exec.Post(func() { p.expectSpeech(dialogRequestID, timeout) })
}

func (p *Processor) expectSpeech(dialogRequestID string, timeout time.Duration) {
	if p.state != avs.AIPIdle {
		return
	}
	if timeout <= 0 {
		timeout = p.defaultExpectSpeechTimeout
	}
	p.currentDialogRequestID = dialogRequestID
	p.setState(avs.AIPExpectingSpeech)
	p.expectSpeechTimer = time.AfterFunc(timeout, func() {
		p.exec.Post(func() { p.expectSpeechTimedOut() })
	})
}

func (p *Processor) expectSpeechTimedOut() {
	if p.state != avs.AIPExpectingSpeech {
		return
	}
	p.setState(avs.AIPIdle)
	if p.msgSender != nil {
		dialogID := p.currentDialogRequestID
		go func() {
			_ = p.msgSender.SendEvent(context.Background(), sender.Event{
				Namespace:       "SpeechRecognizer",
				Name:            "ExpectSpeechTimedOut",
				DialogRequestID: dialogID,
			})
		}()
	}
}

// Shutdown cancels any outstanding work and stops the processor's executor.
func (p *Processor) Shutdown() {
	done := make(chan struct{})
	p.exec.Post(func() {
		p.resetState()
		close(done)
	})
	<-done
	p.exec.Close()
}

func (p *Processor) closeCapture() {
	if p.activeReader != nil {
		p.activeReader.Close()
		p.activeReader = nil
	}
	p.activeProvider = nil
}

func (p *Processor) setState(s avs.AIPState) {
	old := p.state
	if old == s {
		return
	}
	p.state = s
	for _, obs := range p.observers {
		obs.OnStateChanged(old, s)
	}
}

func (p *Processor) streamCapture(reader avs.RingReader) {
	for {
		_, overrun, ok := reader.Read()
		if !ok {
			return
		}
		if overrun {
			p.exec.Post(func() {
				for _, obs := range p.observers {
					obs.OnOverrun()
				}
			})
		}
	}
}
