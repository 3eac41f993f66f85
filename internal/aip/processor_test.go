package aip

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberline/avscore/internal/contextmgr"
	"github.com/emberline/avscore/internal/focus"
	"github.com/emberline/avscore/internal/sender"
	"github.com/emberline/avscore/pkg/avs"
)

type fakeTransport struct {
	mu     sync.Mutex
	events []sender.Event
}

func (t *fakeTransport) Deliver(_ context.Context, e sender.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, e)
	return nil
}

func (t *fakeTransport) seen() []sender.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]sender.Event, len(t.events))
	copy(out, t.events)
	return out
}

type recordingStateObserver struct {
	mu      sync.Mutex
	states  []avs.AIPState
	overrun int
}

func (o *recordingStateObserver) OnStateChanged(_, new avs.AIPState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, new)
}

func (o *recordingStateObserver) OnOverrun() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.overrun++
}

func (o *recordingStateObserver) snapshot() []avs.AIPState {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]avs.AIPState, len(o.states))
	copy(out, o.states)
	return out
}

func newTestProcessor(obs StateObserver) (*Processor, *fakeTransport) {
	tr := &fakeTransport{}
	s := sender.NewDirectSender(tr)
	p := New(focus.NewArbiter(), contextmgr.NewRegistry(), s, WithObserver(obs))
	return p, tr
}

// TestScenarioS4TapToTalkWithSilence mirrors spec scenario S4.
func TestScenarioS4TapToTalkWithSilence(t *testing.T) {
	t.Parallel()

	obs := &recordingStateObserver{}
	p, tr := newTestProcessor(obs)
	t.Cleanup(p.Shutdown)

	ring := NewCaptureRing(16)
	accepted := <-p.Recognize(avs.AudioProvider{Stream: ring, Profile: avs.ProfileNearField}, avs.InitiatorTap, avs.WakewordIndices{}, "D1")
	require.True(t, accepted)
	require.Equal(t, avs.AIPRecognizing, p.State())

	require.Eventually(t, func() bool { return len(tr.seen()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "Recognize", tr.seen()[0].Name)

	ring.Write([]byte{0, 0, 0, 0})
	ring.Close()

	p.StopCapture()
	require.Eventually(t, func() bool { return p.State() == avs.AIPBusy }, time.Second, time.Millisecond)

	p.CompleteBusy()
	require.Eventually(t, func() bool { return p.State() == avs.AIPIdle }, time.Second, time.Millisecond)

	for _, e := range tr.seen() {
		assert.NotEqual(t, "Speak", e.Name)
	}
}

func TestProviderPrecedenceRefusesWhenNotOverridable(t *testing.T) {
	t.Parallel()

	obs := &recordingStateObserver{}
	p, _ := newTestProcessor(obs)
	t.Cleanup(p.Shutdown)

	ring1 := NewCaptureRing(16)
	accepted := <-p.Recognize(avs.AudioProvider{Stream: ring1, CanBeOverridden: false}, avs.InitiatorTap, avs.WakewordIndices{}, "D1")
	require.True(t, accepted)

	ring2 := NewCaptureRing(16)
	accepted2 := <-p.Recognize(avs.AudioProvider{Stream: ring2, CanOverride: true}, avs.InitiatorTap, avs.WakewordIndices{}, "D2")
	assert.False(t, accepted2)
	assert.Equal(t, avs.AIPRecognizing, p.State())
}

func TestProviderPrecedenceAllowsOverrideWhenBothAgree(t *testing.T) {
	t.Parallel()

	obs := &recordingStateObserver{}
	p, _ := newTestProcessor(obs)
	t.Cleanup(p.Shutdown)

	ring1 := NewCaptureRing(16)
	<-p.Recognize(avs.AudioProvider{Stream: ring1, CanBeOverridden: true}, avs.InitiatorTap, avs.WakewordIndices{}, "D1")

	ring2 := NewCaptureRing(16)
	accepted2 := <-p.Recognize(avs.AudioProvider{Stream: ring2, CanOverride: true}, avs.InitiatorTap, avs.WakewordIndices{}, "D2")
	assert.True(t, accepted2)
}

func TestResetStateAlwaysReachesIdle(t *testing.T) {
	t.Parallel()

	obs := &recordingStateObserver{}
	p, _ := newTestProcessor(obs)
	t.Cleanup(p.Shutdown)

	ring := NewCaptureRing(16)
	<-p.Recognize(avs.AudioProvider{Stream: ring}, avs.InitiatorTap, avs.WakewordIndices{}, "D1")
	p.ResetState()

	require.Eventually(t, func() bool { return p.State() == avs.AIPIdle }, time.Second, time.Millisecond)

	// Idempotent from IDLE.
	p.ResetState()
	assert.Equal(t, avs.AIPIdle, p.State())
}

func TestExpectSpeechTimeoutEmitsEventAndReturnsToIdle(t *testing.T) {
	t.Parallel()

	obs := &recordingStateObserver{}
	p, tr := newTestProcessor(obs)
	t.Cleanup(p.Shutdown)

	p.ExpectSpeech("D1", 10*time.Millisecond)
	require.Eventually(t, func() bool { return p.State() == avs.AIPIdle }, time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		for _, e := range tr.seen() {
			if e.Name == "ExpectSpeechTimedOut" {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)
}

func TestExpectSpeechThenRecognizeCancelsTimer(t *testing.T) {
	t.Parallel()

	obs := &recordingStateObserver{}
	p, tr := newTestProcessor(obs)
	t.Cleanup(p.Shutdown)

	p.ExpectSpeech("D1", 20*time.Millisecond)
	require.Eventually(t, func() bool { return p.State() == avs.AIPExpectingSpeech }, time.Second, time.Millisecond)

	ring := NewCaptureRing(16)
	accepted := <-p.Recognize(avs.AudioProvider{Stream: ring}, avs.InitiatorTap, avs.WakewordIndices{}, "D1")
	require.True(t, accepted)

	time.Sleep(50 * time.Millisecond)
	for _, e := range tr.seen() {
		assert.NotEqual(t, "ExpectSpeechTimedOut", e.Name)
	}
}
