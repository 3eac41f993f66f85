package emp

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberline/avscore/internal/contextmgr"
	"github.com/emberline/avscore/internal/sender"
	"github.com/emberline/avscore/pkg/avs"
)

type recordingTransport struct {
	mu     sync.Mutex
	events []sender.Event
}

func (t *recordingTransport) Deliver(_ context.Context, e sender.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, e)
	return nil
}

func (t *recordingTransport) seen() []sender.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]sender.Event, len(t.events))
	copy(out, t.events)
	return out
}

func (t *recordingTransport) named(name string) []sender.Event {
	var out []sender.Event
	for _, e := range t.seen() {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

type fakeAdapter struct {
	mu            sync.Mutex
	localPlayerID string
	info          avs.PlayerInfo
	playCalls     []PlayRequest
	controlCalls  []avs.RequestType
	seekCalls     []int64
}

func newFakeAdapter(localPlayerID string) *fakeAdapter {
	return &fakeAdapter{localPlayerID: localPlayerID}
}

var _ AdapterHandler = (*fakeAdapter)(nil)

func (a *fakeAdapter) LocalPlayerID() string { return a.localPlayerID }

func (a *fakeAdapter) UpdatePlayerInfo(info avs.PlayerInfo) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.info = info
}

func (a *fakeAdapter) Play(req PlayRequest) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.playCalls = append(a.playCalls, req)
	return nil
}

func (a *fakeAdapter) Login(string, string, bool, int64, bool) error { return nil }
func (a *fakeAdapter) Logout() error                                 { return nil }

func (a *fakeAdapter) PlayControl(rt avs.RequestType) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.controlCalls = append(a.controlCalls, rt)
	return nil
}

func (a *fakeAdapter) SetSeekPosition(int64) error { return nil }

func (a *fakeAdapter) AdjustSeekPosition(delta int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seekCalls = append(a.seekCalls, delta)
	return nil
}

func (a *fakeAdapter) seekCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.seekCalls)
}

func (a *fakeAdapter) GetAdapterState() avs.AdapterState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return avs.AdapterState{PlayerID: a.info.PlayerID}
}

func (a *fakeAdapter) playCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.playCalls)
}

func newTestEMP() (*EMP, *Handler, *recordingTransport, *Registry) {
	tr := &recordingTransport{}
	reg := NewRegistry()
	ds := sender.NewDirectSender(tr)
	e := New(reg, contextmgr.NewRegistry(), ds, ds, WithAgent("avscore"), WithSPIVersion("2.0"))
	h := NewHandler(e)
	return e, h, tr, reg
}

func authorizePayload(localID, playerID, skillToken string, authorized bool) avs.Directive {
	payload, _ := json.Marshal(map[string]any{
		"playersToAuthorize": []map[string]any{
			{
				"localPlayerId": localID,
				"authorized":    authorized,
				"metadata":      map[string]string{"playerId": playerID, "skillToken": skillToken},
			},
		},
	})
	return avs.Directive{Namespace: nsExternalMediaPlayer, Name: "AuthorizeDiscoveredPlayers", MessageID: "m1", Payload: payload}
}

// TestScenarioS5AuthorizeThenPlay mirrors spec scenario S5.
func TestScenarioS5AuthorizeThenPlay(t *testing.T) {
	t.Parallel()

	e, h, tr, reg := newTestEMP()
	t.Cleanup(e.Shutdown)

	adapter := newFakeAdapter("MSP1")
	reg.Register(adapter)

	h.HandleImmediately(authorizePayload("MSP1", "P1", "T1", true))

	require.Eventually(t, func() bool { return len(tr.named("AuthorizationComplete")) == 1 }, time.Second, time.Millisecond)
	var payload struct {
		Authorized []struct {
			PlayerID   string `json:"playerId"`
			SkillToken string `json:"skillToken"`
		} `json:"authorized"`
		Deauthorized []map[string]string `json:"deauthorized"`
	}
	require.NoError(t, json.Unmarshal(tr.named("AuthorizationComplete")[0].Payload, &payload))
	require.Len(t, payload.Authorized, 1)
	assert.Equal(t, "P1", payload.Authorized[0].PlayerID)
	assert.Equal(t, "T1", payload.Authorized[0].SkillToken)
	assert.Empty(t, payload.Deauthorized)

	playPayload, _ := json.Marshal(map[string]any{
		"playerId":             "P1",
		"playbackContextToken": "ctx",
		"offsetInMilliseconds": 0,
		"skillToken":           "T1",
		"playbackSessionId":    "S",
		"navigation":           "DEFAULT",
		"preload":              false,
	})
	h.HandleImmediately(avs.Directive{Namespace: nsExternalMediaPlayer, Name: "Play", MessageID: "m2", Payload: playPayload})

	require.Eventually(t, func() bool { return adapter.playCount() == 1 }, time.Second, time.Millisecond)
}

// TestScenarioS6EMPUnauthorizedPlay mirrors spec scenario S6.
func TestScenarioS6EMPUnauthorizedPlay(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var exceptions []avs.ErrorKind

	tr := &recordingTransport{}
	reg := NewRegistry()
	ds := sender.NewDirectSender(tr)
	e := New(reg, contextmgr.NewRegistry(), ds, ds, WithInstrumentation(Instrumentation{
		OnException: func(_ avs.Directive, kind avs.ErrorKind) {
			mu.Lock()
			defer mu.Unlock()
			exceptions = append(exceptions, kind)
		},
	}))
	h := NewHandler(e)
	t.Cleanup(e.Shutdown)

	adapter := newFakeAdapter("MSP1")
	reg.Register(adapter)

	playPayload, _ := json.Marshal(map[string]any{"playerId": "P1", "offsetInMilliseconds": 0})
	h.HandleImmediately(avs.Directive{Namespace: nsExternalMediaPlayer, Name: "Play", MessageID: "m1", Payload: playPayload})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(exceptions) == 1
	}, time.Second, time.Millisecond)

	mu.Lock()
	assert.Equal(t, avs.ErrUnexpectedInformationReceived, exceptions[0])
	mu.Unlock()
	assert.Equal(t, 0, adapter.playCount())
}

func TestDiscoveryIdempotence(t *testing.T) {
	t.Parallel()

	e, _, tr, _ := newTestEMP()
	t.Cleanup(e.Shutdown)

	e.Startup()
	e.UpdateDiscoveredPlayers([]string{"MSP1"}, nil)
	e.UpdateDiscoveredPlayers([]string{"MSP1"}, nil)

	require.Eventually(t, func() bool { return len(tr.named("ReportDiscoveredPlayers")) == 1 }, time.Second, time.Millisecond)
}

func TestDiscoveryAccumulatesBeforeStartup(t *testing.T) {
	t.Parallel()

	e, _, tr, _ := newTestEMP()
	t.Cleanup(e.Shutdown)

	e.UpdateDiscoveredPlayers([]string{"MSP1"}, nil)
	e.UpdateDiscoveredPlayers([]string{"MSP2"}, nil)
	assert.Empty(t, tr.named("ReportDiscoveredPlayers"))

	e.Startup()
	require.Eventually(t, func() bool { return len(tr.named("ReportDiscoveredPlayers")) == 1 }, time.Second, time.Millisecond)

	var payload struct {
		Players []map[string]string `json:"players"`
	}
	require.NoError(t, json.Unmarshal(tr.named("ReportDiscoveredPlayers")[0].Payload, &payload))
	assert.Len(t, payload.Players, 2)
}

func TestAuthorizedSenderDropsUnauthorizedPlayerEvents(t *testing.T) {
	t.Parallel()

	tr := &recordingTransport{}
	gate := NewAuthorizedSender(sender.NewDirectSender(tr))

	payload, _ := json.Marshal(map[string]string{"playerId": "P1"})
	err := gate.SendEvent(context.Background(), sender.Event{Namespace: "ExternalMediaPlayer", Name: "PlaybackSessionStarted", Payload: payload})
	assert.Error(t, err)
	assert.Empty(t, tr.seen())

	gate.SetAllowed([]string{"P1"})
	err = gate.SendEvent(context.Background(), sender.Event{Namespace: "ExternalMediaPlayer", Name: "PlaybackSessionStarted", Payload: payload})
	assert.NoError(t, err)
	assert.Len(t, tr.seen(), 1)
}

func TestSeekAdjustClampedToTwelveHours(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var exceptions []avs.ErrorKind

	tr := &recordingTransport{}
	reg := NewRegistry()
	ds := sender.NewDirectSender(tr)
	e := New(reg, contextmgr.NewRegistry(), ds, ds, WithInstrumentation(Instrumentation{
		OnException: func(_ avs.Directive, kind avs.ErrorKind) {
			mu.Lock()
			defer mu.Unlock()
			exceptions = append(exceptions, kind)
		},
	}))
	h := NewHandler(e)
	t.Cleanup(e.Shutdown)

	adapter := newFakeAdapter("MSP1")
	reg.Register(adapter)
	h.HandleImmediately(authorizePayload("MSP1", "P1", "T1", true))
	require.Eventually(t, func() bool { return len(tr.named("AuthorizationComplete")) == 1 }, time.Second, time.Millisecond)

	tooFar := int64(13 * 60 * 60 * 1000)
	payload, _ := json.Marshal(map[string]any{"playerId": "P1", "deltaPositionMilliseconds": tooFar})
	h.HandleImmediately(avs.Directive{Namespace: nsSeekController, Name: "AdjustSeekPosition", MessageID: "m1", Payload: payload})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(exceptions) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, 0, adapter.seekCount())
}
