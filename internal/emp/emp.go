package emp

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/emberline/avscore/internal/contextmgr"
	"github.com/emberline/avscore/internal/execq"
	"github.com/emberline/avscore/internal/sender"
	"github.com/emberline/avscore/pkg/avs"
)

const (
	nsExternalMediaPlayer = "ExternalMediaPlayer"
	nsPlaybackController  = "PlaybackController"
	nsPlaylistController  = "PlaylistController"
	nsSeekController      = "SeekController"
	nsFavoritesController = "FavoritesController"
)

// authorizedEntry is one row of the EMP's authorized-adapters map, keyed by
// cloud playerId.
type authorizedEntry struct {
	localPlayerID string
	handler       AdapterHandler
}

// Instrumentation exposes optional hooks for observability.
type Instrumentation struct {
	OnAuthorized   func(playerID string)
	OnDeauthorized func(localPlayerID string)
	OnException    func(d avs.Directive, kind avs.ErrorKind)
}

// Option configures an EMP during construction.
type Option func(*EMP)

// WithAgent sets the agent string reported in SessionState context.
func WithAgent(agent string) Option {
	return func(e *EMP) { e.agent = agent }
}

// WithSPIVersion sets the SPI version reported in SessionState context.
func WithSPIVersion(v string) Option {
	return func(e *EMP) { e.spiVersion = v }
}

// WithGuaranteedSender sets the sender used for ReportDiscoveredPlayers, so
// discovery survives a transient disconnect.
func WithGuaranteedSender(s sender.GuaranteedSender) Option {
	return func(e *EMP) { e.guaranteed = s }
}

// WithInstrumentation attaches observability hooks.
func WithInstrumentation(i Instrumentation) Option {
	return func(e *EMP) { e.instr = i }
}

// EMP is the External Media Player capability agent. Construct with New.
type EMP struct {
	exec *execq.Queue

	registry   *Registry
	authorized map[string]authorizedEntry // playerId -> entry, EMP-executor-owned
	sendGate   *AuthorizedSender          // shares the allow-list read path

	playerInFocus string

	pendingDiscovered  map[string]struct{}
	reportedDiscovered map[string]struct{}
	startedUp          bool

	contextMgr contextmgr.Manager
	msgSender  sender.MessageSender
	guaranteed sender.GuaranteedSender
	exceptions sender.ExceptionSender

	agent      string
	spiVersion string
	instr      Instrumentation
}

// New constructs an EMP. msgSender is wrapped in an AuthorizedSender
// internally; pass the result of Sender() to adapters that emit events of
// their own.
func New(registry *Registry, ctxMgr contextmgr.Manager, msgSender sender.MessageSender, exceptions sender.ExceptionSender, opts ...Option) *EMP {
	e := &EMP{
		exec:               execq.New(),
		registry:           registry,
		authorized:         make(map[string]authorizedEntry),
		sendGate:           NewAuthorizedSender(msgSender),
		pendingDiscovered:  make(map[string]struct{}),
		reportedDiscovered: make(map[string]struct{}),
		contextMgr:         ctxMgr,
		msgSender:          msgSender,
		exceptions:         exceptions,
		spiVersion:         "2.0",
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.guaranteed == nil {
		e.guaranteed = e.sendGate
	}
	return e
}

// Sender returns the authorization-gated sender adapters should use to emit
// their own events (e.g. PlaybackSessionEnded), so outbound traffic from a
// deauthorized adapter is dropped.
func (e *EMP) Sender() sender.MessageSender { return e.sendGate }

// Startup flushes any player discoveries accumulated before it was called.
func (e *EMP) Startup() {
	done := make(chan struct{})
	e.exec.Post(func() {
		e.startup()
		close(done)
	})
	<-done
}

func (e *EMP) startup() {
	if e.startedUp {
		return
	}
	e.startedUp = true
	if len(e.pendingDiscovered) > 0 {
		ids := make([]string, 0, len(e.pendingDiscovered))
		for id := range e.pendingDiscovered {
			ids = append(ids, id)
			e.reportedDiscovered[id] = struct{}{}
		}
		e.pendingDiscovered = make(map[string]struct{})
		e.emitReportDiscoveredPlayers(ids)
	}
}

// UpdateDiscoveredPlayers is called by adapter handlers as they discover or
// lose local players.
func (e *EMP) UpdateDiscoveredPlayers(added, removed []string) {
	e.exec.Post(func() { e.updateDiscoveredPlayers(added, removed) })
}

func (e *EMP) updateDiscoveredPlayers(added, removed []string) {
	if !e.startedUp {
		for _, id := range added {
			e.pendingDiscovered[id] = struct{}{}
		}
	} else {
		var fresh []string
		for _, id := range added {
			if _, already := e.reportedDiscovered[id]; already {
				continue
			}
			e.reportedDiscovered[id] = struct{}{}
			fresh = append(fresh, id)
		}
		if len(fresh) > 0 {
			e.emitReportDiscoveredPlayers(fresh)
		}
	}

	for _, localID := range removed {
		for playerID, entry := range e.authorized {
			if entry.localPlayerID == localID {
				delete(e.authorized, playerID)
			}
		}
		delete(e.reportedDiscovered, localID)
	}
}

func (e *EMP) emitReportDiscoveredPlayers(localPlayerIDs []string) {
	players := make([]map[string]string, 0, len(localPlayerIDs))
	for _, id := range localPlayerIDs {
		players = append(players, map[string]string{"localPlayerId": id})
	}
	payload, _ := json.Marshal(map[string]any{"players": players})
	go func() {
		_ = e.guaranteed.SendEvent(context.Background(), sender.Event{
			Namespace: nsExternalMediaPlayer,
			Name:      "ReportDiscoveredPlayers",
			Payload:   payload,
		})
	}()
}

// authorizeEntry is one row of the AuthorizeDiscoveredPlayers directive
// payload.
type authorizeEntry struct {
	LocalPlayerID string `json:"localPlayerId"`
	Authorized    bool   `json:"authorized"`
	Metadata      struct {
		PlayerID   string `json:"playerId"`
		SkillToken string `json:"skillToken"`
	} `json:"metadata"`
}

func (e *EMP) authorizeDiscoveredPlayers(entries []authorizeEntry) {
	type authRow = struct{ PlayerID, SkillToken string }
	type deauthRow = struct{ LocalPlayerID string }
	var authorizedRows []authRow
	var deauthorizedRows []deauthRow

	for _, entry := range entries {
		if entry.Authorized {
			handler, err := e.registry.Lookup(entry.LocalPlayerID)
			if err != nil {
				continue
			}
			e.authorized[entry.Metadata.PlayerID] = authorizedEntry{
				localPlayerID: entry.LocalPlayerID,
				handler:       handler,
			}
			handler.UpdatePlayerInfo(avs.PlayerInfo{
				LocalPlayerID:   entry.LocalPlayerID,
				PlayerID:        entry.Metadata.PlayerID,
				SkillToken:      entry.Metadata.SkillToken,
				PlayerSupported: true,
			})
			authorizedRows = append(authorizedRows, authRow{entry.Metadata.PlayerID, entry.Metadata.SkillToken})
			if e.instr.OnAuthorized != nil {
				e.instr.OnAuthorized(entry.Metadata.PlayerID)
			}
		} else {
			for playerID, existing := range e.authorized {
				if existing.localPlayerID == entry.LocalPlayerID {
					delete(e.authorized, playerID)
				}
			}
			deauthorizedRows = append(deauthorizedRows, deauthRow{entry.LocalPlayerID})
			if e.instr.OnDeauthorized != nil {
				e.instr.OnDeauthorized(entry.LocalPlayerID)
			}
		}
	}

	allowed := make([]string, 0, len(e.authorized))
	for playerID := range e.authorized {
		allowed = append(allowed, playerID)
	}
	e.sendGate.SetAllowed(allowed)

	payload, _ := json.Marshal(map[string]any{
		"authorized":   authorizedRowsOrEmpty(authorizedRows),
		"deauthorized": deauthorizedRowsOrEmpty(deauthorizedRows),
	})
	go func() {
		_ = e.msgSender.SendEvent(context.Background(), sender.Event{
			Namespace: nsExternalMediaPlayer,
			Name:      "AuthorizationComplete",
			Payload:   payload,
		})
	}()
}

func authorizedRowsOrEmpty(rows []struct{ PlayerID, SkillToken string }) []map[string]string {
	out := make([]map[string]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, map[string]string{"playerId": r.PlayerID, "skillToken": r.SkillToken})
	}
	return out
}

func deauthorizedRowsOrEmpty(rows []struct{ LocalPlayerID string }) []map[string]string {
	out := make([]map[string]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, map[string]string{"localPlayerId": r.LocalPlayerID})
	}
	return out
}

// lookupAuthorized returns the entry authorized under playerID, or false.
func (e *EMP) lookupAuthorized(playerID string) (authorizedEntry, bool) {
	entry, ok := e.authorized[playerID]
	return entry, ok
}

// SetPlayerInFocus sets the player holding playback focus. A no-op if
// playerID is not authorized.
func (e *EMP) SetPlayerInFocus(playerID string) {
	e.exec.Post(func() {
		if _, ok := e.authorized[playerID]; ok {
			e.playerInFocus = playerID
		}
	})
}

// LocalOperation routes op to the player currently in focus.
func (e *EMP) LocalOperation(op LocalOperation) error {
	done := make(chan error, 1)
	e.exec.Post(func() { done <- e.localOperation(op) })
	return <-done
}

func (e *EMP) localOperation(op LocalOperation) error {
	entry, ok := e.lookupAuthorized(e.playerInFocus)
	if !ok {
		return fmt.Errorf("emp: no player in focus")
	}
	var rt avs.RequestType
	switch op {
	case StopPlayback, ResumableStop, TransientPause:
		rt = avs.RequestPause
	case ResumePlayback:
		rt = avs.RequestResume
	}
	return entry.handler.PlayControl(rt)
}

// LocalSeekTo seeks the player currently in focus.
func (e *EMP) LocalSeekTo(offsetMillis int64, fromStart bool) error {
	done := make(chan error, 1)
	e.exec.Post(func() {
		entry, ok := e.lookupAuthorized(e.playerInFocus)
		if !ok {
			done <- fmt.Errorf("emp: no player in focus")
			return
		}
		if fromStart {
			done <- entry.handler.SetSeekPosition(offsetMillis)
			return
		}
		done <- entry.handler.AdjustSeekPosition(offsetMillis)
	})
	return <-done
}

// GetAdapterStates fans out to every authorized adapter concurrently,
// grounded on orchestrator.BroadcastScene's snapshot-then-fan-out-then-join
// shape.
func (e *EMP) GetAdapterStates(ctx context.Context) []avs.AdapterState {
	done := make(chan []avs.AdapterState, 1)
	e.exec.Post(func() {
		entries := make([]authorizedEntry, 0, len(e.authorized))
		for _, entry := range e.authorized {
			entries = append(entries, entry)
		}
		go func() { done <- fanOutAdapterStates(ctx, entries) }()
	})
	return <-done
}

func fanOutAdapterStates(ctx context.Context, entries []authorizedEntry) []avs.AdapterState {
	states := make([]avs.AdapterState, len(entries))
	g, _ := errgroup.WithContext(ctx)
	for i, entry := range entries {
		i, entry := i, entry
		g.Go(func() error {
			states[i] = entry.handler.GetAdapterState()
			return nil
		})
	}
	_ = g.Wait()
	return states
}

// SessionStateProvider returns a contextmgr.StateProvider reporting
// SessionState context, grounded on spec.md §4.3's context-provision
// paragraph.
func (e *EMP) SessionStateProvider() contextmgr.ProviderFunc {
	return func(ctx context.Context, stateRequestToken string) (json.RawMessage, error) {
		states := e.GetAdapterStates(ctx)
		players := make([]map[string]any, 0, len(states))
		for _, s := range states {
			players = append(players, map[string]any{
				"playerId":          s.PlayerID,
				"loggedIn":          s.Session.LoggedIn,
				"userName":          s.Session.UserName,
				"spiVersion":        s.Session.SPIVersion,
				"skillToken":        s.Session.SkillToken,
				"playbackSessionId": s.Session.PlaybackSessionID,
			})
		}
		return json.Marshal(map[string]any{
			"agent":         e.agent,
			"spiVersion":    e.spiVersion,
			"playerInFocus": e.focusSnapshot(),
			"players":       players,
		})
	}
}

func (e *EMP) focusSnapshot() string {
	done := make(chan string, 1)
	e.exec.Post(func() { done <- e.playerInFocus })
	return <-done
}

// PlaybackStateProvider returns a contextmgr.StateProvider reporting
// PlaybackState context.
func (e *EMP) PlaybackStateProvider() contextmgr.ProviderFunc {
	return func(ctx context.Context, stateRequestToken string) (json.RawMessage, error) {
		states := e.GetAdapterStates(ctx)
		players := make([]map[string]any, 0, len(states))
		for _, s := range states {
			ops := make([]string, 0, len(s.Playback.SupportedOperations))
			for _, op := range s.Playback.SupportedOperations {
				ops = append(ops, op.String())
			}
			players = append(players, map[string]any{
				"playerId":            s.PlayerID,
				"state":                s.Playback.State.String(),
				"trackName":            s.Playback.TrackName,
				"trackOffsetMilliseconds": s.Playback.TrackOffset.Milliseconds(),
				"playRequestor":        s.Playback.PlayRequestor,
				"supportedOperations":  ops,
			})
		}
		return json.Marshal(map[string]any{
			"header":  map[string]string{"name": "default"},
			"players": players,
		})
	}
}

// Shutdown stops the EMP's executor.
func (e *EMP) Shutdown() { e.exec.Close() }
