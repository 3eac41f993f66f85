package emp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/emberline/avscore/pkg/avs"
)

type pendingDirective struct {
	directive avs.Directive
	result    avs.DirectiveHandlerResult
}

// Handler adapts EMP to avs.DirectiveHandler, registering for the
// ExternalMediaPlayer, PlaybackController, PlaylistController,
// SeekController, and FavoritesController namespaces.
type Handler struct {
	emp *EMP

	mu      sync.Mutex
	pending map[string]pendingDirective
}

// NewHandler wraps emp as a DirectiveHandler.
func NewHandler(emp *EMP) *Handler {
	return &Handler{emp: emp, pending: make(map[string]pendingDirective)}
}

var _ avs.DirectiveHandler = (*Handler)(nil)

// dimensionless are the (namespace, name) keys with BlockingPolicy{NONE,
// false} per spec.md §4.3 — "the dimensionless controls."
var dimensionless = map[avs.NamespaceName]bool{
	{Namespace: nsPlaylistController, Name: "EnableRepeatOne"}: true,
	{Namespace: nsPlaylistController, Name: "EnableRepeat"}:    true,
	{Namespace: nsPlaylistController, Name: "DisableRepeat"}:   true,
	{Namespace: nsPlaylistController, Name: "EnableShuffle"}:   true,
	{Namespace: nsPlaylistController, Name: "DisableShuffle"}:  true,
	{Namespace: nsFavoritesController, Name: "Favorite"}:       true,
	{Namespace: nsFavoritesController, Name: "Unfavorite"}:     true,
}

func (h *Handler) Configuration() map[avs.NamespaceName]avs.BlockingPolicy {
	cfg := map[avs.NamespaceName]avs.BlockingPolicy{
		{Namespace: nsExternalMediaPlayer, Name: "AuthorizeDiscoveredPlayers"}: {Medium: avs.MediumNone, IsBlocking: false},
		{Namespace: nsExternalMediaPlayer, Name: "Play"}:                      {Medium: avs.MediumAudio, IsBlocking: false},
		{Namespace: nsExternalMediaPlayer, Name: "Login"}:                     {Medium: avs.MediumNone, IsBlocking: false},
		{Namespace: nsExternalMediaPlayer, Name: "Logout"}:                    {Medium: avs.MediumNone, IsBlocking: false},
		{Namespace: nsPlaybackController, Name: "Play"}:                      {Medium: avs.MediumAudio, IsBlocking: false},
		{Namespace: nsPlaybackController, Name: "Pause"}:                     {Medium: avs.MediumAudio, IsBlocking: false},
		{Namespace: nsPlaybackController, Name: "Stop"}:                      {Medium: avs.MediumAudio, IsBlocking: false},
		{Namespace: nsPlaybackController, Name: "Next"}:                      {Medium: avs.MediumAudio, IsBlocking: false},
		{Namespace: nsPlaybackController, Name: "Previous"}:                  {Medium: avs.MediumAudio, IsBlocking: false},
		{Namespace: nsPlaylistController, Name: "StartOver"}:                 {Medium: avs.MediumAudio, IsBlocking: false},
		{Namespace: nsPlaylistController, Name: "Rewind"}:                    {Medium: avs.MediumAudio, IsBlocking: false},
		{Namespace: nsPlaylistController, Name: "FastForward"}:               {Medium: avs.MediumAudio, IsBlocking: false},
		{Namespace: nsSeekController, Name: "SetSeekPosition"}:               {Medium: avs.MediumAudio, IsBlocking: false},
		{Namespace: nsSeekController, Name: "AdjustSeekPosition"}:            {Medium: avs.MediumAudio, IsBlocking: false},
	}
	for key := range dimensionless {
		cfg[key] = avs.BlockingPolicy{Medium: avs.MediumNone, IsBlocking: false}
	}
	return cfg
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
	h.emp.exec.Post(func() { h.route(d) })
}

func (h *Handler) route(d avs.Directive) {
	switch {
	case d.Namespace == nsExternalMediaPlayer && d.Name == "AuthorizeDiscoveredPlayers":
		var payload struct {
			PlayersToAuthorize []authorizeEntry `json:"playersToAuthorize"`
		}
		if err := json.Unmarshal(d.Payload, &payload); err != nil {
			h.reportException(d, avs.ErrUnexpectedInformationReceived)
			return
		}
		h.emp.authorizeDiscoveredPlayers(payload.PlayersToAuthorize)

	case d.Namespace == nsExternalMediaPlayer && d.Name == "Play":
		var req PlayRequest
		var raw struct {
			PlayerID             string `json:"playerId"`
			PlaybackContextToken string `json:"playbackContextToken"`
			Index                int    `json:"index"`
			OffsetInMilliseconds int64  `json:"offsetInMilliseconds"`
			SkillToken           string `json:"skillToken"`
			PlaybackSessionID    string `json:"playbackSessionId"`
			Navigation           string `json:"navigation"`
			Preload              bool   `json:"preload"`
			PlayRequestor        string `json:"playRequestor"`
			AliasName            string `json:"aliasName"`
		}
		if err := json.Unmarshal(d.Payload, &raw); err != nil {
			h.reportException(d, avs.ErrUnexpectedInformationReceived)
			return
		}
		req = PlayRequest{
			PlayerID: raw.PlayerID, PlaybackContextToken: raw.PlaybackContextToken,
			Index: raw.Index, OffsetInMilliseconds: raw.OffsetInMilliseconds,
			SkillToken: raw.SkillToken, PlaybackSessionID: raw.PlaybackSessionID,
			Navigation: raw.Navigation, Preload: raw.Preload,
			PlayRequestor: raw.PlayRequestor, AliasName: raw.AliasName,
		}
		entry, ok := h.emp.lookupAuthorized(req.PlayerID)
		if !ok {
			h.reportException(d, avs.ErrUnexpectedInformationReceived)
			return
		}
		_ = entry.handler.Play(req)

	case d.Namespace == nsExternalMediaPlayer && (d.Name == "Login" || d.Name == "Logout"):
		h.routeLoginLogout(d)

	default:
		h.routeTransportControl(d)
	}
}

func (h *Handler) routeLoginLogout(d avs.Directive) {
	var payload struct {
		PlayerID    string `json:"playerId"`
		AccessToken string `json:"accessToken"`
		UserName    string `json:"userName"`
		RefreshInterval bool `json:"refresh"`
		ExpiresIn   int64  `json:"expiresIn"`
		ForceLogin  bool   `json:"forceLogin"`
	}
	_ = json.Unmarshal(d.Payload, &payload)
	entry, ok := h.emp.lookupAuthorized(payload.PlayerID)
	if !ok {
		h.reportException(d, avs.ErrUnexpectedInformationReceived)
		return
	}
	if d.Name == "Login" {
		_ = entry.handler.Login(payload.AccessToken, payload.UserName, payload.RefreshInterval, payload.ExpiresIn, payload.ForceLogin)
	} else {
		_ = entry.handler.Logout()
	}
}

func (h *Handler) routeTransportControl(d avs.Directive) {
	var payload struct {
		PlayerID                  string `json:"playerId"`
		PositionMilliseconds      int64  `json:"positionMilliseconds"`
		DeltaPositionMilliseconds int64  `json:"deltaPositionMilliseconds"`
	}
	_ = json.Unmarshal(d.Payload, &payload)
	entry, ok := h.emp.lookupAuthorized(payload.PlayerID)
	if !ok {
		h.reportException(d, avs.ErrUnexpectedInformationReceived)
		return
	}

	if d.Namespace == nsSeekController {
		const twelveHoursMs = int64(12 * 60 * 60 * 1000)
		switch d.Name {
		case "SetSeekPosition":
			_ = entry.handler.SetSeekPosition(payload.PositionMilliseconds)
		case "AdjustSeekPosition":
			if payload.DeltaPositionMilliseconds > twelveHoursMs || payload.DeltaPositionMilliseconds < -twelveHoursMs {
				h.reportException(d, avs.ErrUnexpectedInformationReceived)
				return
			}
			_ = entry.handler.AdjustSeekPosition(payload.DeltaPositionMilliseconds)
		}
		return
	}

	rt, ok := playControlRequestType(d.Name)
	if !ok {
		h.reportException(d, avs.ErrUnexpectedInformationReceived)
		return
	}
	_ = entry.handler.PlayControl(rt)
}

// playControlRequestType maps a PlaybackController/PlaylistController/
// FavoritesController directive name to the RequestType passed to
// adapter.PlayControl. "Stop" has no dedicated RequestType in the
// adapter-facing enum; it maps to RequestPause. LocalOperation's
// StopPlayback also issues RequestPause, so the adapter sees no distinct
// stop request on either path.
func playControlRequestType(name string) (avs.RequestType, bool) {
	switch name {
	case "Play":
		return avs.RequestResume, true
	case "Pause", "Stop":
		return avs.RequestPause, true
	case "Next":
		return avs.RequestNext, true
	case "Previous":
		return avs.RequestPrevious, true
	case "StartOver":
		return avs.RequestStartOver, true
	case "Rewind":
		return avs.RequestRewind, true
	case "FastForward":
		return avs.RequestFastForward, true
	case "EnableRepeatOne":
		return avs.RequestEnableRepeatOne, true
	case "EnableRepeat":
		return avs.RequestEnableRepeat, true
	case "DisableRepeat":
		return avs.RequestDisableRepeat, true
	case "EnableShuffle":
		return avs.RequestEnableShuffle, true
	case "DisableShuffle":
		return avs.RequestDisableShuffle, true
	case "Favorite":
		return avs.RequestFavorite, true
	case "Unfavorite":
		return avs.RequestUnfavorite, true
	default:
		return 0, false
	}
}

func (h *Handler) reportException(d avs.Directive, kind avs.ErrorKind) {
	if h.emp.instr.OnException != nil {
		h.emp.instr.OnException(d, kind)
	}
	if h.emp.exceptions == nil {
		return
	}
	unparsed := fmt.Sprintf("%s.%s/%s", d.Namespace, d.Name, d.MessageID)
	go func() {
		_ = h.emp.exceptions.SendExceptionEncountered(context.Background(), unparsed, kind.String(), "")
	}()
}
