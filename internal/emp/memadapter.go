package emp

import (
	"sync"
	"time"

	"github.com/emberline/avscore/pkg/avs"
)

// MemoryAdapter is a reference AdapterHandler backing a single local media
// player entirely in memory, standing in for the out-of-scope media-player
// backend so the EMP is runnable and testable standalone. It tracks just
// enough state to answer GetAdapterState and to make PlayControl/seek calls
// observable in tests.
type MemoryAdapter struct {
	mu sync.Mutex

	localPlayerID string
	info          avs.PlayerInfo

	state         avs.PlaybackActivity
	trackName     string
	trackOffset   time.Duration
	playRequestor string
}

// NewMemoryAdapter returns a MemoryAdapter registered under localPlayerID,
// initially idle and unauthorized.
func NewMemoryAdapter(localPlayerID string) *MemoryAdapter {
	return &MemoryAdapter{localPlayerID: localPlayerID, state: avs.PlaybackIdle}
}

var _ AdapterHandler = (*MemoryAdapter)(nil)

func (a *MemoryAdapter) LocalPlayerID() string { return a.localPlayerID }

func (a *MemoryAdapter) UpdatePlayerInfo(info avs.PlayerInfo) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.info = info
}

func (a *MemoryAdapter) Play(req PlayRequest) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = avs.PlaybackPlaying
	a.trackOffset = time.Duration(req.OffsetInMilliseconds) * time.Millisecond
	a.playRequestor = req.PlayRequestor
	a.trackName = req.AliasName
	return nil
}

func (a *MemoryAdapter) Login(_ string, userName string, _ bool, _ int64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.info.PlaybackSessionID = userName
	return nil
}

func (a *MemoryAdapter) Logout() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.info = avs.PlayerInfo{LocalPlayerID: a.localPlayerID}
	a.state = avs.PlaybackIdle
	return nil
}

func (a *MemoryAdapter) PlayControl(rt avs.RequestType) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch rt {
	case avs.RequestPlay, avs.RequestResume:
		a.state = avs.PlaybackPlaying
	case avs.RequestPause:
		a.state = avs.PlaybackPaused
	case avs.RequestStartOver:
		a.trackOffset = 0
	}
	return nil
}

func (a *MemoryAdapter) SetSeekPosition(offsetMillis int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.trackOffset = time.Duration(offsetMillis) * time.Millisecond
	return nil
}

func (a *MemoryAdapter) AdjustSeekPosition(deltaMillis int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.trackOffset += time.Duration(deltaMillis) * time.Millisecond
	return nil
}

func (a *MemoryAdapter) GetAdapterState() avs.AdapterState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return avs.AdapterState{
		PlayerID: a.info.PlayerID,
		Session: avs.SessionState{
			PlayerID:          a.info.PlayerID,
			LoggedIn:          a.info.PlayerSupported,
			SPIVersion:        a.info.SPIVersion,
			SkillToken:        a.info.SkillToken,
			PlaybackSessionID: a.info.PlaybackSessionID,
		},
		Playback: avs.PlaybackState{
			State:         a.state,
			TrackName:     a.trackName,
			TrackOffset:   a.trackOffset,
			PlayRequestor: a.playRequestor,
			SupportedOperations: []avs.RequestType{
				avs.RequestPlay, avs.RequestPause, avs.RequestResume,
				avs.RequestNext, avs.RequestPrevious,
			},
		},
	}
}
