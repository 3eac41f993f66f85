// Package emp implements the External Media Player capability agent: a
// routing and authorization layer between the directive pipeline and one or
// more local media adapters.
//
// Grounded on internal/config/registry.go's name-to-factory map for the
// adapter registry, and on internal/agent/orchestrator/orchestrator.go's
// functional-options constructor style.
package emp

import "github.com/emberline/avscore/pkg/avs"

// PlayRequest is the parsed payload of an ExternalMediaPlayer Play
// directive.
type PlayRequest struct {
	PlayerID             string
	PlaybackContextToken string
	Index                int
	OffsetInMilliseconds int64
	SkillToken           string
	PlaybackSessionID    string
	Navigation           string
	Preload              bool
	PlayRequestor        string
	AliasName            string
}

// LocalOperation is a device-initiated transport action routed to the
// player currently in focus.
type LocalOperation int

const (
	StopPlayback LocalOperation = iota
	ResumableStop
	TransientPause
	ResumePlayback
)

// AdapterHandler mediates between the EMP and one local media adapter. An
// adapter registers under a stable LocalPlayerID and only becomes routable
// once authorized by the cloud under a PlayerID.
type AdapterHandler interface {
	LocalPlayerID() string

	// UpdatePlayerInfo is called after authorization with the cloud-assigned
	// identity.
	UpdatePlayerInfo(info avs.PlayerInfo)

	Play(req PlayRequest) error
	Login(accessToken string, userName string, refresh bool, expiresIn int64, forceLogin bool) error
	Logout() error
	PlayControl(rt avs.RequestType) error
	SetSeekPosition(offsetMillis int64) error
	AdjustSeekPosition(deltaMillis int64) error

	// GetAdapterState returns this adapter's current session/playback
	// snapshot for context assembly.
	GetAdapterState() avs.AdapterState
}
