// Package avs defines the shared types used across the directive dispatch
// pipeline: the Directive Sequencer, the Audio Input Processor, and the
// External Media Player capability agent.
//
// These types form the lingua franca between those packages. Each package
// defines its own internal state; cross-cutting data structures live here to
// avoid circular imports, mirroring the role pkg/types played in the parent
// project.
package avs

import "time"

// Medium is the channel a blocking policy is declared against.
type Medium int

const (
	MediumNone Medium = iota
	MediumAudio
	MediumVisual
)

func (m Medium) String() string {
	switch m {
	case MediumAudio:
		return "AUDIO"
	case MediumVisual:
		return "VISUAL"
	default:
		return "NONE"
	}
}

// BlockingPolicy is attached to a (namespace, name) key and tells the
// sequencer whether later directives sharing the same medium must wait for
// this one to complete.
type BlockingPolicy struct {
	Medium     Medium
	IsBlocking bool
}

// NamespaceName is the routing key under which a handler registers.
type NamespaceName struct {
	Namespace string
	Name      string
}

// Directive is an immutable inbound command from the cloud. Its identity is
// MessageID; two Directives with the same MessageID are the same directive.
type Directive struct {
	Namespace        string
	Name             string
	MessageID        string
	DialogRequestID  string
	Payload          []byte
	AttachmentHandle AttachmentHandle
}

// Key returns the (namespace, name) routing key for d.
func (d Directive) Key() NamespaceName {
	return NamespaceName{Namespace: d.Namespace, Name: d.Name}
}

// AttachmentHandle references a binary payload streamed alongside a
// directive or event. The zero value means "no attachment."
type AttachmentHandle struct {
	ContentID string
}

// Valid reports whether h references an attachment.
func (h AttachmentHandle) Valid() bool { return h.ContentID != "" }

// DirectiveHandlerResult is the exactly-once completion callback passed to
// PreHandle. Calling SetCompleted or SetFailed more than once, or calling
// both, is a programmer error; implementations should guard against it with
// a sync.Once internally.
type DirectiveHandlerResult interface {
	SetCompleted()
	SetFailed(reason string)
}

// DirectiveHandler is implemented by each capability agent registering with
// the Sequencer.
type DirectiveHandler interface {
	// Configuration returns this handler's (namespace, name) -> BlockingPolicy
	// map. Called once at registration time.
	Configuration() map[NamespaceName]BlockingPolicy

	// HandleImmediately services a directive with an empty DialogRequestID:
	// preHandle then handle, with no blocking semantics.
	HandleImmediately(d Directive)

	// PreHandle prepares d for dispatch. Must report through result exactly
	// once, either here or from a later call this handler makes internally.
	PreHandle(d Directive, result DirectiveHandlerResult)

	// Handle executes the directive identified by messageID, previously
	// passed to PreHandle. Returns false to signal immediate failure.
	Handle(messageID string) bool

	// Cancel aborts any in-flight work for messageID. Idempotent.
	Cancel(messageID string)

	// OnDeregistered is called after a successful RemoveDirectiveHandler.
	OnDeregistered()
}

// AIPState is the Audio Input Processor's finite-state-machine state.
type AIPState int

const (
	AIPIdle AIPState = iota
	AIPRecognizing
	AIPBusy
	AIPExpectingSpeech
)

func (s AIPState) String() string {
	switch s {
	case AIPRecognizing:
		return "RECOGNIZING"
	case AIPBusy:
		return "BUSY"
	case AIPExpectingSpeech:
		return "EXPECTING_SPEECH"
	default:
		return "IDLE"
	}
}

// AudioInputInitiator is how a recognize() call was triggered.
type AudioInputInitiator int

const (
	InitiatorNone AudioInputInitiator = iota
	InitiatorPressAndHold
	InitiatorTap
	InitiatorWakeword
)

// WakewordIndices carries the optional begin/end stream indices and the
// detected keyword for an InitiatorWakeword recognize() call.
type WakewordIndices struct {
	BeginIndex *uint64
	EndIndex   *uint64
	Keyword    string
}

// AudioProfile describes the acoustic characteristics of a capture stream.
type AudioProfile int

const (
	ProfileCloseTalk AudioProfile = iota
	ProfileNearField
	ProfileFarField
)

// AudioProvider binds a capture ring buffer to its arbitration properties.
type AudioProvider struct {
	Stream           Ring
	Format           AudioFormat
	Profile          AudioProfile
	AlwaysReadable   bool
	CanOverride      bool
	CanBeOverridden  bool
}

// AudioFormat describes the PCM layout of a capture stream.
type AudioFormat struct {
	SampleRateHz int
	Channels     int
	BitsPerSample int
}

// Ring is the single-writer, multi-reader capture stream AIP reads from.
// Implemented by internal/aip's capture ring; declared here so AudioProvider
// can reference it without an import cycle.
type Ring interface {
	// NewReader opens a reader starting at startIndex. A nil startIndex means
	// "the writer's current position."
	NewReader(startIndex *uint64) RingReader
}

// RingReader streams bytes out of a Ring from the position it was opened at.
type RingReader interface {
	// Read returns the next available frame, blocking until data, overrun,
	// or closure. ok is false once the writer has closed the ring.
	Read() (frame []byte, overrun bool, ok bool)
	Close()
}

// PlayerInfo is the EMP's per-player record.
type PlayerInfo struct {
	LocalPlayerID     string
	SPIVersion        string
	PlayerID          string
	SkillToken        string
	PlaybackSessionID string
	PlayerSupported   bool
}

// PlaybackActivity is the aggregate playback state of one adapter.
type PlaybackActivity int

const (
	PlaybackIdle PlaybackActivity = iota
	PlaybackPlaying
	PlaybackPaused
	PlaybackStopped
	PlaybackFinished
)

func (p PlaybackActivity) String() string {
	switch p {
	case PlaybackPlaying:
		return "PLAYING"
	case PlaybackPaused:
		return "PAUSED"
	case PlaybackStopped:
		return "STOPPED"
	case PlaybackFinished:
		return "FINISHED"
	default:
		return "IDLE"
	}
}

// SessionState is one adapter's session-level snapshot.
type SessionState struct {
	PlayerID          string
	LoggedIn          bool
	UserName          string
	SPIVersion        string
	SkillToken        string
	PlaybackSessionID string
}

// PlaybackState is one adapter's playback-level snapshot.
type PlaybackState struct {
	State               PlaybackActivity
	TrackName           string
	Duration            time.Duration
	TrackOffset         time.Duration
	PlayRequestor       string
	SupportedOperations []RequestType
}

// AdapterState bundles the two snapshots an adapter handler reports for a
// single player.
type AdapterState struct {
	PlayerID string
	Session  SessionState
	Playback PlaybackState
}

// RequestType enumerates the playback control actions EMP can issue to an
// adapter. Ordering follows the original ExternalMediaPlayerCommon enum.
type RequestType int

const (
	RequestPlay RequestType = iota
	RequestPause
	RequestResume
	RequestNext
	RequestPrevious
	RequestStartOver
	RequestRewind
	RequestFastForward
	RequestEnableRepeatOne
	RequestEnableRepeat
	RequestDisableRepeat
	RequestEnableShuffle
	RequestDisableShuffle
	RequestFavorite
	RequestUnfavorite
)

func (r RequestType) String() string {
	switch r {
	case RequestPlay:
		return "PLAY"
	case RequestPause:
		return "PAUSE"
	case RequestResume:
		return "RESUME"
	case RequestNext:
		return "NEXT"
	case RequestPrevious:
		return "PREVIOUS"
	case RequestStartOver:
		return "STARTOVER"
	case RequestRewind:
		return "REWIND"
	case RequestFastForward:
		return "FASTFORWARD"
	case RequestEnableRepeatOne:
		return "ENABLE_REPEAT_ONE"
	case RequestEnableRepeat:
		return "ENABLE_REPEAT"
	case RequestDisableRepeat:
		return "DISABLE_REPEAT"
	case RequestEnableShuffle:
		return "ENABLE_SHUFFLE"
	case RequestDisableShuffle:
		return "DISABLE_SHUFFLE"
	case RequestFavorite:
		return "FAVORITE"
	case RequestUnfavorite:
		return "UNFAVORITE"
	default:
		return "UNKNOWN"
	}
}

// ErrorKind is one of the three structured failure kinds reported to the
// cloud via ExceptionEncountered.
type ErrorKind int

const (
	ErrUnexpectedInformationReceived ErrorKind = iota
	ErrUnsupportedOperation
	ErrInternalError
)

func (k ErrorKind) String() string {
	switch k {
	case ErrUnsupportedOperation:
		return "UNSUPPORTED_OPERATION"
	case ErrInternalError:
		return "INTERNAL_ERROR"
	default:
		return "UNEXPECTED_INFORMATION_RECEIVED"
	}
}

// FocusChannel is an abstract priority slot arbitrated by the Focus Manager.
type FocusChannel string

const (
	ChannelDialog  FocusChannel = "DIALOG"
	ChannelContent FocusChannel = "CONTENT"
	ChannelAlerts  FocusChannel = "ALERTS"
)

// FocusState is the foreground/background/none state of a channel as
// delivered to its current holder.
type FocusState int

const (
	FocusNone FocusState = iota
	FocusBackground
	FocusForeground
)

func (f FocusState) String() string {
	switch f {
	case FocusForeground:
		return "FOREGROUND"
	case FocusBackground:
		return "BACKGROUND"
	default:
		return "NONE"
	}
}
