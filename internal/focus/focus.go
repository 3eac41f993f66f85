// Package focus defines the Focus Manager contract consumed by the Audio
// Input Processor and an in-memory channel-priority arbiter implementing it,
// grounded on the priority-preemption shape of the parent project's audio
// mixer (pkg/audio/mixer.go's InterruptReason/priority handling) applied to
// channel arbitration instead of stream mixing.
package focus

import (
	"sort"
	"sync"

	"github.com/emberline/avscore/pkg/avs"
)

// Observer receives focus-state callbacks for the channel it requested.
// Implementations must not block; long work should be posted onto the
// observer's own executor.
type Observer interface {
	OnFocusChanged(channel avs.FocusChannel, state avs.FocusState)
}

// Manager is the Focus Manager contract: components request and release
// named channels and receive FocusState callbacks as other components
// compete for the same channels.
type Manager interface {
	Acquire(channel avs.FocusChannel, observer Observer) bool
	Release(channel avs.FocusChannel, observer Observer)
}

// channelPriority ranks channels from highest to lowest; a higher-priority
// channel holder pushes a lower one to BACKGROUND rather than NONE.
var channelPriority = map[avs.FocusChannel]int{
	avs.ChannelDialog:  0,
	avs.ChannelContent: 1,
	avs.ChannelAlerts:  2,
}

func priorityOf(ch avs.FocusChannel) int {
	if p, ok := channelPriority[ch]; ok {
		return p
	}
	return len(channelPriority)
}

type holder struct {
	channel  avs.FocusChannel
	observer Observer
}

// Arbiter is an in-memory Manager. All state transitions run under mu; the
// slice of holders is kept sorted by channel priority so the foreground
// holder is always holders[0].
type Arbiter struct {
	mu      sync.Mutex
	holders []holder
}

// NewArbiter returns a ready-to-use Arbiter with no channels held.
func NewArbiter() *Arbiter {
	return &Arbiter{}
}

var _ Manager = (*Arbiter)(nil)

// Acquire grants observer the named channel, preempting any existing holder
// of the same channel and re-ranking every holder's foreground/background
// state. Acquire always succeeds; it returns false only if channel is
// unknown to the priority table, in which case it is treated as lowest
// priority and still granted.
func (a *Arbiter) Acquire(channel avs.FocusChannel, observer Observer) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.removeLocked(channel, nil)
	a.holders = append(a.holders, holder{channel: channel, observer: observer})
	sort.SliceStable(a.holders, func(i, j int) bool {
		return priorityOf(a.holders[i].channel) < priorityOf(a.holders[j].channel)
	})
	a.notifyLocked()
	_, known := channelPriority[channel]
	return known
}

// Release relinquishes channel on behalf of observer. If observer does not
// currently hold channel, Release is a no-op.
func (a *Arbiter) Release(channel avs.FocusChannel, observer Observer) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.removeLocked(channel, observer)
	a.notifyLocked()
}

func (a *Arbiter) removeLocked(channel avs.FocusChannel, observer Observer) {
	kept := a.holders[:0]
	var removed []holder
	for _, h := range a.holders {
		if h.channel == channel && (observer == nil || h.observer == observer) {
			removed = append(removed, h)
			continue
		}
		kept = append(kept, h)
	}
	a.holders = kept
	for _, h := range removed {
		h.observer.OnFocusChanged(channel, avs.FocusNone)
	}
}

// notifyLocked delivers FOREGROUND to holders[0] and BACKGROUND to the rest.
// Must be called with mu held; it is the caller's responsibility to avoid
// calling it while iterating a.holders elsewhere.
func (a *Arbiter) notifyLocked() {
	for i, h := range a.holders {
		if i == 0 {
			h.observer.OnFocusChanged(h.channel, avs.FocusForeground)
		} else {
			h.observer.OnFocusChanged(h.channel, avs.FocusBackground)
		}
	}
}
