package focus

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/emberline/avscore/pkg/avs"
)

type recordingObserver struct {
	mu     sync.Mutex
	states []avs.FocusState
}

func (r *recordingObserver) OnFocusChanged(_ avs.FocusChannel, state avs.FocusState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *recordingObserver) last() avs.FocusState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.states) == 0 {
		return avs.FocusNone
	}
	return r.states[len(r.states)-1]
}

func TestArbiterGrantsForeground(t *testing.T) {
	t.Parallel()

	a := NewArbiter()
	obs := &recordingObserver{}
	ok := a.Acquire(avs.ChannelDialog, obs)
	require.True(t, ok)
	require.Equal(t, avs.FocusForeground, obs.last())
}

func TestArbiterPreemptsByPriority(t *testing.T) {
	t.Parallel()

	a := NewArbiter()
	content := &recordingObserver{}
	dialog := &recordingObserver{}

	a.Acquire(avs.ChannelContent, content)
	require.Equal(t, avs.FocusForeground, content.last())

	a.Acquire(avs.ChannelDialog, dialog)
	require.Equal(t, avs.FocusForeground, dialog.last())
	require.Equal(t, avs.FocusBackground, content.last())
}

func TestArbiterReleaseRestoresNextHolder(t *testing.T) {
	t.Parallel()

	a := NewArbiter()
	content := &recordingObserver{}
	dialog := &recordingObserver{}

	a.Acquire(avs.ChannelContent, content)
	a.Acquire(avs.ChannelDialog, dialog)
	require.Equal(t, avs.FocusBackground, content.last())

	a.Release(avs.ChannelDialog, dialog)
	require.Equal(t, avs.FocusNone, dialog.last())
	require.Equal(t, avs.FocusForeground, content.last())
}

func TestArbiterReleaseUnknownHolderIsNoop(t *testing.T) {
	t.Parallel()

	a := NewArbiter()
	obs := &recordingObserver{}
	a.Release(avs.ChannelDialog, obs)
	require.Empty(t, obs.states)
}
