package aip

import (
	"sync"

	"github.com/emberline/avscore/pkg/avs"
)

// CaptureRing is the single-writer, multi-reader capture stream AIP reads
// from while RECOGNIZING. Adapted from pkg/audio/mixer.go's AudioSegment
// queue/overrun handling, generalised to the capture direction: one writer
// appends PCM frames, and any number of readers each track their own
// position, repositioning to the writer's head on overrun rather than
// failing.
type CaptureRing struct {
	mu       sync.Mutex
	cond     *sync.Cond
	frames   [][]byte
	base     uint64 // logical index of frames[0]
	closed   bool
	capacity int
}

// NewCaptureRing returns a ring retaining at most capacity frames before the
// oldest are dropped (triggering reader overrun).
func NewCaptureRing(capacity int) *CaptureRing {
	if capacity <= 0 {
		capacity = 256
	}
	r := &CaptureRing{capacity: capacity}
	r.cond = sync.NewCond(&r.mu)
	return r
}

var _ avs.Ring = (*CaptureRing)(nil)

// Write appends frame. Write after Close is a no-op.
func (r *CaptureRing) Write(frame []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.frames = append(r.frames, frame)
	if len(r.frames) > r.capacity {
		drop := len(r.frames) - r.capacity
		r.frames = r.frames[drop:]
		r.base += uint64(drop)
	}
	r.cond.Broadcast()
}

// Close marks the ring closed; all readers observe end-of-stream once they
// catch up to the last written frame.
func (r *CaptureRing) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.cond.Broadcast()
}

func (r *CaptureRing) writerPosition() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.base + uint64(len(r.frames))
}

// NewReader opens a reader at startIndex, or at the writer's current
// position if startIndex is nil.
func (r *CaptureRing) NewReader(startIndex *uint64) avs.RingReader {
	var start uint64
	if startIndex != nil {
		start = *startIndex
	} else {
		start = r.writerPosition()
	}
	return &captureReader{ring: r, pos: start}
}

type captureReader struct {
	ring   *CaptureRing
	pos    uint64
	closed bool
}

var _ avs.RingReader = (*captureReader)(nil)

// Read blocks until a frame is available, an overrun is detected, or the
// ring closes.
func (cr *captureReader) Read() (frame []byte, overrun bool, ok bool) {
	cr.ring.mu.Lock()
	defer cr.ring.mu.Unlock()
	for {
		if cr.closed {
			return nil, false, false
		}
		if cr.pos < cr.ring.base {
			cr.pos = cr.ring.base + uint64(len(cr.ring.frames))
			return nil, true, true
		}
		idx := cr.pos - cr.ring.base
		if idx < uint64(len(cr.ring.frames)) {
			f := cr.ring.frames[idx]
			cr.pos++
			return f, false, true
		}
		if cr.ring.closed {
			return nil, false, false
		}
		cr.ring.cond.Wait()
	}
}

// Close detaches this reader; a pending or later Read returns ok=false.
func (cr *captureReader) Close() {
	cr.ring.mu.Lock()
	cr.closed = true
	cr.ring.mu.Unlock()
	cr.ring.cond.Broadcast()
}
