package session

import (
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/srg/imulink/internal/address"
	"github.com/srg/imulink/internal/protocol"
)

type stream struct {
	mu      sync.Mutex
	samples []protocol.MotionSample
}

// SampleBuffer keeps one ordered sample stream per device address.
//
// The stream index is a lock-free map; each stream has its own mutex, so
// notification handlers of different devices never contend.
type SampleBuffer struct {
	streams *hashmap.Map[address.Addr, *stream]
}

// NewSampleBuffer creates an empty buffer.
func NewSampleBuffer() *SampleBuffer {
	return &SampleBuffer{streams: hashmap.New[address.Addr, *stream]()}
}

// Append adds s to the end of addr's stream, creating the stream on first use.
func (b *SampleBuffer) Append(addr address.Addr, s protocol.MotionSample) {
	st, _ := b.streams.GetOrInsert(addr, &stream{})
	st.mu.Lock()
	st.samples = append(st.samples, s)
	st.mu.Unlock()
}

// Drain returns addr's samples in append order and empties the stream. Unknown
// addresses yield an empty, non-nil slice.
func (b *SampleBuffer) Drain(addr address.Addr) []protocol.MotionSample {
	st, ok := b.streams.Get(addr)
	if !ok {
		return []protocol.MotionSample{}
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	out := st.samples
	st.samples = nil
	if out == nil {
		out = []protocol.MotionSample{}
	}
	return out
}

// Len returns the number of buffered samples for addr.
func (b *SampleBuffer) Len(addr address.Addr) int {
	st, ok := b.streams.Get(addr)
	if !ok {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.samples)
}
