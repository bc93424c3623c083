package channel

import (
	"strings"
	"sync"

	"github.com/smallnest/ringbuffer"
)

// OutputBuffer keeps the most recent debugger output lines in a fixed-size
// ring. When full, whole lines are evicted from the front.
type OutputBuffer struct {
	mu      sync.Mutex
	rb      *ringbuffer.RingBuffer
	dropped int
}

// NewOutputBuffer creates a buffer holding at most size bytes
func NewOutputBuffer(size int) *OutputBuffer {
	if size <= 0 {
		size = 64 * 1024
	}
	return &OutputBuffer{rb: ringbuffer.New(size).SetBlocking(false)}
}

// Append stores one line. A line longer than the buffer keeps its tail.
func (o *OutputBuffer) Append(line string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	data := []byte(strings.TrimRight(line, "\n") + "\n")
	if len(data) > o.rb.Capacity() {
		data = data[len(data)-o.rb.Capacity():]
	}
	for o.rb.Free() < len(data) {
		if !o.evictLine() {
			o.rb.Reset()
			break
		}
	}
	_, _ = o.rb.Write(data)
}

// evictLine drops the oldest line
func (o *OutputBuffer) evictLine() bool {
	if o.rb.IsEmpty() {
		return false
	}
	for {
		c, err := o.rb.ReadByte()
		if err != nil {
			break
		}
		if c == '\n' {
			break
		}
	}
	o.dropped++
	return true
}

// String returns the buffered output without consuming it
func (o *OutputBuffer) String() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	buf := make([]byte, o.rb.Length())
	o.rb.Bytes(buf)
	return string(buf)
}

// Lines returns the buffered lines, oldest first
func (o *OutputBuffer) Lines() []string {
	s := strings.TrimSuffix(o.String(), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// Dropped reports how many lines were evicted
func (o *OutputBuffer) Dropped() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dropped
}
