package executor

import (
	"sync"
)

// boundedBuffer captures up to limit bytes of a stream while remembering how
// many bytes were actually produced. When the stream overflows the limit it
// keeps the head and a rolling tail, so both the start of the output and its
// final lines survive truncation.
type boundedBuffer struct {
	mu       sync.Mutex
	headCap  int
	tailCap  int
	head     []byte
	tail     []byte
	tailPos  int
	tailFull bool
	total    int64
}

func newBoundedBuffer(limit int) *boundedBuffer {
	if limit < 2 {
		limit = 2
	}
	headCap := limit / 2
	return &boundedBuffer{
		headCap: headCap,
		tailCap: limit - headCap,
	}
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.total += int64(len(p))

	rest := p
	if len(b.head) < b.headCap {
		n := b.headCap - len(b.head)
		if n > len(rest) {
			n = len(rest)
		}
		b.head = append(b.head, rest[:n]...)
		rest = rest[n:]
	}
	for _, c := range rest {
		if len(b.tail) < b.tailCap {
			b.tail = append(b.tail, c)
		} else {
			b.tail[b.tailPos] = c
			b.tailFull = true
		}
		b.tailPos = (b.tailPos + 1) % b.tailCap
	}
	return len(p), nil
}

// Truncated reports whether any produced bytes were dropped.
func (b *boundedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total > int64(len(b.head)+len(b.tail))
}

// Total is the number of bytes the process actually produced.
func (b *boundedBuffer) Total() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// String assembles the captured output. Truncated streams are rendered as
// head, an elision marker, then the tail in production order.
func (b *boundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.total <= int64(len(b.head)+len(b.tail)) && !b.tailFull {
		return string(b.head) + string(b.tail)
	}

	var tail []byte
	if b.tailFull {
		tail = append(tail, b.tail[b.tailPos:]...)
		tail = append(tail, b.tail[:b.tailPos]...)
	} else {
		tail = b.tail
	}
	return string(b.head) + "\n...[output truncated]...\n" + string(tail)
}
