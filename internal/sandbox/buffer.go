package sandbox

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"fortio.org/safecast"
)

// boundedBuffer keeps the head and tail of a process's output.
//
// The first half of the cap is kept verbatim, the second half is a ring of
// the most recent bytes. Once total output passes the flood limit the
// flooded channel is closed.
type boundedBuffer struct {
	mu      sync.Mutex
	head    []byte
	tail    []byte
	tailPos int
	tailCap int
	headCap int
	total   int64
	flood   int64
	flooded chan struct{}
}

func newBoundedBuffer(capBytes int) *boundedBuffer {
	capBytes = max(capBytes, 2)
	return &boundedBuffer{
		headCap: capBytes / 2,
		tailCap: capBytes - capBytes/2,
		flood:   int64(capBytes) * floodFactor,
		flooded: make(chan struct{}),
	}
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(p)
	before := b.total
	b.total += int64(n)
	if before <= b.flood && b.total > b.flood {
		close(b.flooded)
	}

	if room := b.headCap - len(b.head); room > 0 {
		k := min(room, len(p))
		b.head = append(b.head, p[:k]...)
		p = p[k:]
	}
	for len(p) > 0 {
		if len(b.tail) < b.tailCap {
			k := min(b.tailCap-len(b.tail), len(p))
			b.tail = append(b.tail, p[:k]...)
			p = p[k:]
			continue
		}
		k := copy(b.tail[b.tailPos:], p)
		b.tailPos = (b.tailPos + k) % b.tailCap
		p = p[k:]
	}
	return n, nil
}

// Flooded is closed once output exceeds the flood limit.
func (b *boundedBuffer) Flooded() <-chan struct{} {
	return b.flooded
}

// Total returns the number of bytes written, kept or not.
func (b *boundedBuffer) Total() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// Truncated reports whether any output was dropped.
func (b *boundedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total > int64(len(b.head)+len(b.tail))
}

// String returns head, an elision marker when bytes were dropped, and tail.
func (b *boundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var sb strings.Builder
	sb.Write(b.head)
	kept := int64(len(b.head) + len(b.tail))
	if dropped := b.total - kept; dropped > 0 {
		n, err := safecast.Conv[int](dropped)
		if err != nil {
			n = -1
		}
		fmt.Fprintf(&sb, "\n... [%d bytes elided] ...\n", n)
	}
	if len(b.tail) < b.tailCap {
		sb.Write(b.tail)
	} else {
		sb.Write(b.tail[b.tailPos:])
		sb.Write(b.tail[:b.tailPos])
	}
	return sb.String()
}

// maxPartialLine caps the unterminated line a lineFilter holds; longer
// lines are dropped.
const maxPartialLine = 64 << 10

// lineFilter keeps every complete output line that starts with prefix. It
// sees the whole stream, so lines the bounded buffer elided are still kept.
type lineFilter struct {
	mu       sync.Mutex
	prefix   []byte
	partial  []byte
	overlong bool
	kept     bytes.Buffer
}

func newLineFilter(prefix string) *lineFilter {
	return &lineFilter{prefix: []byte(prefix)}
}

func (f *lineFilter) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := len(p)
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			f.buffer(p)
			break
		}
		f.buffer(p[:i])
		if !f.overlong {
			f.keep(f.partial)
		}
		f.partial = f.partial[:0]
		f.overlong = false
		p = p[i+1:]
	}
	return n, nil
}

func (f *lineFilter) buffer(p []byte) {
	if f.overlong {
		return
	}
	if len(f.partial)+len(p) > maxPartialLine {
		f.overlong = true
		f.partial = f.partial[:0]
		return
	}
	f.partial = append(f.partial, p...)
}

func (f *lineFilter) keep(line []byte) {
	line = bytes.TrimLeft(line, " \t\r")
	if bytes.HasPrefix(line, f.prefix) {
		f.kept.Write(line)
		f.kept.WriteByte('\n')
	}
}

// String returns the kept lines, plus a matching trailing line that was
// never terminated.
func (f *lineFilter) String() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	s := f.kept.String()
	if line := bytes.TrimLeft(f.partial, " \t\r"); !f.overlong && bytes.HasPrefix(line, f.prefix) {
		s += string(line) + "\n"
	}
	return s
}
