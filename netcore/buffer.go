package netcore

import "github.com/netdriver/tunbridge/buffer"

// streamBuffer is a growable byte queue: data is appended at the back by
// Supply (after the caller has written into the slice AllocAtLeast handed
// out) and removed from the front by Consume. It stands in for the
// driver-agnostic net_endpoint_buf_* family (net_ep_buf_read / net_ep_buf_write),
// one instance per direction, built on the teacher's buffer.View for the
// trim-front discipline instead of a second hand-rolled slice wrapper.
type streamBuffer struct {
	buf buffer.View
}

// maxBufSize bounds how much unconsumed data a single direction may queue,
// standing in for the fixed pooled-slab budget net_endpoint_buf_supply can
// run out of in the original (net_tun_endpoint.c's buffer pool). Once a
// direction is this full, supply refuses the data rather than growing
// without bound.
const maxBufSize = 1 << 20

// allocAtLeast returns a slice with capacity for at least n more bytes to be
// written starting at its beginning; the caller must follow up with supply
// once it knows how many bytes it actually used. Mirrors
// net_endpoint_buf_alloc_at_least, which also only promises "at least".
func (b *streamBuffer) allocAtLeast(n int) []byte {
	scratch := make([]byte, n)
	return scratch
}

// supply appends the first n bytes of scratch (as returned by a prior
// allocAtLeast) to the buffer. It reports false, without appending, if doing
// so would push the buffer past maxBufSize — mirrors net_endpoint_buf_supply
// returning nonzero when the runtime decides to close rather than grow the
// pool further.
func (b *streamBuffer) supply(scratch []byte, n int) bool {
	if len(b.buf)+n > maxBufSize {
		return false
	}
	b.buf = append(b.buf, scratch[:n]...)
	return true
}

// append is the write-side convenience used by Endpoint.Write: the data is
// already fully formed, so alloc+supply would be redundant copying.
func (b *streamBuffer) append(data []byte) {
	b.buf = append(b.buf, data...)
}

// size returns the number of unconsumed bytes queued.
func (b *streamBuffer) size() int {
	return len(b.buf)
}

func (b *streamBuffer) isEmpty() bool {
	return len(b.buf) == 0
}

// peekWithSize returns (without consuming) up to size bytes from the front
// of the buffer. Mirrors net_endpoint_buf_peak_with_size, which hands back a
// pointer the caller may read but must separately Consume.
func (b *streamBuffer) peekWithSize(size int) []byte {
	if size > len(b.buf) {
		size = len(b.buf)
	}
	return b.buf[:size:size]
}

// consume removes n bytes from the front of the buffer.
func (b *streamBuffer) consume(n int) {
	b.buf.TrimFront(n)
	if len(b.buf) == 0 {
		b.buf = nil
	}
}
