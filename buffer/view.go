// Package buffer provides the byte-slice view netcore's read/write queues
// are built on.
package buffer

// View is a slice of a buffer, with convenience methods for the trim/cap
// discipline a growable byte queue needs: bytes consumed off the front are
// dropped via TrimFront, and the visible length can be capped so a later
// grow can't resurface bytes that were already handed out.
type View []byte

// NewView allocates a new buffer and returns an initialized view that covers
// the whole buffer.
func NewView(size int) View {
	return make(View, size)
}

// CapLength irreversibly reduces the length of the visible section of the
// buffer to the value specified. We also set the slice cap so a later
// append can't expand the view back into the region just excluded.
func (v *View) CapLength(length int) {
	*v = (*v)[:length:length]
}

// TrimFront removes the first "count" bytes from the visible section of the
// buffer.
func (v *View) TrimFront(count int) {
	*v = (*v)[count:]
}
