package lwip

// Pbuf is a minimal stand-in for lwIP's refcounted struct pbuf chain. The
// embedded stack owns allocation and freeing; the bridge only ever reads
// TotLen and copies out of it.
type Pbuf struct {
	// TotLen is the total length of the (possibly chained) buffer,
	// lwIP's p->tot_len.
	TotLen int

	data []byte
}

// PbufAlloc mirrors pbuf_alloc(PBUF_RAW, len, PBUF_POOL): allocate a pbuf
// able to hold len bytes of payload.
func PbufAlloc(length int) *Pbuf {
	return &Pbuf{TotLen: length, data: make([]byte, length)}
}

// Take mirrors pbuf_take: copies src into the pbuf's backing storage.
func (p *Pbuf) Take(src []byte) Err {
	if len(src) > len(p.data) {
		return ErrArg
	}
	copy(p.data, src)
	return ErrOK
}

// CopyPartial mirrors pbuf_copy_partial(p, dst, len, off): copy len bytes
// starting at off into dst, returning the number of bytes copied.
func (p *Pbuf) CopyPartial(dst []byte, length, offset int) int {
	if offset >= len(p.data) {
		return 0
	}
	end := offset + length
	if end > len(p.data) {
		end = len(p.data)
	}
	return copy(dst, p.data[offset:end])
}

// Free mirrors pbuf_free. The pool-backed pbuf has no finalizer of its own
// in this package; Free exists so call sites read the same as the C
// original and so a future cgo-backed Pbuf can decrement a real refcount
// here.
func (p *Pbuf) Free() {}
