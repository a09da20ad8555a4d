package netcore

import (
	"testing"

	"github.com/netdriver/tunbridge/addr"
)

func TestNewEndpointStartsConnectingAndOpen(t *testing.T) {
	ep := NewEndpoint(7)
	if ep.ID() != 7 {
		t.Fatalf("ID() = %d, want 7", ep.ID())
	}
	if ep.State() != StateConnecting {
		t.Fatalf("State() = %v, want connecting", ep.State())
	}
	if !ep.IsReadable() || !ep.IsWriteable() {
		t.Fatal("a fresh endpoint must be both readable and writeable")
	}
	if !ep.IsActive() {
		t.Fatal("a fresh endpoint must be active")
	}
}

func TestSetStateRejectsIllegalTransition(t *testing.T) {
	ep := NewEndpoint(1)
	if ep.SetState(StateReadClosed) {
		t.Fatal("connecting -> read_closed should be rejected")
	}
	if ep.State() != StateConnecting {
		t.Fatalf("state changed despite rejected transition: %v", ep.State())
	}
}

func TestSetStateErrorDeletingMakesInactive(t *testing.T) {
	ep := NewEndpoint(1)
	ep.SetState(StateEstablished)
	if !ep.SetState(StateError) {
		t.Fatal("established -> error should be accepted")
	}
	if ep.IsActive() {
		t.Fatal("an endpoint in state_error must not be active")
	}
	if !ep.SetState(StateDeleting) {
		t.Fatal("error -> deleting should be accepted")
	}
	if ep.IsActive() {
		t.Fatal("an endpoint in state_deleting must not be active")
	}
}

func TestSetErrorIsStickyToFirstValue(t *testing.T) {
	ep := NewEndpoint(1)
	ep.SetError(ErrorSourceNetwork, "first", "boom")
	ep.SetError(ErrorSourceNetwork, "second", "ignored")

	if got := ep.Error().Code; got != "first" {
		t.Fatalf("error code = %q, want first (set_error must be a no-op once set)", got)
	}
}

func TestAddressRoundTrip(t *testing.T) {
	ep := NewEndpoint(1)
	if _, has := ep.Address(); has {
		t.Fatal("a fresh endpoint should report no local address")
	}

	a := addr.Address{Port: 9000}
	ep.SetAddress(a)
	got, has := ep.Address()
	if !has || got.Port != 9000 {
		t.Fatalf("Address() = (%v, %v), want (%v, true)", got, has, a)
	}
}

func TestBufAllocSupplyPeekConsume(t *testing.T) {
	ep := NewEndpoint(1)

	scratch := ep.BufAllocAtLeast(BufRead, 5)
	copy(scratch, []byte("abcde"))
	ep.BufSupply(BufRead, scratch, 5)

	if ep.BufSize(BufRead) != 5 {
		t.Fatalf("BufSize = %d, want 5", ep.BufSize(BufRead))
	}

	peeked := ep.BufPeekWithSize(BufRead, 3)
	if string(peeked) != "abc" {
		t.Fatalf("peeked = %q, want abc", peeked)
	}
	if ep.BufSize(BufRead) != 5 {
		t.Fatal("peek must not consume")
	}

	ep.BufConsume(BufRead, 3)
	if ep.BufSize(BufRead) != 2 {
		t.Fatalf("BufSize after consume = %d, want 2", ep.BufSize(BufRead))
	}
	rest := ep.BufPeekWithSize(BufRead, 10)
	if string(rest) != "de" {
		t.Fatalf("remaining = %q, want de", rest)
	}

	ep.BufConsume(BufRead, 2)
	if !ep.BufIsEmpty(BufRead) {
		t.Fatal("buffer should be empty after consuming everything")
	}
}

func TestBufSupplyRejectsPastCapacity(t *testing.T) {
	ep := NewEndpoint(1)

	filler := ep.BufAllocAtLeast(BufRead, maxBufSize)
	if !ep.BufSupply(BufRead, filler, maxBufSize) {
		t.Fatal("filling to exactly maxBufSize must succeed")
	}

	scratch := ep.BufAllocAtLeast(BufRead, 1)
	if ep.BufSupply(BufRead, scratch, 1) {
		t.Fatal("supply past maxBufSize must be rejected")
	}
	if ep.BufSize(BufRead) != maxBufSize {
		t.Fatalf("BufSize = %d, want unchanged at %d after a rejected supply", ep.BufSize(BufRead), maxBufSize)
	}
}

func TestBufAppendIsIndependentOfReadBuffer(t *testing.T) {
	ep := NewEndpoint(1)
	ep.BufAppend(BufWrite, []byte("out"))
	if ep.BufSize(BufWrite) != 3 {
		t.Fatalf("write buffer size = %d, want 3", ep.BufSize(BufWrite))
	}
	if !ep.BufIsEmpty(BufRead) {
		t.Fatal("appending to the write buffer must not affect the read buffer")
	}
}
