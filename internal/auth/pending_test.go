package auth

import (
	"bytes"
	"fmt"
	"testing"
)

func TestPendingBufferOrder(t *testing.T) {
	var buf pendingBuffer
	k := pairKey{shareID: "s1", peerID: "p1"}

	for i := 0; i < 5; i++ {
		buf.add(k, []byte(fmt.Sprintf("msg-%d", i)))
	}

	drained := buf.drain(k)
	if 5 != len(drained) {
		t.Fatalf("failed drain control, got %d entries", len(drained))
	}
	for i, msg := range drained {
		want := fmt.Sprintf("msg-%d", i)
		if want != string(msg) {
			t.Errorf("failed order control at %d, %q != %q", i, msg, want)
		}
	}

	// drained entries are gone
	if 0 != len(buf.drain(k)) {
		t.Error("drain delivered entries twice")
	}
}

func TestPendingBufferIsolatesPairs(t *testing.T) {
	var buf pendingBuffer
	k1 := pairKey{shareID: "s1", peerID: "p1"}
	k2 := pairKey{shareID: "s1", peerID: "p2"}

	buf.add(k1, []byte("for p1"))
	buf.add(k2, []byte("for p2"))

	drained := buf.drain(k1)
	if 1 != len(drained) || !bytes.Equal([]byte("for p1"), drained[0]) {
		t.Fatalf("failed pair isolation, got %q", drained)
	}
	if 1 != len(buf.drain(k2)) {
		t.Error("second pair lost its entry")
	}
}

func TestPendingBufferCopiesPayloads(t *testing.T) {
	var buf pendingBuffer
	k := pairKey{shareID: "s1", peerID: "p1"}
	payload := []byte("payload")

	buf.add(k, payload)
	payload[0] = 'X'

	drained := buf.drain(k)
	if "payload" != string(drained[0]) {
		t.Errorf("failed isolation control, %q != payload", drained[0])
	}
}

func TestPendingBufferForget(t *testing.T) {
	var buf pendingBuffer
	k := pairKey{shareID: "s1", peerID: "p1"}

	buf.add(k, []byte("stale"))
	buf.forget(k)

	if 0 != len(buf.drain(k)) {
		t.Error("forgotten entries drained")
	}
}
