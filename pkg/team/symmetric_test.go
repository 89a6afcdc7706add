package team

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func TestSealOpenRoundTrip(t *testing.T) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); nil != err {
		t.Fatalf("failed key generation, got error %v", err)
	}

	msg := []byte("the quick brown fox")
	sealed, err := Seal(msg, key)
	if nil != err {
		t.Fatalf("failed sealing, got error %v", err)
	}
	if bytes.Contains(sealed, msg) {
		t.Fatal("sealed output contains the plaintext")
	}

	plain, err := Open(sealed, key)
	if nil != err {
		t.Fatalf("failed opening, got error %v", err)
	}
	if !bytes.Equal(msg, plain) {
		t.Errorf("failed round trip, %q != %q", plain, msg)
	}
}

func TestOpenRejectsTampering(t *testing.T) {
	key := make([]byte, KeySize)
	sealed, err := Seal([]byte("payload"), key)
	if nil != err {
		t.Fatalf("failed sealing, got error %v", err)
	}

	sealed[len(sealed)-1] ^= 0x01
	_, err = Open(sealed, key)
	if nil == err {
		t.Fatal("tampered data opened successfully")
	}
}

func TestOpenRejectsShortInput(t *testing.T) {
	key := make([]byte, KeySize)
	_, err := Open([]byte{1, 2, 3}, key)
	if nil == err {
		t.Fatal("short input opened successfully")
	}
}

func TestDeriveKey(t *testing.T) {
	secret := []byte("some shared secret material")

	k1 := DeriveKey(secret, "usage-a")
	k2 := DeriveKey(secret, "usage-a")
	k3 := DeriveKey(secret, "usage-b")

	if KeySize != len(k1) {
		t.Fatalf("failed key size control, %d != %d", len(k1), KeySize)
	}
	if !bytes.Equal(k1, k2) {
		t.Error("same secret & info derived different keys")
	}
	if bytes.Equal(k1, k3) {
		t.Error("different info derived the same key")
	}
}

func TestKeyedMAC(t *testing.T) {
	m1, err := keyedMAC([]byte("key"), []byte("data"))
	if nil != err {
		t.Fatalf("failed MAC, got error %v", err)
	}
	m2, err := keyedMAC([]byte("key"), []byte("data"))
	if nil != err {
		t.Fatalf("failed MAC, got error %v", err)
	}
	m3, err := keyedMAC([]byte("other"), []byte("data"))
	if nil != err {
		t.Fatalf("failed MAC, got error %v", err)
	}

	if !bytes.Equal(m1, m2) {
		t.Error("same key & data produced different MACs")
	}
	if bytes.Equal(m1, m3) {
		t.Error("different keys produced the same MAC")
	}
}
