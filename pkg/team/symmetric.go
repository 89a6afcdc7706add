package team

import (
	"crypto/rand"
	"hash"
	"io"

	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the size of every symmetric key handled by this package.
const KeySize = chacha20poly1305.KeySize

// Seal encrypts plain under key with XChaCha20-Poly1305.
// The random nonce is prefixed to the returned ciphertext.
func Seal(plain, key []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if nil != err {
		return nil, wrapError(err, "failed cipher creation")
	}

	sealed := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	_, err = rand.Read(sealed[:aead.NonceSize()])
	if nil != err {
		return nil, wrapError(err, "failed nonce generation")
	}

	return aead.Seal(sealed, sealed[:aead.NonceSize()], plain, nil), nil
}

// Open decrypts a Seal output.
// It errors if sealed is too short or fails authentication.
func Open(sealed, key []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if nil != err {
		return nil, wrapError(err, "failed cipher creation")
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, newError("sealed data too short, %d bytes", len(sealed))
	}

	plain, err := aead.Open(nil, sealed[:aead.NonceSize()], sealed[aead.NonceSize():], nil)
	return plain, wrapError(err, "failed opening sealed data") // nil if err is nil
}

// DeriveKey derives a KeySize key from secret, bound to info.
func DeriveKey(secret []byte, info string) []byte {
	h := func() hash.Hash {
		h, err := blake2s.New256(nil)
		if nil != err {
			panic(err)
		}
		return h
	}
	key := make([]byte, KeySize)
	_, err := io.ReadFull(hkdf.New(h, secret, nil, []byte(info)), key)
	if nil != err {
		panic(err)
	}
	return key
}

// SecretHash returns the public half of an invitation secret. Teams register
// the hash; invitees keep the secret.
func SecretHash(secret []byte) []byte {
	sum := blake2s.Sum256(secret)
	return sum[:]
}

// keyedMAC authenticates data under key with keyed BLAKE2s.
func keyedMAC(key, data []byte) ([]byte, error) {
	if len(key) > blake2s.Size {
		key = SecretHash(key)
	}
	h, err := blake2s.New256(key)
	if nil != err {
		return nil, wrapError(err, "failed MAC creation")
	}
	h.Write(data)
	return h.Sum(nil), nil
}
