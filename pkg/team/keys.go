package team

import (
	"crypto/rand"

	"github.com/flynn/noise"
	"github.com/google/uuid"
)

// KeyPair holds an X25519 keypair usable both for Noise handshakes and for
// deriving sealing keys.
type KeyPair struct {
	Pub []byte `cbor:"1,keyasint"`
	Sec []byte `cbor:"2,keyasint"`
}

// NewKeyPair generates a fresh X25519 keypair.
func NewKeyPair() (KeyPair, error) {
	dh, err := noise.DH25519.GenerateKeypair(rand.Reader)
	if nil != err {
		return KeyPair{}, wrapError(err, "failed keypair generation")
	}
	return KeyPair{Pub: dh.Public, Sec: dh.Private}, nil
}

// Check validates the KeyPair.
func (self KeyPair) Check() error {
	if 32 != len(self.Pub) || 32 != len(self.Sec) {
		return newError("invalid keypair, need 32 bytes keys")
	}
	return nil
}

// DeviceIdentity identifies one device of one user.
// The device secret key never leaves the device and is never persisted by
// this module.
type DeviceIdentity struct {
	DeviceID string  `cbor:"1,keyasint"`
	UserID   string  `cbor:"2,keyasint"`
	Keys     KeyPair `cbor:"3,keyasint"`
}

// NewDeviceIdentity generates a device identity owned by userID.
func NewDeviceIdentity(userID string) (DeviceIdentity, error) {
	keys, err := NewKeyPair()
	if nil != err {
		return DeviceIdentity{}, err
	}
	return DeviceIdentity{DeviceID: uuid.New().String(), UserID: userID, Keys: keys}, nil
}

// Check validates the DeviceIdentity.
func (self DeviceIdentity) Check() error {
	if "" == self.DeviceID {
		return newError("missing device id")
	}
	if "" == self.UserID {
		return newError("missing owning user id")
	}
	return self.Keys.Check()
}

// UserIdentity identifies one user across all its devices.
type UserIdentity struct {
	UserID string  `cbor:"1,keyasint"`
	Keys   KeyPair `cbor:"2,keyasint"`
}

// NewUserIdentity generates a user identity. An empty userID gets a random one.
func NewUserIdentity(userID string) (UserIdentity, error) {
	if "" == userID {
		userID = uuid.New().String()
	}
	keys, err := NewKeyPair()
	if nil != err {
		return UserIdentity{}, err
	}
	return UserIdentity{UserID: userID, Keys: keys}, nil
}

// Check validates the UserIdentity.
func (self UserIdentity) Check() error {
	if "" == self.UserID {
		return newError("missing user id")
	}
	return self.Keys.Check()
}
