// Package wire defines the frames exchanged on a wrapped transport and their
// CBOR codec. Two frame variants belong to the authentication layer (auth &
// sealed); every other variant is repository traffic that passes through
// untouched.
package wire

import (
	"github.com/fxamacker/cbor/v2"
)

const (
	// TypeAuth transports one handshake engine message between two peers
	// for one share.
	TypeAuth = "auth"

	// TypeSealed carries an encrypted repository message. It decrypts to a
	// full Frame.
	TypeSealed = "encrypted"
)

// Kind is the classification of a Frame at the authentication layer.
type Kind int

const (
	// KindInvalid marks frames missing their type or sender.
	KindInvalid Kind = iota

	// KindAuth marks handshake transport frames.
	KindAuth

	// KindSealed marks encrypted repository messages.
	KindSealed

	// KindPassThrough marks every other frame; those are surfaced unmodified.
	KindPassThrough
)

func (self Kind) String() string {
	switch self {
	case KindAuth:
		return "auth"
	case KindSealed:
		return "sealed"
	case KindPassThrough:
		return "pass-through"
	default:
		return "invalid"
	}
}

// AuthPayload is the payload of a TypeAuth Frame.
type AuthPayload struct {
	ShareID           string `cbor:"1,keyasint"`
	ConnectionMessage []byte `cbor:"2,keyasint"`
}

// Frame is one message on the wrapped transport.
//
// TargetID is empty on broadcast discovery frames the base adapter may use.
// Body holds repository defined fields of pass-through frames and round-trips
// bit exactly through Decode/Encode.
type Frame struct {
	Type     string          `cbor:"1,keyasint"`
	SenderID string          `cbor:"2,keyasint"`
	TargetID string          `cbor:"3,keyasint,omitempty"`
	ShareID  string          `cbor:"4,keyasint,omitempty"`
	Auth     *AuthPayload    `cbor:"5,keyasint,omitempty"`
	Sealed   []byte          `cbor:"6,keyasint,omitempty"`
	Body     cbor.RawMessage `cbor:"7,keyasint,omitempty"`
	DocID    string          `cbor:"8,keyasint,omitempty"`
}

// Check validates the Frame envelope.
// It errors if the type or sender tag is missing.
func (self Frame) Check() error {
	if "" == self.Type {
		return newError("missing frame type")
	}
	if "" == self.SenderID {
		return newError("missing frame senderId")
	}
	return nil
}

// Classify returns the Kind of the Frame.
//
// An auth frame without its payload and a sealed frame without ciphertext are
// both KindInvalid: the router drops them without disturbing any session.
func (self Frame) Classify() Kind {
	if nil != self.Check() {
		return KindInvalid
	}
	switch self.Type {
	case TypeAuth:
		if nil == self.Auth || "" == self.Auth.ShareID {
			return KindInvalid
		}
		return KindAuth
	case TypeSealed:
		if "" == self.ShareID || 0 == len(self.Sealed) {
			return KindInvalid
		}
		return KindSealed
	default:
		return KindPassThrough
	}
}
