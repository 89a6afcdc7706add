package wire

import (
	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if nil != err {
		panic(err)
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if nil != err {
		panic(err)
	}
}

// Encode serializes f with the package deterministic CBOR mode.
// Deterministic encoding makes encode(decode(blob)) == blob hold for every
// blob this layer produced.
func Encode(f Frame) ([]byte, error) {
	data, err := encMode.Marshal(f)
	return data, wrapError(err, "failed marshalling frame") // nil if err is nil
}

// Decode parses one frame.
// It errors if data is not a CBOR frame envelope.
func Decode(data []byte) (Frame, error) {
	var f Frame
	err := decMode.Unmarshal(data, &f)
	if nil != err {
		return Frame{}, wrapError(err, "failed unmarshaling frame")
	}
	return f, nil
}

// Marshal serializes any value with the package deterministic CBOR mode.
// Persistence records share the frame codec so that persisted blobs
// round-trip bit exactly.
func Marshal(v any) ([]byte, error) {
	data, err := encMode.Marshal(v)
	return data, wrapError(err, "failed cbor marshal") // nil if err is nil
}

// Unmarshal parses data into v.
func Unmarshal(data []byte, v any) error {
	return wrapError(decMode.Unmarshal(data, v), "failed cbor unmarshal") // nil if err is nil
}
